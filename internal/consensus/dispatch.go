package consensus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sonson0910/moderntensor-aptos/internal/directory"
	"github.com/sonson0910/moderntensor-aptos/internal/minerconn"
	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// dispatchResult is one task's terminal outcome on the wire
type dispatchResult struct {
	task    *Task
	resp    *minerconn.TaskResponse
	latency time.Duration
	err     error
}

// BatchHandle tracks one in-flight batch. Every task pushes exactly one
// dispatchResult; the collector drains len(tasks) of them.
type BatchHandle struct {
	round     uint64
	tasks     []*Task
	results   chan dispatchResult
	cancel    context.CancelFunc
	startedAt time.Time
}

// Dispatcher sends batches to miners with bounded parallelism
type Dispatcher struct {
	transport minerconn.Transport
	sem       *semaphore.Weighted
	slotID    uint64
	source    TaskSource
	seq       uint64
}

// NewDispatcher creates a dispatcher. maxConcurrent bounds outbound
// requests across the batch; the semaphore is the admission gate.
func NewDispatcher(transport minerconn.Transport, maxConcurrent int64, slotID uint64, source TaskSource) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		sem:       semaphore.NewWeighted(maxConcurrent),
		slotID:    slotID,
		source:    source,
	}
}

// Dispatch creates one task per miner and begins sending them
// concurrently. It returns as soon as every send has been initiated or
// recorded as a synchronous failure; it never waits for replies.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []*directory.MinerRef, round uint64, timeout time.Duration) *BatchHandle {
	batchCtx, cancel := context.WithTimeout(ctx, timeout)

	h := &BatchHandle{
		round:     round,
		tasks:     make([]*Task, 0, len(batch)),
		results:   make(chan dispatchResult, len(batch)),
		cancel:    cancel,
		startedAt: time.Now(),
	}

	for _, ref := range batch {
		task := &Task{
			ID:        fmt.Sprintf("%d-%d-%d", d.slotID, round, atomic.AddUint64(&d.seq, 1)),
			MinerUID:  ref.UID,
			Endpoint:  ref.Endpoint,
			CreatedAt: time.Now(),
		}
		h.tasks = append(h.tasks, task)

		payload, err := d.source.Payload(ref.UID, round)
		if err != nil {
			// A task that cannot be built is still accounted for
			h.results <- dispatchResult{task: task, err: fmt.Errorf("build payload: %w", err)}
			continue
		}
		body, err := payload.Encode()
		if err != nil {
			h.results <- dispatchResult{task: task, err: fmt.Errorf("encode payload: %w", err)}
			continue
		}
		task.Payload = body

		go d.send(batchCtx, h, task)
	}

	util.Debugf("Dispatched batch of %d tasks for round %d", len(h.tasks), round)
	return h
}

// send transmits one task and pushes its terminal outcome
func (d *Dispatcher) send(ctx context.Context, h *BatchHandle, task *Task) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		h.results <- dispatchResult{task: task, err: err}
		return
	}
	defer d.sem.Release(1)

	req := &minerconn.TaskRequest{
		TaskID:  task.ID,
		SlotID:  d.slotID,
		Payload: task.Payload,
	}

	start := time.Now()
	resp, err := d.transport.Send(ctx, task.Endpoint, req)
	latency := time.Since(start)

	h.results <- dispatchResult{task: task, resp: resp, latency: latency, err: err}
}
