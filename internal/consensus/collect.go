package consensus

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sonson0910/moderntensor-aptos/internal/minerconn"
	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// Collect drains the batch: every task resolves to a Result or a
// TaskError, in arrival order. When the batch timeout fires, the shared
// batch context cancels all outstanding sends, so no late result can
// leak into a later round.
func Collect(h *BatchHandle) *RoundOutcome {
	defer h.cancel()

	outcome := &RoundOutcome{
		Round: h.round,
		Tasks: h.tasks,
	}

	for range h.tasks {
		r := <-h.results

		if r.err == nil {
			outcome.Results = append(outcome.Results, &Result{
				TaskID:       r.task.ID,
				MinerUID:     r.task.MinerUID,
				ResultURL:    r.resp.ResultURL,
				ModelVersion: r.resp.ModelVersion,
				Digest:       r.resp.Digest,
				Latency:      r.latency,
				ReceivedAt:   time.Now(),
			})
			continue
		}

		outcome.Errors = append(outcome.Errors, &TaskError{
			TaskID:   r.task.ID,
			MinerUID: r.task.MinerUID,
			Kind:     classify(r.err),
			Err:      r.err,
		})
	}

	util.Debugf("Round %d collected: %d results, %d timeouts, %d errors of %d tasks",
		h.round, len(outcome.Results), outcome.Timeouts(),
		len(outcome.Errors)-outcome.Timeouts(), len(outcome.Tasks))

	return outcome
}

// classify maps a transport error to its task error kind. Cancellation
// counts as timeout: the task was cut off, not refused.
func classify(err error) ErrorKind {
	if errors.Is(err, minerconn.ErrMalformed) {
		return KindMalformed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindDispatch
}
