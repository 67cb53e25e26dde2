package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/sonson0910/moderntensor-aptos/internal/config"
	"github.com/sonson0910/moderntensor-aptos/internal/storage"
	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// Publisher pushes a phase's final score vector on-chain. Retries and
// encoding are its concern, not the engine's.
type Publisher interface {
	PublishScores(ctx context.Context, slotID uint64, scores map[string]float64) error
}

// SummaryStore persists what outlives a phase
type SummaryStore interface {
	WriteSummary(*storage.PhaseSummary) error
	WriteScores(slotID uint64, scores map[string]float64) error
	SetValidatorStats(*storage.ValidatorStats) error
}

// PhaseNotifier announces phase completion and failure
type PhaseNotifier interface {
	NotifyPhaseCompleted(*storage.PhaseSummary)
	NotifyPhaseFailed(slotID uint64, err error)
}

// EventRecorder feeds phase telemetry into APM
type EventRecorder interface {
	RecordPhase(*storage.PhaseSummary)
	RecordPublishFailure(slotID uint64, errMsg string)
}

// SlotSource supplies the next slot id. The registry's epoch clock is
// the usual implementation; a local counter serves for testing.
type SlotSource interface {
	NextSlot(ctx context.Context) (uint64, error)
}

// LocalSlotSource is a monotonic in-process slot counter
type LocalSlotSource struct {
	mu   sync.Mutex
	slot uint64
}

// NewLocalSlotSource starts counting after the given slot
func NewLocalSlotSource(last uint64) *LocalSlotSource {
	return &LocalSlotSource{slot: last}
}

func (s *LocalSlotSource) NextSlot(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot++
	return s.slot, nil
}

// Runner executes phases back to back: run, publish, persist, notify.
// Optional collaborators may be nil.
type Runner struct {
	cfg       *config.Config
	engine    *Engine
	publisher Publisher
	store     SummaryStore
	notifier  PhaseNotifier
	recorder  EventRecorder
	slots     SlotSource

	phasesRun uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a phase runner
func NewRunner(cfg *config.Config, engine *Engine, publisher Publisher, store SummaryStore, slots SlotSource) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:       cfg,
		engine:    engine,
		publisher: publisher,
		store:     store,
		slots:     slots,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetNotifier installs the webhook notifier
func (r *Runner) SetNotifier(n PhaseNotifier) {
	r.notifier = n
}

// SetRecorder installs the APM recorder
func (r *Runner) SetRecorder(rec EventRecorder) {
	r.recorder = rec
}

// Start begins the phase loop
func (r *Runner) Start() {
	util.Info("Starting phase runner...")
	r.wg.Add(1)
	go r.phaseLoop()
}

// Stop cancels the current phase and waits for the loop to exit
func (r *Runner) Stop() {
	util.Info("Stopping phase runner...")
	r.cancel()
	r.wg.Wait()
	util.Info("Phase runner stopped")
}

// phaseLoop runs phases until stopped
func (r *Runner) phaseLoop() {
	defer r.wg.Done()

	for {
		if r.ctx.Err() != nil {
			return
		}

		slotID, err := r.slots.NextSlot(r.ctx)
		if err != nil {
			util.Warnf("Slot source failed: %v, retrying", err)
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(r.cfg.Consensus.MinBreak):
			}
			continue
		}

		deadline := time.Now().Add(r.cfg.Consensus.PhaseDuration)
		report, err := r.engine.RunPhase(r.ctx, slotID, deadline)
		r.phasesRun++
		r.finishPhase(report, err)

		// Idle out the remainder of the slot window
		if wait := time.Until(deadline); wait > 0 {
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// finishPhase publishes, persists, and announces one phase's outcome
func (r *Runner) finishPhase(report *PhaseReport, phaseErr error) {
	summary := summarize(report)

	if phaseErr != nil {
		util.Errorf("Phase %d failed: %v", report.SlotID, phaseErr)
		if r.notifier != nil {
			r.notifier.NotifyPhaseFailed(report.SlotID, phaseErr)
		}
		return
	}

	if len(report.Scores) > 0 {
		if err := r.publisher.PublishScores(r.ctx, report.SlotID, report.Scores); err != nil {
			// Non-fatal: scores stay available in memory and in the stored score vector
			util.Warnf("Publishing scores for slot %d failed: %v", report.SlotID, err)
			if r.recorder != nil {
				r.recorder.RecordPublishFailure(report.SlotID, err.Error())
			}
		} else {
			summary.Published = true
		}
	}

	if r.store != nil {
		if err := r.store.WriteSummary(summary); err != nil {
			util.Warnf("Failed to store phase summary: %v", err)
		}
		if err := r.store.WriteScores(report.SlotID, report.Scores); err != nil {
			util.Warnf("Failed to store score vector: %v", err)
		}
		stats := &storage.ValidatorStats{
			CurrentSlot:   report.SlotID,
			PhasesRun:     r.phasesRun,
			LastPhaseTime: report.FinishedAt.Unix(),
			LastBeat:      time.Now().Unix(),
		}
		if err := r.store.SetValidatorStats(stats); err != nil {
			util.Warnf("Failed to store validator stats: %v", err)
		}
	}

	if r.notifier != nil {
		r.notifier.NotifyPhaseCompleted(summary)
	}
	if r.recorder != nil {
		r.recorder.RecordPhase(summary)
	}
}

// summarize condenses a phase report into its persistent form
func summarize(report *PhaseReport) *storage.PhaseSummary {
	return &storage.PhaseSummary{
		SlotID:       report.SlotID,
		StartedAt:    report.StartedAt.Unix(),
		FinishedAt:   report.FinishedAt.Unix(),
		Rounds:       report.Rounds,
		TasksSent:    report.TasksSent,
		ResultsOK:    report.ResultsOK,
		Timeouts:     report.Timeouts,
		Errors:       report.Errors,
		MinersTotal:  report.MinersTotal,
		MinersScored: len(report.Scores),
		BatchSize:    report.FinalBatchSize,
		TimeoutSecs:  report.FinalTimeout.Seconds(),
	}
}
