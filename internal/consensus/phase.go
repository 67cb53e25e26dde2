package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sonson0910/moderntensor-aptos/internal/config"
	"github.com/sonson0910/moderntensor-aptos/internal/directory"
	"github.com/sonson0910/moderntensor-aptos/internal/minerconn"
	"github.com/sonson0910/moderntensor-aptos/internal/registry"
	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// ErrRegistryUnavailable marks a phase that failed closed because the
// miner set could not be fetched. The phase returns an empty map and
// nothing is published.
var ErrRegistryUnavailable = errors.New("registry unavailable")

// Registry is the subset of the chain registry the engine reads
type Registry interface {
	GetActiveMiners(ctx context.Context, subnetID uint64) ([]registry.MinerInfo, error)
}

// RoundObserver receives each completed round's headline numbers,
// typically for APM instrumentation
type RoundObserver interface {
	RecordRound(slotID, round uint64, tasks, results int, meanLatencyMS float64)
}

// Engine drives phases: it owns no process-wide state, so several
// engines (one per subnet) can run in one process.
type Engine struct {
	cfg       config.ConsensusConfig
	subnetID  uint64
	registry  Registry
	transport minerconn.Transport
	source    TaskSource
	seedFn    SeedFunc
	observer  RoundObserver
}

// NewEngine creates a phase engine
func NewEngine(cfg config.ConsensusConfig, subnetID uint64, reg Registry, transport minerconn.Transport, source TaskSource) *Engine {
	return &Engine{
		cfg:       cfg,
		subnetID:  subnetID,
		registry:  reg,
		transport: transport,
		source:    source,
	}
}

// SetSeedFunc installs the scoring noise seed hook
func (e *Engine) SetSeedFunc(fn SeedFunc) {
	e.seedFn = fn
}

// SetRoundObserver installs the per-round telemetry hook
func (e *Engine) SetRoundObserver(o RoundObserver) {
	e.observer = o
}

// PhaseReport is everything a phase leaves behind
type PhaseReport struct {
	SlotID     uint64
	Scores     map[string]float64
	StartedAt  time.Time
	FinishedAt time.Time

	Rounds      uint64
	TasksSent   int
	ResultsOK   int
	Timeouts    int
	Errors      int
	MinersTotal int

	FinalBatchSize int
	FinalTimeout   time.Duration

	// Tasks addressed per miner during the phase
	Usage map[string]int
}

// phaseState owns everything a single phase mutates: the directory
// snapshot, histories, and controller parameters
type phaseState struct {
	slotID     uint64
	dir        *directory.Directory
	selector   *directory.Selector
	quarantine *directory.Quarantine
	dispatcher *Dispatcher
	scorer     *Scorer
	controller *Controller

	state      RoundState
	stateTrace []RoundState
}

// advance moves the round state machine. Transitions are strictly
// ordered; the trace exists for diagnostics and tests.
func (ps *phaseState) advance(to RoundState) {
	ps.state = to
	ps.stateTrace = append(ps.stateTrace, to)
}

// RunPhase runs rounds until the deadline guard trips, then aggregates.
// It always returns a well-formed report; the error is non-nil only for
// phase-level failures.
func (e *Engine) RunPhase(ctx context.Context, slotID uint64, deadline time.Time) (*PhaseReport, error) {
	report := &PhaseReport{
		SlotID:         slotID,
		Scores:         map[string]float64{},
		StartedAt:      time.Now(),
		FinalBatchSize: e.cfg.BatchSizeInitial,
		FinalTimeout:   e.cfg.BatchTimeoutInitial,
		Usage:          map[string]int{},
	}

	miners, err := e.registry.GetActiveMiners(ctx, e.subnetID)
	if err != nil {
		report.FinishedAt = time.Now()
		util.Errorf("Phase %d failed closed: %v", slotID, err)
		return report, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	dir := directory.Build(miners)
	report.MinersTotal = dir.Count()
	if dir.Count() == 0 {
		report.FinishedAt = time.Now()
		util.Warnf("Phase %d: no active miners on subnet %d", slotID, e.subnetID)
		return report, nil
	}

	quarantine := directory.NewQuarantine(!e.cfg.RetryFailed)
	ps := &phaseState{
		slotID:     slotID,
		dir:        dir,
		selector:   directory.NewSelector(dir, slotID, quarantine),
		quarantine: quarantine,
		dispatcher: NewDispatcher(e.transport, e.cfg.MaxConcurrent, slotID, e.source),
		scorer:     NewScorer(&e.cfg, slotID, e.seedFn),
		controller: NewController(&e.cfg),
		state:      StateIdle,
	}

	util.Infof("Phase %d started: %d miners, deadline in %v", slotID, dir.Count(), time.Until(deadline).Round(time.Second))

	guard := e.cfg.GuardInterval()
	for round := uint64(1); ; round++ {
		if ctx.Err() != nil {
			util.Warnf("Phase %d cancelled at round boundary %d", slotID, round)
			break
		}

		// One round must fit a full timeout plus the break before the guard
		remaining := time.Until(deadline) - guard
		if remaining < ps.controller.Timeout()+e.cfg.MinBreak {
			break
		}

		outcome := e.runRound(ctx, ps, round)
		report.Rounds++
		if outcome != nil {
			report.TasksSent += len(outcome.Tasks)
			report.ResultsOK += len(outcome.Results)
			timeouts := outcome.Timeouts()
			report.Timeouts += timeouts
			report.Errors += len(outcome.Errors) - timeouts
		}

		ps.advance(StateBreak)
		select {
		case <-ctx.Done():
		case <-time.After(e.cfg.MinBreak):
		}
		ps.advance(StateIdle)
	}

	report.Scores = ps.scorer.Aggregate()
	ps.advance(StateAggregated)
	report.Usage = dir.UsageCounts()
	report.FinalBatchSize = ps.controller.BatchSize()
	report.FinalTimeout = ps.controller.Timeout()
	report.FinishedAt = time.Now()

	util.Infof("Phase %d finished: %d rounds, %d/%d tasks answered, %d miners scored",
		slotID, report.Rounds, report.ResultsOK, report.TasksSent, len(report.Scores))

	return report, nil
}

// runRound executes one full round through every state. A panic inside
// the round is confined: the round counts as zero success and the loop
// continues.
func (e *Engine) runRound(ctx context.Context, ps *phaseState, round uint64) (outcome *RoundOutcome) {
	defer func() {
		if r := recover(); r != nil {
			util.Errorf("Round %d panicked: %v", round, r)
			outcome = nil
			ps.controller.Observe(RoundSummary{})
		}
	}()

	ps.stateTrace = ps.stateTrace[:0]

	ps.advance(StateSelecting)
	batch := ps.selector.Select(ps.controller.BatchSize(), round)

	ps.advance(StateDispatching)
	handle := ps.dispatcher.Dispatch(ctx, batch, round, ps.controller.Timeout())

	ps.advance(StateCollecting)
	outcome = Collect(handle)

	ps.advance(StateScoring)
	ps.scorer.ScoreOutcome(outcome)
	for _, te := range outcome.Errors {
		if te.Kind == KindDispatch {
			ps.quarantine.Add(te.MinerUID)
		}
	}

	ps.advance(StateControllerUpdate)
	ps.controller.Observe(outcome.Summary())

	if e.observer != nil {
		e.observer.RecordRound(ps.slotID, round, len(outcome.Tasks), len(outcome.Results),
			float64(outcome.MeanLatency().Milliseconds()))
	}

	return outcome
}
