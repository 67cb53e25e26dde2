// Package consensus implements the validator's phase scheduling engine:
// round formation, concurrent task dispatch, collection under a deadline,
// scoring, and adaptive parameter control.
package consensus

import (
	"encoding/json"
	"time"
)

// ErrorKind classifies why a task produced no result
type ErrorKind string

const (
	// KindDispatch marks a send that failed outright: refused connection,
	// DNS failure, malformed endpoint.
	KindDispatch ErrorKind = "dispatch_error"
	// KindTimeout marks a task unanswered within the batch timeout,
	// including tasks cut off by phase cancellation.
	KindTimeout ErrorKind = "timeout"
	// KindMalformed marks a reply that arrived but could not be interpreted.
	KindMalformed ErrorKind = "malformed"
)

// Task is one unit of work addressed to one miner
type Task struct {
	ID        string
	MinerUID  string
	Endpoint  string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Result is a miner's scored reply
type Result struct {
	TaskID       string
	MinerUID     string
	ResultURL    string
	ModelVersion string
	Digest       string
	Latency      time.Duration
	ReceivedAt   time.Time
}

// TaskError records a task that produced no result
type TaskError struct {
	TaskID   string
	MinerUID string
	Kind     ErrorKind
	Err      error
}

// RoundOutcome is everything one round produced. Invariant:
// len(Tasks) == len(Results) + len(Errors).
type RoundOutcome struct {
	Round   uint64
	Tasks   []*Task
	Results []*Result
	Errors  []*TaskError
}

// SuccessRate returns the fraction of tasks answered in time.
// An empty round counts as zero success.
func (o *RoundOutcome) SuccessRate() float64 {
	if len(o.Tasks) == 0 {
		return 0
	}
	return float64(len(o.Results)) / float64(len(o.Tasks))
}

// MeanLatency returns the mean transport latency over received results
func (o *RoundOutcome) MeanLatency() time.Duration {
	if len(o.Results) == 0 {
		return 0
	}
	var total time.Duration
	for _, r := range o.Results {
		total += r.Latency
	}
	return total / time.Duration(len(o.Results))
}

// Summary condenses the outcome for the adaptive controller
func (o *RoundOutcome) Summary() RoundSummary {
	return RoundSummary{
		SuccessRate: o.SuccessRate(),
		MeanLatency: o.MeanLatency(),
	}
}

// Timeouts counts tasks that went unanswered
func (o *RoundOutcome) Timeouts() int {
	n := 0
	for _, e := range o.Errors {
		if e.Kind == KindTimeout {
			n++
		}
	}
	return n
}

// RoundSummary is the controller's view of one completed round
type RoundSummary struct {
	SuccessRate float64
	MeanLatency time.Duration
}

// RoundState names the stages a round moves through. Every round visits
// every state in order, even when its batch is empty.
type RoundState int

const (
	StateIdle RoundState = iota
	StateSelecting
	StateDispatching
	StateCollecting
	StateScoring
	StateControllerUpdate
	StateBreak
	StateAggregated
)

func (s RoundState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateDispatching:
		return "dispatching"
	case StateCollecting:
		return "collecting"
	case StateScoring:
		return "scoring"
	case StateControllerUpdate:
		return "controller_update"
	case StateBreak:
		return "break"
	case StateAggregated:
		return "aggregated"
	default:
		return "unknown"
	}
}
