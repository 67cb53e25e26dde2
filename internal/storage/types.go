// Package storage provides Redis persistence for per-phase telemetry.
package storage

// PhaseSummary is the compact record a phase leaves behind. Per-round
// artifacts are ephemeral; this is the only state that outlives a phase.
type PhaseSummary struct {
	SlotID       uint64  `json:"slot_id"`
	StartedAt    int64   `json:"started_at"`
	FinishedAt   int64   `json:"finished_at"`
	Rounds       uint64  `json:"rounds"`
	TasksSent    int     `json:"tasks_sent"`
	ResultsOK    int     `json:"results_ok"`
	Timeouts     int     `json:"timeouts"`
	Errors       int     `json:"errors"`
	MinersTotal  int     `json:"miners_total"`
	MinersScored int     `json:"miners_scored"`
	BatchSize    int     `json:"batch_size"`
	TimeoutSecs  float64 `json:"timeout_secs"`
	Published    bool    `json:"published"`
}

// ValidatorStats is the live view the status API serves
type ValidatorStats struct {
	CurrentSlot   uint64 `json:"current_slot"`
	PhasesRun     uint64 `json:"phases_run"`
	LastPhaseTime int64  `json:"last_phase_time"`
	LastBeat      int64  `json:"last_beat"`
}
