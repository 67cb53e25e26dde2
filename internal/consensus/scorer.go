package consensus

import (
	"math/rand"
	"sort"
	"time"

	"github.com/sonson0910/moderntensor-aptos/internal/config"
	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// Score band. Every emitted score lies in [ScoreMin, ScoreMax].
const (
	ScoreMin = 0.05
	ScoreMax = 0.95
)

// Reference scoring formula constants
const (
	scoreBase    = 0.5
	fastLatency  = 5 * time.Second
	fastBonus    = 0.20
	okLatency    = 10 * time.Second
	okBonus      = 0.10
	urlBonus     = 0.15
	versionBonus = 0.05
	noiseSpan    = 0.15
)

// SeedFunc derives the noise seed for a round. Installing one makes the
// noise stream reproducible per (slot, round); without one the scorer
// uses system entropy.
type SeedFunc func(slotID, round uint64) int64

// Scorer converts task outcomes into bounded scores and accumulates
// per-miner histories for the phase.
type Scorer struct {
	deterministic bool
	aggregation   string
	softCap       int
	slotID        uint64
	seedFn        SeedFunc
	rng           *rand.Rand

	histories map[string][]float64
}

// NewScorer creates a scorer for one phase
func NewScorer(cfg *config.ConsensusConfig, slotID uint64, seedFn SeedFunc) *Scorer {
	return &Scorer{
		deterministic: cfg.DeterministicScoring,
		aggregation:   cfg.ScoreAggregation,
		softCap:       cfg.HistorySoftCap,
		slotID:        slotID,
		seedFn:        seedFn,
		rng:           rand.New(rand.NewSource(rand.Int63())),
		histories:     make(map[string][]float64),
	}
}

// BeginRound repins the noise stream when a seed hook is installed
func (s *Scorer) BeginRound(round uint64) {
	if s.seedFn != nil {
		s.rng = rand.New(rand.NewSource(s.seedFn(s.slotID, round)))
	}
}

// Score converts one received result into a bounded score
func (s *Scorer) Score(res *Result) float64 {
	score := scoreBase

	if res.Latency < fastLatency {
		score += fastBonus
	} else if res.Latency < okLatency {
		score += okBonus
	}
	if res.ResultURL != "" {
		score += urlBonus
	}
	if res.ModelVersion != "" {
		score += versionBonus
	}
	score = clampScore(score)

	if !s.deterministic {
		score += (s.rng.Float64()*2 - 1) * noiseSpan
	}

	return clampScore(score)
}

// ScoreOutcome scores every task of a round sequentially and appends to
// the miners' histories. A panic while scoring a single result demotes
// that result to the low band; the round continues.
func (s *Scorer) ScoreOutcome(o *RoundOutcome) {
	s.BeginRound(o.Round)

	for _, res := range o.Results {
		s.Append(res.MinerUID, s.scoreSafely(res))
	}
	for _, te := range o.Errors {
		s.Append(te.MinerUID, ScoreMin)
	}
}

// scoreSafely guards Score against a panic on one malignant result
func (s *Scorer) scoreSafely(res *Result) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			util.Warnf("Scoring task %s panicked: %v", res.TaskID, r)
			score = ScoreMin
		}
	}()
	return s.Score(res)
}

// Append records a score into a miner's history, dropping the oldest
// entry past the soft cap
func (s *Scorer) Append(uid string, score float64) {
	h := append(s.histories[uid], clampScore(score))
	if s.softCap > 0 && len(h) > s.softCap {
		h = h[len(h)-s.softCap:]
	}
	s.histories[uid] = h
}

// History returns a miner's score history for this phase
func (s *Scorer) History(uid string) []float64 {
	return s.histories[uid]
}

// Aggregate produces one final score per miner from its history alone.
// Miners with empty history get no entry.
func (s *Scorer) Aggregate() map[string]float64 {
	final := make(map[string]float64, len(s.histories))
	for uid, h := range s.histories {
		if len(h) == 0 {
			continue
		}
		final[uid] = aggregate(s.aggregation, h)
	}
	return final
}

func aggregate(method string, h []float64) float64 {
	switch method {
	case config.AggregationMedian:
		sorted := append([]float64(nil), h...)
		sort.Float64s(sorted)
		return sorted[(len(sorted)-1)/2]
	case config.AggregationMax:
		max := h[0]
		for _, v := range h[1:] {
			if v > max {
				max = v
			}
		}
		return max
	default:
		var sum float64
		for _, v := range h {
			sum += v
		}
		return sum / float64(len(h))
	}
}

func clampScore(v float64) float64 {
	if v < ScoreMin {
		return ScoreMin
	}
	if v > ScoreMax {
		return ScoreMax
	}
	return v
}
