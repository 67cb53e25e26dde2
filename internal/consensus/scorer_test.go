package consensus

import (
	"math"
	"testing"
	"time"

	"github.com/sonson0910/moderntensor-aptos/internal/config"
)

func scorerConfig(aggregation string) config.ConsensusConfig {
	return config.ConsensusConfig{
		ScoreAggregation:     aggregation,
		DeterministicScoring: true,
		HistorySoftCap:       64,
	}
}

func TestScoreFormulaDeterministic(t *testing.T) {
	cfg := scorerConfig(config.AggregationAverage)
	s := NewScorer(&cfg, 1, nil)

	tests := []struct {
		name string
		res  Result
		want float64
	}{
		{
			name: "fast with url and version",
			res:  Result{Latency: time.Second, ResultURL: "https://r", ModelVersion: "v1"},
			want: 0.90,
		},
		{
			name: "fast bare result",
			res:  Result{Latency: time.Second},
			want: 0.70,
		},
		{
			name: "medium latency with url",
			res:  Result{Latency: 7 * time.Second, ResultURL: "https://r"},
			want: 0.75,
		},
		{
			name: "slow bare result",
			res:  Result{Latency: 20 * time.Second},
			want: 0.50,
		},
		{
			name: "slow with everything",
			res:  Result{Latency: 20 * time.Second, ResultURL: "https://r", ModelVersion: "v1"},
			want: 0.70,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Score(&tt.res)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Score() = %.2f, want %.2f", got, tt.want)
			}
		})
	}
}

func TestScoreBoundsWithNoise(t *testing.T) {
	cfg := scorerConfig(config.AggregationAverage)
	cfg.DeterministicScoring = false
	s := NewScorer(&cfg, 1, nil)

	for i := 0; i < 1000; i++ {
		got := s.Score(&Result{Latency: time.Second, ResultURL: "https://r", ModelVersion: "v1"})
		if got < ScoreMin || got > ScoreMax {
			t.Fatalf("Score() = %.4f escaped [%.2f, %.2f]", got, ScoreMin, ScoreMax)
		}
	}
}

func TestScoreSeedHook(t *testing.T) {
	cfg := scorerConfig(config.AggregationAverage)
	cfg.DeterministicScoring = false

	seedFn := func(slot, round uint64) int64 {
		return int64(slot*1000 + round)
	}

	run := func() []float64 {
		s := NewScorer(&cfg, 7, seedFn)
		s.BeginRound(3)
		out := make([]float64, 5)
		for i := range out {
			out[i] = s.Score(&Result{Latency: time.Second})
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Seeded noise streams diverged: %v vs %v", a, b)
		}
	}
}

func TestScoreOutcomeErrorsGetLowBand(t *testing.T) {
	cfg := scorerConfig(config.AggregationAverage)
	s := NewScorer(&cfg, 1, nil)

	outcome := &RoundOutcome{
		Round: 1,
		Tasks: []*Task{{ID: "t1", MinerUID: "m1"}, {ID: "t2", MinerUID: "m2"}, {ID: "t3", MinerUID: "m3"}},
		Results: []*Result{
			{TaskID: "t1", MinerUID: "m1", Latency: time.Second, ResultURL: "https://r", ModelVersion: "v1"},
		},
		Errors: []*TaskError{
			{TaskID: "t2", MinerUID: "m2", Kind: KindTimeout},
			{TaskID: "t3", MinerUID: "m3", Kind: KindDispatch},
		},
	}

	s.ScoreOutcome(outcome)

	if h := s.History("m1"); len(h) != 1 || h[0] != 0.90 {
		t.Errorf("History(m1) = %v, want [0.90]", h)
	}
	if h := s.History("m2"); len(h) != 1 || h[0] != ScoreMin {
		t.Errorf("History(m2) = %v, want [0.05]", h)
	}
	if h := s.History("m3"); len(h) != 1 || h[0] != ScoreMin {
		t.Errorf("History(m3) = %v, want [0.05]", h)
	}
}

func TestAppendClampsAndCaps(t *testing.T) {
	cfg := scorerConfig(config.AggregationAverage)
	cfg.HistorySoftCap = 3
	s := NewScorer(&cfg, 1, nil)

	s.Append("m1", -5)
	s.Append("m1", 5)
	if h := s.History("m1"); h[0] != ScoreMin || h[1] != ScoreMax {
		t.Errorf("Append should clamp, got %v", h)
	}

	s.Append("m1", 0.5)
	s.Append("m1", 0.6)
	h := s.History("m1")
	if len(h) != 3 {
		t.Fatalf("History length = %d, want soft cap 3", len(h))
	}
	// Oldest entry dropped
	if h[0] != ScoreMax || h[2] != 0.6 {
		t.Errorf("History after cap = %v", h)
	}
}

func TestAggregateSingleElement(t *testing.T) {
	for _, method := range []string{config.AggregationAverage, config.AggregationMedian, config.AggregationMax} {
		t.Run(method, func(t *testing.T) {
			cfg := scorerConfig(method)
			s := NewScorer(&cfg, 1, nil)
			s.Append("m1", 0.75)

			final := s.Aggregate()
			if got := final["m1"]; got != 0.75 {
				t.Errorf("Aggregate()[m1] = %v, want 0.75", got)
			}
		})
	}
}

func TestAggregateRepeatedValueExact(t *testing.T) {
	cfg := scorerConfig(config.AggregationAverage)
	s := NewScorer(&cfg, 1, nil)

	for i := 0; i < 7; i++ {
		s.Append("m1", 0.5)
	}

	if got := s.Aggregate()["m1"]; got != 0.5 {
		t.Errorf("Average of repeated 0.5 = %v, want exactly 0.5", got)
	}
}

func TestAggregateMethods(t *testing.T) {
	history := []float64{0.10, 0.90, 0.50, 0.30}

	tests := []struct {
		method string
		want   float64
	}{
		{config.AggregationAverage, 0.45},
		{config.AggregationMedian, 0.30},
		{config.AggregationMax, 0.90},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			cfg := scorerConfig(tt.method)
			s := NewScorer(&cfg, 1, nil)
			for _, v := range history {
				s.Append("m1", v)
			}

			got := s.Aggregate()["m1"]
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Aggregate(%s) = %v, want %v", tt.method, got, tt.want)
			}
		})
	}
}

func TestAggregateEmptyHistoryOmitted(t *testing.T) {
	cfg := scorerConfig(config.AggregationAverage)
	s := NewScorer(&cfg, 1, nil)

	final := s.Aggregate()
	if len(final) != 0 {
		t.Errorf("Aggregate() over no histories = %v, want empty", final)
	}
}

func TestAggregateIsolation(t *testing.T) {
	// One miner's final score is a function of its history alone
	cfg := scorerConfig(config.AggregationAverage)

	solo := NewScorer(&cfg, 1, nil)
	solo.Append("m1", 0.25)
	solo.Append("m1", 0.75)
	want := solo.Aggregate()["m1"]

	crowded := NewScorer(&cfg, 1, nil)
	crowded.Append("m1", 0.25)
	crowded.Append("m1", 0.75)
	crowded.Append("m2", 0.95)
	crowded.Append("m3", 0.05)
	crowded.Append("m3", 0.05)

	if got := crowded.Aggregate()["m1"]; got != want {
		t.Errorf("m1 final changed with other miners present: %v vs %v", got, want)
	}
}
