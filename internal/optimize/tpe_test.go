package optimize

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rcolo88/Trading-sub000/internal/backtest"
)

func newTestTPE(t *testing.T, cfg TPEConfig) *TPESearch {
	t.Helper()
	s := NewTPESearch(searchFixture(t).Spec, cfg, zerolog.Nop())
	if err := s.AddRange("short_delta", 0.25, 0.35, 0.05); err != nil {
		t.Fatalf("AddRange: %v", err)
	}
	if err := s.AddRange("profit_target_pct", 0.4, 0.6, 0.1); err != nil {
		t.Fatalf("AddRange: %v", err)
	}
	return s
}

func TestTPESamplesStayOnGrid(t *testing.T) {
	s := newTestTPE(t, TPEConfig{Metric: "total_return_pct", Trials: 12, StartupTrials: 4, Seed: 42})

	rows, err := s.Run(context.Background(), searchFixture(t), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rows) == 0 || len(rows) > 12 {
		t.Fatalf("got %d rows, want 1..12 deduplicated trials", len(rows))
	}

	valueSet := gridValueSet(s.ranges)
	keys := make(map[string]bool)
	for _, r := range rows {
		if keys[r.Key()] {
			t.Errorf("duplicate key %q", r.Key())
		}
		keys[r.Key()] = true
		for name, v := range r.Params {
			if !valueSet[name][v] {
				t.Errorf("sampled %s=%v outside the materialized grid", name, v)
			}
		}
	}
}

func TestTPERowsMatchGridSchema(t *testing.T) {
	s := newTestTPE(t, TPEConfig{Metric: "total_return_pct", Trials: 6, StartupTrials: 3, Seed: 7})

	rows, err := s.Run(context.Background(), searchFixture(t), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Completed trials are re-run in full, so each row carries the
	// whole metric set, not just the objective.
	for _, r := range rows {
		if r.Err != "" {
			continue
		}
		for _, name := range backtest.MetricNames() {
			if _, ok := r.Metrics[name]; !ok {
				t.Errorf("row %q missing metric %q", r.Key(), name)
			}
		}
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Metrics["total_return_pct"] > rows[i-1].Metrics["total_return_pct"] {
			t.Errorf("rows not sorted descending at index %d", i)
		}
	}
}

func TestTPEDeterministicWithSeed(t *testing.T) {
	run := func() []string {
		s := newTestTPE(t, TPEConfig{Metric: "total_return_pct", Trials: 10, StartupTrials: 4, Seed: 99})
		rows, err := s.Run(context.Background(), searchFixture(t), nil)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		keys := make([]string, len(rows))
		for i, r := range rows {
			keys[i] = r.Key()
		}
		return keys
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("row counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("index %d: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestGridBestDominatesTPEBestOnSameGrid(t *testing.T) {
	// With the trial budget equal to the grid cardinality, the
	// exhaustive search bounds what any sampler can find on the same
	// discretization.
	gridRows, err := newTestGrid(t, newFakeStore(), GridConfig{Metric: "total_return_pct"}).
		Run(context.Background(), searchFixture(t), nil)
	if err != nil {
		t.Fatalf("grid Run: %v", err)
	}

	s := newTestTPE(t, TPEConfig{Metric: "total_return_pct", Trials: 9, StartupTrials: 4, Seed: 1})
	tpeRows, err := s.Run(context.Background(), searchFixture(t), nil)
	if err != nil {
		t.Fatalf("tpe Run: %v", err)
	}
	if len(tpeRows) == 0 {
		t.Fatal("tpe produced no rows")
	}

	gridBest := sortValue(gridRows[0], "total_return_pct")
	tpeBest := sortValue(tpeRows[0], "total_return_pct")
	if gridBest < tpeBest {
		t.Errorf("grid best %v below tpe best %v on the same grid", gridBest, tpeBest)
	}
}

func TestTPEValidation(t *testing.T) {
	s := NewTPESearch(searchFixture(t).Spec, TPEConfig{Trials: 5}, zerolog.Nop())
	if _, err := s.Run(context.Background(), searchFixture(t), nil); err == nil {
		t.Error("expected error with no registered ranges")
	}

	s = newTestTPE(t, TPEConfig{Trials: 0})
	if _, err := s.Run(context.Background(), searchFixture(t), nil); err == nil {
		t.Error("expected error with zero trial budget")
	}

	if err := s.AddRange("made_up_knob", 0, 1, 0.5); err == nil {
		t.Error("expected unknown parameter rejection")
	}
}

func TestSnap(t *testing.T) {
	r, err := NewParameterRange("x", 0.1, 0.5, 0.1)
	if err != nil {
		t.Fatalf("NewParameterRange: %v", err)
	}
	cases := []struct{ in, want float64 }{
		{-3, 0.1}, // below range clamps to the floor
		{9, 0.5},  // above range clamps to the ceiling
		{0.24, 0.2},
		{0.26, 0.3},
		{0.3, 0.3},
	}
	for _, c := range cases {
		if got := snap(r, c.in); got != c.want {
			t.Errorf("snap(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestKeepAtStageMedianRule(t *testing.T) {
	s := newTestTPE(t, TPEConfig{Metric: "m", Trials: 1, Pruning: true, PruneMinTrials: 3})

	// Below the minimum history, everything survives.
	if !s.keepAtStage(1, -100) {
		t.Error("stage with thin history must keep the trial")
	}

	s.stageValues[1] = []float64{1, 2, 3, 4, 5}
	if s.keepAtStage(1, 2.9) {
		t.Error("value below the stage median must be pruned")
	}
	if !s.keepAtStage(1, 3) {
		t.Error("value at the stage median must survive")
	}
	if !s.keepAtStage(1, 10) {
		t.Error("value above the stage median must survive")
	}
}
