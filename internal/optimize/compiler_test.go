package optimize

import (
	"testing"
	"time"
)

func TestMergeRowsNewestWins(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	existing := []ResultRow{
		{Params: Assignment{"a": 1}, Metrics: map[string]float64{"m": 5}, ComputedAt: older},
		{Params: Assignment{"a": 2}, Metrics: map[string]float64{"m": 3}, ComputedAt: older},
	}
	incoming := []ResultRow{
		{Params: Assignment{"a": 1}, Metrics: map[string]float64{"m": 9}, ComputedAt: newer},
		{Params: Assignment{"a": 3}, Metrics: map[string]float64{"m": 1}, ComputedAt: newer},
	}

	merged := MergeRows(existing, incoming, "m")
	if len(merged) != 3 {
		t.Fatalf("got %d rows, want 3", len(merged))
	}
	// The re-run of a=1 replaces the stale row and re-sorts to the top.
	if merged[0].Params["a"] != 1 || merged[0].Metrics["m"] != 9 {
		t.Errorf("head = %v / %v, want a=1 with m=9", merged[0].Params, merged[0].Metrics)
	}
	if merged[1].Params["a"] != 2 || merged[2].Params["a"] != 3 {
		t.Errorf("tail order = %v, %v", merged[1].Params, merged[2].Params)
	}
}

func TestMergeRowsOlderIncomingLoses(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	existing := []ResultRow{{Params: Assignment{"a": 1}, Metrics: map[string]float64{"m": 9}, ComputedAt: newer}}
	incoming := []ResultRow{{Params: Assignment{"a": 1}, Metrics: map[string]float64{"m": 5}, ComputedAt: older}}

	merged := MergeRows(existing, incoming, "m")
	if len(merged) != 1 || merged[0].Metrics["m"] != 9 {
		t.Fatalf("stale incoming row must not replace newer existing row: %v", merged)
	}
}

func TestMergeRowsIdempotent(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	existing := []ResultRow{{Params: Assignment{"a": 1}, Metrics: map[string]float64{"m": 2}, ComputedAt: at}}
	incoming := []ResultRow{
		{Params: Assignment{"a": 2}, Metrics: map[string]float64{"m": 4}, ComputedAt: at},
	}

	once := MergeRows(existing, incoming, "m")
	twice := MergeRows(once, incoming, "m")
	if len(once) != len(twice) {
		t.Fatalf("idempotence broken: %d vs %d rows", len(once), len(twice))
	}
	for i := range once {
		if once[i].Key() != twice[i].Key() || once[i].Metrics["m"] != twice[i].Metrics["m"] {
			t.Errorf("index %d differs after re-merge", i)
		}
	}
}

func TestCompileMasterPersists(t *testing.T) {
	store := newFakeStore()
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store.tables["master"] = []ResultRow{
		{Params: Assignment{"a": 1}, Metrics: map[string]float64{"m": 2}, ComputedAt: at},
	}

	incoming := []ResultRow{
		{Params: Assignment{"a": 2}, Metrics: map[string]float64{"m": 7}, ComputedAt: at.Add(time.Hour)},
	}
	merged, err := CompileMaster(store, "master", incoming, "m")
	if err != nil {
		t.Fatalf("CompileMaster: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("got %d rows, want 2", len(merged))
	}
	if merged[0].Params["a"] != 2 {
		t.Errorf("expected incoming row at head, got %v", merged[0].Params)
	}
	if len(store.tables["master"]) != 2 {
		t.Errorf("master table holds %d rows, want 2", len(store.tables["master"]))
	}
}
