package optimize

import (
	"github.com/rcolo88/Trading-sub000/internal/errors"
)

// MergeRows concatenates existing and new rows, drops duplicate
// parameter keys keeping the most recently computed row, and re-sorts
// by the metric. Pure and idempotent: merging the same new rows twice
// yields the same table as merging them once.
func MergeRows(existing, incoming []ResultRow, metric string) []ResultRow {
	byKey := make(map[string]ResultRow, len(existing)+len(incoming))
	order := make([]string, 0, len(existing)+len(incoming))
	for _, row := range append(append([]ResultRow(nil), existing...), incoming...) {
		key := row.Key()
		prev, ok := byKey[key]
		if !ok {
			order = append(order, key)
			byKey[key] = row
			continue
		}
		if !row.ComputedAt.Before(prev.ComputedAt) {
			byKey[key] = row
		}
	}
	merged := make([]ResultRow, 0, len(order))
	for _, key := range order {
		merged = append(merged, byKey[key])
	}
	return SortRows(merged, metric)
}

// CompileMaster merges new results into the persisted master table for
// one (strategy, date-range) identity and persists the result.
func CompileMaster(store ResultStore, table string, incoming []ResultRow, metric string) ([]ResultRow, error) {
	existing, err := store.LoadRows(table)
	if err != nil {
		return nil, errors.Wrapf(err, "loading master table %s", table)
	}
	merged := MergeRows(existing, incoming, metric)
	if err := store.SaveRows(table, merged); err != nil {
		return nil, errors.Wrapf(err, "saving master table %s", table)
	}
	return merged, nil
}
