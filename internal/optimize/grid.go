package optimize

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcolo88/Trading-sub000/internal/errors"
)

// ResultRow is one evaluated parameter combination plus its metric set.
type ResultRow struct {
	Params     Assignment
	Metrics    map[string]float64
	Score      float64
	Err        string
	ComputedAt time.Time
}

// Key returns the row's order-independent parameter key.
func (r ResultRow) Key() string { return r.Params.Key() }

// ResultStore persists result tables. Implemented by the SQLite store.
type ResultStore interface {
	SaveRows(table string, rows []ResultRow) error
	LoadRows(table string) ([]ResultRow, error)
}

// ProgressFunc receives a discrete event after each evaluated
// combination. Rendering is the caller's concern.
type ProgressFunc func(done, total int, best float64)

// GridConfig controls a grid-search run.
type GridConfig struct {
	// Metric is the optimization objective, one of backtest.MetricNames.
	Metric string
	// CheckpointEvery persists accumulated results after this many
	// evaluations. Zero disables periodic checkpoints; a final
	// checkpoint is still written on interruption.
	CheckpointEvery int
	// CheckpointTable and MasterTable name the persisted tables whose
	// keys are skipped on resume.
	CheckpointTable string
	MasterTable     string
	// SampleSize bounds the runtime-estimate sample.
	SampleSize int
	// Confirm is consulted with the estimated runtime before a full
	// run; nil means proceed unattended.
	Confirm func(combinations int, estimated time.Duration) bool
	// Seed drives the runtime-estimate sample selection.
	Seed int64
}

// GridSearch enumerates the Cartesian product of registered ranges in
// deterministic order, evaluating each combination with one complete
// backtest run.
type GridSearch struct {
	spec    StrategySpec
	cfg     GridConfig
	ranges  []ParameterRange
	store   ResultStore
	logger  zerolog.Logger
	results []ResultRow
}

// NewGridSearch creates a grid search over the given base strategy spec.
func NewGridSearch(spec StrategySpec, cfg GridConfig, store ResultStore, logger zerolog.Logger) *GridSearch {
	if cfg.Metric == "" {
		cfg.Metric = "sharpe_ratio"
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 3
	}
	return &GridSearch{spec: spec, cfg: cfg, store: store, logger: logger}
}

// AddRange registers one parameter range, validating its name against
// the strategy type's allow-list.
func (g *GridSearch) AddRange(name string, min, max, step float64) error {
	if err := ValidateParameter(g.spec.Type, name); err != nil {
		return err
	}
	for _, r := range g.ranges {
		if r.Name == name {
			return errors.NewValidationError("parameter", name, "registered twice")
		}
	}
	r, err := NewParameterRange(name, min, max, step)
	if err != nil {
		return err
	}
	g.ranges = append(g.ranges, r)
	return nil
}

// TotalCombinations is the product of each range's cardinality.
func (g *GridSearch) TotalCombinations() int {
	if len(g.ranges) == 0 {
		return 0
	}
	total := 1
	for _, r := range g.ranges {
		total *= len(r.Values)
	}
	return total
}

// combination materializes the i-th assignment of the deterministic
// enumeration order.
func (g *GridSearch) combination(i int) Assignment {
	a := make(Assignment, len(g.ranges))
	for _, r := range g.ranges {
		n := len(r.Values)
		a[r.Name] = r.Values[i%n]
		i /= n
	}
	return a
}

// EstimateRuntime times a small random sample of combinations and
// extrapolates to the full product.
func (g *GridSearch) EstimateRuntime(ctx context.Context, ev *Evaluator) (time.Duration, error) {
	total := g.TotalCombinations()
	if total == 0 {
		return 0, errors.NewValidationError("ranges", nil, "no parameter ranges registered")
	}
	n := g.cfg.SampleSize
	if n > total {
		n = total
	}
	rng := rand.New(rand.NewSource(g.cfg.Seed))
	start := time.Now()
	for i := 0; i < n; i++ {
		if _, err := ev.Evaluate(ctx, g.combination(rng.Intn(total))); err != nil && errors.Is(err, ctx.Err()) {
			return 0, err
		}
	}
	per := time.Since(start) / time.Duration(n)
	return per * time.Duration(total), nil
}

// Run evaluates every combination not already present in the prior
// checkpoint or master table, checkpointing at the configured cadence
// and on interruption. Results are sorted descending by the
// optimization metric.
func (g *GridSearch) Run(ctx context.Context, ev *Evaluator, progress ProgressFunc) ([]ResultRow, error) {
	total := g.TotalCombinations()
	if total == 0 {
		return nil, errors.NewValidationError("ranges", nil, "no parameter ranges registered")
	}

	estimate, err := g.EstimateRuntime(ctx, ev)
	if err != nil {
		return nil, errors.Wrap(err, "estimating runtime")
	}
	if g.cfg.Confirm != nil && !g.cfg.Confirm(total, estimate) {
		return nil, errors.Wrap(errors.ErrInterrupted, "run declined at confirmation")
	}

	seen, err := g.loadSeen()
	if err != nil {
		return nil, err
	}

	g.logger.Info().
		Int("combinations", total).
		Int("already_seen", len(seen)).
		Dur("estimated", estimate).
		Str("metric", g.cfg.Metric).
		Msg("Grid search starting")

	best := math.Inf(-1)
	done := 0
	sinceCheckpoint := 0
	for i := 0; i < total; i++ {
		a := g.combination(i)
		if _, ok := seen[a.Key()]; ok {
			done++
			continue
		}

		select {
		case <-ctx.Done():
			// Interruption: persist everything completed so far
			// before unwinding.
			if err := g.checkpoint(); err != nil {
				g.logger.Error().Err(err).Msg("Checkpoint on interrupt failed")
			}
			return g.sorted(), errors.Wrap(errors.ErrInterrupted, "grid search interrupted")
		default:
		}

		row, evalErr := g.evaluateOne(ctx, ev, a)
		if evalErr != nil {
			// Cancellation landed while the backtest was in flight.
			// The combination stays un-seen so a resumed run retries it.
			if err := g.checkpoint(); err != nil {
				g.logger.Error().Err(err).Msg("Checkpoint on interrupt failed")
			}
			return g.sorted(), errors.Wrap(errors.ErrInterrupted, "grid search interrupted")
		}
		g.results = append(g.results, row)
		seen[row.Key()] = struct{}{}
		if row.Score > best {
			best = row.Score
		}
		done++
		sinceCheckpoint++
		if progress != nil {
			progress(done, total, best)
		}

		if g.cfg.CheckpointEvery > 0 && sinceCheckpoint >= g.cfg.CheckpointEvery {
			if err := g.checkpoint(); err != nil {
				return nil, errors.Wrap(err, "writing checkpoint")
			}
			sinceCheckpoint = 0
		}
	}

	if err := g.checkpoint(); err != nil {
		return nil, errors.Wrap(err, "writing final checkpoint")
	}
	return g.sorted(), nil
}

// evaluateOne runs one combination, capturing failures as rows with the
// sentinel score so the search continues. An interrupted evaluation is
// not a failed combination: recording it would make resume skip a
// combination that was never measured, so cancellation propagates as an
// error and no row is produced.
func (g *GridSearch) evaluateOne(ctx context.Context, ev *Evaluator, a Assignment) (ResultRow, error) {
	row := ResultRow{Params: a, ComputedAt: time.Now().UTC()}
	result, runErr := ev.Evaluate(ctx, a)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return ResultRow{}, runErr
		}
		row.Err = runErr.Error()
		row.Score = SentinelScore
		row.Metrics = map[string]float64{g.cfg.Metric: SentinelScore}
		g.logger.Warn().Err(runErr).Str("params", a.Key()).Msg("Combination failed")
		return row, nil
	}
	row.Metrics = result.Metrics.Map()
	row.Score = objective(row.Metrics, g.cfg.Metric)
	return row, nil
}

// loadSeen rebuilds the set of already-evaluated keys from the prior
// checkpoint and the cross-run master table.
func (g *GridSearch) loadSeen() (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	for _, table := range []string{g.cfg.CheckpointTable, g.cfg.MasterTable} {
		if table == "" || g.store == nil {
			continue
		}
		rows, err := g.store.LoadRows(table)
		if err != nil {
			return nil, errors.Wrapf(err, "loading prior results from %s", table)
		}
		for _, row := range rows {
			seen[row.Key()] = struct{}{}
			g.results = append(g.results, row)
		}
	}
	return seen, nil
}

func (g *GridSearch) checkpoint() error {
	if g.store == nil || g.cfg.CheckpointTable == "" {
		return nil
	}
	return g.store.SaveRows(g.cfg.CheckpointTable, g.results)
}

func (g *GridSearch) sorted() []ResultRow {
	return SortRows(g.results, g.cfg.Metric)
}

// SortRows orders rows descending by the given metric, sentinel and
// missing values last. The input slice is sorted in place and returned.
func SortRows(rows []ResultRow, metric string) []ResultRow {
	sort.SliceStable(rows, func(i, j int) bool {
		return sortValue(rows[i], metric) > sortValue(rows[j], metric)
	})
	return rows
}

func sortValue(r ResultRow, metric string) float64 {
	if r.Err != "" {
		return SentinelScore
	}
	v, ok := r.Metrics[metric]
	if !ok || math.IsNaN(v) {
		return SentinelScore
	}
	return v
}

// TableName derives the persisted-table identity for a strategy and
// date range.
func TableName(kind, strategyName string, start, end time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s", kind, strategyName,
		start.Format("20060102"), end.Format("20060102"))
}
