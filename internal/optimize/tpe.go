package optimize

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcolo88/Trading-sub000/internal/errors"
)

// TPEConfig controls the Bayesian search.
type TPEConfig struct {
	// Metric is the optimization objective.
	Metric string
	// Trials is the total trial budget.
	Trials int
	// StartupTrials are sampled uniformly at random to seed the model.
	StartupTrials int
	// Gamma is the quantile splitting observed trials into the good
	// and bad sets.
	Gamma float64
	// Candidates is how many proposals are scored per trial.
	Candidates int
	// Multivariate scores candidates jointly instead of per dimension.
	Multivariate bool
	// Pruning enables the median stopping rule over staged evaluation.
	Pruning bool
	// PruneStages is the number of evaluation stages when pruning.
	PruneStages int
	// PruneMinTrials is how many completed trials are required at a
	// stage before the median rule applies.
	PruneMinTrials int
	// Seed makes the sampling order reproducible.
	Seed int64
}

func (c *TPEConfig) defaults() {
	if c.Metric == "" {
		c.Metric = "sharpe_ratio"
	}
	if c.StartupTrials <= 0 {
		c.StartupTrials = 10
	}
	if c.Gamma <= 0 || c.Gamma >= 1 {
		c.Gamma = 0.25
	}
	if c.Candidates <= 0 {
		c.Candidates = 24
	}
	if c.PruneStages < 2 {
		c.PruneStages = 4
	}
	if c.PruneMinTrials <= 0 {
		c.PruneMinTrials = 5
	}
}

// tpeTrial is one observed (assignment, objective) pair.
type tpeTrial struct {
	params Assignment
	score  float64
	pruned bool
	failed bool
	errMsg string
}

// TPESearch is a sequential model-based sampler over the same
// parameter-range abstraction as grid search. It proposes trials by
// fitting Parzen estimators to the good and bad halves of the history
// and picking the candidate with the highest good/bad density ratio.
type TPESearch struct {
	spec   StrategySpec
	cfg    TPEConfig
	ranges []ParameterRange
	rng    *rand.Rand
	logger zerolog.Logger

	trials []tpeTrial
	// stageValues holds completed intermediate objective values per
	// stage, for the median stopping rule.
	stageValues map[int][]float64
}

// NewTPESearch creates a Bayesian search over the given base spec.
func NewTPESearch(spec StrategySpec, cfg TPEConfig, logger zerolog.Logger) *TPESearch {
	cfg.defaults()
	return &TPESearch{
		spec:        spec,
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		logger:      logger,
		stageValues: make(map[int][]float64),
	}
}

// AddRange registers one parameter range, validated against the
// strategy type's allow-list.
func (t *TPESearch) AddRange(name string, min, max, step float64) error {
	if err := ValidateParameter(t.spec.Type, name); err != nil {
		return err
	}
	r, err := NewParameterRange(name, min, max, step)
	if err != nil {
		return err
	}
	t.ranges = append(t.ranges, r)
	return nil
}

// Run executes the trial budget, then re-evaluates every completed
// trial with a full backtest so the output rows carry the complete
// metric set, identical in schema to grid-search output and sorted
// descending by the optimization metric.
func (t *TPESearch) Run(ctx context.Context, ev *Evaluator, progress ProgressFunc) ([]ResultRow, error) {
	if len(t.ranges) == 0 {
		return nil, errors.NewValidationError("ranges", nil, "no parameter ranges registered")
	}
	if t.cfg.Trials <= 0 {
		return nil, errors.NewValidationError("trials", t.cfg.Trials, "must be >= 1")
	}

	t.logger.Info().
		Int("trials", t.cfg.Trials).
		Int("startup", t.cfg.StartupTrials).
		Str("metric", t.cfg.Metric).
		Msg("TPE search starting")

	best := math.Inf(-1)
	for i := 0; i < t.cfg.Trials; i++ {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(errors.ErrInterrupted, "tpe search interrupted")
		default:
		}

		a := t.suggest()
		trial := t.runTrial(ctx, ev, a)
		t.trials = append(t.trials, trial)
		if !trial.pruned && !trial.failed && trial.score > best {
			best = trial.score
		}
		if progress != nil {
			progress(i+1, t.cfg.Trials, best)
		}
	}

	return t.compileRows(ctx, ev)
}

// runTrial evaluates one proposal, pruning unpromising trials early
// when enabled and mapping failures to the sentinel score.
func (t *TPESearch) runTrial(ctx context.Context, ev *Evaluator, a Assignment) tpeTrial {
	trial := tpeTrial{params: a}

	report := func(stage int, value float64) bool {
		keep := t.keepAtStage(stage, value)
		if keep {
			t.stageValues[stage] = append(t.stageValues[stage], value)
		}
		return keep
	}

	var res *ResultRow
	var err error
	if t.cfg.Pruning {
		r, runErr := ev.EvaluateStaged(ctx, a, t.cfg.PruneStages, t.cfg.Metric, report)
		if runErr != nil {
			if errors.Is(runErr, errors.ErrInterrupted) {
				trial.pruned = true
				trial.score = SentinelScore
				return trial
			}
			err = runErr
		} else {
			res = &ResultRow{Metrics: r.Metrics.Map()}
		}
	} else {
		r, runErr := ev.Evaluate(ctx, a)
		if runErr != nil {
			err = runErr
		} else {
			res = &ResultRow{Metrics: r.Metrics.Map()}
		}
	}

	if err != nil {
		trial.failed = true
		trial.errMsg = err.Error()
		trial.score = SentinelScore
		t.logger.Warn().Err(err).Str("params", a.Key()).Msg("Trial failed")
		return trial
	}
	trial.score = objective(res.Metrics, t.cfg.Metric)
	return trial
}

// keepAtStage applies the median stopping rule: a trial survives a
// stage only if its intermediate value is at or above the median of
// completed trials at the same stage.
func (t *TPESearch) keepAtStage(stage int, value float64) bool {
	history := t.stageValues[stage]
	if len(history) < t.cfg.PruneMinTrials {
		return true
	}
	sorted := append([]float64(nil), history...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]
	return value >= median
}

// suggest proposes the next assignment: uniform during startup, then
// by density-ratio sampling over the observed history.
func (t *TPESearch) suggest() Assignment {
	completed := t.completedTrials()
	if len(completed) < t.cfg.StartupTrials {
		return t.randomAssignment()
	}

	good, bad := t.split(completed)
	bestScore := math.Inf(-1)
	var best Assignment
	for c := 0; c < t.cfg.Candidates; c++ {
		var cand Assignment
		if t.cfg.Multivariate {
			// Joint proposal: perturb one good trial across all
			// dimensions, preserving observed parameter interactions.
			seed := good[t.rng.Intn(len(good))].params
			cand = t.perturb(seed)
		} else {
			cand = make(Assignment, len(t.ranges))
			for _, r := range t.ranges {
				cand[r.Name] = t.sampleDimension(r, good)
			}
		}
		score := t.densityRatio(cand, good, bad)
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}
	if best == nil {
		return t.randomAssignment()
	}
	return best
}

func (t *TPESearch) completedTrials() []tpeTrial {
	var out []tpeTrial
	for _, tr := range t.trials {
		if !tr.pruned && !tr.failed {
			out = append(out, tr)
		}
	}
	return out
}

// split orders completed trials by score and cuts at the gamma
// quantile: the top fraction seeds the good density.
func (t *TPESearch) split(completed []tpeTrial) (good, bad []tpeTrial) {
	sorted := append([]tpeTrial(nil), completed...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })
	n := int(math.Ceil(t.cfg.Gamma * float64(len(sorted))))
	if n < 1 {
		n = 1
	}
	return sorted[:n], sorted[n:]
}

// sampleDimension draws one value from a Parzen kernel centered on a
// random good observation, snapped back to the range's grid.
func (t *TPESearch) sampleDimension(r ParameterRange, good []tpeTrial) float64 {
	center := good[t.rng.Intn(len(good))].params[r.Name]
	bandwidth := (r.Max - r.Min) / math.Sqrt(float64(len(good))+1)
	if bandwidth <= 0 {
		return center
	}
	return snap(r, center+t.rng.NormFloat64()*bandwidth)
}

// perturb jitters every dimension of a seed assignment by one kernel
// draw.
func (t *TPESearch) perturb(seed Assignment) Assignment {
	out := make(Assignment, len(t.ranges))
	for _, r := range t.ranges {
		bandwidth := r.Step
		out[r.Name] = snap(r, seed[r.Name]+t.rng.NormFloat64()*bandwidth)
	}
	return out
}

// densityRatio scores a candidate by the ratio of Parzen densities fit
// to the good and bad sets, multiplied across dimensions.
func (t *TPESearch) densityRatio(cand Assignment, good, bad []tpeTrial) float64 {
	score := 1.0
	for _, r := range t.ranges {
		bandwidth := (r.Max - r.Min) / math.Sqrt(float64(len(good))+1)
		if bandwidth <= 0 {
			bandwidth = 1
		}
		g := parzen(cand[r.Name], r.Name, good, bandwidth)
		b := parzen(cand[r.Name], r.Name, bad, bandwidth)
		score *= (g + 1e-12) / (b + 1e-12)
	}
	return score
}

// parzen evaluates a Gaussian kernel density estimate at x.
func parzen(x float64, name string, trials []tpeTrial, bandwidth float64) float64 {
	if len(trials) == 0 {
		return 0
	}
	var sum float64
	for _, tr := range trials {
		d := (x - tr.params[name]) / bandwidth
		sum += math.Exp(-0.5 * d * d)
	}
	return sum / (float64(len(trials)) * bandwidth * math.Sqrt(2*math.Pi))
}

// snap clamps a continuous draw back onto the range's discrete grid.
func snap(r ParameterRange, v float64) float64 {
	if v <= r.Min {
		return r.Values[0]
	}
	if v >= r.Max {
		return r.Values[len(r.Values)-1]
	}
	idx := int(math.Round((v - r.Min) / r.Step))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.Values) {
		idx = len(r.Values) - 1
	}
	return r.Values[idx]
}

func (t *TPESearch) randomAssignment() Assignment {
	a := make(Assignment, len(t.ranges))
	for _, r := range t.ranges {
		a[r.Name] = r.Values[t.rng.Intn(len(r.Values))]
	}
	return a
}

// compileRows re-runs the full backtest for every completed trial (the
// sampler only retains the objective scalar during search) so the
// output matches grid-search output in shape.
func (t *TPESearch) compileRows(ctx context.Context, ev *Evaluator) ([]ResultRow, error) {
	seen := make(map[string]struct{})
	var rows []ResultRow
	for _, tr := range t.trials {
		if tr.pruned {
			continue
		}
		key := tr.params.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		row := ResultRow{Params: tr.params, ComputedAt: time.Now().UTC()}
		if tr.failed {
			row.Err = tr.errMsg
			row.Score = SentinelScore
			row.Metrics = map[string]float64{t.cfg.Metric: SentinelScore}
			rows = append(rows, row)
			continue
		}
		res, err := ev.Evaluate(ctx, tr.params)
		if err != nil {
			row.Err = err.Error()
			row.Score = SentinelScore
			row.Metrics = map[string]float64{t.cfg.Metric: SentinelScore}
		} else {
			row.Metrics = res.Metrics.Map()
			row.Score = objective(row.Metrics, t.cfg.Metric)
		}
		rows = append(rows, row)
	}
	return SortRows(rows, t.cfg.Metric), nil
}
