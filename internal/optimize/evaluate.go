package optimize

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcolo88/Trading-sub000/internal/backtest"
	"github.com/rcolo88/Trading-sub000/internal/errors"
	"github.com/rcolo88/Trading-sub000/internal/strategy"
)

// StrategySpec is the base strategy configuration an optimizer projects
// each parameter assignment onto. Only the section matching Type is
// consulted.
type StrategySpec struct {
	Type strategy.Type

	VerticalEntry strategy.VerticalEntryConfig
	VerticalExit  strategy.ExitConfig

	CalendarEntry strategy.CalendarEntryConfig
	CalendarExit  strategy.CalendarExitConfig

	CondorEntry strategy.IronCondorEntryConfig
	CondorExit  strategy.IronCondorExitConfig
}

// BuildStrategy copies the base configuration, overwrites only the
// parameters under test, and constructs a fresh strategy instance
// (with an empty position registry) for one backtest run.
func BuildStrategy(spec StrategySpec, a Assignment) (strategy.Strategy, error) {
	for name := range a {
		if err := ValidateParameter(spec.Type, name); err != nil {
			return nil, err
		}
	}
	params := expand(spec.Type, a)

	switch spec.Type {
	case strategy.TypeVertical:
		entry, exit := spec.VerticalEntry, spec.VerticalExit
		for name, v := range params {
			applyVertical(&entry, &exit, name, v)
		}
		return strategy.NewVerticalSpread(entry, exit)
	case strategy.TypeCalendar:
		entry, exit := spec.CalendarEntry, spec.CalendarExit
		for name, v := range params {
			applyCalendar(&entry, &exit, name, v)
		}
		return strategy.NewCalendarSpread(entry, exit)
	case strategy.TypeIronCondor:
		entry, exit := spec.CondorEntry, spec.CondorExit
		for name, v := range params {
			applyCondor(&entry, &exit, name, v)
		}
		return strategy.NewIronCondor(entry, exit)
	default:
		return nil, errors.Wrapf(errors.ErrUnknownStrategy, "strategy type %q", spec.Type)
	}
}

func applyVertical(entry *strategy.VerticalEntryConfig, exit *strategy.ExitConfig, name string, v float64) {
	switch name {
	case "short_delta":
		entry.ShortDelta = v
	case "long_delta":
		entry.LongDelta = v
	case "delta_tolerance":
		entry.DeltaTolerance = v
	case "min_dte":
		entry.MinDTE = int(v)
	case "max_dte":
		entry.MaxDTE = int(v)
	case "min_credit":
		entry.MinCredit = v
	case "max_width":
		entry.MaxWidth = v
	case "min_iv_percentile":
		entry.MinIVPercentile = v
	case "max_iv_percentile":
		entry.MaxIVPercentile = v
	case "max_vix":
		entry.MaxVIX = v
	case "profit_target_pct":
		exit.ProfitTargetPct = v
	case "stop_loss_pct":
		exit.StopLossPct = v
	case "min_dte_exit":
		exit.MinDTEExit = int(v)
	}
}

func applyCalendar(entry *strategy.CalendarEntryConfig, exit *strategy.CalendarExitConfig, name string, v float64) {
	switch name {
	case "target_delta":
		entry.TargetDelta = v
	case "delta_tolerance":
		entry.DeltaTolerance = v
	case "near_min_dte":
		entry.NearMinDTE = int(v)
	case "near_max_dte":
		entry.NearMaxDTE = int(v)
	case "far_min_dte":
		entry.FarMinDTE = int(v)
	case "far_max_dte":
		entry.FarMaxDTE = int(v)
	case "max_debit":
		entry.MaxDebit = v
	case "max_vix":
		entry.MaxVIX = v
	case "profit_target_pct":
		exit.ProfitTargetPct = v
	case "stop_loss_pct":
		exit.StopLossPct = v
	case "min_dte_exit":
		exit.MinDTEExit = int(v)
	case "max_drift_pct":
		exit.MaxDriftPct = v
	}
}

func applyCondor(entry *strategy.IronCondorEntryConfig, exit *strategy.IronCondorExitConfig, name string, v float64) {
	switch name {
	case "put_short_delta":
		entry.PutShortDelta = v
	case "put_long_delta":
		entry.PutLongDelta = v
	case "call_short_delta":
		entry.CallShortDelta = v
	case "call_long_delta":
		entry.CallLongDelta = v
	case "delta_tolerance":
		entry.DeltaTolerance = v
	case "min_dte":
		entry.MinDTE = int(v)
	case "max_dte":
		entry.MaxDTE = int(v)
	case "min_credit_per_spread":
		entry.MinCreditPerSpread = v
	case "max_wing_width":
		entry.MaxWingWidth = v
	case "min_iv_percentile":
		entry.MinIVPercentile = v
	case "max_iv_percentile":
		entry.MaxIVPercentile = v
	case "max_vix":
		entry.MaxVIX = v
	case "profit_target_pct":
		exit.ProfitTargetPct = v
	case "stop_loss_pct":
		exit.StopLossPct = v
	case "min_dte_exit":
		exit.MinDTEExit = int(v)
	case "breach_threshold_pct":
		exit.BreachThresholdPct = v
	}
}

// Evaluator maps assignments to backtest results: one assignment, one
// complete independent engine run.
type Evaluator struct {
	Spec   StrategySpec
	Config backtest.Config
	Data   backtest.DataSet
	Logger zerolog.Logger
}

// Evaluate runs one full backtest for the assignment.
func (ev *Evaluator) Evaluate(ctx context.Context, a Assignment) (*backtest.Result, error) {
	strat, err := BuildStrategy(ev.Spec, a)
	if err != nil {
		return nil, err
	}
	engine, err := backtest.NewEngine(ev.Config, ev.Logger)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, strat, ev.Data)
}

// EvaluateStaged runs the assignment over progressively longer
// prefixes of the date window, reporting the objective after each
// stage. report returning false aborts the trial (pruning). The final
// stage covers the full window and its result is returned.
func (ev *Evaluator) EvaluateStaged(ctx context.Context, a Assignment, stages int, metric string, report func(stage int, value float64) bool) (*backtest.Result, error) {
	if stages < 2 {
		return ev.Evaluate(ctx, a)
	}
	total := ev.Config.EndDate.Sub(ev.Config.StartDate)
	for stage := 1; stage < stages; stage++ {
		cfg := ev.Config
		cfg.EndDate = ev.Config.StartDate.Add(time.Duration(float64(total) * float64(stage) / float64(stages)))
		strat, err := BuildStrategy(ev.Spec, a)
		if err != nil {
			return nil, err
		}
		engine, err := backtest.NewEngine(cfg, ev.Logger)
		if err != nil {
			return nil, err
		}
		res, err := engine.Run(ctx, strat, ev.Data)
		if err != nil {
			// A short prefix with no tradable days is not a trial
			// failure; defer to the full-window run.
			continue
		}
		if !report(stage, objective(res.Metrics.Map(), metric)) {
			return nil, errors.ErrInterrupted
		}
	}
	return ev.Evaluate(ctx, a)
}

// objective extracts the optimization metric, mapping missing or NaN
// values to the sentinel. Infinite values pass through unchanged; the
// store sanitizes them at its own boundary.
func objective(metrics map[string]float64, name string) float64 {
	v, ok := metrics[name]
	if !ok || math.IsNaN(v) {
		return SentinelScore
	}
	return v
}
