// Package optimize searches strategy-parameter space for configurations
// that maximize a chosen performance metric, by exhaustive grid search
// with checkpoint/resume or by TPE-based Bayesian search.
package optimize

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rcolo88/Trading-sub000/internal/errors"
	"github.com/rcolo88/Trading-sub000/internal/strategy"
)

// SentinelScore is recorded for combinations whose backtest failed or
// produced a non-finite objective.
const SentinelScore = -999.0

// ParameterRange is one tunable knob: a name plus its discretized
// values.
type ParameterRange struct {
	Name   string
	Min    float64
	Max    float64
	Step   float64
	Values []float64
}

// NewParameterRange materializes the ordered value list for [min, max]
// with the given step.
func NewParameterRange(name string, min, max, step float64) (ParameterRange, error) {
	if name == "" {
		return ParameterRange{}, errors.NewValidationError("parameter.name", name, "must not be empty")
	}
	if step <= 0 {
		return ParameterRange{}, errors.NewValidationError("parameter.step", step, "must be > 0")
	}
	if max < min {
		return ParameterRange{}, errors.NewValidationError("parameter.max", max, "must be >= min")
	}
	var values []float64
	for v := min; v <= max+step/1e9; v += step {
		values = append(values, roundStep(v))
	}
	return ParameterRange{Name: name, Min: min, Max: max, Step: step, Values: values}, nil
}

// roundStep trims float accumulation noise from materialized values.
func roundStep(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

// Assignment maps parameter names to the values under test for one
// combination.
type Assignment map[string]float64

// Key builds the order-independent deduplication key: sorted
// name=value pairs.
func (a Assignment) Key() string {
	names := make([]string, 0, len(a))
	for n := range a {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%g", n, a[n])
	}
	return strings.Join(parts, ";")
}

// Clone copies the assignment.
func (a Assignment) Clone() Assignment {
	out := make(Assignment, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Section marks a parameter as belonging to the entry or exit config.
type Section string

const (
	SectionEntry Section = "entry"
	SectionExit  Section = "exit"
)

// allowedParams fixes, per strategy type, which parameter names may be
// searched and which config section each belongs to.
var allowedParams = map[strategy.Type]map[string]Section{
	strategy.TypeVertical: {
		"short_delta":       SectionEntry,
		"long_delta":        SectionEntry,
		"delta_tolerance":   SectionEntry,
		"dte":               SectionEntry,
		"min_dte":           SectionEntry,
		"max_dte":           SectionEntry,
		"min_credit":        SectionEntry,
		"max_width":         SectionEntry,
		"min_iv_percentile": SectionEntry,
		"max_iv_percentile": SectionEntry,
		"max_vix":           SectionEntry,
		"profit_target_pct": SectionExit,
		"stop_loss_pct":     SectionExit,
		"min_dte_exit":      SectionExit,
	},
	strategy.TypeCalendar: {
		"target_delta":      SectionEntry,
		"delta_tolerance":   SectionEntry,
		"near_dte":          SectionEntry,
		"near_min_dte":      SectionEntry,
		"near_max_dte":      SectionEntry,
		"far_dte":           SectionEntry,
		"far_min_dte":       SectionEntry,
		"far_max_dte":       SectionEntry,
		"max_debit":         SectionEntry,
		"max_vix":           SectionEntry,
		"profit_target_pct": SectionExit,
		"stop_loss_pct":     SectionExit,
		"min_dte_exit":      SectionExit,
		"max_drift_pct":     SectionExit,
	},
	strategy.TypeIronCondor: {
		"put_short_delta":       SectionEntry,
		"put_long_delta":        SectionEntry,
		"call_short_delta":      SectionEntry,
		"call_long_delta":       SectionEntry,
		"delta_tolerance":       SectionEntry,
		"dte":                   SectionEntry,
		"min_dte":               SectionEntry,
		"max_dte":               SectionEntry,
		"min_credit_per_spread": SectionEntry,
		"max_wing_width":        SectionEntry,
		"min_iv_percentile":     SectionEntry,
		"max_iv_percentile":     SectionEntry,
		"max_vix":               SectionEntry,
		"profit_target_pct":     SectionExit,
		"stop_loss_pct":         SectionExit,
		"min_dte_exit":          SectionExit,
		"breach_threshold_pct":  SectionExit,
	},
}

// expansions maps single intuitive knobs to the underlying config keys
// they set, per strategy type. An expanded knob sets every target key
// to the same value.
var expansions = map[strategy.Type]map[string][]string{
	strategy.TypeVertical: {
		"dte": {"min_dte", "max_dte"},
	},
	strategy.TypeCalendar: {
		"near_dte": {"near_min_dte", "near_max_dte"},
		"far_dte":  {"far_min_dte", "far_max_dte"},
	},
	strategy.TypeIronCondor: {
		"dte": {"min_dte", "max_dte"},
	},
}

// ValidateParameter checks a parameter name against the strategy
// type's allow-list, returning a ParameterError carrying the list on
// rejection.
func ValidateParameter(t strategy.Type, name string) error {
	allowed, ok := allowedParams[t]
	if !ok {
		return errors.Wrapf(errors.ErrUnknownStrategy, "strategy type %q", t)
	}
	if _, ok := allowed[name]; ok {
		return nil
	}
	names := make([]string, 0, len(allowed))
	for n := range allowed {
		names = append(names, n)
	}
	sort.Strings(names)
	return &errors.ParameterError{Name: name, Strategy: string(t), Allowed: names}
}

// expand applies the per-strategy expansion table, replacing intuitive
// single knobs with their underlying config keys.
func expand(t strategy.Type, a Assignment) Assignment {
	table := expansions[t]
	out := make(Assignment, len(a))
	for name, value := range a {
		if targets, ok := table[name]; ok {
			for _, target := range targets {
				out[target] = value
			}
			continue
		}
		out[name] = value
	}
	return out
}
