// Package strategy implements the entry/exit decision model for
// multi-leg option strategies. Each variant implements the Strategy
// interface; decision methods are total over their inputs and return a
// nil signal (or zero contracts) for ordinary no-setup conditions.
// Only malformed configuration produces an error, at construction time.
package strategy

import (
	"time"

	"github.com/rcolo88/Trading-sub000/internal/errors"
	"github.com/rcolo88/Trading-sub000/internal/models"
)

// Type identifies a strategy family for sizing tables and parameter
// allow-lists.
type Type string

const (
	TypeVertical   Type = "vertical"
	TypeCalendar   Type = "calendar"
	TypeIronCondor Type = "iron_condor"
)

// Standard exit reasons. Variant-specific reasons are defined next to
// the variant that emits them.
const (
	ExitReasonDTE          = "dte_exit"
	ExitReasonProfitTarget = "profit_target"
	ExitReasonStopLoss     = "stop_loss"
	ExitReasonEndOfPeriod  = "end of backtest period"
)

// Strategy is the contract every variant implements.
//
// GenerateEntrySignal inspects one day's option-chain slice and returns
// an entry proposal, or nil when no acceptable setup exists.
//
// GenerateExitSignal reprices the open position from the day's chain
// (updating CurrentPrice and UnrealizedPnL as a side effect) and
// evaluates exit triggers in fixed priority: DTE floor, profit target,
// stop loss, then variant-specific early warnings. The first trigger
// that fires wins.
//
// CalculatePositionSize converts a risk budget into a whole contract
// count, returning 0 when the budget does not support one contract.
type Strategy interface {
	Name() string
	Type() Type
	GenerateEntrySignal(date time.Time, quotes []models.OptionQuote, underlying float64, mkt models.MarketContext) *models.Signal
	GenerateExitSignal(date time.Time, pos *models.Position, quotes []models.OptionQuote, underlying float64, mkt models.MarketContext) *models.Signal
	CalculatePositionSize(sig *models.Signal, accountValue float64, sizing SizingConfig) int

	// RiskProfile returns the max theoretical profit and loss of one
	// contract of the proposed structure, in dollars.
	RiskProfile(sig *models.Signal) (maxProfit, maxLoss float64)

	Registry() *PositionRegistry
}

// SizingConfig controls how a risk budget is derived from account value.
type SizingConfig struct {
	RiskPerTrade float64 `mapstructure:"risk_per_trade"`
	UseKelly     bool    `mapstructure:"use_kelly"`
	// KellyFractions maps a strategy type to its Kelly-derived risk
	// fraction; falls back to RiskPerTrade when the type is absent.
	KellyFractions map[string]float64 `mapstructure:"kelly_fractions"`
}

// Fraction returns the risk fraction to apply for the given strategy type.
func (s SizingConfig) Fraction(t Type) float64 {
	if s.UseKelly {
		if f, ok := s.KellyFractions[string(t)]; ok {
			return f
		}
	}
	return s.RiskPerTrade
}

// ExitConfig holds the exit triggers shared by every variant.
// StopLossPct must be negative: the trigger fires when unrealized P&L
// falls to StopLossPct times the position's max theoretical loss.
type ExitConfig struct {
	ProfitTargetPct float64 `mapstructure:"profit_target_pct"`
	StopLossPct     float64 `mapstructure:"stop_loss_pct"`
	MinDTEExit      int     `mapstructure:"min_dte_exit"`
}

func (c ExitConfig) validate() error {
	if c.ProfitTargetPct <= 0 || c.ProfitTargetPct > 1 {
		return errors.NewValidationError("exit.profit_target_pct", c.ProfitTargetPct, "must be in (0, 1]")
	}
	if c.StopLossPct >= 0 {
		return errors.NewValidationError("exit.stop_loss_pct", c.StopLossPct, "must be a negative fraction of max loss")
	}
	if c.MinDTEExit < 0 {
		return errors.NewValidationError("exit.min_dte_exit", c.MinDTEExit, "must be >= 0")
	}
	return nil
}

// sharedExit evaluates the trigger ladder common to all variants.
// Returns the reason of the first trigger that fires, or "".
func sharedExit(pos *models.Position, cfg ExitConfig, date time.Time) string {
	dte := daysUntil(date, pos.NearExpiration())
	if dte <= cfg.MinDTEExit {
		return ExitReasonDTE
	}
	if pos.MaxProfit > 0 && pos.UnrealizedPnL >= cfg.ProfitTargetPct*pos.MaxProfit {
		return ExitReasonProfitTarget
	}
	if pos.MaxLoss > 0 && pos.UnrealizedPnL <= cfg.StopLossPct*pos.MaxLoss {
		return ExitReasonStopLoss
	}
	return ""
}

// daysUntil returns calendar days from date to expiration, floored at 0.
func daysUntil(date, expiration time.Time) int {
	d := int(expiration.Sub(date).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// contractsFor converts a dollar budget into whole contracts given the
// max risk of one contract.
func contractsFor(budget, riskPerContract float64) int {
	if riskPerContract <= 0 || budget < riskPerContract {
		return 0
	}
	return int(budget / riskPerContract)
}
