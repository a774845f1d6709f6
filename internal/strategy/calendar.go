package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/rcolo88/Trading-sub000/internal/errors"
	"github.com/rcolo88/Trading-sub000/internal/models"
)

// ExitReasonStrikeDrift marks a calendar closed because the underlying
// moved too far from the strike.
const ExitReasonStrikeDrift = "strike_drift"

// CalendarEntryConfig holds the entry gates for a calendar spread:
// sell the near expiration, buy the far one, same strike.
type CalendarEntryConfig struct {
	OptionType     models.OptionType `mapstructure:"option_type"`
	TargetDelta    float64           `mapstructure:"target_delta"`
	DeltaTolerance float64           `mapstructure:"delta_tolerance"`
	NearMinDTE     int               `mapstructure:"near_min_dte"`
	NearMaxDTE     int               `mapstructure:"near_max_dte"`
	FarMinDTE      int               `mapstructure:"far_min_dte"`
	FarMaxDTE      int               `mapstructure:"far_max_dte"`
	MaxDebit       float64           `mapstructure:"max_debit"`
	MaxVIX         float64           `mapstructure:"max_vix"`
}

// CalendarExitConfig extends the shared triggers with the drift check.
type CalendarExitConfig struct {
	ExitConfig  `mapstructure:",squash"`
	MaxDriftPct float64 `mapstructure:"max_drift_pct"`
}

// CalendarSpread implements Strategy for same-strike, two-expiration
// structures.
type CalendarSpread struct {
	entry    CalendarEntryConfig
	exit     CalendarExitConfig
	registry *PositionRegistry
}

// NewCalendarSpread validates the configuration and builds the strategy.
func NewCalendarSpread(entry CalendarEntryConfig, exit CalendarExitConfig) (*CalendarSpread, error) {
	if entry.OptionType != models.OptionPut && entry.OptionType != models.OptionCall {
		return nil, errors.NewValidationError("entry.option_type", entry.OptionType, "must be put or call")
	}
	if entry.TargetDelta <= 0 || entry.TargetDelta >= 1 {
		return nil, errors.NewValidationError("entry.target_delta", entry.TargetDelta, "must be in (0, 1)")
	}
	if entry.DeltaTolerance <= 0 {
		return nil, errors.NewValidationError("entry.delta_tolerance", entry.DeltaTolerance, "must be > 0")
	}
	if entry.NearMinDTE < 0 || entry.NearMaxDTE < entry.NearMinDTE {
		return nil, errors.NewValidationError("entry.near_min_dte/near_max_dte", fmt.Sprintf("%d/%d", entry.NearMinDTE, entry.NearMaxDTE), "need 0 <= min <= max")
	}
	if entry.FarMinDTE <= entry.NearMaxDTE || entry.FarMaxDTE < entry.FarMinDTE {
		return nil, errors.NewValidationError("entry.far_min_dte/far_max_dte", fmt.Sprintf("%d/%d", entry.FarMinDTE, entry.FarMaxDTE), "far window must begin after the near window ends")
	}
	if exit.MaxDriftPct <= 0 {
		return nil, errors.NewValidationError("exit.max_drift_pct", exit.MaxDriftPct, "must be > 0")
	}
	if err := exit.ExitConfig.validate(); err != nil {
		return nil, err
	}
	return &CalendarSpread{entry: entry, exit: exit, registry: NewPositionRegistry()}, nil
}

func (c *CalendarSpread) Name() string {
	return fmt.Sprintf("calendar_%s", c.entry.OptionType)
}

func (c *CalendarSpread) Type() Type { return TypeCalendar }

func (c *CalendarSpread) Registry() *PositionRegistry { return c.registry }

// GenerateEntrySignal picks a strike by delta in the near window, then
// requires the same strike to trade in the far window. The signal
// reuses short/long strike equal to each other as the calendar marker.
func (c *CalendarSpread) GenerateEntrySignal(date time.Time, quotes []models.OptionQuote, underlying float64, mkt models.MarketContext) *models.Signal {
	if c.entry.MaxVIX > 0 && mkt.VIX > c.entry.MaxVIX {
		return nil
	}
	nearWindow := filterDTE(quotes, c.entry.NearMinDTE, c.entry.NearMaxDTE)
	nearExp, ok := nearestExpiration(nearWindow)
	if !ok {
		return nil
	}
	near, ok := findByDelta(forExpiration(nearWindow, nearExp), c.entry.OptionType, c.entry.TargetDelta, c.entry.DeltaTolerance)
	if !ok {
		return nil
	}

	farWindow := filterDTE(quotes, c.entry.FarMinDTE, c.entry.FarMaxDTE)
	farExp, ok := nearestExpiration(farWindow)
	if !ok {
		return nil
	}
	far, ok := quoteFor(farWindow, farExp, near.Strike, c.entry.OptionType)
	if !ok {
		return nil
	}

	debit := far.Ask - near.Bid
	if debit <= 0 {
		return nil
	}
	if c.entry.MaxDebit > 0 && debit > c.entry.MaxDebit {
		return nil
	}

	return &models.Signal{
		Kind:           models.SignalEntry,
		Date:           date,
		ShortStrike:    near.Strike,
		LongStrike:     near.Strike,
		DTE:            near.DTE,
		NearExpiration: nearExp,
		FarExpiration:  farExp,
		EntryPrice:     debit,
		Legs: []models.LegSpec{
			{Strike: near.Strike, OptionType: c.entry.OptionType, Direction: models.LegShort, Expiration: nearExp},
			{Strike: near.Strike, OptionType: c.entry.OptionType, Direction: models.LegLong, Expiration: farExp},
		},
		Notes: fmt.Sprintf("calendar %s near=%s far=%s", c.entry.OptionType,
			nearExp.Format("2006-01-02"), farExp.Format("2006-01-02")),
	}
}

// GenerateExitSignal walks the shared ladder, then the drift trigger.
func (c *CalendarSpread) GenerateExitSignal(date time.Time, pos *models.Position, quotes []models.OptionQuote, underlying float64, mkt models.MarketContext) *models.Signal {
	reprice(pos, quotes)
	if reason := sharedExit(pos, c.exit.ExitConfig, date); reason != "" {
		return models.NewExitSignal(date, reason)
	}
	strike := pos.Legs[0].Strike
	if strike > 0 && math.Abs(underlying-strike)/strike >= c.exit.MaxDriftPct {
		return models.NewExitSignal(date, ExitReasonStrikeDrift)
	}
	return nil
}

// CalculatePositionSize treats the full debit as the risk per contract.
func (c *CalendarSpread) CalculatePositionSize(sig *models.Signal, accountValue float64, sizing SizingConfig) int {
	_, maxLoss := c.RiskProfile(sig)
	budget := accountValue * sizing.Fraction(c.Type())
	return contractsFor(budget, maxLoss)
}

// RiskProfile bounds a calendar by its debit in both directions. The
// true max profit depends on volatility at the near expiration; the
// debit is used as a conservative stand-in for the profit target.
func (c *CalendarSpread) RiskProfile(sig *models.Signal) (float64, float64) {
	debit := sig.EntryPrice * models.ContractMultiplier
	return debit, debit
}
