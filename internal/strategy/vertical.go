package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/rcolo88/Trading-sub000/internal/errors"
	"github.com/rcolo88/Trading-sub000/internal/models"
)

// VerticalDirection selects one of the four directional configurations
// of a two-leg vertical spread.
type VerticalDirection string

const (
	BullPut  VerticalDirection = "bull_put"  // credit, puts
	BearCall VerticalDirection = "bear_call" // credit, calls
	BullCall VerticalDirection = "bull_call" // debit, calls
	BearPut  VerticalDirection = "bear_put"  // debit, puts
)

// VerticalEntryConfig holds the entry gates for a vertical spread.
type VerticalEntryConfig struct {
	Direction       VerticalDirection `mapstructure:"direction"`
	ShortDelta      float64           `mapstructure:"short_delta"`
	LongDelta       float64           `mapstructure:"long_delta"`
	DeltaTolerance  float64           `mapstructure:"delta_tolerance"`
	MinDTE          int               `mapstructure:"min_dte"`
	MaxDTE          int               `mapstructure:"max_dte"`
	MinCredit       float64           `mapstructure:"min_credit"`
	MaxWidth        float64           `mapstructure:"max_width"`
	MinIVPercentile float64           `mapstructure:"min_iv_percentile"`
	MaxIVPercentile float64           `mapstructure:"max_iv_percentile"`
	MaxVIX          float64           `mapstructure:"max_vix"`
}

// VerticalSpread implements Strategy for two-leg verticals.
type VerticalSpread struct {
	entry    VerticalEntryConfig
	exit     ExitConfig
	registry *PositionRegistry
}

// NewVerticalSpread validates the configuration and builds the strategy.
func NewVerticalSpread(entry VerticalEntryConfig, exit ExitConfig) (*VerticalSpread, error) {
	switch entry.Direction {
	case BullPut, BearCall, BullCall, BearPut:
	default:
		return nil, errors.NewValidationError("entry.direction", entry.Direction, "must be one of bull_put, bear_call, bull_call, bear_put")
	}
	if entry.ShortDelta <= 0 || entry.ShortDelta >= 1 {
		return nil, errors.NewValidationError("entry.short_delta", entry.ShortDelta, "must be in (0, 1)")
	}
	if entry.LongDelta <= 0 || entry.LongDelta >= 1 {
		return nil, errors.NewValidationError("entry.long_delta", entry.LongDelta, "must be in (0, 1)")
	}
	if entry.DeltaTolerance <= 0 {
		return nil, errors.NewValidationError("entry.delta_tolerance", entry.DeltaTolerance, "must be > 0")
	}
	if entry.MinDTE < 0 || entry.MaxDTE < entry.MinDTE {
		return nil, errors.NewValidationError("entry.min_dte/max_dte", fmt.Sprintf("%d/%d", entry.MinDTE, entry.MaxDTE), "need 0 <= min_dte <= max_dte")
	}
	if err := exit.validate(); err != nil {
		return nil, err
	}
	return &VerticalSpread{entry: entry, exit: exit, registry: NewPositionRegistry()}, nil
}

func (v *VerticalSpread) Name() string {
	return fmt.Sprintf("vertical_%s", v.entry.Direction)
}

func (v *VerticalSpread) Type() Type { return TypeVertical }

func (v *VerticalSpread) Registry() *PositionRegistry { return v.registry }

func (v *VerticalSpread) isCredit() bool {
	return v.entry.Direction == BullPut || v.entry.Direction == BearCall
}

func (v *VerticalSpread) optionType() models.OptionType {
	if v.entry.Direction == BullPut || v.entry.Direction == BearPut {
		return models.OptionPut
	}
	return models.OptionCall
}

// GenerateEntrySignal selects both strikes by delta targeting within the
// configured DTE window, prices the spread at bid/ask, and applies the
// credit/width/volatility gates. Any failed step yields nil.
func (v *VerticalSpread) GenerateEntrySignal(date time.Time, quotes []models.OptionQuote, underlying float64, mkt models.MarketContext) *models.Signal {
	if !v.volatilityOK(mkt) {
		return nil
	}
	window := filterDTE(quotes, v.entry.MinDTE, v.entry.MaxDTE)
	exp, ok := nearestExpiration(window)
	if !ok {
		return nil
	}
	slice := forExpiration(window, exp)

	optType := v.optionType()
	short, ok := findByDelta(slice, optType, v.entry.ShortDelta, v.entry.DeltaTolerance)
	if !ok {
		return nil
	}
	long, ok := findByDelta(slice, optType, v.entry.LongDelta, v.entry.DeltaTolerance)
	if !ok || long.Strike == short.Strike {
		return nil
	}

	width := math.Abs(short.Strike - long.Strike)
	if v.entry.MaxWidth > 0 && width > v.entry.MaxWidth {
		return nil
	}

	var netPrice float64
	if v.isCredit() {
		netPrice = short.Bid - long.Ask
		if netPrice < v.entry.MinCredit || netPrice <= 0 {
			return nil
		}
	} else {
		netPrice = long.Ask - short.Bid
		// A debit at or above the width cannot profit.
		if netPrice <= 0 || netPrice >= width {
			return nil
		}
	}

	sig := &models.Signal{
		Kind:        models.SignalEntry,
		Date:        date,
		ShortStrike: short.Strike,
		LongStrike:  long.Strike,
		DTE:         short.DTE,
		EntryPrice:  netPrice,
		Legs: []models.LegSpec{
			{Strike: short.Strike, OptionType: optType, Direction: models.LegShort, Expiration: exp},
			{Strike: long.Strike, OptionType: optType, Direction: models.LegLong, Expiration: exp},
		},
		Notes: fmt.Sprintf("%s width=%.2f", v.entry.Direction, width),
	}
	if optType == models.OptionPut {
		sig.PutShortStrike = short.Strike
		sig.PutLongStrike = long.Strike
	} else {
		sig.CallShortStrike = short.Strike
		sig.CallLongStrike = long.Strike
	}
	return sig
}

// GenerateExitSignal reprices the legs and walks the shared trigger
// ladder. Max profit/loss come from entry price and strike width only.
func (v *VerticalSpread) GenerateExitSignal(date time.Time, pos *models.Position, quotes []models.OptionQuote, underlying float64, mkt models.MarketContext) *models.Signal {
	reprice(pos, quotes)
	if reason := sharedExit(pos, v.exit, date); reason != "" {
		return models.NewExitSignal(date, reason)
	}
	return nil
}

// CalculatePositionSize divides the risk budget by the spread's max
// risk per contract.
func (v *VerticalSpread) CalculatePositionSize(sig *models.Signal, accountValue float64, sizing SizingConfig) int {
	_, maxLoss := v.RiskProfile(sig)
	budget := accountValue * sizing.Fraction(v.Type())
	return contractsFor(budget, maxLoss)
}

// RiskProfile derives per-contract bounds from width and entry price.
func (v *VerticalSpread) RiskProfile(sig *models.Signal) (float64, float64) {
	width := math.Abs(sig.ShortStrike - sig.LongStrike)
	if v.isCredit() {
		maxProfit := sig.EntryPrice * models.ContractMultiplier
		maxLoss := (width - sig.EntryPrice) * models.ContractMultiplier
		return maxProfit, maxLoss
	}
	maxProfit := (width - sig.EntryPrice) * models.ContractMultiplier
	maxLoss := sig.EntryPrice * models.ContractMultiplier
	return maxProfit, maxLoss
}

func (v *VerticalSpread) volatilityOK(mkt models.MarketContext) bool {
	if v.entry.MaxVIX > 0 && mkt.VIX > v.entry.MaxVIX {
		return false
	}
	if v.entry.MinIVPercentile > 0 && mkt.IVPercentile < v.entry.MinIVPercentile {
		return false
	}
	if v.entry.MaxIVPercentile > 0 && mkt.IVPercentile > v.entry.MaxIVPercentile {
		return false
	}
	return true
}
