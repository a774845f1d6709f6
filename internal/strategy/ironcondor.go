package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/rcolo88/Trading-sub000/internal/errors"
	"github.com/rcolo88/Trading-sub000/internal/models"
)

// ExitReasonBreach marks a condor closed because the underlying came
// too close to a short strike.
const ExitReasonBreach = "short_strike_breach"

// IronCondorEntryConfig holds the entry gates for a four-leg condor:
// a credit put spread below the market and a credit call spread above.
type IronCondorEntryConfig struct {
	PutShortDelta      float64 `mapstructure:"put_short_delta"`
	PutLongDelta       float64 `mapstructure:"put_long_delta"`
	CallShortDelta     float64 `mapstructure:"call_short_delta"`
	CallLongDelta      float64 `mapstructure:"call_long_delta"`
	DeltaTolerance     float64 `mapstructure:"delta_tolerance"`
	MinDTE             int     `mapstructure:"min_dte"`
	MaxDTE             int     `mapstructure:"max_dte"`
	MinCreditPerSpread float64 `mapstructure:"min_credit_per_spread"`
	MaxWingWidth       float64 `mapstructure:"max_wing_width"`
	MinIVPercentile    float64 `mapstructure:"min_iv_percentile"`
	MaxIVPercentile    float64 `mapstructure:"max_iv_percentile"`
	MaxVIX             float64 `mapstructure:"max_vix"`
}

// IronCondorExitConfig extends the shared triggers with the short
// strike breach check.
type IronCondorExitConfig struct {
	ExitConfig         `mapstructure:",squash"`
	BreachThresholdPct float64 `mapstructure:"breach_threshold_pct"`
}

// IronCondor implements Strategy for the four-leg structure.
type IronCondor struct {
	entry    IronCondorEntryConfig
	exit     IronCondorExitConfig
	registry *PositionRegistry
}

// NewIronCondor validates the configuration and builds the strategy.
func NewIronCondor(entry IronCondorEntryConfig, exit IronCondorExitConfig) (*IronCondor, error) {
	for _, d := range []struct {
		field string
		value float64
	}{
		{"entry.put_short_delta", entry.PutShortDelta},
		{"entry.put_long_delta", entry.PutLongDelta},
		{"entry.call_short_delta", entry.CallShortDelta},
		{"entry.call_long_delta", entry.CallLongDelta},
	} {
		if d.value <= 0 || d.value >= 1 {
			return nil, errors.NewValidationError(d.field, d.value, "must be in (0, 1)")
		}
	}
	if entry.PutLongDelta >= entry.PutShortDelta {
		return nil, errors.NewValidationError("entry.put_long_delta", entry.PutLongDelta, "must be below put_short_delta (long wing further out of the money)")
	}
	if entry.CallLongDelta >= entry.CallShortDelta {
		return nil, errors.NewValidationError("entry.call_long_delta", entry.CallLongDelta, "must be below call_short_delta (long wing further out of the money)")
	}
	if entry.DeltaTolerance <= 0 {
		return nil, errors.NewValidationError("entry.delta_tolerance", entry.DeltaTolerance, "must be > 0")
	}
	if entry.MinDTE < 0 || entry.MaxDTE < entry.MinDTE {
		return nil, errors.NewValidationError("entry.min_dte/max_dte", fmt.Sprintf("%d/%d", entry.MinDTE, entry.MaxDTE), "need 0 <= min_dte <= max_dte")
	}
	if exit.BreachThresholdPct <= 0 {
		return nil, errors.NewValidationError("exit.breach_threshold_pct", exit.BreachThresholdPct, "must be > 0")
	}
	if err := exit.ExitConfig.validate(); err != nil {
		return nil, err
	}
	return &IronCondor{entry: entry, exit: exit, registry: NewPositionRegistry()}, nil
}

func (ic *IronCondor) Name() string { return "iron_condor" }

func (ic *IronCondor) Type() Type { return TypeIronCondor }

func (ic *IronCondor) Registry() *PositionRegistry { return ic.registry }

// GenerateEntrySignal locates all four strikes by delta, prices each
// credit spread separately, and rejects the setup when either side's
// credit falls below the per-spread minimum, even when every strike
// was found.
func (ic *IronCondor) GenerateEntrySignal(date time.Time, quotes []models.OptionQuote, underlying float64, mkt models.MarketContext) *models.Signal {
	if !ic.volatilityOK(mkt) {
		return nil
	}
	window := filterDTE(quotes, ic.entry.MinDTE, ic.entry.MaxDTE)
	exp, ok := nearestExpiration(window)
	if !ok {
		return nil
	}
	slice := forExpiration(window, exp)

	putShort, ok := findByDelta(slice, models.OptionPut, ic.entry.PutShortDelta, ic.entry.DeltaTolerance)
	if !ok {
		return nil
	}
	putLong, ok := findByDelta(slice, models.OptionPut, ic.entry.PutLongDelta, ic.entry.DeltaTolerance)
	if !ok || putLong.Strike >= putShort.Strike {
		return nil
	}
	callShort, ok := findByDelta(slice, models.OptionCall, ic.entry.CallShortDelta, ic.entry.DeltaTolerance)
	if !ok || callShort.Strike <= putShort.Strike {
		return nil
	}
	callLong, ok := findByDelta(slice, models.OptionCall, ic.entry.CallLongDelta, ic.entry.DeltaTolerance)
	if !ok || callLong.Strike <= callShort.Strike {
		return nil
	}

	putWidth := putShort.Strike - putLong.Strike
	callWidth := callLong.Strike - callShort.Strike
	if ic.entry.MaxWingWidth > 0 && (putWidth > ic.entry.MaxWingWidth || callWidth > ic.entry.MaxWingWidth) {
		return nil
	}

	putCredit := putShort.Bid - putLong.Ask
	callCredit := callShort.Bid - callLong.Ask
	if putCredit < ic.entry.MinCreditPerSpread || callCredit < ic.entry.MinCreditPerSpread {
		return nil
	}
	totalCredit := putCredit + callCredit
	if totalCredit <= 0 {
		return nil
	}

	return &models.Signal{
		Kind:            models.SignalEntry,
		Date:            date,
		PutLongStrike:   putLong.Strike,
		PutShortStrike:  putShort.Strike,
		CallShortStrike: callShort.Strike,
		CallLongStrike:  callLong.Strike,
		DTE:             putShort.DTE,
		EntryPrice:      totalCredit,
		Legs: []models.LegSpec{
			{Strike: putLong.Strike, OptionType: models.OptionPut, Direction: models.LegLong, Expiration: exp},
			{Strike: putShort.Strike, OptionType: models.OptionPut, Direction: models.LegShort, Expiration: exp},
			{Strike: callShort.Strike, OptionType: models.OptionCall, Direction: models.LegShort, Expiration: exp},
			{Strike: callLong.Strike, OptionType: models.OptionCall, Direction: models.LegLong, Expiration: exp},
		},
		Notes: fmt.Sprintf("put credit=%.2f call credit=%.2f", putCredit, callCredit),
	}
}

// GenerateExitSignal walks the shared ladder, then checks whether the
// underlying is within the breach threshold of either short strike.
func (ic *IronCondor) GenerateExitSignal(date time.Time, pos *models.Position, quotes []models.OptionQuote, underlying float64, mkt models.MarketContext) *models.Signal {
	reprice(pos, quotes)
	if reason := sharedExit(pos, ic.exit.ExitConfig, date); reason != "" {
		return models.NewExitSignal(date, reason)
	}
	for _, leg := range pos.Legs {
		if leg.Direction != models.LegShort {
			continue
		}
		if math.Abs(underlying-leg.Strike)/leg.Strike <= ic.exit.BreachThresholdPct {
			return models.NewExitSignal(date, ExitReasonBreach)
		}
	}
	return nil
}

// CalculatePositionSize divides the risk budget by the condor's max
// risk per contract: widest wing minus total credit.
func (ic *IronCondor) CalculatePositionSize(sig *models.Signal, accountValue float64, sizing SizingConfig) int {
	_, maxLoss := ic.RiskProfile(sig)
	budget := accountValue * sizing.Fraction(ic.Type())
	return contractsFor(budget, maxLoss)
}

// RiskProfile derives per-contract bounds from the wing widths and the
// total credit.
func (ic *IronCondor) RiskProfile(sig *models.Signal) (float64, float64) {
	putWidth := sig.PutShortStrike - sig.PutLongStrike
	callWidth := sig.CallLongStrike - sig.CallShortStrike
	widest := math.Max(putWidth, callWidth)
	maxProfit := sig.EntryPrice * models.ContractMultiplier
	maxLoss := (widest - sig.EntryPrice) * models.ContractMultiplier
	return maxProfit, maxLoss
}

func (ic *IronCondor) volatilityOK(mkt models.MarketContext) bool {
	if ic.entry.MaxVIX > 0 && mkt.VIX > ic.entry.MaxVIX {
		return false
	}
	if ic.entry.MinIVPercentile > 0 && mkt.IVPercentile < ic.entry.MinIVPercentile {
		return false
	}
	if ic.entry.MaxIVPercentile > 0 && mkt.IVPercentile > ic.entry.MaxIVPercentile {
		return false
	}
	return true
}
