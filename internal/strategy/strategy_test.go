package strategy

import (
	"testing"
	"time"

	"github.com/rcolo88/Trading-sub000/internal/models"
)

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func put(exp time.Time, dte int, strike, bid, ask, delta float64) models.OptionQuote {
	return models.OptionQuote{
		Expiration: exp, DTE: dte, Strike: strike,
		OptionType: models.OptionPut, Bid: bid, Ask: ask, Delta: -delta,
	}
}

func call(exp time.Time, dte int, strike, bid, ask, delta float64) models.OptionQuote {
	return models.OptionQuote{
		Expiration: exp, DTE: dte, Strike: strike,
		OptionType: models.OptionCall, Bid: bid, Ask: ask, Delta: delta,
	}
}

func testExitConfig() ExitConfig {
	return ExitConfig{ProfitTargetPct: 0.5, StopLossPct: -0.5, MinDTEExit: 7}
}

// bullPutPosition builds an open one-lot bull put 95/90 entered at a
// 0.90 credit (signed entry price -0.90).
func bullPutPosition(exp time.Time) *models.Position {
	return &models.Position{
		ID:         1,
		Strategy:   "vertical_bull_put",
		EntryPrice: -0.90,
		Contracts:  1,
		MaxProfit:  90,
		MaxLoss:    410,
		Legs: []models.Leg{
			{Strike: 95, OptionType: models.OptionPut, Direction: models.LegShort, Price: 1.90, Expiration: exp},
			{Strike: 90, OptionType: models.OptionPut, Direction: models.LegLong, Price: 1.00, Expiration: exp},
		},
	}
}

func TestExitTriggerPriority(t *testing.T) {
	v, err := NewVerticalSpread(VerticalEntryConfig{
		Direction: BullPut, ShortDelta: 0.30, LongDelta: 0.15,
		DeltaTolerance: 0.05, MinDTE: 30, MaxDTE: 60,
	}, testExitConfig())
	if err != nil {
		t.Fatalf("NewVerticalSpread: %v", err)
	}

	exp := day(2024, 3, 15)
	// Spread has decayed almost to zero: profit target territory.
	profitChain := []models.OptionQuote{
		put(exp, 0, 95, 0.15, 0.20, 0.05),
		put(exp, 0, 90, 0.05, 0.10, 0.02),
	}

	// 3 days to expiration: the DTE floor and the profit target both
	// hold, and the DTE floor must win.
	sig := v.GenerateExitSignal(day(2024, 3, 12), bullPutPosition(exp), profitChain, 100, models.MarketContext{})
	if sig == nil {
		t.Fatal("expected exit signal near expiration")
	}
	if sig.ExitReason != ExitReasonDTE {
		t.Errorf("expected %q to outrank profit target, got %q", ExitReasonDTE, sig.ExitReason)
	}

	// Same chain with plenty of time left: only the profit target fires.
	sig = v.GenerateExitSignal(day(2024, 2, 1), bullPutPosition(exp), profitChain, 100, models.MarketContext{})
	if sig == nil {
		t.Fatal("expected profit target exit")
	}
	if sig.ExitReason != ExitReasonProfitTarget {
		t.Errorf("expected %q, got %q", ExitReasonProfitTarget, sig.ExitReason)
	}

	// Spread blown out against us: liquidation value -4.50 means
	// unrealized -360, below -0.5 * 410.
	lossChain := []models.OptionQuote{
		put(exp, 42, 95, 4.80, 5.00, 0.75),
		put(exp, 42, 90, 0.50, 0.60, 0.40),
	}
	sig = v.GenerateExitSignal(day(2024, 2, 1), bullPutPosition(exp), lossChain, 91, models.MarketContext{})
	if sig == nil {
		t.Fatal("expected stop loss exit")
	}
	if sig.ExitReason != ExitReasonStopLoss {
		t.Errorf("expected %q, got %q", ExitReasonStopLoss, sig.ExitReason)
	}
}

func TestExitNoTrigger(t *testing.T) {
	v, err := NewVerticalSpread(VerticalEntryConfig{
		Direction: BullPut, ShortDelta: 0.30, LongDelta: 0.15,
		DeltaTolerance: 0.05, MinDTE: 30, MaxDTE: 60,
	}, testExitConfig())
	if err != nil {
		t.Fatalf("NewVerticalSpread: %v", err)
	}

	exp := day(2024, 3, 15)
	// Mild mark-to-market loss, nowhere near any trigger.
	chain := []models.OptionQuote{
		put(exp, 42, 95, 1.90, 2.00, 0.30),
		put(exp, 42, 90, 0.90, 1.00, 0.15),
	}
	pos := bullPutPosition(exp)
	sig := v.GenerateExitSignal(day(2024, 2, 1), pos, chain, 100, models.MarketContext{})
	if sig != nil {
		t.Fatalf("expected no exit, got %q", sig.ExitReason)
	}
	// Repricing must still have happened.
	if pos.CurrentPrice != -1.10 {
		t.Errorf("expected current price -1.10, got %.4f", pos.CurrentPrice)
	}
	if pos.UnrealizedPnL != -20 {
		t.Errorf("expected unrealized -20, got %.4f", pos.UnrealizedPnL)
	}
}

func TestExitConfigValidation(t *testing.T) {
	base := VerticalEntryConfig{
		Direction: BullPut, ShortDelta: 0.30, LongDelta: 0.15,
		DeltaTolerance: 0.05, MinDTE: 30, MaxDTE: 60,
	}

	// A positive stop loss fraction silently disables the stop, so
	// construction must reject it.
	_, err := NewVerticalSpread(base, ExitConfig{ProfitTargetPct: 0.5, StopLossPct: 0.5, MinDTEExit: 7})
	if err == nil {
		t.Fatal("expected error for positive stop_loss_pct")
	}

	_, err = NewVerticalSpread(base, ExitConfig{ProfitTargetPct: 1.5, StopLossPct: -0.5, MinDTEExit: 7})
	if err == nil {
		t.Fatal("expected error for profit_target_pct > 1")
	}

	_, err = NewVerticalSpread(base, ExitConfig{ProfitTargetPct: 0.5, StopLossPct: -0.5, MinDTEExit: -1})
	if err == nil {
		t.Fatal("expected error for negative min_dte_exit")
	}
}

func TestCalculatePositionSize(t *testing.T) {
	v, err := NewVerticalSpread(VerticalEntryConfig{
		Direction: BullPut, ShortDelta: 0.30, LongDelta: 0.15,
		DeltaTolerance: 0.05, MinDTE: 30, MaxDTE: 60,
	}, testExitConfig())
	if err != nil {
		t.Fatalf("NewVerticalSpread: %v", err)
	}

	sig := &models.Signal{ShortStrike: 95, LongStrike: 90, EntryPrice: 0.90}
	// Max loss per contract: (5 - 0.90) * 100 = 410. Budget 2% of
	// 100k = 2000 -> 4 contracts.
	if got := v.CalculatePositionSize(sig, 100000, SizingConfig{RiskPerTrade: 0.02}); got != 4 {
		t.Errorf("expected 4 contracts, got %d", got)
	}
	// Budget below one contract's risk -> zero, not a fractional trade.
	if got := v.CalculatePositionSize(sig, 10000, SizingConfig{RiskPerTrade: 0.02}); got != 0 {
		t.Errorf("expected 0 contracts on tiny budget, got %d", got)
	}
	// Kelly fraction overrides the flat fraction when enabled.
	sizing := SizingConfig{
		RiskPerTrade: 0.02, UseKelly: true,
		KellyFractions: map[string]float64{"vertical": 0.04},
	}
	if got := v.CalculatePositionSize(sig, 100000, sizing); got != 9 {
		t.Errorf("expected 9 contracts with kelly fraction, got %d", got)
	}
}
