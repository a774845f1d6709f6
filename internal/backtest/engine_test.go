package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcolo88/Trading-sub000/internal/errors"
	"github.com/rcolo88/Trading-sub000/internal/models"
	"github.com/rcolo88/Trading-sub000/internal/strategy"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

// weekdaysFrom enumerates the first n weekdays starting at start.
func weekdaysFrom(start time.Time, n int) []time.Time {
	var days []time.Time
	for d := start; len(days) < n; d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, d)
	}
	return days
}

// bullPutData builds a deterministic dataset: one fixed expiration 45
// calendar days past start, constant put prices, underlying pinned at
// 100. The 95/90 spread enters at a 0.90 credit and liquidates at 1.10
// every day.
func bullPutData(days []time.Time) DataSet {
	exp := Day(days[0]).AddDate(0, 0, 45)
	data := DataSet{
		Chain:  make(map[time.Time][]models.OptionQuote),
		Prices: make(map[time.Time]models.DailyBar),
	}
	for _, d := range days {
		day := Day(d)
		dte := int(exp.Sub(day).Hours() / 24)
		data.Chain[day] = []models.OptionQuote{
			{QuoteDate: day, Expiration: exp, DTE: dte, Strike: 95, OptionType: models.OptionPut,
				Bid: 1.90, Ask: 2.00, Delta: -0.30, UnderlyingPrice: 100, VIX: 15},
			{QuoteDate: day, Expiration: exp, DTE: dte, Strike: 90, OptionType: models.OptionPut,
				Bid: 0.90, Ask: 1.00, Delta: -0.15, UnderlyingPrice: 100, VIX: 15},
		}
		data.Prices[day] = models.DailyBar{Date: day, Close: 100}
	}
	return data
}

func bullPutStrategy(t *testing.T) strategy.Strategy {
	t.Helper()
	strat, err := strategy.NewVerticalSpread(strategy.VerticalEntryConfig{
		Direction: strategy.BullPut, ShortDelta: 0.30, LongDelta: 0.15,
		DeltaTolerance: 0.05, MinDTE: 30, MaxDTE: 60, MinCredit: 0.50,
	}, strategy.ExitConfig{ProfitTargetPct: 0.5, StopLossPct: -0.5, MinDTEExit: 7})
	if err != nil {
		t.Fatalf("building strategy: %v", err)
	}
	return strat
}

func testConfig(days []time.Time) Config {
	return Config{
		InitialCapital:   100000,
		StartDate:        days[0],
		EndDate:          days[len(days)-1],
		MaxOpenPositions: 3,
		Sizing:           strategy.SizingConfig{RiskPerTrade: 0.02},
	}
}

// dteEligibleDays counts fixture days still inside the 30..60 entry
// window.
func dteEligibleDays(days []time.Time) int {
	exp := Day(days[0]).AddDate(0, 0, 45)
	n := 0
	for _, d := range days {
		dte := int(exp.Sub(Day(d)).Hours() / 24)
		if dte >= 30 && dte <= 60 {
			n++
		}
	}
	return n
}

func TestRunForceClosesAndBalances(t *testing.T) {
	days := weekdaysFrom(date(2024, 1, 1), 10)
	data := bullPutData(days)
	engine, err := NewEngine(testConfig(days), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	res, err := engine.Run(context.Background(), bullPutStrategy(t), data)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Cap of 3 with no exit triggers: three openings, then blocked.
	if len(res.Trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(res.Trades))
	}
	for _, tr := range res.Trades {
		if tr.ExitReason != strategy.ExitReasonEndOfPeriod {
			t.Errorf("expected end-of-period close, got %q", tr.ExitReason)
		}
		// 4 contracts: floor(2000 / 410). Entry -0.90, exit -1.10.
		if tr.Contracts != 4 {
			t.Errorf("expected 4 contracts, got %d", tr.Contracts)
		}
		if math.Abs(tr.RealizedPnL-(-80)) > 1e-6 {
			t.Errorf("expected realized -80, got %.4f", tr.RealizedPnL)
		}
	}
	if res.Metrics.BlockedByCapDays != len(days)-3 {
		t.Errorf("expected %d blocked days, got %d", len(days)-3, res.Metrics.BlockedByCapDays)
	}

	// Final equity settles flat: no open positions, no unrealized.
	last := res.EquityCurve[len(res.EquityCurve)-1]
	if last.OpenPositions != 0 || last.UnrealizedPnL != 0 {
		t.Errorf("expected flat final entry, got %+v", last)
	}
	if math.Abs(last.TotalValue-last.AccountValue) > 1e-9 {
		t.Error("final total and account value must agree")
	}
	want := 100000.0 - 3*80
	if math.Abs(last.TotalValue-want) > 1e-6 {
		t.Errorf("expected final value %.2f, got %.2f", want, last.TotalValue)
	}
	if math.Abs(res.Metrics.FinalValue-want) > 1e-6 {
		t.Errorf("metrics final value %.2f, want %.2f", res.Metrics.FinalValue, want)
	}
}

func TestRunEquityIdentity(t *testing.T) {
	days := weekdaysFrom(date(2024, 1, 1), 10)
	data := bullPutData(days)
	engine, err := NewEngine(testConfig(days), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	res, err := engine.Run(context.Background(), bullPutStrategy(t), data)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.EquityCurve) != len(days) {
		t.Fatalf("expected %d curve entries, got %d", len(days), len(res.EquityCurve))
	}
	for _, e := range res.EquityCurve {
		if math.Abs(e.TotalValue-(e.AccountValue+e.UnrealizedPnL)) > 1e-9 {
			t.Errorf("%s: total %.4f != account %.4f + unrealized %.4f",
				e.Date.Format("2006-01-02"), e.TotalValue, e.AccountValue, e.UnrealizedPnL)
		}
	}
}

func TestRunOneEntryPerDay(t *testing.T) {
	days := weekdaysFrom(date(2024, 1, 1), 10)
	data := bullPutData(days)
	cfg := testConfig(days)
	cfg.MaxOpenPositions = 100 // cap never binds
	engine, err := NewEngine(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	res, err := engine.Run(context.Background(), bullPutStrategy(t), data)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Every eligible day opens exactly one position, never more.
	want := dteEligibleDays(days)
	if len(res.Trades) != want {
		t.Errorf("expected %d trades (one per eligible day), got %d", want, len(res.Trades))
	}
	opened := make(map[time.Time]int)
	for _, tr := range res.Trades {
		opened[tr.EntryDate]++
	}
	for d, n := range opened {
		if n > 1 {
			t.Errorf("%s opened %d positions", d.Format("2006-01-02"), n)
		}
	}
}

func TestRunCommissionAccounting(t *testing.T) {
	days := weekdaysFrom(date(2024, 1, 1), 5)
	data := bullPutData(days)
	cfg := testConfig(days)
	cfg.MaxOpenPositions = 1
	cfg.CommissionPerContract = 0.65
	engine, err := NewEngine(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	res, err := engine.Run(context.Background(), bullPutStrategy(t), data)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}

	tr := res.Trades[0]
	// 4 contracts, 2 legs: 0.65 * 4 * 2 = 5.20 per side.
	if math.Abs(tr.Commission-5.20) > 1e-9 {
		t.Errorf("expected exit commission 5.20, got %.4f", tr.Commission)
	}
	if math.Abs(tr.NetPnL-(tr.RealizedPnL-5.20)) > 1e-9 {
		t.Error("net P&L must be realized minus exit commission")
	}
	// Entry and exit commissions both hit the account.
	want := 100000.0 - 80 - 2*5.20
	last := res.EquityCurve[len(res.EquityCurve)-1]
	if math.Abs(last.TotalValue-want) > 1e-6 {
		t.Errorf("expected final value %.2f, got %.2f", want, last.TotalValue)
	}
}

func TestRunMissingDays(t *testing.T) {
	days := weekdaysFrom(date(2024, 1, 1), 10)
	missing := Day(days[4])

	t.Run("skip", func(t *testing.T) {
		data := bullPutData(days)
		delete(data.Chain, missing)
		engine, _ := NewEngine(testConfig(days), zerolog.Nop())
		res, err := engine.Run(context.Background(), bullPutStrategy(t), data)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Metrics.SkippedDays != 1 {
			t.Errorf("expected 1 skipped day, got %d", res.Metrics.SkippedDays)
		}
		if len(res.EquityCurve) != len(days)-1 {
			t.Errorf("expected %d curve entries, got %d", len(days)-1, len(res.EquityCurve))
		}
	})

	t.Run("carry forward", func(t *testing.T) {
		data := bullPutData(days)
		delete(data.Chain, missing)
		cfg := testConfig(days)
		cfg.CarryForwardMissingDays = true
		engine, _ := NewEngine(cfg, zerolog.Nop())
		res, err := engine.Run(context.Background(), bullPutStrategy(t), data)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(res.EquityCurve) != len(days) {
			t.Fatalf("expected %d curve entries, got %d", len(days), len(res.EquityCurve))
		}
		var carried, prev *models.EquityCurveEntry
		for i := range res.EquityCurve {
			if res.EquityCurve[i].Date.Equal(missing) {
				carried = &res.EquityCurve[i]
				prev = &res.EquityCurve[i-1]
			}
		}
		if carried == nil {
			t.Fatal("missing day absent from curve")
		}
		if math.Abs(carried.TotalValue-prev.TotalValue) > 1e-9 {
			t.Errorf("expected carried total %.2f, got %.2f", prev.TotalValue, carried.TotalValue)
		}
	})
}

func TestRunEmptyOverlap(t *testing.T) {
	days := weekdaysFrom(date(2024, 1, 1), 10)
	data := bullPutData(days)

	cfg := testConfig(days)
	cfg.StartDate = date(2023, 1, 2)
	cfg.EndDate = date(2023, 6, 30)
	engine, err := NewEngine(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	_, err = engine.Run(context.Background(), bullPutStrategy(t), data)
	if err == nil {
		t.Fatal("expected empty-overlap error")
	}
	if !errors.Is(err, errors.ErrEmptyDateOverlap) {
		t.Errorf("expected ErrEmptyDateOverlap, got %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	days := weekdaysFrom(date(2024, 1, 1), 10)
	data := bullPutData(days)
	engine, _ := NewEngine(testConfig(days), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Run(ctx, bullPutStrategy(t), data); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestConfigValidate(t *testing.T) {
	days := weekdaysFrom(date(2024, 1, 1), 5)
	base := testConfig(days)

	bad := base
	bad.InitialCapital = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero capital")
	}

	bad = base
	bad.EndDate = base.StartDate.AddDate(0, 0, -7)
	if err := bad.Validate(); err == nil {
		t.Error("expected error for inverted window")
	}

	bad = base
	bad.MaxOpenPositions = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero position cap")
	}
}
