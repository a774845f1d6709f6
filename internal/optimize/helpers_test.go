package optimize

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcolo88/Trading-sub000/internal/backtest"
	"github.com/rcolo88/Trading-sub000/internal/models"
	"github.com/rcolo88/Trading-sub000/internal/strategy"
)

// fakeStore is an in-memory ResultStore for search tests.
type fakeStore struct {
	tables    map[string][]ResultRow
	saveCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: make(map[string][]ResultRow)}
}

func (s *fakeStore) SaveRows(table string, rows []ResultRow) error {
	s.saveCalls++
	s.tables[table] = append([]ResultRow(nil), rows...)
	return nil
}

func (s *fakeStore) LoadRows(table string) ([]ResultRow, error) {
	return append([]ResultRow(nil), s.tables[table]...), nil
}

func tradingDay(i int) time.Time {
	d := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			if i == 0 {
				return d
			}
			i--
		}
		d = d.AddDate(0, 0, 1)
	}
}

// searchFixture builds a small deterministic evaluator: ten trading
// days of a pinned bull-put chain, so every assignment in the test
// ranges backtests in microseconds.
func searchFixture(t *testing.T) *Evaluator {
	t.Helper()

	const days = 10
	start, end := tradingDay(0), tradingDay(days-1)
	exp := start.AddDate(0, 0, 45)

	data := backtest.DataSet{
		Chain:  make(map[time.Time][]models.OptionQuote),
		Prices: make(map[time.Time]models.DailyBar),
	}
	for i := 0; i < days; i++ {
		day := tradingDay(i)
		dte := int(exp.Sub(day).Hours() / 24)
		data.Chain[day] = []models.OptionQuote{
			{QuoteDate: day, Expiration: exp, DTE: dte, Strike: 95, OptionType: models.OptionPut,
				Bid: 1.90, Ask: 2.00, Delta: -0.30, UnderlyingPrice: 100, VIX: 15},
			{QuoteDate: day, Expiration: exp, DTE: dte, Strike: 90, OptionType: models.OptionPut,
				Bid: 0.90, Ask: 1.00, Delta: -0.15, UnderlyingPrice: 100, VIX: 15},
		}
		data.Prices[day] = models.DailyBar{Date: day, Close: 100}
	}

	return &Evaluator{
		Spec: StrategySpec{
			Type: strategy.TypeVertical,
			VerticalEntry: strategy.VerticalEntryConfig{
				Direction: strategy.BullPut, ShortDelta: 0.30, LongDelta: 0.15,
				DeltaTolerance: 0.05, MinDTE: 30, MaxDTE: 60, MinCredit: 0.50,
			},
			VerticalExit: strategy.ExitConfig{
				ProfitTargetPct: 0.5, StopLossPct: -0.5, MinDTEExit: 7,
			},
		},
		Config: backtest.Config{
			InitialCapital:   100000,
			StartDate:        start,
			EndDate:          end,
			MaxOpenPositions: 3,
			Sizing:           strategy.SizingConfig{RiskPerTrade: 0.02},
		},
		Data:   data,
		Logger: zerolog.Nop(),
	}
}

// gridValueSet collects the materialized values of each registered
// range, for membership checks on sampled assignments.
func gridValueSet(ranges []ParameterRange) map[string]map[float64]bool {
	out := make(map[string]map[float64]bool, len(ranges))
	for _, r := range ranges {
		set := make(map[float64]bool, len(r.Values))
		for _, v := range r.Values {
			set[v] = true
		}
		out[r.Name] = set
	}
	return out
}
