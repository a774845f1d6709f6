// Package backtest provides the daily event-driven simulation engine.
// It consumes one strategy and two time series (option chain and
// underlying prices) and produces an equity curve and a trade ledger.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcolo88/Trading-sub000/internal/errors"
	"github.com/rcolo88/Trading-sub000/internal/logging"
	"github.com/rcolo88/Trading-sub000/internal/models"
	"github.com/rcolo88/Trading-sub000/internal/strategy"
)

// Config holds the global backtest configuration.
type Config struct {
	InitialCapital        float64               `mapstructure:"initial_capital"`
	StartDate             time.Time             `mapstructure:"start_date"`
	EndDate               time.Time             `mapstructure:"end_date"`
	CommissionPerContract float64               `mapstructure:"commission_per_contract"`
	MaxOpenPositions      int                   `mapstructure:"max_open_positions"`
	Sizing                strategy.SizingConfig `mapstructure:"sizing"`

	// CarryForwardMissingDays records an equity entry carrying the
	// previous day's total on days absent from either series, instead
	// of skipping them silently.
	CarryForwardMissingDays bool `mapstructure:"carry_forward_missing_days"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return errors.NewValidationError("initial_capital", c.InitialCapital, "must be positive")
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return errors.NewValidationError("start_date/end_date", "", "both dates are required")
	}
	if c.EndDate.Before(c.StartDate) {
		return errors.NewValidationError("end_date", c.EndDate, "must not be before start_date")
	}
	if c.MaxOpenPositions <= 0 {
		return errors.NewValidationError("max_open_positions", c.MaxOpenPositions, "must be >= 1")
	}
	if c.CommissionPerContract < 0 {
		return errors.NewValidationError("commission_per_contract", c.CommissionPerContract, "must be >= 0")
	}
	return nil
}

// DataSet bundles the two input series, keyed by trading day
// (midnight UTC).
type DataSet struct {
	Chain  map[time.Time][]models.OptionQuote
	Prices map[time.Time]models.DailyBar
}

// Day normalizes a timestamp to its trading-day key.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// dateBounds returns the min and max keys of a date-keyed map.
func dateBounds[V any](m map[time.Time]V) (time.Time, time.Time, bool) {
	var min, max time.Time
	for d := range m {
		if min.IsZero() || d.Before(min) {
			min = d
		}
		if d.After(max) {
			max = d
		}
	}
	return min, max, !min.IsZero()
}

// Result is the output of one backtest run.
type Result struct {
	EquityCurve []models.EquityCurveEntry
	Trades      []models.TradeRecord
	Metrics     Metrics
}

// Engine runs the daily simulation loop.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(cfg Config, logger zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// Run simulates the strategy day by day over the overlap of the
// configured window and both series. Exits are evaluated before
// entries; at most one position is opened per day; remaining open
// positions are force-closed at the last known price when the window
// is exhausted.
func (e *Engine) Run(ctx context.Context, strat strategy.Strategy, data DataSet) (*Result, error) {
	days, err := e.tradingDays(data)
	if err != nil {
		return nil, err
	}

	logger := logging.WithStrategy(e.logger, strat.Name())

	accountValue := e.cfg.InitialCapital
	var (
		curve       []models.EquityCurveEntry
		trades      []models.TradeRecord
		noSignal    int
		blockedCap  int
		skippedDays int
		lastTotal   = e.cfg.InitialCapital
	)

	reg := strat.Registry()

	for _, day := range days {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "backtest cancelled")
		default:
		}

		chain, haveChain := data.Chain[day]
		bar, havePrice := data.Prices[day]
		if !haveChain || len(chain) == 0 || !havePrice {
			skippedDays++
			if e.cfg.CarryForwardMissingDays {
				curve = append(curve, models.EquityCurveEntry{
					Date:          day,
					AccountValue:  accountValue,
					UnrealizedPnL: lastTotal - accountValue,
					TotalValue:    lastTotal,
					OpenPositions: reg.OpenCount(),
				})
			}
			continue
		}

		mkt := marketContext(chain, bar)

		// Exits first.
		for _, pos := range reg.OpenPositions() {
			sig := strat.GenerateExitSignal(day, pos, chain, bar.Close, mkt)
			if sig == nil {
				continue
			}
			accountValue += e.closePosition(reg, pos, day, pos.CurrentPrice, sig.ExitReason, &trades, logger)
		}

		// At most one entry per strategy per day, and never past the
		// concurrent-position cap.
		if reg.OpenCount() >= e.cfg.MaxOpenPositions {
			blockedCap++
		} else {
			sig := strat.GenerateEntrySignal(day, chain, bar.Close, mkt)
			if sig == nil {
				noSignal++
			} else if opened, cost := e.openPosition(strat, sig, chain, bar, accountValue, logger); opened {
				accountValue -= cost
			}
		}

		unrealized := reg.UnrealizedPnL()
		lastTotal = accountValue + unrealized
		curve = append(curve, models.EquityCurveEntry{
			Date:          day,
			AccountValue:  accountValue,
			UnrealizedPnL: unrealized,
			TotalValue:    lastTotal,
			OpenPositions: reg.OpenCount(),
		})
	}

	if len(curve) == 0 {
		return nil, errors.NewDataError("backtest",
			fmt.Sprintf("no tradable days between %s and %s",
				e.cfg.StartDate.Format("2006-01-02"), e.cfg.EndDate.Format("2006-01-02")),
			errors.ErrNoTradableDays)
	}

	// Force-close whatever is still open at the last known price.
	endDate := days[len(days)-1]
	for _, pos := range reg.OpenPositions() {
		accountValue += e.closePosition(reg, pos, endDate, pos.CurrentPrice, strategy.ExitReasonEndOfPeriod, &trades, logger)
	}
	if n := len(curve); n > 0 {
		last := &curve[n-1]
		last.AccountValue = accountValue
		last.UnrealizedPnL = 0
		last.TotalValue = accountValue
		last.OpenPositions = 0
	}

	metrics := computeMetrics(curve, trades, e.cfg.InitialCapital)
	metrics.NoSignalDays = noSignal
	metrics.BlockedByCapDays = blockedCap
	metrics.SkippedDays = skippedDays

	logger.Info().
		Int("trades", len(trades)).
		Float64("total_return_pct", metrics.TotalReturnPct).
		Float64("sharpe", metrics.SharpeRatio).
		Msg("Backtest complete")

	return &Result{EquityCurve: curve, Trades: trades, Metrics: metrics}, nil
}

// tradingDays enumerates business days in the overlap of the configured
// window and both series, failing fast with the configured versus
// actual ranges when the overlap is empty.
func (e *Engine) tradingDays(data DataSet) ([]time.Time, error) {
	chainMin, chainMax, okChain := dateBounds(data.Chain)
	priceMin, priceMax, okPrice := dateBounds(data.Prices)
	if !okChain || !okPrice {
		return nil, errors.NewDataError("backtest", "option chain or price series is empty", errors.ErrEmptyDateOverlap)
	}

	start := Day(e.cfg.StartDate)
	end := Day(e.cfg.EndDate)
	if chainMin.After(start) {
		start = chainMin
	}
	if priceMin.After(start) {
		start = priceMin
	}
	if chainMax.Before(end) {
		end = chainMax
	}
	if priceMax.Before(end) {
		end = priceMax
	}
	if end.Before(start) {
		return nil, errors.NewDataError("backtest",
			fmt.Sprintf("configured %s..%s, chain %s..%s, prices %s..%s",
				Day(e.cfg.StartDate).Format("2006-01-02"), Day(e.cfg.EndDate).Format("2006-01-02"),
				chainMin.Format("2006-01-02"), chainMax.Format("2006-01-02"),
				priceMin.Format("2006-01-02"), priceMax.Format("2006-01-02")),
			errors.ErrEmptyDateOverlap)
	}

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// openPosition prices the signal's legs from the day's chain (short
// legs at bid, long legs at ask), sizes the trade, and registers the
// position. Returns the entry commission debited from the account.
func (e *Engine) openPosition(strat strategy.Strategy, sig *models.Signal, chain []models.OptionQuote, bar models.DailyBar, accountValue float64, logger zerolog.Logger) (bool, float64) {
	contracts := strat.CalculatePositionSize(sig, accountValue, e.cfg.Sizing)
	if contracts < 1 {
		return false, 0
	}

	legs := make([]models.Leg, 0, len(sig.Legs))
	var netDebit float64
	for _, spec := range sig.Legs {
		q, ok := findQuote(chain, spec)
		if !ok {
			return false, 0
		}
		price := q.Ask
		if spec.Direction == models.LegShort {
			price = q.Bid
			netDebit -= price
		} else {
			netDebit += price
		}
		legs = append(legs, models.Leg{
			Strike:     spec.Strike,
			OptionType: spec.OptionType,
			Direction:  spec.Direction,
			Delta:      q.Delta,
			Price:      price,
			Expiration: spec.Expiration,
		})
	}

	maxProfit, maxLoss := strat.RiskProfile(sig)
	var vix float64
	if len(chain) > 0 {
		vix = chain[0].VIX
	}

	pos := &models.Position{
		Strategy:          strat.Name(),
		EntryDate:         sig.Date,
		EntryPrice:        netDebit,
		CurrentPrice:      netDebit,
		Contracts:         contracts,
		Legs:              legs,
		UnderlyingAtEntry: bar.Close,
		VIXAtEntry:        vix,
		MaxProfit:         maxProfit * float64(contracts),
		MaxLoss:           maxLoss * float64(contracts),
	}
	strat.Registry().Open(pos)

	commission := e.cfg.CommissionPerContract * float64(contracts) * float64(len(legs))
	logger.Debug().
		Time("date", sig.Date).
		Int("contracts", contracts).
		Float64("net_price", sig.EntryPrice).
		Str("notes", sig.Notes).
		Msg("Position opened")
	return true, commission
}

// closePosition transitions the position to closed and appends its
// trade record. Returns the realized cash delta applied to the account.
func (e *Engine) closePosition(reg *strategy.PositionRegistry, pos *models.Position, day time.Time, exitPrice float64, reason string, trades *[]models.TradeRecord, logger zerolog.Logger) float64 {
	commission := e.cfg.CommissionPerContract * float64(pos.Contracts) * float64(len(pos.Legs))
	closed := reg.Close(pos.ID, day, exitPrice, reason, commission)
	if closed == nil {
		return 0
	}
	*trades = append(*trades, models.FlattenPosition(closed))
	logging.LogTradeClosed(logger, closed.Strategy, reason, closed.Contracts, closed.NetPnL)
	return closed.RealizedPnL - commission
}

func findQuote(chain []models.OptionQuote, spec models.LegSpec) (models.OptionQuote, bool) {
	for _, q := range chain {
		if q.OptionType == spec.OptionType && q.Strike == spec.Strike && q.Expiration.Equal(spec.Expiration) {
			return q, true
		}
	}
	return models.OptionQuote{}, false
}

func marketContext(chain []models.OptionQuote, bar models.DailyBar) models.MarketContext {
	mkt := models.MarketContext{UnderlyingPrice: bar.Close}
	if len(chain) > 0 {
		mkt.VIX = chain[0].VIX
		mkt.IVPercentile = chain[0].IVPercentile
	}
	return mkt
}
