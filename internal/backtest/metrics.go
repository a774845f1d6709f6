package backtest

import (
	"math"

	"github.com/rcolo88/Trading-sub000/internal/models"
)

// dailyRiskFree is the fixed daily risk-free rate used for the Sharpe
// ratio (5% annual over 252 trading days).
const dailyRiskFree = 0.05 / 252

// Metrics is the compiled result set of one backtest run.
type Metrics struct {
	TotalReturnPct   float64
	MaxDrawdownPct   float64
	SharpeRatio      float64
	WinRate          float64
	AvgWin           float64
	AvgLoss          float64
	ProfitFactor     float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	FinalValue       float64
	NoSignalDays     int
	BlockedByCapDays int
	SkippedDays      int
}

// Map flattens the metric set into named values for result tables.
func (m Metrics) Map() map[string]float64 {
	return map[string]float64{
		"total_return_pct":    m.TotalReturnPct,
		"max_drawdown_pct":    m.MaxDrawdownPct,
		"sharpe_ratio":        m.SharpeRatio,
		"win_rate":            m.WinRate,
		"avg_win":             m.AvgWin,
		"avg_loss":            m.AvgLoss,
		"profit_factor":       m.ProfitFactor,
		"total_trades":        float64(m.TotalTrades),
		"final_value":         m.FinalValue,
		"no_signal_days":      float64(m.NoSignalDays),
		"blocked_by_cap_days": float64(m.BlockedByCapDays),
	}
}

// MetricNames lists the metric columns in stable order, matching Map.
func MetricNames() []string {
	return []string{
		"total_return_pct", "max_drawdown_pct", "sharpe_ratio", "win_rate",
		"avg_win", "avg_loss", "profit_factor", "total_trades", "final_value",
		"no_signal_days", "blocked_by_cap_days",
	}
}

// computeMetrics derives the performance summary from the equity curve
// and trade ledger.
func computeMetrics(curve []models.EquityCurveEntry, trades []models.TradeRecord, initialCapital float64) Metrics {
	m := Metrics{TotalTrades: len(trades)}
	if len(curve) == 0 {
		return m
	}

	final := curve[len(curve)-1].TotalValue
	m.FinalValue = final
	m.TotalReturnPct = (final - initialCapital) / initialCapital * 100

	// Peak-to-trough drawdown on the total-value series.
	peak := curve[0].TotalValue
	for _, pt := range curve {
		if pt.TotalValue > peak {
			peak = pt.TotalValue
		}
		if peak > 0 {
			dd := (peak - pt.TotalValue) / peak * 100
			if dd > m.MaxDrawdownPct {
				m.MaxDrawdownPct = dd
			}
		}
	}

	m.SharpeRatio = sharpeRatio(curve)

	var grossWins, grossLosses float64
	for _, t := range trades {
		if t.NetPnL > 0 {
			m.WinningTrades++
			grossWins += t.NetPnL
		} else {
			m.LosingTrades++
			grossLosses += -t.NetPnL
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.WinningTrades > 0 {
		m.AvgWin = grossWins / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = -grossLosses / float64(m.LosingTrades)
	}

	switch {
	case grossLosses > 0:
		m.ProfitFactor = grossWins / grossLosses
	case grossWins > 0:
		m.ProfitFactor = math.Inf(1)
	default:
		m.ProfitFactor = 0
	}

	return m
}

// sharpeRatio annualizes mean excess daily return over the fixed daily
// risk-free rate, scaled by sqrt(252). Zero when the return standard
// deviation is zero.
func sharpeRatio(curve []models.EquityCurveEntry) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].TotalValue
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].TotalValue-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return (mean - dailyRiskFree) / std * math.Sqrt(252)
}
