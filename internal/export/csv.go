// Package export reads the input CSV series and writes run artifacts
// (trade ledger, equity curve, optimization results) as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/rcolo88/Trading-sub000/internal/backtest"
	"github.com/rcolo88/Trading-sub000/internal/errors"
	"github.com/rcolo88/Trading-sub000/internal/models"
	"github.com/rcolo88/Trading-sub000/internal/optimize"
)

// Date wraps time.Time with YYYY-MM-DD CSV encoding.
type Date struct {
	time.Time
}

// MarshalCSV implements gocsv.TypeMarshaller.
func (d *Date) MarshalCSV() (string, error) {
	return d.Format("2006-01-02"), nil
}

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (d *Date) UnmarshalCSV(csv string) error {
	t, err := time.Parse("2006-01-02", csv)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

type chainRow struct {
	QuoteDate       Date    `csv:"quote_date"`
	Expiration      Date    `csv:"expiration"`
	DTE             int     `csv:"dte"`
	Strike          float64 `csv:"strike"`
	OptionType      string  `csv:"option_type"`
	Bid             float64 `csv:"bid"`
	Ask             float64 `csv:"ask"`
	Delta           float64 `csv:"delta"`
	UnderlyingPrice float64 `csv:"underlying_price"`
	VIX             float64 `csv:"vix"`
	IVPercentile    float64 `csv:"iv_percentile"`
}

type barRow struct {
	Date  Date    `csv:"date"`
	Close float64 `csv:"close"`
}

// ReadChainCSV loads the option-chain series, grouped by trading day.
func ReadChainCSV(path string) (map[time.Time][]models.OptionQuote, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewDataError("option_chain", "opening "+path, err)
	}
	defer f.Close()

	var rows []chainRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, errors.NewDataError("option_chain", "parsing "+path, err)
	}

	chain := make(map[time.Time][]models.OptionQuote)
	for _, r := range rows {
		day := backtest.Day(r.QuoteDate.Time)
		chain[day] = append(chain[day], models.OptionQuote{
			QuoteDate:       day,
			Expiration:      backtest.Day(r.Expiration.Time),
			DTE:             r.DTE,
			Strike:          r.Strike,
			OptionType:      models.OptionType(r.OptionType),
			Bid:             r.Bid,
			Ask:             r.Ask,
			Delta:           r.Delta,
			UnderlyingPrice: r.UnderlyingPrice,
			VIX:             r.VIX,
			IVPercentile:    r.IVPercentile,
		})
	}
	return chain, nil
}

// ReadPricesCSV loads the underlying price series keyed by trading day.
func ReadPricesCSV(path string) (map[time.Time]models.DailyBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewDataError("prices", "opening "+path, err)
	}
	defer f.Close()

	var rows []barRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, errors.NewDataError("prices", "parsing "+path, err)
	}

	prices := make(map[time.Time]models.DailyBar)
	for _, r := range rows {
		day := backtest.Day(r.Date.Time)
		prices[day] = models.DailyBar{Date: day, Close: r.Close}
	}
	return prices, nil
}

type tradeRow struct {
	Strategy       string  `csv:"strategy"`
	EntryDate      Date    `csv:"entry_date"`
	ExitDate       Date    `csv:"exit_date"`
	EntryPrice     float64 `csv:"entry_price"`
	ExitPrice      float64 `csv:"exit_price"`
	Contracts      int     `csv:"contracts"`
	RealizedPnL    float64 `csv:"realized_pnl"`
	Commission     float64 `csv:"commission"`
	NetPnL         float64 `csv:"net_pnl"`
	ExitReason     string  `csv:"exit_reason"`
	UnderlyingAt   float64 `csv:"underlying_at_entry"`
	VIXAtEntry     float64 `csv:"vix_at_entry"`
	Legs           string  `csv:"legs"`
	NearExpiration Date    `csv:"near_expiration"`
	FarExpiration  Date    `csv:"far_expiration"`
}

// WriteTrades exports the trade ledger.
func WriteTrades(trades []models.TradeRecord, path string) error {
	rows := make([]tradeRow, len(trades))
	for i, t := range trades {
		rows[i] = tradeRow{
			Strategy:       t.Strategy,
			EntryDate:      Date{t.EntryDate},
			ExitDate:       Date{t.ExitDate},
			EntryPrice:     t.EntryPrice,
			ExitPrice:      t.ExitPrice,
			Contracts:      t.Contracts,
			RealizedPnL:    t.RealizedPnL,
			Commission:     t.Commission,
			NetPnL:         t.NetPnL,
			ExitReason:     t.ExitReason,
			UnderlyingAt:   t.UnderlyingAt,
			VIXAtEntry:     t.VIXAtEntry,
			Legs:           t.Legs,
			NearExpiration: Date{t.NearExpiration},
			FarExpiration:  Date{t.FarExpiration},
		}
	}
	return writeCSV(&rows, path)
}

type equityRow struct {
	Date          Date    `csv:"date"`
	AccountValue  float64 `csv:"account_value"`
	UnrealizedPnL float64 `csv:"unrealized_pnl"`
	TotalValue    float64 `csv:"total_value"`
	OpenPositions int     `csv:"open_positions"`
}

// WriteEquityCurve exports the equity curve.
func WriteEquityCurve(curve []models.EquityCurveEntry, path string) error {
	rows := make([]equityRow, len(curve))
	for i, e := range curve {
		rows[i] = equityRow{
			Date:          Date{e.Date},
			AccountValue:  e.AccountValue,
			UnrealizedPnL: e.UnrealizedPnL,
			TotalValue:    e.TotalValue,
			OpenPositions: e.OpenPositions,
		}
	}
	return writeCSV(&rows, path)
}

// WriteResults exports an optimization result table. Columns are the
// union of parameter names and metric names, parameters first. The
// column set varies per run, so this writes encoding/csv records
// directly instead of going through struct tags.
func WriteResults(rows []optimize.ResultRow, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.NewDataError("results", "creating "+path, err)
	}
	defer f.Close()

	paramSet := make(map[string]struct{})
	for _, row := range rows {
		for name := range row.Params {
			paramSet[name] = struct{}{}
		}
	}
	paramNames := make([]string, 0, len(paramSet))
	for name := range paramSet {
		paramNames = append(paramNames, name)
	}
	sort.Strings(paramNames)
	metricNames := backtest.MetricNames()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := append(append([]string{}, paramNames...), metricNames...)
	header = append(header, "error")
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		rec := make([]string, 0, len(header))
		for _, name := range paramNames {
			rec = append(rec, fmt.Sprintf("%g", row.Params[name]))
		}
		for _, name := range metricNames {
			rec = append(rec, fmt.Sprintf("%g", row.Metrics[name]))
		}
		rec = append(rec, row.Err)
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(rows interface{}, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.NewDataError("export", "creating "+path, err)
	}
	defer f.Close()
	return gocsv.MarshalFile(rows, f)
}
