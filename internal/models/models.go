// Package models defines the core value objects shared by the backtest
// engine, the strategies, and the optimizer.
package models

import "time"

// OptionType identifies a contract as a call or a put.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// LegDirection identifies a leg as bought or sold.
type LegDirection string

const (
	LegLong  LegDirection = "long"
	LegShort LegDirection = "short"
)

// ContractMultiplier is the standard equity-option contract size.
const ContractMultiplier = 100

// OptionQuote is one option contract's quote for one trading day, as
// produced by the upstream chain generator. Delta sign follows the pricer's
// convention: puts negative, calls positive.
type OptionQuote struct {
	QuoteDate       time.Time
	Expiration      time.Time
	DTE             int
	Strike          float64
	OptionType      OptionType
	Bid             float64
	Ask             float64
	Delta           float64
	UnderlyingPrice float64
	VIX             float64
	IVPercentile    float64
}

// Mid returns the bid/ask midpoint.
func (q OptionQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// MarketContext carries the market snapshot a strategy sees on a given day.
type MarketContext struct {
	UnderlyingPrice float64
	VIX             float64
	IVPercentile    float64
}

// DailyBar is one day of the underlying price series.
type DailyBar struct {
	Date  time.Time
	Close float64
}

// EquityCurveEntry is one trading day's account summary. The sequence of
// entries, in date order, is the equity curve.
type EquityCurveEntry struct {
	Date          time.Time
	AccountValue  float64
	UnrealizedPnL float64
	TotalValue    float64
	OpenPositions int
}
