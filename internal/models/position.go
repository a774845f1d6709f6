package models

import (
	"fmt"
	"time"
)

// Leg is one contract of a multi-leg position, priced at entry.
type Leg struct {
	Strike     float64
	OptionType OptionType
	Direction  LegDirection
	Delta      float64
	Price      float64
	Expiration time.Time
}

// Position is one open (or closed) multi-leg trade. It is created by the
// backtest engine when an entry signal is accepted, repriced daily while
// open, and transitioned to closed exactly once.
type Position struct {
	ID        int
	Strategy  string
	EntryDate time.Time
	// EntryPrice is the signed net price per contract (credit positive
	// for credit structures, debit positive for debit structures).
	EntryPrice float64
	Contracts  int
	Legs       []Leg

	CurrentPrice  float64
	UnrealizedPnL float64

	// Entry-time market snapshot.
	UnderlyingAtEntry float64
	VIXAtEntry        float64

	// Theoretical bounds used by profit-target / stop-loss exits.
	MaxProfit float64
	MaxLoss   float64

	// Set atomically at close.
	ExitDate    time.Time
	ExitPrice   float64
	ExitReason  string
	RealizedPnL float64
	Commission  float64
	NetPnL      float64
}

// IsOpen reports whether the position has not yet been closed.
func (p *Position) IsOpen() bool {
	return p.ExitDate.IsZero()
}

// NearExpiration returns the earliest leg expiration.
func (p *Position) NearExpiration() time.Time {
	var near time.Time
	for _, leg := range p.Legs {
		if near.IsZero() || leg.Expiration.Before(near) {
			near = leg.Expiration
		}
	}
	return near
}

// FarExpiration returns the latest leg expiration.
func (p *Position) FarExpiration() time.Time {
	var far time.Time
	for _, leg := range p.Legs {
		if leg.Expiration.After(far) {
			far = leg.Expiration
		}
	}
	return far
}

// TradeRecord is the flattened, export-ready projection of a closed
// position plus its exit context.
type TradeRecord struct {
	Strategy       string
	EntryDate      time.Time
	ExitDate       time.Time
	EntryPrice     float64
	ExitPrice      float64
	Contracts      int
	RealizedPnL    float64
	Commission     float64
	NetPnL         float64
	ExitReason     string
	UnderlyingAt   float64
	VIXAtEntry     float64
	Legs           string
	NearExpiration time.Time
	FarExpiration  time.Time
}

// FlattenPosition projects a closed position into a TradeRecord.
func FlattenPosition(p *Position) TradeRecord {
	legs := ""
	for i, leg := range p.Legs {
		if i > 0 {
			legs += " | "
		}
		legs += fmt.Sprintf("%s %s %.2f @ %.2f d=%.2f exp=%s",
			leg.Direction, leg.OptionType, leg.Strike, leg.Price, leg.Delta,
			leg.Expiration.Format("2006-01-02"))
	}
	return TradeRecord{
		Strategy:       p.Strategy,
		EntryDate:      p.EntryDate,
		ExitDate:       p.ExitDate,
		EntryPrice:     p.EntryPrice,
		ExitPrice:      p.ExitPrice,
		Contracts:      p.Contracts,
		RealizedPnL:    p.RealizedPnL,
		Commission:     p.Commission,
		NetPnL:         p.NetPnL,
		ExitReason:     p.ExitReason,
		UnderlyingAt:   p.UnderlyingAtEntry,
		VIXAtEntry:     p.VIXAtEntry,
		Legs:           legs,
		NearExpiration: p.NearExpiration(),
		FarExpiration:  p.FarExpiration(),
	}
}
