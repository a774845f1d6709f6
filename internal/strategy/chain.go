package strategy

import (
	"math"
	"time"

	"github.com/rcolo88/Trading-sub000/internal/models"
)

// filterDTE returns the quotes whose DTE falls inside [min, max].
func filterDTE(quotes []models.OptionQuote, min, max int) []models.OptionQuote {
	var out []models.OptionQuote
	for _, q := range quotes {
		if q.DTE >= min && q.DTE <= max {
			out = append(out, q)
		}
	}
	return out
}

// nearestExpiration picks the earliest expiration present in quotes.
// Strikes for all legs of a single-expiration structure come from the
// same expiration slice.
func nearestExpiration(quotes []models.OptionQuote) (time.Time, bool) {
	var exp time.Time
	for _, q := range quotes {
		if exp.IsZero() || q.Expiration.Before(exp) {
			exp = q.Expiration
		}
	}
	return exp, !exp.IsZero()
}

// forExpiration returns the quotes belonging to one expiration.
func forExpiration(quotes []models.OptionQuote, exp time.Time) []models.OptionQuote {
	var out []models.OptionQuote
	for _, q := range quotes {
		if q.Expiration.Equal(exp) {
			out = append(out, q)
		}
	}
	return out
}

// findByDelta locates the quote of the given type whose absolute delta
// is closest to target. Fails closed: returns false when no quote is
// within tolerance.
func findByDelta(quotes []models.OptionQuote, optType models.OptionType, target, tolerance float64) (models.OptionQuote, bool) {
	var best models.OptionQuote
	bestDist := math.MaxFloat64
	for _, q := range quotes {
		if q.OptionType != optType {
			continue
		}
		dist := math.Abs(math.Abs(q.Delta) - target)
		if dist < bestDist {
			bestDist = dist
			best = q
		}
	}
	if bestDist > tolerance {
		return models.OptionQuote{}, false
	}
	return best, true
}

// quoteFor looks up one contract in the day's chain.
func quoteFor(quotes []models.OptionQuote, exp time.Time, strike float64, optType models.OptionType) (models.OptionQuote, bool) {
	for _, q := range quotes {
		if q.OptionType == optType && q.Strike == strike && q.Expiration.Equal(exp) {
			return q, true
		}
	}
	return models.OptionQuote{}, false
}

// liquidationValue prices the position's legs from the current chain:
// long legs at bid, short legs at ask. Returns false when any leg is
// missing from the day's chain.
func liquidationValue(pos *models.Position, quotes []models.OptionQuote) (float64, bool) {
	var value float64
	for _, leg := range pos.Legs {
		q, ok := quoteFor(quotes, leg.Expiration, leg.Strike, leg.OptionType)
		if !ok {
			return 0, false
		}
		if leg.Direction == models.LegLong {
			value += q.Bid
		} else {
			value -= q.Ask
		}
	}
	return value, true
}

// reprice updates the position's current price and unrealized P&L from
// the day's chain. Leaves the position untouched when a leg cannot be
// found.
func reprice(pos *models.Position, quotes []models.OptionQuote) bool {
	value, ok := liquidationValue(pos, quotes)
	if !ok {
		return false
	}
	pos.CurrentPrice = value
	pos.UnrealizedPnL = (value - pos.EntryPrice) * models.ContractMultiplier * float64(pos.Contracts)
	return true
}
