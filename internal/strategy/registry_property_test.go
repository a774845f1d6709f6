package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/rcolo88/Trading-sub000/internal/models"
)

// Property: closing a position realizes exactly
// (exit - entry) * 100 * contracts, the transition moves the position
// from open to closed in one step, and a second close of the same ID
// is a no-op.
func TestProperty_RealizedPnLAndCloseAtomicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("realized P&L follows the price delta exactly", prop.ForAll(
		func(entryPrice, exitPrice float64, contracts int, commission float64) bool {
			reg := NewPositionRegistry()
			pos := &models.Position{
				Strategy:   "vertical_bull_put",
				EntryDate:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
				EntryPrice: entryPrice,
				Contracts:  contracts,
			}
			reg.Open(pos)
			if reg.OpenCount() != 1 {
				return false
			}

			exitDate := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
			closed := reg.Close(pos.ID, exitDate, exitPrice, ExitReasonProfitTarget, commission)
			if closed == nil {
				t.Log("close returned nil for an open ID")
				return false
			}

			want := (exitPrice - entryPrice) * models.ContractMultiplier * float64(contracts)
			if math.Abs(closed.RealizedPnL-want) > 1e-6 {
				t.Logf("realized %.6f, want %.6f", closed.RealizedPnL, want)
				return false
			}
			if math.Abs(closed.NetPnL-(want-commission)) > 1e-6 {
				return false
			}
			if closed.UnrealizedPnL != 0 || closed.IsOpen() {
				return false
			}
			if reg.OpenCount() != 0 || len(reg.ClosedPositions()) != 1 {
				return false
			}

			// Double close must not produce a second record.
			if reg.Close(pos.ID, exitDate, exitPrice, ExitReasonStopLoss, commission) != nil {
				return false
			}
			return len(reg.ClosedPositions()) == 1
		},
		gen.Float64Range(-20, 20),
		gen.Float64Range(-20, 20),
		gen.IntRange(1, 50),
		gen.Float64Range(0, 10),
	))

	properties.Property("IDs are unique and assigned in order", prop.ForAll(
		func(n int) bool {
			reg := NewPositionRegistry()
			seen := make(map[int]bool)
			for i := 0; i < n; i++ {
				pos := &models.Position{Strategy: "iron_condor", Contracts: 1}
				reg.Open(pos)
				if seen[pos.ID] {
					return false
				}
				seen[pos.ID] = true
			}
			return reg.OpenCount() == n
		},
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}
