package strategy

import (
	"time"

	"github.com/rcolo88/Trading-sub000/internal/models"
)

// PositionRegistry owns a strategy instance's open and closed position
// lists and enforces the open-to-closed transition as a single step.
// External code never holds a half-transitioned position.
type PositionRegistry struct {
	open   []*models.Position
	closed []*models.Position
	nextID int
}

// NewPositionRegistry creates an empty registry.
func NewPositionRegistry() *PositionRegistry {
	return &PositionRegistry{nextID: 1}
}

// Open registers a new position and assigns its ID.
func (r *PositionRegistry) Open(pos *models.Position) {
	pos.ID = r.nextID
	r.nextID++
	r.open = append(r.open, pos)
}

// Close transitions one open position to closed, setting exit fields
// atomically. Returns the closed position, or nil when the ID is not
// open.
func (r *PositionRegistry) Close(id int, date time.Time, exitPrice float64, reason string, commission float64) *models.Position {
	for i, pos := range r.open {
		if pos.ID != id {
			continue
		}
		pos.ExitDate = date
		pos.ExitPrice = exitPrice
		pos.ExitReason = reason
		pos.RealizedPnL = (exitPrice - pos.EntryPrice) * models.ContractMultiplier * float64(pos.Contracts)
		pos.Commission = commission
		pos.NetPnL = pos.RealizedPnL - commission
		pos.UnrealizedPnL = 0
		r.open = append(r.open[:i], r.open[i+1:]...)
		r.closed = append(r.closed, pos)
		return pos
	}
	return nil
}

// OpenPositions returns a snapshot of the open list.
func (r *PositionRegistry) OpenPositions() []*models.Position {
	out := make([]*models.Position, len(r.open))
	copy(out, r.open)
	return out
}

// ClosedPositions returns a snapshot of the closed list.
func (r *PositionRegistry) ClosedPositions() []*models.Position {
	out := make([]*models.Position, len(r.closed))
	copy(out, r.closed)
	return out
}

// OpenCount returns the number of open positions.
func (r *PositionRegistry) OpenCount() int {
	return len(r.open)
}

// UnrealizedPnL sums unrealized P&L across open positions.
func (r *PositionRegistry) UnrealizedPnL() float64 {
	var total float64
	for _, pos := range r.open {
		total += pos.UnrealizedPnL
	}
	return total
}
