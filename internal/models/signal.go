package models

import "time"

// LegSpec describes one leg of a proposed structure. The engine prices
// it from the day's chain when the signal is accepted.
type LegSpec struct {
	Strike     float64
	OptionType OptionType
	Direction  LegDirection
	Expiration time.Time
}

// SignalKind distinguishes entry proposals from exit proposals.
type SignalKind string

const (
	SignalEntry SignalKind = "entry"
	SignalExit  SignalKind = "exit"
)

// Signal is an immutable proposal emitted by a strategy for one date.
// Entry signals carry the strikes selected for each leg; exit signals carry
// only the reason. A calendar entry reuses ShortStrike == LongStrike as its
// marker and sets NearExpiration/FarExpiration.
type Signal struct {
	Kind SignalKind
	Date time.Time

	// Entry fields. Unused strikes stay zero.
	PutLongStrike   float64
	PutShortStrike  float64
	CallShortStrike float64
	CallLongStrike  float64
	ShortStrike     float64
	LongStrike      float64
	DTE             int
	NearExpiration  time.Time
	FarExpiration   time.Time

	// EntryPrice is the signed net price: positive credit for credit
	// structures, positive debit for debit structures.
	EntryPrice float64

	// Legs lists the proposed structure's legs for the engine to price.
	Legs []LegSpec

	// Exit fields.
	ExitReason string

	Notes string
}

// NewExitSignal builds an exit proposal with the given reason.
func NewExitSignal(date time.Time, reason string) *Signal {
	return &Signal{Kind: SignalExit, Date: date, ExitReason: reason}
}

// IsCalendar reports whether the signal marks a calendar structure.
func (s *Signal) IsCalendar() bool {
	return s.ShortStrike != 0 && s.ShortStrike == s.LongStrike && !s.NearExpiration.IsZero()
}
