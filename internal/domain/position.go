package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpening PositionStatus = "opening"
	PositionOpen    PositionStatus = "open"
	PositionClosing PositionStatus = "closing"
	PositionClosed  PositionStatus = "closed"
	PositionFailed  PositionStatus = "failed"
)

// Active reports whether a position in this status counts against the
// one-per-token rule and the concurrency cap.
func (s PositionStatus) Active() bool {
	switch s {
	case PositionOpening, PositionOpen, PositionClosing:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s PositionStatus) Terminal() bool {
	return s == PositionClosed || s == PositionFailed
}

// Position is the engine's view of one round trip in a token. Prices are SOL
// per whole token; CostBasis and ExitValue are SOL and include fees and tips.
type Position struct {
	ID          string
	Mint        solana.PublicKey
	Venue       VenueKind
	Status      PositionStatus
	Requested   uint64 // lamports requested for the buy
	Quantity    uint64 // token base units held
	Decimals    uint8
	EntryPrice  decimal.Decimal
	CostBasis   decimal.Decimal
	ExitValue   decimal.Decimal
	RealizedPnL decimal.Decimal
	FeesPaid    decimal.Decimal
	CloseReason Reason
	Stuck       bool
	LastError   string
	OpenedAt    time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

// Tokens returns Quantity as a decimal count of whole tokens.
func (p Position) Tokens() decimal.Decimal {
	return TokenAmount(p.Quantity, p.Decimals)
}
