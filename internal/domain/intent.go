package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Side is the direction of a trade intent.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Reason records why an intent was produced.
type Reason string

const (
	ReasonSignal      Reason = "signal"
	ReasonStopLoss    Reason = "stop_loss"
	ReasonTakeProfit  Reason = "take_profit"
	ReasonManualClose Reason = "manual_close"
)

// TradeIntent is a request to enter or exit a position. Amount is in input
// base units: lamports for buys, token base units for sells.
type TradeIntent struct {
	ID        string
	Mint      solana.PublicKey
	Side      Side
	Amount    uint64
	Reason    Reason
	Source    string // policy or subsystem that produced the intent
	CreatedAt time.Time
}
