package domain

import "github.com/gagliardetto/solana-go"

// EventKind tags a decoded domain event.
type EventKind string

const (
	EventNewPool         EventKind = "new_pool"
	EventWatchedTransfer EventKind = "watched_transfer"
	EventPriceUpdate     EventKind = "price_update"
)

// Event is a decoded notification from the ingestion pipeline.
type Event interface {
	Kind() EventKind
	// DedupKey identifies redeliveries. Two notifications with the same
	// key are the same notification.
	DedupKey() DedupKey
}

// DedupKey is the (signature, slot) identity of a notification. Account
// notifications carry no signature and use the account address instead.
type DedupKey struct {
	Signature string
	Slot      uint64
}

// NewPool announces a token launched on a launch-curve venue.
type NewPool struct {
	Signature string
	Slot      uint64
	Mint      solana.PublicKey
	Curve     solana.PublicKey
	Creator   solana.PublicKey
	Name      string
	Symbol    string
}

func (e NewPool) Kind() EventKind    { return EventNewPool }
func (e NewPool) DedupKey() DedupKey { return DedupKey{Signature: e.Signature, Slot: e.Slot} }

// BalanceChange is one token balance movement of the watched account.
type BalanceChange struct {
	Mint     solana.PublicKey
	Decimals uint8
	Pre      uint64
	Post     uint64
}

// Increased reports whether the balance went up.
func (c BalanceChange) Increased() bool { return c.Post > c.Pre }

// Magnitude returns the absolute change in base units.
func (c BalanceChange) Magnitude() uint64 {
	if c.Post >= c.Pre {
		return c.Post - c.Pre
	}
	return c.Pre - c.Post
}

// WatchedTransfer is a transaction that moved balances of the watched
// account.
type WatchedTransfer struct {
	Signature string
	Slot      uint64
	Account   solana.PublicKey
	Changes   []BalanceChange
	Failed    bool
}

func (e WatchedTransfer) Kind() EventKind    { return EventWatchedTransfer }
func (e WatchedTransfer) DedupKey() DedupKey { return DedupKey{Signature: e.Signature, Slot: e.Slot} }

// PriceUpdate carries a fresh venue snapshot for a token.
type PriceUpdate struct {
	Account  solana.PublicKey
	Mint     solana.PublicKey
	Slot     uint64
	Snapshot VenueSnapshot
}

func (e PriceUpdate) Kind() EventKind { return EventPriceUpdate }
func (e PriceUpdate) DedupKey() DedupKey {
	return DedupKey{Signature: e.Account.String(), Slot: e.Slot}
}
