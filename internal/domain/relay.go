package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// TipSelector chooses which of a relay's tip accounts receives the tip.
type TipSelector string

const (
	TipRoundRobin TipSelector = "round_robin"
	TipRandom     TipSelector = "random"
)

// RelayPath is a static, configuration-derived submission channel.
type RelayPath struct {
	Name        string
	Endpoint    string
	TipLamports uint64
	TipAccounts []solana.PublicKey
	Selector    TipSelector
	Timeout     time.Duration
	Enabled     bool
}

// DefaultPath is the name of the plain RPC broadcast path.
const DefaultPath = "default"
