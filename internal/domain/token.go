package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// VenueKind is the closed set of exchange mechanisms a token can trade on.
type VenueKind string

const (
	VenueLaunchCurve VenueKind = "launch_curve"
	VenuePooled      VenueKind = "pooled"
)

// CurveAccounts locates a launch-curve (bonding curve) market.
type CurveAccounts struct {
	Curve      solana.PublicKey // bonding curve state
	CurveVault solana.PublicKey // curve's associated token account
}

// PoolAccounts locates a constant-product pool. Token0/Token1 follow the
// pool's own ordering; SolIsToken0 records which side is wrapped SOL.
type PoolAccounts struct {
	Pool        solana.PublicKey
	AmmConfig   solana.PublicKey
	Observation solana.PublicKey
	Token0Vault solana.PublicKey
	Token1Vault solana.PublicKey
	Token0Mint  solana.PublicKey
	Token1Mint  solana.PublicKey
	Token0Prog  solana.PublicKey
	Token1Prog  solana.PublicKey
	SolIsToken0 bool
}

// SolVault returns the pool vault holding wrapped SOL.
func (p PoolAccounts) SolVault() solana.PublicKey {
	if p.SolIsToken0 {
		return p.Token0Vault
	}
	return p.Token1Vault
}

// TokenVault returns the pool vault holding the traded token.
func (p PoolAccounts) TokenVault() solana.PublicKey {
	if p.SolIsToken0 {
		return p.Token1Vault
	}
	return p.Token0Vault
}

// Token is a tradable mint together with the venue it was classified onto.
// It is immutable once discovered.
type Token struct {
	Mint         solana.PublicKey
	Decimals     uint8
	Venue        VenueKind
	Curve        CurveAccounts
	Pool         PoolAccounts
	DiscoveredAt time.Time
}

// WatchAccounts lists the accounts whose changes move this token's price.
func (t Token) WatchAccounts() []solana.PublicKey {
	switch t.Venue {
	case VenueLaunchCurve:
		return []solana.PublicKey{t.Curve.Curve}
	case VenuePooled:
		return []solana.PublicKey{t.Pool.SolVault(), t.Pool.TokenVault()}
	}
	return nil
}
