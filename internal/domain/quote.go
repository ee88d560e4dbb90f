package domain

import "time"

// CurveSnapshot is a by-value copy of a bonding curve's reserves.
type CurveSnapshot struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	Complete             bool
}

// PoolSnapshot is a by-value copy of a constant-product pool's tradable
// reserves.
type PoolSnapshot struct {
	SolReserve   uint64
	TokenReserve uint64
}

// VenueSnapshot is the market state one quote is computed against. Exactly
// one of Curve or Pool is meaningful, chosen by Venue.
type VenueSnapshot struct {
	Venue      VenueKind
	Curve      CurveSnapshot
	Pool       PoolSnapshot
	FeeBps     uint64
	Decimals   uint8
	Slot       uint64
	ObservedAt time.Time
}

// Quote is computed fresh for every submission attempt.
type Quote struct {
	Venue          VenueKind
	Side           Side
	InputAmount    uint64
	ExpectedOutput uint64
	MinimumOutput  uint64
	FeeAmount      uint64 // lamports
	PriceImpactBps uint64
	SlippageBps    uint64
	Slot           uint64
}
