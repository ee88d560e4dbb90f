// Package venue builds swap instruction sets for the supported exchange
// venues and reads the on-chain state their quotes are computed from.
package venue

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// Venue builds the unsigned instructions for one swap. Implementations are
// the closed set {*LaunchCurve, *Pooled}.
type Venue interface {
	Kind() domain.VenueKind
	BuildBuy(q domain.Quote, acct Accounts) ([]solana.Instruction, error)
	BuildSell(q domain.Quote, acct Accounts) ([]solana.Instruction, error)
}

// Accounts is the account context of a swap.
type Accounts struct {
	Owner solana.PublicKey
	Token domain.Token
}

var (
	_ Venue = (*LaunchCurve)(nil)
	_ Venue = (*Pooled)(nil)
)

// Set dispatches to the venue a token was classified onto and prefixes the
// compute budget instructions.
type Set struct {
	curve  *LaunchCurve
	pool   *Pooled
	budget ComputeBudget
}

// NewSet creates a Set over both venue variants.
func NewSet(curve *LaunchCurve, pool *Pooled, budget ComputeBudget) *Set {
	return &Set{curve: curve, pool: pool, budget: budget}
}

// For returns the venue implementation for kind.
func (s *Set) For(kind domain.VenueKind) (Venue, error) {
	switch kind {
	case domain.VenueLaunchCurve:
		return s.curve, nil
	case domain.VenuePooled:
		return s.pool, nil
	}
	return nil, fmt.Errorf("venue: %q: %w", kind, domain.ErrUnknownVenue)
}

// Build returns the full ordered instruction list for q.
func (s *Set) Build(q domain.Quote, acct Accounts) ([]solana.Instruction, error) {
	if q.Venue != acct.Token.Venue {
		return nil, fmt.Errorf("venue: quote for %s used on %s token", q.Venue, acct.Token.Venue)
	}
	v, err := s.For(q.Venue)
	if err != nil {
		return nil, err
	}

	var swap []solana.Instruction
	switch q.Side {
	case domain.SideBuy:
		swap, err = v.BuildBuy(q, acct)
	case domain.SideSell:
		swap, err = v.BuildSell(q, acct)
	default:
		return nil, fmt.Errorf("venue: unknown side %q", q.Side)
	}
	if err != nil {
		return nil, err
	}
	return append(s.budget.Instructions(), swap...), nil
}
