package quote

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// SpotPrice returns the marginal price in SOL per whole token.
func SpotPrice(snap domain.VenueSnapshot) decimal.Decimal {
	var sol, tok uint64
	switch snap.Venue {
	case domain.VenueLaunchCurve:
		sol, tok = snap.Curve.VirtualSolReserves, snap.Curve.VirtualTokenReserves
	case domain.VenuePooled:
		sol, tok = snap.Pool.SolReserve, snap.Pool.TokenReserve
	}
	if tok == 0 {
		return decimal.Zero
	}
	return domain.SOL(sol).Div(domain.TokenAmount(tok, snap.Decimals))
}

// MarkPrice is the spot price net of the venue's sell fee. Stop-loss and
// take-profit thresholds are evaluated against it.
func MarkPrice(snap domain.VenueSnapshot) decimal.Decimal {
	keep := decimal.NewFromInt(int64(bpsDenominator - snap.FeeBps)).Div(decimal.NewFromInt(bpsDenominator))
	return SpotPrice(snap).Mul(keep)
}
