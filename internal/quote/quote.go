// Package quote computes expected and minimum swap output for launch-curve
// and pooled venues from a by-value venue snapshot.
package quote

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/solbot/internal/domain"
)

const bpsDenominator = 10_000

// Params bounds what the engine will quote.
type Params struct {
	MaxPriceImpactBps uint64
	MaxAge            time.Duration
}

// Request is one quote request. Amount is in input base units.
type Request struct {
	Side        domain.Side
	Amount      uint64
	SlippageBps uint64
}

// Engine binds Params and a clock to Compute.
type Engine struct {
	params Params
	now    func() time.Time
}

// NewEngine creates an Engine using the wall clock.
func NewEngine(p Params) *Engine {
	return &Engine{params: p, now: time.Now}
}

// Quote computes a quote against snap at the current time.
func (e *Engine) Quote(snap domain.VenueSnapshot, req Request) (domain.Quote, error) {
	return Compute(snap, req, e.params, e.now())
}

// Compute is a pure function of its inputs. It fails with
// domain.ErrStaleState when snap is older than p.MaxAge and with
// domain.ErrInsufficientLiquidity when the trade cannot fill or its price
// impact exceeds p.MaxPriceImpactBps.
func Compute(snap domain.VenueSnapshot, req Request, p Params, now time.Time) (domain.Quote, error) {
	if req.Amount == 0 {
		return domain.Quote{}, fmt.Errorf("quote: zero input amount")
	}
	if req.SlippageBps > bpsDenominator {
		return domain.Quote{}, fmt.Errorf("quote: slippage %d bps out of range", req.SlippageBps)
	}
	if snap.FeeBps >= bpsDenominator {
		return domain.Quote{}, fmt.Errorf("quote: fee %d bps out of range", snap.FeeBps)
	}
	if p.MaxAge > 0 && (snap.ObservedAt.IsZero() || now.Sub(snap.ObservedAt) > p.MaxAge) {
		return domain.Quote{}, fmt.Errorf("quote: snapshot at slot %d observed %s ago: %w",
			snap.Slot, now.Sub(snap.ObservedAt).Round(time.Millisecond), domain.ErrStaleState)
	}

	var (
		sw  swap
		err error
	)
	switch snap.Venue {
	case domain.VenueLaunchCurve:
		sw, err = curveSwap(snap, req)
	case domain.VenuePooled:
		sw, err = poolSwap(snap, req)
	default:
		return domain.Quote{}, fmt.Errorf("quote: venue %q: %w", snap.Venue, domain.ErrUnknownVenue)
	}
	if err != nil {
		return domain.Quote{}, err
	}
	if sw.out == 0 {
		return domain.Quote{}, fmt.Errorf("quote: zero output for %d: %w", req.Amount, domain.ErrInsufficientLiquidity)
	}
	if p.MaxPriceImpactBps > 0 && sw.impactBps > p.MaxPriceImpactBps {
		return domain.Quote{}, fmt.Errorf("quote: price impact %d bps over ceiling %d: %w",
			sw.impactBps, p.MaxPriceImpactBps, domain.ErrInsufficientLiquidity)
	}

	return domain.Quote{
		Venue:          snap.Venue,
		Side:           req.Side,
		InputAmount:    req.Amount,
		ExpectedOutput: sw.out,
		MinimumOutput:  MinimumOutput(sw.out, req.SlippageBps),
		FeeAmount:      sw.fee,
		PriceImpactBps: sw.impactBps,
		SlippageBps:    req.SlippageBps,
		Slot:           snap.Slot,
	}, nil
}

// MinimumOutput applies slippage tolerance, rounding down.
func MinimumOutput(expected, slippageBps uint64) uint64 {
	if slippageBps >= bpsDenominator {
		return 0
	}
	return mulDiv(expected, bpsDenominator-slippageBps, bpsDenominator).Uint64()
}

type swap struct {
	out       uint64
	fee       uint64 // lamports
	impactBps uint64
}

func curveSwap(snap domain.VenueSnapshot, req Request) (swap, error) {
	c := snap.Curve
	if c.Complete {
		return swap{}, fmt.Errorf("quote: curve complete: %w", domain.ErrInsufficientLiquidity)
	}
	if c.VirtualSolReserves == 0 || c.VirtualTokenReserves == 0 {
		return swap{}, fmt.Errorf("quote: empty curve: %w", domain.ErrInsufficientLiquidity)
	}

	switch req.Side {
	case domain.SideBuy:
		fee := feeOf(req.Amount, snap.FeeBps)
		net := req.Amount - fee
		out := constantProduct(net, c.VirtualSolReserves, c.VirtualTokenReserves)
		if out > c.RealTokenReserves {
			return swap{}, fmt.Errorf("quote: %d tokens out exceeds real reserves %d: %w",
				out, c.RealTokenReserves, domain.ErrInsufficientLiquidity)
		}
		return swap{out: out, fee: fee, impactBps: impact(net, out, c.VirtualSolReserves, c.VirtualTokenReserves)}, nil

	case domain.SideSell:
		gross := constantProduct(req.Amount, c.VirtualTokenReserves, c.VirtualSolReserves)
		if gross > c.RealSolReserves {
			return swap{}, fmt.Errorf("quote: %d lamports out exceeds real reserves %d: %w",
				gross, c.RealSolReserves, domain.ErrInsufficientLiquidity)
		}
		fee := feeOf(gross, snap.FeeBps)
		return swap{out: gross - fee, fee: fee, impactBps: impact(req.Amount, gross, c.VirtualTokenReserves, c.VirtualSolReserves)}, nil
	}
	return swap{}, fmt.Errorf("quote: unknown side %q", req.Side)
}

func poolSwap(snap domain.VenueSnapshot, req Request) (swap, error) {
	p := snap.Pool
	if p.SolReserve == 0 || p.TokenReserve == 0 {
		return swap{}, fmt.Errorf("quote: empty pool: %w", domain.ErrInsufficientLiquidity)
	}

	var reserveIn, reserveOut uint64
	switch req.Side {
	case domain.SideBuy:
		reserveIn, reserveOut = p.SolReserve, p.TokenReserve
	case domain.SideSell:
		reserveIn, reserveOut = p.TokenReserve, p.SolReserve
	default:
		return swap{}, fmt.Errorf("quote: unknown side %q", req.Side)
	}

	feeIn := feeOf(req.Amount, snap.FeeBps)
	net := req.Amount - feeIn
	out := constantProduct(net, reserveIn, reserveOut)

	fee := feeIn
	if req.Side == domain.SideSell {
		// Fee is charged in tokens; report its value in lamports.
		fee = constantProduct(req.Amount, reserveIn, reserveOut) - out
	}
	return swap{out: out, fee: fee, impactBps: impact(net, out, reserveIn, reserveOut)}, nil
}

// constantProduct returns y·dx/(x+dx), rounded down.
func constantProduct(dx, x, y uint64) uint64 {
	num := new(uint256.Int).Mul(uint256.NewInt(dx), uint256.NewInt(y))
	den := new(uint256.Int).Add(uint256.NewInt(x), uint256.NewInt(dx))
	return num.Div(num, den).Uint64()
}

// impact compares out with the no-impact output dx·y/x, in bps.
func impact(dx, out, x, y uint64) uint64 {
	ideal := new(uint256.Int).Mul(uint256.NewInt(dx), uint256.NewInt(y))
	ideal.Div(ideal, uint256.NewInt(x))
	if ideal.IsZero() {
		return bpsDenominator
	}
	got := uint256.NewInt(out)
	if !got.Lt(ideal) {
		return 0
	}
	diff := new(uint256.Int).Sub(ideal, got)
	diff.Mul(diff, uint256.NewInt(bpsDenominator))
	return diff.Div(diff, ideal).Uint64()
}

func feeOf(amount, feeBps uint64) uint64 {
	return mulDiv(amount, feeBps, bpsDenominator).Uint64()
}

func mulDiv(a, b, c uint64) *uint256.Int {
	r := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	return r.Div(r, uint256.NewInt(c))
}
