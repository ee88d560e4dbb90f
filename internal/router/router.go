// Package router races a signed transaction across relay paths and the
// default broadcast path.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// Sender submits a signed transaction to one endpoint.
type Sender interface {
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Limiter admits or refuses a submission on a relay.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ErrRateLimited marks a path skipped by its limiter.
var ErrRateLimited = errors.New("relay rate limited")

// Relay binds a relay descriptor to the sender that reaches it.
type Relay struct {
	Path   domain.RelayPath
	Sender Sender
	// RatePerSecond bounds submissions when a Limiter is set. Zero means
	// unlimited.
	RatePerSecond int
}

type path struct {
	name    string
	desc    domain.RelayPath
	sender  Sender
	timeout time.Duration
	rate    int
	next    atomic.Uint64
}

// Result describes an accepted submission. Signature is the winning
// path's variant; Signatures holds every variant by path name.
type Result struct {
	Signature  solana.Signature
	Path       string
	Tip        uint64
	Tried      []string
	Signatures map[string]solana.Signature
	Latency    time.Duration
}

type pathResult struct {
	path string
	sig  solana.Signature
	tip  uint64
	err  error
	took time.Duration
}

// Router fans a swap out to every enabled relay plus the default broadcast
// path, one signed variant per path, and returns on the first acceptance.
type Router struct {
	broadcast *path
	relays    []*path
	limiter   Limiter
	logger    *slog.Logger
}

// New creates a Router. Disabled relays are kept out of the race.
// defaultTimeout applies to paths without their own timeout.
func New(broadcast Sender, relays []Relay, defaultTimeout time.Duration, logger *slog.Logger) *Router {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	r := &Router{
		broadcast: &path{name: domain.DefaultPath, sender: broadcast, timeout: defaultTimeout},
		logger:    logger.With(slog.String("component", "router")),
	}
	for _, rl := range relays {
		if !rl.Path.Enabled {
			continue
		}
		timeout := rl.Path.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		r.relays = append(r.relays, &path{
			name:    rl.Path.Name,
			desc:    rl.Path,
			sender:  rl.Sender,
			timeout: timeout,
			rate:    rl.RatePerSecond,
		})
	}
	return r
}

// SetLimiter enables per-relay rate limiting.
func (r *Router) SetLimiter(l Limiter) { r.limiter = l }

// Paths lists the names of the paths a submission races over.
func (r *Router) Paths() []string {
	names := make([]string, 0, len(r.relays)+1)
	for _, p := range r.relays {
		names = append(names, p.name)
	}
	return append(names, r.broadcast.name)
}

// TxFactory assembles and signs the transaction for one path, appending
// extra after the swap instructions. Every call must return a freshly
// signed transaction.
type TxFactory func(extra ...solana.Instruction) (*solana.Transaction, error)

type variant struct {
	path *path
	tx   *solana.Transaction
	tip  uint64
}

// tip returns the path's tip transfer, or nil when the path pays none.
func (p *path) tip(payer solana.PublicKey) (solana.Instruction, uint64) {
	if p.desc.TipLamports == 0 || len(p.desc.TipAccounts) == 0 {
		return nil, 0
	}
	return system.NewTransferInstruction(p.desc.TipLamports, payer, p.selectTip()).Build(), p.desc.TipLamports
}

// MaxTip is the largest tip a single submission can pay.
func (r *Router) MaxTip() uint64 {
	var top uint64
	for _, p := range r.relays {
		if len(p.desc.TipAccounts) > 0 {
			top = max(top, p.desc.TipLamports)
		}
	}
	return top
}

func (p *path) selectTip() solana.PublicKey {
	accts := p.desc.TipAccounts
	switch p.desc.Selector {
	case domain.TipRandom:
		return accts[rand.IntN(len(accts))]
	default:
		n := p.next.Add(1) - 1
		return accts[n%uint64(len(accts))]
	}
}

// variants builds one signed transaction per path. The default path's
// variant carries no tip; each relay's variant carries only that relay's
// tip. All variants share a blockhash, so their signatures differ.
func (r *Router) variants(payer solana.PublicKey, build TxFactory) ([]variant, error) {
	out := make([]variant, 0, len(r.relays)+1)
	for _, p := range r.relays {
		ix, lamports := p.tip(payer)
		var extra []solana.Instruction
		if ix != nil {
			extra = append(extra, ix)
		}
		tx, err := build(extra...)
		if err != nil {
			return nil, fmt.Errorf("router: build %s variant: %w", p.name, err)
		}
		out = append(out, variant{path: p, tx: tx, tip: lamports})
	}
	tx, err := build()
	if err != nil {
		return nil, fmt.Errorf("router: build %s variant: %w", r.broadcast.name, err)
	}
	out = append(out, variant{path: r.broadcast, tx: tx})
	for _, v := range out {
		if len(v.tx.Signatures) == 0 {
			return nil, fmt.Errorf("router: %s variant is not signed", v.path.name)
		}
	}
	return out, nil
}

// Submit races one variant per path. Each path runs under its own
// deadline and a path that times out counts as non-accepting. The first
// acceptance wins; later acceptances are discarded. If no path accepts,
// the error wraps domain.ErrSubmissionExhausted.
func (r *Router) Submit(ctx context.Context, payer solana.PublicKey, build TxFactory) (Result, error) {
	vs, err := r.variants(payer, build)
	if err != nil {
		return Result{}, err
	}
	tried := make([]string, 0, len(vs))
	sigs := make(map[string]solana.Signature, len(vs))
	for _, v := range vs {
		tried = append(tried, v.path.name)
		sigs[v.path.name] = v.tx.Signatures[0]
	}

	// Buffered so senders never block once the race is decided.
	results := make(chan pathResult, len(vs))
	start := time.Now()
	for _, v := range vs {
		go func(v variant) {
			results <- r.send(ctx, v)
		}(v)
	}

	var errs []error
	for i := range vs {
		select {
		case res := <-results:
			if res.err != nil {
				r.logger.Debug("path rejected",
					slog.String("path", res.path),
					slog.String("signature", sigs[res.path].String()),
					slog.String("error", res.err.Error()),
				)
				errs = append(errs, fmt.Errorf("%s: %w", res.path, res.err))
				continue
			}
			want := sigs[res.path]
			if !res.sig.IsZero() && !res.sig.Equals(want) {
				r.logger.Warn("path returned a different signature",
					slog.String("path", res.path),
					slog.String("expected", want.String()),
					slog.String("got", res.sig.String()),
				)
			}
			go r.discardLate(results, len(vs)-i-1, sigs)
			return Result{
				Signature:  want,
				Path:       res.path,
				Tip:        res.tip,
				Tried:      tried,
				Signatures: sigs,
				Latency:    res.took,
			}, nil

		case <-ctx.Done():
			return Result{Tried: tried, Signatures: sigs}, fmt.Errorf("router: submit: %w", ctx.Err())
		}
	}
	return Result{Tried: tried, Signatures: sigs, Latency: time.Since(start)},
		fmt.Errorf("router: %w: %w", domain.ErrSubmissionExhausted, errors.Join(errs...))
}

// send submits on one path. The send itself is detached from ctx's
// cancellation: once handed to an endpoint a transaction cannot be
// recalled, so only the per-path deadline applies.
func (r *Router) send(ctx context.Context, v variant) pathResult {
	p := v.path
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	start := time.Now()

	if r.limiter != nil && p.rate > 0 {
		ok, err := r.limiter.Allow(sendCtx, "relay:"+p.name, p.rate, time.Second)
		if err != nil {
			r.logger.Warn("relay limiter unavailable", slog.String("path", p.name), slog.String("error", err.Error()))
		} else if !ok {
			return pathResult{path: p.name, err: ErrRateLimited, took: time.Since(start)}
		}
	}

	sig, err := p.sender.Send(sendCtx, v.tx)
	return pathResult{path: p.name, sig: sig, tip: v.tip, err: err, took: time.Since(start)}
}

// discardLate drains results that arrive after the winner. No tracking is
// started for them.
func (r *Router) discardLate(results <-chan pathResult, remaining int, sigs map[string]solana.Signature) {
	for range remaining {
		res := <-results
		if res.err == nil {
			r.logger.Debug("late acceptance discarded",
				slog.String("path", res.path),
				slog.String("signature", sigs[res.path].String()),
				slog.Duration("took", res.took),
			)
		}
	}
}
