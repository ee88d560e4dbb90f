// Package executor runs trade intents end to end: it takes the per-token
// execution right, quotes, builds, signs and submits, follows confirmation
// with bounded retries and reports the outcome to the risk controller.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/alanyoungcy/solbot/internal/confirm"
	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/notify"
	"github.com/alanyoungcy/solbot/internal/platform/solrpc"
	"github.com/alanyoungcy/solbot/internal/quote"
	"github.com/alanyoungcy/solbot/internal/router"
	"github.com/alanyoungcy/solbot/internal/venue"
)

// ErrQueueFull is returned by Enqueue when the intent queue is saturated.
var ErrQueueFull = errors.New("executor: intent queue full")

// Catalog resolves tokens and reads fresh venue state.
type Catalog interface {
	Lookup(mint solana.PublicKey) (domain.Token, bool)
	Snapshot(ctx context.Context, tok domain.Token) (domain.VenueSnapshot, error)
}

// Quoter prices a swap against a snapshot.
type Quoter interface {
	Quote(snap domain.VenueSnapshot, req quote.Request) (domain.Quote, error)
}

// Builder turns a quote into instructions.
type Builder interface {
	Build(q domain.Quote, acct venue.Accounts) ([]solana.Instruction, error)
}

// Chain is the RPC surface the coordinator reads.
type Chain interface {
	LatestBlockhash(ctx context.Context) (solrpc.Blockhash, error)
	Fill(ctx context.Context, sig solana.Signature, owner, mint solana.PublicKey) (domain.Fill, error)
}

// Submitter races per-path variants of a transaction over the relay paths.
type Submitter interface {
	Submit(ctx context.Context, payer solana.PublicKey, build router.TxFactory) (router.Result, error)
}

// Tracker follows one signature to a terminal status.
type Tracker interface {
	Track(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) (confirm.Outcome, error)
}

// Signer signs as fee payer.
type Signer interface {
	PublicKey() solana.PublicKey
	SignTransaction(tx *solana.Transaction) error
}

// Positions is the risk controller surface. It owns every Position
// transition.
type Positions interface {
	Open(ctx context.Context, intent domain.TradeIntent, venue domain.VenueKind, decimals uint8) (domain.Position, error)
	ConfirmBuy(ctx context.Context, mint solana.PublicKey, fill domain.Fill) (domain.Position, error)
	FailBuy(ctx context.Context, mint solana.PublicKey, cause error) (domain.Position, error)
	BeginClose(ctx context.Context, mint solana.PublicKey, reason domain.Reason) (domain.Position, error)
	ConfirmSell(ctx context.Context, mint solana.PublicKey, fill domain.Fill) (domain.Position, error)
	FailSell(ctx context.Context, mint solana.PublicKey, cause error) (domain.Position, error)
}

// Alerter receives operator alerts.
type Alerter interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// Config tunes the coordinator.
type Config struct {
	SlippageBps uint64
	Retry       confirm.RetryPolicy
	// DrainTimeout bounds how long in-flight intents may run after
	// shutdown begins.
	DrainTimeout time.Duration
	// LockTTL is the lease of the distributed per-token lock.
	LockTTL   time.Duration
	QueueSize int
}

// Deps groups the coordinator's collaborators.
type Deps struct {
	Catalog   Catalog
	Quoter    Quoter
	Builder   Builder
	Chain     Chain
	Submitter Submitter
	Tracker   Tracker
	Signer    Signer
	Positions Positions
}

// Coordinator executes intents concurrently across tokens and strictly in
// sequence within one token.
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	attempts domain.AttemptStore
	locks    domain.LockManager
	alerter  Alerter

	queue    chan domain.TradeIntent
	keyed    *KeyedMutex
	coalesce *Coalescer
	inflight sync.WaitGroup
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config, deps Deps, logger *slog.Logger) *Coordinator {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 90 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 3 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Coordinator{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With(slog.String("component", "executor")),
		queue:    make(chan domain.TradeIntent, cfg.QueueSize),
		keyed:    NewKeyedMutex(),
		coalesce: NewCoalescer(),
		sleep:    sleepCtx,
	}
}

// SetAttemptStore records every submission attempt.
func (c *Coordinator) SetAttemptStore(s domain.AttemptStore) { c.attempts = s }

// SetLockManager backs the per-token right with a distributed lock so
// several processes never trade the same token at once.
func (c *Coordinator) SetLockManager(l domain.LockManager) { c.locks = l }

// SetAlerter enables submission_exhausted alerts.
func (c *Coordinator) SetAlerter(a Alerter) { c.alerter = a }

// Enqueue hands an intent to Run. Intents duplicating a queued or running
// intent for the same token and side are dropped.
func (c *Coordinator) Enqueue(intent domain.TradeIntent) error {
	if !c.coalesce.Claim(intent) {
		c.logger.Debug("intent coalesced",
			slog.String("mint", intent.Mint.String()),
			slog.String("side", string(intent.Side)),
			slog.String("reason", string(intent.Reason)),
		)
		return nil
	}
	select {
	case c.queue <- intent:
		return nil
	default:
		c.coalesce.Release(intent)
		return ErrQueueFull
	}
}

// Run dispatches queued intents, one goroutine each, until ctx is
// cancelled. In-flight intents then keep running on a detached context so
// their transactions reach a terminal status; after DrainTimeout that
// context is cancelled too.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("executor started")
	defer c.logger.Info("executor stopped")

	work, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	for {
		select {
		case <-ctx.Done():
			c.drain(cancelWork)
			return nil
		case intent := <-c.queue:
			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				defer c.coalesce.Release(intent)
				if err := c.Execute(work, intent); err != nil {
					c.logResult(intent, err)
				}
			}()
		}
	}
}

func (c *Coordinator) drain(cancelWork context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	c.logger.Info("draining in-flight intents", slog.Duration("timeout", c.cfg.DrainTimeout))
	select {
	case <-done:
	case <-time.After(c.cfg.DrainTimeout):
		c.logger.Error("drain timeout, abandoning in-flight intents")
		cancelWork()
		<-done
	}
}

func (c *Coordinator) logResult(intent domain.TradeIntent, err error) {
	log := c.logger.With(
		slog.String("intent", intent.ID),
		slog.String("mint", intent.Mint.String()),
		slog.String("side", string(intent.Side)),
		slog.String("error", err.Error()),
	)
	switch {
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNoPosition), errors.Is(err, domain.ErrPositionActive):
		log.Debug("intent not applicable")
	case errors.Is(err, domain.ErrCapacityExceeded), errors.Is(err, domain.ErrLockHeld):
		log.Warn("intent rejected")
	default:
		log.Error("intent failed")
	}
}

// Execute runs one intent synchronously under the token's execution right.
func (c *Coordinator) Execute(ctx context.Context, intent domain.TradeIntent) error {
	tok, ok := c.deps.Catalog.Lookup(intent.Mint)
	if !ok {
		return fmt.Errorf("executor: %s: %w", intent.Mint, domain.ErrUnknownVenue)
	}

	unlock, err := c.acquire(ctx, intent.Mint)
	if err != nil {
		return err
	}
	defer unlock()

	switch intent.Side {
	case domain.SideBuy:
		return c.buy(ctx, intent, tok)
	case domain.SideSell:
		return c.sell(ctx, intent, tok)
	}
	return fmt.Errorf("executor: unknown side %q", intent.Side)
}

func (c *Coordinator) acquire(ctx context.Context, mint solana.PublicKey) (func(), error) {
	unlock, err := c.keyed.Lock(ctx, mint.String())
	if err != nil {
		return nil, fmt.Errorf("executor: lock %s: %w", mint, err)
	}
	if c.locks == nil {
		return unlock, nil
	}
	release, err := c.locks.Acquire(ctx, "solbot:token:"+mint.String(), c.cfg.LockTTL)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("executor: distributed lock %s: %w", mint, err)
	}
	return func() {
		release()
		unlock()
	}, nil
}

func (c *Coordinator) buy(ctx context.Context, intent domain.TradeIntent, tok domain.Token) error {
	pos, err := c.deps.Positions.Open(ctx, intent, tok.Venue, tok.Decimals)
	if err != nil {
		return err
	}
	fill, n, err := c.transition(ctx, pos, domain.SideBuy, tok, intent.Amount)
	if err != nil {
		cause := err
		if ctx.Err() != nil {
			cause = fmt.Errorf("shutdown before confirmation: %w", err)
		}
		rctx := context.WithoutCancel(ctx)
		failed, ferr := c.deps.Positions.FailBuy(rctx, intent.Mint, cause)
		if ferr == nil && errors.Is(err, domain.ErrSubmissionExhausted) {
			c.alert(rctx, notify.SubmissionExhausted(failed, domain.SideBuy, n))
		}
		return err
	}
	_, err = c.deps.Positions.ConfirmBuy(ctx, intent.Mint, fill)
	return err
}

func (c *Coordinator) sell(ctx context.Context, intent domain.TradeIntent, tok domain.Token) error {
	pos, err := c.deps.Positions.BeginClose(ctx, intent.Mint, intent.Reason)
	if err != nil {
		return err
	}
	amount := pos.Quantity
	if intent.Amount > 0 && intent.Amount < amount {
		amount = intent.Amount
	}
	fill, n, err := c.transition(ctx, pos, domain.SideSell, tok, amount)
	if err != nil {
		rctx := context.WithoutCancel(ctx)
		stuck, ferr := c.deps.Positions.FailSell(rctx, intent.Mint, err)
		if ferr == nil && errors.Is(err, domain.ErrSubmissionExhausted) {
			c.alert(rctx, notify.SubmissionExhausted(stuck, domain.SideSell, n))
		}
		return err
	}
	_, err = c.deps.Positions.ConfirmSell(ctx, intent.Mint, fill)
	return err
}

// transition makes up to Retry.MaxAttempts attempts for one position
// transition. Each attempt quotes fresh state and signs over a fresh
// blockhash. The returned fill comes from the confirming attempt only.
func (c *Coordinator) transition(ctx context.Context, pos domain.Position, side domain.Side, tok domain.Token, amount uint64) (domain.Fill, int, error) {
	log := c.logger.With(
		slog.String("position", pos.ID),
		slog.String("mint", tok.Mint.String()),
		slog.String("side", string(side)),
	)

	var lastErr error
	for n := 1; ; n++ {
		fill, status, err := c.attempt(ctx, pos, side, tok, amount, n, log)
		if err == nil {
			return fill, n, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return domain.Fill{}, n, fmt.Errorf("executor: attempt %d: %w", n, err)
		}
		log.Warn("attempt did not confirm",
			slog.Int("attempt", n),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		if !c.cfg.Retry.Allow(n) {
			break
		}
		if err := c.sleep(ctx, c.cfg.Retry.Delay(n)); err != nil {
			return domain.Fill{}, n, fmt.Errorf("executor: backoff: %w", err)
		}
	}
	return domain.Fill{}, c.cfg.Retry.MaxAttempts,
		fmt.Errorf("executor: %w after %d attempts: %w", domain.ErrRetriesExhausted, c.cfg.Retry.MaxAttempts, lastErr)
}

// attempt performs one quote-build-sign-submit-track cycle.
func (c *Coordinator) attempt(ctx context.Context, pos domain.Position, side domain.Side, tok domain.Token, amount uint64, n int, log *slog.Logger) (domain.Fill, domain.AttemptStatus, error) {
	snap, err := c.deps.Catalog.Snapshot(ctx, tok)
	if err != nil {
		return domain.Fill{}, domain.AttemptFailed, fmt.Errorf("snapshot: %w", err)
	}
	q, err := c.deps.Quoter.Quote(snap, quote.Request{Side: side, Amount: amount, SlippageBps: c.cfg.SlippageBps})
	if err != nil {
		return domain.Fill{}, domain.AttemptFailed, err
	}

	payer := c.deps.Signer.PublicKey()
	ixs, err := c.deps.Builder.Build(q, venue.Accounts{Owner: payer, Token: tok})
	if err != nil {
		return domain.Fill{}, domain.AttemptFailed, fmt.Errorf("build: %w", err)
	}

	bh, err := c.deps.Chain.LatestBlockhash(ctx)
	if err != nil {
		return domain.Fill{}, domain.AttemptFailed, fmt.Errorf("blockhash: %w", err)
	}
	build := func(extra ...solana.Instruction) (*solana.Transaction, error) {
		all := append(append(make([]solana.Instruction, 0, len(ixs)+len(extra)), ixs...), extra...)
		tx, err := solana.NewTransaction(all, bh.Hash, solana.TransactionPayer(payer))
		if err != nil {
			return nil, fmt.Errorf("assemble: %w", err)
		}
		if err := c.deps.Signer.SignTransaction(tx); err != nil {
			return nil, err
		}
		return tx, nil
	}

	att := domain.SubmissionAttempt{
		ID:                   uuid.NewString(),
		PositionID:           pos.ID,
		Side:                 side,
		Number:               n,
		LastValidBlockHeight: bh.LastValidBlockHeight,
		Quote:                q,
		Status:               domain.AttemptPending,
		SubmittedAt:          time.Now().UTC(),
	}

	res, err := c.deps.Submitter.Submit(ctx, payer, build)
	att.PathsTried = res.Tried
	if err != nil {
		if sig, ok := res.Signatures[domain.DefaultPath]; ok {
			att.Signature = sig.String()
		}
		att.Status, att.Error = domain.AttemptFailed, err.Error()
		c.recordAttempt(ctx, att, true)
		return domain.Fill{}, att.Status, err
	}
	att.Signature = res.Signature.String()
	att.WinningPath = res.Path
	c.recordAttempt(ctx, att, true)
	log.Info("submitted",
		slog.Int("attempt", n),
		slog.String("signature", att.Signature),
		slog.String("path", res.Path),
		slog.Duration("latency", res.Latency),
		slog.Uint64("min_out", q.MinimumOutput),
	)

	out, err := c.deps.Tracker.Track(ctx, res.Signature, bh.LastValidBlockHeight)
	if err != nil {
		return domain.Fill{}, domain.AttemptPending, err
	}
	att.Status, att.Slot, att.Error = out.Status, out.Slot, out.Err
	c.recordAttempt(ctx, att, false)

	switch out.Status {
	case domain.AttemptConfirmed:
		return c.fill(ctx, res, payer, tok, q, out.Slot, log), out.Status, nil
	case domain.AttemptExpired:
		return domain.Fill{}, out.Status, fmt.Errorf("%w: %s", domain.ErrExpired, out.Err)
	default:
		return domain.Fill{}, out.Status, fmt.Errorf("%w: %s", domain.ErrTxFailed, out.Err)
	}
}

// fill reads the confirmed transaction's balance changes. If they cannot
// be read, the quote's expectation stands in for them.
func (c *Coordinator) fill(ctx context.Context, res router.Result, owner solana.PublicKey, tok domain.Token, q domain.Quote, slot uint64, log *slog.Logger) domain.Fill {
	sig := res.Signature
	var lastErr error
	for i := 1; i <= 3; i++ {
		f, err := c.deps.Chain.Fill(ctx, sig, owner, tok.Mint)
		if err == nil {
			return f
		}
		lastErr = err
		if c.sleep(ctx, time.Duration(i)*250*time.Millisecond) != nil {
			break
		}
	}
	log.Warn("fill unavailable, using quote", slog.String("signature", sig.String()), slog.String("error", lastErr.Error()))

	est := domain.Fill{Signature: sig.String(), Slot: slot}
	tips := int64(res.Tip)
	switch q.Side {
	case domain.SideBuy:
		est.TokenDelta = int64(q.ExpectedOutput)
		est.SolDelta = -int64(q.InputAmount) - tips
	case domain.SideSell:
		est.TokenDelta = -int64(q.InputAmount)
		est.SolDelta = int64(q.ExpectedOutput) - tips
	}
	return est
}

// recordAttempt inserts a new attempt row or resolves an existing one.
func (c *Coordinator) recordAttempt(ctx context.Context, att domain.SubmissionAttempt, insert bool) {
	if c.attempts == nil {
		return
	}
	if att.Status != domain.AttemptPending {
		now := time.Now().UTC()
		att.ResolvedAt = &now
	}
	var err error
	if insert {
		err = c.attempts.Insert(ctx, att)
	} else {
		err = c.attempts.Resolve(ctx, att)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "record attempt failed", slog.String("attempt", att.ID), slog.String("error", err.Error()))
	}
}

func (c *Coordinator) alert(ctx context.Context, msg notify.Message) {
	if c.alerter == nil {
		return
	}
	if err := c.alerter.Notify(ctx, msg); err != nil {
		c.logger.WarnContext(ctx, "alert failed", slog.String("event", msg.Event), slog.String("error", err.Error()))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
