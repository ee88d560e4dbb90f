// Package risk owns the position lifecycle. It is the only writer of
// Position state: it admits buys against the concurrency cap, records fills,
// evaluates stop-loss and take-profit on price ticks and persists, audits
// and announces every transition.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/notify"
	"github.com/alanyoungcy/solbot/internal/quote"
)

// Transitions are published on PositionsChannel and appended to the durable
// PositionsStream.
const (
	PositionsChannel = "positions"
	PositionsStream  = "positions:log"
)

// Alerter receives operator alerts.
type Alerter interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// Config holds the risk limits.
type Config struct {
	MaxPositions int
	// StopLoss and TakeProfit are fractions, e.g. 0.2 for 20%. Zero
	// disables the check.
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Controller is the per-token position state machine.
type Controller struct {
	cfg    Config
	sem    *semaphore.Weighted
	logger *slog.Logger
	now    func() time.Time

	positions domain.PositionStore
	attempts  domain.AttemptStore
	audit     domain.AuditStore
	bus       domain.SignalBus
	alerter   Alerter
	archiver  domain.PositionArchiver

	mu     sync.Mutex
	active map[solana.PublicKey]*tracked
}

type tracked struct {
	pos  domain.Position
	held bool // holds a semaphore slot
	mark decimal.Decimal
}

// NewController creates a Controller. Collaborators are attached with the
// With* methods; all of them are optional.
func NewController(cfg Config, logger *slog.Logger) *Controller {
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = 1
	}
	return &Controller{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxPositions)),
		logger: logger.With(slog.String("component", "risk")),
		now:    time.Now,
		active: make(map[solana.PublicKey]*tracked),
	}
}

func (c *Controller) WithStores(positions domain.PositionStore, attempts domain.AttemptStore, audit domain.AuditStore) *Controller {
	c.positions, c.attempts, c.audit = positions, attempts, audit
	return c
}

func (c *Controller) WithBus(bus domain.SignalBus) *Controller { c.bus = bus; return c }

func (c *Controller) WithAlerter(a Alerter) *Controller { c.alerter = a; return c }

func (c *Controller) WithArchiver(a domain.PositionArchiver) *Controller { c.archiver = a; return c }

// Open admits a buy intent, creating a Position in Opening. It fails with
// domain.ErrPositionActive when the token already has an active position
// and with domain.ErrCapacityExceeded at the cap; neither creates a record.
func (c *Controller) Open(ctx context.Context, intent domain.TradeIntent, venue domain.VenueKind, decimals uint8) (domain.Position, error) {
	if intent.Side != domain.SideBuy {
		return domain.Position{}, fmt.Errorf("risk: open with %s intent: %w", intent.Side, domain.ErrInvalidTransition)
	}

	c.mu.Lock()
	if _, ok := c.active[intent.Mint]; ok {
		c.mu.Unlock()
		return domain.Position{}, fmt.Errorf("risk: open %s: %w", intent.Mint, domain.ErrPositionActive)
	}
	if !c.sem.TryAcquire(1) {
		c.mu.Unlock()
		c.logger.WarnContext(ctx, "buy rejected at capacity",
			slog.String("mint", intent.Mint.String()),
			slog.Int("max_positions", c.cfg.MaxPositions),
		)
		c.alert(ctx, notify.CapacityExceeded(intent, c.cfg.MaxPositions))
		return domain.Position{}, fmt.Errorf("risk: open %s: %w", intent.Mint, domain.ErrCapacityExceeded)
	}
	now := c.now()
	pos := domain.Position{
		ID:        uuid.NewString(),
		Mint:      intent.Mint,
		Venue:     venue,
		Status:    domain.PositionOpening,
		Requested: intent.Amount,
		Decimals:  decimals,
		OpenedAt:  now,
		UpdatedAt: now,
	}
	c.active[intent.Mint] = &tracked{pos: pos, held: true}
	c.mu.Unlock()

	c.record(ctx, pos, "position_opening", map[string]any{"intent": intent.ID, "reason": string(intent.Reason)})
	return pos, nil
}

// ConfirmBuy moves Opening to Open with the fill of the confirming attempt.
// Entry price is the all-in cost per whole token.
func (c *Controller) ConfirmBuy(ctx context.Context, mint solana.PublicKey, fill domain.Fill) (domain.Position, error) {
	if fill.TokenDelta <= 0 || fill.SolDelta >= 0 {
		return c.FailBuy(ctx, mint, fmt.Errorf("confirmed buy %s moved no funds", fill.Signature))
	}
	pos, err := c.transition(mint, domain.PositionOpening, domain.PositionOpen, func(p *domain.Position) {
		p.Quantity = uint64(fill.TokenDelta)
		p.CostBasis = domain.SOL(uint64(-fill.SolDelta))
		p.FeesPaid = p.FeesPaid.Add(domain.SOL(fill.Fee))
		p.EntryPrice = p.CostBasis.Div(p.Tokens())
		p.LastError = ""
	})
	if err != nil {
		return pos, err
	}
	c.logger.InfoContext(ctx, "position open",
		slog.String("position", pos.ID),
		slog.String("mint", mint.String()),
		slog.String("entry_price", pos.EntryPrice.String()),
		slog.String("cost", pos.CostBasis.String()),
	)
	c.record(ctx, pos, "position_open", map[string]any{"signature": fill.Signature, "slot": fill.Slot})
	c.alert(ctx, notify.TradeOpened(pos))
	return pos, nil
}

// FailBuy moves Opening to Failed after the buy retries ran out.
func (c *Controller) FailBuy(ctx context.Context, mint solana.PublicKey, cause error) (domain.Position, error) {
	pos, err := c.transition(mint, domain.PositionOpening, domain.PositionFailed, func(p *domain.Position) {
		p.LastError = cause.Error()
	})
	if err != nil {
		return pos, err
	}
	c.logger.WarnContext(ctx, "buy failed",
		slog.String("position", pos.ID),
		slog.String("mint", mint.String()),
		slog.String("error", cause.Error()),
	)
	c.record(ctx, pos, "position_failed", map[string]any{"side": "buy", "error": cause.Error()})
	c.alert(ctx, notify.TradeFailed(pos))
	c.archive(ctx, pos)
	return pos, nil
}

// BeginClose moves Open to Closing for a sell intent and returns the
// position with the quantity to sell.
func (c *Controller) BeginClose(ctx context.Context, mint solana.PublicKey, reason domain.Reason) (domain.Position, error) {
	pos, err := c.transition(mint, domain.PositionOpen, domain.PositionClosing, func(p *domain.Position) {
		p.CloseReason = reason
	})
	if err != nil {
		return pos, err
	}
	c.logger.InfoContext(ctx, "closing position",
		slog.String("position", pos.ID),
		slog.String("mint", mint.String()),
		slog.String("reason", string(reason)),
	)
	c.record(ctx, pos, "position_closing", map[string]any{"reason": string(reason)})
	return pos, nil
}

// ConfirmSell moves Closing to Closed. Realized PnL is the SOL received net
// of fees and tips minus the all-in entry cost.
func (c *Controller) ConfirmSell(ctx context.Context, mint solana.PublicKey, fill domain.Fill) (domain.Position, error) {
	pos, err := c.transition(mint, domain.PositionClosing, domain.PositionClosed, func(p *domain.Position) {
		p.ExitValue = decimal.NewFromInt(fill.SolDelta).Shift(-9)
		p.FeesPaid = p.FeesPaid.Add(domain.SOL(fill.Fee))
		p.RealizedPnL = p.ExitValue.Sub(p.CostBasis)
		closed := c.now()
		p.ClosedAt = &closed
		p.LastError = ""
	})
	if err != nil {
		return pos, err
	}
	c.logger.InfoContext(ctx, "position closed",
		slog.String("position", pos.ID),
		slog.String("mint", mint.String()),
		slog.String("pnl", pos.RealizedPnL.String()),
	)
	c.record(ctx, pos, "position_closed", map[string]any{"signature": fill.Signature, "pnl": pos.RealizedPnL.String()})
	c.alert(ctx, notify.TradeClosed(pos))
	c.archive(ctx, pos)
	return pos, nil
}

// FailSell moves Closing to Failed after the sell retries ran out. The
// tokens are still held: the position is flagged stuck and raised at the
// highest severity.
func (c *Controller) FailSell(ctx context.Context, mint solana.PublicKey, cause error) (domain.Position, error) {
	pos, err := c.transition(mint, domain.PositionClosing, domain.PositionFailed, func(p *domain.Position) {
		p.Stuck = true
		p.LastError = fmt.Errorf("%w: %w", domain.ErrStuckPosition, cause).Error()
	})
	if err != nil {
		return pos, err
	}
	c.logger.ErrorContext(ctx, "position stuck",
		slog.String("position", pos.ID),
		slog.String("mint", mint.String()),
		slog.String("error", cause.Error()),
	)
	c.record(ctx, pos, "position_stuck", map[string]any{"side": "sell", "error": cause.Error()})
	c.alert(ctx, notify.StuckPosition(pos))
	c.archive(ctx, pos)
	return pos, nil
}

// OnPrice evaluates stop-loss and take-profit for the token's Open
// position. Checks are level-triggered: every tick past a threshold yields
// a sell intent.
func (c *Controller) OnPrice(ev domain.PriceUpdate) []domain.TradeIntent {
	mark := quote.MarkPrice(ev.Snapshot)

	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.active[ev.Mint]
	if !ok {
		return nil
	}
	t.mark = mark
	if t.pos.Status != domain.PositionOpen || t.pos.EntryPrice.IsZero() || mark.IsZero() {
		return nil
	}

	reason, hit := c.breach(t.pos.EntryPrice, mark)
	if !hit {
		return nil
	}
	c.logger.Info("threshold breached",
		slog.String("mint", ev.Mint.String()),
		slog.String("reason", string(reason)),
		slog.String("entry", t.pos.EntryPrice.String()),
		slog.String("mark", mark.String()),
	)
	return []domain.TradeIntent{{
		ID:        uuid.NewString(),
		Mint:      ev.Mint,
		Side:      domain.SideSell,
		Amount:    t.pos.Quantity,
		Reason:    reason,
		Source:    "risk",
		CreatedAt: c.now(),
	}}
}

func (c *Controller) breach(entry, mark decimal.Decimal) (domain.Reason, bool) {
	one := decimal.NewFromInt(1)
	if c.cfg.StopLoss.IsPositive() && mark.LessThanOrEqual(entry.Mul(one.Sub(c.cfg.StopLoss))) {
		return domain.ReasonStopLoss, true
	}
	if c.cfg.TakeProfit.IsPositive() && mark.GreaterThanOrEqual(entry.Mul(one.Add(c.cfg.TakeProfit))) {
		return domain.ReasonTakeProfit, true
	}
	return "", false
}

// Get returns the active position for mint.
func (c *Controller) Get(mint solana.PublicKey) (domain.Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.active[mint]
	if !ok {
		return domain.Position{}, false
	}
	return t.pos, true
}

// Mark returns the last fee-inclusive mark price seen for mint.
func (c *Controller) Mark(mint solana.PublicKey) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.active[mint]
	if !ok || t.mark.IsZero() {
		return decimal.Zero, false
	}
	return t.mark, true
}

// Active returns all active positions ordered by open time.
func (c *Controller) Active() []domain.Position {
	c.mu.Lock()
	out := make([]domain.Position, 0, len(c.active))
	for _, t := range c.active {
		out = append(out, t.pos)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Restore loads active positions from the store. Open positions resume
// monitoring; positions left in Opening or Closing are kept, count against
// the cap, and are reported for review since their last transaction may or
// may not have landed.
func (c *Controller) Restore(ctx context.Context) ([]domain.Position, error) {
	if c.positions == nil {
		return nil, nil
	}
	stored, err := c.positions.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk: restore: %w", err)
	}

	var review []domain.Position
	c.mu.Lock()
	for _, p := range stored {
		if _, dup := c.active[p.Mint]; dup {
			continue
		}
		t := &tracked{pos: p, held: c.sem.TryAcquire(1)}
		if !t.held {
			c.logger.Error("restored positions exceed the cap", slog.String("position", p.ID))
		}
		c.active[p.Mint] = t
		if p.Status != domain.PositionOpen {
			review = append(review, p)
		}
	}
	c.mu.Unlock()

	for _, p := range review {
		c.logger.WarnContext(ctx, "restored position needs review",
			slog.String("position", p.ID),
			slog.String("mint", p.Mint.String()),
			slog.String("status", string(p.Status)),
		)
		c.auditLog(ctx, "position_needs_review", p, nil)
	}
	c.logger.InfoContext(ctx, "positions restored", slog.Int("count", len(stored)), slog.Int("review", len(review)))
	return review, nil
}

// transition applies mutate and moves the token's position from one status
// to another. Terminal targets leave the active set and free the slot.
func (c *Controller) transition(mint solana.PublicKey, from, to domain.PositionStatus, mutate func(*domain.Position)) (domain.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.active[mint]
	if !ok {
		return domain.Position{}, fmt.Errorf("risk: %s -> %s for %s: %w", from, to, mint, domain.ErrNoPosition)
	}
	if t.pos.Status != from {
		return t.pos, fmt.Errorf("risk: %s -> %s for %s in %s: %w", from, to, mint, t.pos.Status, domain.ErrInvalidTransition)
	}
	mutate(&t.pos)
	t.pos.Status = to
	t.pos.UpdatedAt = c.now()
	if to.Terminal() {
		delete(c.active, mint)
		if t.held {
			c.sem.Release(1)
		}
	}
	return t.pos, nil
}

// record persists, audits and publishes a transition. Failures are logged;
// the in-memory state stays authoritative.
func (c *Controller) record(ctx context.Context, pos domain.Position, event string, detail map[string]any) {
	if c.positions != nil {
		if err := c.positions.Upsert(ctx, pos); err != nil {
			c.logger.ErrorContext(ctx, "persist position failed",
				slog.String("position", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	c.auditLog(ctx, event, pos, detail)
	if c.bus != nil {
		payload, err := json.Marshal(positionMessage{Event: event, Position: pos})
		if err == nil {
			err = c.bus.Publish(ctx, PositionsChannel, payload)
		}
		if err == nil {
			err = c.bus.StreamAppend(ctx, PositionsStream, payload)
		}
		if err != nil {
			c.logger.WarnContext(ctx, "publish position failed", slog.String("error", err.Error()))
		}
	}
}

func (c *Controller) auditLog(ctx context.Context, event string, pos domain.Position, detail map[string]any) {
	if c.audit == nil {
		return
	}
	if detail == nil {
		detail = make(map[string]any, 3)
	}
	detail["position"] = pos.ID
	detail["mint"] = pos.Mint.String()
	detail["status"] = string(pos.Status)
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.WarnContext(ctx, "audit failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (c *Controller) alert(ctx context.Context, msg notify.Message) {
	if c.alerter == nil {
		return
	}
	if err := c.alerter.Notify(ctx, msg); err != nil {
		c.logger.WarnContext(ctx, "alert failed", slog.String("event", msg.Event), slog.String("error", err.Error()))
	}
}

func (c *Controller) archive(ctx context.Context, pos domain.Position) {
	if c.archiver == nil {
		return
	}
	var attempts []domain.SubmissionAttempt
	if c.attempts != nil {
		var err error
		attempts, err = c.attempts.ListByPosition(ctx, pos.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "list attempts failed", slog.String("position", pos.ID), slog.String("error", err.Error()))
		}
	}
	if err := c.archiver.ArchivePosition(ctx, pos, attempts); err != nil {
		c.logger.WarnContext(ctx, "archive failed", slog.String("position", pos.ID), slog.String("error", err.Error()))
	}
}

type positionMessage struct {
	Event    string          `json:"event"`
	Position domain.Position `json:"position"`
}
