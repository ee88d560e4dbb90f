package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// Catalog resolves mints onto venues.
type Catalog interface {
	Lookup(mint solana.PublicKey) (domain.Token, bool)
	Discover(ctx context.Context, mint solana.PublicKey) (domain.Token, error)
	RegisterLaunch(mint, curve solana.PublicKey) (domain.Token, error)
	FeeBps(tok domain.Token) uint64
}

// Watcher subscribes to the accounts that price a token.
type Watcher interface {
	Watch(ctx context.Context, tok domain.Token, feeBps uint64) error
	Unwatch(ctx context.Context, tok domain.Token) error
}

// Risk evaluates exits and reports which tokens hold positions.
type Risk interface {
	OnPrice(ev domain.PriceUpdate) []domain.TradeIntent
	Active() []domain.Position
}

// Sink receives intents for execution.
type Sink interface {
	Enqueue(intent domain.TradeIntent) error
}

// EngineConfig tunes the engine.
type EngineConfig struct {
	// Reconcile is how often price subscriptions are aligned with the set
	// of active positions.
	Reconcile       time.Duration
	DiscoverTimeout time.Duration
	RecentLimit     int
}

// Engine routes decoded events: launches and watched transfers go to the
// active policy, price updates go to the risk controller, and every
// resulting intent is handed to the sink. It also keeps price
// subscriptions open exactly for tokens with an active position.
type Engine struct {
	cfg      EngineConfig
	registry *Registry
	catalog  Catalog
	watcher  Watcher
	risk     Risk
	sink     Sink
	logger   *slog.Logger

	mu            sync.Mutex
	active        Policy
	watched       map[solana.PublicKey]domain.Token
	recentIntents []domain.TradeIntent
	pending       sync.WaitGroup
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig, registry *Registry, catalog Catalog, watcher Watcher, risk Risk, sink Sink, logger *slog.Logger) *Engine {
	if cfg.Reconcile <= 0 {
		cfg.Reconcile = 2 * time.Second
	}
	if cfg.DiscoverTimeout <= 0 {
		cfg.DiscoverTimeout = 5 * time.Second
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 500
	}
	return &Engine{
		cfg:      cfg,
		registry: registry,
		catalog:  catalog,
		watcher:  watcher,
		risk:     risk,
		sink:     sink,
		logger:   logger.With(slog.String("component", "strategy_engine")),
		watched:  make(map[solana.PublicKey]domain.Token),
	}
}

// ActiveName returns the current policy name, empty if none is set.
func (e *Engine) ActiveName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return ""
	}
	return e.active.Name()
}

// SetActive switches to the policy registered under name.
func (e *Engine) SetActive(ctx context.Context, name string) error {
	p, err := e.registry.Get(name)
	if err != nil {
		return fmt.Errorf("set active strategy: %w", err)
	}
	if err := p.Init(ctx); err != nil {
		return fmt.Errorf("strategy %s init: %w", name, err)
	}
	e.mu.Lock()
	prev := e.active
	e.active = p
	e.mu.Unlock()
	if prev != nil && prev != p {
		_ = prev.Close()
	}
	e.logger.Info("active strategy changed", slog.String("strategy", name))
	return nil
}

// RecentIntents returns up to limit most recent intents, newest first.
func (e *Engine) RecentIntents(limit int) []domain.TradeIntent {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recentIntents)
	if limit > n {
		limit = n
	}
	out := make([]domain.TradeIntent, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recentIntents[i])
	}
	return out
}

// Run consumes events until the channel closes or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, events <-chan domain.Event) error {
	e.logger.Info("strategy engine started", slog.String("strategy", e.ActiveName()))
	defer e.logger.Info("strategy engine stopped")
	defer e.pending.Wait()

	ticker := time.NewTicker(e.cfg.Reconcile)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.reconcile(ctx)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.Handle(ctx, ev)
		}
	}
}

// Handle processes a single event.
func (e *Engine) Handle(ctx context.Context, ev domain.Event) {
	switch ev := ev.(type) {
	case domain.PriceUpdate:
		e.dispatch(ctx, e.risk.OnPrice(ev), false)

	case domain.NewPool:
		if _, err := e.catalog.RegisterLaunch(ev.Mint, ev.Curve); err != nil {
			e.logger.Warn("register launch failed",
				slog.String("mint", ev.Mint.String()),
				slog.String("error", err.Error()),
			)
		}
		policy := e.policy()
		if policy == nil {
			return
		}
		intents, err := policy.OnNewPool(ctx, ev)
		if err != nil {
			e.logger.Warn("strategy OnNewPool error", slog.String("strategy", policy.Name()), slog.String("error", err.Error()))
			return
		}
		e.dispatch(ctx, intents, true)

	case domain.WatchedTransfer:
		policy := e.policy()
		if policy == nil {
			return
		}
		intents, err := policy.OnTransfer(ctx, ev)
		if err != nil {
			e.logger.Warn("strategy OnTransfer error", slog.String("strategy", policy.Name()), slog.String("error", err.Error()))
			return
		}
		e.dispatch(ctx, intents, true)
	}
}

func (e *Engine) policy() Policy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// dispatch hands intents to the sink. Buys for tokens not yet classified
// are discovered first, off the event loop.
func (e *Engine) dispatch(ctx context.Context, intents []domain.TradeIntent, discover bool) {
	for _, intent := range intents {
		if _, known := e.catalog.Lookup(intent.Mint); known || !discover {
			e.enqueue(intent)
			continue
		}
		e.pending.Add(1)
		go func(intent domain.TradeIntent) {
			defer e.pending.Done()
			dctx, cancel := context.WithTimeout(ctx, e.cfg.DiscoverTimeout)
			defer cancel()
			if _, err := e.catalog.Discover(dctx, intent.Mint); err != nil {
				level := slog.LevelWarn
				if errors.Is(err, context.Canceled) {
					level = slog.LevelDebug
				}
				e.logger.Log(ctx, level, "intent dropped: token not tradable",
					slog.String("mint", intent.Mint.String()),
					slog.String("error", err.Error()),
				)
				return
			}
			e.enqueue(intent)
		}(intent)
	}
}

func (e *Engine) enqueue(intent domain.TradeIntent) {
	if err := e.sink.Enqueue(intent); err != nil {
		e.logger.Error("enqueue intent failed",
			slog.String("mint", intent.Mint.String()),
			slog.String("side", string(intent.Side)),
			slog.String("error", err.Error()),
		)
		return
	}
	e.remember(intent)
	e.logger.Debug("intent emitted",
		slog.String("intent_id", intent.ID),
		slog.String("source", intent.Source),
		slog.String("side", string(intent.Side)),
		slog.String("reason", string(intent.Reason)),
	)
}

func (e *Engine) remember(intent domain.TradeIntent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentIntents = append(e.recentIntents, intent)
	if overflow := len(e.recentIntents) - e.cfg.RecentLimit; overflow > 0 {
		e.recentIntents = append([]domain.TradeIntent(nil), e.recentIntents[overflow:]...)
	}
}

// reconcile subscribes to price accounts of newly active positions and
// drops subscriptions for positions that have gone terminal.
func (e *Engine) reconcile(ctx context.Context) {
	want := make(map[solana.PublicKey]struct{})
	for _, pos := range e.risk.Active() {
		want[pos.Mint] = struct{}{}
	}

	e.mu.Lock()
	var add []solana.PublicKey
	for mint := range want {
		if _, ok := e.watched[mint]; !ok {
			add = append(add, mint)
		}
	}
	var drop []domain.Token
	for mint, tok := range e.watched {
		if _, ok := want[mint]; !ok {
			drop = append(drop, tok)
			delete(e.watched, mint)
		}
	}
	e.mu.Unlock()

	for _, tok := range drop {
		if err := e.watcher.Unwatch(ctx, tok); err != nil {
			e.logger.Warn("unwatch failed", slog.String("mint", tok.Mint.String()), slog.String("error", err.Error()))
		}
	}
	for _, mint := range add {
		tok, ok := e.catalog.Lookup(mint)
		if !ok {
			continue
		}
		if err := e.watcher.Watch(ctx, tok, e.catalog.FeeBps(tok)); err != nil {
			e.logger.Warn("watch failed", slog.String("mint", mint.String()), slog.String("error", err.Error()))
			continue
		}
		e.mu.Lock()
		e.watched[mint] = tok
		e.mu.Unlock()
	}
}

// Watched returns the mints with open price subscriptions.
func (e *Engine) Watched() []solana.PublicKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]solana.PublicKey, 0, len(e.watched))
	for mint := range e.watched {
		out = append(out, mint)
	}
	return out
}

// LogSink records intents without executing them. Monitor mode uses it.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Enqueue(intent domain.TradeIntent) error {
	s.Logger.Info("intent (monitor only)",
		slog.String("mint", intent.Mint.String()),
		slog.String("side", string(intent.Side)),
		slog.Uint64("amount", intent.Amount),
		slog.String("reason", string(intent.Reason)),
		slog.String("source", intent.Source),
	)
	return nil
}
