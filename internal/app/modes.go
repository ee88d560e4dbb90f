package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/solbot/internal/config"
	"github.com/alanyoungcy/solbot/internal/confirm"
	"github.com/alanyoungcy/solbot/internal/crypto"
	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/executor"
	"github.com/alanyoungcy/solbot/internal/feed"
	"github.com/alanyoungcy/solbot/internal/notify"
	"github.com/alanyoungcy/solbot/internal/platform/solrpc"
	"github.com/alanyoungcy/solbot/internal/quote"
	"github.com/alanyoungcy/solbot/internal/risk"
	"github.com/alanyoungcy/solbot/internal/router"
	"github.com/alanyoungcy/solbot/internal/server"
	"github.com/alanyoungcy/solbot/internal/server/handler"
	"github.com/alanyoungcy/solbot/internal/server/middleware"
	"github.com/alanyoungcy/solbot/internal/server/ws"
	"github.com/alanyoungcy/solbot/internal/strategy"
	"github.com/alanyoungcy/solbot/internal/venue"
)

// core holds the components both modes share: ingestion, venue catalog,
// risk controller and the policy registry.
type core struct {
	stream   *solrpc.WSClient
	pipeline *feed.Pipeline
	curve    *venue.LaunchCurve
	catalog  *venue.Catalog
	risk     *risk.Controller
	registry *strategy.Registry
}

// TradeMode runs the full engine: ingestion, policy decisions, execution
// and exit monitoring.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	key, err := crypto.LoadKey(crypto.KeyConfig{
		PrivateKey:       a.cfg.Wallet.PrivateKey,
		KeypairPath:      a.cfg.Wallet.KeypairPath,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	wallet, err := crypto.NewWallet(key)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	a.logger.InfoContext(ctx, "wallet loaded", slog.String("wallet", wallet.PublicKey().String()))

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	pooled, err := venue.NewPooled(config.PublicKey(a.cfg.Venues.CPMMProgram))
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	venues := venue.NewSet(c.curve, pooled, venue.ComputeBudget{
		UnitLimit:          a.cfg.Trading.ComputeUnitLimit,
		UnitPriceMicroLams: a.cfg.Trading.ComputeUnitPrice,
	})

	rt := router.New(deps.RPC, a.relays(), 0, a.logger)
	if deps.RateLimiter != nil {
		rt.SetLimiter(deps.RateLimiter)
	}
	a.logger.InfoContext(ctx, "submission paths", slog.Any("paths", rt.Paths()), slog.Uint64("max_tip", rt.MaxTip()))

	exec := executor.NewCoordinator(executor.Config{
		SlippageBps: a.cfg.Trading.SlippageBps,
		Retry: confirm.RetryPolicy{
			MaxAttempts: a.cfg.Retry.MaxAttempts,
			Base:        a.cfg.Retry.Base.Duration,
			Max:         a.cfg.Retry.Max.Duration,
		},
		DrainTimeout: a.cfg.Trading.DrainTimeout.Duration,
		LockTTL:      a.cfg.Trading.LockTTL.Duration,
		QueueSize:    a.cfg.Trading.QueueSize,
	}, executor.Deps{
		Catalog: c.catalog,
		Quoter: quote.NewEngine(quote.Params{
			MaxPriceImpactBps: a.cfg.Trading.MaxPriceImpactBps,
			MaxAge:            a.cfg.Trading.SnapshotMaxAge.Duration,
		}),
		Builder:   venues,
		Chain:     deps.RPC,
		Submitter: rt,
		Tracker: confirm.NewTracker(deps.RPC, confirm.Config{
			PollInterval: a.cfg.Confirm.PollInterval.Duration,
			Commitment:   a.cfg.Solana.Commitment,
		}, a.logger),
		Signer:    wallet,
		Positions: c.risk,
	}, a.logger)
	if deps.AttemptStore != nil {
		exec.SetAttemptStore(deps.AttemptStore)
	}
	if deps.LockManager != nil {
		exec.SetLockManager(deps.LockManager)
	}
	exec.SetAlerter(deps.Notifier)

	engine, err := a.buildEngine(ctx, c, exec)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.pipeline.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx, c.pipeline.Events()) })
	g.Go(func() error { return exec.Run(ctx) })
	if deps.Pruner != nil {
		g.Go(func() error { return deps.Pruner.RunCron(ctx, a.cfg.Retention.Cron) })
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c, engine, exec)
	}

	return g.Wait()
}

// MonitorMode runs ingestion and policy decisions without a wallet.
// Intents are logged instead of submitted.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	engine, err := a.buildEngine(ctx, c, strategy.LogSink{Logger: a.logger})
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.pipeline.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx, c.pipeline.Events()) })

	// Another process may be trading against the same stores; follow its
	// position transitions.
	if deps.SignalBus != nil {
		g.Go(func() error { return a.logPositionEvents(ctx, deps.SignalBus) })
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c, engine, nil)
	}

	return g.Wait()
}

// buildCore assembles the shared components, restores persisted positions
// and connects the notification stream.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	c := &core{}

	c.curve = venue.NewLaunchCurve(venue.LaunchCurveConfig{
		Program:        config.PublicKey(a.cfg.Venues.PumpProgram),
		Global:         config.PublicKey(a.cfg.Venues.PumpGlobal),
		FeeRecipient:   config.PublicKey(a.cfg.Venues.PumpFeeRecipient),
		EventAuthority: config.PublicKey(a.cfg.Venues.PumpEventAuthority),
		FeeBps:         a.cfg.Venues.PumpFeeBps,
	})
	hints := make(map[solana.PublicKey]solana.PublicKey, len(a.cfg.Watch.PoolHints))
	for mint, pool := range a.cfg.Watch.PoolHints {
		hints[config.PublicKey(mint)] = config.PublicKey(pool)
	}
	ammConfigs := make([]solana.PublicKey, 0, len(a.cfg.Venues.CPMMAmmConfigs))
	for _, k := range a.cfg.Venues.CPMMAmmConfigs {
		ammConfigs = append(ammConfigs, config.PublicKey(k))
	}
	c.catalog = venue.NewCatalog(deps.RPC, c.curve, venue.PoolSearch{
		Program:    config.PublicKey(a.cfg.Venues.CPMMProgram),
		AmmConfigs: ammConfigs,
		Hints:      hints,
	}, a.logger)

	c.risk = risk.NewController(risk.Config{
		MaxPositions: a.cfg.Trading.MaxConcurrent,
		StopLoss:     decimal.NewFromFloat(a.cfg.Trading.StopLossPct).Div(decimal.NewFromInt(100)),
		TakeProfit:   decimal.NewFromFloat(a.cfg.Trading.TakeProfitPct).Div(decimal.NewFromInt(100)),
	}, a.logger)
	if deps.PositionStore != nil {
		c.risk.WithStores(deps.PositionStore, deps.AttemptStore, deps.AuditStore)
	}
	if deps.SignalBus != nil {
		c.risk.WithBus(deps.SignalBus)
	}
	if deps.Archiver != nil {
		c.risk.WithArchiver(deps.Archiver)
	}
	c.risk.WithAlerter(deps.Notifier)

	review, err := c.risk.Restore(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range review {
		_ = deps.Notifier.Notify(ctx, notify.NeedsReview(p))
	}
	// Restored positions need their venue resolved before exits can be
	// priced; the engine's reconcile loop subscribes them.
	for _, p := range c.risk.Active() {
		if _, err := c.catalog.Discover(ctx, p.Mint); err != nil {
			a.logger.WarnContext(ctx, "restored position venue unresolved",
				slog.String("mint", p.Mint.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	c.stream = solrpc.NewWSClient(solrpc.WSConfig{
		URL:        a.cfg.Solana.WSURL,
		Commitment: "processed",
		Backoff: solrpc.Backoff{
			Min:    a.cfg.Feed.BackoffMin.Duration,
			Max:    a.cfg.Feed.BackoffMax.Duration,
			Factor: a.cfg.Feed.BackoffFactor,
			Jitter: a.cfg.Feed.BackoffJitter,
		},
		MaxReconnects: a.cfg.Feed.MaxReconnects,
		Buffer:        a.cfg.Feed.Buffer,
	}, a.logger)
	c.pipeline = feed.NewPipeline(c.stream, feed.Config{
		Watched:       config.PublicKey(a.cfg.Watch.Target),
		LaunchProgram: config.PublicKey(a.cfg.Watch.LaunchProgram),
		DedupCapacity: a.cfg.Feed.DedupCapacity,
		DedupTTL:      a.cfg.Feed.DedupTTL.Duration,
		Buffer:        a.cfg.Feed.Buffer,
	}, a.logger)
	if deps.SeenSet != nil {
		c.pipeline.SetSeenSet(deps.SeenSet)
	}
	if err := c.pipeline.Start(ctx); err != nil {
		return nil, err
	}

	c.registry = strategy.NewRegistry()
	err = c.registry.Register(strategy.NewMirror(strategy.Config{
		Name:        strategy.MirrorName,
		BuyLamports: a.cfg.Trading.BuyLamports,
		MinDelta:    a.cfg.Trading.MinWatchedDelta,
		BuysOnly:    a.cfg.Trading.MirrorBuysOnly,
		Params:      a.cfg.Trading.Params,
	}, c.risk, a.logger))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (a *App) buildEngine(ctx context.Context, c *core, sink strategy.Sink) (*strategy.Engine, error) {
	engine := strategy.NewEngine(strategy.EngineConfig{
		Reconcile:       a.cfg.Feed.Reconcile.Duration,
		DiscoverTimeout: a.cfg.Feed.DiscoverTimeout.Duration,
	}, c.registry, c.catalog, c.pipeline, c.risk, sink, a.logger)
	if err := engine.SetActive(ctx, a.cfg.Trading.Strategy); err != nil {
		return nil, err
	}
	return engine, nil
}

// relays maps configured relays onto router paths.
func (a *App) relays() []router.Relay {
	out := make([]router.Relay, 0, len(a.cfg.Relays))
	for _, r := range a.cfg.Relays {
		tips := make([]solana.PublicKey, 0, len(r.TipAccounts))
		for _, acct := range r.TipAccounts {
			tips = append(tips, config.PublicKey(acct))
		}
		selector := domain.TipSelector(r.Selector)
		if selector == "" {
			selector = domain.TipRoundRobin
		}
		out = append(out, router.Relay{
			Path: domain.RelayPath{
				Name:        r.Name,
				Endpoint:    r.Endpoint,
				TipLamports: r.TipLamports,
				TipAccounts: tips,
				Selector:    selector,
				Timeout:     r.Timeout.Duration,
				Enabled:     r.Enabled,
			},
			Sender:        solrpc.NewRelay(r.Endpoint),
			RatePerSecond: r.RatePerSecond,
		})
	}
	return out
}

// logPositionEvents logs every transition published on the position bus.
func (a *App) logPositionEvents(ctx context.Context, bus domain.SignalBus) error {
	ch, err := bus.Subscribe(ctx, risk.PositionsChannel)
	if err != nil {
		return fmt.Errorf("monitor mode: subscribe %s: %w", risk.PositionsChannel, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var msg struct {
				Event    string          `json:"event"`
				Position domain.Position `json:"position"`
			}
			if err := json.Unmarshal(payload, &msg); err != nil {
				a.logger.WarnContext(ctx, "undecodable position event", slog.String("error", err.Error()))
				continue
			}
			a.logger.InfoContext(ctx, "position event",
				slog.String("event", msg.Event),
				slog.String("position", msg.Position.ID),
				slog.String("mint", msg.Position.Mint.String()),
				slog.String("status", string(msg.Position.Status)),
			)
		}
	}
}

func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	c *core,
	engine *strategy.Engine,
	exec *executor.Coordinator,
) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, ws.Config{
			Channels: []string{risk.PositionsChannel},
			Status: func() ws.Status {
				return ws.Status{
					Mode:          a.cfg.Mode,
					Strategy:      engine.ActiveName(),
					OpenPositions: len(c.risk.Active()),
				}
			},
			StartedAt: time.Now().UTC(),
		}, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	}

	var history handler.History
	if deps.PositionStore != nil {
		history = deps.PositionStore
	}
	var enqueuer handler.Enqueuer
	if exec != nil {
		enqueuer = exec
	}

	var audit *handler.AuditHandler
	if deps.AuditStore != nil {
		audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		SigningSecret: a.cfg.Server.SigningSecret,
		RateLimit:     a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Positions: handler.NewPositionHandler(c.risk, history, enqueuer, a.logger),
		Intents:   handler.NewIntentHandler(engine),
		Audit:     audit,
	}, hub, limiterOrNil(deps), a.logger)

	g.Go(func() error { return srv.Run(ctx) })
}

func limiterOrNil(deps *Dependencies) middleware.Limiter {
	if deps.RateLimiter == nil {
		return nil
	}
	return deps.RateLimiter
}
