package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/solbot/internal/blob/s3"
	"github.com/alanyoungcy/solbot/internal/cache/redis"
	"github.com/alanyoungcy/solbot/internal/config"
	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/notify"
	"github.com/alanyoungcy/solbot/internal/platform/solrpc"
	"github.com/alanyoungcy/solbot/internal/retention"
	"github.com/alanyoungcy/solbot/internal/server/handler"
	"github.com/alanyoungcy/solbot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. Everything
// except RPC and Notifier is optional and nil when its section is disabled.
type Dependencies struct {
	RPC *solrpc.Client

	// Stores
	PositionStore domain.PositionStore
	Pruner        *retention.Pruner
	AttemptStore  domain.AttemptStore
	AuditStore    domain.AuditStore

	// Caches
	RateLimiter *redis.RateLimiter
	LockManager domain.LockManager
	SeenSet     domain.SeenSet
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.PositionArchiver

	// Notifications
	Notifier *notify.Notifier

	// Checks are reported by the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Solana RPC ---
	deps.RPC = solrpc.New(cfg.Solana.RPCURL, cfg.Solana.Commitment)
	if err := deps.RPC.Health(ctx); err != nil {
		// A lagging node still serves reads; the health endpoint keeps
		// reporting it.
		logger.WarnContext(ctx, "wire: rpc health check failed", slog.String("error", err.Error()))
	}
	deps.Checks["rpc"] = deps.RPC.Health

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		positions := postgres.NewPositionStore(pool)
		deps.PositionStore = positions
		deps.AttemptStore = postgres.NewAttemptStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		if cfg.Retention.Enabled {
			deps.Pruner = retention.NewPruner(positions, cfg.Retention.Days, logger)
		}
		deps.Checks["postgres"] = pool.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			TLSEnabled:  cfg.Redis.TLSEnabled,
			Namespace:   cfg.Redis.Namespace,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SeenSet = redis.NewSeenSet(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewPositionArchiver(s3blob.NewWriter(s3Client), deps.AuditStore)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
