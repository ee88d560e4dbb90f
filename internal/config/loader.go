package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults, then applies SOLBOT_*
// environment overrides (a .env file in the working directory counts). Keys
// the file sets that no field reads are an error. The result is not
// validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SOLBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SOLBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.KeypairPath, "SOLBOT_WALLET_KEYPAIR_PATH")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SOLBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SOLBOT_WALLET_KEY_PASSWORD")

	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "SOLBOT_SOLANA_RPC_URL")
	setStr(&cfg.Solana.WSURL, "SOLBOT_SOLANA_WS_URL")
	setStr(&cfg.Solana.Commitment, "SOLBOT_SOLANA_COMMITMENT")

	// ── Watch ──
	setStr(&cfg.Watch.Target, "SOLBOT_WATCH_TARGET")
	setStr(&cfg.Watch.LaunchProgram, "SOLBOT_WATCH_LAUNCH_PROGRAM")

	// ── Trading ──
	setStr(&cfg.Trading.Strategy, "SOLBOT_TRADING_STRATEGY")
	setUint64(&cfg.Trading.BuyLamports, "SOLBOT_TRADING_BUY_LAMPORTS")
	setUint64(&cfg.Trading.SlippageBps, "SOLBOT_TRADING_SLIPPAGE_BPS")
	setFloat64(&cfg.Trading.StopLossPct, "SOLBOT_TRADING_STOP_LOSS_PCT")
	setFloat64(&cfg.Trading.TakeProfitPct, "SOLBOT_TRADING_TAKE_PROFIT_PCT")
	setInt(&cfg.Trading.MaxConcurrent, "SOLBOT_TRADING_MAX_CONCURRENT")
	setUint64(&cfg.Trading.MaxPriceImpactBps, "SOLBOT_TRADING_MAX_PRICE_IMPACT_BPS")
	setDuration(&cfg.Trading.SnapshotMaxAge, "SOLBOT_TRADING_SNAPSHOT_MAX_AGE")
	setUint64(&cfg.Trading.ComputeUnitPrice, "SOLBOT_TRADING_COMPUTE_UNIT_PRICE")
	setBool(&cfg.Trading.MirrorBuysOnly, "SOLBOT_TRADING_MIRROR_BUYS_ONLY")
	setUint64(&cfg.Trading.MinWatchedDelta, "SOLBOT_TRADING_MIN_WATCHED_DELTA")

	// ── Retry ──
	setInt(&cfg.Retry.MaxAttempts, "SOLBOT_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.Base, "SOLBOT_RETRY_BASE")
	setDuration(&cfg.Retry.Max, "SOLBOT_RETRY_MAX")

	// ── Feed ──
	setDuration(&cfg.Feed.BackoffMin, "SOLBOT_FEED_BACKOFF_MIN")
	setDuration(&cfg.Feed.BackoffMax, "SOLBOT_FEED_BACKOFF_MAX")
	setFloat64(&cfg.Feed.BackoffFactor, "SOLBOT_FEED_BACKOFF_FACTOR")
	setFloat64(&cfg.Feed.BackoffJitter, "SOLBOT_FEED_BACKOFF_JITTER")
	setInt(&cfg.Feed.MaxReconnects, "SOLBOT_FEED_MAX_RECONNECTS")
	setInt(&cfg.Feed.DedupCapacity, "SOLBOT_FEED_DEDUP_CAPACITY")
	setDuration(&cfg.Feed.DedupTTL, "SOLBOT_FEED_DEDUP_TTL")

	// ── Confirm ──
	setDuration(&cfg.Confirm.PollInterval, "SOLBOT_CONFIRM_POLL_INTERVAL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SOLBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SOLBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "SOLBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SOLBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SOLBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SOLBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SOLBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SOLBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SOLBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SOLBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SOLBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SOLBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SOLBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SOLBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SOLBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SOLBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SOLBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SOLBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SOLBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "SOLBOT_REDIS_NAMESPACE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SOLBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SOLBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SOLBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SOLBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SOLBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SOLBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SOLBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SOLBOT_S3_FORCE_PATH_STYLE")

	// ── Retention ──
	setBool(&cfg.Retention.Enabled, "SOLBOT_RETENTION_ENABLED")
	setInt(&cfg.Retention.Days, "SOLBOT_RETENTION_DAYS")
	setStr(&cfg.Retention.Cron, "SOLBOT_RETENTION_CRON")

	// ── Profiling ──
	setBool(&cfg.Profiling.Enabled, "SOLBOT_PROFILING_ENABLED")
	setStr(&cfg.Profiling.ServerAddress, "SOLBOT_PROFILING_SERVER_ADDRESS")
	setStr(&cfg.Profiling.AppName, "SOLBOT_PROFILING_APP_NAME")
	setStr(&cfg.Profiling.AuthToken, "SOLBOT_PROFILING_AUTH_TOKEN")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SOLBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SOLBOT_SERVER_PORT")
	setStringSlice(&cfg.Venues.CPMMAmmConfigs, "SOLBOT_VENUES_CPMM_AMM_CONFIGS")
	setStringSlice(&cfg.Server.CORSOrigins, "SOLBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SOLBOT_SERVER_API_KEY")
	setStr(&cfg.Server.SigningSecret, "SOLBOT_SERVER_SIGNING_SECRET")
	setInt(&cfg.Server.RateLimit, "SOLBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SOLBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SOLBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SOLBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SOLBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SOLBOT_MODE")
	setStr(&cfg.LogLevel, "SOLBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
