// Package config defines the top-level configuration for solbot and provides
// validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/retention"
)

// lamportsPerSOL converts between SOL and lamports.
const lamportsPerSOL = 1_000_000_000

// maxBuyLamports is the largest accepted buy size (1000 SOL).
const maxBuyLamports = 1000 * lamportsPerSOL

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SOLBOT_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Solana    SolanaConfig    `toml:"solana"`
	Watch     WatchConfig     `toml:"watch"`
	Venues    VenuesConfig    `toml:"venues"`
	Trading   TradingConfig   `toml:"trading"`
	Retry     RetryConfig     `toml:"retry"`
	Feed      FeedConfig      `toml:"feed"`
	Confirm   ConfirmConfig   `toml:"confirm"`
	Relays    []RelayConfig   `toml:"relays"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Retention RetentionConfig `toml:"retention"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Profiling ProfilingConfig `toml:"profiling"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the trading keypair source. Exactly one of PrivateKey,
// KeypairPath or EncryptedKeyPath is used, in that order.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	KeypairPath      string `toml:"keypair_path"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SolanaConfig holds cluster endpoints.
type SolanaConfig struct {
	RPCURL     string `toml:"rpc_url"`
	WSURL      string `toml:"ws_url"`
	Commitment string `toml:"commitment"`
}

// WatchConfig selects what the ingestion pipeline subscribes to.
type WatchConfig struct {
	// Target is the wallet whose transactions are mirrored.
	Target string `toml:"target"`
	// LaunchProgram announces new tokens through its logs.
	LaunchProgram string `toml:"launch_program"`
	// PoolHints maps a mint to a known pool address so discovery can skip
	// the curve lookup.
	PoolHints map[string]string `toml:"pool_hints"`
}

// VenuesConfig holds on-chain program addresses for the supported venues.
type VenuesConfig struct {
	PumpProgram        string `toml:"pump_program"`
	PumpGlobal         string `toml:"pump_global"`
	PumpFeeRecipient   string `toml:"pump_fee_recipient"`
	PumpEventAuthority string `toml:"pump_event_authority"`
	PumpFeeBps         uint64 `toml:"pump_fee_bps"`
	CPMMProgram        string `toml:"cpmm_program"`
	// CPMMAmmConfigs are the pool program's fee-tier configs. Pools for a
	// mint are looked up at the address derived from each of them.
	CPMMAmmConfigs []string `toml:"cpmm_amm_configs"`
}

// TradingConfig holds sizing, slippage and exit parameters.
type TradingConfig struct {
	Strategy          string         `toml:"strategy"`
	BuyLamports       uint64         `toml:"buy_lamports"`
	SlippageBps       uint64         `toml:"slippage_bps"`
	StopLossPct       float64        `toml:"stop_loss_pct"`
	TakeProfitPct     float64        `toml:"take_profit_pct"`
	MaxConcurrent     int            `toml:"max_concurrent"`
	MaxPriceImpactBps uint64         `toml:"max_price_impact_bps"`
	SnapshotMaxAge    duration       `toml:"snapshot_max_age"`
	ComputeUnitLimit  uint32         `toml:"compute_unit_limit"`
	ComputeUnitPrice  uint64         `toml:"compute_unit_price"`
	MirrorBuysOnly    bool           `toml:"mirror_buys_only"`
	MinWatchedDelta   uint64         `toml:"min_watched_delta"`
	LockTTL           duration       `toml:"lock_ttl"`
	DrainTimeout      duration       `toml:"drain_timeout"`
	QueueSize         int            `toml:"queue_size"`
	Params            map[string]any `toml:"params"`
}

// RetryConfig bounds resubmission of one position transition.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	Base        duration `toml:"base"`
	Max         duration `toml:"max"`
}

// FeedConfig tunes the notification stream.
type FeedConfig struct {
	BackoffMin      duration `toml:"backoff_min"`
	BackoffMax      duration `toml:"backoff_max"`
	BackoffFactor   float64  `toml:"backoff_factor"`
	BackoffJitter   float64  `toml:"backoff_jitter"`
	MaxReconnects   int      `toml:"max_reconnects"`
	DedupCapacity   int      `toml:"dedup_capacity"`
	DedupTTL        duration `toml:"dedup_ttl"`
	Buffer          int      `toml:"buffer"`
	Reconcile       duration `toml:"reconcile"`
	DiscoverTimeout duration `toml:"discover_timeout"`
}

// ConfirmConfig tunes signature status polling.
type ConfirmConfig struct {
	PollInterval duration `toml:"poll_interval"`
}

// RelayConfig describes one private submission relay.
type RelayConfig struct {
	Name          string   `toml:"name"`
	Endpoint      string   `toml:"endpoint"`
	TipLamports   uint64   `toml:"tip_lamports"`
	TipAccounts   []string `toml:"tip_accounts"`
	Selector      string   `toml:"selector"`
	Enabled       bool     `toml:"enabled"`
	Timeout       duration `toml:"timeout"`
	RatePerSecond int      `toml:"rate_per_second"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// Namespace prefixes every key and channel.
	Namespace string `toml:"namespace"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RetentionConfig controls pruning of archived terminal positions.
type RetentionConfig struct {
	Enabled bool   `toml:"enabled"`
	Days    int    `toml:"days"`
	Cron    string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "400ms" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled       bool     `toml:"enabled"`
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	APIKey        string   `toml:"api_key"`
	SigningSecret string   `toml:"signing_secret"`
	// RateLimit is requests per minute per client. Zero disables limiting.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ProfilingConfig pushes continuous CPU and heap profiles to a Pyroscope
// server.
type ProfilingConfig struct {
	Enabled       bool              `toml:"enabled"`
	ServerAddress string            `toml:"server_address"`
	AppName       string            `toml:"app_name"`
	AuthToken     string            `toml:"auth_token"`
	Tags          map[string]string `toml:"tags"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in configs/config.example.toml.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:     "https://api.mainnet-beta.solana.com",
			WSURL:      "wss://api.mainnet-beta.solana.com",
			Commitment: "confirmed",
		},
		Watch: WatchConfig{
			LaunchProgram: "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P",
		},
		Venues: VenuesConfig{
			PumpProgram:        "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P",
			PumpGlobal:         "4wTV1YmiEkRvAtNtsSGPtUrqRYQMe5SKy2uB4Jjaxnjf",
			PumpFeeRecipient:   "CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM",
			PumpEventAuthority: "Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1",
			PumpFeeBps:         100,
			CPMMProgram:        "CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C",
			CPMMAmmConfigs:     []string{"D4FPEruKEHrG5TenZ2mpDGEfu1iUvTiqBxvpU8HLBvC2"},
		},
		Trading: TradingConfig{
			Strategy:          "mirror",
			BuyLamports:       10_000_000,
			SlippageBps:       500,
			StopLossPct:       20,
			TakeProfitPct:     50,
			MaxConcurrent:     3,
			MaxPriceImpactBps: 1500,
			SnapshotMaxAge:    duration{2 * time.Second},
			ComputeUnitLimit:  200_000,
			ComputeUnitPrice:  100_000,
			MinWatchedDelta:   1,
			LockTTL:           duration{3 * time.Minute},
			DrainTimeout:      duration{90 * time.Second},
			QueueSize:         256,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Base:        duration{500 * time.Millisecond},
			Max:         duration{5 * time.Second},
		},
		Feed: FeedConfig{
			BackoffMin:      duration{500 * time.Millisecond},
			BackoffMax:      duration{30 * time.Second},
			BackoffFactor:   2.0,
			BackoffJitter:   0.2,
			MaxReconnects:   0,
			DedupCapacity:   10_000,
			DedupTTL:        duration{5 * time.Minute},
			Buffer:          1024,
			Reconcile:       duration{2 * time.Second},
			DiscoverTimeout: duration{5 * time.Second},
		},
		Confirm: ConfirmConfig{
			PollInterval: duration{400 * time.Millisecond},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			Namespace:  "solbot",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "solbot",
			User:          "solbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Retention: RetentionConfig{
			Days: 30,
			Cron: "0 3 * * *",
		},
		Server: ServerConfig{
			Port:      8080,
			RateLimit: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_opened", "trade_closed", "trade_failed", "submission_exhausted", "stuck_position", "position_needs_review"},
		},
		Profiling: ProfilingConfig{
			ServerAddress: "http://localhost:4040",
			AppName:       "solbot",
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

var validSelectors = map[string]bool{
	"":            true,
	"round_robin": true,
	"random":      true,
}

// Validate checks the Config for logical consistency and returns a combined
// error describing every problem found, or nil if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("mode: must be trade or monitor, got %q", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("log_level: must be debug, info, warn or error, got %q", c.LogLevel))
	}

	// Wallet: monitor mode never signs.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Wallet.PrivateKey == "" && c.Wallet.KeypairPath == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: one of private_key, keypair_path or encrypted_key_path is required in trade mode")
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Solana
	if !validURL(c.Solana.RPCURL, "http", "https") {
		errs = append(errs, fmt.Sprintf("solana: rpc_url must be an http(s) URL, got %q", c.Solana.RPCURL))
	}
	if !validURL(c.Solana.WSURL, "ws", "wss") {
		errs = append(errs, fmt.Sprintf("solana: ws_url must be a ws(s) URL, got %q", c.Solana.WSURL))
	}
	if !validCommitments[c.Solana.Commitment] {
		errs = append(errs, fmt.Sprintf("solana: commitment must be processed, confirmed or finalized, got %q", c.Solana.Commitment))
	}

	// Watch
	if c.Watch.Target == "" && c.Watch.LaunchProgram == "" {
		errs = append(errs, "watch: at least one of target or launch_program must be set")
	}
	checkKey(&errs, "watch.target", c.Watch.Target, false)
	checkKey(&errs, "watch.launch_program", c.Watch.LaunchProgram, false)
	for mint, pool := range c.Watch.PoolHints {
		checkKey(&errs, "watch.pool_hints key", mint, true)
		checkKey(&errs, "watch.pool_hints."+mint, pool, true)
	}

	// Venues
	checkKey(&errs, "venues.pump_program", c.Venues.PumpProgram, true)
	checkKey(&errs, "venues.pump_global", c.Venues.PumpGlobal, true)
	checkKey(&errs, "venues.pump_fee_recipient", c.Venues.PumpFeeRecipient, true)
	checkKey(&errs, "venues.pump_event_authority", c.Venues.PumpEventAuthority, true)
	checkKey(&errs, "venues.cpmm_program", c.Venues.CPMMProgram, true)
	for i, k := range c.Venues.CPMMAmmConfigs {
		checkKey(&errs, fmt.Sprintf("venues.cpmm_amm_configs[%d]", i), k, true)
	}
	if c.Venues.PumpFeeBps >= 10_000 {
		errs = append(errs, "venues: pump_fee_bps must be below 10000")
	}

	// Trading
	if c.Trading.BuyLamports == 0 || c.Trading.BuyLamports > maxBuyLamports {
		errs = append(errs, fmt.Sprintf("trading: buy_lamports must be in (0, %d] (1000 SOL), got %d", uint64(maxBuyLamports), c.Trading.BuyLamports))
	}
	if c.Trading.SlippageBps >= 10_000 {
		errs = append(errs, "trading: slippage_bps must be below 10000")
	}
	if c.Trading.StopLossPct < 0 || c.Trading.StopLossPct >= 100 {
		errs = append(errs, "trading: stop_loss_pct must be in [0, 100)")
	}
	if c.Trading.TakeProfitPct < 0 {
		errs = append(errs, "trading: take_profit_pct must be >= 0")
	}
	if c.Trading.MaxConcurrent < 1 {
		errs = append(errs, "trading: max_concurrent must be >= 1")
	}
	if c.Trading.MaxPriceImpactBps > 10_000 {
		errs = append(errs, "trading: max_price_impact_bps must not exceed 10000")
	}
	if c.Trading.SnapshotMaxAge.Duration <= 0 {
		errs = append(errs, "trading: snapshot_max_age must be > 0")
	}

	// Retry
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry: max_attempts must be >= 1")
	}
	if c.Retry.Max.Duration > 0 && c.Retry.Base.Duration > c.Retry.Max.Duration {
		errs = append(errs, "retry: base must not exceed max")
	}

	// Feed
	if c.Feed.BackoffMin.Duration <= 0 || c.Feed.BackoffMax.Duration < c.Feed.BackoffMin.Duration {
		errs = append(errs, "feed: backoff_min must be > 0 and backoff_max >= backoff_min")
	}
	if c.Feed.BackoffFactor < 1 {
		errs = append(errs, "feed: backoff_factor must be >= 1")
	}
	if c.Feed.BackoffJitter < 0 || c.Feed.BackoffJitter >= 1 {
		errs = append(errs, "feed: backoff_jitter must be in [0, 1)")
	}
	if c.Feed.DedupCapacity < 1 {
		errs = append(errs, "feed: dedup_capacity must be >= 1")
	}
	if c.Feed.DedupTTL.Duration <= 0 {
		errs = append(errs, "feed: dedup_ttl must be > 0")
	}

	// Confirm
	if c.Confirm.PollInterval.Duration <= 0 {
		errs = append(errs, "confirm: poll_interval must be > 0")
	}

	// Relays
	names := make(map[string]bool, len(c.Relays))
	for i, r := range c.Relays {
		label := fmt.Sprintf("relays[%d]", i)
		if r.Name == "" {
			errs = append(errs, label+": name must not be empty")
		} else if names[r.Name] || r.Name == "default" {
			errs = append(errs, fmt.Sprintf("%s: duplicate or reserved name %q", label, r.Name))
		}
		names[r.Name] = true
		if !r.Enabled {
			continue
		}
		if !validURL(r.Endpoint, "http", "https") {
			errs = append(errs, fmt.Sprintf("%s: endpoint must be an http(s) URL, got %q", label, r.Endpoint))
		}
		if r.TipLamports > 0 && len(r.TipAccounts) == 0 {
			errs = append(errs, label+": tip_accounts are required when tip_lamports is set")
		}
		for _, acct := range r.TipAccounts {
			checkKey(&errs, label+".tip_accounts", acct, true)
		}
		if !validSelectors[r.Selector] {
			errs = append(errs, fmt.Sprintf("%s: selector must be round_robin or random, got %q", label, r.Selector))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Retention: only prune what has been archived.
	if c.Retention.Enabled {
		if !c.Postgres.Enabled || !c.S3.Enabled {
			errs = append(errs, "retention: requires postgres and s3 to be enabled")
		}
		if c.Retention.Days < 1 {
			errs = append(errs, "retention: days must be >= 1")
		}
		if err := retention.ValidateCron(c.Retention.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("retention: cron: %v", err))
		}
	}

	if c.Profiling.Enabled {
		if !validURL(c.Profiling.ServerAddress, "http", "https") {
			errs = append(errs, fmt.Sprintf("profiling: server_address must be an http(s) URL, got %q", c.Profiling.ServerAddress))
		}
		if c.Profiling.AppName == "" {
			errs = append(errs, "profiling: app_name is required")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validURL(raw string, schemes ...string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return true
		}
	}
	return false
}

func checkKey(errs *[]string, field, value string, required bool) {
	if value == "" {
		if required {
			*errs = append(*errs, field+": must not be empty")
		}
		return
	}
	if _, err := solana.PublicKeyFromBase58(value); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid public key %q", field, value))
	}
}

// PublicKey parses a base58 address that Validate has already accepted. It
// returns the zero key for an empty string.
func PublicKey(s string) solana.PublicKey {
	if s == "" {
		return solana.PublicKey{}
	}
	return solana.MustPublicKeyFromBase58(s)
}
