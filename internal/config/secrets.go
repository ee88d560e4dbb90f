package config

import "net/url"

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// Solana endpoints often embed a provider API key.
	redactURL(&out.Solana.RPCURL)
	redactURL(&out.Solana.WSURL)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)
	redact(&out.Server.SigningSecret)

	redact(&out.Profiling.AuthToken)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Relays != nil {
		out.Relays = make([]RelayConfig, len(cfg.Relays))
		for i, r := range cfg.Relays {
			r.TipAccounts = append([]string(nil), r.TipAccounts...)
			redactURL(&r.Endpoint)
			out.Relays[i] = r
		}
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Venues.CPMMAmmConfigs != nil {
		out.Venues.CPMMAmmConfigs = make([]string, len(cfg.Venues.CPMMAmmConfigs))
		copy(out.Venues.CPMMAmmConfigs, cfg.Venues.CPMMAmmConfigs)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Profiling.Tags != nil {
		out.Profiling.Tags = make(map[string]string, len(cfg.Profiling.Tags))
		for k, v := range cfg.Profiling.Tags {
			out.Profiling.Tags[k] = v
		}
	}
	if cfg.Watch.PoolHints != nil {
		out.Watch.PoolHints = make(map[string]string, len(cfg.Watch.PoolHints))
		for k, v := range cfg.Watch.PoolHints {
			out.Watch.PoolHints[k] = v
		}
	}
	if cfg.Trading.Params != nil {
		out.Trading.Params = make(map[string]any, len(cfg.Trading.Params))
		for k, v := range cfg.Trading.Params {
			out.Trading.Params[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL keeps scheme and host but hides the path and query, where RPC
// providers put access tokens.
func redactURL(s *string) {
	u, err := url.Parse(*s)
	if err != nil || u.Host == "" {
		redact(s)
		return
	}
	if u.Path == "" && u.RawQuery == "" && u.User == nil {
		return
	}
	*s = u.Scheme + "://" + u.Host + "/" + redacted
}
