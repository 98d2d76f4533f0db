// Package config defines the top-level configuration for sidepricer and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SIDEPRICER_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Clob     ClobConfig     `toml:"clob"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Pricing  PricingConfig  `toml:"pricing"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials used for CLOB authentication.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ClobConfig holds CLOB API endpoints, chain parameters, and optional
// pre-derived L2 credentials. When the credentials are empty they are derived
// at startup from the wallet signature.
type ClobConfig struct {
	Host          string   `toml:"host"`
	WsHost        string   `toml:"ws_host"`
	ChainID       int      `toml:"chain_id"`
	ApiKey        string   `toml:"api_key"`
	ApiSecret     string   `toml:"api_secret"`
	ApiPassphrase string   `toml:"api_passphrase"`
	RateLimit     int      `toml:"rate_limit"`
	RateWindow    duration `toml:"rate_window"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PricingConfig holds classification parameters.
type PricingConfig struct {
	// Markets pins the watched market IDs. Empty means watch every active
	// market known to the store.
	Markets []string `toml:"markets"`
	// RecomputeInterval is the periodic safety recompute; event-driven
	// recomputes happen on every bid update and fill batch regardless.
	RecomputeInterval duration `toml:"recompute_interval"`
	HistoryPageSize   int      `toml:"history_page_size"`
	FlipLookback      duration `toml:"flip_lookback"`
}

// PipelineConfig holds data-pipeline / scraping parameters.
type PipelineConfig struct {
	Enabled              bool     `toml:"enabled"`
	ScrapeInterval       duration `toml:"scrape_interval"`
	MarketRefresh        duration `toml:"market_refresh"`
	FillPageSize         int      `toml:"fill_page_size"`
	RawDumpEnabled       bool     `toml:"raw_dump_enabled"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveInterval      duration `toml:"archive_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters. RateLimit caps requests per
// client IP per RateWindow; zero disables request rate limiting.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	ApiKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Clob: ClobConfig{
			Host:       "https://clob.polymarket.com",
			WsHost:     "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:    137,
			RateLimit:  10,
			RateWindow: duration{time.Second},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			CacheTTL:     duration{15 * time.Minute},
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sidepricer-data",
			ForcePathStyle: true,
		},
		Pricing: PricingConfig{
			Markets:           []string{},
			RecomputeInterval: duration{time.Minute},
			HistoryPageSize:   100,
			FlipLookback:      duration{24 * time.Hour},
		},
		Pipeline: PipelineConfig{
			Enabled:              true,
			ScrapeInterval:       duration{5 * time.Minute},
			MarketRefresh:        duration{30 * time.Minute},
			FillPageSize:         500,
			RawDumpEnabled:       true,
			ArchiveRetentionDays: 90,
			ArchiveInterval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"side_flip", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"watch":  true,
	"scrape": true,
	"serve":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: watch, scrape, serve, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: fills scraping needs either a signing key or pre-derived L2
	// credentials.
	needsAuth := c.Mode == "scrape" || c.Mode == "full"
	if needsAuth {
		hasWallet := c.Wallet.PrivateKey != "" || c.Wallet.EncryptedKeyPath != ""
		hasCreds := c.Clob.ApiKey != "" && c.Clob.ApiSecret != "" && c.Clob.ApiPassphrase != ""
		if !hasWallet && !hasCreds {
			errs = append(errs, "wallet: either a wallet key or full clob api credentials must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Clob endpoints
	if c.Clob.Host == "" {
		errs = append(errs, "clob: host must not be empty")
	}
	if c.Clob.WsHost == "" {
		errs = append(errs, "clob: ws_host must not be empty")
	}
	if c.Clob.ChainID <= 0 {
		errs = append(errs, "clob: chain_id must be positive")
	}
	if c.Clob.RateLimit < 1 {
		errs = append(errs, "clob: rate_limit must be >= 1")
	}

	// Clob credentials: all three fields must be set together, or all empty.
	ck := c.Clob.ApiKey != ""
	cs := c.Clob.ApiSecret != ""
	cp := c.Clob.ApiPassphrase != ""
	if ck || cs || cp {
		if !(ck && cs && cp) {
			errs = append(errs, "clob: api_key, api_secret, and api_passphrase must all be set together")
		}
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.StreamMaxLen < 1 {
		errs = append(errs, "redis: stream_max_len must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Pricing
	if c.Pricing.RecomputeInterval.Duration <= 0 {
		errs = append(errs, "pricing: recompute_interval must be > 0")
	}
	if c.Pricing.HistoryPageSize < 1 {
		errs = append(errs, "pricing: history_page_size must be >= 1")
	}

	// Pipeline
	if c.Pipeline.Enabled {
		if c.Pipeline.ScrapeInterval.Duration <= 0 {
			errs = append(errs, "pipeline: scrape_interval must be > 0 when enabled")
		}
		if c.Pipeline.FillPageSize < 1 {
			errs = append(errs, "pipeline: fill_page_size must be >= 1")
		}
		if c.Pipeline.ArchiveRetentionDays < 1 {
			errs = append(errs, "pipeline: archive_retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0 (0 disables)")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
