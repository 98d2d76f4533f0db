package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SIDEPRICER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SIDEPRICER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SIDEPRICER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SIDEPRICER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SIDEPRICER_WALLET_KEY_PASSWORD")

	// ── Clob ──
	setStr(&cfg.Clob.Host, "SIDEPRICER_CLOB_HOST")
	setStr(&cfg.Clob.WsHost, "SIDEPRICER_CLOB_WS_HOST")
	setInt(&cfg.Clob.ChainID, "SIDEPRICER_CLOB_CHAIN_ID")
	setStr(&cfg.Clob.ApiKey, "SIDEPRICER_CLOB_API_KEY")
	setStr(&cfg.Clob.ApiSecret, "SIDEPRICER_CLOB_API_SECRET")
	setStr(&cfg.Clob.ApiPassphrase, "SIDEPRICER_CLOB_API_PASSPHRASE")
	setInt(&cfg.Clob.RateLimit, "SIDEPRICER_CLOB_RATE_LIMIT")
	setDuration(&cfg.Clob.RateWindow, "SIDEPRICER_CLOB_RATE_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SIDEPRICER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "SIDEPRICER_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SIDEPRICER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SIDEPRICER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SIDEPRICER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SIDEPRICER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SIDEPRICER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SIDEPRICER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SIDEPRICER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SIDEPRICER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SIDEPRICER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SIDEPRICER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIDEPRICER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIDEPRICER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIDEPRICER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SIDEPRICER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SIDEPRICER_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "SIDEPRICER_REDIS_CACHE_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "SIDEPRICER_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SIDEPRICER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SIDEPRICER_S3_REGION")
	setStr(&cfg.S3.Bucket, "SIDEPRICER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SIDEPRICER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SIDEPRICER_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "SIDEPRICER_S3_FORCE_PATH_STYLE")

	// ── Pricing ──
	setStringSlice(&cfg.Pricing.Markets, "SIDEPRICER_PRICING_MARKETS")
	setDuration(&cfg.Pricing.RecomputeInterval, "SIDEPRICER_PRICING_RECOMPUTE_INTERVAL")
	setInt(&cfg.Pricing.HistoryPageSize, "SIDEPRICER_PRICING_HISTORY_PAGE_SIZE")
	setDuration(&cfg.Pricing.FlipLookback, "SIDEPRICER_PRICING_FLIP_LOOKBACK")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "SIDEPRICER_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.ScrapeInterval, "SIDEPRICER_PIPELINE_SCRAPE_INTERVAL")
	setDuration(&cfg.Pipeline.MarketRefresh, "SIDEPRICER_PIPELINE_MARKET_REFRESH")
	setInt(&cfg.Pipeline.FillPageSize, "SIDEPRICER_PIPELINE_FILL_PAGE_SIZE")
	setBool(&cfg.Pipeline.RawDumpEnabled, "SIDEPRICER_PIPELINE_RAW_DUMP_ENABLED")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "SIDEPRICER_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Pipeline.ArchiveInterval, "SIDEPRICER_PIPELINE_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SIDEPRICER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SIDEPRICER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SIDEPRICER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ApiKey, "SIDEPRICER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SIDEPRICER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SIDEPRICER_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SIDEPRICER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIDEPRICER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIDEPRICER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIDEPRICER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SIDEPRICER_MODE")
	setStr(&cfg.LogLevel, "SIDEPRICER_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
