package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/updownlabs/sidepricer/internal/blob/s3"
	"github.com/updownlabs/sidepricer/internal/cache/redis"
	"github.com/updownlabs/sidepricer/internal/config"
	"github.com/updownlabs/sidepricer/internal/crypto"
	"github.com/updownlabs/sidepricer/internal/domain"
	"github.com/updownlabs/sidepricer/internal/notify"
	"github.com/updownlabs/sidepricer/internal/platform/clob"
	"github.com/updownlabs/sidepricer/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore  domain.MarketStore
	FillStore    domain.FillStore
	PricingStore domain.PricingStore
	AuditStore   domain.AuditStore

	// Caches
	BidCache     domain.BidCache
	MarketCache  domain.MarketCache
	PricingCache domain.PricingCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Venue API
	ClobClient *clob.Client

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that require object storage.
func needsS3(mode string) bool {
	switch mode {
	case "scrape", "full":
		return true
	default:
		return false
	}
}

// needsClobAuth returns true for modes that scrape the authenticated trades
// endpoint.
func needsClobAuth(mode string) bool {
	return needsS3(mode)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.FillStore = postgres.NewFillStore(pool)
	deps.PricingStore = postgres.NewPricingStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.BidCache = redis.NewBidCache(redisClient)
	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.PricingCache = redis.NewPricingCache(redisClient, cfg.Redis.CacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)

	// --- S3 blob storage (only for modes that need object storage) ---
	if needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			postgres.NewFillStore(pool),
			postgres.NewPricingStore(pool),
			deps.AuditStore,
		)
	}

	// --- CLOB client ---
	clobClient, err := buildClobClient(ctx, cfg, deps.RateLimiter, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: clob: %w", err)
	}
	deps.ClobClient = clobClient

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

// buildClobClient assembles the venue API client. The signer is optional:
// market metadata endpoints are public, and pre-derived L2 credentials from
// the config can authenticate the trades endpoint without a wallet. When a
// wallet key is present and no credentials are configured, the L2 key is
// derived at startup.
func buildClobClient(ctx context.Context, cfg *config.Config, limiter domain.RateLimiter, logger *slog.Logger) (*clob.Client, error) {
	var signer *crypto.Signer
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("load wallet key: %w", err)
		}
		signer, err = crypto.NewSigner(key, cfg.Clob.ChainID)
		if err != nil {
			return nil, fmt.Errorf("create signer: %w", err)
		}
	}

	var hmac *crypto.HMACAuth
	if cfg.Clob.ApiKey != "" && cfg.Clob.ApiSecret != "" && cfg.Clob.ApiPassphrase != "" {
		hmac = &crypto.HMACAuth{
			Key:        cfg.Clob.ApiKey,
			Secret:     cfg.Clob.ApiSecret,
			Passphrase: cfg.Clob.ApiPassphrase,
		}
	}

	client := clob.NewClient(
		cfg.Clob.Host,
		signer,
		hmac,
		limiter,
		cfg.Clob.RateLimit,
		cfg.Clob.RateWindow.Duration,
	)

	if !client.HasCredentials() && signer != nil {
		if err := client.DeriveAPIKey(ctx); err != nil {
			if needsClobAuth(cfg.Mode) {
				return nil, fmt.Errorf("derive api key: %w", err)
			}
			logger.WarnContext(ctx, "wire: derive api key failed, trades endpoint unavailable",
				slog.String("error", err.Error()),
			)
		}
	}

	if !client.HasCredentials() && needsClobAuth(cfg.Mode) && signer == nil {
		return nil, fmt.Errorf("mode %q requires clob credentials or a wallet key", cfg.Mode)
	}

	return client, nil
}
