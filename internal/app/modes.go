package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/updownlabs/sidepricer/internal/domain"
	"github.com/updownlabs/sidepricer/internal/feed"
	"github.com/updownlabs/sidepricer/internal/pipeline"
	"github.com/updownlabs/sidepricer/internal/server"
	"github.com/updownlabs/sidepricer/internal/server/handler"
	"github.com/updownlabs/sidepricer/internal/server/ws"
	"github.com/updownlabs/sidepricer/internal/service"
)

// services bundles the service layer built on top of the wired dependencies.
type services struct {
	markets *service.MarketService
	fills   *service.FillService
	pricing *service.PricingService
}

func (a *App) buildServices(deps *Dependencies) *services {
	return &services{
		markets: service.NewMarketService(deps.MarketStore, deps.MarketCache, a.logger),
		fills:   service.NewFillService(deps.FillStore, deps.SignalBus, deps.AuditStore, a.logger),
		pricing: service.NewPricingService(
			deps.FillStore, deps.PricingStore, deps.BidCache, deps.PricingCache,
			deps.SignalBus, deps.AuditStore, deps.Notifier, a.logger,
		),
	}
}

// WatchMode runs the live classification loop: the bid feed pushes best-bid
// updates into the cache and triggers recomputes, the feeder reclassifies on
// ingested fills, and a periodic ticker catches anything missed. The HTTP
// server is started when enabled.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	bidFeed, err := a.startWatch(ctx, g, deps, svcs)
	if err != nil {
		return fmt.Errorf("watch mode: %w", err)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs, bidFeed)
	}

	return g.Wait()
}

// ScrapeMode runs the data pipelines only: market metadata refresh, fill
// scraping with raw page dumps, and archival. No live feed or HTTP server.
func (a *App) ScrapeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scrape mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	if !a.cfg.Pipeline.Enabled {
		a.logger.WarnContext(ctx, "pipeline.enabled is false, but scrape mode always runs the pipeline")
	}
	if err := a.startPipeline(ctx, g, deps, svcs); err != nil {
		return fmt.Errorf("scrape mode: %w", err)
	}

	return g.Wait()
}

// ServeMode runs the read-only HTTP and WebSocket API over already-persisted
// data. Nothing is scraped and no feed is connected; recomputes can still be
// forced through the API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startHTTPServer(ctx, g, deps, svcs, nil)

	return g.Wait()
}

// FullMode runs everything: the live feed and recompute loop, the data
// pipelines, and the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	bidFeed, err := a.startWatch(ctx, g, deps, svcs)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	if !a.cfg.Pipeline.Enabled {
		a.logger.WarnContext(ctx, "pipeline.enabled is false, but full mode runs the pipeline")
	}
	if err := a.startPipeline(ctx, g, deps, svcs); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs, bidFeed)
	}

	return g.Wait()
}

// startWatch starts the bid feed, the fills-event recompute feeder, and the
// periodic safety recompute. Returns the feed so callers can report its
// connection state.
func (a *App) startWatch(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) (*feed.BidFeed, error) {
	markets, err := a.watchedMarkets(ctx, svcs)
	if err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		a.logger.WarnContext(ctx, "no markets to watch; feed will idle until markets are synced")
	}

	onBid := func(ctx context.Context, marketID string, side domain.Side, bid *float64, ts time.Time) {
		if _, err := svcs.pricing.Recompute(ctx, marketID); err != nil {
			a.logger.WarnContext(ctx, "recompute after bid update failed",
				slog.String("market_id", marketID),
				slog.String("side", string(side)),
				slog.String("error", err.Error()),
			)
		}
	}

	bidFeed := feed.NewBidFeed(a.cfg.Clob.WsHost, markets, deps.BidCache, onBid, a.logger)
	g.Go(func() error {
		defer bidFeed.Close()
		err := bidFeed.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	feeder := feed.NewRecomputeFeeder(deps.SignalBus, svcs.pricing, a.logger)
	g.Go(func() error {
		err := feeder.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	// Periodic safety recompute over the watched markets.
	interval := a.cfg.Pricing.RecomputeInterval.Duration
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				for _, m := range markets {
					if _, err := svcs.pricing.Recompute(ctx, m.ID); err != nil {
						a.logger.WarnContext(ctx, "periodic recompute failed",
							slog.String("market_id", m.ID),
							slog.String("error", err.Error()),
						)
					}
				}
			}
		}
	})

	return bidFeed, nil
}

// startPipeline starts the orchestrated scrapers and the archiver.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) error {
	if deps.BlobWriter == nil {
		return fmt.Errorf("pipeline requires blob storage")
	}

	marketScraper := pipeline.NewMarketScraper(svcs.markets, deps.ClobClient, a.logger)

	var rawWriter domain.BlobWriter
	if a.cfg.Pipeline.RawDumpEnabled {
		rawWriter = deps.BlobWriter
	}
	fillScraper := pipeline.NewFillScraper(
		deps.ClobClient,
		svcs.fills,
		svcs.markets,
		rawWriter,
		a.cfg.Pricing.Markets,
		a.cfg.Pipeline.FillPageSize,
		a.logger,
	)

	archiver := pipeline.NewArchiver(
		deps.Archiver,
		deps.FillStore,
		deps.PricingStore,
		deps.LockManager,
		a.cfg.Pipeline.ArchiveRetentionDays,
		a.logger,
	)

	orch := pipeline.NewOrchestrator(
		marketScraper,
		fillScraper,
		archiver,
		a.cfg.Pipeline.MarketRefresh.Duration,
		a.cfg.Pipeline.ScrapeInterval.Duration,
		a.cfg.Pipeline.ArchiveInterval.Duration,
		a.logger,
	)

	g.Go(func() error {
		err := orch.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	a.logger.InfoContext(ctx, "pipeline workers started",
		slog.Duration("scrape_interval", a.cfg.Pipeline.ScrapeInterval.Duration),
		slog.Duration("market_refresh", a.cfg.Pipeline.MarketRefresh.Duration),
	)
	return nil
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. bidFeed may be nil when the running mode has no live feed.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services, bidFeed *feed.BidFeed) {
	startedAt := time.Now().UTC()

	var wsConnected func() bool
	if bidFeed != nil {
		wsConnected = bidFeed.Connected
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, startedAt, wsConnected, svcs.markets),
		Markets: handler.NewMarketHandler(svcs.markets, svcs.fills, a.logger),
		Pricing: handler.NewPricingHandler(svcs.pricing, a.cfg.Pricing.FlipLookback.Duration, a.logger),
		Archive: handler.NewArchiveHandler(deps.BlobReader, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.ApiKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// watchedMarkets resolves the markets the live feed should subscribe to:
// the configured pins when set, otherwise every active market in the store.
func (a *App) watchedMarkets(ctx context.Context, svcs *services) ([]domain.Market, error) {
	if len(a.cfg.Pricing.Markets) > 0 {
		markets := make([]domain.Market, 0, len(a.cfg.Pricing.Markets))
		for _, id := range a.cfg.Pricing.Markets {
			m, err := svcs.markets.GetMarket(ctx, id)
			if err != nil {
				a.logger.WarnContext(ctx, "watched market not found, skipping",
					slog.String("market_id", id),
					slog.String("error", err.Error()),
				)
				continue
			}
			markets = append(markets, m)
		}
		return markets, nil
	}

	markets, err := svcs.markets.ListActive(ctx, domain.ListOpts{Limit: 200})
	if err != nil {
		return nil, fmt.Errorf("list active markets: %w", err)
	}
	return markets, nil
}
