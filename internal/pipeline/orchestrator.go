package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator manages the pipeline goroutines: market metadata refresh,
// fill scraping, and cold-storage archival.
type Orchestrator struct {
	marketScraper *MarketScraper
	fillScraper   *FillScraper
	archiver      *Archiver // nil when blob storage is not configured

	marketRefresh   time.Duration
	scrapeInterval  time.Duration
	archiveInterval time.Duration
	logger          *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. archiver may be nil, in which
// case the archival loop is skipped.
func NewOrchestrator(
	marketScraper *MarketScraper,
	fillScraper *FillScraper,
	archiver *Archiver,
	marketRefresh time.Duration,
	scrapeInterval time.Duration,
	archiveInterval time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		marketScraper:   marketScraper,
		fillScraper:     fillScraper,
		archiver:        archiver,
		marketRefresh:   marketRefresh,
		scrapeInterval:  scrapeInterval,
		archiveInterval: archiveInterval,
		logger:          logger,
	}
}

// Run starts all sub-pipelines as concurrent goroutines using an errgroup.
// Each goroutine respects ctx cancellation. If any goroutine returns a
// non-context error, the errgroup cancels the shared context and Run returns
// that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("market_refresh", o.marketRefresh),
		slog.Duration("scrape_interval", o.scrapeInterval),
		slog.Duration("archive_interval", o.archiveInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		o.logger.Info("starting market scraper loop")
		err := o.marketScraper.RunLoop(ctx, o.marketRefresh)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("market scraper: %w", err)
	})

	g.Go(func() error {
		o.logger.Info("starting fill scraper loop")
		err := o.fillScraper.RunLoop(ctx, o.scrapeInterval)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("fill scraper: %w", err)
	})

	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting archiver loop")
			err := o.archiver.RunLoop(ctx, o.archiveInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
