// Package pipeline contains the background jobs: market metadata refresh,
// fill scraping, and cold-storage archival.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/updownlabs/sidepricer/internal/domain"
)

// MarketSyncer persists a batch of markets to the store.
type MarketSyncer interface {
	SyncMarkets(ctx context.Context, markets []domain.Market) error
}

// MarketPager retrieves one page of markets from the venue, returning the
// cursor of the next page. An empty cursor means the listing is exhausted.
type MarketPager interface {
	ListMarkets(ctx context.Context, cursor string) ([]domain.Market, string, error)
}

// MarketScraper refreshes market metadata from the CLOB and syncs it to the
// store.
type MarketScraper struct {
	marketSvc MarketSyncer
	fetcher   MarketPager
	logger    *slog.Logger
}

// NewMarketScraper creates a new MarketScraper.
func NewMarketScraper(syncer MarketSyncer, fetcher MarketPager, logger *slog.Logger) *MarketScraper {
	return &MarketScraper{
		marketSvc: syncer,
		fetcher:   fetcher,
		logger:    logger,
	}
}

// Run executes a single scrape run that follows cursors through the full
// markets listing and syncs each page to the store.
func (s *MarketScraper) Run(ctx context.Context) error {
	const maxPages = 500
	cursor := ""
	totalSynced := 0

	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("market scraper context cancelled: %w", err)
		}

		markets, next, err := s.fetcher.ListMarkets(ctx, cursor)
		if err != nil {
			return fmt.Errorf("fetching markets at cursor %q: %w", cursor, err)
		}

		if len(markets) > 0 {
			if err := s.marketSvc.SyncMarkets(ctx, markets); err != nil {
				return fmt.Errorf("syncing %d markets at cursor %q: %w", len(markets), cursor, err)
			}
			totalSynced += len(markets)
			s.logger.Info("synced market batch",
				slog.Int("batch_size", len(markets)),
				slog.Int("total_synced", totalSynced),
			)
		}

		if next == "" {
			s.logger.Info("market scrape complete", slog.Int("total_synced", totalSynced))
			return nil
		}
		cursor = next
	}

	return fmt.Errorf("market scraper: listing did not terminate within %d pages", maxPages)
}

// RunLoop runs the market scraper on a repeating interval until the context
// is cancelled.
func (s *MarketScraper) RunLoop(ctx context.Context, interval time.Duration) error {
	// Run immediately on start.
	if err := s.Run(ctx); err != nil {
		s.logger.Error("market scrape failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("market scraper loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				s.logger.Error("market scrape failed", slog.String("error", err.Error()))
			}
		}
	}
}
