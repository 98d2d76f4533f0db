package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/updownlabs/sidepricer/internal/domain"
	"github.com/updownlabs/sidepricer/internal/platform/clob"
)

// maxTradePages caps cursor-following per market per scrape run.
const maxTradePages = 200

// TradesFetcher retrieves one page of the operator's fills for a market.
type TradesFetcher interface {
	ListTrades(ctx context.Context, market string, after time.Time, cursor string) (clob.TradesPage, []byte, error)
}

// FillIngester stores scraped fills and tracks the ingestion cursor.
type FillIngester interface {
	Ingest(ctx context.Context, fills []domain.Fill) (int64, error)
	GetLastTimestamp(ctx context.Context) (time.Time, error)
}

// MarketDirectory resolves the markets whose fills should be scraped.
type MarketDirectory interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
}

// FillScraper pulls the operator's fills from the authenticated trades
// endpoint, optionally dumps each raw response page to object storage, and
// hands the converted fills to the ingester. Downstream reclassification is
// driven by the fills events the ingester publishes.
type FillScraper struct {
	fetcher TradesFetcher
	fills   FillIngester
	markets MarketDirectory
	writer  domain.BlobWriter // nil disables raw page dumps

	watched  []string // market IDs; empty means all active markets
	pageSize int
	logger   *slog.Logger
}

// NewFillScraper creates a new FillScraper. writer may be nil to disable raw
// page dumps. watched limits scraping to the given market IDs; when empty,
// every active market in the store is scraped.
func NewFillScraper(
	fetcher TradesFetcher,
	fills FillIngester,
	markets MarketDirectory,
	writer domain.BlobWriter,
	watched []string,
	pageSize int,
	logger *slog.Logger,
) *FillScraper {
	return &FillScraper{
		fetcher:  fetcher,
		fills:    fills,
		markets:  markets,
		writer:   writer,
		watched:  watched,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Run executes a single scrape run over all watched markets, ingesting fills
// matched after the given time. It returns the number of fills handed to the
// ingester and the latest fill timestamp seen, so callers can advance their
// cursor.
func (s *FillScraper) Run(ctx context.Context, since time.Time) (int, time.Time, error) {
	markets, err := s.resolveMarkets(ctx)
	if err != nil {
		return 0, since, err
	}

	total := 0
	latest := since

	for _, m := range markets {
		n, ts, err := s.scrapeMarket(ctx, m, since)
		if err != nil {
			// One market failing should not starve the rest.
			s.logger.Error("fill scrape failed for market",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		total += n
		if ts.After(latest) {
			latest = ts
		}
	}

	s.logger.Info("fill scrape complete",
		slog.Int("markets", len(markets)),
		slog.Int("fills", total),
	)
	return total, latest, nil
}

// RunLoop runs the fill scraper on a repeating interval until the context is
// cancelled, resuming from the last ingested fill timestamp.
func (s *FillScraper) RunLoop(ctx context.Context, interval time.Duration) error {
	since, err := s.fills.GetLastTimestamp(ctx)
	if err != nil || since.IsZero() {
		if err != nil {
			s.logger.Warn("could not get last fill timestamp, starting from 24h ago",
				slog.String("error", err.Error()),
			)
		}
		since = time.Now().UTC().Add(-24 * time.Hour)
	}

	// Run immediately on start.
	if _, latest, err := s.Run(ctx, since); err != nil {
		s.logger.Error("fill scrape failed", slog.String("error", err.Error()))
	} else {
		since = latest
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("fill scraper loop stopped")
			return ctx.Err()
		case <-ticker.C:
			_, latest, err := s.Run(ctx, since)
			if err != nil {
				s.logger.Error("fill scrape failed", slog.String("error", err.Error()))
				continue
			}
			since = latest
		}
	}
}

// scrapeMarket follows trade cursors for one market, dumping raw pages and
// ingesting converted fills. Returns the fill count and latest timestamp.
func (s *FillScraper) scrapeMarket(ctx context.Context, m domain.Market, since time.Time) (int, time.Time, error) {
	var batch []domain.Fill
	latest := since
	cursor := ""

	for page := 0; page < maxTradePages; page++ {
		if err := ctx.Err(); err != nil {
			return 0, since, fmt.Errorf("fill scraper context cancelled: %w", err)
		}

		tp, raw, err := s.fetcher.ListTrades(ctx, m.ID, since, cursor)
		if err != nil {
			return 0, since, fmt.Errorf("fetching trades for %s at cursor %q: %w", m.ID, cursor, err)
		}

		if s.writer != nil && len(tp.Data) > 0 {
			s.dumpRawPage(ctx, m.ID, page, raw)
		}

		for i := range tp.Data {
			fill, convErr := tp.Data[i].ToDomainFill(m)
			if convErr != nil {
				s.logger.Warn("skipping trade on unknown asset",
					slog.String("market_id", m.ID),
					slog.String("trade_id", tp.Data[i].ID),
					slog.String("asset_id", tp.Data[i].AssetID),
				)
				continue
			}
			batch = append(batch, fill)
			if fill.Timestamp.After(latest) {
				latest = fill.Timestamp
			}
		}

		if tp.NextCursor == "" {
			break
		}
		cursor = tp.NextCursor
	}

	if len(batch) == 0 {
		return 0, latest, nil
	}

	if _, err := s.fills.Ingest(ctx, batch); err != nil {
		return 0, since, fmt.Errorf("ingesting %d fills for %s: %w", len(batch), m.ID, err)
	}

	return len(batch), latest, nil
}

// dumpRawPage uploads one raw trades response to object storage, partitioned
// by market and scrape day. Failures are logged; the scrape continues.
func (s *FillScraper) dumpRawPage(ctx context.Context, marketID string, page int, raw []byte) {
	path := fmt.Sprintf("raw/trades/%s/%s/page-%03d.json",
		marketID, time.Now().UTC().Format("2006-01-02"), page)
	if err := s.writer.Put(ctx, path, bytes.NewReader(raw), "application/json"); err != nil {
		s.logger.Warn("raw page dump failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// resolveMarkets loads the watched markets, or every active market when no
// watch list is configured.
func (s *FillScraper) resolveMarkets(ctx context.Context) ([]domain.Market, error) {
	if len(s.watched) == 0 {
		markets, err := s.markets.ListActive(ctx, domain.ListOpts{Limit: s.pageSize})
		if err != nil {
			return nil, fmt.Errorf("listing active markets: %w", err)
		}
		return markets, nil
	}

	markets := make([]domain.Market, 0, len(s.watched))
	for _, id := range s.watched {
		m, err := s.markets.GetMarket(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("watched market not found, skipping",
					slog.String("market_id", id),
				)
				continue
			}
			return nil, fmt.Errorf("resolving watched market %s: %w", id, err)
		}
		markets = append(markets, m)
	}
	return markets, nil
}
