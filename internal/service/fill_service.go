package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/updownlabs/sidepricer/internal/domain"
)

// FillService handles fill ingestion and querying.
type FillService struct {
	fills  domain.FillStore
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewFillService creates a FillService with all required dependencies.
func NewFillService(
	fills domain.FillStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *FillService {
	return &FillService{
		fills:  fills,
		bus:    bus,
		audit:  audit,
		logger: logger,
	}
}

// Ingest inserts a batch of fills into the store and publishes one event per
// affected market on the fills channel. Insertion is idempotent on the trade
// ID, so re-scraped pages only count fills not seen before; the returned
// count covers newly inserted rows only. Markets whose fills were all
// duplicates still get an event published, since a re-delivery costs one
// cheap reclassification while a missed one leaves stale pricing.
func (s *FillService) Ingest(ctx context.Context, fills []domain.Fill) (int64, error) {
	if len(fills) == 0 {
		return 0, nil
	}

	inserted, err := s.fills.InsertBatch(ctx, fills)
	if err != nil {
		return 0, fmt.Errorf("fill_service: insert batch: %w", err)
	}

	// One event per market, carrying the batch size for that market.
	perMarket := make(map[string]int)
	for _, f := range fills {
		perMarket[f.MarketID]++
	}
	for marketID, count := range perMarket {
		evt, _ := json.Marshal(map[string]any{
			"event":     "fills_ingested",
			"market_id": marketID,
			"count":     count,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		if pubErr := s.bus.Publish(ctx, domain.ChannelFills, evt); pubErr != nil {
			s.logger.WarnContext(ctx, "fill_service: publish event failed",
				slog.String("market_id", marketID),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	if auditErr := s.audit.Log(ctx, "fills_ingested", map[string]any{
		"received": len(fills),
		"inserted": inserted,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "fill_service: audit log failed",
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "fill_service: ingested fills",
		slog.Int("received", len(fills)),
		slog.Int64("inserted", inserted),
	)

	return inserted, nil
}

// Totals returns the accumulated per-side quantity and cost for a market.
func (s *FillService) Totals(ctx context.Context, marketID string) (domain.SideTotals, error) {
	totals, err := s.fills.Totals(ctx, marketID)
	if err != nil {
		return domain.SideTotals{}, fmt.Errorf("fill_service: totals for %q: %w", marketID, err)
	}
	return totals, nil
}

// GetLastTimestamp returns the timestamp of the most recently ingested fill,
// used to resume incremental scraping.
func (s *FillService) GetLastTimestamp(ctx context.Context) (time.Time, error) {
	ts, err := s.fills.GetLastTimestamp(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("fill_service: get last timestamp: %w", err)
	}
	return ts, nil
}

// ListByMarket returns fills for a specific market with pagination.
func (s *FillService) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	fills, err := s.fills.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("fill_service: list by market %q: %w", marketID, err)
	}
	return fills, nil
}
