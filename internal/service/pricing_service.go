package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/updownlabs/sidepricer/internal/domain"
)

// Alerter delivers operator notifications for selected event types.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// PricingService is the heart of the application: it assembles the
// per-market snapshot from fill totals and cached bids, classifies the
// expensive and cheap sides, persists the result, and fans it out over the
// signal bus. A classification whose expensive side differs from the
// previous record is a flip and additionally raises a flip event, an audit
// entry, and an operator alert.
type PricingService struct {
	fills    domain.FillStore
	pricing  domain.PricingStore
	bids     domain.BidCache
	cache    domain.PricingCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Alerter // may be nil
	logger   *slog.Logger
}

// NewPricingService creates a PricingService. notifier may be nil when no
// alert channels are configured.
func NewPricingService(
	fills domain.FillStore,
	pricing domain.PricingStore,
	bids domain.BidCache,
	cache domain.PricingCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier Alerter,
	logger *slog.Logger,
) *PricingService {
	return &PricingService{
		fills:    fills,
		pricing:  pricing,
		bids:     bids,
		cache:    cache,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
	}
}

// Recompute classifies the market's sides from its current fill totals and
// best bids, persists the record, and publishes it. It returns the new
// record.
func (s *PricingService) Recompute(ctx context.Context, marketID string) (domain.PricingRecord, error) {
	totals, err := s.fills.Totals(ctx, marketID)
	if err != nil {
		return domain.PricingRecord{}, fmt.Errorf("pricing_service: totals for %q: %w", marketID, err)
	}

	upBid, downBid, err := s.bids.GetBids(ctx, marketID)
	if err != nil {
		// A bid cache outage degrades to average-only pricing rather than
		// blocking classification.
		s.logger.WarnContext(ctx, "pricing_service: bid lookup failed, using averages",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		upBid, downBid = nil, nil
	}

	pricing := domain.ClassifySides(totals.Snapshot(upBid, downBid))

	flipped := false
	prev, err := s.pricing.Latest(ctx, marketID)
	switch {
	case err == nil:
		flipped = prev.Pricing.ExpensiveSide != pricing.ExpensiveSide
	case errors.Is(err, domain.ErrNotFound):
		// First classification for this market is never a flip.
	default:
		return domain.PricingRecord{}, fmt.Errorf("pricing_service: latest for %q: %w", marketID, err)
	}

	rec := domain.PricingRecord{
		ID:         uuid.NewString(),
		MarketID:   marketID,
		Pricing:    pricing,
		Flipped:    flipped,
		ComputedAt: time.Now().UTC(),
	}

	if err := s.pricing.Insert(ctx, rec); err != nil {
		return domain.PricingRecord{}, fmt.Errorf("pricing_service: insert record: %w", err)
	}

	if cacheErr := s.cache.Set(ctx, rec); cacheErr != nil {
		s.logger.WarnContext(ctx, "pricing_service: cache set failed",
			slog.String("market_id", marketID),
			slog.String("error", cacheErr.Error()),
		)
	}

	s.publishRecord(ctx, rec)

	if flipped {
		s.handleFlip(ctx, rec)
	}

	s.logger.InfoContext(ctx, "pricing_service: classified sides",
		slog.String("market_id", marketID),
		slog.String("expensive_side", string(pricing.ExpensiveSide)),
		slog.Bool("flipped", flipped),
	)

	return rec, nil
}

// Latest returns the most recent classification for a market, checking the
// cache first and falling back to the persistent store.
func (s *PricingService) Latest(ctx context.Context, marketID string) (domain.PricingRecord, error) {
	rec, err := s.cache.Get(ctx, marketID)
	if err == nil {
		return rec, nil
	}

	rec, err = s.pricing.Latest(ctx, marketID)
	if err != nil {
		return domain.PricingRecord{}, fmt.Errorf("pricing_service: latest for %q: %w", marketID, err)
	}

	if cacheErr := s.cache.Set(ctx, rec); cacheErr != nil {
		s.logger.WarnContext(ctx, "pricing_service: cache set failed",
			slog.String("market_id", marketID),
			slog.String("error", cacheErr.Error()),
		)
	}

	return rec, nil
}

// History returns classification records for a market with pagination.
func (s *PricingService) History(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PricingRecord, error) {
	recs, err := s.pricing.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("pricing_service: history for %q: %w", marketID, err)
	}
	return recs, nil
}

// Flips returns recent flip records across all markets.
func (s *PricingService) Flips(ctx context.Context, since time.Time, limit int) ([]domain.PricingRecord, error) {
	recs, err := s.pricing.ListFlips(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("pricing_service: list flips: %w", err)
	}
	return recs, nil
}

// Events reads classification events from the durable pricing stream,
// starting after lastID. Consumers that poll pass the ID of the last event
// they processed to catch up after a disconnect; "0" reads from the oldest
// retained entry.
func (s *PricingService) Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "" {
		lastID = "0"
	}
	msgs, err := s.bus.StreamRead(ctx, domain.StreamPricing, lastID, count)
	if err != nil {
		return nil, fmt.Errorf("pricing_service: read events after %q: %w", lastID, err)
	}
	return msgs, nil
}

// publishRecord fans a classification out over the pub/sub channel and the
// durable stream. Publish failures are logged, never fatal.
func (s *PricingService) publishRecord(ctx context.Context, rec domain.PricingRecord) {
	evt, _ := json.Marshal(map[string]any{
		"event":           "pricing",
		"record_id":       rec.ID,
		"market_id":       rec.MarketID,
		"expensive_side":  string(rec.Pricing.ExpensiveSide),
		"cheap_side":      string(rec.Pricing.CheapSide),
		"avg_up_price":    rec.Pricing.AvgUpPrice,
		"avg_down_price":  rec.Pricing.AvgDownPrice,
		"up_live_price":   rec.Pricing.UpLivePrice,
		"down_live_price": rec.Pricing.DownLivePrice,
		"expensive_qty":   rec.Pricing.ExpensiveQty,
		"cheap_qty":       rec.Pricing.CheapQty,
		"flipped":         rec.Flipped,
		"computed_at":     rec.ComputedAt.Format(time.RFC3339Nano),
	})

	if err := s.bus.Publish(ctx, domain.ChannelPricing, evt); err != nil {
		s.logger.WarnContext(ctx, "pricing_service: publish failed",
			slog.String("market_id", rec.MarketID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamPricing, evt); err != nil {
		s.logger.WarnContext(ctx, "pricing_service: stream append failed",
			slog.String("market_id", rec.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

// handleFlip raises the flip channel event, audit entry, and operator alert
// for a record whose expensive side changed.
func (s *PricingService) handleFlip(ctx context.Context, rec domain.PricingRecord) {
	evt, _ := json.Marshal(map[string]any{
		"event":          "side_flip",
		"record_id":      rec.ID,
		"market_id":      rec.MarketID,
		"expensive_side": string(rec.Pricing.ExpensiveSide),
		"cheap_side":     string(rec.Pricing.CheapSide),
		"computed_at":    rec.ComputedAt.Format(time.RFC3339Nano),
	})

	if err := s.bus.Publish(ctx, domain.ChannelFlips, evt); err != nil {
		s.logger.WarnContext(ctx, "pricing_service: publish flip failed",
			slog.String("market_id", rec.MarketID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamFlips, evt); err != nil {
		s.logger.WarnContext(ctx, "pricing_service: stream append flip failed",
			slog.String("market_id", rec.MarketID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.audit.Log(ctx, "pricing.flip", map[string]any{
		"record_id":      rec.ID,
		"market_id":      rec.MarketID,
		"expensive_side": string(rec.Pricing.ExpensiveSide),
	}); err != nil {
		s.logger.WarnContext(ctx, "pricing_service: audit flip failed",
			slog.String("market_id", rec.MarketID),
			slog.String("error", err.Error()),
		)
	}

	if s.notifier != nil {
		msg := fmt.Sprintf("Market %s: expensive side is now %s (cheap: %s)",
			rec.MarketID, rec.Pricing.ExpensiveSide, rec.Pricing.CheapSide)
		if err := s.notifier.Notify(ctx, "side_flip", "Side flip detected", msg); err != nil {
			s.logger.WarnContext(ctx, "pricing_service: notify flip failed",
				slog.String("market_id", rec.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
}
