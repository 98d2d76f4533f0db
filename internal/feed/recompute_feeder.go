package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/updownlabs/sidepricer/internal/domain"
)

// fillEvent is the JSON shape published to the fills channel by the fill
// ingestion path.
type fillEvent struct {
	Event    string `json:"event"`
	MarketID string `json:"market_id"`
	Count    int    `json:"count"`
}

// Recomputer reclassifies a market's sides from its current totals and bids.
type Recomputer interface {
	Recompute(ctx context.Context, marketID string) (domain.PricingRecord, error)
}

// RecomputeFeeder subscribes to the fills channel and triggers a side
// reclassification for every market that received new fills. It decouples
// fill ingestion from pricing: scrapers only publish, this feeder recomputes.
type RecomputeFeeder struct {
	bus    domain.SignalBus
	pricer Recomputer
	logger *slog.Logger
}

// NewRecomputeFeeder creates a RecomputeFeeder.
func NewRecomputeFeeder(bus domain.SignalBus, pricer Recomputer, logger *slog.Logger) *RecomputeFeeder {
	return &RecomputeFeeder{
		bus:    bus,
		pricer: pricer,
		logger: logger.With(slog.String("component", "recompute_feeder")),
	}
}

// Run subscribes to the fills channel and recomputes pricing for each
// affected market until ctx is cancelled.
func (f *RecomputeFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, domain.ChannelFills)
	if err != nil {
		return err
	}
	f.logger.Info("recompute feeder started")
	defer f.logger.Info("recompute feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.handleMessage(ctx, data); err != nil {
				f.logger.Debug("recompute feeder handle message failed",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (f *RecomputeFeeder) handleMessage(ctx context.Context, data []byte) error {
	var ev fillEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	marketID := strings.TrimSpace(ev.MarketID)
	if marketID == "" {
		return nil
	}

	if _, err := f.pricer.Recompute(ctx, marketID); err != nil {
		return err
	}
	return nil
}
