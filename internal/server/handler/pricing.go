package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/updownlabs/sidepricer/internal/domain"
)

// PricingService defines the methods the pricing handler requires from the
// service layer.
type PricingService interface {
	Latest(ctx context.Context, marketID string) (domain.PricingRecord, error)
	History(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PricingRecord, error)
	Flips(ctx context.Context, since time.Time, limit int) ([]domain.PricingRecord, error)
	Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
	Recompute(ctx context.Context, marketID string) (domain.PricingRecord, error)
}

// PricingHandler serves side-classification HTTP endpoints.
type PricingHandler struct {
	pricing      PricingService
	flipLookback time.Duration
	logger       *slog.Logger
}

// NewPricingHandler creates a PricingHandler. flipLookback is the default
// window for the flips endpoint when the caller does not pass since.
func NewPricingHandler(pricing PricingService, flipLookback time.Duration, logger *slog.Logger) *PricingHandler {
	return &PricingHandler{
		pricing:      pricing,
		flipLookback: flipLookback,
		logger:       logger,
	}
}

// pricingResponse is the JSON rendering of a classification record.
type pricingResponse struct {
	RecordID      string  `json:"record_id"`
	MarketID      string  `json:"market_id"`
	AvgUpPrice    float64 `json:"avg_up_price"`
	AvgDownPrice  float64 `json:"avg_down_price"`
	UpLivePrice   float64 `json:"up_live_price"`
	DownLivePrice float64 `json:"down_live_price"`
	UpIsExpensive bool    `json:"up_is_expensive"`
	ExpensiveSide string  `json:"expensive_side"`
	CheapSide     string  `json:"cheap_side"`
	ExpensiveQty  float64 `json:"expensive_qty"`
	CheapQty      float64 `json:"cheap_qty"`
	Flipped       bool    `json:"flipped"`
	ComputedAt    string  `json:"computed_at"`
}

func toPricingResponse(rec domain.PricingRecord) pricingResponse {
	return pricingResponse{
		RecordID:      rec.ID,
		MarketID:      rec.MarketID,
		AvgUpPrice:    rec.Pricing.AvgUpPrice,
		AvgDownPrice:  rec.Pricing.AvgDownPrice,
		UpLivePrice:   rec.Pricing.UpLivePrice,
		DownLivePrice: rec.Pricing.DownLivePrice,
		UpIsExpensive: rec.Pricing.UpIsExpensive,
		ExpensiveSide: string(rec.Pricing.ExpensiveSide),
		CheapSide:     string(rec.Pricing.CheapSide),
		ExpensiveQty:  rec.Pricing.ExpensiveQty,
		CheapQty:      rec.Pricing.CheapQty,
		Flipped:       rec.Flipped,
		ComputedAt:    rec.ComputedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toPricingResponses(recs []domain.PricingRecord) []pricingResponse {
	out := make([]pricingResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toPricingResponse(rec))
	}
	return out
}

// GetPricing returns the latest classification for a market.
// GET /api/markets/{id}/pricing
func (h *PricingHandler) GetPricing(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	rec, err := h.pricing.Latest(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no classification for market")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get pricing failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get pricing")
		return
	}

	writeJSON(w, http.StatusOK, toPricingResponse(rec))
}

// GetHistory returns classification history for a market.
// GET /api/markets/{id}/pricing/history?limit=50&offset=0&since=...&until=...
func (h *PricingHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	opts := parseListOpts(r)
	recs, err := h.pricing.History(r.Context(), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: pricing history failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get pricing history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"records":   toPricingResponses(recs),
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	})
}

// ListFlips returns recent flip records across all markets.
// GET /api/pricing/flips?since=...&limit=50
func (h *PricingHandler) ListFlips(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	since := time.Now().UTC().Add(-h.flipLookback)
	if opts.Since != nil {
		since = *opts.Since
	}

	recs, err := h.pricing.Flips(r.Context(), since, opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list flips failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list flips")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"since": since.Format(time.RFC3339),
		"flips": toPricingResponses(recs),
	})
}

// ListEvents returns classification events from the durable pricing stream.
// Polling consumers pass the last event ID they saw to resume where they
// left off.
// GET /api/pricing/events?after=1724500000000-0&limit=100
func (h *PricingHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	msgs, err := h.pricing.Events(r.Context(), after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read pricing events")
		return
	}

	events := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		events = append(events, streamEvent{ID: m.ID, Payload: json.RawMessage(m.Payload)})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// streamEvent pairs a stream entry ID with its JSON payload. The ID doubles
// as the cursor for the next poll.
type streamEvent struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// recomputeRequest is the body of the recompute endpoint.
type recomputeRequest struct {
	MarketID string `json:"market_id"`
}

// Recompute forces a fresh classification for a market.
// POST /api/pricing/recompute {"market_id": "..."}
func (h *PricingHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	var req recomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "missing market_id")
		return
	}

	rec, err := h.pricing.Recompute(r.Context(), req.MarketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: recompute failed",
			slog.String("market_id", req.MarketID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to recompute pricing")
		return
	}

	writeJSON(w, http.StatusOK, toPricingResponse(rec))
}
