package handler

import (
	"context"
	"net/http"
	"time"
)

// MarketCounter reports how many markets the service tracks.
type MarketCounter interface {
	Count(ctx context.Context) (int64, error)
}

// StatusHandler serves the service status summary.
type StatusHandler struct {
	mode        string
	startedAt   time.Time
	wsConnected func() bool // nil when no live feed runs in this mode
	markets     MarketCounter
}

// NewStatusHandler creates a StatusHandler. wsConnected may be nil when the
// running mode has no market-data feed.
func NewStatusHandler(mode string, startedAt time.Time, wsConnected func() bool, markets MarketCounter) *StatusHandler {
	return &StatusHandler{
		mode:        mode,
		startedAt:   startedAt,
		wsConnected: wsConnected,
		markets:     markets,
	}
}

// GetStatus responds with the current mode, feed state, uptime, and tracked
// market count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	connected := false
	if h.wsConnected != nil {
		connected = h.wsConnected()
	}

	var count int64
	if h.markets != nil {
		if n, err := h.markets.Count(r.Context()); err == nil {
			count = n
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":            h.mode,
		"ws_connected":    connected,
		"uptime_seconds":  uptime,
		"watched_markets": count,
	})
}
