package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/sidepricer/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeMarketService struct {
	markets map[string]domain.Market
	slugs   map[string]domain.Market
	tokens  map[string]domain.Market
	active  []domain.Market
	count   int64
	err     error
}

func (f *fakeMarketService) GetMarket(_ context.Context, id string) (domain.Market, error) {
	if f.err != nil {
		return domain.Market{}, f.err
	}
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketService) GetMarketBySlug(_ context.Context, slug string) (domain.Market, error) {
	if f.err != nil {
		return domain.Market{}, f.err
	}
	m, ok := f.slugs[slug]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketService) GetMarketByToken(_ context.Context, tokenID string) (domain.Market, error) {
	if f.err != nil {
		return domain.Market{}, f.err
	}
	m, ok := f.tokens[tokenID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketService) ListActive(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	return f.active, f.err
}

func (f *fakeMarketService) Count(_ context.Context) (int64, error) {
	return f.count, f.err
}

type fakeFillLister struct {
	fills []domain.Fill
	err   error
}

func (f *fakeFillLister) ListByMarket(_ context.Context, _ string, _ domain.ListOpts) ([]domain.Fill, error) {
	return f.fills, f.err
}

type fakePricingService struct {
	records map[string]domain.PricingRecord
	history []domain.PricingRecord
	flips   []domain.PricingRecord
	events  []domain.StreamMessage
	err     error

	recomputed  []string
	flipsSince  time.Time
	eventsAfter string
	eventsCount int
}

func (f *fakePricingService) Latest(_ context.Context, marketID string) (domain.PricingRecord, error) {
	if f.err != nil {
		return domain.PricingRecord{}, f.err
	}
	rec, ok := f.records[marketID]
	if !ok {
		return domain.PricingRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (f *fakePricingService) History(_ context.Context, _ string, _ domain.ListOpts) ([]domain.PricingRecord, error) {
	return f.history, f.err
}

func (f *fakePricingService) Flips(_ context.Context, since time.Time, _ int) ([]domain.PricingRecord, error) {
	f.flipsSince = since
	return f.flips, f.err
}

func (f *fakePricingService) Events(_ context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	f.eventsAfter, f.eventsCount = lastID, count
	return f.events, f.err
}

func (f *fakePricingService) Recompute(_ context.Context, marketID string) (domain.PricingRecord, error) {
	if f.err != nil {
		return domain.PricingRecord{}, f.err
	}
	f.recomputed = append(f.recomputed, marketID)
	rec, ok := f.records[marketID]
	if !ok {
		return domain.PricingRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func testRecord(marketID string) domain.PricingRecord {
	return domain.PricingRecord{
		ID:       "rec-1",
		MarketID: marketID,
		Pricing: domain.SidePricing{
			AvgUpPrice:    0.6,
			AvgDownPrice:  0.4,
			UpLivePrice:   0.62,
			DownLivePrice: 0.4,
			UpIsExpensive: true,
			ExpensiveSide: domain.SideUp,
			CheapSide:     domain.SideDown,
			ExpensiveQty:  100,
			CheapQty:      50,
		},
		Flipped:    false,
		ComputedAt: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(discard())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	h.HealthCheck(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestGetStatus(t *testing.T) {
	markets := &fakeMarketService{count: 7}
	h := NewStatusHandler("serve", time.Now().Add(-90*time.Second), func() bool { return true }, markets)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	h.GetStatus(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "serve", body["mode"])
	assert.Equal(t, true, body["ws_connected"])
	assert.Equal(t, float64(7), body["watched_markets"])
	assert.GreaterOrEqual(t, body["uptime_seconds"], float64(89))
}

func TestGetMarket_NotFound(t *testing.T) {
	h := NewMarketHandler(&fakeMarketService{markets: map[string]domain.Market{}}, &fakeFillLister{}, discard())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)

	req := httptest.NewRequest(http.MethodGet, "/api/markets/0xmissing", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetMarket_Found(t *testing.T) {
	svc := &fakeMarketService{markets: map[string]domain.Market{
		"0xabc": {ID: "0xabc", Slug: "btc-up-or-down", Status: domain.MarketStatusActive},
	}}
	h := NewMarketHandler(svc, &fakeFillLister{}, discard())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)

	req := httptest.NewRequest(http.MethodGet, "/api/markets/0xabc", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var market domain.Market
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &market))
	assert.Equal(t, "btc-up-or-down", market.Slug)
}

func TestListMarkets(t *testing.T) {
	svc := &fakeMarketService{
		active: []domain.Market{{ID: "0xabc"}, {ID: "0xdef"}},
		count:  2,
	}
	h := NewMarketHandler(svc, &fakeFillLister{}, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/markets?limit=10", nil)
	rr := httptest.NewRecorder()
	h.ListMarkets(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body listMarketsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Markets, 2)
	assert.Equal(t, int64(2), body.Total)
	assert.Equal(t, 10, body.Limit)
}

func TestGetPricing(t *testing.T) {
	svc := &fakePricingService{records: map[string]domain.PricingRecord{
		"0xabc": testRecord("0xabc"),
	}}
	h := NewPricingHandler(svc, 24*time.Hour, discard())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}/pricing", h.GetPricing)

	req := httptest.NewRequest(http.MethodGet, "/api/markets/0xabc/pricing", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body pricingResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "up", body.ExpensiveSide)
	assert.Equal(t, "down", body.CheapSide)
	assert.True(t, body.UpIsExpensive)
	assert.Equal(t, 0.62, body.UpLivePrice)
}

func TestGetPricing_NotFound(t *testing.T) {
	h := NewPricingHandler(&fakePricingService{records: map[string]domain.PricingRecord{}}, 24*time.Hour, discard())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}/pricing", h.GetPricing)

	req := httptest.NewRequest(http.MethodGet, "/api/markets/0xmissing/pricing", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListFlips_DefaultLookback(t *testing.T) {
	svc := &fakePricingService{flips: []domain.PricingRecord{testRecord("0xabc")}}
	h := NewPricingHandler(svc, 6*time.Hour, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/pricing/flips", nil)
	rr := httptest.NewRecorder()
	h.ListFlips(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.WithinDuration(t, time.Now().UTC().Add(-6*time.Hour), svc.flipsSince, time.Minute)
}

func TestListFlips_ExplicitSince(t *testing.T) {
	svc := &fakePricingService{}
	h := NewPricingHandler(svc, 6*time.Hour, discard())

	since := "2026-08-01T00:00:00Z"
	req := httptest.NewRequest(http.MethodGet, "/api/pricing/flips?since="+since, nil)
	rr := httptest.NewRecorder()
	h.ListFlips(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), svc.flipsSince)
}

func TestRecompute(t *testing.T) {
	svc := &fakePricingService{records: map[string]domain.PricingRecord{
		"0xabc": testRecord("0xabc"),
	}}
	h := NewPricingHandler(svc, 24*time.Hour, discard())

	req := httptest.NewRequest(http.MethodPost, "/api/pricing/recompute",
		strings.NewReader(`{"market_id":"0xabc"}`))
	rr := httptest.NewRecorder()
	h.Recompute(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"0xabc"}, svc.recomputed)
}

func TestRecompute_BadBody(t *testing.T) {
	h := NewPricingHandler(&fakePricingService{}, 24*time.Hour, discard())

	req := httptest.NewRequest(http.MethodPost, "/api/pricing/recompute",
		strings.NewReader(`not json`))
	rr := httptest.NewRecorder()
	h.Recompute(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRecompute_MissingMarketID(t *testing.T) {
	h := NewPricingHandler(&fakePricingService{}, 24*time.Hour, discard())

	req := httptest.NewRequest(http.MethodPost, "/api/pricing/recompute",
		strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	h.Recompute(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestParseListOpts_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	opts := parseListOpts(req)

	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
	assert.Nil(t, opts.Since)
	assert.Nil(t, opts.Until)
}

func TestParseListOpts_ClampsLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/markets?limit=9999&offset=20", nil)
	opts := parseListOpts(req)

	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 20, opts.Offset)
}

func TestGetMarket_FallsBackToSlug(t *testing.T) {
	svc := &fakeMarketService{
		markets: map[string]domain.Market{},
		slugs: map[string]domain.Market{
			"btc-up-or-down": {ID: "0xabc", Slug: "btc-up-or-down"},
		},
	}
	h := NewMarketHandler(svc, &fakeFillLister{}, discard())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)

	req := httptest.NewRequest(http.MethodGet, "/api/markets/btc-up-or-down", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var market domain.Market
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &market))
	assert.Equal(t, "0xabc", market.ID)
}

func TestGetMarket_FallsBackToToken(t *testing.T) {
	svc := &fakeMarketService{
		markets: map[string]domain.Market{},
		slugs:   map[string]domain.Market{},
		tokens: map[string]domain.Market{
			"tok-up": {ID: "0xabc", TokenIDs: [2]string{"tok-up", "tok-down"}},
		},
	}
	h := NewMarketHandler(svc, &fakeFillLister{}, discard())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)

	req := httptest.NewRequest(http.MethodGet, "/api/markets/tok-up", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var market domain.Market
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &market))
	assert.Equal(t, "0xabc", market.ID)
}

func TestListEvents(t *testing.T) {
	svc := &fakePricingService{events: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"event":"pricing","market_id":"0xabc"}`)},
		{ID: "2-0", Payload: []byte(`{"event":"pricing","market_id":"0xdef"}`)},
	}}
	h := NewPricingHandler(svc, 24*time.Hour, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/pricing/events?after=0-9&limit=10", nil)
	rr := httptest.NewRecorder()
	h.ListEvents(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "0-9", svc.eventsAfter)
	assert.Equal(t, 10, svc.eventsCount)

	var body struct {
		Events []streamEvent `json:"events"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "1-0", body.Events[0].ID)
	assert.JSONEq(t, `{"event":"pricing","market_id":"0xabc"}`, string(body.Events[0].Payload))
}

func TestListEvents_ClampsLimit(t *testing.T) {
	svc := &fakePricingService{}
	h := NewPricingHandler(svc, 24*time.Hour, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/pricing/events?limit=99999", nil)
	rr := httptest.NewRecorder()
	h.ListEvents(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 500, svc.eventsCount)
}

type fakeArchiveStore struct {
	infos      []domain.BlobInfo
	files      map[string]string
	listPrefix string
}

func (f *fakeArchiveStore) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.listPrefix = prefix
	return f.infos, nil
}

func (f *fakeArchiveStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func TestListArchive_AnchorsPrefix(t *testing.T) {
	store := &fakeArchiveStore{infos: []domain.BlobInfo{
		{Path: "archive/fills/2026-05.jsonl", Size: 1024},
	}}
	h := NewArchiveHandler(store, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/archive?prefix=fills/", nil)
	rr := httptest.NewRecorder()
	h.ListArchive(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "archive/fills/", store.listPrefix)

	var body struct {
		Objects []archiveObject `json:"objects"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Objects, 1)
	assert.Equal(t, "archive/fills/2026-05.jsonl", body.Objects[0].Path)
}

func TestListArchive_RejectsTraversal(t *testing.T) {
	h := NewArchiveHandler(&fakeArchiveStore{}, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/archive?prefix=..%2Fraw", nil)
	rr := httptest.NewRecorder()
	h.ListArchive(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDownloadArchive_StreamsFile(t *testing.T) {
	store := &fakeArchiveStore{files: map[string]string{
		"archive/fills/2026-05.jsonl": `{"trade_id":"t1"}` + "\n",
	}}
	h := NewArchiveHandler(store, discard())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archive/{key...}", h.DownloadArchive)

	req := httptest.NewRequest(http.MethodGet, "/api/archive/fills/2026-05.jsonl", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/x-ndjson", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"trade_id":"t1"`)
}

func TestDownloadArchive_NotFound(t *testing.T) {
	h := NewArchiveHandler(&fakeArchiveStore{files: map[string]string{}}, discard())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archive/{key...}", h.DownloadArchive)

	req := httptest.NewRequest(http.MethodGet, "/api/archive/fills/missing.jsonl", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestArchiveEndpoints_UnconfiguredStorage(t *testing.T) {
	h := NewArchiveHandler(nil, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/archive", nil)
	rr := httptest.NewRecorder()
	h.ListArchive(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
