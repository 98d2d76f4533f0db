package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/sidepricer/internal/domain"
)

// ---------------------------------------------------------------------------
// in-memory fakes
// ---------------------------------------------------------------------------

type fakeFillStore struct {
	totals    domain.SideTotals
	totalsErr error
	inserted  int64
	fills     []domain.Fill
	lastTS    time.Time
}

func (s *fakeFillStore) InsertBatch(ctx context.Context, fills []domain.Fill) (int64, error) {
	s.fills = append(s.fills, fills...)
	return s.inserted, nil
}

func (s *fakeFillStore) Totals(ctx context.Context, marketID string) (domain.SideTotals, error) {
	if s.totalsErr != nil {
		return domain.SideTotals{}, s.totalsErr
	}
	return s.totals, nil
}

func (s *fakeFillStore) GetLastTimestamp(ctx context.Context) (time.Time, error) {
	return s.lastTS, nil
}

func (s *fakeFillStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	return s.fills, nil
}

func (s *fakeFillStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Fill, error) {
	return nil, nil
}

func (s *fakeFillStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakePricingStore struct {
	latest    domain.PricingRecord
	latestErr error
	inserted  []domain.PricingRecord
}

func (s *fakePricingStore) Insert(ctx context.Context, rec domain.PricingRecord) error {
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *fakePricingStore) Latest(ctx context.Context, marketID string) (domain.PricingRecord, error) {
	if s.latestErr != nil {
		return domain.PricingRecord{}, s.latestErr
	}
	return s.latest, nil
}

func (s *fakePricingStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PricingRecord, error) {
	return s.inserted, nil
}

func (s *fakePricingStore) ListFlips(ctx context.Context, since time.Time, limit int) ([]domain.PricingRecord, error) {
	var flips []domain.PricingRecord
	for _, r := range s.inserted {
		if r.Flipped {
			flips = append(flips, r)
		}
	}
	return flips, nil
}

func (s *fakePricingStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.PricingRecord, error) {
	return nil, nil
}

func (s *fakePricingStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeBidCache struct {
	up, down *float64
	err      error
}

func (c *fakeBidCache) SetBid(ctx context.Context, marketID string, side domain.Side, price float64, ts time.Time) error {
	return nil
}

func (c *fakeBidCache) ClearBid(ctx context.Context, marketID string, side domain.Side) error {
	return nil
}

func (c *fakeBidCache) GetBids(ctx context.Context, marketID string) (*float64, *float64, error) {
	return c.up, c.down, c.err
}

type fakePricingCache struct {
	recs map[string]domain.PricingRecord
}

func newFakePricingCache() *fakePricingCache {
	return &fakePricingCache{recs: make(map[string]domain.PricingRecord)}
}

func (c *fakePricingCache) Set(ctx context.Context, rec domain.PricingRecord) error {
	c.recs[rec.MarketID] = rec
	return nil
}

func (c *fakePricingCache) Get(ctx context.Context, marketID string) (domain.PricingRecord, error) {
	rec, ok := c.recs[marketID]
	if !ok {
		return domain.PricingRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (c *fakePricingCache) Invalidate(ctx context.Context, marketID string) error {
	delete(c.recs, marketID)
	return nil
}

type busMsg struct {
	channel string
	payload []byte
}

type fakeBus struct {
	published  []busMsg
	appended   []busMsg
	streamMsgs []domain.StreamMessage
	readStream string
	readAfter  string
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.published = append(b.published, busMsg{channel, payload})
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.appended = append(b.appended, busMsg{stream, payload})
	return nil
}

func (b *fakeBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.readStream, b.readAfter = stream, lastID
	return b.streamMsgs, nil
}

func (b *fakeBus) onChannel(channel string) []busMsg {
	var out []busMsg
	for _, m := range b.published {
		if m.channel == channel {
			out = append(out, m)
		}
	}
	return out
}

type fakeAuditStore struct {
	events []string
}

func (a *fakeAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

type fakeAlerter struct {
	events []string
}

func (a *fakeAlerter) Notify(ctx context.Context, event, title, message string) error {
	a.events = append(a.events, event)
	return nil
}

func fp(v float64) *float64 { return &v }

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ---------------------------------------------------------------------------
// PricingService
// ---------------------------------------------------------------------------

type pricingFixture struct {
	fills    *fakeFillStore
	store    *fakePricingStore
	bids     *fakeBidCache
	cache    *fakePricingCache
	bus      *fakeBus
	audit    *fakeAuditStore
	notifier *fakeAlerter
	svc      *PricingService
}

func newPricingFixture() *pricingFixture {
	f := &pricingFixture{
		fills:    &fakeFillStore{},
		store:    &fakePricingStore{latestErr: domain.ErrNotFound},
		bids:     &fakeBidCache{},
		cache:    newFakePricingCache(),
		bus:      &fakeBus{},
		audit:    &fakeAuditStore{},
		notifier: &fakeAlerter{},
	}
	f.svc = NewPricingService(f.fills, f.store, f.bids, f.cache, f.bus, f.audit, f.notifier, discard())
	return f
}

func TestRecompute_FirstClassificationIsNotAFlip(t *testing.T) {
	f := newPricingFixture()
	f.fills.totals = domain.SideTotals{
		MarketID: "m1",
		UpQty:    10, UpCost: 6,
		DownQty: 10, DownCost: 4,
	}

	rec, err := f.svc.Recompute(context.Background(), "m1")
	require.NoError(t, err)

	assert.False(t, rec.Flipped)
	assert.Equal(t, domain.SideUp, rec.Pricing.ExpensiveSide)
	assert.NotEmpty(t, rec.ID)

	require.Len(t, f.store.inserted, 1)
	assert.Equal(t, rec.ID, f.store.inserted[0].ID)

	cached, err := f.cache.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, cached.ID)

	assert.Len(t, f.bus.onChannel(domain.ChannelPricing), 1)
	assert.Empty(t, f.bus.onChannel(domain.ChannelFlips))
	assert.Empty(t, f.notifier.events)
}

func TestRecompute_BidsChangeTheClassification(t *testing.T) {
	f := newPricingFixture()
	// Averages favour UP (0.6 vs 0.4), but a strong DOWN bid flips the
	// blended comparison: UP blended 0.6, DOWN blended (0.4+0.9)/2 = 0.65.
	f.fills.totals = domain.SideTotals{
		MarketID: "m1",
		UpQty:    10, UpCost: 6,
		DownQty: 10, DownCost: 4,
	}
	f.bids.down = fp(0.9)

	rec, err := f.svc.Recompute(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.SideDown, rec.Pricing.ExpensiveSide)
	assert.Equal(t, 0.9, rec.Pricing.DownLivePrice)
	assert.Equal(t, 0.6, rec.Pricing.UpLivePrice) // falls back to average
}

func TestRecompute_FlipRaisesEventAuditAndAlert(t *testing.T) {
	f := newPricingFixture()
	f.store.latestErr = nil
	f.store.latest = domain.PricingRecord{
		MarketID: "m1",
		Pricing:  domain.SidePricing{ExpensiveSide: domain.SideDown, CheapSide: domain.SideUp},
	}
	f.fills.totals = domain.SideTotals{
		MarketID: "m1",
		UpQty:    10, UpCost: 7,
		DownQty: 10, DownCost: 3,
	}

	rec, err := f.svc.Recompute(context.Background(), "m1")
	require.NoError(t, err)

	assert.True(t, rec.Flipped)
	assert.Equal(t, domain.SideUp, rec.Pricing.ExpensiveSide)

	flips := f.bus.onChannel(domain.ChannelFlips)
	require.Len(t, flips, 1)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(flips[0].payload, &ev))
	assert.Equal(t, "side_flip", ev["event"])
	assert.Equal(t, "m1", ev["market_id"])

	assert.Contains(t, f.audit.events, "pricing.flip")
	assert.Equal(t, []string{"side_flip"}, f.notifier.events)
}

func TestRecompute_SameSideIsNotAFlip(t *testing.T) {
	f := newPricingFixture()
	f.store.latestErr = nil
	f.store.latest = domain.PricingRecord{
		MarketID: "m1",
		Pricing:  domain.SidePricing{ExpensiveSide: domain.SideUp, CheapSide: domain.SideDown},
	}
	f.fills.totals = domain.SideTotals{
		MarketID: "m1",
		UpQty:    10, UpCost: 7,
		DownQty: 10, DownCost: 3,
	}

	rec, err := f.svc.Recompute(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, rec.Flipped)
	assert.Empty(t, f.bus.onChannel(domain.ChannelFlips))
	assert.Empty(t, f.notifier.events)
}

func TestRecompute_BidCacheOutageDegradesToAverages(t *testing.T) {
	f := newPricingFixture()
	f.fills.totals = domain.SideTotals{
		MarketID: "m1",
		UpQty:    10, UpCost: 6,
		DownQty: 10, DownCost: 4,
	}
	f.bids.err = errors.New("redis down")

	rec, err := f.svc.Recompute(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 0.6, rec.Pricing.UpLivePrice)
	assert.Equal(t, 0.4, rec.Pricing.DownLivePrice)
}

func TestRecompute_TotalsErrorFails(t *testing.T) {
	f := newPricingFixture()
	f.fills.totalsErr = errors.New("db down")

	_, err := f.svc.Recompute(context.Background(), "m1")
	assert.Error(t, err)
	assert.Empty(t, f.store.inserted)
}

func TestLatest_CacheHitSkipsStore(t *testing.T) {
	f := newPricingFixture()
	want := domain.PricingRecord{ID: "cached", MarketID: "m1"}
	require.NoError(t, f.cache.Set(context.Background(), want))

	got, err := f.svc.Latest(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "cached", got.ID)
}

func TestLatest_FallsBackToStoreAndBackfills(t *testing.T) {
	f := newPricingFixture()
	f.store.latestErr = nil
	f.store.latest = domain.PricingRecord{ID: "stored", MarketID: "m1"}

	got, err := f.svc.Latest(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "stored", got.ID)

	cached, err := f.cache.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "stored", cached.ID)
}

func TestLatest_NotFoundPropagates(t *testing.T) {
	f := newPricingFixture()

	_, err := f.svc.Latest(context.Background(), "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ---------------------------------------------------------------------------
// FillService
// ---------------------------------------------------------------------------

func TestIngest_PublishesPerMarketAndAudits(t *testing.T) {
	fills := &fakeFillStore{inserted: 3}
	bus := &fakeBus{}
	audit := &fakeAuditStore{}
	svc := NewFillService(fills, bus, audit, discard())

	batch := []domain.Fill{
		{MarketID: "m1", Side: domain.SideUp, TradeID: "t1"},
		{MarketID: "m1", Side: domain.SideDown, TradeID: "t2"},
		{MarketID: "m2", Side: domain.SideUp, TradeID: "t3"},
	}

	inserted, err := svc.Ingest(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, int64(3), inserted)

	events := bus.onChannel(domain.ChannelFills)
	require.Len(t, events, 2)

	markets := map[string]bool{}
	for _, m := range events {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(m.payload, &ev))
		assert.Equal(t, "fills_ingested", ev["event"])
		markets[ev["market_id"].(string)] = true
	}
	assert.True(t, markets["m1"])
	assert.True(t, markets["m2"])

	assert.Equal(t, []string{"fills_ingested"}, audit.events)
}

func TestIngest_EmptyBatchIsNoOp(t *testing.T) {
	bus := &fakeBus{}
	svc := NewFillService(&fakeFillStore{}, bus, &fakeAuditStore{}, discard())

	inserted, err := svc.Ingest(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Empty(t, bus.published)
}

func TestEvents_ReadsPricingStreamAfterID(t *testing.T) {
	f := newPricingFixture()
	f.bus.streamMsgs = []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"event":"pricing"}`)},
	}

	msgs, err := f.svc.Events(context.Background(), "0-5", 100)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1-0", msgs[0].ID)
	assert.Equal(t, domain.StreamPricing, f.bus.readStream)
	assert.Equal(t, "0-5", f.bus.readAfter)
}

func TestEvents_EmptyIDReadsFromStart(t *testing.T) {
	f := newPricingFixture()

	_, err := f.svc.Events(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Equal(t, "0", f.bus.readAfter)
}
