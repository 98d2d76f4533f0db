package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/sidepricer/internal/domain"
	"github.com/updownlabs/sidepricer/internal/platform/clob"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ---------------------------------------------------------------------------
// MarketScraper
// ---------------------------------------------------------------------------

type fakeMarketPager struct {
	pages   map[string][]domain.Market
	cursors map[string]string
	calls   []string
}

func (f *fakeMarketPager) ListMarkets(ctx context.Context, cursor string) ([]domain.Market, string, error) {
	f.calls = append(f.calls, cursor)
	return f.pages[cursor], f.cursors[cursor], nil
}

type fakeSyncer struct {
	synced []domain.Market
}

func (f *fakeSyncer) SyncMarkets(ctx context.Context, markets []domain.Market) error {
	f.synced = append(f.synced, markets...)
	return nil
}

func TestMarketScraper_FollowsCursors(t *testing.T) {
	pager := &fakeMarketPager{
		pages: map[string][]domain.Market{
			"":   {{ID: "m1"}, {ID: "m2"}},
			"c1": {{ID: "m3"}},
		},
		cursors: map[string]string{"": "c1", "c1": ""},
	}
	syncer := &fakeSyncer{}

	s := NewMarketScraper(syncer, pager, discard())
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"", "c1"}, pager.calls)
	require.Len(t, syncer.synced, 3)
	assert.Equal(t, "m3", syncer.synced[2].ID)
}

// ---------------------------------------------------------------------------
// FillScraper
// ---------------------------------------------------------------------------

type fakeTradesFetcher struct {
	pages map[string]clob.TradesPage // keyed by cursor
	raw   []byte
}

func (f *fakeTradesFetcher) ListTrades(ctx context.Context, market string, after time.Time, cursor string) (clob.TradesPage, []byte, error) {
	return f.pages[cursor], f.raw, nil
}

type fakeIngester struct {
	batches [][]domain.Fill
	lastTS  time.Time
}

func (f *fakeIngester) Ingest(ctx context.Context, fills []domain.Fill) (int64, error) {
	f.batches = append(f.batches, fills)
	return int64(len(fills)), nil
}

func (f *fakeIngester) GetLastTimestamp(ctx context.Context) (time.Time, error) {
	return f.lastTS, nil
}

type fakeDirectory struct {
	markets map[string]domain.Market
	active  []domain.Market
}

func (f *fakeDirectory) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeDirectory) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return f.active, nil
}

type recordingWriter struct {
	paths []string
}

func (w *recordingWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	w.paths = append(w.paths, path)
	return nil
}

func (w *recordingWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return w.Put(ctx, path, data, "application/octet-stream")
}

func testMarket() domain.Market {
	return domain.Market{
		ID:       "m1",
		TokenIDs: [2]string{"tok-up", "tok-down"},
		Outcomes: [2]string{"Up", "Down"},
		Status:   domain.MarketStatusActive,
	}
}

func TestFillScraper_IngestsAndAdvancesCursor(t *testing.T) {
	fetcher := &fakeTradesFetcher{
		pages: map[string]clob.TradesPage{
			"": {
				Data: []clob.APITrade{
					{ID: "t1", AssetID: "tok-up", Price: "0.6", Size: "10", MatchTime: "1756000000"},
					{ID: "t2", AssetID: "tok-down", Price: "0.4", Size: "5", MatchTime: "1756000100"},
				},
				NextCursor: "c1",
			},
			"c1": {
				Data: []clob.APITrade{
					{ID: "t3", AssetID: "tok-up", Price: "0.65", Size: "2", MatchTime: "1756000200"},
				},
			},
		},
		raw: []byte(`{"data":[]}`),
	}
	ingester := &fakeIngester{}
	dir := &fakeDirectory{markets: map[string]domain.Market{"m1": testMarket()}}
	writer := &recordingWriter{}

	s := NewFillScraper(fetcher, ingester, dir, writer, []string{"m1"}, 100, discard())

	since := time.Unix(1755999999, 0)
	n, latest, err := s.Run(context.Background(), since)
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.Equal(t, time.Unix(1756000200, 0).UTC(), latest)

	require.Len(t, ingester.batches, 1)
	assert.Len(t, ingester.batches[0], 3)
	assert.Equal(t, domain.SideDown, ingester.batches[0][1].Side)

	// Two pages, two raw dumps.
	require.Len(t, writer.paths, 2)
	assert.Contains(t, writer.paths[0], "raw/trades/m1/")
}

func TestFillScraper_SkipsUnknownAssets(t *testing.T) {
	fetcher := &fakeTradesFetcher{
		pages: map[string]clob.TradesPage{
			"": {Data: []clob.APITrade{
				{ID: "t1", AssetID: "tok-other", Price: "0.5", Size: "1", MatchTime: "1756000000"},
			}},
		},
	}
	ingester := &fakeIngester{}
	dir := &fakeDirectory{markets: map[string]domain.Market{"m1": testMarket()}}

	s := NewFillScraper(fetcher, ingester, dir, nil, []string{"m1"}, 100, discard())

	n, _, err := s.Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, ingester.batches)
}

func TestFillScraper_MissingWatchedMarketIsSkipped(t *testing.T) {
	fetcher := &fakeTradesFetcher{pages: map[string]clob.TradesPage{}}
	ingester := &fakeIngester{}
	dir := &fakeDirectory{markets: map[string]domain.Market{"m1": testMarket()}}

	s := NewFillScraper(fetcher, ingester, dir, nil, []string{"m1", "ghost"}, 100, discard())

	_, _, err := s.Run(context.Background(), time.Time{})
	require.NoError(t, err)
}

func TestFillScraper_FallsBackToActiveMarkets(t *testing.T) {
	fetcher := &fakeTradesFetcher{pages: map[string]clob.TradesPage{}}
	ingester := &fakeIngester{}
	dir := &fakeDirectory{active: []domain.Market{testMarket()}}

	s := NewFillScraper(fetcher, ingester, dir, nil, nil, 100, discard())

	_, _, err := s.Run(context.Background(), time.Time{})
	require.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Archiver
// ---------------------------------------------------------------------------

type fakeBlobArchiver struct {
	fillCount    int64
	pricingCount int64
}

func (a *fakeBlobArchiver) ArchiveFills(ctx context.Context, before time.Time) (int64, error) {
	return a.fillCount, nil
}

func (a *fakeBlobArchiver) ArchivePricingHistory(ctx context.Context, before time.Time) (int64, error) {
	return a.pricingCount, nil
}

type fakePurger struct {
	calls int
}

func (p *fakePurger) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	p.calls++
	return 5, nil
}

type fakeLockManager struct {
	err      error
	acquired int
	released int
}

func (l *fakeLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func TestArchiver_PurgesOnlyAfterArchiving(t *testing.T) {
	fills := &fakePurger{}
	pricing := &fakePurger{}
	a := NewArchiver(&fakeBlobArchiver{fillCount: 10, pricingCount: 0}, fills, pricing, nil, 30, discard())

	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, 1, fills.calls)
	// Nothing was archived for pricing, so nothing may be purged.
	assert.Zero(t, pricing.calls)
}

func TestArchiver_SkipsRunWhenLockHeld(t *testing.T) {
	fills := &fakePurger{}
	pricing := &fakePurger{}
	locks := &fakeLockManager{err: domain.ErrLockHeld}
	a := NewArchiver(&fakeBlobArchiver{fillCount: 10}, fills, pricing, locks, 30, discard())

	require.NoError(t, a.Run(context.Background()))

	assert.Zero(t, fills.calls)
	assert.Zero(t, pricing.calls)
}

func TestArchiver_ReleasesLockAfterRun(t *testing.T) {
	locks := &fakeLockManager{}
	a := NewArchiver(&fakeBlobArchiver{}, &fakePurger{}, &fakePurger{}, locks, 30, discard())

	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, 1, locks.acquired)
	assert.Equal(t, 1, locks.released)
}
