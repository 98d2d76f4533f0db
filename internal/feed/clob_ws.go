// Package feed connects real-time market data and internal bus events to the
// pricing layer.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/updownlabs/sidepricer/internal/domain"
	"github.com/updownlabs/sidepricer/internal/platform/clob"
)

// BidHandler is called whenever the best bid for a market side changes.
// bid is nil when the book has no live bids on that side.
type BidHandler func(ctx context.Context, marketID string, side domain.Side, bid *float64, ts time.Time)

// assetRef resolves a CLOB asset ID back to its market and side.
type assetRef struct {
	marketID string
	side     domain.Side
}

// BidFeed connects to the CLOB WebSocket, subscribes to book and price_change
// for the watched markets' outcome tokens, and maintains a bid ladder per
// asset. Whenever the best bid moves it updates the bid cache and invokes the
// registered handler.
type BidFeed struct {
	wsURL  string
	assets map[string]assetRef
	bids   domain.BidCache
	onBid  BidHandler
	logger *slog.Logger

	// books holds the live bid ladder per asset: price -> size.
	mu    sync.Mutex
	books map[string]map[float64]float64

	connected atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewBidFeed creates a feed subscribed to every outcome token of the given
// markets.
func NewBidFeed(wsURL string, markets []domain.Market, bids domain.BidCache, onBid BidHandler, logger *slog.Logger) *BidFeed {
	assets := make(map[string]assetRef, len(markets)*2)
	for _, m := range markets {
		if m.TokenIDs[0] != "" {
			assets[m.TokenIDs[0]] = assetRef{marketID: m.ID, side: domain.SideUp}
		}
		if m.TokenIDs[1] != "" {
			assets[m.TokenIDs[1]] = assetRef{marketID: m.ID, side: domain.SideDown}
		}
	}

	return &BidFeed{
		wsURL:  wsURL,
		assets: assets,
		bids:   bids,
		onBid:  onBid,
		logger: logger.With(slog.String("component", "bid_feed")),
		books:  make(map[string]map[float64]float64),
		done:   make(chan struct{}),
	}
}

// Run connects, subscribes, and blocks until ctx is cancelled or Close is
// called. A failed initial dial or subscribe is retried with a fixed delay;
// once subscribed, the WS client redials dropped connections itself and
// replays the subscriptions.
func (f *BidFeed) Run(ctx context.Context) error {
	if len(f.assets) == 0 {
		f.logger.Info("no assets to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("clob ws setup failed, retrying", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *BidFeed) runConnection(ctx context.Context) error {
	client := clob.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnBook(func(book clob.BookMessage) {
		f.handleBook(ctx, book)
	})
	client.OnPriceChange(func(pc clob.PriceChangeMessage) {
		f.handlePriceChange(ctx, pc)
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}

	assetIDs := make([]string, 0, len(f.assets))
	for id := range f.assets {
		assetIDs = append(assetIDs, id)
	}
	channels := []string{"book", "price_change"}
	if err := client.Subscribe(ctx, channels, assetIDs); err != nil {
		return err
	}
	f.logger.Info("clob ws subscribed", slog.Int("assets", len(assetIDs)))
	f.connected.Store(true)
	defer f.connected.Store(false)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	}
}

// Connected reports whether the feed currently holds a subscribed
// connection.
func (f *BidFeed) Connected() bool {
	return f.connected.Load()
}

// Close stops the feed.
func (f *BidFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// handleBook replaces the bid ladder for the asset with the snapshot and
// publishes the resulting best bid.
func (f *BidFeed) handleBook(ctx context.Context, book clob.BookMessage) {
	ref, ok := f.assets[book.AssetID]
	if !ok {
		return
	}

	levels := book.Levels()
	best := domain.BestBid(levels)

	ladder := make(map[float64]float64, len(levels))
	for _, lvl := range levels {
		if lvl.Size > 0 {
			ladder[lvl.Price] = lvl.Size
		}
	}

	f.mu.Lock()
	f.books[book.AssetID] = ladder
	f.mu.Unlock()

	f.publish(ctx, ref, best, book.Time())
}

// handlePriceChange applies an incremental update to the asset's bid ladder.
// Only BUY-side changes affect bids; a size of zero removes the level.
func (f *BidFeed) handlePriceChange(ctx context.Context, pc clob.PriceChangeMessage) {
	if pc.Side != "BUY" {
		return
	}
	ref, ok := f.assets[pc.AssetID]
	if !ok {
		return
	}

	lvl := pc.Level()

	f.mu.Lock()
	ladder, ok := f.books[pc.AssetID]
	if !ok {
		ladder = make(map[float64]float64)
		f.books[pc.AssetID] = ladder
	}
	if lvl.Size > 0 {
		ladder[lvl.Price] = lvl.Size
	} else {
		delete(ladder, lvl.Price)
	}
	best := bestOf(ladder)
	f.mu.Unlock()

	f.publish(ctx, ref, best, pc.Time())
}

// publish writes the best bid to the cache and notifies the handler. A nil
// bid clears the cached entry so the pricing layer falls back to averages.
func (f *BidFeed) publish(ctx context.Context, ref assetRef, best *float64, ts time.Time) {
	var err error
	if best != nil {
		err = f.bids.SetBid(ctx, ref.marketID, ref.side, *best, ts)
	} else {
		err = f.bids.ClearBid(ctx, ref.marketID, ref.side)
	}
	if err != nil {
		f.logger.Warn("bid cache update failed",
			slog.String("market_id", ref.marketID),
			slog.String("side", string(ref.side)),
			slog.String("error", err.Error()),
		)
	}

	if f.onBid != nil {
		f.onBid(ctx, ref.marketID, ref.side, best, ts)
	}
}

// bestOf returns the highest price in the ladder, or nil when it is empty.
func bestOf(ladder map[float64]float64) *float64 {
	var best *float64
	for price := range ladder {
		if best == nil || price > *best {
			p := price
			best = &p
		}
	}
	return best
}
