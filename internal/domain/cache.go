package domain

import (
	"context"
	"time"
)

// BidCache stores the latest best bid per market side. A missing entry means
// no live bid exists, which GetBids signals with a nil price for that side.
type BidCache interface {
	SetBid(ctx context.Context, marketID string, side Side, price float64, ts time.Time) error
	ClearBid(ctx context.Context, marketID string, side Side) error
	GetBids(ctx context.Context, marketID string) (up, down *float64, err error)
}

// PricingCache provides fast access to the latest classification per market.
type PricingCache interface {
	Set(ctx context.Context, rec PricingRecord) error
	Get(ctx context.Context, marketID string) (PricingRecord, error)
	Invalidate(ctx context.Context, marketID string) error
}

// MarketCache provides fast market metadata lookups.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	GetByToken(ctx context.Context, tokenID string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting. Allow answers immediately;
// Wait blocks until the same budget admits a request or ctx is cancelled.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
