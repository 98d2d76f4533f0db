package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/updownlabs/sidepricer/internal/domain"
)

// defaultPricingTTL is used when the configured cache TTL is zero.
const defaultPricingTTL = 15 * time.Minute

// PricingCache implements domain.PricingCache using Redis hashes with a
// JSON-serialized PricingRecord at key "pricing:{marketID}".
type PricingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPricingCache creates a PricingCache backed by the given Client.
func NewPricingCache(c *Client, ttl time.Duration) *PricingCache {
	if ttl <= 0 {
		ttl = defaultPricingTTL
	}
	return &PricingCache{rdb: c.Handle(), ttl: ttl}
}

func pricingKey(marketID string) string { return "pricing:" + marketID }

// Set stores the latest classification for a market.
func (pc *PricingCache) Set(ctx context.Context, rec domain.PricingRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal pricing %s: %w", rec.MarketID, err)
	}

	key := pricingKey(rec.MarketID)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, pc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set pricing %s: %w", rec.MarketID, err)
	}
	return nil
}

// Get retrieves the latest cached classification for a market.
// It returns domain.ErrNotFound when no entry exists.
func (pc *PricingCache) Get(ctx context.Context, marketID string) (domain.PricingRecord, error) {
	data, err := pc.rdb.HGet(ctx, pricingKey(marketID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PricingRecord{}, domain.ErrNotFound
		}
		return domain.PricingRecord{}, fmt.Errorf("redis: get pricing %s: %w", marketID, err)
	}

	var rec domain.PricingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.PricingRecord{}, fmt.Errorf("redis: unmarshal pricing %s: %w", marketID, err)
	}
	return rec, nil
}

// Invalidate removes the cached classification for a market.
func (pc *PricingCache) Invalidate(ctx context.Context, marketID string) error {
	if err := pc.rdb.Del(ctx, pricingKey(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate pricing %s: %w", marketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PricingCache = (*PricingCache)(nil)
