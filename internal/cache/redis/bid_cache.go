package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/updownlabs/sidepricer/internal/domain"
)

// bidTTL bounds how long a quoted bid is trusted without a refresh. A bid
// that expires reverts the side to the "no live bid" state.
const bidTTL = 2 * time.Minute

// BidCache implements domain.BidCache using Redis hashes. Each side's best
// bid is stored at key "bid:{marketID}:{side}" with fields "price" and "ts"
// (Unix nanosecond timestamp). A missing key means no live bid.
type BidCache struct {
	rdb *redis.Client
}

// NewBidCache creates a BidCache backed by the given Client.
func NewBidCache(c *Client) *BidCache {
	return &BidCache{rdb: c.Handle()}
}

func bidKey(marketID string, side domain.Side) string {
	return "bid:" + marketID + ":" + string(side)
}

// SetBid stores the latest best bid for a market side.
func (bc *BidCache) SetBid(ctx context.Context, marketID string, side domain.Side, price float64, ts time.Time) error {
	key := bidKey(marketID, side)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, bidTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set bid %s/%s: %w", marketID, side, err)
	}
	return nil
}

// ClearBid removes the stored bid for a market side, returning it to the
// "no live bid" state. Clearing an absent bid is not an error.
func (bc *BidCache) ClearBid(ctx context.Context, marketID string, side domain.Side) error {
	if err := bc.rdb.Del(ctx, bidKey(marketID, side)).Err(); err != nil {
		return fmt.Errorf("redis: clear bid %s/%s: %w", marketID, side, err)
	}
	return nil
}

// GetBids retrieves both sides' best bids in one pipeline round trip. Either
// result may be nil when that side has no live bid.
func (bc *BidCache) GetBids(ctx context.Context, marketID string) (up, down *float64, err error) {
	pipe := bc.rdb.Pipeline()
	upCmd := pipe.HGet(ctx, bidKey(marketID, domain.SideUp), "price")
	downCmd := pipe.HGet(ctx, bidKey(marketID, domain.SideDown), "price")

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("redis: get bids %s: %w", marketID, err)
	}

	parse := func(cmd *redis.StringCmd) (*float64, error) {
		s, err := cmd.Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, err
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return &p, nil
	}

	if up, err = parse(upCmd); err != nil {
		return nil, nil, fmt.Errorf("redis: parse up bid %s: %w", marketID, err)
	}
	if down, err = parse(downCmd); err != nil {
		return nil, nil, fmt.Errorf("redis: parse down bid %s: %w", marketID, err)
	}
	return up, down, nil
}

// Compile-time interface check.
var _ domain.BidCache = (*BidCache)(nil)
