package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownlabs/sidepricer/internal/domain"
)

// PricingStore implements domain.PricingStore using PostgreSQL. History is
// append-only; the latest row per market is the current classification.
type PricingStore struct {
	pool *pgxpool.Pool
}

// NewPricingStore creates a new PricingStore backed by the given connection pool.
func NewPricingStore(pool *pgxpool.Pool) *PricingStore {
	return &PricingStore{pool: pool}
}

const pricingCols = `id, market_id, avg_up_price, avg_down_price,
	up_live_price, down_live_price, up_is_expensive,
	expensive_side, cheap_side, expensive_qty, cheap_qty,
	flipped, computed_at`

func scanPricing(row pgx.Row) (domain.PricingRecord, error) {
	var rec domain.PricingRecord
	var expensive, cheap string
	err := row.Scan(
		&rec.ID, &rec.MarketID,
		&rec.Pricing.AvgUpPrice, &rec.Pricing.AvgDownPrice,
		&rec.Pricing.UpLivePrice, &rec.Pricing.DownLivePrice,
		&rec.Pricing.UpIsExpensive,
		&expensive, &cheap,
		&rec.Pricing.ExpensiveQty, &rec.Pricing.CheapQty,
		&rec.Flipped, &rec.ComputedAt,
	)
	if err != nil {
		return domain.PricingRecord{}, err
	}
	rec.Pricing.ExpensiveSide = domain.Side(expensive)
	rec.Pricing.CheapSide = domain.Side(cheap)
	return rec, nil
}

func scanPricingRows(rows pgx.Rows) ([]domain.PricingRecord, error) {
	var recs []domain.PricingRecord
	for rows.Next() {
		rec, err := scanPricing(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Insert appends a classification record.
func (s *PricingStore) Insert(ctx context.Context, rec domain.PricingRecord) error {
	const query = `
		INSERT INTO pricing_history (
			id, market_id, avg_up_price, avg_down_price,
			up_live_price, down_live_price, up_is_expensive,
			expensive_side, cheap_side, expensive_qty, cheap_qty,
			flipped, computed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11,
			$12, $13
		)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.MarketID,
		rec.Pricing.AvgUpPrice, rec.Pricing.AvgDownPrice,
		rec.Pricing.UpLivePrice, rec.Pricing.DownLivePrice,
		rec.Pricing.UpIsExpensive,
		string(rec.Pricing.ExpensiveSide), string(rec.Pricing.CheapSide),
		rec.Pricing.ExpensiveQty, rec.Pricing.CheapQty,
		rec.Flipped, rec.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert pricing %s: %w", rec.MarketID, err)
	}
	return nil
}

// Latest returns the most recent classification for a market.
// It returns domain.ErrNotFound when the market has no history yet.
func (s *PricingStore) Latest(ctx context.Context, marketID string) (domain.PricingRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pricingCols+` FROM pricing_history
		 WHERE market_id = $1 ORDER BY computed_at DESC LIMIT 1`, marketID)
	rec, err := scanPricing(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PricingRecord{}, domain.ErrNotFound
		}
		return domain.PricingRecord{}, fmt.Errorf("postgres: latest pricing %s: %w", marketID, err)
	}
	return rec, nil
}

// ListByMarket returns a market's classification history, newest first, with
// pagination and optional time filtering.
func (s *PricingStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PricingRecord, error) {
	query := `SELECT ` + pricingCols + ` FROM pricing_history WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND computed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND computed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY computed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pricing by market: %w", err)
	}
	defer rows.Close()

	recs, err := scanPricingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pricing by market: %w", err)
	}
	return recs, nil
}

// ListFlips returns records where the expensive side changed, newest first.
func (s *PricingStore) ListFlips(ctx context.Context, since time.Time, limit int) ([]domain.PricingRecord, error) {
	query := `SELECT ` + pricingCols + ` FROM pricing_history
		WHERE flipped AND computed_at >= $1 ORDER BY computed_at DESC`
	args := []any{since}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pricing flips: %w", err)
	}
	defer rows.Close()

	recs, err := scanPricingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pricing flips: %w", err)
	}
	return recs, nil
}

// ListBefore returns records computed strictly before the given time, oldest
// first (for archiving).
func (s *PricingStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.PricingRecord, error) {
	query := `SELECT ` + pricingCols + ` FROM pricing_history
		WHERE computed_at < $1 ORDER BY computed_at ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pricing before: %w", err)
	}
	defer rows.Close()
	return scanPricingRows(rows)
}

// DeleteBefore deletes records computed before the given time. Returns the
// number deleted.
func (s *PricingStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pricing_history WHERE computed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete pricing before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.PricingStore = (*PricingStore)(nil)
