package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownlabs/sidepricer/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillCols = `id, market_id, side, trade_id, price, qty, cost, tx_hash, timestamp`

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		if err := rows.Scan(
			&f.ID, &f.MarketID, &side, &f.TradeID,
			&f.Price, &f.Qty, &f.Cost, &f.TxHash, &f.Timestamp,
		); err != nil {
			return nil, err
		}
		f.Side = domain.Side(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// InsertBatch inserts multiple fills using pgx Batch. Fills already seen
// (same trade_id) are silently skipped via ON CONFLICT DO NOTHING, making the
// scrape idempotent. It returns the number of rows actually inserted.
func (s *FillStore) InsertBatch(ctx context.Context, fills []domain.Fill) (int64, error) {
	if len(fills) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO fills (
			market_id, side, trade_id, price, qty, cost, tx_hash, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		) ON CONFLICT (trade_id) DO NOTHING`

	for _, f := range fills {
		batch.Queue(query,
			f.MarketID, string(f.Side), f.TradeID,
			f.Price, f.Qty, f.Cost, f.TxHash, f.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for i := range fills {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert fill batch item %d: %w", i, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// Totals aggregates a market's fills into per-side quantity and cost sums.
// A market with no fills yields zero totals, not an error.
func (s *FillStore) Totals(ctx context.Context, marketID string) (domain.SideTotals, error) {
	const query = `
		SELECT
			COALESCE(SUM(qty)  FILTER (WHERE side = 'up'),   0),
			COALESCE(SUM(cost) FILTER (WHERE side = 'up'),   0),
			COALESCE(SUM(qty)  FILTER (WHERE side = 'down'), 0),
			COALESCE(SUM(cost) FILTER (WHERE side = 'down'), 0)
		FROM fills WHERE market_id = $1`

	t := domain.SideTotals{MarketID: marketID}
	err := s.pool.QueryRow(ctx, query, marketID).Scan(
		&t.UpQty, &t.UpCost, &t.DownQty, &t.DownCost,
	)
	if err != nil {
		return domain.SideTotals{}, fmt.Errorf("postgres: fill totals %s: %w", marketID, err)
	}
	return t, nil
}

// GetLastTimestamp returns the most recent fill timestamp, or the zero time
// if no fills exist. The scraper uses it as the incremental cursor.
func (s *FillStore) GetLastTimestamp(ctx context.Context) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT MAX(timestamp) FROM fills").Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: get last fill timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// ListByMarket returns fills for a given market with pagination and optional
// time filtering.
func (s *FillStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	query := `SELECT ` + fillCols + ` FROM fills WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY timestamp DESC"

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
		return nil, fmt.Errorf("postgres: list fills by market: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills by market: %w", err)
	}
	return fills, nil
}

// ListBefore returns fills with timestamp strictly before the given time,
// oldest first (for archiving).
func (s *FillStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Fill, error) {
	query := `SELECT ` + fillCols + ` FROM fills WHERE timestamp < $1 ORDER BY timestamp ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before: %w", err)
	}
	defer rows.Close()
	return scanFillRows(rows)
}

// DeleteBefore deletes all fills with timestamp before the given time.
// Returns the number deleted.
func (s *FillStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fills WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete fills before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.FillStore = (*FillStore)(nil)
