package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market metadata.
type MarketStore interface {
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	GetByTokenID(ctx context.Context, tokenID string) (Market, error)
	GetBySlug(ctx context.Context, slug string) (Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// FillStore persists the operator's fills.
type FillStore interface {
	InsertBatch(ctx context.Context, fills []Fill) (inserted int64, err error)
	Totals(ctx context.Context, marketID string) (SideTotals, error)
	GetLastTimestamp(ctx context.Context) (time.Time, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Fill, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Fill, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PricingStore persists classification history.
type PricingStore interface {
	Insert(ctx context.Context, rec PricingRecord) error
	Latest(ctx context.Context, marketID string) (PricingRecord, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]PricingRecord, error)
	ListFlips(ctx context.Context, since time.Time, limit int) ([]PricingRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]PricingRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditStore persists an append-only audit log. The log is write-only from
// the application's point of view; operators query it directly in SQL.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
