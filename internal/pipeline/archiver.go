package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/updownlabs/sidepricer/internal/domain"
)

// archiveLockKey guards archive runs across instances. The TTL bounds how
// long a crashed holder can block the next run.
const (
	archiveLockKey = "pipeline:archive"
	archiveLockTTL = time.Hour
)

// FillPurger deletes fills older than the cutoff after they are archived.
type FillPurger interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PricingPurger deletes classification records older than the cutoff after
// they are archived.
type PricingPurger interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves old fills and classification history from the database to
// S3 cold storage and then purges the archived rows. The purge only runs
// after the corresponding archive upload succeeded.
type Archiver struct {
	blobArchiver  domain.Archiver
	fills         FillPurger
	pricing       PricingPurger
	locks         domain.LockManager // nil disables cross-instance locking
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver. locks may be nil, in which case runs
// are not serialized across instances.
func NewArchiver(
	blobArchiver domain.Archiver,
	fills FillPurger,
	pricing PricingPurger,
	locks domain.LockManager,
	retentionDays int,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		fills:         fills,
		pricing:       pricing,
		locks:         locks,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Run executes a single archive run. It calculates the cutoff from the
// retention window, archives fills and classification history older than the
// cutoff, and purges the archived rows.
func (a *Archiver) Run(ctx context.Context) error {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, archiveLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.Info("archive run skipped, another instance holds the lock")
				return nil
			}
			return fmt.Errorf("acquiring archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	fillsArchived, err := a.blobArchiver.ArchiveFills(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving fills before %v: %w", cutoff, err)
	}
	fillsPurged := int64(0)
	if fillsArchived > 0 {
		fillsPurged, err = a.fills.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("purging fills before %v: %w", cutoff, err)
		}
	}

	pricingArchived, err := a.blobArchiver.ArchivePricingHistory(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving pricing history before %v: %w", cutoff, err)
	}
	pricingPurged := int64(0)
	if pricingArchived > 0 {
		pricingPurged, err = a.pricing.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("purging pricing history before %v: %w", cutoff, err)
		}
	}

	a.logger.Info("archive run complete",
		slog.Int64("fills_archived", fillsArchived),
		slog.Int64("fills_purged", fillsPurged),
		slog.Int64("pricing_archived", pricingArchived),
		slog.Int64("pricing_purged", pricingPurged),
	)

	return nil
}

// RunLoop runs the archiver on a repeating interval until the context is
// cancelled.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	a.logger.Info("archiver started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
