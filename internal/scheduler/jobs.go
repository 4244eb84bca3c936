package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// DayRoller resets the daily watermarks.
type DayRoller interface {
	RollDay(ctx context.Context) error
}

// DayRollJob rolls the ledger's trading day.
func DayRollJob(l DayRoller) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := l.RollDay(ctx); err != nil {
			return fmt.Errorf("day roll: %w", err)
		}
		return nil
	}
}

// ArchiveJob exports closed positions and fills older than retention. The
// cutoff is truncated to the UTC day so reruns on the same day pick the same
// rows. Fills are attempted even when the position export fails.
func ArchiveJob(a domain.Archiver, retention time.Duration, now func() time.Time) func(context.Context) error {
	return func(ctx context.Context) error {
		before := now().UTC().Add(-retention).Truncate(24 * time.Hour)

		_, posErr := a.ArchivePositions(ctx, before)
		_, fillErr := a.ArchiveFills(ctx, before)
		switch {
		case posErr != nil && fillErr != nil:
			return fmt.Errorf("archive: positions: %v; fills: %w", posErr, fillErr)
		case posErr != nil:
			return fmt.Errorf("archive: positions: %w", posErr)
		case fillErr != nil:
			return fmt.Errorf("archive: fills: %w", fillErr)
		}
		return nil
	}
}
