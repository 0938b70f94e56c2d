// Package sweep is the server-side janitor the two devices cannot be:
// it hard-deletes couples whose recovery window lapsed, resets
// generation locks abandoned mid-flight and drops expired invites.
package sweep

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"couplesync/internal/logging"
)

type Sweeper struct {
	db             *sql.DB
	logger         logging.Logger
	recoveryWindow time.Duration
	lockStaleAfter time.Duration
}

// Stats counts what one pass removed or repaired.
type Stats struct {
	CouplesPurged  int64
	LocksReset     int64
	InvitesDeleted int64
}

func New(db *sql.DB, logger logging.Logger, recoveryWindow, lockStaleAfter time.Duration) *Sweeper {
	return &Sweeper{
		db:             db,
		logger:         logger.With("module", "sweep"),
		recoveryWindow: recoveryWindow,
		lockStaleAfter: lockStaleAfter,
	}
}

// SweepOnce runs one pass with cutoffs derived from now. Couple deletion
// cascades to every owned table through the schema's foreign keys.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM couples
		WHERE status = 'disconnected' AND disconnected_at < $1
	`, now.Add(-s.recoveryWindow))
	if err != nil {
		return stats, fmt.Errorf("failed to purge couples: %w", err)
	}
	stats.CouplesPurged, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		UPDATE generation_locks
		SET status = 'idle', locked_by = '', locked_at = NULL,
		    pending_missions = NULL, pending_answers = NULL
		WHERE status IN ('generating', 'ad_watching') AND locked_at < $1
	`, now.Add(-s.lockStaleAfter))
	if err != nil {
		return stats, fmt.Errorf("failed to reset stale locks: %w", err)
	}
	stats.LocksReset, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM invites WHERE expires_at < $1`, now)
	if err != nil {
		return stats, fmt.Errorf("failed to delete expired invites: %w", err)
	}
	stats.InvitesDeleted, _ = res.RowsAffected()

	return stats, nil
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
// Cutoffs come from the database clock, never the process clock.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.pass(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sweeper) pass(ctx context.Context) {
	now, err := s.dbNow(ctx)
	if err != nil {
		s.logger.Error(ctx, "failed to read database clock", "error", err)
		return
	}
	stats, err := s.SweepOnce(ctx, now)
	if err != nil {
		s.logger.Error(ctx, "sweep pass failed", "error", err)
		return
	}
	if stats.CouplesPurged > 0 || stats.LocksReset > 0 || stats.InvitesDeleted > 0 {
		s.logger.Info(ctx, "sweep pass completed",
			"couples_purged", stats.CouplesPurged,
			"locks_reset", stats.LocksReset,
			"invites_deleted", stats.InvitesDeleted,
		)
	}
}

func (s *Sweeper) dbNow(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := s.db.QueryRowContext(ctx, `SELECT now()`).Scan(&now)
	return now, err
}
