package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"couplesync/internal/common"
	"couplesync/internal/models"
)

type lockRepo struct{ s *Store }

func (r *lockRepo) Get(ctx context.Context, coupleID string) (*models.GenerationLock, error) {
	if err := r.s.guard(); err != nil {
		return nil, err
	}
	row := r.s.db.QueryRowContext(ctx, `SELECT couple_id, status, locked_by, locked_at,
		pending_missions, pending_answers FROM generation_locks WHERE couple_id=$1`, coupleID)
	return scanLock(row)
}

func scanLock(row interface{ Scan(...any) error }) (*models.GenerationLock, error) {
	l := &models.GenerationLock{}
	var lockedAt sql.NullTime
	var missions, answers []byte
	err := row.Scan(&l.CoupleID, &l.Status, &l.LockedBy, &lockedAt, &missions, &answers)
	if err != nil {
		return nil, mapError(err)
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		l.LockedAt = &t
	}
	l.PendingMissions = missions
	l.PendingAnswers = answers
	return l, nil
}

// TryAcquire is a single conditional upsert; the store's row ordering is
// the arbiter between the two devices. Granted when the row is absent,
// already owned, not held, or held past staleAfter by the server clock.
func (r *lockRepo) TryAcquire(ctx context.Context, coupleID, actorID string, staleAfter time.Duration) (bool, error) {
	if err := r.s.guard(); err != nil {
		return false, err
	}
	// Owner re-entry while mid-ad keeps the staged payload; every other
	// grant starts a fresh generation.
	query := `
		INSERT INTO generation_locks (couple_id, status, locked_by, locked_at)
		VALUES ($1, 'generating', $2, now())
		ON CONFLICT (couple_id) DO UPDATE SET
			status = CASE
				WHEN generation_locks.locked_by = EXCLUDED.locked_by
					AND generation_locks.status = 'ad_watching'
				THEN generation_locks.status
				ELSE 'generating'
			END,
			locked_by = EXCLUDED.locked_by,
			locked_at = now(),
			pending_missions = CASE
				WHEN generation_locks.locked_by = EXCLUDED.locked_by
					AND generation_locks.status = 'ad_watching'
				THEN generation_locks.pending_missions
				ELSE NULL
			END,
			pending_answers = CASE
				WHEN generation_locks.locked_by = EXCLUDED.locked_by
					AND generation_locks.status = 'ad_watching'
				THEN generation_locks.pending_answers
				ELSE NULL
			END
		WHERE generation_locks.status IN ('idle', 'completed')
			OR generation_locks.locked_by = EXCLUDED.locked_by
			OR generation_locks.locked_at < now() - make_interval(secs => $3)
	`
	res, err := r.s.db.ExecContext(ctx, query, coupleID, actorID, staleAfter.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *lockRepo) Stage(ctx context.Context, coupleID, actorID string, missions, answers json.RawMessage) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `
		UPDATE generation_locks
		SET status='ad_watching', pending_missions=$3, pending_answers=$4
		WHERE couple_id=$1 AND locked_by=$2 AND status IN ('generating', 'ad_watching')
	`
	res, err := r.s.db.ExecContext(ctx, query, coupleID, actorID, []byte(missions), []byte(answers))
	if err != nil {
		return fmt.Errorf("failed to stage lock: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stage: lock not owned by %s: %w", actorID, common.ErrConflict)
	}
	return nil
}

func (r *lockRepo) Commit(ctx context.Context, coupleID string) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `
		UPDATE generation_locks
		SET status='completed', pending_missions=NULL, pending_answers=NULL
		WHERE couple_id=$1
	`
	res, err := r.s.db.ExecContext(ctx, query, coupleID)
	if err != nil {
		return fmt.Errorf("failed to commit lock: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *lockRepo) Release(ctx context.Context, coupleID string, final models.LockStatus) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `
		UPDATE generation_locks
		SET status=$2, locked_by='', locked_at=NULL, pending_missions=NULL, pending_answers=NULL
		WHERE couple_id=$1
	`
	res, err := r.s.db.ExecContext(ctx, query, coupleID, final)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}
