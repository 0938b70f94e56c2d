package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"couplesync/internal/common"
	"couplesync/internal/models"
	"couplesync/internal/remote"
)

type lockStore struct{ s *Store }

func (r *lockStore) Get(ctx context.Context, coupleID string) (*models.GenerationLock, error) {
	if err := r.s.begin(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	l, ok := r.s.locks[coupleID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// TryAcquire mirrors the postgres conditional-upsert semantics: granted
// when the row is absent, owned by actorID already, not held, or held
// past staleAfter by the store clock.
func (r *lockStore) TryAcquire(ctx context.Context, coupleID, actorID string, staleAfter time.Duration) (bool, error) {
	if err := r.s.begin(); err != nil {
		return false, err
	}
	now := r.s.clock()

	l, ok := r.s.locks[coupleID]
	grant := !ok ||
		l.LockedBy == actorID ||
		!l.Held() ||
		(l.LockedAt != nil && now.Sub(*l.LockedAt) > staleAfter)
	if !grant {
		r.s.mu.Unlock()
		return false, nil
	}

	typ := remote.EventUpdate
	if !ok {
		typ = remote.EventInsert
	}
	at := now
	cp := models.GenerationLock{
		CoupleID: coupleID,
		Status:   models.LockStatusGenerating,
		LockedBy: actorID,
		LockedAt: &at,
	}
	// Owner re-entry while mid-ad keeps the staged payload; everything
	// else starts a fresh generation.
	if ok && l.LockedBy == actorID && l.Status == models.LockStatusAdWatching {
		cp.Status = l.Status
		cp.PendingMissions = l.PendingMissions
		cp.PendingAnswers = l.PendingAnswers
	}
	r.s.locks[coupleID] = &cp
	ev := remote.ChangeEvent{Type: typ, Table: remote.TableLocks, CoupleID: coupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return true, nil
}

func (r *lockStore) Stage(ctx context.Context, coupleID, actorID string, missions, answers json.RawMessage) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	l, ok := r.s.locks[coupleID]
	if !ok || l.LockedBy != actorID || !l.Held() {
		r.s.mu.Unlock()
		return fmt.Errorf("stage: lock not owned by %s: %w", actorID, common.ErrConflict)
	}
	cp := *l
	cp.Status = models.LockStatusAdWatching
	cp.PendingMissions = missions
	cp.PendingAnswers = answers
	r.s.locks[coupleID] = &cp
	ev := remote.ChangeEvent{Type: remote.EventUpdate, Table: remote.TableLocks, CoupleID: coupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *lockStore) Commit(ctx context.Context, coupleID string) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	l, ok := r.s.locks[coupleID]
	if !ok {
		r.s.mu.Unlock()
		return common.ErrNotFound
	}
	cp := *l
	cp.Status = models.LockStatusCompleted
	cp.PendingMissions = nil
	cp.PendingAnswers = nil
	r.s.locks[coupleID] = &cp
	ev := remote.ChangeEvent{Type: remote.EventUpdate, Table: remote.TableLocks, CoupleID: coupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *lockStore) Release(ctx context.Context, coupleID string, final models.LockStatus) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	l, ok := r.s.locks[coupleID]
	if !ok {
		r.s.mu.Unlock()
		return common.ErrNotFound
	}
	cp := *l
	cp.Status = final
	cp.LockedBy = ""
	cp.LockedAt = nil
	cp.PendingMissions = nil
	cp.PendingAnswers = nil
	r.s.locks[coupleID] = &cp
	ev := remote.ChangeEvent{Type: remote.EventUpdate, Table: remote.TableLocks, CoupleID: coupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}
