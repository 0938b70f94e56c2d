// Package genlock runs the daily mission generation protocol. Exactly one
// device of a couple may generate per day; the only arbiter is the lock
// row in the remote store, claimed by compare-and-set. Staleness is
// measured against the store clock so a device with a skewed clock can
// neither hog nor steal the lock.
package genlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"couplesync/internal/common"
	"couplesync/internal/logging"
	"couplesync/internal/models"
	"couplesync/internal/notify"
	"couplesync/internal/remote"
)

// Generator computes the missions for one day. The engine plugs in the
// real prompt source; tests use a canned one.
type Generator interface {
	Generate(ctx context.Context, coupleID, date string) ([]models.Mission, error)
}

type Manager struct {
	remote     remote.Store
	notifier   notify.Notifier
	logger     logging.Logger
	coupleID   string
	userID     string
	staleAfter time.Duration

	mu       sync.Mutex
	observed *models.GenerationLock
	subs     map[int]func(models.GenerationLock)
	nextSub  int
}

func New(r remote.Store, notifier notify.Notifier, logger logging.Logger, coupleID, userID string, staleAfter time.Duration) *Manager {
	return &Manager{
		remote:     r,
		notifier:   notifier,
		logger:     logger.With("module", "genlock"),
		coupleID:   coupleID,
		userID:     userID,
		staleAfter: staleAfter,
		subs:       make(map[int]func(models.GenerationLock)),
	}
}

// Acquire attempts to claim the generation lock. false means the partner
// holds a fresh lock; that is the expected outcome for one of the two
// devices every day, not an error.
func (m *Manager) Acquire(ctx context.Context) (bool, error) {
	ok, err := m.remote.Locks().TryAcquire(ctx, m.coupleID, m.userID, m.staleAfter)
	if err != nil {
		return false, fmt.Errorf("failed to acquire generation lock: %w", err)
	}
	if !ok {
		m.logger.Debug(ctx, "generation lock held by partner")
	}
	return ok, nil
}

// Stage stashes generated-but-unrevealed missions on the lock row and
// moves it to ad_watching. The lock stays held while the user watches
// the ad; a crash here leaves a stale lock the partner reclaims.
func (m *Manager) Stage(ctx context.Context, missions []models.Mission, answers map[string]string) error {
	mData, err := json.Marshal(missions)
	if err != nil {
		return fmt.Errorf("failed to encode staged missions: %w", err)
	}
	var aData json.RawMessage
	if len(answers) > 0 {
		aData, err = json.Marshal(answers)
		if err != nil {
			return fmt.Errorf("failed to encode staged answers: %w", err)
		}
	}
	if err := m.remote.Locks().Stage(ctx, m.coupleID, m.userID, mData, aData); err != nil {
		return fmt.Errorf("failed to stage generation: %w", err)
	}
	return nil
}

// CommitStaged publishes the staged missions after the ad completed:
// inserts them, marks the lock completed, releases ownership and tells
// the partner new missions exist.
func (m *Manager) CommitStaged(ctx context.Context) error {
	lock, err := m.remote.Locks().Get(ctx, m.coupleID)
	if err != nil {
		return fmt.Errorf("failed to read generation lock: %w", err)
	}
	if lock.LockedBy != m.userID {
		return fmt.Errorf("lock not owned by this device: %w", common.ErrConflict)
	}
	var missions []models.Mission
	if len(lock.PendingMissions) > 0 {
		if err := json.Unmarshal(lock.PendingMissions, &missions); err != nil {
			return fmt.Errorf("failed to decode staged missions: %w", err)
		}
	}
	for i := range missions {
		if err := m.remote.Missions().Insert(ctx, &missions[i]); err != nil && !isConflict(err) {
			return fmt.Errorf("failed to publish mission: %w", err)
		}
	}
	if err := m.remote.Locks().Commit(ctx, m.coupleID); err != nil {
		return fmt.Errorf("failed to commit generation lock: %w", err)
	}
	if err := m.remote.Locks().Release(ctx, m.coupleID, models.LockStatusCompleted); err != nil {
		return fmt.Errorf("failed to release generation lock: %w", err)
	}
	m.notifier.PartnerMissionReady(ctx, m.coupleID)
	return nil
}

// Abandon gives the lock back without publishing, e.g. the user backed
// out of the ad. The staged payload is discarded.
func (m *Manager) Abandon(ctx context.Context) error {
	if err := m.remote.Locks().Release(ctx, m.coupleID, models.LockStatusIdle); err != nil {
		return fmt.Errorf("failed to abandon generation lock: %w", err)
	}
	return nil
}

// GenerateDaily runs the straight-through flow with no ad gate: acquire,
// generate, publish, complete. Returns false when the partner holds the
// lock or today's missions already exist.
func (m *Manager) GenerateDaily(ctx context.Context, gen Generator) (bool, error) {
	ok, err := m.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}

	date, err := m.today(ctx)
	if err != nil {
		m.releaseQuietly(ctx, models.LockStatusIdle)
		return false, err
	}
	existing, err := m.remote.Missions().ListByDate(ctx, m.coupleID, date)
	if err != nil {
		m.releaseQuietly(ctx, models.LockStatusIdle)
		return false, fmt.Errorf("failed to check today's missions: %w", err)
	}
	if len(existing) > 0 {
		m.releaseQuietly(ctx, models.LockStatusCompleted)
		return false, nil
	}

	missions, err := gen.Generate(ctx, m.coupleID, date)
	if err != nil {
		m.releaseQuietly(ctx, models.LockStatusIdle)
		return false, fmt.Errorf("generation failed: %w", err)
	}
	for i := range missions {
		if err := m.remote.Missions().Insert(ctx, &missions[i]); err != nil && !isConflict(err) {
			m.releaseQuietly(ctx, models.LockStatusIdle)
			return false, fmt.Errorf("failed to publish mission: %w", err)
		}
	}
	if err := m.remote.Locks().Commit(ctx, m.coupleID); err != nil {
		return false, fmt.Errorf("failed to commit generation lock: %w", err)
	}
	if err := m.remote.Locks().Release(ctx, m.coupleID, models.LockStatusCompleted); err != nil {
		return false, fmt.Errorf("failed to release generation lock: %w", err)
	}
	m.notifier.PartnerMissionReady(ctx, m.coupleID)
	return true, nil
}

// today is the generation date: the server clock rendered in the
// couple's timezone. Device-local midnight is never consulted.
func (m *Manager) today(ctx context.Context) (string, error) {
	now, err := m.remote.ServerTime(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read server time: %w", err)
	}
	tz := "UTC"
	if c, err := m.remote.Couples().Get(ctx, m.coupleID); err == nil {
		tz = c.Timezone
	}
	return models.DateIn(now, tz), nil
}

func (m *Manager) releaseQuietly(ctx context.Context, final models.LockStatus) {
	if err := m.remote.Locks().Release(ctx, m.coupleID, final); err != nil {
		// A failed release self-heals through staleness reclaim.
		m.logger.Warn(ctx, "failed to release generation lock", "error", err)
	}
}

// HandleEvent folds a generation_locks feed event into the observed
// state, so the UI can show "partner is generating" without polling.
func (m *Manager) HandleEvent(ev remote.ChangeEvent) {
	if ev.Table != remote.TableLocks {
		return
	}
	lock := ev.Lock()
	if lock == nil || lock.CoupleID != m.coupleID {
		return
	}
	m.mu.Lock()
	if ev.Type == remote.EventDelete {
		m.observed = nil
	} else {
		cp := *lock
		m.observed = &cp
	}
	state := m.observed
	fns := make([]func(models.GenerationLock), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	if state == nil {
		return
	}
	for _, fn := range fns {
		fn(*state)
	}
}

// Observed returns the last lock state seen on the feed, or nil.
func (m *Manager) Observed() *models.GenerationLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.observed == nil {
		return nil
	}
	cp := *m.observed
	return &cp
}

// Subscribe registers a lock-state listener and returns an unsubscribe
// func.
func (m *Manager) Subscribe(fn func(models.GenerationLock)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func isConflict(err error) bool {
	return errors.Is(err, common.ErrConflict)
}
