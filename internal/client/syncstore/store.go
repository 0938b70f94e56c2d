// Package syncstore keeps the device's in-memory mirror of the couple's
// shared state converged with the remote store. Mutations apply to the
// mirror first, reach the store directly when online, and fall into the
// durable queue otherwise. Change-feed events reconcile partner writes
// and confirm our own.
package syncstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"couplesync/internal/client/queue"
	"couplesync/internal/logging"
	"couplesync/internal/models"
	"couplesync/internal/notify"
	"couplesync/internal/remote"
)

// Online reports the last known connectivity state without blocking.
// Satisfied by netmon.Monitor.
type Online interface {
	IsOnline() bool
}

// Mirror is the in-memory replica. It is owned by Store; all reads go
// through accessor methods that copy, all writes through the mutate API
// or reconciliation.
type Mirror struct {
	Couple     *models.Couple
	Missions   map[string]models.Mission
	Albums     map[string]models.Album
	Photos     map[string]models.AlbumPhoto // keyed albumID + "/" + memoryID
	Memories   map[string]models.Memory
	Todos      map[string]models.Todo
	Cycle      *models.CycleSettings
	Background *models.Background
}

func newMirror() Mirror {
	return Mirror{
		Missions: make(map[string]models.Mission),
		Albums:   make(map[string]models.Album),
		Photos:   make(map[string]models.AlbumPhoto),
		Memories: make(map[string]models.Memory),
		Todos:    make(map[string]models.Todo),
	}
}

type Store struct {
	remote   remote.Store
	queue    *queue.Queue
	online   Online
	notifier notify.Notifier
	logger   logging.Logger

	userID   string
	coupleID string
	retryCap int
	clock    func() time.Time

	mu     sync.Mutex
	mirror Mirror
	// pendingConfirm holds table/id keys of our own optimistic writes
	// awaiting their feed echo. An echoed key applies unconditionally;
	// everything else goes through last-write-wins.
	pendingConfirm map[string]struct{}
	// activePhoto tracks the memory the UI is viewing per album, so a
	// partner delete of that photo can shift the selection.
	activePhoto map[string]string

	stalled atomic.Bool

	resyncMu   sync.Mutex
	lastResync time.Time
	resyncMin  time.Duration

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

type Options struct {
	UserID   string
	CoupleID string
	// RetryCap is how many failed replays a queued operation survives
	// before the stalled state becomes user-visible.
	RetryCap int
	// ResyncMinInterval throttles FullResync; calls inside the window
	// are no-ops.
	ResyncMinInterval time.Duration
	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func New(r remote.Store, q *queue.Queue, online Online, notifier notify.Notifier, logger logging.Logger, opts Options) *Store {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		remote:         r,
		queue:          q,
		online:         online,
		notifier:       notifier,
		logger:         logger.With("module", "syncstore"),
		userID:         opts.UserID,
		coupleID:       opts.CoupleID,
		retryCap:       opts.RetryCap,
		clock:          clock,
		mirror:         newMirror(),
		pendingConfirm: make(map[string]struct{}),
		activePhoto:    make(map[string]string),
		resyncMin:      opts.ResyncMinInterval,
		subs:           make(map[int]func()),
	}
}

// Load performs the initial unthrottled fetch of the mirror. Call once
// at startup, before subscribing to the change feed.
func (s *Store) Load(ctx context.Context) error {
	if err := s.refresh(ctx); err != nil {
		return fmt.Errorf("failed to load mirror: %w", err)
	}
	return nil
}

// Stalled reports whether a queued operation exhausted its retries and
// replay is blocked waiting for the user or for conditions to change.
func (s *Store) Stalled() bool {
	return s.stalled.Load()
}

// Subscribe registers a mirror-change listener and returns an
// unsubscribe func. Fired after mutations, reconciled events, and
// resyncs.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notifyChanged() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func confirmKey(table remote.Table, id string) string {
	return string(table) + "/" + id
}

func photoKey(albumID, memoryID string) string {
	return albumID + "/" + memoryID
}

// markPendingLocked records an optimistic write awaiting its feed echo.
// Callers hold s.mu.
func (s *Store) markPendingLocked(table remote.Table, id string) {
	s.pendingConfirm[confirmKey(table, id)] = struct{}{}
}

// CoupleID returns the couple this store is bound to. Unlike Couple it
// is valid before the mirror loads.
func (s *Store) CoupleID() string {
	return s.coupleID
}

// Couple returns a copy of the mirrored couple, or nil before Load.
func (s *Store) Couple() *models.Couple {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mirror.Couple == nil {
		return nil
	}
	c := *s.mirror.Couple
	return &c
}

// Todos returns the mirrored todos for a date, sorted by id (creation
// order, ids are time-prefixed upstream only for queue ops, so fall back
// to UpdatedAt then id).
func (s *Store) Todos(date string) []models.Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Todo
	for _, t := range s.mirror.Todos {
		if date == "" || t.Date == date {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Albums returns the mirrored albums sorted by title then id.
func (s *Store) Albums() []models.Album {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Album, 0, len(s.mirror.Albums))
	for _, a := range s.mirror.Albums {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AlbumPhotos returns the links of one album in display order (added_at,
// then memory id).
func (s *Store) AlbumPhotos(albumID string) []models.AlbumPhoto {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.albumPhotosLocked(albumID)
}

func (s *Store) albumPhotosLocked(albumID string) []models.AlbumPhoto {
	var out []models.AlbumPhoto
	for _, p := range s.mirror.Photos {
		if p.AlbumID == albumID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].MemoryID < out[j].MemoryID
	})
	return out
}

// Missions returns the mirrored missions for a date.
func (s *Store) Missions(date string) []models.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Mission
	for _, m := range s.mirror.Missions {
		if date == "" || m.Date == date {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CycleSettings returns a copy, or nil when never set.
func (s *Store) CycleSettings() *models.CycleSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mirror.Cycle == nil {
		return nil
	}
	c := *s.mirror.Cycle
	return &c
}

// Background returns a copy, or nil when never set.
func (s *Store) Background() *models.Background {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mirror.Background == nil {
		return nil
	}
	b := *s.mirror.Background
	return &b
}

// Memory returns a copy of one photo record.
func (s *Store) Memory(id string) (models.Memory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirror.Memories[id]
	return m, ok
}
