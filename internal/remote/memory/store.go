// Package memory implements the remote store boundary entirely in memory,
// with deterministic ids and an injectable clock. It backs environments
// without a live backend (and most tests): same interface, same error
// classification, selected at startup by config rather than by branching
// inside the sync engine.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"couplesync/internal/common"
	"couplesync/internal/models"
	"couplesync/internal/remote"
)

type subscriber struct {
	coupleID string
	fn       func(remote.ChangeEvent)
}

// Store holds all couple-scoped tables behind one mutex. Change events
// are delivered synchronously after the mutating call releases the lock,
// which keeps tests deterministic.
type Store struct {
	mu      sync.Mutex
	clock   func() time.Time
	offline bool
	seq     map[string]int

	couples     map[string]*models.Couple
	invites     map[string]*models.Invite
	missions    map[string]*models.Mission
	albums      map[string]*models.Album
	photos      map[string]*models.AlbumPhoto // album_id + "/" + memory_id
	memories    map[string]*models.Memory
	todos       map[string]*models.Todo
	cycles      map[string]*models.CycleSettings
	backgrounds map[string]*models.Background
	locks       map[string]*models.GenerationLock

	subs    map[int]subscriber
	nextSub int
}

func New() *Store {
	return &Store{
		clock:       time.Now,
		seq:         make(map[string]int),
		couples:     make(map[string]*models.Couple),
		invites:     make(map[string]*models.Invite),
		missions:    make(map[string]*models.Mission),
		albums:      make(map[string]*models.Album),
		photos:      make(map[string]*models.AlbumPhoto),
		memories:    make(map[string]*models.Memory),
		todos:       make(map[string]*models.Todo),
		cycles:      make(map[string]*models.CycleSettings),
		backgrounds: make(map[string]*models.Background),
		subs:        make(map[int]subscriber),
		locks:       make(map[string]*models.GenerationLock),
	}
}

// SetClock replaces the store clock. Tests use it to move "server time"
// past the lock staleness threshold or the recovery window.
func (s *Store) SetClock(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = fn
}

// SetOffline makes every subsequent call fail with common.ErrUnavailable,
// simulating a device without connectivity.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// begin locks the store and reports unavailability. Callers must unlock
// unless an error is returned.
func (s *Store) begin() error {
	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return common.ErrUnavailable
	}
	return nil
}

// nextID returns a deterministic id like "couple-000001".
func (s *Store) nextID(prefix string) string {
	s.seq[prefix]++
	return fmt.Sprintf("%s-%06d", prefix, s.seq[prefix])
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return common.ErrUnavailable
	}
	return nil
}

func (s *Store) ServerTime(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return time.Time{}, common.ErrUnavailable
	}
	return s.clock(), nil
}

func (s *Store) Subscribe(ctx context.Context, coupleID string, fn func(remote.ChangeEvent)) (func(), error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = subscriber{coupleID: coupleID, fn: fn}
	s.mu.Unlock()

	stop := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop, nil
}

func (s *Store) Close() error { return nil }

// emit delivers events to matching subscribers. Must be called without
// the store lock held; the sync engine's handlers take their own locks.
func (s *Store) emit(events ...remote.ChangeEvent) {
	s.mu.Lock()
	subs := make([]subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, ev := range events {
		for _, sub := range subs {
			if sub.coupleID == "" || sub.coupleID == ev.CoupleID {
				sub.fn(ev)
			}
		}
	}
}

func (s *Store) Couples() remote.CoupleStore         { return &coupleStore{s} }
func (s *Store) Missions() remote.MissionStore       { return &missionStore{s} }
func (s *Store) Albums() remote.AlbumStore           { return &albumStore{s} }
func (s *Store) Todos() remote.TodoStore             { return &todoStore{s} }
func (s *Store) Cycles() remote.CycleStore           { return &cycleStore{s} }
func (s *Store) Backgrounds() remote.BackgroundStore { return &backgroundStore{s} }
func (s *Store) Locks() remote.LockStore             { return &lockStore{s} }

var _ remote.Store = (*Store)(nil)
