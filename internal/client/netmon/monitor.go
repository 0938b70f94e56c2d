// Package netmon is the single source of truth for "are we online". The
// state is available both as transition callbacks and as a synchronous
// getter usable deep inside non-reactive code paths.
package netmon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"couplesync/internal/logging"
)

// Pinger probes store reachability. The remote store client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

const probeTimeout = 3 * time.Second

type Monitor struct {
	pinger   Pinger
	interval time.Duration
	logger   logging.Logger
	online   atomic.Bool

	mu      sync.Mutex
	subs    map[int]func(online bool)
	nextSub int
}

func New(p Pinger, interval time.Duration, logger logging.Logger) *Monitor {
	return &Monitor{
		pinger:   p,
		interval: interval,
		logger:   logger.With("module", "netmon"),
		subs:     make(map[int]func(bool)),
	}
}

// Initialize seeds the flag from one synchronous probe. Call once before
// Run; subscribers registered later only see transitions.
func (m *Monitor) Initialize(ctx context.Context) {
	m.online.Store(m.probe(ctx))
}

// IsOnline returns the last known state without blocking.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// Subscribe registers a listener fired only on transitions
// (online→offline or offline→online), never on repeated probes with the
// same outcome. Returns an unsubscribe func.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
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

// Run probes on a ticker until ctx is cancelled. Typically started as a
// goroutine by the engine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check runs one probe immediately and fires transition callbacks.
// Exposed so the foreground signal can force a re-probe between ticks.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.probe(ctx)
	prev := m.online.Swap(online)
	if prev == online {
		return online
	}
	if online {
		m.logger.Info(ctx, "connectivity restored")
	} else {
		m.logger.Info(ctx, "connectivity lost")
	}
	m.mu.Lock()
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
	return online
}

func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return m.pinger.Ping(ctx) == nil
}
