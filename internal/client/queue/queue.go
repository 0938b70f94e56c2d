package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"couplesync/internal/client/localstore"
	"couplesync/internal/common"
	"couplesync/internal/logging"
)

// Queue holds pending operations in memory and mirrors every change to
// the durable store before notifying subscribers, so a crash between
// enqueue and notification still leaves a durable operation.
//
// The queue never decides abandonment: IncrementRetry only counts, the
// sync store owns the retry-cap policy.
type Queue struct {
	mu     sync.Mutex
	ops    []Operation
	store  localstore.Store
	logger logging.Logger

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

func New(store localstore.Store, logger logging.Logger) *Queue {
	return &Queue{
		store:  store,
		logger: logger.With("module", "queue"),
		subs:   make(map[int]func()),
	}
}

// Load restores the persisted queue. Call once at startup.
func (q *Queue) Load(ctx context.Context) error {
	data, err := q.store.Get(ctx, common.KeyOfflineQueue)
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}
	if data == nil {
		return nil
	}
	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return fmt.Errorf("failed to decode queue: %w", err)
	}
	q.mu.Lock()
	q.ops = ops
	q.mu.Unlock()
	return nil
}

// Enqueue appends an operation and returns its id. It never fails: a
// persistence error is logged, the in-memory copy still serves the
// session, and the next successful persist includes the operation.
func (q *Queue) Enqueue(ctx context.Context, t OpType, payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		q.logger.Error(ctx, "unencodable payload dropped", "type", t, "error", err)
		return ""
	}
	op := Operation{
		// Timestamp prefix keeps ids monotonic enough to preserve
		// insertion order; the suffix breaks same-nanosecond ties.
		ID:        fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString()[:8]),
		Type:      t,
		Payload:   data,
		Timestamp: time.Now(),
	}
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.persistLocked(ctx)
	q.mu.Unlock()
	q.notify()
	return op.ID
}

// Dequeue removes one operation after it was applied remotely.
func (q *Queue) Dequeue(ctx context.Context, operationID string) {
	q.mu.Lock()
	kept := q.ops[:0]
	for _, op := range q.ops {
		if op.ID != operationID {
			kept = append(kept, op)
		}
	}
	q.ops = kept
	q.persistLocked(ctx)
	q.mu.Unlock()
	q.notify()
}

// RemoveMatching filters out queued operations, e.g. cancelling a
// queued create when the user deletes the item before it was ever sent.
// Returns how many were removed.
func (q *Queue) RemoveMatching(ctx context.Context, match func(Operation) bool) int {
	q.mu.Lock()
	kept := q.ops[:0]
	removed := 0
	for _, op := range q.ops {
		if match(op) {
			removed++
			continue
		}
		kept = append(kept, op)
	}
	q.ops = kept
	if removed > 0 {
		q.persistLocked(ctx)
	}
	q.mu.Unlock()
	if removed > 0 {
		q.notify()
	}
	return removed
}

// DrainAll clears the queue. Used on logout/reset.
func (q *Queue) DrainAll(ctx context.Context) {
	q.mu.Lock()
	q.ops = nil
	q.persistLocked(ctx)
	q.mu.Unlock()
	q.notify()
}

// ListPending returns a snapshot in insertion order; this order is the
// replay order.
func (q *Queue) ListPending() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// IncrementRetry bumps the retry counter and returns the new count.
func (q *Queue) IncrementRetry(ctx context.Context, operationID string) int {
	q.mu.Lock()
	count := 0
	for i := range q.ops {
		if q.ops[i].ID == operationID {
			q.ops[i].RetryCount++
			count = q.ops[i].RetryCount
			break
		}
	}
	q.persistLocked(ctx)
	q.mu.Unlock()
	return count
}

// Subscribe registers a change listener and returns an unsubscribe func.
func (q *Queue) Subscribe(fn func()) func() {
	q.subMu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.subMu.Unlock()
	return func() {
		q.subMu.Lock()
		delete(q.subs, id)
		q.subMu.Unlock()
	}
}

func (q *Queue) notify() {
	q.subMu.Lock()
	fns := make([]func(), 0, len(q.subs))
	for _, fn := range q.subs {
		fns = append(fns, fn)
	}
	q.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// persistLocked writes the whole queue synchronously. Callers hold q.mu.
func (q *Queue) persistLocked(ctx context.Context) {
	data, err := json.Marshal(q.ops)
	if err != nil {
		q.logger.Error(ctx, "failed to encode queue", "error", err)
		return
	}
	if err := q.store.Set(ctx, common.KeyOfflineQueue, data); err != nil {
		q.logger.Error(ctx, "failed to persist queue", "error", err)
	}
}
