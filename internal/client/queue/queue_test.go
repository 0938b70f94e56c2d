package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"couplesync/internal/client/localstore"
	"couplesync/internal/logging"
	"couplesync/internal/models"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestQueue(t *testing.T) (*Queue, localstore.Store) {
	t.Helper()
	store := localstore.NewMemoryStore()
	q := New(store, testLogger())
	require.NoError(t, q.Load(context.Background()))
	return q, store
}

func TestEnqueue_PreservesInsertionOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id1 := q.Enqueue(ctx, OpAddTodo, AddTodoPayload{Todo: models.Todo{ID: "t1", Text: "first"}})
	id2 := q.Enqueue(ctx, OpToggleTodo, ToggleTodoPayload{Todo: models.Todo{ID: "t1", Done: true}})
	id3 := q.Enqueue(ctx, OpDeleteTodo, DeleteTodoPayload{TodoID: "t1"})

	ops := q.ListPending()
	require.Len(t, ops, 3)
	assert.Equal(t, []string{id1, id2, id3}, []string{ops[0].ID, ops[1].ID, ops[2].ID})
	assert.Equal(t, OpAddTodo, ops[0].Type)
	assert.Equal(t, OpToggleTodo, ops[1].Type)
	assert.Equal(t, OpDeleteTodo, ops[2].Type)
}

func TestQueue_SurvivesReload(t *testing.T) {
	store := localstore.NewMemoryStore()
	ctx := context.Background()

	q := New(store, testLogger())
	require.NoError(t, q.Load(ctx))
	q.Enqueue(ctx, OpAddTodo, AddTodoPayload{Todo: models.Todo{ID: "t1", Text: "persisted"}})
	q.Enqueue(ctx, OpDeleteAlbum, DeleteAlbumPayload{AlbumID: "a1"})

	// simulate process restart
	q2 := New(store, testLogger())
	require.NoError(t, q2.Load(ctx))
	ops := q2.ListPending()
	require.Len(t, ops, 2)
	assert.Equal(t, OpAddTodo, ops[0].Type)

	decoded, err := DecodePayload(ops[0])
	require.NoError(t, err)
	assert.Equal(t, "persisted", decoded.(*AddTodoPayload).Todo.Text)
}

func TestDequeue_RemovesOne(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id1 := q.Enqueue(ctx, OpAddTodo, AddTodoPayload{Todo: models.Todo{ID: "t1"}})
	id2 := q.Enqueue(ctx, OpAddTodo, AddTodoPayload{Todo: models.Todo{ID: "t2"}})

	q.Dequeue(ctx, id1)
	ops := q.ListPending()
	require.Len(t, ops, 1)
	assert.Equal(t, id2, ops[0].ID)
}

func TestIncrementRetry(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id := q.Enqueue(ctx, OpAddTodo, AddTodoPayload{Todo: models.Todo{ID: "t1"}})
	assert.Equal(t, 1, q.IncrementRetry(ctx, id))
	assert.Equal(t, 2, q.IncrementRetry(ctx, id))
	assert.Equal(t, 2, q.ListPending()[0].RetryCount)
}

func TestRemoveMatching_CancelsQueuedCreate(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, OpAddTodo, AddTodoPayload{Todo: models.Todo{ID: "t1"}})
	q.Enqueue(ctx, OpAddTodo, AddTodoPayload{Todo: models.Todo{ID: "t2"}})

	removed := q.RemoveMatching(ctx, func(op Operation) bool {
		decoded, err := DecodePayload(op)
		if err != nil {
			return false
		}
		p, ok := decoded.(*AddTodoPayload)
		return ok && p.Todo.ID == "t1"
	})
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, q.Len())
}

func TestDrainAll(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, OpAddTodo, AddTodoPayload{Todo: models.Todo{ID: "t1"}})
	q.DrainAll(ctx)
	assert.Equal(t, 0, q.Len())

	// durable copy is cleared too
	q2 := New(store, testLogger())
	require.NoError(t, q2.Load(ctx))
	assert.Equal(t, 0, q2.Len())
}

func TestSubscribe_NotifiedOnMutation(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	calls := 0
	unsub := q.Subscribe(func() { calls++ })
	q.Enqueue(ctx, OpAddTodo, AddTodoPayload{Todo: models.Todo{ID: "t1"}})
	assert.Equal(t, 1, calls)

	unsub()
	q.Enqueue(ctx, OpAddTodo, AddTodoPayload{Todo: models.Todo{ID: "t2"}})
	assert.Equal(t, 1, calls)
}

func TestDecodePayload_Unknown(t *testing.T) {
	_, err := DecodePayload(Operation{Type: "NOPE", Payload: []byte(`{}`)})
	assert.Error(t, err)
}
