package syncstore

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"couplesync/internal/client/localstore"
	"couplesync/internal/client/queue"
	"couplesync/internal/common"
	"couplesync/internal/logging"
	"couplesync/internal/models"
	"couplesync/internal/remote"
	"couplesync/internal/remote/memory"
)

type fakeOnline struct{ online bool }

func (f *fakeOnline) IsOnline() bool { return f.online }

type fakeNotifier struct {
	mu      sync.Mutex
	stalled []string
}

func (f *fakeNotifier) PartnerMissionReady(ctx context.Context, coupleID string) {}
func (f *fakeNotifier) PartnerUnpaired(ctx context.Context, coupleID string, reason models.DisconnectReason) {
}
func (f *fakeNotifier) PartnerReconnected(ctx context.Context, coupleID string) {}
func (f *fakeNotifier) SyncStalled(ctx context.Context, opType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stalled = append(f.stalled, opType)
}

func (f *fakeNotifier) stalledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stalled)
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fixture struct {
	remote   *memory.Store
	queue    *queue.Queue
	online   *fakeOnline
	notifier *fakeNotifier
	store    *Store
	coupleID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	rs := memory.New()
	couple := &models.Couple{
		User1ID:  "alice",
		User2ID:  "bob",
		Status:   models.CoupleStatusActive,
		Timezone: "UTC",
	}
	require.NoError(t, rs.Couples().Create(ctx, couple))

	q := queue.New(localstore.NewMemoryStore(), testLogger())
	require.NoError(t, q.Load(ctx))

	online := &fakeOnline{online: true}
	notifier := &fakeNotifier{}
	s := New(rs, q, online, notifier, testLogger(), Options{
		UserID:            "alice",
		CoupleID:          couple.ID,
		RetryCap:          3,
		ResyncMinInterval: time.Minute,
	})
	require.NoError(t, s.Load(ctx))
	return &fixture{remote: rs, queue: q, online: online, notifier: notifier, store: s, coupleID: couple.ID}
}

func (f *fixture) goOffline() {
	f.online.online = false
	f.remote.SetOffline(true)
}

func (f *fixture) goOnline() {
	f.online.online = true
	f.remote.SetOffline(false)
}

func TestAddTodo_Online_WritesThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	todo, err := f.store.AddTodo(ctx, "2026-08-26", "buy flowers")
	require.NoError(t, err)

	assert.Zero(t, f.queue.Len())
	remoteTodos, err := f.remote.Todos().List(ctx, f.coupleID)
	require.NoError(t, err)
	require.Len(t, remoteTodos, 1)
	assert.Equal(t, todo.ID, remoteTodos[0].ID)
}

func TestAddTodo_OfflineThenDrain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.goOffline()
	todo, err := f.store.AddTodo(ctx, "2026-08-26", "call the vet")
	require.NoError(t, err)

	// Visible locally, durable in the queue, absent remotely.
	assert.Len(t, f.store.Todos("2026-08-26"), 1)
	assert.Equal(t, 1, f.queue.Len())

	f.goOnline()
	require.NoError(t, f.store.ProcessPendingOperations(ctx))

	assert.Zero(t, f.queue.Len())
	remoteTodos, err := f.remote.Todos().List(ctx, f.coupleID)
	require.NoError(t, err)
	require.Len(t, remoteTodos, 1)
	assert.Equal(t, todo.ID, remoteTodos[0].ID)
	assert.False(t, f.store.Stalled())
}

func TestProcessPending_PreservesOrderAcrossEntities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.goOffline()
	album, err := f.store.CreateAlbum(ctx, "summer")
	require.NoError(t, err)
	mem, err := f.store.AddMemory(ctx, "photos/1.jpg")
	require.NoError(t, err)
	_, err = f.store.AddAlbumPhoto(ctx, album.ID, mem.ID)
	require.NoError(t, err)

	// Replay in enqueue order satisfies the link's dependencies.
	f.goOnline()
	require.NoError(t, f.store.ProcessPendingOperations(ctx))

	photos, err := f.remote.Albums().ListPhotos(ctx, f.coupleID)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, album.ID, photos[0].AlbumID)
}

func TestReplay_IdempotentLinkConflictSettles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	album, err := f.store.CreateAlbum(ctx, "trip")
	require.NoError(t, err)
	mem, err := f.store.AddMemory(ctx, "photos/2.jpg")
	require.NoError(t, err)

	f.goOffline()
	_, err = f.store.AddAlbumPhoto(ctx, album.ID, mem.ID)
	require.NoError(t, err)

	// The link already exists remotely: a partial earlier drain, or the
	// partner added the same photo. Replay must settle, not wedge.
	f.goOnline()
	require.NoError(t, f.remote.Albums().AddPhoto(ctx, &models.AlbumPhoto{
		AlbumID: album.ID, MemoryID: mem.ID, CoupleID: f.coupleID, AddedAt: time.Now(),
	}))
	require.NoError(t, f.store.ProcessPendingOperations(ctx))
	assert.Zero(t, f.queue.Len())
}

func TestRetryCap_StallsOnceAndRecovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.goOffline()
	_, err := f.store.AddTodo(ctx, "2026-08-26", "stuck")
	require.NoError(t, err)

	// Connectivity flag says online but the store keeps failing.
	f.online.online = true
	for i := 0; i < 2; i++ {
		require.NoError(t, f.store.ProcessPendingOperations(ctx))
		assert.False(t, f.store.Stalled())
	}
	err = f.store.ProcessPendingOperations(ctx)
	assert.ErrorIs(t, err, common.ErrSyncStalled)
	assert.True(t, f.store.Stalled())
	assert.Equal(t, 1, f.notifier.stalledCount())

	// Further passes keep the stalled state but do not re-notify.
	_ = f.store.ProcessPendingOperations(ctx)
	assert.Equal(t, 1, f.notifier.stalledCount())

	// The operation was never evicted; recovery drains it.
	f.remote.SetOffline(false)
	require.NoError(t, f.store.ProcessPendingOperations(ctx))
	assert.False(t, f.store.Stalled())
	assert.Zero(t, f.queue.Len())
}

func TestDeleteTodo_CancelsQueuedCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.goOffline()
	todo, err := f.store.AddTodo(ctx, "2026-08-26", "never sent")
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteTodo(ctx, todo.ID))

	// Create and delete annihilate; nothing is left to replay.
	assert.Zero(t, f.queue.Len())
	assert.Empty(t, f.store.Todos("2026-08-26"))

	f.goOnline()
	require.NoError(t, f.store.ProcessPendingOperations(ctx))
	remoteTodos, err := f.remote.Todos().List(ctx, f.coupleID)
	require.NoError(t, err)
	assert.Empty(t, remoteTodos)
}

func TestApplyEvent_ConfirmsOwnWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Wire the feed like the engine does.
	stop, err := f.remote.Subscribe(ctx, f.coupleID, func(ev remote.ChangeEvent) {
		f.store.ApplyEvent(ctx, ev)
	})
	require.NoError(t, err)
	defer stop()

	todo, err := f.store.AddTodo(ctx, "2026-08-26", "water plants")
	require.NoError(t, err)

	// The echo applied the server record over the optimistic one; a later
	// partner write with a newer timestamp must win cleanly.
	update := todo
	update.Done = true
	update.UpdatedAt = todo.UpdatedAt.Add(time.Second)
	f.store.ApplyEvent(ctx, remote.ChangeEvent{
		Type: remote.EventUpdate, Table: remote.TableTodos, CoupleID: f.coupleID, Record: &update,
	})
	got := f.store.Todos("2026-08-26")
	require.Len(t, got, 1)
	assert.True(t, got[0].Done)
}

func TestApplyEvent_LastWriteWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	todo, err := f.store.AddTodo(ctx, "2026-08-26", "newer")
	require.NoError(t, err)

	stale := todo
	stale.Text = "older"
	stale.UpdatedAt = todo.UpdatedAt.Add(-time.Minute)
	f.store.ApplyEvent(ctx, remote.ChangeEvent{
		Type: remote.EventUpdate, Table: remote.TableTodos, CoupleID: f.coupleID, Record: &stale,
	})

	got := f.store.Todos("2026-08-26")
	require.Len(t, got, 1)
	assert.Equal(t, "newer", got[0].Text)

	fresh := todo
	fresh.Text = "freshest"
	fresh.UpdatedAt = todo.UpdatedAt.Add(time.Minute)
	f.store.ApplyEvent(ctx, remote.ChangeEvent{
		Type: remote.EventUpdate, Table: remote.TableTodos, CoupleID: f.coupleID, Record: &fresh,
	})
	got = f.store.Todos("2026-08-26")
	require.Len(t, got, 1)
	assert.Equal(t, "freshest", got[0].Text)
}

func TestApplyEvent_MissionAnswersMergePerSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mission := models.Mission{
		ID: "m1", CoupleID: f.coupleID, Date: "2026-08-26", Prompt: "share a memory",
		UpdatedAt: time.Now(),
	}
	require.NoError(t, f.remote.Missions().Insert(ctx, &mission))
	require.NoError(t, f.store.FullResync(ctx))

	_, err := f.store.AnswerMission(ctx, "m1", "the beach day")
	require.NoError(t, err)

	// Partner (user2) answers; their record has our slot empty.
	partner := mission
	partner.Answer2 = "the road trip"
	partner.UpdatedAt = time.Now().Add(time.Second)
	f.store.ApplyEvent(ctx, remote.ChangeEvent{
		Type: remote.EventUpdate, Table: remote.TableMissions, CoupleID: f.coupleID, Record: &partner,
	})

	got := f.store.Missions("2026-08-26")
	require.Len(t, got, 1)
	assert.Equal(t, "the beach day", got[0].Answer1)
	assert.Equal(t, "the road trip", got[0].Answer2)
}

func seedAlbumWithPhotos(t *testing.T, f *fixture, n int) (string, []string) {
	t.Helper()
	ctx := context.Background()
	album, err := f.store.CreateAlbum(ctx, "gallery")
	require.NoError(t, err)
	ids := make([]string, 0, n)
	base := time.Now()
	for i := 0; i < n; i++ {
		mem, err := f.store.AddMemory(ctx, "photos/x.jpg")
		require.NoError(t, err)
		f.store.ApplyEvent(ctx, remote.ChangeEvent{
			Type: remote.EventInsert, Table: remote.TableAlbumPhotos, CoupleID: f.coupleID,
			Record: &models.AlbumPhoto{
				AlbumID: album.ID, MemoryID: mem.ID, CoupleID: f.coupleID,
				AddedAt: base.Add(time.Duration(i) * time.Second),
			},
		})
		ids = append(ids, mem.ID)
	}
	return album.ID, ids
}

func TestDeleteViewedPhoto_ShiftsToPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	albumID, ids := seedAlbumWithPhotos(t, f, 3)
	f.store.SetActivePhoto(albumID, ids[1])

	// Partner deletes the photo being viewed.
	f.store.ApplyEvent(ctx, remote.ChangeEvent{
		Type: remote.EventDelete, Table: remote.TableAlbumPhotos, CoupleID: f.coupleID,
		Record: &models.AlbumPhoto{AlbumID: albumID, MemoryID: ids[1], CoupleID: f.coupleID},
	})

	got, ok := f.store.ActivePhoto(albumID)
	require.True(t, ok)
	assert.Equal(t, ids[0], got)
	assert.Len(t, f.store.AlbumPhotos(albumID), 2)
}

func TestDeleteViewedPhoto_FirstShiftsToNext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	albumID, ids := seedAlbumWithPhotos(t, f, 2)
	f.store.SetActivePhoto(albumID, ids[0])

	f.store.ApplyEvent(ctx, remote.ChangeEvent{
		Type: remote.EventDelete, Table: remote.TableAlbumPhotos, CoupleID: f.coupleID,
		Record: &models.AlbumPhoto{AlbumID: albumID, MemoryID: ids[0], CoupleID: f.coupleID},
	})

	got, ok := f.store.ActivePhoto(albumID)
	require.True(t, ok)
	assert.Equal(t, ids[1], got)
}

func TestDeleteViewedPhoto_LastClearsSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	albumID, ids := seedAlbumWithPhotos(t, f, 1)
	f.store.SetActivePhoto(albumID, ids[0])

	f.store.ApplyEvent(ctx, remote.ChangeEvent{
		Type: remote.EventDelete, Table: remote.TableAlbumPhotos, CoupleID: f.coupleID,
		Record: &models.AlbumPhoto{AlbumID: albumID, MemoryID: ids[0], CoupleID: f.coupleID},
	})

	_, ok := f.store.ActivePhoto(albumID)
	assert.False(t, ok)
}

func TestFullResync_ReappliesQueuedOps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.goOffline()
	todo, err := f.store.AddTodo(ctx, "2026-08-26", "queued")
	require.NoError(t, err)

	f.goOnline()
	require.NoError(t, f.store.FullResync(ctx))

	// The remote fetch had no such todo, but the queued create keeps the
	// optimistic row visible after the rebuild.
	got := f.store.Todos("2026-08-26")
	require.Len(t, got, 1)
	assert.Equal(t, todo.ID, got[0].ID)
	assert.Equal(t, 1, f.queue.Len())
}

func TestFullResync_Throttled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.FullResync(ctx))

	// Inside the window the call is a no-op, so a remote-side change is
	// not picked up yet.
	other := models.Todo{ID: "t-remote", CoupleID: f.coupleID, Date: "2026-08-26", Text: "partner", UpdatedAt: time.Now()}
	require.NoError(t, f.remote.Todos().Insert(ctx, &other))
	require.NoError(t, f.store.FullResync(ctx))
	assert.Empty(t, f.store.Todos("2026-08-26"))
}

func TestSessionInvalid_Propagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.goOffline()
	_, err := f.store.AddTodo(ctx, "2026-08-26", "whatever")
	require.NoError(t, err)
	f.goOnline()

	// Replace the remote with one that rejects the session.
	f.store.remote = sessionInvalidStore{f.remote}
	err = f.store.ProcessPendingOperations(ctx)
	assert.ErrorIs(t, err, common.ErrSessionInvalid)
	assert.Equal(t, 1, f.queue.Len())
}

type sessionInvalidStore struct{ remote.Store }

func (s sessionInvalidStore) Todos() remote.TodoStore { return sessionInvalidTodos{} }

type sessionInvalidTodos struct{}

func (sessionInvalidTodos) Insert(ctx context.Context, t *models.Todo) error { return common.ErrSessionInvalid }
func (sessionInvalidTodos) Update(ctx context.Context, t *models.Todo) error { return common.ErrSessionInvalid }
func (sessionInvalidTodos) Delete(ctx context.Context, id string) error      { return common.ErrSessionInvalid }
func (sessionInvalidTodos) List(ctx context.Context, coupleID string) ([]models.Todo, error) {
	return nil, common.ErrSessionInvalid
}
