package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"couplesync/internal/client/config"
	"couplesync/internal/client/lifecycle"
	"couplesync/internal/client/localstore"
	"couplesync/internal/client/netmon"
	"couplesync/internal/client/queue"
	"couplesync/internal/logging"
	"couplesync/internal/media"
	"couplesync/internal/notify"
	"couplesync/internal/remote/memory"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// testEngine builds an Engine on a shared in-memory remote store, so two
// engines can play the two devices of one couple.
func testEngine(t *testing.T, rs *memory.Store, userID string) *Engine {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.UserID = userID

	logger := testLogger()
	notifier := notify.NewLogNotifier(logger)
	local := localstore.NewMemoryStore()
	q := queue.New(local, logger)
	require.NoError(t, q.Load(ctx))

	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("module", "engine"),
		notifier: notifier,
		remote:   rs,
		local:    local,
		queue:    q,
		monitor:  netmon.New(rs, cfg.OnlineCheckInterval, logger),
		life:     lifecycle.New(rs, local, notifier, logger, userID, cfg.InviteTTL),
	}
	t.Cleanup(func() { _ = e.Close() })
	require.NoError(t, e.Start(ctx))
	return e
}

func pairEngines(t *testing.T, rs *memory.Store) (*Engine, *Engine) {
	t.Helper()
	ctx := context.Background()
	alice := testEngine(t, rs, "alice")
	bob := testEngine(t, rs, "bob")

	_, inv, err := alice.Pair(ctx, "UTC")
	require.NoError(t, err)
	_, err = bob.Join(ctx, inv.Code)
	require.NoError(t, err)
	return alice, bob
}

func TestEngine_StartUnpaired(t *testing.T) {
	e := testEngine(t, memory.New(), "alice")
	assert.Nil(t, e.Sync())
	assert.Nil(t, e.Lock())
	assert.True(t, e.Monitor().IsOnline())
}

func TestEngine_PairJoinAndFeedRouting(t *testing.T) {
	rs := memory.New()
	ctx := context.Background()
	alice, bob := pairEngines(t, rs)

	require.NotNil(t, alice.Sync())
	require.NotNil(t, bob.Sync())

	// A write on one device shows up in the other's mirror via the feed.
	todo, err := alice.Sync().AddTodo(ctx, "2026-08-26", "plan dinner")
	require.NoError(t, err)

	got := bob.Sync().Todos("2026-08-26")
	require.Len(t, got, 1)
	assert.Equal(t, todo.ID, got[0].ID)
}

func TestEngine_OfflineMutationDrainsOnReconnect(t *testing.T) {
	rs := memory.New()
	ctx := context.Background()
	alice, _ := pairEngines(t, rs)

	rs.SetOffline(true)
	alice.Monitor().Check(ctx)
	require.False(t, alice.Monitor().IsOnline())

	_, err := alice.Sync().AddTodo(ctx, "2026-08-26", "offline note")
	require.NoError(t, err)
	assert.Equal(t, 1, alice.Queue().Len())

	// The offline->online transition drains the queue synchronously.
	rs.SetOffline(false)
	alice.Monitor().Check(ctx)

	assert.Zero(t, alice.Queue().Len())
	todos, err := rs.Todos().List(ctx, alice.Sync().Couple().ID)
	require.NoError(t, err)
	assert.Len(t, todos, 1)
}

func TestEngine_LockRoutedToManager(t *testing.T) {
	rs := memory.New()
	ctx := context.Background()
	alice, bob := pairEngines(t, rs)

	ok, err := alice.Lock().Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	observed := bob.Lock().Observed()
	require.NotNil(t, observed)
	assert.Equal(t, "alice", observed.LockedBy)
}

func TestEngine_AddPhotoOfflineColdStart(t *testing.T) {
	rs := memory.New()
	ctx := context.Background()
	alice, _ := pairEngines(t, rs)

	album, err := alice.Sync().CreateAlbum(ctx, "trip")
	require.NoError(t, err)

	// Media endpoint that accepts the presigned PUT.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()
	presigner, err := media.NewPresigner(ctx, media.S3Settings{
		Bucket:    "couple-media",
		Region:    "us-east-1",
		Endpoint:  ts.URL,
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)

	// The same device restarts while the store is unreachable: it binds
	// from the cached couple reference with an unloaded mirror.
	rs.SetOffline(true)
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.UserID = "alice"
	logger := testLogger()
	notifier := notify.NewLogNotifier(logger)
	q := queue.New(alice.local, logger)
	require.NoError(t, q.Load(ctx))
	restarted := &Engine{
		cfg:      cfg,
		logger:   logger.With("module", "engine"),
		notifier: notifier,
		remote:   rs,
		local:    alice.local,
		queue:    q,
		monitor:  netmon.New(rs, cfg.OnlineCheckInterval, logger),
		life:     lifecycle.New(rs, alice.local, notifier, logger, "alice", cfg.InviteTTL),
		media:    presigner,
	}
	t.Cleanup(func() { _ = restarted.Close() })
	require.NoError(t, restarted.Start(ctx))
	require.NotNil(t, restarted.Sync())
	require.Nil(t, restarted.Sync().Couple())

	mem, err := restarted.AddPhoto(ctx, album.ID, []byte("jpeg bytes"))
	require.NoError(t, err)
	assert.NotEmpty(t, mem.ID)
	// Memory insert and album link both wait in the queue.
	assert.Equal(t, 2, restarted.Queue().Len())
}

func TestEngine_AccessorsDuringPair(t *testing.T) {
	rs := memory.New()
	ctx := context.Background()
	alice := testEngine(t, rs, "alice")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = alice.Sync()
			_ = alice.Lock()
		}
	}()

	_, _, err := alice.Pair(ctx, "UTC")
	require.NoError(t, err)
	<-done
	assert.NotNil(t, alice.Sync())
}

func TestEngine_Logout(t *testing.T) {
	rs := memory.New()
	ctx := context.Background()
	alice, _ := pairEngines(t, rs)

	rs.SetOffline(true)
	alice.Monitor().Check(ctx)
	_, err := alice.Sync().AddTodo(ctx, "2026-08-26", "doomed")
	require.NoError(t, err)

	rs.SetOffline(false)
	require.NoError(t, alice.Logout(ctx))
	assert.Nil(t, alice.Sync())
	assert.Zero(t, alice.Queue().Len())

	id, err := alice.Lifecycle().CoupleID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
}
