package genlock

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"couplesync/internal/logging"
	"couplesync/internal/models"
	"couplesync/internal/notify"
	"couplesync/internal/remote/memory"
)

const staleAfter = 2 * time.Minute

type cannedGenerator struct {
	calls int
}

func (g *cannedGenerator) Generate(ctx context.Context, coupleID, date string) ([]models.Mission, error) {
	g.calls++
	return []models.Mission{
		{ID: uuid.NewString(), CoupleID: coupleID, Date: date, Prompt: "cook together", UpdatedAt: time.Now()},
		{ID: uuid.NewString(), CoupleID: coupleID, Date: date, Prompt: "share a song", UpdatedAt: time.Now()},
	}, nil
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func setup(t *testing.T) (*memory.Store, string) {
	t.Helper()
	rs := memory.New()
	couple := &models.Couple{User1ID: "alice", User2ID: "bob", Status: models.CoupleStatusActive, Timezone: "UTC"}
	require.NoError(t, rs.Couples().Create(context.Background(), couple))
	return rs, couple.ID
}

func manager(rs *memory.Store, coupleID, userID string) *Manager {
	return New(rs, notify.NewLogNotifier(testLogger()), testLogger(), coupleID, userID, staleAfter)
}

func TestAcquire_MutualExclusion(t *testing.T) {
	rs, coupleID := setup(t)
	ctx := context.Background()
	alice := manager(rs, coupleID, "alice")
	bob := manager(rs, coupleID, "bob")

	ok, err := alice.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = bob.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "partner must be denied while the lock is fresh")
}

func TestAcquire_ReentryByOwner(t *testing.T) {
	rs, coupleID := setup(t)
	ctx := context.Background()
	alice := manager(rs, coupleID, "alice")

	for i := 0; i < 2; i++ {
		ok, err := alice.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestAcquire_StaleLockReclaimed(t *testing.T) {
	rs, coupleID := setup(t)
	ctx := context.Background()
	alice := manager(rs, coupleID, "alice")
	bob := manager(rs, coupleID, "bob")

	start := time.Now()
	rs.SetClock(func() time.Time { return start })

	ok, err := alice.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Alice crashed mid-generation; the server clock moves past the
	// staleness threshold and Bob reclaims.
	rs.SetClock(func() time.Time { return start.Add(staleAfter + time.Second) })
	ok, err = bob.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	lock, err := rs.Locks().Get(ctx, coupleID)
	require.NoError(t, err)
	assert.Equal(t, "bob", lock.LockedBy)
}

func TestGenerateDaily_PublishesAndReleases(t *testing.T) {
	rs, coupleID := setup(t)
	ctx := context.Background()
	alice := manager(rs, coupleID, "alice")
	gen := &cannedGenerator{}

	ran, err := alice.GenerateDaily(ctx, gen)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, gen.calls)

	missions, err := rs.Missions().List(ctx, coupleID)
	require.NoError(t, err)
	assert.Len(t, missions, 2)

	lock, err := rs.Locks().Get(ctx, coupleID)
	require.NoError(t, err)
	assert.Equal(t, models.LockStatusCompleted, lock.Status)
	assert.Empty(t, lock.LockedBy)
}

func TestGenerateDaily_SecondDeviceSkips(t *testing.T) {
	rs, coupleID := setup(t)
	ctx := context.Background()
	alice := manager(rs, coupleID, "alice")
	bob := manager(rs, coupleID, "bob")
	gen := &cannedGenerator{}

	ran, err := alice.GenerateDaily(ctx, gen)
	require.NoError(t, err)
	require.True(t, ran)

	// The lock is completed, so Bob can take it, but today's missions
	// already exist and nothing regenerates.
	ran, err = bob.GenerateDaily(ctx, gen)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, gen.calls)

	missions, err := rs.Missions().List(ctx, coupleID)
	require.NoError(t, err)
	assert.Len(t, missions, 2)
}

func TestStageCommit_AdFlow(t *testing.T) {
	rs, coupleID := setup(t)
	ctx := context.Background()
	alice := manager(rs, coupleID, "alice")

	ok, err := alice.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	staged := []models.Mission{
		{ID: "m1", CoupleID: coupleID, Date: "2026-08-26", Prompt: "stargaze", UpdatedAt: time.Now()},
	}
	require.NoError(t, alice.Stage(ctx, staged, nil))

	lock, err := rs.Locks().Get(ctx, coupleID)
	require.NoError(t, err)
	assert.Equal(t, models.LockStatusAdWatching, lock.Status)
	assert.NotEmpty(t, lock.PendingMissions)

	// Nothing is visible until commit.
	missions, err := rs.Missions().List(ctx, coupleID)
	require.NoError(t, err)
	assert.Empty(t, missions)

	require.NoError(t, alice.CommitStaged(ctx))

	missions, err = rs.Missions().List(ctx, coupleID)
	require.NoError(t, err)
	require.Len(t, missions, 1)
	assert.Equal(t, "stargaze", missions[0].Prompt)

	lock, err = rs.Locks().Get(ctx, coupleID)
	require.NoError(t, err)
	assert.Equal(t, models.LockStatusCompleted, lock.Status)
	assert.Empty(t, lock.PendingMissions)
}

func TestAcquire_ReentryDuringAdKeepsStaged(t *testing.T) {
	rs, coupleID := setup(t)
	ctx := context.Background()
	alice := manager(rs, coupleID, "alice")

	ok, err := alice.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	staged := []models.Mission{
		{ID: "m1", CoupleID: coupleID, Date: "2026-08-26", Prompt: "stargaze", UpdatedAt: time.Now()},
	}
	require.NoError(t, alice.Stage(ctx, staged, nil))

	// An acquire retry while the ad plays must not reset the lock.
	ok, err = alice.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	lock, err := rs.Locks().Get(ctx, coupleID)
	require.NoError(t, err)
	assert.Equal(t, models.LockStatusAdWatching, lock.Status)
	assert.NotEmpty(t, lock.PendingMissions)

	require.NoError(t, alice.CommitStaged(ctx))
	missions, err := rs.Missions().List(ctx, coupleID)
	require.NoError(t, err)
	require.Len(t, missions, 1)
	assert.Equal(t, "stargaze", missions[0].Prompt)
}

func TestStage_ByNonOwnerRejected(t *testing.T) {
	rs, coupleID := setup(t)
	ctx := context.Background()
	alice := manager(rs, coupleID, "alice")
	bob := manager(rs, coupleID, "bob")

	ok, err := alice.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	err = bob.Stage(ctx, []models.Mission{{ID: "m1"}}, nil)
	assert.Error(t, err)
}

func TestAbandon_FreesLockForPartner(t *testing.T) {
	rs, coupleID := setup(t)
	ctx := context.Background()
	alice := manager(rs, coupleID, "alice")
	bob := manager(rs, coupleID, "bob")

	ok, err := alice.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, alice.Abandon(ctx))

	ok, err = bob.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandleEvent_TracksPartnerState(t *testing.T) {
	rs, coupleID := setup(t)
	ctx := context.Background()
	alice := manager(rs, coupleID, "alice")
	bob := manager(rs, coupleID, "bob")

	var seen []models.LockStatus
	bob.Subscribe(func(l models.GenerationLock) { seen = append(seen, l.Status) })
	stop, err := rs.Subscribe(ctx, coupleID, bob.HandleEvent)
	require.NoError(t, err)
	defer stop()

	ok, err := alice.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	observed := bob.Observed()
	require.NotNil(t, observed)
	assert.Equal(t, "alice", observed.LockedBy)
	assert.Equal(t, models.LockStatusGenerating, observed.Status)
	assert.Contains(t, seen, models.LockStatusGenerating)
}
