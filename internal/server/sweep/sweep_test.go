package sweep

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"couplesync/internal/logging"
	"couplesync/internal/models"
)

// The sweep statements are plain standard SQL over parameterized
// cutoffs, so an in-memory sqlite stands in for postgres here. Cascades
// are exercised through the same ON DELETE CASCADE declarations.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		CREATE TABLE couples (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			disconnected_at TIMESTAMP
		);
		CREATE TABLE invites (
			code TEXT PRIMARY KEY,
			couple_id TEXT NOT NULL REFERENCES couples(id) ON DELETE CASCADE,
			expires_at TIMESTAMP NOT NULL
		);
		CREATE TABLE todos (
			id TEXT PRIMARY KEY,
			couple_id TEXT NOT NULL REFERENCES couples(id) ON DELETE CASCADE
		);
		CREATE TABLE generation_locks (
			couple_id TEXT PRIMARY KEY REFERENCES couples(id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			locked_by TEXT NOT NULL DEFAULT '',
			locked_at TIMESTAMP,
			pending_missions TEXT,
			pending_answers TEXT
		);
	`)
	require.NoError(t, err)
	return db
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSweepOnce_PurgesExpiredCouples(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := now.Add(-models.RecoveryWindow - time.Hour)
	fresh := now.Add(-time.Hour)

	_, err := db.Exec(`INSERT INTO couples (id, status, disconnected_at) VALUES
		('c-old', 'disconnected', $1),
		('c-fresh', 'disconnected', $2),
		('c-active', 'active', NULL)
	`, old, fresh)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO todos (id, couple_id) VALUES ('t1', 'c-old'), ('t2', 'c-fresh')`)
	require.NoError(t, err)

	s := New(db, testLogger(), models.RecoveryWindow, 2*time.Minute)
	stats, err := s.SweepOnce(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.CouplesPurged)

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM couples`).Scan(&count))
	assert.Equal(t, 2, count)
	// The cascade took the purged couple's todos with it.
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM todos`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSweepOnce_ResetsStaleLocks(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := db.Exec(`INSERT INTO couples (id, status) VALUES ('c1', 'active'), ('c2', 'active'), ('c3', 'active')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO generation_locks (couple_id, status, locked_by, locked_at, pending_missions) VALUES
		('c1', 'generating', 'alice', $1, '[]'),
		('c2', 'ad_watching', 'bob', $2, '[]'),
		('c3', 'completed', '', NULL, NULL)
	`, now.Add(-10*time.Minute), now.Add(-time.Minute))
	require.NoError(t, err)

	s := New(db, testLogger(), models.RecoveryWindow, 2*time.Minute)
	stats, err := s.SweepOnce(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.LocksReset)

	var status, lockedBy string
	var pending sql.NullString
	require.NoError(t, db.QueryRow(`SELECT status, locked_by, pending_missions FROM generation_locks WHERE couple_id = 'c1'`).
		Scan(&status, &lockedBy, &pending))
	assert.Equal(t, "idle", status)
	assert.Empty(t, lockedBy)
	assert.False(t, pending.Valid)

	// The fresh ad_watching lock was left alone.
	require.NoError(t, db.QueryRow(`SELECT status FROM generation_locks WHERE couple_id = 'c2'`).Scan(&status))
	assert.Equal(t, "ad_watching", status)
}

func TestSweepOnce_DeletesExpiredInvites(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := db.Exec(`INSERT INTO couples (id, status) VALUES ('c1', 'pending')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO invites (code, couple_id, expires_at) VALUES
		('OLD1', 'c1', $1),
		('GOOD', 'c1', $2)
	`, now.Add(-time.Minute), now.Add(time.Hour))
	require.NoError(t, err)

	s := New(db, testLogger(), models.RecoveryWindow, 2*time.Minute)
	stats, err := s.SweepOnce(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.InvitesDeleted)

	var code string
	require.NoError(t, db.QueryRow(`SELECT code FROM invites`).Scan(&code))
	assert.Equal(t, "GOOD", code)
}
