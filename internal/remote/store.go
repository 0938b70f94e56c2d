// Package remote defines the client's boundary to the shared couple store:
// row-level CRUD per table, a couple-scoped change feed, and a server
// clock read used wherever staleness or "today" must not depend on a
// possibly-skewed device clock.
//
// Two backends implement it: postgres (production) and memory
// (deterministic ids, for offline and test use). Errors are classified
// into the sentinels of internal/common; callers match with errors.Is.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"couplesync/internal/models"
)

// Store is the remote store client consumed by the sync engine.
type Store interface {
	// Ping probes reachability. The network monitor uses it as its
	// only connectivity signal.
	Ping(ctx context.Context) error

	// ServerTime reads the store's clock.
	ServerTime(ctx context.Context) (time.Time, error)

	Couples() CoupleStore
	Missions() MissionStore
	Albums() AlbumStore
	Todos() TodoStore
	Cycles() CycleStore
	Backgrounds() BackgroundStore
	Locks() LockStore

	// Subscribe delivers change events for rows scoped to coupleID until
	// the returned stop function is called or ctx is cancelled.
	Subscribe(ctx context.Context, coupleID string, fn func(ChangeEvent)) (func(), error)

	Close() error
}

// CoupleStore persists the pairing relationship and its invite codes.
type CoupleStore interface {
	// Create inserts the couple. When c.ID is empty the backend assigns
	// one and writes it back before returning.
	Create(ctx context.Context, c *models.Couple) error
	Get(ctx context.Context, id string) (*models.Couple, error)
	Update(ctx context.Context, c *models.Couple) error

	// Purge hard-deletes the couple and cascades all owned entities.
	Purge(ctx context.Context, id string) error

	// FindByUsers locates a couple containing both users in either
	// order. Used by restoration.
	FindByUsers(ctx context.Context, userA, userB string) (*models.Couple, error)

	CreateInvite(ctx context.Context, inv *models.Invite) error

	// RedeemInvite atomically attaches userID as user2 and flips the
	// couple to active. No reader may observe an active couple with an
	// empty user2.
	RedeemInvite(ctx context.Context, code, userID string) (*models.Couple, error)

	DeleteInvite(ctx context.Context, code string) error
}

type MissionStore interface {
	Insert(ctx context.Context, m *models.Mission) error
	Update(ctx context.Context, m *models.Mission) error
	List(ctx context.Context, coupleID string) ([]models.Mission, error)
	ListByDate(ctx context.Context, coupleID, date string) ([]models.Mission, error)
}

type AlbumStore interface {
	Insert(ctx context.Context, a *models.Album) error
	Update(ctx context.Context, a *models.Album) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, coupleID string) ([]models.Album, error)

	AddPhoto(ctx context.Context, p *models.AlbumPhoto) error
	RemovePhoto(ctx context.Context, albumID, memoryID string) error
	ListPhotos(ctx context.Context, coupleID string) ([]models.AlbumPhoto, error)

	InsertMemory(ctx context.Context, m *models.Memory) error
	DeleteMemory(ctx context.Context, id string) error
	ListMemories(ctx context.Context, coupleID string) ([]models.Memory, error)
}

type TodoStore interface {
	Insert(ctx context.Context, t *models.Todo) error
	Update(ctx context.Context, t *models.Todo) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, coupleID string) ([]models.Todo, error)
}

type CycleStore interface {
	Upsert(ctx context.Context, s *models.CycleSettings) error
	Get(ctx context.Context, coupleID string) (*models.CycleSettings, error)
}

type BackgroundStore interface {
	Upsert(ctx context.Context, b *models.Background) error
	Get(ctx context.Context, coupleID string) (*models.Background, error)
}

// LockStore arbitrates the daily generation lock. The store is the only
// serialization point between the two devices; there is no peer-to-peer
// coordination.
type LockStore interface {
	Get(ctx context.Context, coupleID string) (*models.GenerationLock, error)

	// TryAcquire attempts to take the lock for actorID. Granted when the
	// row is absent, already owned by actorID, not held, or held past
	// staleAfter (measured against the store clock). A false result is
	// the expected "partner owns it" signal, not an error.
	TryAcquire(ctx context.Context, coupleID, actorID string, staleAfter time.Duration) (bool, error)

	// Stage transitions an owned lock to ad_watching while stashing the
	// computed-but-uncommitted result.
	Stage(ctx context.Context, coupleID, actorID string, missions, answers json.RawMessage) error

	// Commit clears the staged payload and marks the lock completed.
	Commit(ctx context.Context, coupleID string) error

	// Release clears ownership, leaving the row in final status. Used on
	// success and on abandonment alike so the couple never deadlocks.
	Release(ctx context.Context, coupleID string, final models.LockStatus) error
}
