package syncstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"couplesync/internal/client/queue"
	"couplesync/internal/common"
	"couplesync/internal/models"
	"couplesync/internal/remote"
)

// push sends one mutation that already took effect locally. Offline or
// transient failure queues it for replay; an idempotent conflict means
// the store already has the write. Only a session failure propagates.
func (s *Store) push(ctx context.Context, t queue.OpType, payload any, write func(context.Context) error) error {
	if !s.online.IsOnline() {
		s.queue.Enqueue(ctx, t, payload)
		return nil
	}
	err := write(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrConflict):
		return nil
	case errors.Is(err, common.ErrSessionInvalid):
		return err
	default:
		s.logger.Warn(ctx, "remote write failed, queueing", "type", t, "error", err)
		s.queue.Enqueue(ctx, t, payload)
		return nil
	}
}

// cancelQueued drops queued operations the user undid before they were
// ever sent. Returns true when something was cancelled, in which case no
// compensating remote write is needed.
func (s *Store) cancelQueued(ctx context.Context, match func(queue.Operation) bool) bool {
	return s.queue.RemoveMatching(ctx, match) > 0
}

func (s *Store) AddTodo(ctx context.Context, date, text string) (models.Todo, error) {
	t := models.Todo{
		ID:        uuid.NewString(),
		CoupleID:  s.coupleID,
		Date:      date,
		Text:      text,
		UpdatedAt: s.clock(),
	}
	s.mu.Lock()
	s.mirror.Todos[t.ID] = t
	s.markPendingLocked(remote.TableTodos, t.ID)
	s.mu.Unlock()
	s.notifyChanged()
	err := s.push(ctx, queue.OpAddTodo, queue.AddTodoPayload{Todo: t}, func(ctx context.Context) error {
		return s.remote.Todos().Insert(ctx, &t)
	})
	return t, err
}

func (s *Store) ToggleTodo(ctx context.Context, todoID string) (models.Todo, error) {
	s.mu.Lock()
	t, ok := s.mirror.Todos[todoID]
	if !ok {
		s.mu.Unlock()
		return models.Todo{}, common.ErrNotFound
	}
	t.Done = !t.Done
	t.UpdatedAt = s.clock()
	s.mirror.Todos[todoID] = t
	s.markPendingLocked(remote.TableTodos, todoID)
	s.mu.Unlock()
	s.notifyChanged()
	err := s.push(ctx, queue.OpToggleTodo, queue.ToggleTodoPayload{Todo: t}, func(ctx context.Context) error {
		return s.remote.Todos().Update(ctx, &t)
	})
	return t, err
}

func (s *Store) DeleteTodo(ctx context.Context, todoID string) error {
	s.mu.Lock()
	delete(s.mirror.Todos, todoID)
	s.markPendingLocked(remote.TableTodos, todoID)
	s.mu.Unlock()
	s.notifyChanged()
	// A queued create for this todo means the store never saw it; cancel
	// the create and any queued toggles instead of sending a delete.
	if s.cancelQueued(ctx, func(op queue.Operation) bool {
		if op.Type != queue.OpAddTodo && op.Type != queue.OpToggleTodo {
			return false
		}
		return payloadTodoID(op) == todoID
	}) {
		return nil
	}
	return s.push(ctx, queue.OpDeleteTodo, queue.DeleteTodoPayload{TodoID: todoID}, func(ctx context.Context) error {
		return s.remote.Todos().Delete(ctx, todoID)
	})
}

func payloadTodoID(op queue.Operation) string {
	var p struct {
		Todo models.Todo `json:"todo"`
	}
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return ""
	}
	return p.Todo.ID
}

func (s *Store) CreateAlbum(ctx context.Context, title string) (models.Album, error) {
	a := models.Album{
		ID:        uuid.NewString(),
		CoupleID:  s.coupleID,
		Title:     title,
		UpdatedAt: s.clock(),
	}
	s.mu.Lock()
	s.mirror.Albums[a.ID] = a
	s.markPendingLocked(remote.TableAlbums, a.ID)
	s.mu.Unlock()
	s.notifyChanged()
	err := s.push(ctx, queue.OpCreateAlbum, queue.CreateAlbumPayload{Album: a}, func(ctx context.Context) error {
		return s.remote.Albums().Insert(ctx, &a)
	})
	return a, err
}

func (s *Store) RenameAlbum(ctx context.Context, albumID, title string) (models.Album, error) {
	return s.updateAlbum(ctx, albumID, func(a *models.Album) { a.Title = title })
}

// SetAlbumCover changes the cover photo; it rides the same update
// operation as a rename.
func (s *Store) SetAlbumCover(ctx context.Context, albumID, memoryID string) (models.Album, error) {
	return s.updateAlbum(ctx, albumID, func(a *models.Album) { a.CoverMemoryID = memoryID })
}

func (s *Store) updateAlbum(ctx context.Context, albumID string, change func(*models.Album)) (models.Album, error) {
	s.mu.Lock()
	a, ok := s.mirror.Albums[albumID]
	if !ok {
		s.mu.Unlock()
		return models.Album{}, common.ErrNotFound
	}
	change(&a)
	a.UpdatedAt = s.clock()
	s.mirror.Albums[albumID] = a
	s.markPendingLocked(remote.TableAlbums, albumID)
	s.mu.Unlock()
	s.notifyChanged()
	err := s.push(ctx, queue.OpRenameAlbum, queue.RenameAlbumPayload{Album: a}, func(ctx context.Context) error {
		return s.remote.Albums().Update(ctx, &a)
	})
	return a, err
}

func (s *Store) DeleteAlbum(ctx context.Context, albumID string) error {
	s.mu.Lock()
	delete(s.mirror.Albums, albumID)
	for key, p := range s.mirror.Photos {
		if p.AlbumID == albumID {
			delete(s.mirror.Photos, key)
		}
	}
	delete(s.activePhoto, albumID)
	s.markPendingLocked(remote.TableAlbums, albumID)
	s.mu.Unlock()
	s.notifyChanged()
	// Queued ops targeting this album are pointless now. If the create
	// itself was still queued the store never saw the album and no delete
	// is needed; otherwise the delete goes out (deleting an already-gone
	// album is an idempotent conflict, so it is safe either way).
	createCancelled := false
	s.cancelQueued(ctx, func(op queue.Operation) bool {
		switch op.Type {
		case queue.OpCreateAlbum, queue.OpRenameAlbum:
			var p struct {
				Album models.Album `json:"album"`
			}
			if json.Unmarshal(op.Payload, &p) != nil || p.Album.ID != albumID {
				return false
			}
			if op.Type == queue.OpCreateAlbum {
				createCancelled = true
			}
			return true
		case queue.OpAddAlbumPhoto:
			var p queue.AddAlbumPhotoPayload
			return json.Unmarshal(op.Payload, &p) == nil && p.Photo.AlbumID == albumID
		case queue.OpRemoveAlbumPhoto:
			var p queue.RemoveAlbumPhotoPayload
			return json.Unmarshal(op.Payload, &p) == nil && p.AlbumID == albumID
		default:
			return false
		}
	})
	if createCancelled {
		return nil
	}
	return s.push(ctx, queue.OpDeleteAlbum, queue.DeleteAlbumPayload{AlbumID: albumID}, func(ctx context.Context) error {
		return s.remote.Albums().Delete(ctx, albumID)
	})
}

// AddMemory records an uploaded photo. StorageKey must already point at
// the blob in object storage.
func (s *Store) AddMemory(ctx context.Context, storageKey string) (models.Memory, error) {
	now := s.clock()
	m := models.Memory{
		ID:         uuid.NewString(),
		CoupleID:   s.coupleID,
		StorageKey: storageKey,
		TakenAt:    now,
		CreatedAt:  now,
	}
	s.mu.Lock()
	s.mirror.Memories[m.ID] = m
	s.markPendingLocked(remote.TableMemories, m.ID)
	s.mu.Unlock()
	s.notifyChanged()
	err := s.push(ctx, queue.OpAddMemory, queue.AddMemoryPayload{Memory: m}, func(ctx context.Context) error {
		return s.remote.Albums().InsertMemory(ctx, &m)
	})
	return m, err
}

func (s *Store) AddAlbumPhoto(ctx context.Context, albumID, memoryID string) (models.AlbumPhoto, error) {
	p := models.AlbumPhoto{
		AlbumID:  albumID,
		MemoryID: memoryID,
		CoupleID: s.coupleID,
		AddedAt:  s.clock(),
	}
	s.mu.Lock()
	s.mirror.Photos[photoKey(albumID, memoryID)] = p
	s.markPendingLocked(remote.TableAlbumPhotos, photoKey(albumID, memoryID))
	s.mu.Unlock()
	s.notifyChanged()
	err := s.push(ctx, queue.OpAddAlbumPhoto, queue.AddAlbumPhotoPayload{Photo: p}, func(ctx context.Context) error {
		return s.remote.Albums().AddPhoto(ctx, &p)
	})
	return p, err
}

func (s *Store) RemoveAlbumPhoto(ctx context.Context, albumID, memoryID string) error {
	s.mu.Lock()
	s.shiftSelectionLocked(albumID, memoryID)
	delete(s.mirror.Photos, photoKey(albumID, memoryID))
	s.markPendingLocked(remote.TableAlbumPhotos, photoKey(albumID, memoryID))
	s.mu.Unlock()
	s.notifyChanged()
	if s.cancelQueued(ctx, func(op queue.Operation) bool {
		if op.Type != queue.OpAddAlbumPhoto {
			return false
		}
		var p queue.AddAlbumPhotoPayload
		return json.Unmarshal(op.Payload, &p) == nil &&
			p.Photo.AlbumID == albumID && p.Photo.MemoryID == memoryID
	}) {
		return nil
	}
	return s.push(ctx, queue.OpRemoveAlbumPhoto, queue.RemoveAlbumPhotoPayload{AlbumID: albumID, MemoryID: memoryID}, func(ctx context.Context) error {
		return s.remote.Albums().RemovePhoto(ctx, albumID, memoryID)
	})
}

func (s *Store) SetCycleSettings(ctx context.Context, settings models.CycleSettings) (models.CycleSettings, error) {
	settings.CoupleID = s.coupleID
	if settings.OwnerID == "" {
		settings.OwnerID = s.userID
	}
	settings.UpdatedAt = s.clock()
	s.mu.Lock()
	s.mirror.Cycle = &settings
	s.markPendingLocked(remote.TableCycles, s.coupleID)
	s.mu.Unlock()
	s.notifyChanged()
	err := s.push(ctx, queue.OpSetCycleSettings, queue.SetCycleSettingsPayload{Settings: settings}, func(ctx context.Context) error {
		return s.remote.Cycles().Upsert(ctx, &settings)
	})
	return settings, err
}

func (s *Store) SetBackground(ctx context.Context, storageKey string) (models.Background, error) {
	b := models.Background{
		CoupleID:   s.coupleID,
		StorageKey: storageKey,
		SetBy:      s.userID,
		UpdatedAt:  s.clock(),
	}
	s.mu.Lock()
	s.mirror.Background = &b
	s.markPendingLocked(remote.TableBackgrounds, s.coupleID)
	s.mu.Unlock()
	s.notifyChanged()
	err := s.push(ctx, queue.OpSetBackground, queue.SetBackgroundPayload{Background: b}, func(ctx context.Context) error {
		return s.remote.Backgrounds().Upsert(ctx, &b)
	})
	return b, err
}

// AnswerMission writes this user's answer into their slot. The slot is
// decided by position in the couple, never by overwriting the partner's.
func (s *Store) AnswerMission(ctx context.Context, missionID, answer string) (models.Mission, error) {
	s.mu.Lock()
	m, ok := s.mirror.Missions[missionID]
	if !ok {
		s.mu.Unlock()
		return models.Mission{}, common.ErrNotFound
	}
	if s.mirror.Couple != nil && s.mirror.Couple.User2ID == s.userID {
		m.Answer2 = answer
	} else {
		m.Answer1 = answer
	}
	m.UpdatedAt = s.clock()
	s.mirror.Missions[missionID] = m
	s.markPendingLocked(remote.TableMissions, missionID)
	s.mu.Unlock()
	s.notifyChanged()
	err := s.push(ctx, queue.OpAnswerMission, queue.AnswerMissionPayload{Mission: m}, func(ctx context.Context) error {
		return s.remote.Missions().Update(ctx, &m)
	})
	return m, err
}
