package syncstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"couplesync/internal/client/queue"
	"couplesync/internal/common"
	"couplesync/internal/remote"
)

// FullResync rebuilds the whole mirror from the store, then re-applies
// still-queued operations locally so optimistic state survives the
// rebuild. It is the convergence backstop behind the change feed, fired
// on foreground, and throttled: calls inside the minimum interval are
// no-ops.
func (s *Store) FullResync(ctx context.Context) error {
	s.resyncMu.Lock()
	if !s.lastResync.IsZero() && time.Since(s.lastResync) < s.resyncMin {
		s.resyncMu.Unlock()
		return nil
	}
	s.lastResync = time.Now()
	s.resyncMu.Unlock()

	if err := s.refresh(ctx); err != nil {
		return fmt.Errorf("full resync: %w", err)
	}
	s.logger.Debug(ctx, "full resync completed")
	return nil
}

func (s *Store) refresh(ctx context.Context) error {
	couple, err := s.remote.Couples().Get(ctx, s.coupleID)
	if err != nil {
		return err
	}
	missions, err := s.remote.Missions().List(ctx, s.coupleID)
	if err != nil {
		return err
	}
	albums, err := s.remote.Albums().List(ctx, s.coupleID)
	if err != nil {
		return err
	}
	photos, err := s.remote.Albums().ListPhotos(ctx, s.coupleID)
	if err != nil {
		return err
	}
	memories, err := s.remote.Albums().ListMemories(ctx, s.coupleID)
	if err != nil {
		return err
	}
	todos, err := s.remote.Todos().List(ctx, s.coupleID)
	if err != nil {
		return err
	}
	cycle, err := s.remote.Cycles().Get(ctx, s.coupleID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	background, err := s.remote.Backgrounds().Get(ctx, s.coupleID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}

	m := newMirror()
	m.Couple = couple
	for _, x := range missions {
		m.Missions[x.ID] = x
	}
	for _, x := range albums {
		m.Albums[x.ID] = x
	}
	for _, x := range photos {
		m.Photos[photoKey(x.AlbumID, x.MemoryID)] = x
	}
	for _, x := range memories {
		m.Memories[x.ID] = x
	}
	for _, x := range todos {
		m.Todos[x.ID] = x
	}
	m.Cycle = cycle
	m.Background = background

	pending := s.queue.ListPending()

	s.mu.Lock()
	s.mirror = m
	// Everything fetched IS the server state; nothing is awaiting echo
	// except what the queue will send again.
	s.pendingConfirm = make(map[string]struct{})
	for _, op := range pending {
		s.applyLocalOpLocked(ctx, op)
	}
	// The rebuild may have dropped the viewed photo.
	for albumID, memoryID := range s.activePhoto {
		if _, ok := s.mirror.Photos[photoKey(albumID, memoryID)]; !ok {
			photos := s.albumPhotosLocked(albumID)
			if len(photos) == 0 {
				delete(s.activePhoto, albumID)
			} else {
				s.activePhoto[albumID] = photos[0].MemoryID
			}
		}
	}
	s.mu.Unlock()
	s.notifyChanged()
	return nil
}

// applyLocalOpLocked re-applies one queued operation to the rebuilt
// mirror, mirror-only, and re-marks it for confirmation. Callers hold
// s.mu.
func (s *Store) applyLocalOpLocked(ctx context.Context, op queue.Operation) {
	payload, err := queue.DecodePayload(op)
	if err != nil {
		s.logger.Error(ctx, "skipping undecodable queued operation", "op_id", op.ID, "error", err)
		return
	}
	switch p := payload.(type) {
	case *queue.AddTodoPayload:
		s.mirror.Todos[p.Todo.ID] = p.Todo
		s.markPendingLocked(remote.TableTodos, p.Todo.ID)
	case *queue.ToggleTodoPayload:
		s.mirror.Todos[p.Todo.ID] = p.Todo
		s.markPendingLocked(remote.TableTodos, p.Todo.ID)
	case *queue.DeleteTodoPayload:
		delete(s.mirror.Todos, p.TodoID)
		s.markPendingLocked(remote.TableTodos, p.TodoID)
	case *queue.CreateAlbumPayload:
		s.mirror.Albums[p.Album.ID] = p.Album
		s.markPendingLocked(remote.TableAlbums, p.Album.ID)
	case *queue.RenameAlbumPayload:
		s.mirror.Albums[p.Album.ID] = p.Album
		s.markPendingLocked(remote.TableAlbums, p.Album.ID)
	case *queue.DeleteAlbumPayload:
		delete(s.mirror.Albums, p.AlbumID)
		for key, ph := range s.mirror.Photos {
			if ph.AlbumID == p.AlbumID {
				delete(s.mirror.Photos, key)
			}
		}
		s.markPendingLocked(remote.TableAlbums, p.AlbumID)
	case *queue.AddMemoryPayload:
		s.mirror.Memories[p.Memory.ID] = p.Memory
		s.markPendingLocked(remote.TableMemories, p.Memory.ID)
	case *queue.AddAlbumPhotoPayload:
		s.mirror.Photos[photoKey(p.Photo.AlbumID, p.Photo.MemoryID)] = p.Photo
		s.markPendingLocked(remote.TableAlbumPhotos, photoKey(p.Photo.AlbumID, p.Photo.MemoryID))
	case *queue.RemoveAlbumPhotoPayload:
		delete(s.mirror.Photos, photoKey(p.AlbumID, p.MemoryID))
		s.markPendingLocked(remote.TableAlbumPhotos, photoKey(p.AlbumID, p.MemoryID))
	case *queue.SetCycleSettingsPayload:
		settings := p.Settings
		s.mirror.Cycle = &settings
		s.markPendingLocked(remote.TableCycles, s.coupleID)
	case *queue.SetBackgroundPayload:
		b := p.Background
		s.mirror.Background = &b
		s.markPendingLocked(remote.TableBackgrounds, s.coupleID)
	case *queue.AnswerMissionPayload:
		s.mirror.Missions[p.Mission.ID] = p.Mission
		s.markPendingLocked(remote.TableMissions, p.Mission.ID)
	}
}
