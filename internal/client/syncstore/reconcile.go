package syncstore

import (
	"context"

	"couplesync/internal/models"
	"couplesync/internal/remote"
)

// ApplyEvent folds one change-feed event into the mirror. An echo of our
// own optimistic write (its table/id is in pendingConfirm) applies
// unconditionally, since the server record carries the authoritative
// timestamp. Everything else is a partner write: metadata entities merge
// last-write-wins by server timestamp, link entities insert and delete
// idempotently.
//
// Couple, invite and lock events are routed elsewhere by the engine and
// ignored here.
func (s *Store) ApplyEvent(ctx context.Context, ev remote.ChangeEvent) {
	s.mu.Lock()
	changed := s.applyEventLocked(ctx, ev)
	s.mu.Unlock()
	if changed {
		s.notifyChanged()
	}
}

func (s *Store) applyEventLocked(ctx context.Context, ev remote.ChangeEvent) bool {
	switch ev.Table {
	case remote.TableTodos:
		t := ev.Todo()
		if t == nil {
			return false
		}
		return s.applyTodoLocked(ev.Type, *t)
	case remote.TableAlbums:
		a := ev.Album()
		if a == nil {
			return false
		}
		return s.applyAlbumLocked(ev.Type, *a)
	case remote.TableAlbumPhotos:
		p := ev.AlbumPhoto()
		if p == nil {
			return false
		}
		return s.applyPhotoLocked(ev.Type, *p)
	case remote.TableMemories:
		m := ev.Memory()
		if m == nil {
			return false
		}
		return s.applyMemoryLocked(ev.Type, *m)
	case remote.TableMissions:
		m := ev.Mission()
		if m == nil {
			return false
		}
		return s.applyMissionLocked(ev.Type, *m)
	case remote.TableCycles:
		c := ev.CycleSettings()
		if c == nil {
			return false
		}
		return s.applyCycleLocked(ev.Type, *c)
	case remote.TableBackgrounds:
		b := ev.Background()
		if b == nil {
			return false
		}
		return s.applyBackgroundLocked(ev.Type, *b)
	default:
		return false
	}
}

// confirmLocked clears a pending confirmation and reports whether the
// event was the echo of our own write.
func (s *Store) confirmLocked(table remote.Table, id string) bool {
	key := confirmKey(table, id)
	if _, ok := s.pendingConfirm[key]; ok {
		delete(s.pendingConfirm, key)
		return true
	}
	return false
}

func (s *Store) applyTodoLocked(t remote.EventType, todo models.Todo) bool {
	own := s.confirmLocked(remote.TableTodos, todo.ID)
	switch t {
	case remote.EventDelete:
		if _, ok := s.mirror.Todos[todo.ID]; !ok {
			return own
		}
		delete(s.mirror.Todos, todo.ID)
		return true
	default:
		if cur, ok := s.mirror.Todos[todo.ID]; ok && !own && todo.UpdatedAt.Before(cur.UpdatedAt) {
			return false
		}
		s.mirror.Todos[todo.ID] = todo
		return true
	}
}

func (s *Store) applyAlbumLocked(t remote.EventType, album models.Album) bool {
	own := s.confirmLocked(remote.TableAlbums, album.ID)
	switch t {
	case remote.EventDelete:
		if _, ok := s.mirror.Albums[album.ID]; !ok {
			return own
		}
		delete(s.mirror.Albums, album.ID)
		for key, p := range s.mirror.Photos {
			if p.AlbumID == album.ID {
				delete(s.mirror.Photos, key)
			}
		}
		delete(s.activePhoto, album.ID)
		return true
	default:
		if cur, ok := s.mirror.Albums[album.ID]; ok && !own && album.UpdatedAt.Before(cur.UpdatedAt) {
			return false
		}
		s.mirror.Albums[album.ID] = album
		return true
	}
}

func (s *Store) applyPhotoLocked(t remote.EventType, p models.AlbumPhoto) bool {
	key := photoKey(p.AlbumID, p.MemoryID)
	s.confirmLocked(remote.TableAlbumPhotos, key)
	switch t {
	case remote.EventDelete:
		if _, ok := s.mirror.Photos[key]; !ok {
			return false
		}
		s.shiftSelectionLocked(p.AlbumID, p.MemoryID)
		delete(s.mirror.Photos, key)
		return true
	default:
		if _, ok := s.mirror.Photos[key]; ok {
			return false
		}
		s.mirror.Photos[key] = p
		return true
	}
}

func (s *Store) applyMemoryLocked(t remote.EventType, m models.Memory) bool {
	s.confirmLocked(remote.TableMemories, m.ID)
	switch t {
	case remote.EventDelete:
		if _, ok := s.mirror.Memories[m.ID]; !ok {
			return false
		}
		delete(s.mirror.Memories, m.ID)
		return true
	default:
		if _, ok := s.mirror.Memories[m.ID]; ok {
			return false
		}
		s.mirror.Memories[m.ID] = m
		return true
	}
}

func (s *Store) applyMissionLocked(t remote.EventType, m models.Mission) bool {
	own := s.confirmLocked(remote.TableMissions, m.ID)
	switch t {
	case remote.EventDelete:
		if _, ok := s.mirror.Missions[m.ID]; !ok {
			return own
		}
		delete(s.mirror.Missions, m.ID)
		return true
	default:
		cur, ok := s.mirror.Missions[m.ID]
		if ok && !own && m.UpdatedAt.Before(cur.UpdatedAt) {
			return false
		}
		// Answers live in per-user slots. A partner update never loses our
		// slot: merge whichever answer the incoming record leaves empty.
		if ok {
			if m.Answer1 == "" && cur.Answer1 != "" {
				m.Answer1 = cur.Answer1
			}
			if m.Answer2 == "" && cur.Answer2 != "" {
				m.Answer2 = cur.Answer2
			}
		}
		s.mirror.Missions[m.ID] = m
		return true
	}
}

func (s *Store) applyCycleLocked(t remote.EventType, c models.CycleSettings) bool {
	own := s.confirmLocked(remote.TableCycles, c.CoupleID)
	switch t {
	case remote.EventDelete:
		if s.mirror.Cycle == nil {
			return false
		}
		s.mirror.Cycle = nil
		return true
	default:
		if s.mirror.Cycle != nil && !own && c.UpdatedAt.Before(s.mirror.Cycle.UpdatedAt) {
			return false
		}
		s.mirror.Cycle = &c
		return true
	}
}

func (s *Store) applyBackgroundLocked(t remote.EventType, b models.Background) bool {
	own := s.confirmLocked(remote.TableBackgrounds, b.CoupleID)
	switch t {
	case remote.EventDelete:
		if s.mirror.Background == nil {
			return false
		}
		s.mirror.Background = nil
		return true
	default:
		if s.mirror.Background != nil && !own && b.UpdatedAt.Before(s.mirror.Background.UpdatedAt) {
			return false
		}
		s.mirror.Background = &b
		return true
	}
}
