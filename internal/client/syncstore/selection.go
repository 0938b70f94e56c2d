package syncstore

// SetActivePhoto records which photo the UI is currently viewing in an
// album, so a concurrent delete of that photo can move the selection
// instead of leaving the viewer on a hole.
func (s *Store) SetActivePhoto(albumID, memoryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if memoryID == "" {
		delete(s.activePhoto, albumID)
		return
	}
	s.activePhoto[albumID] = memoryID
}

// ActivePhoto returns the viewed photo of an album. ok is false when
// nothing is selected (including after the last photo was deleted).
func (s *Store) ActivePhoto(albumID string) (memoryID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.activePhoto[albumID]
	return id, ok
}

// shiftSelectionLocked moves the selection when deletedMemoryID is the
// viewed photo: to the previous photo in display order, else the next,
// else cleared. Callers hold s.mu and must call this BEFORE removing the
// link from the mirror, while the deleted photo's position is known.
func (s *Store) shiftSelectionLocked(albumID, deletedMemoryID string) {
	if s.activePhoto[albumID] != deletedMemoryID {
		return
	}
	photos := s.albumPhotosLocked(albumID)
	idx := -1
	for i, p := range photos {
		if p.MemoryID == deletedMemoryID {
			idx = i
			break
		}
	}
	switch {
	case idx == -1 || len(photos) == 1:
		delete(s.activePhoto, albumID)
	case idx > 0:
		s.activePhoto[albumID] = photos[idx-1].MemoryID
	default:
		s.activePhoto[albumID] = photos[1].MemoryID
	}
}
