package memory

import (
	"context"
	"sort"

	"couplesync/internal/common"
	"couplesync/internal/models"
	"couplesync/internal/remote"
)

type missionStore struct{ s *Store }

func (r *missionStore) Insert(ctx context.Context, m *models.Mission) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = r.s.nextID("mission")
	}
	if _, ok := r.s.missions[m.ID]; ok {
		r.s.mu.Unlock()
		return common.ErrConflict
	}
	cp := *m
	r.s.missions[m.ID] = &cp
	ev := remote.ChangeEvent{Type: remote.EventInsert, Table: remote.TableMissions, CoupleID: m.CoupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *missionStore) Update(ctx context.Context, m *models.Mission) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	if _, ok := r.s.missions[m.ID]; !ok {
		r.s.mu.Unlock()
		return common.ErrNotFound
	}
	cp := *m
	cp.UpdatedAt = r.s.clock()
	r.s.missions[m.ID] = &cp
	ev := remote.ChangeEvent{Type: remote.EventUpdate, Table: remote.TableMissions, CoupleID: m.CoupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *missionStore) List(ctx context.Context, coupleID string) ([]models.Mission, error) {
	if err := r.s.begin(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	var out []models.Mission
	for _, m := range r.s.missions {
		if m.CoupleID == coupleID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *missionStore) ListByDate(ctx context.Context, coupleID, date string) ([]models.Mission, error) {
	all, err := r.List(ctx, coupleID)
	if err != nil {
		return nil, err
	}
	var out []models.Mission
	for _, m := range all {
		if m.Date == date {
			out = append(out, m)
		}
	}
	return out, nil
}

type albumStore struct{ s *Store }

func (r *albumStore) Insert(ctx context.Context, a *models.Album) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = r.s.nextID("album")
	}
	if _, ok := r.s.albums[a.ID]; ok {
		r.s.mu.Unlock()
		return common.ErrConflict
	}
	cp := *a
	r.s.albums[a.ID] = &cp
	ev := remote.ChangeEvent{Type: remote.EventInsert, Table: remote.TableAlbums, CoupleID: a.CoupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *albumStore) Update(ctx context.Context, a *models.Album) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	if _, ok := r.s.albums[a.ID]; !ok {
		r.s.mu.Unlock()
		return common.ErrNotFound
	}
	cp := *a
	cp.UpdatedAt = r.s.clock()
	r.s.albums[a.ID] = &cp
	ev := remote.ChangeEvent{Type: remote.EventUpdate, Table: remote.TableAlbums, CoupleID: a.CoupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *albumStore) Delete(ctx context.Context, id string) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	a, ok := r.s.albums[id]
	if !ok {
		r.s.mu.Unlock()
		return common.ErrNotFound
	}
	old := *a
	delete(r.s.albums, id)
	events := []remote.ChangeEvent{}
	for k, p := range r.s.photos {
		if p.AlbumID == id {
			oldP := *p
			delete(r.s.photos, k)
			events = append(events, remote.ChangeEvent{Type: remote.EventDelete, Table: remote.TableAlbumPhotos, CoupleID: oldP.CoupleID, Record: &oldP})
		}
	}
	events = append(events, remote.ChangeEvent{Type: remote.EventDelete, Table: remote.TableAlbums, CoupleID: old.CoupleID, Record: &old})
	r.s.mu.Unlock()
	r.s.emit(events...)
	return nil
}

func (r *albumStore) List(ctx context.Context, coupleID string) ([]models.Album, error) {
	if err := r.s.begin(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	var out []models.Album
	for _, a := range r.s.albums {
		if a.CoupleID == coupleID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func photoKey(albumID, memoryID string) string { return albumID + "/" + memoryID }

func (r *albumStore) AddPhoto(ctx context.Context, p *models.AlbumPhoto) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	k := photoKey(p.AlbumID, p.MemoryID)
	if _, ok := r.s.photos[k]; ok {
		r.s.mu.Unlock()
		return common.ErrConflict
	}
	cp := *p
	if cp.AddedAt.IsZero() {
		cp.AddedAt = r.s.clock()
	}
	r.s.photos[k] = &cp
	ev := remote.ChangeEvent{Type: remote.EventInsert, Table: remote.TableAlbumPhotos, CoupleID: p.CoupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *albumStore) RemovePhoto(ctx context.Context, albumID, memoryID string) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	k := photoKey(albumID, memoryID)
	p, ok := r.s.photos[k]
	if !ok {
		r.s.mu.Unlock()
		return common.ErrConflict
	}
	old := *p
	delete(r.s.photos, k)
	ev := remote.ChangeEvent{Type: remote.EventDelete, Table: remote.TableAlbumPhotos, CoupleID: old.CoupleID, Record: &old}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *albumStore) ListPhotos(ctx context.Context, coupleID string) ([]models.AlbumPhoto, error) {
	if err := r.s.begin(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	var out []models.AlbumPhoto
	for _, p := range r.s.photos {
		if p.CoupleID == coupleID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].MemoryID < out[j].MemoryID
	})
	return out, nil
}

func (r *albumStore) InsertMemory(ctx context.Context, m *models.Memory) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = r.s.nextID("memory")
	}
	if _, ok := r.s.memories[m.ID]; ok {
		r.s.mu.Unlock()
		return common.ErrConflict
	}
	cp := *m
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.s.clock()
	}
	r.s.memories[m.ID] = &cp
	ev := remote.ChangeEvent{Type: remote.EventInsert, Table: remote.TableMemories, CoupleID: m.CoupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *albumStore) DeleteMemory(ctx context.Context, id string) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	m, ok := r.s.memories[id]
	if !ok {
		r.s.mu.Unlock()
		return common.ErrConflict
	}
	old := *m
	delete(r.s.memories, id)
	events := []remote.ChangeEvent{}
	for k, p := range r.s.photos {
		if p.MemoryID == id {
			oldP := *p
			delete(r.s.photos, k)
			events = append(events, remote.ChangeEvent{Type: remote.EventDelete, Table: remote.TableAlbumPhotos, CoupleID: oldP.CoupleID, Record: &oldP})
		}
	}
	events = append(events, remote.ChangeEvent{Type: remote.EventDelete, Table: remote.TableMemories, CoupleID: old.CoupleID, Record: &old})
	r.s.mu.Unlock()
	r.s.emit(events...)
	return nil
}

func (r *albumStore) ListMemories(ctx context.Context, coupleID string) ([]models.Memory, error) {
	if err := r.s.begin(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	var out []models.Memory
	for _, m := range r.s.memories {
		if m.CoupleID == coupleID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type todoStore struct{ s *Store }

func (r *todoStore) Insert(ctx context.Context, t *models.Todo) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = r.s.nextID("todo")
	}
	if _, ok := r.s.todos[t.ID]; ok {
		r.s.mu.Unlock()
		return common.ErrConflict
	}
	cp := *t
	cp.UpdatedAt = r.s.clock()
	r.s.todos[t.ID] = &cp
	ev := remote.ChangeEvent{Type: remote.EventInsert, Table: remote.TableTodos, CoupleID: t.CoupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *todoStore) Update(ctx context.Context, t *models.Todo) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	if _, ok := r.s.todos[t.ID]; !ok {
		r.s.mu.Unlock()
		return common.ErrNotFound
	}
	cp := *t
	cp.UpdatedAt = r.s.clock()
	r.s.todos[t.ID] = &cp
	ev := remote.ChangeEvent{Type: remote.EventUpdate, Table: remote.TableTodos, CoupleID: t.CoupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *todoStore) Delete(ctx context.Context, id string) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	t, ok := r.s.todos[id]
	if !ok {
		// deleting an already-deleted row is the idempotent-conflict case
		r.s.mu.Unlock()
		return common.ErrConflict
	}
	old := *t
	delete(r.s.todos, id)
	ev := remote.ChangeEvent{Type: remote.EventDelete, Table: remote.TableTodos, CoupleID: old.CoupleID, Record: &old}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *todoStore) List(ctx context.Context, coupleID string) ([]models.Todo, error) {
	if err := r.s.begin(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	var out []models.Todo
	for _, t := range r.s.todos {
		if t.CoupleID == coupleID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type cycleStore struct{ s *Store }

func (r *cycleStore) Upsert(ctx context.Context, c *models.CycleSettings) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	typ := remote.EventUpdate
	if _, ok := r.s.cycles[c.CoupleID]; !ok {
		typ = remote.EventInsert
	}
	cp := *c
	cp.UpdatedAt = r.s.clock()
	r.s.cycles[c.CoupleID] = &cp
	ev := remote.ChangeEvent{Type: typ, Table: remote.TableCycles, CoupleID: c.CoupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *cycleStore) Get(ctx context.Context, coupleID string) (*models.CycleSettings, error) {
	if err := r.s.begin(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	c, ok := r.s.cycles[coupleID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

type backgroundStore struct{ s *Store }

func (r *backgroundStore) Upsert(ctx context.Context, b *models.Background) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	typ := remote.EventUpdate
	if _, ok := r.s.backgrounds[b.CoupleID]; !ok {
		typ = remote.EventInsert
	}
	cp := *b
	cp.UpdatedAt = r.s.clock()
	r.s.backgrounds[b.CoupleID] = &cp
	ev := remote.ChangeEvent{Type: typ, Table: remote.TableBackgrounds, CoupleID: b.CoupleID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *backgroundStore) Get(ctx context.Context, coupleID string) (*models.Background, error) {
	if err := r.s.begin(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	b, ok := r.s.backgrounds[coupleID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *b
	return &cp, nil
}
