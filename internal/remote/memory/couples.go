package memory

import (
	"context"

	"couplesync/internal/common"
	"couplesync/internal/models"
	"couplesync/internal/remote"
)

type coupleStore struct{ s *Store }

func (r *coupleStore) Create(ctx context.Context, c *models.Couple) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = r.s.nextID("couple")
	}
	if _, ok := r.s.couples[c.ID]; ok {
		r.s.mu.Unlock()
		return common.ErrConflict
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.s.clock()
	}
	cp := *c
	r.s.couples[c.ID] = &cp
	ev := remote.ChangeEvent{Type: remote.EventInsert, Table: remote.TableCouples, CoupleID: c.ID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *coupleStore) Get(ctx context.Context, id string) (*models.Couple, error) {
	if err := r.s.begin(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	c, ok := r.s.couples[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *coupleStore) Update(ctx context.Context, c *models.Couple) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	if _, ok := r.s.couples[c.ID]; !ok {
		r.s.mu.Unlock()
		return common.ErrNotFound
	}
	cp := *c
	r.s.couples[c.ID] = &cp
	ev := remote.ChangeEvent{Type: remote.EventUpdate, Table: remote.TableCouples, CoupleID: c.ID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

// Purge hard-deletes the couple and everything scoped to it. Only the
// couple's own delete event is emitted; clients tear down on it rather
// than replaying each child row.
func (r *coupleStore) Purge(ctx context.Context, id string) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	c, ok := r.s.couples[id]
	if !ok {
		r.s.mu.Unlock()
		return common.ErrNotFound
	}
	old := *c
	delete(r.s.couples, id)
	for k, v := range r.s.invites {
		if v.CoupleID == id {
			delete(r.s.invites, k)
		}
	}
	for k, v := range r.s.missions {
		if v.CoupleID == id {
			delete(r.s.missions, k)
		}
	}
	for k, v := range r.s.albums {
		if v.CoupleID == id {
			delete(r.s.albums, k)
		}
	}
	for k, v := range r.s.photos {
		if v.CoupleID == id {
			delete(r.s.photos, k)
		}
	}
	for k, v := range r.s.memories {
		if v.CoupleID == id {
			delete(r.s.memories, k)
		}
	}
	for k, v := range r.s.todos {
		if v.CoupleID == id {
			delete(r.s.todos, k)
		}
	}
	delete(r.s.cycles, id)
	delete(r.s.backgrounds, id)
	delete(r.s.locks, id)
	ev := remote.ChangeEvent{Type: remote.EventDelete, Table: remote.TableCouples, CoupleID: id, Record: &old}
	r.s.mu.Unlock()
	r.s.emit(ev)
	return nil
}

func (r *coupleStore) FindByUsers(ctx context.Context, userA, userB string) (*models.Couple, error) {
	if err := r.s.begin(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	for _, c := range r.s.couples {
		if (c.User1ID == userA && c.User2ID == userB) || (c.User1ID == userB && c.User2ID == userA) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *coupleStore) CreateInvite(ctx context.Context, inv *models.Invite) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	if _, ok := r.s.invites[inv.Code]; ok {
		r.s.mu.Unlock()
		return common.ErrConflict
	}
	cp := *inv
	r.s.invites[inv.Code] = &cp
	r.s.mu.Unlock()
	return nil
}

func (r *coupleStore) RedeemInvite(ctx context.Context, code, userID string) (*models.Couple, error) {
	if err := r.s.begin(); err != nil {
		return nil, err
	}
	inv, ok := r.s.invites[code]
	if !ok || r.s.clock().After(inv.ExpiresAt) {
		r.s.mu.Unlock()
		return nil, common.ErrInviteInvalid
	}
	c, ok := r.s.couples[inv.CoupleID]
	if !ok || c.Status != models.CoupleStatusPending {
		r.s.mu.Unlock()
		return nil, common.ErrInviteInvalid
	}
	// user2 and status flip together; no reader sees active without user2.
	c.User2ID = userID
	c.Status = models.CoupleStatusActive
	delete(r.s.invites, code)
	cp := *c
	ev := remote.ChangeEvent{Type: remote.EventUpdate, Table: remote.TableCouples, CoupleID: c.ID, Record: &cp}
	r.s.mu.Unlock()
	r.s.emit(ev)
	out := cp
	return &out, nil
}

func (r *coupleStore) DeleteInvite(ctx context.Context, code string) error {
	if err := r.s.begin(); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	delete(r.s.invites, code)
	return nil
}
