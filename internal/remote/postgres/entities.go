package postgres

import (
	"context"
	"fmt"

	"couplesync/internal/common"
	"couplesync/internal/models"
)

type missionRepo struct{ s *Store }

func (r *missionRepo) Insert(ctx context.Context, m *models.Mission) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `
		INSERT INTO missions (id, couple_id, date, prompt, answer1, answer2)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.s.db.ExecContext(ctx, query, m.ID, m.CoupleID, m.Date, m.Prompt, m.Answer1, m.Answer2)
	if err != nil {
		return fmt.Errorf("failed to insert mission: %w", mapError(err))
	}
	return nil
}

func (r *missionRepo) Update(ctx context.Context, m *models.Mission) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `
		UPDATE missions SET prompt=$2, answer1=$3, answer2=$4, updated_at=now()
		WHERE id=$1
	`
	res, err := r.s.db.ExecContext(ctx, query, m.ID, m.Prompt, m.Answer1, m.Answer2)
	if err != nil {
		return fmt.Errorf("failed to update mission: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *missionRepo) List(ctx context.Context, coupleID string) ([]models.Mission, error) {
	return r.list(ctx, `SELECT id, couple_id, date, prompt, answer1, answer2, updated_at
		FROM missions WHERE couple_id=$1 ORDER BY date, id`, coupleID)
}

func (r *missionRepo) ListByDate(ctx context.Context, coupleID, date string) ([]models.Mission, error) {
	return r.list(ctx, `SELECT id, couple_id, date, prompt, answer1, answer2, updated_at
		FROM missions WHERE couple_id=$1 AND date=$2 ORDER BY id`, coupleID, date)
}

func (r *missionRepo) list(ctx context.Context, query string, args ...any) ([]models.Mission, error) {
	if err := r.s.guard(); err != nil {
		return nil, err
	}
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select missions: %w", mapError(err))
	}
	defer rows.Close()

	var result []models.Mission
	for rows.Next() {
		var m models.Mission
		if err := rows.Scan(&m.ID, &m.CoupleID, &m.Date, &m.Prompt, &m.Answer1, &m.Answer2, &m.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type albumRepo struct{ s *Store }

func (r *albumRepo) Insert(ctx context.Context, a *models.Album) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `INSERT INTO albums (id, couple_id, title, cover_memory_id) VALUES ($1, $2, $3, $4)`
	_, err := r.s.db.ExecContext(ctx, query, a.ID, a.CoupleID, a.Title, a.CoverMemoryID)
	if err != nil {
		return fmt.Errorf("failed to insert album: %w", mapError(err))
	}
	return nil
}

func (r *albumRepo) Update(ctx context.Context, a *models.Album) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `UPDATE albums SET title=$2, cover_memory_id=$3, updated_at=now() WHERE id=$1`
	res, err := r.s.db.ExecContext(ctx, query, a.ID, a.Title, a.CoverMemoryID)
	if err != nil {
		return fmt.Errorf("failed to update album: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *albumRepo) Delete(ctx context.Context, id string) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM albums WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete album: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("album already deleted: %w", common.ErrConflict)
	}
	return nil
}

func (r *albumRepo) List(ctx context.Context, coupleID string) ([]models.Album, error) {
	if err := r.s.guard(); err != nil {
		return nil, err
	}
	rows, err := r.s.db.QueryContext(ctx, `SELECT id, couple_id, title, cover_memory_id, updated_at
		FROM albums WHERE couple_id=$1 ORDER BY id`, coupleID)
	if err != nil {
		return nil, fmt.Errorf("failed to select albums: %w", mapError(err))
	}
	defer rows.Close()

	var result []models.Album
	for rows.Next() {
		var a models.Album
		if err := rows.Scan(&a.ID, &a.CoupleID, &a.Title, &a.CoverMemoryID, &a.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *albumRepo) AddPhoto(ctx context.Context, p *models.AlbumPhoto) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `INSERT INTO album_photos (album_id, memory_id, couple_id) VALUES ($1, $2, $3)`
	_, err := r.s.db.ExecContext(ctx, query, p.AlbumID, p.MemoryID, p.CoupleID)
	if err != nil {
		return fmt.Errorf("failed to add album photo: %w", mapError(err))
	}
	return nil
}

func (r *albumRepo) RemovePhoto(ctx context.Context, albumID, memoryID string) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	res, err := r.s.db.ExecContext(ctx,
		`DELETE FROM album_photos WHERE album_id=$1 AND memory_id=$2`, albumID, memoryID)
	if err != nil {
		return fmt.Errorf("failed to remove album photo: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("photo already removed: %w", common.ErrConflict)
	}
	return nil
}

func (r *albumRepo) ListPhotos(ctx context.Context, coupleID string) ([]models.AlbumPhoto, error) {
	if err := r.s.guard(); err != nil {
		return nil, err
	}
	rows, err := r.s.db.QueryContext(ctx, `SELECT album_id, memory_id, couple_id, added_at
		FROM album_photos WHERE couple_id=$1 ORDER BY added_at, memory_id`, coupleID)
	if err != nil {
		return nil, fmt.Errorf("failed to select album photos: %w", mapError(err))
	}
	defer rows.Close()

	var result []models.AlbumPhoto
	for rows.Next() {
		var p models.AlbumPhoto
		if err := rows.Scan(&p.AlbumID, &p.MemoryID, &p.CoupleID, &p.AddedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *albumRepo) InsertMemory(ctx context.Context, m *models.Memory) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `INSERT INTO memories (id, couple_id, storage_key, taken_at) VALUES ($1, $2, $3, $4)`
	_, err := r.s.db.ExecContext(ctx, query, m.ID, m.CoupleID, m.StorageKey, m.TakenAt)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", mapError(err))
	}
	return nil
}

func (r *albumRepo) DeleteMemory(ctx context.Context, id string) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM memories WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory already deleted: %w", common.ErrConflict)
	}
	return nil
}

func (r *albumRepo) ListMemories(ctx context.Context, coupleID string) ([]models.Memory, error) {
	if err := r.s.guard(); err != nil {
		return nil, err
	}
	rows, err := r.s.db.QueryContext(ctx, `SELECT id, couple_id, storage_key, taken_at, created_at
		FROM memories WHERE couple_id=$1 ORDER BY id`, coupleID)
	if err != nil {
		return nil, fmt.Errorf("failed to select memories: %w", mapError(err))
	}
	defer rows.Close()

	var result []models.Memory
	for rows.Next() {
		var m models.Memory
		if err := rows.Scan(&m.ID, &m.CoupleID, &m.StorageKey, &m.TakenAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type todoRepo struct{ s *Store }

func (r *todoRepo) Insert(ctx context.Context, t *models.Todo) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `INSERT INTO todos (id, couple_id, date, text, done) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.s.db.ExecContext(ctx, query, t.ID, t.CoupleID, t.Date, t.Text, t.Done)
	if err != nil {
		return fmt.Errorf("failed to insert todo: %w", mapError(err))
	}
	return nil
}

func (r *todoRepo) Update(ctx context.Context, t *models.Todo) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `UPDATE todos SET date=$2, text=$3, done=$4, updated_at=now() WHERE id=$1`
	res, err := r.s.db.ExecContext(ctx, query, t.ID, t.Date, t.Text, t.Done)
	if err != nil {
		return fmt.Errorf("failed to update todo: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *todoRepo) Delete(ctx context.Context, id string) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM todos WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete todo: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("todo already deleted: %w", common.ErrConflict)
	}
	return nil
}

func (r *todoRepo) List(ctx context.Context, coupleID string) ([]models.Todo, error) {
	if err := r.s.guard(); err != nil {
		return nil, err
	}
	rows, err := r.s.db.QueryContext(ctx, `SELECT id, couple_id, date, text, done, updated_at
		FROM todos WHERE couple_id=$1 ORDER BY date, id`, coupleID)
	if err != nil {
		return nil, fmt.Errorf("failed to select todos: %w", mapError(err))
	}
	defer rows.Close()

	var result []models.Todo
	for rows.Next() {
		var t models.Todo
		if err := rows.Scan(&t.ID, &t.CoupleID, &t.Date, &t.Text, &t.Done, &t.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type cycleRepo struct{ s *Store }

func (r *cycleRepo) Upsert(ctx context.Context, c *models.CycleSettings) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `
		INSERT INTO cycle_settings (couple_id, owner_id, cycle_length_days, period_length_days, last_period_start, sharing_enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (couple_id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			cycle_length_days = EXCLUDED.cycle_length_days,
			period_length_days = EXCLUDED.period_length_days,
			last_period_start = EXCLUDED.last_period_start,
			sharing_enabled = EXCLUDED.sharing_enabled,
			updated_at = now()
	`
	_, err := r.s.db.ExecContext(ctx, query, c.CoupleID, c.OwnerID,
		c.CycleLengthDays, c.PeriodLengthDays, c.LastPeriodStart, c.SharingEnabled)
	if err != nil {
		return fmt.Errorf("failed to upsert cycle settings: %w", mapError(err))
	}
	return nil
}

func (r *cycleRepo) Get(ctx context.Context, coupleID string) (*models.CycleSettings, error) {
	if err := r.s.guard(); err != nil {
		return nil, err
	}
	row := r.s.db.QueryRowContext(ctx, `SELECT couple_id, owner_id, cycle_length_days,
		period_length_days, last_period_start, sharing_enabled, updated_at
		FROM cycle_settings WHERE couple_id=$1`, coupleID)
	c := &models.CycleSettings{}
	err := row.Scan(&c.CoupleID, &c.OwnerID, &c.CycleLengthDays, &c.PeriodLengthDays,
		&c.LastPeriodStart, &c.SharingEnabled, &c.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

type backgroundRepo struct{ s *Store }

func (r *backgroundRepo) Upsert(ctx context.Context, b *models.Background) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `
		INSERT INTO backgrounds (couple_id, storage_key, set_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (couple_id) DO UPDATE SET
			storage_key = EXCLUDED.storage_key,
			set_by = EXCLUDED.set_by,
			updated_at = now()
	`
	_, err := r.s.db.ExecContext(ctx, query, b.CoupleID, b.StorageKey, b.SetBy)
	if err != nil {
		return fmt.Errorf("failed to upsert background: %w", mapError(err))
	}
	return nil
}

func (r *backgroundRepo) Get(ctx context.Context, coupleID string) (*models.Background, error) {
	if err := r.s.guard(); err != nil {
		return nil, err
	}
	row := r.s.db.QueryRowContext(ctx, `SELECT couple_id, storage_key, set_by, updated_at
		FROM backgrounds WHERE couple_id=$1`, coupleID)
	b := &models.Background{}
	if err := row.Scan(&b.CoupleID, &b.StorageKey, &b.SetBy, &b.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return b, nil
}
