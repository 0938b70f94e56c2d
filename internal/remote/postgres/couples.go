package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"couplesync/internal/common"
	"couplesync/internal/dbx"
	"couplesync/internal/models"
)

type coupleRepo struct{ s *Store }

const coupleColumns = `id, user1_id, COALESCE(user2_id, ''), status, disconnected_at,
	disconnected_by, disconnect_reason, timezone, created_at`

func scanCouple(row interface{ Scan(...any) error }) (*models.Couple, error) {
	c := &models.Couple{}
	var disconnectedAt sql.NullTime
	err := row.Scan(&c.ID, &c.User1ID, &c.User2ID, &c.Status, &disconnectedAt,
		&c.DisconnectedBy, &c.DisconnectReason, &c.Timezone, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if disconnectedAt.Valid {
		t := disconnectedAt.Time
		c.DisconnectedAt = &t
	}
	return c, nil
}

// Create inserts the couple, assigning an id when the caller left it
// empty. The id is written back so callers can cache the reference.
func (r *coupleRepo) Create(ctx context.Context, c *models.Couple) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	query := `
		INSERT INTO couples (id, user1_id, user2_id, status, timezone)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
	`
	_, err := r.s.db.ExecContext(ctx, query, c.ID, c.User1ID, c.User2ID, c.Status, c.Timezone)
	if err != nil {
		return fmt.Errorf("failed to insert couple: %w", mapError(err))
	}
	return nil
}

func (r *coupleRepo) Get(ctx context.Context, id string) (*models.Couple, error) {
	if err := r.s.guard(); err != nil {
		return nil, err
	}
	row := r.s.db.QueryRowContext(ctx, `SELECT `+coupleColumns+` FROM couples WHERE id=$1`, id)
	c, err := scanCouple(row)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func (r *coupleRepo) Update(ctx context.Context, c *models.Couple) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `
		UPDATE couples
		SET user2_id=NULLIF($2, ''), status=$3, disconnected_at=$4,
			disconnected_by=$5, disconnect_reason=$6, timezone=$7
		WHERE id=$1
	`
	res, err := r.s.db.ExecContext(ctx, query, c.ID, c.User2ID, c.Status,
		c.DisconnectedAt, c.DisconnectedBy, c.DisconnectReason, c.Timezone)
	if err != nil {
		return fmt.Errorf("failed to update couple: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *coupleRepo) Purge(ctx context.Context, id string) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM couples WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to purge couple: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *coupleRepo) FindByUsers(ctx context.Context, userA, userB string) (*models.Couple, error) {
	if err := r.s.guard(); err != nil {
		return nil, err
	}
	query := `SELECT ` + coupleColumns + ` FROM couples
		WHERE (user1_id=$1 AND user2_id=$2) OR (user1_id=$2 AND user2_id=$1)`
	row := r.s.db.QueryRowContext(ctx, query, userA, userB)
	c, err := scanCouple(row)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func (r *coupleRepo) CreateInvite(ctx context.Context, inv *models.Invite) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	query := `INSERT INTO invites (code, couple_id, created_by, expires_at) VALUES ($1, $2, $3, $4)`
	_, err := r.s.db.ExecContext(ctx, query, inv.Code, inv.CoupleID, inv.CreatedBy, inv.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert invite: %w", mapError(err))
	}
	return nil
}

// RedeemInvite runs inside one transaction so no reader can observe an
// active couple without user2 set, and the invite is single-use.
func (r *coupleRepo) RedeemInvite(ctx context.Context, code, userID string) (*models.Couple, error) {
	if err := r.s.guard(); err != nil {
		return nil, err
	}
	var couple *models.Couple
	err := dbx.WithTx(ctx, r.s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `
			UPDATE couples c
			SET user2_id=$2, status='active'
			FROM invites i
			WHERE i.code=$1 AND i.couple_id=c.id
				AND c.status='pending' AND i.expires_at > now()
			RETURNING ` + coupleColumns
		row := tx.QueryRowContext(ctx, query, code, userID)
		c, err := scanCouple(row)
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrInviteInvalid
		}
		if err != nil {
			return mapError(err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM invites WHERE code=$1`, code); err != nil {
			return mapError(err)
		}
		couple = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return couple, nil
}

func (r *coupleRepo) DeleteInvite(ctx context.Context, code string) error {
	if err := r.s.guard(); err != nil {
		return err
	}
	if _, err := r.s.db.ExecContext(ctx, `DELETE FROM invites WHERE code=$1`, code); err != nil {
		return fmt.Errorf("failed to delete invite: %w", mapError(err))
	}
	return nil
}
