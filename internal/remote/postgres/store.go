// Package postgres implements the remote store boundary over PostgreSQL.
// Row triggers publish change events through LISTEN/NOTIFY, the server
// clock is now(), and the generation lock's compare-and-set is a
// conditional upsert so correctness never depends on device clocks or
// local locking primitives.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"couplesync/internal/common"
	"couplesync/internal/logging"
	"couplesync/internal/remote"
)

type Store struct {
	db      *sql.DB
	dsn     string
	logger  logging.Logger
	session string
}

type Option func(*Store)

func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l.With("module", "remote_postgres") }
}

// WithSessionToken attaches the caller's session JWT. Expiry is checked
// before every store call so a dead session is classified as
// common.ErrSessionInvalid instead of surfacing as a query failure.
func WithSessionToken(token string) Option {
	return func(s *Store) { s.session = token }
}

// New connects with fibonacci backoff (the store may still be starting
// when a device comes up) and runs pending migrations.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{dsn: dsn, logger: logging.NewSlogLogger(discardSlog())}
	for _, opt := range opts {
		opt(s)
	}

	b := retry.WithMaxRetries(5, retry.NewFibonacci(time.Second))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return retry.RetryableError(err)
		}
		s.db = db
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := s.runMigrations(ctx); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, "migrations")
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return common.ErrUnavailable
	}
	return nil
}

func (s *Store) ServerTime(ctx context.Context) (time.Time, error) {
	var t time.Time
	if err := s.db.QueryRowContext(ctx, `SELECT now()`).Scan(&t); err != nil {
		return time.Time{}, mapError(err)
	}
	return t, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Couples() remote.CoupleStore         { return &coupleRepo{s} }
func (s *Store) Missions() remote.MissionStore       { return &missionRepo{s} }
func (s *Store) Albums() remote.AlbumStore           { return &albumRepo{s} }
func (s *Store) Todos() remote.TodoStore             { return &todoRepo{s} }
func (s *Store) Cycles() remote.CycleStore           { return &cycleRepo{s} }
func (s *Store) Backgrounds() remote.BackgroundStore { return &backgroundRepo{s} }
func (s *Store) Locks() remote.LockStore             { return &lockRepo{s} }

// guard runs the pre-call checks shared by every repository method.
func (s *Store) guard() error {
	return s.sessionError()
}

// mapError classifies driver errors into the shared sentinels:
// unique/foreign-key violations are idempotent conflicts, permission
// failures are session problems, network failures are transient.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503": // unique_violation, foreign_key_violation
			return fmt.Errorf("%w: %s", common.ErrConflict, pgErr.Message)
		case "42501", "28000", "28P01": // privilege / authorization failures
			return fmt.Errorf("%w: %s", common.ErrSessionInvalid, pgErr.Message)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	return err
}

var _ remote.Store = (*Store)(nil)
