// Package server runs the sweep service: it connects to the shared
// couple store, then repeats the purge pass until terminated.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"

	"couplesync/internal/logging"
	"couplesync/internal/server/config"
	"couplesync/internal/server/sweep"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	sweeper *sweep.Sweeper
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	return &App{
		config:  cfg,
		logger:  logger,
		db:      db,
		sweeper: sweep.New(db, logger, cfg.RecoveryWindow, cfg.LockStaleAfter),
	}, nil
}

// connect retries with fibonacci backoff; the database may still be
// starting when the sweeper comes up.
func connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(1*time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(db.PingContext(ctx))
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting sweep service", "interval", app.config.SweepInterval.String())

	app.initSignalHandler(cancelFunc)

	if err := app.sweeper.Run(ctx, app.config.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
		app.logger.Error(ctx, "sweep loop stopped", "error", err)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "failed to close database", "error", err)
	}
}
