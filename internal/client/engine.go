// Package client composes the device-side sync engine: durable queue,
// network monitor, sync store, generation lock and lifecycle manager,
// wired to one remote store backend. One Engine runs per device.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"couplesync/internal/client/config"
	"couplesync/internal/client/genlock"
	"couplesync/internal/client/lifecycle"
	"couplesync/internal/client/localstore"
	"couplesync/internal/client/netmon"
	"couplesync/internal/client/queue"
	"couplesync/internal/client/syncstore"
	"couplesync/internal/common"
	"couplesync/internal/logging"
	"couplesync/internal/media"
	"couplesync/internal/models"
	"couplesync/internal/notify"
	"couplesync/internal/remote"
	"couplesync/internal/remote/memory"
	"couplesync/internal/remote/postgres"
)

type Engine struct {
	cfg      *config.Config
	logger   logging.Logger
	notifier notify.Notifier

	remote  remote.Store
	local   localstore.Store
	queue   *queue.Queue
	monitor *netmon.Monitor
	life    *lifecycle.Manager
	media   *media.Presigner

	// stateMu guards the couple-scoped bindings below; the monitor and
	// feed goroutines read them while Pair/Join/Logout rebind.
	stateMu  sync.RWMutex
	sync     *syncstore.Store
	lock     *genlock.Manager
	stopFeed func()

	cancelRun   context.CancelFunc
	unsubOnline func()
}

// NewEngine opens the local store, connects the configured remote
// backend and builds the couple-independent components. Call Start to
// probe connectivity and bind to the paired couple.
func NewEngine(ctx context.Context, cfg *config.Config, logger logging.Logger, notifier notify.Notifier) (*Engine, error) {
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}

	local, err := localstore.OpenSQLite(ctx, cfg.LocalDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	var rs remote.Store
	switch cfg.Backend {
	case "postgres":
		rs, err = postgres.New(ctx, cfg.RemoteDSN,
			postgres.WithLogger(logger),
			postgres.WithSessionToken(cfg.SessionToken),
		)
		if err != nil {
			_ = local.Close()
			return nil, fmt.Errorf("failed to connect remote store: %w", err)
		}
	case "memory":
		rs = memory.New()
	default:
		_ = local.Close()
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	q := queue.New(local, logger)
	if err := q.Load(ctx); err != nil {
		_ = local.Close()
		_ = rs.Close()
		return nil, err
	}

	var presigner *media.Presigner
	if cfg.S3Bucket != "" {
		presigner, err = media.NewPresigner(ctx, media.S3Settings{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			_ = local.Close()
			_ = rs.Close()
			return nil, fmt.Errorf("failed to init media presigner: %w", err)
		}
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger.With("module", "engine"),
		notifier: notifier,
		remote:   rs,
		local:    local,
		queue:    q,
		monitor:  netmon.New(rs, cfg.OnlineCheckInterval, logger),
		life:     lifecycle.New(rs, local, notifier, logger, cfg.UserID, cfg.InviteTTL),
		media:    presigner,
	}, nil
}

// Start probes connectivity, starts the monitor loop and, when the
// device is already paired, binds the couple-scoped components. An
// unpaired device still runs; Pair or Join binds it later.
func (e *Engine) Start(ctx context.Context) error {
	e.monitor.Initialize(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancelRun = cancel
	go e.monitor.Run(runCtx)

	e.unsubOnline = e.monitor.Subscribe(func(online bool) {
		if online {
			e.onOnline(context.Background())
		}
	})

	coupleID, err := e.life.CoupleID(ctx)
	if err != nil {
		return err
	}
	if coupleID == "" {
		e.logger.Info(ctx, "device not paired")
		return nil
	}
	return e.bind(ctx, coupleID)
}

// bind attaches the couple-scoped components and the change feed.
func (e *Engine) bind(ctx context.Context, coupleID string) error {
	s := syncstore.New(e.remote, e.queue, e.monitor, e.notifier, e.logger, syncstore.Options{
		UserID:            e.cfg.UserID,
		CoupleID:          coupleID,
		RetryCap:          e.cfg.RetryCap,
		ResyncMinInterval: e.cfg.ResyncMinInterval,
	})
	l := genlock.New(e.remote, e.notifier, e.logger, coupleID, e.cfg.UserID, e.cfg.GenerationLockStaleAfter)

	e.stateMu.Lock()
	e.sync = s
	e.lock = l
	e.stateMu.Unlock()

	if e.monitor.IsOnline() {
		if err := s.Load(ctx); err != nil {
			e.logger.Warn(ctx, "initial load failed, will resync later", "error", err)
		}
	}

	stop, err := e.remote.Subscribe(ctx, coupleID, e.route)
	if err != nil {
		return fmt.Errorf("failed to subscribe to change feed: %w", err)
	}
	e.stateMu.Lock()
	e.stopFeed = stop
	e.stateMu.Unlock()
	e.logger.Info(ctx, "engine bound", "couple_id", coupleID)
	return nil
}

// route dispatches one feed event to the component that owns its table.
func (e *Engine) route(ev remote.ChangeEvent) {
	ctx := context.Background()
	switch ev.Table {
	case remote.TableCouples:
		e.life.HandleEvent(ctx, ev)
	case remote.TableLocks:
		if l := e.Lock(); l != nil {
			l.HandleEvent(ev)
		}
	case remote.TableInvites:
		// Invite churn carries no client-visible state.
	default:
		if s := e.Sync(); s != nil {
			s.ApplyEvent(ctx, ev)
		}
	}
}

// onOnline fires on the offline->online transition: replay the queue in
// order, then resync as the convergence backstop.
func (e *Engine) onOnline(ctx context.Context) {
	s := e.Sync()
	if s == nil {
		return
	}
	if err := s.ProcessPendingOperations(ctx); err != nil {
		e.reportSyncError(ctx, err)
		return
	}
	if err := s.FullResync(ctx); err != nil {
		e.logger.Warn(ctx, "resync failed", "error", err)
	}
}

// OnForeground is the app-foreground signal: force a probe, drain the
// queue and run the throttled resync.
func (e *Engine) OnForeground(ctx context.Context) {
	s := e.Sync()
	if !e.monitor.Check(ctx) || s == nil {
		return
	}
	if err := s.ProcessPendingOperations(ctx); err != nil {
		e.reportSyncError(ctx, err)
		return
	}
	if err := s.FullResync(ctx); err != nil {
		e.logger.Warn(ctx, "resync failed", "error", err)
	}
}

func (e *Engine) reportSyncError(ctx context.Context, err error) {
	switch {
	case errors.Is(err, common.ErrSessionInvalid):
		// Nothing replays until re-auth; stop listening so a dead session
		// does not keep a feed connection open.
		e.logger.Error(ctx, "session invalid, suspending sync", "error", err)
		e.suspendFeed()
	case errors.Is(err, common.ErrSyncStalled):
		e.logger.Warn(ctx, "sync stalled awaiting user attention")
	default:
		e.logger.Warn(ctx, "queue drain failed", "error", err)
	}
}

// Pair creates a pending couple and binds the engine to it. The
// returned invite code goes to the partner out of band.
func (e *Engine) Pair(ctx context.Context, timezone string) (*models.Couple, *models.Invite, error) {
	couple, inv, err := e.life.CreatePair(ctx, timezone)
	if err != nil {
		return nil, nil, err
	}
	if err := e.bind(ctx, couple.ID); err != nil {
		return nil, nil, err
	}
	return couple, inv, nil
}

// Join redeems an invite code and binds the engine to the now-active
// couple.
func (e *Engine) Join(ctx context.Context, code string) (*models.Couple, error) {
	couple, err := e.life.Redeem(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := e.bind(ctx, couple.ID); err != nil {
		return nil, err
	}
	return couple, nil
}

// suspendFeed stops the change feed subscription if one is active.
func (e *Engine) suspendFeed() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.stopFeed != nil {
		e.stopFeed()
		e.stopFeed = nil
	}
}

// Sync exposes the sync store; nil while unpaired.
func (e *Engine) Sync() *syncstore.Store {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.sync
}

// Lock exposes the generation lock manager; nil while unpaired.
func (e *Engine) Lock() *genlock.Manager {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.lock
}

// Lifecycle exposes the lifecycle manager.
func (e *Engine) Lifecycle() *lifecycle.Manager { return e.life }

// Monitor exposes the network monitor.
func (e *Engine) Monitor() *netmon.Monitor { return e.monitor }

// Queue exposes the offline queue, mainly for status display.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// Media exposes the S3 presigner; nil when no bucket is configured.
func (e *Engine) Media() *media.Presigner { return e.media }

// AddPhoto uploads the photo bytes through a presigned URL, registers
// the memory and links it into the album. The upload happens before any
// mutation so a transport failure leaves nothing to roll back.
func (e *Engine) AddPhoto(ctx context.Context, albumID string, data []byte) (models.Memory, error) {
	s := e.Sync()
	if s == nil {
		return models.Memory{}, common.ErrCoupleNotActive
	}
	if e.media == nil {
		return models.Memory{}, errors.New("media storage not configured")
	}

	// The bound couple id, not the mirror: the mirror may not have loaded
	// yet when the device cold-started offline.
	key := media.NewStorageKey(s.CoupleID())
	url, err := e.media.PresignPut(ctx, key)
	if err != nil {
		return models.Memory{}, err
	}
	if err := media.Upload(ctx, url, data); err != nil {
		return models.Memory{}, err
	}

	mem, err := s.AddMemory(ctx, key)
	if err != nil {
		return models.Memory{}, err
	}
	if _, err := s.AddAlbumPhoto(ctx, albumID, mem.ID); err != nil {
		return models.Memory{}, err
	}
	return mem, nil
}

// Logout clears everything device-local. Queued operations are
// abandoned deliberately; they belong to the session being discarded.
func (e *Engine) Logout(ctx context.Context) error {
	e.queue.DrainAll(ctx)
	if err := e.local.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear local store: %w", err)
	}
	e.suspendFeed()
	e.stateMu.Lock()
	e.sync = nil
	e.lock = nil
	e.stateMu.Unlock()
	return nil
}

func (e *Engine) Close() error {
	if e.unsubOnline != nil {
		e.unsubOnline()
	}
	if e.cancelRun != nil {
		e.cancelRun()
	}
	e.suspendFeed()
	var errs []error
	if err := e.local.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.remote.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
