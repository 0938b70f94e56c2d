// Package lifecycle drives the couple pairing state machine:
// pending -> active -> disconnected -> (restored | purged). Disconnection
// is always soft; hard deletion happens only in the server sweep once the
// recovery window lapses. All timing decisions use the store clock.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"couplesync/internal/client/localstore"
	"couplesync/internal/common"
	"couplesync/internal/logging"
	"couplesync/internal/models"
	"couplesync/internal/notify"
	"couplesync/internal/remote"
)

type Manager struct {
	remote    remote.Store
	local     localstore.Store
	notifier  notify.Notifier
	logger    logging.Logger
	userID    string
	inviteTTL time.Duration

	mu sync.Mutex
	// notified latches the disconnect notification per couple so repeated
	// feed deliveries of the same disconnected state fire it once.
	notified map[string]bool
}

func New(r remote.Store, local localstore.Store, notifier notify.Notifier, logger logging.Logger, userID string, inviteTTL time.Duration) *Manager {
	return &Manager{
		remote:    r,
		local:     local,
		notifier:  notifier,
		logger:    logger.With("module", "lifecycle"),
		userID:    userID,
		inviteTTL: inviteTTL,
		notified:  make(map[string]bool),
	}
}

// CreatePair creates a pending couple owned by this user and an invite
// code the partner redeems. The couple reference and the outstanding
// code are cached locally.
func (m *Manager) CreatePair(ctx context.Context, timezone string) (*models.Couple, *models.Invite, error) {
	now, err := m.remote.ServerTime(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pair: %w", err)
	}
	couple := &models.Couple{
		User1ID:  m.userID,
		Status:   models.CoupleStatusPending,
		Timezone: timezone,
	}
	if err := m.remote.Couples().Create(ctx, couple); err != nil {
		return nil, nil, fmt.Errorf("failed to create pair: %w", err)
	}
	inv := &models.Invite{
		Code:      newInviteCode(),
		CoupleID:  couple.ID,
		CreatedBy: m.userID,
		ExpiresAt: now.Add(m.inviteTTL),
	}
	if err := m.remote.Couples().CreateInvite(ctx, inv); err != nil {
		return nil, nil, fmt.Errorf("failed to create invite: %w", err)
	}
	m.cacheLocal(ctx, common.KeyCoupleRef, couple.ID)
	m.cacheLocal(ctx, common.KeyPendingInvite, inv.Code)
	return couple, inv, nil
}

// Redeem joins this user to the couple behind the invite code. The flip
// to active is atomic in the store; no reader sees an active couple
// without a second user.
func (m *Manager) Redeem(ctx context.Context, code string) (*models.Couple, error) {
	couple, err := m.remote.Couples().RedeemInvite(ctx, strings.TrimSpace(code), m.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem invite: %w", err)
	}
	m.cacheLocal(ctx, common.KeyCoupleRef, couple.ID)
	return couple, nil
}

// CoupleID returns the locally cached couple reference, or "" when the
// device is not paired.
func (m *Manager) CoupleID(ctx context.Context) (string, error) {
	data, err := m.local.Get(ctx, common.KeyCoupleRef)
	if err != nil {
		return "", fmt.Errorf("failed to read couple reference: %w", err)
	}
	return string(data), nil
}

// Unpair soft-disconnects the couple, recording who ended it and why.
// Shared data stays in place for the recovery window; the local pairing
// cache does not.
func (m *Manager) Unpair(ctx context.Context, coupleID string) error {
	if err := m.disconnect(ctx, coupleID, models.DisconnectReasonUnpaired); err != nil {
		return err
	}
	for _, key := range []string{common.KeyCoupleRef, common.KeyPendingInvite} {
		if err := m.local.Remove(ctx, key); err != nil {
			m.logger.Warn(ctx, "failed to remove local key", "key", key, "error", err)
		}
	}
	// Remember that this device initiated, so a later restoration by the
	// partner surfaces here exactly once.
	m.cacheLocal(ctx, common.KeyDisconnectInitiated, coupleID)
	return nil
}

// AccountDeleted soft-disconnects on behalf of an account deletion. The
// couple is unrestorable and will be purged by the sweep.
func (m *Manager) AccountDeleted(ctx context.Context, coupleID string) error {
	if err := m.disconnect(ctx, coupleID, models.DisconnectReasonAccountDeleted); err != nil {
		return err
	}
	m.purgeLocalArtifacts(ctx)
	return nil
}

func (m *Manager) disconnect(ctx context.Context, coupleID string, reason models.DisconnectReason) error {
	couple, err := m.remote.Couples().Get(ctx, coupleID)
	if err != nil {
		return fmt.Errorf("failed to load couple: %w", err)
	}
	if couple.Status != models.CoupleStatusActive {
		return fmt.Errorf("disconnect %s: %w", coupleID, common.ErrCoupleNotActive)
	}
	now, err := m.remote.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("failed to read server time: %w", err)
	}
	couple.Status = models.CoupleStatusDisconnected
	couple.DisconnectedAt = &now
	couple.DisconnectedBy = m.userID
	couple.DisconnectReason = reason
	if err := m.remote.Couples().Update(ctx, couple); err != nil {
		return fmt.Errorf("failed to disconnect couple: %w", err)
	}
	m.logger.Info(ctx, "couple disconnected", "couple_id", coupleID, "reason", string(reason))
	return nil
}

// Restore re-activates a disconnected couple between this user and
// partnerID. Allowed only inside the recovery window and never after an
// account deletion. The disconnect reason is retained as the one-shot
// reconnect signal; the disconnect initiator clears it on first sight.
func (m *Manager) Restore(ctx context.Context, partnerID string) (*models.Couple, error) {
	couple, err := m.remote.Couples().FindByUsers(ctx, m.userID, partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find couple: %w", err)
	}
	if couple.Status != models.CoupleStatusDisconnected {
		return nil, fmt.Errorf("restore %s: %w", couple.ID, common.ErrCoupleNotActive)
	}
	if couple.DisconnectReason == models.DisconnectReasonAccountDeleted {
		return nil, fmt.Errorf("restore %s: %w", couple.ID, common.ErrRecoveryForbidden)
	}
	now, err := m.remote.ServerTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read server time: %w", err)
	}
	if couple.DisconnectedAt == nil || now.Sub(*couple.DisconnectedAt) > models.RecoveryWindow {
		return nil, fmt.Errorf("restore %s: %w", couple.ID, common.ErrRecoveryExpired)
	}
	couple.Status = models.CoupleStatusActive
	couple.DisconnectedAt = nil
	couple.DisconnectedBy = ""
	if err := m.remote.Couples().Update(ctx, couple); err != nil {
		return nil, fmt.Errorf("failed to restore couple: %w", err)
	}
	m.cacheLocal(ctx, common.KeyCoupleRef, couple.ID)
	m.logger.Info(ctx, "couple restored", "couple_id", couple.ID)
	return couple, nil
}

// HandleEvent reacts to couple feed events: the partner's disconnect is
// surfaced once, a restoration is surfaced once on the initiating device
// (consuming the retained reason), and a purge clears local artifacts.
func (m *Manager) HandleEvent(ctx context.Context, ev remote.ChangeEvent) {
	if ev.Table != remote.TableCouples {
		return
	}
	if ev.Type == remote.EventDelete {
		m.logger.Info(ctx, "couple purged", "couple_id", ev.CoupleID)
		m.purgeLocalArtifacts(ctx)
		return
	}
	couple := ev.Couple()
	if couple == nil {
		return
	}
	switch couple.Status {
	case models.CoupleStatusDisconnected:
		m.observeDisconnected(ctx, couple)
	case models.CoupleStatusActive:
		m.observeActive(ctx, couple)
	}
}

func (m *Manager) observeDisconnected(ctx context.Context, couple *models.Couple) {
	if couple.DisconnectedBy == m.userID {
		return
	}
	m.mu.Lock()
	already := m.notified[couple.ID]
	m.notified[couple.ID] = true
	m.mu.Unlock()
	if already {
		return
	}
	m.notifier.PartnerUnpaired(ctx, couple.ID, couple.DisconnectReason)
	if couple.DisconnectReason == models.DisconnectReasonAccountDeleted {
		m.purgeLocalArtifacts(ctx)
	}
}

func (m *Manager) observeActive(ctx context.Context, couple *models.Couple) {
	m.mu.Lock()
	delete(m.notified, couple.ID)
	m.mu.Unlock()

	if couple.DisconnectReason == models.DisconnectReasonNone {
		return
	}
	// A retained reason on an active couple means the partner restored.
	// Only the disconnect initiator consumes it.
	initiated, err := m.local.Get(ctx, common.KeyDisconnectInitiated)
	if err != nil || string(initiated) != couple.ID {
		return
	}
	m.notifier.PartnerReconnected(ctx, couple.ID)
	cleared := *couple
	cleared.DisconnectReason = models.DisconnectReasonNone
	if err := m.remote.Couples().Update(ctx, &cleared); err != nil && !errors.Is(err, common.ErrConflict) {
		m.logger.Warn(ctx, "failed to clear reconnect signal", "couple_id", couple.ID, "error", err)
		return
	}
	if err := m.local.Remove(ctx, common.KeyDisconnectInitiated); err != nil {
		m.logger.Warn(ctx, "failed to clear initiator flag", "error", err)
	}
	m.cacheLocal(ctx, common.KeyCoupleRef, couple.ID)
}

// purgeLocalArtifacts drops locally cached pairing state after an
// irrecoverable disconnect or a purge.
func (m *Manager) purgeLocalArtifacts(ctx context.Context) {
	for _, key := range []string{common.KeyCoupleRef, common.KeyPendingInvite, common.KeyDisconnectInitiated} {
		if err := m.local.Remove(ctx, key); err != nil {
			m.logger.Warn(ctx, "failed to remove local key", "key", key, "error", err)
		}
	}
}

func (m *Manager) cacheLocal(ctx context.Context, key, value string) {
	if err := m.local.Set(ctx, key, []byte(value)); err != nil {
		m.logger.Warn(ctx, "failed to cache local key", "key", key, "error", err)
	}
}

// newInviteCode returns a short code the partner can type in.
func newInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
