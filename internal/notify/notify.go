// Package notify abstracts push intents. The engine reports what should
// reach the partner's device; delivery (APNs/FCM or anything else) is an
// external concern behind this interface.
package notify

import (
	"context"

	"couplesync/internal/logging"
	"couplesync/internal/models"
)

type Notifier interface {
	// PartnerMissionReady fires after a committed daily generation so the
	// partner device knows new missions exist.
	PartnerMissionReady(ctx context.Context, coupleID string)

	// PartnerUnpaired fires exactly once per disconnect, on the device
	// that did not initiate it.
	PartnerUnpaired(ctx context.Context, coupleID string, reason models.DisconnectReason)

	// PartnerReconnected fires on the disconnect initiator's device when
	// the partner restores the couple.
	PartnerReconnected(ctx context.Context, coupleID string)

	// SyncStalled fires when a queued operation exhausted its retries and
	// needs the user's attention.
	SyncStalled(ctx context.Context, opType string)
}

// LogNotifier writes intents to the log. Default when no push transport
// is wired.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(logger logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notify")}
}

func (n *LogNotifier) PartnerMissionReady(ctx context.Context, coupleID string) {
	n.logger.Info(ctx, "partner mission ready", "couple_id", coupleID)
}

func (n *LogNotifier) PartnerUnpaired(ctx context.Context, coupleID string, reason models.DisconnectReason) {
	n.logger.Info(ctx, "partner unpaired", "couple_id", coupleID, "reason", string(reason))
}

func (n *LogNotifier) PartnerReconnected(ctx context.Context, coupleID string) {
	n.logger.Info(ctx, "partner reconnected", "couple_id", coupleID)
}

func (n *LogNotifier) SyncStalled(ctx context.Context, opType string) {
	n.logger.Warn(ctx, "sync stalled", "op_type", opType)
}

var _ Notifier = (*LogNotifier)(nil)
