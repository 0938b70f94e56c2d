// Package models defines the couple-scoped entities shared by the client
// engine and the store backends. JSON tags match the column names of the
// postgres backend so change-feed payloads decode directly.
package models

import "time"

type CoupleStatus string

const (
	CoupleStatusPending      CoupleStatus = "pending"
	CoupleStatusActive       CoupleStatus = "active"
	CoupleStatusDisconnected CoupleStatus = "disconnected"
)

type DisconnectReason string

const (
	DisconnectReasonNone           DisconnectReason = ""
	DisconnectReasonUnpaired       DisconnectReason = "unpaired"
	DisconnectReasonAccountDeleted DisconnectReason = "account_deleted"
)

// Couple is the pairing relationship and the scope of all shared state.
// User2ID is empty only while Status is pending.
type Couple struct {
	ID               string           `json:"id"`
	User1ID          string           `json:"user1_id"`
	User2ID          string           `json:"user2_id"`
	Status           CoupleStatus     `json:"status"`
	DisconnectedAt   *time.Time       `json:"disconnected_at"`
	DisconnectedBy   string           `json:"disconnected_by"`
	DisconnectReason DisconnectReason `json:"disconnect_reason"`
	Timezone         string           `json:"timezone"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Invite is a pairing code issued by user1 while the couple is pending.
type Invite struct {
	Code      string    `json:"code"`
	CoupleID  string    `json:"couple_id"`
	CreatedBy string    `json:"created_by"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RecoveryWindow is how long a disconnected couple stays restorable
// before the purge sweep removes it for good.
const RecoveryWindow = 30 * 24 * time.Hour
