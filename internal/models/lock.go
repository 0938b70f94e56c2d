package models

import (
	"encoding/json"
	"time"
)

type LockStatus string

const (
	LockStatusIdle       LockStatus = "idle"
	LockStatusGenerating LockStatus = "generating"
	LockStatusAdWatching LockStatus = "ad_watching"
	LockStatusCompleted  LockStatus = "completed"
)

// GenerationLock is the per-couple row that serializes daily mission
// generation across the two devices. While Status is generating or
// ad_watching and the row is fresh, no other actor may acquire it.
// The row is created lazily and only ever reset to idle, never deleted.
type GenerationLock struct {
	CoupleID        string          `json:"couple_id"`
	Status          LockStatus      `json:"status"`
	LockedBy        string          `json:"locked_by"`
	LockedAt        *time.Time      `json:"locked_at"`
	PendingMissions json.RawMessage `json:"pending_missions"`
	PendingAnswers  json.RawMessage `json:"pending_answers"`
}

// Held reports whether the lock is currently owned by someone.
func (l *GenerationLock) Held() bool {
	return l.Status == LockStatusGenerating || l.Status == LockStatusAdWatching
}
