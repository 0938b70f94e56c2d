// Package common defines shared constants and sentinel errors used across
// the client engine and the store backends. Callers should use errors.Is
// to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks transient/network failures. Mutations that hit
	// it are queued for replay, never surfaced directly.
	ErrUnavailable = errors.New("store unavailable")

	// ErrConflict marks idempotent conflicts (duplicate insert,
	// already-removed membership). Callers treat it as success.
	ErrConflict = errors.New("conflict")

	// ErrSessionInvalid marks authorization failures. Never retried;
	// propagated up to tear down sync subscriptions.
	ErrSessionInvalid = errors.New("session invalid")

	// Lifecycle errors.
	ErrCoupleNotActive   = errors.New("couple not active")
	ErrRecoveryExpired   = errors.New("recovery window expired")
	ErrRecoveryForbidden = errors.New("recovery not permitted")
	ErrInviteInvalid     = errors.New("invite code invalid or expired")
	ErrSyncStalled       = errors.New("sync stalled")
)
