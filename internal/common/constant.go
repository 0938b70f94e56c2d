package common

// Keys under which the client engine stores its artifacts in the local
// durable store. Everything here is purged on unpair/logout so a stale
// reference cannot resurrect a dead pairing.
const (
	// KeyOfflineQueue holds the serialized offline operation queue.
	KeyOfflineQueue = "offline_queue"

	// KeyCoupleRef holds the id of the couple this device is paired into.
	KeyCoupleRef = "couple_id"

	// KeyPendingInvite holds an invite code issued by this device while
	// the couple is still pending.
	KeyPendingInvite = "pending_invite_code"

	// KeyDisconnectInitiated marks that this device initiated the last
	// disconnect. Used to detect a partner reconnect exactly once.
	KeyDisconnectInitiated = "disconnect_initiated"
)
