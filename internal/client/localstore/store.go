// Package localstore is the device's durable key-value store. The offline
// queue and the lifecycle manager persist through it; everything else in
// the engine is reconstructable from the remote store.
package localstore

import "context"

// Store is a minimal persistence primitive. Get returns nil (not an
// error) for a missing key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}
