// Package verstore keeps the per-key version counters of a backing store.
//
// A version is a monotonically increasing uint64 per storage key. Zero means the key
// has never been written. Counters are never decremented; deleting a key bumps it.
package verstore

import (
	"context"
	"time"
)

// Store abstracts where version counters live.
// Use Local for in-process stores, or Redis to share counters across processes.
type Store interface {
	// Current returns the current version; missing => 0.
	Current(ctx context.Context, storageKey string) (uint64, error)
	// CurrentMany returns versions for many keys; missing => 0.
	CurrentMany(ctx context.Context, storageKeys []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new version.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// Cleanup prunes counters idle for longer than retention (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
