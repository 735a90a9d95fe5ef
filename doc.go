// Package nearcache keeps a bounded, in-process copy of hot keys in front of a
// distributed backing store and keeps that copy honest through the store's
// invalidation stream.
//
// Components:
//   - near.Cache: per-namespace LRU of versioned values (Valid, Stale, Pending).
//   - Coordinator (New): read-through with request coalescing, write-through with
//     read-your-writes, delete-through.
//   - Listener: one goroutine per namespace consuming backend.Subscription events,
//     resyncing after every reconnect.
//   - backend.Store: the remote store contract (redisstore, memstore, breaker).
//
// Versions:
//
//	every mutation in the store bumps the key's version (uint64, 0 = never written).
//	The near cache never replaces a value with an older one, and never serves a
//	value older than the newest invalidation it has seen for that key.
//
// Read path:
//
//	near hit             -> value (Source=Near)
//	miss, no fetch       -> start fetch, wait (Source=Backend)
//	miss, fetch running  -> attach, wait (Source=Shared)
package nearcache
