// Package backend defines the contract of the remote store that a near cache fronts.
//
// The store owns durability, replication and the per-key version counter. Every
// mutation bumps the key's version and publishes an Event to the subscribers of the
// key's namespace. Versions start at 1; 0 means "never written".
package backend

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a key absent from the store. Never retried.
	ErrNotFound = errors.New("backend: not found")
	// ErrRejected reports a request refused without being attempted (open circuit,
	// admission refusal). Retrying immediately is pointless.
	ErrRejected = errors.New("backend: request rejected")
	// ErrClosed is returned by a closed store.
	ErrClosed = errors.New("backend: store closed")
	// ErrSubscriptionLost is reported by Subscription.Err when the stream dropped.
	ErrSubscriptionLost = errors.New("backend: subscription lost")
)

// Cause tells a subscriber what happened to a key.
type Cause uint8

const (
	Update Cause = iota + 1
	Delete
)

func (c Cause) String() string {
	switch c {
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("cause(%d)", uint8(c))
	}
}

// Record is a stored value with the version that produced it.
type Record struct {
	Value   []byte
	Version uint64
}

// Event announces that Key in Namespace moved to Version.
type Event struct {
	Namespace string
	Key       string
	Version   uint64
	Cause     Cause
}

// Store is the backing store client. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the current record or ErrNotFound.
	Get(ctx context.Context, ns, key string) (Record, error)
	// Put stores value and returns the new version.
	Put(ctx context.Context, ns, key string, value []byte) (uint64, error)
	// PutIfAbsent stores value only when key is absent. It returns the record now in
	// the store and whether this call created it.
	PutIfAbsent(ctx context.Context, ns, key string, value []byte) (Record, bool, error)
	// Delete removes key and returns the version of the deletion. Deleting an absent
	// key still bumps the version.
	Delete(ctx context.Context, ns, key string) (uint64, error)
	// Versions returns the version of every key's live record. A key without one
	// (never written, deleted, expired or evicted) reports 0 even though its
	// version counter has moved on.
	Versions(ctx context.Context, ns string, keys []string) (map[string]uint64, error)
	// Subscribe opens an invalidation stream for ns. Events for the same key arrive
	// in the order the store applied them.
	Subscribe(ctx context.Context, ns string) (Subscription, error)
	// Close releases resources.
	Close(ctx context.Context) error
}

// Subscription is a live invalidation stream.
type Subscription interface {
	// Events is closed when the stream ends, either by Close or by a failure.
	Events() <-chan Event
	// Err reports why Events was closed; nil after a clean Close.
	Err() error
	// Close ends the stream. Safe to call more than once.
	Close() error
}
