package nearcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/nearcache/backend"
)

// Cache is the coordinator API. All operations are safe for concurrent use.
type Cache interface {
	// Read returns the value for key, from the near cache when it holds a Valid copy,
	// otherwise from the store (one fetch per key no matter how many callers wait).
	Read(ctx context.Context, ns, key string) ([]byte, error)
	// Lookup is Read that also reports the version and where the value came from.
	Lookup(ctx context.Context, ns, key string) (Result, error)

	// Write stores value and returns its version. The near cache is updated only
	// after the store acknowledged, so a following Read on this node sees it.
	Write(ctx context.Context, ns, key string, value []byte) (uint64, error)
	// WriteIfAbsent stores value unless key exists. It returns the value now in the
	// store and whether this call stored it.
	WriteIfAbsent(ctx context.Context, ns, key string, value []byte) (Result, bool, error)
	Delete(ctx context.Context, ns, key string) error

	Namespaces() []string
	// Verified reports whether the namespace's invalidation stream is live and the
	// near cache was reconciled with the store since it (re)connected.
	Verified(ns string) bool
	Stats(ns string) (Stats, error)

	Close(context.Context) error
}

// Source tells where a read was served from.
type Source uint8

const (
	SourceNear    Source = iota + 1 // near cache hit
	SourceBackend                   // this call fetched from the store
	SourceShared                    // attached to a fetch started by another call
)

func (s Source) String() string {
	switch s {
	case SourceNear:
		return "near"
	case SourceBackend:
		return "backend"
	case SourceShared:
		return "shared"
	default:
		return "unknown"
	}
}

type Result struct {
	Value   []byte
	Version uint64
	Source  Source
}

type Stats struct {
	Entries  int
	Bytes    int64
	InFlight int
	Verified bool
}

// NamespaceOptions bound one namespace's near cache.
type NamespaceOptions struct {
	Name       string
	MaxEntries int           // 0 => 10000
	MaxBytes   int64         // 0 => unbounded
	MaxAge     time.Duration // 0 => entries stay Valid until invalidated

	// DistrustWhileDisconnected makes reads skip the near cache while the
	// invalidation stream is down (every read goes to the store, still coalesced).
	DistrustWhileDisconnected bool
}

// RetryPolicy bounds store calls made on behalf of reads and writes.
type RetryPolicy struct {
	MaxAttempts     int           // 0 => 3
	InitialInterval time.Duration // 0 => 50ms
	MaxInterval     time.Duration // 0 => 1s
	Multiplier      float64       // 0 => 2
}

// ReconnectPolicy paces listener resubscription. Attempts are unbounded.
type ReconnectPolicy struct {
	InitialInterval time.Duration // 0 => 100ms
	MaxInterval     time.Duration // 0 => 10s
	Multiplier      float64       // 0 => 2
}

// Options configure the coordinator. Store and at least one namespace are required.
type Options struct {
	Store      backend.Store
	Namespaces []NamespaceOptions

	Logger       Logger // if nil, NopLogger is used
	Hooks        Hooks  // if nil, NopHooks is used
	Retry        RetryPolicy
	Reconnect    ReconnectPolicy
	FetchTimeout time.Duration // per attempt; 0 => 2s
	WriteTimeout time.Duration // per attempt; 0 => 2s
	ResyncBatch  int           // keys per Versions call; 0 => 256
	CloseStore   bool          // Close also closes Store
}

// New starts one invalidation listener per namespace and returns the coordinator.
func New(opts Options) (Cache, error) {
	return newCoordinator(opts)
}
