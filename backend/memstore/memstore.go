// Package memstore is an in-process backend.Store.
//
// Records live in a provider.Provider as versioned frames, versions in a
// verstore.Store, and invalidations fan out through an in-process broker. Several
// coordinators sharing one Store behave like nodes of a cluster sharing a remote
// store, which is how the daemon runs its single-binary mode.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/nearcache/backend"
	"github.com/unkn0wn-root/nearcache/internal/keys"
	"github.com/unkn0wn-root/nearcache/internal/wire"
	pr "github.com/unkn0wn-root/nearcache/provider"
	"github.com/unkn0wn-root/nearcache/verstore"
)

const (
	defaultPrefix  = "nc"
	defaultStripes = 256
	defaultBuffer  = 1024
)

type Config struct {
	// Required
	Provider pr.Provider

	Versions verstore.Store // nil => verstore.NewLocal without cleanup
	TTL      time.Duration  // passed to Provider.Set; 0 => no expiry
	Prefix   string         // storage key prefix; "" => "nc"
	Stripes  int            // key lock stripes; 0 => 256
	Buffer   int            // per-subscriber event buffer; 0 => 1024
}

type Store struct {
	p        pr.Provider
	vers     verstore.Store
	ownVers  bool
	ttl      time.Duration
	prefix   string
	stripes  []sync.Mutex
	broker   *broker
	closed   atomic.Bool
	closeErr error
	once     sync.Once
}

var _ backend.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Provider == nil {
		return nil, errors.New("memstore: provider is required")
	}
	s := &Store{
		p:      cfg.Provider,
		vers:   cfg.Versions,
		ttl:    cfg.TTL,
		prefix: cfg.Prefix,
	}
	if s.prefix == "" {
		s.prefix = defaultPrefix
	}
	if s.vers == nil {
		s.vers = verstore.NewLocal(0, 0)
		s.ownVers = true
	}
	n := cfg.Stripes
	if n <= 0 {
		n = defaultStripes
	}
	s.stripes = make([]sync.Mutex, n)
	buf := cfg.Buffer
	if buf <= 0 {
		buf = defaultBuffer
	}
	s.broker = newBroker(buf)
	return s, nil
}

func (s *Store) storageKey(ns, key string) string { return keys.Storage(s.prefix, ns, key) }

func (s *Store) lock(storageKey string) func() {
	m := &s.stripes[xxhash.Sum64String(storageKey)%uint64(len(s.stripes))]
	m.Lock()
	return m.Unlock
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	return ctx.Err()
}

func (s *Store) Get(ctx context.Context, ns, key string) (backend.Record, error) {
	if err := s.check(ctx); err != nil {
		return backend.Record{}, err
	}
	return s.read(ctx, s.storageKey(ns, key))
}

func (s *Store) read(ctx context.Context, sk string) (backend.Record, error) {
	raw, ok, err := s.p.Get(ctx, sk)
	if err != nil {
		return backend.Record{}, err
	}
	if !ok {
		return backend.Record{}, backend.ErrNotFound
	}
	v, payload, err := wire.DecodeRecord(raw)
	if err != nil {
		_ = s.p.Del(ctx, sk) // self-heal corrupt
		return backend.Record{}, backend.ErrNotFound
	}
	// providers may hand out their own backing array
	out := make([]byte, len(payload))
	copy(out, payload)
	return backend.Record{Value: out, Version: v}, nil
}

func (s *Store) Put(ctx context.Context, ns, key string, value []byte) (uint64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	sk := s.storageKey(ns, key)
	unlock := s.lock(sk)
	defer unlock()
	return s.write(ctx, ns, key, sk, value)
}

// write must be called with the key's stripe held; events for one key are therefore
// published in version order.
func (s *Store) write(ctx context.Context, ns, key, sk string, value []byte) (uint64, error) {
	v, err := s.vers.Bump(ctx, sk)
	if err != nil {
		return 0, err
	}
	frame := wire.EncodeRecord(v, value)
	ok, err := s.p.Set(ctx, sk, frame, int64(len(frame)), s.ttl)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: provider refused %q", backend.ErrRejected, sk)
	}
	s.broker.publish(backend.Event{Namespace: ns, Key: key, Version: v, Cause: backend.Update})
	return v, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, ns, key string, value []byte) (backend.Record, bool, error) {
	if err := s.check(ctx); err != nil {
		return backend.Record{}, false, err
	}
	sk := s.storageKey(ns, key)
	unlock := s.lock(sk)
	defer unlock()

	rec, err := s.read(ctx, sk)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, backend.ErrNotFound) {
		return backend.Record{}, false, err
	}
	v, err := s.write(ctx, ns, key, sk, value)
	if err != nil {
		return backend.Record{}, false, err
	}
	out := make([]byte, len(value))
	copy(out, value)
	return backend.Record{Value: out, Version: v}, true, nil
}

func (s *Store) Delete(ctx context.Context, ns, key string) (uint64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	sk := s.storageKey(ns, key)
	unlock := s.lock(sk)
	defer unlock()

	v, err := s.vers.Bump(ctx, sk)
	if err != nil {
		return 0, err
	}
	if err := s.p.Del(ctx, sk); err != nil {
		return 0, err
	}
	s.broker.publish(backend.Event{Namespace: ns, Key: key, Version: v, Cause: backend.Delete})
	return v, nil
}

func (s *Store) Versions(ctx context.Context, ns string, ks []string) (map[string]uint64, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(ks))
	for _, k := range ks {
		rec, err := s.read(ctx, s.storageKey(ns, k))
		switch {
		case errors.Is(err, backend.ErrNotFound):
			out[k] = 0
		case err != nil:
			return nil, err
		default:
			out[k] = rec.Version
		}
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, ns string) (backend.Subscription, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.broker.subscribe(ns), nil
}

// Disconnect drops every live subscription of ns as if the connection broke.
// Subscribers observe backend.ErrSubscriptionLost and must resubscribe.
func (s *Store) Disconnect(ns string) int {
	return s.broker.drop(ns, backend.ErrSubscriptionLost)
}

// Subscribers reports the number of live subscriptions of ns.
func (s *Store) Subscribers(ns string) int { return s.broker.count(ns) }

func (s *Store) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.broker.dropAll(backend.ErrClosed)
		var errs []error
		if s.ownVers {
			errs = append(errs, s.vers.Close(ctx))
		}
		errs = append(errs, s.p.Close(ctx))
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
