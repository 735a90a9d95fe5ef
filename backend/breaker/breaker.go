// Package breaker wraps a backend.Store in a circuit breaker.
//
// While the circuit is open every call fails fast with an error wrapping
// backend.ErrRejected, which callers treat as "unavailable, do not retry".
// NotFound and caller cancellations count as successes: they say nothing about the
// health of the store.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/unkn0wn-root/nearcache/backend"
)

type Config struct {
	Name             string
	MaxRequests      uint32        // allowed through while half-open; 0 => 1
	Interval         time.Duration // closed-state counter reset period; 0 => never
	Timeout          time.Duration // open -> half-open delay; 0 => 60s
	FailureThreshold float64       // trip when failures/requests >= threshold; 0 => 0.6
	MinRequests      uint32        // requests needed before evaluating the ratio; 0 => 5

	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultConfig returns settings tuned for a cache backend: trip fast, probe often.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

type Store struct {
	inner backend.Store
	cb    *gobreaker.CircuitBreaker
}

var _ backend.Store = (*Store)(nil)

func New(inner backend.Store, cfg Config) (*Store, error) {
	if inner == nil {
		return nil, errors.New("breaker: inner store is required")
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 0.6
	}
	minReq := cfg.MinRequests
	if minReq == 0 {
		minReq = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < minReq {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= threshold
		},
		OnStateChange: cfg.OnStateChange,
		IsSuccessful:  healthy,
	})
	return &Store{inner: inner, cb: cb}, nil
}

func healthy(err error) bool {
	return err == nil ||
		errors.Is(err, backend.ErrNotFound) ||
		errors.Is(err, context.Canceled)
}

// State reports the breaker state.
func (s *Store) State() gobreaker.State { return s.cb.State() }

func (s *Store) do(fn func() (any, error)) (any, error) {
	res, err := s.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", backend.ErrRejected, err)
	}
	return res, err
}

func (s *Store) Get(ctx context.Context, ns, key string) (backend.Record, error) {
	res, err := s.do(func() (any, error) { return s.inner.Get(ctx, ns, key) })
	if err != nil {
		return backend.Record{}, err
	}
	return res.(backend.Record), nil
}

func (s *Store) Put(ctx context.Context, ns, key string, value []byte) (uint64, error) {
	res, err := s.do(func() (any, error) { return s.inner.Put(ctx, ns, key, value) })
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

type ifAbsent struct {
	rec     backend.Record
	created bool
}

func (s *Store) PutIfAbsent(ctx context.Context, ns, key string, value []byte) (backend.Record, bool, error) {
	res, err := s.do(func() (any, error) {
		rec, created, err := s.inner.PutIfAbsent(ctx, ns, key, value)
		return ifAbsent{rec, created}, err
	})
	if err != nil {
		return backend.Record{}, false, err
	}
	r := res.(ifAbsent)
	return r.rec, r.created, nil
}

func (s *Store) Delete(ctx context.Context, ns, key string) (uint64, error) {
	res, err := s.do(func() (any, error) { return s.inner.Delete(ctx, ns, key) })
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

func (s *Store) Versions(ctx context.Context, ns string, keys []string) (map[string]uint64, error) {
	res, err := s.do(func() (any, error) { return s.inner.Versions(ctx, ns, keys) })
	if err != nil {
		return nil, err
	}
	return res.(map[string]uint64), nil
}

// Subscribe bypasses the breaker: the listener has its own reconnect backoff, and a
// subscription failure must not block reads.
func (s *Store) Subscribe(ctx context.Context, ns string) (backend.Subscription, error) {
	return s.inner.Subscribe(ctx, ns)
}

func (s *Store) Close(ctx context.Context) error { return s.inner.Close(ctx) }
