package nearcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/nearcache/backend"
	"github.com/unkn0wn-root/nearcache/internal/keys"
	"github.com/unkn0wn-root/nearcache/near"
)

type namespace struct {
	name     string
	opts     NamespaceOptions
	near     *near.Cache
	verified atomic.Bool

	mu      sync.Mutex // guards flights and flight.waiters
	flights map[string]*flight
}

// trustNear reports whether Valid near entries may be served.
func (sp *namespace) trustNear() bool {
	return !sp.opts.DistrustWhileDisconnected || sp.verified.Load()
}

type coordinator struct {
	store        backend.Store
	log          Logger
	hooks        Hooks
	retry        RetryPolicy
	reconnect    ReconnectPolicy
	fetchTimeout time.Duration
	writeTimeout time.Duration
	resyncBatch  int
	closeStore   bool

	spaces map[string]*namespace // fixed after New
	names  []string

	base      context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Cache = (*coordinator)(nil)

func newCoordinator(opts Options) (*coordinator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("nearcache: store is required")
	}
	if len(opts.Namespaces) == 0 {
		return nil, fmt.Errorf("nearcache: at least one namespace is required")
	}

	c := &coordinator{
		store:      opts.Store,
		spaces:     make(map[string]*namespace, len(opts.Namespaces)),
		closeStore: opts.CloseStore,
	}
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.retry = opts.Retry.withDefaults()
	c.reconnect = opts.Reconnect.withDefaults()
	c.fetchTimeout = coalesce(opts.FetchTimeout, defaultTimeout)
	c.writeTimeout = coalesce(opts.WriteTimeout, defaultTimeout)
	c.resyncBatch = coalesce(opts.ResyncBatch, defaultResyncBatch)

	for _, no := range opts.Namespaces {
		if err := keys.ValidateNamespace(no.Name); err != nil {
			return nil, fmt.Errorf("nearcache: namespace %q: %w", no.Name, err)
		}
		if _, dup := c.spaces[no.Name]; dup {
			return nil, fmt.Errorf("nearcache: duplicate namespace %q", no.Name)
		}
		if no.MaxEntries < 0 || no.MaxBytes < 0 || no.MaxAge < 0 {
			return nil, fmt.Errorf("nearcache: namespace %q: negative bound", no.Name)
		}
		no.MaxEntries = coalesce(no.MaxEntries, defaultMaxEntries)
		c.spaces[no.Name] = c.newNamespace(no)
		c.names = append(c.names, no.Name)
	}
	sort.Strings(c.names)

	c.base, c.cancel = context.WithCancel(context.Background())
	for _, name := range c.names {
		c.wg.Add(1)
		go c.listen(c.spaces[name])
	}
	return c, nil
}

func (c *coordinator) newNamespace(no NamespaceOptions) *namespace {
	name := no.Name
	return &namespace{
		name: name,
		opts: no,
		near: near.New(near.Options{
			MaxEntries: no.MaxEntries,
			MaxBytes:   no.MaxBytes,
			MaxAge:     no.MaxAge,
			OnEvict: func(_ string, reason near.EvictReason) {
				c.hooks.Evicted(name, reason.String())
			},
		}),
		flights: make(map[string]*flight),
	}
}

func (c *coordinator) space(ns, key string) (*namespace, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	sp, ok := c.spaces[ns]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}
	if err := keys.Validate(key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return sp, nil
}

func (c *coordinator) Read(ctx context.Context, ns, key string) ([]byte, error) {
	res, err := c.Lookup(ctx, ns, key)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

func (c *coordinator) Lookup(ctx context.Context, ns, key string) (Result, error) {
	sp, err := c.space(ns, key)
	if err != nil {
		return Result{}, err
	}
	if sp.trustNear() {
		if v, ver, ok := sp.near.Get(key); ok {
			c.hooks.NearHit(ns)
			return Result{Value: v, Version: ver, Source: SourceNear}, nil
		}
	}
	c.hooks.NearMiss(ns)

	f, leader, err := c.join(sp, key)
	if err != nil {
		return Result{}, err
	}
	src := SourceBackend
	if !leader {
		src = SourceShared
		c.hooks.Coalesced(ns)
	}
	select {
	case <-f.done:
		if f.err != nil {
			return Result{}, f.err
		}
		return Result{Value: bytes.Clone(f.rec.Value), Version: f.rec.Version, Source: src}, nil
	case <-ctx.Done():
		c.detach(sp, key, f)
		return Result{}, ctx.Err()
	}
}

func (c *coordinator) Write(ctx context.Context, ns, key string, value []byte) (uint64, error) {
	sp, err := c.space(ns, key)
	if err != nil {
		return 0, err
	}
	// pinned so invalidations for newer versions that arrive before the ack raise
	// the floor even when no entry existed
	sp.near.MarkPending(key)
	ver, attempts, err := retry(ctx, c.retry, c.writeTimeout, func(ctx context.Context) (uint64, error) {
		return c.store.Put(ctx, ns, key, value)
	})
	if err != nil {
		sp.near.Release(key, false)
		return 0, c.failure(ctx, "put", ns, key, attempts, err)
	}
	valid := sp.near.Fill(key, value, ver)
	c.log.Debug("write acknowledged", Fields{"ns": ns, "key": key, "version": ver, "cached": valid})
	return ver, nil
}

func (c *coordinator) WriteIfAbsent(ctx context.Context, ns, key string, value []byte) (Result, bool, error) {
	sp, err := c.space(ns, key)
	if err != nil {
		return Result{}, false, err
	}
	type outcome struct {
		rec     backend.Record
		created bool
	}
	sp.near.MarkPending(key)
	out, attempts, err := retry(ctx, c.retry, c.writeTimeout, func(ctx context.Context) (outcome, error) {
		rec, created, err := c.store.PutIfAbsent(ctx, ns, key, value)
		return outcome{rec: rec, created: created}, err
	})
	if err != nil {
		sp.near.Release(key, false)
		return Result{}, false, c.failure(ctx, "put_if_absent", ns, key, attempts, err)
	}
	sp.near.Fill(key, out.rec.Value, out.rec.Version)
	return Result{Value: out.rec.Value, Version: out.rec.Version, Source: SourceBackend}, out.created, nil
}

func (c *coordinator) Delete(ctx context.Context, ns, key string) error {
	sp, err := c.space(ns, key)
	if err != nil {
		return err
	}
	ver, attempts, err := retry(ctx, c.retry, c.writeTimeout, func(ctx context.Context) (uint64, error) {
		return c.store.Delete(ctx, ns, key)
	})
	if err != nil {
		return c.failure(ctx, "delete", ns, key, attempts, err)
	}
	sp.near.Delete(key, ver)
	return nil
}

// failure maps a store error that survived retries to what callers see.
func (c *coordinator) failure(ctx context.Context, op, ns, key string, attempts int, err error) error {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return ErrNotFound
	case c.closed.Load():
		return ErrClosed
	case ctx.Err() != nil:
		return ctx.Err()
	}
	c.hooks.BackendError(ns, op, err)
	c.log.Warn("backend unavailable", Fields{"op": op, "ns": ns, "key": key, "attempts": attempts, "err": err})
	return &BackendError{Op: op, Namespace: ns, Key: key, Attempts: attempts, Err: err}
}

func (c *coordinator) Namespaces() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

func (c *coordinator) Verified(ns string) bool {
	sp, ok := c.spaces[ns]
	return ok && sp.verified.Load()
}

func (c *coordinator) Stats(ns string) (Stats, error) {
	sp, ok := c.spaces[ns]
	if !ok {
		return Stats{}, fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}
	sp.mu.Lock()
	inflight := len(sp.flights)
	sp.mu.Unlock()
	return Stats{
		Entries:  sp.near.Len(),
		Bytes:    sp.near.Bytes(),
		InFlight: inflight,
		Verified: sp.verified.Load(),
	}, nil
}

// Close stops listeners and fails in-flight fetches with ErrClosed. With
// Options.CloseStore the store is closed too.
func (c *coordinator) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		// any join past this barrier sees closed; earlier ones are in wg
		for _, sp := range c.spaces {
			sp.mu.Lock()
			sp.mu.Unlock()
		}
		c.cancel()

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			c.closeErr = ctx.Err()
		}
		if c.closeStore {
			c.closeErr = errors.Join(c.closeErr, c.store.Close(ctx))
		}
	})
	return c.closeErr
}
