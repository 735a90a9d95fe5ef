// Package asynchook moves Hooks callbacks off the caller's goroutine.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{ReadEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := nearcache.New(nearcache.Options{
//	    Store:      store,
//	    Namespaces: []nearcache.NamespaceOptions{{Name: "cache"}},
//	    Hooks:      hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/nearcache"
)

// Hooks forwards callbacks to inner through a bounded queue. When the queue is full
// the event is dropped and counted.
type Hooks struct {
	inner   nearcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against sends on a closed queue
	closed  bool
	dropped atomic.Uint64
}

var _ nearcache.Hooks = (*Hooks)(nil)

func New(inner nearcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports events lost to a full queue or a closed Hooks.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) NearHit(ns string)   { h.try(func() { h.inner.NearHit(ns) }) }
func (h *Hooks) NearMiss(ns string)  { h.try(func() { h.inner.NearMiss(ns) }) }
func (h *Hooks) Coalesced(ns string) { h.try(func() { h.inner.Coalesced(ns) }) }
func (h *Hooks) BackendError(ns, op string, err error) {
	h.try(func() { h.inner.BackendError(ns, op, err) })
}
func (h *Hooks) Evicted(ns, reason string) { h.try(func() { h.inner.Evicted(ns, reason) }) }
func (h *Hooks) Invalidation(ns string, applied bool) {
	h.try(func() { h.inner.Invalidation(ns, applied) })
}
func (h *Hooks) SubscriptionLost(ns string, err error) {
	h.try(func() { h.inner.SubscriptionLost(ns, err) })
}
func (h *Hooks) SubscriptionRestored(ns string, d time.Duration) {
	h.try(func() { h.inner.SubscriptionRestored(ns, d) })
}
func (h *Hooks) Resynced(ns string, checked, changed int) {
	h.try(func() { h.inner.Resynced(ns, checked, changed) })
}
