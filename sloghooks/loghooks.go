package sloghooks

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/nearcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ReadEvery         uint64 // hits, misses, coalesced reads
	InvalidationEvery uint64
	EvictEvery        uint64
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	readCtr  atomic.Uint64
	invalCtr atomic.Uint64
	evictCtr atomic.Uint64
}

var _ nearcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) read(event, ns string) {
	if h.l == nil || !sample(h.opts.ReadEvery, &h.readCtr) {
		return
	}
	h.l.Debug(event, "ns", ns)
}

func (h *Hooks) NearHit(ns string)   { h.read("nearcache.near_hit", ns) }
func (h *Hooks) NearMiss(ns string)  { h.read("nearcache.near_miss", ns) }
func (h *Hooks) Coalesced(ns string) { h.read("nearcache.coalesced", ns) }

func (h *Hooks) BackendError(ns, op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("nearcache.backend_error",
		"ns", ns,
		"op", op,
		"err", err)
}

func (h *Hooks) Evicted(ns, reason string) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("nearcache.evicted",
		"ns", ns,
		"reason", reason)
}

func (h *Hooks) Invalidation(ns string, applied bool) {
	if h.l == nil || !sample(h.opts.InvalidationEvery, &h.invalCtr) {
		return
	}
	h.l.Debug("nearcache.invalidation",
		"ns", ns,
		"applied", applied)
}

func (h *Hooks) SubscriptionLost(ns string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("nearcache.subscription_lost",
		"ns", ns,
		"err", err)
}

func (h *Hooks) SubscriptionRestored(ns string, downtime time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Info("nearcache.subscription_restored",
		"ns", ns,
		"downtime", downtime)
}

func (h *Hooks) Resynced(ns string, checked, changed int) {
	if h.l == nil {
		return
	}
	h.l.Info("nearcache.resynced",
		"ns", ns,
		"checked", checked,
		"changed", changed)
}
