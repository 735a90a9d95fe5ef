package nearcache

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The coordinator calls them on hot paths and from listener goroutines.
type Hooks interface {
	// Read served from (hit) or missed in the near cache.
	NearHit(ns string)
	NearMiss(ns string)

	// A read attached to a fetch another caller started.
	Coalesced(ns string)

	// A store operation failed after retries. op ∈ {"get", "put", "put_if_absent", "delete"}
	BackendError(ns, op string, err error)

	// A near entry was dropped. reason ∈ {"capacity", "removed"}
	Evicted(ns, reason string)

	// An invalidation event arrived; applied is false when the local entry was
	// absent or already at least as new.
	Invalidation(ns string, applied bool)

	// The invalidation stream for ns dropped / came back (after resync).
	SubscriptionLost(ns string, err error)
	SubscriptionRestored(ns string, downtime time.Duration)

	// Resync compared checked local keys with the store and corrected changed of them.
	Resynced(ns string, checked, changed int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) NearHit(string)                             {}
func (NopHooks) NearMiss(string)                            {}
func (NopHooks) Coalesced(string)                           {}
func (NopHooks) BackendError(string, string, error)         {}
func (NopHooks) Evicted(string, string)                     {}
func (NopHooks) Invalidation(string, bool)                  {}
func (NopHooks) SubscriptionLost(string, error)             {}
func (NopHooks) SubscriptionRestored(string, time.Duration) {}
func (NopHooks) Resynced(string, int, int)                  {}

// Tee fans every callback out to hs in order. Nil entries are skipped.
func Tee(hs ...Hooks) Hooks {
	out := make(tee, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

type tee []Hooks

func (t tee) NearHit(ns string) {
	for _, h := range t {
		h.NearHit(ns)
	}
}

func (t tee) NearMiss(ns string) {
	for _, h := range t {
		h.NearMiss(ns)
	}
}

func (t tee) Coalesced(ns string) {
	for _, h := range t {
		h.Coalesced(ns)
	}
}

func (t tee) BackendError(ns, op string, err error) {
	for _, h := range t {
		h.BackendError(ns, op, err)
	}
}

func (t tee) Evicted(ns, reason string) {
	for _, h := range t {
		h.Evicted(ns, reason)
	}
}

func (t tee) Invalidation(ns string, applied bool) {
	for _, h := range t {
		h.Invalidation(ns, applied)
	}
}

func (t tee) SubscriptionLost(ns string, err error) {
	for _, h := range t {
		h.SubscriptionLost(ns, err)
	}
}

func (t tee) SubscriptionRestored(ns string, downtime time.Duration) {
	for _, h := range t {
		h.SubscriptionRestored(ns, downtime)
	}
}

func (t tee) Resynced(ns string, checked, changed int) {
	for _, h := range t {
		h.Resynced(ns, checked, changed)
	}
}
