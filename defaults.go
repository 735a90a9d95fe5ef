package nearcache

import "time"

const (
	defaultMaxEntries   = 10000
	defaultTimeout      = 2 * time.Second
	defaultResyncBatch  = 256
	defaultMaxAttempts  = 3
	defaultRetryInitial = 50 * time.Millisecond
	defaultRetryMax     = time.Second
	defaultReconInitial = 100 * time.Millisecond
	defaultReconMax     = 10 * time.Second
	defaultMultiplier   = 2.0
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	p.MaxAttempts = coalesce(p.MaxAttempts, defaultMaxAttempts)
	p.InitialInterval = coalesce(p.InitialInterval, defaultRetryInitial)
	p.MaxInterval = coalesce(p.MaxInterval, defaultRetryMax)
	p.Multiplier = coalesce(p.Multiplier, defaultMultiplier)
	return p
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	p.InitialInterval = coalesce(p.InitialInterval, defaultReconInitial)
	p.MaxInterval = coalesce(p.MaxInterval, defaultReconMax)
	p.Multiplier = coalesce(p.Multiplier, defaultMultiplier)
	return p
}
