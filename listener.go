package nearcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/nearcache/backend"
)

// listen keeps ns subscribed for the coordinator's lifetime: subscribe, resync,
// consume, and on any drop mark the namespace unverified and start over.
func (c *coordinator) listen(sp *namespace) {
	defer c.wg.Done()
	ctx := c.base
	bo := c.reconnect.backOff()
	var lostAt time.Time

	for {
		sub, err := c.store.Subscribe(ctx, sp.name)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("subscribe failed", Fields{"ns": sp.name, "err": err})
			if !sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		if err := c.resync(ctx, sp); err != nil {
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("resync failed", Fields{"ns": sp.name, "err": err})
			if !sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}
		bo.Reset()
		sp.verified.Store(true)
		if !lostAt.IsZero() {
			down := time.Since(lostAt)
			c.hooks.SubscriptionRestored(sp.name, down)
			c.log.Info("invalidation stream restored", Fields{"ns": sp.name, "downtime": down.String()})
		} else {
			c.log.Debug("invalidation stream established", Fields{"ns": sp.name})
		}

		err = c.consume(ctx, sp, sub)
		sp.verified.Store(false)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		lostAt = time.Now()
		if !errors.Is(err, ErrSubscriptionLost) {
			err = fmt.Errorf("%w: %w", ErrSubscriptionLost, err)
		}
		c.hooks.SubscriptionLost(sp.name, err)
		c.log.Warn("invalidation stream lost", Fields{"ns": sp.name, "err": err})
		if !sleep(ctx, bo.NextBackOff()) {
			return
		}
	}
}

var errStreamEnded = errors.New("nearcache: invalidation stream ended")

// consume applies events until the stream ends. It returns nil only when ctx ended.
func (c *coordinator) consume(ctx context.Context, sp *namespace, sub backend.Subscription) error {
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return errStreamEnded
			}
			c.apply(sp, ev)
		}
	}
}

func (c *coordinator) apply(sp *namespace, ev backend.Event) {
	if ev.Namespace != "" && ev.Namespace != sp.name {
		return
	}
	var applied bool
	switch ev.Cause {
	case backend.Delete:
		applied = sp.near.Delete(ev.Key, ev.Version)
	default:
		applied = sp.near.Invalidate(ev.Key, ev.Version)
	}
	c.hooks.Invalidation(sp.name, applied)
}

// resync corrects whatever the near cache missed while the stream was down: entries
// the store moved past are marked Stale, entries the store no longer has are evicted.
func (c *coordinator) resync(ctx context.Context, sp *namespace) error {
	held := sp.near.Keys()
	changed := 0
	for start := 0; start < len(held); start += c.resyncBatch {
		batch := held[start:min(start+c.resyncBatch, len(held))]
		ks := make([]string, len(batch))
		for i, kv := range batch {
			ks[i] = kv.Key
		}

		vctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		current, err := c.store.Versions(vctx, sp.name, ks)
		cancel()
		if err != nil {
			return err
		}

		for _, kv := range batch {
			switch cur := current[kv.Key]; {
			case cur == 0:
				if sp.near.Evict(kv.Key) {
					changed++
				}
			case cur > kv.Version:
				if sp.near.Invalidate(kv.Key, cur) {
					changed++
				}
			}
		}
	}
	c.hooks.Resynced(sp.name, len(held), changed)
	if changed > 0 {
		c.log.Info("resync corrected near entries", Fields{"ns": sp.name, "checked": len(held), "changed": changed})
	}
	return nil
}
