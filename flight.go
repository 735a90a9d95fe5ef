package nearcache

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/nearcache/backend"
)

// flight is one store fetch shared by every reader of a key. waiters is guarded by
// the namespace lock; rec and err are written before done is closed.
type flight struct {
	done    chan struct{}
	cancel  context.CancelFunc
	waiters int

	rec backend.Record
	err error
}

// join attaches to the key's running fetch or starts one; leader is true for the
// caller that started it. closed is checked under the namespace lock, which Close
// takes before waiting for fetches.
func (c *coordinator) join(sp *namespace, key string) (f *flight, leader bool, err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if c.closed.Load() {
		return nil, false, ErrClosed
	}
	if f, ok := sp.flights[key]; ok {
		f.waiters++
		return f, false, nil
	}
	fctx, cancel := context.WithCancel(c.base)
	f = &flight{done: make(chan struct{}), cancel: cancel, waiters: 1}
	sp.flights[key] = f
	sp.near.MarkPending(key)

	c.wg.Add(1)
	go c.fetch(fctx, sp, key, f)
	return f, true, nil
}

// detach removes one waiter. The last one to leave cancels the fetch and unregisters
// it so the next reader starts fresh.
func (c *coordinator) detach(sp *namespace, key string, f *flight) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if sp.flights[key] == f {
		delete(sp.flights, key)
	}
	f.cancel()
}

func (c *coordinator) fetch(ctx context.Context, sp *namespace, key string, f *flight) {
	defer c.wg.Done()
	defer f.cancel()

	rec, attempts, err := retry(ctx, c.retry, c.fetchTimeout, func(ctx context.Context) (backend.Record, error) {
		return c.store.Get(ctx, sp.name, key)
	})
	if err != nil {
		err = c.failure(ctx, "get", sp.name, key, attempts, err)
	}
	c.complete(sp, key, f, rec, err)
}

// complete publishes the outcome to waiters and settles the fetch's pin. A fetch
// whose waiters all left only drops its pin: the key may have been deleted since,
// and its result would be installed without the delete's floor.
func (c *coordinator) complete(sp *namespace, key string, f *flight, rec backend.Record, err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.flights[key] != f {
		sp.near.Release(key, false)
	} else {
		delete(sp.flights, key)
		switch {
		case err == nil:
			if !sp.near.Fill(key, rec.Value, rec.Version) {
				c.log.Debug("fetched value not installed as valid", Fields{"ns": sp.name, "key": key, "version": rec.Version})
			}
		case errors.Is(err, ErrNotFound):
			sp.near.Release(key, true)
		default:
			sp.near.Release(key, false)
		}
	}
	f.rec, f.err = rec, err
	close(f.done)
}
