package nearcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/nearcache/backend"
)

// fakeStore is a scriptable backend.Store: gates, injected errors, silent writes
// that publish nothing, and per-key call counts.
type fakeStore struct {
	mu      sync.Mutex
	data    map[string]backend.Record
	vers    map[string]uint64
	subs    map[string][]*fakeSub
	gets    map[string]int
	gate    chan struct{} // non-nil => Get blocks until closed
	deaf    bool          // gated Gets read first and ignore ctx while blocked
	getErr  error
	putErr  error
	subErr  error
	verErr  error
	aborted atomic.Int32 // Gets that returned because ctx ended
	closed  atomic.Bool
}

var _ backend.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		data: make(map[string]backend.Record),
		vers: make(map[string]uint64),
		subs: make(map[string][]*fakeSub),
		gets: make(map[string]int),
	}
}

func fk(ns, key string) string { return ns + "\x00" + key }

func (f *fakeStore) Get(ctx context.Context, ns, key string) (backend.Record, error) {
	f.mu.Lock()
	f.gets[fk(ns, key)]++
	gate, err, deaf := f.gate, f.getErr, f.deaf
	f.mu.Unlock()

	if gate != nil && deaf {
		rec, rerr := f.lookup(ns, key)
		<-gate
		return rec, rerr
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.aborted.Add(1)
			return backend.Record{}, ctx.Err()
		}
	}
	if err != nil {
		return backend.Record{}, err
	}
	return f.lookup(ns, key)
}

func (f *fakeStore) lookup(ns, key string) (backend.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.data[fk(ns, key)]
	if !ok {
		return backend.Record{}, backend.ErrNotFound
	}
	return backend.Record{Value: append([]byte(nil), rec.Value...), Version: rec.Version}, nil
}

func (f *fakeStore) Put(_ context.Context, ns, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return 0, f.putErr
	}
	return f.putLocked(ns, key, value, true), nil
}

func (f *fakeStore) putLocked(ns, key string, value []byte, publish bool) uint64 {
	k := fk(ns, key)
	f.vers[k]++
	v := f.vers[k]
	f.data[k] = backend.Record{Value: append([]byte(nil), value...), Version: v}
	if publish {
		f.publishLocked(backend.Event{Namespace: ns, Key: key, Version: v, Cause: backend.Update})
	}
	return v
}

func (f *fakeStore) PutIfAbsent(_ context.Context, ns, key string, value []byte) (backend.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return backend.Record{}, false, f.putErr
	}
	if rec, ok := f.data[fk(ns, key)]; ok {
		return rec, false, nil
	}
	v := f.putLocked(ns, key, value, true)
	return f.data[fk(ns, key)], v > 0, nil
}

func (f *fakeStore) Delete(_ context.Context, ns, key string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return 0, f.putErr
	}
	return f.deleteLocked(ns, key, true), nil
}

func (f *fakeStore) deleteLocked(ns, key string, publish bool) uint64 {
	k := fk(ns, key)
	f.vers[k]++
	delete(f.data, k)
	if publish {
		f.publishLocked(backend.Event{Namespace: ns, Key: key, Version: f.vers[k], Cause: backend.Delete})
	}
	return f.vers[k]
}

func (f *fakeStore) Versions(_ context.Context, ns string, ks []string) (map[string]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verErr != nil {
		return nil, f.verErr
	}
	out := make(map[string]uint64, len(ks))
	for _, k := range ks {
		out[k] = 0
		if _, ok := f.data[fk(ns, k)]; ok {
			out[k] = f.vers[fk(ns, k)]
		}
	}
	return out, nil
}

func (f *fakeStore) Subscribe(_ context.Context, ns string) (backend.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	s := &fakeSub{ch: make(chan backend.Event, 64)}
	f.subs[ns] = append(f.subs[ns], s)
	return s, nil
}

func (f *fakeStore) Close(context.Context) error {
	f.closed.Store(true)
	f.drop("", nil)
	return nil
}

func (f *fakeStore) publishLocked(ev backend.Event) {
	for _, s := range f.subs[ev.Namespace] {
		s.send(ev)
	}
}

// publish sends ev as if the store produced it.
func (f *fakeStore) publish(ev backend.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishLocked(ev)
}

// silentPut changes the value without telling subscribers.
func (f *fakeStore) silentPut(ns, key string, value []byte) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putLocked(ns, key, value, false)
}

func (f *fakeStore) silentDelete(ns, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteLocked(ns, key, false)
}

// drop fails every subscription of ns ("" => all) with err.
func (f *fakeStore) drop(ns string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for n, subs := range f.subs {
		if ns != "" && n != ns {
			continue
		}
		for _, s := range subs {
			s.fail(err)
		}
		delete(f.subs, n)
	}
}

func (f *fakeStore) set(fn func(f *fakeStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeStore) getCount(ns, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets[fk(ns, key)]
}

type fakeSub struct {
	mu     sync.Mutex
	ch     chan backend.Event
	err    error
	closed bool
}

func (s *fakeSub) send(ev backend.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.ch <- ev
	}
}

func (s *fakeSub) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if err != nil {
		s.err = errors.Join(backend.ErrSubscriptionLost, err)
	}
	close(s.ch)
}

func (s *fakeSub) Events() <-chan backend.Event { return s.ch }

func (s *fakeSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSub) Close() error {
	s.fail(nil)
	return nil
}
