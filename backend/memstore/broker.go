package memstore

import (
	"errors"
	"sync"

	"github.com/unkn0wn-root/nearcache/backend"
)

var errSlowConsumer = errors.New("memstore: subscriber buffer full")

type broker struct {
	mu     sync.RWMutex
	buffer int
	subs   map[string]map[*subscription]struct{}
}

func newBroker(buffer int) *broker {
	return &broker{buffer: buffer, subs: make(map[string]map[*subscription]struct{})}
}

func (b *broker) subscribe(ns string) *subscription {
	sub := &subscription{ns: ns, b: b, ch: make(chan backend.Event, b.buffer)}
	b.mu.Lock()
	set, ok := b.subs[ns]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[ns] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// publish never blocks the writer: a subscriber that cannot keep up is cut off and
// has to resync.
func (b *broker) publish(ev backend.Event) {
	var slow []*subscription
	b.mu.RLock()
	for sub := range b.subs[ev.Namespace] {
		if !sub.offer(ev) {
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()
	for _, sub := range slow {
		sub.fail(errSlowConsumer)
	}
}

func (b *broker) remove(sub *subscription) {
	b.mu.Lock()
	if set, ok := b.subs[sub.ns]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.ns)
		}
	}
	b.mu.Unlock()
}

func (b *broker) drop(ns string, err error) int {
	b.mu.RLock()
	victims := make([]*subscription, 0, len(b.subs[ns]))
	for sub := range b.subs[ns] {
		victims = append(victims, sub)
	}
	b.mu.RUnlock()
	for _, sub := range victims {
		sub.fail(err)
	}
	return len(victims)
}

func (b *broker) dropAll(err error) {
	b.mu.RLock()
	var victims []*subscription
	for _, set := range b.subs {
		for sub := range set {
			victims = append(victims, sub)
		}
	}
	b.mu.RUnlock()
	for _, sub := range victims {
		sub.fail(err)
	}
}

func (b *broker) count(ns string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ns])
}

type subscription struct {
	ns string
	b  *broker
	ch chan backend.Event

	mu   sync.Mutex
	done bool
	err  error
}

var _ backend.Subscription = (*subscription)(nil)

func (s *subscription) offer(ev backend.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	if err != nil && !errors.Is(err, backend.ErrSubscriptionLost) {
		err = errors.Join(backend.ErrSubscriptionLost, err)
	}
	s.err = err
	close(s.ch)
	s.mu.Unlock()
	s.b.remove(s)
}

func (s *subscription) Events() <-chan backend.Event { return s.ch }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.fail(nil)
	return nil
}
