package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/nearcache/backend"
)

// subscription reads the channel itself instead of using PubSub.Channel: the
// built-in channel reconnects silently, and events published while it reconnects
// would be lost without the listener knowing it has to resync.
type subscription struct {
	ns     string
	ps     *goredis.PubSub
	ch     chan backend.Event
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	err     error
	closing bool
	once    sync.Once
}

var _ backend.Subscription = (*subscription)(nil)

func newSubscription(ns string, ps *goredis.PubSub, buffer int, healthCheck time.Duration) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		ns:     ns,
		ps:     ps,
		ch:     make(chan backend.Event, buffer),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.receive()
	go s.ping(healthCheck)
	return s
}

func (s *subscription) receive() {
	defer close(s.ch)
	for {
		msg, err := s.ps.ReceiveMessage(s.ctx)
		if err != nil {
			s.stop(err)
			return
		}
		ev, err := parseEvent(s.ns, msg.Payload)
		if err != nil {
			// a key we cannot identify may be stale anywhere; force a resync
			s.stop(err)
			return
		}
		select {
		case s.ch <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *subscription) ping(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ctx, cancel := context.WithTimeout(s.ctx, every)
			err := s.ps.Ping(ctx)
			cancel()
			if err != nil && s.ctx.Err() == nil {
				s.stop(fmt.Errorf("health check: %w", err))
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// stop records the first failure and tears the stream down.
func (s *subscription) stop(err error) {
	s.mu.Lock()
	if s.err == nil && !s.closing && err != nil {
		s.err = errors.Join(backend.ErrSubscriptionLost, err)
	}
	s.mu.Unlock()
	s.once.Do(func() {
		s.cancel()
		_ = s.ps.Close()
	})
}

func (s *subscription) Events() <-chan backend.Event { return s.ch }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stop(nil)
	return nil
}

func parseEvent(ns, payload string) (backend.Event, error) {
	cause, rest, ok := strings.Cut(payload, ":")
	if !ok {
		return backend.Event{}, fmt.Errorf("malformed event %q", payload)
	}
	rawVersion, key, ok := strings.Cut(rest, ":")
	if !ok || key == "" {
		return backend.Event{}, fmt.Errorf("malformed event %q", payload)
	}
	v, err := strconv.ParseUint(rawVersion, 10, 64)
	if err != nil {
		return backend.Event{}, fmt.Errorf("malformed event version %q: %w", payload, err)
	}
	ev := backend.Event{Namespace: ns, Key: key, Version: v}
	switch cause {
	case "u":
		ev.Cause = backend.Update
	case "d":
		ev.Cause = backend.Delete
	default:
		return backend.Event{}, fmt.Errorf("malformed event cause %q", payload)
	}
	return ev, nil
}
