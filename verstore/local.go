package verstore

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	Version   uint64
	UpdatedAt time.Time
}

// Local keeps version counters in-process.
// Optional cleanup loop to prune long-inactive counters. A pruned counter restarts
// at 0, so callers that need strict monotonicity across deletes must disable it.
type Local struct {
	mu     sync.RWMutex
	vers   map[string]localEntry
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ Store = (*Local)(nil)

func NewLocal(cleanupInterval, retention time.Duration) *Local {
	s := &Local{vers: make(map[string]localEntry)}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Current(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	e, ok := s.vers[k]
	s.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	return e.Version, nil
}

// CurrentMany acquires the read lock once and reads all requested keys.
func (s *Local) CurrentMany(_ context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	s.mu.RLock()
	for _, k := range ks {
		out[k] = s.vers[k].Version
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *Local) Bump(_ context.Context, k string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	e := s.vers[k]
	e.Version++
	e.UpdatedAt = now
	s.vers[k] = e
	s.mu.Unlock()
	return e.Version, nil
}

func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.vers {
		if !e.UpdatedAt.IsZero() && e.UpdatedAt.Before(cutoff) {
			delete(s.vers, k)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
	})
	return nil
}
