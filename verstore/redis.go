package verstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares version counters across processes and survives restarts.
// Counters carry no TTL: an expired counter would restart at 0 and let an old
// invalidation look newer than a fresh write.
type Redis struct {
	rdb         redis.UniversalClient
	prefix      string
	closeClient bool
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis-backed counter store. Keys are "<prefix>:<storageKey>".
// Set closeClient only if this store exclusively owns the client.
func NewRedis(client redis.UniversalClient, prefix string, closeClient bool) *Redis {
	return &Redis{rdb: client, prefix: prefix, closeClient: closeClient}
}

// Key returns the Redis key holding the counter of storageKey. Scripts that bump
// counters server-side must use it so Current observes their writes.
func (s *Redis) Key(storageKey string) string { return s.prefix + ":" + storageKey }

func (s *Redis) Current(ctx context.Context, storageKey string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.Key(storageKey)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis version parse: %w", err)
	}
	return u, nil
}

// CurrentMany reads all counters with one MGET. Missing keys map to 0.
func (s *Redis) CurrentMany(ctx context.Context, storageKeys []string) (map[string]uint64, error) {
	if len(storageKeys) == 0 {
		return map[string]uint64{}, nil
	}
	keys := make([]string, len(storageKeys))
	for i, k := range storageKeys {
		keys[i] = s.Key(k)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]uint64, len(storageKeys))
	for i, v := range vals {
		var str string
		switch vv := v.(type) {
		case nil:
			out[storageKeys[i]] = 0
			continue
		case string:
			str = vv
		case []byte:
			str = string(vv)
		default:
			str = fmt.Sprint(vv)
		}
		u, err := strconv.ParseUint(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis version parse at %s: %w", storageKeys[i], err)
		}
		out[storageKeys[i]] = u
	}
	return out, nil
}

func (s *Redis) Bump(ctx context.Context, storageKey string) (uint64, error) {
	return s.rdb.Incr(ctx, s.Key(storageKey)).Uint64()
}

// Cleanup is not applicable; counters are kept forever.
func (s *Redis) Cleanup(time.Duration) {}

// Close closes the client only when this store owns it.
func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return err
		}
	}
	return nil
}
