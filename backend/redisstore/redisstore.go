// Package redisstore is a backend.Store on Redis.
//
// Layout per (namespace, key), with prefix "nc":
//
//	nc:{<ns>:<key>}       hash {v: version, p: payload}
//	nc:ver:{<ns>:<key>}   version counter (verstore.Redis)
//	nc:inv:<ns>           pub/sub channel carrying invalidations
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/nearcache/backend"
	"github.com/unkn0wn-root/nearcache/verstore"
)

var ErrNilClient = errors.New("redisstore: nil client")

const (
	defaultPrefix      = "nc"
	defaultHealthCheck = 15 * time.Second
	defaultBuffer      = 1024
)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client

	Prefix      string        // "" => "nc"
	TTL         time.Duration // record expiry; 0 => none. Version counters never expire.
	HealthCheck time.Duration // pub/sub PING interval; 0 => 15s
	Buffer      int           // per-subscription event buffer; 0 => 1024
}

type Store struct {
	rdb         goredis.UniversalClient
	vers        *verstore.Redis
	closeClient bool
	prefix      string
	ttl         time.Duration
	healthCheck time.Duration
	buffer      int
}

var _ backend.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	s := &Store{
		rdb:         cfg.Client,
		closeClient: cfg.CloseClient,
		prefix:      cfg.Prefix,
		ttl:         cfg.TTL,
		healthCheck: cfg.HealthCheck,
		buffer:      cfg.Buffer,
	}
	if s.prefix == "" {
		s.prefix = defaultPrefix
	}
	if s.healthCheck <= 0 {
		s.healthCheck = defaultHealthCheck
	}
	if s.buffer <= 0 {
		s.buffer = defaultBuffer
	}
	// the store closes the client itself; the counter store only borrows it
	s.vers = verstore.NewRedis(cfg.Client, s.prefix+":ver", false)
	return s, nil
}

func tag(ns, key string) string { return "{" + ns + ":" + key + "}" }

func (s *Store) recordKey(ns, key string) string { return s.prefix + ":" + tag(ns, key) }
func (s *Store) versionKey(ns, key string) string {
	return s.vers.Key(tag(ns, key))
}
func (s *Store) channel(ns string) string { return s.prefix + ":inv:" + ns }

func (s *Store) ttlMillis() int64 {
	if s.ttl <= 0 {
		return 0
	}
	return s.ttl.Milliseconds()
}

func (s *Store) Get(ctx context.Context, ns, key string) (backend.Record, error) {
	vals, err := s.rdb.HMGet(ctx, s.recordKey(ns, key), "v", "p").Result()
	if err != nil {
		return backend.Record{}, err
	}
	if len(vals) != 2 || vals[0] == nil {
		return backend.Record{}, backend.ErrNotFound
	}
	return decodeRecord(vals[0], vals[1])
}

func (s *Store) Put(ctx context.Context, ns, key string, value []byte) (uint64, error) {
	keys := []string{s.recordKey(ns, key), s.versionKey(ns, key)}
	v, err := putScript.Run(ctx, s.rdb, keys, value, s.channel(ns), key, s.ttlMillis()).Uint64()
	if err != nil {
		return 0, fmt.Errorf("redisstore: put %q: %w", key, err)
	}
	return v, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, ns, key string, value []byte) (backend.Record, bool, error) {
	keys := []string{s.recordKey(ns, key), s.versionKey(ns, key)}
	res, err := putIfAbsentScript.Run(ctx, s.rdb, keys, value, s.channel(ns), key, s.ttlMillis()).Slice()
	if err != nil {
		return backend.Record{}, false, fmt.Errorf("redisstore: put-if-absent %q: %w", key, err)
	}
	if len(res) != 3 {
		return backend.Record{}, false, fmt.Errorf("redisstore: put-if-absent %q: unexpected reply %v", key, res)
	}
	created, ok := res[0].(int64)
	if !ok {
		return backend.Record{}, false, fmt.Errorf("redisstore: put-if-absent %q: unexpected flag %T", key, res[0])
	}
	rec, err := decodeRecord(res[1], res[2])
	if err != nil {
		return backend.Record{}, false, err
	}
	return rec, created == 1, nil
}

func (s *Store) Delete(ctx context.Context, ns, key string) (uint64, error) {
	keys := []string{s.recordKey(ns, key), s.versionKey(ns, key)}
	v, err := deleteScript.Run(ctx, s.rdb, keys, s.channel(ns), key).Uint64()
	if err != nil {
		return 0, fmt.Errorf("redisstore: delete %q: %w", key, err)
	}
	return v, nil
}

func (s *Store) Versions(ctx context.Context, ns string, ks []string) (map[string]uint64, error) {
	cmds := make([]*goredis.StringCmd, len(ks))
	_, err := s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, k := range ks {
			cmds[i] = p.HGet(ctx, s.recordKey(ns, k), "v")
		}
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redisstore: versions: %w", err)
	}
	out := make(map[string]uint64, len(ks))
	for i, k := range ks {
		v, err := cmds[i].Uint64()
		switch {
		case errors.Is(err, goredis.Nil):
			out[k] = 0
		case err != nil:
			return nil, fmt.Errorf("redisstore: version of %q: %w", k, err)
		default:
			out[k] = v
		}
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, ns string) (backend.Subscription, error) {
	ps := s.rdb.Subscribe(ctx, s.channel(ns))
	// wait for the confirmation so no event published after return is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redisstore: subscribe %q: %w", ns, err)
	}
	return newSubscription(ns, ps, s.buffer, s.healthCheck), nil
}

// Close releases the underlying client only when this store owns it.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func decodeRecord(rawVersion, rawPayload any) (backend.Record, error) {
	vs, ok := rawVersion.(string)
	if !ok {
		return backend.Record{}, fmt.Errorf("redisstore: unexpected version type %T", rawVersion)
	}
	v, err := strconv.ParseUint(vs, 10, 64)
	if err != nil {
		return backend.Record{}, fmt.Errorf("redisstore: version parse: %w", err)
	}
	var payload []byte
	switch p := rawPayload.(type) {
	case string:
		payload = []byte(p)
	case nil:
		payload = []byte{}
	default:
		return backend.Record{}, fmt.Errorf("redisstore: unexpected payload type %T", rawPayload)
	}
	return backend.Record{Value: payload, Version: v}, nil
}
