package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/unkn0wn-root/nearcache"
	"github.com/unkn0wn-root/nearcache/backend"
	"github.com/unkn0wn-root/nearcache/backend/breaker"
	"github.com/unkn0wn-root/nearcache/backend/memstore"
	"github.com/unkn0wn-root/nearcache/backend/redisstore"
	"github.com/unkn0wn-root/nearcache/internal/config"
	pr "github.com/unkn0wn-root/nearcache/provider"
	"github.com/unkn0wn-root/nearcache/provider/bigcache"
	"github.com/unkn0wn-root/nearcache/provider/ristretto"
)

// openStore builds the store shared by every node of this process.
func openStore(ctx context.Context, cfg config.Backend, log nearcache.Logger, reg prometheus.Registerer) (backend.Store, error) {
	var (
		st  backend.Store
		err error
	)
	switch cfg.Kind {
	case "redis":
		st, err = openRedis(ctx, cfg)
	default:
		st, err = openMemory(ctx, cfg, reg)
	}
	if err != nil {
		return nil, err
	}
	log.Info("store opened", nearcache.Fields{"kind": cfg.Kind, "prefix": cfg.Prefix})
	if !cfg.Breaker.Enabled {
		return st, nil
	}

	bc := breaker.DefaultConfig("store-" + cfg.Kind)
	bc.FailureThreshold = cfg.Breaker.FailureThreshold
	bc.MinRequests = cfg.Breaker.MinRequests
	bc.Interval = cfg.Breaker.Interval
	bc.Timeout = cfg.Breaker.Timeout
	bc.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn("breaker state changed", nearcache.Fields{
			"breaker": name, "from": from.String(), "to": to.String(),
		})
	}
	wrapped, err := breaker.New(st, bc)
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}
	return wrapped, nil
}

func openRedis(ctx context.Context, cfg config.Backend) (backend.Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}
	st, err := redisstore.New(redisstore.Config{
		Client:      rdb,
		CloseClient: true,
		Prefix:      cfg.Prefix,
		TTL:         cfg.TTL,
		HealthCheck: cfg.Redis.HealthCheck,
		Buffer:      cfg.Redis.Buffer,
	})
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return st, nil
}

func openMemory(ctx context.Context, cfg config.Backend, reg prometheus.Registerer) (backend.Store, error) {
	var (
		p   pr.Provider
		err error
	)
	switch cfg.Memory.Engine {
	case "ristretto":
		maxCost := int64(cfg.Memory.MaxSizeMB) << 20
		if maxCost <= 0 {
			maxCost = 256 << 20
		}
		var rp *ristretto.Provider
		rp, err = ristretto.New(ristretto.Config{
			NumCounters: 1e6,
			MaxCost:     maxCost,
			BufferItems: 64,
			Metrics:     reg != nil,
		})
		if err == nil && reg != nil {
			if err = registerRistretto(reg, rp); err != nil {
				_ = rp.Close(ctx)
			}
		}
		p = rp
	default:
		p, err = bigcache.New(ctx, bigcache.Config{
			LifeWindow:         cfg.TTL,
			CleanWindow:        cleanWindow(cfg),
			Shards:             cfg.Memory.Shards,
			MaxEntriesInWindow: 10000,
			MaxEntrySize:       512,
			HardMaxCacheSizeMB: cfg.Memory.MaxSizeMB,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("memory store (%s): %w", cfg.Memory.Engine, err)
	}
	st, err := memstore.New(memstore.Config{
		Provider: p,
		TTL:      cfg.TTL,
		Prefix:   cfg.Prefix,
		Buffer:   cfg.Memory.Buffer,
	})
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	return st, nil
}

func cleanWindow(cfg config.Backend) (d time.Duration) {
	if cfg.TTL > 0 {
		d = cfg.TTL / 2
	}
	return d
}

// registerRistretto exports the memory store's admission counters.
func registerRistretto(reg prometheus.Registerer, p *ristretto.Provider) error {
	m := p.Metrics()
	cs := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "nearcache", Subsystem: "store", Name: "ristretto_hit_ratio",
			Help: "Hit ratio of the in-process store.",
		}, m.Ratio),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "nearcache", Subsystem: "store", Name: "ristretto_keys_added_total",
			Help: "Keys admitted by the in-process store.",
		}, func() float64 { return float64(m.KeysAdded()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "nearcache", Subsystem: "store", Name: "ristretto_keys_evicted_total",
			Help: "Keys evicted from the in-process store. Evicted records read as missing.",
		}, func() float64 { return float64(m.KeysEvicted()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "nearcache", Subsystem: "store", Name: "ristretto_sets_rejected_total",
			Help: "Writes rejected by the in-process store admission policy.",
		}, func() float64 { return float64(m.SetsRejected()) }),
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
