// Package config loads the nearcached daemon configuration.
//
// Sources, lowest to highest priority:
//  1. Defaults (Default)
//  2. YAML file (unknown fields are rejected)
//  3. NEARCACHE_* environment variables
//
// The result is validated with go-playground/validator struct tags plus a few
// cross-field checks.
package config

import (
	"time"
)

type Config struct {
	Nodes        []Node        `yaml:"nodes" validate:"required,min=1,unique=Name,unique=Listen,dive"`
	Logging      Logging       `yaml:"logging"`
	HTTP         HTTP          `yaml:"http"`
	Backend      Backend       `yaml:"backend"`
	Retry        Retry         `yaml:"retry"`
	Reconnect    Reconnect     `yaml:"reconnect"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
	Namespaces   []Namespace   `yaml:"namespaces" validate:"required,min=1,unique=Name,dive"`
	Metrics      Metrics       `yaml:"metrics"`
	Seed         []SeedEntry   `yaml:"seed" validate:"dive"`
}

// Node is one coordinator with its own HTTP listener. All nodes of a process share
// the backend.
type Node struct {
	Name   string `yaml:"name" validate:"required,alphanum"`
	Listen string `yaml:"listen" validate:"required,hostname_port"`
}

type Logging struct {
	Driver string `yaml:"driver" validate:"oneof=zap logrus slog"`
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

type HTTP struct {
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" validate:"gt=0"`
	CORSOrigins     []string      `yaml:"cors_origins" validate:"dive,required"`
}

type Backend struct {
	Kind    string        `yaml:"kind" validate:"oneof=memory redis"`
	Prefix  string        `yaml:"prefix" validate:"required,excludesall=:{}"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
	Redis   Redis         `yaml:"redis"`
	Memory  Memory        `yaml:"memory"`
	Breaker Breaker       `yaml:"breaker"`
}

type Redis struct {
	Addr        string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db" validate:"gte=0"`
	HealthCheck time.Duration `yaml:"health_check" validate:"gte=0"`
	Buffer      int           `yaml:"buffer" validate:"gte=0"`
}

type Memory struct {
	Engine    string `yaml:"engine" validate:"oneof=bigcache ristretto"`
	MaxSizeMB int    `yaml:"max_size_mb" validate:"gte=0"`
	Shards    int    `yaml:"shards" validate:"gte=0"`
	Buffer    int    `yaml:"buffer" validate:"gte=0"`
}

type Breaker struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gt=0,lte=1"`
	MinRequests      uint32        `yaml:"min_requests" validate:"gte=1"`
	Interval         time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
}

type Retry struct {
	MaxAttempts     int           `yaml:"max_attempts" validate:"gte=1,lte=20"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64       `yaml:"multiplier" validate:"gte=1"`
}

type Reconnect struct {
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64       `yaml:"multiplier" validate:"gte=1"`
}

type Namespace struct {
	Name                      string        `yaml:"name" validate:"required,excludes=:"`
	MaxEntries                int           `yaml:"max_entries" validate:"gte=0"`
	MaxBytes                  int64         `yaml:"max_bytes" validate:"gte=0"`
	MaxAge                    time.Duration `yaml:"max_age" validate:"gte=0"`
	DistrustWhileDisconnected bool          `yaml:"distrust_while_disconnected"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"startswith=/"`
}

// SeedEntry is written with put-if-absent semantics when the daemon starts.
type SeedEntry struct {
	Namespace string `yaml:"namespace" validate:"required"`
	Key       string `yaml:"key" validate:"required"`
	Value     string `yaml:"value"`
}

// Default mirrors the classic three-node demo: three listeners on localhost sharing
// one "cache" map, seeded with string -> string-value.
func Default() *Config {
	return &Config{
		Nodes: []Node{
			{Name: "node1", Listen: "127.0.0.1:8001"},
			{Name: "node2", Listen: "127.0.0.1:8002"},
			{Name: "node3", Listen: "127.0.0.1:8003"},
		},
		Logging: Logging{Driver: "zap", Level: "info", Format: "json"},
		HTTP: HTTP{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Backend: Backend{
			Kind:   "memory",
			Prefix: "nc",
			Redis:  Redis{Addr: "127.0.0.1:6379", HealthCheck: 15 * time.Second},
			Memory: Memory{Engine: "bigcache", MaxSizeMB: 256, Shards: 64},
			Breaker: Breaker{
				Enabled:          true,
				FailureThreshold: 0.6,
				MinRequests:      5,
				Interval:         time.Minute,
				Timeout:          5 * time.Second,
			},
		},
		Retry: Retry{
			MaxAttempts:     3,
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2,
		},
		Reconnect: Reconnect{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			Multiplier:      2,
		},
		FetchTimeout: 2 * time.Second,
		WriteTimeout: 2 * time.Second,
		Namespaces:   []Namespace{{Name: "cache", MaxEntries: 10000}},
		Metrics:      Metrics{Enabled: true, Path: "/metrics"},
		Seed:         []SeedEntry{{Namespace: "cache", Key: "string", Value: "string-value"}},
	}
}
