package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "nearcached.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Nodes, 3)
	assert.Equal(t, "127.0.0.1:8001", cfg.Nodes[0].Listen)
	assert.Equal(t, []SeedEntry{{Namespace: "cache", Key: "string", Value: "string-value"}}, cfg.Seed)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	p := writeFile(t, `
nodes:
  - name: a
    listen: 127.0.0.1:9001
backend:
  kind: redis
  redis:
    addr: redis:6379
    db: 2
fetch_timeout: 750ms
namespaces:
  - name: users
    max_entries: 500
    max_age: 30s
    distrust_while_disconnected: true
seed: []
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, []Node{{Name: "a", Listen: "127.0.0.1:9001"}}, cfg.Nodes)
	assert.Equal(t, "redis", cfg.Backend.Kind)
	assert.Equal(t, "redis:6379", cfg.Backend.Redis.Addr)
	assert.Equal(t, 2, cfg.Backend.Redis.DB)
	assert.Equal(t, 15*time.Second, cfg.Backend.Redis.HealthCheck, "untouched nested default kept")
	assert.Equal(t, 750*time.Millisecond, cfg.FetchTimeout)
	require.Len(t, cfg.Namespaces, 1)
	assert.Equal(t, Namespace{Name: "users", MaxEntries: 500, MaxAge: 30 * time.Second, DistrustWhileDisconnected: true}, cfg.Namespaces[0])
	assert.Empty(t, cfg.Seed)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "fetch_timout: 1s\n")
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch_timout")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NEARCACHE_BACKEND_KIND", "redis")
	t.Setenv("NEARCACHE_REDIS_ADDR", "10.0.0.5:6380")
	t.Setenv("NEARCACHE_LOG_DRIVER", "logrus")
	t.Setenv("NEARCACHE_NODES", "east=0.0.0.0:7001, 0.0.0.0:7002")
	t.Setenv("NEARCACHE_METRICS_ENABLED", "false")
	t.Setenv("NEARCACHE_WRITE_TIMEOUT", "3s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Backend.Kind)
	assert.Equal(t, "10.0.0.5:6380", cfg.Backend.Redis.Addr)
	assert.Equal(t, "logrus", cfg.Logging.Driver)
	assert.Equal(t, []Node{{Name: "east", Listen: "0.0.0.0:7001"}, {Name: "node2", Listen: "0.0.0.0:7002"}}, cfg.Nodes)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout)
}

func TestEnvParseErrors(t *testing.T) {
	t.Setenv("NEARCACHE_FETCH_TIMEOUT", "soon")
	t.Setenv("NEARCACHE_BREAKER_ENABLED", "maybe")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NEARCACHE_FETCH_TIMEOUT")
	assert.Contains(t, err.Error(), "NEARCACHE_BREAKER_ENABLED")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"no nodes", func(c *Config) { c.Nodes = nil }, "nodes is required"},
		{"bad listen", func(c *Config) { c.Nodes[0].Listen = "localhost" }, "nodes[0].listen must be host:port"},
		{"duplicate listen", func(c *Config) { c.Nodes[1].Listen = c.Nodes[0].Listen }, "unique Listen"},
		{"duplicate namespace", func(c *Config) {
			c.Namespaces = append(c.Namespaces, Namespace{Name: "cache"})
		}, "unique Name"},
		{"namespace with colon", func(c *Config) { c.Namespaces[0].Name = "a:b" }, "namespaces[0].name"},
		{"bad driver", func(c *Config) { c.Logging.Driver = "glog" }, "logging.driver must be one of"},
		{"bad engine", func(c *Config) { c.Backend.Memory.Engine = "lru" }, "backend.memory.engine"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"max below initial", func(c *Config) { c.Reconnect.MaxInterval = time.Millisecond }, "reconnect.max_interval"},
		{"threshold above one", func(c *Config) { c.Backend.Breaker.FailureThreshold = 1.5 }, "backend.breaker.failure_threshold"},
		{"redis without addr", func(c *Config) {
			c.Backend.Kind = "redis"
			c.Backend.Redis.Addr = ""
		}, "backend.redis.addr is required"},
		{"seed unknown namespace", func(c *Config) { c.Seed[0].Namespace = "users" }, `unknown namespace "users"`},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
		{"empty cors origin", func(c *Config) { c.HTTP.CORSOrigins = []string{""} }, "http.cors_origins[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "cmd", "nearcached", "nearcache.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
