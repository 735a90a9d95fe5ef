package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const envPrefix = "NEARCACHE_"

// Load builds the configuration from defaults, the YAML file at path (skipped when
// path is empty) and the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decodeYAML(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func decodeYAML(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays NEARCACHE_* variables. NEARCACHE_NODES takes a comma separated
// list of name=host:port (or bare host:port, named node1..N).
func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(envPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("LOG_DRIVER", &cfg.Logging.Driver)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("BACKEND_KIND", &cfg.Backend.Kind)
	str("BACKEND_PREFIX", &cfg.Backend.Prefix)
	str("MEMORY_ENGINE", &cfg.Backend.Memory.Engine)
	str("REDIS_ADDR", &cfg.Backend.Redis.Addr)
	str("REDIS_USERNAME", &cfg.Backend.Redis.Username)
	str("REDIS_PASSWORD", &cfg.Backend.Redis.Password)
	boolean("BREAKER_ENABLED", &cfg.Backend.Breaker.Enabled)
	dur("FETCH_TIMEOUT", &cfg.FetchTimeout)
	dur("WRITE_TIMEOUT", &cfg.WriteTimeout)
	boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)

	if v, ok := lookup(envPrefix + "NODES"); ok {
		nodes, err := parseNodes(v)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.Nodes = nodes
		}
	}
	return errors.Join(errs...)
}

func parseNodes(s string) ([]Node, error) {
	var nodes []Node
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, addr, ok := strings.Cut(part, "=")
		if !ok {
			name, addr = fmt.Sprintf("node%d", i+1), part
		}
		nodes = append(nodes, Node{Name: strings.TrimSpace(name), Listen: strings.TrimSpace(addr)})
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%sNODES: no nodes in %q", envPrefix, s)
	}
	return nodes, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags, then the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	var errs []error
	if c.Backend.Kind == "redis" && c.Backend.Redis.Addr == "" {
		errs = append(errs, errors.New("backend.redis.addr is required for the redis backend"))
	}
	known := make(map[string]bool, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		known[ns.Name] = true
	}
	for _, s := range c.Seed {
		if !known[s.Namespace] {
			errs = append(errs, fmt.Errorf("seed %q: unknown namespace %q", s.Key, s.Namespace))
		}
	}
	return errors.Join(errs...)
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "unique":
		return fmt.Sprintf("%s must have unique %s values", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port, got %q", field, e.Value())
	case "gt", "gte", "lte", "min":
		return fmt.Sprintf("%s must be %s %s", field, e.Tag(), e.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, e.Tag())
	}
}
