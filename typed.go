package nearcache

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/nearcache/codec"
)

// Typed binds one namespace of a Cache to a value type.
type Typed[V any] struct {
	cache Cache
	ns    string
	codec codec.Codec[V]
}

func NewTyped[V any](c Cache, ns string, cd codec.Codec[V]) (*Typed[V], error) {
	if c == nil {
		return nil, fmt.Errorf("nearcache: cache is required")
	}
	if cd == nil {
		return nil, fmt.Errorf("nearcache: codec is required")
	}
	known := false
	for _, n := range c.Namespaces() {
		known = known || n == ns
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}
	return &Typed[V]{cache: c, ns: ns, codec: cd}, nil
}

// Get reads key and decodes it. ErrNotFound and ErrBackendUnavailable pass through.
func (t *Typed[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	raw, err := t.cache.Read(ctx, t.ns, key)
	if err != nil {
		return zero, err
	}
	v, err := t.codec.Decode(raw)
	if err != nil {
		return zero, fmt.Errorf("nearcache: decode %s/%q: %w", t.ns, key, err)
	}
	return v, nil
}

func (t *Typed[V]) Set(ctx context.Context, key string, v V) (uint64, error) {
	raw, err := t.codec.Encode(v)
	if err != nil {
		return 0, fmt.Errorf("nearcache: encode %s/%q: %w", t.ns, key, err)
	}
	return t.cache.Write(ctx, t.ns, key, raw)
}

func (t *Typed[V]) Delete(ctx context.Context, key string) error {
	return t.cache.Delete(ctx, t.ns, key)
}
