package codec

import (
	"errors"
	"fmt"
)

var ErrTooLarge = errors.New("codec: payload too large")

// Limit wraps another codec to enforce a maximum payload size in both directions.
// Values written through a near cache land in every node's memory, so an oversized
// value is refused at Encode as well as at Decode.
// If Max <= 0, size limiting is disabled.
type Limit[V any] struct {
	Inner Codec[V]
	Max   int
}

var _ Codec[string] = Limit[string]{}

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.Max > 0 && len(b) > c.Max {
		return nil, fmt.Errorf("%w: encoded %d > %d", ErrTooLarge, len(b), c.Max)
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.Max > 0 && len(b) > c.Max {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.Max)
	}
	return c.Inner.Decode(b)
}
