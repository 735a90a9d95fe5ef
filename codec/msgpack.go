package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack encodes with vmihailenco/msgpack/v5. The zero value uses `msgpack`
// struct tags; set JSONTags to reuse the `json` tags of types that are also
// served as JSON.
type Msgpack[V any] struct {
	JSONTags bool
}

func (m Msgpack[V]) Encode(v V) ([]byte, error) {
	if !m.JSONTags {
		return msgpack.Marshal(v)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	if !m.JSONTags {
		err := msgpack.Unmarshal(b, &v)
		return v, err
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	err := dec.Decode(&v)
	return v, err
}
