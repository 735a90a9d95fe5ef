package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

var errNoCtor = errors.New("codec: protobuf codec built without NewProtobuf")

// Protobuf encodes proto messages in the binary wire format. Construct with
// NewProtobuf; Decode allocates through the constructor so every call returns a
// fresh message.
type Protobuf[T proto.Message] struct {
	new func() T // constructor for a concrete message (e.g., func() *mypb.User { return &mypb.User{} })
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}
func (c Protobuf[T]) Decode(b []byte) (T, error) {
	if c.new == nil {
		var zero T
		return zero, errNoCtor
	}
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}
