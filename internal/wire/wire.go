package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	formatVersion byte = 1
	kindRecord    byte = 1

	recordHeader = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("nearcache: corrupt record")
	magic4     = [...]byte{'N', 'C', 'R', 'D'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Record: magic(4) | fmt(1) | kind(1) | version(u64 be) | vlen(u32 be) | payload(vlen)
func EncodeRecord(version uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(recordHeader + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(formatVersion)
	buf.WriteByte(kindRecord)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], version)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeRecord returns the version and payload of b. The payload aliases b.
// Trailing bytes are rejected.
func DecodeRecord(b []byte) (version uint64, payload []byte, err error) {
	if len(b) < recordHeader || !hasMagic(b) || b[4] != formatVersion || b[5] != kindRecord {
		return 0, nil, ErrCorrupt
	}

	off := 6
	version = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return 0, nil, ErrCorrupt
	}
	return version, b[off : off+vlen], nil
}
