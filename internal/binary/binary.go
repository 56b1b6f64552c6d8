// Package binary replaces ad-hoc encoding/binary call sites with generic
// little-endian Get/Put helpers, mirroring how the wire format itself is
// defined: every integer on the wire, regardless of width, is little-endian.
package binary

import (
	"encoding/binary"

	"golang.org/x/exp/constraints"
)

// Enc is the byte order used everywhere on the wire.
var Enc = binary.LittleEndian

// Get decodes a little-endian integer of type T from the front of b.
// b must be at least as long as T's width.
func Get[T constraints.Integer](b []byte) T {
	var r T
	switch any(r).(type) {
	case int8, uint8:
		return T(b[0])
	case int16, uint16:
		return T(Enc.Uint16(b))
	case int32, uint32:
		return T(Enc.Uint32(b))
	case int64, uint64:
		return T(Enc.Uint64(b))
	default:
		panic("binary: unsupported integer width")
	}
}

// Put encodes v into b in little-endian order. b must be at least as long as
// T's width.
func Put[T constraints.Integer](b []byte, v T) {
	switch any(v).(type) {
	case int8, uint8:
		b[0] = byte(v)
	case int16, uint16:
		Enc.PutUint16(b, uint16(v))
	case int32, uint32:
		Enc.PutUint32(b, uint32(v))
	case int64, uint64:
		Enc.PutUint64(b, uint64(v))
	default:
		panic("binary: unsupported integer width")
	}
}
