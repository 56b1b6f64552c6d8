// Package bits provides generic bit-packing helpers used to read and write
// the tag fields of pointer words and struct data-section primitives without
// repeating shift-and-mask arithmetic at every call site.
package bits

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// SetValue stores val in store starting at bit start and ending at bit end
// (exclusive), leaving bits outside [start, end) untouched. Panics if
// start >= end.
func SetValue[I, U constraints.Unsigned](val I, store U, start, end uint64) U {
	if start >= end {
		panic("bits: start must be < end")
	}
	mask := Mask[U](start, end)
	cleared := store &^ mask
	return cleared | ((U(val) << start) & mask)
}

// GetValue retrieves the value previously stored with SetValue. bitMask must
// have been built with Mask(start, end) using the same start.
func GetValue[U, U1 constraints.Unsigned](store U, bitMask U, start uint64) U1 {
	return U1((store & bitMask) >> start)
}

// GetBit reports whether the bit at pos is set in store.
func GetBit[U constraints.Unsigned](store U, pos uint8) bool {
	return store&(U(1)<<pos) != 0
}

// SetBit sets or clears the bit at pos in store.
func SetBit[U constraints.Unsigned](store U, pos uint8, val bool) U {
	if val {
		return store | (U(1) << pos)
	}
	return store &^ (U(1) << pos)
}

// ClearBit clears the bit at pos in store.
func ClearBit[U constraints.Unsigned](store U, pos uint8) U {
	return store &^ (U(1) << pos)
}

// Mask builds a mask covering bits [start, end) (end exclusive). Panics if
// start >= end or end is larger than the bit width of U.
func Mask[U constraints.Unsigned](start, end uint64) U {
	var zero U
	size := bitSize(zero)
	if start >= end {
		panic("bits: start must be < end")
	}
	if end > size {
		panic(fmt.Sprintf("bits: end (%d) exceeds type width (%d)", end, size))
	}
	var full U
	full--
	if end == size {
		return full << start
	}
	return (full >> (size - end)) << start
}

func bitSize[U constraints.Unsigned](v U) uint64 {
	switch any(v).(type) {
	case uint8:
		return 8
	case uint16:
		return 16
	case uint32:
		return 32
	case uint64:
		return 64
	default:
		return 64
	}
}
