package segwire

import (
	"github.com/pkg/errors"

	"github.com/segwire/segwire/internal/bits"
	ibinary "github.com/segwire/segwire/internal/binary"
)

// pointerTag is the low 2 bits of every pointer word (§3).
type pointerTag uint8

const (
	tagStruct pointerTag = 0
	tagList   pointerTag = 1
	tagFar    pointerTag = 2
	tagOther  pointerTag = 3
)

// ElementSize is the 3-bit element-size tag carried by a list pointer.
type ElementSize uint8

const (
	SizeVoid ElementSize = iota
	SizeBit
	SizeByte
	SizeTwoBytes
	SizeFourBytes
	SizeEightBytes
	SizePointer
	SizeInlineComposite
)

// sizeBits returns the per-element bit width for the fixed-width element
// sizes. It panics for SizeInlineComposite, whose element width is
// schema-dependent and encoded via the per-list tag word instead.
func (e ElementSize) sizeBits() uint {
	switch e {
	case SizeVoid:
		return 0
	case SizeBit:
		return 1
	case SizeByte:
		return 8
	case SizeTwoBytes:
		return 16
	case SizeFourBytes:
		return 32
	case SizeEightBytes, SizePointer:
		return 64
	default:
		panic("segwire: sizeBits called on inline-composite element size")
	}
}

// rawPointer is the single-word encoding of any of struct/list/far/other
// pointers (§3).
type rawPointer uint64

func (p rawPointer) tag() pointerTag { return pointerTag(p & 0x3) }
func (p rawPointer) isNull() bool    { return p == 0 }

var (
	offset30Mask  = bits.Mask[uint64](2, 32)
	dataWordsMask = bits.Mask[uint64](32, 48)
	ptrWordsMask  = bits.Mask[uint64](48, 64)

	elemSizeMask  = bits.Mask[uint64](32, 35)
	listCountMask = bits.Mask[uint64](35, 64)

	farOffsetMask = bits.Mask[uint64](3, 32)
	farSegMask    = bits.Mask[uint64](32, 64)

	otherSubtypeMask = bits.Mask[uint64](2, 32)
	otherIndexMask   = bits.Mask[uint64](32, 64)
)

func signExtend(v uint64, width uint) int32 {
	shift := 64 - width
	return int32(int64(v<<shift) >> shift)
}

// --- struct pointers ---

func newStructPointer(offset int32, sz ObjectSize) rawPointer {
	var p uint64
	p = bits.SetValue(tagStruct, p, 0, 2)
	p = bits.SetValue(uint32(offset)&0x3FFFFFFF, p, 2, 32)
	p = bits.SetValue(sz.DataWords, p, 32, 48)
	p = bits.SetValue(sz.PtrWords, p, 48, 64)
	return rawPointer(p)
}

func (p rawPointer) structOffset() int32 {
	return signExtend(bits.GetValue[uint64, uint64](uint64(p), offset30Mask, 2), 30)
}

func (p rawPointer) structSize() ObjectSize {
	return ObjectSize{
		DataWords: bits.GetValue[uint64, uint16](uint64(p), dataWordsMask, 32),
		PtrWords:  bits.GetValue[uint64, uint16](uint64(p), ptrWordsMask, 48),
	}
}

// --- list pointers ---

func newListPointer(offset int32, esz ElementSize, count uint32) rawPointer {
	var p uint64
	p = bits.SetValue(tagList, p, 0, 2)
	p = bits.SetValue(uint32(offset)&0x3FFFFFFF, p, 2, 32)
	p = bits.SetValue(uint8(esz), p, 32, 35)
	p = bits.SetValue(count&0x1FFFFFFF, p, 35, 64)
	return rawPointer(p)
}

func (p rawPointer) listOffset() int32 {
	return signExtend(bits.GetValue[uint64, uint64](uint64(p), offset30Mask, 2), 30)
}

func (p rawPointer) listElemSize() ElementSize {
	return ElementSize(bits.GetValue[uint64, uint8](uint64(p), elemSizeMask, 32))
}

func (p rawPointer) listCount() uint32 {
	return bits.GetValue[uint64, uint32](uint64(p), listCountMask, 35)
}

// --- far pointers ---

func newFarPointer(doubleFar bool, offset Address, seg SegmentID) rawPointer {
	var p uint64
	p = bits.SetValue(tagFar, p, 0, 2)
	p = bits.SetValue(boolToU8(doubleFar), p, 2, 3)
	p = bits.SetValue(uint32(offset)&0x1FFFFFFF, p, 3, 32)
	p = bits.SetValue(uint32(seg), p, 32, 64)
	return rawPointer(p)
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func (p rawPointer) farIsDouble() bool { return bits.GetBit(uint64(p), 2) }
func (p rawPointer) farOffset() Address {
	return Address(bits.GetValue[uint64, uint32](uint64(p), farOffsetMask, 3))
}
func (p rawPointer) farSegment() SegmentID {
	return SegmentID(bits.GetValue[uint64, uint32](uint64(p), farSegMask, 32))
}

// --- other pointers (capabilities) ---

const otherSubtypeCapability = 0

func newCapabilityPointer(index uint32) rawPointer {
	var p uint64
	p = bits.SetValue(tagOther, p, 0, 2)
	p = bits.SetValue(uint32(otherSubtypeCapability), p, 2, 32)
	p = bits.SetValue(index, p, 32, 64)
	return rawPointer(p)
}

func (p rawPointer) otherSubtype() uint32 {
	return bits.GetValue[uint64, uint32](uint64(p), otherSubtypeMask, 2)
}

func (p rawPointer) capabilityIndex() uint32 {
	return bits.GetValue[uint64, uint32](uint64(p), otherIndexMask, 32)
}

// --- raw word IO ---

func readRawPointer(seg *Segment, addr Address) (rawPointer, error) {
	b, err := seg.bytesAt(int64(addr)*8, 8)
	if err != nil {
		return 0, err
	}
	return rawPointer(ibinary.Get[uint64](b)), nil
}

func writeRawPointer(seg *Segment, addr Address, p rawPointer) error {
	b, err := seg.bytesAt(int64(addr)*8, 8)
	if err != nil {
		return err
	}
	ibinary.Put(b, uint64(p))
	return nil
}

// target identifies the fully-resolved location a pointer refers to, after
// following at most one level of far indirection (§4.B).
type target struct {
	seg  *Segment
	addr Address // word address of the value itself (struct data / list data)
	raw  rawPointer
}

// resolvePointer follows a pointer word at (seg, slot) through far
// indirection, returning the segment and address of the actual value plus
// the struct/list/capability raw pointer describing it. It charges no
// budget itself; every caller that lands on a struct or list charges the
// traversal and depth budgets.
func resolvePointer(seg *Segment, slot Address) (target, error) {
	raw, err := readRawPointer(seg, slot)
	if err != nil {
		return target{}, err
	}
	if raw.isNull() {
		return target{seg: seg, addr: slot, raw: raw}, nil
	}
	if raw.tag() != tagFar {
		valueAddr := Address(int64(slot) + 1 + int64(offsetFor(raw)))
		return target{seg: seg, addr: valueAddr, raw: raw}, nil
	}
	return resolveFar(seg, raw)
}

// offsetFor extracts the signed word offset carried by a struct or list
// pointer, the two variants whose low bits after the tag both encode an
// offset at the same position.
func offsetFor(raw rawPointer) int32 {
	if raw.tag() == tagList {
		return raw.listOffset()
	}
	return raw.structOffset()
}

func resolveFar(seg *Segment, raw rawPointer) (target, error) {
	msg := seg.msg
	padSeg, err := msg.Segment(raw.farSegment())
	if err != nil {
		return target{}, errors.Wrap(err, "segwire: far pointer target segment")
	}
	if !raw.farIsDouble() {
		// Single-far: the landing pad word at farOffset() is an ordinary
		// pointer into padSeg whose own offset is relative to pad+1.
		padAddr := raw.farOffset()
		pad, err := readRawPointer(padSeg, padAddr)
		if err != nil {
			return target{}, err
		}
		if pad.tag() == tagFar {
			return target{}, errors.Wrap(ErrInvalidPointerTag, "landing pad must not itself be far")
		}
		valueAddr := Address(int64(padAddr) + 1 + int64(offsetFor(pad)))
		return target{seg: padSeg, addr: valueAddr, raw: pad}, nil
	}

	// Double-far: a two-word landing pad. Word 0 is a far pointer whose
	// offset is the ABSOLUTE word address of the value in its target
	// segment (not relative to pad+1). Word 1 is a tag-only struct/list
	// pointer carrying the value's size/type but with offset 0 (unused).
	padAddr := raw.farOffset()
	farWord, err := readRawPointer(padSeg, padAddr)
	if err != nil {
		return target{}, err
	}
	if farWord.tag() != tagFar || farWord.farIsDouble() {
		return target{}, errors.Wrap(ErrInvalidPointerTag, "double-far word 0 must be a single far pointer")
	}
	tagWord, err := readRawPointer(padSeg, padAddr+1)
	if err != nil {
		return target{}, err
	}
	valueSeg, err := msg.Segment(farWord.farSegment())
	if err != nil {
		return target{}, errors.Wrap(err, "segwire: double-far value segment")
	}
	valueAddr := farWord.farOffset()
	return target{seg: valueSeg, addr: Address(valueAddr), raw: tagWord}, nil
}

// writeFarPointer installs a pointer at (slot seg/addr) that refers to
// content living at (contentSeg, contentAddr), choosing single- or
// double-far landing pad placement per §4.B.
func writeFarPointer(msg *Message, slotSeg *Segment, slotAddr Address, contentSeg *Segment, contentAddr Address, contentTag rawPointer) error {
	padSeg, padAddr, err := msg.allocate(1, contentSeg.ID())
	if err != nil {
		return err
	}
	if padSeg.ID() == contentSeg.ID() {
		// Single-far: the pad is a normal pointer to content, relative to
		// pad+1, living alongside the content.
		rel := int32(int64(contentAddr) - int64(padAddr) - 1)
		pad := retag(contentTag, rel)
		if err := writeRawPointer(padSeg, padAddr, pad); err != nil {
			return err
		}
		return writeRawPointer(slotSeg, slotAddr, newFarPointer(false, padAddr, padSeg.ID()))
	}

	// Preferred segment didn't have room next to the content: fall back to
	// a double-far landing pad, which can live anywhere.
	pad2Seg, pad2Addr, err := msg.allocate(2, slotSeg.ID())
	if err != nil {
		return err
	}
	if err := writeRawPointer(pad2Seg, pad2Addr, newFarPointer(false, contentAddr, contentSeg.ID())); err != nil {
		return err
	}
	tagOnly := retag(contentTag, 0)
	if err := writeRawPointer(pad2Seg, pad2Addr+1, tagOnly); err != nil {
		return err
	}
	return writeRawPointer(slotSeg, slotAddr, newFarPointer(true, pad2Addr, pad2Seg.ID()))
}

// retag rewrites raw's offset field (struct or list) to off, keeping its
// size/type bits, so it can be reused as a landing-pad or tag word.
func retag(raw rawPointer, off int32) rawPointer {
	if raw.tag() == tagList {
		return newListPointer(off, raw.listElemSize(), raw.listCount())
	}
	return newStructPointer(off, raw.structSize())
}
