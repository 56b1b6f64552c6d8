package segwire

import (
	"math"

	"github.com/pkg/errors"

	"github.com/segwire/segwire/internal/bits"
	ibinary "github.com/segwire/segwire/internal/binary"
)

// StructReader is a read-only typed view over a struct's data and pointer
// sections (§3, §4.C). The zero value reads as an all-default, zero-size
// struct, matching the "default equivalence" invariant in §8.
type StructReader struct {
	seg       *Segment
	dataAddr  Address
	dataWords uint16
	ptrWords  uint16
	depth     uint
}

// StructBuilder is a writable view over the same layout. Fields beyond the
// struct's current data/pointer section size cannot be addressed; callers
// size structs up front via ObjectSize, matching how compiled schemas fix
// struct layout ahead of time.
type StructBuilder struct {
	seg       *Segment
	msg       *Message
	dataAddr  Address
	dataWords uint16
	ptrWords  uint16
}

// Size reports the struct's data/pointer section sizes.
func (r StructReader) Size() ObjectSize  { return ObjectSize{r.dataWords, r.ptrWords} }
func (b StructBuilder) Size() ObjectSize { return ObjectSize{b.dataWords, b.ptrWords} }

// IsValid reports whether the struct reader resolved to real content
// (false for a null pointer / missing field, per §8's default-equivalence
// invariant — getters on it still return schema defaults).
func (r StructReader) IsValid() bool { return r.seg != nil }

func (r StructReader) dataBytes() []byte {
	if r.seg == nil {
		return nil
	}
	b, _ := r.seg.bytesAt(int64(r.dataAddr)*8, int64(r.dataWords)*8)
	return b
}

func (b StructBuilder) dataBytes() []byte {
	raw, _ := b.seg.bytesAt(int64(b.dataAddr)*8, int64(b.dataWords)*8)
	return raw
}

// --- struct decode/encode entry points used by Message and by list.go ---

func readStruct(seg *Segment, ptrAddr Address, depth uint) (StructReader, error) {
	if depth == 0 {
		return StructReader{}, ErrNestingLimitExceeded
	}
	t, err := resolvePointer(seg, ptrAddr)
	if err != nil {
		return StructReader{}, err
	}
	if t.raw.isNull() {
		return StructReader{}, nil
	}
	if t.raw.tag() != tagStruct {
		return StructReader{}, errors.Wrapf(ErrInvalidPointerTag, "expected struct pointer, got tag %d", t.raw.tag())
	}
	sz := t.raw.structSize()
	if err := t.seg.msg.chargeTraversal(sz.Total()); err != nil {
		return StructReader{}, err
	}
	if _, err := t.seg.bytesAt(int64(t.addr)*8, int64(sz.Total())*8); err != nil {
		return StructReader{}, err
	}
	return StructReader{seg: t.seg, dataAddr: t.addr, dataWords: sz.DataWords, ptrWords: sz.PtrWords, depth: depth - 1}, nil
}

func initStructField(seg *Segment, ptrAddr Address, sz ObjectSize) (StructBuilder, error) {
	msg := seg.msg
	contentSeg, contentAddr, err := msg.allocate(sz.Total(), seg.ID())
	if err != nil {
		return StructBuilder{}, err
	}
	rawTag := newStructPointer(0, sz)
	if contentSeg.ID() == seg.ID() {
		rel := int32(int64(contentAddr) - int64(ptrAddr) - 1)
		if err := writeRawPointer(seg, ptrAddr, newStructPointer(rel, sz)); err != nil {
			return StructBuilder{}, err
		}
	} else {
		if err := writeFarPointer(msg, seg, ptrAddr, contentSeg, contentAddr, rawTag); err != nil {
			return StructBuilder{}, err
		}
	}
	return StructBuilder{seg: contentSeg, msg: msg, dataAddr: contentAddr, dataWords: sz.DataWords, ptrWords: sz.PtrWords}, nil
}

// AsReader returns a read-only view of the builder's content sharing the
// same storage (§4.C, "as_reader").
func (b StructBuilder) AsReader() StructReader {
	return StructReader{seg: b.seg, dataAddr: b.dataAddr, dataWords: b.dataWords, ptrWords: b.ptrWords, depth: defaultDepthLimit}
}

// --- raw data-section primitives (byte/bit addressed, unmasked; default
// application is the typed accessor layer's job, per §4.G) ---

func (r StructReader) Uint8(off uint16) uint8 {
	d := r.dataBytes()
	if int(off) >= len(d) {
		return 0
	}
	return d[off]
}

func (r StructReader) Uint16(off uint16) uint16 {
	d := r.dataBytes()
	if int(off)+2 > len(d) {
		return 0
	}
	return ibinary.Get[uint16](d[off:])
}

func (r StructReader) Uint32(off uint16) uint32 {
	d := r.dataBytes()
	if int(off)+4 > len(d) {
		return 0
	}
	return ibinary.Get[uint32](d[off:])
}

func (r StructReader) Uint64(off uint16) uint64 {
	d := r.dataBytes()
	if int(off)+8 > len(d) {
		return 0
	}
	return ibinary.Get[uint64](d[off:])
}

// Bool reads the single bit at absolute bit offset bitOff within the data
// section (§4.C: "Bool getters address individual bits").
func (r StructReader) Bool(bitOff uint32) bool {
	d := r.dataBytes()
	byteOff := bitOff / 8
	if int(byteOff) >= len(d) {
		return false
	}
	return bits.GetBit(d[byteOff], uint8(bitOff%8))
}

func (b StructBuilder) SetUint8(off uint16, v uint8) {
	d := b.dataBytes()
	if int(off) < len(d) {
		d[off] = v
	}
}

func (b StructBuilder) SetUint16(off uint16, v uint16) {
	d := b.dataBytes()
	if int(off)+2 <= len(d) {
		ibinary.Put(d[off:], v)
	}
}

func (b StructBuilder) SetUint32(off uint16, v uint32) {
	d := b.dataBytes()
	if int(off)+4 <= len(d) {
		ibinary.Put(d[off:], v)
	}
}

func (b StructBuilder) SetUint64(off uint16, v uint64) {
	d := b.dataBytes()
	if int(off)+8 <= len(d) {
		ibinary.Put(d[off:], v)
	}
}

func (b StructBuilder) SetBool(bitOff uint32, v bool) {
	d := b.dataBytes()
	byteOff := bitOff / 8
	if int(byteOff) < len(d) {
		d[byteOff] = bits.SetBit(d[byteOff], uint8(bitOff%8), v)
	}
}

// --- signed/float convenience wrappers used by generated accessors ---

func (r StructReader) Int8(off uint16) int8   { return int8(r.Uint8(off)) }
func (r StructReader) Int16(off uint16) int16 { return int16(r.Uint16(off)) }
func (r StructReader) Int32(off uint16) int32 { return int32(r.Uint32(off)) }
func (r StructReader) Int64(off uint16) int64 { return int64(r.Uint64(off)) }

func (b StructBuilder) SetInt8(off uint16, v int8)   { b.SetUint8(off, uint8(v)) }
func (b StructBuilder) SetInt16(off uint16, v int16) { b.SetUint16(off, uint16(v)) }
func (b StructBuilder) SetInt32(off uint16, v int32) { b.SetUint32(off, uint32(v)) }
func (b StructBuilder) SetInt64(off uint16, v int64) { b.SetUint64(off, uint64(v)) }

func (r StructReader) Float32(off uint16) float32 { return math.Float32frombits(r.Uint32(off)) }
func (r StructReader) Float64(off uint16) float64 { return math.Float64frombits(r.Uint64(off)) }

func (b StructBuilder) SetFloat32(off uint16, v float32) { b.SetUint32(off, math.Float32bits(v)) }
func (b StructBuilder) SetFloat64(off uint16, v float64) { b.SetUint64(off, math.Float64bits(v)) }

// --- pointer section ---

func (r StructReader) ptrSlot(i uint16) (Address, bool) {
	if i >= r.ptrWords || r.seg == nil {
		return 0, false
	}
	return r.dataAddr + Address(r.dataWords) + Address(i), true
}

func (b StructBuilder) ptrSlot(i uint16) (Address, bool) {
	if i >= b.ptrWords {
		return 0, false
	}
	return b.dataAddr + Address(b.dataWords) + Address(i), true
}

// StructAt reads the sub-struct referenced by pointer slot i.
func (r StructReader) StructAt(i uint16) (StructReader, error) {
	slot, ok := r.ptrSlot(i)
	if !ok {
		return StructReader{}, nil
	}
	return readStruct(r.seg, slot, maxDepth(r.depth))
}

// HasPointer reports whether pointer slot i is non-null, per §4.G's
// has_*() presence tests.
func (r StructReader) HasPointer(i uint16) bool {
	slot, ok := r.ptrSlot(i)
	if !ok {
		return false
	}
	raw, err := readRawPointer(r.seg, slot)
	return err == nil && !raw.isNull()
}

func (b StructBuilder) HasPointer(i uint16) bool {
	slot, ok := b.ptrSlot(i)
	if !ok {
		return false
	}
	raw, err := readRawPointer(b.seg, slot)
	return err == nil && !raw.isNull()
}

// InitStructAt allocates a new struct of size sz and installs it in pointer
// slot i.
func (b StructBuilder) InitStructAt(i uint16, sz ObjectSize) (StructBuilder, error) {
	slot, ok := b.ptrSlot(i)
	if !ok {
		return StructBuilder{}, errors.New("segwire: pointer index out of range")
	}
	return initStructField(b.seg, slot, sz)
}

// StructAt reads the sub-struct at pointer slot i for mutation.
func (b StructBuilder) StructAt(i uint16) (StructBuilder, error) {
	slot, ok := b.ptrSlot(i)
	if !ok {
		return StructBuilder{}, errors.New("segwire: pointer index out of range")
	}
	raw, err := readRawPointer(b.seg, slot)
	if err != nil {
		return StructBuilder{}, err
	}
	if raw.isNull() {
		return StructBuilder{}, nil
	}
	t, err := resolvePointer(b.seg, slot)
	if err != nil {
		return StructBuilder{}, err
	}
	sz := t.raw.structSize()
	return StructBuilder{seg: t.seg, msg: b.msg, dataAddr: t.addr, dataWords: sz.DataWords, ptrWords: sz.PtrWords}, nil
}

// ClearPointer zeroes pointer slot i (§4.B "clear").
func (b StructBuilder) ClearPointer(i uint16) error {
	slot, ok := b.ptrSlot(i)
	if !ok {
		return errors.New("segwire: pointer index out of range")
	}
	return writeRawPointer(b.seg, slot, 0)
}

func maxDepth(remaining uint) uint {
	if remaining == 0 {
		return defaultDepthLimit
	}
	return remaining
}

// SetRootFromReader deep-copies a reader tree into a freshly allocated
// struct and installs it as msg's root (§4.C "set_root(reader)").
func SetRootFromReader(msg *Message, src StructReader) error {
	seg, addr, err := msg.rootLoc()
	if err != nil {
		return err
	}
	dst, err := initStructField(seg, addr, src.Size())
	if err != nil {
		return err
	}
	return CopyStruct(dst, src)
}

// CopyStruct deep-copies src's data section verbatim and recursively copies
// every non-null pointer into freshly allocated space under dst.
func CopyStruct(dst StructBuilder, src StructReader) error {
	copy(dst.dataBytes(), src.dataBytes())
	n := src.ptrWords
	if dst.ptrWords < n {
		n = dst.ptrWords
	}
	for i := uint16(0); i < n; i++ {
		srcSlot, _ := src.ptrSlot(i)
		raw, err := readRawPointer(src.seg, srcSlot)
		if err != nil {
			return err
		}
		if raw.isNull() {
			continue
		}
		dstSlot, _ := dst.ptrSlot(i)
		if err := copyPointerAt(dst.seg, dstSlot, src.seg, srcSlot, maxDepth(src.depth)); err != nil {
			return err
		}
	}
	return nil
}

// copyPointerAt deep-copies whatever non-null pointer sits at (srcSeg,
// srcAddr) into (dstSeg, dstAddr), dispatching on its resolved tag. Struct
// and list variants recurse through CopyStruct/CopyList (list.go);
// capabilities are re-exported through copyCapabilityPointer (captable.go).
func copyPointerAt(dstSeg *Segment, dstAddr Address, srcSeg *Segment, srcAddr Address, depth uint) error {
	raw, err := readRawPointer(srcSeg, srcAddr)
	if err != nil {
		return err
	}
	if raw.isNull() {
		return nil
	}
	t, err := resolvePointer(srcSeg, srcAddr)
	if err != nil {
		return err
	}
	switch t.raw.tag() {
	case tagStruct:
		sr, err := readStruct(srcSeg, srcAddr, depth)
		if err != nil {
			return err
		}
		db, err := initStructField(dstSeg, dstAddr, sr.Size())
		if err != nil {
			return err
		}
		return CopyStruct(db, sr)
	case tagList:
		lr, err := readList(srcSeg, srcAddr, depth)
		if err != nil {
			return err
		}
		lb, err := initListField(dstSeg, dstAddr, lr.elemSize, lr.count, lr.elemStruct)
		if err != nil {
			return err
		}
		return CopyList(lb, lr)
	case tagOther:
		return copyCapabilityPointer(dstSeg, dstAddr, srcSeg, srcAddr)
	default:
		return errors.Wrap(ErrInvalidPointerTag, "copyPointerAt: unexpected tag after resolution")
	}
}

// ListAt reads the list referenced by pointer slot i.
func (r StructReader) ListAt(i uint16) (ListReader, error) {
	slot, ok := r.ptrSlot(i)
	if !ok {
		return ListReader{}, nil
	}
	return readList(r.seg, slot, maxDepth(r.depth))
}

// InitListAt allocates a new list and installs it in pointer slot i.
func (b StructBuilder) InitListAt(i uint16, esz ElementSize, count uint32, elemStruct ObjectSize) (ListBuilder, error) {
	slot, ok := b.ptrSlot(i)
	if !ok {
		return ListBuilder{}, errors.New("segwire: pointer index out of range")
	}
	return initListField(b.seg, slot, esz, count, elemStruct)
}

// ListAt reads the list at pointer slot i for mutation.
func (b StructBuilder) ListAt(i uint16) (ListBuilder, error) {
	slot, ok := b.ptrSlot(i)
	if !ok {
		return ListBuilder{}, errors.New("segwire: pointer index out of range")
	}
	raw, err := readRawPointer(b.seg, slot)
	if err != nil {
		return ListBuilder{}, err
	}
	if raw.isNull() {
		return ListBuilder{}, nil
	}
	t, err := resolvePointer(b.seg, slot)
	if err != nil {
		return ListBuilder{}, err
	}
	return listBuilderFromTarget(b.msg, t)
}
