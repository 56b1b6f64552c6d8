package segwire

import (
	"github.com/pkg/errors"

	"github.com/segwire/segwire/internal/bits"
	ibinary "github.com/segwire/segwire/internal/binary"
)

// ListReader is a read-only typed view over one of the eight list element
// encodings (§3, §4.C): void, the four fixed-width scalar widths,
// bit-packed bools, pointer elements, and inline-composite struct elements.
type ListReader struct {
	seg        *Segment
	addr       Address // first element (or, for composite lists, first element past the tag word)
	elemSize   ElementSize
	count      uint32
	elemStruct ObjectSize // meaningful only when elemSize == SizeInlineComposite
	depth      uint
}

// ListBuilder is the writable counterpart.
type ListBuilder struct {
	seg        *Segment
	msg        *Message
	addr       Address
	elemSize   ElementSize
	count      uint32
	elemStruct ObjectSize
}

func (l ListReader) Len() int                  { return int(l.count) }
func (l ListBuilder) Len() int                 { return int(l.count) }
func (l ListReader) IsValid() bool             { return l.seg != nil }
func (l ListReader) ElementSize() ElementSize  { return l.elemSize }
func (l ListBuilder) ElementSize() ElementSize { return l.elemSize }

func readList(seg *Segment, ptrAddr Address, depth uint) (ListReader, error) {
	if depth == 0 {
		return ListReader{}, ErrNestingLimitExceeded
	}
	t, err := resolvePointer(seg, ptrAddr)
	if err != nil {
		return ListReader{}, err
	}
	if t.raw.isNull() {
		return ListReader{}, nil
	}
	if t.raw.tag() != tagList {
		return ListReader{}, errors.Wrapf(ErrInvalidPointerTag, "expected list pointer, got tag %d", t.raw.tag())
	}
	esz := t.raw.listElemSize()

	if esz == SizeInlineComposite {
		tagWord, err := readRawPointer(t.seg, t.addr)
		if err != nil {
			return ListReader{}, err
		}
		count := uint32(tagWord.structOffset())
		elemStruct := tagWord.structSize()
		perElem := elemStruct.Total()
		total := Words(t.raw.listCount())
		expect := Words(1) + Words(uint32(perElem))*Words(count)
		if total != expect {
			return ListReader{}, errors.Wrap(ErrInvalidPointerTag, "inline composite list size does not match tag word")
		}
		if err := t.seg.msg.chargeTraversal(total); err != nil {
			return ListReader{}, err
		}
		firstElem := t.addr + 1
		if _, err := t.seg.bytesAt(int64(firstElem)*8, int64(perElem)*int64(count)*8); err != nil {
			return ListReader{}, err
		}
		return ListReader{seg: t.seg, addr: firstElem, elemSize: esz, count: count, elemStruct: elemStruct, depth: depth - 1}, nil
	}

	count := t.raw.listCount()
	words := bitWords(esz, count)
	if err := t.seg.msg.chargeTraversal(words); err != nil {
		return ListReader{}, err
	}
	if _, err := t.seg.bytesAt(int64(t.addr)*8, int64(words)*8); err != nil {
		return ListReader{}, err
	}
	return ListReader{seg: t.seg, addr: t.addr, elemSize: esz, count: count, depth: depth - 1}, nil
}

func bitWords(esz ElementSize, count uint32) Words {
	total := uint64(esz.sizeBits()) * uint64(count)
	return Words((total + 63) / 64)
}

// initListField allocates a new list of the given shape and installs it at
// (seg, ptrAddr), mirroring initStructField's far-pointer placement logic.
func initListField(seg *Segment, ptrAddr Address, esz ElementSize, count uint32, elemStruct ObjectSize) (ListBuilder, error) {
	msg := seg.msg
	var contentWords Words
	var wireCount uint32
	if esz == SizeInlineComposite {
		perElem := elemStruct.Total()
		contentWords = Words(1) + Words(uint32(perElem))*Words(count)
		wireCount = uint32(contentWords)
	} else {
		contentWords = bitWords(esz, count)
		wireCount = count
	}

	contentSeg, contentAddr, err := msg.allocate(contentWords, seg.ID())
	if err != nil {
		return ListBuilder{}, err
	}

	firstElem := contentAddr
	if esz == SizeInlineComposite {
		if err := writeRawPointer(contentSeg, contentAddr, newStructPointer(int32(count), elemStruct)); err != nil {
			return ListBuilder{}, err
		}
		firstElem = contentAddr + 1
	}

	rawTag := newListPointer(0, esz, wireCount)
	if contentSeg.ID() == seg.ID() {
		rel := int32(int64(contentAddr) - int64(ptrAddr) - 1)
		if err := writeRawPointer(seg, ptrAddr, newListPointer(rel, esz, wireCount)); err != nil {
			return ListBuilder{}, err
		}
	} else if err := writeFarPointer(msg, seg, ptrAddr, contentSeg, contentAddr, rawTag); err != nil {
		return ListBuilder{}, err
	}

	return ListBuilder{seg: contentSeg, msg: msg, addr: firstElem, elemSize: esz, count: count, elemStruct: elemStruct}, nil
}

func listBuilderFromTarget(msg *Message, t target) (ListBuilder, error) {
	if t.raw.tag() != tagList {
		return ListBuilder{}, errors.Wrapf(ErrInvalidPointerTag, "expected list pointer, got tag %d", t.raw.tag())
	}
	esz := t.raw.listElemSize()
	if esz == SizeInlineComposite {
		tagWord, err := readRawPointer(t.seg, t.addr)
		if err != nil {
			return ListBuilder{}, err
		}
		count := uint32(tagWord.structOffset())
		elemStruct := tagWord.structSize()
		return ListBuilder{seg: t.seg, msg: msg, addr: t.addr + 1, elemSize: esz, count: count, elemStruct: elemStruct}, nil
	}
	return ListBuilder{seg: t.seg, msg: msg, addr: t.addr, elemSize: esz, count: t.raw.listCount()}, nil
}

// AsReader returns a read-only view sharing the builder's storage.
func (l ListBuilder) AsReader() ListReader {
	return ListReader{seg: l.seg, addr: l.addr, elemSize: l.elemSize, count: l.count, elemStruct: l.elemStruct, depth: defaultDepthLimit}
}

// --- fixed-width scalar element access ---

func (l ListReader) byteOffset(i int) int64 {
	return int64(l.addr)*8 + int64(i)*int64(l.elemSize.sizeBits()/8)
}
func (l ListBuilder) byteOffset(i int) int64 {
	return int64(l.addr)*8 + int64(i)*int64(l.elemSize.sizeBits()/8)
}

func (l ListReader) Uint8At(i int) uint8 {
	b, err := l.seg.bytesAt(l.byteOffset(i), 1)
	if err != nil {
		return 0
	}
	return b[0]
}

func (l ListReader) Uint16At(i int) uint16 {
	b, err := l.seg.bytesAt(l.byteOffset(i), 2)
	if err != nil {
		return 0
	}
	return ibinary.Get[uint16](b)
}
func (l ListReader) Uint32At(i int) uint32 {
	b, err := l.seg.bytesAt(l.byteOffset(i), 4)
	if err != nil {
		return 0
	}
	return ibinary.Get[uint32](b)
}
func (l ListReader) Uint64At(i int) uint64 {
	b, err := l.seg.bytesAt(l.byteOffset(i), 8)
	if err != nil {
		return 0
	}
	return ibinary.Get[uint64](b)
}

func (l ListBuilder) SetUint8At(i int, v uint8) {
	b, err := l.seg.bytesAt(l.byteOffset(i), 1)
	if err == nil {
		b[0] = v
	}
}
func (l ListBuilder) SetUint16At(i int, v uint16) {
	if b, err := l.seg.bytesAt(l.byteOffset(i), 2); err == nil {
		ibinary.Put(b, v)
	}
}
func (l ListBuilder) SetUint32At(i int, v uint32) {
	if b, err := l.seg.bytesAt(l.byteOffset(i), 4); err == nil {
		ibinary.Put(b, v)
	}
}
func (l ListBuilder) SetUint64At(i int, v uint64) {
	if b, err := l.seg.bytesAt(l.byteOffset(i), 8); err == nil {
		ibinary.Put(b, v)
	}
}

// BoolAt reads the i'th bit-packed boolean element.
func (l ListReader) BoolAt(i int) bool {
	bit := uint64(l.addr)*64 + uint64(i)
	b, err := l.seg.bytesAt(int64(bit/8), 1)
	if err != nil {
		return false
	}
	return bits.GetBit(b[0], uint8(bit%8))
}

func (l ListBuilder) SetBoolAt(i int, v bool) {
	bit := uint64(l.addr)*64 + uint64(i)
	b, err := l.seg.bytesAt(int64(bit/8), 1)
	if err != nil {
		return
	}
	b[0] = bits.SetBit(b[0], uint8(bit%8), v)
}

// Bytes returns the raw backing bytes of a byte-element list, shared with
// the segment (no copy). Used by Text/Data (text.go).
func (l ListReader) Bytes() ([]byte, error) {
	if l.elemSize != SizeByte {
		return nil, errors.Wrap(ErrIncompatibleListType, "not a byte list")
	}
	return l.seg.bytesAt(int64(l.addr)*8, int64(l.count))
}

func (l ListBuilder) Bytes() ([]byte, error) {
	if l.elemSize != SizeByte {
		return nil, errors.Wrap(ErrIncompatibleListType, "not a byte list")
	}
	return l.seg.bytesAt(int64(l.addr)*8, int64(l.count))
}

// --- struct-element access, including the primitive/pointer-to-struct
// upgrade rule for schema-evolved readers (§8): a list stored with 8-byte
// scalar or pointer elements can still be read as a struct list, with the
// scalar (or pointer) becoming the lone data (or pointer) word of a 1-word
// struct. Lists of void, bit, 1-, 2- or 4-byte elements are not upgraded;
// StructAt returns ErrIncompatibleListType for them. ---

var errListIndexRange = errors.New("segwire: list index out of range")

func (l ListReader) StructAt(i int) (StructReader, error) {
	if i < 0 || uint32(i) >= l.count {
		return StructReader{}, errListIndexRange
	}
	switch l.elemSize {
	case SizeInlineComposite:
		perElem := l.elemStruct.Total()
		addr := l.addr + Address(uint32(i)*uint32(perElem))
		if err := l.seg.msg.chargeTraversal(l.elemStruct.Total()); err != nil {
			return StructReader{}, err
		}
		return StructReader{seg: l.seg, dataAddr: addr, dataWords: l.elemStruct.DataWords, ptrWords: l.elemStruct.PtrWords, depth: maxDepth(l.depth)}, nil
	case SizeEightBytes:
		addr := l.addr + Address(i)
		return StructReader{seg: l.seg, dataAddr: addr, dataWords: 1, ptrWords: 0, depth: maxDepth(l.depth)}, nil
	case SizePointer:
		addr := l.addr + Address(i)
		return StructReader{seg: l.seg, dataAddr: addr, dataWords: 0, ptrWords: 1, depth: maxDepth(l.depth)}, nil
	default:
		return StructReader{}, errors.Wrap(ErrIncompatibleListType, "cannot view sub-word list elements as structs")
	}
}

func (l ListBuilder) StructAt(i int) (StructBuilder, error) {
	if i < 0 || uint32(i) >= l.count {
		return StructBuilder{}, errListIndexRange
	}
	switch l.elemSize {
	case SizeInlineComposite:
		perElem := l.elemStruct.Total()
		addr := l.addr + Address(uint32(i)*uint32(perElem))
		return StructBuilder{seg: l.seg, msg: l.msg, dataAddr: addr, dataWords: l.elemStruct.DataWords, ptrWords: l.elemStruct.PtrWords}, nil
	case SizeEightBytes:
		return StructBuilder{seg: l.seg, msg: l.msg, dataAddr: l.addr + Address(i), dataWords: 1, ptrWords: 0}, nil
	case SizePointer:
		return StructBuilder{seg: l.seg, msg: l.msg, dataAddr: l.addr + Address(i), dataWords: 0, ptrWords: 1}, nil
	default:
		return StructBuilder{}, errors.Wrap(ErrIncompatibleListType, "cannot view sub-word list elements as structs")
	}
}

// --- pointer-element access, used for List(List(T)), List(Text/Data), and
// List(AnyPointer) ---

func (l ListReader) pointerSlot(i int) (Address, error) {
	if l.elemSize != SizePointer {
		return 0, errors.Wrap(ErrIncompatibleListType, "element type is not a pointer")
	}
	if i < 0 || uint32(i) >= l.count {
		return 0, errListIndexRange
	}
	return l.addr + Address(i), nil
}

func (l ListBuilder) pointerSlot(i int) (Address, error) {
	if l.elemSize != SizePointer {
		return 0, errors.Wrap(ErrIncompatibleListType, "element type is not a pointer")
	}
	if i < 0 || uint32(i) >= l.count {
		return 0, errListIndexRange
	}
	return l.addr + Address(i), nil
}

func (l ListReader) ListAt(i int) (ListReader, error) {
	slot, err := l.pointerSlot(i)
	if err != nil {
		return ListReader{}, err
	}
	return readList(l.seg, slot, maxDepth(l.depth))
}

func (l ListBuilder) InitListAt(i int, esz ElementSize, count uint32, elemStruct ObjectSize) (ListBuilder, error) {
	slot, err := l.pointerSlot(i)
	if err != nil {
		return ListBuilder{}, err
	}
	return initListField(l.seg, slot, esz, count, elemStruct)
}

// --- bulk copy, used by CopyStruct for pointer-section fields ---

// CopyList deep-copies src's elements into dst, which must already be sized
// identically (as produced by initListField from src's own shape).
func CopyList(dst ListBuilder, src ListReader) error {
	switch src.elemSize {
	case SizeInlineComposite:
		for i := 0; i < src.Len(); i++ {
			sr, err := src.StructAt(i)
			if err != nil {
				return err
			}
			sb, err := dst.StructAt(i)
			if err != nil {
				return err
			}
			if err := CopyStruct(sb, sr); err != nil {
				return err
			}
		}
		return nil
	case SizePointer:
		for i := 0; i < src.Len(); i++ {
			srcSlot, _ := src.pointerSlot(i)
			dstSlot, _ := dst.pointerSlot(i)
			if err := copyPointerAt(dst.seg, dstSlot, src.seg, srcSlot, maxDepth(src.depth)); err != nil {
				return err
			}
		}
		return nil
	default:
		words := bitWords(src.elemSize, src.count)
		srcBytes, err := src.seg.bytesAt(int64(src.addr)*8, words.Bytes())
		if err != nil {
			return err
		}
		dstBytes, err := dst.seg.bytesAt(int64(dst.addr)*8, words.Bytes())
		if err != nil {
			return err
		}
		copy(dstBytes, srcBytes)
		return nil
	}
}
