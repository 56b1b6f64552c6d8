package segwire

// AnyPointer is an untyped read-only view over a single pointer slot,
// letting callers defer committing to a concrete struct/list/text/data/
// capability interpretation until the schema (or a generic proxy, as used
// by the RPC layer for opaque parameters) says which one applies (§4.F).
type AnyPointer struct {
	seg   *Segment
	addr  Address
	depth uint
}

// AnyPointerBuilder is the writable counterpart.
type AnyPointerBuilder struct {
	seg *Segment
	msg *Message
	addr Address
}

// AnyPointerAt views pointer slot i without interpreting it.
func (r StructReader) AnyPointerAt(i uint16) AnyPointer {
	slot, ok := r.ptrSlot(i)
	if !ok {
		return AnyPointer{}
	}
	return AnyPointer{seg: r.seg, addr: slot, depth: maxDepth(r.depth)}
}

// AnyPointerAt views pointer slot i of a builder without interpreting it.
func (b StructBuilder) AnyPointerAt(i uint16) AnyPointerBuilder {
	slot, ok := b.ptrSlot(i)
	if !ok {
		return AnyPointerBuilder{}
	}
	return AnyPointerBuilder{seg: b.seg, msg: b.msg, addr: slot}
}

// asStruct reinterprets the single pointer slot as a degenerate one-pointer,
// zero-data struct so every slot-addressed accessor on StructReader/Builder
// can be reused verbatim instead of duplicating pointer-resolution logic.
func (p AnyPointer) asStruct() StructReader {
	if p.seg == nil {
		return StructReader{}
	}
	return StructReader{seg: p.seg, dataAddr: p.addr, dataWords: 0, ptrWords: 1, depth: p.depth}
}

func (p AnyPointerBuilder) asStruct() StructBuilder {
	return StructBuilder{seg: p.seg, msg: p.msg, dataAddr: p.addr, dataWords: 0, ptrWords: 1}
}

// IsNull reports whether the slot holds a null pointer.
func (p AnyPointer) IsNull() bool {
	if p.seg == nil {
		return true
	}
	raw, err := readRawPointer(p.seg, p.addr)
	return err != nil || raw.isNull()
}

func (p AnyPointer) Struct() (StructReader, error)   { return p.asStruct().StructAt(0) }
func (p AnyPointer) List() (ListReader, error)       { return p.asStruct().ListAt(0) }
func (p AnyPointer) Text() (string, error)           { return p.asStruct().Text(0) }
func (p AnyPointer) Data() ([]byte, error)           { return p.asStruct().Data(0) }
func (p AnyPointer) Capability() (ClientHook, error) { return p.asStruct().Capability(0) }

func (p AnyPointerBuilder) InitStruct(sz ObjectSize) (StructBuilder, error) {
	return p.asStruct().InitStructAt(0, sz)
}
func (p AnyPointerBuilder) InitList(esz ElementSize, count uint32, elemStruct ObjectSize) (ListBuilder, error) {
	return p.asStruct().InitListAt(0, esz, count, elemStruct)
}
func (p AnyPointerBuilder) SetText(s string) error        { return p.asStruct().SetText(0, s) }
func (p AnyPointerBuilder) SetData(d []byte) error        { return p.asStruct().SetData(0, d) }
func (p AnyPointerBuilder) SetCapability(c ClientHook) error { return p.asStruct().SetCapability(0, c) }

// SetStruct deep-copies src into a freshly allocated struct at this slot.
func (p AnyPointerBuilder) SetStruct(src StructReader) error {
	dst, err := p.InitStruct(src.Size())
	if err != nil {
		return err
	}
	return CopyStruct(dst, src)
}
