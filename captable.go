package segwire

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ClientHook is the capability interface a message's embedded "other"
// pointers resolve to (§4.F). The RPC layer supplies concrete
// implementations (local dispatch, import stubs, pipelined-answer stubs);
// a bare decoded message that never touches the RPC layer can still carry
// capabilities across a CapTable.Add/At round trip without knowing what's
// behind them.
type ClientHook interface {
	// Call invokes the given interface/method with params, returning the
	// callee's results. Implementations that proxy a remote peer block
	// until the peer answers or ctx is done.
	Call(ctx context.Context, interfaceID uint64, methodID uint16, params StructReader) (StructReader, error)
	// Close releases any resources (RPC export table slots, in-flight
	// questions) backing the hook. Safe to call more than once.
	Close() error
}

// CapTable is the message-scoped table capability pointers index into
// (§4.F). Every Message owns one; the RPC layer populates it while
// decoding a call/return payload and drains it while encoding one.
type CapTable struct {
	mu      sync.Mutex
	clients []ClientHook
}

// Add appends a hook and returns its index for use in a capability pointer.
func (t *CapTable) Add(c ClientHook) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients = append(t.clients, c)
	return uint32(len(t.clients) - 1)
}

// At returns the hook at index i.
func (t *CapTable) At(i uint32) (ClientHook, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(i) >= len(t.clients) {
		return nil, errors.Wrapf(ErrOutOfBounds, "capability index %d, table has %d entries", i, len(t.clients))
	}
	return t.clients[i], nil
}

// Len reports how many capabilities the table currently holds.
func (t *CapTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// Reset drops every entry, closing each hook.
func (t *CapTable) Reset() {
	t.mu.Lock()
	cs := t.clients
	t.clients = nil
	t.mu.Unlock()
	for _, c := range cs {
		if c != nil {
			c.Close()
		}
	}
}

// Capability reads the capability pointer at slot i, resolving it against
// the owning message's CapTable.
func (r StructReader) Capability(i uint16) (ClientHook, error) {
	slot, ok := r.ptrSlot(i)
	if !ok {
		return nil, nil
	}
	raw, err := readRawPointer(r.seg, slot)
	if err != nil {
		return nil, err
	}
	if raw.isNull() {
		return nil, nil
	}
	if raw.tag() != tagOther {
		return nil, errors.Wrap(ErrInvalidPointerTag, "expected capability pointer")
	}
	return r.seg.msg.CapTable().At(raw.capabilityIndex())
}

// SetCapability installs c into the owning message's CapTable and writes a
// capability pointer referencing it at slot i.
func (b StructBuilder) SetCapability(i uint16, c ClientHook) error {
	slot, ok := b.ptrSlot(i)
	if !ok {
		return errors.New("segwire: pointer index out of range")
	}
	idx := b.msg.CapTable().Add(c)
	return writeRawPointer(b.seg, slot, newCapabilityPointer(idx))
}

// copyCapabilityPointer re-exports the hook referenced at (srcSeg, srcAddr)
// into dstSeg's message's CapTable and writes a fresh capability pointer
// for it at (dstSeg, dstAddr).
func copyCapabilityPointer(dstSeg *Segment, dstAddr Address, srcSeg *Segment, srcAddr Address) error {
	raw, err := readRawPointer(srcSeg, srcAddr)
	if err != nil {
		return err
	}
	hook, err := srcSeg.msg.CapTable().At(raw.capabilityIndex())
	if err != nil {
		return err
	}
	idx := dstSeg.msg.CapTable().Add(hook)
	return writeRawPointer(dstSeg, dstAddr, newCapabilityPointer(idx))
}
