package rpc

import (
	"sync"

	segwire "github.com/segwire/segwire"
)

// question is one row of the questionTable: an outgoing call we issued to
// the peer, waiting on its Return.
type question struct {
	replyCh        chan Return
	awaitingReturn bool
}

// questionTable is the Vec-indexed table of outgoing calls (§4.H): we
// assign sequential 32-bit ids ourselves, exactly like the teacher's own
// export-style tables assign local indices. Only the dispatcher goroutine
// touches it, so it needs no internal locking (§5 "sole mutator").
type questionTable struct {
	slots []*question
	free  []uint32
}

func (t *questionTable) add(q *question) uint32 {
	if n := len(t.free); n > 0 {
		id := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[id] = q
		return id
	}
	id := uint32(len(t.slots))
	t.slots = append(t.slots, q)
	return id
}

func (t *questionTable) get(id uint32) *question {
	if int(id) >= len(t.slots) {
		return nil
	}
	return t.slots[id]
}

func (t *questionTable) release(id uint32) {
	if int(id) >= len(t.slots) {
		return
	}
	t.slots[id] = nil
	t.free = append(t.free, id)
}

// answerStatus is the two states an incoming call's answer moves through.
type answerStatus int

const (
	answerStatusPending answerStatus = iota
	answerStatusSent
)

// pendingCall is a pipelined call against an answer that has not yet been
// produced; it is queued in enqueue order and drained once the answer is
// Sent (§4.H, §5 ordering guarantee 2). respond is invoked with the final
// Return once the target capability has been resolved and called —
// either to ship a wire Return back to the peer (an incoming call pipelined
// against one of our own answers) or to hand the result to a local
// PipelineClient/PromisedAnswerClient waiter.
type pendingCall struct {
	ops         []PipelineOp
	params      segwire.StructReader
	interfaceID uint64
	methodID    uint16
	respond     func(Return)
}

// answer is one row of the answerTable: bookkeeping for a call we received
// from the peer, indexed by the peer's own question id.
type answer struct {
	status  answerStatus
	pending []pendingCall

	resultMsg     *segwire.Message
	resultContent segwire.StructReader
	exception     *Exception
}

// answerTable is the map-indexed table of incoming calls we're serving,
// keyed by the peer's question id (§4.H).
type answerTable struct {
	m map[uint32]*answer
}

func newAnswerTable() *answerTable { return &answerTable{m: map[uint32]*answer{}} }

func (t *answerTable) getOrCreate(id uint32) *answer {
	a, ok := t.m[id]
	if !ok {
		a = &answer{status: answerStatusPending}
		t.m[id] = a
	}
	return a
}

func (t *answerTable) get(id uint32) *answer { return t.m[id] }

func (t *answerTable) delete(id uint32) { delete(t.m, id) }

// receive queues a pipelined call against answer id if it's still pending,
// or, if the answer has already been sent, leaves it unqueued and returns
// deliverNow=true so the caller delivers it at once, mirroring rpc.rs's
// Answer::do_call.
func (t *answerTable) receive(id uint32, pc pendingCall) (deliverNow bool, a *answer) {
	a = t.getOrCreate(id)
	if a.status == answerStatusPending {
		a.pending = append(a.pending, pc)
		return false, a
	}
	return true, a
}

// sent marks the answer Sent and returns its queued pipelined calls in
// enqueue order for the dispatcher to drain (§4.H "AnswerSent(msg)").
func (t *answerTable) sent(id uint32, resultMsg *segwire.Message, content segwire.StructReader, exc *Exception) []pendingCall {
	a := t.getOrCreate(id)
	a.status = answerStatusSent
	a.resultMsg = resultMsg
	a.resultContent = content
	a.exception = exc
	drained := a.pending
	a.pending = nil
	return drained
}

// export is one row of the exportTable: a capability we host that the peer
// can address by index. refCount tracks outstanding Release messages the
// peer owes us (capnp-rpc reference counts every SenderHosted/SenderPromise
// handed out).
type export struct {
	hook     segwire.ClientHook
	refCount uint32
	resolved bool // false for a SenderPromise export awaiting its Resolve
}

// exportTable is the Vec-indexed table of capabilities we host (§4.H). We
// also keep a hook->id reverse index so re-exporting the same LocalClient
// twice reuses its existing export id instead of minting a duplicate.
type exportTable struct {
	slots   []*export
	free    []uint32
	byHook  map[segwire.ClientHook]uint32
}

func newExportTable() *exportTable {
	return &exportTable{byHook: map[segwire.ClientHook]uint32{}}
}

// idFor returns the existing export id for hook, or mints a fresh one.
func (t *exportTable) idFor(hook segwire.ClientHook, resolved bool) (id uint32, isNew bool) {
	if id, ok := t.byHook[hook]; ok {
		t.slots[id].refCount++
		return id, false
	}
	e := &export{hook: hook, refCount: 1, resolved: resolved}
	if n := len(t.free); n > 0 {
		id = t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[id] = e
	} else {
		id = uint32(len(t.slots))
		t.slots = append(t.slots, e)
	}
	t.byHook[hook] = id
	return id, true
}

func (t *exportTable) get(id uint32) *export {
	if int(id) >= len(t.slots) {
		return nil
	}
	return t.slots[id]
}

// release drops refCount references to id, closing and freeing the slot
// once it reaches zero.
func (t *exportTable) release(id uint32, refCount uint32) {
	e := t.get(id)
	if e == nil {
		return
	}
	if refCount >= e.refCount {
		e.refCount = 0
	} else {
		e.refCount -= refCount
	}
	if e.refCount == 0 {
		delete(t.byHook, e.hook)
		e.hook.Close()
		t.slots[id] = nil
		t.free = append(t.free, id)
	}
}

// importEntry is one row of the importTable: a capability the peer hosts
// that we've been handed a descriptor for.
type importEntry struct {
	hook     segwire.ClientHook
	refCount uint32
}

// importTable is the map-indexed table of capabilities hosted by the peer,
// keyed by the SAME numeric id the peer uses in its own exportTable
// (capnp-rpc's shared numbering between a SenderHosted descriptor's export
// id and the receiving side's import id).
type importTable struct {
	m map[uint32]*importEntry
}

func newImportTable() *importTable { return &importTable{m: map[uint32]*importEntry{}} }

func (t *importTable) getOrAdd(id uint32, newHook func() segwire.ClientHook) segwire.ClientHook {
	e, ok := t.m[id]
	if !ok {
		e = &importEntry{hook: newHook(), refCount: 0}
		t.m[id] = e
	}
	e.refCount++
	return e.hook
}

func (t *importTable) release(id uint32, refCount uint32) {
	e, ok := t.m[id]
	if !ok {
		return
	}
	if refCount >= e.refCount {
		e.refCount = 0
	} else {
		e.refCount -= refCount
	}
	if e.refCount == 0 {
		e.hook.Close()
		delete(t.m, id)
	}
}

// vat is the administrative registry mapping bootstrap object names to
// locally hosted capabilities, addressed by Restore messages (§6
// "a Restore with an object id acts as the bootstrap"). A process may
// share one vat across many sessions; each session only ever reads it.
type vat struct {
	mu      sync.RWMutex
	objects map[string]segwire.ClientHook
}

func newVat() *vat { return &vat{objects: map[string]segwire.ClientHook{}} }

// Export registers name so future Restore("name") calls on any session
// sharing this vat resolve to hook. This is the administrative side of
// export_cap (§6).
func (v *vat) Export(name string, hook segwire.ClientHook) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.objects[name] = hook
}

func (v *vat) lookup(name string) (segwire.ClientHook, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	h, ok := v.objects[name]
	return h, ok
}
