// Package rpc implements the capability-based RPC session described in
// §4.H: a tagged-union message protocol multiplexed over one ordered
// duplex byte stream, with promise pipelining backed by four session
// tables (questions, answers, imports, exports).
//
// The wire messages themselves are segwire structs (built by hand here in
// the same shape codegen/golang would emit for a schema named "rpc.segwire"),
// so the RPC layer is a direct consumer of its own zero-copy format rather
// than a hand-rolled side protocol. Every message shares a single pointer
// slot for its variant payload, exactly as a compiled union field would.
package rpc

import (
	"github.com/pkg/errors"

	segwire "github.com/segwire/segwire"
)

// MessageKind discriminates the outer message union.
type MessageKind uint16

const (
	KindUnimplemented MessageKind = iota
	KindAbort
	KindCall
	KindReturn
	KindFinish
	KindResolve
	KindRelease
	KindDisembargo
	KindSave
	KindRestore
	KindDelete
	KindProvide
	KindAccept
	KindJoin
)

func (k MessageKind) String() string {
	switch k {
	case KindUnimplemented:
		return "unimplemented"
	case KindAbort:
		return "abort"
	case KindCall:
		return "call"
	case KindReturn:
		return "return"
	case KindFinish:
		return "finish"
	case KindResolve:
		return "resolve"
	case KindRelease:
		return "release"
	case KindDisembargo:
		return "disembargo"
	case KindSave:
		return "save"
	case KindRestore:
		return "restore"
	case KindDelete:
		return "delete"
	case KindProvide:
		return "provide"
	case KindAccept:
		return "accept"
	case KindJoin:
		return "join"
	default:
		return "unknown"
	}
}

var (
	sizeMessage        = segwire.ObjectSize{DataWords: 1, PtrWords: 1}
	sizeCall           = segwire.ObjectSize{DataWords: 2, PtrWords: 2}
	sizeReturn         = segwire.ObjectSize{DataWords: 1, PtrWords: 2}
	sizeFinish         = segwire.ObjectSize{DataWords: 1, PtrWords: 0}
	sizeResolve        = segwire.ObjectSize{DataWords: 1, PtrWords: 2}
	sizeRelease        = segwire.ObjectSize{DataWords: 1, PtrWords: 0}
	sizeDisembargo     = segwire.ObjectSize{DataWords: 1, PtrWords: 1}
	sizeRestore        = segwire.ObjectSize{DataWords: 1, PtrWords: 1}
	sizeUnimplemented  = segwire.ObjectSize{DataWords: 1, PtrWords: 0}
	sizeStub           = segwire.ObjectSize{DataWords: 1, PtrWords: 0} // save/delete/provide/accept/join
	sizePayload        = segwire.ObjectSize{DataWords: 0, PtrWords: 2}
	sizeException      = segwire.ObjectSize{DataWords: 1, PtrWords: 1}
	sizeMessageTarget  = segwire.ObjectSize{DataWords: 2, PtrWords: 1}
	sizePromisedAnswer = segwire.ObjectSize{DataWords: 1, PtrWords: 1}
	sizeCapDescriptor  = segwire.ObjectSize{DataWords: 1, PtrWords: 1}
	sizePipelineOp     = segwire.ObjectSize{DataWords: 1, PtrWords: 0}
)

// Message is a read-only view of one protocol message.
type Message struct{ r segwire.StructReader }

func (m Message) Kind() MessageKind { return MessageKind(m.r.Uint16(0)) }

func (m Message) Call() (Call, error) {
	s, err := m.r.StructAt(0)
	return Call{s}, err
}
func (m Message) Return() (Return, error) {
	s, err := m.r.StructAt(0)
	return Return{s}, err
}
func (m Message) Finish() (Finish, error) {
	s, err := m.r.StructAt(0)
	return Finish{s}, err
}
func (m Message) Resolve() (Resolve, error) {
	s, err := m.r.StructAt(0)
	return Resolve{s}, err
}
func (m Message) Release() (Release, error) {
	s, err := m.r.StructAt(0)
	return Release{s}, err
}
func (m Message) Disembargo() (Disembargo, error) {
	s, err := m.r.StructAt(0)
	return Disembargo{s}, err
}
func (m Message) Restore() (Restore, error) {
	s, err := m.r.StructAt(0)
	return Restore{s}, err
}
func (m Message) Abort() (Exception, error) {
	s, err := m.r.StructAt(0)
	return Exception{s}, err
}
func (m Message) Unimplemented() (Unimplemented, error) {
	s, err := m.r.StructAt(0)
	return Unimplemented{s}, err
}

// MessageBuilder builds one protocol message.
type MessageBuilder struct{ b segwire.StructBuilder }

// NewOutgoingMessage allocates a fresh single-segment message with an
// empty root Message envelope, ready for one of the New* variant
// constructors below.
func NewOutgoingMessage() (*segwire.Message, MessageBuilder, error) {
	arena, err := segwire.SingleSegment(segwire.BuilderOptions{}, nil)
	if err != nil {
		return nil, MessageBuilder{}, err
	}
	msg, _, err := segwire.NewMessage(arena)
	if err != nil {
		return nil, MessageBuilder{}, err
	}
	root, err := msg.NewRootStruct(sizeMessage)
	if err != nil {
		return nil, MessageBuilder{}, err
	}
	return msg, MessageBuilder{root}, nil
}

// ReadIncomingMessage returns the root Message envelope of an already
// decoded msg. The caller keeps msg itself to reach the message-scoped
// CapTable.
func ReadIncomingMessage(msg *segwire.Message) (Message, error) {
	root, err := msg.RootStruct()
	if err != nil {
		return Message{}, err
	}
	return Message{root}, nil
}

func (m MessageBuilder) setKind(k MessageKind) { m.b.SetUint16(0, uint16(k)) }

func (m MessageBuilder) NewCall() (CallBuilder, error) {
	m.setKind(KindCall)
	b, err := m.b.InitStructAt(0, sizeCall)
	return CallBuilder{b}, err
}
func (m MessageBuilder) NewReturn() (ReturnBuilder, error) {
	m.setKind(KindReturn)
	b, err := m.b.InitStructAt(0, sizeReturn)
	return ReturnBuilder{b}, err
}
func (m MessageBuilder) NewFinish() (FinishBuilder, error) {
	m.setKind(KindFinish)
	b, err := m.b.InitStructAt(0, sizeFinish)
	return FinishBuilder{b}, err
}
func (m MessageBuilder) NewResolve() (ResolveBuilder, error) {
	m.setKind(KindResolve)
	b, err := m.b.InitStructAt(0, sizeResolve)
	return ResolveBuilder{b}, err
}
func (m MessageBuilder) NewRelease() (ReleaseBuilder, error) {
	m.setKind(KindRelease)
	b, err := m.b.InitStructAt(0, sizeRelease)
	return ReleaseBuilder{b}, err
}
func (m MessageBuilder) NewDisembargo() (DisembargoBuilder, error) {
	m.setKind(KindDisembargo)
	b, err := m.b.InitStructAt(0, sizeDisembargo)
	return DisembargoBuilder{b}, err
}
func (m MessageBuilder) NewRestore() (RestoreBuilder, error) {
	m.setKind(KindRestore)
	b, err := m.b.InitStructAt(0, sizeRestore)
	return RestoreBuilder{b}, err
}
func (m MessageBuilder) NewAbort() (ExceptionBuilder, error) {
	m.setKind(KindAbort)
	b, err := m.b.InitStructAt(0, sizeException)
	return ExceptionBuilder{b}, err
}
func (m MessageBuilder) NewUnimplemented(orig MessageKind) (UnimplementedBuilder, error) {
	m.setKind(KindUnimplemented)
	b, err := m.b.InitStructAt(0, sizeUnimplemented)
	ub := UnimplementedBuilder{b}
	ub.SetOriginalKind(orig)
	return ub, err
}
func (m MessageBuilder) NewStub(k MessageKind, id uint32) (StubBuilder, error) {
	m.setKind(k)
	b, err := m.b.InitStructAt(0, sizeStub)
	sb := StubBuilder{b}
	sb.SetID(id)
	return sb, err
}

// --- Call ---

type Call struct{ r segwire.StructReader }

func (c Call) QuestionID() uint32  { return c.r.Uint32(0) }
func (c Call) MethodID() uint16   { return c.r.Uint16(4) }
func (c Call) InterfaceID() uint64 { return c.r.Uint64(8) }
func (c Call) Target() (MessageTarget, error) {
	s, err := c.r.StructAt(0)
	return MessageTarget{s}, err
}
func (c Call) Params() (Payload, error) {
	s, err := c.r.StructAt(1)
	return Payload{s}, err
}

type CallBuilder struct{ b segwire.StructBuilder }

func (c CallBuilder) SetQuestionID(v uint32)  { c.b.SetUint32(0, v) }
func (c CallBuilder) SetMethodID(v uint16)    { c.b.SetUint16(4, v) }
func (c CallBuilder) SetInterfaceID(v uint64) { c.b.SetUint64(8, v) }
func (c CallBuilder) NewTarget() (MessageTargetBuilder, error) {
	b, err := c.b.InitStructAt(0, sizeMessageTarget)
	return MessageTargetBuilder{b}, err
}
func (c CallBuilder) NewParams() (PayloadBuilder, error) {
	b, err := c.b.InitStructAt(1, sizePayload)
	return PayloadBuilder{b}, err
}
func (c CallBuilder) AsReader() Call { return Call{c.b.AsReader()} }

// --- Return ---

type returnWhich uint16

const (
	returnResults returnWhich = iota
	returnException
	returnCanceled
)

type Return struct{ r segwire.StructReader }

func (rt Return) AnswerID() uint32 { return rt.r.Uint32(0) }
func (rt Return) which() returnWhich { return returnWhich(rt.r.Uint16(6)) }
func (rt Return) IsException() bool  { return rt.which() == returnException }
func (rt Return) IsCanceled() bool   { return rt.which() == returnCanceled }
func (rt Return) Results() (Payload, error) {
	s, err := rt.r.StructAt(0)
	return Payload{s}, err
}
func (rt Return) Exception() (Exception, error) {
	s, err := rt.r.StructAt(1)
	return Exception{s}, err
}

type ReturnBuilder struct{ b segwire.StructBuilder }

func (rt ReturnBuilder) SetAnswerID(v uint32) { rt.b.SetUint32(0, v) }
func (rt ReturnBuilder) NewResults() (PayloadBuilder, error) {
	rt.b.SetUint16(6, uint16(returnResults))
	b, err := rt.b.InitStructAt(0, sizePayload)
	return PayloadBuilder{b}, err
}
func (rt ReturnBuilder) NewException() (ExceptionBuilder, error) {
	rt.b.SetUint16(6, uint16(returnException))
	b, err := rt.b.InitStructAt(1, sizeException)
	return ExceptionBuilder{b}, err
}
func (rt ReturnBuilder) SetCanceled() { rt.b.SetUint16(6, uint16(returnCanceled)) }
func (rt ReturnBuilder) AsReader() Return { return Return{rt.b.AsReader()} }

// --- Finish ---

type Finish struct{ r segwire.StructReader }

func (f Finish) QuestionID() uint32        { return f.r.Uint32(0) }
func (f Finish) ReleaseResultCaps() bool   { return f.r.Bool(32) }

type FinishBuilder struct{ b segwire.StructBuilder }

func (f FinishBuilder) SetQuestionID(v uint32)      { f.b.SetUint32(0, v) }
func (f FinishBuilder) SetReleaseResultCaps(v bool) { f.b.SetBool(32, v) }

// --- Resolve ---

type resolveWhich uint16

const (
	resolveCap resolveWhich = iota
	resolveException
)

type Resolve struct{ r segwire.StructReader }

func (rs Resolve) PromiseID() uint32  { return rs.r.Uint32(0) }
func (rs Resolve) IsException() bool  { return resolveWhich(rs.r.Uint16(4)) == resolveException }
func (rs Resolve) Cap() (CapDescriptor, error) {
	s, err := rs.r.StructAt(0)
	return CapDescriptor{s}, err
}
func (rs Resolve) Exception() (Exception, error) {
	s, err := rs.r.StructAt(1)
	return Exception{s}, err
}

type ResolveBuilder struct{ b segwire.StructBuilder }

func (rs ResolveBuilder) SetPromiseID(v uint32) { rs.b.SetUint32(0, v) }
func (rs ResolveBuilder) NewCap() (CapDescriptorBuilder, error) {
	rs.b.SetUint16(4, uint16(resolveCap))
	b, err := rs.b.InitStructAt(0, sizeCapDescriptor)
	return CapDescriptorBuilder{b}, err
}
func (rs ResolveBuilder) NewException() (ExceptionBuilder, error) {
	rs.b.SetUint16(4, uint16(resolveException))
	b, err := rs.b.InitStructAt(1, sizeException)
	return ExceptionBuilder{b}, err
}

// --- Release ---

type Release struct{ r segwire.StructReader }

func (rl Release) ImportID() uint32       { return rl.r.Uint32(0) }
func (rl Release) ReferenceCount() uint32 { return rl.r.Uint32(4) }

type ReleaseBuilder struct{ b segwire.StructBuilder }

func (rl ReleaseBuilder) SetImportID(v uint32)       { rl.b.SetUint32(0, v) }
func (rl ReleaseBuilder) SetReferenceCount(v uint32) { rl.b.SetUint32(4, v) }

// --- Disembargo ---

type disembargoWhich uint16

const (
	disembargoSenderLoopback disembargoWhich = iota
	disembargoReceiverLoopback
)

type Disembargo struct{ r segwire.StructReader }

func (d Disembargo) EmbargoID() uint32 { return d.r.Uint32(4) }
func (d Disembargo) IsReceiverLoopback() bool {
	return disembargoWhich(d.r.Uint16(0)) == disembargoReceiverLoopback
}
func (d Disembargo) Target() (MessageTarget, error) {
	s, err := d.r.StructAt(0)
	return MessageTarget{s}, err
}

type DisembargoBuilder struct{ b segwire.StructBuilder }

func (d DisembargoBuilder) SetEmbargoID(v uint32)      { d.b.SetUint32(4, v) }
func (d DisembargoBuilder) SetSenderLoopback()         { d.b.SetUint16(0, uint16(disembargoSenderLoopback)) }
func (d DisembargoBuilder) SetReceiverLoopback()       { d.b.SetUint16(0, uint16(disembargoReceiverLoopback)) }
func (d DisembargoBuilder) NewTarget() (MessageTargetBuilder, error) {
	b, err := d.b.InitStructAt(0, sizeMessageTarget)
	return MessageTargetBuilder{b}, err
}

// --- Restore (bootstrap) ---

type Restore struct{ r segwire.StructReader }

func (rs Restore) QuestionID() uint32        { return rs.r.Uint32(0) }
func (rs Restore) ObjectID() (string, error) { return rs.r.Text(0) }

type RestoreBuilder struct{ b segwire.StructBuilder }

func (rs RestoreBuilder) SetQuestionID(v uint32)      { rs.b.SetUint32(0, v) }
func (rs RestoreBuilder) SetObjectID(id string) error { return rs.b.SetText(0, id) }

// --- Unimplemented / Save / Delete / Provide / Accept / Join ---

type Unimplemented struct{ r segwire.StructReader }

func (u Unimplemented) OriginalKind() MessageKind { return MessageKind(u.r.Uint16(0)) }

type UnimplementedBuilder struct{ b segwire.StructBuilder }

func (u UnimplementedBuilder) SetOriginalKind(k MessageKind) { u.b.SetUint16(0, uint16(k)) }

// Stub is the shared shape of the save/delete/provide/accept/join
// messages: a single 32-bit id and no further content.
type Stub struct{ r segwire.StructReader }

func (s Stub) ID() uint32 { return s.r.Uint32(0) }

type StubBuilder struct{ b segwire.StructBuilder }

func (s StubBuilder) SetID(v uint32) { s.b.SetUint32(0, v) }

// --- Exception ---

// ExceptionType mirrors the capnp-rpc exception taxonomy.
type ExceptionType uint16

const (
	ExceptionFailed ExceptionType = iota
	ExceptionOverloaded
	ExceptionDisconnected
	ExceptionUnimplemented
)

type Exception struct{ r segwire.StructReader }

func (e Exception) Type() ExceptionType { return ExceptionType(e.r.Uint16(0)) }
func (e Exception) Reason() (string, error) {
	if !e.r.IsValid() {
		return "", nil
	}
	return e.r.Text(0)
}

type ExceptionBuilder struct{ b segwire.StructBuilder }

func (e ExceptionBuilder) SetType(t ExceptionType)      { e.b.SetUint16(0, uint16(t)) }
func (e ExceptionBuilder) SetReason(reason string) error { return e.b.SetText(0, reason) }

// NewException builds a standalone Exception-shaped root message, without
// a full Message envelope around it.
func NewException(typ ExceptionType, reason string) (*segwire.Message, Exception, error) {
	arena, err := segwire.SingleSegment(segwire.BuilderOptions{}, nil)
	if err != nil {
		return nil, Exception{}, err
	}
	msg, _, err := segwire.NewMessage(arena)
	if err != nil {
		return nil, Exception{}, err
	}
	b, err := msg.NewRootStruct(sizeException)
	if err != nil {
		return nil, Exception{}, err
	}
	eb := ExceptionBuilder{b}
	eb.SetType(typ)
	if err := eb.SetReason(reason); err != nil {
		return nil, Exception{}, err
	}
	return msg, Exception{eb.b.AsReader()}, nil
}

// --- Payload ---

type Payload struct{ r segwire.StructReader }

func (p Payload) Content() segwire.StructReader {
	s, _ := p.r.StructAt(0)
	return s
}
func (p Payload) CapDescriptors() (segwire.ListReader, error) { return p.r.ListAt(1) }

type PayloadBuilder struct{ b segwire.StructBuilder }

func (p PayloadBuilder) SetContent(src segwire.StructReader) error {
	dst, err := p.b.InitStructAt(0, src.Size())
	if err != nil {
		return err
	}
	return segwire.CopyStruct(dst, src)
}
func (p PayloadBuilder) InitContent(sz segwire.ObjectSize) (segwire.StructBuilder, error) {
	return p.b.InitStructAt(0, sz)
}
func (p PayloadBuilder) InitCapDescriptors(n uint32) (segwire.ListBuilder, error) {
	return p.b.InitListAt(1, segwire.SizeInlineComposite, n, sizeCapDescriptor)
}
func (p PayloadBuilder) AsReader() Payload { return Payload{p.b.AsReader()} }

// --- MessageTarget ---

type targetWhich uint16

const (
	targetImportedCap targetWhich = iota
	targetPromisedAnswer
)

type MessageTarget struct{ r segwire.StructReader }

func (t MessageTarget) IsPromisedAnswer() bool {
	return targetWhich(t.r.Uint16(0)) == targetPromisedAnswer
}
func (t MessageTarget) ImportedCap() uint32 { return t.r.Uint32(4) }
func (t MessageTarget) PromisedAnswer() (PromisedAnswer, error) {
	s, err := t.r.StructAt(0)
	return PromisedAnswer{s}, err
}

type MessageTargetBuilder struct{ b segwire.StructBuilder }

func (t MessageTargetBuilder) SetImportedCap(id uint32) {
	t.b.SetUint16(0, uint16(targetImportedCap))
	t.b.SetUint32(4, id)
}
func (t MessageTargetBuilder) NewPromisedAnswer() (PromisedAnswerBuilder, error) {
	t.b.SetUint16(0, uint16(targetPromisedAnswer))
	b, err := t.b.InitStructAt(0, sizePromisedAnswer)
	return PromisedAnswerBuilder{b}, err
}

// --- PromisedAnswer / PipelineOp ---

type PromisedAnswer struct{ r segwire.StructReader }

func (p PromisedAnswer) QuestionID() uint32 { return p.r.Uint32(0) }
func (p PromisedAnswer) Transform() ([]PipelineOp, error) {
	lr, err := p.r.ListAt(0)
	if err != nil || !lr.IsValid() {
		return nil, err
	}
	ops := make([]PipelineOp, lr.Len())
	for i := range ops {
		s, err := lr.StructAt(i)
		if err != nil {
			return nil, err
		}
		ops[i] = decodePipelineOpReader(s)
	}
	return ops, nil
}

type PromisedAnswerBuilder struct{ b segwire.StructBuilder }

func (p PromisedAnswerBuilder) SetQuestionID(v uint32) { p.b.SetUint32(0, v) }
func (p PromisedAnswerBuilder) SetTransform(ops []PipelineOp) error {
	lb, err := p.b.InitListAt(0, segwire.SizeInlineComposite, uint32(len(ops)), sizePipelineOp)
	if err != nil {
		return err
	}
	for i, op := range ops {
		s, err := lb.StructAt(i)
		if err != nil {
			return err
		}
		encodePipelineOp(s, op)
	}
	return nil
}

// PipelineOp is a single step of a transform path from an answer's result
// struct down to the capability a pipelined call should be delivered to.
type PipelineOp struct {
	Noop         bool
	PointerIndex uint16
}

func decodePipelineOpReader(r segwire.StructReader) PipelineOp {
	if r.Uint16(0) == 0 {
		return PipelineOp{Noop: true}
	}
	return PipelineOp{PointerIndex: r.Uint16(2)}
}

func encodePipelineOp(s segwire.StructBuilder, op PipelineOp) {
	if op.Noop {
		s.SetUint16(0, 0)
		return
	}
	s.SetUint16(0, 1)
	s.SetUint16(2, op.PointerIndex)
}

// --- CapDescriptor ---

// CapDescriptorWhich selects how an embedded capability is described on
// the wire (§4.F).
type CapDescriptorWhich uint16

const (
	DescriptorNone CapDescriptorWhich = iota
	DescriptorSenderHosted
	DescriptorSenderPromise
	DescriptorReceiverHosted
	DescriptorReceiverAnswer
	DescriptorThirdPartyHosted
)

type CapDescriptor struct{ r segwire.StructReader }

func (c CapDescriptor) Which() CapDescriptorWhich { return CapDescriptorWhich(c.r.Uint16(0)) }
func (c CapDescriptor) ID() uint32                { return c.r.Uint32(4) }
func (c CapDescriptor) ReceiverAnswer() (PromisedAnswer, error) {
	s, err := c.r.StructAt(0)
	return PromisedAnswer{s}, err
}

type CapDescriptorBuilder struct{ b segwire.StructBuilder }

func (c CapDescriptorBuilder) SetNone() { c.b.SetUint16(0, uint16(DescriptorNone)) }
func (c CapDescriptorBuilder) SetSenderHosted(exportID uint32) {
	c.b.SetUint16(0, uint16(DescriptorSenderHosted))
	c.b.SetUint32(4, exportID)
}
func (c CapDescriptorBuilder) SetSenderPromise(exportID uint32) {
	c.b.SetUint16(0, uint16(DescriptorSenderPromise))
	c.b.SetUint32(4, exportID)
}
func (c CapDescriptorBuilder) SetReceiverHosted(importID uint32) {
	c.b.SetUint16(0, uint16(DescriptorReceiverHosted))
	c.b.SetUint32(4, importID)
}
func (c CapDescriptorBuilder) NewReceiverAnswer(questionID uint32, ops []PipelineOp) error {
	c.b.SetUint16(0, uint16(DescriptorReceiverAnswer))
	b, err := c.b.InitStructAt(0, sizePromisedAnswer)
	if err != nil {
		return err
	}
	pb := PromisedAnswerBuilder{b}
	pb.SetQuestionID(questionID)
	return pb.SetTransform(ops)
}

var errNilMessage = errors.New("rpc: nil message")
