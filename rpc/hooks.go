package rpc

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	segwire "github.com/segwire/segwire"
)

// ErrCapabilityClosed is returned by a ClientHook whose backing resource
// (local dispatch loop, RPC session, question) has already been closed.
var ErrCapabilityClosed = errors.New("rpc: capability closed")

// Server is implemented by any object a program wants to export over RPC.
// The `Dispatch<Name>` functions codegen/golang emits are plain functions
// keyed by method id only; they do not implement Server themselves, but a
// Server can forward to one once it has checked interfaceID.
type Server interface {
	Dispatch(ctx context.Context, interfaceID uint64, methodID uint16, params segwire.StructReader) (segwire.StructReader, error)
}

// localCall is one request queued to a LocalClient's dispatch goroutine.
type localCall struct {
	ctx         context.Context
	interfaceID uint64
	methodID    uint16
	params      segwire.StructReader
	reply       chan localResult
}

type localResult struct {
	res segwire.StructReader
	err error
}

// LocalClient adapts a Server to segwire.ClientHook by running it behind a
// dedicated goroutine that serializes calls onto it one at a time — the Go
// translation of capability.rs's LocalClient, which spawns a single task
// per exported object and turns Call into a channel send.
type LocalClient struct {
	srv    Server
	ch     chan localCall
	closed chan struct{}
	once   sync.Once
}

// NewLocalClient wraps srv, starting its dispatch goroutine.
func NewLocalClient(srv Server) *LocalClient {
	lc := &LocalClient{srv: srv, ch: make(chan localCall), closed: make(chan struct{})}
	go lc.loop()
	return lc
}

func (lc *LocalClient) loop() {
	for {
		select {
		case c := <-lc.ch:
			res, err := lc.srv.Dispatch(c.ctx, c.interfaceID, c.methodID, c.params)
			c.reply <- localResult{res, err}
		case <-lc.closed:
			return
		}
	}
}

// Call implements segwire.ClientHook.
func (lc *LocalClient) Call(ctx context.Context, interfaceID uint64, methodID uint16, params segwire.StructReader) (segwire.StructReader, error) {
	reply := make(chan localResult, 1)
	select {
	case lc.ch <- localCall{ctx, interfaceID, methodID, params, reply}:
	case <-lc.closed:
		return segwire.StructReader{}, ErrCapabilityClosed
	case <-ctx.Done():
		return segwire.StructReader{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.res, r.err
	case <-ctx.Done():
		return segwire.StructReader{}, ctx.Err()
	}
}

// Close implements segwire.ClientHook. Safe to call more than once.
func (lc *LocalClient) Close() error {
	lc.once.Do(func() { close(lc.closed) })
	return nil
}

// ImportClient proxies a capability the peer hosts, addressed by the
// import id the peer's SenderHosted/SenderPromise descriptor carried.
// Calling it sends a fresh Call over the wire targeting that imported cap.
type ImportClient struct {
	sess     *Session
	importID uint32
}

func (c *ImportClient) Call(ctx context.Context, interfaceID uint64, methodID uint16, params segwire.StructReader) (segwire.StructReader, error) {
	ret, err := c.sess.issueCall(ctx, interfaceID, methodID, params, func(tb MessageTargetBuilder) error {
		tb.SetImportedCap(c.importID)
		return nil
	})
	if err != nil {
		return segwire.StructReader{}, err
	}
	return resultFromReturn(ret)
}

func (c *ImportClient) Close() error {
	c.sess.releaseImport(c.importID, 1)
	return nil
}

// PipelineClient proxies the not-yet-resolved future result of a question
// WE asked the peer. Each call walks ops from that eventual result and is
// itself sent as a brand new Call (with MessageTarget = PromisedAnswer),
// letting the peer deliver it the moment its own answer resolves without
// us waiting on the round trip first (§4.H "Pipeline ops").
type PipelineClient struct {
	sess       *Session
	questionID uint32
	ops        []PipelineOp
}

func (c *PipelineClient) Call(ctx context.Context, interfaceID uint64, methodID uint16, params segwire.StructReader) (segwire.StructReader, error) {
	ret, err := c.sess.issueCall(ctx, interfaceID, methodID, params, func(tb MessageTargetBuilder) error {
		pab, err := tb.NewPromisedAnswer()
		if err != nil {
			return err
		}
		pab.SetQuestionID(c.questionID)
		return pab.SetTransform(c.ops)
	})
	if err != nil {
		return segwire.StructReader{}, err
	}
	return resultFromReturn(ret)
}

func (c *PipelineClient) Close() error { return nil }

// PromisedAnswerClient proxies a capability pipelined against one of OUR
// OWN still-pending answers — purely local bookkeeping, never touching
// the wire directly. A call against it becomes an OutgoingDeferred event
// queued on that answer's pending list (§4.H "OutgoingDeferred").
type PromisedAnswerClient struct {
	sess     *Session
	answerID uint32
	ops      []PipelineOp
}

func (c *PromisedAnswerClient) Call(ctx context.Context, interfaceID uint64, methodID uint16, params segwire.StructReader) (segwire.StructReader, error) {
	reply := make(chan Return, 1)
	pc := pendingCall{
		ops:         c.ops,
		interfaceID: interfaceID,
		methodID:    methodID,
		params:      params,
		respond:     func(ret Return) { reply <- ret },
	}
	select {
	case c.sess.eventCh <- outgoingDeferredEvent{answerID: c.answerID, pc: pc}:
	case <-ctx.Done():
		return segwire.StructReader{}, ctx.Err()
	case <-c.sess.done:
		return segwire.StructReader{}, ErrCapabilityClosed
	}
	select {
	case ret := <-reply:
		return resultFromReturn(ret)
	case <-ctx.Done():
		return segwire.StructReader{}, ctx.Err()
	case <-c.sess.done:
		return segwire.StructReader{}, ErrCapabilityClosed
	}
}

func (c *PromisedAnswerClient) Close() error { return nil }
