package rpc

import (
	"context"

	"github.com/pkg/errors"

	segwire "github.com/segwire/segwire"
)

// ErrCapabilityNotFound is returned when a pipeline op path does not
// terminate on a populated capability pointer.
var ErrCapabilityNotFound = errors.New("rpc: no capability at pipeline op path")

// walkPipelineOps follows a transform path from an answer's result struct
// down to the capability a pipelined call should be delivered to (§4.H
// "Pipeline ops"). Every op but the last descends into a sub-struct via
// GetPointerField; the last op (or, for an empty path, slot 0 of root
// itself) is read as a capability pointer.
func walkPipelineOps(root segwire.StructReader, ops []PipelineOp) (segwire.ClientHook, error) {
	cur := root
	for i, op := range ops {
		if op.Noop {
			continue
		}
		if i == len(ops)-1 {
			hook, err := cur.Capability(op.PointerIndex)
			if err != nil {
				return nil, err
			}
			if hook == nil {
				return nil, ErrCapabilityNotFound
			}
			return hook, nil
		}
		next, err := cur.StructAt(op.PointerIndex)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	hook, err := cur.Capability(0)
	if err != nil {
		return nil, err
	}
	if hook == nil {
		return nil, ErrCapabilityNotFound
	}
	return hook, nil
}

// deliverPendingCall resolves pc's target capability against an answer
// that has just become Sent (or was already Sent when the call arrived)
// and invokes it, asynchronously so the dispatcher is never blocked
// waiting on a server implementation (§5 "the dispatcher suspends only on
// its event channel").
func (s *Session) deliverPendingCall(pc pendingCall, resultContent segwire.StructReader, exc *Exception) {
	if exc != nil {
		go pc.respond(syntheticExceptionReturn(*exc))
		return
	}
	hook, err := walkPipelineOps(resultContent, pc.ops)
	if err != nil {
		go pc.respond(syntheticErrorReturn(err))
		return
	}
	go func() {
		res, err := hook.Call(context.Background(), pc.interfaceID, pc.methodID, pc.params)
		if err != nil {
			pc.respond(syntheticErrorReturn(err))
			return
		}
		pc.respond(syntheticResultsReturn(res))
	}()
}

// syntheticResultsReturn / syntheticExceptionReturn / syntheticErrorReturn
// build a standalone Return-shaped message for delivery over a purely
// local reply channel (no wire round trip involved), so every caller
// waiting on a Return — whether the call crossed the network or was
// resolved entirely in-process — observes the same shape.
func syntheticResultsReturn(content segwire.StructReader) Return {
	_, mb, err := NewOutgoingMessage()
	if err != nil {
		return syntheticErrorReturn(err)
	}
	rb, err := mb.NewReturn()
	if err != nil {
		return syntheticErrorReturn(err)
	}
	pb, err := rb.NewResults()
	if err != nil {
		return syntheticErrorReturn(err)
	}
	if content.IsValid() {
		if err := pb.SetContent(content); err != nil {
			return syntheticErrorReturn(err)
		}
	}
	return rb.AsReader()
}

func syntheticExceptionReturn(exc Exception) Return {
	_, mb, err := NewOutgoingMessage()
	if err != nil {
		return syntheticErrorReturn(err)
	}
	rb, err := mb.NewReturn()
	if err != nil {
		return syntheticErrorReturn(err)
	}
	eb, err := rb.NewException()
	if err != nil {
		return syntheticErrorReturn(err)
	}
	eb.SetType(exc.Type())
	if reason, err := exc.Reason(); err == nil {
		eb.SetReason(reason)
	}
	return rb.AsReader()
}

func syntheticErrorReturn(err error) Return {
	_, mb, buildErr := NewOutgoingMessage()
	if buildErr != nil {
		return Return{}
	}
	rb, buildErr := mb.NewReturn()
	if buildErr != nil {
		return Return{}
	}
	eb, buildErr := rb.NewException()
	if buildErr != nil {
		return Return{}
	}
	eb.SetType(ExceptionFailed)
	reason := "rpc: <nil>"
	if err != nil {
		reason = err.Error()
	}
	eb.SetReason(reason)
	return rb.AsReader()
}

// resultFromReturn unwraps a Return into (results, error), the shape every
// ClientHook.Call implementation in hooks.go ultimately returns.
func resultFromReturn(ret Return) (segwire.StructReader, error) {
	if ret.IsException() {
		exc, err := ret.Exception()
		if err != nil {
			return segwire.StructReader{}, err
		}
		reason, _ := exc.Reason()
		return segwire.StructReader{}, errors.Errorf("rpc: remote exception (%v): %s", exc.Type(), reason)
	}
	if ret.IsCanceled() {
		return segwire.StructReader{}, errors.New("rpc: call canceled")
	}
	results, err := ret.Results()
	if err != nil {
		return segwire.StructReader{}, err
	}
	return results.Content(), nil
}
