// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/mia-platform/icedispatch/internal/identity"
	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/protocol"
)

// ConnectionInfo describes the connection a request arrived on.
type ConnectionInfo struct {
	ID            string
	Protocol      string
	LocalAddress  string
	RemoteAddress string
}

// Current is the information about the request being dispatched.
type Current struct {
	Adapter    string
	Identity   identity.Identity
	Facet      string
	Operation  string
	Mode       protocol.OperationMode
	Context    map[string]string
	RequestID  int32
	Encoding   protocol.Encoding
	Connection ConnectionInfo
}

// NewCurrent builds the Current of a decoded request.
func NewCurrent(adapter string, req *protocol.Request, connection ConnectionInfo) *Current {
	ctx := req.Context
	if ctx == nil {
		ctx = map[string]string{}
	}
	return &Current{
		Adapter:    adapter,
		Identity:   req.Identity,
		Facet:      req.Facet,
		Operation:  req.Operation,
		Mode:       req.Mode,
		Context:    ctx,
		RequestID:  req.RequestID,
		Encoding:   req.Encoding,
		Connection: connection,
	}
}

// IsOneway reports whether no reply is sent for this request.
func (c *Current) IsOneway() bool {
	return c.RequestID == 0
}

// Request is an incoming invocation.
type Request struct {
	Current *Current
	// Params is the body of the in parameters encapsulation.
	Params []byte
}

// Input returns a stream over the in parameters.
func (r *Request) Input() *protocol.InputStream {
	return protocol.NewInputStream(r.Params)
}

// EndInput checks that in was read without error and completely.
func EndInput(in *protocol.InputStream) error {
	if err := in.Err(); err != nil {
		return NewMarshalError(err)
	}
	if in.Remaining() != 0 {
		return NewMarshalError(fmt.Errorf("%d unread bytes in parameters", in.Remaining()))
	}
	return nil
}

// ResponseWriter completes a request. Exactly one of its methods takes
// effect; later calls are ignored.
type ResponseWriter interface {
	// Ok sends the marshaled out parameters and return value.
	Ok(out []byte)
	// UserException sends a declared exception.
	UserException(ex UserException)
	// Fail sends the reply matching err.
	Fail(err error)
}

// Servant handles the requests for one object.
//
// A servant may complete the request before Dispatch returns, or hold on to
// the ResponseWriter and complete it later from another goroutine.
type Servant interface {
	Dispatch(ctx context.Context, w ResponseWriter, req *Request)
}

// ServantFunc adapts a function to the Servant interface.
type ServantFunc func(ctx context.Context, w ResponseWriter, req *Request)

func (f ServantFunc) Dispatch(ctx context.Context, w ResponseWriter, req *Request) {
	f(ctx, w, req)
}

// Result is the outcome of a dispatch, handed to the completion callback.
type Result struct {
	Current *Current
	Status  protocol.ReplyStatus
	// Reply is nil for oneway requests.
	Reply []byte
	Err   error
}

// WriterOptions configures NewResponseWriter.
type WriterOptions struct {
	Log       logger.Logger
	WarnLevel int
	// Complete receives the result exactly once.
	Complete func(Result)
}

type responseWriter struct {
	current  *Current
	options  WriterOptions
	complete atomic.Bool
}

// NewResponseWriter returns the writer for current.
func NewResponseWriter(current *Current, options WriterOptions) ResponseWriter {
	return &responseWriter{current: current, options: options}
}

func (w *responseWriter) Ok(out []byte) {
	if !w.begin("Ok") {
		return
	}
	w.finish(&protocol.Reply{
		RequestID: w.current.RequestID,
		Status:    protocol.ReplyOK,
		Encoding:  w.current.Encoding,
		Payload:   out,
	}, nil)
}

func (w *responseWriter) UserException(ex UserException) {
	if !w.begin("UserException") {
		return
	}
	w.finish(FailureReply(w.current, ex), ex)
}

func (w *responseWriter) Fail(err error) {
	if !w.begin("Fail") {
		return
	}
	if err == nil {
		err = fmt.Errorf("%w: nil error", ErrUnknown)
	}
	w.finish(FailureReply(w.current, err), err)
}

func (w *responseWriter) begin(method string) bool {
	if w.complete.CompareAndSwap(false, true) {
		return true
	}
	if w.options.Log != nil {
		w.options.Log.Debug("ignoring second completion", "method", method, "operation", w.current.Operation, "error", ErrResponseComplete)
	}
	return false
}

func (w *responseWriter) finish(reply *protocol.Reply, err error) {
	if reply.Status != protocol.ReplyOK && reply.Status != protocol.ReplyUserException && w.options.Log != nil {
		Warn(w.options.Log, w.options.WarnLevel, w.current, reply.Status, err)
	}

	result := Result{Current: w.current, Status: reply.Status, Err: err}
	if !w.current.IsOneway() {
		result.Reply = protocol.EncodeReply(reply)
	}
	if w.options.Complete != nil {
		w.options.Complete(result)
	}
}

// Invoke calls servant and recovers a panic as an unknown exception.
func Invoke(ctx context.Context, servant Servant, w ResponseWriter, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Debug("servant panicked", "panic", r, "stack", string(debug.Stack()))
			w.Fail(fmt.Errorf("servant panic: %v", r))
		}
	}()
	servant.Dispatch(ctx, w, req)
}

// Warn logs a failed dispatch according to the Ice.Warn.Dispatch level: at 1
// and above unknown failures are logged, at 2 and above also missing objects,
// facets and operations.
func Warn(log logger.Logger, level int, current *Current, status protocol.ReplyStatus, err error) {
	if level <= 0 {
		return
	}

	switch status {
	case protocol.ReplyOK, protocol.ReplyUserException:
		return
	case protocol.ReplyObjectNotExist, protocol.ReplyFacetNotExist, protocol.ReplyOperationNotExist:
		if level < 2 {
			return
		}
	}

	args := []any{
		"adapter", current.Adapter,
		"identity", identity.ToString(current.Identity),
		"operation", current.Operation,
		"status", status.String(),
	}
	if current.Facet != "" {
		args = append(args, "facet", current.Facet)
	}
	if current.Connection.RemoteAddress != "" {
		args = append(args, "remote", current.Connection.RemoteAddress)
	}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	log.Warn("dispatch exception", args...)
}
