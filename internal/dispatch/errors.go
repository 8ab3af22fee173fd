// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package dispatch

import (
	"errors"
	"fmt"

	"github.com/mia-platform/icedispatch/internal/identity"
	"github.com/mia-platform/icedispatch/internal/protocol"
)

var (
	ErrObjectNotExist    = errors.New("object does not exist")
	ErrFacetNotExist     = errors.New("facet does not exist")
	ErrOperationNotExist = errors.New("operation does not exist")

	ErrUnknownLocal     = errors.New("unknown local exception")
	ErrUnknownUser      = errors.New("unknown user exception")
	ErrUnknown          = errors.New("unknown exception")
	ErrMarshal          = errors.New("marshal exception")
	ErrResponseComplete = errors.New("response already completed")
)

// RequestFailedError reports that the target of a request could not be
// found: the object, its facet or the operation.
type RequestFailedError struct {
	Status    protocol.ReplyStatus
	Identity  identity.Identity
	Facet     string
	Operation string
}

// NewObjectNotExistError returns the error for a missing identity.
func NewObjectNotExistError(current *Current) *RequestFailedError {
	return newRequestFailed(protocol.ReplyObjectNotExist, current)
}

// NewFacetNotExistError returns the error for an identity without the requested facet.
func NewFacetNotExistError(current *Current) *RequestFailedError {
	return newRequestFailed(protocol.ReplyFacetNotExist, current)
}

// NewOperationNotExistError returns the error for an operation the servant does not implement.
func NewOperationNotExistError(current *Current) *RequestFailedError {
	return newRequestFailed(protocol.ReplyOperationNotExist, current)
}

func newRequestFailed(status protocol.ReplyStatus, current *Current) *RequestFailedError {
	return &RequestFailedError{
		Status:    status,
		Identity:  current.Identity,
		Facet:     current.Facet,
		Operation: current.Operation,
	}
}

func (e *RequestFailedError) sentinel() error {
	switch e.Status {
	case protocol.ReplyObjectNotExist:
		return ErrObjectNotExist
	case protocol.ReplyFacetNotExist:
		return ErrFacetNotExist
	default:
		return ErrOperationNotExist
	}
}

func (e *RequestFailedError) Error() string {
	facet := ""
	if e.Facet != "" {
		facet = fmt.Sprintf(" -f %s", e.Facet)
	}
	return fmt.Sprintf("%s: identity %q%s operation %q", e.sentinel(), identity.ToString(e.Identity), facet, e.Operation)
}

func (e *RequestFailedError) Unwrap() error {
	return e.sentinel()
}

// UnknownError carries a failure that crossed the wire as a string: an
// unknown local, user or generic exception.
type UnknownError struct {
	Status protocol.ReplyStatus
	Reason string
}

func (e *UnknownError) sentinel() error {
	switch e.Status {
	case protocol.ReplyUnknownLocalException:
		return ErrUnknownLocal
	case protocol.ReplyUnknownUserException:
		return ErrUnknownUser
	default:
		return ErrUnknown
	}
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("%s: %s", e.sentinel(), e.Reason)
}

func (e *UnknownError) Unwrap() error {
	return e.sentinel()
}

// LocalError is a runtime failure raised while dispatching, for example a
// deactivated adapter or a marshaling problem. It reaches the caller as an
// unknown local exception named after Kind.
type LocalError struct {
	Kind   string
	Reason string
	Err    error
}

// NewLocalError returns a local error of the given kind.
func NewLocalError(kind, reason string, err error) *LocalError {
	return &LocalError{Kind: kind, Reason: reason, Err: err}
}

// NewMarshalError wraps a decoding failure of request parameters.
func NewMarshalError(err error) *LocalError {
	return &LocalError{Kind: "MarshalException", Reason: err.Error(), Err: errors.Join(ErrMarshal, err)}
}

func (e *LocalError) Error() string {
	if e.Reason == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *LocalError) Unwrap() error {
	return e.Err
}

// UserException is an exception declared in the interface definition. It is
// marshaled back to the caller as a user exception reply.
type UserException interface {
	error
	// TypeID returns the scoped type id, for example "::Test::SomeException".
	TypeID() string
	// WriteMembers marshals the data members.
	WriteMembers(out *protocol.OutputStream)
}

// FailureReply returns the reply for a dispatch that ended with err.
func FailureReply(current *Current, err error) *protocol.Reply {
	reply := &protocol.Reply{RequestID: current.RequestID}

	var (
		requestFailed *RequestFailedError
		unknown       *UnknownError
		local         *LocalError
		userException UserException
	)

	switch {
	case errors.As(err, &requestFailed):
		reply.Status = requestFailed.Status
		reply.Identity = requestFailed.Identity
		reply.Facet = requestFailed.Facet
		reply.Operation = requestFailed.Operation
	case errors.As(err, &userException):
		reply.Status = protocol.ReplyUserException
		reply.Encoding = current.Encoding
		reply.Payload = MarshalUserException(userException)
	case errors.As(err, &unknown):
		reply.Status = unknown.Status
		reply.Reason = unknown.Reason
	case errors.As(err, &local):
		reply.Status = protocol.ReplyUnknownLocalException
		reply.Reason = local.Error()
	default:
		reply.Status = protocol.ReplyUnknownException
		reply.Reason = err.Error()
	}
	return reply
}

// MarshalUserException returns the encapsulation body for ex.
func MarshalUserException(ex UserException) []byte {
	out := protocol.NewOutputStream()
	out.WriteExceptionSlice(ex.TypeID(), ex.WriteMembers)
	return out.Bytes()
}
