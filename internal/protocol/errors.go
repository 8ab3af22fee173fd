// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrBadMagic                = errors.New("bad magic")
	ErrUnsupportedProtocol     = errors.New("unsupported protocol")
	ErrUnsupportedEncoding     = errors.New("unsupported encoding")
	ErrCompressionNotSupported = errors.New("compression not supported")
	ErrIllegalMessageSize      = errors.New("illegal message size")
	ErrMessageTooLarge         = errors.New("message size exceeds the maximum")
	ErrUnknownMessageType      = errors.New("unknown message type")
	ErrUnknownReplyStatus      = errors.New("unknown reply status")

	// ErrUnmarshalOutOfBounds is returned when a stream is read past its end.
	ErrUnmarshalOutOfBounds = errors.New("unmarshal out of bounds")
	// ErrMarshal is returned for well sized but malformed content.
	ErrMarshal = errors.New("marshal error")
)

// Error is a violation of the wire protocol. A connection that reads one is
// closed without a reply.
type Error struct {
	Reason string
	Err    error
}

// NewError wraps err in a protocol *Error with the given reason.
func NewError(err error, reason string) *Error {
	return &Error{Reason: reason, Err: err}
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("protocol error: %s", e.Err)
	}
	return fmt.Sprintf("protocol error: %s: %s", e.Err, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	_, ok := target.(*Error)
	return ok
}
