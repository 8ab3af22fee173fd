// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package client

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/mia-platform/icedispatch/internal/dispatch"
	"github.com/mia-platform/icedispatch/internal/properties"
	"github.com/mia-platform/icedispatch/internal/protocol"
)

var (
	// ErrNoEndpoint is returned when dialing a proxy without endpoints.
	ErrNoEndpoint = errors.New("proxy has no endpoint")
)

// UserExceptionError is a user exception received in a reply. Payload holds
// the marshaled exception slices.
type UserExceptionError struct {
	TypeID  string
	Payload []byte
}

func (e *UserExceptionError) Error() string {
	return "user exception " + e.TypeID
}

// Input returns a stream over the members of the exception slice.
func (e *UserExceptionError) Input() *protocol.InputStream {
	in := protocol.NewInputStream(e.Payload)
	_, members := in.ReadExceptionSlice()
	return members
}

// Proxy invokes operations on one remote object through a connection.
type Proxy struct {
	ref     Reference
	conn    *Connection
	context map[string]string
}

// DialProxy parses value and connects to the first endpoint that answers.
func DialProxy(ctx context.Context, value string, props *properties.Properties) (*Proxy, error) {
	ref, err := ParseReference(value, props)
	if err != nil {
		return nil, err
	}
	if len(ref.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoint, value)
	}

	var errs []error
	for _, ep := range ref.Endpoints {
		conn, err := Dial(ctx, ep)
		if err == nil {
			return NewProxy(conn, ref), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", ep, err))
	}
	return nil, errors.Join(errs...)
}

// NewProxy returns the proxy of ref using conn.
func NewProxy(conn *Connection, ref Reference) *Proxy {
	return &Proxy{ref: ref, conn: conn}
}

func (p *Proxy) Reference() Reference {
	return p.ref
}

func (p *Proxy) Connection() *Connection {
	return p.conn
}

func (p *Proxy) with(fn func(*Proxy)) *Proxy {
	clone := &Proxy{ref: p.ref, conn: p.conn, context: maps.Clone(p.context)}
	clone.ref.Endpoints = append(clone.ref.Endpoints[:0:0], p.ref.Endpoints...)
	fn(clone)
	return clone
}

// Oneway returns a proxy sending requests without waiting for replies.
func (p *Proxy) Oneway() *Proxy {
	return p.with(func(clone *Proxy) { clone.ref.Mode = Oneway })
}

// BatchOneway returns a proxy queuing requests until FlushBatchRequests.
func (p *Proxy) BatchOneway() *Proxy {
	return p.with(func(clone *Proxy) { clone.ref.Mode = BatchOneway })
}

// Twoway returns a proxy waiting for the reply of every request.
func (p *Proxy) Twoway() *Proxy {
	return p.with(func(clone *Proxy) { clone.ref.Mode = Twoway })
}

// Facet returns a proxy for facet of the same object.
func (p *Proxy) Facet(facet string) *Proxy {
	return p.with(func(clone *Proxy) { clone.ref.Facet = facet })
}

// WithContext returns a proxy sending ctx as the request context of every
// invocation that does not pass its own.
func (p *Proxy) WithContext(ctx map[string]string) *Proxy {
	return p.with(func(clone *Proxy) { clone.context = maps.Clone(ctx) })
}

// Invoke sends operation with the marshaled params and returns the body of
// the result encapsulation. A nil requestContext sends the proxy context.
// Oneway proxies return nil results.
func (p *Proxy) Invoke(ctx context.Context, operation string, mode protocol.OperationMode, requestContext map[string]string, params []byte) ([]byte, error) {
	if requestContext == nil {
		requestContext = p.context
	}
	req := &protocol.Request{
		Identity:  p.ref.Identity,
		Facet:     p.ref.Facet,
		Operation: operation,
		Mode:      mode,
		Context:   requestContext,
		Encoding:  p.ref.Encoding,
		Params:    params,
	}

	reply, err := p.conn.Invoke(ctx, req, p.ref.Mode)
	if err != nil || reply == nil {
		return nil, err
	}
	if err := ReplyError(reply); err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

// ReplyError maps a non OK reply to the matching error: a UserExceptionError,
// a dispatch.RequestFailedError or a dispatch.UnknownError.
func ReplyError(reply *protocol.Reply) error {
	switch reply.Status {
	case protocol.ReplyOK:
		return nil
	case protocol.ReplyUserException:
		in := protocol.NewInputStream(reply.Payload)
		typeID, _ := in.ReadExceptionSlice()
		if err := in.Err(); err != nil {
			return err
		}
		return &UserExceptionError{TypeID: typeID, Payload: reply.Payload}
	case protocol.ReplyObjectNotExist, protocol.ReplyFacetNotExist, protocol.ReplyOperationNotExist:
		return &dispatch.RequestFailedError{
			Status:    reply.Status,
			Identity:  reply.Identity,
			Facet:     reply.Facet,
			Operation: reply.Operation,
		}
	default:
		return &dispatch.UnknownError{Status: reply.Status, Reason: reply.Reason}
	}
}

// Ping checks that the object exists.
func (p *Proxy) Ping(ctx context.Context) error {
	_, err := p.Twoway().Invoke(ctx, "ice_ping", protocol.Idempotent, nil, nil)
	return err
}

// IsA reports whether the object implements typeID.
func (p *Proxy) IsA(ctx context.Context, typeID string) (bool, error) {
	out := protocol.NewOutputStream()
	out.WriteString(typeID)
	result, err := p.Twoway().Invoke(ctx, "ice_isA", protocol.Idempotent, nil, out.Bytes())
	if err != nil {
		return false, err
	}
	in := protocol.NewInputStream(result)
	found := in.ReadBool()
	return found, dispatch.EndInput(in)
}

// ID returns the type id of the most derived interface of the object.
func (p *Proxy) ID(ctx context.Context) (string, error) {
	result, err := p.Twoway().Invoke(ctx, "ice_id", protocol.Idempotent, nil, nil)
	if err != nil {
		return "", err
	}
	in := protocol.NewInputStream(result)
	id := in.ReadString()
	return id, dispatch.EndInput(in)
}

// IDs returns the sorted type ids of every interface of the object.
func (p *Proxy) IDs(ctx context.Context) ([]string, error) {
	result, err := p.Twoway().Invoke(ctx, "ice_ids", protocol.Idempotent, nil, nil)
	if err != nil {
		return nil, err
	}
	in := protocol.NewInputStream(result)
	ids := in.ReadStringSeq()
	return ids, dispatch.EndInput(in)
}

// FlushBatchRequests sends the requests queued by batch oneway proxies
// sharing this proxy's connection.
func (p *Proxy) FlushBatchRequests() error {
	return p.conn.FlushBatchRequests()
}

// Close closes the connection of the proxy.
func (p *Proxy) Close() error {
	return p.conn.Close()
}
