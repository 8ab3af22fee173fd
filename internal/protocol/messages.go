// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package protocol

import (
	"fmt"

	"github.com/mia-platform/icedispatch/internal/identity"
)

// OperationMode is the mode an operation is invoked with.
type OperationMode byte

const (
	Normal OperationMode = iota
	Nonmutating
	Idempotent
)

func (m OperationMode) String() string {
	switch m {
	case Normal:
		return "normal"
	case Nonmutating:
		return "nonmutating"
	case Idempotent:
		return "idempotent"
	default:
		return fmt.Sprintf("OperationMode(%d)", byte(m))
	}
}

// ReplyStatus is the outcome carried by a reply message.
type ReplyStatus byte

const (
	ReplyOK ReplyStatus = iota
	ReplyUserException
	ReplyObjectNotExist
	ReplyFacetNotExist
	ReplyOperationNotExist
	ReplyUnknownLocalException
	ReplyUnknownUserException
	ReplyUnknownException
)

func (s ReplyStatus) String() string {
	switch s {
	case ReplyOK:
		return "ok"
	case ReplyUserException:
		return "user exception"
	case ReplyObjectNotExist:
		return "object not exist"
	case ReplyFacetNotExist:
		return "facet not exist"
	case ReplyOperationNotExist:
		return "operation not exist"
	case ReplyUnknownLocalException:
		return "unknown local exception"
	case ReplyUnknownUserException:
		return "unknown user exception"
	case ReplyUnknownException:
		return "unknown exception"
	default:
		return fmt.Sprintf("ReplyStatus(%d)", byte(s))
	}
}

// Request is a decoded request, from a request or a batch request message.
type Request struct {
	// RequestID is zero for oneway and batch requests.
	RequestID int32
	Identity  identity.Identity
	Facet     string
	Operation string
	Mode      OperationMode
	Context   map[string]string
	Encoding  Encoding
	// Params is the body of the parameter encapsulation.
	Params []byte
}

// IsOneway reports whether the caller expects no reply.
func (r *Request) IsOneway() bool {
	return r.RequestID == 0
}

func writeIdentity(out *OutputStream, id identity.Identity) {
	out.WriteString(id.Name)
	out.WriteString(id.Category)
}

func readIdentity(in *InputStream) identity.Identity {
	name := in.ReadString()
	category := in.ReadString()
	return identity.Identity{Name: name, Category: category}
}

func writeFacet(out *OutputStream, facet string) {
	if facet == "" {
		out.WriteSize(0)
		return
	}
	out.WriteStringSeq([]string{facet})
}

func readFacet(in *InputStream) string {
	facets := in.ReadStringSeq()
	if in.Err() != nil {
		return ""
	}
	switch len(facets) {
	case 0:
		return ""
	case 1:
		return facets[0]
	default:
		in.Fail(fmt.Errorf("%w: facet path with %d elements", ErrMarshal, len(facets)))
		return ""
	}
}

func writeRequestBody(out *OutputStream, req *Request) {
	writeIdentity(out, req.Identity)
	writeFacet(out, req.Facet)
	out.WriteString(req.Operation)
	out.WriteUint8(byte(req.Mode))
	out.WriteContext(req.Context)

	encoding := req.Encoding
	if encoding == (Encoding{}) {
		encoding = Encoding11
	}
	out.WriteEncapsulation(encoding, req.Params)
}

func readRequestBody(in *InputStream, req *Request) {
	req.Identity = readIdentity(in)
	req.Facet = readFacet(in)
	req.Operation = in.ReadString()
	mode := in.ReadUint8()
	if in.Err() == nil && mode > byte(Idempotent) {
		in.Fail(fmt.Errorf("%w: operation mode %d", ErrMarshal, mode))
	}
	req.Mode = OperationMode(mode)
	req.Context = in.ReadContext()
	req.Params, req.Encoding = in.ReadEncapsulation()
}

// EncodeRequest returns a complete request message for req.
func EncodeRequest(req *Request) []byte {
	out := NewOutputStream()
	out.WriteInt(req.RequestID)
	writeRequestBody(out, req)
	return EncodeMessage(RequestMessage, out.Bytes())
}

// EncodeBatchRequest returns a complete batch request message carrying reqs.
func EncodeBatchRequest(reqs []*Request) []byte {
	out := NewOutputStream()
	out.WriteInt(int32(len(reqs)))
	for _, req := range reqs {
		writeRequestBody(out, req)
	}
	return EncodeMessage(BatchRequestMessage, out.Bytes())
}

// DecodeRequest decodes the body of a request message.
func DecodeRequest(body []byte) (*Request, error) {
	in := NewInputStream(body)
	req := &Request{RequestID: in.ReadInt()}
	readRequestBody(in, req)
	if err := in.Err(); err != nil {
		return nil, err
	}
	if in.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after request", ErrMarshal, in.Remaining())
	}
	return req, nil
}

// DecodeBatchRequest decodes the body of a batch request message.
func DecodeBatchRequest(body []byte) ([]*Request, error) {
	in := NewInputStream(body)
	count := in.ReadInt()
	if err := in.Err(); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative batch count %d", ErrMarshal, count)
	}

	reqs := make([]*Request, 0, min(int(count), in.Remaining()))
	for range count {
		req := new(Request)
		readRequestBody(in, req)
		if err := in.Err(); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if in.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after batch", ErrMarshal, in.Remaining())
	}
	return reqs, nil
}

// Reply is a decoded reply message.
type Reply struct {
	RequestID int32
	Status    ReplyStatus

	// Encoding and Payload are set for ReplyOK and ReplyUserException.
	Encoding Encoding
	Payload  []byte

	// Identity, Facet and Operation are set for the not-exist statuses.
	Identity  identity.Identity
	Facet     string
	Operation string

	// Reason is set for the unknown statuses.
	Reason string
}

// EncodeReply returns a complete reply message for rep.
func EncodeReply(rep *Reply) []byte {
	out := NewOutputStream()
	out.WriteInt(rep.RequestID)
	out.WriteUint8(byte(rep.Status))

	switch rep.Status {
	case ReplyOK, ReplyUserException:
		encoding := rep.Encoding
		if encoding == (Encoding{}) {
			encoding = Encoding11
		}
		out.WriteEncapsulation(encoding, rep.Payload)
	case ReplyObjectNotExist, ReplyFacetNotExist, ReplyOperationNotExist:
		writeIdentity(out, rep.Identity)
		writeFacet(out, rep.Facet)
		out.WriteString(rep.Operation)
	default:
		out.WriteString(rep.Reason)
	}
	return EncodeMessage(ReplyMessage, out.Bytes())
}

// DecodeReply decodes the body of a reply message.
func DecodeReply(body []byte) (*Reply, error) {
	in := NewInputStream(body)
	rep := &Reply{
		RequestID: in.ReadInt(),
		Status:    ReplyStatus(in.ReadUint8()),
	}
	if err := in.Err(); err != nil {
		return nil, err
	}

	switch rep.Status {
	case ReplyOK, ReplyUserException:
		rep.Payload, rep.Encoding = in.ReadEncapsulation()
	case ReplyObjectNotExist, ReplyFacetNotExist, ReplyOperationNotExist:
		rep.Identity = readIdentity(in)
		rep.Facet = readFacet(in)
		rep.Operation = in.ReadString()
	case ReplyUnknownLocalException, ReplyUnknownUserException, ReplyUnknownException:
		rep.Reason = in.ReadString()
	default:
		return nil, NewError(ErrUnknownReplyStatus, rep.Status.String())
	}

	if err := in.Err(); err != nil {
		return nil, err
	}
	return rep, nil
}
