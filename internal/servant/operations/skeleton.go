// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package operations

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mia-platform/icedispatch/internal/dispatch"
	"github.com/mia-platform/icedispatch/internal/protocol"
	"github.com/mia-platform/icedispatch/internal/slice"
)

var (
	ErrMissingInterface  = errors.New("interface not defined")
	ErrMissingHandler    = errors.New("operation has no handler")
	ErrSignatureMismatch = errors.New("operation signature does not match its handler")
)

// Skeleton turns a MyDerivedClass implementation into a servant. Parameters
// are decoded and operation modes checked against the loaded definitions.
type Skeleton struct {
	impl       MyDerivedClass
	typeIDs    []string
	operations map[string]*slice.Operation
}

var _ dispatch.Servant = &Skeleton{}

// NewSkeleton checks that every operation unit declares for ::Test::MyDerivedClass
// has a handler with a matching number of parameters.
func NewSkeleton(impl MyDerivedClass, unit *slice.Unit) (*Skeleton, error) {
	if _, ok := unit.Interface(TypeID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingInterface, TypeID)
	}

	operations := make(map[string]*slice.Operation)
	for _, op := range unit.Operations(TypeID) {
		h, ok := handlers[op.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingHandler, op.Name)
		}

		out := len(op.OutParams)
		if op.Return.Kind != slice.KindVoid {
			out++
		}
		if len(op.InParams) != h.in || out != h.out {
			return nil, fmt.Errorf("%w: %s declares %d in and %d out values, handler expects %d and %d", ErrSignatureMismatch, op.Name, len(op.InParams), out, h.in, h.out)
		}
		operations[op.Name] = op
	}

	return &Skeleton{
		impl:       impl,
		typeIDs:    unit.TypeIDs(TypeID),
		operations: operations,
	}, nil
}

// TypeIDs returns the sorted type ids answered by ice_ids.
func (s *Skeleton) TypeIDs() []string {
	return slices.Clone(s.typeIDs)
}

func (s *Skeleton) Dispatch(ctx context.Context, w dispatch.ResponseWriter, req *dispatch.Request) {
	if dispatch.DispatchBuiltin(w, req, s.typeIDs, TypeID) {
		return
	}

	current := req.Current
	op, ok := s.operations[current.Operation]
	if !ok {
		w.Fail(dispatch.NewOperationNotExistError(current))
		return
	}
	if err := dispatch.CheckMode(op.Mode, current.Mode); err != nil {
		w.Fail(err)
		return
	}

	handlers[op.Name].call(ctx, s.impl, &declaredWriter{ResponseWriter: w, throws: op.Throws}, req)
}

// declaredWriter lets through only the user exceptions the operation
// declares; any other one reaches the caller as an unknown user exception.
type declaredWriter struct {
	dispatch.ResponseWriter
	throws []string
}

func (w *declaredWriter) UserException(ex dispatch.UserException) {
	if slices.Contains(w.throws, ex.TypeID()) {
		w.ResponseWriter.UserException(ex)
		return
	}
	w.ResponseWriter.Fail(&dispatch.UnknownError{Status: protocol.ReplyUnknownUserException, Reason: ex.TypeID()})
}

type handler struct {
	in   int
	out  int
	call func(ctx context.Context, impl MyDerivedClass, w dispatch.ResponseWriter, req *dispatch.Request)
}

// readParams decodes the in parameters with read and fails the request when
// they are malformed.
func readParams(w dispatch.ResponseWriter, req *dispatch.Request, read func(in *protocol.InputStream)) bool {
	in := req.Input()
	if read != nil {
		read(in)
	}
	if err := dispatch.EndInput(in); err != nil {
		w.Fail(err)
		return false
	}
	return true
}

// reply completes the request once future resolves.
func reply[T any](w dispatch.ResponseWriter, future *dispatch.Future[T], write func(out *protocol.OutputStream, value T)) {
	future.Then(func(value T, err error) {
		if err != nil {
			var ex dispatch.UserException
			if errors.As(err, &ex) {
				w.UserException(ex)
				return
			}
			w.Fail(err)
			return
		}

		out := protocol.NewOutputStream()
		if write != nil {
			write(out, value)
		}
		w.Ok(out.Bytes())
	})
}

// noParams builds the handler of an operation without in parameters.
func noParams[T any](out int, call func(impl MyDerivedClass, ctx context.Context, current *dispatch.Current) *dispatch.Future[T], write func(*protocol.OutputStream, T)) handler {
	return handler{
		in:  0,
		out: out,
		call: func(ctx context.Context, impl MyDerivedClass, w dispatch.ResponseWriter, req *dispatch.Request) {
			if !readParams(w, req, nil) {
				return
			}
			reply(w, call(impl, ctx, req.Current), write)
		},
	}
}

// oneParam builds the handler of an operation with a single in parameter.
func oneParam[P, T any](out int, read func(*protocol.InputStream) P, call func(impl MyDerivedClass, ctx context.Context, current *dispatch.Current, p P) *dispatch.Future[T], write func(*protocol.OutputStream, T)) handler {
	return handler{
		in:  1,
		out: out,
		call: func(ctx context.Context, impl MyDerivedClass, w dispatch.ResponseWriter, req *dispatch.Request) {
			var p P
			if !readParams(w, req, func(in *protocol.InputStream) { p = read(in) }) {
				return
			}
			reply(w, call(impl, ctx, req.Current, p), write)
		},
	}
}

// twoParams builds the handler of an operation with two in parameters of the same type.
func twoParams[P, T any](out int, read func(*protocol.InputStream) P, call func(impl MyDerivedClass, ctx context.Context, current *dispatch.Current, p1, p2 P) *dispatch.Future[T], write func(*protocol.OutputStream, T)) handler {
	return handler{
		in:  2,
		out: out,
		call: func(ctx context.Context, impl MyDerivedClass, w dispatch.ResponseWriter, req *dispatch.Request) {
			var p1, p2 P
			if !readParams(w, req, func(in *protocol.InputStream) {
				p1 = read(in)
				p2 = read(in)
			}) {
				return
			}
			reply(w, call(impl, ctx, req.Current, p1, p2), write)
		},
	}
}

var handlers = map[string]handler{
	"shutdown":         noParams(0, MyDerivedClass.Shutdown, nil),
	"supportsCompress": noParams(1, MyDerivedClass.SupportsCompress, (*protocol.OutputStream).WriteBool),
	"opVoid":           noParams(0, MyDerivedClass.OpVoid, nil),
	"opDerived":        noParams(0, MyDerivedClass.OpDerived, nil),

	"opByte": twoParams(2, (*protocol.InputStream).ReadUint8, MyDerivedClass.OpByte, func(out *protocol.OutputStream, r OpByteResult) {
		out.WriteUint8(r.P3)
		out.WriteUint8(r.Return)
	}),
	"opBool": twoParams(2, (*protocol.InputStream).ReadBool, MyDerivedClass.OpBool, func(out *protocol.OutputStream, r OpBoolResult) {
		out.WriteBool(r.P3)
		out.WriteBool(r.Return)
	}),
	"opShortIntLong": {
		in:  3,
		out: 4,
		call: func(ctx context.Context, impl MyDerivedClass, w dispatch.ResponseWriter, req *dispatch.Request) {
			var (
				p1 int16
				p2 int32
				p3 int64
			)
			if !readParams(w, req, func(in *protocol.InputStream) {
				p1 = in.ReadShort()
				p2 = in.ReadInt()
				p3 = in.ReadLong()
			}) {
				return
			}
			reply(w, impl.OpShortIntLong(ctx, req.Current, p1, p2, p3), func(out *protocol.OutputStream, r OpShortIntLongResult) {
				out.WriteShort(r.P4)
				out.WriteInt(r.P5)
				out.WriteLong(r.P6)
				out.WriteLong(r.Return)
			})
		},
	},
	"opFloatDouble": {
		in:  2,
		out: 3,
		call: func(ctx context.Context, impl MyDerivedClass, w dispatch.ResponseWriter, req *dispatch.Request) {
			var (
				p1 float32
				p2 float64
			)
			if !readParams(w, req, func(in *protocol.InputStream) {
				p1 = in.ReadFloat()
				p2 = in.ReadDouble()
			}) {
				return
			}
			reply(w, impl.OpFloatDouble(ctx, req.Current, p1, p2), func(out *protocol.OutputStream, r OpFloatDoubleResult) {
				out.WriteFloat(r.P3)
				out.WriteDouble(r.P4)
				out.WriteDouble(r.Return)
			})
		},
	},
	"opString": twoParams(2, (*protocol.InputStream).ReadString, MyDerivedClass.OpString, func(out *protocol.OutputStream, r OpStringResult) {
		out.WriteString(r.P3)
		out.WriteString(r.Return)
	}),
	"opMyEnum": oneParam(2, readMyEnum, MyDerivedClass.OpMyEnum, func(out *protocol.OutputStream, r OpMyEnumResult) {
		writeMyEnum(out, r.P2)
		writeMyEnum(out, r.Return)
	}),
	"opStruct": twoParams(2, ReadStructure, MyDerivedClass.OpStruct, func(out *protocol.OutputStream, r OpStructResult) {
		WriteStructure(out, r.P3)
		WriteStructure(out, r.Return)
	}),

	"opByteS": twoParams(2, (*protocol.InputStream).ReadByteSeq, MyDerivedClass.OpByteS, func(out *protocol.OutputStream, r OpByteSResult) {
		out.WriteByteSeq(r.P3)
		out.WriteByteSeq(r.Return)
	}),
	"opBoolS": twoParams(2, (*protocol.InputStream).ReadBoolSeq, MyDerivedClass.OpBoolS, func(out *protocol.OutputStream, r OpBoolSResult) {
		out.WriteBoolSeq(r.P3)
		out.WriteBoolSeq(r.Return)
	}),
	"opShortIntLongS": {
		in:  3,
		out: 4,
		call: func(ctx context.Context, impl MyDerivedClass, w dispatch.ResponseWriter, req *dispatch.Request) {
			var (
				p1 []int16
				p2 []int32
				p3 []int64
			)
			if !readParams(w, req, func(in *protocol.InputStream) {
				p1 = in.ReadShortSeq()
				p2 = in.ReadIntSeq()
				p3 = in.ReadLongSeq()
			}) {
				return
			}
			reply(w, impl.OpShortIntLongS(ctx, req.Current, p1, p2, p3), func(out *protocol.OutputStream, r OpShortIntLongSResult) {
				out.WriteShortSeq(r.P4)
				out.WriteIntSeq(r.P5)
				out.WriteLongSeq(r.P6)
				out.WriteLongSeq(r.Return)
			})
		},
	},
	"opFloatDoubleS": {
		in:  2,
		out: 3,
		call: func(ctx context.Context, impl MyDerivedClass, w dispatch.ResponseWriter, req *dispatch.Request) {
			var (
				p1 []float32
				p2 []float64
			)
			if !readParams(w, req, func(in *protocol.InputStream) {
				p1 = in.ReadFloatSeq()
				p2 = in.ReadDoubleSeq()
			}) {
				return
			}
			reply(w, impl.OpFloatDoubleS(ctx, req.Current, p1, p2), func(out *protocol.OutputStream, r OpFloatDoubleSResult) {
				out.WriteFloatSeq(r.P3)
				out.WriteDoubleSeq(r.P4)
				out.WriteDoubleSeq(r.Return)
			})
		},
	},
	"opStringS": twoParams(2, (*protocol.InputStream).ReadStringSeq, MyDerivedClass.OpStringS, func(out *protocol.OutputStream, r OpStringSResult) {
		out.WriteStringSeq(r.P3)
		out.WriteStringSeq(r.Return)
	}),
	"opByteSS": twoParams(2, ReadByteSS, MyDerivedClass.OpByteSS, func(out *protocol.OutputStream, r OpByteSSResult) {
		WriteByteSS(out, r.P3)
		WriteByteSS(out, r.Return)
	}),
	"opStringSS": twoParams(2, ReadStringSS, MyDerivedClass.OpStringSS, func(out *protocol.OutputStream, r OpStringSSResult) {
		WriteStringSS(out, r.P3)
		WriteStringSS(out, r.Return)
	}),

	"opByteBoolD": twoParams(2, ReadByteBoolD, MyDerivedClass.OpByteBoolD, func(out *protocol.OutputStream, r OpByteBoolDResult) {
		WriteByteBoolD(out, r.P3)
		WriteByteBoolD(out, r.Return)
	}),
	"opStringStringD": twoParams(2, (*protocol.InputStream).ReadContext, MyDerivedClass.OpStringStringD, func(out *protocol.OutputStream, r OpStringStringDResult) {
		out.WriteContext(r.P3)
		out.WriteContext(r.Return)
	}),
	"opIntS": oneParam(1, (*protocol.InputStream).ReadIntSeq, MyDerivedClass.OpIntS, (*protocol.OutputStream).WriteIntSeq),

	"opByteSOneway":          oneParam(0, (*protocol.InputStream).ReadByteSeq, MyDerivedClass.OpByteSOneway, nil),
	"opByteSOnewayCallCount": noParams(1, MyDerivedClass.OpByteSOnewayCallCount, (*protocol.OutputStream).WriteInt),

	"opContext": noParams(1, MyDerivedClass.OpContext, (*protocol.OutputStream).WriteContext),

	"opDoubleMarshaling": {
		in:  2,
		out: 0,
		call: func(ctx context.Context, impl MyDerivedClass, w dispatch.ResponseWriter, req *dispatch.Request) {
			var (
				p1 float64
				p2 []float64
			)
			if !readParams(w, req, func(in *protocol.InputStream) {
				p1 = in.ReadDouble()
				p2 = in.ReadDoubleSeq()
			}) {
				return
			}
			reply(w, impl.OpDoubleMarshaling(ctx, req.Current, p1, p2), nil)
		},
	},
	"opIdempotent":  noParams(0, MyDerivedClass.OpIdempotent, nil),
	"opNonmutating": noParams(0, MyDerivedClass.OpNonmutating, nil),

	"opByte1":      oneParam(1, (*protocol.InputStream).ReadUint8, MyDerivedClass.OpByte1, (*protocol.OutputStream).WriteUint8),
	"opShort1":     oneParam(1, (*protocol.InputStream).ReadShort, MyDerivedClass.OpShort1, (*protocol.OutputStream).WriteShort),
	"opInt1":       oneParam(1, (*protocol.InputStream).ReadInt, MyDerivedClass.OpInt1, (*protocol.OutputStream).WriteInt),
	"opLong1":      oneParam(1, (*protocol.InputStream).ReadLong, MyDerivedClass.OpLong1, (*protocol.OutputStream).WriteLong),
	"opFloat1":     oneParam(1, (*protocol.InputStream).ReadFloat, MyDerivedClass.OpFloat1, (*protocol.OutputStream).WriteFloat),
	"opDouble1":    oneParam(1, (*protocol.InputStream).ReadDouble, MyDerivedClass.OpDouble1, (*protocol.OutputStream).WriteDouble),
	"opString1":    oneParam(1, (*protocol.InputStream).ReadString, MyDerivedClass.OpString1, (*protocol.OutputStream).WriteString),
	"opStringS1":   oneParam(1, (*protocol.InputStream).ReadStringSeq, MyDerivedClass.OpStringS1, (*protocol.OutputStream).WriteStringSeq),
	"opByteBoolD1": oneParam(1, ReadByteBoolD, MyDerivedClass.OpByteBoolD1, WriteByteBoolD),

	"opThrow": oneParam(0, (*protocol.InputStream).ReadString, MyDerivedClass.OpThrow, nil),
}
