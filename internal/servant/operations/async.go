// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package operations

import (
	"context"

	"github.com/mia-platform/icedispatch/internal/dispatch"
	"github.com/mia-platform/icedispatch/internal/protocol"
)

// Async suspends every operation: each one completes from its own goroutine
// after the dispatch returned, releasing the worker that received it.
type Async struct {
	*state
}

var _ MyDerivedClass = &Async{}

// NewAsync returns the suspension capable implementation.
func NewAsync(shutdowner Shutdowner) *Async {
	return &Async{state: &state{shutdowner: shutdowner}}
}

func (s *Async) Shutdown(_ context.Context, _ *dispatch.Current) *dispatch.Future[Void] {
	return dispatch.Go(func() (Void, error) {
		s.shutdown()
		return Void{}, nil
	})
}

func (s *Async) SupportsCompress(_ context.Context, _ *dispatch.Current) *dispatch.Future[bool] {
	return dispatch.Go(func() (bool, error) {
		return false, nil
	})
}

func (s *Async) OpVoid(_ context.Context, _ *dispatch.Current) *dispatch.Future[Void] {
	return dispatch.Go(func() (Void, error) {
		return Void{}, nil
	})
}

func (s *Async) OpByte(_ context.Context, _ *dispatch.Current, p1, p2 byte) *dispatch.Future[OpByteResult] {
	return dispatch.Go(func() (OpByteResult, error) {
		return opByte(p1, p2), nil
	})
}

func (s *Async) OpBool(_ context.Context, _ *dispatch.Current, p1, p2 bool) *dispatch.Future[OpBoolResult] {
	return dispatch.Go(func() (OpBoolResult, error) {
		return opBool(p1, p2), nil
	})
}

func (s *Async) OpShortIntLong(_ context.Context, _ *dispatch.Current, p1 int16, p2 int32, p3 int64) *dispatch.Future[OpShortIntLongResult] {
	return dispatch.Go(func() (OpShortIntLongResult, error) {
		return opShortIntLong(p1, p2, p3), nil
	})
}

func (s *Async) OpFloatDouble(_ context.Context, _ *dispatch.Current, p1 float32, p2 float64) *dispatch.Future[OpFloatDoubleResult] {
	return dispatch.Go(func() (OpFloatDoubleResult, error) {
		return opFloatDouble(p1, p2), nil
	})
}

func (s *Async) OpString(_ context.Context, _ *dispatch.Current, p1, p2 string) *dispatch.Future[OpStringResult] {
	return dispatch.Go(func() (OpStringResult, error) {
		return opString(p1, p2), nil
	})
}

func (s *Async) OpMyEnum(_ context.Context, _ *dispatch.Current, p1 MyEnum) *dispatch.Future[OpMyEnumResult] {
	return dispatch.Go(func() (OpMyEnumResult, error) {
		return opMyEnum(p1), nil
	})
}

func (s *Async) OpStruct(_ context.Context, _ *dispatch.Current, p1, p2 Structure) *dispatch.Future[OpStructResult] {
	return dispatch.Go(func() (OpStructResult, error) {
		return opStruct(p1, p2), nil
	})
}

func (s *Async) OpByteS(_ context.Context, _ *dispatch.Current, p1, p2 []byte) *dispatch.Future[OpByteSResult] {
	return dispatch.Go(func() (OpByteSResult, error) {
		return opByteS(p1, p2), nil
	})
}

func (s *Async) OpBoolS(_ context.Context, _ *dispatch.Current, p1, p2 []bool) *dispatch.Future[OpBoolSResult] {
	return dispatch.Go(func() (OpBoolSResult, error) {
		return opBoolS(p1, p2), nil
	})
}

func (s *Async) OpShortIntLongS(_ context.Context, _ *dispatch.Current, p1 []int16, p2 []int32, p3 []int64) *dispatch.Future[OpShortIntLongSResult] {
	return dispatch.Go(func() (OpShortIntLongSResult, error) {
		return opShortIntLongS(p1, p2, p3), nil
	})
}

func (s *Async) OpFloatDoubleS(_ context.Context, _ *dispatch.Current, p1 []float32, p2 []float64) *dispatch.Future[OpFloatDoubleSResult] {
	return dispatch.Go(func() (OpFloatDoubleSResult, error) {
		return opFloatDoubleS(p1, p2), nil
	})
}

func (s *Async) OpStringS(_ context.Context, _ *dispatch.Current, p1, p2 []string) *dispatch.Future[OpStringSResult] {
	return dispatch.Go(func() (OpStringSResult, error) {
		return opStringS(p1, p2), nil
	})
}

func (s *Async) OpByteSS(_ context.Context, _ *dispatch.Current, p1, p2 [][]byte) *dispatch.Future[OpByteSSResult] {
	return dispatch.Go(func() (OpByteSSResult, error) {
		return opByteSS(p1, p2), nil
	})
}

func (s *Async) OpStringSS(_ context.Context, _ *dispatch.Current, p1, p2 [][]string) *dispatch.Future[OpStringSSResult] {
	return dispatch.Go(func() (OpStringSSResult, error) {
		return opStringSS(p1, p2), nil
	})
}

func (s *Async) OpByteBoolD(_ context.Context, _ *dispatch.Current, p1, p2 map[byte]bool) *dispatch.Future[OpByteBoolDResult] {
	return dispatch.Go(func() (OpByteBoolDResult, error) {
		return opByteBoolD(p1, p2), nil
	})
}

func (s *Async) OpStringStringD(_ context.Context, _ *dispatch.Current, p1, p2 map[string]string) *dispatch.Future[OpStringStringDResult] {
	return dispatch.Go(func() (OpStringStringDResult, error) {
		return opStringStringD(p1, p2), nil
	})
}

func (s *Async) OpIntS(_ context.Context, _ *dispatch.Current, v []int32) *dispatch.Future[[]int32] {
	return dispatch.Go(func() ([]int32, error) {
		return opIntS(v), nil
	})
}

func (s *Async) OpByteSOneway(_ context.Context, _ *dispatch.Current, _ []byte) *dispatch.Future[Void] {
	return dispatch.Go(func() (Void, error) {
		s.opByteSOneway()
		return Void{}, nil
	})
}

func (s *Async) OpByteSOnewayCallCount(_ context.Context, _ *dispatch.Current) *dispatch.Future[int32] {
	return dispatch.Go(func() (int32, error) {
		return s.opByteSOnewayCallCount(), nil
	})
}

func (s *Async) OpContext(_ context.Context, current *dispatch.Current) *dispatch.Future[map[string]string] {
	return dispatch.Go(func() (map[string]string, error) {
		return current.Context, nil
	})
}

func (s *Async) OpDoubleMarshaling(_ context.Context, _ *dispatch.Current, p1 float64, p2 []float64) *dispatch.Future[Void] {
	return dispatch.Go(func() (Void, error) {
		return Void{}, opDoubleMarshaling(p1, p2)
	})
}

func (s *Async) OpIdempotent(_ context.Context, current *dispatch.Current) *dispatch.Future[Void] {
	return dispatch.Go(func() (Void, error) {
		return Void{}, checkMode(current, protocol.Idempotent)
	})
}

func (s *Async) OpNonmutating(_ context.Context, current *dispatch.Current) *dispatch.Future[Void] {
	return dispatch.Go(func() (Void, error) {
		return Void{}, checkMode(current, protocol.Nonmutating)
	})
}

func (s *Async) OpByte1(_ context.Context, _ *dispatch.Current, v byte) *dispatch.Future[byte] {
	return dispatch.Go(func() (byte, error) {
		return v, nil
	})
}

func (s *Async) OpShort1(_ context.Context, _ *dispatch.Current, v int16) *dispatch.Future[int16] {
	return dispatch.Go(func() (int16, error) {
		return v, nil
	})
}

func (s *Async) OpInt1(_ context.Context, _ *dispatch.Current, v int32) *dispatch.Future[int32] {
	return dispatch.Go(func() (int32, error) {
		return v, nil
	})
}

func (s *Async) OpLong1(_ context.Context, _ *dispatch.Current, v int64) *dispatch.Future[int64] {
	return dispatch.Go(func() (int64, error) {
		return v, nil
	})
}

func (s *Async) OpFloat1(_ context.Context, _ *dispatch.Current, v float32) *dispatch.Future[float32] {
	return dispatch.Go(func() (float32, error) {
		return v, nil
	})
}

func (s *Async) OpDouble1(_ context.Context, _ *dispatch.Current, v float64) *dispatch.Future[float64] {
	return dispatch.Go(func() (float64, error) {
		return v, nil
	})
}

func (s *Async) OpString1(_ context.Context, _ *dispatch.Current, v string) *dispatch.Future[string] {
	return dispatch.Go(func() (string, error) {
		return v, nil
	})
}

func (s *Async) OpStringS1(_ context.Context, _ *dispatch.Current, v []string) *dispatch.Future[[]string] {
	return dispatch.Go(func() ([]string, error) {
		return v, nil
	})
}

func (s *Async) OpByteBoolD1(_ context.Context, _ *dispatch.Current, v map[byte]bool) *dispatch.Future[map[byte]bool] {
	return dispatch.Go(func() (map[byte]bool, error) {
		return v, nil
	})
}

func (s *Async) OpThrow(_ context.Context, _ *dispatch.Current, reason string) *dispatch.Future[Void] {
	return dispatch.Go(func() (Void, error) {
		return Void{}, opThrow(reason)
	})
}

func (s *Async) OpDerived(_ context.Context, _ *dispatch.Current) *dispatch.Future[Void] {
	return dispatch.Go(func() (Void, error) {
		return Void{}, nil
	})
}
