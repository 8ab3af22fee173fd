// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package operations

import (
	"context"

	"github.com/mia-platform/icedispatch/internal/dispatch"
	"github.com/mia-platform/icedispatch/internal/protocol"
)

// Sync answers every operation before returning: the futures it hands back
// are already resolved.
type Sync struct {
	*state
}

var _ MyDerivedClass = &Sync{}

// NewSync returns the directly returning implementation.
func NewSync(shutdowner Shutdowner) *Sync {
	return &Sync{state: &state{shutdowner: shutdowner}}
}

// resolve runs fn on the calling goroutine.
func resolve[T any](fn func() (T, error)) *dispatch.Future[T] {
	value, err := fn()
	if err != nil {
		return dispatch.Failed[T](err)
	}
	return dispatch.Resolved(value)
}

func (s *Sync) Shutdown(_ context.Context, _ *dispatch.Current) *dispatch.Future[Void] {
	s.shutdown()
	return dispatch.Resolved(Void{})
}

func (s *Sync) SupportsCompress(_ context.Context, _ *dispatch.Current) *dispatch.Future[bool] {
	return dispatch.Resolved(false)
}

func (s *Sync) OpVoid(_ context.Context, _ *dispatch.Current) *dispatch.Future[Void] {
	return dispatch.Resolved(Void{})
}

func (s *Sync) OpByte(_ context.Context, _ *dispatch.Current, p1, p2 byte) *dispatch.Future[OpByteResult] {
	return dispatch.Resolved(opByte(p1, p2))
}

func (s *Sync) OpBool(_ context.Context, _ *dispatch.Current, p1, p2 bool) *dispatch.Future[OpBoolResult] {
	return dispatch.Resolved(opBool(p1, p2))
}

func (s *Sync) OpShortIntLong(_ context.Context, _ *dispatch.Current, p1 int16, p2 int32, p3 int64) *dispatch.Future[OpShortIntLongResult] {
	return dispatch.Resolved(opShortIntLong(p1, p2, p3))
}

func (s *Sync) OpFloatDouble(_ context.Context, _ *dispatch.Current, p1 float32, p2 float64) *dispatch.Future[OpFloatDoubleResult] {
	return dispatch.Resolved(opFloatDouble(p1, p2))
}

func (s *Sync) OpString(_ context.Context, _ *dispatch.Current, p1, p2 string) *dispatch.Future[OpStringResult] {
	return dispatch.Resolved(opString(p1, p2))
}

func (s *Sync) OpMyEnum(_ context.Context, _ *dispatch.Current, p1 MyEnum) *dispatch.Future[OpMyEnumResult] {
	return dispatch.Resolved(opMyEnum(p1))
}

func (s *Sync) OpStruct(_ context.Context, _ *dispatch.Current, p1, p2 Structure) *dispatch.Future[OpStructResult] {
	return dispatch.Resolved(opStruct(p1, p2))
}

func (s *Sync) OpByteS(_ context.Context, _ *dispatch.Current, p1, p2 []byte) *dispatch.Future[OpByteSResult] {
	return dispatch.Resolved(opByteS(p1, p2))
}

func (s *Sync) OpBoolS(_ context.Context, _ *dispatch.Current, p1, p2 []bool) *dispatch.Future[OpBoolSResult] {
	return dispatch.Resolved(opBoolS(p1, p2))
}

func (s *Sync) OpShortIntLongS(_ context.Context, _ *dispatch.Current, p1 []int16, p2 []int32, p3 []int64) *dispatch.Future[OpShortIntLongSResult] {
	return dispatch.Resolved(opShortIntLongS(p1, p2, p3))
}

func (s *Sync) OpFloatDoubleS(_ context.Context, _ *dispatch.Current, p1 []float32, p2 []float64) *dispatch.Future[OpFloatDoubleSResult] {
	return dispatch.Resolved(opFloatDoubleS(p1, p2))
}

func (s *Sync) OpStringS(_ context.Context, _ *dispatch.Current, p1, p2 []string) *dispatch.Future[OpStringSResult] {
	return dispatch.Resolved(opStringS(p1, p2))
}

func (s *Sync) OpByteSS(_ context.Context, _ *dispatch.Current, p1, p2 [][]byte) *dispatch.Future[OpByteSSResult] {
	return dispatch.Resolved(opByteSS(p1, p2))
}

func (s *Sync) OpStringSS(_ context.Context, _ *dispatch.Current, p1, p2 [][]string) *dispatch.Future[OpStringSSResult] {
	return dispatch.Resolved(opStringSS(p1, p2))
}

func (s *Sync) OpByteBoolD(_ context.Context, _ *dispatch.Current, p1, p2 map[byte]bool) *dispatch.Future[OpByteBoolDResult] {
	return dispatch.Resolved(opByteBoolD(p1, p2))
}

func (s *Sync) OpStringStringD(_ context.Context, _ *dispatch.Current, p1, p2 map[string]string) *dispatch.Future[OpStringStringDResult] {
	return dispatch.Resolved(opStringStringD(p1, p2))
}

func (s *Sync) OpIntS(_ context.Context, _ *dispatch.Current, v []int32) *dispatch.Future[[]int32] {
	return dispatch.Resolved(opIntS(v))
}

func (s *Sync) OpByteSOneway(_ context.Context, _ *dispatch.Current, _ []byte) *dispatch.Future[Void] {
	s.opByteSOneway()
	return dispatch.Resolved(Void{})
}

func (s *Sync) OpByteSOnewayCallCount(_ context.Context, _ *dispatch.Current) *dispatch.Future[int32] {
	return dispatch.Resolved(s.opByteSOnewayCallCount())
}

func (s *Sync) OpContext(_ context.Context, current *dispatch.Current) *dispatch.Future[map[string]string] {
	return dispatch.Resolved(current.Context)
}

func (s *Sync) OpDoubleMarshaling(_ context.Context, _ *dispatch.Current, p1 float64, p2 []float64) *dispatch.Future[Void] {
	return resolve(func() (Void, error) {
		return Void{}, opDoubleMarshaling(p1, p2)
	})
}

func (s *Sync) OpIdempotent(_ context.Context, current *dispatch.Current) *dispatch.Future[Void] {
	return resolve(func() (Void, error) {
		return Void{}, checkMode(current, protocol.Idempotent)
	})
}

func (s *Sync) OpNonmutating(_ context.Context, current *dispatch.Current) *dispatch.Future[Void] {
	return resolve(func() (Void, error) {
		return Void{}, checkMode(current, protocol.Nonmutating)
	})
}

func (s *Sync) OpByte1(_ context.Context, _ *dispatch.Current, v byte) *dispatch.Future[byte] {
	return dispatch.Resolved(v)
}

func (s *Sync) OpShort1(_ context.Context, _ *dispatch.Current, v int16) *dispatch.Future[int16] {
	return dispatch.Resolved(v)
}

func (s *Sync) OpInt1(_ context.Context, _ *dispatch.Current, v int32) *dispatch.Future[int32] {
	return dispatch.Resolved(v)
}

func (s *Sync) OpLong1(_ context.Context, _ *dispatch.Current, v int64) *dispatch.Future[int64] {
	return dispatch.Resolved(v)
}

func (s *Sync) OpFloat1(_ context.Context, _ *dispatch.Current, v float32) *dispatch.Future[float32] {
	return dispatch.Resolved(v)
}

func (s *Sync) OpDouble1(_ context.Context, _ *dispatch.Current, v float64) *dispatch.Future[float64] {
	return dispatch.Resolved(v)
}

func (s *Sync) OpString1(_ context.Context, _ *dispatch.Current, v string) *dispatch.Future[string] {
	return dispatch.Resolved(v)
}

func (s *Sync) OpStringS1(_ context.Context, _ *dispatch.Current, v []string) *dispatch.Future[[]string] {
	return dispatch.Resolved(v)
}

func (s *Sync) OpByteBoolD1(_ context.Context, _ *dispatch.Current, v map[byte]bool) *dispatch.Future[map[byte]bool] {
	return dispatch.Resolved(v)
}

func (s *Sync) OpThrow(_ context.Context, _ *dispatch.Current, reason string) *dispatch.Future[Void] {
	return resolve(func() (Void, error) {
		return Void{}, opThrow(reason)
	})
}

func (s *Sync) OpDerived(_ context.Context, _ *dispatch.Current) *dispatch.Future[Void] {
	return dispatch.Resolved(Void{})
}
