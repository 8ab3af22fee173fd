// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package operations

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/mia-platform/icedispatch/internal/dispatch"
	"github.com/mia-platform/icedispatch/internal/protocol"
	"github.com/mia-platform/icedispatch/internal/slice"
)

const (
	// TypeID is the most derived interface implemented by the servants of this package.
	TypeID = "::Test::MyDerivedClass"

	VariantSync  = "sync"
	VariantAsync = "async"

	// DoubleMarshalingValue is the only value opDoubleMarshaling accepts.
	DoubleMarshalingValue = 1278312346.0 / 13.0
)

var (
	ErrUnknownVariant  = errors.New("unknown servant variant")
	ErrUnexpectedMode  = errors.New("unexpected operation mode")
	ErrUnexpectedValue = errors.New("unexpected parameter value")
)

//go:embed Test.ice
var definitions string

// LoadDefinitions parses the embedded Test.ice.
func LoadDefinitions(ctx context.Context) (*slice.Unit, error) {
	return slice.Parse(ctx, "Test.ice", definitions)
}

// Definitions returns the embedded Test.ice source.
func Definitions() string {
	return definitions
}

// Shutdowner is what the shutdown operation stops.
type Shutdowner interface {
	Shutdown()
}

// Void is the result of operations without return value or out parameters.
type Void = struct{}

// MyClass lists the operations of ::Test::MyClass. Every operation returns a
// future: resolving it completes the request.
type MyClass interface {
	Shutdown(ctx context.Context, current *dispatch.Current) *dispatch.Future[Void]
	SupportsCompress(ctx context.Context, current *dispatch.Current) *dispatch.Future[bool]
	OpVoid(ctx context.Context, current *dispatch.Current) *dispatch.Future[Void]

	OpByte(ctx context.Context, current *dispatch.Current, p1, p2 byte) *dispatch.Future[OpByteResult]
	OpBool(ctx context.Context, current *dispatch.Current, p1, p2 bool) *dispatch.Future[OpBoolResult]
	OpShortIntLong(ctx context.Context, current *dispatch.Current, p1 int16, p2 int32, p3 int64) *dispatch.Future[OpShortIntLongResult]
	OpFloatDouble(ctx context.Context, current *dispatch.Current, p1 float32, p2 float64) *dispatch.Future[OpFloatDoubleResult]
	OpString(ctx context.Context, current *dispatch.Current, p1, p2 string) *dispatch.Future[OpStringResult]
	OpMyEnum(ctx context.Context, current *dispatch.Current, p1 MyEnum) *dispatch.Future[OpMyEnumResult]
	OpStruct(ctx context.Context, current *dispatch.Current, p1, p2 Structure) *dispatch.Future[OpStructResult]

	OpByteS(ctx context.Context, current *dispatch.Current, p1, p2 []byte) *dispatch.Future[OpByteSResult]
	OpBoolS(ctx context.Context, current *dispatch.Current, p1, p2 []bool) *dispatch.Future[OpBoolSResult]
	OpShortIntLongS(ctx context.Context, current *dispatch.Current, p1 []int16, p2 []int32, p3 []int64) *dispatch.Future[OpShortIntLongSResult]
	OpFloatDoubleS(ctx context.Context, current *dispatch.Current, p1 []float32, p2 []float64) *dispatch.Future[OpFloatDoubleSResult]
	OpStringS(ctx context.Context, current *dispatch.Current, p1, p2 []string) *dispatch.Future[OpStringSResult]
	OpByteSS(ctx context.Context, current *dispatch.Current, p1, p2 [][]byte) *dispatch.Future[OpByteSSResult]
	OpStringSS(ctx context.Context, current *dispatch.Current, p1, p2 [][]string) *dispatch.Future[OpStringSSResult]

	OpByteBoolD(ctx context.Context, current *dispatch.Current, p1, p2 map[byte]bool) *dispatch.Future[OpByteBoolDResult]
	OpStringStringD(ctx context.Context, current *dispatch.Current, p1, p2 map[string]string) *dispatch.Future[OpStringStringDResult]
	OpIntS(ctx context.Context, current *dispatch.Current, s []int32) *dispatch.Future[[]int32]

	OpByteSOneway(ctx context.Context, current *dispatch.Current, s []byte) *dispatch.Future[Void]
	OpByteSOnewayCallCount(ctx context.Context, current *dispatch.Current) *dispatch.Future[int32]

	OpContext(ctx context.Context, current *dispatch.Current) *dispatch.Future[map[string]string]
	OpDoubleMarshaling(ctx context.Context, current *dispatch.Current, p1 float64, p2 []float64) *dispatch.Future[Void]
	OpIdempotent(ctx context.Context, current *dispatch.Current) *dispatch.Future[Void]
	OpNonmutating(ctx context.Context, current *dispatch.Current) *dispatch.Future[Void]

	OpByte1(ctx context.Context, current *dispatch.Current, v byte) *dispatch.Future[byte]
	OpShort1(ctx context.Context, current *dispatch.Current, v int16) *dispatch.Future[int16]
	OpInt1(ctx context.Context, current *dispatch.Current, v int32) *dispatch.Future[int32]
	OpLong1(ctx context.Context, current *dispatch.Current, v int64) *dispatch.Future[int64]
	OpFloat1(ctx context.Context, current *dispatch.Current, v float32) *dispatch.Future[float32]
	OpDouble1(ctx context.Context, current *dispatch.Current, v float64) *dispatch.Future[float64]
	OpString1(ctx context.Context, current *dispatch.Current, v string) *dispatch.Future[string]
	OpStringS1(ctx context.Context, current *dispatch.Current, v []string) *dispatch.Future[[]string]
	OpByteBoolD1(ctx context.Context, current *dispatch.Current, v map[byte]bool) *dispatch.Future[map[byte]bool]

	OpThrow(ctx context.Context, current *dispatch.Current, reason string) *dispatch.Future[Void]
}

// MyDerivedClass lists the operations of ::Test::MyDerivedClass.
type MyDerivedClass interface {
	MyClass
	OpDerived(ctx context.Context, current *dispatch.Current) *dispatch.Future[Void]
}

// New returns the implementation named by variant.
func New(variant string, shutdowner Shutdowner) (MyDerivedClass, error) {
	switch variant {
	case VariantSync:
		return NewSync(shutdowner), nil
	case VariantAsync:
		return NewAsync(shutdowner), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
}

// state is shared by both variants.
type state struct {
	shutdowner Shutdowner

	mu              sync.Mutex
	onewayCallCount int32
}

func (s *state) shutdown() {
	if s.shutdowner != nil {
		s.shutdowner.Shutdown()
	}
}

func (s *state) opByteSOneway() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onewayCallCount++
}

func (s *state) opByteSOnewayCallCount() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := s.onewayCallCount
	s.onewayCallCount = 0
	return count
}

func opByte(p1, p2 byte) OpByteResult {
	return OpByteResult{Return: p1, P3: p1 ^ p2}
}

func opBool(p1, p2 bool) OpBoolResult {
	return OpBoolResult{Return: p2, P3: p1}
}

func opShortIntLong(p1 int16, p2 int32, p3 int64) OpShortIntLongResult {
	return OpShortIntLongResult{Return: p3, P4: p1, P5: p2, P6: p3}
}

func opFloatDouble(p1 float32, p2 float64) OpFloatDoubleResult {
	return OpFloatDoubleResult{Return: p2, P3: p1, P4: p2}
}

func opString(p1, p2 string) OpStringResult {
	return OpStringResult{Return: p1 + " " + p2, P3: p2 + " " + p1}
}

func opMyEnum(p1 MyEnum) OpMyEnumResult {
	return OpMyEnumResult{Return: Enum3, P2: p1}
}

func opStruct(p1, p2 Structure) OpStructResult {
	p3 := p1
	p3.S.S = "a new string"
	return OpStructResult{Return: p2, P3: p3}
}

func reversed[S ~[]E, E any](s S) S {
	r := slices.Clone(s)
	slices.Reverse(r)
	return r
}

func concat[S ~[]E, E any](a, b S) S {
	return append(slices.Clone(a), b...)
}

func opByteS(p1, p2 []byte) OpByteSResult {
	return OpByteSResult{Return: concat(p1, p2), P3: reversed(p1)}
}

func opBoolS(p1, p2 []bool) OpBoolSResult {
	return OpBoolSResult{Return: reversed(p1), P3: concat(p1, p2)}
}

func opShortIntLongS(p1 []int16, p2 []int32, p3 []int64) OpShortIntLongSResult {
	return OpShortIntLongSResult{
		Return: p3,
		P4:     p1,
		P5:     reversed(p2),
		P6:     concat(p3, p3),
	}
}

func opFloatDoubleS(p1 []float32, p2 []float64) OpFloatDoubleSResult {
	ret := slices.Clone(p2)
	for _, f := range p1 {
		ret = append(ret, float64(f))
	}
	return OpFloatDoubleSResult{Return: ret, P3: p1, P4: reversed(p2)}
}

func opStringS(p1, p2 []string) OpStringSResult {
	return OpStringSResult{Return: reversed(p1), P3: concat(p1, p2)}
}

func opByteSS(p1, p2 [][]byte) OpByteSSResult {
	return OpByteSSResult{Return: concat(p1, p2), P3: reversed(p1)}
}

func opStringSS(p1, p2 [][]string) OpStringSSResult {
	return OpStringSSResult{Return: reversed(p2), P3: concat(p1, p2)}
}

func merged[M ~map[K]V, K comparable, V any](p1, p2 M) M {
	m := maps.Clone(p1)
	if m == nil {
		m = make(M, len(p2))
	}
	maps.Copy(m, p2)
	return m
}

func opByteBoolD(p1, p2 map[byte]bool) OpByteBoolDResult {
	return OpByteBoolDResult{Return: merged(p1, p2), P3: p1}
}

func opStringStringD(p1, p2 map[string]string) OpStringStringDResult {
	return OpStringStringDResult{Return: merged(p1, p2), P3: p1}
}

func opIntS(s []int32) []int32 {
	negated := make([]int32, len(s))
	for i, v := range s {
		negated[i] = -v
	}
	return negated
}

func opDoubleMarshaling(p1 float64, p2 []float64) error {
	if p1 != DoubleMarshalingValue {
		return fmt.Errorf("%w: p1 is %v", ErrUnexpectedValue, p1)
	}
	for i, v := range p2 {
		if v != DoubleMarshalingValue {
			return fmt.Errorf("%w: p2[%d] is %v", ErrUnexpectedValue, i, v)
		}
	}
	return nil
}

func checkMode(current *dispatch.Current, expected protocol.OperationMode) error {
	if current.Mode != expected {
		return fmt.Errorf("%w: %s invoked as %s, expected %s", ErrUnexpectedMode, current.Operation, current.Mode, expected)
	}
	return nil
}

func opThrow(reason string) error {
	return &SomeException{Reason: reason}
}
