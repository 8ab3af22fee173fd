// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package operations

import (
	"fmt"
	"slices"

	"github.com/mia-platform/icedispatch/internal/protocol"
)

type MyEnum int32

const (
	Enum1 MyEnum = iota
	Enum2
	Enum3
)

const myEnumMax = int32(Enum3)

func (e MyEnum) String() string {
	switch e {
	case Enum1:
		return "enum1"
	case Enum2:
		return "enum2"
	case Enum3:
		return "enum3"
	default:
		return fmt.Sprintf("MyEnum(%d)", int32(e))
	}
}

type AnotherStruct struct {
	S string
}

type Structure struct {
	E MyEnum
	S AnotherStruct
}

// SomeException is the user exception raised by opThrow.
type SomeException struct {
	Reason string
}

const SomeExceptionTypeID = "::Test::SomeException"

func (e *SomeException) Error() string {
	return fmt.Sprintf("%s: %s", SomeExceptionTypeID, e.Reason)
}

func (e *SomeException) TypeID() string {
	return SomeExceptionTypeID
}

func (e *SomeException) WriteMembers(out *protocol.OutputStream) {
	out.WriteString(e.Reason)
}

// ReadSomeException decodes the members of a SomeException slice.
func ReadSomeException(in *protocol.InputStream) *SomeException {
	return &SomeException{Reason: in.ReadString()}
}

type OpByteResult struct {
	Return byte
	P3     byte
}

type OpBoolResult struct {
	Return bool
	P3     bool
}

type OpShortIntLongResult struct {
	Return int64
	P4     int16
	P5     int32
	P6     int64
}

type OpFloatDoubleResult struct {
	Return float64
	P3     float32
	P4     float64
}

type OpStringResult struct {
	Return string
	P3     string
}

type OpMyEnumResult struct {
	Return MyEnum
	P2     MyEnum
}

type OpStructResult struct {
	Return Structure
	P3     Structure
}

type OpByteSResult struct {
	Return []byte
	P3     []byte
}

type OpBoolSResult struct {
	Return []bool
	P3     []bool
}

type OpShortIntLongSResult struct {
	Return []int64
	P4     []int16
	P5     []int32
	P6     []int64
}

type OpFloatDoubleSResult struct {
	Return []float64
	P3     []float32
	P4     []float64
}

type OpStringSResult struct {
	Return []string
	P3     []string
}

type OpByteSSResult struct {
	Return [][]byte
	P3     [][]byte
}

type OpStringSSResult struct {
	Return [][]string
	P3     [][]string
}

type OpByteBoolDResult struct {
	Return map[byte]bool
	P3     map[byte]bool
}

type OpStringStringDResult struct {
	Return map[string]string
	P3     map[string]string
}

func writeMyEnum(out *protocol.OutputStream, e MyEnum) {
	out.WriteEnum(int32(e))
}

func readMyEnum(in *protocol.InputStream) MyEnum {
	return MyEnum(in.ReadEnum(myEnumMax))
}

// WriteStructure marshals a Structure.
func WriteStructure(out *protocol.OutputStream, s Structure) {
	writeMyEnum(out, s.E)
	out.WriteString(s.S.S)
}

// ReadStructure unmarshals a Structure.
func ReadStructure(in *protocol.InputStream) Structure {
	e := readMyEnum(in)
	return Structure{E: e, S: AnotherStruct{S: in.ReadString()}}
}

func WriteByteSS(out *protocol.OutputStream, v [][]byte) {
	out.WriteSize(len(v))
	for _, s := range v {
		out.WriteByteSeq(s)
	}
}

func ReadByteSS(in *protocol.InputStream) [][]byte {
	count := in.ReadSize()
	if in.Err() != nil || count > in.Remaining() {
		in.Fail(protocol.ErrUnmarshalOutOfBounds)
		return nil
	}
	v := make([][]byte, 0, count)
	for range count {
		v = append(v, in.ReadByteSeq())
	}
	return v
}

func WriteStringSS(out *protocol.OutputStream, v [][]string) {
	out.WriteSize(len(v))
	for _, s := range v {
		out.WriteStringSeq(s)
	}
}

func ReadStringSS(in *protocol.InputStream) [][]string {
	count := in.ReadSize()
	if in.Err() != nil || count > in.Remaining() {
		in.Fail(protocol.ErrUnmarshalOutOfBounds)
		return nil
	}
	v := make([][]string, 0, count)
	for range count {
		v = append(v, in.ReadStringSeq())
	}
	return v
}

// WriteByteBoolD marshals the dictionary with its keys in ascending order.
func WriteByteBoolD(out *protocol.OutputStream, v map[byte]bool) {
	keys := make([]byte, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out.WriteSize(len(keys))
	for _, key := range keys {
		out.WriteUint8(key)
		out.WriteBool(v[key])
	}
}

func ReadByteBoolD(in *protocol.InputStream) map[byte]bool {
	count := in.ReadSize()
	if in.Err() != nil || count*2 > in.Remaining() {
		in.Fail(protocol.ErrUnmarshalOutOfBounds)
		return nil
	}
	v := make(map[byte]bool, count)
	for range count {
		key := in.ReadUint8()
		v[key] = in.ReadBool()
	}
	return v
}
