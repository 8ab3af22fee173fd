// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sort"
)

// Encoding is the version of the data encoding used inside an encapsulation.
type Encoding struct {
	Major byte
	Minor byte
}

var (
	Encoding10 = Encoding{Major: 1, Minor: 0}
	Encoding11 = Encoding{Major: 1, Minor: 1}
)

func (e Encoding) String() string {
	return fmt.Sprintf("%d.%d", e.Major, e.Minor)
}

// Supported reports whether values in this encoding can be read.
func (e Encoding) Supported() bool {
	return e.Major == 1 && e.Minor <= 1
}

const (
	encapsulationHeaderSize = 6

	sliceFlagHasTypeIDString byte = 0x01
	sliceFlagHasSliceSize    byte = 0x10
	sliceFlagIsLastSlice     byte = 0x20
)

// OutputStream marshals values in the little endian wire format.
type OutputStream struct {
	buf    []byte
	encaps []int
}

// NewOutputStream returns an empty stream.
func NewOutputStream() *OutputStream {
	return &OutputStream{buf: make([]byte, 0, 256)}
}

// Bytes returns the marshaled data.
func (out *OutputStream) Bytes() []byte {
	return out.buf
}

func (out *OutputStream) Len() int {
	return len(out.buf)
}

func (out *OutputStream) WriteBlob(data []byte) {
	out.buf = append(out.buf, data...)
}

func (out *OutputStream) WriteUint8(v byte) {
	out.buf = append(out.buf, v)
}

func (out *OutputStream) WriteBool(v bool) {
	if v {
		out.buf = append(out.buf, 1)
		return
	}
	out.buf = append(out.buf, 0)
}

func (out *OutputStream) WriteShort(v int16) {
	out.buf = binary.LittleEndian.AppendUint16(out.buf, uint16(v))
}

func (out *OutputStream) WriteInt(v int32) {
	out.buf = binary.LittleEndian.AppendUint32(out.buf, uint32(v))
}

func (out *OutputStream) WriteLong(v int64) {
	out.buf = binary.LittleEndian.AppendUint64(out.buf, uint64(v))
}

func (out *OutputStream) WriteFloat(v float32) {
	out.buf = binary.LittleEndian.AppendUint32(out.buf, math.Float32bits(v))
}

func (out *OutputStream) WriteDouble(v float64) {
	out.buf = binary.LittleEndian.AppendUint64(out.buf, math.Float64bits(v))
}

// WriteSize writes a size: one byte below 255, otherwise 255 followed by an int.
func (out *OutputStream) WriteSize(v int) {
	if v < 255 {
		out.buf = append(out.buf, byte(v))
		return
	}
	out.buf = append(out.buf, 255)
	out.WriteInt(int32(v))
}

// WriteEnum writes an enumerator value, encoded as a size.
func (out *OutputStream) WriteEnum(v int32) {
	out.WriteSize(int(v))
}

func (out *OutputStream) WriteString(v string) {
	out.WriteSize(len(v))
	out.buf = append(out.buf, v...)
}

func (out *OutputStream) WriteByteSeq(v []byte) {
	out.WriteSize(len(v))
	out.buf = append(out.buf, v...)
}

func (out *OutputStream) WriteBoolSeq(v []bool) {
	out.WriteSize(len(v))
	for _, b := range v {
		out.WriteBool(b)
	}
}

func (out *OutputStream) WriteShortSeq(v []int16) {
	out.WriteSize(len(v))
	for _, s := range v {
		out.WriteShort(s)
	}
}

func (out *OutputStream) WriteIntSeq(v []int32) {
	out.WriteSize(len(v))
	for _, i := range v {
		out.WriteInt(i)
	}
}

func (out *OutputStream) WriteLongSeq(v []int64) {
	out.WriteSize(len(v))
	for _, l := range v {
		out.WriteLong(l)
	}
}

func (out *OutputStream) WriteFloatSeq(v []float32) {
	out.WriteSize(len(v))
	for _, f := range v {
		out.WriteFloat(f)
	}
}

func (out *OutputStream) WriteDoubleSeq(v []float64) {
	out.WriteSize(len(v))
	for _, d := range v {
		out.WriteDouble(d)
	}
}

func (out *OutputStream) WriteStringSeq(v []string) {
	out.WriteSize(len(v))
	for _, s := range v {
		out.WriteString(s)
	}
}

// WriteContext writes a string dictionary; keys are written in sorted order
// so equal maps always marshal to equal bytes.
func (out *OutputStream) WriteContext(ctx map[string]string) {
	out.WriteSize(len(ctx))
	keys := make([]string, 0, len(ctx))
	for key := range ctx {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out.WriteString(key)
		out.WriteString(ctx[key])
	}
}

// StartEncapsulation opens an encapsulation in the given encoding. Every call
// must be paired with EndEncapsulation.
func (out *OutputStream) StartEncapsulation(encoding Encoding) {
	out.encaps = append(out.encaps, len(out.buf))
	out.WriteInt(0)
	out.WriteUint8(encoding.Major)
	out.WriteUint8(encoding.Minor)
}

// EndEncapsulation patches the size of the innermost open encapsulation.
func (out *OutputStream) EndEncapsulation() {
	last := len(out.encaps) - 1
	start := out.encaps[last]
	out.encaps = out.encaps[:last]
	binary.LittleEndian.PutUint32(out.buf[start:start+4], uint32(len(out.buf)-start))
}

// WriteEncapsulation writes payload as an already marshaled encapsulation body.
func (out *OutputStream) WriteEncapsulation(encoding Encoding, payload []byte) {
	out.WriteInt(int32(len(payload) + encapsulationHeaderSize))
	out.WriteUint8(encoding.Major)
	out.WriteUint8(encoding.Minor)
	out.buf = append(out.buf, payload...)
}

// WriteEmptyEncapsulation writes an encapsulation with no content.
func (out *OutputStream) WriteEmptyEncapsulation(encoding Encoding) {
	out.WriteEncapsulation(encoding, nil)
}

// WriteExceptionSlice writes a user exception as a single, last slice with a
// string type id. members writes the data members of the slice.
func (out *OutputStream) WriteExceptionSlice(typeID string, members func(*OutputStream)) {
	out.WriteUint8(sliceFlagHasTypeIDString | sliceFlagHasSliceSize | sliceFlagIsLastSlice)
	out.WriteString(typeID)
	start := len(out.buf)
	out.WriteInt(0)
	if members != nil {
		members(out)
	}
	binary.LittleEndian.PutUint32(out.buf[start:start+4], uint32(len(out.buf)-start))
}

// InputStream unmarshals values. The first failure is sticky: later reads
// return zero values and Err reports the failure.
type InputStream struct {
	buf []byte
	pos int
	err error
}

// NewInputStream returns a stream reading from buf.
func NewInputStream(buf []byte) *InputStream {
	return &InputStream{buf: buf}
}

// Err returns the first failure met while reading.
func (in *InputStream) Err() error {
	return in.err
}

// Remaining returns the number of unread bytes.
func (in *InputStream) Remaining() int {
	return len(in.buf) - in.pos
}

// Fail records err unless a failure is already recorded.
func (in *InputStream) Fail(err error) {
	if in.err == nil {
		in.err = err
	}
}

func (in *InputStream) next(n int) []byte {
	if in.err != nil {
		return nil
	}
	if n < 0 || n > in.Remaining() {
		in.err = fmt.Errorf("%w: need %d bytes, %d left", ErrUnmarshalOutOfBounds, n, in.Remaining())
		return nil
	}
	data := in.buf[in.pos : in.pos+n]
	in.pos += n
	return data
}

// ReadBlob returns the next n bytes, shared with the underlying buffer.
func (in *InputStream) ReadBlob(n int) []byte {
	return in.next(n)
}

// ReadRest returns every unread byte.
func (in *InputStream) ReadRest() []byte {
	return in.next(in.Remaining())
}

func (in *InputStream) ReadUint8() byte {
	data := in.next(1)
	if data == nil {
		return 0
	}
	return data[0]
}

func (in *InputStream) ReadBool() bool {
	return in.ReadUint8() != 0
}

func (in *InputStream) ReadShort() int16 {
	data := in.next(2)
	if data == nil {
		return 0
	}
	return int16(binary.LittleEndian.Uint16(data))
}

func (in *InputStream) ReadInt() int32 {
	data := in.next(4)
	if data == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(data))
}

func (in *InputStream) ReadLong() int64 {
	data := in.next(8)
	if data == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(data))
}

func (in *InputStream) ReadFloat() float32 {
	data := in.next(4)
	if data == nil {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(data))
}

func (in *InputStream) ReadDouble() float64 {
	data := in.next(8)
	if data == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(data))
}

func (in *InputStream) ReadSize() int {
	first := in.ReadUint8()
	if first < 255 {
		return int(first)
	}

	size := in.ReadInt()
	if size < 0 {
		in.Fail(fmt.Errorf("%w: negative size %d", ErrMarshal, size))
		return 0
	}
	return int(size)
}

// readCount reads a sequence size and checks that at least minElementSize
// bytes per element are left in the stream.
func (in *InputStream) readCount(minElementSize int) int {
	size := in.ReadSize()
	if in.err != nil {
		return 0
	}
	if size*minElementSize > in.Remaining() {
		in.Fail(fmt.Errorf("%w: sequence of %d elements", ErrUnmarshalOutOfBounds, size))
		return 0
	}
	return size
}

// ReadEnum reads an enumerator and checks it against the highest legal value.
func (in *InputStream) ReadEnum(maxValue int32) int32 {
	value := in.ReadSize()
	if in.err == nil && value > int(maxValue) {
		in.Fail(fmt.Errorf("%w: enumerator %d out of range", ErrMarshal, value))
		return 0
	}
	return int32(value)
}

func (in *InputStream) ReadString() string {
	size := in.ReadSize()
	return string(in.next(size))
}

func (in *InputStream) ReadByteSeq() []byte {
	size := in.readCount(1)
	return slices.Clone(in.next(size))
}

func (in *InputStream) ReadBoolSeq() []bool {
	size := in.readCount(1)
	values := make([]bool, size)
	for i := range values {
		values[i] = in.ReadBool()
	}
	return values
}

func (in *InputStream) ReadShortSeq() []int16 {
	size := in.readCount(2)
	values := make([]int16, size)
	for i := range values {
		values[i] = in.ReadShort()
	}
	return values
}

func (in *InputStream) ReadIntSeq() []int32 {
	size := in.readCount(4)
	values := make([]int32, size)
	for i := range values {
		values[i] = in.ReadInt()
	}
	return values
}

func (in *InputStream) ReadLongSeq() []int64 {
	size := in.readCount(8)
	values := make([]int64, size)
	for i := range values {
		values[i] = in.ReadLong()
	}
	return values
}

func (in *InputStream) ReadFloatSeq() []float32 {
	size := in.readCount(4)
	values := make([]float32, size)
	for i := range values {
		values[i] = in.ReadFloat()
	}
	return values
}

func (in *InputStream) ReadDoubleSeq() []float64 {
	size := in.readCount(8)
	values := make([]float64, size)
	for i := range values {
		values[i] = in.ReadDouble()
	}
	return values
}

func (in *InputStream) ReadStringSeq() []string {
	size := in.readCount(1)
	values := make([]string, size)
	for i := range values {
		values[i] = in.ReadString()
	}
	return values
}

func (in *InputStream) ReadContext() map[string]string {
	size := in.readCount(2)
	ctx := make(map[string]string, size)
	for range size {
		key := in.ReadString()
		ctx[key] = in.ReadString()
	}
	return ctx
}

// ReadEncapsulation returns the body of the next encapsulation and its encoding.
func (in *InputStream) ReadEncapsulation() ([]byte, Encoding) {
	size := int(in.ReadInt())
	if in.err != nil {
		return nil, Encoding{}
	}
	if size < encapsulationHeaderSize {
		in.Fail(fmt.Errorf("%w: encapsulation size %d", ErrMarshal, size))
		return nil, Encoding{}
	}

	encoding := Encoding{Major: in.ReadUint8(), Minor: in.ReadUint8()}
	payload := in.next(size - encapsulationHeaderSize)
	if in.err != nil {
		return nil, Encoding{}
	}
	if !encoding.Supported() {
		in.Fail(NewError(ErrUnsupportedEncoding, encoding.String()))
		return nil, Encoding{}
	}
	return payload, encoding
}

// ReadExceptionSlice reads the header of a user exception slice and returns
// its type id and a stream over its members.
func (in *InputStream) ReadExceptionSlice() (string, *InputStream) {
	flags := in.ReadUint8()
	if in.err == nil && flags&sliceFlagHasTypeIDString == 0 {
		in.Fail(fmt.Errorf("%w: exception slice without a type id", ErrMarshal))
		return "", nil
	}

	typeID := in.ReadString()
	if flags&sliceFlagHasSliceSize == 0 {
		return typeID, NewInputStream(in.ReadRest())
	}

	size := int(in.ReadInt())
	if in.err == nil && size < 4 {
		in.Fail(fmt.Errorf("%w: slice size %d", ErrMarshal, size))
	}
	members := in.next(size - 4)
	if in.err != nil {
		return "", nil
	}
	return typeID, NewInputStream(members)
}
