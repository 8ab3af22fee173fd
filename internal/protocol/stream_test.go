// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeEncoding(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		size     int
		expected []byte
	}{
		"zero":          {size: 0, expected: []byte{0}},
		"largest short": {size: 254, expected: []byte{254}},
		"first long":    {size: 255, expected: []byte{255, 255, 0, 0, 0}},
		"large":         {size: 70000, expected: []byte{255, 0x70, 0x11, 0x01, 0x00}},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			out := NewOutputStream()
			out.WriteSize(test.size)
			assert.Equal(t, test.expected, out.Bytes())

			in := NewInputStream(out.Bytes())
			assert.Equal(t, test.size, in.ReadSize())
			require.NoError(t, in.Err())
			assert.Zero(t, in.Remaining())
		})
	}
}

func TestPrimitiveLayout(t *testing.T) {
	t.Parallel()

	out := NewOutputStream()
	out.WriteUint8(0xff)
	out.WriteBool(true)
	out.WriteShort(-2)
	out.WriteInt(1)
	out.WriteLong(-1)
	out.WriteString("ab")

	assert.Equal(t, []byte{
		0xff,
		1,
		0xfe, 0xff,
		1, 0, 0, 0,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		2, 'a', 'b',
	}, out.Bytes())

	in := NewInputStream(out.Bytes())
	assert.Equal(t, byte(0xff), in.ReadUint8())
	assert.True(t, in.ReadBool())
	assert.Equal(t, int16(-2), in.ReadShort())
	assert.Equal(t, int32(1), in.ReadInt())
	assert.Equal(t, int64(-1), in.ReadLong())
	assert.Equal(t, "ab", in.ReadString())
	require.NoError(t, in.Err())
}

func TestOutOfBoundsIsSticky(t *testing.T) {
	t.Parallel()

	in := NewInputStream([]byte{1, 2})
	assert.Zero(t, in.ReadInt())
	require.ErrorIs(t, in.Err(), ErrUnmarshalOutOfBounds)

	// later reads keep failing even if bytes would be available
	assert.Zero(t, in.ReadUint8())
	require.ErrorIs(t, in.Err(), ErrUnmarshalOutOfBounds)
}

func TestSequenceSizeLargerThanStream(t *testing.T) {
	t.Parallel()

	out := NewOutputStream()
	out.WriteSize(1000)
	out.WriteInt(1)

	in := NewInputStream(out.Bytes())
	assert.Empty(t, in.ReadIntSeq())
	require.ErrorIs(t, in.Err(), ErrUnmarshalOutOfBounds)
}

func TestEnumRange(t *testing.T) {
	t.Parallel()

	out := NewOutputStream()
	out.WriteEnum(2)
	out.WriteEnum(3)

	in := NewInputStream(out.Bytes())
	assert.Equal(t, int32(2), in.ReadEnum(2))
	require.NoError(t, in.Err())
	in.ReadEnum(2)
	require.ErrorIs(t, in.Err(), ErrMarshal)
}

func TestContextIsSorted(t *testing.T) {
	t.Parallel()

	ctx := map[string]string{"b": "2", "a": "1", "c": "3"}

	first := NewOutputStream()
	first.WriteContext(ctx)
	second := NewOutputStream()
	second.WriteContext(map[string]string{"c": "3", "a": "1", "b": "2"})
	assert.Equal(t, first.Bytes(), second.Bytes())
	assert.Equal(t, []byte{3, 1, 'a', 1, '1', 1, 'b', 1, '2', 1, 'c', 1, '3'}, first.Bytes())

	in := NewInputStream(first.Bytes())
	assert.Equal(t, ctx, in.ReadContext())
	require.NoError(t, in.Err())
}

func TestEncapsulation(t *testing.T) {
	t.Parallel()

	out := NewOutputStream()
	out.StartEncapsulation(Encoding11)
	out.WriteInt(42)
	out.EndEncapsulation()
	out.WriteEmptyEncapsulation(Encoding10)

	assert.Equal(t, []byte{
		10, 0, 0, 0, 1, 1, 42, 0, 0, 0,
		6, 0, 0, 0, 1, 0,
	}, out.Bytes())

	in := NewInputStream(out.Bytes())
	payload, encoding := in.ReadEncapsulation()
	assert.Equal(t, Encoding11, encoding)
	assert.Equal(t, []byte{42, 0, 0, 0}, payload)

	payload, encoding = in.ReadEncapsulation()
	assert.Equal(t, Encoding10, encoding)
	assert.Empty(t, payload)
	require.NoError(t, in.Err())
}

func TestEncapsulationErrors(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		data          []byte
		expectedError error
	}{
		"size below header": {
			data:          []byte{5, 0, 0, 0, 1, 1},
			expectedError: ErrMarshal,
		},
		"size past end": {
			data:          []byte{20, 0, 0, 0, 1, 1},
			expectedError: ErrUnmarshalOutOfBounds,
		},
		"unsupported encoding": {
			data:          []byte{6, 0, 0, 0, 2, 0},
			expectedError: ErrUnsupportedEncoding,
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			in := NewInputStream(test.data)
			in.ReadEncapsulation()
			require.ErrorIs(t, in.Err(), test.expectedError)
		})
	}
}

func TestExceptionSlice(t *testing.T) {
	t.Parallel()

	out := NewOutputStream()
	out.WriteExceptionSlice("::Test::SomeException", func(members *OutputStream) {
		members.WriteString("why")
	})

	data := out.Bytes()
	assert.Equal(t, byte(0x31), data[0])

	in := NewInputStream(data)
	typeID, members := in.ReadExceptionSlice()
	require.NoError(t, in.Err())
	assert.Equal(t, "::Test::SomeException", typeID)
	assert.Equal(t, "why", members.ReadString())
	require.NoError(t, members.Err())
	assert.Zero(t, members.Remaining())
	assert.Zero(t, in.Remaining())
}
