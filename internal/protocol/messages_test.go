// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/icedispatch/internal/identity"
)

func readBody(t *testing.T, data []byte, expectedType MessageType) []byte {
	t.Helper()

	message, err := ReadMessage(bytes.NewReader(data), DefaultMessageSizeMax)
	require.NoError(t, err)
	require.Equal(t, expectedType, message.Type)
	return message.Body
}

func TestRequestCodec(t *testing.T) {
	t.Parallel()

	req := &Request{
		RequestID: 7,
		Identity:  identity.Identity{Name: "test"},
		Facet:     "",
		Operation: "opByte",
		Mode:      Normal,
		Context:   map[string]string{"one": "ONE"},
		Encoding:  Encoding11,
		Params:    []byte{0xff, 0x0f},
	}

	body := readBody(t, EncodeRequest(req), RequestMessage)
	decoded, err := DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
	assert.False(t, decoded.IsOneway())
}

func TestRequestWithFacetAndMode(t *testing.T) {
	t.Parallel()

	req := &Request{
		Identity:  identity.Identity{Name: "obj", Category: "cat"},
		Facet:     "facet",
		Operation: "opIdempotent",
		Mode:      Idempotent,
		Context:   map[string]string{},
		Encoding:  Encoding11,
		Params:    []byte{},
	}

	body := readBody(t, EncodeRequest(req), RequestMessage)
	decoded, err := DecodeRequest(body)
	require.NoError(t, err)
	assert.True(t, decoded.IsOneway())
	assert.Equal(t, "facet", decoded.Facet)
	assert.Equal(t, Idempotent, decoded.Mode)
	assert.Equal(t, identity.Identity{Name: "obj", Category: "cat"}, decoded.Identity)
}

func TestDecodeRequestErrors(t *testing.T) {
	t.Parallel()

	valid := readBody(t, EncodeRequest(&Request{
		RequestID: 1,
		Identity:  identity.New("test"),
		Operation: "op",
	}), RequestMessage)

	// requestId(4) name(5) category(1) facet(1) operation(3) mode(1)
	modeIndex := 4 + 5 + 1 + 1 + 3
	badMode := bytes.Clone(valid)
	badMode[modeIndex] = 3

	twoFacets := NewOutputStream()
	twoFacets.WriteInt(1)
	twoFacets.WriteString("test")
	twoFacets.WriteString("")
	twoFacets.WriteStringSeq([]string{"a", "b"})

	testCases := map[string]struct {
		body          []byte
		expectedError error
	}{
		"truncated": {
			body:          valid[:len(valid)-2],
			expectedError: ErrUnmarshalOutOfBounds,
		},
		"trailing bytes": {
			body:          append(bytes.Clone(valid), 0),
			expectedError: ErrMarshal,
		},
		"bad mode": {
			body:          badMode,
			expectedError: ErrMarshal,
		},
		"facet path too long": {
			body:          twoFacets.Bytes(),
			expectedError: ErrMarshal,
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			_, err := DecodeRequest(test.body)
			require.ErrorIs(t, err, test.expectedError)
		})
	}
}

func TestBatchRequestCodec(t *testing.T) {
	t.Parallel()

	reqs := []*Request{
		{Identity: identity.New("test"), Operation: "opByteSOneway", Context: map[string]string{}, Encoding: Encoding11, Params: []byte{1, 5}},
		{Identity: identity.New("test"), Operation: "opByteSOneway", Context: map[string]string{}, Encoding: Encoding11, Params: []byte{0}},
	}

	body := readBody(t, EncodeBatchRequest(reqs), BatchRequestMessage)
	decoded, err := DecodeBatchRequest(body)
	require.NoError(t, err)
	assert.Equal(t, reqs, decoded)

	_, err = DecodeBatchRequest([]byte{0xff, 0xff, 0xff, 0xff})
	require.ErrorIs(t, err, ErrMarshal)

	_, err = DecodeBatchRequest([]byte{3, 0, 0, 0})
	require.ErrorIs(t, err, ErrUnmarshalOutOfBounds)
}

func TestReplyCodec(t *testing.T) {
	t.Parallel()

	testCases := map[string]*Reply{
		"ok": {
			RequestID: 3,
			Status:    ReplyOK,
			Encoding:  Encoding11,
			Payload:   []byte{1, 2},
		},
		"user exception": {
			RequestID: 4,
			Status:    ReplyUserException,
			Encoding:  Encoding11,
			Payload:   []byte{0x31},
		},
		"object not exist": {
			RequestID: 5,
			Status:    ReplyObjectNotExist,
			Identity:  identity.New("missing"),
			Operation: "opVoid",
		},
		"facet not exist": {
			RequestID: 5,
			Status:    ReplyFacetNotExist,
			Identity:  identity.New("test"),
			Facet:     "other",
			Operation: "opVoid",
		},
		"unknown exception": {
			RequestID: 6,
			Status:    ReplyUnknownException,
			Reason:    "boom",
		},
	}

	for testName, reply := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			body := readBody(t, EncodeReply(reply), ReplyMessage)
			decoded, err := DecodeReply(body)
			require.NoError(t, err)
			assert.Equal(t, reply, decoded)
		})
	}
}

func TestDecodeReplyUnknownStatus(t *testing.T) {
	t.Parallel()

	_, err := DecodeReply([]byte{1, 0, 0, 0, 42})
	require.ErrorIs(t, err, ErrUnknownReplyStatus)
	require.ErrorIs(t, err, &Error{})
}
