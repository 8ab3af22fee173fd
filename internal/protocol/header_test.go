// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessage(t *testing.T) {
	t.Parallel()

	data := EncodeMessage(ValidateConnectionMessage, nil)
	assert.Equal(t, []byte{'I', 'c', 'e', 'P', 1, 0, 1, 0, 3, 0, 14, 0, 0, 0}, data)

	data = EncodeMessage(ReplyMessage, []byte{1, 2, 3})
	assert.Len(t, data, HeaderSize+3)
	assert.Equal(t, uint32(17), binary.LittleEndian.Uint32(data[10:14]))
}

func TestReadMessage(t *testing.T) {
	t.Parallel()

	valid := EncodeMessage(RequestMessage, []byte{9, 8, 7})

	corrupt := func(index int, value byte) []byte {
		data := bytes.Clone(valid)
		data[index] = value
		return data
	}
	withSize := func(data []byte, size uint32) []byte {
		data = bytes.Clone(data)
		binary.LittleEndian.PutUint32(data[10:14], size)
		return data
	}

	testCases := map[string]struct {
		data          []byte
		maxSize       int
		expectedType  MessageType
		expectedBody  []byte
		expectedError error
		protocolError bool
	}{
		"valid request": {
			data:         valid,
			expectedType: RequestMessage,
			expectedBody: []byte{9, 8, 7},
		},
		"bad magic": {
			data:          corrupt(0, 'X'),
			expectedError: ErrBadMagic,
			protocolError: true,
		},
		"unsupported protocol": {
			data:          corrupt(4, 2),
			expectedError: ErrUnsupportedProtocol,
			protocolError: true,
		},
		"unsupported encoding": {
			data:          corrupt(6, 3),
			expectedError: ErrUnsupportedEncoding,
			protocolError: true,
		},
		"unknown message type": {
			data:          corrupt(8, 9),
			expectedError: ErrUnknownMessageType,
			protocolError: true,
		},
		"compressed message": {
			data:          corrupt(9, Compressed),
			expectedError: ErrCompressionNotSupported,
			protocolError: true,
		},
		"compression supported flag is accepted": {
			data:         corrupt(9, CompressionSupported),
			expectedType: RequestMessage,
			expectedBody: []byte{9, 8, 7},
		},
		"size smaller than header": {
			data:          withSize(valid, 10),
			expectedError: ErrIllegalMessageSize,
			protocolError: true,
		},
		"size over maximum": {
			data:          valid,
			maxSize:       16,
			expectedError: ErrMessageTooLarge,
			protocolError: true,
		},
		"validate connection with a body": {
			data:          withSize(EncodeMessage(ValidateConnectionMessage, []byte{1}), 15),
			expectedError: ErrIllegalMessageSize,
			protocolError: true,
		},
		"truncated body": {
			data:          valid[:HeaderSize+1],
			expectedError: ErrUnmarshalOutOfBounds,
		},
		"truncated header": {
			data:          valid[:5],
			expectedError: ErrUnmarshalOutOfBounds,
		},
		"clean end of stream": {
			data:          nil,
			expectedError: io.EOF,
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			message, err := ReadMessage(bytes.NewReader(test.data), test.maxSize)
			if test.expectedError != nil {
				require.ErrorIs(t, err, test.expectedError)
				if test.protocolError {
					require.ErrorIs(t, err, &Error{})
				} else {
					require.NotErrorIs(t, err, &Error{})
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.expectedType, message.Type)
			assert.Equal(t, test.expectedBody, message.Body)
			assert.Equal(t, len(test.data), message.Size())
		})
	}
}

func TestReadMessageSequence(t *testing.T) {
	t.Parallel()

	stream := new(bytes.Buffer)
	require.NoError(t, WriteMessage(stream, ValidateConnectionMessage, nil))
	require.NoError(t, WriteMessage(stream, ReplyMessage, []byte{1}))
	require.NoError(t, WriteMessage(stream, CloseConnectionMessage, nil))

	var types []MessageType
	for {
		message, err := ReadMessage(stream, DefaultMessageSizeMax)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		types = append(types, message.Type)
	}
	assert.Equal(t, []MessageType{ValidateConnectionMessage, ReplyMessage, CloseConnectionMessage}, types)
}
