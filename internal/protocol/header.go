// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the size of the fixed message header.
	HeaderSize = 14

	ProtocolMajor         byte = 1
	ProtocolMinor         byte = 0
	ProtocolEncodingMajor byte = 1
	ProtocolEncodingMinor byte = 0

	// DefaultMessageSizeMax is the default Ice.MessageSizeMax, in bytes.
	DefaultMessageSizeMax = 1024 * 1024

	// CompressionUnsupported, CompressionSupported and Compressed are the
	// values of the compression status byte.
	CompressionUnsupported byte = 0
	CompressionSupported   byte = 1
	Compressed             byte = 2
)

var magic = [4]byte{'I', 'c', 'e', 'P'}

// MessageType is the kind of a protocol message.
type MessageType byte

const (
	RequestMessage MessageType = iota
	BatchRequestMessage
	ReplyMessage
	ValidateConnectionMessage
	CloseConnectionMessage
)

func (t MessageType) String() string {
	switch t {
	case RequestMessage:
		return "request"
	case BatchRequestMessage:
		return "batch request"
	case ReplyMessage:
		return "reply"
	case ValidateConnectionMessage:
		return "validate connection"
	case CloseConnectionMessage:
		return "close connection"
	default:
		return fmt.Sprintf("MessageType(%d)", byte(t))
	}
}

// Message is one complete protocol message.
type Message struct {
	Type        MessageType
	Compression byte
	Body        []byte
}

// Size returns the size of the message on the wire.
func (m Message) Size() int {
	return HeaderSize + len(m.Body)
}

// EncodeMessage returns the wire form of a message with the given body.
func EncodeMessage(messageType MessageType, body []byte) []byte {
	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:4], magic[:])
	buf[4] = ProtocolMajor
	buf[5] = ProtocolMinor
	buf[6] = ProtocolEncodingMajor
	buf[7] = ProtocolEncodingMinor
	buf[8] = byte(messageType)
	buf[9] = CompressionUnsupported
	binary.LittleEndian.PutUint32(buf[10:14], uint32(HeaderSize+len(body)))
	return append(buf, body...)
}

// WriteMessage writes a whole message to w.
func WriteMessage(w io.Writer, messageType MessageType, body []byte) error {
	_, err := w.Write(EncodeMessage(messageType, body))
	return err
}

// DecodeHeader validates a fixed header and returns the message type, the
// compression status and the total message size.
func DecodeHeader(buf []byte, maxSize int) (MessageType, byte, int, error) {
	if len(buf) < HeaderSize {
		return 0, 0, 0, ErrUnmarshalOutOfBounds
	}
	if [4]byte(buf[0:4]) != magic {
		return 0, 0, 0, NewError(ErrBadMagic, fmt.Sprintf("% x", buf[0:4]))
	}
	if buf[4] != ProtocolMajor {
		return 0, 0, 0, NewError(ErrUnsupportedProtocol, fmt.Sprintf("%d.%d", buf[4], buf[5]))
	}
	if buf[6] != ProtocolEncodingMajor {
		return 0, 0, 0, NewError(ErrUnsupportedEncoding, fmt.Sprintf("%d.%d", buf[6], buf[7]))
	}

	messageType := MessageType(buf[8])
	if messageType > CloseConnectionMessage {
		return 0, 0, 0, NewError(ErrUnknownMessageType, messageType.String())
	}

	compression := buf[9]
	if compression == Compressed {
		return 0, 0, 0, NewError(ErrCompressionNotSupported, "")
	}

	size := int(int32(binary.LittleEndian.Uint32(buf[10:14])))
	if size < HeaderSize {
		return 0, 0, 0, NewError(ErrIllegalMessageSize, fmt.Sprintf("%d", size))
	}
	if maxSize > 0 && size > maxSize {
		return 0, 0, 0, NewError(ErrMessageTooLarge, fmt.Sprintf("%d > %d", size, maxSize))
	}
	if (messageType == ValidateConnectionMessage || messageType == CloseConnectionMessage) && size != HeaderSize {
		return 0, 0, 0, NewError(ErrIllegalMessageSize, fmt.Sprintf("%s with size %d", messageType, size))
	}
	return messageType, compression, size, nil
}

// ReadMessage reads one message from r. A maxSize of zero or less disables
// the size limit. A clean end of stream before the header is io.EOF.
func ReadMessage(r io.Reader, maxSize int) (Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrUnmarshalOutOfBounds
		}
		return Message{}, err
	}

	messageType, compression, size, err := DecodeHeader(header[:], maxSize)
	if err != nil {
		return Message{}, err
	}

	body := make([]byte, size-HeaderSize)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Message{}, ErrUnmarshalOutOfBounds
			}
			return Message{}, err
		}
	}
	return Message{Type: messageType, Compression: compression, Body: body}, nil
}
