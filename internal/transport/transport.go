// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mia-platform/icedispatch/internal/endpoint"
	"github.com/mia-platform/icedispatch/internal/protocol"
)

var (
	// ErrAcceptorClosed is returned by Accept once the acceptor is closed.
	ErrAcceptorClosed = errors.New("acceptor closed")
)

// Conn is a message oriented connection: every read returns one whole
// protocol message and every write sends one.
type Conn interface {
	ReadMessage(maxSize int) (protocol.Message, error)
	WriteMessage(data []byte) error
	SetReadDeadline(deadline time.Time) error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Protocol() string
	Close() error
}

// Acceptor accepts incoming connections for one endpoint.
type Acceptor interface {
	Accept() (Conn, error)
	// Endpoint returns the bound endpoint, with the real port when the
	// configured port was zero.
	Endpoint() endpoint.Endpoint
	Close() error
}

// Listen opens an acceptor for ep.
func Listen(ctx context.Context, ep endpoint.Endpoint) (Acceptor, error) {
	switch ep.Protocol {
	case endpoint.TCP:
		return listenTCP(ctx, ep)
	case endpoint.WS:
		return listenWS(ctx, ep)
	default:
		return nil, fmt.Errorf("%w: %q", endpoint.ErrUnknownProtocol, ep.Protocol)
	}
}

// Dial connects to ep.
func Dial(ctx context.Context, ep endpoint.Endpoint) (Conn, error) {
	if ep.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
	}

	switch ep.Protocol {
	case endpoint.TCP:
		return dialTCP(ctx, ep)
	case endpoint.WS:
		return dialWS(ctx, ep)
	default:
		return nil, fmt.Errorf("%w: %q", endpoint.ErrUnknownProtocol, ep.Protocol)
	}
}

// boundEndpoint returns ep with the port of addr.
func boundEndpoint(ep endpoint.Endpoint, addr net.Addr) endpoint.Endpoint {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return ep.WithPort(tcpAddr.Port)
	}
	return ep
}
