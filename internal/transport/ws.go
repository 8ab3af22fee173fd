// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mia-platform/icedispatch/internal/endpoint"
	"github.com/mia-platform/icedispatch/internal/protocol"
)

const (
	// Subprotocol is the websocket subprotocol negotiated by ws endpoints.
	Subprotocol = "ice.zeroc.com"

	handshakeTimeout = 10 * time.Second
	closeGracePeriod = time.Second
)

var (
	// ErrNotBinary is returned when a websocket peer sends a text message.
	ErrNotBinary = errors.New("websocket message is not binary")
)

type wsAcceptor struct {
	endpoint endpoint.Endpoint
	server   *http.Server
	conns    chan *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

func listenWS(ctx context.Context, ep endpoint.Endpoint) (Acceptor, error) {
	listenConfig := new(net.ListenConfig)
	listener, err := listenConfig.Listen(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, err
	}

	acceptor := &wsAcceptor{
		endpoint: boundEndpoint(ep, listener.Addr()),
		conns:    make(chan *websocket.Conn),
		done:     make(chan struct{}),
	}

	upgrader := &websocket.Upgrader{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{Subprotocol},
		CheckOrigin:      func(*http.Request) bool { return true },
	}

	resource := ep.Resource
	if resource == "" {
		resource = "/"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(resource, func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		select {
		case acceptor.conns <- conn:
		case <-acceptor.done:
			conn.Close()
		}
	})

	acceptor.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: handshakeTimeout,
	}
	go func() {
		_ = acceptor.server.Serve(listener)
	}()

	return acceptor, nil
}

func (a *wsAcceptor) Accept() (Conn, error) {
	select {
	case conn := <-a.conns:
		return newWSConn(conn), nil
	case <-a.done:
		return nil, ErrAcceptorClosed
	}
}

func (a *wsAcceptor) Endpoint() endpoint.Endpoint {
	return a.endpoint
}

func (a *wsAcceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		// hijacked websocket connections are not tracked by the server, so
		// closing it leaves accepted connections untouched
		err = a.server.Close()
	})
	return err
}

type wsConn struct {
	conn *websocket.Conn

	writeLock sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func dialWS(ctx context.Context, ep endpoint.Endpoint) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}

	resource := ep.Resource
	if resource == "" {
		resource = "/"
	}
	url := fmt.Sprintf("ws://%s%s", ep.Address(), resource)

	conn, response, err := dialer.DialContext(ctx, url, nil)
	if response != nil && response.Body != nil {
		response.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if conn.Subprotocol() != Subprotocol {
		conn.Close()
		return nil, fmt.Errorf("websocket dial: server did not accept subprotocol %q", Subprotocol)
	}
	return newWSConn(conn), nil
}

func (c *wsConn) ReadMessage(maxSize int) (protocol.Message, error) {
	if maxSize > 0 {
		c.conn.SetReadLimit(int64(maxSize))
	}

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return protocol.Message{}, io.EOF
		}
		if errors.Is(err, websocket.ErrReadLimit) {
			return protocol.Message{}, protocol.NewError(protocol.ErrMessageTooLarge, err.Error())
		}
		return protocol.Message{}, err
	}
	if messageType != websocket.BinaryMessage {
		return protocol.Message{}, protocol.NewError(ErrNotBinary, "")
	}

	message, err := protocol.ReadMessage(bytes.NewReader(data), maxSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return protocol.Message{}, protocol.ErrUnmarshalOutOfBounds
		}
		return protocol.Message{}, err
	}
	if message.Size() != len(data) {
		return protocol.Message{}, protocol.NewError(protocol.ErrIllegalMessageSize, "websocket frame carries more than one message")
	}
	return message, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) SetReadDeadline(deadline time.Time) error {
	return c.conn.SetReadDeadline(deadline)
}

func (c *wsConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *wsConn) Protocol() string     { return endpoint.WS }

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod),
	)
	return c.conn.Close()
}
