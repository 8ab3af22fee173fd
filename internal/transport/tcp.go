// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/mia-platform/icedispatch/internal/endpoint"
	"github.com/mia-platform/icedispatch/internal/protocol"
)

type tcpAcceptor struct {
	listener net.Listener
	endpoint endpoint.Endpoint
}

func listenTCP(ctx context.Context, ep endpoint.Endpoint) (Acceptor, error) {
	listenConfig := new(net.ListenConfig)
	listener, err := listenConfig.Listen(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, err
	}
	return &tcpAcceptor{listener: listener, endpoint: boundEndpoint(ep, listener.Addr())}, nil
}

func (a *tcpAcceptor) Accept() (Conn, error) {
	conn, err := a.listener.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrAcceptorClosed
		}
		return nil, err
	}
	return newTCPConn(conn), nil
}

func (a *tcpAcceptor) Endpoint() endpoint.Endpoint {
	return a.endpoint
}

func (a *tcpAcceptor) Close() error {
	return a.listener.Close()
}

type tcpConn struct {
	conn   net.Conn
	reader *bufio.Reader

	writeLock sync.Mutex
}

func newTCPConn(conn net.Conn) *tcpConn {
	return &tcpConn{conn: conn, reader: bufio.NewReader(conn)}
}

func dialTCP(ctx context.Context, ep endpoint.Endpoint) (Conn, error) {
	dialer := new(net.Dialer)
	conn, err := dialer.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, err
	}
	return newTCPConn(conn), nil
}

func (c *tcpConn) ReadMessage(maxSize int) (protocol.Message, error) {
	return protocol.ReadMessage(c.reader, maxSize)
}

func (c *tcpConn) WriteMessage(data []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	_, err := c.conn.Write(data)
	return err
}

func (c *tcpConn) SetReadDeadline(deadline time.Time) error {
	return c.conn.SetReadDeadline(deadline)
}

func (c *tcpConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *tcpConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *tcpConn) Protocol() string     { return endpoint.TCP }

func (c *tcpConn) Close() error {
	return c.conn.Close()
}
