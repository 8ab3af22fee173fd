// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mia-platform/icedispatch/internal/endpoint"
	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/protocol"
	"github.com/mia-platform/icedispatch/internal/transport"
)

var (
	// ErrConnectionClosed is returned for requests pending or issued once the
	// connection is closed, by either side.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotValidated is returned by Dial when the server does not start with
	// a validate connection message.
	ErrNotValidated = errors.New("connection not validated")
)

// Connection is an outgoing connection. Twoway requests are correlated with
// their replies by request id by a reader goroutine.
type Connection struct {
	conn transport.Conn
	log  logger.Logger

	mu      sync.Mutex
	nextID  int32
	pending map[int32]chan *protocol.Reply
	batch   []*protocol.Request
	err     error

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to ep and waits for the connection validation.
func Dial(ctx context.Context, ep endpoint.Endpoint) (*Connection, error) {
	conn, err := transport.Dial(ctx, ep)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	message, err := conn.ReadMessage(0)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrNotValidated, err)
	}
	if message.Type != protocol.ValidateConnectionMessage {
		conn.Close()
		return nil, fmt.Errorf("%w: received %s", ErrNotValidated, message.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Connection{
		conn:    conn,
		log:     logger.FromContext(ctx).WithName("client").With("remote", conn.RemoteAddr().String()),
		pending: make(map[int32]chan *protocol.Reply),
		closed:  make(chan struct{}),
	}
	go c.read()
	return c, nil
}

func (c *Connection) read() {
	for {
		message, err := c.conn.ReadMessage(0)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrConnectionClosed
			}
			c.fail(err)
			return
		}

		switch message.Type {
		case protocol.ReplyMessage:
			reply, err := protocol.DecodeReply(message.Body)
			if err != nil {
				c.fail(err)
				return
			}
			c.mu.Lock()
			ch, ok := c.pending[reply.RequestID]
			delete(c.pending, reply.RequestID)
			c.mu.Unlock()
			if !ok {
				c.log.Warn("reply for unknown request", "requestId", reply.RequestID)
				continue
			}
			ch <- reply
		case protocol.ValidateConnectionMessage:
		case protocol.CloseConnectionMessage:
			c.fail(ErrConnectionClosed)
			return
		default:
			c.fail(protocol.NewError(protocol.ErrUnknownMessageType, message.Type.String()))
			return
		}
	}
}

// fail closes the connection and fails every pending request with err.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	pending := c.pending
	c.pending = make(map[int32]chan *protocol.Reply)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// Err returns the reason the connection closed, or nil while it is open.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// Closed is closed once the connection is closed.
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// Invoke sends req and, for a twoway request, waits for the reply. The
// request id is assigned here; oneway requests return a nil reply.
func (c *Connection) Invoke(ctx context.Context, req *protocol.Request, mode InvocationMode) (*protocol.Reply, error) {
	switch mode {
	case BatchOneway:
		req.RequestID = 0
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.err != nil {
			return nil, c.err
		}
		c.batch = append(c.batch, req)
		return nil, nil
	case Oneway:
		req.RequestID = 0
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, c.conn.WriteMessage(protocol.EncodeRequest(req))
	}

	ch := make(chan *protocol.Reply, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	c.nextID++
	if c.nextID <= 0 {
		c.nextID = 1
	}
	req.RequestID = c.nextID
	c.pending[req.RequestID] = ch
	c.mu.Unlock()

	if err := c.conn.WriteMessage(protocol.EncodeRequest(req)); err != nil {
		c.forget(req.RequestID)
		return nil, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, c.Err()
		}
		return reply, nil
	case <-ctx.Done():
		c.forget(req.RequestID)
		return nil, ctx.Err()
	}
}

func (c *Connection) forget(requestID int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, requestID)
}

// FlushBatchRequests sends the queued batch oneway requests as one message.
func (c *Connection) FlushBatchRequests() error {
	c.mu.Lock()
	batch := c.batch
	c.batch = nil
	err := c.err
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	return c.conn.WriteMessage(protocol.EncodeBatchRequest(batch))
}

// Close sends a close connection message and closes the connection. Pending
// requests fail with ErrConnectionClosed.
func (c *Connection) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
	}

	err := c.conn.WriteMessage(protocol.EncodeMessage(protocol.CloseConnectionMessage, nil))
	c.fail(ErrConnectionClosed)
	return err
}
