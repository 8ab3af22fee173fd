// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package adapter

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mia-platform/icedispatch/internal/dispatch"
	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/protocol"
	"github.com/mia-platform/icedispatch/internal/transport"
)

var (
	validateConnection = protocol.EncodeMessage(protocol.ValidateConnectionMessage, nil)
	closeConnection    = protocol.EncodeMessage(protocol.CloseConnectionMessage, nil)
)

// accept serves the connections of one acceptor until it is closed.
func (a *ObjectAdapter) accept(ctx context.Context, acceptor transport.Acceptor) {
	defer a.acceptLoops.Done()

	for {
		if err := a.waitActive(ctx); err != nil {
			return
		}

		conn, err := acceptor.Accept()
		if err != nil {
			if errors.Is(err, transport.ErrAcceptorClosed) || a.IsDeactivated() {
				return
			}
			a.log.Warn("failed to accept connection", "endpoint", acceptor.Endpoint().String(), "error", err)
			select {
			case <-time.After(10 * time.Millisecond):
			case <-a.deactivating:
				return
			}
			continue
		}

		a.serve(ctx, conn, acceptor.Endpoint().Timeout)
	}
}

// serve starts the goroutine reading conn, unless the adapter is deactivating.
func (a *ObjectAdapter) serve(ctx context.Context, conn transport.Conn, idleTimeout time.Duration) {
	c := &connection{
		adapter: a,
		conn:    conn,
		idle:    idleTimeout,
		info: dispatch.ConnectionInfo{
			ID:            uuid.NewString(),
			Protocol:      conn.Protocol(),
			LocalAddress:  conn.LocalAddr().String(),
			RemoteAddress: conn.RemoteAddr().String(),
		},
	}
	c.log = a.log.With("connection", c.info.ID, "remote", c.info.RemoteAddress)
	c.drained = sync.NewCond(&c.mu)

	a.mu.Lock()
	if a.state >= StateDeactivating {
		a.mu.Unlock()
		_ = conn.Close()
		return
	}
	a.connections[c] = struct{}{}
	count := len(a.connections)
	a.connWG.Add(1)
	a.mu.Unlock()

	if a.deps.Metrics != nil {
		a.deps.Metrics.SetConnections(a.name, count)
	}
	if a.traceNetwork > 0 {
		c.log.Info("accepted connection", "protocol", c.info.Protocol, "local", c.info.LocalAddress)
	}

	go func() {
		defer a.connWG.Done()
		defer a.removeConnection(c)
		c.run(ctx)
	}()
}

func (a *ObjectAdapter) removeConnection(c *connection) {
	a.mu.Lock()
	delete(a.connections, c)
	count := len(a.connections)
	a.mu.Unlock()

	if a.deps.Metrics != nil {
		a.deps.Metrics.SetConnections(a.name, count)
	}
}

// connection is an incoming connection. One goroutine reads messages and
// hands the requests to the thread pool; replies are written by whichever
// goroutine completes the request.
type connection struct {
	adapter *ObjectAdapter
	conn    transport.Conn
	info    dispatch.ConnectionInfo
	idle    time.Duration
	log     logger.Logger

	closing atomic.Bool

	mu          sync.Mutex
	outstanding int
	drained     *sync.Cond
}

// shutdown asks the connection to close gracefully: the reader stops and the
// connection closes once the outstanding requests are answered.
func (c *connection) shutdown() {
	if c.closing.CompareAndSwap(false, true) {
		// unblock the reader
		_ = c.conn.SetReadDeadline(time.Now())
	}
}

type closeMode int

const (
	// closeForcefully drops the socket without a CloseConnection message.
	closeForcefully closeMode = iota
	// closeGracefully answers the outstanding requests and sends CloseConnection.
	closeGracefully
	// closePeer waits for the outstanding requests; the peer already left.
	closePeer
)

func (c *connection) run(ctx context.Context) {
	mode := c.read(ctx)

	if mode != closeForcefully {
		c.mu.Lock()
		for c.outstanding > 0 {
			c.drained.Wait()
		}
		c.mu.Unlock()
	}
	if mode == closeGracefully {
		c.trace(protocol.CloseConnectionMessage, "sending")
		if err := c.conn.WriteMessage(closeConnection); err != nil {
			c.log.Debug("failed to send close connection", "error", err)
		}
	}
	if err := c.conn.Close(); err != nil {
		c.log.Debug("failed to close connection", "error", err)
	}
	if c.adapter.traceNetwork > 0 {
		c.log.Info("closed connection")
	}
}

// read runs the read loop and returns how the connection must be closed.
func (c *connection) read(ctx context.Context) closeMode {
	a := c.adapter
	if err := a.waitActive(ctx); err != nil {
		return closeGracefully
	}

	c.trace(protocol.ValidateConnectionMessage, "sending")
	if err := c.conn.WriteMessage(validateConnection); err != nil {
		c.log.Debug("failed to validate connection", "error", err)
		return closeForcefully
	}

	for {
		if c.idle > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.idle))
		}
		// checked after the deadline is set so that shutdown always wins
		if c.closing.Load() {
			return closeGracefully
		}

		message, err := c.conn.ReadMessage(a.messageSizeMax)
		if err != nil {
			return c.readFailed(err)
		}
		c.trace(message.Type, "received", "size", message.Size())

		if err := a.waitActive(ctx); err != nil {
			return closeGracefully
		}

		switch message.Type {
		case protocol.RequestMessage:
			req, err := protocol.DecodeRequest(message.Body)
			if err != nil {
				c.log.Warn("invalid request message", "error", err)
				return closeForcefully
			}
			c.dispatch(ctx, req)
		case protocol.BatchRequestMessage:
			reqs, err := protocol.DecodeBatchRequest(message.Body)
			if err != nil {
				c.log.Warn("invalid batch request message", "error", err)
				return closeForcefully
			}
			for _, req := range reqs {
				req.RequestID = 0
				c.dispatch(ctx, req)
			}
		case protocol.ValidateConnectionMessage:
		case protocol.CloseConnectionMessage:
			return closePeer
		default:
			c.log.Warn("unexpected message", "type", message.Type.String())
			return closeForcefully
		}
	}
}

// readFailed maps a read error to the way the connection is closed. An idle
// timeout closes gracefully: the pending requests are still answered.
func (c *connection) readFailed(err error) closeMode {
	var netErr net.Error
	var protocolErr *protocol.Error
	switch {
	case c.closing.Load():
		return closeGracefully
	case errors.As(err, &netErr) && netErr.Timeout():
		if c.adapter.traceNetwork > 0 {
			c.log.Info("closing idle connection", "timeout", c.idle.String())
		}
		return closeGracefully
	case errors.Is(err, io.EOF):
		return closePeer
	case errors.As(err, &protocolErr):
		c.log.Warn("protocol error", "error", err)
		return closeForcefully
	default:
		c.log.Debug("connection lost", "error", err)
		return closeForcefully
	}
}

// dispatch hands req to the adapter. With a serialized thread pool the next
// message is read only once this request is complete.
func (c *connection) dispatch(ctx context.Context, req *protocol.Request) {
	a := c.adapter
	current := dispatch.NewCurrent(a.name, req, c.info)
	start := time.Now()

	c.mu.Lock()
	c.outstanding++
	c.mu.Unlock()

	done := make(chan struct{})
	w := dispatch.NewResponseWriter(current, dispatch.WriterOptions{
		Log:       c.log,
		WarnLevel: a.warnDispatch,
		Complete: func(result dispatch.Result) {
			if result.Reply != nil {
				c.trace(protocol.ReplyMessage, "sending", "requestId", current.RequestID, "status", result.Status.String())
				if err := c.conn.WriteMessage(result.Reply); err != nil {
					c.log.Debug("failed to send reply", "requestId", current.RequestID, "error", err)
				}
			}
			if a.deps.Metrics != nil {
				a.deps.Metrics.ObserveDispatch(a.name, current.Operation, result.Status, time.Since(start))
			}

			c.mu.Lock()
			c.outstanding--
			if c.outstanding == 0 {
				c.drained.Broadcast()
			}
			c.mu.Unlock()
			close(done)
		},
	})

	a.Dispatch(ctx, w, &dispatch.Request{Current: current, Params: req.Params})
	if a.pool.Serialize() {
		<-done
	}
}

func (c *connection) trace(messageType protocol.MessageType, direction string, args ...any) {
	if c.adapter.traceProtocol == 0 {
		return
	}
	c.log.Info(direction+" "+messageType.String()+" message", args...)
}
