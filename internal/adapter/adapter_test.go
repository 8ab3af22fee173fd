// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package adapter

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/icedispatch/internal/dispatch"
	"github.com/mia-platform/icedispatch/internal/endpoint"
	"github.com/mia-platform/icedispatch/internal/identity"
	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/properties"
	"github.com/mia-platform/icedispatch/internal/protocol"
	"github.com/mia-platform/icedispatch/internal/servant/fake"
	"github.com/mia-platform/icedispatch/internal/threadpool"
	"github.com/mia-platform/icedispatch/internal/transport"
)

type testCommunicator struct {
	props    *properties.Properties
	log      logger.Logger
	shutdown atomic.Int32
}

func (c *testCommunicator) Properties() *properties.Properties { return c.props }
func (c *testCommunicator) Logger() logger.Logger              { return c.log }
func (c *testCommunicator) Shutdown()                          { c.shutdown.Add(1) }

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) AdapterStateChanged(_ string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states = append(r.states, state)
}

func (r *stateRecorder) recorded() []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]State(nil), r.states...)
}

func newTestAdapter(t *testing.T, endpoints string, props map[string]string) (*ObjectAdapter, *stateRecorder) {
	t.Helper()

	communicator := &testCommunicator{props: properties.New(), log: logger.NewLogger(io.Discard)}
	for key, value := range props {
		require.NoError(t, communicator.props.SetProperty(key, value))
	}

	pool := threadpool.New(threadpool.Config{Name: "server", Size: 1, SizeMax: 4}, communicator.log, nil)
	t.Cleanup(func() {
		pool.Destroy()
		pool.Join()
	})

	recorder := new(stateRecorder)
	adapter, err := New(t.Context(), "TestAdapter", endpoints, Dependencies{
		Communicator: communicator,
		ServerPool:   pool,
		Observer:     recorder,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, adapter.Destroy(ctx))
	})
	return adapter, recorder
}

// collocated dispatches a request through the adapter without a connection.
func collocated(t *testing.T, adapter *ObjectAdapter, id identity.Identity, operation string) dispatch.Result {
	t.Helper()

	current := dispatch.NewCurrent(adapter.Name(), &protocol.Request{
		RequestID: 1,
		Identity:  id,
		Operation: operation,
		Encoding:  protocol.Encoding11,
	}, dispatch.ConnectionInfo{})

	results := make(chan dispatch.Result, 1)
	w := dispatch.NewResponseWriter(current, dispatch.WriterOptions{
		Log:      logger.NewLogger(io.Discard),
		Complete: func(result dispatch.Result) { results <- result },
	})
	adapter.Dispatch(t.Context(), w, &dispatch.Request{Current: current})

	select {
	case result := <-results:
		return result
	case <-time.After(5 * time.Second):
		require.FailNow(t, "request not completed")
		return dispatch.Result{}
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	adapter, recorder := newTestAdapter(t, "", nil)
	servant := fake.NewFakeServant(t)
	require.NoError(t, adapter.Add(servant, identity.New("test")))
	assert.Equal(t, StateHolding, adapter.State())

	adapter.Activate(t.Context())
	assert.Equal(t, StateActive, adapter.State())

	result := collocated(t, adapter, identity.New("test"), "ice_ping")
	assert.Equal(t, protocol.ReplyOK, result.Status)

	result = collocated(t, adapter, identity.New("missing"), "ice_ping")
	assert.Equal(t, protocol.ReplyObjectNotExist, result.Status)

	adapter.Hold()
	adapter.WaitForHold()
	assert.Equal(t, StateHolding, adapter.State())
	adapter.Activate(t.Context())

	adapter.Deactivate()
	assert.True(t, adapter.IsDeactivated())

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, adapter.WaitForDeactivate(ctx))
	assert.Equal(t, StateDeactivated, adapter.State())

	result = collocated(t, adapter, identity.New("test"), "ice_ping")
	assert.Equal(t, protocol.ReplyUnknownLocalException, result.Status)
	assert.ErrorIs(t, result.Err, ErrAdapterDeactivated)

	assert.ErrorIs(t, adapter.Add(servant, identity.New("other")), ErrAdapterDeactivated)
	_, err := adapter.CreateProxy(identity.New("test"))
	assert.ErrorIs(t, err, ErrAdapterDeactivated)

	// still found after deactivation
	assert.Same(t, servant, adapter.Find(identity.New("test")))

	require.NoError(t, adapter.Destroy(ctx))
	assert.Equal(t, []State{
		StateHolding,
		StateActive,
		StateHolding,
		StateActive,
		StateDeactivating,
		StateDeactivated,
		StateDestroyed,
	}, recorder.recorded())
}

func TestDeactivateFromServant(t *testing.T) {
	t.Parallel()

	adapter, _ := newTestAdapter(t, "", nil)
	servant := fake.NewFakeServant(t).Handle("shutdown", func(_ context.Context, w dispatch.ResponseWriter, _ *dispatch.Request) {
		adapter.Deactivate()
		w.Ok(nil)
	})
	require.NoError(t, adapter.Add(servant, identity.New("test")))
	adapter.Activate(t.Context())

	result := collocated(t, adapter, identity.New("test"), "shutdown")
	assert.Equal(t, protocol.ReplyOK, result.Status)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, adapter.WaitForDeactivate(ctx))
}

func TestRegistrationErrors(t *testing.T) {
	t.Parallel()

	adapter, _ := newTestAdapter(t, "", nil)
	servant := fake.NewFakeServant(t)

	assert.ErrorIs(t, adapter.Add(servant, identity.Identity{Category: "cat"}), ErrIllegalIdentity)
	assert.ErrorIs(t, adapter.Add(nil, identity.New("test")), ErrIllegalServant)
	assert.ErrorIs(t, adapter.AddDefaultServant(nil, ""), ErrIllegalServant)
	assert.ErrorIs(t, adapter.AddServantLocator(nil, ""), ErrIllegalServant)

	id, err := adapter.AddWithUUID(servant)
	require.NoError(t, err)
	assert.Len(t, id.Name, 36)
	assert.Same(t, servant, adapter.Find(id))

	var alreadyRegistered *AlreadyRegisteredError
	require.ErrorAs(t, adapter.Add(servant, id), &alreadyRegistered)
	assert.Equal(t, "servant", alreadyRegistered.Kind)

	removed, err := adapter.Remove(id)
	require.NoError(t, err)
	assert.Same(t, servant, removed)

	_, err = adapter.RemoveServantLocator("cat")
	var notRegistered *NotRegisteredError
	require.ErrorAs(t, err, &notRegistered)
	assert.Equal(t, "servant locator", notRegistered.Kind)
}

func TestLocatorLifecycle(t *testing.T) {
	t.Parallel()

	adapter, _ := newTestAdapter(t, "", nil)
	located := fake.NewFakeServant(t)
	locator := fake.NewFakeLocator(t, map[string]dispatch.Servant{"obj": located})
	require.NoError(t, adapter.AddServantLocator(locator, "cat"))
	adapter.Activate(t.Context())

	result := collocated(t, adapter, identity.Identity{Name: "obj", Category: "cat"}, "ice_ping")
	assert.Equal(t, protocol.ReplyOK, result.Status)
	assert.Equal(t, []string{"obj"}, locator.FinishedCookies())

	result = collocated(t, adapter, identity.Identity{Name: "unknown", Category: "cat"}, "ice_ping")
	assert.Equal(t, protocol.ReplyObjectNotExist, result.Status)
	assert.Equal(t, []string{"obj", "unknown"}, locator.Located())

	adapter.Deactivate()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, adapter.WaitForDeactivate(ctx))
	assert.Equal(t, []string{"cat"}, locator.Deactivated())
}

func TestPanickingLocator(t *testing.T) {
	t.Parallel()

	adapter, _ := newTestAdapter(t, "", nil)
	locator := fake.NewFakeLocator(t, nil).PanicWith("locator broken")
	require.NoError(t, adapter.AddServantLocator(locator, ""))
	adapter.Activate(t.Context())

	result := collocated(t, adapter, identity.New("obj"), "ice_ping")
	assert.Equal(t, protocol.ReplyUnknownException, result.Status)
	assert.Equal(t, []string{"obj"}, locator.Located())
	assert.Eventually(t, func() bool {
		return adapter.Snapshot().Dispatching == 0
	}, 5*time.Second, 10*time.Millisecond)

	adapter.Deactivate()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, adapter.WaitForDeactivate(ctx))
}

func TestCreateProxy(t *testing.T) {
	t.Parallel()

	adapter, _ := newTestAdapter(t, "", map[string]string{
		"TestAdapter.PublishedEndpoints": "tcp -h localhost -p 12010 -t 60000:ws -h localhost -p 12011",
	})

	testCases := map[string]struct {
		identity identity.Identity
		expected string
	}{
		"plain name": {
			identity: identity.New("test"),
			expected: "test -t -e 1.1:tcp -h localhost -p 12010 -t 60000:ws -h localhost -p 12011 -t 60000",
		},
		"category and space": {
			identity: identity.Identity{Name: "my obj", Category: "cat"},
			expected: `"cat/my obj" -t -e 1.1:tcp -h localhost -p 12010 -t 60000:ws -h localhost -p 12011 -t 60000`,
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			proxy, err := adapter.CreateProxy(test.identity)
			require.NoError(t, err)
			assert.Equal(t, test.expected, proxy)
		})
	}
}

func TestPrivateThreadPool(t *testing.T) {
	t.Parallel()

	adapter, _ := newTestAdapter(t, "", map[string]string{"TestAdapter.ThreadPool.Size": "2"})
	snapshot := adapter.Snapshot()
	assert.True(t, snapshot.ThreadPool.Private)
	assert.Equal(t, 2, snapshot.ThreadPool.Size)
	assert.Equal(t, "holding", snapshot.State)
}

// dialAdapter connects to the first endpoint of adapter and reads the
// connection validation.
func dialAdapter(t *testing.T, adapter *ObjectAdapter) transport.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx, adapter.Endpoints()[0])
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	message, err := conn.ReadMessage(0)
	require.NoError(t, err)
	require.Equal(t, protocol.ValidateConnectionMessage, message.Type)
	return conn
}

func readReply(t *testing.T, conn transport.Conn) *protocol.Reply {
	t.Helper()

	message, err := conn.ReadMessage(0)
	require.NoError(t, err)
	require.Equal(t, protocol.ReplyMessage, message.Type)

	reply, err := protocol.DecodeReply(message.Body)
	require.NoError(t, err)
	return reply
}

func TestServeConnections(t *testing.T) {
	t.Parallel()

	for _, protocolName := range []string{endpoint.TCP, endpoint.WS} {
		t.Run(protocolName, func(t *testing.T) {
			t.Parallel()

			adapter, _ := newTestAdapter(t, protocolName+" -h 127.0.0.1 -p 0", nil)
			servant := fake.NewFakeServant(t).Handle("echo", func(_ context.Context, w dispatch.ResponseWriter, req *dispatch.Request) {
				w.Ok(req.Params)
			})
			require.NoError(t, adapter.Add(servant, identity.New("test")))
			adapter.Activate(t.Context())

			conn := dialAdapter(t, adapter)

			request := &protocol.Request{
				RequestID: 7,
				Identity:  identity.New("test"),
				Operation: "echo",
				Encoding:  protocol.Encoding11,
				Params:    []byte{1, 2, 3},
			}
			require.NoError(t, conn.WriteMessage(protocol.EncodeRequest(request)))

			reply := readReply(t, conn)
			assert.Equal(t, int32(7), reply.RequestID)
			assert.Equal(t, protocol.ReplyOK, reply.Status)
			assert.Equal(t, []byte{1, 2, 3}, reply.Payload)

			batch := []*protocol.Request{
				{Identity: identity.New("test"), Operation: "first", Encoding: protocol.Encoding11},
				{Identity: identity.New("test"), Operation: "second", Encoding: protocol.Encoding11},
			}
			require.NoError(t, conn.WriteMessage(protocol.EncodeBatchRequest(batch)))

			request.RequestID = 8
			request.Identity = identity.New("missing")
			require.NoError(t, conn.WriteMessage(protocol.EncodeRequest(request)))

			reply = readReply(t, conn)
			assert.Equal(t, int32(8), reply.RequestID)
			assert.Equal(t, protocol.ReplyObjectNotExist, reply.Status)
			assert.Equal(t, "echo", reply.Operation)

			operations := make([]string, 0, 3)
			for range 3 {
				select {
				case current := <-servant.Received():
					operations = append(operations, current.Operation)
				case <-time.After(5 * time.Second):
					require.FailNow(t, "batch requests not dispatched")
				}
			}
			assert.ElementsMatch(t, []string{"echo", "first", "second"}, operations)
			assert.Equal(t, 1, adapter.Snapshot().Connections)

			adapter.Deactivate()
			message, err := conn.ReadMessage(0)
			require.NoError(t, err)
			assert.Equal(t, protocol.CloseConnectionMessage, message.Type)

			ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
			defer cancel()
			require.NoError(t, adapter.WaitForDeactivate(ctx))
			assert.Zero(t, adapter.Snapshot().Connections)
		})
	}
}

func TestHoldingAdapterDelaysConnections(t *testing.T) {
	t.Parallel()

	adapter, _ := newTestAdapter(t, "tcp -h 127.0.0.1 -p 0", nil)
	require.NoError(t, adapter.Add(fake.NewFakeServant(t), identity.New("test")))

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, adapter.Endpoints()[0])
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = conn.ReadMessage(0)
	require.Error(t, err, "no validation while holding")

	adapter.Activate(t.Context())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	message, err := conn.ReadMessage(0)
	require.NoError(t, err)
	assert.Equal(t, protocol.ValidateConnectionMessage, message.Type)
}

func TestProtocolErrorClosesConnection(t *testing.T) {
	t.Parallel()

	adapter, _ := newTestAdapter(t, "tcp -h 127.0.0.1 -p 0", nil)
	adapter.Activate(t.Context())

	conn := dialAdapter(t, adapter)
	require.NoError(t, conn.WriteMessage([]byte("not an ice message at all")))

	_, err := conn.ReadMessage(0)
	assert.Error(t, err)
}

func TestIdleConnectionIsClosed(t *testing.T) {
	t.Parallel()

	adapter, _ := newTestAdapter(t, "tcp -h 127.0.0.1 -p 0 -t 100", nil)
	adapter.Activate(t.Context())

	conn := dialAdapter(t, adapter)
	message, err := conn.ReadMessage(0)
	require.NoError(t, err)
	assert.Equal(t, protocol.CloseConnectionMessage, message.Type)
}
