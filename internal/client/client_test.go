// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package client

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/icedispatch/internal/adapter"
	"github.com/mia-platform/icedispatch/internal/communicator"
	"github.com/mia-platform/icedispatch/internal/dispatch"
	"github.com/mia-platform/icedispatch/internal/identity"
	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/protocol"
	"github.com/mia-platform/icedispatch/internal/servant/fake"
)

type testException struct {
	reason string
}

func (e *testException) Error() string  { return e.reason }
func (e *testException) TypeID() string { return "::Test::TestException" }

func (e *testException) WriteMembers(out *protocol.OutputStream) {
	out.WriteString(e.reason)
}

func startServer(t *testing.T, servant dispatch.Servant) (*communicator.Communicator, *adapter.ObjectAdapter, string) {
	t.Helper()

	c, err := communicator.Initialize(t.Context(), communicator.InitData{
		Logger:    logger.NewLogger(io.Discard),
		LookupEnv: func(string) (string, bool) { return "", false },
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })

	a, err := c.CreateObjectAdapterWithEndpoints(t.Context(), "TestAdapter", "tcp -h 127.0.0.1 -p 0")
	require.NoError(t, err)
	require.NoError(t, a.Add(servant, identity.New("test")))
	a.Activate(t.Context())

	proxy, err := a.CreateProxy(identity.New("test"))
	require.NoError(t, err)
	return c, a, proxy
}

func dialProxy(t *testing.T, value string) *Proxy {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	proxy, err := DialProxy(ctx, value, nil)
	require.NoError(t, err)
	t.Cleanup(func() { proxy.Close() })
	return proxy
}

func TestInvoke(t *testing.T) {
	t.Parallel()

	servant := fake.NewFakeServant(t).
		Handle("echo", func(_ context.Context, w dispatch.ResponseWriter, req *dispatch.Request) {
			w.Ok(req.Params)
		}).
		Handle("context", func(_ context.Context, w dispatch.ResponseWriter, req *dispatch.Request) {
			out := protocol.NewOutputStream()
			out.WriteContext(req.Current.Context)
			w.Ok(out.Bytes())
		}).
		Handle("throw", func(_ context.Context, w dispatch.ResponseWriter, _ *dispatch.Request) {
			w.UserException(&testException{reason: "bad"})
		})
	_, _, value := startServer(t, servant)
	proxy := dialProxy(t, value)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	result, err := proxy.Invoke(ctx, "echo", protocol.Normal, nil, []byte{4, 5})
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, result)

	result, err = proxy.WithContext(map[string]string{"one": "1"}).Invoke(ctx, "context", protocol.Normal, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"one": "1"}, protocol.NewInputStream(result).ReadContext())

	_, err = proxy.Invoke(ctx, "throw", protocol.Normal, nil, nil)
	var userException *UserExceptionError
	require.ErrorAs(t, err, &userException)
	assert.Equal(t, "::Test::TestException", userException.TypeID)
	assert.Equal(t, "bad", userException.Input().ReadString())

	_, err = proxy.Facet("missing").Invoke(ctx, "echo", protocol.Normal, nil, nil)
	assert.ErrorIs(t, err, dispatch.ErrFacetNotExist)

	require.NoError(t, proxy.Ping(ctx))
}

func TestOnewayAndBatch(t *testing.T) {
	t.Parallel()

	servant := fake.NewFakeServant(t)
	_, _, value := startServer(t, servant)
	proxy := dialProxy(t, value)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	result, err := proxy.Oneway().Invoke(ctx, "oneway", protocol.Normal, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, result)

	batch := proxy.BatchOneway()
	for _, operation := range []string{"first", "second"} {
		_, err := batch.Invoke(ctx, operation, protocol.Normal, nil, nil)
		require.NoError(t, err)
	}
	require.NoError(t, batch.FlushBatchRequests())

	received := make([]string, 0, 3)
	for range 3 {
		select {
		case current := <-servant.Received():
			assert.True(t, current.IsOneway())
			received = append(received, current.Operation)
		case <-ctx.Done():
			require.FailNow(t, "oneway requests not received")
		}
	}
	assert.ElementsMatch(t, []string{"oneway", "first", "second"}, received)
}

func TestServerCloseFailsPendingRequests(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	servant := fake.NewFakeServant(t).Handle("block", func(_ context.Context, w dispatch.ResponseWriter, _ *dispatch.Request) {
		<-release
		w.Ok(nil)
	})
	c, _, value := startServer(t, servant)
	proxy := dialProxy(t, value)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := proxy.Invoke(ctx, "block", protocol.Normal, nil, nil)
		done <- err
	}()
	<-servant.Received()

	c.Shutdown()
	close(release)

	// the pending request is answered before the connection closes
	require.NoError(t, <-done)

	select {
	case <-proxy.Connection().Closed():
	case <-ctx.Done():
		require.FailNow(t, "connection not closed by the server")
	}
	assert.ErrorIs(t, proxy.Connection().Err(), ErrConnectionClosed)

	err := proxy.Ping(ctx)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestDialProxyWithoutEndpoints(t *testing.T) {
	t.Parallel()

	_, err := DialProxy(t.Context(), "test", nil)
	assert.ErrorIs(t, err, ErrNoEndpoint)
}
