// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/icedispatch/internal/adapter"
	"github.com/mia-platform/icedispatch/internal/client"
	"github.com/mia-platform/icedispatch/internal/identity"
	"github.com/mia-platform/icedispatch/internal/properties"
	"github.com/mia-platform/icedispatch/internal/protocol"
	"github.com/mia-platform/icedispatch/internal/servant/operations"
)

func TestTestEndpoint(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		props    map[string]string
		num      int
		protocol string
		expected string
	}{
		"defaults": {
			expected: "default -p 12010",
		},
		"base port and server number": {
			props:    map[string]string{BasePortProperty: "13000"},
			num:      2,
			expected: "default -p 13002",
		},
		"default protocol property": {
			props:    map[string]string{"Ice.Default.Protocol": "ws"},
			expected: "ws -p 12010",
		},
		"explicit protocol": {
			props:    map[string]string{"Ice.Default.Protocol": "ws"},
			num:      1,
			protocol: "tcp",
			expected: "tcp -p 12011",
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			props := properties.New()
			for key, value := range test.props {
				require.NoError(t, props.SetProperty(key, value))
			}
			assert.Equal(t, test.expected, TestEndpoint(props, test.num, test.protocol))
		})
	}
}

func TestTestHost(t *testing.T) {
	t.Parallel()

	props := properties.New()
	assert.Equal(t, "127.0.0.1", TestHost(props))

	require.NoError(t, props.SetProperty("Ice.Default.Host", "localhost"))
	assert.Equal(t, "localhost", TestHost(props))
}

type failingServer struct {
	err error
}

func (s failingServer) Run(context.Context, []string) error {
	return s.err
}

func TestRunExitStatus(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		err      error
		expected int
	}{
		"success":     {expected: 0},
		"interrupted": {err: context.Canceled, expected: 0},
		"failure":     {err: errors.New("bind failure"), expected: 1},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, test.expected, Run(t.Context(), failingServer{err: test.err}, nil))
		})
	}
}

// startServer runs a ServerAMD of variant on a random port and returns the
// proxy of its servant.
func startServer(t *testing.T, variant string) (*client.Proxy, <-chan error) {
	t.Helper()

	ready := make(chan *adapter.ObjectAdapter, 1)
	server := &ServerAMD{
		Variant: variant,
		Ready:   func(a *adapter.ObjectAdapter) { ready <- a },
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.Run(t.Context(), []string{"--Test.BasePort=0", "--Ice.Default.Protocol=tcp"})
	}()

	var testAdapter *adapter.ObjectAdapter
	select {
	case testAdapter = <-ready:
	case err := <-errs:
		require.FailNow(t, "server stopped", "error: %v", err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "server not ready")
	}

	value, err := testAdapter.CreateProxy(identity.New(ServantName))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	proxy, err := client.DialProxy(ctx, value, nil)
	require.NoError(t, err)
	t.Cleanup(func() { proxy.Close() })
	return proxy, errs
}

func TestServerAMD(t *testing.T) {
	t.Parallel()

	for _, variant := range []string{operations.VariantSync, operations.VariantAsync} {
		t.Run(variant, func(t *testing.T) {
			t.Parallel()

			proxy, errs := startServer(t, variant)
			ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
			defer cancel()

			ids, err := proxy.IDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"::Ice::Object", "::Test::MyClass", "::Test::MyDerivedClass"}, ids)

			params := protocol.NewOutputStream()
			params.WriteString("hello")
			params.WriteString("world")
			result, err := proxy.Invoke(ctx, "opString", protocol.Normal, nil, params.Bytes())
			require.NoError(t, err)
			in := protocol.NewInputStream(result)
			assert.Equal(t, "world hello", in.ReadString())
			assert.Equal(t, "hello world", in.ReadString())

			params = protocol.NewOutputStream()
			params.WriteString("reason")
			_, err = proxy.Invoke(ctx, "opThrow", protocol.Normal, nil, params.Bytes())
			var userException *client.UserExceptionError
			require.ErrorAs(t, err, &userException)
			assert.Equal(t, operations.SomeExceptionTypeID, userException.TypeID)
			assert.Equal(t, "reason", operations.ReadSomeException(userException.Input()).Reason)

			params = protocol.NewOutputStream()
			params.WriteByteSeq([]byte{1, 2})
			oneway := proxy.Oneway()
			for range 3 {
				_, err := oneway.Invoke(ctx, "opByteSOneway", protocol.Normal, nil, params.Bytes())
				require.NoError(t, err)
			}
			// a twoway request on the same connection is dispatched after the oneways were read
			require.Eventually(t, func() bool {
				result, err := proxy.Invoke(ctx, "opByteSOnewayCallCount", protocol.Normal, nil, nil)
				return err == nil && protocol.NewInputStream(result).ReadInt() > 0
			}, 5*time.Second, 10*time.Millisecond)

			_, err = proxy.Invoke(ctx, "shutdown", protocol.Normal, nil, nil)
			require.NoError(t, err)

			select {
			case err := <-errs:
				require.NoError(t, err)
			case <-ctx.Done():
				require.FailNow(t, "server did not stop after shutdown")
			}
		})
	}
}

func TestServerAMDStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	ready := make(chan *adapter.ObjectAdapter, 1)
	server := &ServerAMD{Ready: func(a *adapter.ObjectAdapter) { ready <- a }}

	errs := make(chan error, 1)
	go func() {
		errs <- server.Run(ctx, []string{"--Test.BasePort=0"})
	}()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "server not ready")
	}
	cancel()

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "server did not stop")
	}
}

// TestServerAMDConfigEnvironment cannot run in parallel: it sets ICE_CONFIG.
func TestServerAMDConfigEnvironment(t *testing.T) {
	file := filepath.Join(t.TempDir(), "server.cfg")
	require.NoError(t, os.WriteFile(file, []byte("Test.Variant=sync\n"), 0o600))

	testCases := map[string]struct {
		iceConfig string
	}{
		"empty ICE_CONFIG": {
			iceConfig: "",
		},
		"ICE_CONFIG names a file": {
			iceConfig: file,
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Setenv(properties.ConfigEnvVariable, test.iceConfig)

			ctx, cancel := context.WithCancel(t.Context())
			ready := make(chan *adapter.ObjectAdapter, 1)
			server := &ServerAMD{Ready: func(a *adapter.ObjectAdapter) { ready <- a }}

			errs := make(chan error, 1)
			go func() {
				errs <- server.Run(ctx, []string{"--Test.BasePort=0", "--Ice.Default.Protocol=tcp"})
			}()

			select {
			case testAdapter := <-ready:
				assert.NotEmpty(t, testAdapter.Endpoints())
			case err := <-errs:
				cancel()
				require.FailNow(t, "server stopped", "error: %v", err)
			case <-time.After(5 * time.Second):
				cancel()
				require.FailNow(t, "server not ready")
			}
			cancel()

			select {
			case err := <-errs:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				require.FailNow(t, "server did not stop")
			}
		})
	}
}

func TestServerAMDUnknownVariant(t *testing.T) {
	t.Parallel()

	server := &ServerAMD{Variant: "threads"}
	err := server.Run(t.Context(), []string{"--Test.BasePort=0"})
	assert.ErrorIs(t, err, operations.ErrUnknownVariant)
}
