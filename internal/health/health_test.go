// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package health

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/mia-platform/icedispatch/internal/adapter"
	"github.com/mia-platform/icedispatch/internal/communicator"
	"github.com/mia-platform/icedispatch/internal/logger"
)

func newHealthClient(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	go func() {
		assert.NoError(t, s.Serve(lis))
	}()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()

	response, err := client.Check(t.Context(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return response.GetStatus()
}

func TestAdapterStateChanged(t *testing.T) {
	t.Parallel()

	type step struct {
		adapter  string
		state    adapter.State
		overall  healthpb.HealthCheckResponse_ServingStatus
		expected healthpb.HealthCheckResponse_ServingStatus
	}

	testCases := map[string]struct {
		steps []step
	}{
		"single adapter lifecycle": {
			steps: []step{
				{"TestAdapter", adapter.StateHolding, healthpb.HealthCheckResponse_NOT_SERVING, healthpb.HealthCheckResponse_NOT_SERVING},
				{"TestAdapter", adapter.StateActive, healthpb.HealthCheckResponse_SERVING, healthpb.HealthCheckResponse_SERVING},
				{"TestAdapter", adapter.StateDeactivating, healthpb.HealthCheckResponse_NOT_SERVING, healthpb.HealthCheckResponse_NOT_SERVING},
			},
		},
		"one adapter holding": {
			steps: []step{
				{"First", adapter.StateActive, healthpb.HealthCheckResponse_SERVING, healthpb.HealthCheckResponse_SERVING},
				{"Second", adapter.StateHolding, healthpb.HealthCheckResponse_NOT_SERVING, healthpb.HealthCheckResponse_NOT_SERVING},
				{"Second", adapter.StateActive, healthpb.HealthCheckResponse_SERVING, healthpb.HealthCheckResponse_SERVING},
			},
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			s := NewServer(t.Context(), &Config{})
			client := newHealthClient(t, s)
			assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))

			for _, step := range test.steps {
				s.AdapterStateChanged(step.adapter, step.state)
				assert.Equal(t, step.expected, check(t, client, step.adapter), "%s %s", step.adapter, step.state)
				assert.Equal(t, step.overall, check(t, client, ""), "%s %s", step.adapter, step.state)
			}
		})
	}
}

func TestUnknownService(t *testing.T) {
	t.Parallel()

	s := NewServer(t.Context(), &Config{})
	client := newHealthClient(t, s)

	_, err := client.Check(t.Context(), &healthpb.HealthCheckRequest{Service: "Missing"})
	assert.Error(t, err)
}

func TestStopWithOpenWatch(t *testing.T) {
	t.Parallel()

	s := NewServer(t.Context(), &Config{})
	s.gracePeriod = 50 * time.Millisecond
	client := newHealthClient(t, s)

	stream, err := client.Watch(t.Context(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	response, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, response.GetStatus())

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "server did not stop with a watch open")
	}
	assert.Eventually(t, func() bool {
		_, err := stream.Recv()
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCommunicatorObserver(t *testing.T) {
	t.Parallel()

	s := NewServer(t.Context(), &Config{})
	client := newHealthClient(t, s)

	c, err := communicator.Initialize(t.Context(), communicator.InitData{
		Logger:    logger.NewLogger(io.Discard),
		LookupEnv: func(string) (string, bool) { return "", false },
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })
	c.AddObserver(s)

	a, err := c.CreateObjectAdapterWithEndpoints(t.Context(), "TestAdapter", "tcp -h 127.0.0.1 -p 0")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, "TestAdapter"))

	a.Activate(t.Context())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, "TestAdapter"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))

	c.Shutdown()
	c.WaitForShutdown()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, "TestAdapter"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))
}

func TestLoadConfig(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		config, err := LoadConfig()
		require.NoError(t, err)
		assert.False(t, config.Enabled())
	})

	t.Run("enabled", func(t *testing.T) {
		t.Setenv("GRPC_HEALTH_PORT", "3001")
		config, err := LoadConfig()
		require.NoError(t, err)
		assert.True(t, config.Enabled())
	})

	t.Run("invalid", func(t *testing.T) {
		t.Setenv("GRPC_HEALTH_PORT", "health")
		_, err := LoadConfig()
		assert.ErrorIs(t, err, ErrEnvVariablesNotValid)
	})
}
