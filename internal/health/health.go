// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package health reports the state of object adapters through the standard
// gRPC health checking protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mia-platform/icedispatch/internal/adapter"
	"github.com/mia-platform/icedispatch/internal/logger"
)

const (
	loggerName      = "icedispatch:health"
	stopGracePeriod = 5 * time.Second
)

var ErrServerListen = errors.New("health server listen error")

var _ adapter.Observer = &Server{}

// Server serves grpc.health.v1.Health. Every adapter is a service named
// after it, SERVING while active. The overall service "" is SERVING while
// every known adapter is active.
type Server struct {
	Config

	health *grpchealth.Server
	grpc   *grpc.Server
	log    logger.Logger

	gracePeriod time.Duration

	mu     sync.Mutex
	states map[string]adapter.State
}

func NewServer(ctx context.Context, cfg *Config) *Server {
	s := &Server{
		Config: *cfg,
		health: grpchealth.NewServer(),
		grpc:   grpc.NewServer(),
		log:    logger.FromContext(ctx).WithName(loggerName),
		states: make(map[string]adapter.State),

		gracePeriod: stopGracePeriod,
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// AdapterStateChanged updates the status of the adapter service and of the
// overall service.
func (s *Server) AdapterStateChanged(name string, state adapter.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[name] = state
	s.health.SetServingStatus(name, servingStatus(state))

	overall := healthpb.HealthCheckResponse_SERVING
	for _, state := range s.states {
		if state != adapter.StateActive {
			overall = healthpb.HealthCheckResponse_NOT_SERVING
			break
		}
	}
	s.health.SetServingStatus("", overall)
	s.log.Debug("serving status changed", "adapter", name, "state", state.String(), "overall", overall.String())
}

func servingStatus(state adapter.State) healthpb.HealthCheckResponse_ServingStatus {
	if state == adapter.StateActive {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Serve answers health checks on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("health server listening", "address", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("%w: %w", ErrServerListen, err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and closes the server. Watch streams
// never end on their own, so connections still open after the grace period
// are closed forcibly.
func (s *Server) Stop() {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	timer := time.NewTimer(s.gracePeriod)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
		s.log.Debug("grace period expired, closing open streams", "gracePeriod", s.gracePeriod.String())
		s.grpc.Stop()
		<-stopped
	}
}

// Run listens on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", net.JoinHostPort(s.Host, s.Port))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServerListen, err)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- s.Serve(lis)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	s.Stop()
	return <-errs
}
