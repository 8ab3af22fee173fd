// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/mia-platform/icedispatch/internal/adapter"
	"github.com/mia-platform/icedispatch/internal/info"
	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/slice"
)

const (
	loggerName = "icedispatch:admin"
)

var (
	ErrServerListen   = errors.New("server listen error")
	ErrServerShutdown = errors.New("server shutdown error")
)

// Communicator is the runtime the admin routes inspect and stop.
type Communicator interface {
	Adapters() []*adapter.ObjectAdapter
	FindAdapter(name string) *adapter.ObjectAdapter
	Shutdown()
	IsShutdown() bool
}

type Server struct {
	Config

	app *fiber.App
	log logger.Logger

	mu           sync.RWMutex
	communicator Communicator
	unit         *slice.Unit
}

// NewServer returns the admin server. metrics serves /-/metrics and may be
// nil. The adapter routes answer 503 until Attach is called.
func NewServer(ctx context.Context, cfg *Config, metrics http.Handler) *Server {
	app := fiber.New(fiber.Config{
		AppName:               info.AppName,
		DisableStartupMessage: cfg.DisableStartupMessage,
	})
	log := logger.FromContext(ctx).WithName(loggerName)
	app.Use(logger.RequestMiddlewareLogger(log, []string{"/-/healthz", "/-/ready", "/-/metrics"}))

	s := &Server{
		Config: *cfg,
		app:    app,
		log:    log,
	}
	s.routes(metrics)
	return s
}

// Attach exposes c and the interface definitions it serves.
func (s *Server) Attach(c Communicator, unit *slice.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communicator = c
	s.unit = unit
}

func (s *Server) attached() (Communicator, *slice.Unit) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.communicator, s.unit
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Start() error {
	if err := s.app.Listen(fmt.Sprintf("%s:%s", s.HTTPHost, s.HTTPPort)); err != nil {
		return fmt.Errorf("%w: %w", ErrServerListen, err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.ShutdownTimeout)
	defer cancel()

	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrServerShutdown, err)
	}
	return nil
}

// Run listens until ctx is done, then stops the server.
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		errs <- s.Start()
	}()
	s.log.Info("admin server listening", "host", s.HTTPHost, "port", s.HTTPPort)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	if err := s.Stop(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	return <-errs
}
