// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package admin

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/mia-platform/icedispatch/internal/adapter"
	"github.com/mia-platform/icedispatch/internal/info"
	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/version"
)

type statusResponse struct {
	Status  string `json:"status"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Build   string `json:"build"`
}

func okResponse() statusResponse {
	return statusResponse{
		Status:  "OK",
		Name:    info.AppName,
		Version: version.Version,
		Build:   version.ServiceVersionInformation(),
	}
}

type operationSummary struct {
	Name   string   `json:"name"`
	Mode   string   `json:"mode"`
	Throws []string `json:"throws,omitempty"`
}

type interfaceSummary struct {
	Scoped     string             `json:"scoped"`
	TypeIDs    []string           `json:"typeIds"`
	Operations []operationSummary `json:"operations"`
}

func (s *Server) routes(metrics http.Handler) {
	status := s.app.Group("/-")

	status.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(okResponse())
	})
	status.Get("/ready", s.ready)

	if metrics != nil {
		status.Get("/metrics", adaptor.HTTPHandler(metrics))
	}

	status.Get("/adapters", s.listAdapters)
	status.Get("/adapters/:name", s.getAdapter)
	status.Get("/interfaces", s.listInterfaces)
	status.Post("/shutdown", s.shutdown)
}

func notReady(c *fiber.Ctx, reason string) error {
	return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
		"statusCode": http.StatusServiceUnavailable,
		"error":      http.StatusText(http.StatusServiceUnavailable),
		"message":    reason,
	})
}

// ready succeeds once every adapter of the communicator is active.
func (s *Server) ready(c *fiber.Ctx) error {
	communicator, _ := s.attached()
	if communicator == nil {
		return notReady(c, "communicator not initialized")
	}
	if communicator.IsShutdown() {
		return notReady(c, "communicator is shut down")
	}

	adapters := communicator.Adapters()
	if len(adapters) == 0 {
		return notReady(c, "no object adapter")
	}
	for _, a := range adapters {
		if state := a.State(); state != adapter.StateActive {
			return notReady(c, "object adapter "+a.Name()+" is "+state.String())
		}
	}
	return c.JSON(okResponse())
}

func (s *Server) listAdapters(c *fiber.Ctx) error {
	communicator, _ := s.attached()
	if communicator == nil {
		return notReady(c, "communicator not initialized")
	}

	adapters := communicator.Adapters()
	snapshots := make([]adapter.Snapshot, 0, len(adapters))
	for _, a := range adapters {
		snapshots = append(snapshots, a.Snapshot())
	}
	return c.JSON(snapshots)
}

func (s *Server) getAdapter(c *fiber.Ctx) error {
	communicator, _ := s.attached()
	if communicator == nil {
		return notReady(c, "communicator not initialized")
	}

	a := communicator.FindAdapter(c.Params("name"))
	if a == nil {
		return fiber.NewError(http.StatusNotFound, "object adapter not found")
	}
	return c.JSON(a.Snapshot())
}

func (s *Server) listInterfaces(c *fiber.Ctx) error {
	_, unit := s.attached()
	if unit == nil {
		return notReady(c, "no interface definitions loaded")
	}

	scopedNames := unit.Interfaces()
	interfaces := make([]interfaceSummary, 0, len(scopedNames))
	for _, scoped := range scopedNames {
		summary := interfaceSummary{
			Scoped:     scoped,
			TypeIDs:    unit.TypeIDs(scoped),
			Operations: make([]operationSummary, 0),
		}
		for _, operation := range unit.Operations(scoped) {
			summary.Operations = append(summary.Operations, operationSummary{
				Name:   operation.Name,
				Mode:   operation.ModeName,
				Throws: operation.Throws,
			})
		}
		interfaces = append(interfaces, summary)
	}
	return c.JSON(interfaces)
}

func (s *Server) shutdown(c *fiber.Ctx) error {
	communicator, _ := s.attached()
	if communicator == nil {
		return notReady(c, "communicator not initialized")
	}

	s.log.Info("shutdown requested", "requestId", logger.RequestID(c))
	communicator.Shutdown()
	return c.SendStatus(http.StatusAccepted)
}
