// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package logger

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	forwardedHostHeaderKey = "x-forwarded-host"
	forwardedForHeaderKey  = "x-forwarded-for"
	requestIDHeaderName    = "x-request-id"
	userAgentHeaderName    = "user-agent"

	IncomingRequestMessage  = "incoming request"
	RequestCompletedMessage = "request completed"
)

// httpFields is the structured shape attached to admin request log lines.
type httpFields struct {
	Method     string `json:"method,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	BodyBytes  int    `json:"bodyBytes,omitempty"`
}

type hostFields struct {
	Hostname      string `json:"hostname,omitempty"`
	ForwardedHost string `json:"forwardedHost,omitempty"`
	IP            string `json:"ip,omitempty"`
}

// RequestID returns the caller supplied x-request-id or a fresh random UUID.
func RequestID(c *fiber.Ctx) string {
	if requestID := c.Get(requestIDHeaderName); requestID != "" {
		return requestID
	}
	return uuid.NewString()
}

func hostOf(c *fiber.Ctx) hostFields {
	return hostFields{
		Hostname:      strings.Split(string(c.Request().Host()), ":")[0],
		ForwardedHost: c.Get(forwardedHostHeaderKey),
		IP:            c.Get(forwardedForHeaderKey),
	}
}

// statusAndSize reports what the client received, preferring the fiber error
// returned by the handler chain since the error handler has not run yet.
func statusAndSize(c *fiber.Ctx, handlerErr error) (int, int) {
	if fiberErr, ok := handlerErr.(*fiber.Error); ok {
		return fiberErr.Code, len(fiberErr.Message)
	}
	if handlerErr != nil {
		return fiber.StatusInternalServerError, len(handlerErr.Error())
	}

	size := len(c.Response().Body())
	if content := c.GetRespHeader(fiber.HeaderContentLength); content != "" {
		if length, err := strconv.Atoi(content); err == nil {
			size = length
		}
	}
	return c.Response().StatusCode(), size
}

// RequestMiddlewareLogger is a fiber middleware logging every admin request.
// Paths starting with one of excludedPrefix are passed through silently.
func RequestMiddlewareLogger(logger Logger, excludedPrefix []string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, prefix := range excludedPrefix {
			if strings.HasPrefix(path, prefix) {
				return c.Next()
			}
		}

		start := time.Now()
		requestLogger := logger.WithName("request").With("requestId", RequestID(c))
		c.SetUserContext(WithContext(c.UserContext(), requestLogger))

		requestLogger.Trace(IncomingRequestMessage,
			"http", httpFields{Method: c.Method(), UserAgent: c.Get(userAgentHeaderName)},
			"url", path,
			"host", hostOf(c),
		)

		err := c.Next()

		status, size := statusAndSize(c, err)
		requestLogger.Info(RequestCompletedMessage,
			"http", httpFields{
				Method:     c.Method(),
				UserAgent:  c.Get(userAgentHeaderName),
				StatusCode: status,
				BodyBytes:  size,
			},
			"url", path,
			"host", hostOf(c),
			"responseTime", float64(time.Since(start).Milliseconds()),
		)

		return err
	}
}
