// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestMiddlewareLogger(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		path          string
		expectedLines int
	}{
		"logged path emits incoming and completed lines": {
			path:          "/-/adapters",
			expectedLines: 2,
		},
		"excluded prefix is not logged": {
			path:          "/-/healthz",
			expectedLines: 0,
		},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			buffer := new(bytes.Buffer)
			log := NewLogger(buffer)
			log.SetLevel(TRACE)

			app := fiber.New()
			app.Use(RequestMiddlewareLogger(log, []string{"/-/healthz"}))
			app.Get("/*", func(c *fiber.Ctx) error {
				return c.SendString("ok")
			})

			req := httptest.NewRequest(http.MethodGet, "http://example.com"+test.path, nil)
			req.Header.Set("User-Agent", "UnitTestAgent/1.0")
			req.Header.Set(requestIDHeaderName, "fixed-id")

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			output := strings.TrimSpace(buffer.String())
			if test.expectedLines == 0 {
				assert.Empty(t, output)
				return
			}

			lines := strings.Split(output, "\n")
			require.Len(t, lines, test.expectedLines)
			assert.Contains(t, lines[0], IncomingRequestMessage)
			assert.Contains(t, lines[1], RequestCompletedMessage)
			assert.Contains(t, lines[1], "fixed-id")
		})
	}
}
