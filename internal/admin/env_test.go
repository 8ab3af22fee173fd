// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package admin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		config, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "3000", config.HTTPPort)
		assert.Equal(t, "0.0.0.0", config.HTTPHost)
		assert.Equal(t, 10*time.Second, config.ShutdownTimeout)
		assert.True(t, config.Enabled())
	})

	t.Run("disabled", func(t *testing.T) {
		t.Setenv("HTTP_PORT", "0")
		config, err := LoadConfig()
		require.NoError(t, err)
		assert.False(t, config.Enabled())
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("SHUTDOWN_TIMEOUT", "soon")
		_, err := LoadConfig()
		assert.ErrorIs(t, err, ErrEnvVariablesNotValid)
	})
}

func TestValidateEnvironmentVariables(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		config      Config
		expectedErr string
	}{
		"valid": {
			config: Config{HTTPPort: "3000", ShutdownTimeout: time.Second},
		},
		"not a number": {
			config:      Config{HTTPPort: "http", ShutdownTimeout: time.Second},
			expectedErr: "HTTP_PORT is not a valid number",
		},
		"out of range": {
			config:      Config{HTTPPort: "655350", ShutdownTimeout: time.Second},
			expectedErr: "HTTP_PORT is out of valid range (0-65535)",
		},
		"no shutdown timeout": {
			config:      Config{HTTPPort: "3000"},
			expectedErr: "SHUTDOWN_TIMEOUT must be positive",
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			err := validateEnvironmentVariables(&test.config)
			if test.expectedErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrEnvVariablesNotValid)
			assert.ErrorContains(t, err, test.expectedErr)
		})
	}
}
