// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package admin

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	ErrEnvVariablesNotValid = errors.New("environment variables not valid")
)

type Config struct {
	LogLevel              string        `env:"LOG_LEVEL" envDefault:"INFO"`
	DisableStartupMessage bool          `env:"DISABLE_STARTUP_MESSAGE" envDefault:"true"`
	HTTPHost              string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	HTTPPort              string        `env:"HTTP_PORT" envDefault:"3000"`
	ShutdownTimeout       time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Enabled reports whether the admin server should listen. HTTP_PORT=0
// disables it.
func (c *Config) Enabled() bool {
	return c.HTTPPort != "0"
}

func LoadConfig() (*Config, error) {
	var envVars Config
	if err := env.Parse(&envVars); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEnvVariablesNotValid, err.Error())
	}

	if err := validateEnvironmentVariables(&envVars); err != nil {
		return nil, err
	}
	return &envVars, nil
}

func validateEnvironmentVariables(envVars *Config) error {
	envError := make([]string, 0)

	serverPortNumber, err := strconv.Atoi(envVars.HTTPPort)
	if err != nil {
		envError = append(envError, "HTTP_PORT is not a valid number")
	} else if serverPortNumber < 0 || serverPortNumber > 65535 {
		envError = append(envError, "HTTP_PORT is out of valid range (0-65535)")
	}

	if envVars.ShutdownTimeout <= 0 {
		envError = append(envError, "SHUTDOWN_TIMEOUT must be positive")
	}

	if len(envError) > 0 {
		return fmt.Errorf("%w: %s", ErrEnvVariablesNotValid, strings.Join(envError, ", "))
	}
	return nil
}
