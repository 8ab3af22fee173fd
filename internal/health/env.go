// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package health

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/caarlos0/env/v11"
)

var (
	ErrEnvVariablesNotValid = errors.New("environment variables not valid")
)

type Config struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"GRPC_HEALTH_PORT" envDefault:"0"`
}

// Enabled reports whether the health server should listen. The default
// GRPC_HEALTH_PORT=0 disables it.
func (c *Config) Enabled() bool {
	return c.Port != "0"
}

func LoadConfig() (*Config, error) {
	var envVars Config
	if err := env.Parse(&envVars); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEnvVariablesNotValid, err.Error())
	}

	port, err := strconv.Atoi(envVars.Port)
	if err != nil {
		return nil, fmt.Errorf("%w: GRPC_HEALTH_PORT is not a valid number", ErrEnvVariablesNotValid)
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: GRPC_HEALTH_PORT is out of valid range (0-65535)", ErrEnvVariablesNotValid)
	}
	return &envVars, nil
}
