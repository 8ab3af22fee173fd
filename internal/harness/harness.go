// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mia-platform/icedispatch/internal/communicator"
	"github.com/mia-platform/icedispatch/internal/endpoint"
	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/properties"
)

const (
	// BasePortProperty offsets every test endpoint port.
	BasePortProperty = "Test.BasePort"
	// DefaultBasePort is used when Test.BasePort is not set.
	DefaultBasePort = 12010
	// DefaultHost is used when Ice.Default.Host is not set.
	DefaultHost = "127.0.0.1"
)

// Server is a test server started by Run.
type Server interface {
	// Run serves until shutdown. args are the command line arguments not
	// consumed by the caller.
	Run(ctx context.Context, args []string) error
}

// CreateTestProperties builds the properties of a test process from its
// arguments: the --Ice.* and --Test.* options, plus the files named by
// Ice.Config or ICE_CONFIG. The arguments left over are returned.
func CreateTestProperties(args []string) (*properties.Properties, []string, error) {
	props, remaining, err := properties.NewFromArgs(args, os.LookupEnv)
	if err != nil {
		return nil, nil, fmt.Errorf("create test properties: %w", err)
	}
	return props, remaining, nil
}

// TestEndpoint returns the endpoint of the test server number num, for
// example "tcp -p 12010". An empty protocol takes Ice.Default.Protocol.
func TestEndpoint(props *properties.Properties, num int, protocol string) string {
	if protocol == "" {
		protocol = props.GetPropertyWithDefault(endpoint.DefaultProtocolProperty, endpoint.Default)
	}
	port := props.GetPropertyAsIntWithDefault(BasePortProperty, DefaultBasePort) + num
	return protocol + " -p " + strconv.Itoa(port)
}

// TestHost returns the host test endpoints listen on.
func TestHost(props *properties.Properties) string {
	return props.GetPropertyWithDefault(endpoint.DefaultHostProperty, DefaultHost)
}

// Initialize returns the communicator of a test process. Test endpoints
// listen on TestHost unless Ice.Default.Host is set.
func Initialize(ctx context.Context, props *properties.Properties, metrics communicator.Metrics) (*communicator.Communicator, error) {
	if props.GetProperty(endpoint.DefaultHostProperty) == "" {
		if err := props.SetProperty(endpoint.DefaultHostProperty, TestHost(props)); err != nil {
			return nil, err
		}
	}

	return communicator.Initialize(ctx, communicator.InitData{
		Properties: props,
		Logger:     logger.FromContext(ctx),
		Metrics:    metrics,
	})
}

// Run runs server and returns the exit status of the process: 0 when it
// completed or was interrupted, 1 when it failed.
func Run(ctx context.Context, server Server, args []string) int {
	err := server.Run(ctx, args)
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}

	log := logger.FromContext(ctx)
	log.Error("test server failed", "error", err, "args", strings.Join(args, " "))
	return 1
}
