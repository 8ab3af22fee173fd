// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/mia-platform/icedispatch/internal/adapter"
	"github.com/mia-platform/icedispatch/internal/communicator"
	"github.com/mia-platform/icedispatch/internal/identity"
	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/servant/operations"
	"github.com/mia-platform/icedispatch/internal/slice"
)

const (
	// AdapterName is the adapter the test servant is registered with.
	AdapterName = "TestAdapter"
	// ServantName is the identity of the test servant.
	ServantName = "test"
	// VariantProperty selects the servant variant when ServerAMD.Variant is empty.
	VariantProperty = "Test.Variant"
)

var _ Server = &ServerAMD{}

// ServerAMD serves the operations suite: the ::Test::MyDerivedClass servant
// registered as "test" on TestAdapter.
type ServerAMD struct {
	// Variant is "sync" or "async"; empty reads Test.Variant, then "async".
	Variant string
	// SlicePath loads the interface definitions from a file instead of the
	// embedded Test.ice.
	SlicePath string
	Metrics   communicator.Metrics

	// Setup runs once the communicator is initialized, before the adapter
	// is created. unit holds the loaded interface definitions.
	Setup func(ctx context.Context, c *communicator.Communicator, unit *slice.Unit) error
	// Ready runs once the adapter is active.
	Ready func(a *adapter.ObjectAdapter)
}

// Run loads the definitions, serves until the shutdown operation or ctx is
// done, and destroys the communicator.
func (s *ServerAMD) Run(ctx context.Context, args []string) (err error) {
	log := logger.FromContext(ctx).WithName("server")

	props, _, err := CreateTestProperties(args)
	if err != nil {
		return err
	}
	// batch oneway requests may still arrive while the adapter deactivates
	if err := props.SetProperty("Ice.Warn.Dispatch", "0"); err != nil {
		return err
	}

	unit, err := s.loadDefinitions(ctx)
	if err != nil {
		return err
	}

	c, err := Initialize(ctx, props, s.Metrics)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, c.Destroy())
	}()
	// ICE_CONFIG files may have replaced the bag handed to Initialize
	props = c.Properties()

	if s.Setup != nil {
		if err := s.Setup(ctx, c, unit); err != nil {
			return err
		}
	}

	if err := props.SetProperty(AdapterName+".Endpoints", TestEndpoint(props, 0, "")); err != nil {
		return err
	}
	testAdapter, err := c.CreateObjectAdapter(ctx, AdapterName)
	if err != nil {
		return err
	}

	variant := s.Variant
	if variant == "" {
		variant = props.GetPropertyWithDefault(VariantProperty, operations.VariantAsync)
	}
	impl, err := operations.New(variant, c)
	if err != nil {
		return err
	}
	skeleton, err := operations.NewSkeleton(impl, unit)
	if err != nil {
		return err
	}
	if err := testAdapter.Add(skeleton, identity.New(ServantName)); err != nil {
		return err
	}
	testAdapter.Activate(ctx)

	log.Info("test server ready",
		"adapter", AdapterName,
		"variant", variant,
		"endpoints", fmt.Sprint(testAdapter.PublishedEndpoints()),
	)
	if s.Ready != nil {
		s.Ready(testAdapter)
	}

	select {
	case <-c.Done():
	case <-ctx.Done():
		log.Info("interrupted, shutting down")
		c.Shutdown()
		c.WaitForShutdown()
	}
	return nil
}

func (s *ServerAMD) loadDefinitions(ctx context.Context) (*slice.Unit, error) {
	if s.SlicePath == "" {
		return operations.LoadDefinitions(ctx)
	}
	return slice.LoadFile(ctx, s.SlicePath)
}
