// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/mia-platform/icedispatch/internal/admin"
	"github.com/mia-platform/icedispatch/internal/client"
	"github.com/mia-platform/icedispatch/internal/communicator"
	"github.com/mia-platform/icedispatch/internal/harness"
	"github.com/mia-platform/icedispatch/internal/health"
	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/metrics"
	"github.com/mia-platform/icedispatch/internal/protocol"
	"github.com/mia-platform/icedispatch/internal/servant/operations"
	"github.com/mia-platform/icedispatch/internal/slice"
)

const serveLoggerName = "icedispatch:serve"

// serveOptions holds the options set for the current serve function.
type serveOptions struct {
	variant         string
	slicePath       string
	args            []string
	logLevelFromEnv bool

	lock sync.Mutex
}

func (o *serveOptions) validate() error {
	if _, ok := availableVariants[o.variant]; !ok {
		return fmt.Errorf("%w: %s", errInvalidVariant, o.variant)
	}

	return nil
}

// execute runs the test server next to the admin and health servers
// enabled by the environment. It returns when the shutdown operation is
// invoked, ctx is done or one of the servers fails.
func (o *serveOptions) execute(ctx context.Context) error {
	if !o.lock.TryLock() {
		return nil
	}
	defer o.lock.Unlock()

	adminConfig, err := admin.LoadConfig()
	if err != nil {
		return err
	}
	healthConfig, err := health.LoadConfig()
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	if o.logLevelFromEnv {
		log.SetLevel(logger.LevelFromString(adminConfig.LogLevel))
	}
	log = log.WithName(serveLoggerName)

	m := metrics.New(true)
	var adminServer *admin.Server
	if adminConfig.Enabled() {
		adminServer = admin.NewServer(ctx, adminConfig, m.Handler())
	}
	var healthServer *health.Server
	if healthConfig.Enabled() {
		healthServer = health.NewServer(ctx, healthConfig)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	serversCtx, stopServers := context.WithCancel(groupCtx)
	defer stopServers()

	server := &harness.ServerAMD{
		Variant:   o.variant,
		SlicePath: o.slicePath,
		Metrics:   m,
		Setup: func(_ context.Context, c *communicator.Communicator, unit *slice.Unit) error {
			if healthServer != nil {
				c.AddObserver(healthServer)
			}
			if adminServer != nil {
				adminServer.Attach(c, unit)
			}
			return nil
		},
	}

	group.Go(func() error {
		defer stopServers()
		return server.Run(groupCtx, o.args)
	})
	if adminServer != nil {
		group.Go(func() error {
			return adminServer.Run(serversCtx)
		})
	}
	if healthServer != nil {
		group.Go(func() error {
			return healthServer.Run(serversCtx)
		})
	}

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err == nil {
		log.Info("server stopped")
	}
	return err
}

// describeOptions holds the options set for the current describe function.
type describeOptions struct {
	paths   []string
	builtin bool
	out     io.Writer
}

func (o *describeOptions) validate() error {
	if len(o.paths) == 0 && !o.builtin {
		return errNoArguments
	}

	return nil
}

// execute loads every definition file into one unit and prints it as YAML.
func (o *describeOptions) execute(ctx context.Context) error {
	unit := slice.NewUnit()
	if o.builtin {
		if err := unit.Parse(ctx, "Test.ice", operations.Definitions()); err != nil {
			return err
		}
	}
	for _, path := range o.paths {
		if err := unit.LoadFile(ctx, path); err != nil {
			return err
		}
	}

	encoder := yaml.NewEncoder(o.out)
	encoder.SetIndent(2)
	if err := encoder.Encode(unit); err != nil {
		return err
	}
	return encoder.Close()
}

// invokeOptions holds the options set for the current ping or call function.
type invokeOptions struct {
	proxy     string
	operation string
	params    []string
	timeout   time.Duration
	context   map[string]string
	oneway    bool
	facet     string
	mode      protocol.OperationMode
	out       io.Writer
}

func (o *invokeOptions) validate(withOperation bool) error {
	if o.proxy == "" {
		return errNoArguments
	}
	if withOperation && o.operation == "" {
		return fmt.Errorf("%w: operation name", errMissingArgument)
	}

	return nil
}

func (o *invokeOptions) dial(ctx context.Context) (*client.Proxy, error) {
	proxy, err := client.DialProxy(ctx, o.proxy, nil)
	if err != nil {
		return nil, err
	}
	if o.facet != "" {
		proxy = proxy.Facet(o.facet)
	}
	return proxy, nil
}

// ping checks that the object exists and prints the interfaces it implements.
func (o *invokeOptions) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	proxy, err := o.dial(ctx)
	if err != nil {
		return err
	}
	defer proxy.Close()

	if err := proxy.Ping(ctx); err != nil {
		return err
	}
	ids, err := proxy.IDs(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(o.out, "%s is alive\n", proxy.Reference().Identity)
	for _, id := range ids {
		fmt.Fprintln(o.out, id)
	}
	return nil
}

// call marshals the string arguments in order, invokes the operation and
// prints the encoded result.
func (o *invokeOptions) call(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	proxy, err := o.dial(ctx)
	if err != nil {
		return err
	}
	defer proxy.Close()
	if o.oneway {
		proxy = proxy.Oneway()
	}

	params := protocol.NewOutputStream()
	for _, param := range o.params {
		params.WriteString(param)
	}

	result, err := proxy.Invoke(ctx, o.operation, o.mode, o.context, params.Bytes())
	var userException *client.UserExceptionError
	if errors.As(err, &userException) {
		fmt.Fprintf(o.out, "%s\n%s", userException.TypeID, hex.Dump(userException.Input().ReadRest()))
		return err
	}
	if err != nil {
		return err
	}

	if len(result) > 0 {
		fmt.Fprint(o.out, hex.Dump(result))
	}
	return nil
}
