// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package communicator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mia-platform/icedispatch/internal/adapter"
	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/properties"
	"github.com/mia-platform/icedispatch/internal/threadpool"
)

var (
	// ErrShutdown is returned when creating an adapter after Shutdown.
	ErrShutdown = errors.New("communicator shut down")
	// ErrDestroyed is returned by the operations of a destroyed communicator.
	ErrDestroyed = errors.New("communicator destroyed")
)

// Metrics receives the dispatch, connection and thread pool figures of
// every adapter of a communicator.
type Metrics interface {
	adapter.Metrics
	threadpool.Observer
}

// InitData holds the settings of a new communicator. Every field is optional.
type InitData struct {
	Properties *properties.Properties
	Logger     logger.Logger
	Metrics    Metrics
	// LookupEnv resolves ICE_CONFIG; it defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

var _ adapter.Communicator = &Communicator{}

// Communicator is the runtime of a process: it owns the properties, the
// server thread pool and the object adapters.
type Communicator struct {
	props   *properties.Properties
	log     logger.Logger
	metrics Metrics
	pool    *threadpool.Pool

	mu        sync.Mutex
	adapters  map[string]*adapter.ObjectAdapter
	reserved  map[string]struct{}
	observers []adapter.Observer
	shutdown  bool
	destroyed bool
	done      chan struct{}

	destroyOnce sync.Once
	destroyErr  error
}

// Initialize returns a communicator for data. When the properties do not
// name configuration files with Ice.Config, the files listed in the
// ICE_CONFIG environment variable are loaded underneath them.
func Initialize(ctx context.Context, data InitData) (*Communicator, error) {
	props := data.Properties
	if props == nil {
		props = properties.New()
	}
	lookupEnv := data.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	props, err := withConfigFiles(props, lookupEnv)
	if err != nil {
		return nil, fmt.Errorf("initialize communicator: %w", err)
	}

	log := data.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}

	config, warnings := threadpool.ConfigFromProperties(props, threadpool.ServerPrefix)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	c := &Communicator{
		props:    props,
		log:      log,
		metrics:  data.Metrics,
		adapters: make(map[string]*adapter.ObjectAdapter),
		reserved: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	c.pool = threadpool.New(config, log, c.poolObserver())

	log.WithName("communicator").Debug("communicator initialized", "serverPoolSize", config.Size, "serverPoolSizeMax", config.SizeMax)
	return c, nil
}

func withConfigFiles(props *properties.Properties, lookupEnv func(string) (string, bool)) (*properties.Properties, error) {
	if props.GetProperty(properties.ConfigProperty) != "" {
		return props, nil
	}
	if value, ok := lookupEnv(properties.ConfigEnvVariable); !ok || strings.TrimSpace(value) == "" {
		return props, nil
	}

	loaded, _, err := properties.NewFromArgs(nil, lookupEnv)
	if err != nil {
		return nil, err
	}
	for _, key := range props.Keys() {
		if err := loaded.SetProperty(key, props.GetProperty(key)); err != nil {
			return nil, err
		}
	}
	return loaded, nil
}

func (c *Communicator) poolObserver() threadpool.Observer {
	if c.metrics == nil {
		return nil
	}
	return c.metrics
}

func (c *Communicator) Properties() *properties.Properties {
	return c.props
}

func (c *Communicator) Logger() logger.Logger {
	return c.log
}

// AddObserver registers o for the state changes of every adapter created
// afterwards.
func (c *Communicator) AddObserver(o adapter.Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observers = append(c.observers, o)
}

// AdapterStateChanged fans the adapter state changes out to the observers.
func (c *Communicator) AdapterStateChanged(name string, state adapter.State) {
	c.mu.Lock()
	observers := append([]adapter.Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		o.AdapterStateChanged(name, state)
	}
}

// CreateObjectAdapter creates the adapter name listening on the endpoints of
// the "<name>.Endpoints" property. An empty name creates an adapter with a
// fresh unique name and no endpoints.
func (c *Communicator) CreateObjectAdapter(ctx context.Context, name string) (*adapter.ObjectAdapter, error) {
	if name == "" {
		return c.createAdapter(ctx, uuid.NewString(), "")
	}
	return c.createAdapter(ctx, name, c.props.GetProperty(name+".Endpoints"))
}

// CreateObjectAdapterWithEndpoints sets "<name>.Endpoints" to endpoints and
// creates the adapter.
func (c *Communicator) CreateObjectAdapterWithEndpoints(ctx context.Context, name, endpoints string) (*adapter.ObjectAdapter, error) {
	if name == "" {
		name = uuid.NewString()
	}
	if err := c.props.SetProperty(name+".Endpoints", endpoints); err != nil {
		return nil, err
	}
	return c.createAdapter(ctx, name, endpoints)
}

func (c *Communicator) createAdapter(ctx context.Context, name, endpoints string) (*adapter.ObjectAdapter, error) {
	c.mu.Lock()
	if err := c.checkNameLocked(name); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.reserved[name] = struct{}{}
	c.mu.Unlock()

	deps := adapter.Dependencies{
		Communicator: c,
		ServerPool:   c.pool,
		PoolObserver: c.poolObserver(),
		Observer:     c,
		OnDestroy:    c.removeAdapter,
	}
	if c.metrics != nil {
		deps.Metrics = c.metrics
	}

	// adapter.New notifies the observers, so it runs without the lock
	created, err := adapter.New(ctx, name, endpoints, deps)

	c.mu.Lock()
	delete(c.reserved, name)
	if err == nil && c.shutdown {
		err = fmt.Errorf("%w: cannot create object adapter %s", ErrShutdown, name)
	} else if err == nil {
		c.adapters[name] = created
	}
	c.mu.Unlock()

	if err != nil {
		if created != nil {
			_ = created.Destroy(ctx)
		}
		return nil, err
	}
	return created, nil
}

func (c *Communicator) checkNameLocked(name string) error {
	switch {
	case c.destroyed:
		return ErrDestroyed
	case c.shutdown:
		return fmt.Errorf("%w: cannot create object adapter %s", ErrShutdown, name)
	}
	_, found := c.adapters[name]
	if _, reserved := c.reserved[name]; found || reserved {
		return &adapter.AlreadyRegisteredError{Kind: "object adapter", ID: name}
	}
	return nil
}

func (c *Communicator) removeAdapter(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.adapters, name)
}

// FindAdapter returns the adapter name, or nil.
func (c *Communicator) FindAdapter(name string) *adapter.ObjectAdapter {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.adapters[name]
}

// Adapters returns the adapters sorted by name.
func (c *Communicator) Adapters() []*adapter.ObjectAdapter {
	c.mu.Lock()
	adapters := make([]*adapter.ObjectAdapter, 0, len(c.adapters))
	for _, a := range c.adapters {
		adapters = append(adapters, a)
	}
	c.mu.Unlock()

	sort.Slice(adapters, func(i, j int) bool { return adapters[i].Name() < adapters[j].Name() })
	return adapters
}

// Shutdown deactivates every adapter. It returns immediately and can be
// called from a servant; WaitForShutdown waits for the deactivation.
func (c *Communicator) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	adapters := make([]*adapter.ObjectAdapter, 0, len(c.adapters))
	for _, a := range c.adapters {
		adapters = append(adapters, a)
	}
	c.mu.Unlock()

	c.log.WithName("communicator").Info("shutting down", "adapters", len(adapters))
	for _, a := range adapters {
		a.Deactivate()
	}

	go func() {
		for _, a := range adapters {
			_ = a.WaitForDeactivate(context.Background())
		}
		close(c.done)
	}()
}

// IsShutdown reports whether Shutdown was called.
func (c *Communicator) IsShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.shutdown
}

// Done is closed once every adapter is deactivated after Shutdown.
func (c *Communicator) Done() <-chan struct{} {
	return c.done
}

// WaitForShutdown blocks until Shutdown was called and completed.
func (c *Communicator) WaitForShutdown() {
	<-c.done
}

// WaitForShutdownContext is WaitForShutdown bounded by ctx.
func (c *Communicator) WaitForShutdownContext(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Destroy shuts down, destroys every adapter and the server thread pool.
// Calling it again returns the result of the first call.
func (c *Communicator) Destroy() error {
	c.destroyOnce.Do(func() {
		c.Shutdown()
		c.WaitForShutdown()

		var errs []error
		for _, a := range c.Adapters() {
			if err := a.Destroy(context.Background()); err != nil {
				errs = append(errs, fmt.Errorf("destroy object adapter %s: %w", a.Name(), err))
			}
		}

		c.pool.Destroy()
		c.pool.Join()

		c.mu.Lock()
		c.destroyed = true
		c.mu.Unlock()

		c.log.WithName("communicator").Debug("communicator destroyed")
		c.destroyErr = errors.Join(errs...)
	})
	return c.destroyErr
}

// Close destroys the communicator.
func (c *Communicator) Close() error {
	return c.Destroy()
}
