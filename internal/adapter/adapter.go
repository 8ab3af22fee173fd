// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package adapter

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mia-platform/icedispatch/internal/dispatch"
	"github.com/mia-platform/icedispatch/internal/endpoint"
	"github.com/mia-platform/icedispatch/internal/identity"
	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/properties"
	"github.com/mia-platform/icedispatch/internal/protocol"
	"github.com/mia-platform/icedispatch/internal/threadpool"
	"github.com/mia-platform/icedispatch/internal/transport"
)

// State is the lifecycle state of an adapter.
type State int

const (
	StateHolding State = iota
	StateActive
	StateDeactivating
	StateDeactivated
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateHolding:
		return "holding"
	case StateActive:
		return "active"
	case StateDeactivating:
		return "deactivating"
	case StateDeactivated:
		return "deactivated"
	case StateDestroyed:
		return "destroyed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Communicator is the runtime an adapter belongs to.
type Communicator interface {
	Properties() *properties.Properties
	Logger() logger.Logger
	Shutdown()
}

// Observer is told about every state change of an adapter.
type Observer interface {
	AdapterStateChanged(name string, state State)
}

// Metrics records dispatch outcomes and connection counts.
type Metrics interface {
	ObserveDispatch(adapter, operation string, status protocol.ReplyStatus, elapsed time.Duration)
	SetConnections(adapter string, count int)
}

// Dependencies are the communicator facilities an adapter uses. Observer,
// Metrics and OnDestroy may be nil.
type Dependencies struct {
	Communicator Communicator
	// ServerPool dispatches requests unless the adapter configures a private
	// pool with "<name>.ThreadPool.Size" or "<name>.ThreadPool.SizeMax".
	ServerPool   *threadpool.Pool
	PoolObserver threadpool.Observer
	Observer     Observer
	Metrics      Metrics
	// OnDestroy is called once the adapter is destroyed and its name can be reused.
	OnDestroy func(name string)
}

// ObjectAdapter binds servants to endpoints and dispatches the requests
// arriving on them.
type ObjectAdapter struct {
	name  string
	props *properties.Properties
	log   logger.Logger
	deps  Dependencies

	servants *servantMap

	pool        *threadpool.Pool
	privatePool bool

	acceptors []transport.Acceptor
	published []endpoint.Endpoint

	messageSizeMax int
	warnDispatch   int
	traceDispatch  int
	traceNetwork   int
	traceProtocol  int

	mu           sync.Mutex
	state        State
	started      bool
	activeCh     chan struct{}
	deactivating chan struct{}
	deactivated  chan struct{}
	dispatching  int
	idle         *sync.Cond
	connections  map[*connection]struct{}

	acceptLoops sync.WaitGroup
	connWG      sync.WaitGroup
	destroyOnce sync.Once
}

// New creates the adapter name listening on endpoints. An empty endpoints
// value creates an adapter that can only be used for collocated dispatch
// through Dispatch. Endpoints are bound immediately but no connection is
// served before Activate.
func New(ctx context.Context, name, endpoints string, deps Dependencies) (*ObjectAdapter, error) {
	props := deps.Communicator.Properties()
	log := deps.Communicator.Logger().WithName("adapter").With("adapter", name)

	adapter := &ObjectAdapter{
		name:           name,
		props:          props,
		log:            log,
		deps:           deps,
		servants:       newServantMap(),
		pool:           deps.ServerPool,
		messageSizeMax: props.GetPropertyAsIntWithDefault("Ice.MessageSizeMax", 1024) * 1024,
		warnDispatch:   props.GetPropertyAsIntWithDefault("Ice.Warn.Dispatch", 1),
		traceDispatch:  props.GetPropertyAsIntWithDefault("Ice.Trace.Dispatch", 0),
		traceNetwork:   props.GetPropertyAsIntWithDefault("Ice.Trace.Network", 0),
		traceProtocol:  props.GetPropertyAsIntWithDefault("Ice.Trace.Protocol", 0),
		state:          StateHolding,
		activeCh:       make(chan struct{}),
		deactivating:   make(chan struct{}),
		deactivated:    make(chan struct{}),
		connections:    make(map[*connection]struct{}),
	}
	adapter.idle = sync.NewCond(&adapter.mu)

	poolPrefix := name + ".ThreadPool"
	if props.GetProperty(poolPrefix+".Size") != "" || props.GetProperty(poolPrefix+".SizeMax") != "" {
		config, warnings := threadpool.ConfigFromProperties(props, poolPrefix)
		for _, warning := range warnings {
			log.Warn(warning)
		}
		adapter.pool = threadpool.New(config, deps.Communicator.Logger(), deps.PoolObserver)
		adapter.privatePool = true
	}
	if adapter.pool == nil {
		return nil, fmt.Errorf("object adapter %s: no thread pool", name)
	}

	if strings.TrimSpace(endpoints) != "" {
		parsed, err := endpoint.Parse(endpoints, props)
		if err != nil {
			adapter.destroyPool()
			return nil, fmt.Errorf("object adapter %s: %w", name, err)
		}
		for _, ep := range parsed {
			acceptor, err := transport.Listen(ctx, ep)
			if err != nil {
				adapter.closeAcceptors()
				adapter.destroyPool()
				return nil, fmt.Errorf("object adapter %s: listen on %s: %w", name, ep, err)
			}
			adapter.acceptors = append(adapter.acceptors, acceptor)
			if adapter.traceNetwork > 0 {
				log.Info("listening for connections", "endpoint", acceptor.Endpoint().String())
			}
		}
	}

	published, err := adapter.computePublished()
	if err != nil {
		adapter.closeAcceptors()
		adapter.destroyPool()
		return nil, err
	}
	adapter.published = published

	adapter.notify(StateHolding)
	return adapter, nil
}

func (a *ObjectAdapter) computePublished() ([]endpoint.Endpoint, error) {
	value := a.props.GetProperty(a.name + ".PublishedEndpoints")
	if value == "" {
		return a.Endpoints(), nil
	}
	published, err := endpoint.Parse(value, a.props)
	if err != nil {
		return nil, fmt.Errorf("object adapter %s: published endpoints: %w", a.name, err)
	}
	return published, nil
}

func (a *ObjectAdapter) Name() string {
	return a.name
}

func (a *ObjectAdapter) Communicator() Communicator {
	return a.deps.Communicator
}

// Endpoints returns the bound endpoints, with the real ports.
func (a *ObjectAdapter) Endpoints() []endpoint.Endpoint {
	endpoints := make([]endpoint.Endpoint, 0, len(a.acceptors))
	for _, acceptor := range a.acceptors {
		endpoints = append(endpoints, acceptor.Endpoint())
	}
	return endpoints
}

// PublishedEndpoints returns the endpoints embedded in the proxies created
// by this adapter.
func (a *ObjectAdapter) PublishedEndpoints() []endpoint.Endpoint {
	return append([]endpoint.Endpoint(nil), a.published...)
}

// State returns the current lifecycle state.
func (a *ObjectAdapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}

func (a *ObjectAdapter) notify(state State) {
	a.log.Debug("object adapter state changed", "state", state.String())
	if a.deps.Observer != nil {
		a.deps.Observer.AdapterStateChanged(a.name, state)
	}
}

// Activate starts serving connections and dispatching requests.
func (a *ObjectAdapter) Activate(ctx context.Context) {
	a.mu.Lock()
	if a.state != StateHolding {
		a.mu.Unlock()
		return
	}
	a.state = StateActive
	close(a.activeCh)
	a.idle.Broadcast()
	if !a.started {
		a.started = true
		for _, acceptor := range a.acceptors {
			a.acceptLoops.Add(1)
			go a.accept(ctx, acceptor)
		}
	}
	a.mu.Unlock()

	a.notify(StateActive)
}

// Hold stops dispatching: requests that arrive are kept waiting until the
// next Activate.
func (a *ObjectAdapter) Hold() {
	a.mu.Lock()
	if a.state != StateActive {
		a.mu.Unlock()
		return
	}
	a.state = StateHolding
	a.activeCh = make(chan struct{})
	a.mu.Unlock()

	a.notify(StateHolding)
}

// WaitForHold waits until the dispatches started before Hold are complete.
func (a *ObjectAdapter) WaitForHold() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for a.state == StateHolding && a.dispatching > 0 {
		a.idle.Wait()
	}
}

// Deactivate stops accepting connections and asks every connection to close
// once its outstanding dispatches are complete. It does not wait: use
// WaitForDeactivate. It is safe to call from a servant.
func (a *ObjectAdapter) Deactivate() {
	a.mu.Lock()
	if a.state >= StateDeactivating {
		a.mu.Unlock()
		return
	}
	a.state = StateDeactivating
	close(a.deactivating)
	a.idle.Broadcast()
	connections := make([]*connection, 0, len(a.connections))
	for conn := range a.connections {
		connections = append(connections, conn)
	}
	a.mu.Unlock()

	a.notify(StateDeactivating)
	a.closeAcceptors()
	for _, conn := range connections {
		conn.shutdown()
	}

	go a.finishDeactivation()
}

func (a *ObjectAdapter) finishDeactivation() {
	a.acceptLoops.Wait()
	a.connWG.Wait()

	a.mu.Lock()
	for a.dispatching > 0 {
		a.idle.Wait()
	}
	a.mu.Unlock()

	for category, locator := range a.servants.allLocators() {
		locator.Deactivate(category)
	}
	a.destroyPool()

	a.mu.Lock()
	a.state = StateDeactivated
	a.mu.Unlock()
	a.notify(StateDeactivated)
	close(a.deactivated)
}

// WaitForDeactivate blocks until a deactivation completed: every connection
// is closed and every dispatch finished.
func (a *ObjectAdapter) WaitForDeactivate(ctx context.Context) error {
	select {
	case <-a.deactivated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsDeactivated reports whether Deactivate was called.
func (a *ObjectAdapter) IsDeactivated() bool {
	select {
	case <-a.deactivating:
		return true
	default:
		return false
	}
}

// Destroy deactivates the adapter, waits for the deactivation and releases
// its name.
func (a *ObjectAdapter) Destroy(ctx context.Context) error {
	a.Deactivate()
	if err := a.WaitForDeactivate(ctx); err != nil {
		return err
	}

	a.destroyOnce.Do(func() {
		a.mu.Lock()
		a.state = StateDestroyed
		a.mu.Unlock()
		a.notify(StateDestroyed)
		if a.deps.OnDestroy != nil {
			a.deps.OnDestroy(a.name)
		}
	})
	return nil
}

func (a *ObjectAdapter) closeAcceptors() {
	for _, acceptor := range a.acceptors {
		if err := acceptor.Close(); err != nil {
			a.log.Debug("closing acceptor", "endpoint", acceptor.Endpoint().String(), "error", err)
		}
	}
}

func (a *ObjectAdapter) destroyPool() {
	if a.privatePool {
		a.pool.Destroy()
		a.pool.Join()
	}
}

// waitActive blocks while the adapter is holding.
func (a *ObjectAdapter) waitActive(ctx context.Context) error {
	for {
		a.mu.Lock()
		state, activeCh := a.state, a.activeCh
		a.mu.Unlock()

		switch {
		case state >= StateDeactivating:
			return ErrAdapterDeactivated
		case state == StateActive:
			return nil
		}

		select {
		case <-activeCh:
		case <-a.deactivating:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *ObjectAdapter) checkActive() error {
	if a.IsDeactivated() {
		return fmt.Errorf("%w: %s", ErrAdapterDeactivated, a.name)
	}
	return nil
}

// Add registers servant for the default facet of id.
func (a *ObjectAdapter) Add(servant dispatch.Servant, id identity.Identity) error {
	return a.AddFacet(servant, id, "")
}

// AddFacet registers servant for the facet of id.
func (a *ObjectAdapter) AddFacet(servant dispatch.Servant, id identity.Identity, facet string) error {
	if err := a.checkActive(); err != nil {
		return err
	}
	if servant == nil {
		return ErrIllegalServant
	}
	if err := id.Validate(); err != nil {
		return err
	}
	return a.servants.add(servant, id, facet)
}

// AddWithUUID registers servant under a fresh identity and returns it.
func (a *ObjectAdapter) AddWithUUID(servant dispatch.Servant) (identity.Identity, error) {
	return a.AddFacetWithUUID(servant, "")
}

func (a *ObjectAdapter) AddFacetWithUUID(servant dispatch.Servant, facet string) (identity.Identity, error) {
	id := identity.New(uuid.NewString())
	if err := a.AddFacet(servant, id, facet); err != nil {
		return identity.Identity{}, err
	}
	return id, nil
}

func (a *ObjectAdapter) Remove(id identity.Identity) (dispatch.Servant, error) {
	return a.RemoveFacet(id, "")
}

func (a *ObjectAdapter) RemoveFacet(id identity.Identity, facet string) (dispatch.Servant, error) {
	if err := a.checkActive(); err != nil {
		return nil, err
	}
	return a.servants.remove(id, facet)
}

// RemoveAllFacets removes every facet of id and returns them by facet name.
func (a *ObjectAdapter) RemoveAllFacets(id identity.Identity) (map[string]dispatch.Servant, error) {
	if err := a.checkActive(); err != nil {
		return nil, err
	}
	return a.servants.removeAll(id)
}

// Find returns the servant of the default facet of id, or nil.
func (a *ObjectAdapter) Find(id identity.Identity) dispatch.Servant {
	return a.FindFacet(id, "")
}

func (a *ObjectAdapter) FindFacet(id identity.Identity, facet string) dispatch.Servant {
	return a.servants.find(id, facet)
}

func (a *ObjectAdapter) FindAllFacets(id identity.Identity) map[string]dispatch.Servant {
	return a.servants.findAll(id)
}

// AddDefaultServant registers servant for every identity of category
// without a registered servant. The empty category matches any identity.
func (a *ObjectAdapter) AddDefaultServant(servant dispatch.Servant, category string) error {
	if err := a.checkActive(); err != nil {
		return err
	}
	if servant == nil {
		return ErrIllegalServant
	}
	return a.servants.addDefault(servant, category)
}

func (a *ObjectAdapter) RemoveDefaultServant(category string) (dispatch.Servant, error) {
	if err := a.checkActive(); err != nil {
		return nil, err
	}
	return a.servants.removeDefault(category)
}

func (a *ObjectAdapter) FindDefaultServant(category string) dispatch.Servant {
	return a.servants.findDefault(category)
}

// AddServantLocator registers locator for category. The empty category
// matches any identity.
func (a *ObjectAdapter) AddServantLocator(locator ServantLocator, category string) error {
	if err := a.checkActive(); err != nil {
		return err
	}
	if locator == nil {
		return ErrIllegalServant
	}
	return a.servants.addLocator(locator, category)
}

func (a *ObjectAdapter) RemoveServantLocator(category string) (ServantLocator, error) {
	if err := a.checkActive(); err != nil {
		return nil, err
	}
	return a.servants.removeLocator(category)
}

func (a *ObjectAdapter) FindServantLocator(category string) ServantLocator {
	return a.servants.findLocator(category)
}

// CreateProxy returns the stringified proxy of id on the published endpoints,
// for example "test -t -e 1.1:tcp -h 127.0.0.1 -p 12010 -t 60000".
func (a *ObjectAdapter) CreateProxy(id identity.Identity) (string, error) {
	if err := a.checkActive(); err != nil {
		return "", err
	}
	if err := id.Validate(); err != nil {
		return "", err
	}

	builder := new(strings.Builder)
	idString := identity.ToString(id)
	if strings.ContainsAny(idString, " :@\t") {
		builder.WriteString(strconv.Quote(idString))
	} else {
		builder.WriteString(idString)
	}
	builder.WriteString(" -t -e ")
	builder.WriteString(protocol.Encoding11.String())
	for _, ep := range a.published {
		builder.WriteString(":")
		builder.WriteString(ep.String())
	}
	return builder.String(), nil
}

// Dispatch runs a request decoded by the caller on this adapter: servant
// lookup, thread pool and completion through w. It is the path used by every
// connection and by collocated callers.
func (a *ObjectAdapter) Dispatch(ctx context.Context, w dispatch.ResponseWriter, req *dispatch.Request) {
	if !a.beginDispatch() {
		w.Fail(NewDeactivatedError(a.name))
		return
	}

	done := &completionWriter{ResponseWriter: w, done: a.endDispatch}
	err := a.pool.Execute(ctx, func() {
		a.invoke(ctx, done, req)
	})
	if err != nil {
		if errors.Is(err, threadpool.ErrDestroyed) {
			err = NewDeactivatedError(a.name)
		}
		done.Fail(err)
	}
}

func (a *ObjectAdapter) beginDispatch() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state >= StateDeactivating {
		return false
	}
	a.dispatching++
	return true
}

func (a *ObjectAdapter) endDispatch() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.dispatching--
	if a.dispatching == 0 {
		a.idle.Broadcast()
	}
}

// invoke looks the servant up and calls it on the current worker.
func (a *ObjectAdapter) invoke(ctx context.Context, w dispatch.ResponseWriter, req *dispatch.Request) {
	current := req.Current
	if a.traceDispatch > 0 {
		a.log.Info("dispatching request",
			"identity", identity.ToString(current.Identity),
			"facet", current.Facet,
			"operation", current.Operation,
			"requestId", current.RequestID,
			"mode", current.Mode.String(),
		)
	}

	found, err := a.locate(current)
	if err != nil {
		w.Fail(err)
		return
	}
	if found.locator != nil {
		w = &locatedWriter{ResponseWriter: w, finished: func() {
			defer a.recoverLocator("Finished")
			found.locator.Finished(current, found.servant, found.cookie)
		}}
	}
	dispatch.Invoke(logger.WithContext(ctx, a.log), found.servant, w, req)
}

// locate looks up the servant of current. A panicking servant locator
// fails the request with an unknown exception.
func (a *ObjectAdapter) locate(current *dispatch.Current) (found located, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Debug("servant locator panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("servant locator panic: %v", r)
		}
	}()
	return a.servants.lookup(current)
}

func (a *ObjectAdapter) recoverLocator(call string) {
	if r := recover(); r != nil {
		a.log.Warn("servant locator panicked", "call", call, "panic", r)
	}
}

// completionWriter calls done after the first completion of the wrapped writer.
type completionWriter struct {
	dispatch.ResponseWriter
	once sync.Once
	done func()
}

func (w *completionWriter) Ok(out []byte) {
	w.ResponseWriter.Ok(out)
	w.once.Do(w.done)
}

func (w *completionWriter) UserException(ex dispatch.UserException) {
	w.ResponseWriter.UserException(ex)
	w.once.Do(w.done)
}

func (w *completionWriter) Fail(err error) {
	w.ResponseWriter.Fail(err)
	w.once.Do(w.done)
}

// locatedWriter tells the servant locator that the request is finished
// before the reply is sent.
type locatedWriter struct {
	dispatch.ResponseWriter
	once     sync.Once
	finished func()
}

func (w *locatedWriter) Ok(out []byte) {
	w.once.Do(w.finished)
	w.ResponseWriter.Ok(out)
}

func (w *locatedWriter) UserException(ex dispatch.UserException) {
	w.once.Do(w.finished)
	w.ResponseWriter.UserException(ex)
}

func (w *locatedWriter) Fail(err error) {
	w.once.Do(w.finished)
	w.ResponseWriter.Fail(err)
}

// PoolSnapshot describes the thread pool used by an adapter.
type PoolSnapshot struct {
	Name    string `json:"name"`
	Size    int    `json:"size"`
	SizeMax int    `json:"sizeMax"`
	InUse   int    `json:"inUse"`
	Running int    `json:"running"`
	Private bool   `json:"private"`
}

// Snapshot is a point in time view of an adapter.
type Snapshot struct {
	Name               string         `json:"name"`
	State              string         `json:"state"`
	Endpoints          []string       `json:"endpoints"`
	PublishedEndpoints []string       `json:"publishedEndpoints"`
	Servants           []ServantEntry `json:"servants"`
	DefaultServants    []string       `json:"defaultServants"`
	ServantLocators    []string       `json:"servantLocators"`
	Connections        int            `json:"connections"`
	Dispatching        int            `json:"dispatching"`
	ThreadPool         PoolSnapshot   `json:"threadPool"`
}

func (a *ObjectAdapter) Snapshot() Snapshot {
	servants, defaults, locators := a.servants.snapshot()
	config := a.pool.Config()

	a.mu.Lock()
	state, connections, dispatching := a.state, len(a.connections), a.dispatching
	a.mu.Unlock()

	return Snapshot{
		Name:               a.name,
		State:              state.String(),
		Endpoints:          endpointStrings(a.Endpoints()),
		PublishedEndpoints: endpointStrings(a.published),
		Servants:           servants,
		DefaultServants:    defaults,
		ServantLocators:    locators,
		Connections:        connections,
		Dispatching:        dispatching,
		ThreadPool: PoolSnapshot{
			Name:    config.Name,
			Size:    config.Size,
			SizeMax: config.SizeMax,
			InUse:   a.pool.InUse(),
			Running: a.pool.Running(),
			Private: a.privatePool,
		},
	}
}

func endpointStrings(endpoints []endpoint.Endpoint) []string {
	values := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		values = append(values, ep.String())
	}
	return values
}
