// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package threadpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/properties"
)

const (
	// ServerPrefix is the property prefix of the communicator server pool.
	ServerPrefix = "Ice.ThreadPool.Server"

	defaultIdleTime = 60 * time.Second
	warnInterval    = time.Minute
)

var (
	// ErrDestroyed is returned by Execute once the pool is destroyed.
	ErrDestroyed = errors.New("thread pool destroyed")
)

// Config holds the sizing of a pool.
type Config struct {
	Name      string
	Size      int
	SizeMax   int
	SizeWarn  int
	IdleTime  time.Duration
	Serialize bool
	Trace     int
}

// ConfigFromProperties reads "<prefix>.Size", "<prefix>.SizeMax",
// "<prefix>.SizeWarn", "<prefix>.ThreadIdleTime" and "<prefix>.Serialize".
// Out of range values are corrected and reported in the returned warnings.
func ConfigFromProperties(props *properties.Properties, prefix string) (Config, []string) {
	var warnings []string

	size := props.GetPropertyAsIntWithDefault(prefix+".Size", 1)
	if size < 1 {
		warnings = append(warnings, prefix+".Size < 1; Size adjusted to 1")
		size = 1
	}

	sizeMax := props.GetPropertyAsIntWithDefault(prefix+".SizeMax", size)
	if sizeMax < size {
		warnings = append(warnings, prefix+".SizeMax < "+prefix+".Size; SizeMax adjusted to Size")
		sizeMax = size
	}

	sizeWarn := props.GetPropertyAsIntWithDefault(prefix+".SizeWarn", sizeMax*80/100)
	if sizeWarn > sizeMax {
		warnings = append(warnings, prefix+".SizeWarn > "+prefix+".SizeMax; adjusted SizeWarn to SizeMax")
		sizeWarn = sizeMax
	}

	idleSeconds := props.GetPropertyAsIntWithDefault(prefix+".ThreadIdleTime", int(defaultIdleTime/time.Second))
	if idleSeconds < 0 {
		warnings = append(warnings, prefix+".ThreadIdleTime < 0; ThreadIdleTime adjusted to 0")
		idleSeconds = 0
	}

	return Config{
		Name:      prefix,
		Size:      size,
		SizeMax:   sizeMax,
		SizeWarn:  sizeWarn,
		IdleTime:  time.Duration(idleSeconds) * time.Second,
		Serialize: props.GetPropertyAsIntWithDefault(prefix+".Serialize", 0) > 0,
		Trace:     props.GetPropertyAsIntWithDefault("Ice.Trace.ThreadPool", 0),
	}, warnings
}

// Observer is notified every time the number of busy workers changes.
type Observer interface {
	SetThreadsInUse(pool string, inUse int)
}

// Pool runs tasks on a bounded set of worker goroutines. Workers are started
// on demand up to SizeMax and the ones above Size stop after IdleTime.
type Pool struct {
	config   Config
	log      logger.Logger
	observer Observer

	slots     chan struct{}
	tasks     chan func()
	destroyed chan struct{}
	warn      *rate.Limiter

	mu      sync.Mutex
	running int
	idle    int
	inUse   int
	closed  bool

	workers sync.WaitGroup
}

// New returns a pool with no running worker; observer may be nil.
func New(config Config, log logger.Logger, observer Observer) *Pool {
	if config.Size < 1 {
		config.Size = 1
	}
	if config.SizeMax < config.Size {
		config.SizeMax = config.Size
	}

	return &Pool{
		config:    config,
		log:       log.WithName("threadpool").With("pool", config.Name),
		observer:  observer,
		slots:     make(chan struct{}, config.SizeMax),
		tasks:     make(chan func()),
		destroyed: make(chan struct{}),
		warn:      rate.NewLimiter(rate.Every(warnInterval), 1),
	}
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.config
}

// Serialize reports whether requests from one connection must be dispatched in order.
func (p *Pool) Serialize() bool {
	return p.config.Serialize
}

// InUse returns the number of workers running a task.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.inUse
}

// Running returns the number of worker goroutines.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.running
}

// Execute runs task on a worker. It blocks while SizeMax workers are busy
// and fails when ctx is done or the pool is destroyed first.
func (p *Pool) Execute(ctx context.Context, task func()) error {
	select {
	case <-p.destroyed:
		return ErrDestroyed
	default:
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.destroyed:
		return ErrDestroyed
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrDestroyed
	}
	p.inUse++
	inUse := p.inUse
	if p.idle > 0 {
		// an idle worker is committed to receive from tasks
		p.idle--
		p.mu.Unlock()
		p.notify(inUse)

		select {
		case p.tasks <- task:
			return nil
		case <-p.destroyed:
			p.release()
			return ErrDestroyed
		}
	}

	p.running++
	running := p.running
	p.workers.Add(1)
	p.mu.Unlock()
	p.notify(inUse)

	if p.config.Trace > 0 && running > p.config.Size {
		p.log.Info("growing thread pool", "running", running, "sizeMax", p.config.SizeMax)
	}
	go p.worker(task)
	return nil
}

func (p *Pool) notify(inUse int) {
	if p.observer != nil {
		p.observer.SetThreadsInUse(p.config.Name, inUse)
	}

	if p.config.SizeWarn > 0 && inUse >= p.config.SizeWarn && p.warn.Allow() {
		p.log.Warn(
			"thread pool is running low on threads",
			"size", p.config.Size,
			"sizeMax", p.config.SizeMax,
			"sizeWarn", p.config.SizeWarn,
			"inUse", inUse,
		)
	}
}

func (p *Pool) release() {
	p.mu.Lock()
	p.inUse--
	inUse := p.inUse
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.SetThreadsInUse(p.config.Name, inUse)
	}
	<-p.slots
}

func (p *Pool) worker(task func()) {
	defer p.workers.Done()

	var idleTimer *time.Timer
	var idleC <-chan time.Time
	if p.config.IdleTime > 0 {
		idleTimer = time.NewTimer(p.config.IdleTime)
		idleTimer.Stop()
		defer idleTimer.Stop()
	}

	for {
		p.run(task)

		p.mu.Lock()
		p.idle++
		p.mu.Unlock()
		p.release()

		if idleTimer != nil {
			idleTimer.Reset(p.config.IdleTime)
			idleC = idleTimer.C
		}

		next, ok := p.wait(idleC)
		if !ok {
			return
		}
		task = next
	}
}

// wait blocks until a task is handed over. It returns false when the worker
// must stop, either because the pool is destroyed or because it was idle for
// too long while more than Size workers are running.
func (p *Pool) wait(idleC <-chan time.Time) (func(), bool) {
	for {
		select {
		case task := <-p.tasks:
			return task, true
		case <-p.destroyed:
			p.mu.Lock()
			p.running--
			p.mu.Unlock()
			return nil, false
		case <-idleC:
			p.mu.Lock()
			if p.idle > 0 && p.running > p.config.Size {
				p.idle--
				p.running--
				running := p.running
				p.mu.Unlock()
				if p.config.Trace > 0 {
					p.log.Info("shrinking thread pool", "running", running, "size", p.config.Size)
				}
				return nil, false
			}
			p.mu.Unlock()
			// keep serving, no more idle deadline until the next task
			idleC = nil
		}
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", "panic", r)
		}
	}()
	task()
}

// Destroy stops accepting tasks. Running tasks complete; idle workers exit.
func (p *Pool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.destroyed)
}

// Join waits for every worker to exit. It must be called after Destroy.
func (p *Pool) Join() {
	p.workers.Wait()
}
