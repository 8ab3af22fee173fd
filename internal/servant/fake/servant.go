// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package fake

import (
	"context"
	"sync"
	"testing"

	"github.com/mia-platform/icedispatch/internal/dispatch"
)

// HandlerFunc handles one operation of a FakeServant.
type HandlerFunc func(ctx context.Context, w dispatch.ResponseWriter, req *dispatch.Request)

var _ dispatch.Servant = &FakeServant{}

// FakeServant records the requests it receives and answers them with the
// handler registered for the operation, or with an empty Ok reply.
type FakeServant struct {
	tb testing.TB

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	requests []*dispatch.Current
	received chan *dispatch.Current
}

// NewFakeServant returns a servant answering every operation with Ok(nil).
func NewFakeServant(tb testing.TB) *FakeServant {
	tb.Helper()

	return &FakeServant{
		tb:       tb,
		handlers: make(map[string]HandlerFunc),
		received: make(chan *dispatch.Current, 64),
	}
}

// Handle registers fn for operation.
func (s *FakeServant) Handle(operation string, fn HandlerFunc) *FakeServant {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[operation] = fn
	return s
}

func (s *FakeServant) Dispatch(ctx context.Context, w dispatch.ResponseWriter, req *dispatch.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, req.Current)
	handler := s.handlers[req.Current.Operation]
	s.mu.Unlock()

	select {
	case s.received <- req.Current:
	default:
		s.tb.Logf("fake servant: dropped notification for %s", req.Current.Operation)
	}

	if handler == nil {
		w.Ok(nil)
		return
	}
	handler(ctx, w, req)
}

// Requests returns the requests received so far.
func (s *FakeServant) Requests() []*dispatch.Current {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*dispatch.Current(nil), s.requests...)
}

// Received is notified of every request as it is dispatched.
func (s *FakeServant) Received() <-chan *dispatch.Current {
	return s.received
}

// FakeLocator is a servant locator returning the servants of a fixed map,
// keyed by identity name.
type FakeLocator struct {
	tb testing.TB

	mu          sync.Mutex
	servants    map[string]dispatch.Servant
	err         error
	panicValue  any
	located     []string
	finished    []string
	deactivated []string
}

// NewFakeLocator returns a locator serving servants by identity name.
func NewFakeLocator(tb testing.TB, servants map[string]dispatch.Servant) *FakeLocator {
	tb.Helper()

	return &FakeLocator{
		tb:       tb,
		servants: servants,
	}
}

// FailWith makes every Locate call return err.
func (l *FakeLocator) FailWith(err error) *FakeLocator {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.err = err
	return l
}

// PanicWith makes every Locate call panic with value.
func (l *FakeLocator) PanicWith(value any) *FakeLocator {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.panicValue = value
	return l
}

func (l *FakeLocator) Locate(current *dispatch.Current) (dispatch.Servant, any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.located = append(l.located, current.Identity.Name)
	if l.panicValue != nil {
		panic(l.panicValue)
	}
	if l.err != nil {
		return nil, nil, l.err
	}
	servant, ok := l.servants[current.Identity.Name]
	if !ok {
		return nil, nil, nil
	}
	return servant, current.Identity.Name, nil
}

func (l *FakeLocator) Finished(_ *dispatch.Current, _ dispatch.Servant, cookie any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name, ok := cookie.(string)
	if !ok {
		l.tb.Errorf("fake locator: unexpected cookie %v", cookie)
		return
	}
	l.finished = append(l.finished, name)
}

func (l *FakeLocator) Deactivate(category string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.deactivated = append(l.deactivated, category)
}

// Located returns the identity names passed to Locate.
func (l *FakeLocator) Located() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.located...)
}

// FinishedCookies returns the cookies passed to Finished.
func (l *FakeLocator) FinishedCookies() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.finished...)
}

// Deactivated returns the categories passed to Deactivate.
func (l *FakeLocator) Deactivated() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.deactivated...)
}
