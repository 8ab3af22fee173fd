// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package adapter

import (
	"errors"
	"fmt"

	"github.com/mia-platform/icedispatch/internal/dispatch"
	"github.com/mia-platform/icedispatch/internal/identity"
)

var (
	ErrAlreadyRegistered  = errors.New("already registered")
	ErrNotRegistered      = errors.New("not registered")
	ErrIllegalIdentity    = identity.ErrIllegalIdentity
	ErrIllegalServant     = errors.New("illegal servant")
	ErrAdapterDeactivated = errors.New("object adapter deactivated")
	ErrNoEndpoints        = errors.New("object adapter has no endpoints")
)

// AlreadyRegisteredError reports a registration colliding with an existing one.
type AlreadyRegisteredError struct {
	// Kind is what was registered: "servant", "default servant",
	// "servant locator" or "object adapter".
	Kind string
	ID   string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("%s %q is %s", e.Kind, e.ID, ErrAlreadyRegistered)
}

func (e *AlreadyRegisteredError) Unwrap() error {
	return ErrAlreadyRegistered
}

// NotRegisteredError reports the removal of something that was never registered.
type NotRegisteredError struct {
	Kind string
	ID   string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("%s %q is %s", e.Kind, e.ID, ErrNotRegistered)
}

func (e *NotRegisteredError) Unwrap() error {
	return ErrNotRegistered
}

// NewDeactivatedError returns the failure sent for requests reaching a
// deactivated adapter.
func NewDeactivatedError(name string) *dispatch.LocalError {
	return dispatch.NewLocalError("ObjectAdapterDeactivatedException", name, ErrAdapterDeactivated)
}

func servantID(id identity.Identity, facet string) string {
	if facet == "" {
		return identity.ToString(id)
	}
	return identity.ToString(id) + " -f " + facet
}
