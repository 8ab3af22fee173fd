// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package adapter

import (
	"maps"
	"sort"
	"sync"

	"github.com/mia-platform/icedispatch/internal/dispatch"
	"github.com/mia-platform/icedispatch/internal/identity"
)

// ServantLocator supplies servants on demand for the identities of one
// category that have no registered servant.
type ServantLocator interface {
	// Locate returns the servant for current, or nil when there is none. The
	// cookie is handed back to Finished.
	Locate(current *dispatch.Current) (dispatch.Servant, any, error)
	// Finished is called once the request dispatched to a located servant
	// is complete.
	Finished(current *dispatch.Current, servant dispatch.Servant, cookie any)
	// Deactivate is called when the adapter owning the locator is deactivated.
	Deactivate(category string)
}

// servantMap is the active servant map: servants by identity and facet,
// default servants and servant locators by category.
type servantMap struct {
	mu       sync.RWMutex
	servants map[identity.Identity]map[string]dispatch.Servant
	defaults map[string]dispatch.Servant
	locators map[string]ServantLocator
}

func newServantMap() *servantMap {
	return &servantMap{
		servants: make(map[identity.Identity]map[string]dispatch.Servant),
		defaults: make(map[string]dispatch.Servant),
		locators: make(map[string]ServantLocator),
	}
}

func (m *servantMap) add(servant dispatch.Servant, id identity.Identity, facet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	facets, ok := m.servants[id]
	if !ok {
		facets = make(map[string]dispatch.Servant)
		m.servants[id] = facets
	}
	if _, found := facets[facet]; found {
		return &AlreadyRegisteredError{Kind: "servant", ID: servantID(id, facet)}
	}
	facets[facet] = servant
	return nil
}

func (m *servantMap) remove(id identity.Identity, facet string) (dispatch.Servant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	facets := m.servants[id]
	servant, found := facets[facet]
	if !found {
		return nil, &NotRegisteredError{Kind: "servant", ID: servantID(id, facet)}
	}
	delete(facets, facet)
	if len(facets) == 0 {
		delete(m.servants, id)
	}
	return servant, nil
}

func (m *servantMap) removeAll(id identity.Identity) (map[string]dispatch.Servant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	facets, found := m.servants[id]
	if !found {
		return nil, &NotRegisteredError{Kind: "servant", ID: identity.ToString(id)}
	}
	delete(m.servants, id)
	return facets, nil
}

func (m *servantMap) find(id identity.Identity, facet string) dispatch.Servant {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.servants[id][facet]
}

func (m *servantMap) findAll(id identity.Identity) map[string]dispatch.Servant {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.servants[id])
}

func (m *servantMap) addDefault(servant dispatch.Servant, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.defaults[category]; found {
		return &AlreadyRegisteredError{Kind: "default servant", ID: category}
	}
	m.defaults[category] = servant
	return nil
}

func (m *servantMap) removeDefault(category string) (dispatch.Servant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	servant, found := m.defaults[category]
	if !found {
		return nil, &NotRegisteredError{Kind: "default servant", ID: category}
	}
	delete(m.defaults, category)
	return servant, nil
}

func (m *servantMap) findDefault(category string) dispatch.Servant {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.defaults[category]
}

func (m *servantMap) addLocator(locator ServantLocator, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.locators[category]; found {
		return &AlreadyRegisteredError{Kind: "servant locator", ID: category}
	}
	m.locators[category] = locator
	return nil
}

func (m *servantMap) removeLocator(category string) (ServantLocator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	locator, found := m.locators[category]
	if !found {
		return nil, &NotRegisteredError{Kind: "servant locator", ID: category}
	}
	delete(m.locators, category)
	return locator, nil
}

func (m *servantMap) findLocator(category string) ServantLocator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.locators[category]
}

// allLocators returns the registered locators by category.
func (m *servantMap) allLocators() map[string]ServantLocator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.locators)
}

// located is the outcome of a servant lookup. locator is set when a servant
// locator supplied the servant.
type located struct {
	servant dispatch.Servant
	locator ServantLocator
	cookie  any
}

// lookup finds the servant for current: the registered servant for identity
// and facet first, then the default servant of the category, the catch-all
// default servant, the locator of the category and the catch-all locator.
func (m *servantMap) lookup(current *dispatch.Current) (located, error) {
	m.mu.RLock()
	facets := m.servants[current.Identity]
	servant := facets[current.Facet]
	hasIdentity := len(facets) > 0
	if servant == nil {
		servant = m.defaults[current.Identity.Category]
	}
	if servant == nil {
		servant = m.defaults[""]
	}
	var locators []ServantLocator
	if servant == nil {
		if locator, ok := m.locators[current.Identity.Category]; ok {
			locators = append(locators, locator)
		}
		if locator, ok := m.locators[""]; ok && current.Identity.Category != "" {
			locators = append(locators, locator)
		}
	}
	m.mu.RUnlock()

	if servant != nil {
		return located{servant: servant}, nil
	}

	for _, locator := range locators {
		servant, cookie, err := locator.Locate(current)
		if err != nil {
			return located{}, err
		}
		if servant != nil {
			return located{servant: servant, locator: locator, cookie: cookie}, nil
		}
	}

	if hasIdentity {
		return located{}, dispatch.NewFacetNotExistError(current)
	}
	return located{}, dispatch.NewObjectNotExistError(current)
}

// ServantEntry describes the facets registered for one identity.
type ServantEntry struct {
	Identity string   `json:"identity"`
	Facets   []string `json:"facets"`
}

func (m *servantMap) snapshot() ([]ServantEntry, []string, []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]ServantEntry, 0, len(m.servants))
	for id, facets := range m.servants {
		names := make([]string, 0, len(facets))
		for facet := range facets {
			names = append(names, facet)
		}
		sort.Strings(names)
		entries = append(entries, ServantEntry{Identity: identity.ToString(id), Facets: names})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Identity < entries[j].Identity })

	return entries, sortedKeys(m.defaults), sortedKeys(m.locators)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
