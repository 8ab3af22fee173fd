// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package slice

import (
	"sort"
)

// Unit holds the definitions loaded from one or more files.
type Unit struct {
	Files   []string  `yaml:"files"`
	Modules []*Module `yaml:"modules"`

	definitions  map[string]any
	interfaces   map[string]*Interface
	exceptions   map[string]*Exception
	enums        map[string]*Enum
	structs      map[string]*Struct
	sequences    map[string]*Sequence
	dictionaries map[string]*Dictionary
}

// NewUnit returns an empty unit knowing only the predefined types.
func NewUnit() *Unit {
	unit := &Unit{
		definitions:  make(map[string]any),
		interfaces:   make(map[string]*Interface),
		exceptions:   make(map[string]*Exception),
		enums:        make(map[string]*Enum),
		structs:      make(map[string]*Struct),
		sequences:    make(map[string]*Sequence),
		dictionaries: make(map[string]*Dictionary),
	}

	context := &Dictionary{
		Name:   "Context",
		Scoped: ContextTypeID,
		Key:    TypeRef{Name: String, Kind: KindBuiltin},
		Value:  TypeRef{Name: String, Kind: KindBuiltin},
	}
	unit.definitions[context.Scoped] = context
	unit.dictionaries[context.Scoped] = context
	return unit
}

// Interface returns the interface with the given scoped name.
func (u *Unit) Interface(scoped string) (*Interface, bool) {
	iface, ok := u.interfaces[scoped]
	if !ok || !iface.defined {
		return nil, false
	}
	return iface, true
}

// Interfaces returns the scoped names of every defined interface, sorted.
func (u *Unit) Interfaces() []string {
	names := make([]string, 0, len(u.interfaces))
	for name, iface := range u.interfaces {
		if iface.defined {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (u *Unit) Exception(scoped string) (*Exception, bool) {
	ex, ok := u.exceptions[scoped]
	return ex, ok
}

func (u *Unit) Enum(scoped string) (*Enum, bool) {
	enum, ok := u.enums[scoped]
	return enum, ok
}

func (u *Unit) Struct(scoped string) (*Struct, bool) {
	st, ok := u.structs[scoped]
	return st, ok
}

func (u *Unit) Sequence(scoped string) (*Sequence, bool) {
	seq, ok := u.sequences[scoped]
	return seq, ok
}

func (u *Unit) Dictionary(scoped string) (*Dictionary, bool) {
	dict, ok := u.dictionaries[scoped]
	return dict, ok
}

// TypeIDs returns the type ids implemented by an object of the given
// interface: the interface, all of its bases and ::Ice::Object, sorted.
func (u *Unit) TypeIDs(scoped string) []string {
	seen := map[string]bool{"::Ice::Object": true}
	var visit func(name string)
	visit = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		if iface, ok := u.interfaces[name]; ok {
			for _, base := range iface.Bases {
				visit(base)
			}
		}
	}
	visit(scoped)

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Operation finds op in the interface or, depth first, in its bases.
func (u *Unit) Operation(scoped, op string) (*Operation, bool) {
	visited := make(map[string]bool)
	var find func(name string) (*Operation, bool)
	find = func(name string) (*Operation, bool) {
		if visited[name] {
			return nil, false
		}
		visited[name] = true

		iface, ok := u.interfaces[name]
		if !ok {
			return nil, false
		}
		for _, operation := range iface.Operations {
			if operation.Name == op {
				return operation, true
			}
		}
		for _, base := range iface.Bases {
			if operation, ok := find(base); ok {
				return operation, true
			}
		}
		return nil, false
	}
	return find(scoped)
}

// Operations returns every operation of the interface including inherited
// ones, sorted by name.
func (u *Unit) Operations(scoped string) []*Operation {
	byName := make(map[string]*Operation)
	for _, id := range u.TypeIDs(scoped) {
		iface, ok := u.interfaces[id]
		if !ok {
			continue
		}
		for _, operation := range iface.Operations {
			if _, found := byName[operation.Name]; !found {
				byName[operation.Name] = operation
			}
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	operations := make([]*Operation, 0, len(names))
	for _, name := range names {
		operations = append(operations, byName[name])
	}
	return operations
}
