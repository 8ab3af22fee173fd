// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package slice

import (
	"github.com/mia-platform/icedispatch/internal/protocol"
)

// Builtin type names.
const (
	Bool   = "bool"
	Byte   = "byte"
	Short  = "short"
	Int    = "int"
	Long   = "long"
	Float  = "float"
	Double = "double"
	String = "string"
	Object = "Object"
	Void   = "void"

	// ContextTypeID is the predefined string dictionary carried by every request.
	ContextTypeID = "::Ice::Context"
)

var builtinTypes = map[string]bool{
	Bool:   true,
	Byte:   true,
	Short:  true,
	Int:    true,
	Long:   true,
	Float:  true,
	Double: true,
	String: true,
	Object: true,
}

// Kind tells what a TypeRef resolves to.
type Kind string

const (
	KindBuiltin    Kind = "builtin"
	KindEnum       Kind = "enum"
	KindStruct     Kind = "struct"
	KindSequence   Kind = "sequence"
	KindDictionary Kind = "dictionary"
	KindInterface  Kind = "interface"
	KindVoid       Kind = "void"
)

// TypeRef is a reference to a builtin or user defined type.
type TypeRef struct {
	// Name is a builtin name or a fully scoped name.
	Name  string `yaml:"name"`
	Kind  Kind   `yaml:"kind"`
	Proxy bool   `yaml:"proxy,omitempty"`
}

func (t TypeRef) String() string {
	if t.Proxy {
		return t.Name + "*"
	}
	return t.Name
}

// Member is a data member of a struct or exception.
type Member struct {
	Name     string   `yaml:"name"`
	Type     TypeRef  `yaml:"type"`
	Metadata []string `yaml:"metadata,omitempty"`
}

type Enumerator struct {
	Name  string `yaml:"name"`
	Value int32  `yaml:"value"`
}

type Enum struct {
	Name        string       `yaml:"name"`
	Scoped      string       `yaml:"scoped"`
	Enumerators []Enumerator `yaml:"enumerators"`
}

// MaxValue returns the highest enumerator value.
func (e *Enum) MaxValue() int32 {
	var maxValue int32
	for _, enumerator := range e.Enumerators {
		maxValue = max(maxValue, enumerator.Value)
	}
	return maxValue
}

type Struct struct {
	Name    string   `yaml:"name"`
	Scoped  string   `yaml:"scoped"`
	Members []Member `yaml:"members"`
}

type Sequence struct {
	Name    string  `yaml:"name"`
	Scoped  string  `yaml:"scoped"`
	Element TypeRef `yaml:"element"`
}

type Dictionary struct {
	Name   string  `yaml:"name"`
	Scoped string  `yaml:"scoped"`
	Key    TypeRef `yaml:"key"`
	Value  TypeRef `yaml:"value"`
}

type Exception struct {
	Name    string   `yaml:"name"`
	Scoped  string   `yaml:"scoped"`
	Base    string   `yaml:"base,omitempty"`
	Members []Member `yaml:"members,omitempty"`
}

// Param is an in or out parameter.
type Param struct {
	Name     string   `yaml:"name"`
	Type     TypeRef  `yaml:"type"`
	Metadata []string `yaml:"metadata,omitempty"`
}

// Operation describes one operation of an interface.
type Operation struct {
	Name      string                 `yaml:"name"`
	Return    TypeRef                `yaml:"return"`
	InParams  []Param                `yaml:"in,omitempty"`
	OutParams []Param                `yaml:"out,omitempty"`
	Mode      protocol.OperationMode `yaml:"-"`
	ModeName  string                 `yaml:"mode"`
	Metadata  []string               `yaml:"metadata,omitempty"`
	Throws    []string               `yaml:"throws,omitempty"`
}

// HasMetadata reports whether the operation carries the given metadata directive.
func (o *Operation) HasMetadata(directive string) bool {
	for _, metadata := range o.Metadata {
		if metadata == directive {
			return true
		}
	}
	return false
}

type Interface struct {
	Name       string       `yaml:"name"`
	Scoped     string       `yaml:"scoped"`
	Bases      []string     `yaml:"bases,omitempty"`
	Metadata   []string     `yaml:"metadata,omitempty"`
	Operations []*Operation `yaml:"operations"`

	defined bool
}

type Constant struct {
	Name   string  `yaml:"name"`
	Scoped string  `yaml:"scoped"`
	Type   TypeRef `yaml:"type"`
	Value  string  `yaml:"value"`
}

// Module is a named scope.
type Module struct {
	Name         string        `yaml:"name"`
	Scoped       string        `yaml:"scoped"`
	Metadata     []string      `yaml:"metadata,omitempty"`
	Modules      []*Module     `yaml:"modules,omitempty"`
	Enums        []*Enum       `yaml:"enums,omitempty"`
	Structs      []*Struct     `yaml:"structs,omitempty"`
	Sequences    []*Sequence   `yaml:"sequences,omitempty"`
	Dictionaries []*Dictionary `yaml:"dictionaries,omitempty"`
	Exceptions   []*Exception  `yaml:"exceptions,omitempty"`
	Interfaces   []*Interface  `yaml:"interfaces,omitempty"`
	Constants    []*Constant   `yaml:"constants,omitempty"`
}
