// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package slice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/mia-platform/icedispatch/internal/logger"
	"github.com/mia-platform/icedispatch/internal/protocol"
)

var (
	ErrSyntax            = errors.New("syntax error")
	ErrUnknownType       = errors.New("unknown type")
	ErrRedefinition      = errors.New("redefinition")
	ErrCyclicInheritance = errors.New("cyclic inheritance")
	ErrUnsupported       = errors.New("unsupported construct")
)

// ParseError is a failure located in a source file.
type ParseError struct {
	Pos scanner.Position
	Err error
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Pos, e.Err, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// LoadFile parses the file at path into a new unit.
func LoadFile(ctx context.Context, path string) (*Unit, error) {
	unit := NewUnit()
	if err := unit.LoadFile(ctx, path); err != nil {
		return nil, err
	}
	return unit, nil
}

// Parse parses src into a new unit; name is used in error positions.
func Parse(ctx context.Context, name, src string) (*Unit, error) {
	unit := NewUnit()
	if err := unit.Parse(ctx, name, src); err != nil {
		return nil, err
	}
	return unit, nil
}

// LoadFile adds the definitions of the file at path to u.
func (u *Unit) LoadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return u.Parse(ctx, path, string(data))
}

// Parse adds the definitions in src to u. Preprocessor directives are ignored.
func (u *Unit) Parse(ctx context.Context, name, src string) (err error) {
	p := &parser{
		unit: u,
		log:  logger.FromContext(ctx).WithName("slice"),
	}
	p.scanner.Init(strings.NewReader(stripDirectives(src)))
	p.scanner.Filename = name
	p.scanner.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats |
		scanner.ScanStrings | scanner.ScanComments | scanner.SkipComments
	p.scanner.Error = func(s *scanner.Scanner, msg string) {
		p.failAt(s.Position, ErrSyntax, "%s", msg)
	}

	defer func() {
		if r := recover(); r != nil {
			parseErr, ok := r.(*ParseError)
			if !ok {
				panic(r)
			}
			err = parseErr
		}
	}()

	p.next()
	p.parseFile()
	u.Files = append(u.Files, name)
	return nil
}

// stripDirectives blanks preprocessor lines keeping line numbers intact.
func stripDirectives(src string) string {
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

type parser struct {
	unit    *Unit
	log     logger.Logger
	scanner scanner.Scanner

	tok  rune
	text string
	pos  scanner.Position
}

func (p *parser) next() {
	p.tok = p.scanner.Scan()
	p.text = p.scanner.TokenText()
	p.pos = p.scanner.Position
}

func (p *parser) fail(err error, format string, args ...any) {
	p.failAt(p.pos, err, format, args...)
}

func (p *parser) failAt(pos scanner.Position, err error, format string, args ...any) {
	panic(&ParseError{Pos: pos, Err: err, Msg: fmt.Sprintf(format, args...)})
}

func (p *parser) describe() string {
	if p.tok == scanner.EOF {
		return "end of file"
	}
	return strconv.Quote(p.text)
}

func (p *parser) expect(tok rune) {
	if p.tok != tok {
		p.fail(ErrSyntax, "expected %q, found %s", tok, p.describe())
	}
	p.next()
}

func (p *parser) accept(tok rune) bool {
	if p.tok == tok {
		p.next()
		return true
	}
	return false
}

func (p *parser) isKeyword(keyword string) bool {
	return p.tok == scanner.Ident && p.text == keyword
}

func (p *parser) expectKeyword(keyword string) {
	if !p.isKeyword(keyword) {
		p.fail(ErrSyntax, "expected %q, found %s", keyword, p.describe())
	}
	p.next()
}

func (p *parser) ident() string {
	if p.tok != scanner.Ident {
		p.fail(ErrSyntax, "expected identifier, found %s", p.describe())
	}
	name := p.text
	p.next()
	return name
}

// closeDefinition consumes the '}' ending a definition and an optional ';'.
func (p *parser) closeDefinition() {
	p.expect('}')
	p.accept(';')
}

func (p *parser) parseFile() {
	for p.tok != scanner.EOF {
		metadata := p.parseMetadata()
		if p.tok == scanner.EOF {
			return
		}
		p.parseModule(nil, metadata)
	}
}

// parseMetadata reads an optional ["a", "b"] list. File level [["..."]]
// metadata is read and discarded.
func (p *parser) parseMetadata() []string {
	var metadata []string
	for p.tok == '[' {
		p.next()
		global := p.accept('[')

		var list []string
		for {
			if p.tok != scanner.String {
				p.fail(ErrSyntax, "expected metadata string, found %s", p.describe())
			}
			value, _ := strconv.Unquote(p.text)
			list = append(list, value)
			p.next()
			if !p.accept(',') {
				break
			}
		}

		p.expect(']')
		if global {
			p.expect(']')
			continue
		}
		metadata = append(metadata, list...)
	}
	return metadata
}

func (p *parser) parseModule(parent *Module, metadata []string) {
	p.expectKeyword("module")
	pos := p.pos
	name := p.ident()

	scope := ""
	siblings := &p.unit.Modules
	if parent != nil {
		scope = parent.Scoped
		siblings = &parent.Modules
	}
	scoped := scope + "::" + name

	var module *Module
	for _, existing := range *siblings {
		if existing.Scoped == scoped {
			module = existing
		}
	}
	if module == nil {
		if _, defined := p.unit.definitions[scoped]; defined {
			p.failAt(pos, ErrRedefinition, "%s is already defined", scoped)
		}
		module = &Module{Name: name, Scoped: scoped}
		*siblings = append(*siblings, module)
	}
	module.Metadata = append(module.Metadata, metadata...)

	p.expect('{')
	for p.tok != '}' {
		if p.tok == scanner.EOF {
			p.fail(ErrSyntax, "module %s is not closed", scoped)
		}
		p.parseDefinition(module)
	}
	p.closeDefinition()
}

func (p *parser) parseDefinition(module *Module) {
	metadata := p.parseMetadata()
	if p.tok != scanner.Ident {
		p.fail(ErrSyntax, "expected definition, found %s", p.describe())
	}

	switch p.text {
	case "module":
		p.parseModule(module, metadata)
	case "enum":
		p.parseEnum(module)
	case "struct":
		p.parseStruct(module)
	case "sequence":
		p.parseSequence(module)
	case "dictionary":
		p.parseDictionary(module)
	case "exception":
		p.parseException(module)
	case "interface":
		p.parseInterface(module, metadata)
	case "const":
		p.parseConstant(module)
	case "class", "local", "optional":
		p.fail(ErrUnsupported, "%q definitions are not supported", p.text)
	default:
		p.fail(ErrSyntax, "unexpected %s", p.describe())
	}
}

func (p *parser) define(pos scanner.Position, scoped string, definition any) {
	if existing, found := p.unit.definitions[scoped]; found {
		forward, isInterface := existing.(*Interface)
		_, defining := definition.(*Interface)
		if !isInterface || !defining || forward.defined {
			p.failAt(pos, ErrRedefinition, "%s is already defined", scoped)
		}
	}
	p.unit.definitions[scoped] = definition
}

func (p *parser) parseEnum(module *Module) {
	p.expectKeyword("enum")
	pos := p.pos
	name := p.ident()
	enum := &Enum{Name: name, Scoped: module.Scoped + "::" + name}

	p.expect('{')
	seen := make(map[string]bool)
	var value int32
	for p.tok != '}' {
		enumeratorPos := p.pos
		enumerator := p.ident()
		if seen[enumerator] {
			p.failAt(enumeratorPos, ErrRedefinition, "enumerator %s is already defined in %s", enumerator, enum.Scoped)
		}
		seen[enumerator] = true

		if p.accept('=') {
			if p.tok != scanner.Int {
				p.fail(ErrSyntax, "expected enumerator value, found %s", p.describe())
			}
			parsed, err := strconv.ParseInt(p.text, 0, 32)
			if err != nil || parsed < 0 {
				p.fail(ErrSyntax, "invalid enumerator value %s", p.text)
			}
			value = int32(parsed)
			p.next()
		}
		enum.Enumerators = append(enum.Enumerators, Enumerator{Name: enumerator, Value: value})
		value++

		if !p.accept(',') {
			break
		}
	}
	if len(enum.Enumerators) == 0 {
		p.failAt(pos, ErrSyntax, "enum %s has no enumerators", enum.Scoped)
	}
	p.closeDefinition()

	p.define(pos, enum.Scoped, enum)
	p.unit.enums[enum.Scoped] = enum
	module.Enums = append(module.Enums, enum)
}

func (p *parser) parseMembers(scope string) []Member {
	var members []Member
	for p.tok != '}' {
		metadata := p.parseMetadata()
		if p.isKeyword("optional") {
			p.fail(ErrUnsupported, "optional data members are not supported")
		}
		memberType := p.parseType(scope)
		name := p.ident()
		if p.accept('=') {
			// default values are not needed for dispatching
			for p.tok != ';' && p.tok != scanner.EOF {
				p.next()
			}
		}
		p.expect(';')
		members = append(members, Member{Name: name, Type: memberType, Metadata: metadata})
	}
	return members
}

func (p *parser) parseStruct(module *Module) {
	p.expectKeyword("struct")
	pos := p.pos
	name := p.ident()
	st := &Struct{Name: name, Scoped: module.Scoped + "::" + name}

	p.expect('{')
	st.Members = p.parseMembers(module.Scoped)
	p.closeDefinition()
	if len(st.Members) == 0 {
		p.failAt(pos, ErrSyntax, "struct %s has no members", st.Scoped)
	}

	p.define(pos, st.Scoped, st)
	p.unit.structs[st.Scoped] = st
	module.Structs = append(module.Structs, st)
}

func (p *parser) parseSequence(module *Module) {
	p.expectKeyword("sequence")
	p.expect('<')
	p.parseMetadata()
	element := p.parseType(module.Scoped)
	p.expect('>')
	pos := p.pos
	name := p.ident()
	p.expect(';')

	seq := &Sequence{Name: name, Scoped: module.Scoped + "::" + name, Element: element}
	p.define(pos, seq.Scoped, seq)
	p.unit.sequences[seq.Scoped] = seq
	module.Sequences = append(module.Sequences, seq)
}

func (p *parser) parseDictionary(module *Module) {
	p.expectKeyword("dictionary")
	p.expect('<')
	p.parseMetadata()
	key := p.parseType(module.Scoped)
	p.expect(',')
	p.parseMetadata()
	value := p.parseType(module.Scoped)
	p.expect('>')
	pos := p.pos
	name := p.ident()
	p.expect(';')

	dict := &Dictionary{Name: name, Scoped: module.Scoped + "::" + name, Key: key, Value: value}
	p.define(pos, dict.Scoped, dict)
	p.unit.dictionaries[dict.Scoped] = dict
	module.Dictionaries = append(module.Dictionaries, dict)
}

func (p *parser) parseException(module *Module) {
	p.expectKeyword("exception")
	pos := p.pos
	name := p.ident()
	ex := &Exception{Name: name, Scoped: module.Scoped + "::" + name}

	if p.isKeyword("extends") {
		p.next()
		basePos := p.pos
		base := p.resolve(module.Scoped, p.parseScopedName(), basePos)
		if _, ok := p.unit.exceptions[base]; !ok {
			p.failAt(basePos, ErrUnknownType, "%s is not an exception", base)
		}
		ex.Base = base
	}

	p.expect('{')
	ex.Members = p.parseMembers(module.Scoped)
	p.closeDefinition()

	p.define(pos, ex.Scoped, ex)
	p.unit.exceptions[ex.Scoped] = ex
	module.Exceptions = append(module.Exceptions, ex)
}

func (p *parser) parseInterface(module *Module, metadata []string) {
	p.expectKeyword("interface")
	pos := p.pos
	name := p.ident()
	scoped := module.Scoped + "::" + name

	if p.accept(';') {
		if _, found := p.unit.definitions[scoped]; !found {
			forward := &Interface{Name: name, Scoped: scoped}
			p.unit.definitions[scoped] = forward
			p.unit.interfaces[scoped] = forward
		}
		return
	}

	iface, found := p.unit.interfaces[scoped]
	if !found {
		iface = &Interface{Name: name, Scoped: scoped}
	}
	p.define(pos, scoped, iface)
	p.unit.interfaces[scoped] = iface
	iface.Metadata = metadata

	if p.isKeyword("extends") {
		p.next()
		for {
			basePos := p.pos
			base := p.resolve(module.Scoped, p.parseScopedName(), basePos)
			if base == scoped {
				p.failAt(basePos, ErrCyclicInheritance, "%s extends itself", scoped)
			}
			baseInterface, ok := p.unit.interfaces[base]
			if !ok {
				p.failAt(basePos, ErrUnknownType, "%s is not an interface", base)
			}
			if !baseInterface.defined {
				p.failAt(basePos, ErrCyclicInheritance, "%s extends %s which is declared but not defined", scoped, base)
			}
			iface.Bases = append(iface.Bases, base)
			if !p.accept(',') {
				break
			}
		}
	}

	p.expect('{')
	// the interface is usable by its own operations, for proxy parameters
	iface.defined = true
	names := make(map[string]bool)
	for p.tok != '}' {
		opPos := p.pos
		operation := p.parseOperation(module.Scoped, iface)
		if names[operation.Name] {
			p.failAt(opPos, ErrRedefinition, "operation %s is already defined in %s", operation.Name, scoped)
		}
		if inherited, ok := p.inheritedOperation(iface, operation.Name); ok {
			p.failAt(opPos, ErrRedefinition, "operation %s is already defined in base %s", operation.Name, inherited)
		}
		names[operation.Name] = true
		iface.Operations = append(iface.Operations, operation)
	}
	p.closeDefinition()

	module.Interfaces = append(module.Interfaces, iface)
}

func (p *parser) inheritedOperation(iface *Interface, name string) (string, bool) {
	for _, base := range iface.Bases {
		for _, id := range p.unit.TypeIDs(base) {
			baseInterface, ok := p.unit.interfaces[id]
			if !ok {
				continue
			}
			for _, operation := range baseInterface.Operations {
				if operation.Name == name {
					return id, true
				}
			}
		}
	}
	return "", false
}

func (p *parser) parseOperation(scope string, iface *Interface) *Operation {
	operation := &Operation{Metadata: p.parseMetadata(), Mode: protocol.Normal}
	if p.isKeyword("idempotent") {
		p.next()
		operation.Mode = protocol.Idempotent
		if operation.HasMetadata("nonmutating") {
			operation.Mode = protocol.Nonmutating
		}
	}
	operation.ModeName = operation.Mode.String()

	if p.isKeyword(Void) {
		p.next()
		operation.Return = TypeRef{Name: Void, Kind: KindVoid}
	} else {
		operation.Return = p.parseType(scope)
	}
	operation.Name = p.ident()

	p.expect('(')
	seenOut := false
	params := make(map[string]bool)
	for p.tok != ')' {
		metadata := p.parseMetadata()
		out := false
		if p.isKeyword("out") {
			p.next()
			out = true
			seenOut = true
		} else if seenOut {
			p.fail(ErrSyntax, "in parameters must precede out parameters in %s::%s", iface.Scoped, operation.Name)
		}
		if p.isKeyword("optional") {
			p.fail(ErrUnsupported, "optional parameters are not supported")
		}

		paramType := p.parseType(scope)
		paramPos := p.pos
		name := p.ident()
		if params[name] {
			p.failAt(paramPos, ErrRedefinition, "parameter %s is already defined", name)
		}
		params[name] = true

		param := Param{Name: name, Type: paramType, Metadata: metadata}
		if out {
			operation.OutParams = append(operation.OutParams, param)
		} else {
			operation.InParams = append(operation.InParams, param)
		}
		if !p.accept(',') {
			break
		}
	}
	p.expect(')')

	if p.isKeyword("throws") {
		p.next()
		for {
			pos := p.pos
			ex := p.resolve(scope, p.parseScopedName(), pos)
			if _, ok := p.unit.exceptions[ex]; !ok {
				p.failAt(pos, ErrUnknownType, "%s is not an exception", ex)
			}
			operation.Throws = append(operation.Throws, ex)
			if !p.accept(',') {
				break
			}
		}
	}
	p.expect(';')
	return operation
}

func (p *parser) parseConstant(module *Module) {
	p.expectKeyword("const")
	p.parseMetadata()
	constType := p.parseType(module.Scoped)
	pos := p.pos
	name := p.ident()
	p.expect('=')

	var value []string
	for p.tok != ';' {
		if p.tok == scanner.EOF {
			p.fail(ErrSyntax, "constant %s is not terminated", name)
		}
		value = append(value, p.text)
		p.next()
	}
	p.expect(';')

	constant := &Constant{
		Name:   name,
		Scoped: module.Scoped + "::" + name,
		Type:   constType,
		Value:  strings.Join(value, ""),
	}
	p.define(pos, constant.Scoped, constant)
	module.Constants = append(module.Constants, constant)
	p.log.Debug("constant ignored by dispatch", "constant", constant.Scoped, "position", pos.String())
}

// parseScopedName reads a possibly scoped name such as "::Test::ShortS".
func (p *parser) parseScopedName() string {
	builder := new(strings.Builder)
	if p.tok == ':' {
		p.expect(':')
		p.expect(':')
		builder.WriteString("::")
	}
	builder.WriteString(p.ident())
	for p.tok == ':' {
		p.expect(':')
		p.expect(':')
		builder.WriteString("::")
		builder.WriteString(p.ident())
	}
	return builder.String()
}

func (p *parser) parseType(scope string) TypeRef {
	pos := p.pos
	if p.tok == scanner.Ident && builtinTypes[p.text] {
		ref := TypeRef{Name: p.text, Kind: KindBuiltin}
		p.next()
		if ref.Name == Object && p.accept('*') {
			ref.Proxy = true
		}
		return ref
	}

	scoped := p.resolve(scope, p.parseScopedName(), pos)
	ref := TypeRef{Name: scoped, Kind: kindOf(p.unit.definitions[scoped])}
	switch ref.Kind {
	case KindInterface:
		if !p.accept('*') {
			p.failAt(pos, ErrUnsupported, "%s can only be used as a proxy", scoped)
		}
		ref.Proxy = true
	case "":
		p.failAt(pos, ErrUnknownType, "%s is not a type", scoped)
	}
	return ref
}

// resolve looks name up from the innermost scope outwards.
func (p *parser) resolve(scope, name string, pos scanner.Position) string {
	if strings.HasPrefix(name, "::") {
		if _, ok := p.unit.definitions[name]; ok {
			return name
		}
		p.failAt(pos, ErrUnknownType, "%s is not defined", name)
	}

	for current := scope; ; current = parentScope(current) {
		candidate := current + "::" + name
		if _, ok := p.unit.definitions[candidate]; ok {
			return candidate
		}
		if current == "" {
			break
		}
	}
	p.failAt(pos, ErrUnknownType, "%s is not defined", name)
	return ""
}

func parentScope(scope string) string {
	index := strings.LastIndex(scope, "::")
	if index <= 0 {
		return ""
	}
	return scope[:index]
}

func kindOf(definition any) Kind {
	switch definition.(type) {
	case *Enum:
		return KindEnum
	case *Struct:
		return KindStruct
	case *Sequence:
		return KindSequence
	case *Dictionary:
		return KindDictionary
	case *Interface:
		return KindInterface
	default:
		return ""
	}
}
