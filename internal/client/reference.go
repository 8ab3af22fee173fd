// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mia-platform/icedispatch/internal/endpoint"
	"github.com/mia-platform/icedispatch/internal/identity"
	"github.com/mia-platform/icedispatch/internal/properties"
	"github.com/mia-platform/icedispatch/internal/protocol"
)

var (
	// ErrProxyParse is returned for malformed stringified proxies.
	ErrProxyParse = errors.New("cannot parse proxy")
)

// InvocationMode tells whether a reply is expected.
type InvocationMode int

const (
	Twoway InvocationMode = iota
	Oneway
	BatchOneway
)

func (m InvocationMode) String() string {
	switch m {
	case Twoway:
		return "twoway"
	case Oneway:
		return "oneway"
	case BatchOneway:
		return "batch oneway"
	default:
		return "InvocationMode(" + strconv.Itoa(int(m)) + ")"
	}
}

func (m InvocationMode) option() string {
	switch m {
	case Oneway:
		return "-o"
	case BatchOneway:
		return "-O"
	default:
		return "-t"
	}
}

// Reference is the parsed form of a stringified proxy.
type Reference struct {
	Identity  identity.Identity
	Facet     string
	Mode      InvocationMode
	Encoding  protocol.Encoding
	Endpoints []endpoint.Endpoint
}

// ParseReference parses "identity[ -f facet][ -t|-o|-O][ -e 1.1][:endpoint...]".
// Endpoints without host or protocol take the defaults of props, which may be nil.
func ParseReference(value string, props *properties.Properties) (Reference, error) {
	head, endpoints := splitProxy(value)

	words, err := properties.SplitList(head)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %w", ErrProxyParse, err)
	}
	if len(words) == 0 {
		return Reference{}, fmt.Errorf("%w: empty proxy", ErrProxyParse)
	}

	id, err := identity.Parse(words[0])
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %w", ErrProxyParse, err)
	}
	if err := id.Validate(); err != nil {
		return Reference{}, fmt.Errorf("%w: %w", ErrProxyParse, err)
	}

	ref := Reference{Identity: id, Encoding: protocol.Encoding11}
	options := words[1:]
	for i := 0; i < len(options); i++ {
		switch options[i] {
		case "-t":
			ref.Mode = Twoway
		case "-o":
			ref.Mode = Oneway
		case "-O":
			ref.Mode = BatchOneway
		case "-f", "-e":
			if i+1 >= len(options) {
				return Reference{}, fmt.Errorf("%w: no argument for %s in %q", ErrProxyParse, options[i], value)
			}
			argument := options[i+1]
			if options[i] == "-f" {
				ref.Facet = argument
			} else if ref.Encoding, err = parseEncoding(argument); err != nil {
				return Reference{}, err
			}
			i++
		default:
			return Reference{}, fmt.Errorf("%w: unexpected %q in %q", ErrProxyParse, options[i], value)
		}
	}

	if strings.TrimSpace(endpoints) != "" {
		ref.Endpoints, err = endpoint.Parse(endpoints, props)
		if err != nil {
			return Reference{}, fmt.Errorf("%w: %w", ErrProxyParse, err)
		}
	}
	return ref, nil
}

// splitProxy cuts value at the first colon outside of quotes.
func splitProxy(value string) (string, string) {
	var quote rune
	for i, r := range value {
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
		case r == '"' || r == '\'':
			quote = r
		case r == ':':
			return value[:i], value[i+1:]
		}
	}
	return value, ""
}

func parseEncoding(value string) (protocol.Encoding, error) {
	major, minor, found := strings.Cut(value, ".")
	if !found {
		return protocol.Encoding{}, fmt.Errorf("%w: invalid encoding %q", ErrProxyParse, value)
	}
	majorValue, err := strconv.ParseUint(major, 10, 8)
	if err != nil {
		return protocol.Encoding{}, fmt.Errorf("%w: invalid encoding %q", ErrProxyParse, value)
	}
	minorValue, err := strconv.ParseUint(minor, 10, 8)
	if err != nil {
		return protocol.Encoding{}, fmt.Errorf("%w: invalid encoding %q", ErrProxyParse, value)
	}
	return protocol.Encoding{Major: byte(majorValue), Minor: byte(minorValue)}, nil
}

// String returns the stringified proxy.
func (r Reference) String() string {
	builder := new(strings.Builder)
	id := identity.ToString(r.Identity)
	if strings.ContainsAny(id, " :@\t") {
		builder.WriteString(strconv.Quote(id))
	} else {
		builder.WriteString(id)
	}
	if r.Facet != "" {
		builder.WriteString(" -f ")
		builder.WriteString(strconv.Quote(r.Facet))
	}
	builder.WriteString(" ")
	builder.WriteString(r.Mode.option())
	builder.WriteString(" -e ")
	builder.WriteString(r.Encoding.String())
	for _, ep := range r.Endpoints {
		builder.WriteString(":")
		builder.WriteString(ep.String())
	}
	return builder.String()
}
