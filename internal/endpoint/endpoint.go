// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package endpoint

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mia-platform/icedispatch/internal/properties"
)

const (
	TCP     = "tcp"
	WS      = "ws"
	Default = "default"

	// DefaultTimeout is used when an endpoint has no -t option.
	DefaultTimeout = 60 * time.Second

	DefaultHostProperty     = "Ice.Default.Host"
	DefaultProtocolProperty = "Ice.Default.Protocol"
)

var (
	// ErrEndpointParse is returned for malformed endpoint strings.
	ErrEndpointParse = errors.New("cannot parse endpoint")
	// ErrUnknownProtocol is returned for protocols without a transport.
	ErrUnknownProtocol = errors.New("unknown endpoint protocol")
)

// Endpoint is a parsed listening or connecting address.
type Endpoint struct {
	Protocol string
	// Host is empty for every interface.
	Host string
	Port int
	// Timeout is zero for an infinite timeout.
	Timeout  time.Duration
	Resource string
}

// Address returns the host:port pair to listen on or dial.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// WithPort returns a copy of e with the given port; used once an ephemeral
// port has been bound.
func (e Endpoint) WithPort(port int) Endpoint {
	e.Port = port
	return e
}

// String returns the canonical form, for example "tcp -h 127.0.0.1 -p 12010 -t 60000".
func (e Endpoint) String() string {
	builder := new(strings.Builder)
	builder.WriteString(e.Protocol)
	if e.Host != "" {
		builder.WriteString(" -h ")
		if strings.ContainsAny(e.Host, ": ") {
			builder.WriteString(strconv.Quote(e.Host))
		} else {
			builder.WriteString(e.Host)
		}
	}
	fmt.Fprintf(builder, " -p %d", e.Port)
	if e.Timeout > 0 {
		fmt.Fprintf(builder, " -t %d", e.Timeout.Milliseconds())
	} else {
		builder.WriteString(" -t infinite")
	}
	if e.Protocol == WS && e.Resource != "" && e.Resource != "/" {
		fmt.Fprintf(builder, " -r %s", e.Resource)
	}
	return builder.String()
}

// Parse parses one or more endpoints separated by ':' outside of quotes.
// Empty host and protocol values are taken from Ice.Default.Host and
// Ice.Default.Protocol when props is not nil.
func Parse(value string, props *properties.Properties) ([]Endpoint, error) {
	parts, err := splitEndpoints(value)
	if err != nil {
		return nil, err
	}

	endpoints := make([]Endpoint, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		ep, err := parseOne(part, props)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoint in %q", ErrEndpointParse, value)
	}
	return endpoints, nil
}

func splitEndpoints(value string) ([]string, error) {
	var parts []string
	var quote rune
	start := 0
	for i, r := range value {
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
		case r == '"' || r == '\'':
			quote = r
		case r == ':':
			parts = append(parts, value[start:i])
			start = i + 1
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated quote in %q", ErrEndpointParse, value)
	}
	return append(parts, value[start:]), nil
}

func parseOne(value string, props *properties.Properties) (Endpoint, error) {
	words, err := properties.SplitList(value)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", ErrEndpointParse, err)
	}

	protocol := strings.ToLower(words[0])
	if protocol == Default {
		protocol = TCP
		if props != nil {
			if configured := props.GetProperty(DefaultProtocolProperty); configured != "" && configured != Default {
				protocol = strings.ToLower(configured)
			}
		}
	}
	if protocol != TCP && protocol != WS {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownProtocol, words[0])
	}

	ep := Endpoint{Protocol: protocol, Timeout: DefaultTimeout}
	hostSet := false
	options := words[1:]
	for i := 0; i < len(options); i++ {
		option := options[i]
		if !strings.HasPrefix(option, "-") || len(option) != 2 {
			return Endpoint{}, fmt.Errorf("%w: unexpected %q in %q", ErrEndpointParse, option, value)
		}

		argument := ""
		if i+1 < len(options) && !strings.HasPrefix(options[i+1], "-") {
			argument = options[i+1]
			i++
		}

		switch option[1] {
		case 'h':
			if argument == "" {
				return Endpoint{}, fmt.Errorf("%w: no argument for -h in %q", ErrEndpointParse, value)
			}
			hostSet = true
			if argument != "*" && argument != "0.0.0.0" {
				ep.Host = argument
			}
		case 'p':
			port, err := strconv.Atoi(argument)
			if err != nil || port < 0 || port > 65535 {
				return Endpoint{}, fmt.Errorf("%w: invalid port %q in %q", ErrEndpointParse, argument, value)
			}
			ep.Port = port
		case 't':
			if argument == "infinite" {
				ep.Timeout = 0
				continue
			}
			millis, err := strconv.Atoi(argument)
			if err != nil || millis < 1 {
				return Endpoint{}, fmt.Errorf("%w: invalid timeout %q in %q", ErrEndpointParse, argument, value)
			}
			ep.Timeout = time.Duration(millis) * time.Millisecond
		case 'r':
			if protocol != WS || argument == "" {
				return Endpoint{}, fmt.Errorf("%w: unexpected -r in %q", ErrEndpointParse, value)
			}
			ep.Resource = argument
		case 'z':
			// compression is never used, the flag is accepted and ignored
		default:
			return Endpoint{}, fmt.Errorf("%w: unknown option %q in %q", ErrEndpointParse, option, value)
		}
	}

	if !hostSet && props != nil {
		if host := props.GetProperty(DefaultHostProperty); host != "" && host != "*" {
			ep.Host = host
		}
	}
	if ep.Protocol == WS && ep.Resource == "" {
		ep.Resource = "/"
	}
	return ep, nil
}
