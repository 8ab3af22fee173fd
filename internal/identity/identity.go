// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIllegalIdentity is returned for identities with an empty name.
	ErrIllegalIdentity = errors.New("illegal identity")
	// ErrIdentityParse is returned when a stringified identity is malformed.
	ErrIdentityParse = errors.New("cannot parse identity")
)

// Identity names an object inside an adapter.
type Identity struct {
	Name     string
	Category string
}

// New returns an identity with the given name and no category.
func New(name string) Identity {
	return Identity{Name: name}
}

// Validate returns ErrIllegalIdentity when the identity cannot be registered.
func (id Identity) Validate() error {
	if id.Name == "" {
		return fmt.Errorf("%w: empty name", ErrIllegalIdentity)
	}
	return nil
}

// String returns the stringified form of id, see ToString.
func (id Identity) String() string {
	return ToString(id)
}

// ToString renders id as "category/name", escaping '/' and non printable
// characters. The category is omitted when empty.
func ToString(id Identity) string {
	if id.Category == "" {
		return escape(id.Name)
	}
	return escape(id.Category) + "/" + escape(id.Name)
}

// Parse is the inverse of ToString.
func Parse(value string) (Identity, error) {
	slash := -1
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' {
			i++
			continue
		}
		if value[i] == '/' {
			if slash != -1 {
				return Identity{}, fmt.Errorf("%w: unescaped '/' in %q", ErrIdentityParse, value)
			}
			slash = i
		}
	}

	if slash == -1 {
		name, err := unescape(value)
		if err != nil {
			return Identity{}, err
		}
		return Identity{Name: name}, nil
	}

	category, err := unescape(value[:slash])
	if err != nil {
		return Identity{}, err
	}
	name, err := unescape(value[slash+1:])
	if err != nil {
		return Identity{}, err
	}
	return Identity{Name: name, Category: category}, nil
}

func escape(value string) string {
	builder := new(strings.Builder)
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch c {
		case '\\':
			builder.WriteString(`\\`)
		case '\'':
			builder.WriteString(`\'`)
		case '"':
			builder.WriteString(`\"`)
		case '/':
			builder.WriteString(`\/`)
		case '\b':
			builder.WriteString(`\b`)
		case '\f':
			builder.WriteString(`\f`)
		case '\n':
			builder.WriteString(`\n`)
		case '\r':
			builder.WriteString(`\r`)
		case '\t':
			builder.WriteString(`\t`)
		default:
			if c < 32 || c > 126 {
				fmt.Fprintf(builder, `\%03o`, c)
				continue
			}
			builder.WriteByte(c)
		}
	}
	return builder.String()
}

func unescape(value string) (string, error) {
	builder := new(strings.Builder)
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '\\' {
			builder.WriteByte(c)
			continue
		}

		i++
		if i >= len(value) {
			return "", fmt.Errorf("%w: trailing backslash in %q", ErrIdentityParse, value)
		}

		switch next := value[i]; next {
		case '\\', '\'', '"', '/':
			builder.WriteByte(next)
		case 'b':
			builder.WriteByte('\b')
		case 'f':
			builder.WriteByte('\f')
		case 'n':
			builder.WriteByte('\n')
		case 'r':
			builder.WriteByte('\r')
		case 't':
			builder.WriteByte('\t')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			code := 0
			digits := 0
			for digits < 3 && i < len(value) && value[i] >= '0' && value[i] <= '7' {
				code = code*8 + int(value[i]-'0')
				i++
				digits++
			}
			i--
			if code > 255 {
				return "", fmt.Errorf("%w: octal escape out of range in %q", ErrIdentityParse, value)
			}
			builder.WriteByte(byte(code))
		default:
			return "", fmt.Errorf("%w: unknown escape '\\%c' in %q", ErrIdentityParse, next, value)
		}
	}
	return builder.String(), nil
}
