// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToStringAndParse(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		identity Identity
		str      string
	}{
		"name only": {
			identity: Identity{Name: "test"},
			str:      "test",
		},
		"category and name": {
			identity: Identity{Name: "servant", Category: "cat"},
			str:      "cat/servant",
		},
		"slash in name": {
			identity: Identity{Name: "a/b"},
			str:      `a\/b`,
		},
		"quotes and backslash": {
			identity: Identity{Name: `x"y'z\w`},
			str:      `x\"y\'z\\w`,
		},
		"control characters": {
			identity: Identity{Name: "tab\there\n"},
			str:      `tab\there\n`,
		},
		"non printable byte": {
			identity: Identity{Name: "\x01\xff"},
			str:      `\001\377`,
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, test.str, ToString(test.identity))

			parsed, err := Parse(test.str)
			require.NoError(t, err)
			assert.Equal(t, test.identity, parsed)
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"two slashes":        "a/b/c",
		"trailing escape":    `abc\`,
		"unknown escape":     `a\qb`,
		"octal out of range": `\777`,
	}

	for testName, value := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(value)
			require.ErrorIs(t, err, ErrIdentityParse)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, New("test").Validate())
	require.ErrorIs(t, Identity{Category: "only"}.Validate(), ErrIllegalIdentity)
}
