// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package endpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/icedispatch/internal/properties"
)

func TestParse(t *testing.T) {
	t.Parallel()

	withDefaults := properties.New()
	require.NoError(t, withDefaults.SetProperty(DefaultHostProperty, "127.0.0.1"))
	require.NoError(t, withDefaults.SetProperty(DefaultProtocolProperty, "ws"))

	testCases := map[string]struct {
		value         string
		props         *properties.Properties
		expected      []Endpoint
		expectedError error
	}{
		"tcp with host and port": {
			value: "tcp -h 127.0.0.1 -p 12010",
			expected: []Endpoint{
				{Protocol: TCP, Host: "127.0.0.1", Port: 12010, Timeout: DefaultTimeout},
			},
		},
		"default protocol without properties is tcp": {
			value: "default -p 12010",
			expected: []Endpoint{
				{Protocol: TCP, Port: 12010, Timeout: DefaultTimeout},
			},
		},
		"defaults fill in host and protocol": {
			value: "default -p 0",
			props: withDefaults,
			expected: []Endpoint{
				{Protocol: WS, Host: "127.0.0.1", Port: 0, Timeout: DefaultTimeout, Resource: "/"},
			},
		},
		"wildcard host overrides default host": {
			value: "tcp -h * -p 1",
			props: withDefaults,
			expected: []Endpoint{
				{Protocol: TCP, Port: 1, Timeout: DefaultTimeout},
			},
		},
		"timeouts and resource": {
			value: "ws -p 80 -t 1500 -r /ice : tcp -p 81 -t infinite",
			expected: []Endpoint{
				{Protocol: WS, Port: 80, Timeout: 1500 * time.Millisecond, Resource: "/ice"},
				{Protocol: TCP, Port: 81},
			},
		},
		"quoted ipv6 host": {
			value: `tcp -h "::1" -p 5`,
			expected: []Endpoint{
				{Protocol: TCP, Host: "::1", Port: 5, Timeout: DefaultTimeout},
			},
		},
		"compression flag is ignored": {
			value: "tcp -p 5 -z",
			expected: []Endpoint{
				{Protocol: TCP, Port: 5, Timeout: DefaultTimeout},
			},
		},
		"unknown protocol": {
			value:         "udp -p 1",
			expectedError: ErrUnknownProtocol,
		},
		"bad port": {
			value:         "tcp -p 70000",
			expectedError: ErrEndpointParse,
		},
		"bad timeout": {
			value:         "tcp -p 1 -t soon",
			expectedError: ErrEndpointParse,
		},
		"unknown option": {
			value:         "tcp -x 1",
			expectedError: ErrEndpointParse,
		},
		"resource on tcp": {
			value:         "tcp -r /x",
			expectedError: ErrEndpointParse,
		},
		"empty": {
			value:         " : ",
			expectedError: ErrEndpointParse,
		},
		"unterminated quote": {
			value:         `tcp -h "abc`,
			expectedError: ErrEndpointParse,
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			endpoints, err := Parse(test.value, test.props)
			if test.expectedError != nil {
				require.ErrorIs(t, err, test.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, endpoints)
		})
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		endpoint Endpoint
		expected string
	}{
		"tcp": {
			endpoint: Endpoint{Protocol: TCP, Host: "127.0.0.1", Port: 12010, Timeout: DefaultTimeout},
			expected: "tcp -h 127.0.0.1 -p 12010 -t 60000",
		},
		"all interfaces": {
			endpoint: Endpoint{Protocol: TCP, Port: 1},
			expected: "tcp -p 1 -t infinite",
		},
		"ws with resource": {
			endpoint: Endpoint{Protocol: WS, Host: "::1", Port: 2, Timeout: time.Second, Resource: "/ice"},
			expected: `ws -h "::1" -p 2 -t 1000 -r /ice`,
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, test.expected, test.endpoint.String())

			parsed, err := Parse(test.expected, nil)
			require.NoError(t, err)
			assert.Equal(t, []Endpoint{test.endpoint}, parsed)
		})
	}
}

func TestAddress(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "127.0.0.1:80", Endpoint{Host: "127.0.0.1", Port: 80}.Address())
	assert.Equal(t, ":0", Endpoint{}.Address())
	assert.Equal(t, "[::1]:5", Endpoint{Host: "::1", Port: 5}.Address())
	assert.Equal(t, 9, Endpoint{Port: 1}.WithPort(9).Port)
}
