// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/mia-platform/icedispatch/internal/client"
)

func TestCmds(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		cmd                  *cobra.Command
		args                 []string
		expectedError        error
		expectedErrorMessage string
		expectedUsage        bool
	}{
		"serve command with invalid variant returns error and print usage": {
			cmd:                  ServeCmd(),
			args:                 []string{"--" + variantFlagName, "threads"},
			expectedUsage:        true,
			expectedError:        errInvalidVariant,
			expectedErrorMessage: errInvalidVariant.Error() + ": threads\n",
		},
		"describe command with no arguments returns no error and print usage": {
			cmd:           DescribeCmd(),
			args:          []string{},
			expectedUsage: true,
		},
		"describe command missing path, return error no usage": {
			cmd:                  DescribeCmd(),
			args:                 []string{filepath.Join("testdata", "missing")},
			expectedError:        syscall.ENOENT,
			expectedErrorMessage: fmt.Sprintf("definition file %q: %s\n", filepath.Join("testdata", "missing"), syscall.ENOENT),
		},
		"ping command with no arguments returns no error and print usage": {
			cmd:           PingCmd(),
			args:          []string{},
			expectedUsage: true,
		},
		"call command with no arguments returns no error and print usage": {
			cmd:           CallCmd(),
			args:          []string{},
			expectedUsage: true,
		},
		"call command without operation returns error and print usage": {
			cmd:                  CallCmd(),
			args:                 []string{"test:tcp -p 12010"},
			expectedUsage:        true,
			expectedError:        errMissingArgument,
			expectedErrorMessage: errMissingArgument.Error() + ": operation name\n",
		},
		"ping command with invalid proxy returns error no usage": {
			cmd:           PingCmd(),
			args:          []string{"test -x"},
			expectedError: client.ErrProxyParse,
		},
		"ping command without endpoints returns error no usage": {
			cmd:                  PingCmd(),
			args:                 []string{"test"},
			expectedError:        client.ErrNoEndpoint,
			expectedErrorMessage: client.ErrNoEndpoint.Error() + ": test\n",
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			errBuffer := new(bytes.Buffer)
			outBuffer := new(bytes.Buffer)
			test.cmd.SetOut(outBuffer)
			test.cmd.SetErr(errBuffer)
			test.cmd.SetUsageTemplate("usage string")
			test.cmd.SetArgs(test.args)

			err := test.cmd.ExecuteContext(t.Context())
			switch {
			case test.expectedError == nil:
				assert.NoError(t, err)
				assert.Empty(t, errBuffer)
			case test.expectedErrorMessage != "":
				assert.ErrorIs(t, err, test.expectedError)
				assert.Equal(t, test.expectedErrorMessage, errBuffer.String())
			default:
				assert.ErrorIs(t, err, test.expectedError)
				assert.NotEmpty(t, errBuffer)
			}

			if test.expectedUsage {
				assert.Equal(t, "usage string", outBuffer.String())
			} else {
				assert.Empty(t, outBuffer)
			}
		})
	}
}
