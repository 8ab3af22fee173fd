// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mia-platform/icedispatch/internal/protocol"
	"github.com/mia-platform/icedispatch/internal/servant/operations"
)

const (
	variantFlagName  = "variant"
	variantFlagUsage = "servant variant to register, sync or async"

	sliceFlagName  = "slice"
	sliceFlagUsage = "load the interface definitions from this file instead of the embedded Test.ice"

	builtinFlagName  = "builtin"
	builtinFlagUsage = "describe the embedded Test.ice definitions"

	timeoutFlagName    = "timeout"
	timeoutFlagUsage   = "time allowed to connect and receive the reply"
	defaultTimeout     = 10 * time.Second
	contextFlagName    = "context"
	contextFlagUsage   = "request context entry as key=value. Can be specified multiple times."
	onewayFlagName     = "oneway"
	onewayFlagUsage    = "send the request oneway and do not wait for a reply"
	idempotentFlagName = "idempotent"
	idempotentUsage    = "mark the request as idempotent"
	facetFlagName      = "facet"
	facetFlagUsage     = "facet of the target object"
)

// serveFlags holds the flags for the "serve" command.
type serveFlags struct {
	variant   string
	slicePath string
}

func (f *serveFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.variant, variantFlagName, operations.VariantAsync, variantFlagUsage)
	cmd.Flags().StringVar(&f.slicePath, sliceFlagName, "", sliceFlagUsage)
	_ = cmd.RegisterFlagCompletionFunc(variantFlagName, variantCompletion)
}

// toOptions converts the flags to serveOptions. args are passed to the
// test server as --Ice.* and --Test.* properties.
func (f *serveFlags) toOptions(cmd *cobra.Command, args []string) *serveOptions {
	logLevelFromEnv := true
	if flag := cmd.Flag("log-level"); flag != nil && flag.Changed {
		logLevelFromEnv = false
	}

	return &serveOptions{
		variant:         strings.ToLower(f.variant),
		slicePath:       f.slicePath,
		args:            args,
		logLevelFromEnv: logLevelFromEnv,
	}
}

// describeFlags holds the flags for the "describe" command.
type describeFlags struct {
	builtin bool
}

func (f *describeFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.builtin, builtinFlagName, false, builtinFlagUsage)
}

func (f *describeFlags) toOptions(cmd *cobra.Command, args []string) (*describeOptions, error) {
	paths, err := collectSliceFiles(args)
	if err != nil {
		return nil, err
	}

	return &describeOptions{
		paths:   paths,
		builtin: f.builtin,
		out:     cmd.OutOrStdout(),
	}, nil
}

// invokeFlags holds the flags shared by the "ping" and "call" commands.
type invokeFlags struct {
	timeout    time.Duration
	context    map[string]string
	oneway     bool
	idempotent bool
	facet      string
}

func (f *invokeFlags) addFlags(cmd *cobra.Command, withCall bool) {
	cmd.Flags().DurationVar(&f.timeout, timeoutFlagName, defaultTimeout, timeoutFlagUsage)
	cmd.Flags().StringVar(&f.facet, facetFlagName, "", facetFlagUsage)
	if withCall {
		cmd.Flags().StringToStringVar(&f.context, contextFlagName, nil, contextFlagUsage)
		cmd.Flags().BoolVar(&f.oneway, onewayFlagName, false, onewayFlagUsage)
		cmd.Flags().BoolVar(&f.idempotent, idempotentFlagName, false, idempotentUsage)
	}
}

func (f *invokeFlags) toOptions(cmd *cobra.Command, args []string) *invokeOptions {
	opts := &invokeOptions{
		timeout: f.timeout,
		context: f.context,
		oneway:  f.oneway,
		facet:   f.facet,
		mode:    protocol.Normal,
		out:     cmd.OutOrStdout(),
	}
	if f.idempotent {
		opts.mode = protocol.Idempotent
	}

	if len(args) > 0 {
		opts.proxy = args[0]
	}
	if len(args) > 1 {
		opts.operation = args[1]
		opts.params = args[2:]
	}
	return opts
}
