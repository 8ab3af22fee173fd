// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
)

const (
	serveCmdUsage = "serve [flags] [-- ice-properties...]"
	serveCmdShort = "start the operations test server"
	serveCmdLong  = `Start the operations test server.
	The ::Test::MyDerivedClass servant is registered as "test" on the
	TestAdapter object adapter, listening on Test.BasePort (12010 by default).
	Arguments after -- are read as --Ice.* and --Test.* properties, and the
	ICE_CONFIG environment variable can name a configuration file.

	The server stops when a client invokes the shutdown operation or on interrupt.
	The admin HTTP server and the gRPC health server are configured with the
	HTTP_PORT and GRPC_HEALTH_PORT environment variables.`

	serveCmdExample = `# Serve the asynchronous variant on the default port
	icedispatch serve

	# Serve the synchronous variant over websocket on port 13000
	icedispatch serve --variant sync -- --Test.BasePort=13000 --Ice.Default.Protocol=ws`

	describeCmdUsage = "describe [FILE...]"
	describeCmdShort = "print the descriptors loaded from interface definition files"
	describeCmdLong  = `Load interface definition files and print the resulting
	modules, types and operations as YAML.
	Directories contribute the .ice files they directly contain.`

	describeCmdExample = `# Describe the definitions served by the test server
	icedispatch describe --builtin`

	pingCmdUsage = "ping PROXY"
	pingCmdShort = "check that a remote object exists"
	pingCmdLong  = `Connect to the first endpoint of the proxy that answers, invoke
	ice_ping and print the type ids of the object.`

	pingCmdExample = `# Ping the test servant
	icedispatch ping "test:tcp -h 127.0.0.1 -p 12010"`

	callCmdUsage = "call PROXY OPERATION [STRING...]"
	callCmdShort = "invoke an operation on a remote object"
	callCmdLong  = `Invoke an operation on a remote object.
	Every STRING argument is marshaled in order as a string parameter. The
	encoded result, or the user exception, is printed as a hex dump.`

	callCmdExample = `# Concatenate two strings with opString
	icedispatch call "test:tcp -h 127.0.0.1 -p 12010" opString hello world

	# Stop the test server
	icedispatch call "test:tcp -h 127.0.0.1 -p 12010" shutdown`
)

// ServeCmd returns the "serve" cli command for starting the test server.
func ServeCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:     serveCmdUsage,
		Short:   heredoc.Doc(serveCmdShort),
		Long:    heredoc.Doc(serveCmdLong),
		Example: heredoc.Doc(serveCmdExample),

		SilenceErrors: true,
		SilenceUsage:  true,

		ValidArgsFunction: cobra.NoFileCompletions,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.toOptions(cmd, args)
			if err := opts.validate(); err != nil {
				return handleError(cmd, err)
			}

			if err := opts.execute(cmd.Context()); err != nil {
				return handleError(cmd, err)
			}

			return nil
		},
	}

	flags.addFlags(cmd)
	return cmd
}

// DescribeCmd returns the "describe" cli command printing interface descriptors.
func DescribeCmd() *cobra.Command {
	flags := &describeFlags{}
	cmd := &cobra.Command{
		Use:     describeCmdUsage,
		Short:   heredoc.Doc(describeCmdShort),
		Long:    heredoc.Doc(describeCmdLong),
		Example: heredoc.Doc(describeCmdExample),

		SilenceErrors: true,
		SilenceUsage:  true,

		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.toOptions(cmd, args)
			if err != nil {
				return handleError(cmd, err)
			}

			if err := opts.validate(); err != nil {
				return handleError(cmd, err)
			}

			if err := opts.execute(cmd.Context()); err != nil {
				return handleError(cmd, err)
			}

			return nil
		},
	}

	flags.addFlags(cmd)
	return cmd
}

// PingCmd returns the "ping" cli command.
func PingCmd() *cobra.Command {
	flags := &invokeFlags{}
	cmd := &cobra.Command{
		Use:     pingCmdUsage,
		Short:   heredoc.Doc(pingCmdShort),
		Long:    heredoc.Doc(pingCmdLong),
		Example: heredoc.Doc(pingCmdExample),

		SilenceErrors: true,
		SilenceUsage:  true,

		ValidArgsFunction: cobra.NoFileCompletions,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.toOptions(cmd, args)
			if err := opts.validate(false); err != nil {
				return handleError(cmd, err)
			}

			if err := opts.ping(cmd.Context()); err != nil {
				return handleError(cmd, err)
			}

			return nil
		},
	}

	flags.addFlags(cmd, false)
	return cmd
}

// CallCmd returns the "call" cli command.
func CallCmd() *cobra.Command {
	flags := &invokeFlags{}
	cmd := &cobra.Command{
		Use:     callCmdUsage,
		Short:   heredoc.Doc(callCmdShort),
		Long:    heredoc.Doc(callCmdLong),
		Example: heredoc.Doc(callCmdExample),

		SilenceErrors: true,
		SilenceUsage:  true,

		ValidArgsFunction: cobra.NoFileCompletions,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.toOptions(cmd, args)
			if err := opts.validate(true); err != nil {
				return handleError(cmd, err)
			}

			if err := opts.call(cmd.Context()); err != nil {
				return handleError(cmd, err)
			}

			return nil
		},
	}

	flags.addFlags(cmd, true)
	return cmd
}
