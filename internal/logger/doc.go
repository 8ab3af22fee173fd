// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package logger wraps hclog behind the Logger interface used by every runtime
// component. Loggers travel inside context.Context; components derive named
// children from the one they receive so that log lines carry the subsystem
// (network, protocol, dispatch, threadpool, admin) that emitted them.
package logger
