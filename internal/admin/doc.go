// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package admin contains the administrative HTTP server of icedispatch.
// It sets up the HTTP server using the Fiber framework, configures middleware
// for logging, and exposes the status, metrics and adapter views of a running
// communicator under the /-/ prefix.
package admin
