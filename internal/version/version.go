// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package version formats the build metadata printed by the version command
// and reported by the admin endpoints.
package version

import (
	"runtime"

	"github.com/mia-platform/icedispatch/internal/info"
)

var (
	// Version mirrors info.Version and can be overridden in tests.
	Version = info.Version
	// BuildDate mirrors info.BuildDate and can be overridden in tests.
	BuildDate = info.BuildDate
)

// ServiceVersionInformation returns the version string including the build date
// when known and the Go runtime version.
func ServiceVersionInformation() string {
	return Format(Version, BuildDate, runtime.Version())
}

// Format joins version metadata in the form "1.0.0 (2024-06-01), Go Version: go1.25".
func Format(version, buildDate, runtimeVersion string) string {
	outputString := version
	if buildDate != "" {
		outputString += " (" + buildDate + ")"
	}

	return outputString + ", Go Version: " + runtimeVersion
}
