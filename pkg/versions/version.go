// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package versions provides version information for the delegation SDK.
package versions

import "runtime/debug"

// Version is the SDK version, set at build time using -ldflags. When left at
// "dev", the module version from build info is used if available.
var Version = "dev"

// Get returns the effective SDK version string.
func Get() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}
