// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package version exposes the furnace build version.
package version

// Version is set at build time via -ldflags "-X .../pkg/version.Version=...".
var Version = "0.0.0-dev"

// Get returns the current furnace version string.
func Get() string {
	return Version
}
