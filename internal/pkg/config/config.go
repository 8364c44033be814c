// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package config holds the container's immutable configuration: the root
// directory, the networking-isolation choice, and the ordered list of
// bind mounts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigError reports a malformed configuration: a bad volume spec, a
// missing root directory, or a root directory that is not a directory.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

func configErrorf(format string, a ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, a...)}
}

// BindMount describes one host-to-container bind mount. Destination is
// always interpreted relative to the container root, even when the
// caller supplied an absolute path.
type BindMount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// ParseBindMount parses the CLI's "<src>:<dst>[:ro|rw]" volume syntax.
// Read-only is the default when the trailing mode is omitted.
func ParseBindMount(spec string) (BindMount, error) {
	if !strings.Contains(spec, ":") {
		return BindMount{}, configErrorf(
			"volume specification should have the form '/source/from/the/host:/path/in/the/container[:ro|rw]': %q", spec)
	}

	parts := strings.SplitN(spec, ":", 2)
	source, rest := parts[0], parts[1]

	readOnly := true
	destination := rest
	if idx := strings.Index(rest, ":"); idx >= 0 {
		destination = rest[:idx]
		mode := rest[idx+1:]
		switch mode {
		case "ro":
			readOnly = true
		case "rw":
			readOnly = false
		default:
			return BindMount{}, configErrorf("volume mode must be 'ro' or 'rw', got %q", mode)
		}
	}

	if source == "" || destination == "" {
		return BindMount{}, configErrorf("volume specification %q is missing a source or destination", spec)
	}

	return BindMount{Source: source, Destination: destination, ReadOnly: readOnly}, nil
}

// RelativeDestination joins the bind mount's destination under root,
// stripping any leading "/" first so that BindMount(src, "/x/y", ...) and
// BindMount(src, "x/y", ...) are equivalent.
func (b BindMount) RelativeDestination() string {
	return strings.TrimPrefix(filepath.Clean("/"+b.Destination), "/")
}

// Config is the immutable, once-constructed description of a container.
type Config struct {
	RootDir           string
	IsolateNetworking bool
	BindMounts        []BindMount
}

// Validate resolves RootDir to an absolute path and checks it exists and
// is a directory, per the BindMount/root_dir invariants in the data
// model.
func (c *Config) Validate() error {
	abs, err := filepath.Abs(c.RootDir)
	if err != nil {
		return configErrorf("cannot resolve root_dir %q: %s", c.RootDir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return configErrorf("root_dir %q does not exist: %s", c.RootDir, err)
	}
	if !info.IsDir() {
		return configErrorf("root_dir %q is not a directory", c.RootDir)
	}
	c.RootDir = abs
	return nil
}
