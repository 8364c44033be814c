// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package testutil holds small test-skip helpers shared across the
// packages that exercise real namespace and mount syscalls, in the style
// of apptainer's internal/pkg/test/tool/require package.
package testutil

import (
	"os"
	"testing"
)

// Root skips the current test unless it is running as root: every
// namespace, mount and pivot_root syscall this module wraps requires
// CAP_SYS_ADMIN, which in practice means root in CI and dev containers.
func Root(t *testing.T) {
	t.Helper()
	if os.Getuid() != 0 {
		t.Skipf("test requires root privileges, current uid is %d", os.Getuid())
	}
}
