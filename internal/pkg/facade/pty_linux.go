// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package facade

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// ptyStart starts cmd attached to a newly allocated pty, returning the
// master end. Split into its own file so the creack/pty dependency is
// confined to this one call site.
func ptyStart(cmd *exec.Cmd) (*os.File, error) {
	return pty.Start(cmd)
}
