// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package reexec lets furnace re-exec its own binary into a dedicated
// entry point selected by a magic argv[0], the same "self-exec with a
// marker name" trick used throughout the container ecosystem (moby's
// pkg/reexec, runc's nsenter). PID1 needs this: the supervisor cannot
// safely keep running inside the goroutine-scheduled Go runtime after
// pivot_root/chroot, so it always starts PID1 life from a freshly exec'd
// clean image of the furnace binary rather than trying to "become" PID1
// in place.
package reexec

import (
	"os"
	"os/exec"
)

var registry = map[string]func(){}

// Register associates name with an entry point function. Init dispatches
// to it when os.Args[0] matches name exactly.
func Register(name string, initFunc func()) {
	registry[name] = initFunc
}

// Init checks whether the current process was re-exec'd under one of the
// registered names and, if so, runs the matching entry point, which
// always terminates the process itself; the remainder of main() never
// runs. Returns false when this is an ordinary invocation of the furnace
// binary.
func Init() bool {
	name := os.Args[0]
	if initFunc, ok := registry[name]; ok {
		initFunc()
		return true
	}
	return false
}

// Command builds an *exec.Cmd that re-execs /proc/self/exe with argv[0]
// set to name, so the child dispatches into the matching registered
// entry point via Init().
func Command(name string, args ...string) *exec.Cmd {
	cmd := &exec.Cmd{
		Path: "/proc/self/exe",
		Args: append([]string{name}, args...),
	}
	return cmd
}

