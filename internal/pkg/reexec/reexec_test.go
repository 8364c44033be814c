// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package reexec

import (
	"os"
	"testing"

	"gotest.tools/v3/assert"
)

func TestInitIgnoresUnregisteredArgv0(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	os.Args = []string{"not-a-registered-entry-point"}
	assert.Assert(t, !Init())
}

func TestInitDispatchesRegisteredEntryPoint(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	called := false
	Register("furnace-test-entry", func() { called = true })

	os.Args = []string{"furnace-test-entry"}
	assert.Assert(t, Init())
	assert.Assert(t, called)
}

func TestCommandBuildsSelfExeWithMarkerArgv0(t *testing.T) {
	cmd := Command("furnace-test-entry", "a", "b")
	assert.Equal(t, cmd.Path, "/proc/self/exe")
	assert.DeepEqual(t, cmd.Args, []string{"furnace-test-entry", "a", "b"})
}
