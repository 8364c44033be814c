// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package pid1

import (
	"encoding/json"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/furnace-runtime/furnace/internal/pkg/config"
)

func TestMarshalArgRoundTrips(t *testing.T) {
	cfg := &config.Config{
		RootDir:           "/some/root",
		IsolateNetworking: true,
		BindMounts: []config.BindMount{
			{Source: "/host/a", Destination: "/a", ReadOnly: true},
		},
	}

	arg, err := MarshalArg(cfg, 3, 4)
	assert.NilError(t, err)

	var wire wireConfig
	assert.NilError(t, json.Unmarshal([]byte(arg), &wire))
	assert.Equal(t, wire.RootDir, "/some/root")
	assert.Equal(t, wire.IsolateNetworking, true)
	assert.Equal(t, wire.ControlReadFd, 3)
	assert.Equal(t, wire.ControlWriteFd, 4)
	assert.Equal(t, len(wire.BindMounts), 1)
	assert.Equal(t, wire.BindMounts[0].Source, "/host/a")
}

func TestDiscoverLoopDevicesSkipsNonLoopMajors(t *testing.T) {
	// Exercises the real /dev on whatever host runs the test; asserts only
	// the invariant that every returned node really is a block device
	// reported under major 7, never that any loop devices exist at all.
	nodes := discoverLoopDevices()
	for _, n := range nodes {
		assert.Assert(t, n.IsBlock)
		assert.Equal(t, n.Major, uint32(7))
	}
}

func TestInvariantViolationMessage(t *testing.T) {
	err := &InvariantViolation{Msg: "furnace-pid1 expects to be PID 1, got pid 42"}
	assert.ErrorContains(t, err, "got pid 42")
}
