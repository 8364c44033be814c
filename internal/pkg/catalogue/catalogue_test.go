// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package catalogue

import (
	"os"
	"testing"

	"gotest.tools/v3/assert"
)

func TestMountsCoverExpectedDestinations(t *testing.T) {
	want := []string{"/proc", "/dev", "/dev/pts", "/dev/shm", "/dev/mqueue", "/sys", "/run"}
	assert.Equal(t, len(Mounts), len(want))
	for i, m := range Mounts {
		assert.Equal(t, m.Destination, want[i])
	}
}

func TestDeviceNodesHaveWorldAccessibleMode(t *testing.T) {
	for _, d := range DeviceNodes {
		assert.Equal(t, d.Mode, os.FileMode(0o666), "device %s", d.Name)
	}
}

func TestNamespaceFlagsCoverAllNames(t *testing.T) {
	for _, name := range []string{NamespacePID, NamespaceMount, NamespaceUTS, NamespaceIPC, NamespaceCgroup, NamespaceNetwork} {
		_, ok := NamespaceFlags[name]
		assert.Assert(t, ok, "missing flag for namespace %s", name)
	}
}

func TestContainerHostnameIsLocalhost(t *testing.T) {
	assert.Equal(t, ContainerHostname, "localhost")
}
