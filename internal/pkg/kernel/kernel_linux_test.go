// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package kernel

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"

	"github.com/furnace-runtime/furnace/internal/pkg/testutil"
)

func TestUnescapeOctal(t *testing.T) {
	assert.Equal(t, unescapeOctal(`/a\040b`), "/a b")
	assert.Equal(t, unescapeOctal(`/plain`), "/plain")
	assert.Equal(t, unescapeOctal(`/a\011b\012c`), "/a\tb\nc")
}

func TestGetAllMountsContainsRoot(t *testing.T) {
	mounts, err := GetAllMounts()
	assert.NilError(t, err)
	assert.Assert(t, len(mounts) > 0)

	found := false
	for _, m := range mounts {
		if m == "/" {
			found = true
		}
	}
	assert.Assert(t, found, "expected / to be among parsed mounts")
}

func TestIsMountPointBindMount(t *testing.T) {
	testutil.Root(t)

	src := t.TempDir()
	dst := t.TempDir()

	isMP, err := IsMountPoint(dst)
	assert.NilError(t, err)
	assert.Assert(t, !isMP)

	assert.NilError(t, Mount(src, dst, "", unix.MS_BIND, ""))
	defer Unmount(dst)

	isMP, err = IsMountPoint(dst)
	assert.NilError(t, err)
	assert.Assert(t, isMP)
}

func TestMknodCreatesDeviceWithRequestedMode(t *testing.T) {
	testutil.Root(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "null")
	assert.NilError(t, Mknod(path, false, 1, 3, 0o640))

	info, err := os.Stat(path)
	assert.NilError(t, err)
	assert.Equal(t, info.Mode().Perm(), os.FileMode(0o640))
}

func TestGetpidMatchesOsGetpid(t *testing.T) {
	assert.Equal(t, Getpid(), os.Getpid())
}
