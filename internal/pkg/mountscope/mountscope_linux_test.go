// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package mountscope

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/furnace-runtime/furnace/internal/pkg/kernel"
	"github.com/furnace-runtime/furnace/internal/pkg/testutil"
)

func TestBindMountReadOnly(t *testing.T) {
	testutil.Root(t)

	src := t.TempDir()
	dst := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(src, "f"), []byte("x"), 0o644))

	scope := NewBind(src, dst, true)
	assert.NilError(t, scope.Acquire())
	defer scope.Release()

	err := os.WriteFile(filepath.Join(dst, "g"), []byte("y"), 0o644)
	assert.ErrorContains(t, err, "read-only")
}

func TestBindMountReadWrite(t *testing.T) {
	testutil.Root(t)

	src := t.TempDir()
	dst := t.TempDir()

	scope := NewBind(src, dst, false)
	assert.NilError(t, scope.Acquire())
	defer scope.Release()

	assert.NilError(t, os.WriteFile(filepath.Join(dst, "g"), []byte("y"), 0o644))
}

func TestOverlayOptionsString(t *testing.T) {
	o := NewOverlay([]string{"/a", "/b"}, "/upper", "/work", "/mnt")
	assert.Equal(t, o.options(), "lowerdir=/a:/b,upperdir=/upper,workdir=/work")
}

func TestReleaseToleratesAlreadyUnmounted(t *testing.T) {
	testutil.Root(t)

	src := t.TempDir()
	dst := t.TempDir()
	scope := NewBind(src, dst, false)
	assert.NilError(t, scope.Acquire())
	assert.NilError(t, kernel.Unmount(dst))

	// The mount point is already gone; Release's umount and its
	// MNT_DETACH fallback both fail, but Release only warns, never
	// panics or propagates an error to the caller.
	scope.Release()
}
