// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package supervisor

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/furnace-runtime/furnace/internal/pkg/config"
	"github.com/furnace-runtime/furnace/internal/pkg/facade"
	"github.com/furnace-runtime/furnace/internal/pkg/reexec"
	"github.com/furnace-runtime/furnace/internal/pkg/testutil"
)

// TestMain lets the test binary, re-exec'd as furnace-pid1 or
// furnace-facade-enter, dispatch into that entry point instead of
// running the tests again.
func TestMain(m *testing.M) {
	if reexec.Init() {
		return
	}
	os.Exit(m.Run())
}

func TestMixinEnsureContainerRejectsMissingRootDir(t *testing.T) {
	var m Mixin
	_, err := m.EnsureContainer("/does/not/exist/furnace-test")
	assert.ErrorContains(t, err, "does not exist")
}

// buildMinimalRootfs assembles just enough of a root filesystem to pivot
// into: the destination directories the default mount catalogue expects,
// and the host's busybox binary copied in, with /bin/sh linked to it. Skips
// the calling test if the host has no busybox on its PATH.
func buildMinimalRootfs(t *testing.T) string {
	t.Helper()

	shPath, err := exec.LookPath("busybox")
	if err != nil {
		t.Skip("no busybox binary available on this host to build a test rootfs")
	}

	root := t.TempDir()
	for _, d := range []string{"proc", "sys", "dev", "dev/pts", "dev/shm", "dev/mqueue", "run", "bin"} {
		assert.NilError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}

	data, err := os.ReadFile(shPath)
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(filepath.Join(root, "bin", "busybox"), data, 0o755))
	assert.NilError(t, os.Symlink("busybox", filepath.Join(root, "bin", "sh")))

	return root
}

func TestStartAndRunEchoInsideContainer(t *testing.T) {
	testutil.Root(t)
	root := buildMinimalRootfs(t)

	cfg := &config.Config{RootDir: root}
	assert.NilError(t, cfg.Validate())
	sup, err := Start(cfg)
	assert.NilError(t, err)
	defer sup.Stop()

	fac, err := facade.New(sup.Pid())
	assert.NilError(t, err)
	defer fac.Close()

	out, err := fac.RunOutput([]string{"/bin/sh", "-c", "echo hello"}, nil)
	assert.NilError(t, err)
	assert.Equal(t, string(out), "hello\n")
}
