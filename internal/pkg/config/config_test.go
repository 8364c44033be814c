// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package config

import (
	"os"
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseBindMountDefaultsReadOnly(t *testing.T) {
	bm, err := ParseBindMount("/src:/dst")
	assert.NilError(t, err)
	assert.Equal(t, bm.Source, "/src")
	assert.Equal(t, bm.Destination, "/dst")
	assert.Equal(t, bm.ReadOnly, true)
}

func TestParseBindMountExplicitMode(t *testing.T) {
	ro, err := ParseBindMount("/src:/dst:ro")
	assert.NilError(t, err)
	assert.Equal(t, ro.ReadOnly, true)

	rw, err := ParseBindMount("/src:/dst:rw")
	assert.NilError(t, err)
	assert.Equal(t, rw.ReadOnly, false)
}

func TestParseBindMountRejectsBadMode(t *testing.T) {
	_, err := ParseBindMount("/src:/dst:bogus")
	assert.ErrorContains(t, err, "'ro' or 'rw'")
}

func TestParseBindMountRejectsMissingColon(t *testing.T) {
	_, err := ParseBindMount("/src-only")
	assert.ErrorContains(t, err, "form")
}

func TestParseBindMountRejectsEmptyFields(t *testing.T) {
	_, err := ParseBindMount(":/dst")
	assert.ErrorContains(t, err, "missing")
}

func TestRelativeDestinationStripsLeadingSlash(t *testing.T) {
	abs := BindMount{Destination: "/x/y"}
	rel := BindMount{Destination: "x/y"}
	assert.Equal(t, abs.RelativeDestination(), rel.RelativeDestination())
	assert.Equal(t, abs.RelativeDestination(), "x/y")
}

func TestValidateResolvesAndChecksRootDir(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{RootDir: dir}
	assert.NilError(t, cfg.Validate())
	assert.Equal(t, cfg.RootDir, dir)
}

func TestValidateRejectsMissingRootDir(t *testing.T) {
	cfg := &Config{RootDir: "/does/not/exist/furnace-test"}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "does not exist")
}

func TestValidateRejectsNonDirectory(t *testing.T) {
	f, err := os.CreateTemp("", "furnace-config-test")
	assert.NilError(t, err)
	defer os.Remove(f.Name())
	f.Close()

	cfg := &Config{RootDir: f.Name()}
	err = cfg.Validate()
	assert.ErrorContains(t, err, "not a directory")
}
