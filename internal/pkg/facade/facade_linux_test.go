// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package facade

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestNewRejectsNonexistentPid(t *testing.T) {
	_, err := New(-1)
	assert.ErrorContains(t, err, "opening container")
}

func TestJoinOrderPutsMountBeforeNetwork(t *testing.T) {
	mountIdx, netIdx := -1, -1
	for i, kind := range joinOrder {
		if kind == "mnt" {
			mountIdx = i
		}
		if kind == "net" {
			netIdx = i
		}
	}
	assert.Assert(t, mountIdx >= 0 && netIdx >= 0)
	assert.Assert(t, mountIdx < netIdx)
}
