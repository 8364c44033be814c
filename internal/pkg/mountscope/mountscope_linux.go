// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package mountscope provides scoped acquisition/release of a mount, with
// guaranteed release and fallback to a lazy detach when the mount point is
// busy. It models the mount-scope family as a small tagged variant (Bind,
// Overlay, Generic) sharing one Acquire/Release contract, per the design's
// explicit preference for that shape over a subtype hierarchy.
package mountscope

import (
	"strings"

	"golang.org/x/sys/unix"

	"github.com/furnace-runtime/furnace/internal/pkg/kernel"
	"github.com/furnace-runtime/furnace/pkg/sylog"
)

// Scope is a mount that can be acquired and, later, released.
type Scope interface {
	// Acquire performs the mount(2) call(s) needed to bring this scope up.
	Acquire() error
	// Release unmounts the scope. It never fails on the happy path: a
	// busy target is retried with MNT_DETACH and a warning is logged.
	Release()
	// Destination is the mount point this scope manages.
	Destination() string
}

type base struct {
	source, destination, fstype, data string
	flags                             uintptr
}

func (b *base) Destination() string { return b.destination }

func (b *base) Release() {
	sylog.Debugf("Unmounting %s", b.destination)
	if err := kernel.Unmount(b.destination); err != nil {
		sylog.Warningf("Failed to umount %s, detaching instead: %s", b.destination, err)
		if err := kernel.UnmountDetach(b.destination); err != nil {
			sylog.Warningf("Failed to lazily detach %s: %s", b.destination, err)
		}
	}
}

// Bind is a MS_BIND mount scope, optionally made read-only via a second
// remount call (the kernel ignores MS_RDONLY on the initial MS_BIND).
type Bind struct {
	base
	readOnly bool
}

// NewBind constructs a bind-mount scope from source onto destination.
func NewBind(source, destination string, readOnly bool) *Bind {
	return &Bind{
		base:     base{source: source, destination: destination, flags: unix.MS_BIND},
		readOnly: readOnly,
	}
}

// Acquire performs the bind mount, and the MS_REMOUNT|MS_BIND|MS_RDONLY
// follow-up when the bind was requested read-only.
func (b *Bind) Acquire() error {
	if err := kernel.Mount(b.source, b.destination, "", b.flags, ""); err != nil {
		return err
	}
	if b.readOnly {
		flags := uintptr(unix.MS_REMOUNT | unix.MS_BIND | unix.MS_RDONLY)
		if err := kernel.Mount("", b.destination, "", flags, ""); err != nil {
			return err
		}
	}
	return nil
}

// Overlay is an overlayfs mount scope over one or more lower directories.
type Overlay struct {
	base
	lowers      []string
	upper, work string
}

// NewOverlay constructs an overlayfs scope mounted at destination.
func NewOverlay(lowers []string, upper, work, destination string) *Overlay {
	return &Overlay{
		base:   base{destination: destination, fstype: "overlay"},
		lowers: lowers,
		upper:  upper,
		work:   work,
	}
}

func (o *Overlay) options() string {
	return "lowerdir=" + strings.Join(o.lowers, ":") + ",upperdir=" + o.upper + ",workdir=" + o.work
}

// Acquire mounts the overlay filesystem.
func (o *Overlay) Acquire() error {
	return kernel.Mount("overlay", o.destination, o.fstype, 0, o.options())
}

// Generic is a catch-all scope for a plain mount(2) call with an arbitrary
// fstype, flags and options string (used for the default mount catalogue:
// proc, tmpfs, devpts, sysfs, mqueue, ...).
type Generic struct {
	base
}

// NewGeneric constructs a generic mount scope.
func NewGeneric(source, destination, fstype string, flags uintptr, data string) *Generic {
	return &Generic{base{source: source, destination: destination, fstype: fstype, flags: flags, data: data}}
}

// Acquire performs the mount(2) call.
func (g *Generic) Acquire() error {
	return kernel.Mount(g.source, g.destination, g.fstype, g.flags, g.data)
}
