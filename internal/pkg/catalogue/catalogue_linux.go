// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package catalogue holds the static tables the container lifecycle engine
// applies inside every container: default mounts, default device nodes,
// the host-network bind-mount set, and the namespace-flag mapping. Pure
// data, no behaviour beyond iteration, as the design calls for.
package catalogue

import (
	"os"

	"golang.org/x/sys/unix"
)

// Mount describes one entry of the default mount catalogue.
type Mount struct {
	Destination string
	Type        string
	Source      string
	Flags       uintptr
	Options     string
}

// Mounts is the default in-container mount catalogue. Order matters: later
// entries mount under earlier ones, so this must be applied in this order
// after pivot_root.
var Mounts = []Mount{
	{
		Destination: "/proc",
		Type:        "proc",
		Source:      "proc",
	},
	{
		Destination: "/dev",
		Type:        "tmpfs",
		Source:      "tmpfs",
		Flags:       unix.MS_NOSUID | unix.MS_STRICTATIME,
		Options:     "mode=755,size=65536k",
	},
	{
		Destination: "/dev/pts",
		Type:        "devpts",
		Source:      "devpts",
		Flags:       unix.MS_NOSUID | unix.MS_NOEXEC,
		Options:     "newinstance,ptmxmode=0666,mode=0620,gid=5",
	},
	{
		Destination: "/dev/shm",
		Type:        "tmpfs",
		Source:      "shm",
		Flags:       unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV,
		Options:     "mode=1777,size=65536k",
	},
	{
		Destination: "/dev/mqueue",
		Type:        "mqueue",
		Source:      "mqueue",
		Flags:       unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV,
	},
	{
		Destination: "/sys",
		Type:        "sysfs",
		Source:      "sysfs",
		Flags:       unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV | unix.MS_RDONLY,
	},
	{
		Destination: "/run",
		Type:        "tmpfs",
		Source:      "shm",
		Flags:       unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV,
		Options:     "mode=1777,size=65536k",
	},
}

// DeviceNode describes one default character (or, for loop devices, block)
// device node to create in /dev.
type DeviceNode struct {
	Name    string
	Major   uint32
	Minor   uint32
	Mode    os.FileMode
	IsBlock bool
}

// DeviceNodes is the default set of /dev character device nodes.
var DeviceNodes = []DeviceNode{
	{Name: "null", Major: 1, Minor: 3, Mode: 0o666},
	{Name: "zero", Major: 1, Minor: 5, Mode: 0o666},
	{Name: "full", Major: 1, Minor: 7, Mode: 0o666},
	{Name: "tty", Major: 5, Minor: 0, Mode: 0o666},
	{Name: "random", Major: 1, Minor: 8, Mode: 0o666},
	{Name: "urandom", Major: 1, Minor: 9, Mode: 0o666},
}

// LoopControlNode is the /dev/loop-control node every container needs
// before it can attach host-visible /dev/loopN devices.
var LoopControlNode = DeviceNode{Name: "loop-control", Major: 10, Minor: 237, Mode: 0o660}

// HostNetworkBindMount is the single bind mount added when the container's
// networking is not isolated from the host's.
const HostNetworkBindMount = "/etc/resolv.conf"

// Namespace names this engine works with. PID is handled separately by the
// supervisor's unshare+fork dance (see internal/pkg/supervisor), and the
// network namespace is only unshared when networking is isolated.
const (
	NamespacePID     = "pid"
	NamespaceMount   = "mnt"
	NamespaceUTS     = "uts"
	NamespaceIPC     = "ipc"
	NamespaceCgroup  = "cgroup"
	NamespaceNetwork = "net"
)

// NamespaceFlags maps a namespace name to its CLONE_NEW* unshare/setns
// flag.
var NamespaceFlags = map[string]uintptr{
	NamespacePID:     unix.CLONE_NEWPID,
	NamespaceMount:   unix.CLONE_NEWNS,
	NamespaceUTS:     unix.CLONE_NEWUTS,
	NamespaceIPC:     unix.CLONE_NEWIPC,
	NamespaceCgroup:  unix.CLONE_NEWCGROUP,
	NamespaceNetwork: unix.CLONE_NEWNET,
}

// ContainerHostname is unconditionally set on the container's UTS
// namespace. A --hostname flag is still accepted by the CLI, but it only
// decorates the interactive shell prompt; see DESIGN.md for why this
// apparent inconsistency in the original is preserved rather than fixed.
const ContainerHostname = "localhost"
