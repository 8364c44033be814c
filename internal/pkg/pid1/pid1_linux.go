// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package pid1 implements the in-container init process: the routine that
// becomes PID 1 of the new PID namespace and builds the container's mount
// and device environment, signals readiness to the supervisor, then blocks
// until the supervisor closes the control pipe. Commands are run inside the
// container by internal/pkg/facade, not by PID 1. It is invoked only via internal/pkg/reexec,
// never called directly from the supervisor's own goroutines.
package pid1

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/furnace-runtime/furnace/internal/pkg/catalogue"
	"github.com/furnace-runtime/furnace/internal/pkg/config"
	"github.com/furnace-runtime/furnace/internal/pkg/kernel"
	"github.com/furnace-runtime/furnace/internal/pkg/reexec"
	"github.com/furnace-runtime/furnace/pkg/sylog"
)

// EntryName is the argv[0] marker the supervisor re-execs under.
const EntryName = "furnace-pid1"

// ReadyToken is the exact payload written to the control-write fd once
// the container environment is ready. The supervisor reads exactly three
// bytes and fails startup if they don't match.
const ReadyToken = "RDY"

// InvariantViolation is raised when PID1 finds it is not actually PID 1 of
// its namespace, which would mean it was invoked incorrectly.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string { return e.Msg }

// wireConfig is what the supervisor serialises onto argv[1] for the PID1
// entry point: the container configuration plus the two control-pipe fd
// numbers (assigned by exec.Cmd.ExtraFiles on the supervisor side).
type wireConfig struct {
	RootDir           string             `json:"root_dir"`
	IsolateNetworking bool               `json:"isolate_networking"`
	BindMounts        []config.BindMount `json:"bind_mounts"`
	ControlReadFd     int                `json:"control_read_fd"`
	ControlWriteFd    int                `json:"control_write_fd"`
}

func init() {
	reexec.Register(EntryName, entry)
}

// MarshalArg builds the single argv[1] string the supervisor passes to a
// re-exec'd furnace-pid1 process: the container configuration plus the
// two control-pipe fd numbers the child inherits via ExtraFiles.
func MarshalArg(cfg *config.Config, controlReadFd, controlWriteFd int) (string, error) {
	wire := wireConfig{
		RootDir:           cfg.RootDir,
		IsolateNetworking: cfg.IsolateNetworking,
		BindMounts:        cfg.BindMounts,
		ControlReadFd:     controlReadFd,
		ControlWriteFd:    controlWriteFd,
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// entry is the function reexec.Init() dispatches to. It never returns:
// it always calls os.Exit, matching the protocol's "any failure before
// ready is fatal, anything after ready only ends when the control pipe
// closes" contract.
func entry() {
	// unshare, mount, chdir and pivot_root act on the calling thread only;
	// keep the whole protocol on one OS thread.
	runtime.LockOSThread()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "furnace-pid1: missing configuration argument")
		os.Exit(1)
	}

	var wire wireConfig
	if err := json.Unmarshal([]byte(os.Args[1]), &wire); err != nil {
		fmt.Fprintf(os.Stderr, "furnace-pid1: invalid configuration: %s\n", err)
		os.Exit(1)
	}

	p1 := &pid1{
		rootDir:           wire.RootDir,
		isolateNetworking: wire.IsolateNetworking,
		bindMounts:        wire.BindMounts,
		controlRead:       os.NewFile(uintptr(wire.ControlReadFd), "control-read"),
		controlWrite:      os.NewFile(uintptr(wire.ControlWriteFd), "control-write"),
	}

	// Loop devices must be enumerated here, before createNamespaces
	// unshares the mount namespace: afterwards /dev no longer shows the
	// host's loop devices.
	p1.loopDevices = discoverLoopDevices()

	if err := p1.run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

type pid1 struct {
	rootDir           string
	isolateNetworking bool
	bindMounts        []config.BindMount
	controlRead       *os.File
	controlWrite      *os.File
	loopDevices       []catalogue.DeviceNode
}

// run executes the strictly-ordered protocol from the design's §4.D.
func (p *pid1) run() error {
	if pid := kernel.Getpid(); pid != 1 {
		return &InvariantViolation{Msg: fmt.Sprintf("furnace-pid1 expects to be PID 1, got pid %d", pid)}
	}

	if err := unix.Setsid(); err != nil {
		return errors.Wrap(err, "setsid")
	}

	// Orphaned descendants are auto-reaped by the kernel once SIGCHLD is
	// ignored; we never run a manual wait loop because we are about to
	// block on the control pipe.
	signal.Ignore(syscall.SIGCHLD)

	if err := p.createNamespaces(); err != nil {
		return errors.Wrap(err, "creating namespaces")
	}

	if err := p.setupRootMount(); err != nil {
		return errors.Wrap(err, "setting up root mount")
	}

	if err := p.mountDefaults(); err != nil {
		return errors.Wrap(err, "mounting default filesystems")
	}

	if err := p.createDefaultDeviceNodes(); err != nil {
		return errors.Wrap(err, "creating device nodes")
	}

	if err := p.createLoopDeviceNodes(); err != nil {
		return errors.Wrap(err, "creating loop device nodes")
	}

	p.populateTmpfsDirs()

	if err := p.umountOldRoot(); err != nil {
		return errors.Wrap(err, "unmounting old root")
	}

	if err := kernel.Sethostname(catalogue.ContainerHostname); err != nil {
		return errors.Wrap(err, "sethostname")
	}

	if _, err := p.controlWrite.WriteString(ReadyToken); err != nil {
		return errors.Wrap(err, "writing ready token")
	}
	sylog.Debugf("furnace-pid1: container ready")

	// Blocks until the control pipe closes (supervisor died or called
	// Stop), or any byte is received. Either way we exit 0.
	buf := make([]byte, 1)
	_, _ = p.controlRead.Read(buf)
	sylog.Debugf("furnace-pid1: control pipe closed, exiting")
	return nil
}

// createNamespaces unshares every configured namespace except PID (the
// supervisor already did that before forking us) in a single unshare(2)
// call, skipping any namespace kind the running kernel doesn't expose
// under /proc/self/ns.
func (p *pid1) createNamespaces() error {
	var flags uintptr
	for _, name := range []string{
		catalogue.NamespaceCgroup,
		catalogue.NamespaceIPC,
		catalogue.NamespaceUTS,
		catalogue.NamespaceMount,
		catalogue.NamespaceNetwork,
	} {
		if name == catalogue.NamespaceNetwork && !p.isolateNetworking {
			continue
		}
		if _, err := os.Stat("/proc/self/ns/" + name); err != nil {
			sylog.Warningf("namespace type %s not supported on this system", name)
			continue
		}
		flags |= catalogue.NamespaceFlags[name]
	}
	return kernel.Unshare(flags)
}

// setupRootMount re-mounts / as MS_REC|MS_SLAVE, applies the configured
// bind mounts, makes root_dir a mount point if it isn't one already, then
// pivots into it and chroots.
func (p *pid1) setupRootMount() error {
	if err := kernel.Mount("none", "/", "", unix.MS_REC|unix.MS_SLAVE, ""); err != nil {
		return err
	}

	if err := p.createBindMounts(); err != nil {
		return err
	}

	isMP, err := kernel.IsMountPoint(p.rootDir)
	if err != nil {
		return err
	}
	if !isMP {
		if err := kernel.Mount(p.rootDir, p.rootDir, "", unix.MS_BIND, ""); err != nil {
			return err
		}
	}

	oldRootDir := filepath.Join(p.rootDir, "old_root")
	if err := os.MkdirAll(oldRootDir, 0o755); err != nil {
		return err
	}
	if err := os.Chdir(p.rootDir); err != nil {
		return err
	}
	if err := kernel.PivotRoot(".", "old_root"); err != nil {
		return err
	}
	return kernel.Chroot(".")
}

// createBindMounts materialises and mounts every configured bind mount.
func (p *pid1) createBindMounts() error {
	for _, bm := range p.bindMounts {
		destination, err := securejoin.SecureJoin(p.rootDir, bm.RelativeDestination())
		if err != nil {
			return errors.Wrapf(err, "resolving bind destination %s", bm.Destination)
		}
		if err := createMountTarget(bm.Source, destination); err != nil {
			return err
		}
		if err := kernel.Mount(bm.Source, destination, "", unix.MS_BIND, ""); err != nil {
			return err
		}
		if bm.ReadOnly {
			flags := uintptr(unix.MS_REMOUNT | unix.MS_BIND | unix.MS_RDONLY)
			if err := kernel.Mount("", destination, "", flags, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

// createMountTarget materialises destination as a zero-length file (when
// source is a regular file, removing any pre-existing symlink first) or a
// directory otherwise, creating parent directories as needed.
func createMountTarget(source, destination string) error {
	info, err := os.Stat(source)
	if err != nil {
		return errors.Wrapf(err, "bind mount source %s", source)
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}

	if !info.IsDir() {
		if lst, err := os.Lstat(destination); err == nil && lst.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(destination); err != nil {
				return err
			}
		}
		f, err := os.OpenFile(destination, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		return f.Close()
	}

	return os.MkdirAll(destination, 0o755)
}

// mountDefaults applies the default mount catalogue in order.
func (p *pid1) mountDefaults() error {
	for _, m := range catalogue.Mounts {
		if err := os.MkdirAll(m.Destination, 0o755); err != nil {
			return err
		}
		if err := kernel.Mount(m.Source, m.Destination, m.Type, m.Flags, m.Options); err != nil {
			return err
		}
	}
	return nil
}

func (p *pid1) createDefaultDeviceNodes() error {
	for _, d := range catalogue.DeviceNodes {
		if err := kernel.Mknod(filepath.Join("/dev", d.Name), d.IsBlock, d.Major, d.Minor, d.Mode); err != nil {
			return err
		}
	}
	return nil
}

func (p *pid1) createLoopDeviceNodes() error {
	lc := catalogue.LoopControlNode
	if err := kernel.Mknod(filepath.Join("/dev", lc.Name), lc.IsBlock, lc.Major, lc.Minor, lc.Mode); err != nil {
		return err
	}
	for _, loop := range p.loopDevices {
		if err := kernel.Mknod(filepath.Join("/dev", loop.Name), true, loop.Major, loop.Minor, 0o660); err != nil {
			return err
		}
	}
	return nil
}

// populateTmpfsDirs runs systemd-tmpfiles against every tmpfs mount so
// standard subdirectories (e.g. /run/lock) exist, if the binary is
// present. Its absence is a warning, not a fatal error.
func (p *pid1) populateTmpfsDirs() {
	const tmpfilesBin = "/bin/systemd-tmpfiles"
	if _, err := os.Stat(tmpfilesBin); err != nil {
		sylog.Warningf("could not find %s, tmpfs mounts will not be populated", tmpfilesBin)
		return
	}
	for _, m := range catalogue.Mounts {
		if m.Type != "tmpfs" {
			continue
		}
		out, err := exec.Command(tmpfilesBin, "--create", "--prefix", m.Destination).CombinedOutput()
		if err != nil {
			sylog.Warningf("systemd-tmpfiles --prefix %s failed: %s", m.Destination, err)
			continue
		}
		if len(out) > 0 {
			sylog.Debugf("systemd-tmpfiles output: %s", strings.TrimSpace(string(out)))
		}
	}
}

func (p *pid1) umountOldRoot() error {
	if err := kernel.UnmountDetach("/old_root"); err != nil {
		return err
	}
	return os.Remove("/old_root")
}

// discoverLoopDevices enumerates /dev/loop[0-9]* on the host, before any
// namespace has been unshared. Must run before createNamespaces: after
// the mount namespace changes, /dev no longer reflects the host.
func discoverLoopDevices() []catalogue.DeviceNode {
	matches, err := filepath.Glob("/dev/loop[0-9]*")
	if err != nil {
		sylog.Warningf("could not enumerate host loop devices: %s", err)
		return nil
	}
	var nodes []catalogue.DeviceNode
	for _, path := range matches {
		var st unix.Stat_t
		if err := unix.Stat(path, &st); err != nil {
			continue
		}
		major := unix.Major(uint64(st.Rdev))
		minor := unix.Minor(uint64(st.Rdev))
		if major != 7 {
			continue
		}
		nodes = append(nodes, catalogue.DeviceNode{
			Name:    filepath.Base(path),
			Major:   major,
			Minor:   minor,
			IsBlock: true,
		})
	}
	return nodes
}
