// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package supervisor owns the lifetime of one container: it unshares a new
// PID namespace, re-execs furnace-pid1 into it, waits for the container's
// ready handshake, and later tears the container down. It is the process
// that calls unshare(CLONE_NEWPID) itself and is the container's direct
// parent; its own PID namespace membership never changes, since unshare
// only affects namespaces of children created after the call.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/furnace-runtime/furnace/internal/pkg/catalogue"
	"github.com/furnace-runtime/furnace/internal/pkg/config"
	"github.com/furnace-runtime/furnace/internal/pkg/kernel"
	"github.com/furnace-runtime/furnace/internal/pkg/pid1"
	"github.com/furnace-runtime/furnace/internal/pkg/reexec"
	"github.com/furnace-runtime/furnace/pkg/sylog"
)

// StartupError reports a container that failed to reach the ready state:
// a bad ready token, a closed pipe, or a PID1 process that exited before
// signalling readiness.
type StartupError struct {
	Msg string
}

func (e *StartupError) Error() string { return e.Msg }

// Supervisor owns the PID1 process of one running container.
type Supervisor struct {
	cfg *config.Config
	cmd *exec.Cmd
	// controlWrite is the supervisor's end of the pipe whose other end
	// PID1 blocks reading from; closing it tells PID1 to exit.
	controlWrite *os.File
}

// Start unshares a fresh PID namespace, re-execs furnace-pid1 into it as
// the new namespace's PID 1, and blocks until the container signals
// readiness or fails to start.
func Start(cfg *config.Config) (*Supervisor, error) {
	// supervisorToPid1Read/Write: supervisor writes nothing, PID1 blocks
	// reading from it until the supervisor closes it (teardown signal).
	supervisorToPid1Read, supervisorToPid1Write, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating control pipe")
	}
	// pid1ToSupervisorRead/Write: PID1 writes the ready token once, the
	// supervisor reads it to complete the handshake.
	pid1ToSupervisorRead, pid1ToSupervisorWrite, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating ready pipe")
	}
	defer pid1ToSupervisorWrite.Close()

	// Child inherits these as fd 3 and fd 4, in ExtraFiles order.
	cmd := reexec.Command(pid1.EntryName)
	cmd.ExtraFiles = []*os.File{supervisorToPid1Read, pid1ToSupervisorWrite}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	arg, err := pid1.MarshalArg(cfg, 3, 4)
	if err != nil {
		return nil, err
	}
	cmd.Args = append(cmd.Args, arg)

	if err := withNewPidNamespace(func() error { return cmd.Start() }); err != nil {
		supervisorToPid1Read.Close()
		supervisorToPid1Write.Close()
		pid1ToSupervisorRead.Close()
		return nil, errors.Wrap(err, "starting furnace-pid1")
	}

	// These fds now live in the child; the supervisor's copies are only
	// needed to pass across the fork/exec and must be closed here so
	// that, e.g., closing controlWrite later actually reaches EOF in the
	// child instead of being held open by this duplicate descriptor.
	supervisorToPid1Read.Close()
	pid1ToSupervisorWrite.Close()

	s := &Supervisor{cfg: cfg, cmd: cmd, controlWrite: supervisorToPid1Write}

	if err := s.waitReady(pid1ToSupervisorRead); err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		supervisorToPid1Write.Close()
		return nil, err
	}
	sylog.Debugf("container ready, pid1 pid=%d", cmd.Process.Pid)
	return s, nil
}

// withNewPidNamespace runs start (expected to fork+exec a child) with the
// calling OS thread unshared into a new PID namespace, then restores the
// thread's original PID namespace membership before releasing it back to
// the Go scheduler. The thread is locked for the duration: unshare and
// setns are per-thread, and an unlocked thread could be rescheduled onto
// a goroutine that assumes the host's original namespace.
func withNewPidNamespace(start func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origPidNs, err := os.Open("/proc/self/ns/pid")
	if err != nil {
		return errors.Wrap(err, "opening own pid namespace")
	}
	defer origPidNs.Close()

	if err := kernel.Unshare(catalogue.NamespaceFlags[catalogue.NamespacePID]); err != nil {
		return errors.Wrap(err, "unshare(CLONE_NEWPID)")
	}

	startErr := start()

	// Restore this thread's PID namespace regardless of whether start
	// succeeded: a future reused thread must not stay unshared.
	if err := kernel.Setns(int(origPidNs.Fd()), unix.CLONE_NEWPID); err != nil {
		sylog.Warningf("restoring original pid namespace on supervisor thread: %s", err)
	}

	return startErr
}

// waitReady reads the three-byte ready token from the PID1 handshake pipe.
func (s *Supervisor) waitReady(r *os.File) error {
	defer r.Close()
	buf := make([]byte, len(pid1.ReadyToken))
	n, err := readFull(r, buf)
	if err != nil {
		return &StartupError{Msg: fmt.Sprintf("reading ready handshake: %s", err)}
	}
	if n != len(buf) || string(buf) != pid1.ReadyToken {
		return &StartupError{Msg: fmt.Sprintf("unexpected ready handshake payload %q", buf[:n])}
	}
	return nil
}

func readFull(r *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// Pid returns the PID1 process's pid as seen from the supervisor's own
// (host) PID namespace.
func (s *Supervisor) Pid() int { return s.cmd.Process.Pid }

// Stop tears the container down: it closes PID1's control pipe, sends
// PID1 SIGKILL (which ends every process in its PID namespace), then reaps
// it. Idempotent: calling Stop twice is safe.
func (s *Supervisor) Stop() error {
	if s.controlWrite != nil {
		_ = s.controlWrite.Close()
		s.controlWrite = nil
	}
	if s.cmd.Process == nil {
		return nil
	}
	_ = s.cmd.Process.Signal(unix.SIGKILL)
	if _, err := s.cmd.Process.Wait(); err != nil {
		if _, ok := err.(*os.SyscallError); !ok {
			sylog.Warningf("waiting for furnace-pid1 to exit: %s", err)
		}
	}
	return nil
}

// Kill sends SIGKILL to the container's PID1 without reaping it; Stop
// both kills and reaps.
func (s *Supervisor) Kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Signal(unix.SIGKILL)
}

// Mixin is a small embeddable helper for callers that want a container
// brought up lazily and reused across several operations against the
// same root directory, rather than constructing a Supervisor themselves
// for every call.
type Mixin struct {
	sup     *Supervisor
	rootDir string
}

// EnsureContainer returns the Mixin's running Supervisor for rootDir,
// starting one with default configuration if none is running yet, or if
// rootDir differs from the previously started container's.
func (m *Mixin) EnsureContainer(rootDir string) (*Supervisor, error) {
	if m.sup != nil && m.rootDir == rootDir {
		return m.sup, nil
	}
	if m.sup != nil {
		_ = m.sup.Stop()
		m.sup = nil
	}
	cfg := &config.Config{RootDir: rootDir}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sup, err := Start(cfg)
	if err != nil {
		return nil, err
	}
	m.sup = sup
	m.rootDir = rootDir
	return sup, nil
}

// Close stops any container the Mixin is currently holding open.
func (m *Mixin) Close() error {
	if m.sup == nil {
		return nil
	}
	err := m.sup.Stop()
	m.sup = nil
	return err
}
