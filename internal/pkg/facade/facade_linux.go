// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package facade implements re-entry into an already-running container:
// joining a new command to the container's PID, mount, UTS, IPC, cgroup
// and (if isolated) network namespaces, without going through PID1's
// startup protocol again. It holds open the container's namespace file
// descriptors, plus one for the caller's own PID namespace, for as long as the container is
// expected to keep running, and reuses them across any number of Run
// calls.
package facade

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/furnace-runtime/furnace/internal/pkg/catalogue"
	"github.com/furnace-runtime/furnace/internal/pkg/kernel"
	"github.com/furnace-runtime/furnace/internal/pkg/reexec"
	"github.com/furnace-runtime/furnace/pkg/sylog"
)

// EntryName is the argv[0] marker the facade re-execs new commands under.
const EntryName = "furnace-facade-enter"

// joinOrder is the order non-PID namespaces are joined in the re-exec'd
// child, after it has already been born into the container's PID
// namespace by way of the parent thread's pre-fork setns. Mount must
// come before the binary lookup that follows, since only after joining
// it does the container's filesystem become visible.
var joinOrder = []string{
	catalogue.NamespaceCgroup,
	catalogue.NamespaceIPC,
	catalogue.NamespaceUTS,
	catalogue.NamespaceMount,
	catalogue.NamespaceNetwork,
}

// Facade holds the namespace file descriptors needed to re-enter one
// running container. Construct once per container lifetime and Close
// when the container is torn down.
type Facade struct {
	pid int

	origPidNs *os.File
	newPidNs  *os.File

	// newNs holds one open /proc/<pid>/ns/<kind> fd per entry of
	// joinOrder, in the same order.
	newNs []*os.File
}

// New opens the namespace file descriptors for the container whose PID1
// has the given pid. The fds are held until Close is called.
func New(pid int) (*Facade, error) {
	f := &Facade{pid: pid}

	origPidNs, err := os.Open("/proc/self/ns/" + catalogue.NamespacePID)
	if err != nil {
		return nil, errors.Wrap(err, "opening own pid namespace")
	}
	f.origPidNs = origPidNs

	newPidNs, err := os.Open(fmt.Sprintf("/proc/%d/ns/%s", pid, catalogue.NamespacePID))
	if err != nil {
		origPidNs.Close()
		return nil, errors.Wrap(err, "opening container pid namespace")
	}
	f.newPidNs = newPidNs

	for _, kind := range joinOrder {
		nsFile, err := os.Open(fmt.Sprintf("/proc/%d/ns/%s", pid, kind))
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "opening container %s namespace", kind)
		}
		f.newNs = append(f.newNs, nsFile)
	}

	return f, nil
}

// Close releases every namespace file descriptor this Facade holds.
func (f *Facade) Close() error {
	if f.origPidNs != nil {
		f.origPidNs.Close()
	}
	if f.newPidNs != nil {
		f.newPidNs.Close()
	}
	for _, nsFile := range f.newNs {
		nsFile.Close()
	}
	f.origPidNs, f.newPidNs, f.newNs = nil, nil, nil
	return nil
}

// wireArgs is argv[1] for the furnace-facade-enter re-exec: the real
// command to exec once every namespace has been joined, plus the
// environment it should run with.
type wireArgs struct {
	Argv []string `json:"argv"`
	Env  []string `json:"env"`
}

func init() {
	reexec.Register(EntryName, entry)
}

// entry is the furnace-facade-enter entry point. It is always born
// already inside the container's PID namespace (its parent thread set
// that up with setns before forking it); its first job here is to join
// every other container namespace, then become the requested command via
// execve, never returning.
func entry() {
	// setns acts on the calling thread only; join and exec from one OS thread.
	runtime.LockOSThread()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "furnace-facade-enter: missing arguments")
		os.Exit(1)
	}

	var wire wireArgs
	if err := json.Unmarshal([]byte(os.Args[1]), &wire); err != nil {
		fmt.Fprintf(os.Stderr, "furnace-facade-enter: invalid arguments: %s\n", err)
		os.Exit(1)
	}

	// fd 3 onward, one per joinOrder entry, inherited via ExtraFiles.
	for i, kind := range joinOrder {
		fd := 3 + i
		if err := kernel.Setns(fd, catalogue.NamespaceFlags[kind]); err != nil {
			fmt.Fprintf(os.Stderr, "furnace-facade-enter: joining %s namespace: %s\n", kind, err)
			os.Exit(1)
		}
	}

	if len(wire.Argv) == 0 {
		fmt.Fprintln(os.Stderr, "furnace-facade-enter: empty command")
		os.Exit(1)
	}

	path, err := exec.LookPath(wire.Argv[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "furnace-facade-enter: %s\n", err)
		os.Exit(127)
	}

	env := wire.Env
	if env == nil {
		env = os.Environ()
	}
	if err := unix.Exec(path, wire.Argv, env); err != nil {
		fmt.Fprintf(os.Stderr, "furnace-facade-enter: exec: %s\n", err)
		os.Exit(126)
	}
}

// buildCmd constructs the re-exec'd command for one invocation of argv,
// carrying the Facade's namespace fds across as ExtraFiles.
func (f *Facade) buildCmd(argv []string, env []string) (*exec.Cmd, error) {
	cmd := reexec.Command(EntryName)
	cmd.ExtraFiles = append(cmd.ExtraFiles, f.newNs...)

	arg, err := json.Marshal(wireArgs{Argv: argv, Env: env})
	if err != nil {
		return nil, err
	}
	cmd.Args = append(cmd.Args, string(arg))
	return cmd, nil
}

// withContainerPidNamespace runs start with the calling OS thread set
// into the container's PID namespace (so that whatever process start
// forks is born a member of it), restoring the thread's original PID
// namespace before returning control to the Go scheduler.
func (f *Facade) withContainerPidNamespace(start func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := kernel.Setns(int(f.newPidNs.Fd()), unix.CLONE_NEWPID); err != nil {
		return errors.Wrap(err, "joining container pid namespace")
	}

	startErr := start()

	if err := kernel.Setns(int(f.origPidNs.Fd()), unix.CLONE_NEWPID); err != nil {
		sylog.Warningf("restoring original pid namespace on facade thread: %s", err)
	}

	return startErr
}

// Run executes argv inside the container and blocks until it exits,
// connecting its stdio to the calling process's own. A nil env inherits
// the caller's environment.
func (f *Facade) Run(argv []string, env []string) error {
	cmd, err := f.buildCmd(argv, env)
	if err != nil {
		return err
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := f.withContainerPidNamespace(cmd.Start); err != nil {
		return err
	}
	return cmd.Wait()
}

// RunOutput executes argv inside the container and returns its combined
// stdout+stderr once it exits.
func (f *Facade) RunOutput(argv []string, env []string) ([]byte, error) {
	cmd, err := f.buildCmd(argv, env)
	if err != nil {
		return nil, err
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	startErr := f.withContainerPidNamespace(cmd.Start)
	pw.Close()
	if startErr != nil {
		pr.Close()
		return nil, startErr
	}

	out, readErr := io.ReadAll(pr)
	pr.Close()
	waitErr := cmd.Wait()
	if waitErr != nil {
		return out, waitErr
	}
	return out, readErr
}

// InteractiveShell runs an interactive bash session inside the
// container, attaching a pty to the caller's controlling terminal and
// putting it into raw mode for the duration, restoring it afterwards.
// virtualHostname only decorates the shell prompt; the container's
// actual UTS hostname is always "localhost" (see catalogue.ContainerHostname).
func (f *Facade) InteractiveShell(virtualHostname string) error {
	cmd, err := f.buildCmd([]string{"bash", "--norc", "--noprofile", "-i"},
		append(os.Environ(), fmt.Sprintf("PS1=furnace-debug@%s \033[32m\\w\033[0m # ", virtualHostname)))
	if err != nil {
		return err
	}

	var ptmx *os.File
	startErr := f.withContainerPidNamespace(func() error {
		var err error
		ptmx, err = ptyStart(cmd)
		return err
	})
	if startErr != nil {
		return startErr
	}
	defer ptmx.Close()

	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return errors.Wrap(err, "setting terminal raw mode")
		}
		defer term.Restore(stdinFd, oldState)
	}

	go func() { _, _ = io.Copy(ptmx, os.Stdin) }()
	_, _ = io.Copy(os.Stdout, ptmx)

	return cmd.Wait()
}
