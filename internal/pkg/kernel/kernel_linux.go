// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package kernel wraps the small set of Linux syscalls the container
// lifecycle engine needs: mount/umount2, unshare, setns, pivot_root,
// mknod, and mount-table inspection. Every wrapper fails with an *OsError
// that names the syscall and captures its errno, instead of a bare error,
// so supervisor and PID1 code can log and classify failures uniformly.
package kernel

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// OsError wraps a failing kernel syscall with the operation name and errno,
// matching the OsError(errno, op) error kind from the design.
type OsError struct {
	Op  string
	Err error
}

func (e *OsError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *OsError) Unwrap() error { return e.Err }

func osErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OsError{Op: op, Err: err}
}

// Mount wraps mount(2). fstype, data may be empty.
func Mount(source, target, fstype string, flags uintptr, data string) error {
	return osErr(fmt.Sprintf("mount(%s -> %s)", source, target), unix.Mount(source, target, fstype, flags, data))
}

// Unmount wraps umount(2) (umount2 with flags 0).
func Unmount(target string) error {
	return osErr(fmt.Sprintf("umount(%s)", target), unix.Unmount(target, 0))
}

// UnmountDetach wraps umount2(2) with MNT_DETACH.
func UnmountDetach(target string) error {
	return osErr(fmt.Sprintf("umount2(%s, MNT_DETACH)", target), unix.Unmount(target, unix.MNT_DETACH))
}

// Unshare wraps unshare(2).
func Unshare(flags uintptr) error {
	return osErr("unshare", unix.Unshare(int(flags)))
}

// Setns wraps setns(2) on an already-open namespace fd.
func Setns(fd int, flags uintptr) error {
	return osErr("setns", unix.Setns(fd, int(flags)))
}

// PivotRoot wraps pivot_root(2).
func PivotRoot(newRoot, oldRoot string) error {
	return osErr(fmt.Sprintf("pivot_root(%s, %s)", newRoot, oldRoot), unix.PivotRoot(newRoot, oldRoot))
}

// Chroot wraps chroot(2).
func Chroot(path string) error {
	return osErr(fmt.Sprintf("chroot(%s)", path), unix.Chroot(path))
}

// Sethostname wraps sethostname(2).
func Sethostname(name string) error {
	return osErr("sethostname", unix.Sethostname([]byte(name)))
}

// Mknod wraps mknod(2) for character/block device nodes, followed by an
// explicit chmod: mknod honours the process umask, so the mode argument
// alone is not sufficient to get the requested permission bits.
func Mknod(path string, isBlock bool, major, minor uint32, mode os.FileMode) error {
	devType := uint32(unix.S_IFCHR)
	if isBlock {
		devType = unix.S_IFBLK
	}
	dev := unix.Mkdev(major, minor)
	if err := unix.Mknod(path, devType|uint32(mode.Perm()), int(dev)); err != nil {
		return osErr(fmt.Sprintf("mknod(%s)", path), err)
	}
	if err := os.Chmod(path, mode.Perm()); err != nil {
		return osErr(fmt.Sprintf("chmod(%s)", path), err)
	}
	return nil
}

// Getpid issues the raw getpid(2) syscall. Go's runtime never caches this
// value behind glibc the way a ctypes/libc binding would, so there is no
// correctness hazard here beyond the ordinary one: call it after any
// unshare/clone-equivalent operation that might have changed the calling
// process's view of its own pid namespace.
func Getpid() int {
	return unix.Getpid()
}

// GetAllMounts returns every mount point currently visible to this process,
// read from /proc/self/mounts. Octal-escaped bytes (spaces, tabs,
// backslashes, newlines) in the path field are decoded, matching the
// kernel's own escaping of the mountinfo/mounts tables.
func GetAllMounts() ([]string, error) {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return nil, osErr("open(/proc/self/mounts)", err)
	}
	defer f.Close()

	var mounts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), " ", 3)
		if len(fields) < 2 {
			continue
		}
		mounts = append(mounts, unescapeOctal(fields[1]))
	}
	if err := scanner.Err(); err != nil {
		return nil, osErr("read(/proc/self/mounts)", err)
	}
	return mounts, nil
}

// unescapeOctal decodes the \NNN octal escapes the kernel uses in
// /proc/self/mounts for space, tab, backslash and newline in path fields.
func unescapeOctal(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// IsMountPoint reports whether path is itself a mount point, by exact
// membership in the current mount table. Plain stat-based heuristics
// (comparing st_dev across path and its parent) miss bind mounts of a
// directory onto another directory within the same filesystem, which is
// exactly the case pivot_root's precondition cares about.
func IsMountPoint(path string) (bool, error) {
	mounts, err := GetAllMounts()
	if err != nil {
		return false, err
	}
	for _, m := range mounts {
		if m == path {
			return true, nil
		}
	}
	return false, nil
}
