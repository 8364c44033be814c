// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Command furnace is a lightweight container launcher: it isolates a
// root directory into its own PID, mount, UTS, IPC, cgroup and
// (optionally) network namespaces, then runs a command (or an
// interactive shell) inside it.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/furnace-runtime/furnace/internal/pkg/catalogue"
	"github.com/furnace-runtime/furnace/internal/pkg/config"
	"github.com/furnace-runtime/furnace/internal/pkg/facade"
	"github.com/furnace-runtime/furnace/internal/pkg/mountscope"
	"github.com/furnace-runtime/furnace/internal/pkg/reexec"
	"github.com/furnace-runtime/furnace/internal/pkg/supervisor"
	"github.com/furnace-runtime/furnace/pkg/sylog"
	"github.com/furnace-runtime/furnace/pkg/version"
)

type cliFlags struct {
	hostname          string
	isolateNetworking bool
	persistent        bool
	volumes           []string
	showVersion       bool
}

func main() {
	// Must run before any cobra/flag parsing: a re-exec'd furnace-pid1 or
	// furnace-facade-enter child has its own argv convention entirely.
	if reexec.Init() {
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		sylog.Errorf("%s", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:                   "furnace [flags] root_dir [cmd...]",
		Short:                 "A lightweight container launcher",
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
		Args: func(cmd *cobra.Command, args []string) error {
			if flags.showVersion {
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.showVersion {
				fmt.Println(version.Get())
				return nil
			}
			return runContainer(flags, args[0], args[1:])
		},
	}

	cmd.Flags().StringVarP(&flags.hostname, "hostname", "H", "container", "virtual hostname setting for interactive shell")
	cmd.Flags().BoolVarP(&flags.isolateNetworking, "isolate-networking", "i", false, "create an isolated networking namespace for the container")
	cmd.Flags().BoolVarP(&flags.persistent, "persistent", "p", false, "do not create a temporary overlay on top of the root directory; changes will be persistent")
	cmd.Flags().StringArrayVarP(&flags.volumes, "volume", "v", nil, "add a volume from the host in src:dst[:ro|rw] form, repeatable")
	cmd.Flags().BoolVarP(&flags.showVersion, "version", "V", false, "print furnace's version and exit")

	return cmd
}

func runContainer(flags *cliFlags, rootDirArg string, cmdArgs []string) error {
	bindMounts, err := parseVolumes(flags.volumes)
	if err != nil {
		return err
	}
	if !flags.isolateNetworking {
		hostBind, err := config.ParseBindMount(catalogue.HostNetworkBindMount + ":" + catalogue.HostNetworkBindMount + ":ro")
		if err != nil {
			return err
		}
		bindMounts = append(bindMounts, hostBind)
	}

	rootDir := rootDirArg
	if !flags.persistent {
		stagedRoot, cleanup, err := stageOverlay(rootDirArg)
		if err != nil {
			return err
		}
		defer cleanup()
		rootDir = stagedRoot
	}

	cfg := &config.Config{
		RootDir:           rootDir,
		IsolateNetworking: flags.isolateNetworking,
		BindMounts:        bindMounts,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sup, err := supervisor.Start(cfg)
	if err != nil {
		return fmt.Errorf("starting container: %w", err)
	}
	defer sup.Stop()

	fac, err := facade.New(sup.Pid())
	if err != nil {
		return fmt.Errorf("opening container for re-entry: %w", err)
	}
	defer fac.Close()

	if len(cmdArgs) == 0 {
		return fac.InteractiveShell(flags.hostname)
	}
	return fac.Run(cmdArgs, nil)
}

func parseVolumes(volumes []string) ([]config.BindMount, error) {
	mounts := make([]config.BindMount, 0, len(volumes))
	for _, v := range volumes {
		bm, err := config.ParseBindMount(v)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, bm)
	}
	return mounts, nil
}

// stageOverlay materialises the temporary upper/work/mount directories
// an ephemeral (non-persistent) container runs from, mounts an overlay
// of rootDir underneath, and returns the mounted path plus a cleanup
// func that unmounts and removes everything.
func stageOverlay(rootDir string) (string, func(), error) {
	suffix := uuid.NewString()[:8]

	upper, err := os.MkdirTemp("", "furnace-overlay-rw-"+suffix)
	if err != nil {
		return "", nil, err
	}
	work, err := os.MkdirTemp("", "furnace-overlay-work-"+suffix)
	if err != nil {
		os.RemoveAll(upper)
		return "", nil, err
	}
	mount, err := os.MkdirTemp("", "furnace-overlay-mount-"+suffix)
	if err != nil {
		os.RemoveAll(upper)
		os.RemoveAll(work)
		return "", nil, err
	}

	scope := mountscope.NewOverlay([]string{rootDir}, upper, work, mount)
	if err := scope.Acquire(); err != nil {
		os.RemoveAll(upper)
		os.RemoveAll(work)
		os.RemoveAll(mount)
		return "", nil, fmt.Errorf("staging overlay: %w", err)
	}

	cleanup := func() {
		scope.Release()
		os.RemoveAll(upper)
		os.RemoveAll(work)
		os.RemoveAll(mount)
	}
	return mount, cleanup, nil
}
