// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/siderolabs/uki-manager/internal/pkg/kernel"
	"github.com/siderolabs/uki-manager/internal/pkg/uki"
	"github.com/siderolabs/uki-manager/pkg/cli"
)

var buildCmdFlags struct {
	stubPath             string
	osReleasePath        string
	kernelPath           string
	initrdPaths          []string
	microcodePaths       []string
	cmdline              string
	cmdlineFile          string
	splashPath           string
	uname                string
	outputPath           string
	assembler            string
	assignVirtualAddress bool
	dryRun               bool
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a single UKI from the given stub, kernel and initrds",
	Long:  ``,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.WithContext(cmd.Context(), func(ctx context.Context) error {
			builder, err := newBuilder()
			if err != nil {
				return err
			}

			return builder.Build(ctx)
		})
	},
}

func newBuilder() (*uki.Builder, error) {
	assembler, err := uki.ParseAssembler(buildCmdFlags.assembler)
	if err != nil {
		return nil, err
	}

	cmdline := buildCmdFlags.cmdline

	if buildCmdFlags.cmdlineFile != "" {
		if cmdline != "" {
			return nil, errors.New("--cmdline and --cmdline-file are mutually exclusive")
		}

		parsed, err := kernel.ReadCmdline(buildCmdFlags.cmdlineFile, "")
		if err != nil {
			return nil, err
		}

		cmdline = parsed.String()
	}

	return &uki.Builder{
		SdStubPath:     buildCmdFlags.stubPath,
		OSReleasePath:  buildCmdFlags.osReleasePath,
		KernelPath:     buildCmdFlags.kernelPath,
		MicrocodePaths: buildCmdFlags.microcodePaths,
		InitrdPaths:    buildCmdFlags.initrdPaths,
		SplashPath:     buildCmdFlags.splashPath,
		Cmdline:        cmdline,
		Uname:          buildCmdFlags.uname,

		OutUKIPath: buildCmdFlags.outputPath,

		Assembler:              assembler,
		AssignVirtualAddresses: buildCmdFlags.assignVirtualAddress,
		DryRun:                 buildCmdFlags.dryRun,

		Logger: newLogger(),
	}, nil
}

func init() {
	flags := buildCmd.Flags()

	flags.StringVar(&buildCmdFlags.stubPath, "stub", "", "path to the systemd-boot EFI stub")
	flags.StringVar(&buildCmdFlags.osReleasePath, "os-release", "/etc/os-release", "path to the os-release file")
	flags.StringVar(&buildCmdFlags.kernelPath, "kernel", "", "path to the kernel image")
	flags.StringSliceVar(&buildCmdFlags.initrdPaths, "initrd", nil, "initrd images, concatenated in order")
	flags.StringSliceVar(&buildCmdFlags.microcodePaths, "microcode", nil, "microcode images prepended to the initrd, skipped if missing")
	flags.StringVar(&buildCmdFlags.cmdline, "cmdline", "", "kernel command line")
	flags.StringVar(&buildCmdFlags.cmdlineFile, "cmdline-file", "", "file to read the kernel command line from")
	flags.StringVar(&buildCmdFlags.splashPath, "splash", "", "path to the splash image")
	flags.StringVar(&buildCmdFlags.uname, "uname", "", "kernel version (discovered from the kernel image if empty)")
	flags.StringVarP(&buildCmdFlags.outputPath, "output", "o", "", "path to the generated UKI")
	flags.StringVar(&buildCmdFlags.assembler, "assembler", string(uki.AssemblerNative), "assembler to use (native or objcopy)")
	flags.BoolVar(&buildCmdFlags.assignVirtualAddress, "assign-virtual-address", true, "assign virtual addresses to the added sections")
	flags.BoolVar(&buildCmdFlags.dryRun, "dry-run", false, "only print the sections which would be added")

	for _, name := range []string{"stub", "kernel", "output"} {
		if err := buildCmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(buildCmd)
}
