// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/siderolabs/go-pointer"
	"github.com/siderolabs/go-procfs/procfs"
	"go.uber.org/zap"

	"github.com/siderolabs/uki-manager/internal/pkg/kernel"
	"github.com/siderolabs/uki-manager/internal/pkg/uki"
)

// KernelConfig is the effective configuration of a single UKI.
type KernelConfig struct {
	Name                 string        `toml:"name"`
	Version              string        `toml:"version,omitempty"`
	OutputPath           string        `toml:"output_path"`
	StubPath             string        `toml:"stub_path"`
	OSReleasePath        string        `toml:"osrel_path"`
	Cmdline              string        `toml:"cmdline"`
	MicrocodePaths       []string      `toml:"microcode_paths"`
	InitrdPaths          []string      `toml:"initrd_paths"`
	VmlinuzPath          string        `toml:"vmlinuz_path"`
	SplashPath           string        `toml:"splash_path,omitempty"`
	Assembler            uki.Assembler `toml:"assembler"`
	AssignVirtualAddress bool          `toml:"assign_virtual_address"`
}

// Kernel computes the effective configuration of the named kernel.
//
// The override is merged over the defaults, placeholders are substituted, the kernel
// version and the os-release ID are discovered if needed.
//
//nolint:gocyclo
func (global *Global) Kernel(name string, override Kernel, logger *zap.Logger) (*KernelConfig, error) {
	k := Substitute(Merge(override, global.Defaults), Vars{Name: name, Arch: EFIArch()})

	cfg := &KernelConfig{
		Name:                 name,
		StubPath:             pointer.SafeDeref(k.StubPath),
		OSReleasePath:        pointer.SafeDeref(k.OSReleasePath),
		VmlinuzPath:          pointer.SafeDeref(k.VmlinuzPath),
		AssignVirtualAddress: pointer.SafeDeref(k.AssignVirtualAddress),
	}

	var errs error

	if cfg.StubPath == "" {
		errs = multierror.Append(errs, &ProbeError{What: "EFI stub", Candidates: StubCandidates})
	}

	if cfg.OSReleasePath == "" {
		errs = multierror.Append(errs, &ProbeError{What: "os-release", Candidates: OSReleaseCandidates})
	}

	if cfg.VmlinuzPath == "" {
		errs = multierror.Append(errs, errors.New("vmlinuz_path is empty"))
	}

	assembler, err := uki.ParseAssembler(pointer.SafeDeref(k.Assembler))
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	cfg.Assembler = assembler

	if errs != nil {
		return nil, fmt.Errorf("kernel %q: %w", name, errs)
	}

	cfg.Version = pointer.SafeDeref(k.Uname)

	if cfg.Version == "" {
		if cfg.Version, err = uki.DiscoverKernelVersion(cfg.VmlinuzPath); err != nil {
			logger.Warn("cannot discover kernel version", zap.String("kernel", name), zap.Error(err))
		}
	}

	var id string

	if osRelease, err := uki.ReadOSRelease(cfg.OSReleasePath); err == nil {
		id = osRelease.ID()
	} else {
		logger.Warn("cannot read os-release", zap.String("path", cfg.OSReleasePath), zap.Error(err))
	}

	k = Substitute(k, Vars{Version: cfg.Version, ID: id})

	cfg.OutputPath = filepath.Join(pointer.SafeDeref(k.OutputDir), pointer.SafeDeref(k.OutputName))
	cfg.StubPath = pointer.SafeDeref(k.StubPath)
	cfg.OSReleasePath = pointer.SafeDeref(k.OSReleasePath)
	cfg.VmlinuzPath = pointer.SafeDeref(k.VmlinuzPath)
	cfg.SplashPath = pointer.SafeDeref(k.SplashPath)
	cfg.MicrocodePaths = k.MicrocodePaths
	cfg.InitrdPaths = k.InitrdPaths

	if pointer.SafeDeref(k.OutputName) == "" || strings.ContainsRune(pointer.SafeDeref(k.OutputName), filepath.Separator) {
		return nil, fmt.Errorf("kernel %q: invalid output_name %q", name, pointer.SafeDeref(k.OutputName))
	}

	if cfg.Cmdline, err = readCmdline(pointer.SafeDeref(k.CmdlinePath), global.ProcCmdline, pointer.SafeDeref(k.ExtraCmdline)); err != nil {
		return nil, fmt.Errorf("kernel %q: %w", name, err)
	}

	return cfg, nil
}

func readCmdline(path, fallback, extra string) (string, error) {
	cmdline := procfs.NewCmdline("")

	if path != "" {
		var err error

		if cmdline, err = kernel.ReadCmdline(path, fallback); err != nil {
			return "", fmt.Errorf("error reading kernel cmdline: %w", err)
		}
	}

	if extra != "" {
		if err := cmdline.AppendAll(procfs.NewCmdline(extra).Strings()); err != nil {
			return "", fmt.Errorf("error appending extra_cmdline: %w", err)
		}
	}

	return cmdline.String(), nil
}

// Builder prepares the UKI builder for the kernel.
func (cfg *KernelConfig) Builder(logger *zap.Logger) *uki.Builder {
	return &uki.Builder{
		SdStubPath:     cfg.StubPath,
		OSReleasePath:  cfg.OSReleasePath,
		KernelPath:     cfg.VmlinuzPath,
		MicrocodePaths: cfg.MicrocodePaths,
		InitrdPaths:    cfg.InitrdPaths,
		SplashPath:     cfg.SplashPath,
		Cmdline:        cfg.Cmdline,
		Uname:          cfg.Version,

		OutUKIPath: cfg.OutputPath,

		Assembler:              cfg.Assembler,
		AssignVirtualAddresses: cfg.AssignVirtualAddress,

		Logger: logger.With(zap.String("kernel", cfg.Name)),
	}
}
