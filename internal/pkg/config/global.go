// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/ryanuber/go-glob"
	"github.com/siderolabs/go-pointer"
	"go.uber.org/zap"

	"github.com/siderolabs/uki-manager/internal/pkg/kernel"
	"github.com/siderolabs/uki-manager/internal/pkg/uki"
)

// Global is the global configuration with the directories resolved.
type Global struct {
	BootDir   string
	ESPDir    string
	OutputDir string
	Jobs      int
	Include   []string
	Exclude   []string

	// ProcCmdline is read when the cmdline file is missing.
	ProcCmdline string

	// Defaults are the configured kernel defaults merged over the built-in ones.
	Defaults Kernel
}

// Resolve probes for the directories which are not configured.
func (cfg *Config) Resolve(logger *zap.Logger) (*Global, error) {
	global := &Global{
		Include: cfg.Include,
		Exclude: cfg.Exclude,
		Jobs:    pointer.SafeDeref(cfg.Jobs),

		ProcCmdline: kernel.ProcCmdline,
	}

	if global.Jobs <= 0 {
		global.Jobs = runtime.GOMAXPROCS(0)
	}

	var err error

	if global.BootDir, err = resolveDir(cfg.BootDir, "boot directory", BootDirCandidates, logger); err != nil {
		return nil, err
	}

	if global.ESPDir, err = resolveDir(cfg.ESPDir, "EFI system partition", ESPDirCandidates, logger); err != nil {
		return nil, err
	}

	global.OutputDir = pointer.SafeDeref(cfg.OutputDir)
	if global.OutputDir == "" {
		global.OutputDir = filepath.Join(global.ESPDir, "EFI", "Linux")
	}

	global.Defaults = Merge(cfg.Defaults, global.builtinDefaults(logger))

	for _, pattern := range slices.Concat(global.Include, global.Exclude) {
		if pattern == "" {
			return nil, errors.New("empty include/exclude pattern")
		}
	}

	return global, nil
}

func resolveDir(configured *string, what string, candidates []string, logger *zap.Logger) (string, error) {
	if configured != nil && *configured != "" {
		return *configured, nil
	}

	dir, err := Probe(what, candidates, true)
	if err != nil {
		return "", err
	}

	logger.Info(fmt.Sprintf("using %s as %s", dir, what))

	return dir, nil
}

// builtinDefaults are the kernel defaults derived from the global directories.
//
// The stub and os-release are probed; if they can't be found, the kernel config
// fails to resolve unless they are configured explicitly.
func (global *Global) builtinDefaults(logger *zap.Logger) Kernel {
	defaults := Kernel{
		OutputName:  pointer.To("%name%.efi"),
		OutputDir:   pointer.To(global.OutputDir),
		CmdlinePath: pointer.To("/etc/kernel/cmdline"),
		MicrocodePaths: []string{
			filepath.Join(global.BootDir, "amd-ucode.img"),
			filepath.Join(global.BootDir, "intel-ucode.img"),
		},
		InitrdPaths:          []string{filepath.Join(global.BootDir, "initramfs-%name%.img")},
		VmlinuzPath:          pointer.To(kernel.ImagePath(global.BootDir, "%name%")),
		Assembler:            pointer.To(string(uki.AssemblerNative)),
		AssignVirtualAddress: pointer.To(true),
	}

	if stub, err := Probe("EFI stub", StubCandidates, false); err == nil {
		defaults.StubPath = pointer.To(stub)
	} else {
		logger.Debug("EFI stub not found", zap.Error(err))
	}

	if osRelease, err := Probe("os-release", OSReleaseCandidates, false); err == nil {
		defaults.OSReleasePath = pointer.To(osRelease)
	} else {
		logger.Debug("os-release not found", zap.Error(err))
	}

	return defaults
}

// Selected reports whether the kernel is matched by the include and exclude patterns.
//
// An empty include list matches every kernel.
func (global *Global) Selected(name string) bool {
	included := len(global.Include) == 0

	for _, pattern := range global.Include {
		if glob.Glob(pattern, name) {
			included = true

			break
		}
	}

	if !included {
		return false
	}

	for _, pattern := range global.Exclude {
		if glob.Glob(pattern, name) {
			return false
		}
	}

	return true
}
