// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package config implements uki-manager configuration files.
//
// The global configuration file holds the directories and the kernel defaults,
// every kernel might override the defaults in <config-dir>/<kernel>.toml.
package config

import (
	"encoding/hex"
	"errors"
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/siderolabs/uki-manager/internal/pkg/toml"
)

// Default locations of the configuration.
const (
	DefaultConfigPath = "/etc/uki-manager/config.toml"
	DefaultConfigDir  = "/etc/uki-manager.d/"
)

// Config is the global configuration file.
type Config struct {
	BootDir   *string  `toml:"boot_dir,omitempty"`
	ESPDir    *string  `toml:"esp_dir,omitempty"`
	OutputDir *string  `toml:"output_dir,omitempty"`
	Jobs      *int     `toml:"jobs,omitempty"`
	Include   []string `toml:"include,omitempty"`
	Exclude   []string `toml:"exclude,omitempty"`

	Defaults Kernel `toml:"defaults"`
}

// Kernel is the per-kernel configuration, unset fields are taken from the defaults.
//
// String fields might contain placeholders, see Substitute.
type Kernel struct {
	OutputName           *string  `toml:"output_name,omitempty"`
	OutputDir            *string  `toml:"output_dir,omitempty"`
	StubPath             *string  `toml:"stub_path,omitempty"`
	OSReleasePath        *string  `toml:"osrel_path,omitempty"`
	Uname                *string  `toml:"uname,omitempty"`
	CmdlinePath          *string  `toml:"cmdline_path,omitempty"`
	ExtraCmdline         *string  `toml:"extra_cmdline,omitempty"`
	MicrocodePaths       []string `toml:"microcode_paths,omitempty"`
	InitrdPaths          []string `toml:"initrd_paths,omitempty"`
	VmlinuzPath          *string  `toml:"vmlinuz_path,omitempty"`
	SplashPath           *string  `toml:"splash_path,omitempty"`
	Assembler            *string  `toml:"assembler,omitempty"`
	AssignVirtualAddress *bool    `toml:"assign_virtual_address,omitempty"`
}

// Load reads the global configuration file.
//
// A missing file is not an error, the defaults are used in that case.
func Load(path string, logger *zap.Logger) (*Config, error) {
	var cfg Config

	hash, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("config file not found, using defaults", zap.String("path", path))

			return &Config{}, nil
		}

		return nil, err
	}

	logger.Debug("loaded config", zap.String("path", path), zap.String("sha256", hex.EncodeToString(hash)))

	return &cfg, nil
}

// LoadKernel reads the kernel config override from configDir.
//
// A missing file yields an empty override; an invalid file is reported and ignored.
func LoadKernel(configDir, name string, logger *zap.Logger) Kernel {
	var override Kernel

	path := filepath.Join(configDir, name+".toml")

	hash, err := toml.DecodeFile(path, &override)

	switch {
	case err == nil:
		logger.Info("using custom kernel config file", zap.String("kernel", name), zap.String("path", path), zap.String("sha256", hex.EncodeToString(hash)))

		return override
	case errors.Is(err, fs.ErrNotExist):
		return Kernel{}
	default:
		logger.Warn("cannot parse custom kernel config file, ignoring it", zap.String("kernel", name), zap.Error(err))

		return Kernel{}
	}
}
