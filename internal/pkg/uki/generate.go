// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package uki

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/siderolabs/gen/xslices"
	"go.uber.org/zap"
)

func (builder *Builder) generateOSRel() error {
	if builder.OSReleasePath == "" {
		return errors.New("os-release path is not set")
	}

	builder.sections = append(builder.sections,
		section{
			Name:  SectionOSRel,
			Paths: []string{builder.OSReleasePath},
		},
	)

	return nil
}

func (builder *Builder) generateUname() error {
	kernelVersion := builder.Uname

	if kernelVersion == "" {
		var err error

		// it is not always possible to get the kernel version from the kernel image
		kernelVersion, err = DiscoverKernelVersion(builder.KernelPath)
		if err != nil {
			builder.logger().Warn("kernel version not found, skipping .uname", zap.String("kernel", builder.KernelPath), zap.Error(err))

			return nil
		}
	}

	builder.sections = append(builder.sections,
		section{
			Name: SectionUname,
			Data: []byte(kernelVersion),
		},
	)

	return nil
}

func (builder *Builder) generateCmdline() error {
	if builder.Cmdline == "" {
		builder.logger().Warn("kernel cmdline is empty, skipping .cmdline")

		return nil
	}

	builder.sections = append(builder.sections,
		section{
			Name: SectionCmdline,
			Data: []byte(builder.Cmdline),
		},
	)

	return nil
}

func (builder *Builder) generateSplash() error {
	if builder.SplashPath == "" {
		return nil
	}

	builder.sections = append(builder.sections,
		section{
			Name:  SectionSplash,
			Paths: []string{builder.SplashPath},
		},
	)

	return nil
}

// generateInitrd concatenates the microcode images which are present with the initrds.
func (builder *Builder) generateInitrd() error {
	microcode := xslices.Filter(builder.MicrocodePaths, func(path string) bool {
		_, err := os.Stat(path)

		return err == nil
	})

	for _, path := range builder.InitrdPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("initrd %q: %w", path, err)
		}
	}

	paths := slices.Concat(microcode, builder.InitrdPaths)
	if len(paths) == 0 {
		builder.logger().Warn("no initrd found, skipping .initrd")

		return nil
	}

	builder.sections = append(builder.sections,
		section{
			Name:  SectionInitrd,
			Paths: paths,
		},
	)

	return nil
}

func (builder *Builder) generateKernel() error {
	st, err := os.Stat(builder.KernelPath)
	if err != nil {
		return err
	}

	if !st.Mode().IsRegular() {
		return &fs.PathError{Op: "stat", Path: builder.KernelPath, Err: errors.New("not a regular file")}
	}

	builder.sections = append(builder.sections,
		section{
			Name:  SectionLinux,
			Paths: []string{builder.KernelPath},
		},
	)

	return nil
}
