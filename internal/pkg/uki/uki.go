// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package uki creates the UKI file out of the sd-stub and other sections.
package uki

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/siderolabs/gen/xslices"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/siderolabs/uki-manager/internal/pkg/uki/internal/pe"
	"github.com/siderolabs/uki-manager/pkg/logging"
)

// Section is a name of a PE file section (UEFI binary).
type Section string

// String implements fmt.Stringer.
func (s Section) String() string {
	return string(s)
}

// List of well-known section names.
const (
	SectionLinux   Section = ".linux"
	SectionOSRel   Section = ".osrel"
	SectionCmdline Section = ".cmdline"
	SectionInitrd  Section = ".initrd"
	SectionSplash  Section = ".splash"
	SectionUname   Section = ".uname"
	SectionSBAT    Section = ".sbat"
)

// Assembler selects the implementation which appends the sections to the stub.
type Assembler string

// Supported assemblers.
const (
	AssemblerNative  Assembler = "native"
	AssemblerObjcopy Assembler = "objcopy"
)

// ParseAssembler validates the assembler name.
func ParseAssembler(s string) (Assembler, error) {
	switch a := Assembler(s); a {
	case AssemblerNative, AssemblerObjcopy:
		return a, nil
	case "":
		return AssemblerNative, nil
	default:
		return "", fmt.Errorf("unknown assembler %q, expected %q or %q", s, AssemblerNative, AssemblerObjcopy)
	}
}

// Builder is a UKI file builder.
type Builder struct {
	// Source options.
	SdStubPath     string
	OSReleasePath  string
	KernelPath     string
	MicrocodePaths []string
	InitrdPaths    []string
	SplashPath     string
	Cmdline        string
	// Uname is discovered from the kernel image if empty.
	Uname string

	// Output options.
	OutUKIPath string

	Assembler              Assembler
	AssignVirtualAddresses bool
	// DryRun plans the sections without writing anything.
	DryRun bool

	Logger *zap.Logger

	sections []section
}

type section struct {
	Name  Section
	Data  []byte
	Paths []string
}

// PlannedSection is a section which is going to be appended to the stub.
type PlannedSection struct {
	Name  Section
	Paths []string
	Size  int64
}

// Plan resolves the ordered list of sections without building the UKI.
func (builder *Builder) Plan() ([]PlannedSection, error) {
	if err := builder.plan(); err != nil {
		return nil, err
	}

	planned := make([]PlannedSection, 0, len(builder.sections))

	for _, s := range builder.sections {
		size := int64(len(s.Data))

		for _, path := range s.Paths {
			st, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("section %q: %w", s.Name, err)
			}

			size += st.Size()
		}

		planned = append(planned, PlannedSection{Name: s.Name, Paths: s.Paths, Size: size})
	}

	return planned, nil
}

// Build the UKI file.
//
// Build process is as follows:
//   - inspect the sd-stub
//   - collect the sections in the order systemd-stub expects them
//   - append them to the stub with the chosen assembler
//   - fix up the image size and checksum, and atomically replace the output.
func (builder *Builder) Build(ctx context.Context) error {
	logger := builder.logger()

	stub, err := Inspect(builder.SdStubPath)
	if err != nil {
		return fmt.Errorf("error inspecting sd-stub %q: %w", builder.SdStubPath, err)
	}

	logger.Debug("loaded sd-stub",
		zap.String("path", builder.SdStubPath),
		zap.String("variant", stub.Variant),
		zap.Int("sections", len(stub.Sections)),
	)

	if stub.Signed {
		logger.Warn("sd-stub is signed, the signature will be dropped", zap.String("path", builder.SdStubPath))
	}

	planned, err := builder.Plan()
	if err != nil {
		return err
	}

	for _, s := range planned {
		logger.Info("adding section",
			zap.Stringer("section", s.Name),
			zap.Strings("paths", s.Paths),
			zap.String("size", humanize.IBytes(uint64(s.Size))),
		)
	}

	if builder.DryRun {
		logger.Info("dry run, not writing", zap.String("output", builder.OutUKIPath))

		return nil
	}

	assemble := pe.AssembleNative
	if builder.Assembler == AssemblerObjcopy {
		assemble = pe.AssembleObjcopy
	}

	sections := xslices.Map(builder.sections, func(s section) pe.Section {
		return pe.Section{Name: s.Name.String(), Data: s.Data, Paths: s.Paths}
	})

	opts := []pe.Option{
		pe.WithVirtualAddresses(builder.AssignVirtualAddresses),
		pe.WithToolOutput(logging.NewWriter(logger, zapcore.DebugLevel)),
	}

	if err = assemble(ctx, builder.SdStubPath, builder.OutUKIPath, sections, opts...); err != nil {
		return fmt.Errorf("error assembling UKI %q: %w", builder.OutUKIPath, err)
	}

	if st, err := os.Stat(builder.OutUKIPath); err == nil {
		logger.Info("wrote UKI", zap.String("path", builder.OutUKIPath), zap.String("size", humanize.IBytes(uint64(st.Size()))))
	}

	return nil
}

func (builder *Builder) plan() error {
	builder.sections = nil

	for _, generateSection := range []func() error{
		builder.generateOSRel,
		builder.generateUname,
		builder.generateCmdline,
		builder.generateSplash,
		builder.generateInitrd,
		builder.generateKernel,
	} {
		if err := generateSection(); err != nil {
			return fmt.Errorf("error generating sections: %w", err)
		}
	}

	return nil
}

func (builder *Builder) logger() *zap.Logger {
	if builder.Logger == nil {
		return zap.NewNop()
	}

	return builder.Logger
}
