// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pe

import (
	"context"
	"debug/pe"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/siderolabs/go-cmd/pkg/cmd"
)

// AssembleObjcopy is a helper function to assemble the PE file using objcopy.
//
// objcopy doesn't maintain the checksum, so its output is finalized natively before being written to dstPath.
func AssembleObjcopy(ctx context.Context, srcPath, dstPath string, sections []Section, opts ...Option) error {
	o := makeOptions(opts)

	baseVMA, sectionAlignment, err := objcopyBaseVMA(srcPath)
	if err != nil {
		return err
	}

	scratchDir, err := os.MkdirTemp("", "uki-objcopy")
	if err != nil {
		return err
	}

	defer os.RemoveAll(scratchDir) //nolint:errcheck

	args := make([]string, 0, len(sections)*4+2)

	for i, section := range sections {
		path, size, err := section.file(scratchDir, i)
		if err != nil {
			return err
		}

		args = append(args, "--add-section", fmt.Sprintf("%s=%s", section.Name, path))

		if o.virtualAddresses {
			args = append(args, "--change-section-vma", fmt.Sprintf("%s=0x%x", section.Name, baseVMA))

			baseVMA = (baseVMA + uint64(size) + sectionAlignment) &^ sectionAlignment
		}
	}

	out := filepath.Join(scratchDir, "uki.efi")

	args = append(args, srcPath, out)

	stdout, err := cmd.RunContext(ctx, "objcopy", args...)
	if err != nil {
		return err
	}

	if o.toolOutput != nil && stdout != "" {
		io.WriteString(o.toolOutput, stdout) //nolint:errcheck
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return err
	}

	img, err := Load(data)
	if err != nil {
		return err
	}

	return writeImage(img, dstPath)
}

// objcopyBaseVMA finds the first free VMA (absolute, including ImageBase) after the last section.
func objcopyBaseVMA(srcPath string) (baseVMA, sectionAlignment uint64, err error) {
	peFile, err := pe.Open(srcPath)
	if err != nil {
		return 0, 0, err
	}

	defer peFile.Close() //nolint:errcheck

	var imageBase uint64

	switch header := peFile.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		imageBase, sectionAlignment = header.ImageBase, uint64(header.SectionAlignment-1)
	case *pe.OptionalHeader32:
		imageBase, sectionAlignment = uint64(header.ImageBase), uint64(header.SectionAlignment-1)
	default:
		return 0, 0, fmt.Errorf("%w: failed to get optional header", ErrUnsupportedVariant)
	}

	var end uint64

	for _, section := range peFile.Sections {
		end = max(end, uint64(section.VirtualAddress)+uint64(section.VirtualSize))
	}

	baseVMA = (imageBase + end + sectionAlignment) &^ sectionAlignment

	return baseVMA, sectionAlignment, nil
}

// file returns a path holding the section payload, writing one to dir if needed.
func (s Section) file(dir string, index int) (string, int64, error) {
	if len(s.Paths) == 1 {
		st, err := os.Stat(s.Paths[0])
		if err != nil {
			return "", 0, sectionError(s.Name, err)
		}

		return s.Paths[0], st.Size(), nil
	}

	payload, err := s.Payload()
	if err != nil {
		return "", 0, err
	}

	path := filepath.Join(dir, fmt.Sprintf("section-%d", index))

	if err = os.WriteFile(path, payload, 0o600); err != nil {
		return "", 0, err
	}

	return path, int64(len(payload)), nil
}
