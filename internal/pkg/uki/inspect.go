// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package uki

import (
	"bytes"
	"os"
	"strings"

	"github.com/hashicorp/go-envparse"

	"github.com/siderolabs/uki-manager/internal/pkg/uki/internal/pe"
)

// SectionInfo describes a section of an inspected image.
type SectionInfo struct {
	Name            string
	VirtualSize     uint32
	VirtualAddress  uint32
	Size            uint32
	Offset          uint32
	Characteristics uint32
}

// Info is the summary of a PE image.
type Info struct {
	Variant string

	FileAlignment         uint32
	SectionAlignment      uint32
	SizeOfHeaders         uint32
	SizeOfInitializedData uint32
	SizeOfImage           uint32

	StoredChecksum   uint32
	ComputedChecksum uint32

	// Signed is set if the image carries an Authenticode certificate table.
	Signed bool

	Sections []SectionInfo

	OSRelease OSRelease
	Uname     string
	Cmdline   string
}

// ChecksumValid reports whether the stored checksum matches the image contents.
//
// Checksums of signed images are not verified, as the certificate table is not loaded.
func (info *Info) ChecksumValid() bool {
	return !info.Signed && info.StoredChecksum == info.ComputedChecksum
}

// Inspect loads the PE image at path and summarizes it.
func Inspect(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	img, err := pe.Load(data)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Variant:               img.Variant().String(),
		FileAlignment:         img.FileAlignment(),
		SectionAlignment:      img.SectionAlignment(),
		SizeOfHeaders:         img.SizeOfHeaders(),
		SizeOfInitializedData: img.SizeOfInitializedData(),
		SizeOfImage:           img.SizeOfImage(),
		StoredChecksum:        img.StoredChecksum(),
		ComputedChecksum:      img.ComputeChecksum(),
		Signed:                img.SignatureStripped(),
	}

	for _, s := range img.Sections() {
		info.Sections = append(info.Sections, SectionInfo{
			Name:            s.Name,
			VirtualSize:     s.VirtualSize,
			VirtualAddress:  s.VirtualAddress,
			Size:            s.Size,
			Offset:          s.Offset,
			Characteristics: s.Characteristics,
		})
	}

	if s, ok := img.Section(SectionOSRel.String()); ok {
		if values, err := envparse.Parse(bytes.NewReader(img.SectionData(s))); err == nil {
			info.OSRelease = OSRelease(values)
		}
	}

	if s, ok := img.Section(SectionUname.String()); ok {
		info.Uname = strings.TrimRight(string(img.SectionData(s)), "\x00\n")
	}

	if s, ok := img.Section(SectionCmdline.String()); ok {
		info.Cmdline = strings.TrimRight(string(img.SectionData(s)), "\x00\n")
	}

	return info, nil
}
