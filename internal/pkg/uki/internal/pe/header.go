// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pe

import "fmt"

// Variant is the optional header flavour, identified by its magic.
type Variant uint16

// Supported optional header variants.
const (
	PE32     Variant = 0x10b
	PE32Plus Variant = 0x20b
)

// String implements fmt.Stringer.
func (v Variant) String() string {
	switch v {
	case PE32:
		return "PE32"
	case PE32Plus:
		return "PE32+"
	default:
		return fmt.Sprintf("Variant(%#x)", uint16(v))
	}
}

// Fixed layout of the headers in front of the optional header.
const (
	dosHeaderSize      = 0x40
	peOffsetField      = 0x3c
	peSignatureSize    = 4
	fileHeaderSize     = 20
	sectionHeaderSize  = 40
	sectionNameSize    = 8
	certificateAlign   = 8
	maxNumberOfSection = 0xffff
)

// Offsets inside the COFF file header.
const (
	fileHeaderNumberOfSections     = 2
	fileHeaderSizeOfOptionalHeader = 16
)

type field int

const (
	fieldSizeOfInitializedData field = iota
	fieldSectionAlignment
	fieldFileAlignment
	fieldSizeOfImage
	fieldSizeOfHeaders
	fieldCheckSum
	fieldNumberOfRvaAndSizes
	fieldDataDirectory
)

// optionalHeader captures the differences between PE32 and PE32+ optional headers.
//
// Offsets are relative to the start of the optional header; values are always accessed
// through the image buffer, so no references survive its reallocation.
type optionalHeader interface {
	Variant() Variant
	offset(f field) int
}

type optionalHeader32 struct{}

var layout32 = [...]int{
	fieldSizeOfInitializedData: 8,
	fieldSectionAlignment:      32,
	fieldFileAlignment:         36,
	fieldSizeOfImage:           56,
	fieldSizeOfHeaders:         60,
	fieldCheckSum:              64,
	fieldNumberOfRvaAndSizes:   92,
	fieldDataDirectory:         96,
}

func (optionalHeader32) Variant() Variant { return PE32 }

func (optionalHeader32) offset(f field) int { return layout32[f] }

type optionalHeader64 struct{}

var layout64 = [...]int{
	fieldSizeOfInitializedData: 8,
	fieldSectionAlignment:      32,
	fieldFileAlignment:         36,
	fieldSizeOfImage:           56,
	fieldSizeOfHeaders:         60,
	fieldCheckSum:              64,
	fieldNumberOfRvaAndSizes:   108,
	fieldDataDirectory:         112,
}

func (optionalHeader64) Variant() Variant { return PE32Plus }

func (optionalHeader64) offset(f field) int { return layout64[f] }

func newOptionalHeader(magic uint16) (optionalHeader, error) {
	switch Variant(magic) {
	case PE32:
		return optionalHeader32{}, nil
	case PE32Plus:
		return optionalHeader64{}, nil
	default:
		return nil, fmt.Errorf("%w: magic %#x", ErrUnsupportedVariant, magic)
	}
}

// SectionHeader describes a single entry of the section table.
type SectionHeader struct {
	Name            string
	VirtualSize     uint32
	VirtualAddress  uint32
	Size            uint32
	Offset          uint32
	Characteristics uint32
}

// End returns the end of the raw section data in the file.
func (s SectionHeader) End() uint64 {
	return uint64(s.Offset) + uint64(s.Size)
}

// VirtualEnd returns the end of the section in memory.
func (s SectionHeader) VirtualEnd() uint64 {
	size := s.VirtualSize
	if size == 0 {
		size = s.Size
	}

	return uint64(s.VirtualAddress) + uint64(size)
}
