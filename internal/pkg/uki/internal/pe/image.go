// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package pe implements in-place assembly of PE/COFF (UEFI) executables.
//
// An Image is loaded from the stub bytes, new sections are appended to it,
// and it is finalized (SizeOfImage, CheckSum) before being written out.
// Existing sections are never moved, resized or removed.
package pe

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"math/bits"
	"slices"
	"strings"
)

var (
	dosSignature = []byte("MZ")
	peSignature  = []byte("PE\x00\x00")
)

// Image is a PE executable held in memory.
//
// The buffer is owned by the Image; section headers mirror the section table in the buffer.
type Image struct {
	buf []byte

	fileHeaderOffset     int
	optionalHeaderOffset int
	sectionTableOffset   int

	header   optionalHeader
	sections []SectionHeader

	signatureStripped bool
	finalized         bool
}

// Load parses the PE headers of data.
//
// The data is copied, the caller keeps ownership of the slice.
//
//nolint:gocyclo
func Load(data []byte) (*Image, error) {
	if len(data) < dosHeaderSize || !bytes.Equal(data[:len(dosSignature)], dosSignature) {
		return nil, fmt.Errorf("%w: missing MZ signature", ErrInvalidFormat)
	}

	peOffset := int(binary.LittleEndian.Uint32(data[peOffsetField:]))

	if peOffset < dosHeaderSize || peOffset > len(data)-peSignatureSize-fileHeaderSize {
		return nil, fmt.Errorf("%w: PE header offset %#x is out of bounds", ErrInvalidFormat, peOffset)
	}

	if !bytes.Equal(data[peOffset:peOffset+peSignatureSize], peSignature) {
		return nil, fmt.Errorf("%w: missing PE signature", ErrInvalidFormat)
	}

	img := &Image{
		buf:              slices.Clone(data),
		fileHeaderOffset: peOffset + peSignatureSize,
	}

	img.optionalHeaderOffset = img.fileHeaderOffset + fileHeaderSize

	sizeOfOptionalHeader := int(img.u16(img.fileHeaderOffset + fileHeaderSizeOfOptionalHeader))
	img.sectionTableOffset = img.optionalHeaderOffset + sizeOfOptionalHeader

	if sizeOfOptionalHeader < 2 || img.sectionTableOffset > len(img.buf) {
		return nil, fmt.Errorf("%w: truncated optional header", ErrInvalidFormat)
	}

	header, err := newOptionalHeader(img.u16(img.optionalHeaderOffset))
	if err != nil {
		return nil, err
	}

	img.header = header

	if sizeOfOptionalHeader < header.offset(fieldDataDirectory) {
		return nil, fmt.Errorf("%w: optional header is %d bytes, expected at least %d", ErrInvalidFormat, sizeOfOptionalHeader, header.offset(fieldDataDirectory))
	}

	for _, alignment := range []uint32{img.FileAlignment(), img.SectionAlignment()} {
		if alignment == 0 || bits.OnesCount32(alignment) != 1 {
			return nil, fmt.Errorf("%w: %w (%#x)", ErrInvalidFormat, ErrInvalidAlignment, alignment)
		}
	}

	if int(img.SizeOfHeaders()) > len(img.buf) || int(img.SizeOfHeaders()) < img.sectionTableOffset {
		return nil, fmt.Errorf("%w: SizeOfHeaders %#x is out of bounds", ErrInvalidFormat, img.SizeOfHeaders())
	}

	numberOfSections := int(img.u16(img.fileHeaderOffset + fileHeaderNumberOfSections))

	if img.sectionTableOffset+numberOfSections*sectionHeaderSize > int(img.SizeOfHeaders()) {
		return nil, fmt.Errorf("%w: section table overflows the headers", ErrInvalidFormat)
	}

	img.sections = make([]SectionHeader, 0, numberOfSections)

	for i := range numberOfSections {
		section, err := img.readSectionHeader(i)
		if err != nil {
			return nil, err
		}

		if section.Size > 0 && section.End() > uint64(len(img.buf)) {
			return nil, fmt.Errorf("%w: section %q data is out of bounds", ErrInvalidFormat, section.Name)
		}

		img.sections = append(img.sections, section)
	}

	if err = img.stripCertificateTable(); err != nil {
		return nil, err
	}

	return img, nil
}

func (img *Image) readSectionHeader(i int) (SectionHeader, error) {
	var raw pe.SectionHeader32

	offset := img.sectionTableOffset + i*sectionHeaderSize

	if _, err := binary.Decode(img.buf[offset:offset+sectionHeaderSize], binary.LittleEndian, &raw); err != nil {
		return SectionHeader{}, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	return SectionHeader{
		Name:            strings.TrimRight(string(raw.Name[:]), "\x00"),
		VirtualSize:     raw.VirtualSize,
		VirtualAddress:  raw.VirtualAddress,
		Size:            raw.SizeOfRawData,
		Offset:          raw.PointerToRawData,
		Characteristics: raw.Characteristics,
	}, nil
}

// stripCertificateTable drops an Authenticode certificate table trailing the image.
//
// Appending sections invalidates the signature anyway, and the new section data
// would otherwise be placed after the table.
func (img *Image) stripCertificateTable() error {
	offset, size, ok := img.dataDirectory(pe.IMAGE_DIRECTORY_ENTRY_SECURITY)
	if !ok || size == 0 {
		return nil
	}

	end := uint64(offset) + uint64(size)

	if uint64(offset) < img.sectionsEnd() || end > uint64(len(img.buf)) {
		return fmt.Errorf("%w: certificate table at %#x overlaps section data", ErrInvalidFormat, offset)
	}

	// the table is 8-byte aligned, anything after the padding is not ours to drop
	if padded := (end + certificateAlign - 1) &^ (certificateAlign - 1); padded < uint64(len(img.buf)) {
		return fmt.Errorf("%w: unexpected data after the certificate table", ErrInvalidFormat)
	}

	img.buf = img.buf[:offset]
	img.setDataDirectory(pe.IMAGE_DIRECTORY_ENTRY_SECURITY, 0, 0)
	img.signatureStripped = true

	return nil
}

func (img *Image) dataDirectory(index int) (offset, size uint32, ok bool) {
	if uint32(index) >= img.u32(img.fieldOffset(fieldNumberOfRvaAndSizes)) {
		return 0, 0, false
	}

	entry := img.fieldOffset(fieldDataDirectory) + index*8

	if entry+8 > img.sectionTableOffset {
		return 0, 0, false
	}

	return img.u32(entry), img.u32(entry + 4), true
}

func (img *Image) setDataDirectory(index int, offset, size uint32) {
	entry := img.fieldOffset(fieldDataDirectory) + index*8

	img.putU32(entry, offset)
	img.putU32(entry+4, size)
}

// sectionsEnd is the end of the last raw section data, or of the headers if there is none.
func (img *Image) sectionsEnd() uint64 {
	end := uint64(img.SizeOfHeaders())

	for _, section := range img.sections {
		if section.Size > 0 {
			end = max(end, section.End())
		}
	}

	return end
}

// firstSectionOffset is the lowest raw data offset; the section table can't grow past it.
func (img *Image) firstSectionOffset() uint64 {
	first := uint64(img.SizeOfHeaders())

	for _, section := range img.sections {
		if section.Size > 0 {
			first = min(first, uint64(section.Offset))
		}
	}

	return first
}

func (img *Image) u16(offset int) uint16 {
	return binary.LittleEndian.Uint16(img.buf[offset:])
}

func (img *Image) u32(offset int) uint32 {
	return binary.LittleEndian.Uint32(img.buf[offset:])
}

func (img *Image) putU16(offset int, v uint16) {
	binary.LittleEndian.PutUint16(img.buf[offset:], v)
}

func (img *Image) putU32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(img.buf[offset:], v)
}

func (img *Image) fieldOffset(f field) int {
	return img.optionalHeaderOffset + img.header.offset(f)
}

// Variant returns the optional header variant.
func (img *Image) Variant() Variant {
	return img.header.Variant()
}

// FileAlignment returns the alignment of raw section data in the file.
func (img *Image) FileAlignment() uint32 {
	return img.u32(img.fieldOffset(fieldFileAlignment))
}

// SectionAlignment returns the alignment of sections in memory.
func (img *Image) SectionAlignment() uint32 {
	return img.u32(img.fieldOffset(fieldSectionAlignment))
}

// SizeOfHeaders returns the space reserved for the headers, including the section table.
func (img *Image) SizeOfHeaders() uint32 {
	return img.u32(img.fieldOffset(fieldSizeOfHeaders))
}

// SizeOfInitializedData returns the aggregate size of initialized data sections.
func (img *Image) SizeOfInitializedData() uint32 {
	return img.u32(img.fieldOffset(fieldSizeOfInitializedData))
}

func (img *Image) setSizeOfInitializedData(v uint32) {
	img.putU32(img.fieldOffset(fieldSizeOfInitializedData), v)
}

// SizeOfImage returns the size of the image in memory.
func (img *Image) SizeOfImage() uint32 {
	return img.u32(img.fieldOffset(fieldSizeOfImage))
}

func (img *Image) setSizeOfImage(v uint32) {
	img.putU32(img.fieldOffset(fieldSizeOfImage), v)
}

// StoredChecksum returns the value of the CheckSum field.
func (img *Image) StoredChecksum() uint32 {
	return img.u32(img.fieldOffset(fieldCheckSum))
}

func (img *Image) setChecksum(v uint32) {
	img.putU32(img.fieldOffset(fieldCheckSum), v)
}

// ComputeChecksum computes the checksum of the image as if the CheckSum field was zero.
func (img *Image) ComputeChecksum() uint32 {
	return checksum(img.buf, img.fieldOffset(fieldCheckSum))
}

// NumSections returns the number of sections in the section table.
func (img *Image) NumSections() int {
	return len(img.sections)
}

// Sections returns a copy of the section table.
func (img *Image) Sections() []SectionHeader {
	return slices.Clone(img.sections)
}

// Section returns the first section with the given name.
func (img *Image) Section(name string) (SectionHeader, bool) {
	idx := slices.IndexFunc(img.sections, func(s SectionHeader) bool { return s.Name == name })
	if idx < 0 {
		return SectionHeader{}, false
	}

	return img.sections[idx], true
}

// SectionData returns the first VirtualSize bytes of the section data.
func (img *Image) SectionData(s SectionHeader) []byte {
	size := min(s.VirtualSize, s.Size)
	if s.VirtualSize == 0 {
		size = s.Size
	}

	if size == 0 || uint64(s.Offset)+uint64(size) > uint64(len(img.buf)) {
		return nil
	}

	return img.buf[s.Offset : s.Offset+size]
}

// EndOfRawData returns the current end of the file data; new sections are placed past it.
func (img *Image) EndOfRawData() uint64 {
	return uint64(len(img.buf))
}

// SignatureStripped reports whether Load dropped an Authenticode signature.
func (img *Image) SignatureStripped() bool {
	return img.signatureStripped
}
