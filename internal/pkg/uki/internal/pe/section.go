// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pe

import (
	"debug/pe"
	"encoding/binary"
	"slices"
)

// SectionCharacteristics are the flags of every appended section.
const SectionCharacteristics = pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ

// SectionOption configures AddSection.
type SectionOption func(*sectionOptions)

type sectionOptions struct {
	assignVirtualAddress bool
}

// WithVirtualAddress places the section in memory right after the last section
// (aligned to SectionAlignment) instead of leaving its VirtualAddress at zero.
func WithVirtualAddress() SectionOption {
	return func(o *sectionOptions) {
		o.assignVirtualAddress = true
	}
}

// AddSection appends a new initialized-data section holding payload.
//
// The raw data is placed at the end of the file aligned to FileAlignment, and
// zero-padded up to FileAlignment. SizeOfInitializedData is updated right away.
// On error the image is left unchanged.
//
//nolint:gocyclo
func (img *Image) AddSection(name string, payload []byte, opts ...SectionOption) error {
	var options sectionOptions

	for _, o := range opts {
		o(&options)
	}

	if len(name) > sectionNameSize {
		return sectionError(name, ErrNameTooLong)
	}

	if !validName(name) {
		return sectionError(name, ErrInvalidName)
	}

	if uint64(len(payload)) > maxUint32 {
		return sectionError(name, ErrPayloadTooLarge)
	}

	virtualSize := uint32(len(payload))

	rawSize, err := alignUp32(uint64(virtualSize), img.FileAlignment())
	if err != nil {
		return sectionError(name, err)
	}

	rawOffset, err := alignUp32(img.EndOfRawData(), img.FileAlignment())
	if err != nil {
		return sectionError(name, err)
	}

	if uint64(rawOffset)+uint64(rawSize) > maxUint32 {
		return sectionError(name, ErrPayloadTooLarge)
	}

	initializedData := uint64(img.SizeOfInitializedData()) + uint64(rawSize)
	if initializedData > maxUint32 {
		return sectionError(name, ErrPayloadTooLarge)
	}

	entryOffset := img.sectionTableOffset + len(img.sections)*sectionHeaderSize

	if err = img.checkHeaderSpace(entryOffset); err != nil {
		return sectionError(name, err)
	}

	var virtualAddress uint32

	if options.assignVirtualAddress {
		if virtualAddress, err = img.nextVirtualAddress(); err != nil {
			return sectionError(name, err)
		}

		if uint64(virtualAddress)+uint64(virtualSize) > maxUint32 {
			return sectionError(name, ErrPayloadTooLarge)
		}
	}

	section := SectionHeader{
		Name:            name,
		VirtualSize:     virtualSize,
		VirtualAddress:  virtualAddress,
		Size:            rawSize,
		Offset:          rawOffset,
		Characteristics: SectionCharacteristics,
	}

	// no failures past this point
	img.writeSectionHeader(entryOffset, section)
	img.sections = append(img.sections, section)
	img.putU16(img.fileHeaderOffset+fileHeaderNumberOfSections, uint16(len(img.sections)))

	oldLen, end := len(img.buf), int(section.End())

	img.buf = slices.Grow(img.buf, end-oldLen)[:end]
	clear(img.buf[oldLen:])
	copy(img.buf[rawOffset:], payload)

	img.setSizeOfInitializedData(uint32(initializedData))
	img.finalized = false

	return nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}

	for i := range len(name) {
		if name[i] == 0 || name[i] > 0x7f {
			return false
		}
	}

	return true
}

// checkHeaderSpace verifies that a section table entry fits at offset.
func (img *Image) checkHeaderSpace(offset int) error {
	if len(img.sections) >= maxNumberOfSection {
		return ErrHeaderSpaceExhausted
	}

	end := uint64(offset) + sectionHeaderSize

	if end > uint64(img.SizeOfHeaders()) || end > img.firstSectionOffset() {
		return ErrHeaderSpaceExhausted
	}

	// the slot must be unused padding
	for _, b := range img.buf[offset:end] {
		if b != 0 {
			return ErrHeaderSpaceExhausted
		}
	}

	return nil
}

func (img *Image) nextVirtualAddress() (uint32, error) {
	end := uint64(img.SizeOfHeaders())

	for _, section := range img.sections {
		end = max(end, section.VirtualEnd())
	}

	return alignUp32(end, img.SectionAlignment())
}

func (img *Image) writeSectionHeader(offset int, section SectionHeader) {
	raw := pe.SectionHeader32{
		VirtualSize:      section.VirtualSize,
		VirtualAddress:   section.VirtualAddress,
		SizeOfRawData:    section.Size,
		PointerToRawData: section.Offset,
		Characteristics:  section.Characteristics,
	}

	copy(raw.Name[:], section.Name)

	// the size is fixed and the target is a sized slice, encoding can't fail
	binary.Encode(img.buf[offset:offset+sectionHeaderSize], binary.LittleEndian, &raw) //nolint:errcheck
}
