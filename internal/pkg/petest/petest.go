// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package petest generates synthetic PE stubs for tests.
package petest

import (
	"debug/pe"
	"encoding/binary"
	"fmt"
)

// Options describes the generated stub.
type Options struct {
	// PE32 selects the 32-bit optional header, PE32+ otherwise.
	PE32 bool
	// Sections is the number of sections in the stub.
	Sections int
	// FileAlignment defaults to 512.
	FileAlignment uint32
	// SectionAlignment defaults to 4096.
	SectionAlignment uint32
	// HeaderSlots is the number of section table entries the headers must have room for;
	// the actual capacity might be larger due to FileAlignment rounding.
	HeaderSlots int
	// Certificate, if set, is appended as an Authenticode certificate table.
	Certificate []byte
}

// Stub is a generated PE image.
type Stub struct {
	Bytes []byte

	SectionTableOffset int
	SizeOfHeaders      uint32
	SizeOfInitialized  uint32
}

// Capacity returns the number of section table entries which fit into the headers.
func (s *Stub) Capacity() int {
	return (int(s.SizeOfHeaders) - s.SectionTableOffset) / 40
}

const (
	peOffset            = 0x80
	sectionVirtualSize  = 100
	dataDirectoryCount  = 16
	securityDirectory   = 4
	subsystemEFIApp     = 10
	optionalHeader32Len = 96 + dataDirectoryCount*8
	optionalHeader64Len = 112 + dataDirectoryCount*8
)

// NewStub builds a minimal valid PE image.
//
// The first section is ".text" (code), the rest are ".data<N>" (initialized data). Each section
// has one FileAlignment block of raw data filled with its 1-based index, and a virtual size of 100.
//
//nolint:gocyclo
func NewStub(opts Options) *Stub {
	if opts.FileAlignment == 0 {
		opts.FileAlignment = 512
	}

	if opts.SectionAlignment == 0 {
		opts.SectionAlignment = 4096
	}

	if opts.HeaderSlots < opts.Sections {
		opts.HeaderSlots = opts.Sections
	}

	optionalHeaderLen := optionalHeader64Len
	if opts.PE32 {
		optionalHeaderLen = optionalHeader32Len
	}

	tableOffset := peOffset + 4 + 20 + optionalHeaderLen
	sizeOfHeaders := alignUp(uint32(tableOffset+opts.HeaderSlots*40), opts.FileAlignment)

	size := sizeOfHeaders + uint32(opts.Sections)*opts.FileAlignment

	buf := make([]byte, size)

	// DOS header
	copy(buf, "MZ")
	binary.LittleEndian.PutUint32(buf[0x3c:], peOffset)

	// PE signature and COFF file header
	copy(buf[peOffset:], "PE\x00\x00")

	fileHeader := buf[peOffset+4:]

	machine, characteristics := uint16(pe.IMAGE_FILE_MACHINE_AMD64), uint16(pe.IMAGE_FILE_EXECUTABLE_IMAGE|pe.IMAGE_FILE_LARGE_ADDRESS_AWARE)
	if opts.PE32 {
		machine, characteristics = pe.IMAGE_FILE_MACHINE_I386, pe.IMAGE_FILE_EXECUTABLE_IMAGE|pe.IMAGE_FILE_32BIT_MACHINE
	}

	binary.LittleEndian.PutUint16(fileHeader[0:], machine)
	binary.LittleEndian.PutUint16(fileHeader[2:], uint16(opts.Sections))
	binary.LittleEndian.PutUint16(fileHeader[16:], uint16(optionalHeaderLen))
	binary.LittleEndian.PutUint16(fileHeader[18:], characteristics)

	// optional header
	optionalHeader := buf[peOffset+24:]

	var sizeOfInitialized uint32

	for i := 1; i < opts.Sections; i++ {
		sizeOfInitialized += opts.FileAlignment
	}

	sizeOfImage := alignUp(sizeOfHeaders, opts.SectionAlignment) + uint32(opts.Sections)*opts.SectionAlignment

	if opts.PE32 {
		binary.LittleEndian.PutUint16(optionalHeader[0:], 0x10b)
		binary.LittleEndian.PutUint32(optionalHeader[28:], 0x400000)
		binary.LittleEndian.PutUint32(optionalHeader[92:], dataDirectoryCount)
	} else {
		binary.LittleEndian.PutUint16(optionalHeader[0:], 0x20b)
		binary.LittleEndian.PutUint64(optionalHeader[24:], 0x140000000)
		binary.LittleEndian.PutUint32(optionalHeader[108:], dataDirectoryCount)
	}

	if opts.Sections > 0 {
		binary.LittleEndian.PutUint32(optionalHeader[4:], opts.FileAlignment)
		binary.LittleEndian.PutUint32(optionalHeader[16:], opts.SectionAlignment)
		binary.LittleEndian.PutUint32(optionalHeader[20:], opts.SectionAlignment)
	}

	binary.LittleEndian.PutUint32(optionalHeader[8:], sizeOfInitialized)
	binary.LittleEndian.PutUint32(optionalHeader[32:], opts.SectionAlignment)
	binary.LittleEndian.PutUint32(optionalHeader[36:], opts.FileAlignment)
	binary.LittleEndian.PutUint32(optionalHeader[56:], sizeOfImage)
	binary.LittleEndian.PutUint32(optionalHeader[60:], sizeOfHeaders)
	binary.LittleEndian.PutUint16(optionalHeader[68:], subsystemEFIApp)

	// section table and data
	for i := range opts.Sections {
		entry := buf[tableOffset+i*40:]

		name, flags := ".text", uint32(pe.IMAGE_SCN_CNT_CODE|pe.IMAGE_SCN_MEM_EXECUTE|pe.IMAGE_SCN_MEM_READ)
		if i > 0 {
			name, flags = fmt.Sprintf(".data%d", i), uint32(pe.IMAGE_SCN_CNT_INITIALIZED_DATA|pe.IMAGE_SCN_MEM_READ|pe.IMAGE_SCN_MEM_WRITE)
		}

		rawOffset := sizeOfHeaders + uint32(i)*opts.FileAlignment

		copy(entry[0:8], name)
		binary.LittleEndian.PutUint32(entry[8:], sectionVirtualSize)
		binary.LittleEndian.PutUint32(entry[12:], alignUp(sizeOfHeaders, opts.SectionAlignment)+uint32(i)*opts.SectionAlignment)
		binary.LittleEndian.PutUint32(entry[16:], opts.FileAlignment)
		binary.LittleEndian.PutUint32(entry[20:], rawOffset)
		binary.LittleEndian.PutUint32(entry[36:], flags)

		for j := range uint32(sectionVirtualSize) {
			buf[rawOffset+j] = byte(i + 1)
		}
	}

	if opts.Certificate != nil {
		dataDirectory := peOffset + 24 + optionalHeaderLen - dataDirectoryCount*8 + securityDirectory*8

		binary.LittleEndian.PutUint32(buf[dataDirectory:], uint32(len(buf)))
		binary.LittleEndian.PutUint32(buf[dataDirectory+4:], uint32(len(opts.Certificate)))

		buf = append(buf, opts.Certificate...)
	}

	return &Stub{
		Bytes:              buf,
		SectionTableOffset: tableOffset,
		SizeOfHeaders:      sizeOfHeaders,
		SizeOfInitialized:  sizeOfInitialized,
	}
}

func alignUp(v, alignment uint32) uint32 {
	return (v + alignment - 1) &^ (alignment - 1)
}
