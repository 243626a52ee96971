// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package zboot provides access to the compressed kernel held by an EFI zboot image.
package zboot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// ErrNotZboot is returned when the image doesn't carry a zboot header.
var ErrNotZboot = errors.New("not a zboot image")

// Compression types as recorded by the kernel build in the zboot header.
const (
	CompressionGzip  = "gzip"
	CompressionLZ4   = "lz4"
	CompressionLZMA  = "lzma"
	CompressionLZO   = "lzo"
	CompressionXZ    = "xzkern"
	CompressionZstd  = "zstd22"
	compressionField = 0x18
	headerSize       = 0x3c
)

// Header is the zboot header at the start of the PE image.
//
// https://git.kernel.org/pub/scm/linux/kernel/git/stable/linux.git/tree/drivers/firmware/efi/libstub/zboot-header.S
type Header struct {
	PayloadOffset uint32
	PayloadSize   uint32
	Compression   string
}

// ReadHeader reads the zboot header from r.
func ReadHeader(r io.ReaderAt) (Header, error) {
	var data [headerSize]byte

	if _, err := r.ReadAt(data[:], 0); err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, ErrNotZboot
		}

		return Header{}, err
	}

	if !bytes.Equal(data[:2], []byte("MZ")) || !bytes.Equal(data[4:8], []byte("zimg")) {
		return Header{}, ErrNotZboot
	}

	compression, _, _ := bytes.Cut(data[compressionField:], []byte{0})

	return Header{
		PayloadOffset: binary.LittleEndian.Uint32(data[8:12]),
		PayloadSize:   binary.LittleEndian.Uint32(data[12:16]),
		Compression:   string(compression),
	}, nil
}

// NewReader returns a reader of the decompressed kernel image.
func NewReader(r io.ReaderAt) (io.ReadCloser, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	payload := io.NewSectionReader(r, int64(header.PayloadOffset), int64(header.PayloadSize))

	return decompress(header.Compression, payload)
}

func decompress(compression string, payload io.Reader) (io.ReadCloser, error) {
	switch compression {
	case CompressionGzip:
		z, err := gzip.NewReader(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}

		return z, nil
	case CompressionZstd:
		z, err := zstd.NewReader(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}

		return z.IOReadCloser(), nil
	case CompressionXZ:
		z, err := xz.NewReader(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}

		return io.NopCloser(z), nil
	case CompressionLZMA:
		z, err := lzma.NewReader(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to create lzma reader: %w", err)
		}

		return io.NopCloser(z), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(payload)), nil
	default:
		return nil, fmt.Errorf("unsupported zboot compression %q", compression)
	}
}
