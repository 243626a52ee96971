// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package uki

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/siderolabs/uki-manager/internal/pkg/zboot"
)

// https://www.kernel.org/doc/html/latest/arch/x86/boot.html#the-real-mode-kernel-header
const (
	bzImageHeaderMagicOffset   = 0x202
	bzImageVersionOffset       = 0x20e
	bzImageVersionPointerBase  = 0x200
	bzImageVersionMaxLength    = 256
	kernelBannerPrefix         = "Linux version "
	uncompressedKernelMaxBytes = 256 << 20
)

var errNoVersion = errors.New("kernel version not found")

// DiscoverKernelVersion reads the kernel version string from the kernel image.
//
// x86 bzImage carries a pointer to the version in the setup header, EFI zboot images
// are decompressed and searched for the kernel banner.
func DiscoverKernelVersion(kernelPath string) (string, error) {
	f, err := os.Open(kernelPath)
	if err != nil {
		return "", err
	}

	defer f.Close() //nolint:errcheck

	version, err := bzImageVersion(f)
	if err == nil || !errors.Is(err, errNoVersion) {
		return version, err
	}

	var r io.Reader = f

	z, err := zboot.NewReader(f)

	switch {
	case err == nil:
		defer z.Close() //nolint:errcheck

		r = z
	case errors.Is(err, zboot.ErrNotZboot):
		// plain (uncompressed) image, search the banner as is
	default:
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(r, uncompressedKernelMaxBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read kernel image: %w", err)
	}

	return bannerVersion(data)
}

func bzImageVersion(r io.ReaderAt) (string, error) {
	var header [bzImageVersionOffset + 2]byte

	if _, err := r.ReadAt(header[:], 0); err != nil {
		if errors.Is(err, io.EOF) {
			return "", errNoVersion
		}

		return "", err
	}

	if !bytes.Equal(header[bzImageHeaderMagicOffset:bzImageHeaderMagicOffset+4], []byte("HdrS")) {
		return "", errNoVersion
	}

	offset := int64(binary.LittleEndian.Uint16(header[bzImageVersionOffset:])) + bzImageVersionPointerBase

	buf := make([]byte, bzImageVersionMaxLength)

	n, err := r.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	buf, _, _ = bytes.Cut(buf[:n], []byte{0})

	fields := bytes.Fields(buf)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty version string in bzImage header", errNoVersion)
	}

	return string(fields[0]), nil
}

func bannerVersion(data []byte) (string, error) {
	for {
		idx := bytes.Index(data, []byte(kernelBannerPrefix))
		if idx < 0 {
			return "", errNoVersion
		}

		data = data[idx+len(kernelBannerPrefix):]

		version, _, _ := bytes.Cut(data, []byte(" "))

		// format strings like "Linux version %s" are not what we're looking for
		if len(version) > 0 && version[0] >= '0' && version[0] <= '9' {
			return string(version), nil
		}
	}
}
