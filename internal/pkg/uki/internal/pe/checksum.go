// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pe

import "encoding/binary"

// Checksum computes the PE image checksum of data.
//
// The data is summed as little-endian 16-bit words (an odd trailing byte is zero-padded),
// the carries are folded back into the low 16 bits and the length of data is added.
// The caller must zero the CheckSum field beforehand, see Image.ComputeChecksum.
func Checksum(data []byte) uint32 {
	return checksum(data, -1)
}

// checksum computes the checksum treating the 4 bytes at skip as zero (skip < 0 disables this).
func checksum(data []byte, skip int) uint32 {
	// 64-bit accumulator keeps all carries for images well beyond 4 GiB, so folding once at the end
	// yields the same value as the end-around carry on every addition.
	var sum uint64

	n := len(data) &^ 1

	for i := 0; i < n; i += 2 {
		sum += uint64(binary.LittleEndian.Uint16(data[i:]))
	}

	if len(data)%2 == 1 {
		sum += uint64(data[len(data)-1])
	}

	if skip >= 0 {
		for i := skip; i < skip+4 && i < len(data); i++ {
			sum -= uint64(data[i]) << (8 * (i & 1))
		}
	}

	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}

	return uint32(sum) + uint32(len(data))
}
