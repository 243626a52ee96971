// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pe

import "math/bits"

// AlignUp returns the smallest multiple of alignment which is greater than or equal to value.
//
// The alignment must be a power of two, as required for both FileAlignment and SectionAlignment.
func AlignUp(value, alignment uint64) (uint64, error) {
	if alignment == 0 || bits.OnesCount64(alignment) != 1 {
		return 0, ErrInvalidAlignment
	}

	mask := alignment - 1

	aligned, carry := bits.Add64(value, mask, 0)
	if carry != 0 {
		return 0, ErrPayloadTooLarge
	}

	return aligned &^ mask, nil
}

// alignUp32 is AlignUp for the 32-bit header fields, failing if the result overflows.
func alignUp32(value uint64, alignment uint32) (uint32, error) {
	aligned, err := AlignUp(value, uint64(alignment))
	if err != nil {
		return 0, err
	}

	if aligned > maxUint32 {
		return 0, ErrPayloadTooLarge
	}

	return uint32(aligned), nil
}

const maxUint32 = 1<<32 - 1
