// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pe

// Finalize updates SizeOfImage and CheckSum to match the current image contents.
//
// SizeOfImage covers both the raw extent of the last section and the virtual extent
// of every section, rounded up to SectionAlignment; it never shrinks.
func (img *Image) Finalize() error {
	end := img.sectionsEnd()

	for _, section := range img.sections {
		end = max(end, section.VirtualEnd())
	}

	sizeOfImage, err := alignUp32(end, img.SectionAlignment())
	if err != nil {
		return err
	}

	img.setSizeOfImage(max(sizeOfImage, img.SizeOfImage()))

	img.setChecksum(0)
	img.setChecksum(Checksum(img.buf))

	img.finalized = true

	return nil
}

// Serialize returns the image bytes.
//
// The returned slice is the image buffer itself; it must not be modified.
func (img *Image) Serialize() ([]byte, error) {
	if !img.finalized {
		return nil, ErrNotFinalized
	}

	return img.buf, nil
}
