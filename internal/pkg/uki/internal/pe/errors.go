// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pe

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFormat is returned when the DOS or PE signature is missing or the headers are truncated.
	ErrInvalidFormat = errors.New("invalid PE image")
	// ErrUnsupportedVariant is returned when the optional header is neither PE32 nor PE32+.
	ErrUnsupportedVariant = errors.New("unsupported optional header variant")
	// ErrNameTooLong is returned when a section name does not fit the 8-byte name field.
	ErrNameTooLong = errors.New("section name is longer than 8 bytes")
	// ErrInvalidName is returned for empty or non-ASCII section names.
	ErrInvalidName = errors.New("section name must be non-empty ASCII")
	// ErrPayloadTooLarge is returned when a payload doesn't fit the 32-bit size fields.
	ErrPayloadTooLarge = errors.New("section payload is too large")
	// ErrInvalidAlignment is returned when an alignment is zero or not a power of two.
	ErrInvalidAlignment = errors.New("alignment must be a non-zero power of two")
	// ErrHeaderSpaceExhausted is returned when the section table has no free slot left before the first section data.
	ErrHeaderSpaceExhausted = errors.New("no room left in the section table")
	// ErrNotFinalized is returned by Serialize if Finalize wasn't called after the last change.
	ErrNotFinalized = errors.New("image is not finalized")
)

// SectionError reports a failure to add a particular section.
type SectionError struct {
	Name string
	Err  error
}

// Error implements error interface.
func (e *SectionError) Error() string {
	return fmt.Sprintf("section %q: %s", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *SectionError) Unwrap() error {
	return e.Err
}

func sectionError(name string, err error) error {
	return &SectionError{Name: name, Err: err}
}
