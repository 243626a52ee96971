// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package toml wraps TOML decoding and encoding of configuration files.
package toml

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// DecodeFile decodes a TOML file into the provided destination, and returns a sha256 hash of the file content.
//
// Unknown keys are rejected.
func DecodeFile(path string, dest any) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close() //nolint:errcheck

	hash := sha256.New()

	decoder := toml.NewDecoder(io.TeeReader(f, hash))
	decoder.DisallowUnknownFields()

	if err = decoder.Decode(dest); err != nil {
		return nil, fmt.Errorf("error decoding %q: %w", path, describe(err))
	}

	return hash.Sum(nil), nil
}

// describe adds the position to decoding errors.
func describe(err error) error {
	var (
		decodeErr *toml.DecodeError
		strictErr *toml.StrictMissingError
	)

	switch {
	case errors.As(err, &decodeErr):
		row, col := decodeErr.Position()

		return fmt.Errorf("line %d, column %d: %w", row, col, err)
	case errors.As(err, &strictErr):
		return fmt.Errorf("%w\n%s", err, strictErr.String())
	default:
		return err
	}
}

// Encode renders v as TOML with indented tables.
func Encode(v any) ([]byte, error) {
	var out bytes.Buffer

	if err := toml.NewEncoder(&out).SetIndentTables(true).Encode(v); err != nil {
		return nil, fmt.Errorf("error encoding config: %w", err)
	}

	return out.Bytes(), nil
}
