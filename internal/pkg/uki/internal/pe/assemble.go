// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pe

import (
	"bytes"
	"context"
	"io"
	"os"
)

// Section is a section to be appended to the stub.
type Section struct {
	// Name of the section, e.g. ".linux".
	Name string
	// Data is the section payload, used if Paths is empty.
	Data []byte
	// Paths are concatenated in order, without any delimiter, to form the payload.
	Paths []string
}

// Payload resolves the section contents.
func (s Section) Payload() ([]byte, error) {
	if len(s.Paths) == 0 {
		return s.Data, nil
	}

	if len(s.Paths) == 1 {
		data, err := os.ReadFile(s.Paths[0])
		if err != nil {
			return nil, sectionError(s.Name, err)
		}

		return data, nil
	}

	var buf bytes.Buffer

	for _, path := range s.Paths {
		if err := appendFile(&buf, path); err != nil {
			return nil, sectionError(s.Name, err)
		}
	}

	return buf.Bytes(), nil
}

func appendFile(buf *bytes.Buffer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer f.Close() //nolint:errcheck

	if st, err := f.Stat(); err == nil {
		buf.Grow(int(st.Size()))
	}

	_, err = io.Copy(buf, f)

	return err
}

// Option configures the assemblers.
type Option func(*options)

type options struct {
	virtualAddresses bool
	toolOutput       io.Writer
}

// WithVirtualAddresses assigns a virtual address to every appended section.
func WithVirtualAddresses(enabled bool) Option {
	return func(o *options) {
		o.virtualAddresses = enabled
	}
}

// WithToolOutput receives the output of external tools run by the assembler.
func WithToolOutput(w io.Writer) Option {
	return func(o *options) {
		o.toolOutput = w
	}
}

func makeOptions(opts []Option) options {
	var o options

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// AssembleNative appends the sections to the PE file at srcPath and writes the result to dstPath.
//
// Nothing is written unless every section was added successfully.
func AssembleNative(ctx context.Context, srcPath, dstPath string, sections []Section, opts ...Option) error {
	o := makeOptions(opts)

	stub, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}

	img, err := Load(stub)
	if err != nil {
		return err
	}

	var sectionOpts []SectionOption

	if o.virtualAddresses {
		sectionOpts = append(sectionOpts, WithVirtualAddress())
	}

	for _, section := range sections {
		if err = ctx.Err(); err != nil {
			return err
		}

		payload, err := section.Payload()
		if err != nil {
			return err
		}

		if err = img.AddSection(section.Name, payload, sectionOpts...); err != nil {
			return err
		}
	}

	if err = ctx.Err(); err != nil {
		return err
	}

	return writeImage(img, dstPath)
}

func writeImage(img *Image, dstPath string) error {
	if err := img.Finalize(); err != nil {
		return err
	}

	data, err := img.Serialize()
	if err != nil {
		return err
	}

	return WriteFile(dstPath, data, 0o644)
}
