// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pe_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/uki-manager/internal/pkg/petest"
	"github.com/siderolabs/uki-manager/internal/pkg/uki/internal/pe"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name    string
		opts    petest.Options
		variant pe.Variant
	}{
		{
			name:    "PE32+",
			opts:    petest.Options{Sections: 6},
			variant: pe.PE32Plus,
		},
		{
			name:    "PE32",
			opts:    petest.Options{Sections: 3, PE32: true, FileAlignment: 0x200, SectionAlignment: 0x1000},
			variant: pe.PE32,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			stub := petest.NewStub(test.opts)

			img, err := pe.Load(stub.Bytes)
			require.NoError(t, err)

			assert.Equal(t, test.variant, img.Variant())
			assert.EqualValues(t, 512, img.FileAlignment())
			assert.EqualValues(t, 4096, img.SectionAlignment())
			assert.Equal(t, test.opts.Sections, img.NumSections())
			assert.Equal(t, stub.SizeOfHeaders, img.SizeOfHeaders())
			assert.Equal(t, stub.SizeOfInitialized, img.SizeOfInitializedData())
			assert.EqualValues(t, len(stub.Bytes), img.EndOfRawData())
			assert.False(t, img.SignatureStripped())

			text, ok := img.Section(".text")
			require.True(t, ok)

			assert.EqualValues(t, 100, text.VirtualSize)
			assert.Equal(t, bytes.Repeat([]byte{1}, 100), img.SectionData(text))
		})
	}
}

func TestLoadDoesNotAlias(t *testing.T) {
	t.Parallel()

	stub := petest.NewStub(petest.Options{Sections: 2})
	original := bytes.Clone(stub.Bytes)

	img, err := pe.Load(stub.Bytes)
	require.NoError(t, err)

	require.NoError(t, img.AddSection(".linux", []byte("kernel")))
	require.NoError(t, img.Finalize())

	assert.Equal(t, original, stub.Bytes)
}

func TestLoadInvalid(t *testing.T) {
	t.Parallel()

	valid := petest.NewStub(petest.Options{Sections: 2}).Bytes

	corrupt := func(f func([]byte)) []byte {
		data := bytes.Clone(valid)
		f(data)

		return data
	}

	for _, test := range []struct {
		name     string
		data     []byte
		expected error
	}{
		{
			name:     "empty",
			expected: pe.ErrInvalidFormat,
		},
		{
			name:     "not MZ",
			data:     corrupt(func(b []byte) { copy(b, "ZM") }),
			expected: pe.ErrInvalidFormat,
		},
		{
			name:     "PE offset out of bounds",
			data:     corrupt(func(b []byte) { binary.LittleEndian.PutUint32(b[0x3c:], 0xffffff) }),
			expected: pe.ErrInvalidFormat,
		},
		{
			name:     "no PE signature",
			data:     corrupt(func(b []byte) { copy(b[0x80:], "NE\x00\x00") }),
			expected: pe.ErrInvalidFormat,
		},
		{
			name:     "ROM optional header",
			data:     corrupt(func(b []byte) { binary.LittleEndian.PutUint16(b[0x80+24:], 0x107) }),
			expected: pe.ErrUnsupportedVariant,
		},
		{
			name:     "bad file alignment",
			data:     corrupt(func(b []byte) { binary.LittleEndian.PutUint32(b[0x80+24+36:], 500) }),
			expected: pe.ErrInvalidAlignment,
		},
		{
			name:     "truncated",
			data:     valid[:0x300],
			expected: pe.ErrInvalidFormat,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			_, err := pe.Load(test.data)
			require.ErrorIs(t, err, test.expected)
		})
	}
}

func TestLoadStripsCertificateTable(t *testing.T) {
	t.Parallel()

	stub := petest.NewStub(petest.Options{Sections: 2, Certificate: bytes.Repeat([]byte{0xaa}, 64)})

	img, err := pe.Load(stub.Bytes)
	require.NoError(t, err)

	assert.True(t, img.SignatureStripped())
	assert.EqualValues(t, len(stub.Bytes)-64, img.EndOfRawData())

	require.NoError(t, img.AddSection(".linux", []byte("kernel")))
	require.NoError(t, img.Finalize())

	out, err := img.Serialize()
	require.NoError(t, err)

	assert.NotContains(t, string(out), string(bytes.Repeat([]byte{0xaa}, 64)))
}
