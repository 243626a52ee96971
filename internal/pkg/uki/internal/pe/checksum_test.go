// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pe_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/siderolabs/uki-manager/internal/pkg/uki/internal/pe"
)

func TestChecksum(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name     string
		data     []byte
		expected uint32
	}{
		{
			name:     "empty",
			expected: 0,
		},
		{
			name:     "single word",
			data:     []byte{0x01, 0x02},
			expected: 0x0201 + 2,
		},
		{
			name:     "odd trailing byte",
			data:     []byte{0xff},
			expected: 0xff + 1,
		},
		{
			name:     "carry folding",
			data:     []byte{0xff, 0xff, 0x02, 0x00},
			expected: 0x0002 + 4,
		},
		{
			name:     "repeated folding",
			data:     bytes.Repeat([]byte{0xff, 0xff}, 0x10001),
			expected: 0xffff + 0x20002,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, test.expected, pe.Checksum(test.data))
		})
	}
}
