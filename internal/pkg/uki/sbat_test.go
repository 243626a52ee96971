// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package uki_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siderolabs/uki-manager/internal/pkg/petest"
	"github.com/siderolabs/uki-manager/internal/pkg/uki"
	"github.com/siderolabs/uki-manager/internal/pkg/uki/internal/pe"
)

const sbat = "sbat,1,SBAT Version,sbat,1,https://github.com/rhboot/shim/blob/main/SBAT.md\nsystemd-stub,1,The systemd Developers,systemd,257,https://systemd.io/\n"

func TestGetSBAT(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	stub := filepath.Join(dir, "plain.efi.stub")
	require.NoError(t, os.WriteFile(stub, petest.NewStub(petest.Options{Sections: 2}).Bytes, 0o644))

	withSBAT := filepath.Join(dir, "linuxx64.efi.stub")
	require.NoError(t, pe.AssembleNative(t.Context(), stub, withSBAT, []pe.Section{{Name: ".sbat", Data: []byte(sbat)}}))

	data, err := uki.GetSBAT(withSBAT)
	require.NoError(t, err)

	require.Equal(t, sbat, string(data))

	_, err = uki.GetSBAT(stub)
	require.Error(t, err)
}
