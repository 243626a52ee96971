// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pe_test

import (
	debugpe "debug/pe"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/uki-manager/internal/pkg/petest"
	"github.com/siderolabs/uki-manager/internal/pkg/uki/internal/pe"
)

func TestAssembleObjcopy(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("objcopy"); err != nil {
		t.Skip("objcopy is not available")
	}

	dir := t.TempDir()

	stub := writeStub(t, dir, petest.Options{Sections: 6})
	initrd1 := writePayload(t, dir, "initrd1", []byte("first"))
	initrd2 := writePayload(t, dir, "initrd2", []byte("second"))

	out := filepath.Join(dir, "linux.efi")

	err := pe.AssembleObjcopy(t.Context(), stub, out, []pe.Section{
		{Name: ".cmdline", Data: []byte("quiet")},
		{Name: ".initrd", Paths: []string{initrd1, initrd2}},
	}, pe.WithVirtualAddresses(true))
	if err != nil {
		// binutils built without PE support
		t.Skipf("objcopy failed: %s", err)
	}

	f, err := debugpe.Open(out)
	require.NoError(t, err)

	t.Cleanup(func() { f.Close() }) //nolint:errcheck

	initrd := f.Section(".initrd")
	require.NotNil(t, initrd)

	data, err := initrd.Data()
	require.NoError(t, err)

	assert.Equal(t, "firstsecond", string(data[:len("firstsecond")]))
	assert.NotZero(t, initrd.VirtualAddress)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)

	img, err := pe.Load(raw)
	require.NoError(t, err)

	assert.Equal(t, img.ComputeChecksum(), img.StoredChecksum())
}
