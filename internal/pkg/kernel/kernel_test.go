// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kernel_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/uki-manager/internal/pkg/kernel"
)

func TestDiscover(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for _, name := range []string{"vmlinuz-linux-lts", "vmlinuz-linux", "vmlinuz-", "initramfs-linux.img", "intel-ucode.img"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}

	require.NoError(t, os.Mkdir(filepath.Join(dir, "vmlinuz-dir"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "vmlinuz-linux"), filepath.Join(dir, "vmlinuz-current")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), filepath.Join(dir, "vmlinuz-dangling")))

	kernels, err := kernel.Discover(dir)
	require.NoError(t, err)

	assert.Equal(t, []kernel.Kernel{
		{Name: "current", Path: filepath.Join(dir, "vmlinuz-current")},
		{Name: "linux", Path: filepath.Join(dir, "vmlinuz-linux")},
		{Name: "linux-lts", Path: filepath.Join(dir, "vmlinuz-linux-lts")},
	}, kernels)

	assert.Equal(t, filepath.Join(dir, "vmlinuz-linux"), kernel.ImagePath(dir, "linux"))

	_, err = kernel.Discover(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadCmdline(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	path := filepath.Join(dir, "cmdline")
	require.NoError(t, os.WriteFile(path, []byte("# root filesystem\nroot=UUID=1234 rw\n\nquiet splash\n"), 0o644))

	proc := filepath.Join(dir, "proc-cmdline")
	require.NoError(t, os.WriteFile(proc, []byte("BOOT_IMAGE=/vmlinuz-linux root=/dev/sda2 initrd=/initramfs-linux.img rw\n"), 0o644))

	cmdline, err := kernel.ReadCmdline(path, proc)
	require.NoError(t, err)

	assert.Equal(t, "root=UUID=1234 rw quiet splash", cmdline.String())

	cmdline, err = kernel.ReadCmdline(filepath.Join(dir, "missing"), proc)
	require.NoError(t, err)

	assert.Equal(t, "root=/dev/sda2 rw", cmdline.String())

	_, err = kernel.ReadCmdline(filepath.Join(dir, "missing"), "")
	require.ErrorIs(t, err, os.ErrNotExist)
}
