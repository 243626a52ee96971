// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/siderolabs/gen/xslices"
	"github.com/siderolabs/go-pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/siderolabs/uki-manager/internal/pkg/config"
	"github.com/siderolabs/uki-manager/internal/pkg/petest"
	"github.com/siderolabs/uki-manager/internal/pkg/uki"
)

func writeFile(t *testing.T, path string, contents []byte) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	return path
}

func bzImage(version string) []byte {
	data := make([]byte, 0x1000)

	copy(data, "MZ")
	copy(data[0x202:], "HdrS")
	binary.LittleEndian.PutUint16(data[0x20e:], 0x300)
	copy(data[0x500:], version+" (linux@archlinux) #1 SMP\x00")

	return data
}

type fixture struct {
	dir    string
	boot   string
	esp    string
	global *config.Global
}

func newFixture(t *testing.T, exclude ...string) *fixture {
	t.Helper()

	dir := t.TempDir()

	f := &fixture{
		dir:  dir,
		boot: filepath.Join(dir, "boot"),
		esp:  filepath.Join(dir, "efi"),
	}

	stub := petest.NewStub(petest.Options{Sections: 2, HeaderSlots: 8})

	cfg := &config.Config{
		BootDir: pointer.To(f.boot),
		ESPDir:  pointer.To(f.esp),
		Jobs:    pointer.To(2),
		Exclude: exclude,
		Defaults: config.Kernel{
			StubPath:      pointer.To(writeFile(t, filepath.Join(dir, "linux.efi.stub"), stub.Bytes)),
			OSReleasePath: pointer.To(writeFile(t, filepath.Join(dir, "os-release"), []byte("ID=arch\nPRETTY_NAME=\"Arch Linux\"\n"))),
			CmdlinePath:   pointer.To(writeFile(t, filepath.Join(dir, "cmdline"), []byte("root=/dev/sda2 rw\n"))),
		},
	}

	global, err := cfg.Resolve(zaptest.NewLogger(t))
	require.NoError(t, err)

	f.global = global

	return f
}

func (f *fixture) install(t *testing.T, name, version string, withInitrd bool) {
	t.Helper()

	writeFile(t, filepath.Join(f.boot, "vmlinuz-"+name), bzImage(version))

	if withInitrd {
		writeFile(t, filepath.Join(f.boot, "initramfs-"+name+".img"), bytes.Repeat([]byte{0x07}, 300))
	}
}

func (f *fixture) output(name string) string {
	return filepath.Join(f.esp, "EFI", "Linux", name+".efi")
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.install(t, "linux", "6.12.1-arch1-1", true)
	f.install(t, "linux-lts", "6.6.60-1-lts", true)

	logger := zaptest.NewLogger(t)

	require.NoError(t, generate(t.Context(), f.global, t.TempDir(), nil, generateOptions{}, logger))

	for name, version := range map[string]string{"linux": "6.12.1-arch1-1", "linux-lts": "6.6.60-1-lts"} {
		info, err := uki.Inspect(f.output(name))
		require.NoError(t, err)

		assert.Equal(t, version, info.Uname)
		assert.Equal(t, "root=/dev/sda2 rw", info.Cmdline)
		assert.Equal(t, "arch", info.OSRelease.ID())
		assert.True(t, info.ChecksumValid())

		names := xslices.Map(info.Sections, func(s uki.SectionInfo) string { return s.Name })
		assert.Equal(t, []string{".text", ".data1", ".osrel", ".uname", ".cmdline", ".initrd", ".linux"}, names)
	}
}

func TestGenerateContinuesOnFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.install(t, "linux", "6.12.1-arch1-1", true)
	f.install(t, "linux-zen", "6.12.1-zen1-1", false)

	err := generate(t.Context(), f.global, t.TempDir(), nil, generateOptions{jobs: 1}, zaptest.NewLogger(t))
	require.Error(t, err)

	assert.ErrorContains(t, err, `kernel "linux-zen"`)
	assert.NotContains(t, err.Error(), `kernel "linux":`)

	assert.FileExists(t, f.output("linux"))
	assert.NoFileExists(t, f.output("linux-zen"))
}

func TestGenerateNamed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.install(t, "linux", "6.12.1-arch1-1", true)
	f.install(t, "linux-lts", "6.6.60-1-lts", true)

	logger := zaptest.NewLogger(t)

	require.NoError(t, generate(t.Context(), f.global, t.TempDir(), []string{"linux-lts"}, generateOptions{}, logger))

	assert.FileExists(t, f.output("linux-lts"))
	assert.NoFileExists(t, f.output("linux"))

	err := generate(t.Context(), f.global, t.TempDir(), []string{"linux-hardened"}, generateOptions{}, logger)
	assert.ErrorContains(t, err, `kernel "linux-hardened" is not installed`)
}

func TestGenerateDryRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.install(t, "linux", "6.12.1-arch1-1", true)

	require.NoError(t, generate(t.Context(), f.global, t.TempDir(), nil, generateOptions{dryRun: true}, zaptest.NewLogger(t)))

	assert.NoDirExists(t, filepath.Join(f.esp, "EFI"))
}

func TestGeneratePerKernelConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.install(t, "linux", "6.12.1-arch1-1", true)

	configDir := t.TempDir()
	writeFile(t, filepath.Join(configDir, "linux.toml"), []byte("output_name = \"%id%-%version%.efi\"\nextra_cmdline = \"quiet\"\n"))

	require.NoError(t, generate(t.Context(), f.global, configDir, nil, generateOptions{}, zaptest.NewLogger(t)))

	info, err := uki.Inspect(f.output("arch-6.12.1-arch1-1"))
	require.NoError(t, err)

	assert.Equal(t, "root=/dev/sda2 rw quiet", info.Cmdline)
}

func TestSelectKernels(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "*-fallback")
	f.install(t, "linux", "6.12.1-arch1-1", false)
	f.install(t, "linux-fallback", "6.12.1-arch1-1", false)

	kernels, err := selectKernels(f.global, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Len(t, kernels, 1)
	assert.Equal(t, "linux", kernels[0].Name)

	// explicitly named kernels bypass the filters
	kernels, err = selectKernels(f.global, []string{"linux-fallback"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Len(t, kernels, 1)
	assert.Equal(t, "linux-fallback", kernels[0].Name)
}

func TestPrintInfo(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.install(t, "linux", "6.12.1-arch1-1", true)

	require.NoError(t, generate(t.Context(), f.global, t.TempDir(), nil, generateOptions{}, zaptest.NewLogger(t)))

	info, err := uki.Inspect(f.output("linux"))
	require.NoError(t, err)

	var out bytes.Buffer

	printInfo(&out, info, []byte("sbat,1,SBAT Version,sbat,1,https://github.com/rhboot/shim/blob/main/SBAT.md\n"))

	for _, expected := range []string{"PE32+", "valid", "Arch Linux", "6.12.1-arch1-1", ".initrd", ".linux", "SBAT:"} {
		assert.Contains(t, out.String(), expected)
	}

	assert.True(t, slices.ContainsFunc(info.Sections, func(s uki.SectionInfo) bool { return s.Name == ".osrel" }))
}
