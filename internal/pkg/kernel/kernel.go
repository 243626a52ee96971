/* This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/. */

// Package kernel finds the installed kernels and their command line.
package kernel

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/siderolabs/go-procfs/procfs"
)

// ProcCmdline is the command line of the running kernel.
const ProcCmdline = "/proc/cmdline"

const imagePrefix = "vmlinuz-"

// Kernel is an installed kernel image.
type Kernel struct {
	// Name is the part of the file name after "vmlinuz-", e.g. "linux-lts".
	Name string
	Path string
}

// Discover lists the kernels installed in bootDir, sorted by name.
func Discover(bootDir string) ([]Kernel, error) {
	entries, err := os.ReadDir(bootDir)
	if err != nil {
		return nil, err
	}

	var kernels []Kernel

	for _, entry := range entries {
		name, ok := strings.CutPrefix(entry.Name(), imagePrefix)
		if !ok || name == "" {
			continue
		}

		path := filepath.Join(bootDir, entry.Name())

		// follow symlinks, skip directories and dangling links
		st, err := os.Stat(path)
		if err != nil || !st.Mode().IsRegular() {
			continue
		}

		kernels = append(kernels, Kernel{Name: name, Path: path})
	}

	slices.SortFunc(kernels, func(a, b Kernel) int { return strings.Compare(a.Name, b.Name) })

	return kernels, nil
}

// ImagePath returns the name of the kernel image file in bootDir for the kernel name.
func ImagePath(bootDir, name string) string {
	return filepath.Join(bootDir, imagePrefix+name)
}

// ReadCmdline reads the kernel command line from path.
//
// If path doesn't exist, the command line is taken from fallback with the arguments
// set by the bootloader dropped.
func ReadCmdline(path, fallback string) (*procfs.Cmdline, error) {
	contents, err := os.ReadFile(path)
	if err == nil {
		return procfs.NewCmdline(joinLines(string(contents))), nil
	}

	if !errors.Is(err, fs.ErrNotExist) || fallback == "" {
		return nil, err
	}

	contents, err = os.ReadFile(fallback)
	if err != nil {
		return nil, err
	}

	current := procfs.NewCmdline(strings.TrimSpace(string(contents)))

	args := slices.DeleteFunc(current.Strings(), func(arg string) bool {
		key, _, _ := strings.Cut(arg, "=")

		return key == "BOOT_IMAGE" || key == "initrd"
	})

	return procfs.NewCmdline(strings.Join(args, " ")), nil
}

// joinLines drops comments and joins the lines of a kernel cmdline file.
func joinLines(contents string) string {
	var args []string

	for line := range strings.Lines(contents) {
		line = strings.TrimSpace(line)

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		args = append(args, line)
	}

	return strings.Join(args, " ")
}
