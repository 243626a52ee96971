// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"strings"

	"github.com/siderolabs/gen/xslices"
)

// Merge fills the fields not set in k from defaults.
func Merge(k, defaults Kernel) Kernel {
	mergePtr(&k.OutputName, defaults.OutputName)
	mergePtr(&k.OutputDir, defaults.OutputDir)
	mergePtr(&k.StubPath, defaults.StubPath)
	mergePtr(&k.OSReleasePath, defaults.OSReleasePath)
	mergePtr(&k.Uname, defaults.Uname)
	mergePtr(&k.CmdlinePath, defaults.CmdlinePath)
	mergePtr(&k.ExtraCmdline, defaults.ExtraCmdline)
	mergePtr(&k.VmlinuzPath, defaults.VmlinuzPath)
	mergePtr(&k.SplashPath, defaults.SplashPath)
	mergePtr(&k.Assembler, defaults.Assembler)
	mergePtr(&k.AssignVirtualAddress, defaults.AssignVirtualAddress)

	if k.MicrocodePaths == nil {
		k.MicrocodePaths = defaults.MicrocodePaths
	}

	if k.InitrdPaths == nil {
		k.InitrdPaths = defaults.InitrdPaths
	}

	return k
}

func mergePtr[T any](dst **T, src *T) {
	if *dst == nil {
		*dst = src
	}
}

// Vars are the values of the placeholders.
type Vars struct {
	// Name replaces %name%, the kernel name.
	Name string
	// Version replaces %version%, the kernel version.
	Version string
	// ID replaces %id%, the os-release ID.
	ID string
	// Arch replaces %arch%, the EFI architecture name (x64, aa64, ...).
	Arch string
}

func (vars Vars) replacer() *strings.Replacer {
	var pairs []string

	for placeholder, value := range map[string]string{
		"%name%":    vars.Name,
		"%version%": vars.Version,
		"%id%":      vars.ID,
		"%arch%":    vars.Arch,
	} {
		// unknown values keep the placeholder, so it can be substituted later
		if value != "" {
			pairs = append(pairs, placeholder, value)
		}
	}

	return strings.NewReplacer(pairs...)
}

// Substitute replaces the placeholders in all string fields of k.
func Substitute(k Kernel, vars Vars) Kernel {
	r := vars.replacer()

	for _, field := range []**string{
		&k.OutputName,
		&k.OutputDir,
		&k.StubPath,
		&k.OSReleasePath,
		&k.Uname,
		&k.CmdlinePath,
		&k.ExtraCmdline,
		&k.VmlinuzPath,
		&k.SplashPath,
	} {
		if *field != nil {
			replaced := r.Replace(**field)
			*field = &replaced
		}
	}

	k.MicrocodePaths = substituteAll(r, k.MicrocodePaths)
	k.InitrdPaths = substituteAll(r, k.InitrdPaths)

	return k
}

func substituteAll(r *strings.Replacer, values []string) []string {
	if values == nil {
		return nil
	}

	return xslices.Map(values, r.Replace)
}
