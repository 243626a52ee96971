// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"fmt"
	"os"
	"runtime"
)

// Candidate locations probed for the settings which are not configured.
var (
	BootDirCandidates   = []string{"/boot"}
	ESPDirCandidates    = []string{"/efi", "/esp", "/boot"}
	StubCandidates      = []string{"/usr/lib/systemd/boot/efi/linuxx64.efi.stub", "/usr/lib/systemd/boot/efi/linuxia32.efi.stub", "/usr/lib/systemd/boot/efi/linuxaa64.efi.stub"}
	OSReleaseCandidates = []string{"/etc/os-release", "/usr/lib/os-release"}
)

// ProbeError is returned when none of the candidates exist.
type ProbeError struct {
	What       string
	Candidates []string
}

// Error implements error interface.
func (e *ProbeError) Error() string {
	return fmt.Sprintf("cannot find the %s, and none was provided, tried %q", e.What, e.Candidates)
}

// Probe returns the first candidate which is a directory (dir) or a regular file (!dir).
func Probe(what string, candidates []string, dir bool) (string, error) {
	for _, candidate := range candidates {
		st, err := os.Stat(candidate)
		if err != nil {
			continue
		}

		if (dir && st.IsDir()) || (!dir && st.Mode().IsRegular()) {
			return candidate, nil
		}
	}

	return "", &ProbeError{What: what, Candidates: candidates}
}

// EFIArch is the EFI name of the architecture the tool is running on.
func EFIArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x64"
	case "386":
		return "ia32"
	case "arm64":
		return "aa64"
	case "arm":
		return "arm"
	default:
		return runtime.GOARCH
	}
}
