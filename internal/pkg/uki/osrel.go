// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package uki

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-envparse"
)

// OSRelease is a parsed os-release(5) file.
type OSRelease map[string]string

// ReadOSRelease parses the os-release file at path.
func ReadOSRelease(path string) (OSRelease, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close() //nolint:errcheck

	values, err := envparse.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("error parsing %q: %w", path, err)
	}

	return OSRelease(values), nil
}

// ID returns the operating system identifier, "linux" if unset.
func (osRelease OSRelease) ID() string {
	if id := osRelease["ID"]; id != "" {
		return id
	}

	return "linux"
}

// PrettyName returns the human-readable operating system name.
func (osRelease OSRelease) PrettyName() string {
	if name := osRelease["PRETTY_NAME"]; name != "" {
		return name
	}

	if name := osRelease["NAME"]; name != "" {
		return name
	}

	return "Linux"
}
