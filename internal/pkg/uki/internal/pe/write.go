// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pe

import (
	"io/fs"
	"os"
	"path/filepath"
)

// WriteFile writes data to path atomically.
//
// The data goes to a temporary file in the same directory which is then renamed over path,
// so path either keeps its previous contents or gets the complete new ones.
func WriteFile(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()

	if err = writeAndSync(tmp, data, perm); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck

		return err
	}

	if err = tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck

		return err
	}

	return renameFile(tmpPath, path)
}

func writeAndSync(f *os.File, data []byte, perm fs.FileMode) error {
	if _, err := f.Write(data); err != nil {
		return err
	}

	if err := f.Chmod(perm); err != nil {
		return err
	}

	return f.Sync()
}

// renameFile moves a finished temporary file over path and syncs the directory.
func renameFile(tmpPath, path string) error {
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck

		return err
	}

	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}

	defer dir.Close() //nolint:errcheck

	if err = dir.Sync(); err != nil {
		return &fs.PathError{Op: "sync", Path: dir.Name(), Err: err}
	}

	return nil
}
