//go:build windows

package state

import (
	"os"
)

// writeAtomic replaces path with data. renameio does not support Windows, so
// this writes a sibling temp file and renames it over the target.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
