//go:build !windows

package state

import (
	"os"

	"github.com/google/renameio/v2"
)

// writeAtomic replaces path with data through a temp file and rename.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
