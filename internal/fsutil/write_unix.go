//go:build !windows

package fsutil

import (
	"os"

	"github.com/google/renameio/v2"
)

// renameio: temp file in the target directory, fsync, rename, cleanup on error.
func writeFile(path string, data []byte, perm os.FileMode) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(perm))
	if err != nil {
		return err
	}
	defer func() { _ = pending.Cleanup() }()
	if _, err := pending.Write(data); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

func symlink(target, link string) error {
	return renameio.Symlink(target, link)
}
