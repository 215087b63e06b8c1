//go:build !unix

package platform

import (
	"io/fs"
	"os"
)

// OpenFileNoFollow opens a file without following symlinks.
// Returns ErrSymlink if the path is a symbolic link.
func OpenFileNoFollow(name string) (*os.File, error) {
	info, err := os.Lstat(name)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, ErrSymlink
	}
	return os.Open(name)
}
