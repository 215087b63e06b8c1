//go:build unix

package platform

import (
	"errors"
	"os"
	"syscall"
)

// OpenFileNoFollow opens a file for reading without following symlinks.
// Returns ErrSymlink if the path is a symbolic link. Named pipes are opened
// non-blocking so probing a fifo never hangs.
func OpenFileNoFollow(name string) (*os.File, error) {
	f, err := os.OpenFile(name, os.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, syscall.ELOOP) {
			return nil, ErrSymlink
		}
		return nil, err
	}
	return f, nil
}
