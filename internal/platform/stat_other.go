//go:build !unix

package platform

import (
	"errors"
	"io/fs"
	"os"
)

// FileOwner returns zero UID/GID on non-Unix systems.
func FileOwner(info fs.FileInfo) (uid, gid uint32) {
	return 0, 0
}

// Identify returns an identity without inode data on non-Unix systems.
func Identify(info fs.FileInfo) Identity {
	return Identity{Nlink: 1}
}

// Accessible falls back to opening the path for reading, and to permission
// bits for the other modes.
func Accessible(path string, mode uint32) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	if mode&AccessRead != 0 && info.Mode().IsRegular() {
		f, err := os.Open(path)
		if err != nil {
			return false
		}
		_ = f.Close() //nolint:errcheck // probe only
	}
	if mode&AccessWrite != 0 && info.Mode().Perm()&0o200 == 0 {
		return false
	}
	return true
}

// IsPermission reports whether err is a permission failure.
func IsPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}

// IsLoop always reports false on non-Unix systems.
func IsLoop(err error) bool {
	return false
}

// IsPrivileged always reports false on non-Unix systems.
func IsPrivileged() bool {
	return false
}

// IsNotDir always reports false on non-Unix systems.
func IsNotDir(err error) bool {
	return false
}
