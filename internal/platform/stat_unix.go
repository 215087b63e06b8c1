//go:build unix

package platform

import (
	"errors"
	"io/fs"
	"syscall"

	"golang.org/x/sys/unix"
)

// FileOwner extracts UID and GID from file info on Unix systems.
func FileOwner(info fs.FileInfo) (uid, gid uint32) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Uid, stat.Gid
	}
	return 0, 0
}

// Identify returns the device, inode, link count and owner of info.
func Identify(info fs.FileInfo) Identity {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return Identity{Nlink: 1}
	}
	return Identity{
		ID:    FileID{Dev: uint64(stat.Dev), Ino: uint64(stat.Ino)}, //nolint:unconvert // widths differ per GOOS
		Nlink: uint64(stat.Nlink),                                   //nolint:unconvert // widths differ per GOOS
		UID:   stat.Uid,
		GID:   stat.Gid,
	}
}

// Accessible reports whether the acting user may access path with mode.
//
// The check goes through faccessat(2) with the effective ids so ACLs and
// ownership mismatches are honoured. Symlinks are not followed.
func Accessible(path string, mode uint32) bool {
	err := unix.Faccessat(unix.AT_FDCWD, path, mode, unix.AT_EACCESS|unix.AT_SYMLINK_NOFOLLOW)
	return err == nil
}

// IsPermission reports whether err is a permission failure rather than an
// I/O failure.
func IsPermission(err error) bool {
	return errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM)
}

// IsLoop reports whether err came from too many levels of symbolic links.
func IsLoop(err error) bool {
	return errors.Is(err, unix.ELOOP)
}

// IsPrivileged reports whether the process runs with elevated privilege.
func IsPrivileged() bool {
	return unix.Geteuid() == 0
}

// IsNotDir reports whether err came from a non-directory path component.
func IsNotDir(err error) bool {
	return errors.Is(err, unix.ENOTDIR)
}
