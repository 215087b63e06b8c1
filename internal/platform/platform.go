// Package platform isolates the operating-system specific parts of probing
// files: ownership, device and inode identity, access checks and the
// capabilities of a destination filesystem.
package platform

import "errors"

// ErrSymlink is returned when attempting to open a symbolic link.
var ErrSymlink = errors.New("symbolic links not supported")

// ErrLockUnsupported is returned by TryLock on platforms without advisory
// file locks.
var ErrLockUnsupported = errors.New("advisory locks not supported")

// FileID identifies a filesystem object by device and inode.
//
// The zero FileID is returned on platforms without inode semantics and
// never compares equal to a real object's identity for hard-link purposes
// because Nlink is reported as 1 there.
type FileID struct {
	Dev uint64
	Ino uint64
}

// Identity is the subset of stat data used to detect hard links and loops.
type Identity struct {
	ID    FileID
	Nlink uint64
	UID   uint32
	GID   uint32
}

// Access modes for Accessible.
const (
	AccessRead  uint32 = 0x4
	AccessWrite uint32 = 0x2
	AccessExec  uint32 = 0x1
)
