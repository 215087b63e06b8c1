//go:build !unix

package platform

import "os"

// TryLock returns ErrLockUnsupported.
func TryLock(*os.File) (bool, error) {
	return false, ErrLockUnsupported
}
