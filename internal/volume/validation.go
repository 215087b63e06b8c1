package volume

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/meigma/ngsarchiver/probe"
)

// CheckFileUnchanged verifies a file wasn't modified while it was copied.
// In strict mode, it compares size, mtime and permissions before/after.
func CheckFileUnchanged(f *os.File, path string, before fs.FileInfo, strict bool) error {
	if !strict {
		return nil
	}
	after, err := f.Stat()
	if err != nil {
		return err
	}
	if after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) || after.Mode().Perm() != before.Mode().Perm() {
		return fmt.Errorf("%w: %s", ErrChanged, path)
	}
	return nil
}

// ValidateFileInfo checks in strict mode that the opened file is still the
// object the walk probed: same size and modification time.
func ValidateFileInfo(path string, probed probe.Entry, opened fs.FileInfo, strict bool) error {
	if !strict {
		return nil
	}
	if !opened.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is no longer a regular file", ErrChanged, path)
	}
	if opened.Size() != probed.Size || !opened.ModTime().Equal(probed.ModTime) {
		return fmt.Errorf("%w: %s", ErrChanged, path)
	}
	return nil
}
