// Package sink writes restored files without ever replacing an existing
// path.
//
// Content is written to a temporary file in the destination directory and
// only linked into place on Commit, so a partially written file is never
// visible at its final path and a file that appeared in the meantime is
// left untouched.
package sink

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrExists is returned by Commit when the destination path already exists.
// The existing file is not modified.
var ErrExists = errors.New("sink: destination exists")

// Meta carries the attributes applied to a file on Commit.
type Meta struct {
	Mode    fs.FileMode
	ModTime time.Time
}

// Committer is an io.Writer whose content becomes visible only on Commit.
type Committer interface {
	io.Writer

	// Commit makes the file visible at its destination. It returns
	// ErrExists, and discards the content, if the destination exists.
	Commit() error

	// Discard drops the content.
	Discard() error
}

// FileSink writes files below a destination directory.
type FileSink struct {
	destDir       string
	preserveMode  bool
	preserveTimes bool
	dirMode       fs.FileMode
}

// Option configures a FileSink.
type Option func(*FileSink)

// WithPreserveMode applies Meta.Mode on Commit.
// By default, modes are not preserved (files use umask defaults).
func WithPreserveMode(preserve bool) Option {
	return func(s *FileSink) {
		s.preserveMode = preserve
	}
}

// WithPreserveTimes applies Meta.ModTime on Commit.
// By default, times are not preserved (files use current time).
func WithPreserveTimes(preserve bool) Option {
	return func(s *FileSink) {
		s.preserveTimes = preserve
	}
}

// WithDirMode sets the mode of parent directories created on demand.
func WithDirMode(mode fs.FileMode) Option {
	return func(s *FileSink) {
		s.dirMode = mode
	}
}

// New creates a FileSink that writes below destDir.
func New(destDir string, opts ...Option) *FileSink {
	s := &FileSink{
		destDir: destDir,
		dirMode: 0o755,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the destination directory.
func (s *FileSink) Dir() string {
	return s.destDir
}

// Path returns the destination for a slash-separated relative path.
func (s *FileSink) Path(rel string) string {
	return filepath.Join(s.destDir, filepath.FromSlash(rel))
}

// ShouldProcess returns false if something already exists at rel.
func (s *FileSink) ShouldProcess(rel string) bool {
	_, err := os.Lstat(s.Path(rel))
	return errors.Is(err, fs.ErrNotExist)
}

// Writer returns a Committer for rel.
func (s *FileSink) Writer(rel string, meta Meta) (Committer, error) {
	destPath := s.Path(rel)

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".ngsarchiver-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &fileCommitter{
		meta:     meta,
		destPath: destPath,
		tempFile: tempFile,
		sink:     s,
	}, nil
}

// WriteFile copies r to rel and commits it.
func (s *FileSink) WriteFile(rel string, meta Meta, r io.Reader) error {
	c, err := s.Writer(rel, meta)
	if err != nil {
		return err
	}
	if _, err := io.Copy(c, r); err != nil {
		_ = c.Discard() //nolint:errcheck // best-effort cleanup
		return err
	}
	return c.Commit()
}

type fileCommitter struct {
	meta     Meta
	destPath string
	tempFile *os.File
	sink     *FileSink
}

func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file, applies metadata and links it into place.
func (c *fileCommitter) Commit() error {
	tempPath := c.tempFile.Name()
	defer os.Remove(tempPath) //nolint:errcheck // the temp name is always dropped

	if err := c.tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if c.sink.preserveMode {
		if err := os.Chmod(tempPath, c.meta.Mode.Perm()); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}
	}
	if c.sink.preserveTimes && !c.meta.ModTime.IsZero() {
		if err := os.Chtimes(tempPath, c.meta.ModTime, c.meta.ModTime); err != nil {
			return fmt.Errorf("chtimes: %w", err)
		}
	}
	return publish(tempPath, c.destPath)
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	tempPath := c.tempFile.Name()
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	return os.Remove(tempPath)
}

// publish makes tempPath visible at destPath without replacing anything.
// A hard link fails atomically when destPath exists; filesystems without
// hard links fall back to reserving destPath exclusively and renaming
// over the reservation.
func publish(tempPath, destPath string) error {
	err := os.Link(tempPath, destPath)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, destPath)
	}

	f, rerr := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if rerr != nil {
		if errors.Is(rerr, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, destPath)
		}
		return fmt.Errorf("link to %s: %w", destPath, err)
	}
	_ = f.Close() //nolint:errcheck // empty reservation
	if err := os.Rename(tempPath, destPath); err != nil {
		_ = os.Remove(destPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", destPath, err)
	}
	return nil
}
