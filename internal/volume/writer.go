package volume

import (
	"archive/tar"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/manifest"
	"github.com/meigma/ngsarchiver/probe"
)

// DefaultLevel is the gzip level used when none is configured.
const DefaultLevel = 6

var (
	// ErrUnsupported is returned when adding an entry kind that volumes
	// cannot hold, such as a socket or device.
	ErrUnsupported = errors.New("volume: unsupported entry kind")

	// ErrChanged is returned in strict mode when a file is modified while
	// it is being archived.
	ErrChanged = errors.New("volume: file changed during archive creation")
)

// Item is one entry to add to a volume.
type Item struct {
	// Entry is the probed source object.
	Entry probe.Entry

	// Name is the slash-separated member name stored in the volume.
	Name string

	// Source is the absolute path the content is read from.
	Source string
}

// Result describes a closed volume.
type Result struct {
	Path string

	// Checksum is the md5 of the compressed volume file; Size its length.
	Checksum string
	Size     int64

	// Members holds the md5 of every regular file member, keyed by member
	// name, in stored order.
	Members []manifest.Checksum

	// ContentSize sums the uncompressed sizes of the members.
	ContentSize int64
}

// WriterOption configures a Writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	level  int
	strict bool
	owners *platform.Owners
}

// WithLevel sets the gzip compression level (1-9).
func WithLevel(level int) WriterOption {
	return func(c *writerConfig) {
		c.level = level
	}
}

// WithStrict fails the volume when a file changes while it is read.
func WithStrict(strict bool) WriterOption {
	return func(c *writerConfig) {
		c.strict = strict
	}
}

// WithOwners sets the cache used to record user and group names.
func WithOwners(o *platform.Owners) WriterOption {
	return func(c *writerConfig) {
		c.owners = o
	}
}

type linked struct {
	name string
	sum  string
}

// Writer streams entries into a new tar.gz volume.
//
// Regular file members are hashed as they are copied, and the compressed
// output is hashed as it is written, so closing a volume needs no second
// pass over either. A Writer is not safe for concurrent use.
type Writer struct {
	cfg   writerConfig
	f     *os.File
	hash  hash.Hash
	count int64
	gz    *gzip.Writer
	tw    *tar.Writer
	links map[platform.FileID]linked
	res   Result
}

// Create creates the volume file at path, which must not exist.
func Create(path string, opts ...WriterOption) (*Writer, error) {
	cfg := writerConfig{level: DefaultLevel}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.owners == nil {
		cfg.owners = platform.NewOwners()
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		cfg:   cfg,
		f:     f,
		hash:  manifest.NewHash(),
		links: make(map[platform.FileID]linked),
		res:   Result{Path: path},
	}
	gz, err := gzip.NewWriterLevel(io.MultiWriter(f, w.hash, countWriter{&w.count}), cfg.level)
	if err != nil {
		_ = f.Close()       //nolint:errcheck // best-effort cleanup
		_ = os.Remove(path) //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("volume %s: %w", path, err)
	}
	w.gz = gz
	w.tw = tar.NewWriter(gz)
	return w, nil
}

// Add appends one entry. Directories and symlinks are stored as headers
// only. A hard-linked file whose group already has a member in this volume
// is stored as a tar hard link instead of a second copy of its content.
func (w *Writer) Add(it Item) error {
	e := it.Entry
	hdr := &tar.Header{
		Name:    it.Name,
		Mode:    int64(e.Mode.Perm()),
		ModTime: e.ModTime,
		Uid:     int(e.UID),
		Gid:     int(e.GID),
	}
	if name, ok := w.cfg.owners.UserName(e.UID); ok {
		hdr.Uname = name
	}
	if name, ok := w.cfg.owners.GroupName(e.GID); ok {
		hdr.Gname = name
	}

	switch e.Kind {
	case probe.KindDir:
		hdr.Typeflag = tar.TypeDir
		hdr.Name = manifest.DirPath(it.Name)
		return w.tw.WriteHeader(hdr)
	case probe.KindSymlink:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = e.Target
		return w.tw.WriteHeader(hdr)
	case probe.KindFile, probe.KindHardLink:
		if e.Kind == probe.KindHardLink {
			if l, ok := w.links[e.ID]; ok {
				hdr.Typeflag = tar.TypeLink
				hdr.Linkname = l.name
				if err := w.tw.WriteHeader(hdr); err != nil {
					return err
				}
				w.res.Members = append(w.res.Members, manifest.Checksum{Digest: l.sum, Path: it.Name})
				return nil
			}
		}
		sum, err := w.addFile(hdr, it)
		if err != nil {
			return err
		}
		if e.Kind == probe.KindHardLink {
			w.links[e.ID] = linked{name: it.Name, sum: sum}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s (%s)", ErrUnsupported, it.Name, e.SpecialType())
	}
}

func (w *Writer) addFile(hdr *tar.Header, it Item) (string, error) {
	f, err := platform.OpenFileNoFollow(it.Source)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", it.Source, err)
	}
	defer f.Close()

	before, err := f.Stat()
	if err != nil {
		return "", err
	}
	if err := ValidateFileInfo(it.Source, it.Entry, before, w.cfg.strict); err != nil {
		return "", err
	}

	hdr.Typeflag = tar.TypeReg
	hdr.Size = before.Size()
	if err := w.tw.WriteHeader(hdr); err != nil {
		return "", err
	}
	h := manifest.NewHash()
	n, err := io.CopyN(w.tw, io.TeeReader(f, h), hdr.Size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: %s: short read (%d of %d bytes)", ErrChanged, it.Source, n, hdr.Size)
		}
		return "", fmt.Errorf("archive %s: %w", it.Source, err)
	}
	if err := CheckFileUnchanged(f, it.Source, before, w.cfg.strict); err != nil {
		return "", err
	}

	sum := hex.EncodeToString(h.Sum(nil))
	w.res.Members = append(w.res.Members, manifest.Checksum{Digest: sum, Path: it.Name})
	w.res.ContentSize += n
	return sum, nil
}

// Close finishes the volume and returns its description.
func (w *Writer) Close() (Result, error) {
	if err := w.tw.Close(); err != nil {
		w.Abort()
		return Result{}, err
	}
	if err := w.gz.Close(); err != nil {
		w.Abort()
		return Result{}, err
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.res.Path) //nolint:errcheck // best-effort cleanup
		return Result{}, err
	}
	w.res.Checksum = hex.EncodeToString(w.hash.Sum(nil))
	w.res.Size = w.count
	return w.res, nil
}

// Abort closes and removes the partially written volume.
func (w *Writer) Abort() {
	_ = w.f.Close()           //nolint:errcheck // we're cleaning up
	_ = os.Remove(w.res.Path) //nolint:errcheck // best-effort cleanup
}

type countWriter struct {
	n *int64
}

func (c countWriter) Write(p []byte) (int, error) {
	*c.n += int64(len(p))
	return len(p), nil
}
