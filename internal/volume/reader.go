package volume

import (
	"archive/tar"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/meigma/ngsarchiver/manifest"
)

var (
	// ErrStop may be returned by a WalkFunc to end a walk early without
	// error.
	ErrStop = errors.New("volume: stop walk")

	// ErrUnsafeName is returned for member names that would escape the
	// extraction directory.
	ErrUnsafeName = errors.New("volume: unsafe member name")
)

// ReaderPool manages reusable gzip readers to reduce allocation overhead
// when many volumes are read in one operation.
type ReaderPool struct {
	pool *sync.Pool
}

// NewReaderPool creates a new pool of gzip readers.
func NewReaderPool() *ReaderPool {
	return &ReaderPool{
		pool: &sync.Pool{
			New: func() any { return new(gzip.Reader) },
		},
	}
}

// Get returns a reader decompressing r.
// The caller must call the returned release function when done.
// If an error is returned, no release function needs to be called.
func (p *ReaderPool) Get(r io.Reader) (*gzip.Reader, func(), error) {
	if p == nil || p.pool == nil {
		// No pool available, create a one-off reader
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { _ = zr.Close() }, nil //nolint:errcheck // gzip Close only reports the read error already seen
	}

	zr, ok := p.pool.Get().(*gzip.Reader)
	if !ok {
		zr = new(gzip.Reader)
	}
	if err := zr.Reset(r); err != nil {
		// Drop this reader; a failed Reset leaves it unusable
		return nil, nil, err
	}
	return zr, func() {
		_ = zr.Close() //nolint:errcheck // clearing state before pool return
		p.pool.Put(zr)
	}, nil
}

// WalkFunc is called for each member of a volume. r reads the member
// content and is only valid until the function returns.
type WalkFunc func(hdr *tar.Header, r io.Reader) error

// Walk calls fn for every member of the volume at name, in stored order.
// Returning ErrStop from fn ends the walk with a nil error.
func Walk(ctx context.Context, name string, pool *ReaderPool, fn WalkFunc) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, release, err := pool.Get(f)
	if err != nil {
		return fmt.Errorf("volume %s: %w", name, err)
	}
	defer release()

	tr := tar.NewReader(zr)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("volume %s: %w", name, err)
		}
		if err := fn(hdr, tr); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// Checksums recomputes the md5 of every regular file member of the volume
// at name, keyed by cleaned member name. Hard-link members take the
// checksum of the member they link to.
func Checksums(ctx context.Context, name string, pool *ReaderPool) (map[string]string, error) {
	sums := make(map[string]string)
	err := Walk(ctx, name, pool, func(hdr *tar.Header, r io.Reader) error {
		member := CleanName(hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeReg:
			h := manifest.NewHash()
			if _, err := io.Copy(h, r); err != nil {
				return fmt.Errorf("volume %s: member %s: %w", name, member, err)
			}
			sums[member] = hex.EncodeToString(h.Sum(nil))
		case tar.TypeLink:
			sum, ok := sums[CleanName(hdr.Linkname)]
			if !ok {
				return fmt.Errorf("volume %s: member %s links to unknown %s", name, member, hdr.Linkname)
			}
			sums[member] = sum
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sums, nil
}

// Names lists the cleaned member names of the volume at name.
func Names(ctx context.Context, name string, pool *ReaderPool) ([]string, error) {
	var names []string
	err := Walk(ctx, name, pool, func(hdr *tar.Header, _ io.Reader) error {
		names = append(names, CleanName(hdr.Name))
		return nil
	})
	return names, err
}

// CleanName normalizes a member name: no leading "./", no trailing slash.
func CleanName(name string) string {
	return strings.TrimPrefix(path.Clean(name), "./")
}

// SafeName returns the cleaned member name, rejecting absolute names and
// names that climb out of the extraction root.
func SafeName(name string) (string, error) {
	clean := CleanName(name)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") || clean == "." {
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return clean, nil
}
