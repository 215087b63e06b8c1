// Package probe stats single paths inside a root directory without following
// symlinks.
//
// A probe never fails because of permission problems or symlink pathologies:
// those are recorded on the returned Entry. Only I/O failures such as a path
// vanishing mid-walk surface as a *ProbeError.
//
// # Symlink resolution
//
// Link chains are resolved one hop at a time. Each intermediate link's
// (device, inode) is recorded; revisiting one, or exceeding the hop bound,
// marks the link LinkUnresolvable. A chain that ends at a missing path is
// LinkBroken, and one that ends outside the root is LinkExternal.
package probe

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/meigma/ngsarchiver/internal/platform"
)

// DefaultMaxHops bounds symlink chain resolution. It matches the Linux
// kernel's MAXSYMLINKS.
const DefaultMaxHops = 40

// ProbeError reports an I/O failure that is not a permission problem.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Prober probes paths relative to a fixed root.
type Prober struct {
	root     string
	realRoot string
	maxHops  int
}

// Option configures a Prober.
type Option func(*Prober)

// WithMaxHops sets the symlink hop bound. Values below one use DefaultMaxHops.
func WithMaxHops(n int) Option {
	return func(p *Prober) {
		p.maxHops = n
	}
}

// New returns a Prober rooted at root.
func New(root string, opts ...Option) (*Prober, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	realRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, &ProbeError{Path: abs, Err: err}
	}
	p := &Prober{root: abs, realRoot: realRoot}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxHops < 1 {
		p.maxHops = DefaultMaxHops
	}
	return p, nil
}

// Root returns the absolute root path.
func (p *Prober) Root() string {
	return p.root
}

// Abs returns the absolute filesystem path for a root-relative path.
func (p *Prober) Abs(rel string) string {
	if rel == "" || rel == "." {
		return p.root
	}
	return filepath.Join(p.root, filepath.FromSlash(rel))
}

// Probe describes the object at rel, a slash-separated root-relative path.
func (p *Prober) Probe(rel string) (Entry, error) {
	if rel == "" {
		rel = "."
	}
	abs := p.Abs(rel)

	info, err := os.Lstat(abs)
	if err != nil {
		if platform.IsPermission(err) {
			return Entry{Path: rel, Kind: KindFile}, nil
		}
		return Entry{}, &ProbeError{Path: abs, Err: err}
	}

	id := platform.Identify(info)
	e := Entry{
		Path:    rel,
		Size:    info.Size(),
		Mode:    info.Mode(),
		UID:     id.UID,
		GID:     id.GID,
		ModTime: info.ModTime(),
		ID:      id.ID,
		Nlink:   id.Nlink,
	}

	mode := info.Mode()
	switch {
	case mode.IsDir():
		e.Kind = KindDir
		e.Readable, err = dirReadable(abs)
	case mode&fs.ModeSymlink != 0:
		e.Kind = KindSymlink
		e.Readable = true
		e.Target, e.LinkStatus, e.Resolved, e.TargetIsDir = p.resolve(abs, id.ID)
	case mode.IsRegular():
		e.Kind = KindFile
		if id.Nlink > 1 {
			e.Kind = KindHardLink
		}
		e.Readable, err = fileReadable(abs)
	default:
		e.Kind = KindSpecial
		e.Readable = platform.Accessible(abs, platform.AccessRead)
	}
	if err != nil {
		return Entry{}, &ProbeError{Path: abs, Err: err}
	}
	e.Writable = platform.Accessible(abs, platform.AccessWrite)
	return e, nil
}

// fileReadable opens the file to find out whether it can be read.
func fileReadable(abs string) (bool, error) {
	f, err := platform.OpenFileNoFollow(abs)
	switch {
	case err == nil:
		_ = f.Close() //nolint:errcheck // probe only
		return true, nil
	case platform.IsPermission(err):
		return false, nil
	default:
		return false, err
	}
}

// dirReadable requires both listing and traversal.
func dirReadable(abs string) (bool, error) {
	f, err := os.Open(abs)
	if err != nil {
		if platform.IsPermission(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		if platform.IsPermission(err) {
			return false, nil
		}
		return false, err
	}
	return platform.Accessible(abs, platform.AccessExec), nil
}

// resolve follows the chain starting at the link abs.
func (p *Prober) resolve(abs string, self platform.FileID) (target string, status LinkStatus, resolved string, isDir bool) {
	target, err := os.Readlink(abs)
	if err != nil {
		return "", LinkUnresolvable, "", false
	}

	visited := map[platform.FileID]struct{}{self: {}}
	cur, next := abs, target
	for range p.maxHops {
		if !filepath.IsAbs(next) {
			// Relative targets resolve against the directory that really
			// holds the link, which differs from the lexical parent when
			// the link was reached through a dirlink.
			dir, err := filepath.EvalSymlinks(filepath.Dir(cur))
			if err != nil {
				return target, LinkUnresolvable, "", false
			}
			next = filepath.Join(dir, next)
		}
		info, err := os.Lstat(next)
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist), platform.IsNotDir(err):
			return target, LinkBroken, "", false
		default:
			return target, LinkUnresolvable, "", false
		}

		if info.Mode()&fs.ModeSymlink == 0 {
			realPath, err := filepath.EvalSymlinks(next)
			if err != nil {
				return target, LinkUnresolvable, "", false
			}
			if !within(p.realRoot, realPath) {
				return target, LinkExternal, realPath, info.IsDir()
			}
			return target, LinkOK, realPath, info.IsDir()
		}

		id := platform.Identify(info).ID
		if id != (platform.FileID{}) {
			if _, seen := visited[id]; seen {
				return target, LinkUnresolvable, "", false
			}
			visited[id] = struct{}{}
		}
		link, err := os.Readlink(next)
		if err != nil {
			return target, LinkUnresolvable, "", false
		}
		cur, next = next, link
	}
	return target, LinkUnresolvable, "", false
}

// within reports whether p is root or below it. Both must be clean.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
