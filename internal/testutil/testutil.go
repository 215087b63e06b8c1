// Package testutil materializes directory trees for tests.
package testutil

import (
	"crypto/md5" //nolint:gosec // md5 matches the archive checksum format
	"encoding/hex"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// Node describes one object to create with WriteTree.
type Node struct {
	// Content is written to regular files.
	Content []byte

	// Mode overrides the permission bits; zero keeps 0o644 / 0o755.
	Mode fs.FileMode

	// Dir creates a directory.
	Dir bool

	// Link creates a symlink with this target text.
	Link string

	// HardLink creates a hard link to another node path in the same tree.
	HardLink string
}

// File returns a regular file node.
func File(content string) Node {
	return Node{Content: []byte(content)}
}

// Dir returns a directory node.
func Dir() Node {
	return Node{Dir: true}
}

// Symlink returns a symlink node.
func Symlink(target string) Node {
	return Node{Link: target}
}

// HardLink returns a node hard-linked to path.
func HardLink(path string) Node {
	return Node{HardLink: path}
}

// WriteTree creates nodes under root, keyed by slash-separated relative
// path. Parent directories are created implicitly. Regular files and
// directories are created first, then hard links, then symlinks, and
// permission overrides are applied last, deepest first, so restrictive
// directory modes do not block creation.
func WriteTree(tb testing.TB, root string, nodes map[string]Node) {
	tb.Helper()

	paths := make([]string, 0, len(nodes))
	for p := range nodes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	mkparent := func(p string) {
		require.NoError(tb, os.MkdirAll(filepath.Dir(p), 0o755))
	}
	for _, rel := range paths {
		n := nodes[rel]
		abs := filepath.Join(root, filepath.FromSlash(rel))
		switch {
		case n.Dir:
			require.NoError(tb, os.MkdirAll(abs, 0o755))
		case n.Link == "" && n.HardLink == "":
			mkparent(abs)
			require.NoError(tb, os.WriteFile(abs, n.Content, 0o644))
		}
	}
	for _, rel := range paths {
		n := nodes[rel]
		if n.HardLink == "" {
			continue
		}
		abs := filepath.Join(root, filepath.FromSlash(rel))
		mkparent(abs)
		require.NoError(tb, os.Link(filepath.Join(root, filepath.FromSlash(n.HardLink)), abs))
	}
	for _, rel := range paths {
		n := nodes[rel]
		if n.Link == "" {
			continue
		}
		abs := filepath.Join(root, filepath.FromSlash(rel))
		mkparent(abs)
		require.NoError(tb, os.Symlink(n.Link, abs))
	}
	for i := len(paths) - 1; i >= 0; i-- {
		n := nodes[paths[i]]
		if n.Mode == 0 || n.Link != "" {
			continue
		}
		abs := filepath.Join(root, filepath.FromSlash(paths[i]))
		require.NoError(tb, os.Chmod(abs, n.Mode))
	}
	tb.Cleanup(func() { RestoreModes(root) })
}

// RestoreModes makes every directory and file under root owner-accessible
// again so t.TempDir cleanup can remove it.
func RestoreModes(root string) {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error { //nolint:errcheck // best-effort cleanup
		if d == nil {
			return nil
		}
		if d.IsDir() {
			_ = os.Chmod(p, 0o755) //nolint:errcheck // best-effort cleanup
		} else if d.Type().IsRegular() {
			_ = os.Chmod(p, 0o644) //nolint:errcheck // best-effort cleanup
		}
		return nil
	})
}

// RandomBytes returns n pseudo-random bytes derived from seed. The content
// compresses poorly, which keeps volume sizes close to member sizes.
func RandomBytes(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // test data
	b := make([]byte, n)
	for i := 0; i+8 <= n; i += 8 {
		v := r.Uint64()
		for j := range 8 {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	for i := n - n%8; i < n; i++ {
		b[i] = byte(r.Uint32())
	}
	return b
}

// MD5Hex returns the hex md5 of data.
func MD5Hex(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // archive checksum format
	return hex.EncodeToString(sum[:])
}

// SkipIfRoot skips tests that rely on permission denial.
func SkipIfRoot(tb testing.TB) {
	tb.Helper()
	if os.Geteuid() == 0 {
		tb.Skip("permission checks are bypassed when running as root")
	}
}
