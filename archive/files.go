package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/manifest"
	"github.com/meigma/ngsarchiver/probe"
	"github.com/meigma/ngsarchiver/tree"
)

// writeFile creates path, which must not exist, and fills it with fn.
func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		_ = f.Close()       //nolint:errcheck // best-effort cleanup
		_ = os.Remove(path) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func writeChecksumFile(path string, sums []manifest.Checksum) error {
	return writeFile(path, func(w io.Writer) error {
		return manifest.WriteChecksums(w, sums)
	})
}

// metadataWriter writes the files of a metadata directory and remembers
// which optional listings were produced.
type metadataWriter struct {
	dir string
}

func newMetadataWriter(archiveDir string) (*metadataWriter, error) {
	dir := filepath.Join(archiveDir, manifest.MetadataDir)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, err
	}
	return &metadataWriter{dir: dir}, nil
}

func (m *metadataWriter) path(name string) string {
	return filepath.Join(m.dir, name)
}

func (m *metadataWriter) metadata(md *manifest.Metadata) error {
	data, err := md.Marshal()
	if err != nil {
		return err
	}
	return writeFile(m.path(manifest.MetadataFile), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func (m *metadataWriter) manifest(mf *manifest.Manifest) error {
	return writeFile(m.path(manifest.ManifestFile), func(w io.Writer) error {
		_, err := mf.WriteTo(w)
		return err
	})
}

func (m *metadataWriter) checksums(name string, sums []manifest.Checksum) error {
	return writeChecksumFile(m.path(name), sums)
}

// listings writes the excluded-files list and the symlink listings, each
// only when it has content.
func (m *metadataWriter) listings(excluded []string, links, broken, unresolvable []manifest.LinkRecord) error {
	if len(excluded) > 0 {
		err := writeFile(m.path(manifest.ExcludedFile), func(w io.Writer) error {
			return manifest.WritePathList(w, excluded)
		})
		if err != nil {
			return err
		}
	}
	for name, recs := range map[string][]manifest.LinkRecord{
		manifest.SymlinksFile:          links,
		manifest.BrokenSymlinksFile:    broken,
		manifest.UnresolvableLinksFile: unresolvable,
	} {
		if len(recs) == 0 {
			continue
		}
		err := writeFile(m.path(name), func(w io.Writer) error {
			return manifest.WriteLinkListing(w, recs)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// renderings writes tree.txt and filelist.txt.
func (m *metadataWriter) renderings(t *tree.Tree) error {
	if err := writeFile(m.path(manifest.TreeFile), t.RenderTree); err != nil {
		return err
	}
	return writeFile(m.path(manifest.FileListFile), t.WriteFileList)
}

// linkRecords partitions the symlinks of t by resolution status.
func linkRecords(t *tree.Tree) (all, broken, unresolvable []manifest.LinkRecord) {
	for _, e := range t.Entries() {
		if e.Kind != probe.KindSymlink {
			continue
		}
		rec := manifest.LinkRecord{Path: e.Path, Target: e.Target}
		all = append(all, rec)
		switch e.LinkStatus {
		case probe.LinkBroken:
			broken = append(broken, rec)
		case probe.LinkUnresolvable:
			unresolvable = append(unresolvable, rec)
		}
	}
	return all, broken, unresolvable
}

// manifestEntry describes e for the manifest. sum is the content checksum
// of regular files.
func manifestEntry(e probe.Entry, sum string, owners *platform.Owners) manifest.Entry {
	me := manifest.Entry{
		Path:     e.Path,
		Kind:     e.Kind,
		Checksum: sum,
		Target:   e.Target,
	}
	me.Owner, _ = owners.UserName(e.UID)
	me.Group, _ = owners.GroupName(e.GID)
	switch {
	case e.IsDir():
		me.Path = manifest.DirPath(e.Path)
	case e.IsRegular():
		me.Size = e.Size
	}
	return me
}

// chownTree sets the group of every object below root.
func chownTree(root string, gid uint32) error {
	return filepath.WalkDir(root, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(p, -1, int(gid))
	})
}

// currentUser returns the name of the acting user.
func currentUser(owners *platform.Owners) string {
	name, _ := owners.UserName(uint32(os.Getuid())) //nolint:gosec // uid fits in uint32
	return name
}

func discardLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

// wrapExists maps a lost race for the destination onto ErrAlreadyExists.
func wrapExists(err error, sentinel error) error {
	if errors.Is(err, sentinel) {
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	}
	return err
}
