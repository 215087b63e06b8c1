package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/meigma/ngsarchiver/internal/version"
	"github.com/meigma/ngsarchiver/manifest"
)

// Archive is an opened archive directory.
type Archive struct {
	// Dir is the absolute path of the archive directory.
	Dir string

	// Recognition records how the directory was identified.
	Recognition manifest.Recognition

	// Metadata is nil for legacy archives without a readable record.
	Metadata *manifest.Metadata
}

// Member is one content file recorded in an archive's checksum listings.
type Member struct {
	// Path is the recorded path. Compressed archives record it below the
	// source name ("RUN/sub/file"); copy archives record it relative to the
	// archive root.
	Path string

	Checksum string

	// Container is the volume or plain file holding the member, or "" for
	// copy archives.
	Container string

	// Volume is true when Container is a compressed volume.
	Volume bool
}

// Open opens the archive directory at dir.
func Open(dir string) (*Archive, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotArchive, dir)
	}
	rec, ok := manifest.Recognize(os.DirFS(abs), filepath.Base(abs))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotArchive, dir)
	}
	a := &Archive{Dir: abs, Recognition: rec, Metadata: rec.Metadata}
	if a.Metadata != nil {
		if err := version.EnsureCompatible(a.Metadata.Version); err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
	}
	return a, nil
}

// Type returns the archive type.
func (a *Archive) Type() manifest.ArchiveType {
	return a.Recognition.Type
}

// Name returns the name of the source the archive was made from.
func (a *Archive) Name() string {
	if a.Metadata != nil && a.Metadata.Name != "" {
		return a.Metadata.Name
	}
	return strings.TrimSuffix(filepath.Base(a.Dir), manifest.ArchiveSuffix)
}

// metadataPath returns the path of a file in the metadata directory, or ""
// when the archive has none.
func (a *Archive) metadataPath(name string) string {
	if a.Recognition.Dir == "" {
		return ""
	}
	return filepath.Join(a.Dir, a.Recognition.Dir, name)
}

// Manifest reads the archive manifest. It returns nil without error when
// the archive has no manifest.
func (a *Archive) Manifest() (*manifest.Manifest, error) {
	p := a.metadataPath(manifest.ManifestFile)
	if p == "" {
		return nil, nil
	}
	m, err := manifest.ReadManifestFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return m, err
}

// containerChecksums reads the integrity listing of the top-level files.
// It returns nil without error when there is none.
func (a *Archive) containerChecksums() ([]manifest.Checksum, error) {
	name := manifest.ArchiveChecksumsFile
	if a.Recognition.Legacy {
		name = manifest.LegacyChecksumsFile
	}
	p := a.metadataPath(name)
	if p == "" {
		return nil, nil
	}
	sums, err := manifest.ReadChecksumFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return sums, err
}

// Volumes returns the volume file names in name order.
func (a *Archive) Volumes() ([]string, error) {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if _, _, ok := manifest.ParseVolumeName(e.Name()); ok && e.Type().IsRegular() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// PlainFiles returns the uncompressed files stored beside the volumes.
func (a *Archive) PlainFiles() ([]string, error) {
	listings, err := a.listings()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, l := range listings {
		if !l.volume {
			out = append(out, l.container)
		}
	}
	return out, nil
}

type listing struct {
	name      string
	container string
	volume    bool
}

// listings pairs every top-level checksum listing with the volume or plain
// file it describes. Listings without a partner are ignored.
func (a *Archive) listings() ([]listing, error) {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.Name()] = e.Type().IsRegular()
	}
	var out []listing
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasSuffix(name, manifest.ChecksumExt) {
			continue
		}
		stem := strings.TrimSuffix(name, manifest.ChecksumExt)
		switch {
		case present[stem+manifest.VolumeExt]:
			out = append(out, listing{name: name, container: stem + manifest.VolumeExt, volume: true})
		case present[stem]:
			out = append(out, listing{name: name, container: stem})
		}
	}
	return out, nil
}

// Members lists every content file recorded in the archive, in listing
// order.
func (a *Archive) Members() ([]Member, error) {
	if a.Type() == manifest.TypeCopy {
		sums, err := a.copyChecksums()
		if err != nil {
			return nil, err
		}
		out := make([]Member, 0, len(sums))
		for _, s := range sums {
			out = append(out, Member{Path: s.Path, Checksum: s.Digest})
		}
		return out, nil
	}

	listings, err := a.listings()
	if err != nil {
		return nil, err
	}
	var out []Member
	for _, l := range listings {
		sums, err := manifest.ReadChecksumFile(filepath.Join(a.Dir, l.name))
		if err != nil {
			return nil, err
		}
		for _, s := range sums {
			out = append(out, Member{Path: s.Path, Checksum: s.Digest, Container: l.container, Volume: l.volume})
		}
	}
	return out, nil
}

func (a *Archive) copyChecksums() ([]manifest.Checksum, error) {
	p := a.metadataPath(manifest.CopyChecksumsFile)
	if p == "" {
		return nil, fmt.Errorf("%w: %s has no checksum file", ErrNotArchive, a.Dir)
	}
	return manifest.ReadChecksumFile(p)
}

// TopLevelFiles lists the visible regular files of a compressed archive:
// volumes, plain files and their listings.
func (a *Archive) TopLevelFiles() ([]string, error) {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	slices.Sort(out)
	return out, nil
}
