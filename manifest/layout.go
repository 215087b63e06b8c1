package manifest

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

// File and directory names inside an archive.
const (
	MetadataDir       = "ARCHIVE_METADATA"
	LegacyMetadataDir = ".ngsarchiver"

	MetadataFile          = "archive_metadata.json"
	ArchiveChecksumsFile  = "archive_checksums.md5"
	LegacyChecksumsFile   = "archive.md5"
	CopyChecksumsFile     = "checksums.md5"
	ManifestFile          = "manifest.txt"
	ExcludedFile          = "excluded.txt"
	SymlinksFile          = "symlinks.txt"
	BrokenSymlinksFile    = "broken_symlinks.txt"
	UnresolvableLinksFile = "unresolvable_symlinks.txt"
	TreeFile              = "tree.txt"
	FileListFile          = "filelist.txt"

	// ArchiveSuffix is appended to the source name for compressed archives.
	ArchiveSuffix = ".archive"

	// VolumeExt ends every volume file name.
	VolumeExt = ".tar.gz"

	// ChecksumExt ends per-volume and per-file checksum listings.
	ChecksumExt = ".md5"
)

var volumeName = regexp.MustCompile(`^(.+?)(\.[0-9]{2,})?\.tar\.gz$`)

// VolumeFileName returns the file name for volume index of subarchive sub.
// Negative indexes produce the unnumbered single-volume name.
func VolumeFileName(sub string, index int) string {
	if index < 0 {
		return sub + VolumeExt
	}
	return fmt.Sprintf("%s.%02d%s", sub, index, VolumeExt)
}

// ParseVolumeName splits a volume file name into subarchive name and the
// numbered suffix ("" for single-volume names).
func ParseVolumeName(name string) (sub, number string, ok bool) {
	m := volumeName.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimPrefix(m[2], "."), true
}

// ChecksumFileFor returns the listing name paired with a volume or plain file.
func ChecksumFileFor(name string) string {
	return strings.TrimSuffix(name, VolumeExt) + ChecksumExt
}

// Recognition describes an archive directory found by Recognize.
type Recognition struct {
	Type ArchiveType

	// Dir is the metadata directory name, or "" when only the volume
	// pattern identified the archive.
	Dir string

	// Legacy is true for layouts written by older releases.
	Legacy bool

	// Metadata is set when a metadata record could be read.
	Metadata *Metadata
}

// Recognizer inspects the top level of a directory. name is the
// directory's own base name.
type Recognizer func(fsys fs.FS, name string) (Recognition, bool)

// Recognizers are tried in order by Recognize.
var Recognizers = []Recognizer{
	recognizeCanonical,
	recognizeLegacyHidden,
	recognizeVolumePattern,
}

// Recognize reports whether fsys, the directory called name, is the root
// of an archive directory.
func Recognize(fsys fs.FS, name string) (Recognition, bool) {
	for _, r := range Recognizers {
		if rec, ok := r(fsys, name); ok {
			return rec, true
		}
	}
	return Recognition{}, false
}

func recognizeCanonical(fsys fs.FS, _ string) (Recognition, bool) {
	if !isDir(fsys, MetadataDir) {
		return Recognition{}, false
	}
	rec := Recognition{Dir: MetadataDir}
	md, err := readMetadataFS(fsys, path.Join(MetadataDir, MetadataFile))
	if err == nil {
		rec.Metadata = md
		rec.Type = md.Type
	}
	if rec.Type == "" {
		switch {
		case md != nil && len(md.Subarchives) > 0:
			rec.Type = TypeCompressed
		case exists(fsys, path.Join(MetadataDir, CopyChecksumsFile)):
			rec.Type = TypeCopy
		default:
			rec.Type = TypeCompressed
		}
	}
	return rec, true
}

func recognizeLegacyHidden(fsys fs.FS, _ string) (Recognition, bool) {
	if !isDir(fsys, LegacyMetadataDir) {
		return Recognition{}, false
	}
	rec := Recognition{Type: TypeCompressed, Dir: LegacyMetadataDir, Legacy: true}
	if md, err := readMetadataFS(fsys, path.Join(LegacyMetadataDir, MetadataFile)); err == nil {
		rec.Metadata = md
	}
	return rec, true
}

// recognizeVolumePattern accepts a NAME.archive directory without a
// metadata directory when every top-level entry is a regular file that is
// a volume, a checksum listing, or a plain file with its listing, every
// volume has its listing and at least one volume exists. Run directories
// that merely ship a tarball with an md5 file never match.
func recognizeVolumePattern(fsys fs.FS, name string) (Recognition, bool) {
	if !strings.HasSuffix(name, ArchiveSuffix) {
		return Recognition{}, false
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return Recognition{}, false
	}
	regular := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			return Recognition{}, false
		}
		regular[e.Name()] = true
	}
	volumes := 0
	for n := range regular {
		if _, _, ok := ParseVolumeName(n); ok {
			if !regular[ChecksumFileFor(n)] {
				return Recognition{}, false
			}
			volumes++
			continue
		}
		if strings.HasSuffix(n, ChecksumExt) && listsSomething(regular, n) {
			continue
		}
		if !regular[ChecksumFileFor(n)] {
			return Recognition{}, false
		}
	}
	if volumes == 0 {
		return Recognition{}, false
	}
	return Recognition{Type: TypeCompressed, Legacy: true}, true
}

// listsSomething reports whether listing is the checksum file of a volume
// or plain file present in names.
func listsSomething(names map[string]bool, listing string) bool {
	stem := strings.TrimSuffix(listing, ChecksumExt)
	return names[stem+VolumeExt] || names[stem]
}

func readMetadataFS(fsys fs.FS, name string) (*Metadata, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	return ParseMetadata(data)
}

func isDir(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && info.IsDir()
}

func exists(fsys fs.FS, name string) bool {
	_, err := fs.Stat(fsys, name)
	return err == nil
}
