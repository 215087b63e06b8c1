// Package manifest defines the files that describe an archive: checksum
// listings, the per-path manifest, the JSON metadata record and the
// auxiliary symlink and exclusion listings. Both archive builders write
// these files and every reader parses them.
//
// # Layouts
//
// The metadata directory is ARCHIVE_METADATA. Archives written by older
// releases keep it in the hidden .ngsarchiver directory with a different
// checksum file name and a three-column manifest; Recognize and the parsers
// here accept both.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/meigma/ngsarchiver/probe"
)

// ErrMalformed is returned when a manifest-family file cannot be parsed.
var ErrMalformed = errors.New("manifest: malformed")

// manifestMagic starts the header line of current manifests.
const manifestMagic = "#ngsarchiver-manifest"

// manifestFormat is the header format tag written by WriteTo. Format v2
// escapes tabs, newlines, carriage returns and backslashes in paths and
// targets; v1 and legacy manifests hold them raw.
const manifestFormat = "v2"

// Entry describes one original filesystem object.
type Entry struct {
	// Path is relative to the source root. Directories end in "/".
	Path     string
	Kind     probe.Kind
	Size     int64
	Checksum string
	Owner    string
	Group    string
	Target   string
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Kind == probe.KindDir
}

// CleanPath returns Path without the directory marker.
func (e Entry) CleanPath() string {
	return strings.TrimSuffix(e.Path, "/")
}

// Manifest is the ordered list of entries in an archive.
type Manifest struct {
	// Version is the archiver version recorded in the header; empty for
	// legacy manifests.
	Version string

	// Legacy is true when the manifest only carries owner, group and path.
	Legacy bool

	Entries []Entry
}

// DirPath returns the manifest spelling of a directory path.
func DirPath(p string) string {
	return strings.TrimSuffix(p, "/") + "/"
}

// WriteTo writes the manifest: a header line, then one tab-separated line
// per entry: owner, group, kind, size, checksum, path and, for symlinks,
// target. Paths and targets are escaped so every entry stays on one line
// with a fixed field count.
func (m *Manifest) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}
	fmt.Fprintf(cw, "%s %s archiver=%s\n", manifestMagic, manifestFormat, m.Version)
	for _, e := range m.Entries {
		sum := e.Checksum
		if sum == "" {
			sum = "-"
		}
		fmt.Fprintf(cw, "%s\t%s\t%s\t%d\t%s\t%s", e.Owner, e.Group, e.Kind, e.Size, sum, escapeField(e.Path))
		if e.Kind == probe.KindSymlink {
			fmt.Fprintf(cw, "\t%s", escapeField(e.Target))
		}
		fmt.Fprintln(cw)
	}
	if cw.err != nil {
		return cw.n, cw.err
	}
	return cw.n, bw.Flush()
}

// ParseManifest reads a current or legacy manifest.
func ParseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	escaped := false
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if lineNo == 1 {
				m.Version = headerVersion(line)
				escaped = headerFormat(line) >= 2
			}
			continue
		}
		fields := strings.Split(line, "\t")
		switch {
		case len(fields) == 3:
			m.Legacy = true
			e := Entry{Owner: fields[0], Group: fields[1], Path: fields[2], Kind: probe.KindFile}
			if strings.HasSuffix(e.Path, "/") {
				e.Kind = probe.KindDir
			}
			m.Entries = append(m.Entries, e)
		case len(fields) == 6 || len(fields) == 7:
			e, err := parseEntry(fields, escaped)
			if err != nil {
				return nil, fmt.Errorf("%w: manifest line %d: %v", ErrMalformed, lineNo, err)
			}
			m.Entries = append(m.Entries, e)
		default:
			return nil, fmt.Errorf("%w: manifest line %d has %d fields", ErrMalformed, lineNo, len(fields))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadManifestFile parses the manifest at path.
func ReadManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseManifest(f)
}

// Checksums returns path to checksum for every entry with content.
func (m *Manifest) Checksums() map[string]string {
	out := make(map[string]string, len(m.Entries))
	for _, e := range m.Entries {
		if e.Checksum != "" {
			out[e.Path] = e.Checksum
		}
	}
	return out
}

func parseEntry(fields []string, escaped bool) (Entry, error) {
	kind, err := probe.ParseKind(fields[2])
	if err != nil {
		return Entry{}, err
	}
	size, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("size: %w", err)
	}
	e := Entry{
		Owner: fields[0],
		Group: fields[1],
		Kind:  kind,
		Size:  size,
		Path:  fields[5],
	}
	if fields[4] != "-" {
		e.Checksum = fields[4]
	}
	if len(fields) == 7 {
		e.Target = fields[6]
	}
	if escaped {
		if e.Path, err = unescape(e.Path); err != nil {
			return Entry{}, err
		}
		if e.Target, err = unescape(e.Target); err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}

func headerVersion(line string) string {
	if !strings.HasPrefix(line, manifestMagic) {
		return ""
	}
	for _, f := range strings.Fields(line) {
		if v, ok := strings.CutPrefix(f, "archiver="); ok {
			return v
		}
	}
	return ""
}

// headerFormat returns the numeric format of a "#ngsarchiver-manifest vN"
// header, or 0 when it has none.
func headerFormat(line string) int {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != manifestMagic {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(fields[1], "v"))
	if err != nil {
		return 0
	}
	return n
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
