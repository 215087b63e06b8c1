package manifest

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ngsarchiver/probe"
)

const emptyMD5 = "d41d8cd98f00b204e9800998ecf8427e"

func TestChecksumsPathWithSpaces(t *testing.T) {
	t.Parallel()

	sums := []Checksum{
		{Digest: emptyMD5, Path: "run/plain.txt"},
		{Digest: emptyMD5, Path: "run/with  two spaces.txt"},
		{Digest: emptyMD5, Path: " leading space"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteChecksums(&buf, sums))

	got, err := ParseChecksums(&buf)
	require.NoError(t, err)
	assert.Equal(t, sums, got)
}

func TestChecksumsEscapeControlCharacters(t *testing.T) {
	t.Parallel()

	sums := []Checksum{
		{Digest: emptyMD5, Path: "run/new\nline.txt"},
		{Digest: emptyMD5, Path: `run/back\slash`},
		{Digest: emptyMD5, Path: "run/tab\there"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteChecksums(&buf, sums))
	assert.Equal(t,
		"\\"+emptyMD5+"  run/new\\nline.txt\n"+
			"\\"+emptyMD5+"  run/back\\\\slash\n"+
			emptyMD5+"  run/tab\there\n",
		buf.String(), "md5sum escaping: tabs need none")

	got, err := ParseChecksums(&buf)
	require.NoError(t, err)
	assert.Equal(t, sums, got)

	_, err = ParseChecksums(strings.NewReader(`\` + emptyMD5 + "  bad\\qescape\n"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseChecksumsBinaryMarker(t *testing.T) {
	t.Parallel()

	got, err := ParseChecksums(strings.NewReader(strings.ToUpper(emptyMD5) + " *data.bin\n\n"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, emptyMD5, got[0].Digest)
	assert.Equal(t, "data.bin", got[0].Path)
}

func TestParseChecksumsRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		"notadigest  file",
		emptyMD5 + " single-space",
		emptyMD5[:31] + "  short",
		emptyMD5 + "  ",
	} {
		_, err := ParseChecksums(strings.NewReader(line + "\n"))
		assert.ErrorIs(t, err, ErrMalformed, line)
	}
}

func TestHashReader(t *testing.T) {
	t.Parallel()

	sum, n, err := HashReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, emptyMD5, sum)
	assert.Equal(t, int64(0), n)
}

func TestManifestRoundTrip(t *testing.T) {
	t.Parallel()

	m := &Manifest{
		Version: "1.4.0",
		Entries: []Entry{
			{Path: "sub/", Kind: probe.KindDir, Owner: "alice", Group: "lab"},
			{Path: "sub/a b.txt", Kind: probe.KindFile, Size: 3, Checksum: emptyMD5, Owner: "alice", Group: "lab"},
			{Path: "sub/link", Kind: probe.KindSymlink, Target: "a b.txt", Owner: "1001", Group: "1001"},
		},
	}
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(buf.String(), "#ngsarchiver-manifest v2 archiver=1.4.0\n"))

	got, err := ParseManifest(&buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.Equal(t, map[string]string{"sub/a b.txt": emptyMD5}, got.Checksums())
	assert.True(t, got.Entries[0].IsDir())
	assert.Equal(t, "sub", got.Entries[0].CleanPath())
}

func TestManifestEscapesPaths(t *testing.T) {
	t.Parallel()

	m := &Manifest{
		Version: "1.4.0",
		Entries: []Entry{
			{Path: "Data/a\tb.txt", Kind: probe.KindFile, Size: 1, Checksum: emptyMD5, Owner: "alice", Group: "lab"},
			{Path: "Data/a\nb.txt", Kind: probe.KindFile, Size: 1, Checksum: emptyMD5, Owner: "alice", Group: "lab"},
			{Path: `Data/back\slash`, Kind: probe.KindSymlink, Target: "a\tb.txt", Owner: "alice", Group: "lab"},
		},
	}
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(buf.String(), "\n"), "one line per entry plus the header")

	got, err := ParseManifest(&buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestParseV1ManifestIsRaw(t *testing.T) {
	t.Parallel()

	v1 := "#ngsarchiver-manifest v1 archiver=1.0.0\n" +
		"alice\tlab\tfile\t1\t" + emptyMD5 + "\tdir\\name\\n.txt\n"
	m, err := ParseManifest(strings.NewReader(v1))
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, `dir\name\n.txt`, m.Entries[0].Path)
}

func TestParseLegacyManifest(t *testing.T) {
	t.Parallel()

	legacy := "alice\tlab\tsub\nalice\tlab\tsub/file.txt\n"
	m, err := ParseManifest(strings.NewReader(legacy))
	require.NoError(t, err)
	assert.True(t, m.Legacy)
	assert.Empty(t, m.Version)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, "sub/file.txt", m.Entries[1].Path)
	assert.Equal(t, "alice", m.Entries[1].Owner)
}

func TestMetadataLegacyVolumeSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want Size
	}{
		{`{"volume_size": null}`, 0},
		{`{"volume_size": "250M"}`, 250 * 1024 * 1024},
		{`{"volume_size": 4096}`, 4096},
	}
	for _, tt := range tests {
		md, err := ParseMetadata([]byte(tt.raw))
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, md.VolumeSize)
	}

	_, err := ParseMetadata([]byte(`{"volume_size": "lots"}`))
	assert.Error(t, err)
}

func TestMetadataMarshal(t *testing.T) {
	t.Parallel()

	md := &Metadata{
		Name:         "run",
		Type:         TypeCompressed,
		Subarchives:  []string{"run.00.tar.gz"},
		CreationDate: "2024-03-01 10:11:12",
		VolumeSize:   1024,
		HadSymlinks:  true,
	}
	data, err := md.Marshal()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.InDelta(t, 1024, raw["volume_size"], 0)
	assert.Equal(t, "compressed", raw["type"])

	back, err := ParseMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, md, back)
	assert.True(t, back.RequiresSymlinks())
	assert.False(t, back.RequiresCaseSensitivity())

	created, err := back.Created()
	require.NoError(t, err)
	assert.Equal(t, 2024, created.Year())
}

func TestVolumeNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "run.tar.gz", VolumeFileName("run", -1))
	assert.Equal(t, "run.00.tar.gz", VolumeFileName("run", 0))
	assert.Equal(t, "run.12.tar.gz", VolumeFileName("run", 12))
	assert.Equal(t, "run.12.md5", ChecksumFileFor("run.12.tar.gz"))
	assert.Equal(t, "projects.info.md5", ChecksumFileFor("projects.info"))

	sub, num, ok := ParseVolumeName("PJB.v2.03.tar.gz")
	require.True(t, ok)
	assert.Equal(t, "PJB.v2", sub)
	assert.Equal(t, "03", num)

	sub, num, ok = ParseVolumeName("processing.tar.gz")
	require.True(t, ok)
	assert.Equal(t, "processing", sub)
	assert.Empty(t, num)

	_, _, ok = ParseVolumeName("notes.txt")
	assert.False(t, ok)
}

func TestRecognize(t *testing.T) {
	t.Parallel()

	compressedMeta := `{"name":"run","subarchives":["run.tar.gz"],"ngsarchiver_version":"1.0"}`
	copyMeta := `{"name":"run","type":"copy"}`

	tests := []struct {
		name   string
		dir    string
		fsys   fstest.MapFS
		ok     bool
		typ    ArchiveType
		mdDir  string
		legacy bool
	}{
		{
			name: "canonical compressed",
			fsys: fstest.MapFS{
				"ARCHIVE_METADATA/archive_metadata.json": {Data: []byte(compressedMeta)},
				"run.tar.gz": {},
				"run.md5":    {},
			},
			ok: true, typ: TypeCompressed, mdDir: MetadataDir,
		},
		{
			name: "canonical copy",
			fsys: fstest.MapFS{
				"ARCHIVE_METADATA/archive_metadata.json": {Data: []byte(copyMeta)},
				"data/file": {},
			},
			ok: true, typ: TypeCopy, mdDir: MetadataDir,
		},
		{
			name: "copy inferred from checksum file",
			fsys: fstest.MapFS{
				"ARCHIVE_METADATA/checksums.md5": {},
			},
			ok: true, typ: TypeCopy, mdDir: MetadataDir,
		},
		{
			name: "legacy hidden dir",
			fsys: fstest.MapFS{
				".ngsarchiver/archive_metadata.json": {Data: []byte(compressedMeta)},
				"run.tar.gz":                         {},
			},
			ok: true, typ: TypeCompressed, mdDir: LegacyMetadataDir, legacy: true,
		},
		{
			name: "volume pattern only",
			dir:  "run.archive",
			fsys: fstest.MapFS{
				"run.00.tar.gz":     {},
				"run.00.md5":        {},
				"run.01.tar.gz":     {},
				"run.01.md5":        {},
				"projects.info":     {},
				"projects.info.md5": {},
			},
			ok: true, typ: TypeCompressed, legacy: true,
		},
		{
			name: "volume pattern outside an archive directory",
			dir:  "run",
			fsys: fstest.MapFS{
				"reads.tar.gz": {},
				"reads.md5":    {},
			},
		},
		{
			name: "volume pattern with unlisted file",
			dir:  "run.archive",
			fsys: fstest.MapFS{
				"reads.tar.gz":    {},
				"reads.md5":       {},
				"SampleSheet.csv": {},
			},
		},
		{
			name: "volume pattern with subdirectory",
			dir:  "run.archive",
			fsys: fstest.MapFS{
				"reads.tar.gz": {},
				"reads.md5":    {},
				"Data/x":       {},
			},
		},
		{
			name: "volume without listing is data",
			fsys: fstest.MapFS{
				"reads.tar.gz": {},
				"notes.txt":    {},
			},
		},
		{
			name: "plain run",
			fsys: fstest.MapFS{
				"SampleSheet.csv": {},
				"Data/x":          {},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := tt.dir
			if dir == "" {
				dir = "run.archive"
			}
			rec, ok := Recognize(tt.fsys, dir)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.typ, rec.Type)
			assert.Equal(t, tt.mdDir, rec.Dir)
			assert.Equal(t, tt.legacy, rec.Legacy)
		})
	}
}

func TestLinkListingRoundTrip(t *testing.T) {
	t.Parallel()

	links := []LinkRecord{
		{Path: "a/link", Target: "../b"},
		{Path: "c d", Target: "/abs/target"},
		{Path: "tab\tlink", Target: "new\nline"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteLinkListing(&buf, links))
	got, err := ParseLinkListing(&buf)
	require.NoError(t, err)
	assert.Equal(t, links, got)
}

func TestPathListRoundTrip(t *testing.T) {
	t.Parallel()

	paths := []string{"plain", "new\nline", `back\slash`}
	p := filepath.Join(t.TempDir(), "excluded.txt")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, WritePathList(f, paths))
	require.NoError(t, f.Close())

	got, err := ReadPathList(p)
	require.NoError(t, err)
	assert.Equal(t, paths, got)
}

func TestReadPathListMissing(t *testing.T) {
	t.Parallel()

	got, err := ReadPathList(t.TempDir() + "/absent.txt")
	require.NoError(t, err)
	assert.Empty(t, got)
}
