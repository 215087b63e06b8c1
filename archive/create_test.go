package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ngsarchiver/classify"
	"github.com/meigma/ngsarchiver/internal/testutil"
	"github.com/meigma/ngsarchiver/manifest"
)

const mib = 1 << 20

// newRun creates a run directory called name with nodes and an empty
// output directory beside it.
func newRun(t *testing.T, name string, nodes map[string]testutil.Node) (src, out string) {
	t.Helper()
	base := t.TempDir()
	src = filepath.Join(base, name)
	require.NoError(t, os.Mkdir(src, 0o755))
	testutil.WriteTree(t, src, nodes)
	out = filepath.Join(base, "out")
	require.NoError(t, os.Mkdir(out, 0o755))
	return src, out
}

func memberSums(t *testing.T, a *Archive) map[string]string {
	t.Helper()
	members, err := a.Members()
	require.NoError(t, err)
	sums := make(map[string]string, len(members))
	for _, m := range members {
		sums[m.Path] = m.Checksum
	}
	return sums
}

func TestCreateSingleVolume(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN01", map[string]testutil.Node{
		"SampleSheet.csv":   testutil.File("Lane,Sample\n1,S1\n"),
		"Data/reads_R1.fq":  testutil.File("@r1\nACGT\n+\nIIII\n"),
		"Data/reads_R2.fq":  testutil.File("@r2\nTTTT\n+\nIIII\n"),
		"Data/empty":        testutil.Dir(),
		"Logs/run.log":      testutil.File("done\n"),
		"Logs/latest.log":   testutil.Symlink("run.log"),
		"Data/reads_R1.bak": testutil.HardLink("Data/reads_R1.fq"),
	})

	a, err := Create(context.Background(), src, out, CreateWithForce(true))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "RUN01.archive"), a.Dir)
	assert.Equal(t, manifest.TypeCompressed, a.Type())
	assert.Equal(t, "RUN01", a.Name())

	vols, err := a.Volumes()
	require.NoError(t, err)
	assert.Equal(t, []string{"RUN01.tar.gz"}, vols)
	assert.FileExists(t, filepath.Join(a.Dir, "RUN01.md5"))

	for _, name := range []string{
		manifest.MetadataFile, manifest.ArchiveChecksumsFile, manifest.ManifestFile,
		manifest.SymlinksFile, manifest.TreeFile, manifest.FileListFile,
	} {
		assert.FileExists(t, filepath.Join(a.Dir, manifest.MetadataDir, name))
	}

	require.NotNil(t, a.Metadata)
	assert.Equal(t, "RUN01", a.Metadata.Name)
	assert.False(t, a.Metadata.MultiVolume)
	assert.True(t, a.Metadata.HadSymlinks)
	assert.True(t, a.Metadata.HadHardLinks)
	assert.Equal(t, classify.GenericRun.String(), a.Metadata.SourceType)
	assert.Equal(t, []string{"RUN01.tar.gz"}, a.Metadata.Subarchives)

	sums := memberSums(t, a)
	assert.Equal(t, testutil.MD5Hex([]byte("@r1\nACGT\n+\nIIII\n")), sums["RUN01/Data/reads_R1.fq"])
	assert.Equal(t, sums["RUN01/Data/reads_R1.fq"], sums["RUN01/Data/reads_R1.bak"])

	diff, err := a.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, diff.OK())

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging directories must not be left behind")
}

func TestCreateSplitsVolumesByContentSize(t *testing.T) {
	t.Parallel()

	data := map[string][]byte{
		"a.bin": testutil.RandomBytes(3*mib, 1),
		"b.bin": testutil.RandomBytes(3*mib, 2),
		"c.bin": testutil.RandomBytes(3*mib, 3),
	}
	nodes := make(map[string]testutil.Node, len(data))
	for name, d := range data {
		nodes[name] = testutil.Node{Content: d}
	}
	src, out := newRun(t, "RUN02", nodes)

	a, err := Create(context.Background(), src, out, CreateWithVolumeSize(4*mib))
	require.NoError(t, err)

	vols, err := a.Volumes()
	require.NoError(t, err)
	assert.Equal(t, []string{"RUN02.00.tar.gz", "RUN02.01.tar.gz", "RUN02.02.tar.gz"}, vols)
	for _, v := range vols {
		assert.FileExists(t, filepath.Join(a.Dir, manifest.ChecksumFileFor(v)))
	}
	assert.True(t, a.Metadata.MultiVolume)

	sums := memberSums(t, a)
	require.Len(t, sums, len(data))
	for name, d := range data {
		assert.Equal(t, testutil.MD5Hex(d), sums["RUN02/"+name], name)
	}

	_, err = a.Verify(context.Background())
	require.NoError(t, err)
}

func TestCreateVolumeLargerThanSource(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN03", map[string]testutil.Node{
		"a.txt": testutil.File("small"),
	})

	_, err := Create(context.Background(), src, out, CreateWithVolumeSize(mib))
	var pe *PrecheckError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Report.Has(CodeVolumeLargerThanSource))
	assert.NoDirExists(t, filepath.Join(out, "RUN03.archive"))

	a, err := Create(context.Background(), src, out, CreateWithVolumeSize(mib), CreateWithForce(true))
	require.NoError(t, err)
	vols, err := a.Volumes()
	require.NoError(t, err)
	assert.Equal(t, []string{"RUN03.tar.gz"}, vols)
	assert.False(t, a.Metadata.MultiVolume)
}

func TestCreateMultiProjectRun(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN04", map[string]testutil.Node{
		"projects.info":         testutil.File("#Project\tSamples\tUser\nPJA\tA1\tann\nPJB\tB1\tbob\n"),
		"PJA/A1_R1.fastq.gz":    testutil.File("a1"),
		"PJB/B1_R1.fastq.gz":    testutil.File("b1"),
		"undetermined/u.fq.gz":  testutil.File("u"),
		"barcodes/counts.txt":   testutil.File("c"),
		"processing.qc.html":    testutil.File("<html/>"),
		"save.SampleSheet.csv":  testutil.File("s"),
		"undetermined/sub/x.gz": testutil.File("x"),
	})

	a, err := Create(context.Background(), src, out, CreateWithForce(true))
	require.NoError(t, err)
	assert.Equal(t, classify.MultiProjectRun.String(), a.Metadata.SourceType)

	vols, err := a.Volumes()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"PJA.tar.gz", "PJB.tar.gz", "undetermined.tar.gz", "processing.tar.gz"}, vols)

	plain, err := a.PlainFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{classify.ProjectsInfo}, plain)
	assert.FileExists(t, filepath.Join(a.Dir, classify.ProjectsInfo+manifest.ChecksumExt))

	sums := memberSums(t, a)
	assert.Contains(t, sums, "RUN04/projects.info")
	assert.Contains(t, sums, "RUN04/barcodes/counts.txt")

	_, err = a.Verify(context.Background())
	require.NoError(t, err)

	_, err = a.Unpack(context.Background(), filepath.Dir(out))
	require.ErrorIs(t, err, ErrAlreadyExists, "the source occupies the unpack destination")

	restoreDir := filepath.Join(out, "restore")
	require.NoError(t, os.Mkdir(restoreDir, 0o755))
	dest, err := a.Unpack(context.Background(), restoreDir)
	require.NoError(t, err)
	_, err = Compare(context.Background(), src, dest)
	require.NoError(t, err)
}

func TestCreateRefusesArchiveSource(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN05", map[string]testutil.Node{
		"a.txt": testutil.File("a"),
	})
	a, err := Create(context.Background(), src, out, CreateWithForce(true))
	require.NoError(t, err)

	again := filepath.Join(out, "again")
	require.NoError(t, os.Mkdir(again, 0o755))
	_, err = Create(context.Background(), a.Dir, again, CreateWithForce(true))
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateDestinationExists(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN06", map[string]testutil.Node{
		"a.txt": testutil.File("a"),
	})
	dest := filepath.Join(out, "RUN06.archive")
	require.NoError(t, os.Mkdir(dest, 0o755))

	_, err := Create(context.Background(), src, out, CreateWithForce(true))
	require.ErrorIs(t, err, ErrAlreadyExists)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries, "an existing destination is never written to")
}

func TestCreateUnknownGroup(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN07", map[string]testutil.Node{
		"a.txt": testutil.File("a"),
	})
	_, err := Create(context.Background(), src, out,
		CreateWithForce(true), CreateWithGroup("no-such-group-ngsarchiver"))
	require.ErrorIs(t, err, ErrValidation)
	assert.NoDirExists(t, filepath.Join(out, "RUN07.archive"))
}

func TestCreateReportsProgress(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN08", map[string]testutil.Node{
		"a.txt":     testutil.File("aaaa"),
		"sub/b.txt": testutil.File("bb"),
	})

	var stages []ProgressStage
	_, err := Create(context.Background(), src, out,
		CreateWithForce(true),
		CreateWithWorkers(1),
		CreateWithProgress(func(e ProgressEvent) { stages = append(stages, e.Stage) }),
	)
	require.NoError(t, err)
	assert.Contains(t, stages, StageWalking)
	assert.Contains(t, stages, StageCompressing)
}

func TestCreateCanceled(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN09", map[string]testutil.Node{
		"a.txt": testutil.File("a"),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Create(ctx, src, out, CreateWithForce(true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.NoDirExists(t, filepath.Join(out, "RUN09.archive"))
}

func TestCreateVerifyControlCharacterNames(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN80", map[string]testutil.Node{
		"Data/a\tb.txt":   testutil.File("tab"),
		"Data/a\nb.txt":   testutil.File("newline"),
		`Data/back\slash`: testutil.File("backslash"),
		"Data/link\tname": testutil.Symlink("a\tb.txt"),
	})

	a, err := Create(context.Background(), src, out, CreateWithForce(true))
	require.NoError(t, err)

	sums := memberSums(t, a)
	assert.Equal(t, testutil.MD5Hex([]byte("tab")), sums["RUN80/Data/a\tb.txt"])
	assert.Equal(t, testutil.MD5Hex([]byte("newline")), sums["RUN80/Data/a\nb.txt"])
	assert.Equal(t, testutil.MD5Hex([]byte("backslash")), sums[`RUN80/Data/back\slash`])

	m, err := a.Manifest()
	require.NoError(t, err)
	var target string
	for _, e := range m.Entries {
		if e.Path == "Data/link\tname" {
			target = e.Target
		}
	}
	assert.Equal(t, "a\tb.txt", target)

	diff, err := a.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, diff.OK())

	restored, err := a.Unpack(context.Background(), t.TempDir())
	require.NoError(t, err)
	_, err = Compare(context.Background(), src, restored)
	require.NoError(t, err)
}

func TestCreateRunShippingTarballAndChecksum(t *testing.T) {
	t.Parallel()

	for _, nodes := range []map[string]testutil.Node{
		{
			"reads.tar.gz":    testutil.File("not really gzip"),
			"reads.md5":       testutil.File("0123456789abcdef0123456789abcdef  reads.tar.gz\n"),
			"SampleSheet.csv": testutil.File("s"),
		},
		{
			"reads.tar.gz": testutil.File("not really gzip"),
			"reads.md5":    testutil.File("0123456789abcdef0123456789abcdef  reads.tar.gz\n"),
		},
	} {
		src, out := newRun(t, "RUNTGZ", nodes)
		a, err := Create(context.Background(), src, out)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(out, "RUNTGZ.archive"), a.Dir)
		_, err = a.Verify(context.Background())
		require.NoError(t, err)
	}
}
