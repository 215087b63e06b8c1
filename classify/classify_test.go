package classify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ngsarchiver/internal/testutil"
	"github.com/meigma/ngsarchiver/probe"
	"github.com/meigma/ngsarchiver/tree"
)

func classifyNodes(t *testing.T, nodes map[string]testutil.Node) Classification {
	t.Helper()
	return classifyNamed(t, "run", nodes)
}

func classifyNamed(t *testing.T, name string, nodes map[string]testutil.Node) Classification {
	t.Helper()
	root := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.Mkdir(root, 0o755))
	testutil.WriteTree(t, root, nodes)
	tr, err := tree.Walk(context.Background(), root)
	require.NoError(t, err)
	return ClassifyTree(tr)
}

func TestClassifyGenericRun(t *testing.T) {
	t.Parallel()

	c := classifyNodes(t, map[string]testutil.Node{
		"SampleSheet.csv": testutil.File("s"),
		"Data/reads.fq":   testutil.File("r"),
	})
	assert.Equal(t, GenericRun, c.Variant)
	assert.Equal(t, []Unit{{Name: "run", Members: []string{"Data", "SampleSheet.csv"}}}, c.Layout().Units("run"))
}

func TestClassifyEmptyIsGeneric(t *testing.T) {
	t.Parallel()

	c := classifyNodes(t, nil)
	assert.Equal(t, GenericRun, c.Variant)
}

func TestClassifyMultiSubdirRun(t *testing.T) {
	t.Parallel()

	c := classifyNodes(t, map[string]testutil.Node{
		"lane1/a": testutil.File("a"),
		"lane2/b": testutil.File("b"),
		"alias":   testutil.Symlink("lane1"),
	})
	assert.Equal(t, MultiSubdirRun, c.Variant)
	assert.Equal(t, []string{"alias", "lane1", "lane2"}, c.Subdirs)
	units := c.Layout().Units("run")
	require.Len(t, units, 3)
	assert.Equal(t, Unit{Name: "lane2", Members: []string{"lane2"}}, units[2])
}

func TestClassifyMultiProjectRun(t *testing.T) {
	t.Parallel()

	c := classifyNodes(t, map[string]testutil.Node{
		"projects.info": testutil.File("#Project\tSamples\tUser\n" +
			"PJB\tPJB1,PJB2\tAlice\n" +
			"missing\tX\tBob\n" +
			"PJA\tPJA1\tCarol\n"),
		"PJA/f":               testutil.File("a"),
		"PJB/f":               testutil.File("b"),
		"undetermined/f":      testutil.File("u"),
		"barcodes/report":     testutil.File("r"),
		"processing.qc.html":  testutil.File("q"),
		"undetermined_old.gz": testutil.File("not a dir"),
	})

	require.Equal(t, MultiProjectRun, c.Variant)
	assert.Equal(t, []string{"PJB", "PJA", "undetermined"}, c.Projects)
	assert.Equal(t, []string{"barcodes", "processing.qc.html", "undetermined_old.gz"}, c.Residue)
	assert.Equal(t, []string{ProjectsInfo}, c.ExtraFiles)

	units := c.Layout().Units("run")
	require.Len(t, units, 4)
	assert.Equal(t, "PJB", units[0].Name)
	assert.Equal(t, Unit{Name: ResidueName, Members: c.Residue}, units[3])
}

func TestClassifyResidueNameClash(t *testing.T) {
	t.Parallel()

	c := classifyNodes(t, map[string]testutil.Node{
		"projects.info":  testutil.File("processing\tx\n"),
		"processing/f":   testutil.File("p"),
		"logs/run.log":   testutil.File("l"),
		"processing_1/g": testutil.File("q"),
	})
	require.Equal(t, MultiProjectRun, c.Variant)
	assert.Equal(t, []string{"processing"}, c.Projects)
	assert.Equal(t, "processing_1", c.ResidueUnit)

	units := c.Layout().Units("run")
	require.Len(t, units, 2)
	assert.Equal(t, "processing_1", units[1].Name)
	assert.Equal(t, []string{"logs", "processing_1"}, units[1].Members)
}

func TestClassifyProjectsInfoAloneIsGeneric(t *testing.T) {
	t.Parallel()

	c := classifyNodes(t, map[string]testutil.Node{
		"projects.info": testutil.File("PJA\n"),
	})
	assert.Equal(t, GenericRun, c.Variant)
}

func TestClassifyUnreadableProjectsInfo(t *testing.T) {
	t.Parallel()

	top := []probe.Entry{
		{Path: "PJA", Kind: probe.KindDir},
		{Path: ProjectsInfo, Kind: probe.KindFile},
	}
	// The index is listed at the top level but cannot be opened.
	c := Classify(fstest.MapFS{"PJA/x": {}}, "run", top)
	require.Equal(t, MultiProjectRun, c.Variant)
	assert.Empty(t, c.Projects)
	assert.Equal(t, []string{"PJA"}, c.Residue)
}

func TestClassifyArchiveIsTerminal(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"ARCHIVE_METADATA/archive_metadata.json": {Data: []byte(`{"name":"run","subarchives":["run.tar.gz"]}`)},
		"run.tar.gz": {},
		"run.md5":    {},
	}
	top := []probe.Entry{
		{Path: "ARCHIVE_METADATA", Kind: probe.KindDir},
		{Path: "run.md5", Kind: probe.KindFile},
		{Path: "run.tar.gz", Kind: probe.KindFile},
	}
	c := Classify(fsys, "run.archive", top)
	assert.Equal(t, CompressedArchiveDirectory, c.Variant)
	assert.True(t, c.Variant.IsArchive())
	assert.Empty(t, c.Layout().Units("run"))

	copyFS := fstest.MapFS{
		"ARCHIVE_METADATA/archive_metadata.json": {Data: []byte(`{"name":"run","type":"copy"}`)},
		"projects.info": {},
		"PJA/x":         {},
	}
	c = Classify(copyFS, "run", []probe.Entry{
		{Path: "ARCHIVE_METADATA", Kind: probe.KindDir},
		{Path: "PJA", Kind: probe.KindDir},
		{Path: ProjectsInfo, Kind: probe.KindFile},
	})
	assert.Equal(t, CopyArchiveDirectory, c.Variant, "a copied multi-project run stays an archive")
}

func TestClassifyTarballWithChecksumIsData(t *testing.T) {
	t.Parallel()

	c := classifyNodes(t, map[string]testutil.Node{
		"reads.tar.gz":    testutil.File("gz"),
		"reads.md5":       testutil.File("0123456789abcdef0123456789abcdef  reads.tar.gz\n"),
		"SampleSheet.csv": testutil.File("s"),
	})
	assert.Equal(t, GenericRun, c.Variant)

	c = classifyNodes(t, map[string]testutil.Node{
		"reads.tar.gz": testutil.File("gz"),
		"reads.md5":    testutil.File("0123456789abcdef0123456789abcdef  reads.tar.gz\n"),
	})
	assert.Equal(t, GenericRun, c.Variant, "only NAME.archive directories match the volume pattern")
}

func TestClassifyLegacyVolumeLayout(t *testing.T) {
	t.Parallel()

	nodes := map[string]testutil.Node{
		"run.00.tar.gz":     testutil.File("v0"),
		"run.00.md5":        testutil.File(""),
		"run.01.tar.gz":     testutil.File("v1"),
		"run.01.md5":        testutil.File(""),
		"projects.info":     testutil.File("PJA\n"),
		"projects.info.md5": testutil.File(""),
	}
	c := classifyNamed(t, "run.archive", nodes)
	assert.Equal(t, CompressedArchiveDirectory, c.Variant)
	assert.True(t, c.Recognition.Legacy)

	nodes["notes.txt"] = testutil.File("unlisted")
	c = classifyNamed(t, "run.archive", nodes)
	assert.False(t, c.Variant.IsArchive(), "an unlisted file means this is not an archive")
}

func TestClassifyDeterministic(t *testing.T) {
	t.Parallel()

	nodes := map[string]testutil.Node{
		"projects.info": testutil.File("B\nA\n"),
		"A/x":           testutil.File("a"),
		"B/x":           testutil.File("b"),
		"z.txt":         testutil.File("z"),
	}
	first := classifyNodes(t, nodes)
	for range 3 {
		again := classifyNodes(t, nodes)
		assert.Equal(t, first.Variant, again.Variant)
		assert.Equal(t, first.Layout().Units("run"), again.Layout().Units("run"))
	}
}
