package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ngsarchiver/internal/testutil"
)

// run executes the CLI with a private config file and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[log]\nlevel = \"error\"\n"), 0o600))

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func newSource(t *testing.T) (src, out string) {
	t.Helper()
	base := t.TempDir()
	src = filepath.Join(base, "RUN90")
	out = filepath.Join(base, "out")
	require.NoError(t, os.Mkdir(src, 0o755))
	require.NoError(t, os.Mkdir(out, 0o755))
	testutil.WriteTree(t, src, map[string]testutil.Node{
		"Data/S1_R1.fastq": testutil.File("@r1\n"),
		"Data/S1_R2.fastq": testutil.File("@r2\n"),
		"SampleSheet.csv":  testutil.File("sheet"),
	})
	return src, out
}

func TestVersion(t *testing.T) {
	t.Parallel()

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ngsarchiver ")
}

func TestNoCommandFails(t *testing.T) {
	t.Parallel()

	_, err := run(t)
	require.ErrorIs(t, err, errNoCommand)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.toml"), "version"})
	require.Error(t, root.Execute())
}

func TestArchiveVerifySearchExtract(t *testing.T) {
	t.Parallel()

	src, outDir := newSource(t)

	out, err := run(t, "archive", "--check", "--out-dir", outDir, src)
	require.NoError(t, err)
	assert.Contains(t, out, "no problems found")
	assert.NoDirExists(t, filepath.Join(outDir, "RUN90.archive"))

	out, err = run(t, "archive", "--out-dir", outDir, "--compress-level", "1", src)
	require.NoError(t, err)
	arc := filepath.Join(outDir, "RUN90.archive")
	assert.Contains(t, out, "created "+arc)

	out, err = run(t, "verify", arc)
	require.NoError(t, err)
	assert.Contains(t, out, arc+": OK")

	out, err = run(t, "search", "--name", "*_R1.fastq", arc)
	require.NoError(t, err)
	assert.Equal(t, "RUN90/Data/S1_R1.fastq\n", out)

	dst := t.TempDir()
	out, err = run(t, "extract", "--name", "S1_R2.fastq", "--out-dir", dst, arc)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dst, "S1_R2.fastq"))
	data, err := os.ReadFile(filepath.Join(dst, "S1_R2.fastq"))
	require.NoError(t, err)
	assert.Equal(t, "@r2\n", string(data))

	out, err = run(t, "info", "--list", arc)
	require.NoError(t, err)
	assert.Contains(t, out, "RUN90/SampleSheet.csv")
	assert.Contains(t, out, "RUN90.tar.gz")
}

func TestVerifyFailsOnCorruptVolume(t *testing.T) {
	t.Parallel()

	src, outDir := newSource(t)
	_, err := run(t, "archive", "--out-dir", outDir, src)
	require.NoError(t, err)

	arc := filepath.Join(outDir, "RUN90.archive")
	vol := filepath.Join(arc, "RUN90.tar.gz")
	require.NoError(t, os.Chmod(vol, 0o644))
	f, err := os.OpenFile(vol, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("garbage"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err := run(t, "verify", arc)
	require.ErrorIs(t, err, errVerifyFailed)
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "RUN90.tar.gz")
}

func TestUnpackAndCompare(t *testing.T) {
	t.Parallel()

	src, outDir := newSource(t)
	_, err := run(t, "archive", "--out-dir", outDir, src)
	require.NoError(t, err)

	dst := t.TempDir()
	out, err := run(t, "unpack", "--out-dir", dst, filepath.Join(outDir, "RUN90.archive"))
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dst, "RUN90"))

	out, err = run(t, "compare", src, filepath.Join(dst, "RUN90"))
	require.NoError(t, err)
	assert.Contains(t, out, "directories match")

	require.NoError(t, os.WriteFile(filepath.Join(dst, "RUN90", "extra.txt"), []byte("x"), 0o644))
	out, err = run(t, "compare", src, filepath.Join(dst, "RUN90"))
	require.Error(t, err)
	assert.Contains(t, out, "extra.txt")
}

func TestCopyAndInfoTSV(t *testing.T) {
	t.Parallel()

	src, outDir := newSource(t)
	out, err := run(t, "copy", "--out-dir", outDir, src)
	require.NoError(t, err)
	assert.Contains(t, out, "copied to "+filepath.Join(outDir, "RUN90"))

	out, err = run(t, "verify", filepath.Join(outDir, "RUN90"))
	require.NoError(t, err)
	assert.Contains(t, out, ": OK")

	out, err = run(t, "info", "--tsv", src)
	require.NoError(t, err)
	assert.Contains(t, out, "#path\t")
	assert.Contains(t, out, src+"\t")
}
