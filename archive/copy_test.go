package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/internal/testutil"
	"github.com/meigma/ngsarchiver/manifest"
)

func fixedCapabilities(caps platform.Capabilities) CopyOption {
	return CopyWithCapabilityProbe(func(string) (platform.Capabilities, error) {
		return caps, nil
	})
}

func TestCopyPreservesContentAndLinks(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN30", map[string]testutil.Node{
		"Data/reads.fq":   testutil.File("@r\nA\n+\nI\n"),
		"Data/latest.fq":  testutil.Symlink("reads.fq"),
		"Logs/run.log":    {Content: []byte("log"), Mode: 0o640},
		"Logs/empty":      testutil.Dir(),
		"SampleSheet.csv": testutil.File("s"),
	})

	a, err := Copy(context.Background(), src, out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "RUN30"), a.Dir)
	assert.Equal(t, manifest.TypeCopy, a.Type())
	require.NotNil(t, a.Metadata)
	assert.True(t, a.Metadata.HadSymlinks)
	assert.FileExists(t, filepath.Join(a.Dir, manifest.MetadataDir, manifest.CopyChecksumsFile))

	target, err := os.Readlink(filepath.Join(a.Dir, "Data", "latest.fq"))
	require.NoError(t, err)
	assert.Equal(t, "reads.fq", target)

	info, err := os.Stat(filepath.Join(a.Dir, "Logs", "run.log"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	assert.DirExists(t, filepath.Join(a.Dir, "Logs", "empty"))

	sums := memberSums(t, a)
	assert.Equal(t, testutil.MD5Hex([]byte("log")), sums["Logs/run.log"])

	_, err = a.Verify(context.Background())
	require.NoError(t, err)
}

func TestCopyVerifyDetectsModifiedFile(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN31", map[string]testutil.Node{
		"sub/a.txt": testutil.File("a"),
		"b.txt":     testutil.File("b"),
	})
	a, err := Copy(context.Background(), src, out)
	require.NoError(t, err)

	p := filepath.Join(a.Dir, "sub", "a.txt")
	require.NoError(t, os.Chmod(p, 0o644))
	require.NoError(t, os.WriteFile(p, []byte("changed"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(a.Dir, "new.txt"), []byte("n"), 0o644))

	diff, err := a.Verify(context.Background())
	require.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, []string{"sub/a.txt"}, diff.Mismatched)
	assert.Equal(t, []string{"new.txt"}, diff.Extra)
}

func TestCopyCaseCollisionOnCaseInsensitiveDestination(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN32", map[string]testutil.Node{
		"Data.txt": testutil.File("upper"),
		"data.txt": testutil.File("lower"),
	})
	opt := fixedCapabilities(platform.Capabilities{CaseSensitive: false, Symlinks: true})

	for _, force := range []bool{false, true} {
		_, err := Copy(context.Background(), src, out, opt, CopyWithForce(force))
		require.ErrorIs(t, err, ErrCaseCollision)
		assert.NoDirExists(t, filepath.Join(out, "RUN32"))
	}

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is written when the precheck fails")

	a, err := Copy(context.Background(), src, out,
		fixedCapabilities(platform.Capabilities{CaseSensitive: true, Symlinks: true}))
	require.NoError(t, err)
	assert.True(t, a.Metadata.HadCaseCollision)
}

func TestCopyWithoutSymlinkSupport(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN33", map[string]testutil.Node{
		"a.txt": testutil.File("a"),
		"link":  testutil.Symlink("a.txt"),
	})
	noLinks := fixedCapabilities(platform.Capabilities{CaseSensitive: true})

	_, err := Copy(context.Background(), src, out, noLinks)
	require.ErrorIs(t, err, ErrCapability)

	a, err := Copy(context.Background(), src, out, noLinks, CopyWithReplaceSymlinks(true))
	require.NoError(t, err)
	info, err := os.Lstat(filepath.Join(a.Dir, "link"))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
	data, err := os.ReadFile(filepath.Join(a.Dir, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
	assert.True(t, a.Metadata.ReplaceSymlinks)
}

func TestCopyBrokenSymlinks(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN34", map[string]testutil.Node{
		"a.txt":    testutil.File("a"),
		"dangling": testutil.Symlink("nowhere/file.fq"),
	})

	_, err := Copy(context.Background(), src, out)
	require.ErrorIs(t, err, ErrSymlinkResolution)
	assert.NoDirExists(t, filepath.Join(out, "RUN34"))

	a, err := Copy(context.Background(), src, out, CopyWithTransformBrokenSymlinks(true))
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(a.Dir, "dangling"))
	require.NoError(t, err)
	assert.Equal(t, "nowhere/file.fq\n", string(data))
	assert.FileExists(t, filepath.Join(a.Dir, manifest.MetadataDir, manifest.BrokenSymlinksFile))

	_, err = a.Verify(context.Background())
	require.NoError(t, err)
}

func TestCopyForceKeepsBrokenSymlinks(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN35", map[string]testutil.Node{
		"a.txt":    testutil.File("a"),
		"dangling": testutil.Symlink("nowhere"),
	})
	a, err := Copy(context.Background(), src, out, CopyWithForce(true))
	require.NoError(t, err)

	target, err := os.Readlink(filepath.Join(a.Dir, "dangling"))
	require.NoError(t, err)
	assert.Equal(t, "nowhere", target)
}

func TestCopyFollowDirLinks(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN36", map[string]testutil.Node{
		"real/a.fq":  testutil.File("a"),
		"real/b.fq":  testutil.File("b"),
		"view":       testutil.Symlink("real"),
		"real/again": testutil.Symlink(".."),
	})

	a, err := Copy(context.Background(), src, out, CopyWithFollowDirLinks(true))
	require.NoError(t, err)

	info, err := os.Lstat(filepath.Join(a.Dir, "view"))
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "followed dirlinks become directories")
	data, err := os.ReadFile(filepath.Join(a.Dir, "view", "a.fq"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	info, err = os.Lstat(filepath.Join(a.Dir, "real", "again"))
	require.NoError(t, err)
	assert.Equal(t, os.ModeSymlink, info.Mode().Type(), "links back into an ancestor stay links")
	assert.True(t, a.Metadata.FollowDirLinks)

	_, err = a.Verify(context.Background())
	require.NoError(t, err)
}

func TestPrecheckCopyWritesNothing(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN37", map[string]testutil.Node{
		"a.txt":    testutil.File("a"),
		"external": testutil.Symlink("/"),
	})
	pc, err := PrecheckCopy(context.Background(), src, out)
	require.NoError(t, err)
	assert.True(t, pc.Report.Has(CodeExternalSymlinks))
	assert.Equal(t, filepath.Join(out, "RUN37"), pc.Destination)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
