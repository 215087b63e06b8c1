package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ngsarchiver/internal/testutil"
)

func TestCompareIdentical(t *testing.T) {
	t.Parallel()

	nodes := map[string]testutil.Node{
		"a.txt":     testutil.File("a"),
		"sub/b.txt": testutil.File("b"),
		"link":      testutil.Symlink("a.txt"),
		"empty":     testutil.Dir(),
	}
	base := t.TempDir()
	d1, d2 := filepath.Join(base, "one"), filepath.Join(base, "two")
	require.NoError(t, os.Mkdir(d1, 0o755))
	require.NoError(t, os.Mkdir(d2, 0o755))
	testutil.WriteTree(t, d1, nodes)
	testutil.WriteTree(t, d2, nodes)
	require.NoError(t, os.Chmod(filepath.Join(d2, "a.txt"), 0o600))

	c, err := Compare(context.Background(), d1, d2, CompareWithWorkers(2))
	require.NoError(t, err)
	assert.True(t, c.OK(), "permissions are not compared")
}

func TestCompareDifferences(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	d1, d2 := filepath.Join(base, "one"), filepath.Join(base, "two")
	require.NoError(t, os.Mkdir(d1, 0o755))
	require.NoError(t, os.Mkdir(d2, 0o755))
	testutil.WriteTree(t, d1, map[string]testutil.Node{
		"same.txt":    testutil.File("same"),
		"content.txt": testutil.File("one"),
		"kind":        testutil.File("file"),
		"link":        testutil.Symlink("same.txt"),
		"only1.txt":   testutil.File("1"),
	})
	testutil.WriteTree(t, d2, map[string]testutil.Node{
		"same.txt":    testutil.File("same"),
		"content.txt": testutil.File("two"),
		"kind":        testutil.Dir(),
		"link":        testutil.Symlink("content.txt"),
		"only2.txt":   testutil.File("2"),
	})

	c, err := Compare(context.Background(), d1, d2)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	require.NotNil(t, c)
	assert.Equal(t, []string{"only1.txt"}, c.Missing)
	assert.Equal(t, []string{"only2.txt"}, c.Extra)
	assert.Equal(t, []string{"kind"}, c.Kind)
	assert.Equal(t, []string{"link"}, c.Target)
	assert.Equal(t, []string{"content.txt"}, c.Content)
	assert.Equal(t, []string{"content.txt", "kind", "link"}, c.Mismatched)
}

func TestCompareHardLinkMatchesCopy(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	d1, d2 := filepath.Join(base, "one"), filepath.Join(base, "two")
	require.NoError(t, os.Mkdir(d1, 0o755))
	require.NoError(t, os.Mkdir(d2, 0o755))
	testutil.WriteTree(t, d1, map[string]testutil.Node{
		"a": testutil.File("x"),
		"b": testutil.HardLink("a"),
	})
	testutil.WriteTree(t, d2, map[string]testutil.Node{
		"a": testutil.File("x"),
		"b": testutil.File("x"),
	})

	_, err := Compare(context.Background(), d1, d2)
	require.NoError(t, err)
}
