package archive

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/internal/testutil"
)

func TestRestoredMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		recorded  fs.FileMode
		dir       bool
		copyPerms bool
		want      fs.FileMode
	}{
		{"plain file", 0o600, false, false, DefaultFileMode},
		{"executable", 0o700, false, false, DefaultExecMode},
		{"directory", 0o500, true, false, DefaultDirMode},
		{"copied file keeps owner rw", 0o440, false, true, 0o640},
		{"copied executable", 0o750, false, true, 0o750},
		{"copied directory keeps owner rwx", 0o550, true, true, 0o750},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, restoredMode(tt.recorded, tt.dir, tt.copyPerms))
		})
	}
}

func TestUnpackRoundTrip(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN20", map[string]testutil.Node{
		"SampleSheet.csv":        testutil.File("Lane,Sample\n"),
		"Data/Intensities/s.bcl": {Content: testutil.RandomBytes(64<<10, 20)},
		"Data/reads.fq":          testutil.File("@r\nA\n+\nI\n"),
		"Data/reads.fq.hardlink": testutil.HardLink("Data/reads.fq"),
		"Data/latest":            testutil.Symlink("reads.fq"),
		"Data/empty":             testutil.Dir(),
		"run.sh":                 {Content: []byte("#!/bin/sh\n"), Mode: 0o750},
	})

	a, err := Create(context.Background(), src, out, CreateWithForce(true))
	require.NoError(t, err)

	restore := filepath.Join(out, "restore")
	require.NoError(t, os.Mkdir(restore, 0o755))
	dest, err := Unpack(context.Background(), a.Dir, restore)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(restore, "RUN20"), dest)

	cmp, err := Compare(context.Background(), src, dest)
	require.NoError(t, err)
	assert.True(t, cmp.OK())

	target, err := os.Readlink(filepath.Join(dest, "Data", "latest"))
	require.NoError(t, err)
	assert.Equal(t, "reads.fq", target)

	info, err := os.Stat(filepath.Join(dest, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, DefaultExecMode, info.Mode().Perm())
	info, err = os.Stat(filepath.Join(dest, "SampleSheet.csv"))
	require.NoError(t, err)
	assert.Equal(t, DefaultFileMode, info.Mode().Perm())
	info, err = os.Stat(filepath.Join(dest, "Data", "empty"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	a1, err := os.Stat(filepath.Join(dest, "Data", "reads.fq"))
	require.NoError(t, err)
	a2, err := os.Stat(filepath.Join(dest, "Data", "reads.fq.hardlink"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(a1, a2), "hard links inside one volume are restored as links")
}

func TestUnpackCopyPermissions(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN21", map[string]testutil.Node{
		"shared.txt":  {Content: []byte("s"), Mode: 0o640},
		"private.txt": {Content: []byte("p"), Mode: 0o400},
	})
	a, err := Create(context.Background(), src, out, CreateWithForce(true))
	require.NoError(t, err)

	restore := filepath.Join(out, "restore")
	require.NoError(t, os.Mkdir(restore, 0o755))
	dest, err := a.Unpack(context.Background(), restore, UnpackWithCopyPermissions(true))
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dest, "shared.txt"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o640), info.Mode().Perm())
	info, err = os.Stat(filepath.Join(dest, "private.txt"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
}

func TestUnpackDestinationExists(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN22", map[string]testutil.Node{
		"a.txt": testutil.File("a"),
	})
	a, err := Create(context.Background(), src, out, CreateWithForce(true))
	require.NoError(t, err)

	restore := filepath.Join(out, "restore")
	require.NoError(t, os.MkdirAll(filepath.Join(restore, "RUN22"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(restore, "RUN22", "keep"), []byte("k"), 0o644))

	_, err = a.Unpack(context.Background(), restore)
	require.ErrorIs(t, err, ErrAlreadyExists)

	data, err := os.ReadFile(filepath.Join(restore, "RUN22", "keep"))
	require.NoError(t, err)
	assert.Equal(t, "k", string(data))
}

func TestUnpackNeedsSymlinkSupport(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN23", map[string]testutil.Node{
		"a.txt":  testutil.File("a"),
		"link":   testutil.Symlink("a.txt"),
		"b/c.fq": testutil.File("c"),
	})
	a, err := Create(context.Background(), src, out, CreateWithForce(true))
	require.NoError(t, err)

	noLinks := func(string) (platform.Capabilities, error) {
		return platform.Capabilities{CaseSensitive: true}, nil
	}
	restore := filepath.Join(out, "restore")
	require.NoError(t, os.Mkdir(restore, 0o755))
	_, err = a.Unpack(context.Background(), restore, UnpackWithCapabilityProbe(noLinks))
	require.ErrorIs(t, err, ErrCapability)
	assert.NoDirExists(t, filepath.Join(restore, "RUN23"))
}

func TestUnpackRefusesCopyArchive(t *testing.T) {
	t.Parallel()

	src, out := newRun(t, "RUN24", map[string]testutil.Node{
		"a.txt": testutil.File("a"),
	})
	a, err := Copy(context.Background(), src, out)
	require.NoError(t, err)

	restore := filepath.Join(out, "restore")
	require.NoError(t, os.Mkdir(restore, 0o755))
	_, err = a.Unpack(context.Background(), restore)
	require.ErrorIs(t, err, ErrValidation)
}

func TestUnpackCorruptVolumeLeavesNoOutput(t *testing.T) {
	t.Parallel()

	a := multiVolumeArchive(t)
	corrupt(t, filepath.Join(a.Dir, "RUN10.02.tar.gz"))

	restore := filepath.Join(t.TempDir(), "restore")
	require.NoError(t, os.Mkdir(restore, 0o755))
	_, err := a.Unpack(context.Background(), restore)
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(restore, "RUN10"))

	entries, err := os.ReadDir(restore)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
