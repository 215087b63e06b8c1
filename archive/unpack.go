package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/internal/sink"
	"github.com/meigma/ngsarchiver/internal/stage"
	"github.com/meigma/ngsarchiver/internal/volume"
	"github.com/meigma/ngsarchiver/manifest"
)

// Default permissions for restored objects when recorded permissions are
// not copied.
const (
	DefaultFileMode fs.FileMode = 0o644
	DefaultExecMode fs.FileMode = 0o755
	DefaultDirMode  fs.FileMode = 0o755
)

type unpackConfig struct {
	copyPermissions bool
	skipVerify      bool
	logger          *slog.Logger
	progress        ProgressFunc
	capabilities    platform.CapabilityProbe
	pool            *volume.ReaderPool
}

// UnpackOption configures unpacking.
type UnpackOption func(*unpackConfig)

// UnpackWithCopyPermissions restores recorded permissions instead of the
// defaults. The owner always keeps read and write access.
func UnpackWithCopyPermissions(copyPerms bool) UnpackOption {
	return func(cfg *unpackConfig) {
		cfg.copyPermissions = copyPerms
	}
}

// UnpackWithVerify controls whether restored content is checked against
// the archive listings before it is published. Enabled by default.
func UnpackWithVerify(verify bool) UnpackOption {
	return func(cfg *unpackConfig) {
		cfg.skipVerify = !verify
	}
}

// UnpackWithLogger sets the logger for unpacking.
// If not set, logging is disabled.
func UnpackWithLogger(logger *slog.Logger) UnpackOption {
	return func(cfg *unpackConfig) {
		cfg.logger = logger
	}
}

// UnpackWithProgress sets a callback for progress updates.
func UnpackWithProgress(fn ProgressFunc) UnpackOption {
	return func(cfg *unpackConfig) {
		cfg.progress = fn
	}
}

// UnpackWithCapabilityProbe replaces the probe used to learn what the
// destination filesystem supports.
func UnpackWithCapabilityProbe(p platform.CapabilityProbe) UnpackOption {
	return func(cfg *unpackConfig) {
		cfg.capabilities = p
	}
}

func newUnpackConfig(opts []UnpackOption) unpackConfig {
	cfg := unpackConfig{capabilities: platform.ProbeCapabilities}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.pool == nil {
		cfg.pool = volume.NewReaderPool()
	}
	return cfg
}

// restoredMode returns the permissions of a restored object.
func restoredMode(recorded fs.FileMode, dir, copyPerms bool) fs.FileMode {
	switch {
	case copyPerms && dir:
		return recorded.Perm() | 0o700
	case copyPerms:
		return recorded.Perm() | 0o600
	case dir:
		return DefaultDirMode
	case recorded&0o100 != 0:
		return DefaultExecMode
	default:
		return DefaultFileMode
	}
}

// Unpack opens the compressed archive at dir and restores it into outDir.
func Unpack(ctx context.Context, dir, outDir string, opts ...UnpackOption) (string, error) {
	a, err := Open(dir)
	if err != nil {
		return "", err
	}
	return a.Unpack(ctx, outDir, opts...)
}

// Unpack restores the archive into outDir/NAME and returns that path.
//
// The destination must not exist. The destination filesystem is probed
// first and the restore fails with ErrCapability when it lacks symlink
// support or case sensitivity the archive needs. Members are restored
// once even when several volumes hold them. Ownership is restored only
// when running privileged and the recorded names exist locally. The
// restored content is verified against the archive listings before the
// destination appears.
func (a *Archive) Unpack(ctx context.Context, outDir string, opts ...UnpackOption) (string, error) {
	cfg := newUnpackConfig(opts)
	if a.Type() != manifest.TypeCompressed {
		return "", fmt.Errorf("%w: %s is a %s archive; only compressed archives are unpacked",
			ErrValidation, a.Dir, a.Type())
	}

	if err := a.checkCapabilities(cfg.capabilities, outDir); err != nil {
		return "", err
	}

	dest := filepath.Join(outDir, a.Name())
	sd, err := stage.Reserve(dest, stage.WithLogger(cfg.logger))
	if err != nil {
		return "", wrapExists(err, stage.ErrExists)
	}
	defer sd.Discard() //nolint:errcheck // no-op after Publish

	u := &unpacker{
		a:    a,
		cfg:  cfg,
		root: sd.Path(),
		sink: sink.New(sd.Path(),
			sink.WithPreserveMode(true),
			sink.WithPreserveTimes(true),
			sink.WithDirMode(0o700),
		),
		actual: make(map[string]string),
		seen:   make(map[string]bool),
		dirs:   make(map[string]dirMeta),
	}
	u.log().Info("unpacking archive", "archive", a.Dir, "destination", dest)

	if err := u.extractAll(ctx); err != nil {
		return "", err
	}
	if !cfg.skipVerify {
		if err := u.verify(dest); err != nil {
			return "", err
		}
	}
	if err := u.finishDirs(); err != nil {
		return "", err
	}
	if err := sd.Publish(); err != nil {
		return "", err
	}
	u.log().Info("archive unpacked", "destination", dest)
	return dest, nil
}

// checkCapabilities fails when the filesystem holding outDir cannot
// represent the archive content.
func (a *Archive) checkCapabilities(probeFn platform.CapabilityProbe, outDir string) error {
	md := a.Metadata
	if md == nil || (!md.RequiresSymlinks() && !md.RequiresCaseSensitivity()) {
		return nil
	}
	caps, err := probeFn(outDir)
	if err != nil {
		return fmt.Errorf("probe destination: %w", err)
	}
	if md.RequiresSymlinks() && !caps.Symlinks {
		return fmt.Errorf("%w: %s does not support symlinks", ErrCapability, outDir)
	}
	if md.RequiresCaseSensitivity() && !caps.CaseSensitive {
		return fmt.Errorf("%w: %s is not case-sensitive but the archive has names differing only by case",
			ErrCapability, outDir)
	}
	return nil
}

type dirMeta struct {
	mode    fs.FileMode
	modTime time.Time
}

// unpacker restores one archive into a staging directory.
type unpacker struct {
	a      *Archive
	cfg    unpackConfig
	root   string
	sink   *sink.FileSink
	actual map[string]string
	seen   map[string]bool
	dirs   map[string]dirMeta
	files  int
}

func (u *unpacker) log() *slog.Logger {
	return discardLogger(u.cfg.logger)
}

// rel maps a member name to a path below the restored directory.
func (u *unpacker) rel(member string) string {
	name := u.a.Name()
	if member == name {
		return ""
	}
	return strings.TrimPrefix(member, name+"/")
}

func (u *unpacker) extractAll(ctx context.Context) error {
	vols, err := u.a.Volumes()
	if err != nil {
		return err
	}
	for _, v := range vols {
		u.log().Debug("extracting volume", "volume", v)
		err := volume.Walk(ctx, filepath.Join(u.a.Dir, v), u.cfg.pool, func(hdr *tar.Header, r io.Reader) error {
			return u.extract(hdr, r)
		})
		if err != nil {
			return err
		}
	}

	plain, err := u.a.PlainFiles()
	if err != nil {
		return err
	}
	for _, name := range plain {
		src := filepath.Join(u.a.Dir, name)
		info, err := os.Stat(src)
		if err != nil {
			return err
		}
		meta := sink.Meta{Mode: restoredMode(info.Mode(), false, u.cfg.copyPermissions), ModTime: info.ModTime()}
		sum, err := copyWithChecksum(u.sink, name, src, meta)
		if err != nil {
			return err
		}
		u.actual[u.a.Name()+"/"+name] = sum
	}
	return nil
}

// extract restores one volume member.
func (u *unpacker) extract(hdr *tar.Header, r io.Reader) error {
	member, err := volume.SafeName(hdr.Name)
	if err != nil {
		return err
	}
	rel := u.rel(member)
	if rel == "" {
		return nil
	}
	if u.seen[rel] {
		u.log().Debug("skipping duplicate member", "path", rel)
		return nil
	}
	u.seen[rel] = true
	dst := u.sink.Path(rel)
	recorded := fs.FileMode(hdr.Mode).Perm() //nolint:gosec // tar modes fit in FileMode

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(dst, 0o700); err != nil {
			return err
		}
		u.dirs[rel] = dirMeta{mode: restoredMode(recorded, true, u.cfg.copyPermissions), modTime: hdr.ModTime}
		u.chown(dst, hdr)
		return nil

	case tar.TypeReg:
		meta := sink.Meta{Mode: restoredMode(recorded, false, u.cfg.copyPermissions), ModTime: hdr.ModTime}
		c, err := u.sink.Writer(rel, meta)
		if err != nil {
			return err
		}
		sum, _, err := manifest.HashReader(io.TeeReader(r, c))
		if err != nil {
			_ = c.Discard() //nolint:errcheck // best-effort cleanup
			return fmt.Errorf("extract %s: %w", member, err)
		}
		if err := c.Commit(); err != nil {
			return err
		}
		u.actual[member] = sum
		u.chown(dst, hdr)

	case tar.TypeLink:
		target, err := volume.SafeName(hdr.Linkname)
		if err != nil {
			return err
		}
		sum, ok := u.actual[target]
		if !ok {
			return fmt.Errorf("extract %s: link target %s not restored", member, target)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
			return err
		}
		if err := os.Link(u.sink.Path(u.rel(target)), dst); err != nil {
			return fmt.Errorf("extract %s: %w", member, err)
		}
		u.actual[member] = sum

	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
			return err
		}
		if err := os.Symlink(hdr.Linkname, dst); err != nil {
			return fmt.Errorf("extract %s: %w", member, err)
		}
		u.chown(dst, hdr)
		return nil

	default:
		u.log().Warn("skipping unsupported member", "path", member, "type", string(hdr.Typeflag))
		return nil
	}

	u.files++
	u.cfg.progress.report(ProgressEvent{Stage: StageExtracting, Path: rel, FilesDone: u.files})
	return nil
}

// chown restores recorded ownership when running privileged and both
// names resolve locally.
func (u *unpacker) chown(dst string, hdr *tar.Header) {
	if !platform.IsPrivileged() || hdr.Uname == "" || hdr.Gname == "" {
		return
	}
	uid, uok := platform.LookupUser(hdr.Uname)
	gid, gok := platform.LookupGroup(hdr.Gname)
	if !uok || !gok {
		return
	}
	if err := os.Lchown(dst, int(uid), int(gid)); err != nil {
		u.log().Warn("cannot set owner", "path", dst, "error", err)
	}
}

// verify compares the checksums computed while extracting with the
// archive listings.
func (u *unpacker) verify(dest string) error {
	u.cfg.progress.report(ProgressEvent{Stage: StageVerifying, Path: dest})
	members, err := u.a.Members()
	if err != nil {
		return err
	}
	recorded := make(map[string]string, len(members))
	for _, m := range members {
		recorded[m.Path] = m.Checksum
	}
	v := &verifier{a: u.a, diff: &Diff{}}
	v.compare(recorded, u.actual)
	v.diff.sort()
	if !v.diff.OK() {
		return &VerifyError{Path: dest, Diff: v.diff}
	}
	return nil
}

// finishDirs applies directory modes and times deepest first, then the
// default mode to the restored root.
func (u *unpacker) finishDirs() error {
	rels := make([]string, 0, len(u.dirs))
	for rel := range u.dirs {
		rels = append(rels, rel)
	}
	slices.SortFunc(rels, func(a, b string) int {
		if da, db := strings.Count(a, "/"), strings.Count(b, "/"); da != db {
			return db - da
		}
		return strings.Compare(a, b)
	})
	for _, rel := range rels {
		m := u.dirs[rel]
		dst := u.sink.Path(rel)
		if err := os.Chmod(dst, m.mode); err != nil {
			return err
		}
		if err := os.Chtimes(dst, m.modTime, m.modTime); err != nil {
			return err
		}
	}
	return os.Chmod(u.root, DefaultDirMode)
}

// isExist reports whether err means the destination was already taken.
func isExist(err error) bool {
	return errors.Is(err, sink.ErrExists) || errors.Is(err, fs.ErrExist)
}
