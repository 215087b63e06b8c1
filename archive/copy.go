package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/meigma/ngsarchiver/classify"
	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/internal/sink"
	"github.com/meigma/ngsarchiver/internal/stage"
	"github.com/meigma/ngsarchiver/internal/version"
	"github.com/meigma/ngsarchiver/manifest"
	"github.com/meigma/ngsarchiver/probe"
	"github.com/meigma/ngsarchiver/tree"
)

// PrecheckCopy walks src and reports every problem that would affect
// copying it into outDir. The destination filesystem is probed for case
// sensitivity and symlink support. Nothing is written.
func PrecheckCopy(ctx context.Context, src, outDir string, opts ...CopyOption) (*Precheck, error) {
	c := &copier{cfg: newCopyConfig(opts)}
	return c.precheck(ctx, src, outDir)
}

// Copy creates a copy archive of src in outDir, named after src.
//
// Content is copied with permissions and timestamps; ownership is kept
// only when running privileged and the recorded owners exist locally.
// Symlinks are handled by the configured policy. Hard-linked files are
// copied as independent files. The copy is verified against its checksum
// file before it is published, and any failure leaves the destination
// absent.
func Copy(ctx context.Context, src, outDir string, opts ...CopyOption) (*Archive, error) {
	c := &copier{cfg: newCopyConfig(opts)}

	pc, err := c.precheck(ctx, src, outDir)
	if err != nil {
		return nil, err
	}
	if err := pc.Report.Err(c.cfg.force); err != nil {
		return nil, err
	}
	for _, p := range pc.Report.Problems {
		c.log().Warn("continuing past problem", "category", p.Category.String(),
			"problem", p.Message, "degradation", p.Degradation)
	}

	sd, err := stage.Reserve(pc.Destination, stage.WithLogger(c.cfg.logger))
	if err != nil {
		return nil, wrapExists(err, stage.ErrExists)
	}
	defer sd.Discard() //nolint:errcheck // no-op after Publish

	c.log().Info("copying directory", "source", pc.Tree.Root(), "destination", pc.Destination)
	if err := c.copyTree(ctx, pc, sd.Path()); err != nil {
		return nil, err
	}
	if err := verifyStaged(ctx, sd.Path(),
		VerifyWithWorkers(c.cfg.workers), VerifyWithLogger(c.cfg.logger), VerifyWithProgress(c.cfg.progress)); err != nil {
		return nil, fmt.Errorf("verify copy: %w", err)
	}
	if err := sd.Publish(); err != nil {
		return nil, err
	}
	c.log().Info("copy created", "destination", pc.Destination)
	return Open(pc.Destination)
}

// copier holds state for copy archive creation.
type copier struct {
	cfg copyConfig
}

// log returns the logger, falling back to a discard logger if nil.
func (c *copier) log() *slog.Logger {
	return discardLogger(c.cfg.logger)
}

func (c *copier) precheck(ctx context.Context, src, outDir string) (*Precheck, error) {
	c.cfg.progress.report(ProgressEvent{Stage: StageWalking, Path: src})
	t, err := tree.Walk(ctx, src,
		tree.WithFollowDirLinks(c.cfg.policy.followDirLinks),
		tree.WithLogger(c.cfg.logger),
		tree.WithOwners(c.cfg.owners),
	)
	if err != nil {
		return nil, err
	}
	caps, err := c.cfg.capabilities(outDir)
	if err != nil {
		return nil, fmt.Errorf("probe destination: %w", err)
	}
	c.log().Debug("destination capabilities", "dir", outDir,
		"case_sensitive", caps.CaseSensitive, "symlinks", caps.Symlinks)

	cl := classify.ClassifyTree(t)
	dest := filepath.Join(outDir, t.Name())
	c.cfg.progress.report(ProgressEvent{Stage: StageChecking, Path: src, FilesTotal: t.Len()})
	return &Precheck{
		Tree:           t,
		Classification: cl,
		Destination:    dest,
		Report:         checkCopy(t, cl, dest, caps, c.cfg.policy),
	}, nil
}

// copyTree copies every entry of the source into dir and writes the
// metadata directory.
func (c *copier) copyTree(ctx context.Context, pc *Precheck, dir string) error {
	t := pc.Tree
	s := sink.New(dir,
		sink.WithPreserveMode(true),
		sink.WithPreserveTimes(true),
		sink.WithDirMode(0o700),
	)
	total := uint64(t.Stats().TotalSize) //nolint:gosec // sizes are non-negative

	var (
		sums     []manifest.Checksum
		dirs     []probe.Entry
		excluded []string
		done     uint64
	)
	for i, e := range t.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := s.Path(e.Path)
		src := filepath.Join(t.Root(), filepath.FromSlash(e.Path))

		switch {
		case e.Kind == probe.KindSpecial:
			excluded = append(excluded, e.Path)
			c.log().Warn("excluding special file", "path", e.Path, "type", e.SpecialType())
			continue

		case e.IsDir() || (e.IsDirLink() && !c.cfg.policy.keepsLink(t, e)):
			if err := os.Mkdir(dst, 0o700); err != nil {
				return err
			}
			dirs = append(dirs, e)
			continue

		case e.Kind == probe.KindSymlink && c.cfg.policy.keepsLink(t, e):
			if err := os.Symlink(e.Target, dst); err != nil {
				return err
			}

		case e.Kind == probe.KindSymlink && (e.LinkStatus == probe.LinkBroken || e.LinkStatus == probe.LinkUnresolvable):
			placeholder := strings.NewReader(e.Target + "\n")
			sum, _, err := manifest.HashReader(strings.NewReader(e.Target + "\n"))
			if err != nil {
				return err
			}
			if err := s.WriteFile(e.Path, sink.Meta{Mode: 0o644, ModTime: e.ModTime}, placeholder); err != nil {
				return fmt.Errorf("placeholder for %s: %w", e.Path, err)
			}
			sums = append(sums, manifest.Checksum{Digest: sum, Path: e.Path})
			c.log().Debug("transformed broken symlink", "path", e.Path, "target", e.Target)

		case e.Kind == probe.KindSymlink:
			info, err := os.Stat(e.Resolved)
			if err != nil {
				return fmt.Errorf("replace symlink %s: %w", e.Path, err)
			}
			sum, err := copyWithChecksum(s, e.Path, e.Resolved, sink.Meta{Mode: info.Mode(), ModTime: info.ModTime()})
			if err != nil {
				return err
			}
			sums = append(sums, manifest.Checksum{Digest: sum, Path: e.Path})
			done += uint64(info.Size()) //nolint:gosec // sizes are non-negative

		default:
			sum, err := copyWithChecksum(s, e.Path, src, sink.Meta{Mode: e.Mode, ModTime: e.ModTime})
			if err != nil {
				return err
			}
			sums = append(sums, manifest.Checksum{Digest: sum, Path: e.Path})
			done += uint64(e.Size) //nolint:gosec // sizes are non-negative
		}
		c.chown(dst, e)
		c.cfg.progress.report(ProgressEvent{
			Stage: StageCopying, Path: e.Path,
			BytesDone: done, BytesTotal: total,
			FilesDone: i + 1, FilesTotal: t.Len(),
		})
	}

	if err := c.writeMetadata(pc, dir, sums, excluded); err != nil {
		return err
	}
	return c.finishDirs(t, dir, dirs)
}

// finishDirs applies directory modes and times deepest first, after all
// content is in place, then does the same for the copy root.
func (c *copier) finishDirs(t *tree.Tree, dir string, dirs []probe.Entry) error {
	for _, e := range slices.Backward(dirs) {
		mode, mtime := e.Mode, e.ModTime
		if e.IsDirLink() {
			info, err := os.Stat(e.Resolved)
			if err != nil {
				return err
			}
			mode, mtime = info.Mode(), info.ModTime()
		}
		dst := filepath.Join(dir, filepath.FromSlash(e.Path))
		c.chown(dst, e)
		if err := os.Chmod(dst, mode.Perm()); err != nil {
			return err
		}
		if err := os.Chtimes(dst, mtime, mtime); err != nil {
			return err
		}
	}
	root := t.RootEntry()
	if err := os.Chmod(dir, root.Mode.Perm()|0o700); err != nil {
		return err
	}
	return os.Chtimes(dir, root.ModTime, root.ModTime)
}

// chown copies ownership when running privileged and the owner names
// resolve on this system. Failures are logged, not fatal.
func (c *copier) chown(dst string, e probe.Entry) {
	if !platform.IsPrivileged() {
		return
	}
	_, userOK := c.cfg.owners.UserName(e.UID)
	_, groupOK := c.cfg.owners.GroupName(e.GID)
	if !userOK || !groupOK {
		return
	}
	if err := os.Lchown(dst, int(e.UID), int(e.GID)); err != nil {
		c.log().Warn("cannot set owner", "path", dst, "error", err)
	}
}

func (c *copier) writeMetadata(pc *Precheck, dir string, sums []manifest.Checksum, excluded []string) error {
	t := pc.Tree
	st := t.Stats()
	pol := c.cfg.policy

	bySum := make(map[string]string, len(sums))
	for _, s := range sums {
		bySum[s.Path] = s.Digest
	}
	mf := &manifest.Manifest{Version: version.Version}
	for _, e := range t.Entries() {
		if e.Kind == probe.KindSpecial {
			continue
		}
		mf.Entries = append(mf.Entries, manifestEntry(e, bySum[e.Path], c.cfg.owners))
	}

	md := &manifest.Metadata{
		Name:                    t.Name(),
		Type:                    manifest.TypeCopy,
		Source:                  t.Root(),
		SourceType:              pc.Classification.Variant.String(),
		SourceSize:              st.TotalSize,
		User:                    currentUser(c.cfg.owners),
		CreationDate:            c.cfg.now().Format(manifest.DateLayout),
		Version:                 version.Version,
		HadSymlinks:             st.Symlinks > 0,
		HadHardLinks:            st.HardLinks > 0,
		HadCaseCollision:        len(t.Problems().CaseCollisions) > 0,
		HadSpecialFiles:         st.Special > 0,
		HadExcludedFiles:        len(excluded) > 0,
		ReplaceSymlinks:         pol.replaceSymlinks,
		TransformBrokenSymlinks: pol.transformBroken,
		FollowDirLinks:          pol.followDirLinks,
	}

	mw, err := newMetadataWriter(dir)
	if err != nil {
		return err
	}
	links, broken, unresolvable := linkRecords(t)
	if err := mw.metadata(md); err != nil {
		return err
	}
	if err := mw.manifest(mf); err != nil {
		return err
	}
	if err := mw.checksums(manifest.CopyChecksumsFile, sums); err != nil {
		return err
	}
	return mw.listings(excluded, links, broken, unresolvable)
}
