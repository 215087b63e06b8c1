package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/ngsarchiver/classify"
	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/internal/sink"
	"github.com/meigma/ngsarchiver/internal/stage"
	"github.com/meigma/ngsarchiver/internal/version"
	"github.com/meigma/ngsarchiver/internal/volume"
	"github.com/meigma/ngsarchiver/manifest"
	"github.com/meigma/ngsarchiver/probe"
	"github.com/meigma/ngsarchiver/tree"
)

// PrecheckArchive walks src and reports every problem that would affect
// building a compressed archive of it in outDir. Nothing is written.
func PrecheckArchive(ctx context.Context, src, outDir string, opts ...CreateOption) (*Precheck, error) {
	cfg := newCreateConfig(opts)
	b := &builder{cfg: cfg}
	return b.precheck(ctx, src, outDir)
}

// Create builds the compressed archive directory NAME.archive in outDir
// from the run directory src, where NAME is the base name of src.
//
// The whole tree is prechecked first and the build does not start unless
// the report allows it: hard problems always stop it, soft problems stop
// it unless CreateWithForce is set. Output is staged next to the
// destination and published with a single rename only after every volume,
// checksum listing and metadata file has been written; on any failure the
// staged output is removed and the destination is left absent.
//
// Subarchives are built concurrently, one worker per subarchive. Within a
// subarchive, members are placed in walk order and split into volumes by
// content size.
func Create(ctx context.Context, src, outDir string, opts ...CreateOption) (*Archive, error) {
	cfg := newCreateConfig(opts)
	b := &builder{cfg: cfg}

	pc, err := b.precheck(ctx, src, outDir)
	if err != nil {
		return nil, err
	}
	if err := pc.Report.Err(cfg.force); err != nil {
		return nil, err
	}
	for _, p := range pc.Report.Problems {
		b.log().Warn("continuing past problem", "category", p.Category.String(),
			"problem", p.Message, "degradation", p.Degradation)
	}

	gid := -1
	if cfg.group != "" {
		id, ok := platform.LookupGroup(cfg.group)
		if !ok {
			return nil, fmt.Errorf("%w: unknown group %q", ErrValidation, cfg.group)
		}
		gid = int(id)
	}

	sd, err := stage.Reserve(pc.Destination, stage.WithLogger(cfg.logger))
	if err != nil {
		return nil, wrapExists(err, stage.ErrExists)
	}
	defer sd.Discard() //nolint:errcheck // no-op after Publish

	b.log().Info("creating archive", "source", pc.Tree.Root(), "destination", pc.Destination,
		"type", pc.Classification.Variant.String(), "volume_size", cfg.volumeSize)

	if err := b.build(ctx, pc, sd.Path()); err != nil {
		return nil, err
	}
	if gid >= 0 {
		if err := chownTree(sd.Path(), uint32(gid)); err != nil { //nolint:gosec // gid came from a lookup
			return nil, fmt.Errorf("set group %s: %w", cfg.group, err)
		}
	}
	if err := os.Chmod(sd.Path(), sourceMode(pc.Tree)); err != nil {
		return nil, err
	}
	if err := sd.Publish(); err != nil {
		return nil, err
	}
	b.log().Info("archive created", "destination", pc.Destination)
	return Open(pc.Destination)
}

// builder holds state for compressed archive creation.
type builder struct {
	cfg createConfig

	bytesDone atomic.Int64
	filesDone atomic.Int64
}

// log returns the logger, falling back to a discard logger if nil.
func (b *builder) log() *slog.Logger {
	return discardLogger(b.cfg.logger)
}

func (b *builder) precheck(ctx context.Context, src, outDir string) (*Precheck, error) {
	b.cfg.progress.report(ProgressEvent{Stage: StageWalking, Path: src})
	t, err := tree.Walk(ctx, src, tree.WithLogger(b.cfg.logger), tree.WithOwners(b.cfg.owners))
	if err != nil {
		return nil, err
	}
	c := classify.ClassifyTree(t)
	dest := filepath.Join(outDir, t.Name()+manifest.ArchiveSuffix)

	b.cfg.progress.report(ProgressEvent{Stage: StageChecking, Path: src, FilesTotal: t.Len()})
	units := len(c.Layout().Units(t.Name()))
	return &Precheck{
		Tree:           t,
		Classification: c,
		Destination:    dest,
		Report:         checkArchive(t, c, dest, b.cfg.volumeSize, units),
	}, nil
}

// build writes the complete archive content into dir.
func (b *builder) build(ctx context.Context, pc *Precheck, dir string) error {
	t := pc.Tree
	limit := b.cfg.volumeSize
	if pc.Report.Has(CodeVolumeLargerThanSource) {
		limit = 0
	}
	units := pc.Classification.Layout().Units(t.Name())

	workers := b.cfg.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	results := make([][]volume.Result, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, u := range units {
		g.Go(func() error {
			res, err := b.buildUnit(gctx, t, u, limit, dir)
			if err != nil {
				return fmt.Errorf("subarchive %s: %w", u.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	extras, err := b.copyExtraFiles(t, pc.Classification.ExtraFiles, dir)
	if err != nil {
		return err
	}
	return b.writeMetadata(pc, dir, limit, results, extras)
}

// unitItems lists the volume items of u in walk order together with the
// planning sizes. Special files are left out.
func unitItems(t *tree.Tree, u classify.Unit) ([]volume.Item, []volume.Member) {
	var (
		items   []volume.Item
		members []volume.Member
	)
	for _, top := range u.Members {
		for _, e := range t.Under(top) {
			if e.Kind == probe.KindSpecial {
				continue
			}
			items = append(items, volume.Item{
				Entry:  e,
				Name:   t.Name() + "/" + e.Path,
				Source: filepath.Join(t.Root(), filepath.FromSlash(e.Path)),
			})
			var size int64
			if e.IsRegular() {
				size = e.Size
			}
			members = append(members, volume.Member{Path: e.Path, Size: size})
		}
	}
	return items, members
}

// buildUnit writes the volumes of one subarchive and their listings.
func (b *builder) buildUnit(ctx context.Context, t *tree.Tree, u classify.Unit, limit int64, dir string) ([]volume.Result, error) {
	items, members := unitItems(t, u)
	plan := volume.Plan(members, limit)
	if len(plan) == 0 {
		plan = [][]volume.Member{nil}
	}

	out := make([]volume.Result, 0, len(plan))
	next := 0
	for i, vol := range plan {
		index := i
		if limit <= 0 {
			index = -1
		}
		name := manifest.VolumeFileName(u.Name, index)
		if volume.Oversized(vol, limit) {
			b.log().Warn("volume exceeds size limit", "volume", name, "member", vol[0].Path)
		}
		res, err := b.writeVolume(ctx, filepath.Join(dir, name), items[next:next+len(vol)])
		if err != nil {
			return nil, err
		}
		next += len(vol)
		if err := writeChecksumFile(filepath.Join(dir, manifest.ChecksumFileFor(name)), res.Members); err != nil {
			return nil, err
		}
		b.log().Debug("volume written", "volume", name, "members", len(vol), "size", res.Size)
		out = append(out, res)
	}
	return out, nil
}

func (b *builder) writeVolume(ctx context.Context, path string, items []volume.Item) (volume.Result, error) {
	w, err := volume.Create(path,
		volume.WithLevel(b.cfg.level),
		volume.WithStrict(b.cfg.changeDetection == ChangeDetectionStrict),
		volume.WithOwners(b.cfg.owners),
	)
	if err != nil {
		return volume.Result{}, err
	}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return volume.Result{}, err
		}
		if err := w.Add(it); err != nil {
			w.Abort()
			return volume.Result{}, err
		}
		if it.Entry.IsRegular() {
			b.cfg.progress.report(ProgressEvent{
				Stage:     StageCompressing,
				Path:      it.Entry.Path,
				BytesDone: uint64(b.bytesDone.Add(it.Entry.Size)), //nolint:gosec // sizes are non-negative
				FilesDone: int(b.filesDone.Add(1)),
			})
		}
	}
	return w.Close()
}

// extraFile is a plain file stored uncompressed beside the volumes.
type extraFile struct {
	name string
	sum  string
}

func (b *builder) copyExtraFiles(t *tree.Tree, names []string, dir string) ([]extraFile, error) {
	s := sink.New(dir, sink.WithPreserveMode(true), sink.WithPreserveTimes(true))
	out := make([]extraFile, 0, len(names))
	for _, name := range names {
		e, ok := t.Entry(name)
		if !ok || !e.IsRegular() {
			continue
		}
		sum, err := copyWithChecksum(s, name, filepath.Join(t.Root(), name), sink.Meta{Mode: e.Mode, ModTime: e.ModTime})
		if err != nil {
			return nil, err
		}
		listing := []manifest.Checksum{{Digest: sum, Path: t.Name() + "/" + name}}
		if err := writeChecksumFile(filepath.Join(dir, manifest.ChecksumFileFor(name)), listing); err != nil {
			return nil, err
		}
		out = append(out, extraFile{name: name, sum: sum})
	}
	return out, nil
}

// copyWithChecksum copies the file at src to rel in s and returns the md5
// of the bytes written.
func copyWithChecksum(s *sink.FileSink, rel, src string, meta sink.Meta) (string, error) {
	f, err := platform.OpenFileNoFollow(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	c, err := s.Writer(rel, meta)
	if err != nil {
		return "", err
	}
	sum, _, err := manifest.HashReader(io.TeeReader(f, c))
	if err != nil {
		_ = c.Discard() //nolint:errcheck // best-effort cleanup
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	if err := c.Commit(); err != nil {
		return "", err
	}
	return sum, nil
}

// writeMetadata writes ARCHIVE_METADATA and the integrity checksums of the
// visible top-level files.
func (b *builder) writeMetadata(pc *Precheck, dir string, limit int64, results [][]volume.Result, extras []extraFile) error {
	t := pc.Tree
	st := t.Stats()
	prefix := t.Name() + "/"

	sums := make(map[string]string)
	var (
		subarchives []string
		top         []manifest.Checksum
	)
	for _, unit := range results {
		for _, res := range unit {
			name := filepath.Base(res.Path)
			subarchives = append(subarchives, name)
			top = append(top, manifest.Checksum{Digest: res.Checksum, Path: name})
			for _, m := range res.Members {
				sums[strings.TrimPrefix(m.Path, prefix)] = m.Digest
			}
		}
	}
	files := make([]string, 0, len(extras))
	for _, x := range extras {
		files = append(files, x.name)
		sums[x.name] = x.sum
		top = append(top, manifest.Checksum{Digest: x.sum, Path: x.name})
	}
	listings := make([]string, 0, len(subarchives)+len(files))
	for _, name := range slices.Concat(subarchives, files) {
		listings = append(listings, manifest.ChecksumFileFor(name))
	}
	for _, name := range listings {
		sum, _, err := manifest.HashFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		top = append(top, manifest.Checksum{Digest: sum, Path: name})
	}
	slices.SortFunc(top, func(a, b manifest.Checksum) int { return strings.Compare(a.Path, b.Path) })

	mf := &manifest.Manifest{Version: version.Version}
	var excluded []string
	for _, e := range t.Entries() {
		if e.Kind == probe.KindSpecial {
			excluded = append(excluded, e.Path)
			continue
		}
		mf.Entries = append(mf.Entries, manifestEntry(e, sums[e.Path], b.cfg.owners))
	}

	md := &manifest.Metadata{
		Name:             t.Name(),
		Type:             manifest.TypeCompressed,
		Source:           t.Root(),
		SourceType:       pc.Classification.Variant.String(),
		SourceSize:       st.TotalSize,
		Subarchives:      subarchives,
		Files:            files,
		User:             currentUser(b.cfg.owners),
		CreationDate:     b.cfg.now().Format(manifest.DateLayout),
		MultiVolume:      limit > 0,
		VolumeSize:       manifest.Size(limit),
		CompressionLevel: b.cfg.level,
		Version:          version.Version,
		HadSymlinks:      st.Symlinks > 0,
		HadHardLinks:     st.HardLinks > 0,
		HadCaseCollision: len(t.Problems().CaseCollisions) > 0,
		HadSpecialFiles:  st.Special > 0,
		HadExcludedFiles: len(excluded) > 0,
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
	if err := mw.checksums(manifest.ArchiveChecksumsFile, top); err != nil {
		return err
	}
	if err := mw.listings(excluded, links, broken, unresolvable); err != nil {
		return err
	}
	return mw.renderings(t)
}

// sourceMode is applied to the published archive directory so it carries
// the permissions of the run directory it was made from.
func sourceMode(t *tree.Tree) os.FileMode {
	return t.RootEntry().Mode.Perm() | 0o700
}
