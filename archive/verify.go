package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/ngsarchiver/internal/volume"
	"github.com/meigma/ngsarchiver/manifest"
)

type verifyConfig struct {
	workers  int
	logger   *slog.Logger
	progress ProgressFunc
	pool     *volume.ReaderPool
}

// VerifyOption configures verification.
type VerifyOption func(*verifyConfig)

// VerifyWithWorkers bounds how many files are checksummed at once.
// Zero or less uses one worker per CPU.
func VerifyWithWorkers(n int) VerifyOption {
	return func(cfg *verifyConfig) {
		cfg.workers = n
	}
}

// VerifyWithLogger sets the logger for verification.
// If not set, logging is disabled.
func VerifyWithLogger(logger *slog.Logger) VerifyOption {
	return func(cfg *verifyConfig) {
		cfg.logger = logger
	}
}

// VerifyWithProgress sets a callback for progress updates.
func VerifyWithProgress(fn ProgressFunc) VerifyOption {
	return func(cfg *verifyConfig) {
		cfg.progress = fn
	}
}

func newVerifyConfig(opts []VerifyOption) verifyConfig {
	var cfg verifyConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = runtime.NumCPU()
	}
	if cfg.pool == nil {
		cfg.pool = volume.NewReaderPool()
	}
	return cfg
}

// Verify opens the archive at dir and verifies it.
func Verify(ctx context.Context, dir string, opts ...VerifyOption) (*Diff, error) {
	a, err := Open(dir)
	if err != nil {
		return nil, err
	}
	return a.Verify(ctx, opts...)
}

// Verify recomputes checksums of the archive content and compares them
// with the recorded ones. Timestamps, permissions and ownership are not
// compared.
//
// For compressed archives the volumes and plain files are checked against
// the integrity listing first. A volume that fails that check is reported
// as mismatched under its own file name and its members are not read.
// Every other volume is decompressed and its member checksums are compared
// with the volume's listing, and the listings together are compared with
// the manifest.
//
// For copy archives every copied file is checksummed and compared with
// the checksum file.
//
// The returned Diff is always non-nil when the archive could be read. A
// *VerifyError is returned alongside it when the diff is not empty.
func (a *Archive) Verify(ctx context.Context, opts ...VerifyOption) (*Diff, error) {
	cfg := newVerifyConfig(opts)
	v := &verifier{a: a, cfg: cfg, diff: &Diff{}}
	v.log().Info("verifying archive", "archive", a.Dir, "type", string(a.Type()))

	var err error
	if a.Type() == manifest.TypeCopy {
		err = v.verifyCopy(ctx)
	} else {
		err = v.verifyCompressed(ctx)
	}
	if err != nil {
		return nil, err
	}
	v.diff.sort()
	if !v.diff.OK() {
		v.log().Warn("verification failed", "archive", a.Dir, "missing", len(v.diff.Missing),
			"extra", len(v.diff.Extra), "mismatched", len(v.diff.Mismatched))
		return v.diff, &VerifyError{Path: a.Dir, Diff: v.diff}
	}
	v.log().Info("verification passed", "archive", a.Dir)
	return v.diff, nil
}

// verifier accumulates a diff from concurrent workers.
type verifier struct {
	a    *Archive
	cfg  verifyConfig
	mu   sync.Mutex
	diff *Diff
	done int
}

func (v *verifier) log() *slog.Logger {
	return discardLogger(v.cfg.logger)
}

func (v *verifier) missing(p string) {
	v.mu.Lock()
	v.diff.Missing = append(v.diff.Missing, p)
	v.mu.Unlock()
}

func (v *verifier) extra(p string) {
	v.mu.Lock()
	v.diff.Extra = append(v.diff.Extra, p)
	v.mu.Unlock()
}

func (v *verifier) mismatched(p string) {
	v.mu.Lock()
	v.diff.Mismatched = append(v.diff.Mismatched, p)
	v.mu.Unlock()
}

func (v *verifier) progress(p string, total int) {
	v.mu.Lock()
	v.done++
	done := v.done
	v.mu.Unlock()
	v.cfg.progress.report(ProgressEvent{Stage: StageVerifying, Path: p, FilesDone: done, FilesTotal: total})
}

// compare diffs recomputed sums against recorded ones.
func (v *verifier) compare(recorded, actual map[string]string) {
	for p, want := range recorded {
		got, ok := actual[p]
		switch {
		case !ok:
			v.missing(p)
		case got != want:
			v.mismatched(p)
		}
	}
	for p := range actual {
		if _, ok := recorded[p]; !ok {
			v.extra(p)
		}
	}
}

func (v *verifier) verifyCompressed(ctx context.Context) error {
	corrupt, err := v.checkContainers(ctx)
	if err != nil {
		return err
	}
	listings, err := v.a.listings()
	if err != nil {
		return err
	}

	union := make(map[string]string)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.workers)
	for _, l := range listings {
		sums, err := manifest.ReadChecksumFile(filepath.Join(v.a.Dir, l.name))
		if err != nil {
			return err
		}
		recorded := make(map[string]string, len(sums))
		for _, s := range sums {
			recorded[s.Path] = s.Digest
			union[s.Path] = s.Digest
		}
		if corrupt[l.container] {
			continue
		}
		g.Go(func() error {
			actual, err := v.containerSums(gctx, l, recorded)
			if err != nil {
				return err
			}
			if actual == nil {
				v.mismatched(l.container)
				return nil
			}
			v.compare(recorded, actual)
			v.progress(l.container, len(listings))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return v.checkManifest(union)
}

// containerSums recomputes the member checksums of one volume or plain
// file. A volume that cannot be decompressed yields nil.
func (v *verifier) containerSums(ctx context.Context, l listing, recorded map[string]string) (map[string]string, error) {
	p := filepath.Join(v.a.Dir, l.container)
	if !l.volume {
		sum, _, err := manifest.HashFile(p)
		if err != nil {
			return nil, err
		}
		actual := make(map[string]string, len(recorded))
		for name := range recorded {
			if path.Base(name) == l.container {
				actual[name] = sum
			}
		}
		return actual, nil
	}

	sums, err := volume.Checksums(ctx, p, v.cfg.pool)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		v.log().Warn("unreadable volume", "volume", l.container, "error", err)
		return nil, nil
	}
	return sums, nil
}

// checkContainers checks the top-level files against the integrity
// listing and returns the names that failed.
func (v *verifier) checkContainers(ctx context.Context) (map[string]bool, error) {
	recorded, err := v.a.containerChecksums()
	if err != nil {
		return nil, err
	}
	corrupt := make(map[string]bool)
	if recorded == nil {
		return corrupt, nil
	}

	var mu sync.Mutex
	listed := make(map[string]bool, len(recorded))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.workers)
	for _, s := range recorded {
		listed[s.Path] = true
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sum, _, err := manifest.HashFile(filepath.Join(v.a.Dir, filepath.FromSlash(s.Path)))
			switch {
			case errors.Is(err, fs.ErrNotExist):
				v.missing(s.Path)
			case err != nil:
				return err
			case sum != s.Digest:
				v.mismatched(s.Path)
			default:
				return nil
			}
			mu.Lock()
			corrupt[s.Path] = true
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	files, err := v.a.TopLevelFiles()
	if err != nil {
		return nil, err
	}
	for _, name := range files {
		if !listed[name] {
			v.extra(name)
		}
	}
	return corrupt, nil
}

// checkManifest compares the manifest checksums with the union of the
// member listings.
func (v *verifier) checkManifest(union map[string]string) error {
	m, err := v.a.Manifest()
	if err != nil {
		return err
	}
	if m == nil || m.Legacy {
		return nil
	}
	prefix := v.a.Name() + "/"
	recorded := make(map[string]string)
	for p, sum := range m.Checksums() {
		recorded[prefix+p] = sum
	}
	v.compare(recorded, union)
	return nil
}

func (v *verifier) verifyCopy(ctx context.Context) error {
	sums, err := v.a.copyChecksums()
	if err != nil {
		return err
	}
	recorded := make(map[string]string, len(sums))
	for _, s := range sums {
		recorded[s.Path] = s.Digest
	}

	var files []string
	metaDir := v.a.Recognition.Dir
	err = filepath.WalkDir(v.a.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(v.a.Dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() && rel == metaDir {
			return filepath.SkipDir
		}
		if d.Type().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", v.a.Dir, err)
	}

	var mu sync.Mutex
	actual := make(map[string]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.workers)
	for _, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sum, _, err := manifest.HashFile(filepath.Join(v.a.Dir, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			mu.Lock()
			actual[rel] = sum
			mu.Unlock()
			v.progress(rel, len(files))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	v.compare(recorded, actual)
	return nil
}

// verifyStaged verifies a directory before it is published, used by the
// copy builder and the restorer.
func verifyStaged(ctx context.Context, dir string, opts ...VerifyOption) error {
	a, err := Open(dir)
	if err != nil {
		return err
	}
	_, err = a.Verify(ctx, opts...)
	return err
}
