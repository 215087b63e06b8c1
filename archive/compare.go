package archive

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/ngsarchiver/manifest"
	"github.com/meigma/ngsarchiver/probe"
	"github.com/meigma/ngsarchiver/tree"
)

// Comparison is the outcome of comparing two directory trees.
//
// Missing paths exist only in the first tree, Extra paths only in the
// second. Mismatched holds every path present in both that differs, with
// the reason broken out in Kind, Target and Content.
type Comparison struct {
	Diff

	// Kind paths are a different kind of object in each tree.
	Kind []string

	// Target paths are symlinks pointing at different targets.
	Target []string

	// Content paths are regular files whose checksums differ.
	Content []string
}

type compareConfig struct {
	workers int
	logger  *slog.Logger
}

// CompareOption configures Compare.
type CompareOption func(*compareConfig)

// CompareWithWorkers bounds how many files are checksummed at once.
// Zero or less uses one worker per CPU.
func CompareWithWorkers(n int) CompareOption {
	return func(cfg *compareConfig) {
		cfg.workers = n
	}
}

// CompareWithLogger sets the logger for the comparison.
// If not set, logging is disabled.
func CompareWithLogger(logger *slog.Logger) CompareOption {
	return func(cfg *compareConfig) {
		cfg.logger = logger
	}
}

// Compare walks dir1 and dir2 and reports the differences between them.
// Regular files are compared by md5, symlinks by target. Timestamps,
// permissions and ownership are ignored. A *VerifyError is returned with
// the comparison when the trees differ.
func Compare(ctx context.Context, dir1, dir2 string, opts ...CompareOption) (*Comparison, error) {
	var cfg compareConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = runtime.NumCPU()
	}
	log := discardLogger(cfg.logger)

	t1, err := tree.Walk(ctx, dir1, tree.WithLogger(cfg.logger))
	if err != nil {
		return nil, err
	}
	t2, err := tree.Walk(ctx, dir2, tree.WithLogger(cfg.logger))
	if err != nil {
		return nil, err
	}
	log.Info("comparing directories", "first", t1.Root(), "second", t2.Root())

	c := &Comparison{}
	var both []string
	for _, e1 := range t1.Entries() {
		e2, ok := t2.Entry(e1.Path)
		switch {
		case !ok:
			c.Missing = append(c.Missing, e1.Path)
		case compareKind(e1) != compareKind(e2):
			c.Kind = append(c.Kind, e1.Path)
		case e1.Kind == probe.KindSymlink && e1.Target != e2.Target:
			c.Target = append(c.Target, e1.Path)
		case e1.IsRegular():
			both = append(both, e1.Path)
		}
	}
	for _, e2 := range t2.Entries() {
		if _, ok := t1.Entry(e2.Path); !ok {
			c.Extra = append(c.Extra, e2.Path)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for _, rel := range both {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s1, _, err := manifest.HashFile(filepath.Join(t1.Root(), filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			s2, _, err := manifest.HashFile(filepath.Join(t2.Root(), filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			if s1 != s2 {
				mu.Lock()
				c.Content = append(c.Content, rel)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.Sort(c.Content)
	c.Mismatched = append(append(append(c.Mismatched, c.Kind...), c.Target...), c.Content...)
	c.sort()
	if !c.OK() {
		log.Warn("directories differ", "missing", len(c.Missing), "extra", len(c.Extra),
			"mismatched", len(c.Mismatched))
		return c, &VerifyError{Path: t2.Root(), Diff: &c.Diff}
	}
	return c, nil
}

// compareKind folds hard-linked files into plain files; link counts are not
// compared.
func compareKind(e probe.Entry) probe.Kind {
	if e.Kind == probe.KindHardLink {
		return probe.KindFile
	}
	return e.Kind
}
