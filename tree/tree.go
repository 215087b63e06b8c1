// Package tree walks a directory once and keeps an immutable aggregate view
// of it: every probed entry, size and kind statistics, and the sets of
// problems that decide whether the directory can be archived.
//
// # Walk order
//
// Entries are emitted depth-first in pre-order with the children of each
// directory sorted by name, so the same directory always yields the same
// entry sequence and the same problem report. Parents always precede their
// children.
//
// # Dirlinks
//
// Symlinks to directories are recorded but not entered unless
// WithFollowDirLinks is set. When following, a dirlink whose target is
// already one of its own ancestors is not entered again.
package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/probe"
)

// ErrNotDirectory is returned when the walk root is not a directory.
var ErrNotDirectory = errors.New("tree: not a directory")

// CollisionPair is two sibling paths whose names are equal under case folding.
type CollisionPair struct {
	A, B string
}

// HardLinkGroup is the set of walked paths sharing one (device, inode).
// Paths[0] is the primary member used for size accounting.
type HardLinkGroup struct {
	ID    platform.FileID
	Nlink uint64
	Paths []string
}

// SymlinkSets partitions symlink paths by resolution status.
type SymlinkSets struct {
	OK           []string
	Broken       []string
	External     []string
	Unresolvable []string
}

// Len returns the number of symlinks across all statuses.
func (s SymlinkSets) Len() int {
	return len(s.OK) + len(s.Broken) + len(s.External) + len(s.Unresolvable)
}

// Stats are aggregate counts collected during the walk.
type Stats struct {
	// TotalSize sums regular file sizes, counting each hard-link group once.
	TotalSize int64

	Files     int
	Dirs      int
	Symlinks  int
	HardLinks int
	Special   int

	LargestFile     string
	LargestFileSize int64

	// CompressedFiles counts files whose extension marks them as already
	// compressed; CompressedSize is their total size.
	CompressedFiles int
	CompressedSize  int64
}

// Problems are the findings that archive and copy prechecks act on.
type Problems struct {
	Unreadable     []string
	Unwriteable    []string
	Special        []string
	UnknownOwners  []string
	CaseCollisions []CollisionPair
	HardLinkGroups []HardLinkGroup
	Symlinks       SymlinkSets
}

// Tree is the result of a single walk. It is never modified after Walk
// returns; re-walking produces a new Tree.
type Tree struct {
	root           string
	rootEntry      probe.Entry
	entries        []probe.Entry
	index          map[string]int
	stats          Stats
	problems       Problems
	followDirLinks bool
	entered        map[string]bool
}

// Root returns the absolute root path.
func (t *Tree) Root() string { return t.root }

// Name returns the base name of the root directory.
func (t *Tree) Name() string { return filepath.Base(t.root) }

// RootEntry returns the probed root directory.
func (t *Tree) RootEntry() probe.Entry { return t.rootEntry }

// Len returns the number of descendant entries.
func (t *Tree) Len() int { return len(t.entries) }

// Entries returns every descendant entry in walk order.
func (t *Tree) Entries() []probe.Entry { return slices.Clone(t.entries) }

// Stats returns the aggregate statistics.
func (t *Tree) Stats() Stats { return t.stats }

// Problems returns a copy of the problem sets.
func (t *Tree) Problems() Problems {
	p := t.problems
	p.Unreadable = slices.Clone(p.Unreadable)
	p.Unwriteable = slices.Clone(p.Unwriteable)
	p.Special = slices.Clone(p.Special)
	p.UnknownOwners = slices.Clone(p.UnknownOwners)
	p.CaseCollisions = slices.Clone(p.CaseCollisions)
	p.HardLinkGroups = slices.Clone(p.HardLinkGroups)
	for i := range p.HardLinkGroups {
		p.HardLinkGroups[i].Paths = slices.Clone(p.HardLinkGroups[i].Paths)
	}
	p.Symlinks = SymlinkSets{
		OK:           slices.Clone(p.Symlinks.OK),
		Broken:       slices.Clone(p.Symlinks.Broken),
		External:     slices.Clone(p.Symlinks.External),
		Unresolvable: slices.Clone(p.Symlinks.Unresolvable),
	}
	return p
}

// FollowsDirLinks reports whether the walk entered symlinked directories.
func (t *Tree) FollowsDirLinks() bool { return t.followDirLinks }

// Entered reports whether the walk descended into the dirlink at p. A
// dirlink leading back to one of its own ancestors is never entered.
func (t *Tree) Entered(p string) bool { return t.entered[p] }

// Entry looks up a descendant by slash-separated relative path.
func (t *Tree) Entry(p string) (probe.Entry, bool) {
	i, ok := t.index[p]
	if !ok {
		return probe.Entry{}, false
	}
	return t.entries[i], true
}

// TopLevel returns the direct children of the root in name order.
func (t *Tree) TopLevel() []probe.Entry {
	var out []probe.Entry
	for _, e := range t.entries {
		if !strings.Contains(e.Path, "/") {
			out = append(out, e)
		}
	}
	return out
}

// Under returns top and every entry below it, in walk order.
func (t *Tree) Under(top string) []probe.Entry {
	var out []probe.Entry
	prefix := top + "/"
	for _, e := range t.entries {
		if e.Path == top || strings.HasPrefix(e.Path, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// IsPrimary reports whether e is the size-accounted member of its hard-link
// group, or not a hard link at all.
func (t *Tree) IsPrimary(e probe.Entry) bool {
	if e.Kind != probe.KindHardLink {
		return true
	}
	for _, g := range t.problems.HardLinkGroups {
		if g.ID == e.ID {
			return g.Paths[0] == e.Path
		}
	}
	return true
}

// Walk probes root and everything below it.
func Walk(ctx context.Context, root string, opts ...Option) (*Tree, error) {
	cfg := walkConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.owners == nil {
		cfg.owners = platform.NewOwners()
	}

	var probeOpts []probe.Option
	if cfg.maxHops > 0 {
		probeOpts = append(probeOpts, probe.WithMaxHops(cfg.maxHops))
	}
	p, err := probe.New(root, probeOpts...)
	if err != nil {
		return nil, err
	}
	rootEntry, err := p.Probe(".")
	if err != nil {
		return nil, err
	}
	if rootEntry.Kind != probe.KindDir {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, p.Root())
	}

	w := &walker{
		cfg:    cfg,
		prober: p,
		fold:   cases.Fold(),
		t: &Tree{
			root:           p.Root(),
			rootEntry:      rootEntry,
			index:          make(map[string]int),
			followDirLinks: cfg.followDirLinks,
			entered:        make(map[string]bool),
		},
		links: make(map[platform.FileID]int),
	}
	w.log().Debug("walking directory", "root", p.Root(), "follow_dirlinks", cfg.followDirLinks)

	if err := w.walk(ctx, rootEntry); err != nil {
		return nil, err
	}

	st := w.t.stats
	w.log().Debug("walk complete",
		"root", p.Root(),
		"entries", len(w.t.entries),
		"files", st.Files,
		"dirs", st.Dirs,
		"symlinks", st.Symlinks,
		"total_size", st.TotalSize,
	)
	return w.t, nil
}

// ancestor is a node in the immutable chain of directory identities from the
// root down to the directory being expanded.
type ancestor struct {
	id     platform.FileID
	parent *ancestor
}

func (a *ancestor) contains(id platform.FileID) bool {
	if id == (platform.FileID{}) {
		return false
	}
	for ; a != nil; a = a.parent {
		if a.id == id {
			return true
		}
	}
	return false
}

type frame struct {
	entry probe.Entry
	anc   *ancestor
}

type walker struct {
	cfg    walkConfig
	prober *probe.Prober
	fold   cases.Caser
	t      *Tree
	links  map[platform.FileID]int
}

func (w *walker) log() *slog.Logger {
	if w.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return w.cfg.logger
}

func (w *walker) walk(ctx context.Context, rootEntry probe.Entry) error {
	if !rootEntry.Readable {
		w.t.problems.Unreadable = append(w.t.problems.Unreadable, rootEntry.Path)
		return nil
	}
	if !rootEntry.Writable {
		w.t.problems.Unwriteable = append(w.t.problems.Unwriteable, rootEntry.Path)
	}

	rootAnc := &ancestor{id: rootEntry.ID}
	children, err := w.children(".", rootAnc)
	if err != nil {
		return err
	}
	stack := children

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		w.record(f.entry)

		next, ok := w.descendID(f.entry)
		if !ok || f.anc.contains(next) {
			if ok {
				w.log().Warn("not following dirlink into its own ancestor", "path", f.entry.Path)
			}
			continue
		}
		if f.entry.IsDirLink() {
			w.t.entered[f.entry.Path] = true
		}
		kids, err := w.children(f.entry.Path, &ancestor{id: next, parent: f.anc})
		if err != nil {
			return err
		}
		stack = append(stack, kids...)
	}

	for _, g := range w.t.problems.HardLinkGroups {
		w.log().Debug("hard-link group", "paths", g.Paths, "nlink", g.Nlink)
	}
	return nil
}

// descendID returns the identity of the directory entered through e, and
// whether e should be entered at all.
func (w *walker) descendID(e probe.Entry) (platform.FileID, bool) {
	switch {
	case e.Kind == probe.KindDir:
		return e.ID, e.Readable
	case e.IsDirLink() && w.cfg.followDirLinks &&
		(e.LinkStatus == probe.LinkOK || e.LinkStatus == probe.LinkExternal):
		info, err := os.Stat(e.Resolved)
		if err != nil {
			return platform.FileID{}, false
		}
		return platform.Identify(info).ID, true
	default:
		return platform.FileID{}, false
	}
}

// children lists and probes the entries of dir and returns them as frames
// in reverse name order, ready to be pushed on the walk stack.
func (w *walker) children(dir string, anc *ancestor) ([]frame, error) {
	dirents, err := os.ReadDir(w.prober.Abs(dir))
	if err != nil {
		if platform.IsPermission(err) {
			w.t.problems.Unreadable = append(w.t.problems.Unreadable, dir)
			return nil, nil
		}
		return nil, &probe.ProbeError{Path: w.prober.Abs(dir), Err: err}
	}

	frames := make([]frame, 0, len(dirents))
	folded := make(map[string][]string, len(dirents))
	var order []string
	for _, d := range dirents {
		rel := d.Name()
		if dir != "." {
			rel = dir + "/" + d.Name()
		}
		e, err := w.prober.Probe(rel)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame{entry: e, anc: anc})

		key := w.fold.String(d.Name())
		if _, seen := folded[key]; !seen {
			order = append(order, key)
		}
		folded[key] = append(folded[key], rel)
	}
	for _, key := range order {
		group := folded[key]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				w.t.problems.CaseCollisions = append(w.t.problems.CaseCollisions, CollisionPair{A: group[i], B: group[j]})
			}
		}
	}

	slices.Reverse(frames)
	return frames, nil
}

// record appends e and folds it into the statistics and problem sets.
func (w *walker) record(e probe.Entry) {
	t := w.t
	t.index[e.Path] = len(t.entries)
	t.entries = append(t.entries, e)

	pr := &t.problems
	st := &t.stats

	if !e.Readable {
		pr.Unreadable = append(pr.Unreadable, e.Path)
	}
	if !e.Writable {
		pr.Unwriteable = append(pr.Unwriteable, e.Path)
	}
	_, userOK := w.cfg.owners.UserName(e.UID)
	_, groupOK := w.cfg.owners.GroupName(e.GID)
	if !userOK || !groupOK {
		pr.UnknownOwners = append(pr.UnknownOwners, e.Path)
	}

	switch e.Kind {
	case probe.KindDir:
		st.Dirs++
	case probe.KindSymlink:
		st.Symlinks++
		switch e.LinkStatus {
		case probe.LinkOK:
			pr.Symlinks.OK = append(pr.Symlinks.OK, e.Path)
		case probe.LinkBroken:
			pr.Symlinks.Broken = append(pr.Symlinks.Broken, e.Path)
		case probe.LinkExternal:
			pr.Symlinks.External = append(pr.Symlinks.External, e.Path)
		default:
			pr.Symlinks.Unresolvable = append(pr.Symlinks.Unresolvable, e.Path)
		}
	case probe.KindSpecial:
		st.Special++
		pr.Special = append(pr.Special, e.Path)
	case probe.KindHardLink:
		st.Files++
		st.HardLinks++
		if i, seen := w.links[e.ID]; seen {
			pr.HardLinkGroups[i].Paths = append(pr.HardLinkGroups[i].Paths, e.Path)
			return
		}
		w.links[e.ID] = len(pr.HardLinkGroups)
		pr.HardLinkGroups = append(pr.HardLinkGroups, HardLinkGroup{ID: e.ID, Nlink: e.Nlink, Paths: []string{e.Path}})
		w.addFileSize(e)
	case probe.KindFile:
		st.Files++
		w.addFileSize(e)
	}
}

func (w *walker) addFileSize(e probe.Entry) {
	st := &w.t.stats
	st.TotalSize += e.Size
	if e.Size > st.LargestFileSize || st.LargestFile == "" {
		st.LargestFile = e.Path
		st.LargestFileSize = e.Size
	}
	if IsCompressedName(e.Path) {
		st.CompressedFiles++
		st.CompressedSize += e.Size
	}
}
