// Package classify assigns a directory to one of the structural variants the
// archive builders understand.
//
// Classification looks only at the top level of a directory: the names and
// kinds of its direct children, plus the project index file when one is
// present. Existing archive directories are recognized first and are
// terminal; nothing else in this package turns them back into runs.
package classify

import (
	"bufio"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/meigma/ngsarchiver/manifest"
	"github.com/meigma/ngsarchiver/probe"
	"github.com/meigma/ngsarchiver/tree"
)

const (
	// ProjectsInfo is the project index file that marks a multi-project run.
	ProjectsInfo = "projects.info"

	// ResidueName is the subarchive holding everything in a multi-project
	// run that is not a project directory.
	ResidueName = "processing"

	// undeterminedPrefix marks demultiplexing leftovers that are archived
	// like projects even when projects.info does not list them.
	undeterminedPrefix = "undetermined"
)

// Variant is the structural kind of a directory.
type Variant uint8

const (
	// GenericRun is archived as a single subarchive.
	GenericRun Variant = iota

	// MultiSubdirRun has only directories at the top level; each becomes
	// its own subarchive.
	MultiSubdirRun

	// MultiProjectRun has a projects.info index; each project becomes a
	// subarchive and everything else goes into a residue subarchive.
	MultiProjectRun

	// CompressedArchiveDirectory is the output of the compressed builder.
	CompressedArchiveDirectory

	// CopyArchiveDirectory is the output of the copy builder.
	CopyArchiveDirectory
)

// String returns the display name of the variant.
func (v Variant) String() string {
	switch v {
	case GenericRun:
		return "GenericRun"
	case MultiSubdirRun:
		return "MultiSubdirRun"
	case MultiProjectRun:
		return "MultiProjectRun"
	case CompressedArchiveDirectory:
		return "CompressedArchiveDirectory"
	case CopyArchiveDirectory:
		return "CopyArchiveDirectory"
	default:
		return "Variant(" + strconv.Itoa(int(v)) + ")"
	}
}

// IsArchive reports whether v is one of the archive directory variants.
func (v Variant) IsArchive() bool {
	return v == CompressedArchiveDirectory || v == CopyArchiveDirectory
}

// Unit is one partition of a run that becomes a subarchive. Members are
// top-level relative paths; each is archived together with everything
// below it.
type Unit struct {
	Name    string
	Members []string
}

// Layout describes how a classified directory is partitioned.
type Layout interface {
	// Units returns the subarchives to build, in build order. rootName is
	// the base name of the run directory. Archive variants have no units.
	Units(rootName string) []Unit

	// Describe returns a short human-readable summary.
	Describe() string
}

// Classification is the result of Classify.
type Classification struct {
	Variant Variant

	// Subdirs lists the subarchive directories of a MultiSubdirRun.
	Subdirs []string

	// Projects and Residue partition a MultiProjectRun. ResidueUnit is the
	// subarchive name used for Residue.
	Projects    []string
	Residue     []string
	ResidueUnit string

	// ExtraFiles are top-level files stored uncompressed beside the volumes.
	ExtraFiles []string

	// Recognition is set for archive variants.
	Recognition manifest.Recognition

	layout Layout
}

// Layout returns the partitioning capability for the variant.
func (c Classification) Layout() Layout {
	if c.layout == nil {
		if c.Variant.IsArchive() {
			return archiveLayout{rec: c.Recognition}
		}
		return genericLayout{}
	}
	return c.layout
}

// ClassifyTree classifies the root of an already-walked tree.
func ClassifyTree(t *tree.Tree) Classification {
	return Classify(os.DirFS(t.Root()), t.Name(), t.TopLevel())
}

// Classify assigns a directory to a variant from its top-level entries.
// fsys is rooted at the directory called name and is used to look for
// archive markers and to read the project index. The result is deterministic for a given
// directory state.
func Classify(fsys fs.FS, name string, top []probe.Entry) Classification {
	if rec, ok := manifest.Recognize(fsys, name); ok {
		v := CompressedArchiveDirectory
		if rec.Type == manifest.TypeCopy {
			v = CopyArchiveDirectory
		}
		return Classification{Variant: v, Recognition: rec, layout: archiveLayout{rec: rec}}
	}

	names := make([]string, 0, len(top))
	for _, e := range top {
		names = append(names, e.Path)
	}

	if hasProjectsInfo(top) && len(top) > 1 {
		return classifyProjects(fsys, top)
	}

	if len(top) > 0 && allDirs(top) {
		return Classification{
			Variant: MultiSubdirRun,
			Subdirs: names,
			layout:  subdirLayout{subdirs: names},
		}
	}

	return Classification{Variant: GenericRun, layout: genericLayout{members: names}}
}

func hasProjectsInfo(top []probe.Entry) bool {
	for _, e := range top {
		if e.Path == ProjectsInfo && e.IsRegular() {
			return true
		}
	}
	return false
}

func allDirs(top []probe.Entry) bool {
	for _, e := range top {
		if !e.IsDir() && !e.IsDirLink() {
			return false
		}
	}
	return true
}

// classifyProjects splits the top level into project directories and the
// residue. A projects.info that cannot be read lists no projects, so
// everything except undetermined directories lands in the residue.
func classifyProjects(fsys fs.FS, top []probe.Entry) Classification {
	dirs := make(map[string]bool, len(top))
	for _, e := range top {
		if e.IsDir() || e.IsDirLink() {
			dirs[e.Path] = true
		}
	}

	var projects []string
	seen := make(map[string]bool)
	for _, name := range readProjectNames(fsys) {
		if dirs[name] && !seen[name] {
			seen[name] = true
			projects = append(projects, name)
		}
	}
	for _, e := range top {
		if dirs[e.Path] && strings.HasPrefix(e.Path, undeterminedPrefix) && !seen[e.Path] {
			seen[e.Path] = true
			projects = append(projects, e.Path)
		}
	}

	var residue []string
	for _, e := range top {
		if e.Path == ProjectsInfo || seen[e.Path] {
			continue
		}
		residue = append(residue, e.Path)
	}

	unit := residueUnitName(projects)
	return Classification{
		Variant:     MultiProjectRun,
		Projects:    projects,
		Residue:     residue,
		ResidueUnit: unit,
		ExtraFiles:  []string{ProjectsInfo},
		layout:      projectLayout{projects: projects, residue: residue, residueUnit: unit},
	}
}

// readProjectNames returns the first tab-separated field of every
// non-comment line of projects.info.
func readProjectNames(fsys fs.FS) []string {
	f, err := fsys.Open(ProjectsInfo)
	if err != nil {
		return nil
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, _, _ := strings.Cut(line, "\t")
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			continue
		}
		names = append(names, name)
	}
	if sc.Err() != nil {
		return nil
	}
	return names
}

// residueUnitName picks a residue subarchive name that does not clash with
// a project subarchive.
func residueUnitName(projects []string) string {
	name := ResidueName
	for i := 1; slices.Contains(projects, name); i++ {
		name = ResidueName + "_" + strconv.Itoa(i)
	}
	return name
}

type genericLayout struct {
	members []string
}

func (l genericLayout) Units(rootName string) []Unit {
	return []Unit{{Name: rootName, Members: slices.Clone(l.members)}}
}

func (l genericLayout) Describe() string {
	return "generic run (single subarchive)"
}

type subdirLayout struct {
	subdirs []string
}

func (l subdirLayout) Units(string) []Unit {
	units := make([]Unit, 0, len(l.subdirs))
	for _, s := range l.subdirs {
		units = append(units, Unit{Name: s, Members: []string{s}})
	}
	return units
}

func (l subdirLayout) Describe() string {
	return "multi-subdirectory run (" + strconv.Itoa(len(l.subdirs)) + " subarchives)"
}

type projectLayout struct {
	projects    []string
	residue     []string
	residueUnit string
}

func (l projectLayout) Units(string) []Unit {
	units := make([]Unit, 0, len(l.projects)+1)
	for _, p := range l.projects {
		units = append(units, Unit{Name: p, Members: []string{p}})
	}
	if len(l.residue) > 0 {
		units = append(units, Unit{Name: l.residueUnit, Members: slices.Clone(l.residue)})
	}
	return units
}

func (l projectLayout) Describe() string {
	return "multi-project run (" + strconv.Itoa(len(l.projects)) + " projects, " +
		strconv.Itoa(len(l.residue)) + " other objects)"
}

type archiveLayout struct {
	rec manifest.Recognition
}

func (archiveLayout) Units(string) []Unit { return nil }

func (l archiveLayout) Describe() string {
	desc := string(l.rec.Type) + " archive directory"
	if l.rec.Legacy {
		desc += " (legacy layout)"
	}
	return desc
}
