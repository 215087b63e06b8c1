package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/meigma/ngsarchiver/classify"
	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/tree"
)

// Info describes a directory: its walk, its classification and, for
// archive directories, the opened archive.
type Info struct {
	Tree           *tree.Tree
	Classification classify.Classification

	// Archive is nil unless the directory is an archive directory.
	Archive *Archive
}

type inspectConfig struct {
	logger *slog.Logger
	owners *platform.Owners
}

// InspectOption configures Inspect.
type InspectOption func(*inspectConfig)

// InspectWithLogger sets the logger for the walk.
// If not set, logging is disabled.
func InspectWithLogger(logger *slog.Logger) InspectOption {
	return func(cfg *inspectConfig) {
		cfg.logger = logger
	}
}

// InspectWithOwners shares an owner-name cache with other operations.
func InspectWithOwners(o *platform.Owners) InspectOption {
	return func(cfg *inspectConfig) {
		cfg.owners = o
	}
}

// Inspect walks dir and classifies it. Nothing is written.
func Inspect(ctx context.Context, dir string, opts ...InspectOption) (*Info, error) {
	var cfg inspectConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.owners == nil {
		cfg.owners = platform.NewOwners()
	}
	t, err := tree.Walk(ctx, dir, tree.WithLogger(cfg.logger), tree.WithOwners(cfg.owners))
	if err != nil {
		return nil, err
	}
	info := &Info{Tree: t, Classification: classify.ClassifyTree(t)}
	if info.Classification.Variant.IsArchive() {
		a, err := Open(t.Root())
		if err != nil && !errors.Is(err, ErrNotArchive) {
			return nil, err
		}
		info.Archive = a
	}
	return info, nil
}

// CompressedFraction returns the share of the total size held by files
// that are already compressed, between 0 and 1.
func (i *Info) CompressedFraction() float64 {
	st := i.Tree.Stats()
	if st.TotalSize == 0 {
		return 0
	}
	return float64(st.CompressedSize) / float64(st.TotalSize)
}

// TSVHeader names the columns written by TSV.
const TSVHeader = "path\ttype\tsize\tlargest_file\tlargest_file_size\tcompressed_size\t" +
	"symlinks\tunreadable\texternal_symlinks\tbroken_symlinks\thard_links\tunknown_owners"

// TSV returns a one-line tab-separated summary. Sizes are in bytes and
// flags are "yes" or "no".
func (i *Info) TSV() string {
	st := i.Tree.Stats()
	pr := i.Tree.Problems()
	fields := []string{
		i.Tree.Root(),
		i.Classification.Variant.String(),
		strconv.FormatInt(st.TotalSize, 10),
		st.LargestFile,
		strconv.FormatInt(st.LargestFileSize, 10),
		strconv.FormatInt(st.CompressedSize, 10),
		yesNo(st.Symlinks > 0),
		yesNo(len(pr.Unreadable) > 0),
		yesNo(len(pr.Symlinks.External) > 0),
		yesNo(len(pr.Symlinks.Broken) > 0),
		yesNo(st.HardLinks > 0),
		yesNo(len(pr.UnknownOwners) > 0),
	}
	return strings.Join(fields, "\t")
}

// Listing is one named list of problem paths shown by info --list.
type Listing struct {
	Title string
	Paths []string
}

// Listings returns the problem paths of a non-archive directory grouped
// for display.
func (i *Info) Listings() []Listing {
	pr := i.Tree.Problems()
	var hard []string
	for _, g := range pr.HardLinkGroups {
		hard = append(hard, g.Paths...)
	}
	var collisions []string
	for _, c := range pr.CaseCollisions {
		collisions = append(collisions, fmt.Sprintf("%s <> %s", c.A, c.B))
	}
	return []Listing{
		{Title: "Unreadable files", Paths: pr.Unreadable},
		{Title: "External symlinks", Paths: pr.Symlinks.External},
		{Title: "Broken symlinks", Paths: pr.Symlinks.Broken},
		{Title: "Unresolvable symlinks", Paths: pr.Symlinks.Unresolvable},
		{Title: "Hard linked files", Paths: hard},
		{Title: "Case collisions", Paths: collisions},
		{Title: "Unknown owners", Paths: pr.UnknownOwners},
		{Title: "Special files", Paths: pr.Special},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
