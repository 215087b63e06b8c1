package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/meigma/ngsarchiver/classify"
	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/internal/sizing"
	"github.com/meigma/ngsarchiver/probe"
	"github.com/meigma/ngsarchiver/tree"
)

// Precheck is the outcome of inspecting a source before building from it.
type Precheck struct {
	// Tree is the walked source.
	Tree *tree.Tree

	// Classification is the source's structural variant.
	Classification classify.Classification

	// Destination is the output directory the build would create.
	Destination string

	// Report lists every problem found.
	Report Report
}

// checkSource adds the findings shared by both builders: unreadable
// content, a source that is already an archive, and an existing
// destination.
func checkSource(r *Report, t *tree.Tree, c classify.Classification, dest string) {
	pr := t.Problems()
	if len(pr.Unreadable) > 0 {
		r.add(Problem{
			Code:     CodeUnreadable,
			Category: CategoryReadPermission,
			Severity: Hard,
			Message:  fmt.Sprintf("%d unreadable files or directories", len(pr.Unreadable)),
			Paths:    pr.Unreadable,
		})
	}
	if c.Variant.IsArchive() {
		r.add(Problem{
			Code:     CodeIsArchive,
			Category: CategoryValidation,
			Severity: Hard,
			Message:  fmt.Sprintf("%s is already a %s", t.Root(), c.Layout().Describe()),
		})
	}
	if _, err := os.Lstat(dest); err == nil || !errors.Is(err, fs.ErrNotExist) {
		r.add(Problem{
			Code:     CodeDestinationExists,
			Category: CategoryAlreadyExists,
			Severity: Hard,
			Message:  fmt.Sprintf("destination %s already exists", dest),
			Paths:    []string{dest},
		})
	}
}

func checkOwners(r *Report, pr tree.Problems, degradation string) {
	if len(pr.UnknownOwners) == 0 {
		return
	}
	r.add(Problem{
		Code:        CodeUnknownOwners,
		Category:    CategoryValidation,
		Severity:    Soft,
		Message:     fmt.Sprintf("%d entries owned by unknown users or groups", len(pr.UnknownOwners)),
		Paths:       pr.UnknownOwners,
		Degradation: degradation,
	})
}

func checkSpecial(r *Report, pr tree.Problems) {
	if len(pr.Special) == 0 {
		return
	}
	r.add(Problem{
		Code:        CodeSpecialFiles,
		Category:    CategoryValidation,
		Severity:    Soft,
		Message:     fmt.Sprintf("%d special files (sockets, fifos or devices)", len(pr.Special)),
		Paths:       pr.Special,
		Degradation: "special files are excluded and listed in the excluded-files list",
	})
}

func hardLinkPaths(pr tree.Problems) []string {
	var paths []string
	for _, g := range pr.HardLinkGroups {
		paths = append(paths, g.Paths...)
	}
	return paths
}

// checkArchive inspects t for building a compressed archive at dest.
// units is the number of subarchives the layout produces.
func checkArchive(t *tree.Tree, c classify.Classification, dest string, volumeSize int64, units int) Report {
	var r Report
	checkSource(&r, t, c, dest)
	pr := t.Problems()
	st := t.Stats()

	if n := len(pr.Symlinks.Broken); n > 0 {
		r.add(Problem{
			Code: CodeBrokenSymlinks, Category: CategorySymlinkResolution, Severity: Soft,
			Message:     fmt.Sprintf("%d broken symlinks", n),
			Paths:       pr.Symlinks.Broken,
			Degradation: "links are archived as-is and stay broken when restored",
		})
	}
	if n := len(pr.Symlinks.External); n > 0 {
		r.add(Problem{
			Code: CodeExternalSymlinks, Category: CategorySymlinkResolution, Severity: Soft,
			Message:     fmt.Sprintf("%d symlinks pointing outside the directory", n),
			Paths:       pr.Symlinks.External,
			Degradation: "links are archived as-is; their targets are not archived",
		})
	}
	if n := len(pr.Symlinks.Unresolvable); n > 0 {
		r.add(Problem{
			Code: CodeUnresolvableSymlinks, Category: CategorySymlinkResolution, Severity: Soft,
			Message:     fmt.Sprintf("%d unresolvable symlinks", n),
			Paths:       pr.Symlinks.Unresolvable,
			Degradation: "links are archived as-is",
		})
	}
	if len(pr.HardLinkGroups) > 0 && (volumeSize > 0 || units > 1) {
		r.add(Problem{
			Code: CodeHardLinks, Category: CategoryHardLink, Severity: Soft,
			Message:     fmt.Sprintf("%d hard-linked groups with multiple volumes or subarchives", len(pr.HardLinkGroups)),
			Paths:       hardLinkPaths(pr),
			Degradation: "hard-linked files split across volumes are stored once per member, inflating the archive",
		})
	}
	checkOwners(&r, pr, "owners are recorded by numeric id")
	checkSpecial(&r, pr)

	if volumeSize > 0 {
		switch {
		case volumeSize > st.TotalSize:
			r.add(Problem{
				Code: CodeVolumeLargerThanSource, Category: CategoryValidation, Severity: Soft,
				Message: fmt.Sprintf("volume size %s is larger than the source size %s",
					sizing.Format(volumeSize), sizing.Format(st.TotalSize)),
				Degradation: "multi-volume archiving is disabled",
			})
		case volumeSize < st.LargestFileSize:
			r.add(Problem{
				Code: CodeVolumeSmallerThanFile, Category: CategoryValidation, Severity: Soft,
				Message: fmt.Sprintf("volume size %s is smaller than the largest file %s (%s)",
					sizing.Format(volumeSize), st.LargestFile, sizing.Format(st.LargestFileSize)),
				Paths:       []string{st.LargestFile},
				Degradation: "files larger than the volume size get a volume of their own",
			})
		}
	}
	return r
}

// checkCopy inspects t for copying to dest on a filesystem with caps.
func checkCopy(t *tree.Tree, c classify.Classification, dest string, caps platform.Capabilities, pol copyPolicy) Report {
	var r Report
	checkSource(&r, t, c, dest)
	pr := t.Problems()

	if len(pr.CaseCollisions) > 0 && !caps.CaseSensitive {
		var paths []string
		for _, p := range pr.CaseCollisions {
			paths = append(paths, p.A, p.B)
		}
		r.add(Problem{
			Code: CodeCaseInsensitiveDestination, Category: CategoryCaseCollision, Severity: Hard,
			Message: fmt.Sprintf("%d names differ only by case but the destination filesystem is case-insensitive",
				len(pr.CaseCollisions)),
			Paths: paths,
		})
	}

	var kept []string
	for _, e := range t.Entries() {
		if e.Kind == probe.KindSymlink && pol.keepsLink(t, e) {
			kept = append(kept, e.Path)
		}
	}
	if len(kept) > 0 && !caps.Symlinks {
		r.add(Problem{
			Code: CodeNoSymlinkSupport, Category: CategoryCapability, Severity: Hard,
			Message: fmt.Sprintf("%d symlinks would be copied but the destination filesystem does not support symlinks",
				len(kept)),
			Paths: kept,
		})
	}

	broken := append(append([]string(nil), pr.Symlinks.Broken...), pr.Symlinks.Unresolvable...)
	if len(broken) > 0 && !pol.transformBroken {
		r.add(Problem{
			Code: CodeBrokenSymlinks, Category: CategorySymlinkResolution, Severity: Soft,
			Message:     fmt.Sprintf("%d broken or unresolvable symlinks", len(broken)),
			Paths:       broken,
			Degradation: "links are copied as-is and stay broken",
		})
	}
	if n := len(pr.Symlinks.External); n > 0 && !pol.replaceSymlinks {
		r.add(Problem{
			Code: CodeExternalSymlinks, Category: CategorySymlinkResolution, Severity: Soft,
			Message:     fmt.Sprintf("%d symlinks pointing outside the directory", n),
			Paths:       pr.Symlinks.External,
			Degradation: "links are copied as-is; their targets are not copied",
		})
	}
	if len(pr.HardLinkGroups) > 0 {
		r.add(Problem{
			Code: CodeHardLinks, Category: CategoryHardLink, Severity: Soft,
			Message:     fmt.Sprintf("%d hard-linked groups", len(pr.HardLinkGroups)),
			Paths:       hardLinkPaths(pr),
			Degradation: "hard-linked files are copied as independent files",
		})
	}
	checkOwners(&r, pr, "ownership of those entries is not preserved")
	checkSpecial(&r, pr)
	return r
}
