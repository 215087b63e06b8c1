package archive

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Error categories. Every failure reported by this package wraps one of
// these, so callers can branch with errors.Is.
var (
	// ErrValidation is a non-overridable precheck finding such as a source
	// that is already an archive.
	ErrValidation = errors.New("archive: validation failed")

	// ErrReadPermission reports unreadable content.
	ErrReadPermission = errors.New("archive: unreadable content")

	// ErrSymlinkResolution reports broken, external or unresolvable links.
	ErrSymlinkResolution = errors.New("archive: symlink resolution")

	// ErrCaseCollision reports names that differ only by case.
	ErrCaseCollision = errors.New("archive: case collision")

	// ErrHardLink reports hard-linked files.
	ErrHardLink = errors.New("archive: hard links")

	// ErrCapability reports a destination filesystem lacking a required
	// feature.
	ErrCapability = errors.New("archive: destination lacks required capability")

	// ErrChecksumMismatch reports an integrity failure.
	ErrChecksumMismatch = errors.New("archive: checksum mismatch")

	// ErrAlreadyExists reports a destination that already exists.
	ErrAlreadyExists = errors.New("archive: destination already exists")

	// ErrNotArchive is returned when opening a directory that is not an
	// archive directory.
	ErrNotArchive = errors.New("archive: not an archive directory")
)

// Category is the taxonomy bucket of a Problem.
type Category uint8

const (
	CategoryValidation Category = iota
	CategoryReadPermission
	CategorySymlinkResolution
	CategoryCaseCollision
	CategoryHardLink
	CategoryCapability
	CategoryChecksumMismatch
	CategoryAlreadyExists
)

var categoryErrs = [...]error{
	CategoryValidation:        ErrValidation,
	CategoryReadPermission:    ErrReadPermission,
	CategorySymlinkResolution: ErrSymlinkResolution,
	CategoryCaseCollision:     ErrCaseCollision,
	CategoryHardLink:          ErrHardLink,
	CategoryCapability:        ErrCapability,
	CategoryChecksumMismatch:  ErrChecksumMismatch,
	CategoryAlreadyExists:     ErrAlreadyExists,
}

// Err returns the sentinel error of the category.
func (c Category) Err() error {
	if int(c) < len(categoryErrs) {
		return categoryErrs[c]
	}
	return ErrValidation
}

// String returns the category name used in reports.
func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryReadPermission:
		return "read permission"
	case CategorySymlinkResolution:
		return "symlink resolution"
	case CategoryCaseCollision:
		return "case collision"
	case CategoryHardLink:
		return "hard link"
	case CategoryCapability:
		return "capability"
	case CategoryChecksumMismatch:
		return "checksum mismatch"
	case CategoryAlreadyExists:
		return "already exists"
	default:
		return "unknown"
	}
}

// Severity says whether a problem can be overridden.
type Severity uint8

const (
	// Hard problems always block.
	Hard Severity = iota

	// Soft problems block unless forced; forcing applies the problem's
	// degradation.
	Soft
)

func (s Severity) String() string {
	if s == Soft {
		return "soft"
	}
	return "hard"
}

// Code identifies the specific finding behind a Problem.
type Code uint8

const (
	CodeUnreadable Code = iota + 1
	CodeIsArchive
	CodeDestinationExists
	CodeBrokenSymlinks
	CodeExternalSymlinks
	CodeUnresolvableSymlinks
	CodeHardLinks
	CodeUnknownOwners
	CodeSpecialFiles
	CodeVolumeLargerThanSource
	CodeVolumeSmallerThanFile
	CodeCaseInsensitiveDestination
	CodeNoSymlinkSupport
)

// ForceOverride names the override that resolves soft problems.
const ForceOverride = "force"

// Problem is one precheck finding.
type Problem struct {
	Code     Code
	Category Category
	Severity Severity
	Message  string
	Paths    []string

	// Degradation describes what forcing past a soft problem does to the
	// output. Empty for hard problems.
	Degradation string
}

func (p Problem) String() string {
	s := p.Category.String() + ": " + p.Message
	if p.Severity == Soft {
		s += " (override with " + ForceOverride + "; " + p.Degradation + ")"
	}
	return s
}

// Report is the complete, ordered result of a precheck.
type Report struct {
	Problems []Problem
}

func (r *Report) add(p Problem) {
	r.Problems = append(r.Problems, p)
}

// Has reports whether a problem with code was found.
func (r Report) Has(code Code) bool {
	return slices.ContainsFunc(r.Problems, func(p Problem) bool { return p.Code == code })
}

// Blocking returns the problems that stop the operation: every hard
// problem, and soft problems unless force is set.
func (r Report) Blocking(force bool) []Problem {
	var out []Problem
	for _, p := range r.Problems {
		if p.Severity == Hard || !force {
			out = append(out, p)
		}
	}
	return out
}

// OK reports whether nothing blocks with the given force setting.
func (r Report) OK(force bool) bool {
	return len(r.Blocking(force)) == 0
}

// Err returns a *PrecheckError when something blocks, else nil.
func (r Report) Err(force bool) error {
	if r.OK(force) {
		return nil
	}
	return &PrecheckError{Report: r, Force: force}
}

// PrecheckError reports every blocking problem found by a precheck.
type PrecheckError struct {
	Report Report
	Force  bool
}

func (e *PrecheckError) Error() string {
	blocking := e.Report.Blocking(e.Force)
	lines := make([]string, 0, len(blocking))
	for _, p := range blocking {
		lines = append(lines, p.String())
	}
	return "precheck failed: " + strings.Join(lines, "; ")
}

// Unwrap returns the category sentinel of every blocking problem.
func (e *PrecheckError) Unwrap() []error {
	var errs []error
	for _, p := range e.Report.Blocking(e.Force) {
		if err := p.Category.Err(); !slices.Contains(errs, err) {
			errs = append(errs, err)
		}
	}
	return errs
}

// Diff is the outcome of comparing recomputed checksums with recorded ones.
type Diff struct {
	// Missing paths are recorded but absent.
	Missing []string

	// Extra paths are present but not recorded.
	Extra []string

	// Mismatched paths are present with a different checksum.
	Mismatched []string
}

// OK reports whether all three categories are empty.
func (d *Diff) OK() bool {
	return len(d.Missing) == 0 && len(d.Extra) == 0 && len(d.Mismatched) == 0
}

func (d *Diff) sort() {
	slices.Sort(d.Missing)
	slices.Sort(d.Extra)
	slices.Sort(d.Mismatched)
	d.Missing = slices.Compact(d.Missing)
	d.Extra = slices.Compact(d.Extra)
	d.Mismatched = slices.Compact(d.Mismatched)
}

// VerifyError is returned when verification finds differences.
type VerifyError struct {
	Path string
	Diff *Diff
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%s: verification failed: %d missing, %d extra, %d mismatched",
		e.Path, len(e.Diff.Missing), len(e.Diff.Extra), len(e.Diff.Mismatched))
}

func (e *VerifyError) Unwrap() error {
	return ErrChecksumMismatch
}
