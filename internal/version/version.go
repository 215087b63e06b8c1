// Package version records the archiver version and checks whether archives
// and configuration files written by other versions can be read.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Version is the archiver version written into metadata and manifests.
const Version = "1.4.0"

// ErrIncompatible is returned when an archive or config needs a newer archiver.
var ErrIncompatible = errors.New("version: incompatible")

// SemVer is a minimal semantic version representation.
type SemVer struct {
	Major int
	Minor int
	Patch int
}

func (v SemVer) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Parse parses "MAJOR.MINOR.PATCH" with an optional "v" prefix. Legacy
// archives recorded two-component versions ("1.2") and trailing build
// qualifiers ("1.2.3-dev"); both are accepted, with missing parts as zero.
func Parse(raw string) (SemVer, error) {
	value := strings.TrimPrefix(strings.TrimSpace(raw), "v")
	if value == "" {
		return SemVer{}, errors.New("version is empty")
	}
	if i := strings.IndexAny(value, "-+"); i >= 0 {
		value = value[:i]
	}
	parts := strings.Split(value, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return SemVer{}, fmt.Errorf("invalid version %q (expected MAJOR.MINOR[.PATCH])", raw)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return SemVer{}, fmt.Errorf("invalid version component %q in %q", p, raw)
		}
		nums[i] = n
	}
	return SemVer{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// EnsureCompatible reports ErrIncompatible when target was produced by a
// newer major version than this archiver. Empty targets are accepted for
// archives that predate version stamping.
func EnsureCompatible(target string) error {
	if strings.TrimSpace(target) == "" {
		return nil
	}
	current, err := Parse(Version)
	if err != nil {
		return fmt.Errorf("parse current version %q: %w", Version, err)
	}
	required, err := Parse(target)
	if err != nil {
		return err
	}
	if required.Major > current.Major {
		return fmt.Errorf("%w: written by %s, this is %s", ErrIncompatible, required, current)
	}
	return nil
}

// Compare returns -1, 0 or 1 as a is older than, equal to or newer than b.
func Compare(a, b SemVer) int {
	switch {
	case a.Major != b.Major:
		return sign(a.Major - b.Major)
	case a.Minor != b.Minor:
		return sign(a.Minor - b.Minor)
	default:
		return sign(a.Patch - b.Patch)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
