package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Capabilities describes what a destination filesystem supports.
type Capabilities struct {
	// CaseSensitive is true when names differing only by case are distinct.
	CaseSensitive bool

	// Symlinks is true when symbolic links can be created.
	Symlinks bool
}

// CapabilityProbe inspects the filesystem holding dir.
type CapabilityProbe func(dir string) (Capabilities, error)

// ProbeCapabilities creates a scratch directory inside dir and tests case
// sensitivity and symlink creation there. The scratch directory is removed
// before returning.
func ProbeCapabilities(dir string) (Capabilities, error) {
	scratch, err := os.MkdirTemp(dir, ".ngsarchiver-probe-")
	if err != nil {
		return Capabilities{}, fmt.Errorf("probe %s: %w", dir, err)
	}
	defer os.RemoveAll(scratch) //nolint:errcheck // best-effort cleanup

	var caps Capabilities

	lower := filepath.Join(scratch, "case_probe")
	if err := os.WriteFile(lower, nil, 0o600); err != nil {
		return Capabilities{}, fmt.Errorf("probe case sensitivity: %w", err)
	}
	_, err = os.Lstat(filepath.Join(scratch, "CASE_PROBE"))
	switch {
	case err == nil:
		caps.CaseSensitive = false
	case errors.Is(err, os.ErrNotExist):
		caps.CaseSensitive = true
	default:
		return Capabilities{}, fmt.Errorf("probe case sensitivity: %w", err)
	}

	caps.Symlinks = os.Symlink("case_probe", filepath.Join(scratch, "link_probe")) == nil
	return caps, nil
}
