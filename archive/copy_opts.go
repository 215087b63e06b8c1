package archive

import (
	"log/slog"
	"time"

	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/probe"
	"github.com/meigma/ngsarchiver/tree"
)

// copyPolicy is the symlink handling of a copy. The three switches
// compose freely.
type copyPolicy struct {
	replaceSymlinks bool
	transformBroken bool
	followDirLinks  bool
}

// keepsLink reports whether the symlink e is copied as a link.
func (p copyPolicy) keepsLink(t *tree.Tree, e probe.Entry) bool {
	switch e.LinkStatus {
	case probe.LinkOK, probe.LinkExternal:
		if e.TargetIsDir {
			return !(p.followDirLinks && t.Entered(e.Path))
		}
		return !p.replaceSymlinks
	default:
		return !p.transformBroken
	}
}

type copyConfig struct {
	policy       copyPolicy
	force        bool
	logger       *slog.Logger
	progress     ProgressFunc
	owners       *platform.Owners
	capabilities platform.CapabilityProbe
	workers      int
	now          func() time.Time
}

// CopyOption configures copy archive creation.
type CopyOption func(*copyConfig)

func newCopyConfig(opts []CopyOption) copyConfig {
	cfg := copyConfig{capabilities: platform.ProbeCapabilities, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.owners == nil {
		cfg.owners = platform.NewOwners()
	}
	return cfg
}

// CopyWithReplaceSymlinks copies the content of link targets that exist
// and are not directories in place of the links.
func CopyWithReplaceSymlinks(replace bool) CopyOption {
	return func(cfg *copyConfig) {
		cfg.policy.replaceSymlinks = replace
	}
}

// CopyWithTransformBrokenSymlinks replaces broken and unresolvable links
// with placeholder files holding the link target.
func CopyWithTransformBrokenSymlinks(transform bool) CopyOption {
	return func(cfg *copyConfig) {
		cfg.policy.transformBroken = transform
	}
}

// CopyWithFollowDirLinks copies the contents of symlinked directories as
// real directories. Entered subtrees are walked with the rest of the
// source, so their problems appear in the precheck.
func CopyWithFollowDirLinks(follow bool) CopyOption {
	return func(cfg *copyConfig) {
		cfg.policy.followDirLinks = follow
	}
}

// CopyWithForce proceeds past soft precheck problems.
func CopyWithForce(force bool) CopyOption {
	return func(cfg *copyConfig) {
		cfg.force = force
	}
}

// CopyWithLogger sets the logger for the copy.
// If not set, logging is disabled.
func CopyWithLogger(logger *slog.Logger) CopyOption {
	return func(cfg *copyConfig) {
		cfg.logger = logger
	}
}

// CopyWithProgress sets a callback for progress updates.
func CopyWithProgress(fn ProgressFunc) CopyOption {
	return func(cfg *copyConfig) {
		cfg.progress = fn
	}
}

// CopyWithOwners shares an owner-name cache with other operations.
func CopyWithOwners(o *platform.Owners) CopyOption {
	return func(cfg *copyConfig) {
		cfg.owners = o
	}
}

// CopyWithCapabilityProbe replaces the probe used to learn what the
// destination filesystem supports.
func CopyWithCapabilityProbe(p platform.CapabilityProbe) CopyOption {
	return func(cfg *copyConfig) {
		cfg.capabilities = p
	}
}

// CopyWithWorkers bounds how many files are checksummed at once when the
// copy is verified. Zero or less uses one worker per CPU.
func CopyWithWorkers(n int) CopyOption {
	return func(cfg *copyConfig) {
		cfg.workers = n
	}
}
