package tree

import (
	"log/slog"

	"github.com/meigma/ngsarchiver/internal/platform"
)

type walkConfig struct {
	followDirLinks bool
	maxHops        int
	logger         *slog.Logger
	owners         *platform.Owners
}

// Option configures Walk.
type Option func(*walkConfig)

// WithFollowDirLinks enters symlinked directories. Loop protection still
// applies: a dirlink is not entered when its target is one of its ancestors.
func WithFollowDirLinks(follow bool) Option {
	return func(cfg *walkConfig) {
		cfg.followDirLinks = follow
	}
}

// WithMaxHops bounds symlink chain resolution during probing.
func WithMaxHops(n int) Option {
	return func(cfg *walkConfig) {
		cfg.maxHops = n
	}
}

// WithLogger sets the logger for walk diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *walkConfig) {
		cfg.logger = logger
	}
}

// WithOwners shares an owner-name cache with other operations.
func WithOwners(o *platform.Owners) Option {
	return func(cfg *walkConfig) {
		cfg.owners = o
	}
}
