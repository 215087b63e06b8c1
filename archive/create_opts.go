package archive

import (
	"log/slog"
	"time"

	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/internal/volume"
)

// ChangeDetection controls how strictly file changes are detected during creation.
type ChangeDetection uint8

const (
	ChangeDetectionNone ChangeDetection = iota
	ChangeDetectionStrict
)

// createConfig holds configuration for archive creation.
type createConfig struct {
	volumeSize      int64
	level           int
	workers         int
	force           bool
	changeDetection ChangeDetection
	group           string
	logger          *slog.Logger
	progress        ProgressFunc
	owners          *platform.Owners
	now             func() time.Time
}

// CreateOption configures archive creation.
type CreateOption func(*createConfig)

func newCreateConfig(opts []CreateOption) createConfig {
	cfg := createConfig{level: volume.DefaultLevel, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.owners == nil {
		cfg.owners = platform.NewOwners()
	}
	return cfg
}

// CreateWithVolumeSize splits each subarchive into volumes holding at most
// size bytes of member content. Zero builds one volume per subarchive.
func CreateWithVolumeSize(size int64) CreateOption {
	return func(cfg *createConfig) {
		cfg.volumeSize = size
	}
}

// CreateWithCompressionLevel sets the gzip level (1-9). The default is 6.
func CreateWithCompressionLevel(level int) CreateOption {
	return func(cfg *createConfig) {
		cfg.level = level
	}
}

// CreateWithWorkers bounds how many subarchives are built at once.
// Zero or less uses one worker per CPU.
func CreateWithWorkers(n int) CreateOption {
	return func(cfg *createConfig) {
		cfg.workers = n
	}
}

// CreateWithForce proceeds past soft precheck problems, applying their
// degradations. Hard problems still stop the build.
func CreateWithForce(force bool) CreateOption {
	return func(cfg *createConfig) {
		cfg.force = force
	}
}

// CreateWithChangeDetection controls whether the writer verifies files did not change
// during archive creation. The zero value disables change detection to reduce
// syscalls; enable ChangeDetectionStrict for stronger guarantees.
func CreateWithChangeDetection(cd ChangeDetection) CreateOption {
	return func(cfg *createConfig) {
		cfg.changeDetection = cd
	}
}

// CreateWithGroup sets the group owning every file of the new archive.
func CreateWithGroup(group string) CreateOption {
	return func(cfg *createConfig) {
		cfg.group = group
	}
}

// CreateWithLogger sets the logger for archive creation.
// If not set, logging is disabled.
func CreateWithLogger(logger *slog.Logger) CreateOption {
	return func(cfg *createConfig) {
		cfg.logger = logger
	}
}

// CreateWithProgress sets a callback for progress updates.
func CreateWithProgress(fn ProgressFunc) CreateOption {
	return func(cfg *createConfig) {
		cfg.progress = fn
	}
}

// CreateWithOwners shares an owner-name cache with other operations.
func CreateWithOwners(o *platform.Owners) CreateOption {
	return func(cfg *createConfig) {
		cfg.owners = o
	}
}
