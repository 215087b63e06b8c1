// Package config loads the optional ngsarchiver TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/meigma/ngsarchiver/internal/sizing"
	"github.com/meigma/ngsarchiver/internal/version"
)

// EnvPath names the environment variable that points at a config file.
const EnvPath = "NGSARCHIVER_CONFIG"

// ErrInvalid is returned when a loaded configuration has bad values.
var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	Version string  `toml:"version"` // config format version
	Archive Archive `toml:"archive"`
	Copy    Copy    `toml:"copy"`
	Unpack  Unpack  `toml:"unpack"`
	Log     Log     `toml:"log"`
}

type Archive struct {
	CompressionLevel int    `toml:"compression_level"` // gzip level, 1-9
	VolumeSize       string `toml:"volume_size"`       // e.g. "250M"; empty disables multi-volume
	Workers          int    `toml:"workers"`           // subarchive workers; 0 uses all CPUs
	OutDir           string `toml:"out_dir"`           // default destination directory
}

type Copy struct {
	ReplaceSymlinks         bool `toml:"replace_symlinks"`
	TransformBrokenSymlinks bool `toml:"transform_broken_symlinks"`
	FollowDirLinks          bool `toml:"follow_dirlinks"`
}

type Unpack struct {
	CopyPermissions bool `toml:"copy_permissions"`
	Verify          bool `toml:"verify"`
}

type Log struct {
	Level string `toml:"level"` // debug, info, warn or error
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Version: version.Version,
		Archive: Archive{
			CompressionLevel: 6,
		},
		Unpack: Unpack{
			Verify: true,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Path returns the config file to use: explicit if set, else $NGSARCHIVER_CONFIG,
// else config.toml in the user config directory. An empty result means no
// location could be determined.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ngsarchiver", "config.toml")
}

// Load decodes the file at path over the defaults. A missing file yields
// the defaults unless required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("stat %s: %w", path, err)
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	if cfg.Version == "" {
		cfg.Version = version.Version
	}
	if err := version.EnsureCompatible(cfg.Version); err != nil {
		return Config{}, fmt.Errorf("unsupported config version %q: %w", cfg.Version, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Archive.CompressionLevel < 1 || c.Archive.CompressionLevel > 9 {
		return fmt.Errorf("%w: compression_level %d not in 1-9", ErrInvalid, c.Archive.CompressionLevel)
	}
	if _, err := sizing.Parse(c.Archive.VolumeSize); err != nil {
		return fmt.Errorf("%w: volume_size: %v", ErrInvalid, err)
	}
	if c.Archive.Workers < 0 {
		return fmt.Errorf("%w: workers %d", ErrInvalid, c.Archive.Workers)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, l.Level)
	}
	return level, nil
}
