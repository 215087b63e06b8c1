// Package stage builds output directories out of sight and publishes them
// in one rename.
//
// Reserve claims the destination name with an exclusive mkdir, so two
// builders racing for the same destination cannot both proceed, and
// creates a hidden staging directory next to it. Publish renames the
// staging directory over the empty reservation; Discard removes both.
//
// A reservation holds an advisory lock on the destination until it is
// published or discarded. When a builder dies in between, the empty
// destination and its staging directory stay behind with nobody holding
// the lock, and the next Reserve for that name clears them.
package stage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/meigma/ngsarchiver/internal/platform"
)

// ErrExists is returned by Reserve when the destination already exists.
var ErrExists = errors.New("stage: destination exists")

// Dir is a reserved destination and its staging directory.
type Dir struct {
	final   string
	staging string
	lock    *os.File
	logger  *slog.Logger
	done    bool
}

// Option configures Reserve.
type Option func(*Dir)

// WithLogger sets the logger for staging events.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dir) {
		d.logger = logger
	}
}

// Reserve claims final, which must not exist, and creates the staging
// directory beside it. An abandoned reservation of final is cleared first.
func Reserve(final string, opts ...Option) (*Dir, error) {
	final, err := filepath.Abs(final)
	if err != nil {
		return nil, err
	}
	d := &Dir{final: final}
	for _, opt := range opts {
		opt(d)
	}

	err = os.Mkdir(final, 0o700)
	if errors.Is(err, fs.ErrExist) && d.reclaim() {
		err = os.Mkdir(final, 0o700)
	}
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, final)
		}
		return nil, err
	}
	if err := d.acquire(); err != nil {
		return nil, err
	}

	d.staging = filepath.Join(filepath.Dir(final),
		"."+filepath.Base(final)+".partial-"+uuid.NewString())
	if err := os.Mkdir(d.staging, 0o755); err != nil {
		d.release()
		_ = os.Remove(final) //nolint:errcheck // best-effort cleanup
		return nil, err
	}
	d.log().Debug("staging output", "destination", final, "staging", d.staging)
	return d, nil
}

// acquire locks the fresh reservation. Losing the lock means another
// Reserve reclaimed the name in the meantime.
func (d *Dir) acquire() error {
	f, err := os.Open(d.final)
	if err != nil {
		return err
	}
	ok, err := platform.TryLock(f)
	switch {
	case errors.Is(err, platform.ErrLockUnsupported):
		return f.Close()
	case err != nil:
		_ = f.Close() //nolint:errcheck // read-only descriptor
		return fmt.Errorf("lock %s: %w", d.final, err)
	case !ok:
		_ = f.Close() //nolint:errcheck // read-only descriptor
		return fmt.Errorf("%w: %s", ErrExists, d.final)
	}
	d.lock = f
	return nil
}

func (d *Dir) release() {
	if d.lock != nil {
		_ = d.lock.Close() //nolint:errcheck // read-only descriptor
		d.lock = nil
	}
}

// reclaim removes an abandoned reservation of the destination: an empty
// directory that nobody holds the lock on, with at least one staging
// directory of the same name beside it. It reports whether the
// destination was removed.
func (d *Dir) reclaim() bool {
	entries, err := os.ReadDir(d.final)
	if err != nil || len(entries) > 0 {
		return false
	}
	orphans := d.orphans()
	if len(orphans) == 0 {
		return false
	}
	f, err := os.Open(d.final)
	if err != nil {
		return false
	}
	defer f.Close()
	if ok, err := platform.TryLock(f); err != nil || !ok {
		return false
	}
	for _, o := range orphans {
		if err := RemoveAll(o); err != nil {
			d.log().Warn("cannot remove abandoned staging directory", "path", o, "error", err)
			return false
		}
	}
	if err := os.Remove(d.final); err != nil {
		return false
	}
	d.log().Info("cleared abandoned reservation", "destination", d.final, "staging", orphans)
	return true
}

// orphans lists the staging directories left beside the destination.
func (d *Dir) orphans() []string {
	parent := filepath.Dir(d.final)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil
	}
	prefix := "." + filepath.Base(d.final) + ".partial-"
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			out = append(out, filepath.Join(parent, e.Name()))
		}
	}
	return out
}

// Path returns the staging directory that output is written into.
func (d *Dir) Path() string { return d.staging }

// Final returns the destination path.
func (d *Dir) Final() string { return d.final }

// Publish moves the staging directory to the destination.
func (d *Dir) Publish() error {
	if d.done {
		return errors.New("stage: already finished")
	}
	if err := os.Rename(d.staging, d.final); err != nil {
		// Platforms that cannot rename over an empty directory get the
		// reservation removed first.
		if rmErr := os.Remove(d.final); rmErr != nil {
			return fmt.Errorf("publish %s: %w", d.final, err)
		}
		if err := os.Rename(d.staging, d.final); err != nil {
			return fmt.Errorf("publish %s: %w", d.final, err)
		}
	}
	d.done = true
	d.release()
	d.log().Debug("published output", "destination", d.final)
	return nil
}

// Discard removes the staging directory and releases the reservation. It
// is a no-op after Publish, so it can be deferred unconditionally.
func (d *Dir) Discard() error {
	if d.done {
		return nil
	}
	d.done = true
	d.release()
	err := RemoveAll(d.staging)
	if rmErr := os.Remove(d.final); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
		err = rmErr
	}
	d.log().Debug("discarded staged output", "destination", d.final, "error", err)
	return err
}

func (d *Dir) log() *slog.Logger {
	if d.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.logger
}

// RemoveAll removes path like os.RemoveAll, first granting the owner write
// and search permission on directories that copied permissions made
// read-only.
func RemoveAll(path string) error {
	if err := os.RemoveAll(path); err == nil {
		return nil
	}
	_ = filepath.WalkDir(path, func(p string, de fs.DirEntry, err error) error { //nolint:errcheck // best-effort permission repair
		if err == nil && de.IsDir() {
			if info, ierr := de.Info(); ierr == nil {
				_ = os.Chmod(p, info.Mode().Perm()|0o700) //nolint:errcheck // best-effort permission repair
			}
		}
		return nil
	})
	return os.RemoveAll(path)
}
