package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/meigma/ngsarchiver/internal/platform"
	"github.com/meigma/ngsarchiver/internal/sink"
	"github.com/meigma/ngsarchiver/internal/volume"
	"github.com/meigma/ngsarchiver/manifest"
)

// SearchMode selects what a search pattern is matched against.
type SearchMode uint8

const (
	// MatchName matches the final path component.
	MatchName SearchMode = iota

	// MatchPath matches the whole recorded path.
	MatchPath

	// MatchEither matches when the name or the path matches.
	MatchEither
)

// Match is one archive member found by a search.
type Match struct {
	// Archive is the archive directory the member was found in.
	Archive string

	// Path is the recorded member path.
	Path string

	Checksum  string
	Container string
	Volume    bool
}

type searchConfig struct {
	mode       SearchMode
	ignoreCase bool
}

// SearchOption configures a search.
type SearchOption func(*searchConfig)

// SearchWithMode sets what the pattern is matched against. The default is
// MatchName.
func SearchWithMode(mode SearchMode) SearchOption {
	return func(cfg *searchConfig) {
		cfg.mode = mode
	}
}

// SearchWithIgnoreCase matches without regard to letter case.
func SearchWithIgnoreCase(ignore bool) SearchOption {
	return func(cfg *searchConfig) {
		cfg.ignoreCase = ignore
	}
}

// CompilePattern translates a shell glob into an anchored regular
// expression. As with fnmatch, "*" and "?" also match "/", so "*.fq"
// matches files in any directory when matched against a path. Character
// classes use "[...]" with "!" for negation; an unterminated "[" is a
// literal.
func CompilePattern(pattern string, ignoreCase bool) (*regexp.Regexp, error) {
	var b strings.Builder
	if ignoreCase {
		b.WriteString("(?i)")
	}
	b.WriteString("^(?s:")
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			j := i + 1
			if j < len(pattern) && pattern[j] == '!' {
				j++
			}
			if j < len(pattern) && pattern[j] == ']' {
				j++
			}
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j >= len(pattern) {
				b.WriteString(`\[`)
				continue
			}
			class := strings.ReplaceAll(pattern[i+1:j], `\`, `\\`)
			switch {
			case strings.HasPrefix(class, "!"):
				class = "^" + class[1:]
			case strings.HasPrefix(class, "^"):
				class = `\` + class
			}
			b.WriteString("[" + class + "]")
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString(")$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	return re, nil
}

func matches(re *regexp.Regexp, p string, mode SearchMode) bool {
	switch mode {
	case MatchPath:
		return re.MatchString(p)
	case MatchEither:
		return re.MatchString(p) || re.MatchString(path.Base(p))
	default:
		return re.MatchString(path.Base(p))
	}
}

// Search matches pattern against the members of every archive, in
// archive order.
func Search(archives []*Archive, pattern string, opts ...SearchOption) ([]Match, error) {
	var out []Match
	for _, a := range archives {
		found, err := a.Search(pattern, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// Search matches pattern against the archive members without extracting
// anything.
func (a *Archive) Search(pattern string, opts ...SearchOption) ([]Match, error) {
	var cfg searchConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	re, err := CompilePattern(pattern, cfg.ignoreCase)
	if err != nil {
		return nil, err
	}
	members, err := a.Members()
	if err != nil {
		return nil, err
	}
	var out []Match
	for _, m := range members {
		if matches(re, m.Path, cfg.mode) {
			out = append(out, Match{
				Archive:   a.Dir,
				Path:      m.Path,
				Checksum:  m.Checksum,
				Container: m.Container,
				Volume:    m.Volume,
			})
		}
	}
	return out, nil
}

type extractConfig struct {
	keepPath   bool
	ignoreCase bool
	logger     *slog.Logger
	pool       *volume.ReaderPool
}

// ExtractOption configures Extract.
type ExtractOption func(*extractConfig)

// ExtractWithKeepPath restores matches at their recorded paths instead of
// directly in the destination directory.
func ExtractWithKeepPath(keep bool) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.keepPath = keep
	}
}

// ExtractWithIgnoreCase matches without regard to letter case.
func ExtractWithIgnoreCase(ignore bool) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.ignoreCase = ignore
	}
}

// ExtractWithLogger sets the logger for extraction.
// If not set, logging is disabled.
func ExtractWithLogger(logger *slog.Logger) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.logger = logger
	}
}

// ExtractResult reports what Extract did. Paths are destination paths.
type ExtractResult struct {
	Extracted []string

	// Skipped destinations already existed and were left untouched.
	Skipped []string
}

// Extract restores the members matching pattern, by name or by path, into
// outDir. Destinations that already exist are skipped and reported, never
// overwritten. Each file is checked against its recorded checksum before
// it becomes visible. The owner gets read and write access on top of the
// recorded permissions.
func (a *Archive) Extract(ctx context.Context, pattern, outDir string, opts ...ExtractOption) (*ExtractResult, error) {
	cfg := extractConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.pool == nil {
		cfg.pool = volume.NewReaderPool()
	}
	found, err := a.Search(pattern, SearchWithMode(MatchEither), SearchWithIgnoreCase(cfg.ignoreCase))
	if err != nil {
		return nil, err
	}
	x := &extractor{
		a:   a,
		cfg: cfg,
		s:   sink.New(outDir, sink.WithPreserveMode(true), sink.WithPreserveTimes(true)),
		res: &ExtractResult{},
	}

	byVolume := make(map[string]map[string]string)
	var volumes []string
	for _, m := range found {
		switch {
		case m.Volume:
			if byVolume[m.Container] == nil {
				byVolume[m.Container] = make(map[string]string)
				volumes = append(volumes, m.Container)
			}
			byVolume[m.Container][m.Path] = m.Checksum
		case m.Container != "":
			if err := x.fromFile(m.Path, filepath.Join(a.Dir, m.Container), m.Checksum); err != nil {
				return nil, err
			}
		default:
			rel, err := volume.SafeName(m.Path)
			if err != nil {
				return nil, fmt.Errorf("extract: %w", err)
			}
			if err := x.fromFile(m.Path, filepath.Join(a.Dir, filepath.FromSlash(rel)), m.Checksum); err != nil {
				return nil, err
			}
		}
	}
	for _, v := range volumes {
		if err := x.fromVolume(ctx, v, byVolume[v]); err != nil {
			return nil, err
		}
	}
	return x.res, nil
}

type extractor struct {
	a   *Archive
	cfg extractConfig
	s   *sink.FileSink
	res *ExtractResult
}

func (x *extractor) log() *slog.Logger {
	return discardLogger(x.cfg.logger)
}

// dest returns the destination of a member, relative to the output
// directory. Names that are absolute or climb out of it are rejected.
func (x *extractor) dest(member string) (string, error) {
	clean, err := volume.SafeName(member)
	if err != nil {
		return "", err
	}
	if x.cfg.keepPath {
		return clean, nil
	}
	return path.Base(clean), nil
}

func (x *extractor) skip(rel string) {
	p := x.s.Path(rel)
	x.log().Warn("destination exists, skipping", "path", p)
	x.res.Skipped = append(x.res.Skipped, p)
}

// write streams r to the destination of member, checking its checksum
// before committing.
func (x *extractor) write(member string, r io.Reader, meta sink.Meta, want string) error {
	rel, err := x.dest(member)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if !x.s.ShouldProcess(rel) {
		x.skip(rel)
		return nil
	}
	meta.Mode = meta.Mode.Perm() | 0o600
	c, err := x.s.Writer(rel, meta)
	if err != nil {
		return err
	}
	sum, _, err := manifest.HashReader(io.TeeReader(r, c))
	if err != nil {
		_ = c.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("extract %s: %w", member, err)
	}
	if want != "" && sum != want {
		_ = c.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, member)
	}
	if err := c.Commit(); err != nil {
		if isExist(err) {
			x.skip(rel)
			return nil
		}
		return err
	}
	x.log().Info("extracted", "member", member, "path", x.s.Path(rel))
	x.res.Extracted = append(x.res.Extracted, x.s.Path(rel))
	return nil
}

func (x *extractor) fromFile(member, src, want string) error {
	f, err := platform.OpenFileNoFollow(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	return x.write(member, f, sink.Meta{Mode: info.Mode(), ModTime: info.ModTime()}, want)
}

// fromVolume extracts the wanted members of one volume. Hard-link members
// take their content from the member they link to, which is read in a
// second pass when it was not wanted itself.
func (x *extractor) fromVolume(ctx context.Context, name string, wanted map[string]string) error {
	p := filepath.Join(x.a.Dir, name)
	pending := make(map[string][]*tar.Header)
	err := volume.Walk(ctx, p, x.cfg.pool, func(hdr *tar.Header, r io.Reader) error {
		member := volume.CleanName(hdr.Name)
		want, ok := wanted[member]
		if !ok {
			return nil
		}
		switch hdr.Typeflag {
		case tar.TypeReg:
			return x.write(member, r, headerMeta(hdr), want)
		case tar.TypeLink:
			target := volume.CleanName(hdr.Linkname)
			pending[target] = append(pending[target], hdr)
		}
		return nil
	})
	if err != nil || len(pending) == 0 {
		return err
	}
	return volume.Walk(ctx, p, x.cfg.pool, func(hdr *tar.Header, r io.Reader) error {
		links, ok := pending[volume.CleanName(hdr.Name)]
		if !ok || hdr.Typeflag != tar.TypeReg {
			return nil
		}
		if len(links) == 1 {
			member := volume.CleanName(links[0].Name)
			return x.write(member, r, headerMeta(links[0]), wanted[member])
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		for _, l := range links {
			member := volume.CleanName(l.Name)
			if err := x.write(member, bytes.NewReader(data), headerMeta(l), wanted[member]); err != nil {
				return err
			}
		}
		return nil
	})
}

func headerMeta(hdr *tar.Header) sink.Meta {
	return sink.Meta{Mode: fs.FileMode(hdr.Mode).Perm(), ModTime: hdr.ModTime} //nolint:gosec // tar modes fit in FileMode
}
