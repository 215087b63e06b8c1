package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LinkRecord is one line of a symlink listing.
type LinkRecord struct {
	Path   string
	Target string
}

// WriteLinkListing writes "path\ttarget" lines with both fields escaped.
func WriteLinkListing(w io.Writer, links []LinkRecord) error {
	bw := bufio.NewWriter(w)
	for _, l := range links {
		if _, err := fmt.Fprintf(bw, "%s\t%s\n", escapeField(l.Path), escapeField(l.Target)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ParseLinkListing reads "path\ttarget" lines.
func ParseLinkListing(r io.Reader) ([]LinkRecord, error) {
	var out []LinkRecord
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		p, target, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("%w: symlink listing line %q", ErrMalformed, line)
		}
		p, err := unescape(p)
		if err != nil {
			return nil, fmt.Errorf("%w: symlink listing: %v", ErrMalformed, err)
		}
		if target, err = unescape(target); err != nil {
			return nil, fmt.Errorf("%w: symlink listing: %v", ErrMalformed, err)
		}
		out = append(out, LinkRecord{Path: p, Target: target})
	}
	return out, sc.Err()
}

// WritePathList writes one escaped path per line.
func WritePathList(w io.Writer, paths []string) error {
	bw := bufio.NewWriter(w)
	for _, p := range paths {
		if _, err := fmt.Fprintln(bw, escapeLine(p)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadPathList reads a file written by WritePathList. A missing file is an
// empty list.
func ReadPathList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		p, err := unescape(line)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
		}
		out = append(out, p)
	}
	return out, sc.Err()
}
