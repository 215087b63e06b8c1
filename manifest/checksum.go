package manifest

import (
	"bufio"
	"crypto/md5" //nolint:gosec // md5sum compatibility, not security
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Checksum is one line of an md5sum-compatible checksum file.
type Checksum struct {
	Digest string
	Path   string
}

// digestLengths are the hex widths of the digests md5sum-family tools emit.
var digestLengths = map[int]bool{32: true, 40: true, 64: true, 128: true}

// NewHash returns the hash used for content checksums.
func NewHash() hash.Hash {
	return md5.New() //nolint:gosec // md5sum compatibility
}

// WriteChecksums writes sums as "<digest>  <path>" lines. As md5sum does,
// a path holding a backslash, newline or carriage return is escaped and its
// line starts with a backslash.
func WriteChecksums(w io.Writer, sums []Checksum) error {
	bw := bufio.NewWriter(w)
	for _, s := range sums {
		var err error
		if needsLineEscape(s.Path) {
			_, err = fmt.Fprintf(bw, "\\%s  %s\n", s.Digest, escapeLine(s.Path))
		} else {
			_, err = fmt.Fprintf(bw, "%s  %s\n", s.Digest, s.Path)
		}
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ParseChecksums reads "<digest>  <path>" lines.
//
// The path is everything after the fixed-width hex digest and its two
// separator characters, so paths containing spaces survive intact. The
// md5sum binary marker (" *") is accepted in place of the second space,
// and lines starting with a backslash carry an escaped path.
func ParseChecksums(r io.Reader) ([]Checksum, error) {
	var out []Checksum
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			continue
		}
		body, escaped := strings.CutPrefix(line, `\`)
		n := hexPrefix(body)
		if !digestLengths[n] || len(body) < n+3 || body[n] != ' ' || (body[n+1] != ' ' && body[n+1] != '*') {
			return nil, fmt.Errorf("%w: checksum line %d: %q", ErrMalformed, lineNo, line)
		}
		p := body[n+2:]
		if escaped {
			var err error
			if p, err = unescape(p); err != nil {
				return nil, fmt.Errorf("%w: checksum line %d: %v", ErrMalformed, lineNo, err)
			}
		}
		out = append(out, Checksum{Digest: strings.ToLower(body[:n]), Path: p})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadChecksumFile parses the checksum file at path.
func ReadChecksumFile(path string) ([]Checksum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseChecksums(f)
}

// HashFile returns the hex checksum and size of the file at path.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader returns the hex checksum and length of r's content.
func HashReader(r io.Reader) (string, int64, error) {
	h := NewHash()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func hexPrefix(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return i
		}
	}
	return len(s)
}
