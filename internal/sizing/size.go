// Package sizing parses and formats byte sizes and provides overflow-safe
// size arithmetic.
package sizing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// ErrInvalidSize is returned when a size string cannot be parsed.
var ErrInvalidSize = errors.New("sizing: invalid size")

// Parse converts a size string such as "250M", "1.5G" or "4096" to bytes.
//
// Single-letter unit suffixes (K, M, G, T, P) are powers of 1024. Explicit
// humanize units ("MB", "MiB") are passed through unchanged. An empty
// string parses as zero, meaning no limit.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	norm := s
	if last := s[len(s)-1]; strings.ContainsRune("kKmMgGtTpP", rune(last)) {
		norm = s + "iB"
	}
	n, err := humanize.ParseBytes(norm)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidSize, s)
	}
	return int64(n), nil
}

// Format renders n bytes with IEC units, for example "1.5 GiB".
func Format(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

// AddInt64 adds two non-negative int64 values, returning (result, false) on
// overflow.
func AddInt64(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
