package manifest

import (
	"fmt"
	"strings"
)

// Paths are escaped the way md5sum escapes file names: a backslash becomes
// `\\`, a newline `\n` and a carriage return `\r`. Tab-separated formats
// also escape tabs as `\t`.
var (
	lineEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	fieldEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
)

// needsLineEscape reports whether p cannot be written raw on one line.
func needsLineEscape(p string) bool {
	return strings.ContainsAny(p, "\\\n\r")
}

func escapeLine(p string) string {
	return lineEscaper.Replace(p)
}

func escapeField(p string) string {
	return fieldEscaper.Replace(p)
}

// unescape reverses escapeLine and escapeField.
func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			return "", fmt.Errorf("trailing backslash in %q", s)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		default:
			return "", fmt.Errorf("unknown escape \\%c in %q", s[i], s)
		}
	}
	return b.String(), nil
}
