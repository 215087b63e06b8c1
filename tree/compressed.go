package tree

import (
	"path/filepath"
	"strings"
)

// IsCompressedName reports whether the file name carries an extension of an
// already-compressed format. Such content gains nothing from gzip.
func IsCompressedName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	_, ok := compressedExts[ext]
	return ok
}

var compressedExts = map[string]struct{}{
	".7z":    {},
	".bam":   {},
	".bcf":   {},
	".br":    {},
	".bz2":   {},
	".cram":  {},
	".gz":    {},
	".jpeg":  {},
	".jpg":   {},
	".lz4":   {},
	".mp4":   {},
	".pdf":   {},
	".png":   {},
	".rar":   {},
	".tgz":   {},
	".xz":    {},
	".zip":   {},
	".zst":   {},
	".bgz":   {},
	".gif":   {},
	".webp":  {},
	".woff2": {},
}
