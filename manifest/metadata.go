package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/meigma/ngsarchiver/internal/sizing"
)

// ArchiveType distinguishes compressed archives from copy archives.
type ArchiveType string

// Archive types recorded in metadata.
const (
	TypeCompressed ArchiveType = "compressed"
	TypeCopy       ArchiveType = "copy"
)

// DateLayout is the creation_date format.
const DateLayout = "2006-01-02 15:04:05"

// Size is a byte count that also decodes the string ("250M") and null
// forms written by older releases. It encodes as a number, or null when
// zero.
type Size int64

// MarshalJSON implements json.Marshaler.
func (s Size) MarshalJSON() ([]byte, error) {
	if s == 0 {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(int64(s), 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Size) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = 0
		return nil
	case len(data) > 0 && data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		n, err := sizing.Parse(str)
		if err != nil {
			return err
		}
		*s = Size(n)
		return nil
	default:
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("volume size: %w", err)
		}
		*s = Size(n)
		return nil
	}
}

// Metadata is the structured record stored as archive_metadata.json.
type Metadata struct {
	Name   string      `json:"name"`
	Type   ArchiveType `json:"type,omitempty"`
	Source string      `json:"source"`

	// SourceType is the classification of the source directory.
	SourceType string `json:"source_type,omitempty"`
	SourceSize int64  `json:"source_size,omitempty"`

	// Subarchives lists volume file names; Files lists plain files stored
	// uncompressed next to them.
	Subarchives []string `json:"subarchives,omitempty"`
	Files       []string `json:"files,omitempty"`

	User             string `json:"user"`
	CreationDate     string `json:"creation_date"`
	MultiVolume      bool   `json:"multi_volume"`
	VolumeSize       Size   `json:"volume_size"`
	CompressionLevel int    `json:"compression_level,omitempty"`
	Version          string `json:"ngsarchiver_version"`

	HadSymlinks      bool `json:"had_symlinks"`
	HadHardLinks     bool `json:"had_hardlinks"`
	HadCaseCollision bool `json:"had_case_collision"`
	HadSpecialFiles  bool `json:"had_special_files"`
	HadExcludedFiles bool `json:"had_excluded_files"`

	// Copy archives record the symlink policy they were made with.
	ReplaceSymlinks         bool `json:"replace_symlinks,omitempty"`
	TransformBrokenSymlinks bool `json:"transform_broken_symlinks,omitempty"`
	FollowDirLinks          bool `json:"follow_dirlinks,omitempty"`
}

// Created parses CreationDate in the local time zone.
func (m *Metadata) Created() (time.Time, error) {
	return time.ParseInLocation(DateLayout, m.CreationDate, time.Local)
}

// RequiresSymlinks reports whether restoring needs symlink support.
func (m *Metadata) RequiresSymlinks() bool {
	return m.HadSymlinks && !m.ReplaceSymlinks
}

// RequiresCaseSensitivity reports whether restoring needs case-sensitive
// names.
func (m *Metadata) RequiresCaseSensitivity() bool {
	return m.HadCaseCollision
}

// ReadMetadataFile parses archive_metadata.json.
func ReadMetadataFile(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseMetadata(data)
}

// ParseMetadata decodes a metadata record.
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformed, err)
	}
	return &m, nil
}

// Marshal encodes the record with the indentation used on disk.
func (m *Metadata) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
