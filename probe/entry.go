package probe

import (
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/meigma/ngsarchiver/internal/platform"
)

// Kind classifies a filesystem object.
type Kind uint8

const (
	// KindFile is a regular file with a single link.
	KindFile Kind = iota

	// KindDir is a directory.
	KindDir

	// KindSymlink is a symbolic link. The link itself is described; its
	// target is never followed for kind or size.
	KindSymlink

	// KindHardLink is a regular file whose link count is greater than one.
	KindHardLink

	// KindSpecial is a socket, fifo, device or other non-regular object.
	KindSpecial
)

var kindNames = [...]string{
	KindFile:     "file",
	KindDir:      "directory",
	KindSymlink:  "symlink",
	KindHardLink: "hardlink",
	KindSpecial:  "special",
}

// String returns the manifest name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("probe: unknown kind %q", s)
}

// LinkStatus is the outcome of resolving a symlink.
type LinkStatus uint8

const (
	// LinkNone is used for entries that are not symlinks.
	LinkNone LinkStatus = iota

	// LinkOK means the chain resolves to an existing object inside the root.
	LinkOK

	// LinkBroken means the chain ends at a path that does not exist.
	LinkBroken

	// LinkExternal means the chain resolves to an object outside the root.
	LinkExternal

	// LinkUnresolvable means the chain loops, exceeds the hop bound, or
	// crosses a component that cannot be inspected.
	LinkUnresolvable
)

// String returns a lower-case name for the status.
func (s LinkStatus) String() string {
	switch s {
	case LinkNone:
		return "none"
	case LinkOK:
		return "ok"
	case LinkBroken:
		return "broken"
	case LinkExternal:
		return "external"
	case LinkUnresolvable:
		return "unresolvable"
	default:
		return "unknown"
	}
}

// Entry is the probed description of one filesystem object. Entries are
// values and are never modified after Probe returns them.
type Entry struct {
	// Path is slash-separated and relative to the probe root; the root
	// itself is ".".
	Path string

	Kind    Kind
	Size    int64
	Mode    fs.FileMode
	UID     uint32
	GID     uint32
	ModTime time.Time

	// Readable and Writable describe what the acting user can do, as
	// established by attempting the access.
	Readable bool
	Writable bool

	// Target is the raw link text for symlinks.
	Target string

	// LinkStatus is LinkNone for non-symlinks.
	LinkStatus LinkStatus

	// Resolved is the absolute, symlink-free path the link leads to, set
	// for LinkOK and LinkExternal.
	Resolved string

	// TargetIsDir is true when the link resolves to a directory (a dirlink).
	TargetIsDir bool

	// ID and Nlink identify the underlying object for hard-link grouping
	// and loop detection.
	ID    platform.FileID
	Nlink uint64
}

// Name returns the final path component.
func (e Entry) Name() string {
	return path.Base(e.Path)
}

// IsDir reports whether the entry is a real directory (not a dirlink).
func (e Entry) IsDir() bool {
	return e.Kind == KindDir
}

// IsRegular reports whether the entry holds file content.
func (e Entry) IsRegular() bool {
	return e.Kind == KindFile || e.Kind == KindHardLink
}

// IsDirLink reports whether the entry is a symlink to a directory.
func (e Entry) IsDirLink() bool {
	return e.Kind == KindSymlink && e.TargetIsDir
}

// SpecialType names the kind of special file, or "" for other kinds.
func (e Entry) SpecialType() string {
	if e.Kind != KindSpecial {
		return ""
	}
	switch {
	case e.Mode&fs.ModeSocket != 0:
		return "socket"
	case e.Mode&fs.ModeNamedPipe != 0:
		return "fifo"
	case e.Mode&fs.ModeCharDevice != 0:
		return "char device"
	case e.Mode&fs.ModeDevice != 0:
		return "block device"
	default:
		return "irregular"
	}
}
