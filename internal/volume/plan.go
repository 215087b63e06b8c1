// Package volume reads and writes the gzip-compressed tar files that hold
// subarchive content, and decides how a subarchive's members are split
// across size-bounded volumes.
package volume

// Member is a candidate for placement in a volume.
type Member struct {
	// Path is the slash-separated path relative to the source root.
	Path string

	// Size is the number of content bytes the member contributes. Members
	// without content (directories, symlinks) have size zero.
	Size int64
}

// Plan splits members, in order, into consecutive volumes.
//
// A limit of zero or less places every member in one volume. Otherwise a
// new volume is started before a member whose size would take the running
// total past limit, unless the current volume is still empty; a member
// larger than limit therefore ends up alone in an oversized volume.
// Every returned volume is non-empty and the concatenation of all volumes
// is the input sequence.
func Plan(members []Member, limit int64) [][]Member {
	if len(members) == 0 {
		return nil
	}
	if limit <= 0 {
		return [][]Member{members}
	}

	var (
		volumes [][]Member
		start   int
		running int64
	)
	for i, m := range members {
		if i > start && running+m.Size > limit {
			volumes = append(volumes, members[start:i:i])
			start = i
			running = 0
		}
		running += m.Size
	}
	return append(volumes, members[start:])
}

// Oversized reports whether vol exceeds limit, which only a volume holding
// a single member may do.
func Oversized(vol []Member, limit int64) bool {
	if limit <= 0 {
		return false
	}
	return TotalSize(vol) > limit
}

// TotalSize sums member sizes.
func TotalSize(vol []Member) int64 {
	var n int64
	for _, m := range vol {
		n += m.Size
	}
	return n
}
