package platform

import (
	"os/user"
	"strconv"
	"sync"
)

// Owners resolves numeric ids to names and back, caching every answer for
// the lifetime of the value. It is safe for concurrent use.
type Owners struct {
	mu     sync.Mutex
	users  map[uint32]lookup
	groups map[uint32]lookup
}

type lookup struct {
	name string
	ok   bool
}

// NewOwners returns an empty cache.
func NewOwners() *Owners {
	return &Owners{
		users:  make(map[uint32]lookup),
		groups: make(map[uint32]lookup),
	}
}

// UserName returns the login name for uid, or the decimal id and false when
// the id has no local account.
func (o *Owners) UserName(uid uint32) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if l, hit := o.users[uid]; hit {
		return l.name, l.ok
	}
	id := strconv.FormatUint(uint64(uid), 10)
	l := lookup{name: id}
	if u, err := user.LookupId(id); err == nil {
		l = lookup{name: u.Username, ok: true}
	}
	o.users[uid] = l
	return l.name, l.ok
}

// GroupName returns the group name for gid, or the decimal id and false.
func (o *Owners) GroupName(gid uint32) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if l, hit := o.groups[gid]; hit {
		return l.name, l.ok
	}
	id := strconv.FormatUint(uint64(gid), 10)
	l := lookup{name: id}
	if g, err := user.LookupGroupId(id); err == nil {
		l = lookup{name: g.Name, ok: true}
	}
	o.groups[gid] = l
	return l.name, l.ok
}

// LookupUser resolves a login name, or the decimal id of an existing
// account, to a uid.
func LookupUser(name string) (uint32, bool) {
	u, err := user.Lookup(name)
	if err != nil {
		if u, err = user.LookupId(name); err != nil {
			return 0, false
		}
	}
	return parseID(u.Uid)
}

// LookupGroup resolves a group name, or the decimal id of an existing
// group, to a gid.
func LookupGroup(name string) (uint32, bool) {
	g, err := user.LookupGroup(name)
	if err != nil {
		if g, err = user.LookupGroupId(name); err != nil {
			return 0, false
		}
	}
	return parseID(g.Gid)
}

func parseID(s string) (uint32, bool) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
