package krtnl

import "net"

// LinkFlags is the abstract interface flag bit set of spec §3, derived
// from the kernel's ifi_flags by the link translator's mapping table
// (spec §4.4).
type LinkFlags uint32

const (
	LinkUp LinkFlags = 1 << iota
	LinkAdminDown
	LinkLoopback
	LinkBroadcast
	LinkMulticast
	LinkUnnumbered // point-to-point / unnumbered
	LinkIgnore
)

func (f LinkFlags) Has(bit LinkFlags) bool { return f&bit != 0 }

// Interface is the daemon's abstract interface record (spec §3). The
// daemon's real interface table is an external collaborator reached
// through InterfaceTable; the link translator allocates a new record for
// an index it has not seen and publishes it there. It is also the type
// TempInterfaceCache hands out for routes that reference an interface not
// yet known.
type Interface struct {
	Index uint32
	Name  string
	MTU   uint32
	Flags LinkFlags

	// The address fields below are overlaid by the address translator
	// (address.go) the same way BIRD's nl_parse_addr fills in struct iface
	// f.ip/f.pxlen/f.brd/f.opposite before calling if_update — there is no
	// separate published record for an address binding, only the interface
	// it belongs to.
	IP        net.IP
	PrefixLen uint8
	Prefix    net.IP
	Broadcast net.IP
	Opposite  net.IP
}

// Clone returns a shallow copy, used wherever the translators mutate "in
// place" conceptually (NEWLINK overlay, DELLINK-during-async ADMIN_DOWN
// assertion) but must not mutate the caller's stored record until
// publish_interface is called.
func (i *Interface) Clone() *Interface {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// AddressBinding is spec §3's "Address binding": a parent interface plus
// the local IPv4 address, its prefix, and (depending on the link type) a
// broadcast or opposite-endpoint address.
type AddressBinding struct {
	Interface *Interface
	Local     net.IP
	PrefixLen uint8
	Prefix    net.IP
	Broadcast net.IP
	Opposite  net.IP
}

// netmask4 returns the IPv4 netmask for a prefix length in [0,32].
func netmask4(prefixLen uint8) net.IPMask {
	return net.CIDRMask(int(prefixLen), 32)
}

// validPrefixLen reports whether a prefix length satisfies spec §3's
// invariant: in [0,32] and never 31, tightened to exactly 32 on unnumbered
// links.
func validPrefixLen(prefixLen uint8, unnumbered bool) bool {
	if prefixLen > 32 || prefixLen == 31 {
		return false
	}
	if unnumbered && prefixLen != 32 {
		return false
	}
	return true
}

// TempInterfaceCache is the per-synchronizer "temporary-interface cache"
// of spec §3 and §9: an append-only list of lightweight interface
// stand-ins keyed by kernel index, handed to routes that reference an
// interface the daemon's real interface table does not (yet) know about.
// It supplies a stable pointer for the route's lifetime, the same way
// BIRD's krt_temp_iface does against its protocol memory pool.
type TempInterfaceCache struct {
	byIndex map[uint32]*Interface
}

func NewTempInterfaceCache() *TempInterfaceCache {
	return &TempInterfaceCache{byIndex: make(map[uint32]*Interface)}
}

// Get returns the cached stand-in for index, consulting real as a naming
// hint (the stand-in's Name is copied from real if real is non-nil and
// the entry is newly created) the way BIRD's krt_temp_iface copies
// if_find_by_index(index)'s name into the temp iface it allocates. When
// real is nil and no stand-in exists yet, the new entry's Name is "?"
// exactly as the original falls back to when even the real interface
// table doesn't know the index.
func (c *TempInterfaceCache) Get(index uint32, real *Interface) *Interface {
	if ifc, ok := c.byIndex[index]; ok {
		return ifc
	}
	name := "?"
	if real != nil {
		name = real.Name
	}
	ifc := &Interface{Index: index, Name: name}
	c.byIndex[index] = ifc
	return ifc
}
