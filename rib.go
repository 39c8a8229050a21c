package krtnl

import "net"

// InterfaceTable is the daemon's interface table (spec §1 "explicitly out
// of scope... looked up by index"), consumed by the synchronizer through
// this contract (spec §6.5).
type InterfaceTable interface {
	// ByIndex looks up an interface by its kernel index.
	ByIndex(index uint32) (*Interface, bool)

	// Publish inserts or updates an interface record.
	Publish(ifc *Interface)

	// BeginScan/EndScan bracket a dump for atomicity: BeginScan marks
	// every currently known interface as pending removal, EndScan tears
	// down any interface that was not touched by a NEWLINK during the
	// bracket (spec §3 Interface record lifecycle, "end of scan").
	BeginScan()
	EndScan()
}

// Neighbor is the daemon's neighbor cache entry shape, just enough of it
// for gateway resolution (spec §4.6).
type Neighbor struct {
	Address   net.IP
	Interface *Interface
}

// NeighborTable is the daemon's neighbor cache (spec §1 "explicitly out of
// scope... looked up by gateway address"), consumed through this contract.
type NeighborTable interface {
	Find(addr net.IP) (*Neighbor, bool)
}

// RIB is the daemon's routing information base, reached through the two
// sinks spec §6.5 names: rib_scan_accept and rib_async_accept.
type RIB interface {
	// ScanAccept hands a route discovered during a dump to the RIB.
	ScanAccept(route *Route)

	// AsyncAccept hands a route learned from an unsolicited multicast
	// notification to the RIB, with isNew distinguishing NEWROUTE from
	// DELROUTE.
	AsyncAccept(route *Route, isNew bool)
}
