// Package krtnl implements the kernel side of a routing daemon's kernel
// sync: it discovers interfaces and addresses, mirrors the daemon's best
// routes into the kernel forwarding table, and learns about routes
// installed by other parties, all over the route-netlink (NETLINK_ROUTE)
// protocol.
//
// The package is organized around five cooperating parts: frame transport
// (conn.go), the TLV attribute codec (attr.go), the dump/exchange
// request-reply engine (dump.go), the link/address/route translators
// (link.go, address.go, route.go), and the asynchronous multicast
// dispatcher (async.go). Synchronizer (sync.go) wires them together and is
// the only type most callers need.
package krtnl
