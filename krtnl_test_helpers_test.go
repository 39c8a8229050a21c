package krtnl

import (
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/mdlayher/netlink"
)

// discardLogger is a logger that writes nowhere, used by tests that only
// care about the returned/published value, not the diagnostic text.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// encodeAttrs builds a TLV payload the way a kernel reply would carry it,
// independent of this module's own attrWriter, so translator tests aren't
// circular.
func encodeAttrs(t *testing.T, set func(ae *netlink.AttributeEncoder)) []byte {
	t.Helper()
	ae := netlink.NewAttributeEncoder()
	set(ae)
	b, err := ae.Encode()
	if err != nil {
		t.Fatalf("encodeAttrs: %v", err)
	}
	return b
}

// fakeConn replays canned frame batches and records what was sent, driving
// frameTransport/requestEngine without a real kernel socket.
type fakeConn struct {
	sent    []netlink.Message
	batches [][]netlink.Message
	recvErr error
	sendErr error
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Send(m netlink.Message) (netlink.Message, error) {
	if c.sendErr != nil {
		return netlink.Message{}, c.sendErr
	}
	c.sent = append(c.sent, m)
	return m, nil
}

func (c *fakeConn) Receive() ([]netlink.Message, error) {
	if c.recvErr != nil {
		return nil, c.recvErr
	}
	if len(c.batches) == 0 {
		return nil, io.EOF
	}
	b := c.batches[0]
	c.batches = c.batches[1:]
	return b, nil
}

var _ conn = (*fakeConn)(nil)

// fakeIfaceTable is a minimal InterfaceTable test double.
type fakeIfaceTable struct {
	byIndex     map[uint32]*Interface
	beginCalls  int
	endCalls    int
	publishedAt []int // len(publishedAt) grows on every Publish, recording beginCalls at the time
}

func newFakeIfaceTable() *fakeIfaceTable {
	return &fakeIfaceTable{byIndex: make(map[uint32]*Interface)}
}

func (f *fakeIfaceTable) ByIndex(index uint32) (*Interface, bool) {
	ifc, ok := f.byIndex[index]
	return ifc, ok
}

func (f *fakeIfaceTable) Publish(ifc *Interface) {
	f.byIndex[ifc.Index] = ifc
	f.publishedAt = append(f.publishedAt, f.beginCalls)
}
func (f *fakeIfaceTable) BeginScan() { f.beginCalls++ }
func (f *fakeIfaceTable) EndScan()   { f.endCalls++ }

// fakeNeighborTable is a minimal NeighborTable test double keyed by
// address string.
type fakeNeighborTable struct {
	byAddr map[string]*Neighbor
}

func newFakeNeighborTable() *fakeNeighborTable {
	return &fakeNeighborTable{byAddr: make(map[string]*Neighbor)}
}

func (f *fakeNeighborTable) add(ip net.IP, ifc *Interface) {
	f.byAddr[ip.String()] = &Neighbor{Address: ip, Interface: ifc}
}

func (f *fakeNeighborTable) Find(addr net.IP) (*Neighbor, bool) {
	n, ok := f.byAddr[addr.String()]
	return n, ok
}

// fakeRIB records everything handed to it by the route translator.
type fakeRIB struct {
	scanned     []*Route
	asyncRoutes []*Route
	asyncIsNew  []bool
}

func (r *fakeRIB) ScanAccept(route *Route) { r.scanned = append(r.scanned, route) }

func (r *fakeRIB) AsyncAccept(route *Route, isNew bool) {
	r.asyncRoutes = append(r.asyncRoutes, route)
	r.asyncIsNew = append(r.asyncIsNew, isNew)
}
