package krtnl

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"

	nlunix "github.com/krtnl/krtnl/internal/unix"
)

// errInvalidRouteMessage is returned when a RouteMessage's fixed header is
// too short to be a well-formed rtmsg.
var errInvalidRouteMessage = errors.New("krtnl: route message is invalid or too short")

// errNotEmittable is returned by the emitter when asked to install or
// delete a route that fails the §4.7 preflight.
var errNotEmittable = errors.New("krtnl: route is not emittable")

// Dest is the destination category of an abstract route record (spec §3).
type Dest uint8

const (
	DestROUTER Dest = iota
	DestDEVICE
	DestBLACKHOLE
	DestUNREACHABLE
	DestPROHIBIT
)

// Cast distinguishes unicast routes from multicast/anycast/local ones.
// Only CastUnicast is ever produced by the translator or accepted by the
// emitter; the type exists so Route.Emittable's preflight can say "not
// unicast" rather than assuming every Route value came from this package.
type Cast uint8

const CastUnicast Cast = 0

// RouteSource is the provenance tag of spec §3's route record.
type RouteSource uint8

const (
	SourceKernel RouteSource = iota
	SourceRedirect
	SourceSelf
	SourceAlien

	// SourceDevice marks an attached-network route the RIB derives from an
	// interface's own address rather than one read off the wire. The
	// translator never produces it; it exists so Emitter.NotifyChange can
	// recognize and skip routes of this shape the same way BIRD's
	// krt_set_notify filters RTS_DEVICE before comparing old and new.
	SourceDevice
)

// Route is the daemon's abstract route record (spec §3). Scope, TOS and
// table are fixed by contract (UNIVERSE, 0, MAIN respectively) and are not
// represented as fields: every Route this module produces or accepts means
// exactly those three values.
type Route struct {
	Prefix    net.IP
	PrefixLen uint8

	Dest Dest
	Cast Cast

	// Gateway and Interface are populated depending on Dest: ROUTER carries
	// both, DEVICE carries only Interface, and BLACKHOLE/UNREACHABLE/
	// PROHIBIT carry neither.
	Gateway   net.IP
	Interface *Interface

	Source RouteSource
}

// Emittable reproduces BIRD's krt_capable preflight: only these five
// destination categories, and only unicast cast, may ever reach the kernel.
func (r *Route) Emittable() bool {
	if r.Cast != CastUnicast {
		return false
	}
	switch r.Dest {
	case DestROUTER, DestDEVICE, DestBLACKHOLE, DestUNREACHABLE, DestPROHIBIT:
		return true
	default:
		return false
	}
}

// RouteMessage is the wire representation of struct rtmsg, the fixed
// header of a RTM_NEWROUTE/RTM_DELROUTE/RTM_GETROUTE frame.
type RouteMessage struct {
	Family   uint8
	DstLen   uint8
	SrcLen   uint8
	Tos      uint8
	Table    uint8
	Protocol uint8
	Scope    uint8
	Type     uint8
	Flags    uint32

	Attributes attrTable
}

func (m *RouteMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, nlunix.SizeofRtMsg)
	b[0] = m.Family
	b[1] = m.DstLen
	b[2] = m.SrcLen
	b[3] = m.Tos
	b[4] = m.Table
	b[5] = m.Protocol
	b[6] = m.Scope
	b[7] = m.Type
	nlenc.PutUint32(b[8:12], m.Flags)
	return b, nil
}

func (m *RouteMessage) UnmarshalBinary(b []byte) error {
	if len(b) < nlunix.SizeofRtMsg {
		return errInvalidRouteMessage
	}
	m.Family = b[0]
	m.DstLen = b[1]
	m.SrcLen = b[2]
	m.Tos = b[3]
	m.Table = b[4]
	m.Protocol = b[5]
	m.Scope = b[6]
	m.Type = b[7]
	m.Flags = nlenc.Uint32(b[8:12])

	if len(b) > nlunix.SizeofRtMsg {
		attrs, err := parseAttrs(b[nlunix.SizeofRtMsg:], maxRouteAttr)
		if err != nil {
			return err
		}
		m.Attributes = attrs
	}
	return nil
}

// maxRouteAttr bounds the route attribute table (spec §4.2).
const maxRouteAttr = 32

// resolveInterface looks up index in the real interface table, falling
// back to the temporary-interface cache per spec §3/§9: routes reference
// the cache's stand-in rather than the real table until the real table
// learns about the interface. Used only for the ROUTER arm's
// non-neighbor-gateway fallback, where a neighbor lookup already failed
// and a direct table hit is worth trying before falling back to the cache.
func resolveInterface(index uint32, ifaces InterfaceTable, temp *TempInterfaceCache) *Interface {
	if real, ok := ifaces.ByIndex(index); ok {
		return real
	}
	return temp.Get(index, nil)
}

// parseRoute implements the route translator of spec §4.6. It hands the
// parsed record to one of the RIB's two sinks and returns it purely for
// tests; a nil return means the frame was filtered, dropped, or ignored.
func parseRoute(msg netlink.Message, scan bool, ifaces InterfaceTable, neighbors NeighborTable, temp *TempInterfaceCache, rib RIB, logger *slog.Logger) *Route {
	rm := &RouteMessage{}
	if err := rm.UnmarshalBinary(msg.Data); err != nil {
		logger.Error("krtnl: malformed route message", "err", err)
		return nil
	}

	if rm.Family != nlunix.AF_INET {
		logger.Debug("krtnl: ignoring non-IPv4 route", "family", rm.Family)
		return nil
	}
	if rm.Table != nlunix.RT_TABLE_MAIN {
		logger.Debug("krtnl: ignoring route outside the main table", "table", rm.Table)
		return nil
	}
	if rm.Tos != 0 {
		logger.Debug("krtnl: ignoring route with non-zero TOS", "tos", rm.Tos)
		return nil
	}

	isNew := msg.Header.Type == netlink.HeaderType(nlunix.RTM_NEWROUTE)
	if scan && !isNew {
		// Scans rebuild the RIB from scratch; a DELROUTE seen mid-scan
		// conveys no information.
		return nil
	}

	var source RouteSource
	switch rm.Protocol {
	case nlunix.RTPROT_KERNEL:
		logger.Debug("krtnl: ignoring kernel-owned route")
		return nil
	case nlunix.RTPROT_REDIRECT:
		source = SourceRedirect
	case nlunix.ProtoSelf:
		if !scan {
			// An async echo of a route this module installed itself; drop
			// to avoid feedback.
			logger.Debug("krtnl: ignoring self-originated route echo")
			return nil
		}
		source = SourceSelf
	default:
		source = SourceAlien
	}

	route := &Route{Source: source, Cast: CastUnicast}

	if dstAttr, ok := rm.Attributes[nlunix.RTA_DST]; ok {
		if len(dstAttr.raw) != 4 {
			logger.Error("krtnl: malformed route message: RTA_DST has wrong length", "len", len(dstAttr.raw))
			return nil
		}
		route.Prefix = dstAttr.IPv4()
	} else {
		route.Prefix = net.IPv4zero.To4()
	}
	route.PrefixLen = rm.DstLen

	switch rm.Type {
	case nlunix.RTN_UNICAST:
		oifAttr, hasOif := rm.Attributes[nlunix.RTA_OIF]
		if !hasOif {
			logger.Error("krtnl: unicast route missing outgoing interface", "dst", route.Prefix)
			return nil
		}
		if len(oifAttr.raw) != 4 {
			logger.Error("krtnl: malformed route message: RTA_OIF has wrong length", "len", len(oifAttr.raw))
			return nil
		}
		oif := oifAttr.Uint32()

		if gwAttr, hasGw := rm.Attributes[nlunix.RTA_GATEWAY]; hasGw {
			if len(gwAttr.raw) != 4 {
				logger.Error("krtnl: malformed route message: RTA_GATEWAY has wrong length", "len", len(gwAttr.raw))
				return nil
			}
			route.Dest = DestROUTER
			route.Gateway = gwAttr.IPv4()
			if nb, ok := neighbors.Find(route.Gateway); ok {
				route.Interface = nb.Interface
			} else {
				logger.Warn("krtnl: route gateway is not a direct neighbor",
					"gateway", route.Gateway, "oif", oif)
				route.Interface = resolveInterface(oif, ifaces, temp)
			}
		} else {
			// BIRD's device arm calls krt_temp_iface(p, oif) unconditionally
			// rather than consulting the real interface table: a device
			// route references the cache's stand-in until the interface
			// scan completes, not whatever the real table happens to hold
			// right now (spec §4.6, §9).
			route.Dest = DestDEVICE
			real, _ := ifaces.ByIndex(oif)
			route.Interface = temp.Get(oif, real)
		}
	case nlunix.RTN_BLACKHOLE:
		route.Dest = DestBLACKHOLE
	case nlunix.RTN_UNREACHABLE:
		route.Dest = DestUNREACHABLE
	case nlunix.RTN_PROHIBIT:
		route.Dest = DestPROHIBIT
	default:
		logger.Debug("krtnl: ignoring route of unsupported type", "type", rm.Type)
		return nil
	}

	if scan {
		rib.ScanAccept(route)
	} else {
		rib.AsyncAccept(route, isNew)
	}
	return route
}

// destToRTNType is the §4.7 inverse of the type mapping in §4.6.
func destToRTNType(d Dest) (uint8, bool) {
	switch d {
	case DestROUTER, DestDEVICE:
		return nlunix.RTN_UNICAST, true
	case DestBLACKHOLE:
		return nlunix.RTN_BLACKHOLE, true
	case DestUNREACHABLE:
		return nlunix.RTN_UNREACHABLE, true
	case DestPROHIBIT:
		return nlunix.RTN_PROHIBIT, true
	default:
		return 0, false
	}
}

// maxSendAttr bounds the attribute writer used by emitRoute; large enough
// for the handful of scalar attributes a route install ever carries.
const maxSendAttr = 2048

// emitRoute implements spec §4.7: serialize r and exchange it with the
// kernel as a single request/ACK, installing it if isNew or deleting it
// otherwise. It returns the kernel's errno (0 on success).
func emitRoute(e *requestEngine, r *Route, isNew bool) (int, error) {
	if !r.Emittable() {
		return 0, errNotEmittable
	}
	rtnType, ok := destToRTNType(r.Dest)
	if !ok {
		return 0, errNotEmittable
	}

	rm := &RouteMessage{
		Family:   nlunix.AF_INET,
		DstLen:   r.PrefixLen,
		Tos:      0,
		Table:    nlunix.RT_TABLE_MAIN,
		Protocol: nlunix.ProtoSelf,
		Scope:    nlunix.RT_SCOPE_UNIVERSE,
		Type:     rtnType,
	}
	header, err := rm.MarshalBinary()
	if err != nil {
		return 0, err
	}

	w := newAttrWriter(maxSendAttr)
	w.putIPv4(nlunix.RTA_DST, r.Prefix)
	switch r.Dest {
	case DestROUTER:
		w.putIPv4(nlunix.RTA_GATEWAY, r.Gateway)
	case DestDEVICE:
		w.putUint32(nlunix.RTA_OIF, r.Interface.Index)
	}
	attrs, err := w.Finish(16 + len(header))
	if err != nil {
		return 0, err
	}

	body := make([]byte, 0, len(header)+len(attrs))
	body = append(body, header...)
	body = append(body, attrs...)

	var msgType uint16
	var flags netlink.HeaderFlags
	if isNew {
		msgType = nlunix.RTM_NEWROUTE
		flags = netlink.Create | netlink.Replace
	} else {
		msgType = nlunix.RTM_DELROUTE
	}
	return e.singleExchange(msgType, flags, body)
}

// Emitter is the higher-level route-install contract spec §6.5 exposes as
// notify_route_change, built on top of the request/reply engine's
// singleExchange primitive.
type Emitter struct {
	e      *requestEngine
	logger *slog.Logger
}

func newEmitter(e *requestEngine, logger *slog.Logger) *Emitter {
	return &Emitter{e: e, logger: logger}
}

// Install emits r as RTM_NEWROUTE with CREATE|REPLACE semantics.
func (em *Emitter) Install(r *Route) error {
	errno, err := emitRoute(em.e, r, true)
	if err != nil {
		return err
	}
	if errno != 0 {
		return fmt.Errorf("krtnl: route install failed: errno %d", errno)
	}
	return nil
}

// Delete emits r as RTM_DELROUTE.
func (em *Emitter) Delete(r *Route) error {
	errno, err := emitRoute(em.e, r, false)
	if err != nil {
		return err
	}
	if errno != 0 {
		return fmt.Errorf("krtnl: route delete failed: errno %d", errno)
	}
	return nil
}

// NotifyChange implements spec §4.7's update-in-place logic: install a
// single replacement when both old and new exist, otherwise delete old
// (unless the kernel has already purged it) and install new. Device-owned
// (attached-network) routes are filtered out up front on both sides,
// independently, exactly as BIRD's krt_set_notify does before comparing
// old and new.
func (em *Emitter) NotifyChange(old, new *Route) error {
	if old != nil && old.Source == SourceDevice {
		old = nil
	}
	if new != nil && new.Source == SourceDevice {
		new = nil
	}

	if old != nil && new != nil {
		// TOS is always 0 in this module (§1 non-goals exclude TOS/priority
		// matching), so the "TOS matches" condition always holds and a
		// single atomic replace always suffices.
		return em.Install(new)
	}

	if old != nil {
		// The kernel has already flushed the route itself when its
		// interface goes down; skip the delete only when the interface is
		// known and down, and delete when it is unknown (nil) or still up.
		mustDelete := old.Interface == nil || old.Interface.Flags.Has(LinkUp)
		if mustDelete {
			if err := em.Delete(old); err != nil {
				return err
			}
		}
	}

	if new != nil {
		return em.Install(new)
	}
	return nil
}
