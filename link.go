package krtnl

import (
	"errors"
	"log/slog"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"

	nlunix "github.com/krtnl/krtnl/internal/unix"
)

// errInvalidLinkMessage is returned when a LinkMessage's fixed header is
// too short to be a well-formed ifinfomsg.
var errInvalidLinkMessage = errors.New("krtnl: link message is invalid or too short")

// LinkMessage is the wire representation of struct ifinfomsg, the fixed
// header of a RTM_NEWLINK/RTM_DELLINK/RTM_GETLINK frame.
type LinkMessage struct {
	Family uint8
	Type   uint16 // ARPHRD_* device type, carried but unused by the translator
	Index  uint32
	Flags  uint32
	Change uint32

	Attributes attrTable
}

// MarshalBinary marshals the ifinfomsg fixed header. It does not include
// the TLV region; callers append that separately via attrWriter.
func (m *LinkMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, nlunix.SizeofIfInfomsg)
	b[0] = m.Family
	nlenc.PutUint16(b[2:4], m.Type)
	nlenc.PutUint32(b[4:8], m.Index)
	nlenc.PutUint32(b[8:12], m.Flags)
	nlenc.PutUint32(b[12:16], m.Change)
	return b, nil
}

// UnmarshalBinary unmarshals an ifinfomsg fixed header plus any trailing
// TLV region.
func (m *LinkMessage) UnmarshalBinary(b []byte) error {
	if len(b) < nlunix.SizeofIfInfomsg {
		return errInvalidLinkMessage
	}
	m.Family = b[0]
	m.Type = nlenc.Uint16(b[2:4])
	m.Index = nlenc.Uint32(b[4:8])
	m.Flags = nlenc.Uint32(b[8:12])
	m.Change = nlenc.Uint32(b[12:16])

	if len(b) > nlunix.SizeofIfInfomsg {
		attrs, err := parseAttrs(b[nlunix.SizeofIfInfomsg:], maxLinkAttr)
		if err != nil {
			return err
		}
		m.Attributes = attrs
	}
	return nil
}

// maxLinkAttr bounds the link attribute table (spec §4.2 "declared
// maximum"); codes at or beyond it are dropped without failing the parse.
const maxLinkAttr = 64

// linkFlagsFromKernel applies spec §4.4's mapping table from kernel
// interface flags to the abstract LinkFlags bit set.
func linkFlagsFromKernel(kernelFlags uint32) LinkFlags {
	var f LinkFlags
	if kernelFlags&nlunix.IFF_UP != 0 {
		f |= LinkUp
	}
	if kernelFlags&nlunix.IFF_LOOPBACK != 0 {
		f |= LinkLoopback | LinkIgnore
	}
	if kernelFlags&nlunix.IFF_BROADCAST != 0 {
		f |= LinkBroadcast | LinkMulticast
	}
	if kernelFlags&nlunix.IFF_POINTOPOINT != 0 {
		f |= LinkUnnumbered | LinkMulticast
	}
	return f
}

// parseLink implements the link translator of spec §4.4. It mutates the
// daemon's interface table in place via ifaces and returns the published
// record (or nil if the frame was dropped) purely so tests can assert on
// the outcome directly.
func parseLink(msg netlink.Message, scan bool, ifaces InterfaceTable, logger *slog.Logger) *Interface {
	lm := &LinkMessage{}
	if err := lm.UnmarshalBinary(msg.Data); err != nil {
		logger.Error("krtnl: malformed link message", "err", err)
		return nil
	}

	isNew := msg.Header.Type == netlink.HeaderType(nlunix.RTM_NEWLINK)

	name, hasName := lm.Attributes[nlunix.IFLA_IFNAME]
	mtuAttr, hasMTU := lm.Attributes[nlunix.IFLA_MTU]
	if !hasName || len(name.raw) < 2 || !hasMTU || len(mtuAttr.raw) != 4 {
		logger.Error("krtnl: malformed link message: missing IFNAME/MTU attribute", "index", lm.Index)
		return nil
	}

	existing, found := ifaces.ByIndex(lm.Index)

	if !isNew {
		if scan {
			// The scan finalizer purges interfaces absent from the dump;
			// a DELLINK observed mid-scan carries no extra information.
			return nil
		}
		if !found {
			return nil
		}
		down := existing.Clone()
		down.Flags |= LinkAdminDown
		ifaces.Publish(down)
		return down
	}

	var ifc *Interface
	if found {
		ifc = existing.Clone()
	} else {
		ifc = &Interface{Index: lm.Index}
	}
	ifc.Name = name.CString()
	ifc.MTU = mtuAttr.Uint32()
	ifc.Flags = linkFlagsFromKernel(lm.Flags)

	ifaces.Publish(ifc)
	return ifc
}
