package krtnl

import (
	"errors"
	"log/slog"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"

	nlunix "github.com/krtnl/krtnl/internal/unix"
)

// errInvalidAddressMessage is returned when an AddressMessage's fixed
// header is too short to be a well-formed ifaddrmsg.
var errInvalidAddressMessage = errors.New("krtnl: address message is invalid or too short")

// AddressMessage is the wire representation of struct ifaddrmsg, the fixed
// header of a RTM_NEWADDR/RTM_DELADDR/RTM_GETADDR frame.
type AddressMessage struct {
	Family    uint8
	Prefixlen uint8
	Flags     uint8
	Scope     uint8
	Index     uint32

	Attributes attrTable
}

func (m *AddressMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, nlunix.SizeofIfAddrmsg)
	b[0] = m.Family
	b[1] = m.Prefixlen
	b[2] = m.Flags
	b[3] = m.Scope
	nlenc.PutUint32(b[4:8], m.Index)
	return b, nil
}

func (m *AddressMessage) UnmarshalBinary(b []byte) error {
	if len(b) < nlunix.SizeofIfAddrmsg {
		return errInvalidAddressMessage
	}
	m.Family = b[0]
	m.Prefixlen = b[1]
	m.Flags = b[2]
	m.Scope = b[3]
	m.Index = nlenc.Uint32(b[4:8])

	if len(b) > nlunix.SizeofIfAddrmsg {
		attrs, err := parseAttrs(b[nlunix.SizeofIfAddrmsg:], maxAddressAttr)
		if err != nil {
			return err
		}
		m.Attributes = attrs
	}
	return nil
}

// maxAddressAttr bounds the address attribute table (spec §4.2).
const maxAddressAttr = 16

// apply folds an AddressBinding into a clone of its parent interface, the
// way BIRD's nl_parse_addr overlays struct iface f before if_update rather
// than publishing the binding as a record of its own.
func (b *AddressBinding) apply() *Interface {
	ifc := b.Interface.Clone()
	ifc.IP = b.Local
	ifc.PrefixLen = b.PrefixLen
	ifc.Prefix = b.Prefix
	ifc.Broadcast = b.Broadcast
	ifc.Opposite = b.Opposite
	return ifc
}

// parseAddress implements the address translator of spec §4.5. It
// publishes the merged interface record through ifaces and returns the
// binding it parsed purely so tests can assert on the outcome (nil if the
// frame was dropped rather than published).
func parseAddress(msg netlink.Message, scan bool, ifaces InterfaceTable, logger *slog.Logger) *AddressBinding {
	am := &AddressMessage{}
	if err := am.UnmarshalBinary(msg.Data); err != nil {
		logger.Error("krtnl: malformed address message", "err", err)
		return nil
	}

	if am.Family != nlunix.AF_INET {
		logger.Debug("krtnl: ignoring non-IPv4 address message", "family", am.Family)
		return nil
	}

	if am.Flags&nlunix.IFA_F_SECONDARY != 0 {
		logger.Debug("krtnl: ignoring secondary address", "index", am.Index)
		return nil
	}

	parent, found := ifaces.ByIndex(am.Index)
	if !found {
		logger.Error("krtnl: address message references unknown interface", "index", am.Index)
		return nil
	}

	isNew := msg.Header.Type == netlink.HeaderType(nlunix.RTM_NEWADDR)

	unnumbered := parent.Flags.Has(LinkUnnumbered)
	if isNew && !validPrefixLen(am.Prefixlen, unnumbered) {
		logger.Error("krtnl: invalid address prefix length, treating as delete",
			"index", am.Index, "pxlen", am.Prefixlen)
		isNew = false
	}

	if !isNew {
		b := &AddressBinding{Interface: parent}
		ifaces.Publish(b.apply())
		return b
	}

	addr, hasAddr := am.Attributes[nlunix.IFA_ADDRESS]
	local, hasLocal := am.Attributes[nlunix.IFA_LOCAL]
	if !hasAddr || !hasLocal {
		logger.Error("krtnl: malformed address message: missing ADDRESS/LOCAL attribute", "index", am.Index)
		return nil
	}

	b := &AddressBinding{
		Interface: parent,
		Local:     local.IPv4(),
		PrefixLen: am.Prefixlen,
	}
	b.Prefix = b.Local.Mask(netmask4(b.PrefixLen))

	switch {
	case unnumbered:
		// Point-to-point: the peer's address (IFA_ADDRESS, distinct from
		// IFA_LOCAL on such links) is both the broadcast and opposite
		// endpoint value.
		remote := addr.IPv4()
		b.Broadcast = remote
		b.Opposite = remote
	case parent.Flags.Has(LinkBroadcast):
		if brd, ok := am.Attributes[nlunix.IFA_BROADCAST]; ok {
			b.Broadcast = brd.IPv4()
		}
	default:
		// NBMA: neither a broadcast nor an opposite-endpoint address applies.
	}

	ifaces.Publish(b.apply())
	return b
}
