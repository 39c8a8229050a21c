package krtnl

import (
	"bytes"
	"fmt"
	"net"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

// errAttrOverflow is returned by attrWriter.Finish when the encoded
// attribute region would not fit in the caller's send buffer. Per spec this
// is fatal: it indicates an undersized send buffer, not a malformed
// message.
var errAttrOverflow = fmt.Errorf("krtnl: attribute region overflows send buffer")

// attrValue is a view over the payload of one parsed TLV attribute.
type attrValue struct {
	raw []byte
}

func (v attrValue) Bytes() []byte { return v.raw }

// CString decodes the payload as a NUL-terminated C string, as used by
// IFLA_IFNAME and IFA_LABEL.
func (v attrValue) CString() string {
	b := v.raw
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Uint32 decodes the payload as a native-endian 32-bit integer, as used by
// every rtnetlink scalar attribute (RTA_OIF, RTA_PRIORITY, IFLA_MTU, ...).
func (v attrValue) Uint32() uint32 {
	if len(v.raw) < 4 {
		return 0
	}
	return nlenc.Uint32(v.raw)
}

// IPv4 decodes the payload as a 4-byte IPv4 address in network byte order
// and returns it in host representation (net.IP, big-endian bytes — the
// network/host distinction here is about the wire's use of the address as
// a 32-bit integer in nl_parse_addr/nl_parse_route's ipa_ntoh, not about
// the byte slice itself).
func (v attrValue) IPv4() net.IP {
	if len(v.raw) != 4 {
		return nil
	}
	ip := make(net.IP, 4)
	copy(ip, v.raw)
	return ip
}

// attrTable is the TLV table of spec §3: a sparse mapping from attribute
// code to a view over its payload. Absent codes read as "missing" via the
// zero value / comma-ok idiom; codes beyond the declared maximum are
// dropped during parseAttrs and never appear here.
type attrTable map[uint16]attrValue

func (t attrTable) has(code uint16) bool {
	_, ok := t[code]
	return ok
}

// parseAttrs parses the TLV region of a wire record into an attrTable.
// Codes greater than or equal to max are silently dropped (not stored, not
// an error) per spec §4.2. The underlying alignment and bounds checking is
// delegated to mdlayher/netlink's AttributeDecoder, which already
// implements the rtnetlink TLV sublanguage (4-byte aligned headers,
// length-includes-header semantics) exactly; an overshooting final TLV
// surfaces as ad.Err() and fails the whole parse, matching "the parse
// fails (logged, record skipped)".
func parseAttrs(b []byte, max uint16) (attrTable, error) {
	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		return nil, err
	}

	t := make(attrTable)
	for ad.Next() {
		code := ad.Type()
		if code >= max {
			continue
		}
		raw := ad.Bytes()
		cp := make([]byte, len(raw))
		copy(cp, raw)
		t[code] = attrValue{raw: cp}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// attrWriter is the bounded TLV writer of spec §4.2: it appends TLVs to a
// partially constructed frame and reports overflow against a hard bound
// rather than growing without limit, mirroring BIRD's nl_add_attr_u32 /
// nl_add_attr_ipa "bug() on overflow" contract with a returned error in
// place of a panic.
type attrWriter struct {
	ae  *netlink.AttributeEncoder
	max int
}

func newAttrWriter(max int) *attrWriter {
	return &attrWriter{ae: netlink.NewAttributeEncoder(), max: max}
}

func (w *attrWriter) putUint32(code uint16, v uint32) {
	w.ae.Uint32(code, v)
}

// putIPv4 appends an IPv4 address attribute, performing the
// host-to-network byte order conversion BIRD's ipa_hton performs before
// nl_add_attr_ipa copies the address into the frame.
func (w *attrWriter) putIPv4(code uint16, ip net.IP) {
	v4 := ip.To4()
	if v4 == nil {
		v4 = make(net.IP, 4)
	}
	w.ae.Bytes(code, v4)
}

func (w *attrWriter) putBytes(code uint16, b []byte) {
	w.ae.Bytes(code, b)
}

// Finish encodes the accumulated attributes and checks the result against
// the writer's bound. headerUsed is the number of bytes already consumed
// by the frame header and fixed-size body, so the check reflects the whole
// frame rather than just the TLV region.
func (w *attrWriter) Finish(headerUsed int) ([]byte, error) {
	b, err := w.ae.Encode()
	if err != nil {
		return nil, err
	}
	if headerUsed+len(b) > w.max {
		return nil, errAttrOverflow
	}
	return b, nil
}
