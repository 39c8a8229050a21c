package krtnl

import (
	"fmt"
	"log/slog"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"

	nlunix "github.com/krtnl/krtnl/internal/unix"
)

// dumpState is the state of one dump session, keyed by the sequence number
// of the request that started it (spec §3 "Dump session").
type dumpState int

const (
	dumpInFlight dumpState = iota
	dumpTerminatedOK
	dumpTerminatedErr
)

// requestEngine is the request/reply engine of spec §4.3: it owns
// sequence-number assignment for one endpoint and knows how to run a dump
// to completion or perform a single request/ACK exchange.
type requestEngine struct {
	t      *frameTransport
	logger *slog.Logger
	seq    uint32
}

func newRequestEngine(t *frameTransport, logger *slog.Logger) *requestEngine {
	return &requestEngine{t: t, logger: logger}
}

func (e *requestEngine) nextSeq() uint32 {
	e.seq++
	return e.seq
}

// rtgenmsg is the 4-byte body (1-byte address family plus 3 bytes of
// padding) that accompanies a GETLINK/GETADDR/GETROUTE dump request.
func rtgenmsg(family uint8) []byte {
	return []byte{family, 0, 0, 0}
}

// dump issues a dump request for the given rtnetlink command (RTM_GETLINK,
// RTM_GETADDR, or RTM_GETROUTE) and returns a reader over the reply
// stream. The request frame is exactly sizeof(header)+sizeof(rtgenmsg), as
// spec §4.3 requires.
func (e *requestEngine) dump(cmd uint16) (*dumpReader, error) {
	seq := e.nextSeq()
	body := rtgenmsg(nlunix.AF_INET)
	m := netlink.Message{
		Header: netlink.Header{
			Length:   uint32(16 + len(body)),
			Type:     netlink.HeaderType(cmd),
			Flags:    netlink.Request | netlink.Dump,
			Sequence: seq,
			PID:      0,
		},
		Data: body,
	}
	if err := e.t.send(m); err != nil {
		return nil, err
	}
	return &dumpReader{e: e, seq: seq}, nil
}

// dumpReader iterates the reply stream of one dump session until the DONE
// or ERROR sentinel terminates it (spec §3 dump session states, §4.3
// reply stream iteration, §8 invariant 1 and 2).
type dumpReader struct {
	e     *requestEngine
	seq   uint32
	state dumpState
	errno int
}

// Next returns the next non-sentinel frame of the dump. ok is false once
// the session has terminated; the caller should stop calling Next and
// inspect Err.
func (d *dumpReader) Next() (netlink.Message, bool, error) {
	if d.state != dumpInFlight {
		return netlink.Message{}, false, nil
	}
	for {
		m, err := d.e.t.nextFrame()
		if err != nil {
			d.state = dumpTerminatedErr
			return netlink.Message{}, false, err
		}
		if m.Header.Sequence != d.seq {
			d.e.logger.Warn("krtnl: ignoring out of sequence netlink reply",
				"got", m.Header.Sequence, "want", d.seq)
			continue
		}
		switch m.Header.Type {
		case netlink.Done:
			d.state = dumpTerminatedOK
			return netlink.Message{}, false, nil
		case netlink.Error:
			errno, err := parseErrno(m.Data)
			if err != nil {
				d.state = dumpTerminatedErr
				return netlink.Message{}, false, err
			}
			if errno == 0 {
				// An ACK in the middle of a dump stream would be unusual,
				// but treat it the same as DONE: no more frames follow.
				d.state = dumpTerminatedOK
				return netlink.Message{}, false, nil
			}
			d.e.logger.Warn("krtnl: netlink dump terminated with error", "errno", errno)
			d.state = dumpTerminatedErr
			d.errno = errno
			return netlink.Message{}, false, fmt.Errorf("krtnl: netlink error %d", errno)
		default:
			return m, true, nil
		}
	}
}

// Err returns the errno a TERMINATED_ERR session ended with, or 0.
func (d *dumpReader) Err() int { return d.errno }

// parseErrno extracts the embedded errno from a NLMSG_ERROR frame's
// payload. The payload begins with a native-endian int32 error code
// (0 means ACK) followed by the request header being acknowledged.
func parseErrno(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("krtnl: truncated netlink error message")
	}
	return int(int32(nlenc.Uint32(data[:4]))), nil
}

// singleExchange implements spec §4.3 "Single exchange": send one frame
// expecting exactly one ERROR frame in reply (used for route installs).
// Any non-ERROR frame received in between is a protocol anomaly: it is
// logged but tolerated, and the loop keeps waiting for the ERROR frame.
func (e *requestEngine) singleExchange(typ uint16, flags netlink.HeaderFlags, body []byte) (int, error) {
	seq := e.nextSeq()
	m := netlink.Message{
		Header: netlink.Header{
			Length:   uint32(16 + len(body)),
			Type:     netlink.HeaderType(typ),
			Flags:    netlink.Request | netlink.Acknowledge | flags,
			Sequence: seq,
			PID:      0,
		},
		Data: body,
	}
	if err := e.t.send(m); err != nil {
		return 0, err
	}

	for {
		reply, err := e.t.nextFrame()
		if err != nil {
			return 0, err
		}
		if reply.Header.Sequence != seq {
			e.logger.Warn("krtnl: ignoring out of sequence netlink reply",
				"got", reply.Header.Sequence, "want", seq)
			continue
		}
		if reply.Header.Type != netlink.Error {
			e.logger.Warn("krtnl: unexpected reply during netlink exchange", "type", reply.Header.Type)
			continue
		}
		return parseErrno(reply.Data)
	}
}
