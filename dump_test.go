package krtnl

import (
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

func errorFrame(seq uint32, errno int32) netlink.Message {
	data := make([]byte, 4)
	nlenc.PutUint32(data, uint32(errno))
	return netlink.Message{Header: netlink.Header{Type: netlink.Error, Sequence: seq}, Data: data}
}

func doneFrame(seq uint32) netlink.Message {
	return netlink.Message{Header: netlink.Header{Type: netlink.Done, Sequence: seq}}
}

func dataFrame(seq uint32, payload []byte) netlink.Message {
	return netlink.Message{Header: netlink.Header{Type: 100, Sequence: seq}, Data: payload}
}

// Invariant 1 (spec §8): a well-formed dump reply stream ending in DONE
// yields exactly the non-sentinel frames in order, then terminates.
func TestDumpReaderYieldsFramesThenDone(t *testing.T) {
	fc := &fakeConn{batches: [][]netlink.Message{
		{dataFrame(1, []byte{1}), dataFrame(1, []byte{2})},
		{doneFrame(1)},
	}}
	transport := newFrameTransport(fc, discardLogger())
	engine := newRequestEngine(transport, discardLogger())

	reader, err := engine.dump(uint16(99))
	if err != nil {
		t.Fatalf("dump() error = %v", err)
	}

	var got [][]byte
	for {
		m, ok, err := reader.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if !ok {
			break
		}
		got = append(got, m.Data)
	}
	if len(got) != 2 || string(got[0]) != "\x01" || string(got[1]) != "\x02" {
		t.Fatalf("unexpected frames: %v", got)
	}

	// Further calls after termination return ok=false with no error.
	_, ok, err := reader.Next()
	if ok || err != nil {
		t.Errorf("Next() after DONE = ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

// Invariant 2 (spec §8): a reply whose sequence differs from the active
// request is never yielded.
//
// Concrete scenario 6: stale reply during an active dump.
func TestDumpReaderDropsStaleSequence(t *testing.T) {
	fc := &fakeConn{batches: [][]netlink.Message{
		{dataFrame(0, []byte("stale")), dataFrame(1, []byte("fresh"))},
		{doneFrame(1)},
	}}
	transport := newFrameTransport(fc, discardLogger())
	engine := newRequestEngine(transport, discardLogger())

	reader, err := engine.dump(uint16(99))
	if err != nil {
		t.Fatalf("dump() error = %v", err)
	}

	m, ok, err := reader.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = ok=%v err=%v, want the fresh frame", ok, err)
	}
	if string(m.Data) != "fresh" {
		t.Errorf("Data = %q, want %q", m.Data, "fresh")
	}

	_, ok, err = reader.Next()
	if ok || err != nil {
		t.Errorf("Next() after DONE = ok=%v err=%v", ok, err)
	}
}

func TestDumpReaderTerminatesErr(t *testing.T) {
	fc := &fakeConn{batches: [][]netlink.Message{
		{errorFrame(1, 13)},
	}}
	transport := newFrameTransport(fc, discardLogger())
	engine := newRequestEngine(transport, discardLogger())

	reader, err := engine.dump(uint16(99))
	if err != nil {
		t.Fatalf("dump() error = %v", err)
	}

	_, ok, err := reader.Next()
	if ok || err == nil {
		t.Fatalf("Next() = ok=%v err=%v, want a terminal error", ok, err)
	}
	if reader.Err() != 13 {
		t.Errorf("Err() = %d, want 13", reader.Err())
	}
}

func TestSingleExchangeTolerantOfInterveningFrames(t *testing.T) {
	fc := &fakeConn{batches: [][]netlink.Message{
		{dataFrame(1, []byte("unexpected")), errorFrame(1, 0)},
	}}
	transport := newFrameTransport(fc, discardLogger())
	engine := newRequestEngine(transport, discardLogger())

	errno, err := engine.singleExchange(42, netlink.Create, []byte{0, 0, 0, 0})
	if err != nil {
		t.Fatalf("singleExchange() error = %v", err)
	}
	if errno != 0 {
		t.Errorf("errno = %d, want 0", errno)
	}
}

// Invariant 3 (spec §8): a frame whose source port is non-zero is never
// yielded to any translator/caller.
func TestFrameTransportDropsNonKernelFrames(t *testing.T) {
	fc := &fakeConn{batches: [][]netlink.Message{
		{{Header: netlink.Header{PID: 4242, Sequence: 1}}, doneFrame(1)},
	}}
	transport := newFrameTransport(fc, discardLogger())

	m, err := transport.nextFrame()
	if err != nil {
		t.Fatalf("nextFrame() error = %v", err)
	}
	if m.Header.Type != netlink.Done {
		t.Errorf("nextFrame() = %+v, want the DONE frame (non-kernel frame should be skipped)", m)
	}
}
