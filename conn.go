package krtnl

import (
	"fmt"
	"log/slog"

	"github.com/mdlayher/netlink"

	nlunix "github.com/krtnl/krtnl/internal/unix"
)

// conn is the subset of *netlink.Conn the engine depends on. Declaring it
// as an interface, rather than depending on *netlink.Conn directly, lets
// tests drive the engine with a synthetic socket that replays canned frame
// sequences instead of opening a real kernel socket.
type conn interface {
	Close() error
	Send(m netlink.Message) (netlink.Message, error)
	Receive() ([]netlink.Message, error)
}

var _ conn = (*netlink.Conn)(nil)

// Config configures the endpoints a Synchronizer opens. A nil *Config (or
// a nil Logger field) uses slog.Default(); the embedding daemon owns CLI
// flags and file-based configuration and passes the resolved values in.
type Config struct {
	Logger *slog.Logger

	// NetlinkConfig is passed through to the underlying mdlayher/netlink
	// dial for the synchronous endpoint. Most callers leave this nil.
	NetlinkConfig *netlink.Config
}

func (c *Config) logger() *slog.Logger {
	if c == nil || c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Config) netlinkConfig() *netlink.Config {
	if c == nil {
		return nil
	}
	return c.NetlinkConfig
}

// dialSync opens the synchronous route-netlink endpoint, bound with a
// kernel-assigned port (the zero value of Config.NetlinkConfig leaves
// port assignment to the kernel, as spec §4.1 requires).
func dialSync(cfg *Config) (conn, error) {
	c, err := netlink.Dial(nlunix.NETLINK_ROUTE, cfg.netlinkConfig())
	if err != nil {
		return nil, fmt.Errorf("krtnl: dial sync netlink socket: %w", err)
	}
	return c, nil
}

// dialMulticast opens the asynchronous endpoint, subscribed to the given
// multicast groups (a bitmask of RTMGRP_* values).
func dialMulticast(cfg *Config, groups uint32) (conn, error) {
	mcCfg := &netlink.Config{Groups: groups}
	if base := cfg.netlinkConfig(); base != nil {
		*mcCfg = *base
		mcCfg.Groups = groups
	}
	c, err := netlink.Dial(nlunix.NETLINK_ROUTE, mcCfg)
	if err != nil {
		return nil, fmt.Errorf("krtnl: dial multicast netlink socket: %w", err)
	}
	return c, nil
}

// frameTransport implements spec §4.1: whole-message send/receive over one
// datagram endpoint, with a "next message in buffer" iterator that drains
// everything a single recvmsg returned before issuing another. The
// 2048-byte receive buffer itself is owned by mdlayher/netlink's Conn;
// frameTransport is responsible for the policy layered on top of it: drop
// non-kernel frames, and surface truncation/transmit failures as fatal
// errors rather than swallowing them.
type frameTransport struct {
	c      conn
	logger *slog.Logger
	queue  []netlink.Message
}

func newFrameTransport(c conn, logger *slog.Logger) *frameTransport {
	return &frameTransport{c: c, logger: logger}
}

// send transmits a fully formed frame. Per spec, failure to transmit is
// fatal: the kernel interface is treated as unusable and the error is
// propagated for the daemon to abort on.
func (t *frameTransport) send(m netlink.Message) error {
	if _, err := t.c.Send(m); err != nil {
		return fmt.Errorf("krtnl: netlink send failed: %w", err)
	}
	return nil
}

// nextFrame returns the next frame from the kernel, refilling the internal
// queue with a fresh recvmsg when exhausted. Frames whose source port is
// non-zero (not from the kernel) are dropped silently at debug level and
// never reach the caller, satisfying invariant 3 in spec §8.
func (t *frameTransport) nextFrame() (netlink.Message, error) {
	for {
		if len(t.queue) == 0 {
			msgs, err := t.c.Receive()
			if err != nil {
				return netlink.Message{}, fmt.Errorf("krtnl: netlink receive failed: %w", err)
			}
			t.queue = msgs
		}
		if len(t.queue) == 0 {
			// Nothing usable in that datagram; go back for another recvmsg.
			continue
		}
		m := t.queue[0]
		t.queue = t.queue[1:]
		if m.Header.PID != 0 {
			t.logger.Debug("krtnl: dropping non-kernel netlink frame", "pid", m.Header.PID)
			continue
		}
		return m, nil
	}
}

// pollOnce performs exactly one recvmsg on the endpoint and returns every
// kernel-originated frame it contained, silently dropping non-kernel ones.
// Unlike nextFrame, it never issues a second recvmsg to find a kernel
// frame — used by the asynchronous dispatcher, which must perform at most
// one recvmsg per readiness callback (spec §4.8).
func (t *frameTransport) pollOnce() ([]netlink.Message, error) {
	msgs, err := t.c.Receive()
	if err != nil {
		return nil, fmt.Errorf("krtnl: netlink receive failed: %w", err)
	}
	kept := msgs[:0]
	for _, m := range msgs {
		if m.Header.PID != 0 {
			t.logger.Debug("krtnl: dropping non-kernel netlink frame", "pid", m.Header.PID)
			continue
		}
		kept = append(kept, m)
	}
	return kept, nil
}

// reset discards any frames buffered but not yet consumed. Used by the
// asynchronous dispatcher to make sure it never interleaves with a
// half-read synchronous dump buffer (spec §4.8 "clears any buffered
// message state from the synchronous path").
func (t *frameTransport) reset() {
	t.queue = nil
}

func (t *frameTransport) close() error {
	return t.c.Close()
}
