package krtnl

import (
	"log/slog"

	"github.com/mdlayher/netlink"

	nlunix "github.com/krtnl/krtnl/internal/unix"
)

// asyncGroups is the fixed multicast subscription of spec §4.8/§6.2.
const asyncGroups = nlunix.RTMGRP_LINK | nlunix.RTMGRP_IPV4_IFADDR | nlunix.RTMGRP_IPV4_ROUTE

// Dispatcher is the asynchronous dispatcher of spec §4.8: it owns the
// multicast endpoint and, on each Poll, drains one recvmsg's worth of
// unsolicited notifications to the three record translators with scan set
// to false.
type Dispatcher struct {
	transport *frameTransport
	sync      *frameTransport // the sync endpoint's transport, reset before every poll

	ifaces    InterfaceTable
	neighbors NeighborTable
	temp      *TempInterfaceCache
	rib       RIB

	logger *slog.Logger
}

func newDispatcher(transport, sync *frameTransport, ifaces InterfaceTable, neighbors NeighborTable, temp *TempInterfaceCache, rib RIB, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		sync:      sync,
		ifaces:    ifaces,
		neighbors: neighbors,
		temp:      temp,
		rib:       rib,
		logger:    logger,
	}
}

// Poll performs one recvmsg-equivalent read of the multicast endpoint and
// dispatches every frame it contains. It is meant to be called by the
// daemon's event loop whenever the multicast endpoint is readable.
func (d *Dispatcher) Poll() error {
	// Clear the sync endpoint's buffered cursor first: the two paths must
	// never interleave a half-read dump buffer with async frames (spec
	// §4.8, original_source nl_async_hook's nl_last_hdr reset).
	if d.sync != nil {
		d.sync.reset()
	}

	frames, err := d.transport.pollOnce()
	if err != nil {
		return err
	}

	for _, m := range frames {
		switch m.Header.Type {
		case netlink.HeaderType(nlunix.RTM_NEWLINK), netlink.HeaderType(nlunix.RTM_DELLINK):
			parseLink(m, false, d.ifaces, d.logger)
		case netlink.HeaderType(nlunix.RTM_NEWADDR), netlink.HeaderType(nlunix.RTM_DELADDR):
			parseAddress(m, false, d.ifaces, d.logger)
		case netlink.HeaderType(nlunix.RTM_NEWROUTE), netlink.HeaderType(nlunix.RTM_DELROUTE):
			parseRoute(m, false, d.ifaces, d.neighbors, d.temp, d.rib, d.logger)
		default:
			d.logger.Debug("krtnl: ignoring unknown async message type", "type", m.Header.Type)
		}
	}
	return nil
}
