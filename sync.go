package krtnl

import (
	"errors"
	"log/slog"

	"github.com/mdlayher/netlink"

	nlunix "github.com/krtnl/krtnl/internal/unix"
)

// Synchronizer is the core object spec §6.5 names: constructed once by the
// embedding daemon and held for the process lifetime, it owns the sync and
// (once started) multicast endpoints and exposes exactly the five entry
// points the daemon drives it through.
type Synchronizer struct {
	logger *slog.Logger

	syncTransport *frameTransport
	engine        *requestEngine
	emitter       *Emitter

	asyncTransport *frameTransport
	dispatcher     *Dispatcher

	cfg       *Config
	ifaces    InterfaceTable
	neighbors NeighborTable
	rib       RIB
	temp      *TempInterfaceCache
}

// NewSynchronizer opens the synchronous endpoint and wires the translators
// to the daemon's collaborators. The multicast endpoint is not opened
// until StartAsync is called.
func NewSynchronizer(cfg *Config, ifaces InterfaceTable, neighbors NeighborTable, rib RIB) (*Synchronizer, error) {
	logger := cfg.logger()

	c, err := dialSync(cfg)
	if err != nil {
		return nil, err
	}
	transport := newFrameTransport(c, logger)
	engine := newRequestEngine(transport, logger)

	return &Synchronizer{
		logger:        logger,
		syncTransport: transport,
		engine:        engine,
		emitter:       newEmitter(engine, logger),
		cfg:           cfg,
		ifaces:        ifaces,
		neighbors:     neighbors,
		rib:           rib,
		temp:          NewTempInterfaceCache(),
	}, nil
}

// scanDump runs one dump to completion, dispatching every frame whose type
// is in want to handle. Frames of any other type are debug-logged rather
// than dropped silently, per original_source's nl_scan_ifaces "Unknown
// packet received" diagnostic.
func (s *Synchronizer) scanDump(cmd uint16, want []netlink.HeaderType, handle func(netlink.Message)) error {
	reader, err := s.engine.dump(cmd)
	if err != nil {
		return err
	}
	for {
		m, ok, err := reader.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		matched := false
		for _, t := range want {
			if m.Header.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			s.logger.Debug("krtnl: unknown message type during scan", "type", m.Header.Type)
			continue
		}
		handle(m)
	}
}

var linkMsgTypes = []netlink.HeaderType{
	netlink.HeaderType(nlunix.RTM_NEWLINK),
	netlink.HeaderType(nlunix.RTM_DELLINK),
}

var addrMsgTypes = []netlink.HeaderType{
	netlink.HeaderType(nlunix.RTM_NEWADDR),
	netlink.HeaderType(nlunix.RTM_DELADDR),
}

var routeMsgTypes = []netlink.HeaderType{
	netlink.HeaderType(nlunix.RTM_NEWROUTE),
	netlink.HeaderType(nlunix.RTM_DELROUTE),
}

// ScanInterfaces performs the two-phase interface scan BIRD's krt_if_scan
// runs: a GETLINK dump followed by a GETADDR dump, both inside one
// begin/end scan bracket so the interface table sees them as a single
// atomic rebuild.
func (s *Synchronizer) ScanInterfaces() error {
	s.ifaces.BeginScan()
	defer s.ifaces.EndScan()

	if err := s.scanDump(nlunix.RTM_GETLINK, linkMsgTypes, func(m netlink.Message) {
		parseLink(m, true, s.ifaces, s.logger)
	}); err != nil {
		return err
	}
	return s.scanDump(nlunix.RTM_GETADDR, addrMsgTypes, func(m netlink.Message) {
		parseAddress(m, true, s.ifaces, s.logger)
	})
}

// ScanRoutes performs a GETROUTE dump, handing every accepted route to the
// RIB's scan sink.
func (s *Synchronizer) ScanRoutes() error {
	return s.scanDump(nlunix.RTM_GETROUTE, routeMsgTypes, func(m netlink.Message) {
		parseRoute(m, true, s.ifaces, s.neighbors, s.temp, s.rib, s.logger)
	})
}

// NotifyRouteChange installs old/new according to spec §4.7's
// update-in-place logic.
func (s *Synchronizer) NotifyRouteChange(old, new *Route) error {
	return s.emitter.NotifyChange(old, new)
}

// StartAsync opens the multicast endpoint, subscribed to the fixed group
// set of spec §6.2, and returns a Dispatcher. The embedding daemon's event
// loop is responsible for calling Dispatcher.Poll whenever the endpoint is
// readable — that loop is an external collaborator per §1 and is not
// reimplemented here.
func (s *Synchronizer) StartAsync() (*Dispatcher, error) {
	c, err := dialMulticast(s.cfg, asyncGroups)
	if err != nil {
		return nil, err
	}
	s.asyncTransport = newFrameTransport(c, s.logger)
	s.dispatcher = newDispatcher(s.asyncTransport, s.syncTransport, s.ifaces, s.neighbors, s.temp, s.rib, s.logger)
	return s.dispatcher, nil
}

// Shutdown releases both endpoints. It is safe to call even if StartAsync
// was never called.
func (s *Synchronizer) Shutdown() error {
	var errs []error
	if s.syncTransport != nil {
		if err := s.syncTransport.close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.asyncTransport != nil {
		if err := s.asyncTransport.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
