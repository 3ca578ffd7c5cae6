package noded

import (
	"fmt"
	"sync"
	"time"

	"github.com/fabricssa/ssanode/internal/smdb"
	"github.com/fabricssa/ssanode/internal/transport"
	"github.com/fabricssa/ssanode/pkg/config"
	"github.com/fabricssa/ssanode/pkg/health"
	"github.com/fabricssa/ssanode/pkg/logger"
)

// FDTableCapacity bounds the per-fd-to-connection map's pre-sized
// capacity hint, standing in for the reference implementation's
// FD_SETSIZE-wide flat array (§3 Service, §9 "prefer a sparse map keyed
// by the transport handle; retain O(1) access" — a Go map already is
// that sparse O(1) structure, so this is purely a size hint for New).
const FDTableCapacity = 1024

// Service owns one fabric port binding and one logical database id (§3
// Service, §4.5). It wires its four workers' socketpairs and drives
// their ordered startup.
type Service struct {
	Port    *PortState
	PortIdx int
	DBID    uint64
	Role    Role

	Logger        *logger.Logger
	Config        *config.Config
	HealthChecker *health.Checker

	Dialer   transport.StreamDialer
	Listener func(port transport.WellKnownPort) (transport.StreamListener, error)
	MAD      transport.MADTransport
	Derived  DerivedDBComputer

	// Socketpair topology (§4.5): only the endpoints the enabled roles
	// need are allocated; the rest stay nil.
	ctrlUpA, ctrlUpB         *Bus // sock_upctrl
	ctrlDownA, ctrlDownB     *Bus // sock_downctrl
	ctrlAccessA, ctrlAccessB *Bus // sock_accessctrl
	accessUpA, accessUpB     *Bus // sock_accessup
	accessDownA, accessDownB *Bus // sock_accessdown
	upDownA, upDownB         *Bus // sock_updown

	mu      sync.Mutex
	fdConns map[int]*ConnSlot

	stopOnce sync.Once
	stopCh   chan struct{}
}

// ConnSlot is one entry of the per-fd-to-connection map (§3 Service,
// §9 fd_to_conn).
type ConnSlot struct {
	PeerGID [16]byte
	Derived bool // true once a per-consumer derived DB has been attached
	DB      *smdb.Database
}

// NewService creates a service bound to port at portIdx, carrying role,
// and allocates exactly the socketpairs its role combination needs.
func NewService(port *PortState, portIdx int, dbid uint64, role Role, log *logger.Logger) *Service {
	svc := &Service{
		Port:          port,
		PortIdx:       portIdx,
		DBID:          dbid,
		Role:          role,
		Logger:        log,
		Config:        config.New(),
		HealthChecker: health.NewChecker(),
		fdConns:       make(map[int]*ConnSlot, FDTableCapacity),
		stopCh:        make(chan struct{}),
	}

	svc.ctrlUpA, svc.ctrlUpB = NewBusPair()
	if role.RunsDownstream() {
		svc.ctrlDownA, svc.ctrlDownB = NewBusPair()
	}
	if role.RunsAccess() {
		svc.ctrlAccessA, svc.ctrlAccessB = NewBusPair()
		svc.accessUpA, svc.accessUpB = NewBusPair()
		svc.accessDownA, svc.accessDownB = NewBusPair()
	}
	if role.Has(RoleDistribution) {
		svc.upDownA, svc.upDownB = NewBusPair()
	}

	port.AddService(svc)
	return svc
}

// ConnSlotFor returns (creating if absent) the fd-to-connection slot for
// fd.
func (s *Service) ConnSlotFor(fd int) *ConnSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.fdConns[fd]
	if !ok {
		slot = &ConnSlot{}
		s.fdConns[fd] = slot
	}
	return slot
}

// DropConnSlot removes fd's entry, releasing its database reference
// (§4.4 CLOSED: "buffers are freed").
func (s *Service) DropConnSlot(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fdConns, fd)
}

// Start launches the service's workers in the fixed order §4.5 specifies
// — upstream, then downstream (if any server role), then access (if the
// access role) — blocking on each worker's CTRL_ACK before starting the
// next, so a failing worker unwinds its predecessors.
func (s *Service) Start() error {
	upstreamDone := make(chan struct{})
	go runUpstream(s, upstreamDone)
	if err := s.awaitAck(s.ctrlUpA, "upstream"); err != nil {
		close(s.stopCh)
		return fmt.Errorf("noded: start upstream: %w", err)
	}

	if s.Role.RunsDownstream() {
		downstreamDone := make(chan struct{})
		go runDownstream(s, downstreamDone)
		if err := s.awaitAck(s.ctrlDownA, "downstream"); err != nil {
			s.Stop()
			return fmt.Errorf("noded: start downstream: %w", err)
		}
	}

	if s.Role.RunsAccess() {
		accessDone := make(chan struct{})
		go runAccess(s, accessDone)
		if err := s.awaitAck(s.ctrlAccessA, "access"); err != nil {
			s.Stop()
			return fmt.Errorf("noded: start access: %w", err)
		}
	}

	return nil
}

func (s *Service) awaitAck(bus *Bus, worker string) error {
	type result struct {
		msg Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := bus.Recv()
		ch <- result{msg, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("await %s ack: %w", worker, r.err)
		}
		if r.msg.Type != MsgCtrlAck {
			return fmt.Errorf("await %s ack: got %s instead", worker, r.msg.Type)
		}
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("await %s ack: timed out", worker)
	}
}

// Stop sends CTRL_EXIT to every active worker over its ctrl socket and
// closes the service's own stop channel (§5: "A CTRL_EXIT message causes
// each worker to drain pending state, close connections, and return from
// its loop").
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		exit := NewCtrlExit("service stop")
		_ = s.ctrlUpA.Send(exit)
		if s.ctrlDownA != nil {
			_ = s.ctrlDownA.Send(exit)
		}
		if s.ctrlAccessA != nil {
			_ = s.ctrlAccessA.Send(exit)
		}
		close(s.stopCh)
	})
}

// Validate reports whether the socketpair topology matches the service's
// role: every endpoint a running worker needs must be allocated. Wired as
// a health check at startup (§4.5's socketpair topology is otherwise only
// checked implicitly by a worker blocking forever on a nil bus).
func (s *Service) Validate() error {
	if s.ctrlUpA == nil || s.ctrlUpB == nil {
		return fmt.Errorf("noded: upstream control bus not allocated")
	}
	if s.Role.RunsDownstream() && (s.ctrlDownA == nil || s.ctrlDownB == nil) {
		return fmt.Errorf("noded: downstream control bus not allocated for role %s", s.Role)
	}
	if s.Role.RunsAccess() && (s.ctrlAccessA == nil || s.ctrlAccessB == nil) {
		return fmt.Errorf("noded: access control bus not allocated for role %s", s.Role)
	}
	return nil
}

// DerivedDBComputer is the domain-specific derived-database computation
// collaborator (§1: "we specify only the interface it must satisfy"):
// given the current parent database and a consumer's identity, produce
// that consumer's per-connection database (the PRDB, GLOSSARY).
type DerivedDBComputer interface {
	Compute(parent *smdb.Database, consumerGID [16]byte) (*smdb.Database, error)
}
