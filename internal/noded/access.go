package noded

import (
	"io"

	"github.com/fabricssa/ssanode/internal/smdb"
)

// runAccess is the access worker's event loop (§2, §4.5: "only on nodes
// carrying the access role"): it tracks the latest parent database and,
// for every child downstream reports as connected, computes that child's
// derived database and publishes it back to downstream (§8 S5).
func runAccess(s *Service, done chan struct{}) {
	defer close(done)
	bus := s.ctrlAccessB
	log := s.Logger

	if err := bus.Send(NewCtrlAck("access")); err != nil {
		if log != nil {
			log.Errorf("access: send ack: %v", err)
		}
		return
	}

	var parent *smdb.Database
	parentCh := make(chan *smdb.Database, 1)
	connCh := make(chan ConnDonePayload, 16)
	ctrlCh := ctrlChan(bus)

	go accessUpstreamLoop(s.accessUpA, parentCh)
	go accessDownstreamConnLoop(s.accessDownA, connCh)

	for {
		select {
		case msg, ok := <-ctrlCh:
			if !ok {
				return
			}
			if msg.Type == MsgCtrlExit {
				return
			}

		case db := <-parentCh:
			parent = db

		case cd := <-connCh:
			if parent == nil || s.Derived == nil {
				continue
			}
			derived, err := s.Derived.Compute(parent, cd.PeerGID)
			if err != nil {
				if log != nil {
					log.Errorf("access: compute derived db for %x: %v", cd.PeerGID, err)
				}
				continue
			}
			update := NewDBUpdate(DBUpdatePayload{DB: derived, ForFD: cd.FD, Derived: true})
			if err := s.accessDownA.Send(update); err != nil && log != nil {
				log.Errorf("access: publish derived db: %v", err)
			}
		}
	}
}

// ctrlChan adapts bus.Recv's blocking call into a channel so it can be
// selected alongside the parent/connection channels without a dedicated
// goroutine per call.
func ctrlChan(bus *Bus) <-chan Message {
	ch := make(chan Message)
	go func() {
		defer close(ch)
		for {
			msg, err := bus.Recv()
			if err != nil {
				return
			}
			ch <- msg
			if msg.Type == MsgCtrlExit {
				return
			}
		}
	}()
	return ch
}

func accessUpstreamLoop(bus *Bus, out chan<- *smdb.Database) {
	if bus == nil {
		return
	}
	for {
		msg, err := bus.Recv()
		if err != nil {
			return
		}
		if msg.Type != MsgDBUpdate {
			continue
		}
		var p DBUpdatePayload
		if err := msg.Decode(&p); err != nil || p.DB == nil {
			continue
		}
		out <- p.DB
	}
}

func accessDownstreamConnLoop(bus *Bus, out chan<- ConnDonePayload) {
	if bus == nil {
		return
	}
	for {
		msg, err := bus.Recv()
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}
		if msg.Type != MsgConnDone {
			continue
		}
		var p ConnDonePayload
		if err := msg.Decode(&p); err != nil {
			continue
		}
		out <- p
	}
}
