package noded

import (
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/fabricssa/ssanode/internal/smdb"
	"github.com/fabricssa/ssanode/internal/streaming"
	"github.com/fabricssa/ssanode/internal/transport"
	"github.com/fabricssa/ssanode/pkg/logger"
)

// downstreamState holds the process-wide published parent-database
// pointer §9 names: "the pointer to the currently published parent
// database (used by downstream when no per-connection DB has been
// received yet)". It is owned by the downstream worker and updated
// exactly once per epoch by the writer's socketpair message (§5).
type downstreamState struct {
	fallback atomic.Pointer[smdb.Database]
	fd       int32 // monotonic synthetic connection identity (net.Conn has no fd)
}

func (d *downstreamState) nextFD() int {
	return int(atomic.AddInt32(&d.fd, 1))
}

// runDownstream is the downstream worker's event loop: it owns the
// listening endpoints and every inbound child connection, and drives the
// server side of the streaming protocol (§4.3 "Server (downstream)
// sequence").
func runDownstream(s *Service, done chan struct{}) {
	defer close(done)
	bus := s.ctrlDownB
	log := s.Logger
	state := &downstreamState{}

	if err := bus.Send(NewCtrlAck("downstream")); err != nil {
		if log != nil {
			log.Errorf("downstream: send ack: %v", err)
		}
		return
	}

	if s.accessDownB != nil {
		go downstreamAccessLoop(s, state, s.accessDownB)
	}
	if s.upDownB != nil {
		go downstreamUpstreamLoop(state, s.upDownB)
	}

	var listeners []transport.StreamListener

	for {
		msg, err := bus.Recv()
		if err != nil {
			if err != io.EOF && log != nil {
				log.Errorf("downstream: recv: %v", err)
			}
			closeListeners(listeners)
			return
		}

		switch msg.Type {
		case MsgCtrlExit:
			closeListeners(listeners)
			return

		case MsgListen:
			ls, err := openListeners(s)
			if err != nil {
				if log != nil {
					log.Errorf("downstream: listen: %v", err)
				}
				continue
			}
			listeners = ls
			for _, ln := range listeners {
				go acceptLoop(s, state, ln, log)
			}
		}
	}
}

func openListeners(s *Service) ([]transport.StreamListener, error) {
	if s.Listener == nil {
		return nil, nil
	}
	parentChild, err := s.Listener(transport.PortParentChild)
	if err != nil {
		return nil, err
	}
	out := []transport.StreamListener{parentChild}
	if s.Role.RunsAccess() {
		consumer, err := s.Listener(transport.PortAccessConsumer)
		if err != nil {
			parentChild.Close()
			return nil, err
		}
		out = append(out, consumer)
	}
	return out, nil
}

func closeListeners(ls []transport.StreamListener) {
	for _, ln := range ls {
		ln.Close()
	}
}

// acceptLoop runs the CONNECTED (server accept) transition (§4.4) for
// one listener: each accepted connection gets its own fd-to-connection
// slot and its own streaming.Server session. On an access-role node it
// also tells access a child has connected and needs a derived database
// (§2 data flow: "downstream → access").
func acceptLoop(s *Service, state *downstreamState, ln transport.StreamListener, log *logger.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if log != nil && !errors.Is(err, net.ErrClosed) {
				log.Errorf("downstream: accept: %v", err)
			}
			return
		}
		fd := state.nextFD()
		s.ConnSlotFor(fd)
		if s.accessDownB != nil {
			_ = s.accessDownB.Send(NewConnDone(ConnDonePayload{Direction: "downstream", FD: fd}))
		}
		go serveConn(s, state, fd, conn)
	}
}

func serveConn(s *Service, state *downstreamState, fd int, conn net.Conn) {
	defer conn.Close()
	defer s.DropConnSlot(fd)

	srv := streaming.NewServer(currentDBFor(s, state, fd), s.Logger)
	_ = srv.Serve(conn)
}

// currentDBFor resolves which database a freshly accepted connection is
// served from: its own derived database if access has already attached
// one, otherwise the process-wide fallback (§5, §8 S5).
func currentDBFor(s *Service, state *downstreamState, fd int) *smdb.Database {
	slot := s.ConnSlotFor(fd)
	if slot.DB != nil {
		return slot.DB
	}
	return state.fallback.Load()
}

// downstreamAccessLoop applies DB_UPDATE messages from access: a derived
// database scoped to one connection (§8 S5) attaches to that connection's
// slot, so "a subsequent QUERY_DB_DEF from that peer is served from the
// derived DB, not the fallback parent DB."
func downstreamAccessLoop(s *Service, state *downstreamState, bus *Bus) {
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
		if p.ForFD >= 0 {
			slot := s.ConnSlotFor(p.ForFD)
			slot.DB = p.DB
			slot.Derived = true
		} else {
			state.fallback.Store(p.DB)
		}
	}
}

// downstreamUpstreamLoop applies DB_UPDATE messages forwarded from
// upstream on distribution-role nodes (§2: "upstream ⇆ downstream ...
// forwarded database refreshes"), replacing the process-wide fallback
// pointer the downstream worker owns (§9).
func downstreamUpstreamLoop(state *downstreamState, bus *Bus) {
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
		state.fallback.Store(p.DB)
	}
}
