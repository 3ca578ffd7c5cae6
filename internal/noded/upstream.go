package noded

import (
	"fmt"
	"io"

	"github.com/fabricssa/ssanode/internal/lifecycle"
	"github.com/fabricssa/ssanode/internal/smdb"
	"github.com/fabricssa/ssanode/internal/streaming"
	"github.com/fabricssa/ssanode/internal/transport"
)

// runUpstream is the upstream worker's event loop: it owns the join
// protocol state machine (§4.4) and the client side of the streaming
// protocol (§4.3) against the one outbound connection to the parent.
func runUpstream(s *Service, done chan struct{}) {
	defer close(done)
	bus := s.ctrlUpB
	log := s.Logger

	if err := bus.Send(NewCtrlAck("upstream")); err != nil {
		if log != nil {
			log.Errorf("upstream: send ack: %v", err)
		}
		return
	}

	join := lifecycle.NewJoin()
	var currentDB *smdb.Database

	for {
		msg, err := bus.Recv()
		if err != nil {
			if err != io.EOF && log != nil {
				log.Errorf("upstream: recv: %v", err)
			}
			return
		}

		switch msg.Type {
		case MsgCtrlExit:
			return

		case MsgCtrlDevEvent:
			var ev CtrlDevEventPayload
			if err := msg.Decode(&ev); err != nil {
				continue
			}
			if ev.Kind == DevEventPortActive {
				if err := startJoin(s, join); err != nil && log != nil {
					log.Errorf("upstream: join start: %v", err)
				}
			}

		case MsgCtrlMAD:
			var p MADPayload
			if err := msg.Decode(&p); err != nil {
				continue
			}
			switch p.Attribute {
			case "MemberRecord":
				if err := join.Acked(); err != nil && log != nil {
					log.Warnf("upstream: %v", err)
				}
			case "InfoRecord":
				if p.Parent == nil {
					continue
				}
				if err := join.GotInfoRecord(*p.Parent); err != nil {
					if log != nil {
						log.Warnf("upstream: %v", err)
					}
					continue
				}
				// Acknowledge the solicited InfoRecord with a GET_RESP,
				// per §4.4.
				ackDG := transport.Datagram{
					Header: transport.NewNodeToNodeHeader(transport.MethodGetResp, transport.AttrInfoRecord, 0),
				}
				if err := s.MAD.Send(ackDG, int(join.Backoff.Current().Milliseconds())); err != nil && log != nil {
					log.Warnf("upstream: ack InfoRecord: %v", err)
				}
			}

		case MsgConnReq:
			var p ConnReqPayload
			if err := msg.Decode(&p); err != nil {
				continue
			}
			db, derr := pullFromParent(s, p.Parent)
			if derr != nil {
				if log != nil {
					log.Errorf("upstream: pull: %v", derr)
				}
				continue
			}
			currentDB = db
			publishParentDB(s, currentDB)
		}
	}
}

// startJoin drives §4.4's "On port becoming active, the upstream worker
// sends a SET MemberRecord" with exponential-backoff retry (§8 S6):
// send failures double join.Backoff up to the 120x cap and are retried
// until a send succeeds.
func startJoin(s *Service, join *lifecycle.Join) error {
	if err := join.Start(); err != nil {
		return err
	}
	memberDG := transport.Datagram{
		Header:  transport.NewNodeToNodeHeader(transport.MethodSet, transport.AttrMemberRecord, uint64(s.PortIdx)<<48),
		Payload: transport.MemberRecord{},
	}
	for {
		err := s.MAD.Send(memberDG, int(join.Backoff.Current().Milliseconds()))
		if err == nil {
			return nil
		}
		if ferr := join.SendFailed(); ferr != nil {
			return ferr
		}
		if s.Logger != nil {
			s.Logger.Warnf("upstream: join send failed (retry %d, next timeout %s): %v",
				join.Backoff.Retries(), join.Backoff.Current(), err)
		}
	}
}

// pullFromParent dials the parent (§4.4 CONNECTING) and runs the client
// streaming sequence to completion (§4.3).
func pullFromParent(s *Service, parent lifecycle.PathRecord) (*smdb.Database, error) {
	if s.Dialer == nil {
		return nil, &transport.TransportError{Op: "dial parent", Err: fmt.Errorf("no dialer configured")}
	}
	conn, err := s.Dialer.Dial(parent.ParentGID, transport.PortParentChild)
	if err != nil {
		return nil, fmt.Errorf("upstream: dial parent: %w", err)
	}
	defer conn.Close()

	client := streaming.NewClient(conn)
	db, err := client.Pull()
	if err != nil {
		return nil, fmt.Errorf("upstream: pull: %w", err)
	}
	return db, nil
}

// publishParentDB forwards the newly pulled database to access and/or
// downstream depending on role (§2 data flow: "upstream → access", and
// on distribution-role nodes "upstream ⇆ downstream").
func publishParentDB(s *Service, db *smdb.Database) {
	update := NewDBUpdate(DBUpdatePayload{DB: db, ForFD: -1})
	if s.accessUpB != nil { // sock_accessup: A=access, B=upstream
		_ = s.accessUpB.Send(update)
	}
	if s.upDownA != nil { // sock_updown: A=upstream, B=downstream
		_ = s.upDownA.Send(update)
	}
}
