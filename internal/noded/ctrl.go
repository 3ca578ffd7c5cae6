package noded

import (
	"fmt"

	"github.com/fabricssa/ssanode/internal/transport"
)

// Ctrl is the §4.6 ctrl worker: it owns one fabric port's state, receives
// management datagrams, and fans out lifecycle events to every service
// registered on that port. It does not itself send MemberRecord/join
// datagrams — that is upstream's responsibility (§4.4) — but it owns the
// inbound MAD receive path and the async device-event fan-out.
type Ctrl struct {
	Port *PortState
	MAD  transport.MADTransport

	devEvents chan CtrlDevEventPayload
}

// NewCtrl creates a ctrl worker for port, sharing mad with every service's
// upstream worker (upstream issues synchronous Sends on the same
// transport; ctrl owns the Recv loop, matching §5: "Fabric-management
// sends have an explicit timeout argument and are serviced synchronously
// from the ctrl worker; the rest is asynchronous.").
func NewCtrl(port *PortState, mad transport.MADTransport) *Ctrl {
	return &Ctrl{Port: port, MAD: mad, devEvents: make(chan CtrlDevEventPayload, 4)}
}

// NotifyDeviceEvent simulates an async fabric device-event fd delivering
// one event (port active/err/client-reregister). In the reference
// implementation this is an epoll-delivered fd; Go's channel-based select
// is the idiomatic stand-in since there is no real RDMA device handle in
// scope (§1).
func (c *Ctrl) NotifyDeviceEvent(ev CtrlDevEventPayload) {
	c.devEvents <- ev
}

// Run executes the ctrl poll loop (§4.6) over the stop channel, device
// events and MAD datagrams in a single select. When more than one of them
// is ready, Go's select picks one at random, so there is no fixed priority
// among them. It exits when stopCh closes.
func (c *Ctrl) Run(stopCh <-chan struct{}) error {
	madCh, err := c.MAD.Recv()
	if err != nil {
		return fmt.Errorf("noded: ctrl mad recv: %w", err)
	}

	for {
		select {
		case <-stopCh:
			return nil

		case ev := <-c.devEvents:
			c.Port.Refresh(LID(ev.SMLID), ev.SMSL, ev.SMGID)
			for _, svc := range c.Port.AllServices() {
				msg := NewCtrlDevEvent(ev)
				_ = svc.ctrlUpA.Send(msg)
				if svc.ctrlDownA != nil {
					_ = svc.ctrlDownA.Send(msg)
				}
				if svc.ctrlAccessA != nil {
					_ = svc.ctrlAccessA.Send(msg)
				}
			}

		case dg := <-madCh:
			c.routeDatagram(dg)
		}
	}
}

// routeDatagram dispatches an inbound MAD to the service named by the
// upper 16 bits of its transaction id (§4.6: "Incoming datagrams are
// routed to the owning service by a transaction id whose upper 16 bits
// encode the service index within the port"). A solicited InfoRecord
// additionally triggers a LISTEN to that service's downstream worker so
// it starts accepting before children arrive (§4.6).
func (c *Ctrl) routeDatagram(dg transport.Datagram) {
	idx := int(dg.Header.ServiceIndex())
	svc := c.Port.ServiceAt(idx)
	if svc == nil {
		return
	}

	switch dg.Header.Attribute {
	case transport.AttrInfoRecord:
		info, _ := dg.Payload.(transport.InfoRecord)
		_ = svc.ctrlUpA.Send(NewCtrlMAD(MADPayload{Attribute: "InfoRecord", Parent: &info.Parent}))
		// §4.4: "Once HAVE_PARENT, ctrl sends a CONN_REQ to upstream, which
		// triggers §4.3 step 1." Upstream itself drives IDLE->...->HAVE_PARENT
		// on receipt of the CtrlMAD above; ctrl issues CONN_REQ right behind
		// it rather than waiting for a separate signal, since it is the
		// component that observed the InfoRecord arrive.
		_ = svc.ctrlUpA.Send(NewConnReq(ConnReqPayload{Parent: info.Parent}))
		if svc.ctrlDownA != nil {
			_ = svc.ctrlDownA.Send(NewListen())
		}
	case transport.AttrMemberRecord:
		_ = svc.ctrlUpA.Send(NewCtrlMAD(MADPayload{Attribute: "MemberRecord"}))
	}
}
