package noded

import "sync"

// Role is one of the four node roles a service can carry; a node may
// carry any combination except that a pure Consumer role never runs the
// downstream worker (§2, GLOSSARY).
type Role int

const (
	RoleCore Role = 1 << iota
	RoleDistribution
	RoleAccess
	RoleConsumer
)

func (r Role) Has(bit Role) bool { return r&bit != 0 }

func (r Role) String() string {
	var parts []string
	if r.Has(RoleCore) {
		parts = append(parts, "core")
	}
	if r.Has(RoleDistribution) {
		parts = append(parts, "distribution")
	}
	if r.Has(RoleAccess) {
		parts = append(parts, "access")
	}
	if r.Has(RoleConsumer) {
		parts = append(parts, "consumer")
	}
	if len(parts) == 0 {
		return "none"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "+" + p
	}
	return out
}

// RunsDownstream reports whether a service with this role set opens
// listening connections and runs the downstream worker (§4.5: "downstream
// ... if the node carries any server role"). Core, Distribution, and
// Access all serve children; a pure Consumer role does not.
func (r Role) RunsDownstream() bool {
	return r.Has(RoleCore) || r.Has(RoleDistribution) || r.Has(RoleAccess)
}

// RunsAccess reports whether the access worker is started (§4.5: "access
// (if the node carries the access role)").
func (r Role) RunsAccess() bool { return r.Has(RoleAccess) }

// PortState is the fabric-port-local state ctrl refreshes on an async
// device event (§4.6): subnet-manager LID/SL/GID. Per DESIGN.md's Open
// Question decision, this carries exactly the fields §4.5/§4.6 name and
// nothing inferred from the unseen fuller ssa_port struct.
type PortState struct {
	mu sync.RWMutex

	SMLID LID
	SMSL  uint8
	SMGID [16]byte

	// Services indexes every service bound to this port. Services refer
	// back to their port by index, not by pointer (§9 "Cyclic references":
	// "Represent services as indices in a port-owned vector; a service's
	// port field is a lookup key, not an owning reference.").
	Services []*Service
}

// LID is the 16-bit fabric-local address at noded scope. It is a plain
// uint16, not lifecycle.LID, so lifecycle.LID values are converted when
// stored here.
type LID = uint16

// Refresh updates the port's subnet-manager state, as ctrl does on
// PORT_ACTIVE/PORT_ERR/CLIENT_REREGISTER (§4.6).
func (p *PortState) Refresh(lid LID, sl uint8, gid [16]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SMLID = lid
	p.SMSL = sl
	p.SMGID = gid
}

// Snapshot returns a copy of the current subnet-manager state.
func (p *PortState) Snapshot() (LID, uint8, [16]byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.SMLID, p.SMSL, p.SMGID
}

// AddService registers svc on this port and returns its index.
func (p *PortState) AddService(svc *Service) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Services = append(p.Services, svc)
	return len(p.Services) - 1
}

// ServiceAt looks up a service by its port-local index (the cyclic-
// reference-avoidance scheme of §9).
func (p *PortState) ServiceAt(i int) *Service {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= len(p.Services) {
		return nil
	}
	return p.Services[i]
}

// AllServices returns a snapshot of every service registered on this
// port, for ctrl's CTRL_DEV_EVENT fan-out.
func (p *PortState) AllServices() []*Service {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Service, len(p.Services))
	copy(out, p.Services)
	return out
}
