// Package streaming implements the upstream/downstream streaming-protocol
// state machine (§4.3): the phase sequence a connection walks through while
// pulling or serving a database, and the partial-send/partial-receive
// buffer discipline that makes that walk resumable across short reads and
// writes.
package streaming

// Phase is a connection-local streaming-protocol phase. A connection is in
// exactly one phase at a time; the observed sequence of phases over a
// session is always a prefix of IDLE, DEFS, TBL_DEFS, FIELD_DEFS, DATA,
// IDLE (§8 P4).
type Phase int

const (
	PhaseIDLE Phase = iota
	PhaseDEFS
	PhaseTBLDEFS
	PhaseFIELDDEFS
	PhaseDATA
)

func (p Phase) String() string {
	switch p {
	case PhaseIDLE:
		return "IDLE"
	case PhaseDEFS:
		return "DEFS"
	case PhaseTBLDEFS:
		return "TBL_DEFS"
	case PhaseFIELDDEFS:
		return "FIELD_DEFS"
	case PhaseDATA:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}
