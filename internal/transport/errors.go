package transport

import "fmt"

// TransportError reports a failure at the byte-stream or MAD transport
// layer itself — a dial, address resolution, or send that could not be
// completed at all (§7). It is distinct from streaming.PeerGone, which
// reports a peer that was reachable and then cleanly disconnected
// mid-exchange.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
