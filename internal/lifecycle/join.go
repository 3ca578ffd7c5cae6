package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JoinState is the fabric join protocol's state (§4.4).
type JoinState int

const (
	JoinIDLE JoinState = iota
	JoinJOINING
	JoinFatalError
	JoinORPHAN
	JoinHaveParent
)

func (s JoinState) String() string {
	switch s {
	case JoinIDLE:
		return "IDLE"
	case JoinJOINING:
		return "JOINING"
	case JoinFatalError:
		return "FATAL_ERROR"
	case JoinORPHAN:
		return "ORPHAN"
	case JoinHaveParent:
		return "HAVE_PARENT"
	default:
		return "UNKNOWN"
	}
}

// DefaultJoinTimeout and MaxJoinBackoffMultiple are the retry parameters
// named in §4.4/§5: "exponential-backoff timeout starting at 1 s with cap
// 120 s" — the reference source expresses the cap as a multiple (120x) of
// the default rather than an absolute duration, so NewBackoff derives the
// cap from it rather than hardcoding it separately.
const (
	DefaultJoinTimeout    = time.Second
	MaxJoinBackoffMultiple = 120
)

// PathRecord is the subset of a parent's path record the join protocol
// needs to open the upstream connection: its fabric address and service
// level.
type PathRecord struct {
	ParentGID [16]byte
	ParentLID LID
	SL        uint8
}

// LID mirrors smdb.LID without importing the smdb package — the join
// protocol only needs the bit width, not the routing index.
type LID uint16

// Backoff tracks the doubling retry timeout for failed join sends, capped
// at MaxJoinBackoffMultiple times the initial timeout.
type Backoff struct {
	initial time.Duration
	current time.Duration
	cap     time.Duration
	retries int
}

// NewBackoff creates a Backoff starting at initial, capped at
// MaxJoinBackoffMultiple * initial.
func NewBackoff(initial time.Duration) *Backoff {
	return &Backoff{
		initial: initial,
		current: initial,
		cap:     initial * MaxJoinBackoffMultiple,
	}
}

// Current returns the timeout to use for the next send attempt.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Retries returns the number of failed sends recorded so far.
func (b *Backoff) Retries() int {
	return b.retries
}

// Fail records a failed send, doubling the timeout up to the cap.
func (b *Backoff) Fail() {
	b.retries++
	next := b.current * 2
	if next > b.cap {
		next = b.cap
	}
	b.current = next
}

// Reset returns the backoff to its initial timeout, for use after a
// successful (re)join.
func (b *Backoff) Reset() {
	b.current = b.initial
	b.retries = 0
}

// Join drives one port's fabric join sequence (§4.4): on becoming active,
// send a SET MemberRecord to the subnet administrator, then await either
// an ACK (JOINING -> ORPHAN) or a solicited InfoRecord (ORPHAN ->
// HAVE_PARENT).
type Join struct {
	State   JoinState
	Backoff *Backoff
	Nonce   uuid.UUID // correlates the MemberRecord request with its ACK
	Parent  *PathRecord
}

// NewJoin creates a join state machine in the IDLE state.
func NewJoin() *Join {
	return &Join{State: JoinIDLE, Backoff: NewBackoff(DefaultJoinTimeout)}
}

// Start issues the initial MemberRecord send, moving IDLE -> JOINING. It is
// only valid from IDLE.
func (j *Join) Start() error {
	if j.State != JoinIDLE {
		return fmt.Errorf("lifecycle: join start: invalid state %s", j.State)
	}
	j.Nonce = uuid.New()
	j.State = JoinJOINING
	return nil
}

// SendFailed records a failed MemberRecord send and doubles the retry
// timeout up to the cap; the state remains JOINING so Start's caller
// retries with Backoff.Current().
func (j *Join) SendFailed() error {
	if j.State != JoinJOINING {
		return fmt.Errorf("lifecycle: join send-failed: invalid state %s", j.State)
	}
	j.Backoff.Fail()
	return nil
}

// Acked records a successful ACK for the MemberRecord send, moving
// JOINING -> ORPHAN.
func (j *Join) Acked() error {
	if j.State != JoinJOINING {
		return fmt.Errorf("lifecycle: join acked: invalid state %s", j.State)
	}
	j.State = JoinORPHAN
	j.Backoff.Reset()
	return nil
}

// GotInfoRecord records a solicited InfoRecord MAD carrying the parent's
// path record, moving ORPHAN -> HAVE_PARENT. Once here, ctrl sends CONN_REQ
// to upstream, which triggers §4.3 step 1 (outside this package's scope).
func (j *Join) GotInfoRecord(parent PathRecord) error {
	if j.State != JoinORPHAN {
		return fmt.Errorf("lifecycle: join got-info-record: invalid state %s", j.State)
	}
	j.Parent = &parent
	j.State = JoinHaveParent
	return nil
}
