package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinSequenceS6(t *testing.T) {
	j := NewJoin()
	require.Equal(t, JoinIDLE, j.State)

	// Port becomes active; ctrl sends CTRL_DEV_EVENT(PORT_ACTIVE); upstream
	// transitions IDLE -> JOINING, sends MemberRecord.
	require.NoError(t, j.Start())
	assert.Equal(t, JoinJOINING, j.State)
	firstTimeout := j.Backoff.Current()
	assert.Equal(t, DefaultJoinTimeout, firstTimeout)

	// A simulated timeout causes retry count 1 with timeout doubled.
	require.NoError(t, j.SendFailed())
	assert.Equal(t, 1, j.Backoff.Retries())
	assert.Equal(t, 2*DefaultJoinTimeout, j.Backoff.Current())

	// Success moves to ORPHAN.
	require.NoError(t, j.Acked())
	assert.Equal(t, JoinORPHAN, j.State)
	assert.Equal(t, DefaultJoinTimeout, j.Backoff.Current(), "backoff resets on a successful join")

	// A subsequent InfoRecord moves to HAVE_PARENT and records the parent path.
	parent := PathRecord{ParentLID: 7, SL: 1}
	require.NoError(t, j.GotInfoRecord(parent))
	assert.Equal(t, JoinHaveParent, j.State)
	require.NotNil(t, j.Parent)
	assert.Equal(t, LID(7), j.Parent.ParentLID)
}

func TestBackoffCapsAt120x(t *testing.T) {
	b := NewBackoff(time.Second)
	for i := 0; i < 20; i++ {
		b.Fail()
	}
	assert.Equal(t, 120*time.Second, b.Current())
}

func TestJoinTransitionsRejectOutOfOrder(t *testing.T) {
	j := NewJoin()
	assert.Error(t, j.Acked(), "cannot ACK before Start")
	assert.Error(t, j.GotInfoRecord(PathRecord{}), "cannot receive InfoRecord before ORPHAN")
}
