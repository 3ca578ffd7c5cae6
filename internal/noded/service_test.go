package noded

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServiceStartAcksInOrderThenStops(t *testing.T) {
	port := &PortState{}
	svc := NewService(port, 0, 1, RoleCore, nil)

	require.NoError(t, svc.Start())

	// RoleCore runs both upstream and downstream; access stays nil since
	// the role doesn't carry RoleAccess (§4.5).
	require.Nil(t, svc.ctrlAccessA)
	require.NotNil(t, svc.ctrlDownA)

	svc.Stop()

	// Stop is idempotent (sync.Once) and must not block or panic on a
	// second call.
	require.NotPanics(t, func() { svc.Stop() })
}

func TestServiceAllocatesOnlySocketsItsRoleNeeds(t *testing.T) {
	port := &PortState{}
	svc := NewService(port, 0, 1, RoleConsumer, nil)

	require.NotNil(t, svc.ctrlUpA)
	require.Nil(t, svc.ctrlDownA)
	require.Nil(t, svc.ctrlAccessA)
	require.Nil(t, svc.upDownA)

	svc.Stop()
}

func TestConnSlotForCreatesAndDrops(t *testing.T) {
	port := &PortState{}
	svc := NewService(port, 0, 1, RoleCore, nil)
	defer svc.Stop()

	slot := svc.ConnSlotFor(5)
	require.NotNil(t, slot)
	require.Same(t, slot, svc.ConnSlotFor(5))

	svc.DropConnSlot(5)
	require.NotSame(t, slot, svc.ConnSlotFor(5))
}

func TestServiceValidateRequiresBusesForRole(t *testing.T) {
	port := &PortState{}
	svc := NewService(port, 0, 1, RoleDistribution|RoleAccess, nil)
	defer svc.Stop()

	require.NoError(t, svc.Validate())

	svc.ctrlAccessA = nil
	require.Error(t, svc.Validate())
}

func TestServiceAwaitAckFailsWhenPeerClosesWithoutAcking(t *testing.T) {
	// A worker that exits before sending CTRL_ACK (e.g. a startup error)
	// must fail awaitAck promptly rather than have its caller hang.
	port := &PortState{}
	svc := &Service{Port: port, fdConns: make(map[int]*ConnSlot)}
	svc.ctrlUpA, svc.ctrlUpB = NewBusPair()

	go svc.ctrlUpB.Close()

	err := svc.awaitAck(svc.ctrlUpA, "upstream")
	require.Error(t, err)
}

func TestServiceAwaitAckSucceedsOnMatchingAck(t *testing.T) {
	port := &PortState{}
	svc := &Service{Port: port, fdConns: make(map[int]*ConnSlot)}
	svc.ctrlUpA, svc.ctrlUpB = NewBusPair()

	go func() { _ = svc.ctrlUpB.Send(NewCtrlAck("upstream")) }()

	require.NoError(t, svc.awaitAck(svc.ctrlUpA, "upstream"))
}
