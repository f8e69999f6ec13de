package signal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"intervu.me/pkg/websocket"
)

func assignedRole(t *testing.T, p *fakePeer) string {
	t.Helper()
	e, ok := p.last(websocket.EvtRoleAssigned)
	assert.True(t, ok, "no roleAssigned received by %s", p.GetID())
	var role string
	assert.NoError(t, e.Decode(&role))
	return role
}

func TestJoinAssignsRequestedRole(t *testing.T) {
	c, store := newTestCoordinator(t, nil)
	a := newFakePeer("conn-a")

	join(c, a, "r1", websocket.RoleHost)

	assert.Equal(t, websocket.RoleHost, assignedRole(t, a))
	assert.Equal(t, websocket.RoleHost, a.role)
	assert.Equal(t, "r1", a.roomID)

	room, ok := store.Get("r1")
	assert.True(t, ok)
	room.Lock()
	assert.Equal(t, a.GetID(), room.Host.GetID())
	assert.Nil(t, room.Guest)
	assert.False(t, room.HostReady)
	room.Unlock()
}

func TestSecondHostDowngradedToGuest(t *testing.T) {
	c, store := newTestCoordinator(t, nil)
	a := newFakePeer("conn-a")
	b := newFakePeer("conn-b")

	join(c, a, "r1", websocket.RoleHost)
	join(c, b, "r1", websocket.RoleHost)

	assert.Equal(t, websocket.RoleGuest, assignedRole(t, b))

	e, ok := a.last(websocket.EvtUserJoined)
	assert.True(t, ok)
	var joined websocket.UserJoined
	assert.NoError(t, e.Decode(&joined))
	assert.Equal(t, websocket.RoleGuest, joined.Role)
	assert.Equal(t, b.GetID(), joined.ConnectionID)

	room, _ := store.Get("r1")
	room.Lock()
	assert.Equal(t, a.GetID(), room.Host.GetID())
	assert.Equal(t, b.GetID(), room.Guest.GetID())
	room.Unlock()
}

func TestThirdJoinRejectedRoomFull(t *testing.T) {
	c, store := newTestCoordinator(t, nil)
	a := newFakePeer("conn-a")
	b := newFakePeer("conn-b")
	intruder := newFakePeer("conn-c")

	join(c, a, "r1", websocket.RoleHost)
	join(c, b, "r1", websocket.RoleGuest)
	join(c, intruder, "r1", websocket.RoleHost)

	assert.Equal(t, 1, intruder.count(websocket.EvtRoomFull))
	_, ok := intruder.last(websocket.EvtRoleAssigned)
	assert.False(t, ok)

	// No state mutation happened on the rejected join.
	room, _ := store.Get("r1")
	room.Lock()
	assert.Equal(t, a.GetID(), room.Host.GetID())
	assert.Equal(t, b.GetID(), room.Guest.GetID())
	room.Unlock()
}

func TestGuestTakenHostFree(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	a := newFakePeer("conn-a")
	b := newFakePeer("conn-b")

	join(c, a, "r1", websocket.RoleGuest)
	join(c, b, "r1", websocket.RoleGuest)

	assert.Equal(t, websocket.RoleGuest, assignedRole(t, a))
	assert.Equal(t, websocket.RoleHost, assignedRole(t, b))
}

func TestNegotiationFiresExactlyOnce(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	a := newFakePeer("conn-a")
	b := newFakePeer("conn-b")

	join(c, a, "r1", websocket.RoleHost)
	join(c, b, "r1", websocket.RoleGuest)
	ready(c, a, "r1", websocket.RoleHost)
	ready(c, b, "r1", websocket.RoleGuest)

	assert.Eventually(t, func() bool {
		return a.count(websocket.EvtStartNegotiation) == 1
	}, time.Second, 5*time.Millisecond)

	// The latch blocks every later check in this epoch.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, a.count(websocket.EvtStartNegotiation))
	assert.Equal(t, 0, b.count(websocket.EvtStartNegotiation))
}

func TestRejoinResetsAndRetriggersNegotiation(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	a := newFakePeer("conn-a")
	b := newFakePeer("conn-b")

	join(c, a, "r1", websocket.RoleHost)
	join(c, b, "r1", websocket.RoleGuest)
	ready(c, a, "r1", websocket.RoleHost)
	ready(c, b, "r1", websocket.RoleGuest)

	assert.Eventually(t, func() bool {
		return a.count(websocket.EvtStartNegotiation) == 1
	}, time.Second, 5*time.Millisecond)

	// B reloads mid-call: same role rejoin resets the epoch. A already got
	// one reset when B first joined (role change none -> guest).
	join(c, b, "r1", websocket.RoleGuest)
	assert.Equal(t, 2, a.count(websocket.EvtResetConnection))
	assert.Equal(t, 1, b.count(websocket.EvtResetConnection))

	ready(c, b, "r1", websocket.RoleGuest)
	assert.Eventually(t, func() bool {
		return a.count(websocket.EvtStartNegotiation) == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, a.count(websocket.EvtStartNegotiation))
}

func TestNeedRenegotiateBypassesGate(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	a := newFakePeer("conn-a")
	b := newFakePeer("conn-b")

	join(c, a, "r1", websocket.RoleHost)
	join(c, b, "r1", websocket.RoleGuest)

	// Nobody is ready, yet the escape hatch re-signals the host.
	c.Handle(b, websocket.NewEvent(websocket.EvtNeedRenegotiate, websocket.RoomRef{RoomID: "r1"}))
	assert.Equal(t, 1, a.count(websocket.EvtStartNegotiation))
}

func TestReadyForRoleNotHeldIgnored(t *testing.T) {
	c, store := newTestCoordinator(t, nil)
	a := newFakePeer("conn-a")
	b := newFakePeer("conn-b")

	join(c, a, "r1", websocket.RoleHost)
	join(c, b, "r1", websocket.RoleGuest)
	ready(c, b, "r1", websocket.RoleHost)

	room, _ := store.Get("r1")
	room.Lock()
	assert.False(t, room.HostReady)
	assert.False(t, room.GuestReady)
	room.Unlock()
}

func TestOfferRelayedVerbatim(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	a := newFakePeer("conn-a")
	b := newFakePeer("conn-b")

	join(c, a, "r1", websocket.RoleHost)
	join(c, b, "r1", websocket.RoleGuest)

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0..."}`)
	payload, _ := json.Marshal(websocket.Signal{RoomID: "r1", SDP: sdp})
	c.Handle(a, websocket.Event{Event: websocket.EvtOffer, Data: payload})

	e, ok := b.last(websocket.EvtOffer)
	assert.True(t, ok)
	assert.JSONEq(t, string(payload), string(e.Data))
	assert.Equal(t, a.GetID(), e.From)
	assert.Equal(t, 0, a.count(websocket.EvtOffer))
}

func TestRelayWithoutCounterpartDropped(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	a := newFakePeer("conn-a")

	join(c, a, "r1", websocket.RoleHost)

	payload, _ := json.Marshal(websocket.Signal{RoomID: "r1", Candidate: json.RawMessage(`{"candidate":"..."}`)})
	c.Handle(a, websocket.Event{Event: websocket.EvtICECandidate, Data: payload})

	assert.Equal(t, 0, a.count(websocket.EvtICECandidate))
}

func TestDisconnectNotifiesAndDeletesRoom(t *testing.T) {
	c, store := newTestCoordinator(t, nil)
	a := newFakePeer("conn-a")
	b := newFakePeer("conn-b")

	join(c, a, "r1", websocket.RoleHost)
	join(c, b, "r1", websocket.RoleGuest)

	c.Disconnect(b)

	e, ok := a.last(websocket.EvtUserLeft)
	assert.True(t, ok)
	var left websocket.UserLeft
	assert.NoError(t, e.Decode(&left))
	assert.Equal(t, b.GetID(), left.ConnectionID)
	// One reset from B's join, one from B's departure.
	assert.Equal(t, 2, a.count(websocket.EvtResetConnection))

	// A still holds host, so the room survives.
	_, ok = store.Get("r1")
	assert.True(t, ok)

	c.Disconnect(a)
	_, ok = store.Get("r1")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestDisconnectResetBeforeUserLeft(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	a := newFakePeer("conn-a")
	b := newFakePeer("conn-b")

	join(c, a, "r1", websocket.RoleHost)
	join(c, b, "r1", websocket.RoleGuest)
	c.Disconnect(b)

	a.mu.Lock()
	defer a.mu.Unlock()
	reset, left := -1, -1
	for i, e := range a.events {
		switch e.Event {
		case websocket.EvtResetConnection:
			reset = i
		case websocket.EvtUserLeft:
			left = i
		}
	}
	assert.True(t, reset >= 0 && left >= 0 && reset < left,
		"resetConnection must precede userLeft (reset=%d left=%d)", reset, left)
}
