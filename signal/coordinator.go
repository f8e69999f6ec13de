package signal

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/labstack/gommon/log"

	"intervu.me/pkg/msgbroker"
	"intervu.me/pkg/runner"
	"intervu.me/pkg/websocket"
	"intervu.me/storage"
)

const codeChannelPrefix = "code:"

// Reference debounce delays. The join delay lets a client finish local setup
// before the negotiation check; the ready delay tolerates join/ready signals
// arriving out of order; the settle delay lets media tracks attach before the
// host is told to create an offer.
const (
	defaultJoinCheckDelay  = time.Second
	defaultReadyCheckDelay = 500 * time.Millisecond
	defaultSettleDelay     = 500 * time.Millisecond
)

// RoleRecorder is implemented by transports that remember their last call
// assignment.
type RoleRecorder interface {
	RecordRole(roomID, role string)
}

// Coordinator owns all room mutations. Every inbound event goes through
// Handle; per-room serialization comes from the room mutex.
type Coordinator struct {
	store    *storage.Store
	channels websocket.Channels
	broker   msgbroker.MessageBroker
	pool     *workerpool.WorkerPool
	runner   runner.Runner

	JoinCheckDelay  time.Duration
	ReadyCheckDelay time.Duration
	SettleDelay     time.Duration

	done chan struct{}
}

func New(s *storage.Store, ch websocket.Channels, mb msgbroker.MessageBroker, wp *workerpool.WorkerPool, r runner.Runner) *Coordinator {
	return &Coordinator{
		store:           s,
		channels:        ch,
		broker:          mb,
		pool:            wp,
		runner:          r,
		JoinCheckDelay:  defaultJoinCheckDelay,
		ReadyCheckDelay: defaultReadyCheckDelay,
		SettleDelay:     defaultSettleDelay,
		done:            make(chan struct{}),
	}
}

// Start subscribes the coordinator to the code-collaboration relay channels.
func (c *Coordinator) Start() error {
	return c.broker.Subscribe(codeChannelPrefix+"*", c.handleBrokerMessage)
}

// RunReaper evicts rooms that have seen no activity for ttl.
func (c *Coordinator) RunReaper(interval, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				for _, id := range c.store.DeleteExpired(ttl) {
					c.channels.Drop(codeChannel(id))
					log.Infof("room %s evicted after inactivity", id)
				}
			}
		}
	}()
}

// Stop halts the reaper and drains pending execution jobs.
func (c *Coordinator) Stop() {
	close(c.done)
	c.pool.StopWait()
}

// Handle processes one validated inbound event from p.
func (c *Coordinator) Handle(p websocket.Peer, e websocket.Event) {
	switch e.Event {
	case websocket.EvtJoinRoom:
		var req websocket.JoinRoom
		if e.Decode(&req) == nil {
			c.joinRoom(p, req)
		}
	case websocket.EvtReady:
		var req websocket.Ready
		if e.Decode(&req) == nil {
			c.ready(p, req)
		}
	case websocket.EvtNeedRenegotiate:
		var req websocket.RoomRef
		if e.Decode(&req) == nil {
			c.needRenegotiate(p, req.RoomID)
		}
	case websocket.EvtOffer, websocket.EvtAnswer, websocket.EvtICECandidate:
		c.relaySignal(p, e)
	case websocket.EvtConnectionEstablished:
		var req websocket.RoomRef
		if e.Decode(&req) == nil {
			c.roomAlive(req.RoomID)
		}
	case websocket.EvtJoinCodeEditor:
		var req websocket.JoinCodeEditor
		if e.Decode(&req) == nil {
			c.joinCodeEditor(p, req)
		}
	case websocket.EvtLeaveCodeEditor:
		var req websocket.LeaveCodeEditor
		if e.Decode(&req) == nil {
			c.leaveCodeEditor(p, req)
		}
	case websocket.EvtCodeChange, websocket.EvtLanguageChange:
		c.relayCode(p, e)
	case websocket.EvtCodeReset:
		var req websocket.CodeReset
		if e.Decode(&req) == nil {
			c.codeReset(p, req)
		}
	case websocket.EvtCodeExecution:
		var req websocket.CodeExecution
		if e.Decode(&req) == nil {
			c.codeExecution(p, req)
		}
	default:
		log.Warnf("unhandled event '%s' from %s", e.Event, p.GetID())
	}
}

// joinRoom implements role assignment: create the room lazily, resolve role
// conflicts (a taken host slot downgrades the request to guest, a full room
// rejects it), reset negotiation on any role change or rejoin, and schedule a
// delayed negotiation check.
func (c *Coordinator) joinRoom(p websocket.Peer, req websocket.JoinRoom) {
	var room *storage.Room
	for {
		room = c.store.GetOrCreate(req.RoomID)
		room.Lock()
		if !room.Deleted() {
			break
		}
		room.Unlock()
	}

	prev := room.RoleOf(p.GetID())
	role := req.Role
	rejoin := prev != "" && prev == role

	if role == websocket.RoleHost && room.Host != nil && room.Host.GetID() != p.GetID() {
		role = websocket.RoleGuest
	}
	if role == websocket.RoleGuest && room.Guest != nil && room.Guest.GetID() != p.GetID() {
		if room.Host != nil && room.Host.GetID() != p.GetID() {
			room.Unlock()
			log.Infof("room %s is full, rejecting %s", req.RoomID, p.GetID())
			_ = p.Send(websocket.Event{Event: websocket.EvtRoomFull})
			return
		}
		// Guest slot taken but the host slot is free: take it.
		role = websocket.RoleHost
	}

	reset := rejoin || prev != role
	var resetTargets []websocket.Peer
	if reset {
		room.NegotiationStarted = false
		resetTargets = room.Members()
	}

	// A role switch vacates the old slot first.
	if prev != "" && prev != role {
		if prev == websocket.RoleHost {
			room.Host, room.HostReady = nil, false
		} else {
			room.Guest, room.GuestReady = nil, false
		}
	}

	// A freshly (re)joined role is never ready.
	if role == websocket.RoleHost {
		room.Host, room.HostReady = p, false
	} else {
		room.Guest, room.GuestReady = p, false
	}
	room.Touch()

	var others []websocket.Peer
	for _, m := range room.Members() {
		if m.GetID() != p.GetID() {
			others = append(others, m)
		}
	}
	room.Unlock()

	if rr, ok := p.(RoleRecorder); ok {
		rr.RecordRole(req.RoomID, role)
	}

	if reset {
		resetEvt := websocket.Event{Event: websocket.EvtResetConnection}
		for _, m := range resetTargets {
			_ = m.Send(resetEvt)
		}
	}

	_ = p.Send(websocket.NewEvent(websocket.EvtRoleAssigned, role))
	joined := websocket.NewEvent(websocket.EvtUserJoined, websocket.UserJoined{Role: role, ConnectionID: p.GetID()})
	for _, m := range others {
		_ = m.Send(joined)
	}
	log.Infof("%s joined room %s as %s", p.GetID(), req.RoomID, role)

	roomID := req.RoomID
	room.Schedule(c.JoinCheckDelay, func() {
		c.tryStartNegotiation(roomID)
	})
}

// ready marks the sender's role ready and schedules a negotiation check. A
// ready for a role the sender does not hold is dropped.
func (c *Coordinator) ready(p websocket.Peer, req websocket.Ready) {
	room, ok := c.store.Get(req.RoomID)
	if !ok {
		return
	}
	room.Lock()
	if room.Deleted() || room.RoleOf(p.GetID()) != req.Role {
		room.Unlock()
		return
	}
	if req.Role == websocket.RoleHost {
		room.HostReady = true
	} else {
		room.GuestReady = true
	}
	room.Touch()
	room.Unlock()

	roomID := req.RoomID
	room.Schedule(c.ReadyCheckDelay, func() {
		c.tryStartNegotiation(roomID)
	})
}

// tryStartNegotiation instructs the host to create an offer when both roles
// are present and ready. The latch is set before delivery so concurrent
// checks stay idempotent; delivery happens after the settle delay with a
// fresh existence check.
func (c *Coordinator) tryStartNegotiation(roomID string) {
	room, ok := c.store.Get(roomID)
	if !ok {
		return
	}
	room.Lock()
	if room.Deleted() || room.Host == nil || room.Guest == nil ||
		!room.HostReady || !room.GuestReady || room.NegotiationStarted {
		room.Unlock()
		return
	}
	room.NegotiationStarted = true
	room.Unlock()

	room.Schedule(c.SettleDelay, func() {
		r, ok := c.store.Get(roomID)
		if !ok {
			return
		}
		r.Lock()
		host := r.Host
		r.Unlock()
		if host != nil {
			log.Infof("starting negotiation in room %s", roomID)
			_ = host.Send(websocket.Event{Event: websocket.EvtStartNegotiation})
		}
	})
}

// needRenegotiate is the recovery escape hatch: re-signal the host
// unconditionally, bypassing the readiness gate, and re-arm the latch.
func (c *Coordinator) needRenegotiate(p websocket.Peer, roomID string) {
	room, ok := c.store.Get(roomID)
	if !ok {
		return
	}
	room.Lock()
	if room.Deleted() {
		room.Unlock()
		return
	}
	room.Touch()
	room.NegotiationStarted = true
	host := room.Host
	room.Unlock()

	if host != nil {
		log.Infof("renegotiation requested by %s in room %s", p.GetID(), roomID)
		_ = host.Send(websocket.Event{Event: websocket.EvtStartNegotiation})
	}
}

// relaySignal forwards an offer, answer or ICE candidate verbatim to the
// sender's counterpart. With no counterpart present the event is dropped.
func (c *Coordinator) relaySignal(p websocket.Peer, e websocket.Event) {
	var sig websocket.Signal
	if e.Decode(&sig) != nil {
		return
	}
	room, ok := c.store.Get(sig.RoomID)
	if !ok {
		return
	}
	room.Lock()
	if room.Deleted() {
		room.Unlock()
		return
	}
	room.Touch()
	target := room.Counterpart(p.GetID())
	room.Unlock()

	if target != nil {
		e.From = p.GetID()
		_ = target.Send(e)
	}
}

// Disconnect tears down every membership of p: call roles are vacated with a
// negotiation reset before the departure notification goes out, editor
// entries are removed with a sub-scope notification, and a room left with
// both call slots vacant is deleted.
func (c *Coordinator) Disconnect(p websocket.Peer) {
	for _, room := range c.store.Snapshot() {
		room.Lock()
		if room.Deleted() {
			room.Unlock()
			continue
		}

		role := room.RoleOf(p.GetID())
		var remaining []websocket.Peer
		if role != "" {
			if role == websocket.RoleHost {
				room.Host, room.HostReady = nil, false
			} else {
				room.Guest, room.GuestReady = nil, false
			}
			room.NegotiationStarted = false
			remaining = room.Members()
		}

		var leftEditor string
		if part, ok := room.Editors[p.GetID()]; ok {
			delete(room.Editors, p.GetID())
			leftEditor = part.ID
		}

		vacant := room.Vacant()
		roomID := room.ID
		room.Unlock()

		if role == "" && leftEditor == "" {
			continue
		}

		ch := codeChannel(roomID)
		c.channels.Unsubscribe(p, ch)

		if role != "" {
			resetEvt := websocket.Event{Event: websocket.EvtResetConnection}
			left := websocket.NewEvent(websocket.EvtUserLeft, websocket.UserLeft{ConnectionID: p.GetID()})
			for _, m := range remaining {
				_ = m.Send(resetEvt)
				_ = m.Send(left)
			}
			log.Infof("%s left room %s (%s)", p.GetID(), roomID, role)
		}
		if leftEditor != "" {
			c.channels.Broadcast(websocket.NewEvent(websocket.EvtCodeEditorUserLeft, leftEditor), ch, p.GetID())
		}

		if role != "" && vacant && c.store.DeleteIfVacant(roomID) {
			c.channels.Drop(ch)
			log.Infof("room %s deleted", roomID)
		}
	}
}

// publish hands an event to the broker for sub-scope fan-out.
func (c *Coordinator) publish(e websocket.Event, roomID string) {
	b, err := json.Marshal(&e)
	if err != nil {
		log.Error(err)
		return
	}
	if err = c.broker.Publish(b, codeChannel(roomID)); err != nil {
		log.Warn(err)
	}
}

// handleBrokerMessage fans a relayed event out to the local subscribers of
// its code sub-scope, excluding the original sender.
func (c *Coordinator) handleBrokerMessage(msg *msgbroker.Message) {
	if !strings.HasPrefix(msg.Channel, codeChannelPrefix) {
		return
	}
	var e websocket.Event
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		log.Warn(err)
		return
	}
	c.channels.Broadcast(e, msg.Channel, e.From)
}

func codeChannel(roomID string) string {
	return codeChannelPrefix + roomID
}
