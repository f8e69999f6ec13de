package signal

import (
	"time"

	"github.com/labstack/gommon/log"

	"intervu.me/pkg/utils"
	"intervu.me/pkg/websocket"
	"intervu.me/storage"
)

// joinCodeEditor registers the participant profile under the connection,
// attaches it to the room's code sub-scope, announces it to the existing
// members and replays the current roster to the newcomer one event per
// member, so both sides converge without a dedicated snapshot message.
func (c *Coordinator) joinCodeEditor(p websocket.Peer, req websocket.JoinCodeEditor) {
	var room *storage.Room
	for {
		room = c.store.GetOrCreate(req.RoomID)
		room.Lock()
		if !room.Deleted() {
			break
		}
		room.Unlock()
	}

	part := req.Participant
	if part.Color == "" {
		part.Color = utils.GetRandomColor()
	}
	if !utils.IsLengthValid(part.Name, 1, 50) {
		part.Name = "anonymous"
	}

	existing := make([]websocket.Participant, 0, len(room.Editors))
	for id, other := range room.Editors {
		if id != p.GetID() {
			existing = append(existing, other)
		}
	}
	room.Editors[p.GetID()] = part
	room.Touch()
	room.Unlock()

	ch := codeChannel(req.RoomID)
	c.channels.Subscribe(p, ch)
	c.channels.Broadcast(websocket.NewEvent(websocket.EvtCodeEditorUserJoined, part), ch, p.GetID())
	for _, other := range existing {
		_ = p.Send(websocket.NewEvent(websocket.EvtCodeEditorUserJoined, other))
	}
	log.Infof("participant %s joined code editor of room %s", part.ID, req.RoomID)
}

func (c *Coordinator) leaveCodeEditor(p websocket.Peer, req websocket.LeaveCodeEditor) {
	room, ok := c.store.Get(req.RoomID)
	if !ok {
		return
	}
	room.Lock()
	if room.Deleted() {
		room.Unlock()
		return
	}
	part, member := room.Editors[p.GetID()]
	removed := member && part.ID == req.ParticipantID
	if removed {
		delete(room.Editors, p.GetID())
		room.Touch()
	}
	room.Unlock()

	if !removed {
		return
	}
	ch := codeChannel(req.RoomID)
	c.channels.Unsubscribe(p, ch)
	c.channels.Broadcast(websocket.NewEvent(websocket.EvtCodeEditorUserLeft, req.ParticipantID), ch, p.GetID())
}

// relayCode forwards a codeChange or languageChange envelope verbatim to the
// other sub-scope members via the broker. No merging or conflict resolution
// happens here; clients reconcile ranges optimistically.
func (c *Coordinator) relayCode(p websocket.Peer, e websocket.Event) {
	var ref websocket.RoomRef
	if e.Decode(&ref) != nil {
		return
	}
	if !c.roomAlive(ref.RoomID) {
		return
	}
	e.From = p.GetID()
	c.publish(e, ref.RoomID)
}

// codeReset is rewritten into a codeChange whose range is the sentinel
// full-document span; receivers special-case that range as "replace
// everything".
func (c *Coordinator) codeReset(p websocket.Peer, req websocket.CodeReset) {
	if !c.roomAlive(req.RoomID) {
		return
	}
	change := websocket.Change{
		Range:     websocket.SentinelRange(),
		Text:      req.Code,
		Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
		UserID:    req.UserID,
	}
	e := websocket.NewEvent(websocket.EvtCodeChange, websocket.CodeChange{RoomID: req.RoomID, Change: change})
	e.From = p.GetID()
	c.publish(e, req.RoomID)
}

// codeExecution evaluates the snippet on the worker pool and broadcasts the
// result to every sub-scope member, the submitter included.
func (c *Coordinator) codeExecution(p websocket.Peer, req websocket.CodeExecution) {
	if !c.roomAlive(req.RoomID) {
		return
	}
	c.pool.Submit(func() {
		res := websocket.CodeExecutionResult{}
		out, err := c.runner.Run(req.Code, req.Language)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Output = out
		}
		c.publish(websocket.NewEvent(websocket.EvtCodeExecutionResult, res), req.RoomID)
	})
}

// roomAlive refreshes activity and reports whether the room exists. Code
// relay events referencing an unknown room are dropped, not recreated.
func (c *Coordinator) roomAlive(roomID string) bool {
	room, ok := c.store.Get(roomID)
	if !ok {
		return false
	}
	room.Lock()
	alive := !room.Deleted()
	if alive {
		room.Touch()
	}
	room.Unlock()
	return alive
}
