package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound event names.
const (
	EvtJoinRoom              = "joinRoom"
	EvtReady                 = "ready"
	EvtNeedRenegotiate       = "needRenegotiate"
	EvtOffer                 = "offer"
	EvtAnswer                = "answer"
	EvtICECandidate          = "ice-candidate"
	EvtConnectionEstablished = "connectionEstablished"
	EvtJoinCodeEditor        = "joinCodeEditor"
	EvtLeaveCodeEditor       = "leaveCodeEditor"
	EvtCodeChange            = "codeChange"
	EvtLanguageChange        = "languageChange"
	EvtCodeExecution         = "codeExecution"
	EvtCodeReset             = "codeReset"
)

// Outbound event names.
const (
	EvtRoleAssigned         = "roleAssigned"
	EvtUserJoined           = "userJoined"
	EvtRoomFull             = "roomFull"
	EvtStartNegotiation     = "startNegotiation"
	EvtResetConnection      = "resetConnection"
	EvtUserLeft             = "userLeft"
	EvtCodeEditorUserJoined = "codeEditorUserJoined"
	EvtCodeEditorUserLeft   = "codeEditorUserLeft"
	EvtCodeExecutionResult  = "codeExecutionResult"
	EvtError                = "error"
)

const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// MaxPosition is the sentinel line/column used to mark a full-document
// replacement, mirroring Number.MAX_SAFE_INTEGER on the editor side.
const MaxPosition int64 = 1<<53 - 1

// Event is the wire envelope for every websocket message. From carries the
// sender's connection id so fan-out paths can exclude it.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	From  string          `json:"from,omitempty"`
}

// Peer is one websocket connection from the server's point of view.
type Peer interface {
	GetID() string
	Send(e Event) error
}

type (
	JoinRoom struct {
		RoomID string `json:"roomId"`
		Role   string `json:"role"`
	}

	Ready struct {
		RoomID string `json:"roomId"`
		Role   string `json:"role"`
	}

	// RoomRef is the payload of events that only reference a room
	// (needRenegotiate, connectionEstablished).
	RoomRef struct {
		RoomID string `json:"roomId"`
	}

	// Signal carries an SDP or ICE payload that is relayed without
	// inspection.
	Signal struct {
		RoomID    string          `json:"roomId"`
		SDP       json.RawMessage `json:"sdp,omitempty"`
		Candidate json.RawMessage `json:"candidate,omitempty"`
	}

	UserJoined struct {
		Role         string `json:"role"`
		ConnectionID string `json:"connectionId"`
	}

	UserLeft struct {
		ConnectionID string `json:"connectionId"`
	}

	Participant struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Color string `json:"color"`
	}

	JoinCodeEditor struct {
		RoomID      string      `json:"roomId"`
		Participant Participant `json:"participant"`
	}

	LeaveCodeEditor struct {
		RoomID        string `json:"roomId"`
		ParticipantID string `json:"participantId"`
	}

	Range struct {
		StartLineNumber int64 `json:"startLineNumber"`
		StartColumn     int64 `json:"startColumn"`
		EndLineNumber   int64 `json:"endLineNumber"`
		EndColumn       int64 `json:"endColumn"`
	}

	// Change is a Monaco-style edit descriptor.
	Change struct {
		Range     Range  `json:"range"`
		Text      string `json:"text"`
		Timestamp int64  `json:"timestamp"`
		UserID    string `json:"userId"`
	}

	CodeChange struct {
		RoomID string `json:"roomId"`
		Change Change `json:"change"`
	}

	LanguageChange struct {
		RoomID   string `json:"roomId"`
		Language string `json:"language"`
		UserID   string `json:"userId"`
	}

	CodeExecution struct {
		RoomID   string `json:"roomId"`
		Code     string `json:"code"`
		Language string `json:"language"`
		UserID   string `json:"userId"`
	}

	CodeExecutionResult struct {
		Output string `json:"output,omitempty"`
		Error  string `json:"error,omitempty"`
	}

	CodeReset struct {
		RoomID string `json:"roomId"`
		Code   string `json:"code"`
		UserID string `json:"userId"`
	}

	ErrorMessage struct {
		Message string `json:"message"`
	}
)

// NewEvent builds an envelope around the given payload. Marshalling a plain
// payload struct cannot fail, so the error is swallowed here.
func NewEvent(name string, payload interface{}) Event {
	b, _ := json.Marshal(payload)
	return Event{Event: name, Data: b}
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event '%s' has no payload", e.Event)
	}
	return json.Unmarshal(e.Data, v)
}

// FullDocument reports whether r is the sentinel "replace everything" range.
func (r Range) FullDocument() bool {
	return r.StartLineNumber == 1 && r.StartColumn == 1 && r.EndLineNumber == MaxPosition
}

// SentinelRange is the range a receiver must treat as a full-document
// replacement rather than a bounded edit.
func SentinelRange() Range {
	return Range{StartLineNumber: 1, StartColumn: 1, EndLineNumber: MaxPosition, EndColumn: MaxPosition}
}

// Validate checks an inbound event against its expected payload variant.
// Unknown events and malformed payloads are rejected at the boundary instead
// of propagating undefined fields.
func (e *Event) Validate() error {
	switch e.Event {
	case EvtJoinRoom:
		var p JoinRoom
		if err := e.Decode(&p); err != nil {
			return err
		}
		if err := requireRoom(e.Event, p.RoomID); err != nil {
			return err
		}
		return requireRole(e.Event, p.Role)
	case EvtReady:
		var p Ready
		if err := e.Decode(&p); err != nil {
			return err
		}
		if err := requireRoom(e.Event, p.RoomID); err != nil {
			return err
		}
		return requireRole(e.Event, p.Role)
	case EvtNeedRenegotiate, EvtConnectionEstablished:
		var p RoomRef
		if err := e.Decode(&p); err != nil {
			return err
		}
		return requireRoom(e.Event, p.RoomID)
	case EvtOffer, EvtAnswer:
		var p Signal
		if err := e.Decode(&p); err != nil {
			return err
		}
		if err := requireRoom(e.Event, p.RoomID); err != nil {
			return err
		}
		if len(p.SDP) == 0 {
			return fmt.Errorf("invalid '%s' event, param 'sdp' is required", e.Event)
		}
		return nil
	case EvtICECandidate:
		var p Signal
		if err := e.Decode(&p); err != nil {
			return err
		}
		if err := requireRoom(e.Event, p.RoomID); err != nil {
			return err
		}
		if len(p.Candidate) == 0 {
			return fmt.Errorf("invalid '%s' event, param 'candidate' is required", e.Event)
		}
		return nil
	case EvtJoinCodeEditor:
		var p JoinCodeEditor
		if err := e.Decode(&p); err != nil {
			return err
		}
		if err := requireRoom(e.Event, p.RoomID); err != nil {
			return err
		}
		if strings.TrimSpace(p.Participant.ID) == "" {
			return fmt.Errorf("invalid '%s' event, participant id is required", e.Event)
		}
		return nil
	case EvtLeaveCodeEditor:
		var p LeaveCodeEditor
		if err := e.Decode(&p); err != nil {
			return err
		}
		if err := requireRoom(e.Event, p.RoomID); err != nil {
			return err
		}
		if strings.TrimSpace(p.ParticipantID) == "" {
			return fmt.Errorf("invalid '%s' event, param 'participantId' is required", e.Event)
		}
		return nil
	case EvtCodeChange:
		var p CodeChange
		if err := e.Decode(&p); err != nil {
			return err
		}
		if err := requireRoom(e.Event, p.RoomID); err != nil {
			return err
		}
		if strings.TrimSpace(p.Change.UserID) == "" {
			return fmt.Errorf("invalid '%s' event, change author is required", e.Event)
		}
		return nil
	case EvtLanguageChange:
		var p LanguageChange
		if err := e.Decode(&p); err != nil {
			return err
		}
		if err := requireRoom(e.Event, p.RoomID); err != nil {
			return err
		}
		if strings.TrimSpace(p.Language) == "" {
			return fmt.Errorf("invalid '%s' event, param 'language' is required", e.Event)
		}
		return nil
	case EvtCodeExecution:
		var p CodeExecution
		if err := e.Decode(&p); err != nil {
			return err
		}
		if err := requireRoom(e.Event, p.RoomID); err != nil {
			return err
		}
		if strings.TrimSpace(p.Language) == "" {
			return fmt.Errorf("invalid '%s' event, param 'language' is required", e.Event)
		}
		return nil
	case EvtCodeReset:
		var p CodeReset
		if err := e.Decode(&p); err != nil {
			return err
		}
		return requireRoom(e.Event, p.RoomID)
	default:
		return fmt.Errorf("invalid event: '%s'", e.Event)
	}
}

func requireRoom(event, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("invalid '%s' event, param 'roomId' is required", event)
	}
	return nil
}

func requireRole(event, role string) error {
	if role != RoleHost && role != RoleGuest {
		return fmt.Errorf("invalid '%s' event, param 'role' must be '%s' or '%s'", event, RoleHost, RoleGuest)
	}
	return nil
}
