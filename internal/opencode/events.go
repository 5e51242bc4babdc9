package opencode

import (
	"encoding/json"
	"fmt"
)

// Event type names as sent by the server.
const (
	TypeMessageUpdated    = "message.updated"
	TypePartUpdated       = "message.part.updated"
	TypeSessionStatus     = "session.status"
	TypeSessionIdle       = "session.idle"
	TypeSessionCompacted  = "session.compacted"
	TypeSessionDiff       = "session.diff"
	TypeSessionUpdated    = "session.updated"
	TypeQuestionAsked     = "question.asked"
	TypeQuestionReplied   = "question.replied"
	TypeQuestionRejected  = "question.rejected"
	TypePermissionAsked   = "permission.asked"
	TypePermissionReplied = "permission.replied"
)

// Event is one decoded server event. The concrete type is one of the
// structs in this file; switch on it to handle an event.
type Event interface {
	// Type returns the wire type name.
	Type() string
	// SessionID returns the session the event belongs to, or "".
	SessionID() string
}

// MessageUpdated reports a new or changed message.
type MessageUpdated struct {
	Info MessageInfo `json:"info"`
}

func (MessageUpdated) Type() string        { return TypeMessageUpdated }
func (e MessageUpdated) SessionID() string { return e.Info.SessionID }

// PartUpdated reports a new or changed message part.
type PartUpdated struct {
	Part  Part   `json:"part"`
	Delta string `json:"delta,omitempty"`
}

func (PartUpdated) Type() string        { return TypePartUpdated }
func (e PartUpdated) SessionID() string { return e.Part.SessionID }

// SessionStatus reports a session run state change.
type SessionStatus struct {
	Session string       `json:"sessionID"`
	Status  SessionState `json:"status"`
}

func (SessionStatus) Type() string        { return TypeSessionStatus }
func (e SessionStatus) SessionID() string { return e.Session }

// SessionIdle reports that a session stopped processing.
type SessionIdle struct {
	Session string `json:"sessionID"`
}

func (SessionIdle) Type() string        { return TypeSessionIdle }
func (e SessionIdle) SessionID() string { return e.Session }

// SessionCompacted reports that a session history was summarized.
type SessionCompacted struct {
	Session string `json:"sessionID"`
}

func (SessionCompacted) Type() string        { return TypeSessionCompacted }
func (e SessionCompacted) SessionID() string { return e.Session }

// SessionDiff carries the full set of files changed by a session.
type SessionDiff struct {
	Session string     `json:"sessionID"`
	Diff    []FileDiff `json:"diff"`
}

func (SessionDiff) Type() string        { return TypeSessionDiff }
func (e SessionDiff) SessionID() string { return e.Session }

// SessionUpdated reports changed session metadata such as the title.
type SessionUpdated struct {
	Info Session `json:"info"`
}

func (SessionUpdated) Type() string        { return TypeSessionUpdated }
func (e SessionUpdated) SessionID() string { return e.Info.ID }

// QuestionAsked carries a poll the agent waits on.
type QuestionAsked struct {
	ID        string     `json:"id"`
	Session   string     `json:"sessionID"`
	Questions []Question `json:"questions"`
}

func (QuestionAsked) Type() string        { return TypeQuestionAsked }
func (e QuestionAsked) SessionID() string { return e.Session }

// QuestionReplied reports that a poll was answered.
type QuestionReplied struct {
	Session   string `json:"sessionID"`
	RequestID string `json:"requestID"`
}

func (QuestionReplied) Type() string        { return TypeQuestionReplied }
func (e QuestionReplied) SessionID() string { return e.Session }

// QuestionRejected reports that a poll was dismissed.
type QuestionRejected struct {
	Session   string `json:"sessionID"`
	RequestID string `json:"requestID"`
}

func (QuestionRejected) Type() string        { return TypeQuestionRejected }
func (e QuestionRejected) SessionID() string { return e.Session }

// PermissionAsked carries a permission request.
type PermissionAsked struct {
	PermissionRequest
}

func (PermissionAsked) Type() string        { return TypePermissionAsked }
func (e PermissionAsked) SessionID() string { return e.PermissionRequest.SessionID }

// PermissionReplied reports that a permission request was answered.
type PermissionReplied struct {
	Session   string `json:"sessionID"`
	RequestID string `json:"requestID"`
	Reply     string `json:"reply"`
}

func (PermissionReplied) Type() string        { return TypePermissionReplied }
func (e PermissionReplied) SessionID() string { return e.Session }

// Unknown is an event of an unhandled type, or one whose payload failed to
// decode. Err is set in the latter case.
type Unknown struct {
	Name       string
	Properties json.RawMessage
	Err        error
}

func (e Unknown) Type() string    { return e.Name }
func (Unknown) SessionID() string { return "" }

type envelope struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// DecodeEvent parses one event payload. Only a payload that is not an
// event envelope at all yields an error; unknown types and malformed
// properties come back as Unknown.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("event without type")
	}

	var ev Event
	switch env.Type {
	case TypeMessageUpdated:
		ev = decodeAs[MessageUpdated](env.Properties)
	case TypePartUpdated:
		ev = decodeAs[PartUpdated](env.Properties)
	case TypeSessionStatus:
		ev = decodeAs[SessionStatus](env.Properties)
	case TypeSessionIdle:
		ev = decodeAs[SessionIdle](env.Properties)
	case TypeSessionCompacted:
		ev = decodeAs[SessionCompacted](env.Properties)
	case TypeSessionDiff:
		ev = decodeAs[SessionDiff](env.Properties)
	case TypeSessionUpdated:
		ev = decodeAs[SessionUpdated](env.Properties)
	case TypeQuestionAsked:
		ev = decodeAs[QuestionAsked](env.Properties)
	case TypeQuestionReplied:
		ev = decodeAs[QuestionReplied](env.Properties)
	case TypeQuestionRejected:
		ev = decodeAs[QuestionRejected](env.Properties)
	case TypePermissionAsked:
		ev = decodeAs[PermissionAsked](env.Properties)
	case TypePermissionReplied:
		ev = decodeAs[PermissionReplied](env.Properties)
	default:
		return Unknown{Name: env.Type, Properties: env.Properties}, nil
	}
	if u, ok := ev.(Unknown); ok {
		u.Name = env.Type
		return u, nil
	}
	return ev, nil
}

func decodeAs[T Event](props json.RawMessage) Event {
	var v T
	if len(props) == 0 {
		return Unknown{Properties: props, Err: fmt.Errorf("missing properties")}
	}
	if err := json.Unmarshal(props, &v); err != nil {
		return Unknown{Properties: props, Err: err}
	}
	return v
}
