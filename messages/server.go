package messages

import "time"

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeConnectionFailed = "CONNECTION_FAILED"
	ErrCodeRemoteError      = "REMOTE_ERROR"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	ErrCodeSessionActive    = "SESSION_ACTIVE"
	ErrCodeStalled          = "STALLED"
	ErrCodeSessionFailed    = "SESSION_FAILED"
)

// Message types
const (
	TypeState      = "state"
	TypeTranscript = "transcript"
	TypeSnapshot   = "snapshot"
	TypePong       = "pong"
	TypeError      = "error"
)

// ServerMessage represents a message sent to frontend clients
type ServerMessage struct {
	Type      string      `json:"type"` // "state", "transcript", "snapshot", "pong", "error"
	SessionID string      `json:"sessionId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// StatePayload reports a session state transition
type StatePayload struct {
	State string `json:"state"` // "idle", "connecting", "active"
	// Reason is set when the session ended, e.g. "stopped" or "remote_error".
	Reason string `json:"reason,omitempty"`
}

// TranscriptLine is one rendered transcript fragment
type TranscriptLine struct {
	Speaker string    `json:"speaker"` // "user", "model"
	Text    string    `json:"text"`
	Display string    `json:"display"` // "You: ..." or "Model: ..."
	Final   bool      `json:"final,omitempty"`
	At      time.Time `json:"at"`
}

// SnapshotPayload is sent once when a client connects
type SnapshotPayload struct {
	State      string           `json:"state"`
	Transcript []TranscriptLine `json:"transcript"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewStateMessage creates a state message
func NewStateMessage(sessionID, state, reason string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeState,
		SessionID: sessionID,
		Payload: StatePayload{
			State:  state,
			Reason: reason,
		},
	}
}

// NewTranscriptMessage creates a message carrying one transcript line
func NewTranscriptMessage(sessionID string, line TranscriptLine) *ServerMessage {
	return &ServerMessage{
		Type:      TypeTranscript,
		SessionID: sessionID,
		Payload:   line,
	}
}

// NewSnapshotMessage creates the message sent on connect
func NewSnapshotMessage(sessionID, state string, transcript []TranscriptLine) *ServerMessage {
	if transcript == nil {
		transcript = []TranscriptLine{}
	}
	return &ServerMessage{
		Type:      TypeSnapshot,
		SessionID: sessionID,
		Payload: SnapshotPayload{
			State:      state,
			Transcript: transcript,
		},
	}
}

// NewPongMessage answers a ping
func NewPongMessage(sessionID string) *ServerMessage {
	return &ServerMessage{Type: TypePong, SessionID: sessionID}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
