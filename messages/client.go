package messages

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Client message types
const (
	TypeControl = "control"
)

// Control actions
const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionPing  = "ping"
)

// ClientMessage represents a message from a frontend client
type ClientMessage struct {
	Type    string          `json:"type"` // "control"
	Payload json.RawMessage `json:"payload"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "start", "stop", "ping"
}

// DecodeControl parses a control message and returns its action.
func DecodeControl(data []byte) (string, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("invalid message format: %w", err)
	}
	if msg.Type != TypeControl {
		return "", fmt.Errorf("unsupported message type %q", msg.Type)
	}

	var payload ControlPayload
	if err := sonic.Unmarshal(msg.Payload, &payload); err != nil {
		return "", fmt.Errorf("invalid control payload: %w", err)
	}
	switch payload.Action {
	case ActionStart, ActionStop, ActionPing:
		return payload.Action, nil
	default:
		return "", fmt.Errorf("unknown action %q", payload.Action)
	}
}

// NewControlMessage builds a control message, as sent by clients.
func NewControlMessage(action string) *ClientMessage {
	payload, _ := sonic.Marshal(ControlPayload{Action: action})
	return &ClientMessage{Type: TypeControl, Payload: payload}
}
