// Package live defines the contract between the session manager and a
// remote real-time voice endpoint.
//
// A Connector opens a Connection; everything the remote side reports comes
// back through a single EventHandler as one of a closed set of Event types.
// This keeps the vendor SDK out of the session state machine and lets tests
// drive it with a fake endpoint.
package live

import (
	"context"

	"github.com/room4-2/auralive/audio"
)

// ConnectConfig is the per-session configuration sent during the handshake.
// Responses are always requested as audio.
type ConnectConfig struct {
	Model             string
	Voice             string
	SystemInstruction string

	// InputTranscription asks the remote side to transcribe the user's speech.
	InputTranscription bool
	// OutputTranscription asks the remote side to transcribe its own speech.
	OutputTranscription bool
}

// EventHandler receives every inbound event for one connection, in order.
// It is called from the connection's receive goroutine.
type EventHandler func(Event)

// Connection is an open bidirectional session.
type Connection interface {
	// SendAudio transmits one PCM payload tagged with its format.
	SendAudio(pcm []byte, format audio.Format) error
	// Close terminates the session. Calling Close more than once is safe.
	Close() error
}

// Connector opens connections to the remote endpoint.
type Connector interface {
	// Connect performs the transport handshake and returns once the
	// connection can accept audio. The Opened event marks the point where the
	// remote side has acknowledged the session setup.
	Connect(ctx context.Context, cfg ConnectConfig, handler EventHandler) (Connection, error)
}
