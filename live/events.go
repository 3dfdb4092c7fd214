package live

import (
	"errors"
	"fmt"
	"strings"
)

// Speaker tags a transcript fragment.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Event is one inbound message from the remote endpoint. The set of
// implementations is closed: Opened, AudioChunk, Interrupted, Transcription,
// TurnComplete, RemoteError and Closed.
type Event interface {
	isEvent()
	// Kind returns a short name used in logs and metrics.
	Kind() string
}

// Opened reports that the remote side accepted the session setup.
type Opened struct{}

// AudioChunk carries 16-bit LE PCM produced by the model. A trailing odd
// byte is not part of any sample and is ignored when decoding.
type AudioChunk struct {
	Data []byte
}

// Interrupted reports that the user started speaking over the model, so any
// audio still queued for playback is stale.
type Interrupted struct{}

// Transcription carries a fragment of user or model speech as text.
type Transcription struct {
	Speaker Speaker
	Text    string
	// Final is set when the remote side marks the fragment as finished.
	Final bool
}

// TurnComplete reports that the model finished its turn.
type TurnComplete struct{}

// RemoteError reports a mid-session failure on the remote side or transport.
// Err may be nil when the remote side gives no cause.
type RemoteError struct {
	Err error
}

// Closed reports that the remote side ended the session.
type Closed struct {
	Reason string
}

func (Opened) isEvent()        {}
func (AudioChunk) isEvent()    {}
func (Interrupted) isEvent()   {}
func (Transcription) isEvent() {}
func (TurnComplete) isEvent()  {}
func (RemoteError) isEvent()   {}
func (Closed) isEvent()        {}

func (Opened) Kind() string        { return "opened" }
func (AudioChunk) Kind() string    { return "audio" }
func (Interrupted) Kind() string   { return "interrupted" }
func (Transcription) Kind() string { return "transcription" }
func (TurnComplete) Kind() string  { return "turn_complete" }
func (RemoteError) Kind() string   { return "error" }
func (Closed) Kind() string        { return "closed" }

// ErrInvalidEvent is returned by Validate for malformed events.
var ErrInvalidEvent = errors.New("invalid event")

// Validate checks an event at the boundary before it reaches the state machine.
func Validate(ev Event) error {
	switch e := ev.(type) {
	case nil:
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	case AudioChunk:
		if len(e.Data) == 0 {
			return fmt.Errorf("%w: empty audio chunk", ErrInvalidEvent)
		}
	case Transcription:
		if e.Speaker != SpeakerUser && e.Speaker != SpeakerModel {
			return fmt.Errorf("%w: unknown speaker %q", ErrInvalidEvent, e.Speaker)
		}
		if strings.TrimSpace(e.Text) == "" {
			return fmt.Errorf("%w: empty transcription", ErrInvalidEvent)
		}
	}
	return nil
}
