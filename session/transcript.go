package session

import (
	"sync"
	"time"

	"github.com/room4-2/auralive/live"
)

// DefaultTranscriptLimit keeps the ten previous lines plus the newest one.
const DefaultTranscriptLimit = 11

// Line is one tagged transcript fragment.
type Line struct {
	Speaker live.Speaker `json:"speaker"`
	Text    string       `json:"text"`
	Final   bool         `json:"final,omitempty"`
	At      time.Time    `json:"at"`
}

// String renders the line the way the live view shows it.
func (l Line) String() string {
	if l.Speaker == live.SpeakerUser {
		return "You: " + l.Text
	}
	return "Model: " + l.Text
}

// Transcript is a bounded, append-only log of the most recent lines.
type Transcript struct {
	limit int
	lines []Line
	mu    sync.RWMutex
}

// NewTranscript creates a log that keeps at most limit lines.
func NewTranscript(limit int) *Transcript {
	if limit <= 0 {
		limit = DefaultTranscriptLimit
	}
	return &Transcript{
		limit: limit,
		lines: make([]Line, 0, limit),
	}
}

// Append adds a line, evicting the oldest once the limit is reached.
func (t *Transcript) Append(line Line) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.lines) == t.limit {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.limit-1]
	}
	t.lines = append(t.lines, line)
}

// Lines returns a copy of the retained lines, oldest first.
func (t *Transcript) Lines() []Line {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Line, len(t.lines))
	copy(out, t.lines)
	return out
}

// Len returns the number of retained lines.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.lines)
}

// Limit returns the maximum number of retained lines.
func (t *Transcript) Limit() int {
	return t.limit
}
