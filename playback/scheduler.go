// Package playback schedules decoded model audio for gapless output.
//
// A Scheduler keeps a running cursor: each buffer starts at
// max(cursor, output clock) and pushes the cursor forward by its duration, so
// chunks arriving at irregular intervals play back to back without ever being
// scheduled in the past. Interrupt stops everything still queued or playing.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/room4-2/auralive/audio"
)

// ErrClosed is returned when scheduling onto a closed output or scheduler.
var ErrClosed = errors.New("playback closed")

// Voice is one scheduled buffer on an Output.
type Voice interface {
	// Stop silences the voice immediately. Stopping twice is harmless.
	Stop()
}

// Output is a playback clock that can start buffers at a given time.
type Output interface {
	// Now returns the current playback clock.
	Now() time.Duration
	// Play schedules samples to start at the given clock time. onEnded is
	// called once the voice has played to completion; it is not called for
	// voices that were stopped, and never from inside Play itself.
	Play(samples []float32, at time.Duration, onEnded func()) (Voice, error)
	// Close releases the output.
	Close() error
}

// Scheduler tracks the playback cursor and the set of buffers not yet finished.
type Scheduler struct {
	out        Output
	sampleRate int

	mu        sync.Mutex
	cursor    time.Duration
	scheduled map[uint64]Voice
	nextID    uint64
	closed    bool
}

// NewScheduler creates a scheduler for buffers at sampleRate on out.
func NewScheduler(out Output, sampleRate int) *Scheduler {
	return &Scheduler{
		out:        out,
		sampleRate: sampleRate,
		scheduled:  make(map[uint64]Voice),
	}
}

// Enqueue schedules samples right after everything already queued, or at the
// current clock if the queue has drained. It returns the start time used.
func (s *Scheduler) Enqueue(samples []float32) (time.Duration, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	start := s.cursor
	if now := s.out.Now(); now > start {
		start = now
	}

	id := s.nextID
	s.nextID++

	voice, err := s.out.Play(samples, start, func() { s.finished(id) })
	if err != nil {
		return 0, fmt.Errorf("failed to schedule buffer: %w", err)
	}

	s.scheduled[id] = voice
	s.cursor = start + audio.Duration(len(samples), s.sampleRate)
	return start, nil
}

func (s *Scheduler) finished(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, id)
}

// Interrupt stops every scheduled buffer, clears the set and resets the
// cursor to zero so the next buffer starts at the current clock.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	voices := s.drain()
	s.cursor = 0
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	return len(voices)
}

// Close interrupts all playback and refuses further buffers. The underlying
// Output is left open; its owner closes it.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	voices := s.drain()
	s.cursor = 0
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
}

func (s *Scheduler) drain() []Voice {
	voices := make([]Voice, 0, len(s.scheduled))
	for id, v := range s.scheduled {
		voices = append(voices, v)
		delete(s.scheduled, id)
	}
	return voices
}

// Pending returns the number of buffers scheduled and not yet finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

// Cursor returns the time at which the next buffer would start if the clock
// has not passed it.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
