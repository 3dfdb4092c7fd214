package playback

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	"github.com/room4-2/auralive/audio"
)

// Timeline is an Output whose clock advances as its PCM stream is read.
// A device pulls 16-bit LE PCM from it through Read; scheduled voices are
// mixed in at their sample offsets and silence fills the gaps, so the clock
// keeps running whether or not anything is playing.
type Timeline struct {
	format audio.Format

	mu       sync.Mutex
	position int64 // frames handed out so far
	voices   []*timelineVoice
	mix      []float32
	closed   bool
}

type timelineVoice struct {
	timeline *Timeline
	samples  []float32
	start    int64
	onEnded  func()
}

var _ Output = (*Timeline)(nil)

// NewTimeline creates a timeline producing the given format. Scheduled
// samples are mono and are copied to every channel.
func NewTimeline(format audio.Format) *Timeline {
	if format.Channels <= 0 {
		format.Channels = 1
	}
	return &Timeline{format: format}
}

// Format returns the PCM layout produced by Read.
func (t *Timeline) Format() audio.Format {
	return t.format
}

// Now returns the amount of audio read from the timeline so far.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return audio.Duration(int(t.position), t.format.SampleRate)
}

// Play schedules samples at the given clock time. Times already in the past
// start at the current position.
func (t *Timeline) Play(samples []float32, at time.Duration, onEnded func()) (Voice, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	start := int64(audio.Samples(at, t.format.SampleRate))
	if start < t.position {
		start = t.position
	}

	v := &timelineVoice{
		timeline: t,
		samples:  samples,
		start:    start,
		onEnded:  onEnded,
	}
	t.voices = append(t.voices, v)
	return v, nil
}

// Active returns the number of voices that are playing or waiting to play.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Read fills p with whole frames of mixed PCM and advances the clock.
// It returns io.EOF once the timeline is closed.
func (t *Timeline) Read(p []byte) (int, error) {
	bpf := t.format.BytesPerFrame()
	frames := len(p) / bpf
	if frames == 0 {
		return 0, nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.EOF
	}

	if cap(t.mix) < frames {
		t.mix = make([]float32, frames)
	}
	mix := t.mix[:frames]
	for i := range mix {
		mix[i] = 0
	}

	from := t.position
	to := from + int64(frames)
	var ended []func()
	kept := t.voices[:0]

	for _, v := range t.voices {
		end := v.start + int64(len(v.samples))
		lo, hi := max(v.start, from), min(end, to)
		for pos := lo; pos < hi; pos++ {
			mix[pos-from] += v.samples[pos-v.start]
		}
		if end <= to {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(t.voices); i++ {
		t.voices[i] = nil
	}
	t.voices = kept
	t.position = to

	for i, s := range mix {
		sample := uint16(clip(s))
		for ch := 0; ch < t.format.Channels; ch++ {
			binary.LittleEndian.PutUint16(p[i*bpf+ch*2:], sample)
		}
	}
	t.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
	return frames * bpf, nil
}

// Close stops all voices without notifying them and ends the PCM stream.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.voices = nil
	return nil
}

func (v *timelineVoice) Stop() {
	t := v.timeline
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, other := range t.voices {
		if other == v {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			return
		}
	}
}

func clip(s float32) int16 {
	v := float64(s) * 32768
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
