package device

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/room4-2/auralive/audio"
	"github.com/room4-2/auralive/playback"
	"github.com/room4-2/auralive/session"
)

// ClockSink is a Speaker for machines without an output device. It drains
// each timeline in real time, optionally copying the PCM to a writer, so the
// playback clock advances exactly as it would on a sound card.
type ClockSink struct {
	w io.Writer
	// Tick is how often the timeline is drained.
	Tick time.Duration
}

var _ session.Speaker = (*ClockSink)(nil)

// NewClockSink returns a sink that writes played PCM to w. w may be nil.
func NewClockSink(w io.Writer) *ClockSink {
	return &ClockSink{w: w, Tick: 20 * time.Millisecond}
}

// Open starts draining a new timeline.
func (c *ClockSink) Open(format audio.Format) (playback.Output, error) {
	tick := c.Tick
	if tick <= 0 {
		tick = 20 * time.Millisecond
	}

	out := &clockOutput{
		Timeline: playback.NewTimeline(format),
		w:        c.w,
		done:     make(chan struct{}),
	}
	out.wg.Add(1)
	go out.drain(tick)
	return out, nil
}

type clockOutput struct {
	*playback.Timeline
	w    io.Writer
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (o *clockOutput) drain(tick time.Duration) {
	defer o.wg.Done()

	format := o.Format()
	buf := make([]byte, audio.Samples(tick, format.SampleRate)*format.BytesPerFrame())
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
		}

		n, err := o.Read(buf)
		if n > 0 && o.w != nil {
			if _, werr := o.w.Write(buf[:n]); werr != nil {
				log.Printf("⚠️ Failed to write playback audio: %v", werr)
				o.w = nil
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
	}
}

func (o *clockOutput) Close() error {
	o.once.Do(func() {
		_ = o.Timeline.Close()
		close(o.done)
	})
	o.wg.Wait()
	return nil
}
