package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/room4-2/auralive/audio"
	"github.com/room4-2/auralive/playback"
	"github.com/room4-2/auralive/session"
)

// playerBuffer is the device-side buffer; 100ms keeps latency low without
// glitching.
const playerBuffer = 100 * time.Millisecond

// Speaker plays through the default output device. oto allows a single
// context per process, so the first Open fixes the output format.
type Speaker struct {
	mu     sync.Mutex
	ctx    *oto.Context
	format audio.Format
}

var _ session.Speaker = (*Speaker)(nil)

// NewSpeaker returns a speaker whose device is opened lazily.
func NewSpeaker() *Speaker {
	return &Speaker{}
}

// Open starts a player that pulls mixed PCM from a fresh playback timeline.
func (s *Speaker) Open(format audio.Format) (playback.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   playerBuffer,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init speaker: %w", err)
		}
		<-ready
		s.ctx = ctx
		s.format = format
	} else if s.format != format {
		return nil, fmt.Errorf("speaker already running at %d Hz/%d ch, cannot open %d Hz/%d ch",
			s.format.SampleRate, s.format.Channels, format.SampleRate, format.Channels)
	}

	timeline := playback.NewTimeline(format)
	player := s.ctx.NewPlayer(timeline)
	player.Play()
	return &speakerOutput{Timeline: timeline, player: player}, nil
}

type speakerOutput struct {
	*playback.Timeline
	player *oto.Player
	once   sync.Once
}

func (o *speakerOutput) Close() error {
	var err error
	o.once.Do(func() {
		_ = o.Timeline.Close()
		o.player.Pause()
		err = o.player.Close()
	})
	return err
}
