package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/room4-2/auralive/audio"
	"github.com/room4-2/auralive/session"
)

// FileMicrophone replays a recording as if it were being spoken into a
// microphone. The file is 16-bit mono PCM, raw or wrapped in a WAV header,
// at the capture rate.
type FileMicrophone struct {
	Path string
	// Realtime paces frames at their playback duration. When false frames
	// are delivered as fast as the session takes them.
	Realtime bool
	// TrailingSilence is appended after the recording so the remote side can
	// detect the end of speech.
	TrailingSilence time.Duration
}

var _ session.Microphone = (*FileMicrophone)(nil)

// NewFileMicrophone replays path in real time followed by two seconds of
// silence.
func NewFileMicrophone(path string) *FileMicrophone {
	return &FileMicrophone{
		Path:            path,
		Realtime:        true,
		TrailingSilence: 2 * time.Second,
	}
}

// Open loads the file and starts delivering frames.
func (f *FileMicrophone) Open(ctx context.Context, format audio.Format, frameSize int) (session.CaptureStream, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	pcm, err := loadPCM(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}

	framer := audio.NewFramer(frameSize)
	frames := framer.Write(audio.DecodePCM16(pcm))
	if rest := framer.Pending(); rest > 0 {
		frames = append(frames, framer.Write(make([]float32, framer.FrameSize()-rest))...)
	}
	size := framer.FrameSize()
	silence := audio.Samples(f.TrailingSilence, format.SampleRate)
	for n := 0; n < silence; n += size {
		frames = append(frames, make([]float32, size))
	}

	log.Printf("📁 Replaying %s: %d frame(s), %s", f.Path, len(frames), format.Duration(len(frames)*size))

	s := &fileStream{
		frames: make(chan []float32),
		done:   make(chan struct{}),
	}
	var tick time.Duration
	if f.Realtime {
		tick = format.Duration(size)
	}
	s.wg.Add(1)
	go s.run(frames, tick)
	return s, nil
}

// loadPCM strips a WAV header if present and checks it describes the
// expected format. Anything else is taken as raw PCM.
func loadPCM(data []byte, format audio.Format) ([]byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return data, nil
	}

	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, fmt.Errorf("truncated WAV fmt chunk")
			}
			tag := binary.LittleEndian.Uint16(data[body:])
			channels := int(binary.LittleEndian.Uint16(data[body+2:]))
			rate := int(binary.LittleEndian.Uint32(data[body+4:]))
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if tag != 1 || bits != 16 {
				return nil, fmt.Errorf("WAV must be 16-bit PCM, got format %d with %d bits", tag, bits)
			}
			if channels != format.Channels || rate != format.SampleRate {
				return nil, fmt.Errorf("WAV is %d Hz/%d ch, want %d Hz/%d ch", rate, channels, format.SampleRate, format.Channels)
			}
		case "data":
			return data[body:end], nil
		}
		off = body + size + size%2
	}
	return nil, fmt.Errorf("WAV has no data chunk")
}

type fileStream struct {
	frames chan []float32
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (s *fileStream) run(frames [][]float32, tick time.Duration) {
	defer s.wg.Done()
	defer close(s.frames)

	var ticker *time.Ticker
	if tick > 0 {
		ticker = time.NewTicker(tick)
		defer ticker.Stop()
	}

	for _, frame := range frames {
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.done:
				return
			}
		}
		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

func (s *fileStream) Frames() <-chan []float32 {
	return s.frames
}

func (s *fileStream) Close() error {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}
