// Package device binds the session manager to real audio hardware and to
// file-backed stand-ins for headless runs.
package device

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/room4-2/auralive/audio"
	"github.com/room4-2/auralive/session"
)

// captureBacklog is how many frames may wait for the session before the
// audio callback starts dropping them.
const captureBacklog = 16

// Microphone captures from the default input device through miniaudio.
type Microphone struct {
	ctx *malgo.AllocatedContext
}

var _ session.Microphone = (*Microphone)(nil)

// NewMicrophone initialises the audio backend.
func NewMicrophone() (*Microphone, error) {
	config := malgo.ContextConfig{}
	config.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, config, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}
	return &Microphone{ctx: ctx}, nil
}

// Open starts the default capture device. A refused device is reported as
// session.ErrPermissionDenied.
func (m *Microphone) Open(ctx context.Context, format audio.Format, frameSize int) (session.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream := &captureStream{
		frames: make(chan []float32, captureBacklog),
		framer: audio.NewFramer(frameSize),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) { stream.push(input) },
	})
	if err != nil {
		return nil, classifyDeviceError("failed to init microphone", err)
	}
	stream.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, classifyDeviceError("failed to start microphone", err)
	}

	log.Printf("🎤 Microphone open (%d Hz, %d samples/frame)", format.SampleRate, frameSize)
	return stream, nil
}

// Close releases the audio backend.
func (m *Microphone) Close() error {
	if err := m.ctx.Uninit(); err != nil {
		return err
	}
	m.ctx.Free()
	return nil
}

func classifyDeviceError(msg string, err error) error {
	text := strings.ToLower(err.Error())
	if strings.Contains(text, "denied") || strings.Contains(text, "permission") {
		return fmt.Errorf("%s: %w: %w", msg, session.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// captureStream turns device callbacks into fixed-size frames.
type captureStream struct {
	device *malgo.Device
	frames chan []float32
	framer *audio.Framer

	mu      sync.Mutex
	closed  bool
	dropped int
}

// push runs on the audio thread and must never block.
func (s *captureStream) push(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for _, frame := range s.framer.Write(audio.DecodePCM16(pcm)) {
		select {
		case s.frames <- frame:
		default:
			s.dropped++
		}
	}
}

func (s *captureStream) Frames() <-chan []float32 {
	return s.frames
}

func (s *captureStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := s.dropped
	s.framer.Clear()
	close(s.frames)
	s.mu.Unlock()

	if dropped > 0 {
		log.Printf("⚠️ Microphone dropped %d frame(s) while the session was busy", dropped)
	}
	if s.device == nil {
		return nil
	}
	err := s.device.Stop()
	s.device.Uninit()
	return err
}
