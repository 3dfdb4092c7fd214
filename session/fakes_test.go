package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/room4-2/auralive/audio"
	"github.com/room4-2/auralive/live"
	"github.com/room4-2/auralive/playback"
)

// fakeConnector hands out fakeConns. greet runs synchronously inside Connect
// with the session's handler, the way a transport may deliver the setup
// acknowledgement before Connect returns.
type fakeConnector struct {
	mu       sync.Mutex
	err      error
	greet    func(h live.EventHandler)
	sendErr  error
	gate     chan struct{}
	calls    int
	cfg      live.ConnectConfig
	handler  live.EventHandler
	conn     *fakeConn
	handlers []live.EventHandler
}

func openOnConnect(h live.EventHandler) { h(live.Opened{}) }

func (c *fakeConnector) Connect(ctx context.Context, cfg live.ConnectConfig, handler live.EventHandler) (live.Connection, error) {
	c.mu.Lock()
	c.calls++
	c.cfg = cfg
	c.handler = handler
	c.handlers = append(c.handlers, handler)
	err, greet := c.err, c.greet
	conn := &fakeConn{
		sent:    make(chan []byte, 256),
		sendErr: c.sendErr,
		gate:    c.gate,
		closing: make(chan struct{}),
	}
	if err == nil {
		c.conn = conn
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if greet != nil {
		greet(handler)
	}
	return conn, nil
}

func (c *fakeConnector) emit(ev live.Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(ev)
}

func (c *fakeConnector) lastConn() *fakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *fakeConnector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeConn struct {
	sent    chan []byte
	sendErr error
	gate    chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	closing   chan struct{}
}

func (c *fakeConn) SendAudio(pcm []byte, format audio.Format) error {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-c.closing:
			return errors.New("connection closed")
		}
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent <- pcm
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	c.closeOnce.Do(func() { close(c.closing) })
	return nil
}

type fakeMic struct {
	mu      sync.Mutex
	err     error
	format  audio.Format
	frame   int
	capture *fakeCapture
	// onClose runs inside each capture's Close.
	onClose func()
}

func (m *fakeMic) Open(ctx context.Context, format audio.Format, frameSize int) (CaptureStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.format = format
	m.frame = frameSize
	m.capture = &fakeCapture{frames: make(chan []float32, 16), onClose: m.onClose}
	return m.capture, nil
}

func (m *fakeMic) last() *fakeCapture {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capture
}

type fakeCapture struct {
	frames  chan []float32
	closed  atomic.Bool
	onClose func()
}

func (c *fakeCapture) Frames() <-chan []float32 { return c.frames }

func (c *fakeCapture) Close() error {
	if c.onClose != nil {
		c.onClose()
	}
	c.closed.Store(true)
	return nil
}

// trackedOutput is a real Timeline that remembers being closed. Nothing reads
// from it, so its clock stays at zero.
type trackedOutput struct {
	*playback.Timeline
	closed atomic.Bool
}

func (o *trackedOutput) Close() error {
	o.closed.Store(true)
	return o.Timeline.Close()
}

type fakeSpeaker struct {
	mu     sync.Mutex
	err    error
	output *trackedOutput
}

func (s *fakeSpeaker) Open(format audio.Format) (playback.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.output = &trackedOutput{Timeline: playback.NewTimeline(format)}
	return s.output, nil
}

func (s *fakeSpeaker) last() *trackedOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

type stateChange struct {
	id    string
	state State
	cause error
}

type recordingListener struct {
	mu     sync.Mutex
	states []stateChange
	lines  []Line
}

func (l *recordingListener) StateChanged(id string, state State, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, stateChange{id, state, cause})
}

func (l *recordingListener) TranscriptAppended(line Line) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
}

func (l *recordingListener) stateSeq() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.states))
	for i, s := range l.states {
		out[i] = s.state
	}
	return out
}

func (l *recordingListener) ids() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.states))
	for i, s := range l.states {
		out[i] = s.id
	}
	return out
}

func (l *recordingListener) lastCause() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.states) == 0 {
		return nil
	}
	return l.states[len(l.states)-1].cause
}

type fakeRecorder struct {
	mu      sync.Mutex
	started []string
	ended   map[string]string
	lines   map[string][]Line
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{ended: map[string]string{}, lines: map[string][]Line{}}
}

func (r *fakeRecorder) SessionStarted(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
	return nil
}

func (r *fakeRecorder) TranscriptAppended(ctx context.Context, id string, line Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[id] = append(r.lines[id], line)
	return nil
}

func (r *fakeRecorder) SessionEnded(ctx context.Context, id string, at time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended[id] = reason
	return nil
}
