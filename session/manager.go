package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/room4-2/auralive/audio"
	"github.com/room4-2/auralive/live"
	"github.com/room4-2/auralive/observe"
	"github.com/room4-2/auralive/playback"
)

// State is the manager's position in the Idle → Connecting → Active cycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

// Listener observes the manager. Calls come from whichever goroutine caused
// the change and must not block.
type Listener interface {
	// StateChanged reports a transition of session id. cause is set when
	// the session ended because of an error.
	StateChanged(id string, state State, cause error)
	TranscriptAppended(line Line)
}

// Recorder persists session lifecycle and transcript, e.g. to Redis.
type Recorder interface {
	SessionStarted(ctx context.Context, id string, at time.Time) error
	TranscriptAppended(ctx context.Context, id string, line Line) error
	SessionEnded(ctx context.Context, id string, at time.Time, reason string) error
}

// Options configure each session the manager starts.
type Options struct {
	Model               string
	Voice               string
	SystemInstruction   string
	InputTranscription  bool
	OutputTranscription bool

	TranscriptLimit  int
	FrameSize        int
	SendQueueSize    int
	HandshakeTimeout time.Duration
	// StallTimeout tears an active session down when no inbound event arrives
	// for this long. Zero disables the watchdog.
	StallTimeout time.Duration
}

// DefaultOptions returns the settings used by the live view.
func DefaultOptions() Options {
	return Options{
		Voice:               "Zephyr",
		InputTranscription:  true,
		OutputTranscription: true,
		TranscriptLimit:     DefaultTranscriptLimit,
		FrameSize:           audio.DefaultFrameSize,
		SendQueueSize:       64,
		HandshakeTimeout:    10 * time.Second,
		StallTimeout:        2 * time.Minute,
	}
}

// Option customises a Manager.
type Option func(*Manager)

// WithListener registers a listener. May be given more than once.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, l) }
}

// WithRecorder persists lifecycle and transcript through r.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithMetrics records instruments on met instead of discarding them.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// Manager owns the lifecycle of at most one live voice session: microphone
// capture streamed to the remote endpoint, and model audio scheduled for
// gapless playback. Every way a session can end goes through teardown.
type Manager struct {
	connector live.Connector
	mic       Microphone
	speaker   Speaker
	opts      Options

	listeners []Listener
	recorder  Recorder
	metrics   *observe.Metrics

	transcript *Transcript

	mu      sync.RWMutex
	state   State
	current *Session
}

// NewManager creates an idle manager. The connector, microphone and speaker
// are injected so tests can substitute fakes.
func NewManager(connector live.Connector, mic Microphone, speaker Speaker, opts Options, options ...Option) *Manager {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 64
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.FrameSize <= 0 {
		opts.FrameSize = audio.DefaultFrameSize
	}

	m := &Manager{
		connector:  connector,
		mic:        mic,
		speaker:    speaker,
		opts:       opts,
		transcript: NewTranscript(opts.TranscriptLimit),
	}
	for _, o := range options {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.Discard()
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SessionID returns the id of the current session, or "" when idle.
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.ID
}

// Transcript returns the retained transcript lines, oldest first.
func (m *Manager) Transcript() []Line {
	return m.transcript.Lines()
}

// Scheduled returns the number of playback buffers not yet finished.
func (m *Manager) Scheduled() int {
	if sched := m.scheduler(); sched != nil {
		return sched.Pending()
	}
	return 0
}

// Cursor returns the playback cursor of the current session.
func (m *Manager) Cursor() time.Duration {
	if sched := m.scheduler(); sched != nil {
		return sched.Cursor()
	}
	return 0
}

func (m *Manager) scheduler() *playback.Scheduler {
	m.mu.RLock()
	sess := m.current
	m.mu.RUnlock()
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.scheduler
}

// Start opens playback, the microphone and the remote connection, waits for
// the remote side to accept the session and begins streaming. On failure all
// partially acquired resources are released and the manager is idle again;
// the error matches ErrPermissionDenied or ErrConnectionFailed.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrSessionActive
	}
	sess := newSession(m.opts.SendQueueSize, m.opts.StallTimeout)
	m.current = sess
	m.state = StateConnecting
	m.mu.Unlock()

	log.Printf("🎙️ [%s] Starting live session", sess.shortID())
	m.notifyState(sess, StateConnecting, nil)

	began := time.Now()
	if err := m.open(ctx, sess); err != nil {
		log.Printf("❌ [%s] Failed to start live session: %v", sess.shortID(), err)
		m.teardown(sess, err)
		<-sess.released
		return err
	}
	m.metrics.HandshakeDuration.Record(ctx, time.Since(began).Seconds())

	m.mu.Lock()
	if m.current != sess || sess.isClosed() {
		m.mu.Unlock()
		<-sess.released
		return startAborted(sess)
	}
	m.state = StateActive
	m.mu.Unlock()

	m.metrics.SessionsStarted.Add(ctx, 1)
	m.metrics.ActiveSessions.Add(ctx, 1)
	if m.recorder != nil {
		if err := m.recorder.SessionStarted(ctx, sess.ID, sess.StartedAt); err != nil {
			log.Printf("⚠️ [%s] Failed to record session start: %v", sess.shortID(), err)
		}
	}

	sess.armWatchdog(func() {
		log.Printf("⏰ [%s] No inbound events for %s, closing session", sess.shortID(), m.opts.StallTimeout)
		m.teardown(sess, ErrStalled)
	})
	go m.sendPump(sess)
	go m.capturePump(sess)

	log.Printf("✅ [%s] Live session active", sess.shortID())
	m.notifyState(sess, StateActive, nil)
	return nil
}

// startAborted explains why Start lost its session to a concurrent teardown.
func startAborted(sess *Session) error {
	cause := sess.Err()
	if cause == nil {
		return ErrStopped
	}
	if errors.Is(cause, ErrConnectionFailed) || errors.Is(cause, ErrPermissionDenied) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, cause)
}

// open acquires the session's resources in the order the live view does:
// playback output, microphone, then the remote connection.
func (m *Manager) open(ctx context.Context, sess *Session) error {
	output, err := m.speaker.Open(audio.Output)
	if err != nil {
		return fmt.Errorf("failed to open playback: %w", err)
	}
	if !sess.attach(func() {
		sess.output = output
		sess.scheduler = playback.NewScheduler(output, audio.OutputSampleRate)
	}) {
		_ = output.Close()
		return startAborted(sess)
	}

	capture, err := m.mic.Open(ctx, audio.Input, m.opts.FrameSize)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("failed to open microphone: %w", err)
	}
	if !sess.attach(func() { sess.capture = capture }) {
		_ = capture.Close()
		return startAborted(sess)
	}

	hsCtx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
	defer cancel()

	conn, err := m.connector.Connect(hsCtx, m.connectConfig(), func(ev live.Event) {
		m.handleEvent(sess, ev)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !sess.attach(func() { sess.conn = conn }) {
		_ = conn.Close()
		return startAborted(sess)
	}

	select {
	case <-sess.opened:
		return nil
	case <-sess.Done():
		return startAborted(sess)
	case <-hsCtx.Done():
		return fmt.Errorf("%w: handshake: %w", ErrConnectionFailed, hsCtx.Err())
	}
}

func (m *Manager) connectConfig() live.ConnectConfig {
	return live.ConnectConfig{
		Model:               m.opts.Model,
		Voice:               m.opts.Voice,
		SystemInstruction:   m.opts.SystemInstruction,
		InputTranscription:  m.opts.InputTranscription,
		OutputTranscription: m.opts.OutputTranscription,
	}
}

// Stop ends the current session, if any, and returns once its resources
// are released. It is always safe to call.
func (m *Manager) Stop() {
	m.mu.RLock()
	sess := m.current
	m.mu.RUnlock()

	if sess == nil {
		return
	}
	m.teardown(sess, nil)
	<-sess.released
}

// teardown is the single path through which a session ends: explicit stop,
// failed start, remote error, remote close, send failure and watchdog expiry
// all land here. It tolerates partially initialised sessions and repeated
// calls, and is safe to call from the connection's receive goroutine.
// The manager reports Idle only after the capture stream, connection and
// output are closed, so a new Start never overlaps the old devices.
func (m *Manager) teardown(sess *Session, cause error) {
	if !sess.close(cause) {
		return
	}

	m.mu.Lock()
	wasCurrent := m.current == sess
	wasActive := wasCurrent && m.state == StateActive
	if wasCurrent {
		m.current = nil
		m.state = StateIdle
	}
	m.mu.Unlock()
	close(sess.released)

	reason := EndReason(cause)
	if cause != nil && !errors.Is(cause, ErrRemoteClosed) {
		log.Printf("🔌 [%s] Live session ended (%s): %v", sess.shortID(), reason, cause)
	} else {
		log.Printf("🔌 [%s] Live session ended (%s)", sess.shortID(), reason)
	}

	ctx := context.Background()
	m.metrics.RecordSessionEnded(ctx, reason, wasActive)
	if wasActive && m.recorder != nil {
		if err := m.recorder.SessionEnded(ctx, sess.ID, time.Now(), reason); err != nil {
			log.Printf("⚠️ [%s] Failed to record session end: %v", sess.shortID(), err)
		}
	}

	if wasCurrent {
		m.notifyState(sess, StateIdle, cause)
	}
}

// handleEvent dispatches one inbound event for sess. Events for a session
// that is no longer current are dropped. Nothing here may crash the process:
// a panic in a handler becomes a teardown.
func (m *Manager) handleEvent(sess *Session, ev live.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.teardown(sess, fmt.Errorf("event handler panic: %v", r))
		}
	}()

	if err := live.Validate(ev); err != nil {
		log.Printf("⚠️ [%s] Dropping inbound event: %v", sess.shortID(), err)
		return
	}
	if !m.isCurrent(sess) {
		return
	}
	sess.touch()

	switch e := ev.(type) {
	case live.Opened:
		log.Printf("📥 [%s] Remote session opened", sess.shortID())
		sess.markOpened()

	case live.AudioChunk:
		m.scheduleAudio(sess, e.Data)

	case live.Interrupted:
		sess.mu.Lock()
		sched := sess.scheduler
		sess.mu.Unlock()
		stopped := 0
		if sched != nil {
			stopped = sched.Interrupt()
		}
		m.metrics.Interruptions.Add(sess.ctx, 1)
		log.Printf("✋ [%s] Interrupted, stopped %d buffer(s)", sess.shortID(), stopped)

	case live.Transcription:
		m.appendTranscript(sess, Line{
			Speaker: e.Speaker,
			Text:    e.Text,
			Final:   e.Final,
			At:      time.Now(),
		})

	case live.TurnComplete:
		log.Printf("📥 [%s] Turn complete", sess.shortID())

	case live.RemoteError:
		if e.Err != nil {
			m.teardown(sess, fmt.Errorf("%w: %w", ErrRemote, e.Err))
		} else {
			m.teardown(sess, fmt.Errorf("%w: unspecified", ErrRemote))
		}

	case live.Closed:
		if e.Reason != "" {
			m.teardown(sess, fmt.Errorf("%w: %s", ErrRemoteClosed, e.Reason))
		} else {
			m.teardown(sess, ErrRemoteClosed)
		}
	}
}

// isCurrent reports whether sess is the live session and not being torn down.
func (m *Manager) isCurrent(sess *Session) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == sess && !sess.isClosed()
}

func (m *Manager) scheduleAudio(sess *Session, pcm []byte) {
	sess.mu.Lock()
	sched := sess.scheduler
	sess.mu.Unlock()
	if sched == nil {
		return
	}

	samples := audio.DecodePCM16(pcm)
	start, err := sched.Enqueue(samples)
	if err != nil {
		if !errors.Is(err, playback.ErrClosed) {
			log.Printf("⚠️ [%s] Failed to schedule %d bytes of audio: %v", sess.shortID(), len(pcm), err)
		}
		return
	}
	m.metrics.ChunksScheduled.Add(sess.ctx, 1)
	log.Printf("🔊 [%s] Scheduled %s of audio at %s", sess.shortID(), audio.Output.Duration(len(samples)), start)
}

func (m *Manager) appendTranscript(sess *Session, line Line) {
	m.transcript.Append(line)
	m.metrics.RecordTranscriptLine(sess.ctx, string(line.Speaker))

	if m.recorder != nil {
		if err := m.recorder.TranscriptAppended(sess.ctx, sess.ID, line); err != nil {
			log.Printf("⚠️ [%s] Failed to record transcript: %v", sess.shortID(), err)
		}
	}
	for _, l := range m.listeners {
		l.TranscriptAppended(line)
	}
}

func (m *Manager) notifyState(sess *Session, state State, cause error) {
	for _, l := range m.listeners {
		l.StateChanged(sess.ID, state, cause)
	}
}

// capturePump encodes captured frames and queues them for the sender. It
// never waits on the network: when the queue is full the frame is dropped.
func (m *Manager) capturePump(sess *Session) {
	sess.mu.Lock()
	capture := sess.capture
	sess.mu.Unlock()
	if capture == nil {
		return
	}

	frames := capture.Frames()
	dropped := 0
	for {
		select {
		case <-sess.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				log.Printf("🎤 [%s] Capture stream ended", sess.shortID())
				return
			}
			if sess.queueFrame(audio.EncodePCM16(frame)) {
				if dropped > 0 {
					log.Printf("⚠️ [%s] Send queue recovered after dropping %d frame(s)", sess.shortID(), dropped)
					dropped = 0
				}
				continue
			}
			m.metrics.FramesDropped.Add(sess.ctx, 1)
			dropped++
		}
	}
}

// sendPump drains the send queue onto the connection in capture order.
func (m *Manager) sendPump(sess *Session) {
	sess.mu.Lock()
	conn := sess.conn
	sess.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-sess.Done():
			return
		case pcm := <-sess.sendQueue:
			if err := conn.SendAudio(pcm, audio.Input); err != nil {
				select {
				case <-sess.Done():
				default:
					m.teardown(sess, fmt.Errorf("%w: send: %w", ErrConnectionFailed, err))
				}
				return
			}
			m.metrics.FramesSent.Add(sess.ctx, 1)
		}
	}
}
