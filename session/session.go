package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/room4-2/auralive/audio"
	"github.com/room4-2/auralive/live"
	"github.com/room4-2/auralive/playback"
)

// Microphone opens capture streams on the host.
type Microphone interface {
	// Open starts capturing mono audio in the given format, delivered as
	// frames of frameSize samples in [-1, 1]. Refused access must be reported
	// as ErrPermissionDenied.
	Open(ctx context.Context, format audio.Format, frameSize int) (CaptureStream, error)
}

// CaptureStream is an open microphone.
type CaptureStream interface {
	// Frames delivers captured frames in order. It is closed when capture ends.
	Frames() <-chan []float32
	// Close stops capture and releases the device. Safe to call twice.
	Close() error
}

// Speaker opens playback outputs on the host.
type Speaker interface {
	Open(format audio.Format) (playback.Output, error)
}

// Session is one live voice interaction from Start to teardown. It owns the
// connection, the capture stream, the playback output and its scheduler.
type Session struct {
	ID        string
	StartedAt time.Time

	conn      live.Connection
	capture   CaptureStream
	output    playback.Output
	scheduler *playback.Scheduler

	// Frames waiting for the sender; capture never blocks on it.
	sendQueue chan []byte

	opened   chan struct{}
	openOnce sync.Once

	watchdog     *time.Timer
	stallTimeout time.Duration

	mu     sync.Mutex
	closed bool
	cause  error
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	// released is closed once teardown has freed every resource and the
	// manager no longer points at the session.
	released chan struct{}
}

func newSession(sendQueueSize int, stallTimeout time.Duration) *Session {
	if sendQueueSize <= 0 {
		sendQueueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:           uuid.New().String(),
		StartedAt:    time.Now(),
		sendQueue:    make(chan []byte, sendQueueSize),
		opened:       make(chan struct{}),
		stallTimeout: stallTimeout,
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		released:     make(chan struct{}),
	}
}

// shortID is the id prefix used in log lines.
func (s *Session) shortID() string {
	if len(s.ID) < 8 {
		return s.ID
	}
	return s.ID[:8]
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the teardown cause; nil while running or after a plain stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// attach stores a resource acquired during start. If the session was torn
// down while the resource was being acquired, it returns false and the
// caller must release the resource itself.
func (s *Session) attach(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	fn()
	return true
}

func (s *Session) markOpened() {
	s.openOnce.Do(func() { close(s.opened) })
}

// queueFrame hands a frame to the sender without blocking. It reports
// whether the frame was accepted.
func (s *Session) queueFrame(pcm []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.sendQueue <- pcm:
		return true
	default:
		return false
	}
}

// armWatchdog starts the stall timer; fire is called if no event arrives
// within the stall timeout.
func (s *Session) armWatchdog(fire func()) {
	if s.stallTimeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.watchdog = time.AfterFunc(s.stallTimeout, fire)
}

// touch records inbound activity.
func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchdog != nil && !s.closed {
		s.watchdog.Reset(s.stallTimeout)
	}
}

// close releases every resource the session holds. Only the first call does
// anything; it reports whether this call performed the teardown.
func (s *Session) close(cause error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.cause = cause
	conn, capture, output, scheduler := s.conn, s.capture, s.output, s.scheduler
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	close(s.done)

	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Printf("⚠️ [%s] Failed to close connection: %v", s.shortID(), err)
		}
	}
	if capture != nil {
		if err := capture.Close(); err != nil {
			log.Printf("⚠️ [%s] Failed to close capture stream: %v", s.shortID(), err)
		}
	}
	if scheduler != nil {
		scheduler.Close()
	}
	if output != nil {
		if err := output.Close(); err != nil {
			log.Printf("⚠️ [%s] Failed to close playback output: %v", s.shortID(), err)
		}
	}

	// Drop frames nobody will send.
	for {
		select {
		case <-s.sendQueue:
		default:
			return true
		}
	}
}
