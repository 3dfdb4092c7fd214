package session

import "errors"

var (
	// ErrPermissionDenied is returned by Start when microphone access is refused.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrConnectionFailed covers handshake and transport failures.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrRemote wraps a failure signalled by the remote side mid-session.
	ErrRemote = errors.New("remote error")
	// ErrRemoteClosed marks a graceful close by the remote side.
	ErrRemoteClosed = errors.New("remote closed the session")
	// ErrSessionActive is returned by Start while a session is connecting or active.
	ErrSessionActive = errors.New("session already active")
	// ErrStalled marks a session torn down because nothing arrived for too long.
	ErrStalled = errors.New("stream stalled")
	// ErrStopped is returned by Start when Stop ends the session mid-handshake.
	ErrStopped = errors.New("session stopped")
)

// EndReason maps a teardown cause onto a short label for logs, metrics and storage.
func EndReason(cause error) string {
	switch {
	case cause == nil:
		return "stopped"
	case errors.Is(cause, ErrRemoteClosed):
		return "remote_closed"
	case errors.Is(cause, ErrRemote):
		return "remote_error"
	case errors.Is(cause, ErrStalled):
		return "stalled"
	case errors.Is(cause, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(cause, ErrConnectionFailed):
		return "connection_error"
	case errors.Is(cause, ErrStopped):
		return "stopped"
	default:
		return "local_error"
	}
}
