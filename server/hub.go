package server

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/room4-2/auralive/messages"
	"github.com/room4-2/auralive/session"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

// Hub fans session state and transcript updates out to every connected
// websocket client. It is registered on the session manager as a listener.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	// sessionID reports the id of the current session for outgoing messages.
	sessionID func() string
}

var _ session.Listener = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*client]struct{}),
		sessionID: func() string { return "" },
	}
}

// StateChanged broadcasts the new state, plus an error message when the
// session ended abnormally.
func (h *Hub) StateChanged(id string, state session.State, cause error) {
	reason := ""
	if state == session.StateIdle {
		reason = session.EndReason(cause)
	}
	h.Broadcast(messages.NewStateMessage(id, state.String(), reason))

	if cause != nil && !errors.Is(cause, session.ErrStopped) {
		h.Broadcast(messages.NewErrorMessage(id, errorCode(cause), cause.Error()))
	}
}

// TranscriptAppended broadcasts one transcript line.
func (h *Hub) TranscriptAppended(line session.Line) {
	h.Broadcast(messages.NewTranscriptMessage(h.sessionID(), transcriptLine(line)))
}

// Broadcast encodes msg once and queues it on every client.
func (h *Hub) Broadcast(msg any) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		log.Printf("❌ Failed to encode broadcast: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.queue(data)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// unregister removes c and reports how many clients remain.
func (h *Hub) unregister(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	return len(h.clients)
}

// closeAll disconnects every client.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrPermissionDenied):
		return messages.ErrCodePermissionDenied
	case errors.Is(err, session.ErrSessionActive):
		return messages.ErrCodeSessionActive
	case errors.Is(err, session.ErrRemoteClosed):
		return messages.ErrCodeConnectionClosed
	case errors.Is(err, session.ErrRemote):
		return messages.ErrCodeRemoteError
	case errors.Is(err, session.ErrStalled):
		return messages.ErrCodeStalled
	case errors.Is(err, session.ErrConnectionFailed):
		return messages.ErrCodeConnectionFailed
	default:
		return messages.ErrCodeSessionFailed
	}
}

func transcriptLine(line session.Line) messages.TranscriptLine {
	return messages.TranscriptLine{
		Speaker: string(line.Speaker),
		Text:    line.Text,
		Display: line.String(),
		Final:   line.Final,
		At:      line.At,
	}
}

// client is one websocket connection with its own write queue.
type client struct {
	id        string
	conn      *websocket.Conn
	writeChan chan []byte
	closeChan chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newClient(id string, conn *websocket.Conn) *client {
	return &client{
		id:        id,
		conn:      conn,
		writeChan: make(chan []byte, writeBufferSize),
		closeChan: make(chan struct{}),
	}
}

// writePump handles all outgoing messages in a single goroutine
func (c *client) writePump() {
	defer func() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-c.closeChan:
			return
		case data := <-c.writeChan:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("⚠️ [%s] Write failed: %v", c.id, err)
				return
			}

			// Flush whatever queued up meanwhile.
			n := len(c.writeChan)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.writeChan); err != nil {
					return
				}
			}
		}
	}
}

// queue adds a message to the write queue (non-blocking)
func (c *client) queue(data []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.writeChan <- data:
	default:
		log.Printf("⚠️ [%s] Write queue full, dropping message", c.id)
	}
}

func (c *client) send(msg any) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		log.Printf("❌ [%s] Failed to encode message: %v", c.id, err)
		return
	}
	c.queue(data)
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.closeChan)
	c.mu.Unlock()

	_ = c.conn.Close()
}
