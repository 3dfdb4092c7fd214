package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/room4-2/auralive/config"
	"github.com/room4-2/auralive/messages"
	"github.com/room4-2/auralive/session"
)

// Controller is the session manager surface the server drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	State() session.State
	SessionID() string
	Transcript() []session.Line
}

type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	controller Controller
	hub        *Hub
	config     *config.Config

	// ctx bounds sessions started from a client; cancelled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServerWebsocket wires the control surface to a session manager. hub must
// be the listener registered on that manager. metrics may be nil.
func NewServerWebsocket(cfg *config.Config, controller Controller, hub *Hub, metrics http.Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		controller: controller,
		hub:        hub,
		config:     cfg,
		ctx:        ctx,
		cancel:     cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
	hub.sessionID = controller.SessionID

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections. It returns nil after Shutdown.
func (s *Server) Start() error {
	log.Printf("🚀 WebSocket server starting on port %d", s.config.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost:%d/ws", s.config.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops any running session, disconnects clients and stops the
// listener.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down server...")
	s.cancel()
	s.controller.Stop()
	s.hub.closeAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := newClient(uuid.New().String()[:8], conn)
	s.hub.register(c)
	go c.writePump()
	log.Printf("✅ [%s] Client connected", c.id)

	c.send(messages.NewSnapshotMessage(s.controller.SessionID(), s.controller.State().String(), s.snapshot()))

	s.readPump(c)

	c.close()
	if remaining := s.hub.unregister(c); remaining == 0 {
		// Nobody is left to hear the session.
		s.controller.Stop()
	}
	log.Printf("🔌 [%s] Client disconnected", c.id)
}

func (s *Server) snapshot() []messages.TranscriptLine {
	lines := s.controller.Transcript()
	out := make([]messages.TranscriptLine, len(lines))
	for i, line := range lines {
		out[i] = transcriptLine(line)
	}
	return out
}

// readPump handles control messages until the client goes away.
func (s *Server) readPump(c *client) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("⚠️ [%s] Read failed: %v", c.id, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.send(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Binary messages are not supported"))
			continue
		}

		action, err := messages.DecodeControl(data)
		if err != nil {
			c.send(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, err.Error()))
			continue
		}
		s.handleControl(c, action)
	}
}

func (s *Server) handleControl(c *client, action string) {
	switch action {
	case messages.ActionStart:
		log.Printf("📥 [%s] Start requested", c.id)
		// Start blocks for the handshake; keep reading meanwhile.
		go s.startSession(c)
	case messages.ActionStop:
		log.Printf("📥 [%s] Stop requested", c.id)
		s.controller.Stop()
	case messages.ActionPing:
		c.send(messages.NewPongMessage(s.controller.SessionID()))
	}
}

// startSession starts a session on behalf of c. If every client left before
// the session came up, nobody stopped it, so it is stopped here.
func (s *Server) startSession(c *client) {
	err := s.controller.Start(s.ctx)
	if err != nil {
		// Teardown failures are already broadcast through the hub.
		if errors.Is(err, session.ErrSessionActive) {
			c.send(messages.NewErrorMessage(s.controller.SessionID(), errorCode(err), err.Error()))
		}
		return
	}
	if s.hub.Clients() == 0 {
		log.Printf("🔌 [%s] No clients left, stopping session", c.id)
		s.controller.Stop()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body, err := sonic.Marshal(map[string]interface{}{
		"status":    "ok",
		"state":     s.controller.State().String(),
		"sessionId": s.controller.SessionID(),
		"clients":   s.hub.Clients(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
