package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/auralive/config"
	"github.com/room4-2/auralive/live"
	"github.com/room4-2/auralive/messages"
	"github.com/room4-2/auralive/session"
)

type fakeController struct {
	hub *Hub

	mu       sync.Mutex
	state    session.State
	started  int
	stopped  int
	startErr error
	lines    []session.Line
}

func (f *fakeController) Start(ctx context.Context) error {
	f.mu.Lock()
	f.started++
	if f.startErr != nil {
		err := f.startErr
		f.mu.Unlock()
		f.hub.StateChanged("", session.StateIdle, err)
		return err
	}
	f.state = session.StateActive
	f.mu.Unlock()
	f.hub.StateChanged("", session.StateActive, nil)
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	f.stopped++
	was := f.state
	f.state = session.StateIdle
	f.mu.Unlock()
	if was != session.StateIdle {
		f.hub.StateChanged("", session.StateIdle, nil)
	}
}

func (f *fakeController) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) SessionID() string { return "" }

func (f *fakeController) Transcript() []session.Line {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Line(nil), f.lines...)
}

func (f *fakeController) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func newTestServer(t *testing.T, ctrl *fakeController) (*Server, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	ctrl.hub = hub
	cfg := &config.Config{AllowedOrigins: []string{"http://allowed.example"}}
	srv := NewServerWebsocket(cfg, ctrl, hub, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	}))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.closeAll()
		ts.Close()
	})
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type envelope struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

func readMessage(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, sonic.Unmarshal(data, &env))
	return env
}

func sendControl(t *testing.T, conn *websocket.Conn, action string) {
	t.Helper()
	data, err := sonic.Marshal(messages.NewControlMessage(action))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestServer_SnapshotOnConnect(t *testing.T) {
	ctrl := &fakeController{lines: []session.Line{
		{Speaker: live.SpeakerUser, Text: "hello"},
	}}
	_, ts := newTestServer(t, ctrl)

	msg := readMessage(t, dial(t, ts))

	assert.Equal(t, messages.TypeSnapshot, msg.Type)
	assert.Equal(t, "idle", msg.Payload["state"])
	lines := msg.Payload["transcript"].([]interface{})
	require.Len(t, lines, 1)
	assert.Equal(t, "You: hello", lines[0].(map[string]interface{})["display"])
}

func TestServer_StartStopRoundTrip(t *testing.T) {
	ctrl := &fakeController{}
	_, ts := newTestServer(t, ctrl)
	conn := dial(t, ts)
	readMessage(t, conn)

	sendControl(t, conn, messages.ActionStart)
	msg := readMessage(t, conn)
	assert.Equal(t, messages.TypeState, msg.Type)
	assert.Equal(t, "active", msg.Payload["state"])

	sendControl(t, conn, messages.ActionStop)
	msg = readMessage(t, conn)
	assert.Equal(t, messages.TypeState, msg.Type)
	assert.Equal(t, "idle", msg.Payload["state"])
	assert.Equal(t, "stopped", msg.Payload["reason"])
}

func TestServer_StartFailureIsBroadcast(t *testing.T) {
	ctrl := &fakeController{startErr: errors.Join(session.ErrPermissionDenied, errors.New("device busy"))}
	_, ts := newTestServer(t, ctrl)
	conn := dial(t, ts)
	readMessage(t, conn)

	sendControl(t, conn, messages.ActionStart)

	assert.Equal(t, messages.TypeState, readMessage(t, conn).Type)
	msg := readMessage(t, conn)
	assert.Equal(t, messages.TypeError, msg.Type)
	assert.Equal(t, messages.ErrCodePermissionDenied, msg.Payload["code"])
}

func TestServer_PingAndInvalidMessages(t *testing.T) {
	_, ts := newTestServer(t, &fakeController{})
	conn := dial(t, ts)
	readMessage(t, conn)

	sendControl(t, conn, messages.ActionPing)
	assert.Equal(t, messages.TypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio"}`)))
	msg := readMessage(t, conn)
	assert.Equal(t, messages.TypeError, msg.Type)
	assert.Equal(t, messages.ErrCodeInvalidMessage, msg.Payload["code"])
}

func TestServer_TranscriptBroadcastToAllClients(t *testing.T) {
	srv, ts := newTestServer(t, &fakeController{})
	a, b := dial(t, ts), dial(t, ts)
	readMessage(t, a)
	readMessage(t, b)
	require.Eventually(t, func() bool { return srv.hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	srv.hub.TranscriptAppended(session.Line{Speaker: live.SpeakerModel, Text: "Hi!"})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, messages.TypeTranscript, msg.Type)
		assert.Equal(t, "Model: Hi!", msg.Payload["display"])
	}
}

func TestServer_LastClientLeavingStopsSession(t *testing.T) {
	ctrl := &fakeController{}
	srv, ts := newTestServer(t, ctrl)
	conn := dial(t, ts)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return srv.hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return ctrl.stopCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, srv.hub.Clients())
}

func TestServer_RejectsUnknownOrigin(t *testing.T) {
	_, ts := newTestServer(t, &fakeController{})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://allowed.example"}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestServer_HealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, &fakeController{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "idle", body["state"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, messages.ErrCodeRemoteError, errorCode(session.ErrRemote))
	assert.Equal(t, messages.ErrCodeStalled, errorCode(session.ErrStalled))
	assert.Equal(t, messages.ErrCodeConnectionFailed, errorCode(session.ErrConnectionFailed))
	assert.Equal(t, messages.ErrCodeSessionFailed, errorCode(errors.New("other")))
}

func TestServer_StartAfterLastClientLeftIsStopped(t *testing.T) {
	ctrl := &fakeController{}
	srv, _ := newTestServer(t, ctrl)
	c := newClient("gone", nil)

	srv.startSession(c)

	assert.Equal(t, 1, ctrl.stopCount())
	assert.Equal(t, session.StateIdle, ctrl.State())
}

func TestHub_StateChangedCarriesSessionID(t *testing.T) {
	hub := NewHub()
	c := newClient("c1", nil)
	hub.register(c)

	hub.StateChanged("sess-1", session.StateIdle, fmt.Errorf("%w: quota", session.ErrRemote))

	type header struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId"`
	}
	var got []header
	for i := 0; i < 2; i++ {
		var msg header
		require.NoError(t, sonic.Unmarshal(<-c.writeChan, &msg))
		got = append(got, msg)
	}
	assert.Equal(t, messages.TypeState, got[0].Type)
	assert.Equal(t, "sess-1", got[0].SessionID)
	assert.Equal(t, messages.TypeError, got[1].Type)
	assert.Equal(t, "sess-1", got[1].SessionID)
}
