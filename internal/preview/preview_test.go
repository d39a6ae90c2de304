package preview

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServer_BroadcastsSummaries(t *testing.T) {
	s := NewServer()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	hello := readJSON(t, conn)
	assert.Equal(t, "hello", hello["type"])
	assert.Equal(t, 1, s.ClientCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	summaries := make(chan Summary)
	go s.Run(ctx, summaries)

	summaries <- Summary{Tick: 42, Index: 3, Saved: true, LaneCount: 4, RoadID: 7}
	msg := readJSON(t, conn)
	assert.Equal(t, "frame", msg["type"])
	assert.Equal(t, 42.0, msg["tick"])
	assert.Equal(t, 4.0, msg["lane_count"])
	assert.Equal(t, true, msg["saved"])
	_, hasSkip := msg["skip"]
	assert.False(t, hasSkip)

	summaries <- Summary{Tick: 43, Skip: "junction"}
	msg = readJSON(t, conn)
	assert.Equal(t, "junction", msg["skip"])
}

func TestServer_Status(t *testing.T) {
	s := NewServer()
	s.Broadcast(Summary{Tick: 9, LaneCount: 2})

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))
	require.Equal(t, 200, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 0.0, payload["ws_clients"])
	assert.Equal(t, 1.0, payload["sent"])
	last, ok := payload["last"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 9.0, last["tick"])
}

func TestServer_Health(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer().Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_StatusRejectsPost(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer().Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/status", nil))
	assert.Equal(t, 405, rec.Code)
}

func TestServer_RemovesClosedClients(t *testing.T) {
	s := NewServer()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	readJSON(t, conn)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return s.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServer_RunStopsOnClose(t *testing.T) {
	s := NewServer()
	summaries := make(chan Summary)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), summaries)
		close(done)
	}()
	close(summaries)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
}
