package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inquest-ai/orchestrator/internal/streaming"
)

func publishThree(m *streaming.Manager) {
	m.Publish("q1", streaming.Event{QueryID: "q1", Type: streaming.EventQueryStarted, Timestamp: time.Now()})
	m.Publish("q1", streaming.Event{QueryID: "q1", Type: streaming.EventToolInvoked, Tool: "web_search", Timestamp: time.Now()})
	m.Publish("q1", streaming.Event{QueryID: "q1", Type: streaming.EventQueryCompleted, Timestamp: time.Now()})
}

func serveSSE(t *testing.T, h *SSEHandler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()
	// Replay happens synchronously on connect; give the handler a moment then
	// hang up.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	return rec
}

func TestSSERequiresQueryID(t *testing.T) {
	h := NewSSEHandler(streaming.NewManager(16), zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/sse", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSSEReplaysHistory(t *testing.T) {
	m := streaming.NewManager(16)
	publishThree(m)
	h := NewSSEHandler(m, zap.NewNop())

	rec := serveSSE(t, h, "/stream/sse?query_id=q1", nil)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "id: 1\nevent: QUERY_STARTED")
	assert.Contains(t, body, "id: 2\nevent: TOOL_INVOKED")
	assert.Contains(t, body, "id: 3\nevent: QUERY_COMPLETED")
}

func TestSSEResumesFromLastEventID(t *testing.T) {
	m := streaming.NewManager(16)
	publishThree(m)
	h := NewSSEHandler(m, zap.NewNop())

	header := http.Header{}
	header.Set("Last-Event-ID", "2")
	rec := serveSSE(t, h, "/stream/sse?query_id=q1", header)

	body := rec.Body.String()
	assert.NotContains(t, body, "event: QUERY_STARTED")
	assert.NotContains(t, body, "event: TOOL_INVOKED")
	assert.Contains(t, body, "id: 3\nevent: QUERY_COMPLETED")
}

func TestSSETypeFilter(t *testing.T) {
	m := streaming.NewManager(16)
	publishThree(m)
	h := NewSSEHandler(m, zap.NewNop())

	rec := serveSSE(t, h, "/stream/sse?query_id=q1&types=TOOL_INVOKED,QUERY_COMPLETED", nil)

	body := rec.Body.String()
	assert.NotContains(t, body, "event: QUERY_STARTED")
	assert.Contains(t, body, "event: TOOL_INVOKED")
	assert.Contains(t, body, "event: QUERY_COMPLETED")
}

func TestSSEDeliversLiveEvents(t *testing.T) {
	m := streaming.NewManager(16)
	h := NewSSEHandler(m, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/stream/sse?query_id=q1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()

	time.Sleep(50 * time.Millisecond)
	m.Publish("q1", streaming.Event{QueryID: "q1", Type: streaming.EventPhaseChanged, Phase: "reasoning", Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	assert.Contains(t, rec.Body.String(), "event: PHASE_CHANGED")
}

func TestWebSocketReplayAndLiveEvents(t *testing.T) {
	m := streaming.NewManager(16)
	publishThree(m)
	h := NewWSHandler(m, zap.NewNop())

	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?query_id=q1&last_event_id=2"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"QUERY_COMPLETED"`)

	m.Publish("q1", streaming.Event{QueryID: "q1", Type: streaming.EventPhaseChanged, Phase: "reasoning", Timestamp: time.Now()})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"PHASE_CHANGED"`)
}

func TestWebSocketRequiresQueryID(t *testing.T) {
	h := NewWSHandler(streaming.NewManager(16), zap.NewNop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
