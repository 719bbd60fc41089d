package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/inquest-ai/orchestrator/internal/streaming"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WSHandler streams research progress events over a WebSocket.
type WSHandler struct {
	manager  *streaming.Manager
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(manager *streaming.Manager, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Same-host tooling and dashboards; tighten when fronted by a gateway.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles GET /stream/ws?query_id=<id>&last_event_id=<seq>.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	queryID := r.URL.Query().Get("query_id")
	if queryID == "" {
		http.Error(w, "query_id required", http.StatusBadRequest)
		return
	}
	var lastSeq uint64
	if v := r.URL.Query().Get("last_event_id"); v != "" {
		lastSeq, _ = strconv.ParseUint(v, 10, 64)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := h.manager.Subscribe(queryID, 64)
	defer h.manager.Unsubscribe(queryID, ch)

	h.logger.Debug("websocket client connected", zap.String("query_id", queryID))

	// Reader goroutine: discard client frames, surface close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, evt := range h.manager.ReplaySince(queryID, lastSeq) {
		if err := h.writeEvent(conn, evt); err != nil {
			return
		}
		lastSeq = evt.Seq
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, open := <-ch:
			if !open {
				return
			}
			if evt.Seq <= lastSeq {
				continue
			}
			if err := h.writeEvent(conn, evt); err != nil {
				return
			}
			lastSeq = evt.Seq
		}
	}
}

func (h *WSHandler) writeEvent(conn *websocket.Conn, evt streaming.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, evt.Marshal())
}
