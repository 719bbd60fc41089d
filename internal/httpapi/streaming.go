package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inquest-ai/orchestrator/internal/streaming"
)

// SSEHandler streams research progress events over Server-Sent Events.
type SSEHandler struct {
	manager *streaming.Manager
	logger  *zap.Logger
}

func NewSSEHandler(manager *streaming.Manager, logger *zap.Logger) *SSEHandler {
	return &SSEHandler{manager: manager, logger: logger}
}

// ServeHTTP handles GET /stream/sse?query_id=<id>&types=TOOL_INVOKED,...
// Reconnecting clients send Last-Event-ID (or last_event_id=) to replay
// missed events from the ring buffer.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	queryID := r.URL.Query().Get("query_id")
	if queryID == "" {
		http.Error(w, "query_id required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var typeFilter map[string]bool
	if raw := r.URL.Query().Get("types"); raw != "" {
		typeFilter = make(map[string]bool)
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				typeFilter[t] = true
			}
		}
	}

	var lastSeq uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastSeq, _ = strconv.ParseUint(v, 10, 64)
	} else if v := r.URL.Query().Get("last_event_id"); v != "" {
		lastSeq, _ = strconv.ParseUint(v, 10, 64)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replay so no event falls between the two.
	ch := h.manager.Subscribe(queryID, 64)
	defer h.manager.Unsubscribe(queryID, ch)

	for _, evt := range h.manager.ReplaySince(queryID, lastSeq) {
		if writeSSEEvent(w, evt, typeFilter) {
			lastSeq = evt.Seq
		}
	}
	flusher.Flush()

	h.logger.Debug("sse client connected",
		zap.String("query_id", queryID),
		zap.Uint64("last_seq", lastSeq),
	)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			if evt.Seq <= lastSeq {
				continue
			}
			if writeSSEEvent(w, evt, typeFilter) {
				lastSeq = evt.Seq
				flusher.Flush()
			}
		}
	}
}

// writeSSEEvent writes one frame unless the type filter excludes it. Returns
// whether the frame was written.
func writeSSEEvent(w http.ResponseWriter, evt streaming.Event, typeFilter map[string]bool) bool {
	if typeFilter != nil && !typeFilter[evt.Type] {
		return false
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Type, evt.Marshal())
	return true
}
