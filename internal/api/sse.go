package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const sseKeepalive = 15 * time.Second

// StreamSSE handles GET /api/v1/jobs/{id}/sse.
// It streams server-sent events for the job until it finishes or the client disconnects.
func (h *Handler) StreamSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := r.PathValue("id")

	// Subscribe before the snapshot so no change between the two is lost.
	ch := h.jobs.Subscribe(id)
	defer h.jobs.Unsubscribe(id, ch)

	j, err := h.jobs.Get(id)
	if err != nil {
		writeJobError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// If already terminal, send the result event and close immediately.
	if j.Status.IsTerminal() {
		writeSSEEvent(w, flusher, "result", j)
		return
	}

	// Send the current status so the client has an initial state.
	writeSSEEvent(w, flusher, "status", j)

	ping := time.NewTicker(sseKeepalive)
	defer ping.Stop()
	for {
		select {
		case event, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, event.Data)
			flusher.Flush()
			if event.Event == "result" {
				return
			}
		case <-ping.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEEvent serialises data as JSON and writes a single SSE event frame.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
