package research

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"foresight/internal/metrics"
)

const streamHeartbeatInterval = 15 * time.Second

// HandleStream relays a job's change events to the client as Server-Sent
// Events. The first frame is a full snapshot so reconnecting clients resync
// before applying deltas; event delivery is at-least-once, duplicates are the
// client's problem.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusNotImplemented, "event streaming not enabled")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	// Subscribe before sending the snapshot so no event falls in the gap.
	events, cancel, err := h.bus.Subscribe(r.Context(), id)
	if err != nil {
		h.log.Errorf("Failed to subscribe to job %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer cancel()

	metrics.SubscriberConnections.Inc()
	defer metrics.SubscriberConnections.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "snapshot", toJobResponse(job))
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, string(event.Type), event)
			flusher.Flush()

		case <-heartbeat.C:
			// Comment frame keeps proxies from closing the idle connection.
			_, _ = fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
