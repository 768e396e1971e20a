package router

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marcus-qen/stagee/internal/store"
)

// handleEventsStream serves an execution's event trail as
// text/event-stream: buffered history first, then live events as they are
// published, flushed per event (SPEC_FULL.md §6.3).
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	ac, err := actorFromRequest(r)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetExecution(r.Context(), ac.TenantID, id); err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, id)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "AdapterError", "streaming is not supported by this connection", id)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if s.events == nil {
		flusher.Flush()
		return
	}

	for _, ev := range s.events.Replay(id) {
		writeSSE(w, ev)
	}
	flusher.Flush()

	live, cancel := s.events.Subscribe(id, "")
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev store.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
}
