package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListDLQ lists dead-lettered items, optionally scoped to the
// requesting tenant (spec §4.5's admin surface).
func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get("X-Tenant-ID")
	items, err := s.dlq.List(r.Context(), tenantID, 200)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type requeueResponse struct {
	QueueItemID string `json:"queue_item_id"`
	ExecutionID string `json:"execution_id"`
}

// handleRequeueDLQ moves a dead-lettered item back onto the live queue with
// a fresh attempt budget.
func (s *Server) handleRequeueDLQ(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := s.dlq.Requeue(r.Context(), id)
	if err != nil {
		status, class, msg := classifyError(err)
		writeJSONError(w, status, class, msg, "")
		return
	}
	writeJSON(w, http.StatusOK, requeueResponse{QueueItemID: item.ID, ExecutionID: item.ExecutionID})
}
