package api

import (
	"net/http"

	"github.com/local/receiptprint/internal/dispatcher"
)

type batchResp struct {
	JobID string `json:"job_id"`
	Total int    `json:"total"`
}

// handleStartBatch queues an auto-crop of every PDF that has no preview yet.
func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	pending := s.deps.Library.PendingPDFs()
	if len(pending) == 0 {
		writeJSON(w, http.StatusOK, batchResp{})
		return
	}
	ids := make([]string, 0, len(pending))
	for _, f := range pending {
		ids = append(ids, f.ID)
	}
	jobID, err := dispatcher.Submit(r.Context(), s.deps.Batch, s.deps.BatchStatus, ids)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
		return
	}
	writeJSON(w, http.StatusAccepted, batchResp{JobID: jobID, Total: len(ids)})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	st, ok, err := s.deps.BatchStatus.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok, err := s.deps.BatchStatus.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	if st.Done() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job already " + st.Status})
		return
	}
	if err := s.deps.Batch.Cancel(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancel requested"})
}
