package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"media-compressor/internal/database"
	"media-compressor/internal/logging"
	"media-compressor/internal/mediatypes"
)

// StatsResponse combines job history with live process counters.
type StatsResponse struct {
	History        *database.HistoryStats `json:"history,omitempty"`
	ActiveChannels int                    `json:"activeProgressChannels"`
	ScratchIssued  int64                  `json:"scratchFilesIssued"`
	ScratchRemoved int64                  `json:"scratchFilesRemoved"`
}

// ListJobs returns the most recent jobs, newest first.
// GET /api/jobs?limit=N&kind=image|video
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSONError(w, "Job history is disabled", http.StatusNotFound)
		return
	}

	limit := database.DefaultJobsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSONError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, database.MaxJobsLimit)
	}

	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != string(mediatypes.KindImage) && kind != string(mediatypes.KindVideo) {
		writeJSONError(w, "Invalid kind", http.StatusBadRequest)
		return
	}

	jobs, err := h.db.RecentJobs(r.Context(), limit, kind)
	if err != nil {
		logging.Error("Failed to list jobs: %v", err)
		writeJSONError(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []database.JobRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, jobs)
}

// GetJob returns one job record.
// GET /api/jobs/{jobId}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSONError(w, "Job history is disabled", http.StatusNotFound)
		return
	}

	job, err := h.db.GetJob(r.Context(), mux.Vars(r)["jobId"])
	if errors.Is(err, database.ErrJobNotFound) {
		writeJSONError(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Error("Failed to load job: %v", err)
		writeJSONError(w, "Failed to load job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, job)
}

// GetStats returns aggregate job statistics.
// GET /api/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		ActiveChannels: h.hub.Len(),
		ScratchIssued:  h.scratch.Issued(),
		ScratchRemoved: h.scratch.Removed(),
	}

	if h.db != nil {
		stats, err := h.db.CalculateStats(r.Context())
		if err != nil {
			logging.Error("Failed to calculate stats: %v", err)
			writeJSONError(w, "Failed to calculate stats", http.StatusInternalServerError)
			return
		}
		resp.History = &stats
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp)
}
