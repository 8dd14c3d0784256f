package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"media-compressor/internal/logging"
	"media-compressor/internal/progress"
)

// CompressProgress streams a simulated progress sequence that is not tied
// to any job.
// POST|GET /api/compress-progress
func (h *Handlers) CompressProgress(w http.ResponseWriter, r *http.Request) {
	ch := progress.NewChannel(uuid.NewString())
	ctx := r.Context()

	go func() {
		if err := progress.Simulate(ctx, ch, h.progressInterval, nil); err != nil {
			logging.Debug("Simulated progress %s stopped: %v", ch.ID(), err)
		}
	}()

	serveProgress(ctx, w, ch)
}

// JobProgress streams the progress channel of one job. A subscriber may
// connect before the job is submitted.
// GET /api/progress/{jobId}
func (h *Handlers) JobProgress(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	ch, err := h.hub.Channel(jobID)
	if err != nil {
		writeJSONError(w, "Invalid job ID", http.StatusBadRequest)
		return
	}

	serveProgress(r.Context(), w, ch)
}

func serveProgress(ctx context.Context, w http.ResponseWriter, ch *progress.Channel) {
	err := progress.ServeSSE(ctx, w, ch)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Debug("Progress stream %s ended: %v", ch.ID(), err)
	}
}
