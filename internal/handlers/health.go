package handlers

import (
	"net/http"
	"runtime"
	"time"

	"media-compressor/internal/media"
	"media-compressor/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// EngineStatus describes one codec engine.
type EngineStatus struct {
	Name      string   `json:"name"`
	Available bool     `json:"available"`
	Encoder   string   `json:"encoder,omitempty"`
	Formats   []string `json:"outputFormats,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// MemoryStatus describes the memory admission gate.
type MemoryStatus struct {
	HeapInUse int64   `json:"heapInUse"`
	Limit     int64   `json:"limit"`
	Usage     float64 `json:"usage"`
	Paused    bool    `json:"admissionPaused"`
}

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	ImageEngine EngineStatus `json:"imageEngine"`
	VideoEngine EngineStatus `json:"videoEngine"`

	ScratchDir      string `json:"scratchDir"`
	ScratchWritable bool   `json:"scratchWritable"`
	ScratchError    string `json:"scratchError,omitempty"`
	HistoryEnabled  bool   `json:"historyEnabled"`
	ActiveChannels  int    `json:"activeProgressChannels"`

	Memory *MemoryStatus `json:"memory,omitempty"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service. A missing video
// engine degrades the service but does not make it unready; image jobs
// still work.
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	scratchErr := startup.CheckWritable(h.scratch.Dir())

	response := HealthResponse{
		Ready:           scratchErr == nil,
		Version:         startup.Version,
		Uptime:          time.Since(h.startTime).Round(time.Second).String(),
		ImageEngine:     h.imageStatus(),
		VideoEngine:     h.videoStatus(),
		ScratchDir:      h.scratch.Dir(),
		ScratchWritable: scratchErr == nil,
		HistoryEnabled:  h.db != nil,
		ActiveChannels:  h.hub.Len(),
		GoVersion:       runtime.Version(),
		NumCPU:          runtime.NumCPU(),
		NumGoroutine:    runtime.NumGoroutine(),
	}
	if scratchErr != nil {
		response.ScratchError = scratchErr.Error()
	}
	if h.memory != nil && h.memory.Limit() > 0 {
		current, limit, usage := h.memory.Stats()
		response.Memory = &MemoryStatus{HeapInUse: current, Limit: limit, Usage: usage, Paused: h.memory.Paused()}
	}

	response.Status = statusHealthy
	if !response.Ready || !response.VideoEngine.Available || (response.Memory != nil && response.Memory.Paused) {
		response.Status = statusDegraded
	}

	w.Header().Set("Content-Type", "application/json")

	// Return 503 only if not ready at all
	if !response.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	writeJSON(w, response)
}

func (h *Handlers) imageStatus() EngineStatus {
	name := h.engines.ImageEngine()
	if name == "" {
		return EngineStatus{Error: "image engine not configured"}
	}
	return EngineStatus{Name: name, Available: true, Formats: media.OutputFormats(name)}
}

func (h *Handlers) videoStatus() EngineStatus {
	status := EngineStatus{Name: "ffmpeg"}
	if err := h.engines.VideoAvailable(); err != nil {
		status.Error = err.Error()
		return status
	}
	status.Available = true
	status.Encoder = h.engines.VideoEncoder()
	return status
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when jobs can be accepted: the scratch
// directory is writable and, if enabled, the history database answers.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	reason := ""
	if err := startup.CheckWritable(h.scratch.Dir()); err != nil {
		reason = "scratch directory not writable"
	} else if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			reason = "database unavailable"
		}
	}

	if reason == "" {
		w.WriteHeader(http.StatusOK)
		writeJSON(w, map[string]string{
			"status": "ready",
		})
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	writeJSON(w, map[string]string{
		"status": "not_ready",
		"reason": reason,
	})
}
