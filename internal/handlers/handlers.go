package handlers

import (
	"time"

	"media-compressor/internal/compression"
	"media-compressor/internal/database"
	"media-compressor/internal/memory"
	"media-compressor/internal/progress"
	"media-compressor/internal/scratch"
	"media-compressor/internal/startup"
	"media-compressor/internal/streaming"
)

// Engines reports which codecs are usable. *transcoder.Invoker implements it.
type Engines interface {
	ImageEngine() string
	VideoAvailable() error
	VideoEncoder() string
}

type Handlers struct {
	controller *compression.Controller
	engines    Engines
	hub        *progress.Hub
	db         *database.Database
	scratch    *scratch.Manager
	memory     *memory.Monitor

	maxUploadBytes   int64
	progressInterval time.Duration
	delivery         streaming.Config
	startTime        time.Time
}

// New wires the handlers. db may be nil when job history is disabled.
func New(controller *compression.Controller, engines Engines, hub *progress.Hub, db *database.Database, scratchMgr *scratch.Manager, config *startup.Config) *Handlers {
	maxUpload := config.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = startup.DefaultMaxUploadBytes
	}

	return &Handlers{
		controller:       controller,
		engines:          engines,
		hub:              hub,
		db:               db,
		scratch:          scratchMgr,
		maxUploadBytes:   maxUpload,
		progressInterval: config.ProgressInterval,
		delivery:         streaming.DefaultConfig(),
		startTime:        time.Now(),
	}
}

// SetMemoryMonitor adds admission gate state to the health report.
func (h *Handlers) SetMemoryMonitor(m *memory.Monitor) {
	h.memory = m
}
