package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"media-compressor/internal/compression"
	"media-compressor/internal/database"
	"media-compressor/internal/handlers"
	"media-compressor/internal/logging"
	"media-compressor/internal/media"
	"media-compressor/internal/memory"
	"media-compressor/internal/metrics"
	"media-compressor/internal/middleware"
	"media-compressor/internal/progress"
	"media-compressor/internal/scratch"
	"media-compressor/internal/startup"
	"media-compressor/internal/transcoder"
	"media-compressor/internal/workers"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

const (
	// scratchSweepAge keeps files young enough to belong to a job that is
	// still being set up by another process sharing the directory.
	scratchSweepAge = time.Minute

	historyRetention = 30 * 24 * time.Hour
	maintenanceEvery = time.Hour
	collectorEvery   = 30 * time.Second
)

// services groups everything main wires together so shutdown can reach it.
type services struct {
	db        *database.Database
	scratch   *scratch.Manager
	trans     *transcoder.Transcoder
	limiter   *middleware.RateLimiter
	collector *metrics.Collector
	memory    *memory.Monitor
}

func main() {
	startTime := time.Now()

	// Size the heap before anything large is allocated
	memory.ConfigureFromEnv()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	// Initialize libvips unless the portable codec was requested
	if !strings.EqualFold(config.ImageEngine, media.EngineImaging) {
		if err := media.InitVips(0); err != nil {
			logging.Warn("Failed to initialize libvips: %v", err)
		}
	}
	defer media.ShutdownVips()

	svc := &services{scratch: scratch.NewManager(config.ScratchDir)}

	// Initialize job history
	var recorder compression.Recorder
	if config.HistoryEnabled {
		dbStart := time.Now()
		db, err := database.New(context.Background(), config.DatabasePath)
		if err != nil {
			startup.LogFatal("Failed to initialize database: %v", err)
		}
		defer db.Close()
		startup.LogDatabaseInit(time.Since(dbStart))
		svc.db = db
		recorder = db
	}

	// Remove scratch files orphaned by a previous crash
	sweepScratch(svc, scratchSweepAge)

	// Initialize engines
	svc.trans = transcoder.New(transcoder.Options{
		FFmpeg:   config.FFmpeg,
		FFprobe:  config.FFprobe,
		GPUAccel: config.GPUAccel,
		Timeout:  config.EngineTimeout,
	})
	invoker := transcoder.NewInvoker(media.NewCodec(config.ImageEngine), svc.trans)
	logging.Info("Image engine: %s, video encoder: %s", invoker.ImageEngine(), svc.trans.Encoder())

	imageJobs := config.MaxImageJobs
	if imageJobs <= 0 {
		imageJobs = workers.ForImages(0)
	}
	videoJobs := config.MaxVideoJobs
	if videoJobs <= 0 {
		videoJobs = workers.ForVideos(0)
	}
	logging.Info("Job admission: %d image, %d video", imageJobs, videoJobs)

	// Hold new jobs while the heap is under pressure
	svc.memory = memory.NewMonitor(memory.DefaultConfig())
	svc.memory.Start()
	admission := compression.NewLimiter(imageJobs, videoJobs)
	admission.SetGate(svc.memory)

	controller := compression.NewController(invoker, svc.scratch, admission, recorder)
	hub := progress.NewHub(progress.DefaultHubSize, progress.DefaultHubTTL)

	// Initialize handlers
	h := handlers.New(controller, invoker, hub, svc.db, svc.scratch, config)
	h.SetMemoryMonitor(svc.memory)

	svc.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
		Rate:  rate.Limit(config.RateLimitRPS),
		Burst: config.RateLimitBurst,
	})

	// Setup router
	router := setupRouter(h, svc.limiter)

	// Log routes dynamically
	startup.LogHTTPRoutes(router, config.LogStaticFiles, config.LogHealthChecks)

	// Apply metrics middleware
	handler := middleware.Metrics(middleware.DefaultMetricsConfig())(router)

	// Apply logging middleware
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = config.LogStaticFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler = middleware.Logger(loggingConfig)(handler)

	// Apply compression middleware
	handler = middleware.Compression(middleware.DefaultCompressionConfig())(handler)

	// Create server
	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // results are streamed under their own deadlines
		IdleTimeout:       60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metrics.InitializeMetrics()
		metricsSrv = startMetricsServer(config.MetricsPort, h)

		var provider metrics.StatsProvider
		if svc.db != nil {
			provider = svc.db
		}
		svc.collector = metrics.NewCollector(provider, svc.scratch, collectorEvery)
		svc.collector.Start()
	}

	stopMaintenance := startMaintenance(svc)

	// Start graceful shutdown handler
	done := make(chan struct{})
	go func() {
		handleShutdown(srv, metricsSrv, svc, stopMaintenance)
		close(done)
	}()

	// Start server
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
	<-done
}

func setupRouter(h *handlers.Handlers, limiter *middleware.RateLimiter) *mux.Router {
	r := mux.NewRouter()

	// Health check and version routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Uploads and progress subscriptions are rate limited per client
	compressImage := limiter.Middleware(http.HandlerFunc(h.CompressImage))
	api.Handle("/compress-image", compressImage).Methods("POST")
	api.Handle("/compress", compressImage).Methods("POST")
	api.Handle("/compress-video", limiter.Middleware(http.HandlerFunc(h.CompressVideo))).Methods("POST")

	// Progress streams
	api.HandleFunc("/compress-progress", h.CompressProgress).Methods("GET", "POST")
	api.Handle("/progress/{jobId}", limiter.Middleware(http.HandlerFunc(h.JobProgress))).Methods("GET")

	// Job history
	api.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{jobId}", h.GetJob).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")

	// Static files
	r.PathPrefix("/").Handler(http.FileServer(http.Dir("./static")))

	return r
}

func startMetricsServer(port string, h *handlers.Handlers) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", h.MetricsHandler())

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("Metrics server error: %v", err)
		}
	}()
	return srv
}

// sweepScratch removes orphaned scratch files and records when it ran.
func sweepScratch(svc *services, minAge time.Duration) {
	if svc.db != nil {
		if last, err := svc.db.GetLastSweep(context.Background()); err == nil && !last.IsZero() {
			logging.Debug("Previous scratch sweep at %s", last.Format(time.RFC3339))
		}
	}

	freed, err := svc.scratch.Sweep(minAge)
	startup.LogScratchSweep(freed, err)
	if err != nil || svc.db == nil {
		return
	}
	if err := svc.db.SetLastSweep(context.Background(), time.Now()); err != nil {
		logging.Warn("Failed to record scratch sweep: %v", err)
	}
}

// startMaintenance prunes old history and idle rate-limit entries until the
// returned function is called. The database is vacuumed after rows go.
func startMaintenance(svc *services) func() {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(maintenanceEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if n := svc.limiter.Prune(); n > 0 {
				logging.Debug("Pruned %d idle rate limit entries", n)
			}
			if svc.db != nil {
				if n, err := svc.db.Prune(ctx, historyRetention); err != nil {
					logging.Warn("Failed to prune job history: %v", err)
				} else if n > 0 {
					logging.Info("Pruned %d old job records", n)
					if err := svc.db.Vacuum(); err != nil {
						logging.Warn("Failed to vacuum job history: %v", err)
					}
				}
			}
		}
	}()

	return cancel
}

func handleShutdown(srv, metricsSrv *http.Server, svc *services, stopMaintenance func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopMaintenance()
	if svc.collector != nil {
		svc.collector.Stop()
	}
	svc.memory.Stop()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Stopping video engine processes")
	svc.trans.Cleanup()
	startup.LogShutdownStepComplete("Video engine stopped")

	startup.LogShutdownStep("Sweeping scratch directory")
	sweepScratch(svc, 0)
	startup.LogShutdownStepComplete("Scratch directory swept")

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	startup.LogShutdownComplete()
}
