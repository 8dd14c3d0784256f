package memory

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"media-compressor/internal/logging"
	"media-compressor/internal/metrics"
)

// Config controls when job admission pauses.
type Config struct {
	// LimitBytes is the reference limit; 0 uses GOMEMLIMIT.
	LimitBytes int64

	// HighWaterMark is the usage (0-1) below which a paused gate reopens.
	HighWaterMark float64

	// CriticalWaterMark is the usage (0-1) at which the gate closes.
	CriticalWaterMark float64

	CheckInterval time.Duration
}

// DefaultConfig returns the thresholds used by the server.
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     2 * time.Second,
	}
}

// Monitor samples heap usage and holds new jobs while usage is critical.
// Running jobs are never interrupted.
type Monitor struct {
	config Config
	limit  int64
	sample func() uint64

	mu      sync.Mutex
	current uint64
	paused  bool
	resume  chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a monitor. Without a limit it never pauses.
func NewMonitor(config Config) *Monitor {
	limit := config.LimitBytes
	if limit == 0 {
		if goMemLimit := debug.SetMemoryLimit(-1); goMemLimit > 0 && goMemLimit < math.MaxInt64 {
			limit = goMemLimit
		}
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultConfig().CheckInterval
	}

	if limit > 0 {
		logging.Info("Memory admission gate at %.0f%% of %s", config.CriticalWaterMark*100, humanize.IBytes(uint64(limit)))
	} else {
		logging.Debug("No memory limit configured, memory admission gate disabled")
	}

	return &Monitor{
		config: config,
		limit:  limit,
		sample: heapInUse,
		resume: make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

func heapInUse() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapInuse
}

// Limit returns the reference limit in bytes, 0 when disabled.
func (m *Monitor) Limit() int64 {
	return m.limit
}

// Start samples usage every CheckInterval until Stop.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.config.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.observe(m.sample())
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop ends sampling and releases every waiter. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// observe updates the gate from one usage sample.
func (m *Monitor) observe(inUse uint64) {
	if m.limit <= 0 {
		return
	}
	usage := float64(inUse) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = inUse

	switch {
	case usage >= m.config.CriticalWaterMark && !m.paused:
		logging.Warn("Memory critical (%.1f%% of limit), holding new jobs", usage*100)
		m.paused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryPauses.Inc()
		go runtime.GC()
	case usage < m.config.HighWaterMark && m.paused:
		logging.Info("Memory recovered (%.1f%% of limit), admitting jobs", usage*100)
		m.paused = false
		metrics.MemoryPaused.Set(0)
		close(m.resume)
		m.resume = make(chan struct{})
	}
}

// Wait returns once usage allows a new job, the monitor is stopped, or
// ctx ends (returning ctx.Err()).
func (m *Monitor) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	paused, resume := m.paused, m.resume
	m.mu.Unlock()
	if !paused {
		return nil
	}

	select {
	case <-resume:
		return nil
	case <-m.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Paused reports whether new jobs are being held.
func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Stats returns the last sample, the limit and their ratio.
func (m *Monitor) Stats() (current, limit int64, usage float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current = int64(min(m.current, math.MaxInt64))
	if m.limit > 0 {
		usage = float64(m.current) / float64(m.limit)
	}
	return current, m.limit, usage
}
