package metrics

import (
	"time"

	"media-compressor/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats() Stats
}

// DirSizer reports the current size of the scratch directory.
type DirSizer interface {
	DirSize() (int64, error)
}

// Stats holds the current job history statistics
type Stats struct {
	TotalJobs     int
	SucceededJobs int
	FailedJobs    int
	BytesIn       int64
	BytesOut      int64
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	scratch       DirSizer
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector. Either source may be nil.
func NewCollector(provider StatsProvider, scratch DirSizer, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		scratch:       scratch,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.scratch != nil {
		size, err := c.scratch.DirSize()
		if err != nil {
			logging.Debug("Failed to size scratch directory: %v", err)
		} else {
			ScratchDirBytes.Set(float64(size))
		}
	}

	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	HistoryJobsRecorded.WithLabelValues("succeeded").Set(float64(stats.SucceededJobs))
	HistoryJobsRecorded.WithLabelValues("failed").Set(float64(stats.FailedJobs))
	HistoryBytesSaved.Set(float64(stats.BytesIn - stats.BytesOut))

	logging.Debug("Metrics collected: jobs=%d, succeeded=%d, failed=%d",
		stats.TotalJobs, stats.SucceededJobs, stats.FailedJobs)
}
