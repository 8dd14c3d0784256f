package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"media-compressor/internal/logging"
)

// DefaultMemoryRatio is the share of the container limit given to the Go
// heap. The rest is left to ffmpeg and libvips, which allocate outside it.
const DefaultMemoryRatio = 0.75

// Limit sources reported in ConfigResult.Source.
const (
	SourceGOMEMLIMIT  = "GOMEMLIMIT"
	SourceMemoryLimit = "MEMORY_LIMIT"
	SourceCgroup      = "cgroup"
	SourceNone        = "none"
)

// cgroupMemoryMax is the cgroup v2 limit file; a var so tests can point it
// elsewhere.
var cgroupMemoryMax = "/sys/fs/cgroup/memory.max"

// ConfigResult describes what ConfigureFromEnv did.
type ConfigResult struct {
	Configured     bool
	Source         string
	ContainerLimit int64
	GoMemLimit     int64
	Ratio          float64
}

// ConfigureFromEnv sets the Go memory limit. Call it before the first large
// allocation.
//
// Order of precedence:
//   - GOMEMLIMIT, applied by the runtime itself and only reported here
//   - MEMORY_LIMIT in bytes (Kubernetes Downward API) times MEMORY_RATIO
//   - the cgroup v2 memory.max of the process times MEMORY_RATIO
func ConfigureFromEnv() ConfigResult {
	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		result := ConfigResult{Source: SourceGOMEMLIMIT}
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
			result.Configured = true
			result.GoMemLimit = limit
		}
		logging.Info("GOMEMLIMIT set via environment: %s", env)
		return result
	}

	containerLimit, source := containerLimit()
	if containerLimit <= 0 {
		logging.Debug("No container memory limit found, GOMEMLIMIT not configured")
		return ConfigResult{Source: SourceNone}
	}

	ratio := memoryRatio()
	goMemLimit := int64(float64(containerLimit) * ratio)
	debug.SetMemoryLimit(goMemLimit)

	logging.Info("Configured GOMEMLIMIT: %s (%.0f%% of %s from %s)",
		humanize.IBytes(uint64(goMemLimit)), ratio*100, humanize.IBytes(uint64(containerLimit)), source)

	return ConfigResult{
		Configured:     true,
		Source:         source,
		ContainerLimit: containerLimit,
		GoMemLimit:     goMemLimit,
		Ratio:          ratio,
	}
}

func containerLimit() (int64, string) {
	if raw := os.Getenv("MEMORY_LIMIT"); raw != "" {
		limit, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || limit <= 0 {
			logging.Warn("Ignoring MEMORY_LIMIT %q: not a positive byte count", raw)
			return 0, SourceNone
		}
		return limit, SourceMemoryLimit
	}

	data, err := os.ReadFile(cgroupMemoryMax)
	if err != nil {
		return 0, SourceNone
	}
	value := strings.TrimSpace(string(data))
	if value == "max" {
		return 0, SourceNone
	}
	limit, err := strconv.ParseInt(value, 10, 64)
	if err != nil || limit <= 0 {
		logging.Debug("Unreadable cgroup memory limit %q", value)
		return 0, SourceNone
	}
	return limit, SourceCgroup
}

func memoryRatio() float64 {
	raw := os.Getenv("MEMORY_RATIO")
	if raw == "" {
		return DefaultMemoryRatio
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio <= 0 || ratio > 1 {
		logging.Warn("MEMORY_RATIO %q must be in (0, 1], using %.2f", raw, DefaultMemoryRatio)
		return DefaultMemoryRatio
	}
	return ratio
}
