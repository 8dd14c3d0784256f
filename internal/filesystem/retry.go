package filesystem

import (
	"errors"
	"os"
	"syscall"
	"time"

	"media-compressor/internal/logging"
	"media-compressor/internal/metrics"
)

// RetryConfig configures retry behavior for filesystem operations.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the defaults used for scratch files.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// isTransient reports whether err is worth retrying: a stale NFS handle,
// a busy file, or an interrupted call.
func isTransient(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.ESTALE, syscall.EBUSY, syscall.EINTR, syscall.EAGAIN:
		return true
	}
	return false
}

// retry runs fn until it succeeds, fails permanently, or retries run out.
func retry(op, path string, config RetryConfig, fn func() error) error {
	backoff := config.InitialBackoff
	var err error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err = fn()
		if err == nil {
			if attempt > 0 {
				logging.Info("%s succeeded on retry %d for %s", op, attempt, path)
				metrics.FilesystemRetries.WithLabelValues(op, "success").Inc()
			}
			return nil
		}
		if !isTransient(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt < config.MaxRetries {
			logging.Debug("%s transient error for %s, retrying in %v (attempt %d/%d): %v",
				op, path, backoff, attempt+1, config.MaxRetries, err)
			time.Sleep(backoff)
			backoff = min(backoff*2, config.MaxBackoff)
		}
	}

	logging.Warn("%s failed after %d retries for %s: %v", op, config.MaxRetries, path, err)
	metrics.FilesystemRetries.WithLabelValues(op, "failure").Inc()
	return err
}

// RemoveWithRetry deletes path, retrying transient errors.
func RemoveWithRetry(path string, config RetryConfig) error {
	return retry("remove", path, config, func() error {
		return os.Remove(path)
	})
}

// ReadFileWithRetry reads path, retrying transient errors.
func ReadFileWithRetry(path string, config RetryConfig) ([]byte, error) {
	var data []byte
	err := retry("read", path, config, func() error {
		var err error
		data, err = os.ReadFile(path)
		return err
	})
	return data, err
}
