package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"media-compressor/internal/filesystem"
	"media-compressor/internal/logging"
	"media-compressor/internal/metrics"

	"github.com/google/uuid"
)

// Purpose tags what a scratch path is used for.
type Purpose string

const (
	// PurposeInput holds the uploaded bytes handed to the engine.
	PurposeInput Purpose = "input"
	// PurposeOutput receives the engine's result.
	PurposeOutput Purpose = "output"
)

// filePrefix starts every scratch file name; Sweep only touches names
// that carry it followed by a UUID token.
const filePrefix = "job-"

// ErrReleased is returned by NewPath once the scope has been released.
var ErrReleased = errors.New("scratch scope already released")

// Manager owns the shared scratch directory. Jobs never share files: each
// scope embeds its own UUID token in every name it issues.
type Manager struct {
	dir string

	mu     sync.Mutex
	active map[string]struct{}

	issued  atomic.Int64
	removed atomic.Int64
}

// NewManager creates a manager for dir. The directory is created lazily
// by Acquire.
func NewManager(dir string) *Manager {
	return &Manager{
		dir:    dir,
		active: make(map[string]struct{}),
	}
}

// Dir returns the scratch directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Acquire opens a scope for jobID, creating the scratch directory if
// needed. Concurrent callers may race on creation; an existing directory
// is not an error.
func (m *Manager) Acquire(jobID string) (*Scope, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory %s: %w", m.dir, err)
	}

	token := uuid.NewString()

	m.mu.Lock()
	m.active[token] = struct{}{}
	m.mu.Unlock()
	metrics.ScratchScopesActive.Inc()

	logging.Debug("Acquired scratch scope %s for job %s", token, jobID)

	return &Scope{
		manager: m,
		jobID:   jobID,
		token:   token,
	}, nil
}

// Issued returns the number of paths issued across all scopes.
func (m *Manager) Issued() int64 {
	return m.issued.Load()
}

// Removed returns the number of files deleted by scope release.
func (m *Manager) Removed() int64 {
	return m.removed.Load()
}

func (m *Manager) finish(token string) {
	m.mu.Lock()
	delete(m.active, token)
	m.mu.Unlock()
	metrics.ScratchScopesActive.Dec()
}

func (m *Manager) isActive(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[token]
	return ok
}

// Sweep removes scratch files left behind by scopes that no longer exist,
// e.g. after a hard crash, and returns the number of bytes freed. Files
// younger than minAge are kept. Files of active scopes are never touched.
func (m *Manager) Sweep(minAge time.Duration) (int64, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read scratch directory: %w", err)
	}

	var freedBytes int64
	cutoff := time.Now().Add(-minAge)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		token, ok := tokenFromName(entry.Name())
		if !ok || m.isActive(token) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logging.Warn("failed to get info for scratch file %s: %v", entry.Name(), err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		if err := filesystem.RemoveWithRetry(path, filesystem.DefaultRetryConfig()); err != nil && !os.IsNotExist(err) {
			logging.Warn("failed to remove orphaned scratch file %s: %v", path, err)
			continue
		}
		freedBytes += info.Size()
	}

	if freedBytes > 0 {
		metrics.ScratchSweptBytes.Add(float64(freedBytes))
		logging.Info("Swept orphaned scratch files: freed %d bytes", freedBytes)
	}
	return freedBytes, nil
}

// DirSize returns the total size of regular files in the scratch directory.
func (m *Manager) DirSize() (int64, error) {
	var size int64
	err := filepath.Walk(m.dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return size, err
}

// tokenFromName extracts the scope token from "job-<uuid>-<purpose>...".
func tokenFromName(name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, filePrefix)
	if !ok || len(rest) < 36 {
		return "", false
	}
	token := rest[:36]
	if _, err := uuid.Parse(token); err != nil {
		return "", false
	}
	return token, true
}

// Scope is the set of scratch paths owned by one job. Release deletes all
// of them exactly once.
type Scope struct {
	manager *Manager
	jobID   string
	token   string

	mu       sync.Mutex
	paths    []string
	released bool
	once     sync.Once
	err      error
}

// JobID returns the job that owns the scope.
func (s *Scope) JobID() string {
	return s.jobID
}

// NewPath issues a fresh path inside the scratch directory. ext should
// include the leading dot, or be empty. The file itself is not created.
func (s *Scope) NewPath(purpose Purpose, ext string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return "", ErrReleased
	}

	name := fmt.Sprintf("%s%s-%s-%d%s", filePrefix, s.token, purpose, len(s.paths), ext)
	path := filepath.Join(s.manager.dir, name)
	s.paths = append(s.paths, path)

	s.manager.issued.Add(1)
	metrics.ScratchFilesCreated.Inc()
	return path, nil
}

// Paths returns the paths issued so far.
func (s *Scope) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

// Release deletes every issued path. Paths that were never created or are
// already gone are ignored. Only the first call does any work; later calls
// return the first call's result.
func (s *Scope) Release() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.released = true
		paths := s.paths
		s.mu.Unlock()

		var errs []error
		for _, path := range paths {
			err := filesystem.RemoveWithRetry(path, filesystem.DefaultRetryConfig())
			switch {
			case err == nil:
				s.manager.removed.Add(1)
				metrics.ScratchFilesRemoved.Inc()
			case os.IsNotExist(err):
			default:
				metrics.ScratchReleaseErrors.Inc()
				errs = append(errs, err)
			}
		}

		s.manager.finish(s.token)
		s.err = errors.Join(errs...)
		logging.Debug("Released scratch scope %s for job %s (%d paths)", s.token, s.jobID, len(paths))
	})
	return s.err
}
