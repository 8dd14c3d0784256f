package startup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"media-compressor/internal/logging"
)

// DefaultEngineDirs are probed, in order, after the environment override
// and PATH.
var DefaultEngineDirs = []string{
	"/opt/homebrew/bin",
	"/usr/local/bin",
	"/usr/bin",
}

// ErrEngineNotFound is wrapped by EnginePath.Err when no candidate exists.
var ErrEngineNotFound = errors.New("engine executable not found")

// EnginePath is the outcome of resolving an external tool once at startup.
// When Err is set the tool is unusable and Err is reported on first use.
type EnginePath struct {
	Name string
	Path string
	Err  error
}

// Available reports whether the engine was found.
func (e EnginePath) Available() bool {
	return e.Err == nil && e.Path != ""
}

// Command returns the resolved path, or Err when resolution failed.
func (e EnginePath) Command() (string, error) {
	if e.Err != nil {
		return "", e.Err
	}
	if e.Path == "" {
		return "", fmt.Errorf("%s: %w", e.Name, ErrEngineNotFound)
	}
	return e.Path, nil
}

// ResolveEngine finds an executable named name. envVar, when set, must
// point at an executable and is used as-is; otherwise PATH is searched,
// then each directory in dirs.
func ResolveEngine(name, envVar string, dirs []string) EnginePath {
	if envVar != "" {
		if override := os.Getenv(envVar); override != "" {
			if err := checkExecutable(override); err != nil {
				return EnginePath{Name: name, Err: fmt.Errorf("%s=%s: %w", envVar, override, err)}
			}
			return EnginePath{Name: name, Path: override}
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return EnginePath{Name: name, Path: path}
	}

	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if checkExecutable(candidate) == nil {
			return EnginePath{Name: name, Path: candidate}
		}
	}

	return EnginePath{
		Name: name,
		Err:  fmt.Errorf("%s (searched PATH and %s): %w", name, strings.Join(dirs, ", "), ErrEngineNotFound),
	}
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func logEngine(e EnginePath) {
	if !e.Available() {
		logging.Warn("  %s not available: %v", e.Name, e.Err)
		return
	}
	logging.Info("  [OK] %s: %s", e.Name, e.Path)

	if !logging.IsDebugEnabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, e.Path, "-version").Output()
	if err != nil {
		logging.Debug("  failed to get %s version: %v", e.Name, err)
		return
	}
	if first, _, _ := strings.Cut(string(output), "\n"); first != "" {
		logging.Debug("  %s", strings.TrimSpace(first))
	}
}
