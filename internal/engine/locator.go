package engine

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// EnvPath names the environment variable that points at an engine binary.
const EnvPath = "PHONEMIZER_ESPEAK_PATH"

var (
	ErrNotFound      = errors.New("espeak not found")
	ErrNotExecutable = errors.New("not an executable file")
)

// candidates are looked up on PATH in order.
var candidates = []string{"espeak-ng", "espeak"}

// Locator resolves the engine executable. An explicit path set on the
// locator wins over the environment and PATH lookup.
type Locator struct {
	mu       sync.RWMutex
	override string
}

// Set pins the engine to path. An empty path resets the override.
func (l *Locator) Set(path string) error {
	if path == "" {
		l.Reset()
		return nil
	}
	abs, err := checkExecutable(path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.override = abs
	l.mu.Unlock()
	return nil
}

// Reset drops the explicit override.
func (l *Locator) Reset() {
	l.mu.Lock()
	l.override = ""
	l.mu.Unlock()
}

// Path returns the absolute path of the engine to run.
func (l *Locator) Path() (string, error) {
	l.mu.RLock()
	override := l.override
	l.mu.RUnlock()
	if override != "" {
		return override, nil
	}

	if value, ok := os.LookupEnv(EnvPath); ok {
		abs, err := checkExecutable(value)
		if err != nil {
			return "", fmt.Errorf("%s=%s: %w", EnvPath, value, err)
		}
		return abs, nil
	}

	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return filepath.Abs(path)
		}
	}
	return "", ErrNotFound
}

func checkExecutable(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%s: %w", path, ErrNotExecutable)
	}
	return filepath.Abs(path)
}
