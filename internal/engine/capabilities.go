package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var ErrVersion = errors.New("cannot extract espeak version")

var versionRE = regexp.MustCompile(`^.*: ([0-9]+(\.[0-9]+)+(-dev)?)`)

// Capabilities probes the engine once and caches what it learned until
// Invalidate is called, e.g. after the locator was pointed elsewhere.
type Capabilities struct {
	locator *Locator

	mu          sync.RWMutex
	path        string
	longVersion string
	languages   map[string]string
}

func NewCapabilities(locator *Locator) *Capabilities {
	if locator == nil {
		locator = &Locator{}
	}
	return &Capabilities{locator: locator}
}

// Invalidate forgets every cached probe.
func (c *Capabilities) Invalidate() {
	c.mu.Lock()
	c.path = ""
	c.longVersion = ""
	c.languages = nil
	c.mu.Unlock()
}

// Path returns the resolved engine executable.
func (c *Capabilities) Path() (string, error) {
	c.mu.RLock()
	path := c.path
	c.mu.RUnlock()
	if path != "" {
		return path, nil
	}
	path, err := c.locator.Path()
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.path = path
	c.mu.Unlock()
	return path, nil
}

// LongVersion returns the version banner printed by --help.
func (c *Capabilities) LongVersion(ctx context.Context) (string, error) {
	c.mu.RLock()
	long := c.longVersion
	c.mu.RUnlock()
	if long != "" {
		return long, nil
	}
	out, err := c.probe(ctx, "--help")
	if err != nil {
		return "", err
	}
	long, err = parseLongVersion(out)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.longVersion = long
	c.mu.Unlock()
	return long, nil
}

// Version returns the dotted version number, e.g. "1.51" or "1.52-dev".
func (c *Capabilities) Version(ctx context.Context) (string, error) {
	long, err := c.LongVersion(ctx)
	if err != nil {
		return "", err
	}
	return parseVersion(long)
}

// IsEspeakNG reports whether the engine is espeak-ng rather than legacy espeak.
func (c *Capabilities) IsEspeakNG(ctx context.Context) (bool, error) {
	long, err := c.LongVersion(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(long, "eSpeak NG"), nil
}

// SupportsAlignment reports whether the engine emits word mappings with -X.
func (c *Capabilities) SupportsAlignment(ctx context.Context) (bool, error) {
	return c.IsEspeakNG(ctx)
}

// SupportedLanguages maps language codes to voice names.
func (c *Capabilities) SupportedLanguages(ctx context.Context) (map[string]string, error) {
	c.mu.RLock()
	langs := c.languages
	c.mu.RUnlock()
	if langs != nil {
		return copyLanguages(langs), nil
	}
	out, err := c.probe(ctx, "--voices")
	if err != nil {
		return nil, err
	}
	langs = parseVoices(out)
	c.mu.Lock()
	c.languages = langs
	c.mu.Unlock()
	return copyLanguages(langs), nil
}

func (c *Capabilities) probe(ctx context.Context, arg string) (string, error) {
	path, err := c.Path()
	if err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, path, arg)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s %s: %v: %s", ErrInvocation, path, arg, err, strings.TrimSpace(stderr.String()))
	}
	return decode(stdout.Bytes())
}

func parseLongVersion(help string) (string, error) {
	lines := strings.Split(help, "\n")
	if len(lines) < 2 {
		return "", fmt.Errorf("%w: unexpected --help output", ErrVersion)
	}
	return strings.TrimSpace(lines[1]), nil
}

func parseVersion(long string) (string, error) {
	m := versionRE.FindStringSubmatch(long)
	if m == nil {
		return "", fmt.Errorf("%w from %q", ErrVersion, long)
	}
	return m[1], nil
}

// separatorFlag returns the phone separator option, which versions up to
// 1.47 and the 1.48.03 release do not support.
func separatorFlag(version string) string {
	if version == "1.48.03" {
		return ""
	}
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return "--sep=_"
	}
	minor := strings.TrimSuffix(parts[1], "-dev")
	if n, err := strconv.Atoi(minor); err == nil {
		if n <= 47 {
			return ""
		}
		return "--sep=_"
	}
	if minor <= "47" {
		return ""
	}
	return "--sep=_"
}

func parseVoices(out string) map[string]string {
	langs := make(map[string]string)
	lines := strings.Split(out, "\n")
	if len(lines) < 2 {
		return langs
	}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		langs[fields[1]] = strings.ReplaceAll(fields[3], "_", " ")
	}
	return langs
}

func copyLanguages(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
