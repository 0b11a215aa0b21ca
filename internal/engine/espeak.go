package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-phonemizer/internal/config"
	"github.com/mattn/go-shellwords"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrInvocation  = errors.New("espeak invocation failed")
	ErrUndecodable = errors.New("espeak output is not valid utf-8")
)

// Espeak runs the espeak or espeak-ng executable once per utterance, asking
// for phonemes with the word mapping enabled.
type Espeak struct {
	caps    *Capabilities
	extra   []string
	sampa   bool
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	flags []string
}

func NewEspeak(caps *Capabilities, cfg config.EngineConfig, logger *slog.Logger) (*Espeak, error) {
	parser := shellwords.NewParser()
	extra, err := parser.Parse(cfg.Args)
	if err != nil {
		return nil, fmt.Errorf("parse engine args: %w", err)
	}
	if caps == nil {
		caps = NewCapabilities(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Espeak{
		caps:    caps,
		extra:   extra,
		sampa:   cfg.UseSAMPA,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:  logger.With(slog.String("component", "espeak")),
	}, nil
}

// Run phonemizes text in language and returns the raw engine output.
func (e *Espeak) Run(ctx context.Context, text, language string) (string, error) {
	ctx, span := otel.Tracer("github.com/loqalabs/loqa-phonemizer/engine").Start(ctx, "espeak.run")
	defer span.End()
	span.SetAttributes(attribute.String("phonemizer.language", language))

	out, err := e.run(ctx, text, language)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (e *Espeak) run(ctx context.Context, text, language string) (string, error) {
	path, err := e.caps.Path()
	if err != nil {
		return "", err
	}
	flags, err := e.commandFlags(ctx)
	if err != nil {
		return "", err
	}

	file, err := os.CreateTemp("", "phonemizer_*.txt")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.WriteString(text); err != nil {
		file.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	args := buildArgs(language, flags, e.extra, file.Name())

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.logger.Debug("running engine", slog.String("path", path), slog.String("args", strings.Join(args, " ")))

	command := exec.CommandContext(ctx, path, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// the binary moved or was upgraded; resolve it again on the next run
			e.logger.Warn("engine executable vanished", slog.String("path", path))
			e.Reset()
		}
		return "", fmt.Errorf("%w: %v: %s", ErrInvocation, err, strings.TrimSpace(stderr.String()))
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		e.logger.Debug("engine stderr", slog.String("stderr", msg))
	}
	return decode(stdout.Bytes())
}

// commandFlags probes the engine once for the output and separator options
// its version understands.
func (e *Espeak) commandFlags(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.flags != nil {
		return e.flags, nil
	}

	ng, err := e.caps.IsEspeakNG(ctx)
	if err != nil {
		return nil, err
	}
	version, err := e.caps.Version(ctx)
	if err != nil {
		return nil, err
	}

	var flags []string
	switch {
	case e.sampa:
		flags = []string{"-x", "--pho"}
	case ng:
		flags = []string{"-x", "--ipa"}
	default:
		flags = []string{"--ipa=3"}
	}
	if sep := separatorFlag(version); sep != "" {
		flags = append(flags, sep)
	}
	e.flags = flags
	return flags, nil
}

// Reset forgets the probed flags along with the capabilities cache.
func (e *Espeak) Reset() {
	e.mu.Lock()
	e.flags = nil
	e.mu.Unlock()
	e.caps.Invalidate()
}

// SupportedLanguages lists the voices the engine ships.
func (e *Espeak) SupportedLanguages(ctx context.Context) (map[string]string, error) {
	return e.caps.SupportedLanguages(ctx)
}

// buildArgs lays out the command line. flags holds the output flags first
// and the optional separator flag last.
func buildArgs(language string, flags, extra []string, input string) []string {
	output := flags
	var sep []string
	if n := len(flags); n > 0 && strings.HasPrefix(flags[n-1], "--sep") {
		output = flags[:n-1]
		sep = flags[n-1:]
	}
	args := []string{"-v" + language}
	args = append(args, output...)
	args = append(args, "-q", "-X")
	args = append(args, extra...)
	args = append(args, "-f", input)
	return append(args, sep...)
}

func decode(out []byte) (string, error) {
	if !utf8.Valid(out) {
		return "", ErrUndecodable
	}
	return string(out), nil
}
