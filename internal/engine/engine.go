package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-phonemizer/internal/config"
)

// Runner phonemizes single utterances and lists the languages it knows.
type Runner interface {
	Run(ctx context.Context, text, language string) (string, error)
	SupportedLanguages(ctx context.Context) (map[string]string, error)
}

// New builds the runner selected by cfg.Mode. In exec mode the engine must
// be installed and report a parsable version.
func New(ctx context.Context, cfg config.EngineConfig, logger *slog.Logger) (Runner, error) {
	switch strings.ToLower(cfg.Mode) {
	case "mock":
		return NewMock(), nil
	case "", "exec":
		locator := &Locator{}
		if err := locator.Set(cfg.Path); err != nil {
			return nil, fmt.Errorf("engine path: %w", err)
		}
		caps := NewCapabilities(locator)
		esp, err := NewEspeak(caps, cfg, logger)
		if err != nil {
			return nil, err
		}
		version, err := caps.Version(ctx)
		if err != nil {
			return nil, err
		}
		align, err := caps.SupportsAlignment(ctx)
		if err != nil {
			return nil, err
		}
		path, _ := caps.Path()
		if logger != nil {
			if !align {
				logger.Warn("espeak does not emit word mappings, alignment tables will be empty",
					slog.String("path", path), slog.String("version", version))
			}
			logger.Info("espeak engine ready", slog.String("path", path), slog.String("version", version))
		}
		return esp, nil
	default:
		return nil, fmt.Errorf("unsupported engine mode %q", cfg.Mode)
	}
}
