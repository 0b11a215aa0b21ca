package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-phonemizer/internal/config"
	"github.com/loqalabs/loqa-phonemizer/internal/engine"
	"github.com/loqalabs/loqa-phonemizer/internal/eventstore"
	"github.com/loqalabs/loqa-phonemizer/internal/phonemize"
	"github.com/loqalabs/loqa-phonemizer/internal/service"
)

func runCommand(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	c := newCommonFlags("run", stderr)
	var (
		output      string
		alignment   string
		enginePath  string
		engineArgs  string
		mock        bool
		sampa       bool
		shareDir    string
		concurrency int
		journal     bool
	)
	c.fs.StringVar(&output, "o", "", "Output file (default stdout)")
	c.fs.StringVar(&alignment, "alignment", "", "Write the word alignment tables as JSON to this file")
	c.fs.StringVar(&enginePath, "engine", "", "Path to the espeak or espeak-ng executable")
	c.fs.StringVar(&engineArgs, "engine-args", "", "Extra arguments passed to the engine")
	c.fs.BoolVar(&mock, "mock", false, "Use the built-in spelling engine instead of espeak")
	c.fs.BoolVar(&sampa, "sampa", false, "Ask the engine for SAMPA and remap it with the language symbol file")
	c.fs.StringVar(&shareDir, "share-dir", "", "Directory holding sampa_<language>.txt files")
	c.fs.IntVar(&concurrency, "j", 0, "Number of utterances phonemized in parallel")
	c.fs.BoolVar(&journal, "journal", false, "Record the run in the configured run journal")
	if err := c.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	set := c.set()
	if set["engine"] {
		cfg.Engine.Path = enginePath
	}
	if set["engine-args"] {
		cfg.Engine.Args = engineArgs
	}
	if mock {
		cfg.Engine.Mode = "mock"
	}
	if set["sampa"] {
		cfg.Engine.UseSAMPA = sampa
	}
	if set["share-dir"] {
		cfg.Engine.ShareDir = shareDir
	}
	if set["j"] {
		cfg.Phonemizer.Concurrency = concurrency
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := c.logger(stderr)
	text, err := readInput(c.input, stdin)
	if err != nil {
		return err
	}

	runner, err := engine.New(ctx, cfg.Engine, logger)
	if err != nil {
		return err
	}
	opts, err := phonemize.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	supported, err := runner.SupportedLanguages(ctx)
	if err != nil {
		return err
	}
	if err := phonemize.CheckLanguage(supported, opts.Language); err != nil {
		return err
	}
	var symbols *phonemize.SymbolMap
	if cfg.Engine.UseSAMPA {
		symbols, err = phonemize.LoadSymbolMapFile(cfg.Engine.ShareDir, opts.Language)
		if err != nil {
			return err
		}
	}
	backend, err := phonemize.New(runner, opts, symbols, logger)
	if err != nil {
		return err
	}

	result, runErr := backend.Phonemize(ctx, text)
	if journal {
		if err := recordRun(ctx, cfg, logger, backend, result, runErr); err != nil {
			logger.Warn("failed to journal run", slog.String("error", err.Error()))
		}
	}
	if runErr != nil {
		return runErr
	}

	out := stdout
	if output != "" && output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := writeLines(out, result.Lines()); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if alignment != "" {
		if err := writeAlignment(alignment, result.Alignments()); err != nil {
			return err
		}
	}
	return nil
}

func writeAlignment(path string, tables []phonemize.Table) error {
	data, err := json.MarshalIndent(tables, "", "  ")
	if err != nil {
		return fmt.Errorf("encode alignment: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write alignment: %w", err)
	}
	return nil
}

func recordRun(ctx context.Context, cfg config.Config, logger *slog.Logger, backend *phonemize.Backend, result phonemize.Result, runErr error) error {
	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	runID := uuid.NewString()
	if err := service.RecordRun(ctx, store, runID, "", backend.Options(), result, backend.Report().Lines(), runErr); err != nil {
		return err
	}
	logger.Info("run journaled", slog.String("run_id", runID), slog.String("path", cfg.EventStore.Path))
	return nil
}
