package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/loqalabs/loqa-phonemizer/internal/config"
	"github.com/loqalabs/loqa-phonemizer/internal/engine"
)

func languagesCommand(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("languages", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file")
	enginePath := fs.String("engine", "", "Path to the espeak or espeak-ng executable")
	mock := fs.Bool("mock", false, "List the languages of the built-in spelling engine")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *enginePath != "" {
		cfg.Engine.Path = *enginePath
	}
	if *mock {
		cfg.Engine.Mode = "mock"
	}
	runner, err := engine.New(ctx, cfg.Engine, nil)
	if err != nil {
		return err
	}
	langs, err := runner.SupportedLanguages(ctx)
	if err != nil {
		return err
	}
	return printLanguages(stdout, langs)
}

func printLanguages(w io.Writer, langs map[string]string) error {
	codes := make([]string, 0, len(langs))
	for code := range langs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", code, langs[code]); err != nil {
			return err
		}
	}
	return nil
}

func versionCommand(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(stderr)
	enginePath := fs.String("engine", "", "Path to the espeak or espeak-ng executable")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "phonemize %s\n", version)

	locator := &engine.Locator{}
	if err := locator.Set(*enginePath); err != nil {
		return err
	}
	caps := engine.NewCapabilities(locator)
	path, err := caps.Path()
	if err != nil {
		fmt.Fprintf(stdout, "espeak: %v\n", err)
		return nil
	}
	long, err := caps.LongVersion(ctx)
	if err != nil {
		return err
	}
	align, err := caps.SupportsAlignment(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s\n  path: %s\n  word alignment: %t\n", long, path, align)
	return nil
}
