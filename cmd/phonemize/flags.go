package main

import (
	"flag"
	"io"
	"log/slog"

	"github.com/loqalabs/loqa-phonemizer/internal/config"
)

// commonFlags are shared by the commands that phonemize text. They override
// the configuration file only when given on the command line.
type commonFlags struct {
	fs             *flag.FlagSet
	configPath     string
	language       string
	phoneSeparator string
	wordSeparator  string
	strip          bool
	withStress     bool
	languageSwitch string
	unicodeForm    string
	input          string
	verbose        bool
	quiet          bool
}

func newCommonFlags(name string, stderr io.Writer) *commonFlags {
	c := &commonFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	c.fs.SetOutput(stderr)
	c.fs.StringVar(&c.configPath, "config", "", "Path to configuration file")
	c.fs.StringVar(&c.language, "l", "", "Language code, e.g. en-us")
	c.fs.StringVar(&c.phoneSeparator, "p", "", "Phone separator")
	c.fs.StringVar(&c.wordSeparator, "w", " ", "Word separator")
	c.fs.BoolVar(&c.strip, "strip", false, "Remove the trailing separators of every word")
	c.fs.BoolVar(&c.withStress, "with-stress", false, "Keep stress markers")
	c.fs.StringVar(&c.languageSwitch, "language-switch", "", "keep-flags, remove-flags or remove-utterance")
	c.fs.StringVar(&c.unicodeForm, "unicode-form", "", "Output normalization: none, nfc or nfd")
	c.fs.StringVar(&c.input, "i", "", "Input file, one utterance per line (default stdin)")
	c.fs.BoolVar(&c.verbose, "v", false, "Log debug messages")
	c.fs.BoolVar(&c.quiet, "q", false, "Only log errors")
	return c
}

func (c *commonFlags) set() map[string]bool {
	set := make(map[string]bool)
	c.fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// load reads the configuration and applies the flags given explicitly.
func (c *commonFlags) load() (config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return cfg, err
	}
	set := c.set()
	if set["l"] {
		cfg.Engine.Language = c.language
	}
	if set["p"] {
		cfg.Phonemizer.PhoneSeparator = c.phoneSeparator
	}
	if set["w"] {
		cfg.Phonemizer.WordSeparator = c.wordSeparator
	}
	if set["strip"] {
		cfg.Phonemizer.Strip = c.strip
	}
	if set["with-stress"] {
		cfg.Phonemizer.WithStress = c.withStress
	}
	if set["language-switch"] {
		cfg.Phonemizer.LanguageSwitch = c.languageSwitch
	}
	if set["unicode-form"] {
		cfg.Phonemizer.UnicodeForm = c.unicodeForm
	}
	return cfg, nil
}

func (c *commonFlags) logger(stderr io.Writer) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case c.verbose:
		level = slog.LevelDebug
	case c.quiet:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}
