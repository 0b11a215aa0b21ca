package phonemize

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-phonemizer/internal/config"
	"golang.org/x/sync/errgroup"
)

// Engine produces one raw output line for one utterance.
type Engine interface {
	Run(ctx context.Context, text, language string) (string, error)
}

// Options configures a Backend. They are fixed for the backend's lifetime.
type Options struct {
	Language       string
	Separator      Separator
	Strip          bool
	WithStress     bool
	LanguageSwitch LanguageSwitch
	Concurrency    int
	UnicodeForm    UnicodeForm
}

// OptionsFromConfig builds backend options from the loaded configuration.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	policy, err := ParseLanguageSwitch(cfg.Phonemizer.LanguageSwitch)
	if err != nil {
		return Options{}, err
	}
	form, err := ParseUnicodeForm(cfg.Phonemizer.UnicodeForm)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Language: cfg.Engine.Language,
		Separator: Separator{
			Phone: cfg.Phonemizer.PhoneSeparator,
			Word:  cfg.Phonemizer.WordSeparator,
		},
		Strip:          cfg.Phonemizer.Strip,
		WithStress:     cfg.Phonemizer.WithStress,
		LanguageSwitch: policy,
		Concurrency:    cfg.Phonemizer.Concurrency,
		UnicodeForm:    form,
	}, nil
}

// Utterance is the outcome of one input line.
type Utterance struct {
	Number    int    `json:"number"`
	Text      string `json:"text"`
	Phonemes  string `json:"phonemes,omitempty"`
	Alignment Table  `json:"alignment,omitempty"`
	Switched  bool   `json:"language_switch,omitempty"`
	Kept      bool   `json:"kept"`
}

// Result holds every utterance of a run in input order.
type Result struct {
	Utterances []Utterance
}

// Lines returns the output lines, skipping discarded utterances.
func (r Result) Lines() []string {
	lines := make([]string, 0, len(r.Utterances))
	for _, u := range r.Utterances {
		if u.Kept {
			lines = append(lines, u.Phonemes)
		}
	}
	return lines
}

// Alignments returns one table per utterance. Discarded utterances keep
// their slot with an empty table.
func (r Result) Alignments() []Table {
	tables := make([]Table, len(r.Utterances))
	for i, u := range r.Utterances {
		tables[i] = u.Alignment
		if !u.Kept || tables[i] == nil {
			tables[i] = Table{}
		}
	}
	return tables
}

// CheckLanguage fails unless language is one of the engine's voices.
func CheckLanguage(supported map[string]string, language string) error {
	if _, ok := supported[language]; !ok {
		return fmt.Errorf("%w: language %q is not supported by the engine", ErrInvalidOption, language)
	}
	return nil
}

// Backend phonemizes text through an Engine. It owns its symbol map and its
// language switch report for its whole lifetime.
type Backend struct {
	engine  Engine
	opts    Options
	symbols *SymbolMap
	report  *Report
	logger  *slog.Logger
}

// New validates opts and returns a backend. symbols may be nil.
func New(engine Engine, opts Options, symbols *SymbolMap, logger *slog.Logger) (*Backend, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: engine is required", ErrInvalidOption)
	}
	if opts.LanguageSwitch == "" {
		opts.LanguageSwitch = KeepFlags
	}
	if _, err := ParseLanguageSwitch(string(opts.LanguageSwitch)); err != nil {
		return nil, err
	}
	if _, err := ParseUnicodeForm(string(opts.UnicodeForm)); err != nil {
		return nil, err
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Backend{
		engine:  engine,
		opts:    opts,
		symbols: symbols,
		report:  &Report{},
		logger:  logger.With(slog.String("component", "phonemizer")),
	}, nil
}

// Report exposes the language switches detected since the backend was built.
func (b *Backend) Report() *Report { return b.report }

// Options returns the backend options after defaults were applied.
func (b *Backend) Options() Options { return b.opts }

// Phonemize processes text line by line. Any engine or protocol failure
// aborts the run.
func (b *Backend) Phonemize(ctx context.Context, text string) (Result, error) {
	inputs := strings.Split(text, "\n")
	utterances := make([]Utterance, len(inputs))

	if b.opts.Concurrency == 1 {
		for i, line := range inputs {
			u, err := b.phonemizeLine(ctx, i+1, line)
			if err != nil {
				return Result{}, err
			}
			utterances[i] = u
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.opts.Concurrency)
		for i, line := range inputs {
			g.Go(func() error {
				u, err := b.phonemizeLine(gctx, i+1, line)
				if err != nil {
					return err
				}
				utterances[i] = u
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Result{}, err
		}
	}

	b.summarize()
	return Result{Utterances: utterances}, nil
}

func (b *Backend) summarize() {
	lines := b.report.Lines()
	if len(lines) == 0 {
		return
	}
	count := len(lines)
	policy := slog.String("policy", string(b.opts.LanguageSwitch))

	if b.opts.LanguageSwitch == RemoveUtterance {
		b.logger.Warn(fmt.Sprintf("removed %d utterances containing language switches (applying %q policy)", count, RemoveUtterance),
			slog.Int("count", count), policy)
		return
	}

	numbers := make([]string, len(lines))
	for i, n := range lines {
		numbers[i] = strconv.Itoa(n)
	}
	b.logger.Warn(fmt.Sprintf("found %d utterances containing language switches on lines %s", count, strings.Join(numbers, ", ")),
		slog.Int("count", count), slog.Any("lines", lines))
	b.logger.Warn(fmt.Sprintf("extra phones may appear in the %q phoneset", b.opts.Language),
		slog.String("language", b.opts.Language))
	if b.opts.LanguageSwitch == RemoveFlags {
		b.logger.Warn(fmt.Sprintf("language switch flags have been removed (applying %q policy)", RemoveFlags), policy)
	} else {
		b.logger.Warn(fmt.Sprintf("language switch flags have been kept (applying %q policy)", KeepFlags), policy)
	}
}
