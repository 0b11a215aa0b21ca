package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-phonemizer/internal/bus"
	"github.com/loqalabs/loqa-phonemizer/internal/config"
	"github.com/loqalabs/loqa-phonemizer/internal/engine"
	"github.com/loqalabs/loqa-phonemizer/internal/eventstore"
	"github.com/loqalabs/loqa-phonemizer/internal/phonemize"
	"github.com/loqalabs/loqa-phonemizer/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service answers phonemization requests received over NATS. Every request
// gets its own backend, so language switch reports never leak between
// requests.
type Service struct {
	cfg     config.Config
	bus     *bus.Client
	runner  engine.Runner
	store   *eventstore.Store
	symbols *symbolCache
	metrics *metrics
	subs    []*nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	ready   bool
	base    *slog.Logger
	logger  *slog.Logger
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, runner engine.Runner, store *eventstore.Store, logger *slog.Logger) (*Service, error) {
	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("init service metrics: %w", err)
	}
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		runner:  runner,
		store:   store,
		symbols: newSymbolCache(cfg.Engine),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		base:    logger,
		logger:  logger.With(slog.String("component", "phonemize-service")),
	}, nil
}

func (s *Service) Start() error {
	if !s.cfg.Service.Enabled {
		return nil
	}
	// fail fast on a broken default configuration
	if _, err := s.options(s.ctx, protocol.PhonemizeRequest{}); err != nil {
		return err
	}
	if _, err := s.symbols.get(s.cfg.Engine.Language); err != nil {
		return err
	}

	handlers := map[string]nats.MsgHandler{
		protocol.SubjectPhonemizeRequest: s.handleRequest,
		protocol.SubjectLanguages:        s.handleLanguages,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.bus.Conn().Flush(); err != nil {
		s.unsubscribe()
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	s.logger.Info("phonemize service ready",
		slog.String("language", s.cfg.Engine.Language),
		slog.String("language_switch", s.cfg.Phonemizer.LanguageSwitch))
	return nil
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Close() {
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
}

func (s *Service) Healthy() bool {
	if !s.cfg.Service.Enabled {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.PhonemizeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode phonemize request", slogError(err))
		s.respond(msg, protocol.PhonemizeResponse{Error: fmt.Sprintf("decode request: %v", err)})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := s.requestContext()
		defer cancel()
		s.respond(msg, s.Phonemize(ctx, req))
	}()
}

// Phonemize serves one request end to end: run, journal and completion
// notice. Failures are reported in the response.
func (s *Service) Phonemize(ctx context.Context, req protocol.PhonemizeRequest) protocol.PhonemizeResponse {
	start := time.Now()
	runID := uuid.NewString()
	resp := protocol.PhonemizeResponse{RequestID: req.RequestID, RunID: runID}

	opts, err := s.options(ctx, req)
	if err != nil {
		return s.finish(ctx, req, resp, opts, phonemize.Result{}, nil, start, err)
	}
	resp.Language = opts.Language

	symbols, err := s.symbols.get(opts.Language)
	if err != nil {
		return s.finish(ctx, req, resp, opts, phonemize.Result{}, nil, start, err)
	}
	backend, err := phonemize.New(s.runner, opts, symbols, s.base.With(slog.String("run_id", runID)))
	if err != nil {
		return s.finish(ctx, req, resp, opts, phonemize.Result{}, nil, start, err)
	}
	result, err := backend.Phonemize(ctx, req.Text)
	return s.finish(ctx, req, resp, opts, result, backend.Report(), start, err)
}

func (s *Service) finish(ctx context.Context, req protocol.PhonemizeRequest, resp protocol.PhonemizeResponse, opts phonemize.Options, result phonemize.Result, report *phonemize.Report, start time.Time, runErr error) protocol.PhonemizeResponse {
	elapsed := time.Since(start)
	resp.DurationMillis = elapsed.Milliseconds()

	var switched []int
	if report != nil {
		switched = report.Lines()
	}
	if runErr != nil {
		resp.Error = runErr.Error()
		s.logger.Warn("phonemize request failed", slog.String("request_id", req.RequestID), slogError(runErr))
	} else {
		resp.Lines = result.Lines()
		resp.Utterances = toProtocol(result.Utterances)
		resp.SwitchedLines = switched
	}

	s.metrics.record(ctx, opts, result, len(switched), elapsed, runErr)

	// the journal outlives a cancelled request context
	journalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := RecordRun(journalCtx, s.store, resp.RunID, req.RequestID, opts, result, switched, runErr); err != nil {
		s.logger.Warn("failed to journal run", slog.String("run_id", resp.RunID), slogError(err))
	}

	done := protocol.RunCompleted{
		RunID:     resp.RunID,
		RequestID: req.RequestID,
		Language:  opts.Language,
		Lines:     len(result.Utterances),
		Kept:      len(resp.Lines),
		Switched:  len(switched),
		Error:     resp.Error,
		Timestamp: time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectRunCompleted, done); err != nil {
		s.logger.Warn("failed to publish run completion", slogError(err))
	}

	if runErr == nil {
		s.logger.Info("phonemize request complete",
			slog.String("request_id", req.RequestID),
			slog.Int("lines", len(result.Utterances)),
			slog.Duration("latency", elapsed))
	}
	return resp
}

// options layers the request overrides on top of the configured defaults.
// The language must be one the engine ships a voice for.
func (s *Service) options(ctx context.Context, req protocol.PhonemizeRequest) (phonemize.Options, error) {
	opts, err := phonemize.OptionsFromConfig(s.cfg)
	if err != nil {
		return opts, err
	}
	if req.Language != "" {
		opts.Language = req.Language
	}
	supported, err := s.runner.SupportedLanguages(ctx)
	if err != nil {
		return opts, fmt.Errorf("list engine languages: %w", err)
	}
	if err := phonemize.CheckLanguage(supported, opts.Language); err != nil {
		// rejected languages stay out of metric labels and the journal
		opts.Language = ""
		return opts, err
	}
	if req.PhoneSeparator != nil {
		opts.Separator.Phone = *req.PhoneSeparator
	}
	if req.WordSeparator != nil {
		opts.Separator.Word = *req.WordSeparator
	}
	if req.Strip != nil {
		opts.Strip = *req.Strip
	}
	if req.WithStress != nil {
		opts.WithStress = *req.WithStress
	}
	if req.LanguageSwitch != "" {
		policy, err := phonemize.ParseLanguageSwitch(req.LanguageSwitch)
		if err != nil {
			return opts, err
		}
		opts.LanguageSwitch = policy
	}
	if req.UnicodeForm != "" {
		form, err := phonemize.ParseUnicodeForm(req.UnicodeForm)
		if err != nil {
			return opts, err
		}
		opts.UnicodeForm = form
	}
	return opts, nil
}

func (s *Service) handleLanguages(msg *nats.Msg) {
	ctx, cancel := s.requestContext()
	defer cancel()
	var resp protocol.LanguagesResponse
	langs, err := s.runner.SupportedLanguages(ctx)
	if err != nil {
		resp.Error = err.Error()
		s.logger.Warn("failed to list languages", slogError(err))
	} else {
		resp.Languages = langs
	}
	s.respond(msg, resp)
}

// requestContext bounds a request by the configured timeout; zero means
// no limit.
func (s *Service) requestContext() (context.Context, context.CancelFunc) {
	if ms := s.cfg.Service.RequestTimeoutMS; ms > 0 {
		return context.WithTimeout(s.ctx, time.Duration(ms)*time.Millisecond)
	}
	return context.WithCancel(s.ctx)
}

func (s *Service) respond(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to encode reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		s.logger.Warn("failed to send reply", slogError(err))
	}
}

func toProtocol(utterances []phonemize.Utterance) []protocol.Utterance {
	out := make([]protocol.Utterance, len(utterances))
	for i, u := range utterances {
		var pairs []protocol.Pair
		for _, p := range u.Alignment {
			pairs = append(pairs, protocol.Pair{Source: p.Source, Phonemes: p.Phonemes})
		}
		out[i] = protocol.Utterance{
			Number:         u.Number,
			Text:           u.Text,
			Phonemes:       u.Phonemes,
			Alignment:      pairs,
			LanguageSwitch: u.Switched,
			Kept:           u.Kept,
		}
	}
	return out
}

// symbolCache loads one SAMPA symbol map per language on first use.
type symbolCache struct {
	enabled bool
	dir     string

	mu   sync.Mutex
	maps map[string]*phonemize.SymbolMap
}

func newSymbolCache(cfg config.EngineConfig) *symbolCache {
	return &symbolCache{enabled: cfg.UseSAMPA, dir: cfg.ShareDir, maps: make(map[string]*phonemize.SymbolMap)}
}

func (c *symbolCache) get(language string) (*phonemize.SymbolMap, error) {
	if !c.enabled {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.maps[language]; ok {
		return m, nil
	}
	m, err := phonemize.LoadSymbolMapFile(c.dir, language)
	if err != nil {
		return nil, err
	}
	c.maps[language] = m
	return m, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
