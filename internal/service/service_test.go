package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-phonemizer/internal/bus"
	"github.com/loqalabs/loqa-phonemizer/internal/config"
	"github.com/loqalabs/loqa-phonemizer/internal/eventstore"
	"github.com/loqalabs/loqa-phonemizer/internal/natsserver"
	"github.com/loqalabs/loqa-phonemizer/internal/protocol"
)

type fixtureRunner struct {
	mu      sync.Mutex
	outputs map[string]string
}

func (f *fixtureRunner) Run(_ context.Context, text, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out, ok := f.outputs[text]
	if !ok {
		return "", errors.New("engine exploded")
	}
	return out, nil
}

func (f *fixtureRunner) SupportedLanguages(context.Context) (map[string]string, error) {
	return map[string]string{"en-us": "English (America)", "fr-fr": "French"}, nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type harness struct {
	client *bus.Client
	store  *eventstore.Store
	svc    *Service
}

func startHarness(t *testing.T, runner *fixtureRunner, mutators ...func(*config.Config)) *harness {
	t.Helper()
	logger := newLogger()

	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, logger)
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)

	cfg := config.Default()
	cfg.Engine.Mode = "mock"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "runs.db")
	for _, mutate := range mutators {
		mutate(&cfg)
	}
	store, err := eventstore.Open(context.Background(), cfg.EventStore, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc, err := NewService(context.Background(), cfg, client, runner, store, logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatalf("service should be healthy after start")
	}
	return &harness{client: client, store: store, svc: svc}
}

func (h *harness) request(t *testing.T, req protocol.PhonemizeRequest) protocol.PhonemizeResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var resp protocol.PhonemizeResponse
	if err := h.client.RequestJSON(ctx, protocol.SubjectPhonemizeRequest, req, &resp); err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func switchRunner() *fixtureRunner {
	return &fixtureRunner{outputs: map[string]string{
		"hello world": "hello~|||~h@loU~|~|~ world~|||~w3:ld~|~|~ h_ə_l_oʊ w_ɜː_l_d\n",
		"bonjour you": "(fr)b_ɔ̃_ʒ_u_ʁ(en) j_uː\n",
	}}
}

func TestPhonemizeOverBus(t *testing.T) {
	h := startHarness(t, switchRunner())

	done, err := h.client.Conn().SubscribeSync(protocol.SubjectRunCompleted)
	if err != nil {
		t.Fatalf("subscribe done: %v", err)
	}
	if err := h.client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	resp := h.request(t, protocol.PhonemizeRequest{
		RequestID:      "req-1",
		Text:           "hello world\nbonjour you",
		PhoneSeparator: strPtr("-"),
		Strip:          boolPtr(true),
		LanguageSwitch: "remove-utterance",
	})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.RequestID != "req-1" || resp.RunID == "" || resp.Language != "en-us" {
		t.Fatalf("unexpected response header %+v", resp)
	}
	if len(resp.Lines) != 1 || resp.Lines[0] != "h-ə-l-oʊ w-ɜː-l-d" {
		t.Fatalf("unexpected lines %q", resp.Lines)
	}
	if len(resp.Utterances) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(resp.Utterances))
	}
	first, second := resp.Utterances[0], resp.Utterances[1]
	if len(first.Alignment) != 2 || first.Alignment[1] != (protocol.Pair{Source: "world", Phonemes: "w3:ld"}) {
		t.Fatalf("unexpected alignment %+v", first.Alignment)
	}
	if second.Kept || !second.LanguageSwitch || len(second.Alignment) != 0 {
		t.Fatalf("expected second utterance discarded, got %+v", second)
	}
	if len(resp.SwitchedLines) != 1 || resp.SwitchedLines[0] != 2 {
		t.Fatalf("unexpected switched lines %v", resp.SwitchedLines)
	}

	msg, err := done.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("expected completion notice: %v", err)
	}
	var notice protocol.RunCompleted
	if err := json.Unmarshal(msg.Data, &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice.RunID != resp.RunID || notice.Lines != 2 || notice.Kept != 1 || notice.Switched != 1 {
		t.Fatalf("unexpected notice %+v", notice)
	}

	run, ok, err := h.store.GetRun(context.Background(), resp.RunID)
	if err != nil || !ok {
		t.Fatalf("run not journaled: %v, %v", ok, err)
	}
	if run.Lines != 2 || run.Kept != 1 || run.Policy != "remove-utterance" || run.RequestID != "req-1" {
		t.Fatalf("unexpected run %+v", run)
	}
	events, err := h.store.ListRunEvents(context.Background(), resp.RunID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 || events[0].Type != eventstore.EventSwitchSummary {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestReportIsScopedToRequest(t *testing.T) {
	h := startHarness(t, switchRunner())

	first := h.request(t, protocol.PhonemizeRequest{Text: "bonjour you"})
	if len(first.SwitchedLines) != 1 {
		t.Fatalf("expected a switch in the first request, got %v", first.SwitchedLines)
	}
	if len(first.Lines) != 1 || !strings.Contains(first.Lines[0], "(fr)") {
		t.Fatalf("keep-flags default should keep the flags, got %q", first.Lines)
	}

	second := h.request(t, protocol.PhonemizeRequest{Text: "hello world"})
	if len(second.SwitchedLines) != 0 {
		t.Fatalf("switches leaked into the next request: %v", second.SwitchedLines)
	}
	if second.RequestID == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestRequestErrors(t *testing.T) {
	h := startHarness(t, switchRunner())

	resp := h.request(t, protocol.PhonemizeRequest{Text: "hello world", LanguageSwitch: "drop"})
	if !strings.Contains(resp.Error, "invalid phonemizer option") {
		t.Fatalf("expected invalid option error, got %q", resp.Error)
	}

	resp = h.request(t, protocol.PhonemizeRequest{Text: "hello world\nunknown words"})
	if !strings.Contains(resp.Error, "line 2") || !strings.Contains(resp.Error, "engine exploded") {
		t.Fatalf("expected engine failure on line 2, got %q", resp.Error)
	}
	if len(resp.Lines) != 0 {
		t.Fatalf("failed runs must not return partial output, got %q", resp.Lines)
	}
	events, err := h.store.ListRunEvents(context.Background(), resp.RunID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Type != eventstore.EventRunFailed {
		t.Fatalf("expected one failure event, got %+v", events)
	}
}

func TestRequestRejectsUnsupportedLanguage(t *testing.T) {
	root := t.TempDir()
	share := filepath.Join(root, "share")
	if err := os.Mkdir(share, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "secret.txt"), []byte("TOPSECRET-TOKEN\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := startHarness(t, switchRunner(), func(cfg *config.Config) {
		cfg.Engine.UseSAMPA = true
		cfg.Engine.ShareDir = share
	})

	for _, lang := range []string{"x/../../secret", "xx-not-a-voice"} {
		resp := h.svc.Phonemize(context.Background(), protocol.PhonemizeRequest{Text: "hello world", Language: lang})
		if !strings.Contains(resp.Error, "invalid phonemizer option") {
			t.Fatalf("%q: expected invalid option error, got %q", lang, resp.Error)
		}
		if strings.Contains(resp.Error, "TOPSECRET") {
			t.Fatalf("%q: error leaks file content: %q", lang, resp.Error)
		}
		if len(resp.Lines) != 0 || resp.Language != "" {
			t.Fatalf("%q: rejected request produced output %+v", lang, resp)
		}
	}

	resp := h.svc.Phonemize(context.Background(), protocol.PhonemizeRequest{Text: "hello world", Language: "fr-fr"})
	if resp.Error != "" || resp.Language != "fr-fr" {
		t.Fatalf("supported language failed: %+v", resp)
	}

	h.svc.symbols.mu.Lock()
	cached := len(h.svc.symbols.maps)
	h.svc.symbols.mu.Unlock()
	if cached != 2 {
		t.Fatalf("symbol cache should hold only en-us and fr-fr, got %d entries", cached)
	}
}

func TestLanguagesOverBus(t *testing.T) {
	h := startHarness(t, switchRunner())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var resp protocol.LanguagesResponse
	if err := h.client.RequestJSON(ctx, protocol.SubjectLanguages, struct{}{}, &resp); err != nil {
		t.Fatalf("request languages: %v", err)
	}
	if resp.Error != "" || resp.Languages["fr-fr"] != "French" {
		t.Fatalf("unexpected languages response %+v", resp)
	}
}
