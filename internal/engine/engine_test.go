package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-phonemizer/internal/config"
)

const fakeHelp = `
eSpeak NG text-to-speech: 1.51  Data at: /usr/share/espeak-ng-data

espeak-ng [options] ["<words>"]
`

const fakeVoices = `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 2  en-us           --/M      English_(America)  gmw/en-US            (en 3)
 5  fr-fr           --/M      French             roa/fr               (fr 5)
 broken line
`

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeFakeEspeak installs a shell script answering --help and --voices and
// echoing its arguments plus the input file otherwise.
func writeFakeEspeak(t *testing.T, help string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine not supported on windows")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "help.txt"), []byte(help), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "voices.txt"), []byte(fakeVoices), 0o644); err != nil {
		t.Fatal(err)
	}
	script := `#!/bin/sh
dir=$(dirname "$0")
case "$1" in
--help) cat "$dir/help.txt"; exit 0 ;;
--voices) cat "$dir/voices.txt"; exit 0 ;;
esac
input=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-f" ]; then input="$arg"; fi
  prev="$arg"
done
if grep -q fail "$input"; then echo "boom" >&2; exit 3; fi
echo "ARGS $*" > "$dir/last_args"
printf 'hello~|||~h@loU~|~|~ h_ə_l_oʊ\n'
`
	path := filepath.Join(dir, "espeak-ng")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		long string
		want string
	}{
		{"eSpeak NG text-to-speech: 1.51  Data at: /usr/share/espeak-ng-data", "1.51"},
		{"eSpeak NG text-to-speech: 1.52-dev  Data at: /usr/lib/espeak-ng-data", "1.52-dev"},
		{"eSpeak text-to-speech: 1.48.03  04.Mar.14  Data at: /usr/share/espeak-data", "1.48.03"},
	}
	for _, tt := range tests {
		got, err := parseVersion(tt.long)
		if err != nil {
			t.Fatalf("parseVersion(%q): %v", tt.long, err)
		}
		if got != tt.want {
			t.Fatalf("parseVersion(%q) = %q, want %q", tt.long, got, tt.want)
		}
	}
	if _, err := parseVersion("no version here"); !errors.Is(err, ErrVersion) {
		t.Fatalf("expected ErrVersion, got %v", err)
	}
}

func TestSeparatorFlag(t *testing.T) {
	tests := map[string]string{
		"1.48.03":  "",
		"1.47.11":  "",
		"1.46":     "",
		"1.48.15":  "--sep=_",
		"1.49.2":   "--sep=_",
		"1.51":     "--sep=_",
		"1.52-dev": "--sep=_",
	}
	for version, want := range tests {
		if got := separatorFlag(version); got != want {
			t.Fatalf("separatorFlag(%q) = %q, want %q", version, got, want)
		}
	}
}

func TestParseVoices(t *testing.T) {
	got := parseVoices(fakeVoices)
	want := map[string]string{
		"af":    "Afrikaans",
		"en-us": "English (America)",
		"fr-fr": "French",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseVoices = %v, want %v", got, want)
	}
}

func TestBuildArgs(t *testing.T) {
	got := buildArgs("en-us", []string{"-x", "--ipa", "--sep=_"}, []string{"--punct"}, "/tmp/in.txt")
	want := []string{"-ven-us", "-x", "--ipa", "-q", "-X", "--punct", "-f", "/tmp/in.txt", "--sep=_"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("buildArgs = %v, want %v", got, want)
	}
	got = buildArgs("fr-fr", []string{"--ipa=3"}, nil, "in.txt")
	want = []string{"-vfr-fr", "--ipa=3", "-q", "-X", "-f", "in.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("buildArgs = %v, want %v", got, want)
	}
}

func TestLocatorResolution(t *testing.T) {
	path := writeFakeEspeak(t, fakeHelp)

	t.Setenv(EnvPath, path)
	var loc Locator
	got, err := loc.Path()
	if err != nil {
		t.Fatalf("path from env: %v", err)
	}
	if got != path {
		t.Fatalf("expected %s, got %s", path, got)
	}

	t.Setenv(EnvPath, filepath.Join(t.TempDir(), "missing"))
	if _, err := loc.Path(); !errors.Is(err, ErrNotExecutable) {
		t.Fatalf("expected ErrNotExecutable, got %v", err)
	}

	if err := loc.Set(path); err != nil {
		t.Fatalf("set override: %v", err)
	}
	if got, err := loc.Path(); err != nil || got != path {
		t.Fatalf("override not used: %s, %v", got, err)
	}

	loc.Reset()
	if _, err := loc.Path(); !errors.Is(err, ErrNotExecutable) {
		t.Fatalf("expected env lookup after reset, got %v", err)
	}
}

func TestLocatorRejectsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "espeak")
	if err := os.WriteFile(plain, []byte("text"), 0o644); err != nil {
		t.Fatal(err)
	}
	var loc Locator
	if err := loc.Set(plain); !errors.Is(err, ErrNotExecutable) {
		t.Fatalf("expected ErrNotExecutable for plain file, got %v", err)
	}
	if err := loc.Set(dir); !errors.Is(err, ErrNotExecutable) {
		t.Fatalf("expected ErrNotExecutable for directory, got %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	path := writeFakeEspeak(t, fakeHelp)
	loc := &Locator{}
	if err := loc.Set(path); err != nil {
		t.Fatal(err)
	}
	caps := NewCapabilities(loc)
	ctx := context.Background()

	version, err := caps.Version(ctx)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != "1.51" {
		t.Fatalf("unexpected version %q", version)
	}
	ng, err := caps.IsEspeakNG(ctx)
	if err != nil || !ng {
		t.Fatalf("expected espeak-ng, got %v, %v", ng, err)
	}
	align, err := caps.SupportsAlignment(ctx)
	if err != nil || !align {
		t.Fatalf("expected alignment support, got %v, %v", align, err)
	}
	langs, err := caps.SupportedLanguages(ctx)
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	if langs["en-us"] != "English (America)" {
		t.Fatalf("unexpected languages %v", langs)
	}
	langs["en-us"] = "changed"
	again, _ := caps.SupportedLanguages(ctx)
	if again["en-us"] != "English (America)" {
		t.Fatalf("cached languages were mutated through a returned map")
	}
}

func TestCapabilitiesInvalidate(t *testing.T) {
	legacy := writeFakeEspeak(t, "\neSpeak text-to-speech: 1.48.03  04.Mar.14  Data at: /usr/share/espeak-data\n")
	ng := writeFakeEspeak(t, fakeHelp)

	loc := &Locator{}
	if err := loc.Set(legacy); err != nil {
		t.Fatal(err)
	}
	caps := NewCapabilities(loc)
	ctx := context.Background()
	if isNG, _ := caps.IsEspeakNG(ctx); isNG {
		t.Fatalf("legacy engine reported as espeak-ng")
	}

	if err := loc.Set(ng); err != nil {
		t.Fatal(err)
	}
	if isNG, _ := caps.IsEspeakNG(ctx); isNG {
		t.Fatalf("expected cached answer before invalidation")
	}
	caps.Invalidate()
	if isNG, _ := caps.IsEspeakNG(ctx); !isNG {
		t.Fatalf("expected espeak-ng after invalidation")
	}
}

func TestEspeakRun(t *testing.T) {
	path := writeFakeEspeak(t, fakeHelp)
	eng, err := New(context.Background(), config.EngineConfig{Mode: "exec", Path: path, Args: `--punct=".,"`}, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	out, err := eng.Run(context.Background(), "hello", "en-us")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out) != "hello~|||~h@loU~|~|~ h_ə_l_oʊ" {
		t.Fatalf("unexpected output %q", out)
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(path), "last_args"))
	if err != nil {
		t.Fatalf("read recorded args: %v", err)
	}
	args := strings.Fields(strings.TrimPrefix(strings.TrimSpace(string(data)), "ARGS "))
	if len(args) != 9 {
		t.Fatalf("unexpected args %v", args)
	}
	if args[0] != "-ven-us" || args[1] != "-x" || args[2] != "--ipa" || args[3] != "-q" || args[4] != "-X" {
		t.Fatalf("unexpected leading args %v", args)
	}
	if args[5] != "--punct=.," || args[6] != "-f" || args[8] != "--sep=_" {
		t.Fatalf("unexpected trailing args %v", args)
	}
	if _, err := os.Stat(args[7]); !os.IsNotExist(err) {
		t.Fatalf("temp input file %s was not removed", args[7])
	}
}

func TestEspeakRunFailure(t *testing.T) {
	path := writeFakeEspeak(t, fakeHelp)
	eng, err := New(context.Background(), config.EngineConfig{Mode: "exec", Path: path}, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	_, err = eng.Run(context.Background(), "please fail", "en-us")
	if !errors.Is(err, ErrInvocation) {
		t.Fatalf("expected ErrInvocation, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestEspeakRunResetsWhenExecutableVanishes(t *testing.T) {
	path := writeFakeEspeak(t, fakeHelp)
	runner, err := New(context.Background(), config.EngineConfig{Mode: "exec", Path: path}, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	esp := runner.(*Espeak)
	if _, err := esp.Run(context.Background(), "hello", "en-us"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if esp.flags == nil {
		t.Fatalf("expected command flags to be cached")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := esp.Run(context.Background(), "hello", "en-us"); !errors.Is(err, ErrInvocation) {
		t.Fatalf("expected ErrInvocation, got %v", err)
	}
	esp.mu.Lock()
	flags := esp.flags
	esp.mu.Unlock()
	esp.caps.mu.RLock()
	cachedPath, long := esp.caps.path, esp.caps.longVersion
	esp.caps.mu.RUnlock()
	if flags != nil || cachedPath != "" || long != "" {
		t.Fatalf("expected cached engine state to be cleared, got flags=%v path=%q version=%q", flags, cachedPath, long)
	}
}

func TestNewWarnsWithoutAlignment(t *testing.T) {
	legacy := writeFakeEspeak(t, "\neSpeak text-to-speech: 1.48.03  04.Mar.14  Data at: /usr/share/espeak-data\n")
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if _, err := New(context.Background(), config.EngineConfig{Mode: "exec", Path: legacy}, logger); err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if !strings.Contains(buf.String(), "word mappings") {
		t.Fatalf("expected alignment warning, got %q", buf.String())
	}

	buf.Reset()
	ng := writeFakeEspeak(t, fakeHelp)
	if _, err := New(context.Background(), config.EngineConfig{Mode: "exec", Path: ng}, logger); err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected warning for espeak-ng: %q", buf.String())
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(context.Background(), config.EngineConfig{Mode: "wasm"}, newLogger()); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestMockRunner(t *testing.T) {
	eng, err := New(context.Background(), config.EngineConfig{Mode: "mock"}, newLogger())
	if err != nil {
		t.Fatalf("new mock: %v", err)
	}
	out, err := eng.Run(context.Background(), "Hi you", "en-us")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "Hi~|||~hi~|~|~ you~|||~you~|~|~ h_i y_o_u\n"
	if out != want {
		t.Fatalf("mock output = %q, want %q", out, want)
	}
	if out, _ := eng.Run(context.Background(), "  ", "en-us"); strings.TrimSpace(out) != "" {
		t.Fatalf("expected empty output for blank input, got %q", out)
	}
}

func TestDecodeRejectsInvalidUTF8(t *testing.T) {
	if _, err := decode([]byte{0xff, 0xfe}); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}
}
