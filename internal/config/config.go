package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	TraceExporter  string `yaml:"trace_exporter"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Engine      EngineConfig     `yaml:"engine"`
	Phonemizer  PhonemizerConfig `yaml:"phonemizer"`
	Service     ServiceConfig    `yaml:"service"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// EngineConfig locates and drives the external phoneme engine.
type EngineConfig struct {
	Mode      string `yaml:"mode"` // exec, mock
	Path      string `yaml:"path"`
	Args      string `yaml:"args"`
	Language  string `yaml:"language"`
	UseSAMPA  bool   `yaml:"use_sampa"`
	ShareDir  string `yaml:"share_dir"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// PhonemizerConfig holds the output policies applied to engine output.
type PhonemizerConfig struct {
	PhoneSeparator string `yaml:"phone_separator"`
	WordSeparator  string `yaml:"word_separator"`
	Strip          bool   `yaml:"strip"`
	WithStress     bool   `yaml:"with_stress"`
	LanguageSwitch string `yaml:"language_switch"`
	Concurrency    int    `yaml:"concurrency"`
	UnicodeForm    string `yaml:"unicode_form"`
}

type ServiceConfig struct {
	Enabled          bool `yaml:"enabled"`
	RequestTimeoutMS int  `yaml:"request_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-phonemizer",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			TraceExporter:  "none",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/phonemizer-runs.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Engine: EngineConfig{
			Mode:     "exec",
			Language: "en-us",
			ShareDir: "./share/espeak",
		},
		Phonemizer: PhonemizerConfig{
			PhoneSeparator: "",
			WordSeparator:  " ",
			Strip:          false,
			LanguageSwitch: "keep-flags",
			Concurrency:    1,
			UnicodeForm:    "none",
		},
		Service: ServiceConfig{
			Enabled:          true,
			RequestTimeoutMS: 30000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "PHONEMIZER_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PHONEMIZER_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PHONEMIZER_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PHONEMIZER_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PHONEMIZER_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.TraceExporter, "PHONEMIZER_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PHONEMIZER_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PHONEMIZER_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "PHONEMIZER_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "PHONEMIZER_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PHONEMIZER_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "PHONEMIZER_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "PHONEMIZER_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PHONEMIZER_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PHONEMIZER_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PHONEMIZER_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PHONEMIZER_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PHONEMIZER_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "PHONEMIZER_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "PHONEMIZER_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "PHONEMIZER_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "PHONEMIZER_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "PHONEMIZER_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Engine.Mode, "PHONEMIZER_ENGINE_MODE")
	overrideString(&cfg.Engine.Path, "PHONEMIZER_ENGINE_PATH")
	overrideString(&cfg.Engine.Args, "PHONEMIZER_ENGINE_ARGS")
	overrideString(&cfg.Engine.Language, "PHONEMIZER_ENGINE_LANGUAGE")
	overrideBool(&cfg.Engine.UseSAMPA, "PHONEMIZER_ENGINE_USE_SAMPA")
	overrideString(&cfg.Engine.ShareDir, "PHONEMIZER_ENGINE_SHARE_DIR")
	overrideInt(&cfg.Engine.TimeoutMS, "PHONEMIZER_ENGINE_TIMEOUT_MS")
	overrideRawString(&cfg.Phonemizer.PhoneSeparator, "PHONEMIZER_PHONE_SEPARATOR")
	overrideRawString(&cfg.Phonemizer.WordSeparator, "PHONEMIZER_WORD_SEPARATOR")
	overrideBool(&cfg.Phonemizer.Strip, "PHONEMIZER_STRIP")
	overrideBool(&cfg.Phonemizer.WithStress, "PHONEMIZER_WITH_STRESS")
	overrideString(&cfg.Phonemizer.LanguageSwitch, "PHONEMIZER_LANGUAGE_SWITCH")
	overrideInt(&cfg.Phonemizer.Concurrency, "PHONEMIZER_CONCURRENCY")
	overrideString(&cfg.Phonemizer.UnicodeForm, "PHONEMIZER_UNICODE_FORM")
	overrideBool(&cfg.Service.Enabled, "PHONEMIZER_SERVICE_ENABLED")
	overrideInt(&cfg.Service.RequestTimeoutMS, "PHONEMIZER_SERVICE_REQUEST_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

// separators may legitimately be blank or whitespace
func overrideRawString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// Validate checks cross-field constraints. The CLI calls it again after
// applying flag overrides.
func Validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port != -1 && (cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535) {
			return errors.New("bus.port must be between 1 and 65535 (or -1 for random) when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	switch cfg.Telemetry.TraceExporter {
	case "", "none", "stdout":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint is required when trace_exporter is otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}
	switch cfg.Engine.Mode {
	case "exec", "mock":
	default:
		return errors.New("engine.mode must be one of exec|mock")
	}
	if cfg.Engine.Language == "" {
		return errors.New("engine.language must not be empty")
	}
	if cfg.Engine.TimeoutMS < 0 {
		return errors.New("engine.timeout_ms must be >= 0")
	}
	switch cfg.Phonemizer.LanguageSwitch {
	case "keep-flags", "remove-flags", "remove-utterance":
	default:
		return fmt.Errorf("phonemizer.language_switch %q invalid, must be in keep-flags, remove-flags, remove-utterance", cfg.Phonemizer.LanguageSwitch)
	}
	switch cfg.Phonemizer.UnicodeForm {
	case "", "none", "nfc", "nfd":
	default:
		return errors.New("phonemizer.unicode_form must be one of none|nfc|nfd")
	}
	if cfg.Phonemizer.Concurrency <= 0 {
		return errors.New("phonemizer.concurrency must be >= 1")
	}
	if cfg.Service.RequestTimeoutMS < 0 {
		return errors.New("service.request_timeout_ms must be >= 0")
	}
	return nil
}
