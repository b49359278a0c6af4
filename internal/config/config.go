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
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	SentryDSN      string `yaml:"sentry_dsn"`
	// TraceExporter is auto, otlp, stdout or none. Auto picks otlp when an
	// endpoint is configured and stdout otherwise.
	TraceExporter    string  `yaml:"trace_exporter"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
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
	Voice       VoiceConfig      `yaml:"voice"`
	Assistant   AssistantConfig  `yaml:"assistant"`
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
	PrivacyScope  string `yaml:"privacy_scope"`
}

// VoiceConfig controls the speech-capture controller and the engine behind it.
type VoiceConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Engine           string `yaml:"engine"` // mock, exec, bus
	Command          string `yaml:"command"`
	Device           string `yaml:"device"`
	Locale           string `yaml:"locale"`
	SilenceTimeoutMS int    `yaml:"silence_timeout_ms"`
	SettleDelayMS    int    `yaml:"settle_delay_ms"`
	SupportTimeoutMS   int    `yaml:"support_timeout_ms"`
	MockPhrase       string `yaml:"mock_phrase"`
}

type AssistantConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	AutoSearch bool   `yaml:"auto_search"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-voice",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:         "info",
			OTLPEndpoint:     "",
			OTLPInsecure:     true,
			PrometheusBind:   ":9091",
			TraceExporter:    "auto",
			TraceSampleRatio: 1,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-voice.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
			PrivacyScope:  "session",
		},
		Voice: VoiceConfig{
			Enabled:          true,
			Engine:           "mock",
			Device:           "kiosk-1",
			Locale:           "en-US",
			SilenceTimeoutMS: 3000,
			SettleDelayMS:    1000,
			SupportTimeoutMS:   1500,
			MockPhrase:       "find wireless headphones",
		},
		Assistant: AssistantConfig{
			Enabled:    true,
			Endpoint:   "http://localhost:5000/api",
			TimeoutMS:  10000,
			AutoSearch: true,
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
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Telemetry.SentryDSN, "LOQA_TELEMETRY_SENTRY_DSN")
	overrideString(&cfg.Telemetry.TraceExporter, "LOQA_TELEMETRY_TRACE_EXPORTER")
	overrideFloat(&cfg.Telemetry.TraceSampleRatio, "LOQA_TELEMETRY_TRACE_SAMPLE_RATIO")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.EventStore.PrivacyScope, "LOQA_EVENT_STORE_PRIVACY_SCOPE")
	overrideBool(&cfg.Voice.Enabled, "LOQA_VOICE_ENABLED")
	overrideString(&cfg.Voice.Engine, "LOQA_VOICE_ENGINE")
	overrideString(&cfg.Voice.Command, "LOQA_VOICE_COMMAND")
	overrideString(&cfg.Voice.Device, "LOQA_VOICE_DEVICE")
	overrideString(&cfg.Voice.Locale, "LOQA_VOICE_LOCALE")
	overrideInt(&cfg.Voice.SilenceTimeoutMS, "LOQA_VOICE_SILENCE_TIMEOUT_MS")
	overrideInt(&cfg.Voice.SettleDelayMS, "LOQA_VOICE_SETTLE_DELAY_MS")
	overrideInt(&cfg.Voice.SupportTimeoutMS, "LOQA_VOICE_SUPPORT_TIMEOUT_MS")
	overrideString(&cfg.Voice.MockPhrase, "LOQA_VOICE_MOCK_PHRASE")
	overrideBool(&cfg.Assistant.Enabled, "LOQA_ASSISTANT_ENABLED")
	overrideString(&cfg.Assistant.Endpoint, "LOQA_ASSISTANT_ENDPOINT")
	overrideInt(&cfg.Assistant.TimeoutMS, "LOQA_ASSISTANT_TIMEOUT_MS")
	overrideBool(&cfg.Assistant.AutoSearch, "LOQA_ASSISTANT_AUTO_SEARCH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Telemetry.TraceExporter {
	case "auto", "otlp", "stdout", "none":
	default:
		return errors.New("telemetry.trace_exporter must be one of auto|otlp|stdout|none")
	}
	if cfg.Telemetry.TraceExporter == "otlp" && strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
		return errors.New("telemetry.otlp_endpoint is required when trace_exporter is otlp")
	}
	if cfg.Telemetry.TraceSampleRatio < 0 || cfg.Telemetry.TraceSampleRatio > 1 {
		return errors.New("telemetry.trace_sample_ratio must be between 0 and 1")
	}
	if cfg.Voice.Enabled {
		switch cfg.Voice.Engine {
		case "mock", "exec", "bus":
		default:
			return errors.New("voice.engine must be one of mock|exec|bus")
		}
		if cfg.Voice.Engine == "exec" && cfg.Voice.Command == "" {
			return errors.New("voice.command must be set when engine=exec")
		}
		if cfg.Voice.Engine == "bus" && cfg.Voice.Device == "" {
			return errors.New("voice.device must be set when engine=bus")
		}
		if cfg.Voice.Locale == "" {
			return errors.New("voice.locale must not be empty")
		}
		if cfg.Voice.SilenceTimeoutMS <= 0 {
			return errors.New("voice.silence_timeout_ms must be positive")
		}
		if cfg.Voice.SettleDelayMS <= 0 {
			return errors.New("voice.settle_delay_ms must be positive")
		}
	}
	if cfg.Assistant.Enabled {
		if cfg.Assistant.Endpoint == "" {
			return errors.New("assistant.endpoint must be set when assistant is enabled")
		}
		if cfg.Assistant.TimeoutMS <= 0 {
			return errors.New("assistant.timeout_ms must be positive")
		}
	}
	return nil
}
