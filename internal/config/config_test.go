package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Voice.Engine != "mock" {
		t.Fatalf("expected mock engine by default, got %q", cfg.Voice.Engine)
	}
	if cfg.Voice.SilenceTimeoutMS != 3000 || cfg.Voice.SettleDelayMS != 1000 {
		t.Fatalf("unexpected voice timers: %+v", cfg.Voice)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("LOQA_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("LOQA_VOICE_ENGINE", "bus")
	t.Setenv("LOQA_VOICE_DEVICE", "kitchen")
	t.Setenv("LOQA_VOICE_SILENCE_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_VOICE_SETTLE_DELAY_MS", "500")
	t.Setenv("LOQA_ASSISTANT_AUTO_SEARCH", "false")
	t.Setenv("LOQA_TELEMETRY_TRACE_EXPORTER", "none")
	t.Setenv("LOQA_TELEMETRY_TRACE_SAMPLE_RATIO", "0.25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store max sessions override")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}
	if cfg.Voice.Engine != "bus" || cfg.Voice.Device != "kitchen" {
		t.Fatalf("expected voice engine override, got %+v", cfg.Voice)
	}
	if cfg.Voice.SilenceTimeoutMS != 5000 || cfg.Voice.SettleDelayMS != 500 {
		t.Fatalf("expected voice timer overrides, got %+v", cfg.Voice)
	}
	if cfg.Assistant.AutoSearch {
		t.Fatal("expected auto search disabled")
	}
	if cfg.Telemetry.TraceExporter != "none" || cfg.Telemetry.TraceSampleRatio != 0.25 {
		t.Fatalf("expected trace overrides, got %+v", cfg.Telemetry)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-voice.yaml")
	data := []byte(`voice:
  engine: exec
  command: "recognizer --model small"
  locale: en-IN
assistant:
  endpoint: http://shop.internal/api
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Voice.Engine != "exec" || cfg.Voice.Command != "recognizer --model small" {
		t.Fatalf("unexpected voice config: %+v", cfg.Voice)
	}
	if cfg.Voice.Locale != "en-IN" {
		t.Fatalf("expected locale override, got %q", cfg.Voice.Locale)
	}
	if cfg.Voice.SettleDelayMS != 1000 {
		t.Fatalf("expected default settle delay to survive partial file")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"exec without command", func(c *Config) { c.Voice.Engine = "exec"; c.Voice.Command = "" }},
		{"unknown engine", func(c *Config) { c.Voice.Engine = "browser" }},
		{"zero silence", func(c *Config) { c.Voice.SilenceTimeoutMS = 0 }},
		{"bad log level", func(c *Config) { c.Telemetry.LogLevel = "loud" }},
		{"assistant without endpoint", func(c *Config) { c.Assistant.Endpoint = "" }},
		{"unknown trace exporter", func(c *Config) { c.Telemetry.TraceExporter = "jaeger" }},
		{"otlp without endpoint", func(c *Config) { c.Telemetry.TraceExporter = "otlp" }},
		{"sample ratio above one", func(c *Config) { c.Telemetry.TraceSampleRatio = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateAllowsDisabledVoice(t *testing.T) {
	cfg := Default()
	cfg.Voice.Enabled = false
	cfg.Voice.Engine = ""
	if err := validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
