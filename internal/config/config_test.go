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
	if cfg.Engine.KeepAliveIntervalMS != 140000 {
		t.Fatalf("expected default keepalive interval, got %d", cfg.Engine.KeepAliveIntervalMS)
	}
	if cfg.Engine.VoicePollAttempts != 100 || cfg.Engine.VoicePollIntervalMS != 1 {
		t.Fatalf("unexpected voice polling defaults: %+v", cfg.Engine)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.yaml")
	data := []byte(`engine:
  lang: fr-FR
  voice: Amelie
  continuous: true
tts:
  mode: exec
  command: "piper --model fr.onnx"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.Lang != "fr-FR" || cfg.Engine.Voice != "Amelie" || !cfg.Engine.Continuous {
		t.Fatalf("engine section not applied: %+v", cfg.Engine)
	}
	if cfg.TTS.Mode != "exec" || cfg.TTS.SampleRate != 22050 {
		t.Fatalf("expected file values merged over defaults: %+v", cfg.TTS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
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
	t.Setenv("LOQA_ENGINE_LANG", "de-DE")
	t.Setenv("LOQA_ENGINE_LOCAL_SERVICE", "false")
	t.Setenv("LOQA_ENGINE_KEEPALIVE_INTERVAL_MS", "10000")
	t.Setenv("LOQA_STT_MOCK_PHRASES", "hello, world")

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
	if cfg.Engine.Lang != "de-DE" || cfg.Engine.LocalService {
		t.Fatalf("expected engine overrides, got %+v", cfg.Engine)
	}
	if cfg.Engine.KeepAliveIntervalMS != 10000 {
		t.Fatalf("expected keepalive override")
	}
	if len(cfg.STT.MockPhrases) != 2 || cfg.STT.MockPhrases[1] != "world" {
		t.Fatalf("expected mock phrases override, got %v", cfg.STT.MockPhrases)
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("LOQA_STT_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec mode without command")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("LOQA_TELEMETRY_LOG_LEVEL", "chatty")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for log level")
	}
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "loqa-voice.yaml"))
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if cfg.Telemetry.PrometheusBind != "" {
		t.Fatalf("expected metrics on the API listener, got %q", cfg.Telemetry.PrometheusBind)
	}
	if len(cfg.TTS.MockVoices) != 4 || cfg.TTS.MockVoices[2].Name != "Google español" || cfg.TTS.MockVoices[2].LocalService {
		t.Fatalf("unexpected mock voices %+v", cfg.TTS.MockVoices)
	}
	if len(cfg.STT.MockPhrases) != 2 {
		t.Fatalf("unexpected mock phrases %v", cfg.STT.MockPhrases)
	}
}
