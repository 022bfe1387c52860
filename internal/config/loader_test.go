package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livetutor/internal/config"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_format: json
live:
  api_key: test-key
  base_url: wss://example.test/ws
  model: models/custom-live
  voice: Kore
  temperature: 0.7
  top_p: 0.95
  top_k: 40
  input_transcription: true
  output_transcription: true
  full_duplex: true
audio:
  block_size: 1024
  level_gain: 4
  echo_cancellation: false
session:
  settle_delay: 250ms
  greeting_suppression: 2s
  setup_timeout: 5s
  reconnect:
    enabled: true
    max_retries: 3
context_api:
  base_url: http://localhost:3000
  cache_ttl: 5m
prompt:
  system_instruction: You are a patient math tutor.
  introduction_prompt: Greet the student.
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug || cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("server logging: got %q/%q", cfg.Server.LogLevel, cfg.Server.LogFormat)
	}
	if cfg.Live.Model != "models/custom-live" || cfg.Live.Voice != "Kore" {
		t.Errorf("live: got model %q voice %q", cfg.Live.Model, cfg.Live.Voice)
	}
	if cfg.Live.Temperature == nil || *cfg.Live.Temperature != 0.7 {
		t.Errorf("live.temperature: got %v", cfg.Live.Temperature)
	}
	if cfg.Live.TopK == nil || *cfg.Live.TopK != 40 {
		t.Errorf("live.top_k: got %v", cfg.Live.TopK)
	}
	if !cfg.Live.FullDuplex || !cfg.Live.InputTranscription {
		t.Error("live flags not decoded")
	}
	if cfg.Audio.BlockSize != 1024 || cfg.Audio.LevelGain != 4 {
		t.Errorf("audio: got %+v", cfg.Audio)
	}
	if config.Enabled(cfg.Audio.EchoCancellation) {
		t.Error("audio.echo_cancellation should be off")
	}
	if !config.Enabled(cfg.Audio.NoiseSuppression) {
		t.Error("audio.noise_suppression should default to on")
	}
	if cfg.Session.SettleDelay != 250*time.Millisecond || cfg.Session.GreetingSuppression != 2*time.Second {
		t.Errorf("session durations: got %+v", cfg.Session)
	}
	if !cfg.Session.Reconnect.Enabled || cfg.Session.Reconnect.MaxRetries != 3 {
		t.Errorf("session.reconnect: got %+v", cfg.Session.Reconnect)
	}
	if cfg.ContextAPI.CacheTTL != 5*time.Minute {
		t.Errorf("context_api.cache_ttl: got %s", cfg.ContextAPI.CacheTTL)
	}
	if cfg.Prompt.IntroductionPrompt != "Greet the student." {
		t.Errorf("prompt.introduction_prompt: got %q", cfg.Prompt.IntroductionPrompt)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("live:\n  api_key: k\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.LogFormatText {
		t.Errorf("logging defaults: got %q/%q", cfg.Server.LogLevel, cfg.Server.LogFormat)
	}
	if cfg.Live.Model != config.DefaultModel || cfg.Live.Voice != config.DefaultVoice {
		t.Errorf("live defaults: got %q/%q", cfg.Live.Model, cfg.Live.Voice)
	}
	if cfg.Audio.BlockSize != 2048 || cfg.Audio.LevelInterval != 2 || cfg.Audio.LevelGain != 5 {
		t.Errorf("audio defaults: got %+v", cfg.Audio)
	}
	if cfg.Session.SettleDelay != 100*time.Millisecond {
		t.Errorf("settle_delay default: got %s", cfg.Session.SettleDelay)
	}
	if cfg.Session.GreetingSuppression != 3*time.Second {
		t.Errorf("greeting_suppression default: got %s", cfg.Session.GreetingSuppression)
	}
	if cfg.Session.SetupTimeout != 15*time.Second {
		t.Errorf("setup_timeout default: got %s", cfg.Session.SetupTimeout)
	}
	if cfg.Session.ConnectTimeout != 0 {
		t.Errorf("connect_timeout default: got %s, want 0", cfg.Session.ConnectTimeout)
	}
	if cfg.Session.Reconnect.Enabled {
		t.Error("reconnect should be off by default")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("live:\n  api_key: k\n  modle: typo\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "modle") {
		t.Errorf("error should mention the unknown field, got: %v", err)
	}
}

func TestLoadFromReader_EnvOverridesAPIKey(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "from-env")

	cfg, err := config.LoadFromReader(strings.NewReader("live:\n  api_key: from-file\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Live.APIKey != "from-env" {
		t.Errorf("api_key: got %q, want from-env", cfg.Live.APIKey)
	}

	// The environment alone satisfies the requirement.
	if _, err := config.LoadFromReader(strings.NewReader("{}")); err != nil {
		t.Errorf("env-only key rejected: %v", err)
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")

	_, err := config.LoadFromReader(strings.NewReader("{}"))
	if err == nil {
		t.Fatal("expected error for missing api key, got nil")
	}
	if !strings.Contains(err.Error(), "live.api_key") {
		t.Errorf("error should mention live.api_key, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: verbose\n", "log_level"},
		{"log format", "server:\n  log_format: xml\n", "log_format"},
		{"base url scheme", "live:\n  base_url: https://example.test\n", "live.base_url"},
		{"temperature", "live:\n  temperature: 3\n", "live.temperature"},
		{"top p", "live:\n  top_p: 1.5\n", "live.top_p"},
		{"top k", "live:\n  top_k: 0\n", "live.top_k"},
		{"block size", "audio:\n  block_size: -1\n", "audio.block_size"},
		{"negative duration", "session:\n  settle_delay: -1s\n", "session.settle_delay"},
		{"backoff order", "session:\n  reconnect:\n    initial_backoff: 20s\n    max_backoff: 1s\n", "initial_backoff"},
		{"context url", "context_api:\n  base_url: localhost:3000\n", "context_api.base_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  log_level: loud
live:
  api_key: k
  top_k: -3
audio:
  level_gain: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "live.top_k", "audio.level_gain"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "livetutor.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Live.Voice != "Kore" {
		t.Errorf("voice: got %q", cfg.Live.Voice)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "example-key")

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load example config: %v", err)
	}
	if cfg.Live.APIKey != "example-key" {
		t.Errorf("api key = %q, want env override", cfg.Live.APIKey)
	}
	if !cfg.Session.Reconnect.Enabled {
		t.Error("example config should enable reconnect")
	}
	if cfg.Prompt.IntroductionPrompt == "" {
		t.Error("example config has no introduction prompt")
	}
}
