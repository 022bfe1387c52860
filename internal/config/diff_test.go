package config_test

import (
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/livetutor/internal/config"
)

func baseConfig() *config.Config {
	temp := 0.5
	cfg := &config.Config{
		Live:   config.LiveConfig{APIKey: "k", Temperature: &temp},
		Prompt: config.PromptConfig{SystemInstruction: "tutor"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("got %+v", d)
	}
	if d.PromptChanged || d.LiveChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected extra changes: %+v", d)
	}
}

func TestDiff_PromptAndLive(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Prompt.IntroductionPrompt = "Say hi."
	temp := 0.9
	new.Live.Temperature = &temp

	d := config.Diff(old, new)
	if !d.PromptChanged {
		t.Error("PromptChanged should be set")
	}
	if !d.LiveChanged {
		t.Error("LiveChanged should be set")
	}
}

func TestDiff_EqualPointersByValue(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	// Different pointers, same value.
	temp := *old.Live.Temperature
	new.Live.Temperature = &temp
	on := true
	new.Audio.EchoCancellation = &on // explicit true equals unset

	if d := config.Diff(old, new); !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.ListenAddr = ":9999"
	new.Audio.BlockSize = 512
	new.Session.SettleDelay = time.Second
	new.ContextAPI.CacheTTL = time.Minute

	d := config.Diff(old, new)
	for _, section := range []string{"server", "audio", "session", "context_api"} {
		if !slices.Contains(d.RestartRequired, section) {
			t.Errorf("RestartRequired %v missing %q", d.RestartRequired, section)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.SlogLevel(); got != tt.want {
			t.Errorf("LogLevel(%q).SlogLevel() = %v, want %v", tt.in, got, tt.want)
		}
	}
}
