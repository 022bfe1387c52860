package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/livetutor/internal/config"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()
	var levels slog.LevelVar
	levels.Set(slog.LevelWarn)

	var buf bytes.Buffer
	log := newLogger(&buf, config.LogFormatJSON, &levels)
	log.Info("hidden")
	log.Warn("shown", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output %q is not one JSON record: %v", buf.String(), err)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	levels.Set(slog.LevelDebug)
	newLogger(&buf, config.LogFormatText, &levels).Debug("now visible")
	if !strings.Contains(buf.String(), "msg=\"now visible\"") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestPrintStartupSummary(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.ContextAPI.BaseURL = "http://localhost:3000"
	cfg.Session.Reconnect.Enabled = true

	var buf bytes.Buffer
	printStartupSummary(&buf, cfg, "seg-42")
	out := buf.String()
	for _, want := range []string{config.DefaultVoice, "http://localhost:3000", "seg-42", "5 retries", "(disabled)"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestCommands(t *testing.T) {
	t.Parallel()
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "devices"} {
		if !names[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
	if f := runCmd.Flags().Lookup("segment"); f == nil || f.Shorthand != "s" {
		t.Error("run --segment/-s flag not registered")
	}
}
