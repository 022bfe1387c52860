package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvAPIKey overrides live.api_key when set.
const EnvAPIKey = "LIVETUTOR_API_KEY"

// Defaults applied by [ApplyDefaults].
const (
	DefaultModel               = "models/gemini-2.0-flash-live-001"
	DefaultVoice               = "Puck"
	DefaultBlockSize           = 2048
	DefaultLevelInterval       = 2
	DefaultLevelGain           = 5.0
	DefaultSettleDelay         = 100 * time.Millisecond
	DefaultGreetingSuppression = 3000 * time.Millisecond
	DefaultTurnCompleteMargin  = 50 * time.Millisecond
	DefaultSetupTimeout        = 15 * time.Second
	DefaultContextTimeout      = 10 * time.Second
	DefaultFailureThreshold    = 3
	DefaultResetTimeout        = 30 * time.Second
	DefaultMaxRetries          = 5
	DefaultInitialBackoff      = 500 * time.Millisecond
	DefaultMaxBackoff          = 10 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies the environment
// override and defaults, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if key, ok := os.LookupEnv(EnvAPIKey); ok && key != "" {
		cfg.Live.APIKey = key
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}

	if cfg.Live.Model == "" {
		cfg.Live.Model = DefaultModel
	}
	if cfg.Live.Voice == "" {
		cfg.Live.Voice = DefaultVoice
	}

	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = DefaultBlockSize
	}
	if cfg.Audio.LevelInterval == 0 {
		cfg.Audio.LevelInterval = DefaultLevelInterval
	}
	if cfg.Audio.LevelGain == 0 {
		cfg.Audio.LevelGain = DefaultLevelGain
	}

	if cfg.Session.SettleDelay == 0 {
		cfg.Session.SettleDelay = DefaultSettleDelay
	}
	if cfg.Session.GreetingSuppression == 0 {
		cfg.Session.GreetingSuppression = DefaultGreetingSuppression
	}
	if cfg.Session.TurnCompleteMargin == 0 {
		cfg.Session.TurnCompleteMargin = DefaultTurnCompleteMargin
	}
	if cfg.Session.SetupTimeout == 0 {
		cfg.Session.SetupTimeout = DefaultSetupTimeout
	}
	rc := &cfg.Session.Reconnect
	if rc.MaxRetries == 0 {
		rc.MaxRetries = DefaultMaxRetries
	}
	if rc.InitialBackoff == 0 {
		rc.InitialBackoff = DefaultInitialBackoff
	}
	if rc.MaxBackoff == 0 {
		rc.MaxBackoff = DefaultMaxBackoff
	}

	if cfg.ContextAPI.Timeout == 0 {
		cfg.ContextAPI.Timeout = DefaultContextTimeout
	}
	if cfg.ContextAPI.FailureThreshold == 0 {
		cfg.ContextAPI.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ContextAPI.ResetTimeout == 0 {
		cfg.ContextAPI.ResetTimeout = DefaultResetTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Live
	if cfg.Live.APIKey == "" {
		errs = append(errs, fmt.Errorf("live.api_key is required (or set %s)", EnvAPIKey))
	}
	if cfg.Live.BaseURL != "" {
		if u, err := url.Parse(cfg.Live.BaseURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("live.base_url %q must be a ws:// or wss:// URL", cfg.Live.BaseURL))
		}
	}
	if t := cfg.Live.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("live.temperature %.2f is out of range [0, 2]", *t))
	}
	if p := cfg.Live.TopP; p != nil && (*p < 0 || *p > 1) {
		errs = append(errs, fmt.Errorf("live.top_p %.2f is out of range [0, 1]", *p))
	}
	if k := cfg.Live.TopK; k != nil && *k < 1 {
		errs = append(errs, fmt.Errorf("live.top_k %d must be at least 1", *k))
	}

	// Audio
	if cfg.Audio.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", cfg.Audio.BlockSize))
	}
	if cfg.Audio.LevelInterval < 0 {
		errs = append(errs, fmt.Errorf("audio.level_interval %d must be positive", cfg.Audio.LevelInterval))
	}
	if cfg.Audio.LevelGain < 0 {
		errs = append(errs, fmt.Errorf("audio.level_gain %.2f must be positive", cfg.Audio.LevelGain))
	}
	if cfg.Audio.OutputFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.output_frames %d must not be negative", cfg.Audio.OutputFrames))
	}

	// Session
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"session.settle_delay", cfg.Session.SettleDelay},
		{"session.greeting_suppression", cfg.Session.GreetingSuppression},
		{"session.turn_complete_margin", cfg.Session.TurnCompleteMargin},
		{"session.setup_timeout", cfg.Session.SetupTimeout},
		{"session.connect_timeout", cfg.Session.ConnectTimeout},
		{"session.reconnect.initial_backoff", cfg.Session.Reconnect.InitialBackoff},
		{"session.reconnect.max_backoff", cfg.Session.Reconnect.MaxBackoff},
	}
	for _, f := range durations {
		if f.d < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", f.name, f.d))
		}
	}
	if rc := cfg.Session.Reconnect; rc.MaxBackoff > 0 && rc.InitialBackoff > rc.MaxBackoff {
		errs = append(errs, fmt.Errorf("session.reconnect.initial_backoff %s exceeds max_backoff %s", rc.InitialBackoff, rc.MaxBackoff))
	}

	// Context API
	if cfg.ContextAPI.BaseURL != "" {
		if u, err := url.Parse(cfg.ContextAPI.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("context_api.base_url %q must be an http:// or https:// URL", cfg.ContextAPI.BaseURL))
		}
	}
	if cfg.ContextAPI.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("context_api.cache_ttl %s must not be negative", cfg.ContextAPI.CacheTTL))
	}

	return errors.Join(errs...)
}
