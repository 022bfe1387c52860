// Package config provides the configuration schema, loader, and file watcher
// for the livetutor voice client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the slog level; unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Live       LiveConfig       `yaml:"live"`
	Audio      AudioConfig      `yaml:"audio"`
	Session    SessionConfig    `yaml:"session"`
	ContextAPI ContextAPIConfig `yaml:"context_api"`
	Prompt     PromptConfig     `yaml:"prompt"`
}

// ServerConfig holds logging settings and the operations listener.
type ServerConfig struct {
	// ListenAddr is the TCP address of the metrics and health endpoints
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Defaults to info.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log output. Defaults to text.
	LogFormat LogFormat `yaml:"log_format"`
}

// LiveConfig describes the connection to the live audio model.
type LiveConfig struct {
	// APIKey authenticates the socket. The LIVETUTOR_API_KEY environment
	// variable overrides it.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default websocket root.
	BaseURL string `yaml:"base_url"`

	// Model is the model identifier sent in the setup message.
	Model string `yaml:"model"`

	// Voice is the default prebuilt voice name.
	Voice string `yaml:"voice"`

	// Temperature, TopP and TopK tune sampling. Unset values use the
	// server's defaults.
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
	TopK        *int     `yaml:"top_k"`

	// InputTranscription and OutputTranscription request live transcripts.
	InputTranscription  bool `yaml:"input_transcription"`
	OutputTranscription bool `yaml:"output_transcription"`

	// FullDuplex keeps the microphone open while the model speaks.
	FullDuplex bool `yaml:"full_duplex"`
}

// AudioConfig tunes capture and playback.
type AudioConfig struct {
	// BlockSize is the number of samples per capture block. Defaults to 2048.
	BlockSize int `yaml:"block_size"`

	// LevelInterval reports the input level every N blocks. Defaults to 2.
	LevelInterval int `yaml:"level_interval"`

	// LevelGain amplifies the RMS before clamping to [0, 1]. Defaults to 5.
	LevelGain float64 `yaml:"level_gain"`

	// Platform audio processing. Nil means enabled.
	EchoCancellation *bool `yaml:"echo_cancellation"`
	NoiseSuppression *bool `yaml:"noise_suppression"`
	AutoGainControl  *bool `yaml:"auto_gain_control"`

	// OutputFrames is the playback callback buffer size in frames. Zero lets
	// the audio backend choose.
	OutputFrames int `yaml:"output_frames"`
}

// SessionConfig holds the timing constants of the session state machine.
type SessionConfig struct {
	SettleDelay         time.Duration `yaml:"settle_delay"`
	GreetingSuppression time.Duration `yaml:"greeting_suppression"`
	TurnCompleteMargin  time.Duration `yaml:"turn_complete_margin"`
	SetupTimeout        time.Duration `yaml:"setup_timeout"`

	// ConnectTimeout bounds device acquisition and dialing. Zero means none.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig controls automatic reconnection after a transport failure.
type ReconnectConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// ContextAPIConfig points at the realtime-context collaborator.
type ContextAPIConfig struct {
	// BaseURL of the collaborator (e.g., "http://localhost:3000"). Empty means
	// the static [PromptConfig] is used instead.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single fetch. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`

	// CacheTTL keeps fetched contexts per segment. Zero disables caching.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// FailureThreshold consecutive failures open the circuit breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// ResetTimeout is how long the breaker stays open.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// PromptConfig is the static conversation context used when no context API is
// configured.
type PromptConfig struct {
	SystemInstruction    string `yaml:"system_instruction"`
	ContextText          string `yaml:"context_text"`
	IntroductionPrompt   string `yaml:"introduction_prompt"`
	TransitionBackPrompt string `yaml:"transition_back_prompt"`
}

// Enabled reports whether a platform audio flag is on. Unset means on.
func Enabled(b *bool) bool {
	return b == nil || *b
}
