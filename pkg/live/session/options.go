package session

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/livetutor/pkg/audio"
	"github.com/MrWong99/livetutor/pkg/audio/capture"
	"github.com/MrWong99/livetutor/pkg/live/transport"
)

// Defaults for the empirically chosen timings. All are overridable through
// [Config].
const (
	DefaultModel               = "models/gemini-2.0-flash-live-001"
	DefaultVoice               = "Puck"
	DefaultSettleDelay         = 100 * time.Millisecond
	DefaultGreetingSuppression = 3000 * time.Millisecond
	DefaultTurnCompleteMargin  = 50 * time.Millisecond
	DefaultSetupTimeout        = 15 * time.Second
)

// Config holds the per-client connection parameters.
type Config struct {
	// APIKey is sent as the key query parameter of the socket URL.
	APIKey string

	// BaseURL overrides [transport.DefaultBaseURL].
	BaseURL string

	// Model is the model identifier sent in the setup envelope.
	Model string

	// Voice is the default prebuilt voice; a non-empty Context.VoiceID wins.
	Voice string

	// Sampling parameters. Nil means the server default.
	Temperature *float64
	TopP        *float64
	TopK        *int

	// InputTranscription and OutputTranscription ask the server to
	// transcribe the user's and the model's speech.
	InputTranscription  bool
	OutputTranscription bool

	// FullDuplex keeps forwarding microphone audio while the model speaks.
	FullDuplex bool

	// SettleDelay is waited at the end of Disconnect so the platform audio
	// stack can release hardware before a reconnect.
	SettleDelay time.Duration

	// GreetingSuppression is how long transcript callbacks stay muted after
	// SendVoiceOnlyGreeting.
	GreetingSuppression time.Duration

	// TurnCompleteMargin is added to the playback finish time before the
	// delayed transition to listening.
	TurnCompleteMargin time.Duration

	// SetupTimeout bounds the wait for setupComplete. Zero disables it.
	SetupTimeout time.Duration

	// ConnectTimeout bounds device acquisition plus dialing. Zero means none.
	ConnectTimeout time.Duration

	// Capture tunes the microphone pipeline.
	Capture capture.Config

	// EchoCancellation, NoiseSuppression and AutoGainControl are passed to
	// the input device.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConfig returns a Config with every default filled in and all
// platform audio processing enabled.
func DefaultConfig() Config {
	return Config{
		Model:               DefaultModel,
		Voice:               DefaultVoice,
		SettleDelay:         DefaultSettleDelay,
		GreetingSuppression: DefaultGreetingSuppression,
		TurnCompleteMargin:  DefaultTurnCompleteMargin,
		SetupTimeout:        DefaultSetupTimeout,
		Capture: capture.Config{
			SampleRate:    audio.InputSampleRate,
			BlockSize:     capture.DefaultBlockSize,
			LevelInterval: capture.DefaultLevelInterval,
			LevelGain:     capture.DefaultLevelGain,
		},
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

func (c Config) captureConfig() audio.CaptureConfig {
	rate := c.Capture.SampleRate
	if rate <= 0 {
		rate = audio.InputSampleRate
	}
	block := c.Capture.BlockSize
	if block <= 0 {
		block = capture.DefaultBlockSize
	}
	return audio.CaptureConfig{
		SampleRate:       rate,
		Channels:         1,
		BlockSize:        block,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
		AutoGainControl:  c.AutoGainControl,
	}
}

// Context is the per-connection conversation context, typically fetched
// from the realtime-context collaborator.
type Context struct {
	SystemInstruction string
	ContextText       string
	VoiceID           string
}

// instruction joins the system instruction and the context text.
func (c Context) instruction() string {
	switch {
	case c.ContextText == "":
		return c.SystemInstruction
	case c.SystemInstruction == "":
		return c.ContextText
	default:
		return c.SystemInstruction + "\n\n" + c.ContextText
	}
}

// Metrics receives session measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordConnect(ctx context.Context, d time.Duration, err error)
	RecordStateChange(ctx context.Context, from, to State)
	RecordFrameSent(ctx context.Context, bytes int)
	RecordChunkReceived(ctx context.Context, bytes int)
	RecordBargeIn(ctx context.Context)
	RecordDecodeError(ctx context.Context, kind string)
}

type nopMetrics struct{}

func (nopMetrics) RecordConnect(context.Context, time.Duration, error) {}
func (nopMetrics) RecordStateChange(context.Context, State, State)     {}
func (nopMetrics) RecordFrameSent(context.Context, int)                {}
func (nopMetrics) RecordChunkReceived(context.Context, int)            {}
func (nopMetrics) RecordBargeIn(context.Context)                       {}
func (nopMetrics) RecordDecodeError(context.Context, string)           {}

// Option is a functional option for [New].
type Option func(*Client)

// WithDialer replaces the websocket dialer. Tests use it to point the client
// at a local server with custom transport options.
func WithDialer(d transport.DialFunc) Option {
	return func(c *Client) { c.dial = d }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithTracer sets the tracer used for connect spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}
