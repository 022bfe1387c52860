// Package portaudio implements [audio.Backend] on top of PortAudio.
//
// Capture uses a blocking read stream at the requested rate; playback uses a
// callback stream at the output device's native rate whose callback renders a
// [mixer.Mixer], so the number of frames handed to the device is the engine's
// monotonic clock.
//
// PortAudio reference-counts Pa_Initialize/Pa_Terminate, so every device
// handle initialises the library on open and terminates it on close.
//
// For go build: requires portaudio installed via pkg-config.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livetutor/pkg/audio"
	"github.com/MrWong99/livetutor/pkg/audio/mixer"
)

// Compile-time interface assertions.
var (
	_ audio.Backend      = (*Backend)(nil)
	_ audio.InputDevice  = (*inputDevice)(nil)
	_ audio.OutputEngine = (*outputEngine)(nil)
)

// defaultOutputFrames is the callback buffer size of the playback stream.
// 0 lets PortAudio choose the optimal size for the host API.
const defaultOutputFrames = 0

// Backend opens PortAudio default devices.
type Backend struct {
	outputFrames int
}

// Option configures a [Backend].
type Option func(*Backend)

// WithOutputFrames sets the playback callback buffer size in frames.
func WithOutputFrames(n int) Option {
	return func(b *Backend) { b.outputFrames = n }
}

// New returns a Backend using the system default devices.
func New(opts ...Option) *Backend {
	b := &Backend{outputFrames: defaultOutputFrames}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Device describes one PortAudio device for listing.
type Device struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// Devices lists the devices PortAudio can see.
func Devices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer portaudio.Terminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	out := make([]Device, 0, len(infos))
	for _, d := range infos {
		dev := Device{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		}
		if d.HostApi != nil {
			dev.HostAPI = d.HostApi.Name
		}
		out = append(out, dev)
	}
	return out, nil
}

// ─── Input ────────────────────────────────────────────────────────────────────

// OpenInput opens the default microphone as a mono blocking stream. Any
// failure to find or open the device is reported as
// [audio.ErrInputUnavailable]; PortAudio does not distinguish a refused
// permission from a missing device.
func (b *Backend) OpenInput(_ context.Context, cfg audio.CaptureConfig) (audio.InputDevice, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.InputSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 2048
	}
	if cfg.EchoCancellation || cfg.NoiseSuppression || cfg.AutoGainControl {
		slog.Debug("portaudio: capture processing is left to the host audio stack",
			"echo_cancellation", cfg.EchoCancellation,
			"noise_suppression", cfg.NoiseSuppression,
			"auto_gain_control", cfg.AutoGainControl,
		)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrInputUnavailable, err)
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil || dev.MaxInputChannels < 1 {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: no default input device: %w", audio.ErrInputUnavailable)
	}

	buf := make([]float32, cfg.BlockSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), cfg.BlockSize, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open input %q: %w: %w", dev.Name, audio.ErrInputUnavailable, err)
	}

	slog.Debug("portaudio: input opened", "device", dev.Name, "rate", cfg.SampleRate, "block", cfg.BlockSize)
	return &inputDevice{stream: stream, buf: buf, done: make(chan struct{})}, nil
}

type inputDevice struct {
	stream *portaudio.Stream
	buf    []float32

	mu      sync.Mutex
	started bool
	closed  bool
	stop    atomic.Bool
	done    chan struct{} // closed when the read loop has released the stream
}

func (d *inputDevice) Start(fn func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("portaudio: input closed")
	}
	if d.started {
		return fmt.Errorf("portaudio: input already started")
	}
	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start input: %w", err)
	}
	d.started = true
	go d.readLoop(fn)
	return nil
}

// readLoop owns the stream once started: PortAudio's blocking API must not be
// stopped from another goroutine mid-read, so the loop checks the stop flag
// between reads and releases the stream itself.
func (d *inputDevice) readLoop(fn func([]float32)) {
	defer close(d.done)
	defer d.release()

	for !d.stop.Load() {
		if err := d.stream.Read(); err != nil {
			// Input overflow is reported as an error but the data is valid.
			if err != portaudio.InputOverflowed {
				slog.Warn("portaudio: input read failed", "err", err)
				return
			}
		}
		if d.stop.Load() {
			return
		}
		fn(d.buf)
	}
}

func (d *inputDevice) release() {
	if d.started {
		_ = d.stream.Stop()
	}
	_ = d.stream.Close()
	_ = portaudio.Terminate()
}

func (d *inputDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	d.stop.Store(true)
	if !started {
		d.release()
		close(d.done)
		return nil
	}
	<-d.done
	return nil
}

// ─── Output ───────────────────────────────────────────────────────────────────

// OpenOutput opens the default output device at its native sample rate and
// starts rendering silence immediately so the clock runs from zero.
func (b *Backend) OpenOutput(_ context.Context) (audio.OutputEngine, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrOutputUnavailable, err)
	}
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil || dev == nil || dev.MaxOutputChannels < 1 {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: no default output device: %w", audio.ErrOutputUnavailable)
	}

	channels := min(dev.MaxOutputChannels, 2)
	rate := int(dev.DefaultSampleRate)
	mix := mixer.New(rate, channels)

	stream, err := portaudio.OpenDefaultStream(0, channels, float64(rate), b.outputFrames, mix.Render)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open output %q: %w: %w", dev.Name, audio.ErrOutputUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start output: %w: %w", audio.ErrOutputUnavailable, err)
	}

	slog.Debug("portaudio: output opened", "device", dev.Name, "rate", rate, "channels", channels)
	return &outputEngine{mix: mix, stream: stream, done: make(chan struct{})}, nil
}

type outputEngine struct {
	mix    *mixer.Mixer
	stream *portaudio.Stream

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func (e *outputEngine) Now() float64    { return e.mix.Now() }
func (e *outputEngine) SampleRate() int { return e.mix.SampleRate() }

func (e *outputEngine) Schedule(buf *audio.Buffer, at float64, ended func()) (audio.Voice, error) {
	return e.mix.Schedule(buf, at, ended)
}

// Close drops all voices, then aborts and closes the stream on a separate
// goroutine so that a wedged driver cannot block the caller past ctx.
func (e *outputEngine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.mix.Close()
		go func() {
			defer close(e.done)
			var errs []error
			if err := e.stream.Abort(); err != nil {
				errs = append(errs, err)
			}
			if err := e.stream.Close(); err != nil {
				errs = append(errs, err)
			}
			_ = portaudio.Terminate()
			if len(errs) > 0 {
				e.closeErr = fmt.Errorf("portaudio: close output: %v", errs)
			}
		}()
	})

	select {
	case <-e.done:
		return e.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}
