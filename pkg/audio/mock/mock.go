// Package mock provides in-memory implementations of the [audio.Backend],
// [audio.InputDevice] and [audio.OutputEngine] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record calls so that tests can
// assert on counts and ordering, and they expose exported fields that the test
// can set to control return values.
//
// Typical usage:
//
//	in := &mock.Input{}
//	out := mock.NewEngine(48000)
//	backend := &mock.Backend{Input: in, Output: out}
//	// ... connect a session with backend ...
//	in.Emit(make([]float32, 2048)) // deliver one captured block
//	out.Advance(0.5)               // play half a second of output
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livetutor/pkg/audio"
	"github.com/MrWong99/livetutor/pkg/audio/mixer"
)

// Compile-time interface assertions.
var (
	_ audio.Backend      = (*Backend)(nil)
	_ audio.InputDevice  = (*Input)(nil)
	_ audio.OutputEngine = (*Engine)(nil)
)

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a mock microphone. Blocks are delivered synchronously by [Input.Emit].
type Input struct {
	mu sync.Mutex

	// StartError is returned by [Input.Start].
	StartError error

	// CloseError is returned by [Input.Close].
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	fn     func([]float32)
	closed bool
}

// Start implements [audio.InputDevice].
func (in *Input) Start(fn func([]float32)) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.CallCountStart++
	if in.StartError != nil {
		return in.StartError
	}
	in.fn = fn
	return nil
}

// Close implements [audio.InputDevice].
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.CallCountClose++
	in.closed = true
	in.fn = nil
	return in.CloseError
}

// Emit delivers block to the registered callback, if the device is started
// and not closed. It reports whether the block was delivered.
func (in *Input) Emit(block []float32) bool {
	in.mu.Lock()
	fn := in.fn
	in.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(block)
	return true
}

// Started reports whether Start succeeded and Close has not been called.
func (in *Input) Started() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.fn != nil
}

// Closed reports whether Close has been called.
func (in *Input) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// ─── Engine ───────────────────────────────────────────────────────────────────

// ScheduleCall records the arguments of one [Engine.Schedule] call.
type ScheduleCall struct {
	At       float64
	Duration float64
}

// Engine is a mock output engine whose clock only moves when the test calls
// [Engine.Advance]. Scheduling and rendering are delegated to a real
// [mixer.Mixer], so ended callbacks fire exactly when the clock passes the end
// of a buffer.
type Engine struct {
	mix *mixer.Mixer

	mu sync.Mutex

	// ScheduleError, when set, is returned by [Engine.Schedule].
	ScheduleError error

	// CloseError is returned by [Engine.Close].
	CloseError error

	// Schedules records every successful Schedule call in order.
	Schedules []ScheduleCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewEngine returns an Engine running at sampleRate with its clock at zero.
func NewEngine(sampleRate int) *Engine {
	return &Engine{mix: mixer.New(sampleRate, 1)}
}

// Now implements [audio.OutputEngine].
func (e *Engine) Now() float64 { return e.mix.Now() }

// SampleRate implements [audio.OutputEngine].
func (e *Engine) SampleRate() int { return e.mix.SampleRate() }

// Schedule implements [audio.OutputEngine].
func (e *Engine) Schedule(buf *audio.Buffer, at float64, ended func()) (audio.Voice, error) {
	e.mu.Lock()
	if e.ScheduleError != nil {
		err := e.ScheduleError
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	v, err := e.mix.Schedule(buf, at, ended)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.Schedules = append(e.Schedules, ScheduleCall{At: at, Duration: buf.Duration()})
	e.mu.Unlock()
	return v, nil
}

// Close implements [audio.OutputEngine].
func (e *Engine) Close(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountClose++
	e.mix.Close()
	return e.CloseError
}

// Advance moves the clock forward by d seconds, firing ended callbacks of
// buffers that finish in that window.
func (e *Engine) Advance(d float64) { e.mix.Advance(d) }

// Active returns the number of voices still on the timeline.
func (e *Engine) Active() int { return e.mix.Active() }

// ScheduleCalls returns a copy of the recorded Schedule calls.
func (e *Engine) ScheduleCalls() []ScheduleCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ScheduleCall, len(e.Schedules))
	copy(out, e.Schedules)
	return out
}

// Closed reports whether Close has been called at least once.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CallCountClose > 0
}

// ─── Backend ──────────────────────────────────────────────────────────────────

// Backend is a mock [audio.Backend] handing out the configured devices.
type Backend struct {
	mu sync.Mutex

	// Input is returned by OpenInput when InputError is nil.
	Input *Input

	// Output is returned by OpenOutput when OutputError is nil.
	Output *Engine

	// InputError is returned by OpenInput.
	InputError error

	// OutputError is returned by OpenOutput.
	OutputError error

	// InputConfigs records the CaptureConfig of every OpenInput call.
	InputConfigs []audio.CaptureConfig

	// Order records "input" and "output" in the order the devices were opened.
	Order []string
}

// OpenInput implements [audio.Backend].
func (b *Backend) OpenInput(_ context.Context, cfg audio.CaptureConfig) (audio.InputDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.InputConfigs = append(b.InputConfigs, cfg)
	b.Order = append(b.Order, "input")
	if b.InputError != nil {
		return nil, b.InputError
	}
	if b.Input == nil {
		b.Input = &Input{}
	}
	return b.Input, nil
}

// OpenOutput implements [audio.Backend].
func (b *Backend) OpenOutput(_ context.Context) (audio.OutputEngine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Order = append(b.Order, "output")
	if b.OutputError != nil {
		return nil, b.OutputError
	}
	if b.Output == nil {
		b.Output = NewEngine(audio.OutputSampleRate)
	}
	return b.Output, nil
}

// OpenOrder returns a copy of the recorded open order.
func (b *Backend) OpenOrder() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.Order))
	copy(out, b.Order)
	return out
}
