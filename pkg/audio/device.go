// Package audio defines the PCM codec, frame types and device interfaces used
// by the live voice session.
//
// The two device abstractions are:
//
//   - [InputDevice]: an open microphone stream delivering float32 blocks.
//   - [OutputEngine]: a playback engine with a monotonic clock that starts
//     buffers at exact instants on that clock.
//
// Both are obtained from a [Backend]. Implementations live in adapter
// packages (audio/portaudio for real hardware, audio/mock for tests). The
// interfaces are intentionally narrow so that the session state machine can
// be exercised without a sound card.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrInputUnavailable is returned (wrapped) by [Backend.OpenInput] when the
	// microphone cannot be acquired, either because access was refused or
	// because no capture device exists. Callers use it to show permission
	// guidance instead of a generic connection error.
	ErrInputUnavailable = errors.New("audio: input device unavailable")

	// ErrOutputUnavailable is returned (wrapped) by [Backend.OpenOutput] when
	// the playback engine cannot be opened.
	ErrOutputUnavailable = errors.New("audio: output engine unavailable")
)

// CaptureConfig describes the microphone stream requested from a [Backend].
// The processing flags are hints for the platform audio stack; backends
// without such processing log and ignore them.
type CaptureConfig struct {
	// SampleRate in Hz. The live endpoint expects [InputSampleRate].
	SampleRate int

	// Channels is the channel count; capture is always mono in practice.
	Channels int

	// BlockSize is the preferred number of samples per delivered block. Devices
	// may deliver other sizes; the capture pipeline re-frames them.
	BlockSize int

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// InputDevice is an open microphone stream.
//
// Implementations must be safe for concurrent use. Close must be idempotent.
type InputDevice interface {
	// Start begins delivering captured blocks to fn on a device-owned
	// goroutine. fn must not block; the slice is only valid during the call.
	// Start may be called at most once.
	Start(fn func(block []float32)) error

	// Close stops delivery and releases the hardware handle. After Close
	// returns, fn is never called again.
	Close() error
}

// Voice is a handle to one buffer scheduled on an [OutputEngine].
type Voice interface {
	// Stop halts the voice immediately. The ended callback passed to
	// [OutputEngine.Schedule] is not invoked for stopped voices. Stop is
	// idempotent.
	Stop()
}

// OutputEngine plays buffers against a monotonic clock measured in seconds.
//
// Implementations must be safe for concurrent use.
type OutputEngine interface {
	// Now returns the current position of the output clock in seconds.
	Now() float64

	// SampleRate returns the engine's native output rate in Hz.
	SampleRate() int

	// Schedule starts buf at the clock instant at. The engine resamples buf
	// to its native rate if needed. ended is invoked once, from an engine
	// goroutine, when the buffer finishes playing naturally; it may be nil.
	Schedule(buf *Buffer, at float64, ended func()) (Voice, error)

	// Close stops all playback and releases the device, blocking until the
	// device is fully closed or ctx is done. Close is idempotent.
	Close(ctx context.Context) error
}

// Backend opens the two device handles a live session owns.
type Backend interface {
	// OpenInput acquires the microphone described by cfg. Acquisition
	// failures wrap [ErrInputUnavailable].
	OpenInput(ctx context.Context, cfg CaptureConfig) (InputDevice, error)

	// OpenOutput opens the playback engine. Failures wrap [ErrOutputUnavailable].
	OpenOutput(ctx context.Context) (OutputEngine, error)
}
