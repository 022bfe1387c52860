// Package capture turns a microphone stream into fixed-size encoded frames.
//
// A [Pipeline] sits between an [audio.InputDevice] and the session: it
// re-frames whatever block sizes the device delivers into exact BlockSize
// blocks, reports a throttled input level for a visual meter, and, only while
// its gate is open, encodes each block as 16-bit PCM and hands it to the sink.
// Closed-gate blocks are dropped, never queued: no backpressure is applied to
// the device.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/livetutor/pkg/audio"
)

// Default pipeline parameters.
const (
	// DefaultBlockSize is 2048 samples, ≈128 ms at 16 kHz.
	DefaultBlockSize = 2048

	// DefaultLevelInterval reports the input level on every second block.
	DefaultLevelInterval = 2

	// DefaultLevelGain amplifies the raw RMS so normal speech fills the meter.
	DefaultLevelGain = 5.0
)

// ErrStarted is returned by [Pipeline.Start] when called twice.
var ErrStarted = errors.New("capture: pipeline already started")

// Config tunes a [Pipeline]. Zero fields take the package defaults.
type Config struct {
	SampleRate    int
	BlockSize     int
	LevelInterval int
	LevelGain     float64
}

// Pipeline frames, meters and gates microphone audio.
// All methods are safe for concurrent use.
type Pipeline struct {
	dev   audio.InputDevice
	cfg   Config
	gate  func() bool
	sink  func(audio.Frame)
	level func(float64)

	mu      sync.Mutex
	pending []float32
	blocks  int
	started bool
	stopped bool
}

// New builds a Pipeline over dev. gate reports whether frames should be
// emitted; sink receives each emitted frame; level receives the meter value in
// [0, 1]. level may be nil.
func New(dev audio.InputDevice, cfg Config, gate func() bool, sink func(audio.Frame), level func(float64)) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.InputSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.LevelInterval <= 0 {
		cfg.LevelInterval = DefaultLevelInterval
	}
	if cfg.LevelGain <= 0 {
		cfg.LevelGain = DefaultLevelGain
	}
	return &Pipeline{
		dev:     dev,
		cfg:     cfg,
		gate:    gate,
		sink:    sink,
		level:   level,
		pending: make([]float32, 0, cfg.BlockSize),
	}
}

// Start attaches the pipeline to the device.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrStarted
	}
	p.started = true
	p.mu.Unlock()

	if err := p.dev.Start(p.process); err != nil {
		return fmt.Errorf("capture: start device: %w", err)
	}
	return nil
}

// Stop detaches the pipeline: blocks delivered after Stop are ignored and
// buffered samples are discarded. It does not close the device. Stop is
// idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.pending = nil
}

// process is the device callback. It must stay cheap: framing, one RMS per
// interval and PCM encoding of gated blocks.
func (p *Pipeline) process(in []float32) {
	for len(in) > 0 {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return
		}
		n := min(p.cfg.BlockSize-len(p.pending), len(in))
		p.pending = append(p.pending, in[:n]...)
		in = in[n:]
		if len(p.pending) < p.cfg.BlockSize {
			p.mu.Unlock()
			return
		}
		block := p.pending
		p.pending = make([]float32, 0, p.cfg.BlockSize)
		p.blocks++
		reportLevel := p.blocks%p.cfg.LevelInterval == 0
		p.mu.Unlock()

		p.emit(block, reportLevel)
	}
}

func (p *Pipeline) emit(block []float32, reportLevel bool) {
	if reportLevel && p.level != nil {
		p.level(Level(block, p.cfg.LevelGain))
	}
	if p.gate != nil && !p.gate() {
		return
	}
	p.sink(audio.NewFrame(audio.FloatToPCM16(block), p.cfg.SampleRate))
}

// Level returns the RMS of block multiplied by gain and clamped to [0, 1].
func Level(block []float32, gain float64) float64 {
	v := audio.RMS(block) * gain
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
