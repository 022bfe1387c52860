// Package mixer renders scheduled audio buffers onto a sample-accurate output
// timeline.
//
// A [Mixer] is the software half of an output engine: device adapters call
// [Mixer.Render] from their audio callback and the mixer sums every voice that
// overlaps the rendered window. The number of frames rendered so far is the
// engine's monotonic clock, so a buffer scheduled at time t starts exactly at
// frame round(t × rate) regardless of when it was submitted.
package mixer

import (
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/MrWong99/livetutor/pkg/audio"
)

// ErrClosed is returned by [Mixer.Schedule] after [Mixer.Close].
var ErrClosed = errors.New("mixer: closed")

// Mixer holds the scheduled voices and the output clock.
// All exported methods are safe for concurrent use.
type Mixer struct {
	rate     int
	channels int

	mu     sync.Mutex
	pos    int64 // frames rendered so far
	voices []*voice
	closed bool

	warnedResample sync.Once
}

type voice struct {
	m       *Mixer
	start   int64 // first frame on the timeline
	samples []float32
	ended   func()
}

// New returns a Mixer producing interleaved output at sampleRate with the
// given channel count. Mono voices are duplicated across channels.
func New(sampleRate, channels int) *Mixer {
	if channels < 1 {
		channels = 1
	}
	return &Mixer{rate: sampleRate, channels: channels}
}

// SampleRate returns the mixer's output rate in Hz.
func (m *Mixer) SampleRate() int { return m.rate }

// Channels returns the number of interleaved output channels.
func (m *Mixer) Channels() int { return m.channels }

// Now returns the output clock in seconds.
func (m *Mixer) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.pos) / float64(m.rate)
}

// Active returns the number of voices that have not yet finished.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Schedule places buf on the timeline starting at clock instant at. Buffers
// recorded at another rate are resampled first. A start time already in the
// past begins at the next rendered frame, which is how a late buffer behaves
// on any hardware clock.
func (m *Mixer) Schedule(buf *audio.Buffer, at float64, ended func()) (audio.Voice, error) {
	samples := buf.Samples
	if buf.SampleRate != m.rate {
		m.warnedResample.Do(func() {
			slog.Debug("mixer: resampling output buffers",
				"from", buf.SampleRate,
				"to", m.rate,
			)
		})
		samples = audio.Resample(samples, buf.SampleRate, m.rate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	start := int64(math.Round(at * float64(m.rate)))
	if start < m.pos {
		start = m.pos
	}
	v := &voice{m: m, start: start, samples: samples, ended: ended}
	if len(samples) == 0 {
		// Nothing to play: report completion on the next render.
		v.start = m.pos
	}
	m.voices = append(m.voices, v)
	return v, nil
}

// Stop removes the voice from the timeline without invoking its ended callback.
func (v *voice) Stop() {
	m := v.m
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(v)
}

func (m *Mixer) removeLocked(v *voice) {
	for i, o := range m.voices {
		if o == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return
		}
	}
}

// Render fills out with the next len(out)/channels frames of the timeline and
// advances the clock by that amount. Ended callbacks of voices that finish
// inside the window are invoked after the internal lock is released.
func (m *Mixer) Render(out []float32) {
	frames := int64(len(out) / m.channels)
	clear(out)

	var finished []func()

	m.mu.Lock()
	from, to := m.pos, m.pos+frames
	kept := m.voices[:0]
	for _, v := range m.voices {
		end := v.start + int64(len(v.samples))
		lo := max(v.start, from)
		hi := min(end, to)
		for f := lo; f < hi; f++ {
			s := v.samples[f-v.start]
			base := int(f-from) * m.channels
			for c := range m.channels {
				out[base+c] += s
			}
		}
		if end <= to {
			if v.ended != nil {
				finished = append(finished, v.ended)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(m.voices[len(kept):])
	m.voices = kept
	m.pos = to
	m.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	for _, fn := range finished {
		fn()
	}
}

// Advance renders d seconds of output into a scratch buffer and discards it.
// Used by clock-driven engines that have no device callback.
func (m *Mixer) Advance(d float64) {
	frames := int(math.Round(d * float64(m.rate)))
	if frames <= 0 {
		return
	}
	m.Render(make([]float32, frames*m.channels))
}

// Close drops every scheduled voice and rejects further scheduling. Ended
// callbacks are not invoked for dropped voices. Close is idempotent.
func (m *Mixer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.voices = nil
}
