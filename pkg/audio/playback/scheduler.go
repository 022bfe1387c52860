// Package playback schedules independently arriving audio chunks back-to-back
// on an output engine's clock.
//
// The [Scheduler] keeps a single cursor, nextPlayTime, on the engine's
// monotonic clock. Each chunk starts at max(now, nextPlayTime) and advances the
// cursor by its duration, so consecutive chunks abut exactly while the queue
// is non-empty and never overlap. A gap is only introduced when playback has
// already drained, i.e. the cursor is behind the clock when a chunk arrives.
package playback

import (
	"fmt"
	"sync"

	"github.com/MrWong99/livetutor/pkg/audio"
)

// ScheduledChunk describes where a chunk was placed on the output clock.
type ScheduledChunk struct {
	Buffer    *audio.Buffer
	StartTime float64
}

// EndTime returns the clock instant at which the chunk finishes.
func (c ScheduledChunk) EndTime() float64 { return c.StartTime + c.Buffer.Duration() }

// Scheduler owns the active playback set. It is the only component that
// mutates that set; callers may query it. All methods are safe for concurrent
// use.
type Scheduler struct {
	engine audio.OutputEngine

	mu           sync.Mutex
	nextPlayTime float64
	active       map[*unit]struct{}
}

type unit struct {
	voice audio.Voice
}

// New returns a Scheduler for engine with its cursor at 0.
func New(engine audio.OutputEngine) *Scheduler {
	return &Scheduler{
		engine: engine,
		active: make(map[*unit]struct{}),
	}
}

// Enqueue schedules buf immediately after everything already queued, or at
// the current clock time if playback has drained.
func (s *Scheduler) Enqueue(buf *audio.Buffer) (ScheduledChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(s.engine.Now(), s.nextPlayTime)

	u := &unit{}
	ended := func() {
		s.mu.Lock()
		delete(s.active, u)
		s.mu.Unlock()
	}
	v, err := s.engine.Schedule(buf, start, ended)
	if err != nil {
		return ScheduledChunk{}, fmt.Errorf("playback: schedule: %w", err)
	}
	u.voice = v
	s.active[u] = struct{}{}
	s.nextPlayTime = start + buf.Duration()

	return ScheduledChunk{Buffer: buf, StartTime: start}, nil
}

// StopAll halts every scheduled or playing unit, empties the active set and
// resets the cursor to 0 so that the next chunk starts at the current clock.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	units := make([]*unit, 0, len(s.active))
	for u := range s.active {
		units = append(units, u)
	}
	clear(s.active)
	s.nextPlayTime = 0
	s.mu.Unlock()

	for _, u := range units {
		u.voice.Stop()
	}
}

// NextPlayTime returns the scheduling cursor.
func (s *Scheduler) NextPlayTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPlayTime
}

// FinishTime returns the clock instant at which all currently scheduled audio
// will have finished. It is never earlier than the current clock.
func (s *Scheduler) FinishTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(s.engine.Now(), s.nextPlayTime)
}

// HasFinished reports whether nothing is left to play.
func (s *Scheduler) HasFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPlayTime <= s.engine.Now()
}

// Active returns the number of scheduled units that have neither finished
// nor been stopped.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Now returns the engine clock.
func (s *Scheduler) Now() float64 { return s.engine.Now() }
