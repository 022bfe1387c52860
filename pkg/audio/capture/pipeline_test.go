package capture_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/livetutor/pkg/audio"
	"github.com/MrWong99/livetutor/pkg/audio/capture"
	"github.com/MrWong99/livetutor/pkg/audio/mock"
)

type recorder struct {
	mu     sync.Mutex
	frames []audio.Frame
	levels []float64
}

func (r *recorder) sink(f audio.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) level(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, v)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames), len(r.levels)
}

func open() func() bool { return func() bool { return true } }

func TestPipeline_ReframesDeviceBlocks(t *testing.T) {
	t.Parallel()
	dev := &mock.Input{}
	rec := &recorder{}
	p := capture.New(dev, capture.Config{BlockSize: 4}, open(), rec.sink, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dev.Emit([]float32{0.1, 0.1, 0.1})
	if n, _ := rec.counts(); n != 0 {
		t.Fatalf("frames = %d after partial block, want 0", n)
	}
	dev.Emit([]float32{0.1, 0.1, 0.1, 0.1, 0.1, 0.1})
	if n, _ := rec.counts(); n != 2 {
		t.Fatalf("frames = %d, want 2", n)
	}
	dev.Emit([]float32{0.1})
	if n, _ := rec.counts(); n != 3 {
		t.Fatalf("frames = %d, want 3", n)
	}

	for i, f := range rec.frames {
		if f.Samples() != 4 {
			t.Errorf("frame %d has %d samples, want 4", i, f.Samples())
		}
		if f.SampleRate() != audio.InputSampleRate {
			t.Errorf("frame %d rate = %d, want %d", i, f.SampleRate(), audio.InputSampleRate)
		}
	}
}

func TestPipeline_ClosedGateDropsBlocks(t *testing.T) {
	t.Parallel()
	dev := &mock.Input{}
	rec := &recorder{}
	var accepting atomic.Bool
	p := capture.New(dev, capture.Config{BlockSize: 2}, accepting.Load, rec.sink, rec.level)
	_ = p.Start()

	dev.Emit(make([]float32, 6))
	if n, _ := rec.counts(); n != 0 {
		t.Fatalf("frames = %d while gate closed, want 0", n)
	}

	accepting.Store(true)
	dev.Emit(make([]float32, 2))
	if n, _ := rec.counts(); n != 1 {
		t.Fatalf("frames = %d, want 1 (dropped blocks must not be queued)", n)
	}
}

func TestPipeline_LevelIsThrottledAndClamped(t *testing.T) {
	t.Parallel()
	dev := &mock.Input{}
	rec := &recorder{}
	p := capture.New(dev, capture.Config{BlockSize: 2, LevelInterval: 2, LevelGain: 5}, open(), rec.sink, rec.level)
	_ = p.Start()

	for range 6 {
		dev.Emit([]float32{0.9, -0.9})
	}
	frames, levels := rec.counts()
	if frames != 6 {
		t.Errorf("frames = %d, want 6", frames)
	}
	if levels != 3 {
		t.Fatalf("levels = %d, want 3 (one per two blocks)", levels)
	}
	for i, v := range rec.levels {
		if v != 1 {
			t.Errorf("level %d = %f, want clamp to 1", i, v)
		}
	}
}

func TestPipeline_LevelReportedWhileGateClosed(t *testing.T) {
	t.Parallel()
	dev := &mock.Input{}
	rec := &recorder{}
	p := capture.New(dev, capture.Config{BlockSize: 1, LevelInterval: 1}, func() bool { return false }, rec.sink, rec.level)
	_ = p.Start()

	dev.Emit([]float32{0.1})
	if _, levels := rec.counts(); levels != 1 {
		t.Errorf("levels = %d, want 1", levels)
	}
}

func TestPipeline_EncodesPCM(t *testing.T) {
	t.Parallel()
	dev := &mock.Input{}
	rec := &recorder{}
	p := capture.New(dev, capture.Config{BlockSize: 2}, open(), rec.sink, nil)
	_ = p.Start()

	dev.Emit([]float32{1, -1})
	got := rec.frames[0].Bytes()
	want := audio.FloatToPCM16([]float32{1, -1})
	if string(got) != string(want) {
		t.Errorf("frame bytes = %v, want %v", got, want)
	}
}

func TestPipeline_StopIgnoresLaterBlocks(t *testing.T) {
	t.Parallel()
	dev := &mock.Input{}
	rec := &recorder{}
	p := capture.New(dev, capture.Config{BlockSize: 2}, open(), rec.sink, rec.level)
	_ = p.Start()

	dev.Emit([]float32{0.1})
	p.Stop()
	p.Stop()
	dev.Emit([]float32{0.1, 0.1, 0.1})
	if frames, levels := rec.counts(); frames != 0 || levels != 0 {
		t.Errorf("frames=%d levels=%d after Stop, want 0/0", frames, levels)
	}
}

func TestPipeline_StartTwice(t *testing.T) {
	t.Parallel()
	p := capture.New(&mock.Input{}, capture.Config{}, open(), func(audio.Frame) {}, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(); !errors.Is(err, capture.ErrStarted) {
		t.Errorf("second Start err = %v, want ErrStarted", err)
	}
}

func TestPipeline_DeviceStartError(t *testing.T) {
	t.Parallel()
	dev := &mock.Input{StartError: errors.New("busy")}
	p := capture.New(dev, capture.Config{}, open(), func(audio.Frame) {}, nil)
	if err := p.Start(); err == nil {
		t.Fatal("expected error from device Start")
	}
}

func TestLevel(t *testing.T) {
	t.Parallel()
	if got := capture.Level([]float32{0.1, -0.1}, 5); got < 0.4999 || got > 0.5001 {
		t.Errorf("Level = %f, want 0.5", got)
	}
	if got := capture.Level(nil, 5); got != 0 {
		t.Errorf("Level(nil) = %f, want 0", got)
	}
}
