package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/livetutor/pkg/audio"
)

func TestResample_SameRateIsIdentity(t *testing.T) {
	t.Parallel()
	in := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(in, 24000, 24000)
	if &out[0] != &in[0] {
		t.Error("expected the input slice to be returned unchanged")
	}
}

func TestResample_Upsample(t *testing.T) {
	t.Parallel()
	in := make([]float32, 240) // 10ms at 24 kHz
	for i := range in {
		in[i] = 0.5
	}
	out := audio.Resample(in, 24000, 48000)
	if len(out) != 480 {
		t.Fatalf("len = %d, want 480", len(out))
	}
	for i, s := range out {
		if math.Abs(float64(s-0.5)) > 1e-6 {
			t.Fatalf("sample %d = %f, want 0.5", i, s)
		}
	}
}

func TestResample_Downsample(t *testing.T) {
	t.Parallel()
	in := make([]float32, 480)
	out := audio.Resample(in, 48000, 16000)
	if len(out) != 160 {
		t.Fatalf("len = %d, want 160", len(out))
	}
}

func TestResample_Interpolates(t *testing.T) {
	t.Parallel()
	out := audio.Resample([]float32{0, 1}, 1, 2)
	want := []float32{0, 0.5, 1, 1}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %f, want %f", i, out[i], want[i])
		}
	}
}

func TestResample_InvalidRates(t *testing.T) {
	t.Parallel()
	in := []float32{1, 2}
	if got := audio.Resample(in, 0, 16000); len(got) != 2 {
		t.Errorf("zero src rate should return input, got len %d", len(got))
	}
	if got := audio.Resample(in, 16000, -1); len(got) != 2 {
		t.Errorf("negative dst rate should return input, got len %d", len(got))
	}
}
