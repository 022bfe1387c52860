package audio

import "time"

const (
	// InputSampleRate is the capture rate expected by the live endpoint.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of PCM chunks streamed back by the live endpoint.
	OutputSampleRate = 24000
)

// Frame is an immutable block of 16-bit little-endian mono PCM tagged with its
// sample rate. Frames are produced by the codec and consumed exactly once; the
// constructor copies its input so later writes by the producer cannot leak in.
type Frame struct {
	pcm        []byte
	sampleRate int
}

// NewFrame returns a Frame holding a private copy of pcm.
func NewFrame(pcm []byte, sampleRate int) Frame {
	b := make([]byte, len(pcm))
	copy(b, pcm)
	return Frame{pcm: b, sampleRate: sampleRate}
}

// SampleRate returns the sample rate tag in Hz.
func (f Frame) SampleRate() int { return f.sampleRate }

// Samples returns the number of 16-bit samples in the frame.
func (f Frame) Samples() int { return len(f.pcm) / 2 }

// Len returns the encoded size in bytes.
func (f Frame) Len() int { return len(f.pcm) }

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.sampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.sampleRate)
}

// Base64 returns the transport encoding of the frame's PCM payload.
func (f Frame) Base64() string { return EncodeBase64(f.pcm) }

// Bytes returns a copy of the PCM payload.
func (f Frame) Bytes() []byte {
	b := make([]byte, len(f.pcm))
	copy(b, f.pcm)
	return b
}

// Buffer is a playable block of float32 samples in [-1, 1]. SampleRate is the
// rate the samples were recorded at, which may differ from the output engine's
// native rate; engines resample on schedule.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the buffer's length in seconds at its own sample rate.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}
