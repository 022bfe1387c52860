package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

// FloatToPCM16 converts float samples to 16-bit little-endian PCM. Samples are
// clamped to [-1, 1]; negative values scale by 0x8000 and non-negative values
// by 0x7fff so both extremes map onto the full int16 range.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7fff)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToFloat decodes 16-bit little-endian PCM into a playable [Buffer]
// tagged with sourceRate. A trailing odd byte is ignored. The samples are not
// resampled: matching the output engine's rate is the engine's job.
func PCM16ToFloat(data []byte, sourceRate int) *Buffer {
	n := len(data) / 2
	samples := make([]float32, n)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return &Buffer{Samples: samples, SampleRate: sourceRate}
}

// EncodeBase64 encodes b with the standard padded alphabet and no line breaks.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 is the inverse of [EncodeBase64].
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// RMS returns the root-mean-square amplitude of samples, or 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
