// Package audio turns ordered PCM chunks into gapless playback on a Sink.
package audio

import (
	"encoding/binary"
	"time"
)

const (
	// SampleRate is the fixed playback format: 16-bit signed LE, mono, 24kHz.
	SampleRate = 24000

	// BytesPerSample is the width of one 16-bit sample.
	BytesPerSample = 2

	// FadeSamples is the maximum length of the linear fade applied to each
	// chunk boundary (~2ms at 24kHz). Chunks are synthesized independently,
	// so without the fades the discontinuity at a boundary is an audible click.
	FadeSamples = 48
)

// Duration returns the playback duration of n bytes of PCM at the fixed format.
func Duration(n int) time.Duration {
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / SampleRate
}

// decodeSamples converts PCM16LE bytes to normalized float32 amplitudes.
// A trailing odd byte is ignored.
func decodeSamples(pcm []byte) []float32 {
	n := len(pcm) / BytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// encodeSamples converts normalized float32 amplitudes back to PCM16LE bytes.
// Values outside [-1, 1] are clamped.
func encodeSamples(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		v := int32(f * 32767.0)
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(int16(v)))
	}
	return out
}

// applyFades applies a linear fade-in over the first fade samples and a
// linear fade-out over the last fade samples, in place. For very short
// chunks the fade shrinks so the two ramps never overlap.
func applyFades(samples []float32) {
	fade := FadeSamples
	if half := len(samples) / 2; fade > half {
		fade = half
	}
	if fade == 0 {
		return
	}
	for i := 0; i < fade; i++ {
		g := float32(i) / float32(fade)
		samples[i] *= g
		samples[len(samples)-1-i] *= g
	}
}

// shapeChunk decodes a PCM chunk, applies boundary fades and re-encodes it.
func shapeChunk(pcm []byte) []byte {
	samples := decodeSamples(pcm)
	applyFades(samples)
	return encodeSamples(samples)
}
