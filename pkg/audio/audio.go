// Package audio provides the in-memory audio representation shared by the
// voice pipeline, along with decoding and sample-rate conversion.
//
// Every Buffer crossing a package boundary carries its sample rate
// explicitly; nothing in the pipeline assumes a fixed rate. All audio is
// mono, single-precision float.
package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrDecode is returned when input bytes are not a decodable audio format.
var ErrDecode = errors.New("audio: undecodable input")

// Buffer is a mono audio clip: float32 samples at an explicit sample rate.
type Buffer struct {
	Samples []float32
	Rate    int
}

// Duration returns the clip length in seconds.
func (b *Buffer) Duration() float64 {
	if b.Rate == 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.Rate)
}

// Frame serializes the buffer's samples as little-endian float32 bytes,
// the wire format for streamed audio segments.
func (b *Buffer) Frame() []byte {
	out := make([]byte, len(b.Samples)*4)
	for i, s := range b.Samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// FromFrame parses little-endian float32 bytes back into a Buffer at the
// given rate. Trailing bytes that do not form a full sample are dropped.
func FromFrame(data []byte, rate int) *Buffer {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return &Buffer{Samples: samples, Rate: rate}
}
