package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-audio/wav"
)

// Decode reads a WAV clip and returns it as a mono Buffer at the file's
// native sample rate. Stereo input is downmixed by averaging channels.
// Returns an error wrapping ErrDecode if the bytes are not a valid WAV file.
func Decode(r io.Reader) (*Buffer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("audio: read input: %w", err)
	}
	return DecodeBytes(data)
}

// DecodeBytes is Decode over an in-memory clip.
func DecodeBytes(data []byte) (*Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE file", ErrDecode)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if pcm.Format == nil || pcm.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: missing format chunk", ErrDecode)
	}

	depth := pcm.SourceBitDepth
	if depth == 0 {
		depth = int(dec.BitDepth)
	}
	if depth == 0 {
		depth = 16
	}
	scale := float32(int64(1) << (depth - 1))

	ch := pcm.Format.NumChannels
	if ch < 1 {
		ch = 1
	}

	frames := len(pcm.Data) / ch
	samples := make([]float32, frames)
	for i := range frames {
		// Downmix by averaging channels.
		var sum float32
		for c := range ch {
			sum += float32(pcm.Data[i*ch+c]) / scale
		}
		samples[i] = sum / float32(ch)
	}

	return &Buffer{Samples: samples, Rate: pcm.Format.SampleRate}, nil
}
