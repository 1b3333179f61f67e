package audio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts b to the target sample rate using band-limited
// interpolation (high quality preset). When b is already at the target rate
// the input buffer is returned unchanged. Resample is a pure function and
// safe to call concurrently.
func Resample(b *Buffer, rate int) (*Buffer, error) {
	if b.Rate == rate {
		return b, nil
	}
	if b.Rate <= 0 || rate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d -> %d", b.Rate, rate)
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(b.Rate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}

	in := make([]float64, len(b.Samples))
	for i, s := range b.Samples {
		in[i] = float64(s)
	}

	// The converter is stateful with internal filter latency: output for the
	// tail of the input only appears after more input arrives. Push the clip,
	// then feed silence until the expected number of samples is produced.
	want := int(math.Round(float64(len(b.Samples)) * float64(rate) / float64(b.Rate)))

	out := make([]float64, 0, want)
	chunk, err := rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}
	out = append(out, chunk...)

	flush := make([]float64, 256)
	for round := 0; len(out) < want && round < 64; round++ {
		chunk, err := rs.Process(flush)
		if err != nil {
			return nil, fmt.Errorf("audio: resample flush: %w", err)
		}
		out = append(out, chunk...)
	}
	if len(out) > want {
		out = out[:want]
	}

	samples := make([]float32, want)
	for i, s := range out {
		samples[i] = float32(s)
	}

	return &Buffer{Samples: samples, Rate: rate}, nil
}
