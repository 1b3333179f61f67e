// Package enginetest provides scripted in-memory engines for tests:
// deterministic output, call counting, and failure injection.
package enginetest

import (
	"context"
	"sync"

	"github.com/eumlab/voiced/pkg/audio"
	"github.com/eumlab/voiced/pkg/engine"
	"github.com/eumlab/voiced/pkg/signature"
)

// Synthesizer fabricates base audio deterministically from the input text:
// SamplesPerRune samples per rune at Rate.
type Synthesizer struct {
	Rate           int // default 22050
	SamplesPerRune int // default 200
	Err            error

	mu    sync.Mutex
	Texts []string
}

func (s *Synthesizer) Synthesize(_ context.Context, text string) (*audio.Buffer, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	rate := s.Rate
	if rate == 0 {
		rate = 22050
	}
	per := s.SamplesPerRune
	if per == 0 {
		per = 200
	}
	s.mu.Lock()
	s.Texts = append(s.Texts, text)
	s.mu.Unlock()

	n := len([]rune(text)) * per
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(i%100) * 0.005
	}
	return &audio.Buffer{Samples: samples, Rate: rate}, nil
}

// Converter implements engine.Converter with optional failure injection.
type Converter struct {
	ExtractErr error
	ConvertErr error

	// FailConvertCalls makes specific Convert invocations fail,
	// 1-based by call order.
	FailConvertCalls map[int]error

	mu           sync.Mutex
	ExtractCalls int
	ConvertCalls int
}

// Extract returns a small signature derived from the clip so tests can tell
// signatures apart.
func (c *Converter) Extract(_ context.Context, clip *audio.Buffer) (signature.Signature, error) {
	c.mu.Lock()
	c.ExtractCalls++
	c.mu.Unlock()
	if c.ExtractErr != nil {
		return signature.Signature{}, c.ExtractErr
	}
	var sum float32
	for _, s := range clip.Samples {
		sum += s
	}
	return signature.Signature{
		Dims: []int{1, 3},
		Data: []float32{sum, float32(len(clip.Samples)), float32(clip.Rate)},
	}, nil
}

// Convert returns the clip unchanged (the fake's idea of re-voicing),
// honoring the injected failures.
func (c *Converter) Convert(_ context.Context, clip *audio.Buffer, _, _ signature.Signature) (*audio.Buffer, error) {
	c.mu.Lock()
	c.ConvertCalls++
	n := c.ConvertCalls
	c.mu.Unlock()
	if c.ConvertErr != nil {
		return nil, c.ConvertErr
	}
	if err, ok := c.FailConvertCalls[n]; ok {
		return nil, err
	}
	out := make([]float32, len(clip.Samples))
	copy(out, clip.Samples)
	return &audio.Buffer{Samples: out, Rate: clip.Rate}, nil
}

// Denoiser implements engine.Denoiser; it halves each sample so tests can
// observe whether enhancement actually ran.
type Denoiser struct {
	SampleRate int // default 48000
	Err        error

	mu    sync.Mutex
	Calls int
}

func (d *Denoiser) Rate() int {
	if d.SampleRate == 0 {
		return 48000
	}
	return d.SampleRate
}

func (d *Denoiser) Denoise(_ context.Context, clip *audio.Buffer) (*audio.Buffer, error) {
	d.mu.Lock()
	d.Calls++
	d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	out := make([]float32, len(clip.Samples))
	for i, s := range clip.Samples {
		out[i] = s * 0.5
	}
	return &audio.Buffer{Samples: out, Rate: clip.Rate}, nil
}

var (
	_ engine.Synthesizer = (*Synthesizer)(nil)
	_ engine.Converter   = (*Converter)(nil)
	_ engine.Denoiser    = (*Denoiser)(nil)
)
