// Package engine defines the interfaces the pipeline needs from the neural
// speech engines, and the Runtime that owns their process-wide handles.
//
// The engines themselves are external: base text-to-speech, voice
// conversion (signature extraction + re-voicing), and noise suppression all
// run out of process behind a model sidecar (see sidecar.go), or behind
// test fakes (see enginetest). The pipeline only ever sees these
// interfaces.
package engine

import (
	"context"
	"errors"

	"github.com/eumlab/voiced/pkg/audio"
	"github.com/eumlab/voiced/pkg/signature"
)

// ErrUnavailable is returned when a required engine is not initialized.
var ErrUnavailable = errors.New("engine: unavailable")

// ErrUnknownLanguage is returned for a language outside the supported set.
var ErrUnknownLanguage = errors.New("engine: unknown language")

// Synthesizer produces base speech audio for one language. The returned
// buffer is at the engine's native rate, stated explicitly.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*audio.Buffer, error)
}

// Converter is the voice-conversion engine: it extracts a voice signature
// from reference audio, and re-voices audio from a source speaker's
// signature to a target's.
type Converter interface {
	Extract(ctx context.Context, clip *audio.Buffer) (signature.Signature, error)
	Convert(ctx context.Context, clip *audio.Buffer, source, target signature.Signature) (*audio.Buffer, error)
}

// Denoiser is the noise-suppression engine. Input must be at Rate(); output
// is at the same rate.
type Denoiser interface {
	Rate() int
	Denoise(ctx context.Context, clip *audio.Buffer) (*audio.Buffer, error)
}

// Language describes one supported synthesis language.
type Language struct {
	// Code is the request-facing identifier ("ko", "en", ...).
	Code string

	// SourcePhrase is the canned phrase spoken by the base synthesizer to
	// derive the language's source signature when no precomputed one is
	// on disk.
	SourcePhrase string

	// CJK selects the CJK sentence-boundary rules for segmentation.
	CJK bool
}

// DefaultLanguages is the supported set and their canned source phrases.
var DefaultLanguages = []Language{
	{Code: "ko", SourcePhrase: "안녕하세요", CJK: true},
	{Code: "en", SourcePhrase: "Hello", CJK: false},
	{Code: "ja", SourcePhrase: "こんにちは", CJK: true},
	{Code: "zh", SourcePhrase: "你好", CJK: true},
}
