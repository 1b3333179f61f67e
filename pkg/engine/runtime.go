package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/eumlab/voiced/pkg/signature"
)

// SynthesizerFactory constructs the base synthesizer for a language.
// Loading a speech model is slow; the Runtime calls this lazily and at most
// once per language.
type SynthesizerFactory func(ctx context.Context, lang Language) (Synthesizer, error)

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	// Converter is the voice-conversion engine. May be nil when the
	// process starts degraded; synthesis and enrollment then refuse work
	// with ErrUnavailable while health checks keep serving.
	Converter Converter

	// Denoiser is the optional noise-suppression engine.
	Denoiser Denoiser

	// NewSynthesizer loads a language's base synthesizer. Required.
	NewSynthesizer SynthesizerFactory

	// SourceDir holds precomputed per-language source signatures as
	// {dir}/{code}.sig. Optional; missing files fall back to deriving the
	// signature from the language's canned phrase.
	SourceDir string

	// Languages defaults to DefaultLanguages.
	Languages []Language

	// Device is a human-readable engine placement string for
	// introspection ("cuda:0", "cpu", ...).
	Device string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// call is one in-flight or completed single-flight load.
type call[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Runtime is the process-wide context object holding engine handles.
// It is constructed once at startup and immutable thereafter, except for
// the lazily populated per-language synthesizer and source-signature maps,
// which are guarded by a single-flight-per-key discipline: concurrent first
// uses of the same language coalesce into one load.
type Runtime struct {
	conv      Converter
	den       Denoiser
	newSynth  SynthesizerFactory
	sourceDir string
	device    string
	log       *slog.Logger

	languages map[string]Language

	mu      sync.Mutex
	synths  map[string]*call[Synthesizer]
	sources map[string]*call[signature.Signature]
}

// NewRuntime builds the engine context.
func NewRuntime(opts RuntimeOptions) (*Runtime, error) {
	if opts.NewSynthesizer == nil {
		return nil, errors.New("engine: RuntimeOptions.NewSynthesizer is required")
	}
	langs := opts.Languages
	if langs == nil {
		langs = DefaultLanguages
	}
	byCode := make(map[string]Language, len(langs))
	for _, l := range langs {
		byCode[l.Code] = l
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	device := opts.Device
	if device == "" {
		device = "unknown"
	}
	return &Runtime{
		conv:      opts.Converter,
		den:       opts.Denoiser,
		newSynth:  opts.NewSynthesizer,
		sourceDir: opts.SourceDir,
		device:    device,
		log:       log,
		languages: byCode,
		synths:    make(map[string]*call[Synthesizer]),
		sources:   make(map[string]*call[signature.Signature]),
	}, nil
}

// Converter returns the voice-conversion engine, or ErrUnavailable.
func (r *Runtime) Converter() (Converter, error) {
	if r.conv == nil {
		return nil, fmt.Errorf("%w: voice converter not loaded", ErrUnavailable)
	}
	return r.conv, nil
}

// Denoiser returns the noise-suppression engine, nil when absent.
// Absence is not an error; enhancement degrades to pass-through.
func (r *Runtime) Denoiser() Denoiser {
	return r.den
}

// Ready reports whether the synthesis path can serve requests.
func (r *Runtime) Ready() bool {
	return r.conv != nil
}

// Device returns the engine placement string for introspection.
func (r *Runtime) Device() string {
	return r.device
}

// Supports reports whether lang is in the supported set.
func (r *Runtime) Supports(lang string) bool {
	_, ok := r.languages[lang]
	return ok
}

// Language returns the language descriptor.
func (r *Runtime) Language(code string) (Language, error) {
	l, ok := r.languages[code]
	if !ok {
		return Language{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
	}
	return l, nil
}

// Languages returns the supported codes, sorted.
func (r *Runtime) Languages() []string {
	codes := make([]string, 0, len(r.languages))
	for c := range r.languages {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// LoadedLanguages returns the codes whose synthesizer finished loading.
func (r *Runtime) LoadedLanguages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var codes []string
	for c, call := range r.synths {
		select {
		case <-call.done:
			if call.err == nil {
				codes = append(codes, c)
			}
		default:
		}
	}
	sort.Strings(codes)
	return codes
}

// Synthesizer returns the base synthesizer for lang, loading it on first
// use. Concurrent first uses of the same language share one load; a failed
// load is forgotten so a later request can retry.
func (r *Runtime) Synthesizer(ctx context.Context, lang string) (Synthesizer, error) {
	l, err := r.Language(lang)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	c, ok := r.synths[lang]
	if ok {
		r.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c = &call[Synthesizer]{done: make(chan struct{})}
	r.synths[lang] = c
	r.mu.Unlock()

	r.log.Info("engine: loading synthesizer", "language", lang)
	c.val, c.err = r.newSynth(ctx, l)
	close(c.done)
	if c.err != nil {
		r.mu.Lock()
		delete(r.synths, lang)
		r.mu.Unlock()
		return nil, fmt.Errorf("engine: load synthesizer %s: %w", lang, c.err)
	}
	return c.val, nil
}

// SourceSignature returns the language's canonical source signature: the
// untransformed base speaker's voice, the "from" side of every conversion.
// A precomputed signature on disk wins; otherwise the base synthesizer
// speaks the canned phrase once and the converter extracts a signature from
// it. Either way the result is cached for the process lifetime, with
// concurrent first uses coalesced.
func (r *Runtime) SourceSignature(ctx context.Context, lang string) (signature.Signature, error) {
	if _, err := r.Language(lang); err != nil {
		return signature.Signature{}, err
	}

	r.mu.Lock()
	c, ok := r.sources[lang]
	if ok {
		r.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err
		case <-ctx.Done():
			return signature.Signature{}, ctx.Err()
		}
	}
	c = &call[signature.Signature]{done: make(chan struct{})}
	r.sources[lang] = c
	r.mu.Unlock()

	c.val, c.err = r.deriveSource(ctx, lang)
	close(c.done)
	if c.err != nil {
		r.mu.Lock()
		delete(r.sources, lang)
		r.mu.Unlock()
	}
	return c.val, c.err
}

func (r *Runtime) deriveSource(ctx context.Context, lang string) (signature.Signature, error) {
	if r.sourceDir != "" {
		path := filepath.Join(r.sourceDir, lang+".sig")
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			sig, err := signature.Decode(data)
			if err != nil {
				return signature.Signature{}, fmt.Errorf("engine: precomputed source %s: %w", path, err)
			}
			r.log.Info("engine: loaded precomputed source signature", "language", lang)
			return sig, nil
		case !errors.Is(err, fs.ErrNotExist):
			return signature.Signature{}, fmt.Errorf("engine: read source %s: %w", path, err)
		}
	}

	conv, err := r.Converter()
	if err != nil {
		return signature.Signature{}, err
	}
	synth, err := r.Synthesizer(ctx, lang)
	if err != nil {
		return signature.Signature{}, err
	}

	l := r.languages[lang]
	r.log.Info("engine: deriving source signature from canned phrase", "language", lang)
	clip, err := synth.Synthesize(ctx, l.SourcePhrase)
	if err != nil {
		return signature.Signature{}, fmt.Errorf("engine: speak source phrase %s: %w", lang, err)
	}
	sig, err := conv.Extract(ctx, clip)
	if err != nil {
		return signature.Signature{}, fmt.Errorf("engine: extract source signature %s: %w", lang, err)
	}
	return sig, nil
}
