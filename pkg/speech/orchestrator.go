package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eumlab/voiced/pkg/audio"
	"github.com/eumlab/voiced/pkg/engine"
	"github.com/eumlab/voiced/pkg/signature"
)

// ErrUnsupportedLanguage is returned for a request language outside the
// configured set.
var ErrUnsupportedLanguage = errors.New("speech: unsupported language")

// Request is one synthesis request for an enrolled user.
type Request struct {
	Text     string
	Language string

	// Target is the enrolled user's voice signature, the "to" side of
	// the conversion.
	Target signature.Signature
}

// Orchestrator drives the per-sentence synthesis loop against the engine
// runtime. It is stateless; one instance serves all sessions.
type Orchestrator struct {
	rt      *engine.Runtime
	outRate int
	log     *slog.Logger
}

// NewOrchestrator creates an Orchestrator emitting audio at outRate.
func NewOrchestrator(rt *engine.Runtime, outRate int, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{rt: rt, outRate: outRate, log: log}
}

// OutputRate returns the canonical output sample rate.
func (o *Orchestrator) OutputRate() int { return o.outRate }

// Speak segments the request text and, for each sentence in order,
// synthesizes base audio, re-voices it toward the target signature,
// resamples to the canonical output rate, and hands the result to emit.
//
// A failure on one sentence is logged and the loop continues with the next:
// partial output beats losing the whole utterance. Speak returns only when
// every sentence has been attempted (its return is the caller's completion
// signal), except when emit itself fails — a dead transport — or the
// context is canceled, in which case remaining sentences are abandoned.
func (o *Orchestrator) Speak(ctx context.Context, req Request, emit func(*audio.Buffer) error) error {
	lang, err := o.rt.Language(req.Language)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, req.Language)
	}
	conv, err := o.rt.Converter()
	if err != nil {
		return err
	}
	synth, err := o.rt.Synthesizer(ctx, lang.Code)
	if err != nil {
		return err
	}
	source, err := o.rt.SourceSignature(ctx, lang.Code)
	if err != nil {
		return fmt.Errorf("speech: source signature for %s: %w", lang.Code, err)
	}

	sentences := Segment(req.Text, lang.CJK)
	for i, sentence := range sentences {
		if err := ctx.Err(); err != nil {
			return err
		}

		base, err := synth.Synthesize(ctx, sentence)
		if err != nil {
			o.log.Warn("speech: synthesis failed, skipping sentence",
				"language", lang.Code, "sentence", i, "error", err)
			continue
		}
		voiced, err := conv.Convert(ctx, base, source, req.Target)
		if err != nil {
			o.log.Warn("speech: conversion failed, skipping sentence",
				"language", lang.Code, "sentence", i, "error", err)
			continue
		}
		out, err := audio.Resample(voiced, o.outRate)
		if err != nil {
			o.log.Warn("speech: resample failed, skipping sentence",
				"language", lang.Code, "sentence", i, "error", err)
			continue
		}

		if err := emit(out); err != nil {
			return fmt.Errorf("speech: emit sentence %d: %w", i, err)
		}
	}
	return nil
}
