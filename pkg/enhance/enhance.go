// Package enhance wraps the noise-suppression engine as a best-effort
// stage: callers always get audio at the canonical output rate, and never
// an error. Enhancement failures degrade to resample-only pass-through.
package enhance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eumlab/voiced/pkg/audio"
	"github.com/eumlab/voiced/pkg/engine"
)

// Stage runs enrollment audio through noise suppression when the engine is
// available, normalizing the result to the canonical output rate either way.
type Stage struct {
	den     engine.Denoiser
	outRate int
	log     *slog.Logger
}

// New creates a Stage. den may be nil (engine disabled or failed to load);
// the stage then always passes through. outRate must be positive so the
// pass-through resample cannot itself fail on a bad target rate.
func New(den engine.Denoiser, outRate int, log *slog.Logger) (*Stage, error) {
	if outRate <= 0 {
		return nil, fmt.Errorf("enhance: output rate must be positive, got %d", outRate)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Stage{den: den, outRate: outRate, log: log}, nil
}

// Enhance returns the clip at the canonical output rate and whether noise
// suppression was applied. It never fails: any engine or resampling error
// inside the enhancement path is logged and the stage falls back to
// pass-through. The returned rate is always the canonical output rate.
func (s *Stage) Enhance(ctx context.Context, clip *audio.Buffer) (*audio.Buffer, bool) {
	if s.den == nil {
		return s.passThrough(clip), false
	}

	in, err := audio.Resample(clip, s.den.Rate())
	if err != nil {
		s.log.Warn("enhance: resample to engine rate failed, passing through", "error", err)
		return s.passThrough(clip), false
	}
	cleaned, err := s.den.Denoise(ctx, in)
	if err != nil {
		s.log.Warn("enhance: noise suppression failed, passing through", "error", err)
		return s.passThrough(clip), false
	}
	out, err := audio.Resample(cleaned, s.outRate)
	if err != nil {
		s.log.Warn("enhance: resample to output rate failed, passing through", "error", err)
		return s.passThrough(clip), false
	}
	return out, true
}

// passThrough normalizes the clip to the output rate without enhancement.
func (s *Stage) passThrough(clip *audio.Buffer) *audio.Buffer {
	out, err := audio.Resample(clip, s.outRate)
	if err != nil {
		// A clip that cannot be resampled is still better returned than
		// dropped; the caller gets the original rate in this last-ditch
		// path.
		s.log.Error("enhance: pass-through resample failed", "error", err)
		return clip
	}
	return out
}
