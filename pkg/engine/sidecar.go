package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eumlab/voiced/pkg/audio"
	"github.com/eumlab/voiced/pkg/signature"
)

// Sidecar is an HTTP client for the model sidecar: the separate process
// that hosts the neural engines (base TTS per language, voice conversion,
// noise suppression). The pipeline stays free of inference runtimes; audio
// crosses the boundary as little-endian float32 with an explicit rate.
//
// Endpoints:
//
//	GET  /v1/info        → {"device", "converter", "denoiser", "denoiser_rate"}
//	POST /v1/synthesize  {"language", "text"} → f32le body + X-Sample-Rate
//	POST /v1/extract     {"rate", "audio": base64 f32le} → {"dims", "data"}
//	POST /v1/convert     {"rate", "audio", "source", "target"} → f32le + X-Sample-Rate
//	POST /v1/denoise     {"rate", "audio"} → f32le + X-Sample-Rate
type Sidecar struct {
	baseURL string
	http    *http.Client
}

// SidecarInfo is the sidecar's self-description.
type SidecarInfo struct {
	Device       string `json:"device"`
	Converter    bool   `json:"converter"`
	Denoiser     bool   `json:"denoiser"`
	DenoiserRate int    `json:"denoiser_rate"`
}

// NewSidecar creates a client for the sidecar at baseURL.
// A zero timeout defaults to 60s per engine call.
func NewSidecar(baseURL string, timeout time.Duration) *Sidecar {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Sidecar{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Info probes the sidecar. Used once at startup to decide which
// capabilities the process advertises.
func (s *Sidecar) Info(ctx context.Context) (*SidecarInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/info", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine: sidecar info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine: sidecar info: %s", resp.Status)
	}
	var info SidecarInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("engine: sidecar info: %w", err)
	}
	return &info, nil
}

// wireSignature is the JSON shape of a signature on the sidecar API.
type wireSignature struct {
	Dims []int     `json:"dims"`
	Data []float32 `json:"data"`
}

func toWire(s signature.Signature) wireSignature {
	return wireSignature{Dims: s.Dims, Data: s.Data}
}

// postAudio POSTs a JSON body and parses an f32le + X-Sample-Rate response.
func (s *Sidecar) postAudio(ctx context.Context, path string, body any) (*audio.Buffer, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine: sidecar %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("engine: sidecar %s: %s: %s", path, resp.Status, bytes.TrimSpace(msg))
	}
	rate, err := strconv.Atoi(resp.Header.Get("X-Sample-Rate"))
	if err != nil || rate <= 0 {
		return nil, fmt.Errorf("engine: sidecar %s: missing X-Sample-Rate", path)
	}
	frame, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("engine: sidecar %s: %w", path, err)
	}
	return audio.FromFrame(frame, rate), nil
}

// Extract implements Converter.
func (s *Sidecar) Extract(ctx context.Context, clip *audio.Buffer) (signature.Signature, error) {
	body := map[string]any{
		"rate":  clip.Rate,
		"audio": base64.StdEncoding.EncodeToString(clip.Frame()),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return signature.Signature{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/extract", bytes.NewReader(payload))
	if err != nil {
		return signature.Signature{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return signature.Signature{}, fmt.Errorf("engine: sidecar extract: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return signature.Signature{}, fmt.Errorf("engine: sidecar extract: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	var wire wireSignature
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return signature.Signature{}, fmt.Errorf("engine: sidecar extract: %w", err)
	}
	return signature.Signature{Dims: wire.Dims, Data: wire.Data}, nil
}

// Convert implements Converter.
func (s *Sidecar) Convert(ctx context.Context, clip *audio.Buffer, source, target signature.Signature) (*audio.Buffer, error) {
	return s.postAudio(ctx, "/v1/convert", map[string]any{
		"rate":   clip.Rate,
		"audio":  base64.StdEncoding.EncodeToString(clip.Frame()),
		"source": toWire(source),
		"target": toWire(target),
	})
}

// sidecarDenoiser adapts the sidecar's denoise endpoint to Denoiser.
type sidecarDenoiser struct {
	s    *Sidecar
	rate int
}

func (d *sidecarDenoiser) Rate() int { return d.rate }

func (d *sidecarDenoiser) Denoise(ctx context.Context, clip *audio.Buffer) (*audio.Buffer, error) {
	return d.s.postAudio(ctx, "/v1/denoise", map[string]any{
		"rate":  clip.Rate,
		"audio": base64.StdEncoding.EncodeToString(clip.Frame()),
	})
}

// Denoiser returns a Denoiser backed by the sidecar, expecting input at rate.
func (s *Sidecar) Denoiser(rate int) Denoiser {
	return &sidecarDenoiser{s: s, rate: rate}
}

// sidecarSynthesizer binds one language to the synthesize endpoint.
type sidecarSynthesizer struct {
	s    *Sidecar
	lang string
}

func (y *sidecarSynthesizer) Synthesize(ctx context.Context, text string) (*audio.Buffer, error) {
	return y.s.postAudio(ctx, "/v1/synthesize", map[string]any{
		"language": y.lang,
		"text":     text,
	})
}

// NewSynthesizer is a SynthesizerFactory backed by the sidecar. The sidecar
// does its own per-language model loading; this factory issues a warm-up
// synthesis so the load cost is paid here, under the Runtime's
// single-flight, rather than on the first user request.
func (s *Sidecar) NewSynthesizer(ctx context.Context, lang Language) (Synthesizer, error) {
	syn := &sidecarSynthesizer{s: s, lang: lang.Code}
	if _, err := syn.Synthesize(ctx, lang.SourcePhrase); err != nil {
		return nil, err
	}
	return syn, nil
}

var _ Converter = (*Sidecar)(nil)
