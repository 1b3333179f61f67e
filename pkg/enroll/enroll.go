// Package enroll turns a reference recording into a stored voice signature:
// decode, enhance, extract, persist. The pipeline is all-or-nothing; a
// failure at any step leaves the store untouched.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/eumlab/voiced/pkg/audio"
	"github.com/eumlab/voiced/pkg/enhance"
	"github.com/eumlab/voiced/pkg/engine"
	"github.com/eumlab/voiced/pkg/signature"
)

// ErrFetch reports that a reference recording could not be retrieved from
// its URL.
var ErrFetch = errors.New("enroll: fetch reference audio failed")

// maxFetchBytes caps how much reference audio EnrollURL will download.
const maxFetchBytes = 64 << 20

// defaultFetchTimeout bounds the whole URL download.
const defaultFetchTimeout = 30 * time.Second

// Result describes a completed enrollment.
type Result struct {
	UserID string

	// Signature is the extracted voice signature, already persisted.
	Signature signature.Signature

	// Enhanced reports whether noise suppression ran on the reference.
	Enhanced bool

	// RemoteKey is the remote-tier object key, empty when no remote copy
	// was made.
	RemoteKey string

	// Duration is the length of the (enhanced) reference audio in
	// seconds.
	Duration float64
}

// Options configures a Pipeline.
type Options struct {
	Store    *signature.Store
	Runtime  *engine.Runtime
	Enhancer *enhance.Stage

	// Client fetches reference audio for EnrollURL. Defaults to a client
	// with defaultFetchTimeout.
	Client *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Pipeline is the enrollment pipeline. Safe for concurrent use.
type Pipeline struct {
	store  *signature.Store
	rt     *engine.Runtime
	enh    *enhance.Stage
	client *http.Client
	log    *slog.Logger
}

// New builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil || opts.Runtime == nil || opts.Enhancer == nil {
		return nil, errors.New("enroll: Store, Runtime and Enhancer are required")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:  opts.Store,
		rt:     opts.Runtime,
		enh:    opts.Enhancer,
		client: client,
		log:    log,
	}, nil
}

// Enroll decodes the reference recording from r, runs enhancement, extracts
// a voice signature and stores it under userID. Re-enrolling an existing
// user replaces the signature wholesale.
//
// Returns an error wrapping audio.ErrDecode for undecodable input and
// engine.ErrUnavailable when the extraction engine is not loaded; in both
// cases the store is unchanged.
func (p *Pipeline) Enroll(ctx context.Context, userID string, r io.Reader) (*Result, error) {
	conv, err := p.rt.Converter()
	if err != nil {
		return nil, err
	}

	clip, err := audio.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("enroll %s: %w", userID, err)
	}

	clip, enhanced := p.enh.Enhance(ctx, clip)

	sig, err := conv.Extract(ctx, clip)
	if err != nil {
		return nil, fmt.Errorf("enroll %s: extract signature: %w", userID, err)
	}

	remoteKey, err := p.store.Put(ctx, userID, sig, enhanced)
	if err != nil {
		return nil, err
	}

	p.log.Info("enrolled voice signature",
		"user", userID,
		"enhanced", enhanced,
		"duration", clip.Duration(),
		"remote_key", remoteKey)

	return &Result{
		UserID:    userID,
		Signature: sig,
		Enhanced:  enhanced,
		RemoteKey: remoteKey,
		Duration:  clip.Duration(),
	}, nil
}

// EnrollURL fetches the reference recording from url and enrolls it.
// Fetch failures wrap ErrFetch so callers can distinguish them from
// undecodable audio.
func (p *Pipeline) EnrollURL(ctx context.Context, userID, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetch, url, resp.Status)
	}
	return p.Enroll(ctx, userID, io.LimitReader(resp.Body, maxFetchBytes))
}
