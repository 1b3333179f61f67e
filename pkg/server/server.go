// Package server exposes enrollment and synthesis over HTTP and
// websocket.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/eumlab/voiced/pkg/audio"
	"github.com/eumlab/voiced/pkg/engine"
	"github.com/eumlab/voiced/pkg/enroll"
	"github.com/eumlab/voiced/pkg/signature"
	"github.com/eumlab/voiced/pkg/speech"
)

// maxUploadBytes caps multipart enrollment uploads.
const maxUploadBytes = 64 << 20

// Options configures a Server.
type Options struct {
	Store    *signature.Store
	Pipeline *enroll.Pipeline
	Speech   *speech.Orchestrator
	Runtime  *engine.Runtime

	// DefaultLanguage is used for synthesis requests that name none.
	DefaultLanguage string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server routes enrollment and synthesis requests. Construct with New and
// mount Handler.
type Server struct {
	store    *signature.Store
	pipeline *enroll.Pipeline
	speech   *speech.Orchestrator
	rt       *engine.Runtime
	defLang  string
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// New builds a Server.
func New(opts Options) (*Server, error) {
	if opts.Store == nil || opts.Pipeline == nil || opts.Speech == nil || opts.Runtime == nil {
		return nil, errors.New("server: Store, Pipeline, Speech and Runtime are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:    opts.Store,
		pipeline: opts.Pipeline,
		speech:   opts.Speech,
		rt:       opts.Runtime,
		defLang:  opts.DefaultLanguage,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Handler returns the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /enroll/{user}", s.handleEnroll)
	mux.HandleFunc("POST /enroll-url/{user}", s.handleEnrollURL)
	mux.HandleFunc("DELETE /enroll/{user}", s.handleDelete)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /tts/file/{user}", s.handleSpeakFile)
	mux.HandleFunc("GET /ws/tts/{user}", s.handleStream)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// enrollStatus maps pipeline failures onto HTTP status codes.
func enrollStatus(err error) int {
	switch {
	case errors.Is(err, audio.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, enroll.ErrFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type enrollResponse struct {
	Status    string  `json:"status"`
	User      string  `json:"user"`
	Enhanced  bool    `json:"enhanced"`
	RemoteKey string  `json:"remote_key,omitempty"`
	Duration  float64 `json:"duration_seconds"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field %q is required: %v", "audio", err)
		return
	}
	defer file.Close()

	res, err := s.pipeline.Enroll(r.Context(), user, file)
	if err != nil {
		s.log.Error("enrollment failed", "user", user, "error", err)
		writeError(w, enrollStatus(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, enrollResponse{
		Status:    "enrolled",
		User:      user,
		Enhanced:  res.Enhanced,
		RemoteKey: res.RemoteKey,
		Duration:  res.Duration,
	})
}

func (s *Server) handleEnrollURL(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "body must be JSON with a %q field", "url")
		return
	}

	res, err := s.pipeline.EnrollURL(r.Context(), user, req.URL)
	if err != nil {
		s.log.Error("enrollment by URL failed", "user", user, "url", req.URL, "error", err)
		writeError(w, enrollStatus(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, enrollResponse{
		Status:    "enrolled",
		User:      user,
		Enhanced:  res.Enhanced,
		RemoteKey: res.RemoteKey,
		Duration:  res.Duration,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	if !s.store.Exists(r.Context(), user) {
		writeError(w, http.StatusNotFound, "user %q is not enrolled", user)
		return
	}
	if err := s.store.Delete(r.Context(), user); err != nil {
		s.log.Error("delete failed", "user", user, "error", err)
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "user": user})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"engine": map[string]any{
			"ready":  s.rt.Ready(),
			"device": s.rt.Device(),
		},
		"languages":        s.rt.Languages(),
		"loaded_languages": s.rt.LoadedLanguages(),
		"enrolled_users":   s.store.Users(r.Context()),
		"output_rate":      s.speech.OutputRate(),
	})
}

// handleSpeakFile synthesizes a whole request into one response body:
// raw little-endian float32 samples, rate in the X-Sample-Rate header.
func (s *Server) handleSpeakFile(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")

	var req struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "body must be JSON with a %q field", "text")
		return
	}
	if req.Language == "" {
		req.Language = s.defLang
	}

	sig, err := s.store.Get(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusNotFound, "user %q is not enrolled", user)
		return
	}

	wrote := false
	err = s.speech.Speak(r.Context(), speech.Request{
		Text:     req.Text,
		Language: req.Language,
		Target:   sig,
	}, func(b *audio.Buffer) error {
		if !wrote {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("X-Sample-Rate", fmt.Sprint(b.Rate))
			wrote = true
		}
		_, err := w.Write(b.Frame())
		return err
	})
	if err != nil && !wrote {
		switch {
		case errors.Is(err, speech.ErrUnsupportedLanguage):
			writeError(w, http.StatusBadRequest, "%v", err)
		case errors.Is(err, engine.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "%v", err)
		default:
			s.log.Error("file synthesis failed", "user", user, "error", err)
			writeError(w, http.StatusInternalServerError, "%v", err)
		}
		return
	}
	if err != nil {
		s.log.Warn("file synthesis aborted mid-stream", "user", user, "error", err)
		return
	}
	if !wrote {
		// Every sentence failed; an empty stream is still a completed
		// request.
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("X-Sample-Rate", fmt.Sprint(s.speech.OutputRate()))
	}
}
