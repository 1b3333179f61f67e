package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eumlab/voiced/pkg/audio"
	"github.com/eumlab/voiced/pkg/signature"
	"github.com/eumlab/voiced/pkg/speech"
	"github.com/google/uuid"
)

// Application close codes, in the websocket private range.
const (
	// CloseInternal reports an unrecoverable server-side failure.
	CloseInternal = 4000

	// CloseNoSignature is sent when the connecting user has no enrolled
	// voice signature in any tier.
	CloseNoSignature = 4001

	// CloseEngineUnavailable is sent when the synthesis engine is not
	// loaded.
	CloseEngineUnavailable = 4002
)

const closeWriteTimeout = 5 * time.Second

// streamRequest is one inbound synthesis message.
type streamRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`

	// RemoteKey locates a signature enrolled by another instance, for
	// users not present in this instance's local tiers.
	RemoteKey string `json:"remote_key,omitempty"`
}

// handleStream upgrades to websocket and serves synthesis requests for one
// enrolled user until the client disconnects.
//
// Each request produces, in order: one binary frame of little-endian
// float32 samples per synthesized sentence, then {"status":"complete"}.
// Recoverable request errors are reported inline as {"error":...} and the
// connection stays open. Requests are serialized; a message received while
// a previous one is synthesizing waits its turn.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	log := s.log.With("session", id, "user", user)

	if !s.store.Exists(r.Context(), user) {
		s.closeWith(conn, CloseNoSignature, "no voice signature enrolled")
		return
	}
	if !s.rt.Ready() {
		s.closeWith(conn, CloseEngineUnavailable, "synthesis engine unavailable")
		return
	}

	log.Info("stream session opened")
	defer log.Info("stream session closed")

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("stream read failed", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			if err := s.writeInlineError(conn, "requests must be JSON text messages"); err != nil {
				return
			}
			continue
		}

		var req streamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if err := s.writeInlineError(conn, "malformed request: %v", err); err != nil {
				return
			}
			continue
		}

		if done := s.serveStreamRequest(conn, r, log, user, req); done {
			return
		}
	}
}

// serveStreamRequest handles one synthesis request. It reports whether the
// session should end.
func (s *Server) serveStreamRequest(conn *websocket.Conn, r *http.Request, log *slog.Logger, user string, req streamRequest) bool {
	if req.Text == "" {
		return s.writeInlineError(conn, "empty text") != nil
	}
	lang := req.Language
	if lang == "" {
		lang = s.defLang
	}

	sig, err := s.store.Lookup(r.Context(), user, req.RemoteKey)
	if err != nil {
		if errors.Is(err, signature.ErrNotEnrolled) {
			return s.writeInlineError(conn, "no voice signature enrolled for %q", user) != nil
		}
		log.Error("signature lookup failed", "error", err)
		s.closeWith(conn, CloseInternal, "signature lookup failed")
		return true
	}

	err = s.speech.Speak(r.Context(), speech.Request{
		Text:     req.Text,
		Language: lang,
		Target:   sig,
	}, func(b *audio.Buffer) error {
		return conn.WriteMessage(websocket.BinaryMessage, b.Frame())
	})
	switch {
	case err == nil:
		return conn.WriteJSON(map[string]string{"status": "complete"}) != nil
	case errors.Is(err, speech.ErrUnsupportedLanguage):
		return s.writeInlineError(conn, "unsupported language %q", lang) != nil
	default:
		// Either the transport died mid-stream or the engine failed in a
		// way the per-sentence loop could not absorb.
		log.Error("synthesis failed", "language", lang, "error", err)
		s.closeWith(conn, CloseInternal, "synthesis failed")
		return true
	}
}

// writeInlineError reports a recoverable error without ending the session.
// The returned error is non-nil only when the transport itself failed.
func (s *Server) writeInlineError(conn *websocket.Conn, format string, args ...any) error {
	return conn.WriteJSON(map[string]string{"error": fmt.Sprintf(format, args...)})
}

// closeWith sends a close frame with an application close code, then drops
// the connection.
func (s *Server) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout)); err != nil {
		s.log.Warn("close frame write failed", "code", code, "error", err)
	}
	conn.Close()
}
