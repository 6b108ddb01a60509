package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/TriageChat/internal/models"
	"github.com/BTreeMap/TriageChat/internal/store"
)

// CreateSessionRequest is the optional body of POST /v1/sessions.
type CreateSessionRequest struct {
	User  map[string]any `json:"user,omitempty"`
	Debug bool           `json:"debug"`
}

// SessionMessageRequest is the body of POST /v1/sessions/{id}/messages.
type SessionMessageRequest struct {
	Text  string `json:"text"`
	Debug bool   `json:"debug"`
}

// SessionTurnResponse is returned by the session endpoints that run a turn.
type SessionTurnResponse struct {
	SessionID string        `json:"session_id"`
	Output    models.Output `json:"output"`
}

// newSession builds a session whose opening state carries the caller's
// profile.
func newSession(channel models.Channel, externalID string, user map[string]any) models.Session {
	now := time.Now().UTC()
	return models.Session{
		ID:         uuid.NewString(),
		Channel:    channel,
		ExternalID: externalID,
		State:      models.NewState(user),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// runSessionTurn runs one turn on a stored session. The engine always sees
// the full state so the stored copy keeps the caller profile; the returned
// output only exposes it when debug is set. State and transcript are saved
// only for successful turns.
func (s *Server) runSessionTurn(ctx context.Context, sess models.Session, text string, debug bool) (models.Output, error) {
	st := sess.State
	out := s.engine.Generate(ctx, models.Input{
		User: st.User,
		Context: models.Context{
			ChatText:  text,
			ChatState: &st,
			Debug:     true,
		},
	})
	if !out.OK || out.Report.Chat == nil {
		slog.Warn("Server.runSessionTurn: turn failed", "sessionID", sess.ID, "errors", out.Errors)
		return out, nil
	}

	next := out.Report.Chat.State
	if err := s.st.SaveSessionState(sess.ID, next); err != nil {
		return out, fmt.Errorf("save session state: %w", err)
	}
	err := s.st.AppendTurn(models.Turn{
		SessionID:        sess.ID,
		Turn:             next.Turn,
		UserText:         text,
		AssistantMessage: out.Report.Chat.Message(),
		Phase:            next.Phase,
		Path:             out.Report.PathOrEmpty(),
		Intent:           out.Report.Chat.Intent,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		return out, fmt.Errorf("append turn: %w", err)
	}

	// The server holds the state; do not echo it back as input.
	if out.NormalizedInput.Context != nil {
		echo := *out.NormalizedInput.Context
		echo.ChatState = nil
		echo.Debug = debug
		out.NormalizedInput.Context = &echo
	}
	if !debug {
		out.Report.Chat.State = next.Public()
	}
	slog.Debug("Server.runSessionTurn: turn stored", "sessionID", sess.ID, "turn", next.Turn, "phase", next.Phase)
	return out, nil
}

// createSessionHandler handles POST /v1/sessions: it creates the session and
// runs the opening turn.
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		slog.Warn("Server.createSessionHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	sess := newSession(models.ChannelAPI, "", req.User)
	if err := s.st.CreateSession(sess); err != nil {
		slog.Error("Server.createSessionHandler: create failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create session"))
		return
	}
	unlock := s.lockKey(sess.ID)
	defer unlock()

	out, err := s.runSessionTurn(r.Context(), sess, "", req.Debug)
	if err != nil {
		slog.Error("Server.createSessionHandler: opening turn failed", "error", err, "sessionID", sess.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start session"))
		return
	}
	slog.Info("Server.createSessionHandler: session created", "sessionID", sess.ID)
	writeJSONResponse(w, http.StatusCreated, models.Success(SessionTurnResponse{SessionID: sess.ID, Output: out}))
}

// sessionMessageHandler handles POST /v1/sessions/{id}/messages.
func (s *Server) sessionMessageHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req SessionMessageRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		slog.Warn("Server.sessionMessageHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req.Text) > models.MaxChatTextLength {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrChatTextTooLong.Error()))
		return
	}

	unlock := s.lockKey(id)
	defer unlock()

	sess, ok := s.loadSession(w, id)
	if !ok {
		return
	}
	out, err := s.runSessionTurn(r.Context(), sess, req.Text, req.Debug)
	if err != nil {
		slog.Error("Server.sessionMessageHandler: turn failed", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(SessionTurnResponse{SessionID: id, Output: out}))
}

// getSessionHandler handles GET /v1/sessions/{id}. The caller profile is
// only included with ?debug=true.
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r.PathValue("id"))
	if !ok {
		return
	}
	if r.URL.Query().Get("debug") != "true" {
		sess.State = sess.State.Public()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// transcriptHandler handles GET /v1/sessions/{id}/transcript.
func (s *Server) transcriptHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns, err := s.st.ListTurns(id)
	if errors.Is(err, store.ErrSessionNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	if err != nil {
		slog.Error("Server.transcriptHandler: list failed", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load transcript"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(turns))
}

// deleteSessionHandler handles DELETE /v1/sessions/{id}.
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	unlock := s.lockKey(id)
	defer unlock()

	err := s.st.DeleteSession(id)
	if errors.Is(err, store.ErrSessionNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	if err != nil {
		slog.Error("Server.deleteSessionHandler: delete failed", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete session"))
		return
	}
	slog.Info("Server.deleteSessionHandler: session deleted", "sessionID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session deleted", nil))
}

// loadSession writes the error response itself when the session cannot be
// loaded.
func (s *Server) loadSession(w http.ResponseWriter, id string) (models.Session, bool) {
	sess, err := s.st.GetSession(id)
	if errors.Is(err, store.ErrSessionNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return sess, false
	}
	if err != nil {
		slog.Error("Server.loadSession: lookup failed", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return sess, false
	}
	return sess, true
}
