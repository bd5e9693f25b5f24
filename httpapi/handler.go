// Package httpapi exposes the assessment engine over HTTP: session
// lifecycle, turn submission, edits, deletes, answer history and
// aggregate progress.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cumplia/enscope/analytics"
	"github.com/cumplia/enscope/answers"
	"github.com/cumplia/enscope/engine"
	"github.com/cumplia/enscope/session"
)

// maxBodySize limits request bodies to prevent abuse.
const maxBodySize = 1 << 20 // 1 MB

// Handler serves the assessment API.
type Handler struct {
	eng      *engine.Engine
	reporter *analytics.Reporter
	answers  engine.AnswerStore
	logger   *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(eng *engine.Engine, reporter *analytics.Reporter, answerStore engine.AnswerStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		eng:      eng,
		reporter: reporter,
		answers:  answerStore,
		logger:   logger,
	}
}

// Register registers all API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", h.handleCreateSession)
	mux.HandleFunc("POST /sessions/{id}/turns", h.handleTurn)
	mux.HandleFunc("POST /sessions/{id}/questions/{question}/edit", h.handleEdit)
	mux.HandleFunc("DELETE /sessions/{id}/questions/{question}", h.handleDelete)
	mux.HandleFunc("GET /sessions/{id}/progress", h.handleSessionProgress)
	mux.HandleFunc("GET /answers/{question}/history", h.handleHistory)
	mux.HandleFunc("GET /progress", h.handleGlobalProgress)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// CreateSessionResponse is the response for POST /sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Opening   string `json:"opening"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.eng.StartSession(r.Context())
	if err != nil {
		h.logger.Error("Failed to start session", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	opening := ""
	if len(sess.Turns) > 0 {
		opening = sess.Turns[0].Text
	}
	h.writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID: sess.ID,
		Opening:   opening,
	})
}

// TurnRequest is the request body for POST /sessions/{id}/turns.
type TurnRequest struct {
	Text string `json:"text"`
}

func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req TurnRequest
	if !h.readBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := h.eng.SubmitTurn(r.Context(), sessionID, req.Text)
	if err != nil {
		h.writeEngineError(w, sessionID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// EditRequest is the request body for POST /sessions/{id}/questions/{question}/edit.
type EditRequest struct {
	Field string `json:"field"`
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	questionID := r.PathValue("question")

	var req EditRequest
	if !h.readBody(w, r, &req) {
		return
	}
	if req.Field == "" {
		h.writeError(w, http.StatusBadRequest, "field is required")
		return
	}

	if err := h.eng.RequestEdit(r.Context(), sessionID, questionID, req.Field); err != nil {
		h.writeEngineError(w, sessionID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteRequest is the request body for DELETE /sessions/{id}/questions/{question}.
type DeleteRequest struct {
	ConfirmToken string `json:"confirm_token"`
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	questionID := r.PathValue("question")

	var req DeleteRequest
	if !h.readBody(w, r, &req) {
		return
	}

	if err := h.eng.RequestDelete(r.Context(), sessionID, questionID, req.ConfirmToken); err != nil {
		h.writeEngineError(w, sessionID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionProgressResponse is the response for GET /sessions/{id}/progress.
type SessionProgressResponse struct {
	SessionID      string                               `json:"session_id"`
	ActiveQuestion string                               `json:"active_question,omitempty"`
	Questions      map[string]*session.QuestionProgress `json:"questions"`
}

func (h *Handler) handleSessionProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	sess, err := h.eng.SessionProgress(r.Context(), sessionID)
	if err != nil {
		h.writeEngineError(w, sessionID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SessionProgressResponse{
		SessionID:      sess.ID,
		ActiveQuestion: sess.ActiveQuestion,
		Questions:      sess.Progress,
	})
}

// HistoryResponse is the response for GET /answers/{question}/history.
type HistoryResponse struct {
	QuestionID string            `json:"question_id"`
	Versions   []*answers.Record `json:"versions"`
	Total      int               `json:"total"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	questionID := r.PathValue("question")

	history, err := h.answers.History(r.Context(), questionID)
	if err != nil {
		h.logger.Error("Failed to load answer history", "question", questionID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if len(history) == 0 {
		h.writeError(w, http.StatusNotFound, "no versions for question")
		return
	}
	h.writeJSON(w, http.StatusOK, HistoryResponse{
		QuestionID: questionID,
		Versions:   history,
		Total:      len(history),
	})
}

func (h *Handler) handleGlobalProgress(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reporter.Report(r.Context())
	if err != nil {
		h.logger.Error("Failed to build progress report", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	h.writeJSON(w, http.StatusOK, rep)
}

// readBody decodes a JSON request body with the size cap applied. On
// failure it writes the error response and returns false.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeEngineError maps engine and store errors onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, session.ErrConcurrentMutation):
		h.writeError(w, http.StatusConflict, "session is processing another request")
	case errors.Is(err, session.ErrSessionNotFound):
		h.writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, engine.ErrQuestionNotFound):
		h.writeError(w, http.StatusNotFound, "question not found")
	case errors.Is(err, answers.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "answer not found")
	case errors.Is(err, answers.ErrConfirmRequired):
		h.writeError(w, http.StatusBadRequest, "confirm_token is required")
	case errors.Is(err, answers.ErrVersionConflict):
		h.writeError(w, http.StatusConflict, "answer version conflict, retry")
	default:
		var transition *session.ErrInvalidTransition
		if errors.As(err, &transition) {
			h.writeError(w, http.StatusConflict, transition.Error())
			return
		}
		h.logger.Error("Request failed", "session", sessionID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to write JSON response", "error", err)
	}
}
