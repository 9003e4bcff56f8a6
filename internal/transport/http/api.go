package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/export"
)

// APIHandler serves the REST side: session creation, lookup and analytics export.
type APIHandler struct {
	service *app.QuizService
	logger  *slog.Logger
}

func NewAPIHandler(service *app.QuizService, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{service: service, logger: logger}
}

// Register mounts the API routes on mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions/{code}", h.getSession)
	mux.HandleFunc("GET /api/sessions/{code}/leaderboard", h.leaderboard)
	mux.HandleFunc("GET /api/analytics/{sessionId}", h.analytics)
	mux.HandleFunc("GET /api/analytics/{sessionId}/export", h.exportAnalytics)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (h *APIHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req app.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.QuizID == "" {
		writeError(w, http.StatusBadRequest, "quizId is required")
		return
	}
	session, err := h.service.CreateSession(r.Context(), req)
	if err != nil {
		h.fail(w, "create session", err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *APIHandler) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetSession(r.Context(), r.PathValue("code"))
	if err != nil {
		h.fail(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *APIHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Leaderboard(r.Context(), r.PathValue("code"))
	if err != nil {
		h.fail(w, "leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.LeaderboardPayload{Leaderboard: entries})
}

func (h *APIHandler) analytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.service.Analytics(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		h.fail(w, "analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (h *APIHandler) exportAnalytics(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := r.PathValue("sessionId")
	analytics, err := h.service.Analytics(r.Context(), sessionID)
	if err != nil {
		h.fail(w, "export analytics", err)
		return
	}

	// render first so a failure can still become a proper error response
	var buf bytes.Buffer
	if err := export.Write(&buf, format, analytics); err != nil {
		h.fail(w, "export analytics", err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename(sessionID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *APIHandler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidName), errors.Is(err, domain.ErrInvalidQuestion):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrDuplicateAnswer),
		errors.Is(err, domain.ErrBuzzerInactive),
		errors.Is(err, domain.ErrNameTaken),
		errors.Is(err, domain.ErrCodeTaken):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorPayload{Message: message})
}
