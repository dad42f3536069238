package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"classquiz-live/internal/app"
	"classquiz-live/internal/domain"
)

// APIHandler exposes the controller commands and the pull/catch-up snapshot
// endpoint as plain JSON over HTTP. Push delivery lives in the ws handler.
type APIHandler struct {
	service *app.GameService
}

func NewAPIHandler(service *app.GameService) *APIHandler {
	return &APIHandler{service: service}
}

// Register mounts the API routes on the mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("POST /api/sessions/{id}/start", h.startSession)
	mux.HandleFunc("POST /api/sessions/{id}/advance", h.advance)
	mux.HandleFunc("POST /api/sessions/{id}/answers", h.submitAnswer)
	mux.HandleFunc("POST /api/sessions/{id}/ban", h.banParticipant)
	mux.HandleFunc("POST /api/join", h.join)
	mux.HandleFunc("GET /api/sessions/{id}/snapshot", h.snapshot)
	mux.HandleFunc("GET /api/sessions/{id}/participants", h.participants)
}

type createSessionRequest struct {
	ChapterID      string `json:"chapterId"`
	ControllerName string `json:"controllerName"`
}

func (h *APIHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChapterID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	session, err := h.service.CreateSession(r.Context(), req.ChapterID, req.ControllerName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *APIHandler) startSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.StartSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) advance(w http.ResponseWriter, r *http.Request) {
	if err := h.service.AdvanceFromNarrative(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitAnswerRequest struct {
	ParticipantID string `json:"participantId"`
	QuestionID    string `json:"questionId"`
	Option        string `json:"option"`
}

type submitAnswerResponse struct {
	IsCorrect bool `json:"isCorrect"`
}

func (h *APIHandler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	correct, err := h.service.SubmitAnswer(r.Context(), r.PathValue("id"), req.ParticipantID, req.QuestionID, req.Option)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitAnswerResponse{IsCorrect: correct})
}

type banRequest struct {
	ParticipantID string `json:"participantId"`
}

func (h *APIHandler) banParticipant(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ParticipantID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.service.BanParticipant(r.Context(), r.PathValue("id"), req.ParticipantID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type joinRequest struct {
	Session       string `json:"session"` // session id or join code
	ParticipantID string `json:"participantId,omitempty"`
	DisplayName   string `json:"displayName"`
}

type joinResponse struct {
	Session     domain.Session     `json:"session"`
	Participant domain.Participant `json:"participant"`
}

func (h *APIHandler) join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Session == "" || req.DisplayName == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	session, participant, err := h.service.Join(r.Context(), req.Session, req.ParticipantID, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{Session: session, Participant: participant})
}

func (h *APIHandler) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *APIHandler) participants(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Participants(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response failed")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrContentNotFound),
		errors.Is(err, domain.ErrParticipantNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadyAnswered):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStalePhase), errors.Is(err, domain.ErrSessionClosed):
		status = http.StatusGone
	case errors.Is(err, domain.ErrBanned):
		status = http.StatusForbidden
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
