package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/astrosevaa/sessiond/internal/audit"
	"github.com/astrosevaa/sessiond/internal/model"
	"github.com/astrosevaa/sessiond/internal/session"
)

// SessionMachine is the part of the session state machine the control API drives.
type SessionMachine interface {
	View() session.View
	SendSessionRequest(ctx context.Context, req session.Request) (*model.Session, error)
	AcceptSessionRequest(ctx context.Context, requesterID string) (*session.Acceptance, error)
	SkipSessionRequest(ctx context.Context, requesterID string) error
	DeleteSessionRequest(ctx context.Context) error
	RefreshQueue(ctx context.Context) error
	RefreshBalance(ctx context.Context) error
	ClearSession(ctx context.Context)
	SetOnline(ctx context.Context, online bool) error
}

type SessionHandler struct {
	machine SessionMachine
}

func NewSessionHandler(machine SessionMachine) *SessionHandler {
	return &SessionHandler{machine: machine}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/request", h.Request)
	r.Post("/accept", h.Accept)
	r.Post("/accept/{requesterId}", h.Accept)
	r.Post("/skip/{requesterId}", h.Skip)
	r.Delete("/queue", h.DeleteQueue)
	r.Post("/queue/refresh", h.RefreshQueue)
	r.Post("/balance/refresh", h.RefreshBalance)
	r.Post("/clear", h.Clear)

	return r
}

// GET /v1/state
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.machine.View())
}

// POST /v1/sessions/request
func (h *SessionHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req session.Request
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	s, err := h.machine.SendSessionRequest(r.Context(), req)
	auditAction(r, audit.EventSessionRequest, err, map[string]any{
		"providerId":  req.Provider.ID,
		"sessionType": string(req.Type),
	})
	if err != nil {
		log.Warn().Err(err).Str("providerId", req.Provider.ID).Msg("session request failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, s)
}

// POST /v1/sessions/accept/{requesterId}
func (h *SessionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	requesterID := chi.URLParam(r, "requesterId")

	result, err := h.machine.AcceptSessionRequest(r.Context(), requesterID)
	auditAction(r, audit.EventSessionAccept, err, map[string]any{"requesterId": requesterID})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /v1/sessions/skip/{requesterId}
func (h *SessionHandler) Skip(w http.ResponseWriter, r *http.Request) {
	requesterID := chi.URLParam(r, "requesterId")
	err := h.machine.SkipSessionRequest(r.Context(), requesterID)
	auditAction(r, audit.EventSessionSkip, err, map[string]any{"requesterId": requesterID})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /v1/sessions/queue
func (h *SessionHandler) DeleteQueue(w http.ResponseWriter, r *http.Request) {
	err := h.machine.DeleteSessionRequest(r.Context())
	auditAction(r, audit.EventQueueClear, err, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/sessions/queue/refresh
func (h *SessionHandler) RefreshQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.machine.RefreshQueue(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.machine.View())
}

// POST /v1/sessions/balance/refresh
func (h *SessionHandler) RefreshBalance(w http.ResponseWriter, r *http.Request) {
	if err := h.machine.RefreshBalance(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": h.machine.View().Balance})
}

// POST /v1/sessions/clear
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.machine.ClearSession(r.Context())
	auditAction(r, audit.EventSessionClear, nil, nil)
	w.WriteHeader(http.StatusNoContent)
}

type onlineRequest struct {
	Online *bool `json:"online" validate:"required"`
}

// PUT /v1/presence/online
func (h *SessionHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var req onlineRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	err := h.machine.SetOnline(r.Context(), *req.Online)
	auditAction(r, audit.EventOnlineToggle, err, map[string]any{"online": *req.Online})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"online": *req.Online})
}
