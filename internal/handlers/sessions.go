package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"assistgate/internal/session"
	"assistgate/pkg/logging/logging"
)

// SessionHandler exposes the session store over HTTP.
type SessionHandler struct {
	Store *session.Store
}

func NewSessionHandler(store *session.Store) *SessionHandler {
	return &SessionHandler{Store: store}
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type sessionListResponse struct {
	UserIDs        []string `json:"user_ids"`
	Count          int      `json:"count"`
	MaxSessions    int      `json:"max_sessions"`
	LoadPercentage float64  `json:"load_percentage"`
}

// Create handles POST /v1/sessions. An empty body or user id gets a generated id.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = uuid.NewString()
	}

	s := h.Store.Create(req.UserID)
	logging.L(r.Context()).Info("session_created", zap.String("user_id", s.UserID))
	writeJSON(w, http.StatusCreated, s)
}

// List handles GET /v1/sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ids := h.Store.ListActive()
	writeJSON(w, http.StatusOK, sessionListResponse{
		UserIDs:        ids,
		Count:          len(ids),
		MaxSessions:    h.Store.MaxSessions(),
		LoadPercentage: h.Store.LoadPercentage(),
	})
}

// Get handles GET /v1/sessions/{userID} without creating or touching.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.Get(chi.URLParam(r, "userID"))
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session_not_found", nil)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Update handles PATCH /v1/sessions/{userID} with a JSON object to merge.
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var partial map[string]any
	if !decodeJSON(w, r, &partial) {
		return
	}
	writeJSON(w, http.StatusOK, h.Store.Update(chi.URLParam(r, "userID"), partial))
}

// Remove handles DELETE /v1/sessions/{userID}; removing an unknown id is not an error.
func (h *SessionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	h.Store.Remove(userID)
	logging.L(r.Context()).Info("session_removed", zap.String("user_id", userID))
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /v1/sessions.
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.Store.Clear()
	logging.L(r.Context()).Info("sessions_cleared")
	w.WriteHeader(http.StatusNoContent)
}
