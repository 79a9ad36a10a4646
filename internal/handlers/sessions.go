package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/accountpool/apiserver/internal/services"
	"github.com/accountpool/apiserver/internal/store"
	"github.com/accountpool/apiserver/types"
)

// SessionHandler provides admin HTTP handlers for sessions.
type SessionHandler struct {
	sessionService *services.SessionService
	userService    *services.UserService
}

// NewSessionHandler constructs a handler with the provided dependencies.
func NewSessionHandler(sessionService *services.SessionService, userService *services.UserService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		userService:    userService,
	}
}

// SessionRouter registers session administration routes on the given router.
func SessionRouter(
	r chi.Router,
	sessionService *services.SessionService,
	userService *services.UserService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewSessionHandler(sessionService, userService)

	r.Use(authMiddleware, requireAdmin(userService))
	r.Get("/", handler.ListSessions)
	r.Post("/", handler.CreateSession)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", handler.GetSession)
		r.Patch("/", handler.UpdateSession)
		r.Delete("/", handler.DeleteSession)
	})
}

func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	_, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f, err := parseFilter(store.SessionSchema, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.sessionService.List(r.Context(), f, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, list)
}

func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.sessionService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch session")
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if req.AccountID < 1 {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	sess := types.Session{
		AccountID: req.AccountID,
		ExtID:     req.ExtID,
		Status:    types.SessionCreated,
		Info1:     req.Info1,
		Info2:     req.Info2,
		Info3:     req.Info3,
	}
	if err := h.sessionService.Create(r.Context(), &sess); err != nil {
		var integrity *store.IntegrityError
		if errors.As(err, &integrity) {
			writeError(w, http.StatusConflict, "session conflicts with existing data")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (h *SessionHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	patch, err := decodePatch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.sessionService.Update(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.sessionService.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type SessionCreateRequest struct {
	AccountID int64   `json:"account_id"`
	ExtID     string  `json:"ext_id"`
	Info1     *string `json:"info_1"`
	Info2     *string `json:"info_2"`
	Info3     *string `json:"info_3"`
}
