package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/accountpool/apiserver/internal/services"
	"github.com/accountpool/apiserver/internal/store"
	"github.com/accountpool/apiserver/types"
)

const adminRole = "admin"

// AccountHandler provides HTTP handlers for pool accounts.
type AccountHandler struct {
	accountService *services.AccountService
	userService    *services.UserService
	archiveService *services.ArchiveService
}

// NewAccountHandler constructs a handler with the provided dependencies.
func NewAccountHandler(
	accountService *services.AccountService,
	userService *services.UserService,
	archiveService *services.ArchiveService,
) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		userService:    userService,
		archiveService: archiveService,
	}
}

// AccountRouter registers account routes on the given router. All routes
// require an authenticated admin.
func AccountRouter(
	r chi.Router,
	accountService *services.AccountService,
	userService *services.UserService,
	archiveService *services.ArchiveService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewAccountHandler(accountService, userService, archiveService)

	r.Use(authMiddleware, requireAdmin(userService))
	r.Get("/", handler.ListAccounts)
	r.Post("/", handler.CreateAccount)
	r.Patch("/", handler.BulkUpdateAccounts)
	r.Route("/{accountID}", func(r chi.Router) {
		r.Get("/", handler.GetAccount)
		r.Patch("/", handler.UpdateAccount)
		r.Delete("/", handler.DeleteAccount)
	})
}

func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	_, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f, err := parseFilter(store.AccountSchema, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.accountService.List(r.Context(), f, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	writeJSON(w, http.StatusOK, list)
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := h.accountService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch account")
		return
	}

	writeJSON(w, http.StatusOK, acct)
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Number = strings.TrimSpace(req.Number)
	if req.Number == "" || req.UserID < 1 {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	acct := types.Account{
		UserID:   req.UserID,
		Number:   req.Number,
		Type:     req.Type,
		MsgLimit: req.MsgLimit,
		Cooldown: req.Cooldown,
		Tags:     req.Tags,
		Info1:    req.Info1,
		Info2:    req.Info2,
		Info3:    req.Info3,
	}
	if err := h.accountService.Create(r.Context(), &acct); err != nil {
		var integrity *store.IntegrityError
		if errors.As(err, &integrity) {
			writeError(w, http.StatusConflict, "account already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	writeJSON(w, http.StatusCreated, acct)
}

func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	patch, err := decodePatch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := h.accountService.Update(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, acct)
}

// BulkUpdateAccounts patches every account matching the query filter and
// reports how many rows changed.
func (h *AccountHandler) BulkUpdateAccounts(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(store.AccountSchema, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(f.Conditions()) == 0 {
		writeError(w, http.StatusBadRequest, "bulk update requires a filter")
		return
	}

	patch, err := decodePatch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	count, err := h.accountService.BulkUpdate(r.Context(), f, patch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, BulkUpdateResponse{Updated: count})
}

func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := h.accountService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch account")
		return
	}

	if err := h.accountService.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete account")
		return
	}
	h.archiveService.Remove(r.Context(), &acct)

	w.WriteHeader(http.StatusNoContent)
}

type AccountCreateRequest struct {
	UserID   int64   `json:"user_id"`
	Number   string  `json:"number"`
	Type     int16   `json:"type"`
	MsgLimit int     `json:"msg_limit"`
	Cooldown *int    `json:"cooldown"`
	Tags     *string `json:"tags"`
	Info1    *string `json:"info_1"`
	Info2    *string `json:"info_2"`
	Info3    *string `json:"info_3"`
}

type BulkUpdateResponse struct {
	Updated int `json:"updated"`
}

func requireAdmin(userService *services.UserService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := userIDFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			user, err := userService.Get(r.Context(), userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				writeError(w, http.StatusInternalServerError, "failed to load user")
				return
			}

			if !strings.EqualFold(user.Role, adminRole) {
				writeError(w, http.StatusForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
