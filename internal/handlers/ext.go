package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/accountpool/apiserver/internal/services"
	"github.com/accountpool/apiserver/internal/storage"
	"github.com/accountpool/apiserver/internal/store"
	"github.com/accountpool/apiserver/types"
)

const (
	apiKeyHeader       = "X-Api-Key"
	maxMultipartMemory = 32 << 20
	maxArchiveBytes    = 256 << 20
	formFieldArchive   = "archive"
)

// ExtHandler provides the device-facing endpoints: account leasing over the
// link/finish/ban workflow and archive import/export. Devices authenticate
// with their owner's API key.
type ExtHandler struct {
	userService    *services.UserService
	deviceService  *services.DeviceService
	accountService *services.AccountService
	archiveService *services.ArchiveService
}

// NewExtHandler constructs a handler with the provided dependencies.
func NewExtHandler(
	userService *services.UserService,
	deviceService *services.DeviceService,
	accountService *services.AccountService,
	archiveService *services.ArchiveService,
) *ExtHandler {
	return &ExtHandler{
		userService:    userService,
		deviceService:  deviceService,
		accountService: accountService,
		archiveService: archiveService,
	}
}

// ExtRouter registers device-facing routes on the given router.
func ExtRouter(
	r chi.Router,
	userService *services.UserService,
	deviceService *services.DeviceService,
	accountService *services.AccountService,
	archiveService *services.ArchiveService,
) {
	handler := NewExtHandler(userService, deviceService, accountService, archiveService)

	r.Use(handler.requireAPIKey)
	r.Post("/link", handler.Link)
	r.Post("/finish", handler.Finish)
	r.Post("/ban", handler.Ban)
	r.Post("/accounts", handler.ImportAccount)
	r.Get("/accounts/{accountUUID}/archive", handler.DownloadArchive)
}

func (h *ExtHandler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		user, err := h.userService.ResolveAPIKey(r.Context(), key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to authenticate")
			return
		}

		ctx := context.WithValue(r.Context(), contextSubjectKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Link hands the calling device an account from its owner's pool. Extra
// query parameters narrow eligibility with the account filter syntax.
func (h *ExtHandler) Link(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, err := decodeDeviceRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	extra, err := parseFilter(store.AccountSchema, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := h.deviceService.Link(r.Context(), userID, req.Device, extra)
	if err != nil {
		if errors.Is(err, store.ErrNoneAvailable) {
			writeError(w, http.StatusNotFound, "no account available")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to link account")
		return
	}

	writeJSON(w, http.StatusOK, acct)
}

// Finish releases the device's held account back to the pool.
func (h *ExtHandler) Finish(w http.ResponseWriter, r *http.Request) {
	h.unlink(w, r, false)
}

// Ban removes the device's held account from the pool permanently.
func (h *ExtHandler) Ban(w http.ResponseWriter, r *http.Request) {
	h.unlink(w, r, true)
}

func (h *ExtHandler) unlink(w http.ResponseWriter, r *http.Request, ban bool) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, err := decodeDeviceRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var acct types.Account
	if ban {
		acct, err = h.deviceService.Ban(r.Context(), userID, req.Device, req.Sent)
	} else {
		acct, err = h.deviceService.Finish(r.Context(), userID, req.Device, req.Sent)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "device holds no account")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to release account")
		return
	}

	writeJSON(w, http.StatusOK, acct)
}

// ImportAccount registers a new pool account from a multipart upload: the
// account fields plus its archive file.
func (h *ExtHandler) ImportAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.archiveService.Enabled() {
		writeError(w, http.StatusNotImplemented, "archive storage is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	number := strings.TrimSpace(r.FormValue("number"))
	if number == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}

	accountType, err := parseOptionalInt(r.FormValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid type")
		return
	}
	msgLimit, err := parseOptionalInt(r.FormValue("msg_limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid msg_limit")
		return
	}
	cooldown, err := parseOptionalIntPtr(r.FormValue("cooldown"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cooldown")
		return
	}

	files := r.MultipartForm.File[formFieldArchive]
	if len(files) != 1 {
		writeError(w, http.StatusBadRequest, "exactly one archive file is required")
		return
	}
	fileHeader := files[0]
	if fileHeader.Size > maxArchiveBytes {
		writeError(w, http.StatusBadRequest, "archive too large")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read archive")
		return
	}
	defer file.Close()

	acct := types.Account{
		UserID:   userID,
		Number:   number,
		Type:     int16(accountType),
		MsgLimit: msgLimit,
		Cooldown: cooldown,
		Tags:     optionalString(r.FormValue("tags")),
		Info1:    optionalString(r.FormValue("info_1")),
		Info2:    optionalString(r.FormValue("info_2")),
		Info3:    optionalString(r.FormValue("info_3")),
	}
	if err := h.archiveService.Import(r.Context(), &acct, file, fileHeader.Size); err != nil {
		var integrity *store.IntegrityError
		if errors.As(err, &integrity) {
			writeError(w, http.StatusConflict, "account already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to import account")
		return
	}

	writeJSON(w, http.StatusCreated, acct)
}

// DownloadArchive streams the stored archive for one of the caller's
// accounts.
func (h *ExtHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.archiveService.Enabled() {
		writeError(w, http.StatusNotImplemented, "archive storage is not configured")
		return
	}

	key, err := uuid.Parse(chi.URLParam(r, "accountUUID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account uuid")
		return
	}

	acct, err := h.accountService.GetByUUID(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch account")
		return
	}
	if acct.UserID != userID {
		writeError(w, http.StatusForbidden, "account belongs to another user")
		return
	}

	reader, err := h.archiveService.Open(r.Context(), acct.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to open archive")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", storage.ArchiveContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

type DeviceRequest struct {
	Device string `json:"device"`
	Sent   int    `json:"sent"`
}

func decodeDeviceRequest(r *http.Request) (DeviceRequest, error) {
	var req DeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return DeviceRequest{}, errors.New("invalid request")
	}
	req.Device = strings.TrimSpace(req.Device)
	if req.Device == "" {
		return DeviceRequest{}, errors.New("device is required")
	}
	if req.Sent < 0 {
		return DeviceRequest{}, errors.New("invalid sent count")
	}
	return req, nil
}

func parseOptionalInt(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

func parseOptionalIntPtr(value string) (*int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
