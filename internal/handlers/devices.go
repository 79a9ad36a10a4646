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

// DeviceHandler provides admin HTTP handlers for devices.
type DeviceHandler struct {
	deviceService *services.DeviceService
	userService   *services.UserService
}

// NewDeviceHandler constructs a handler with the provided dependencies.
func NewDeviceHandler(deviceService *services.DeviceService, userService *services.UserService) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		userService:   userService,
	}
}

// DeviceRouter registers device administration routes on the given router.
func DeviceRouter(
	r chi.Router,
	deviceService *services.DeviceService,
	userService *services.UserService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewDeviceHandler(deviceService, userService)

	r.Use(authMiddleware, requireAdmin(userService))
	r.Get("/", handler.ListDevices)
	r.Post("/", handler.CreateDevice)
	r.Route("/{deviceID}", func(r chi.Router) {
		r.Get("/", handler.GetDevice)
		r.Patch("/", handler.UpdateDevice)
		r.Delete("/", handler.DeleteDevice)
	})
}

func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	_, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f, err := parseFilter(store.DeviceSchema, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.deviceService.List(r.Context(), f, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, list)
}

func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	device, err := h.deviceService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch device")
		return
	}

	writeJSON(w, http.StatusOK, device)
}

func (h *DeviceHandler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var req DeviceCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.DeviceKey = strings.TrimSpace(req.DeviceKey)
	if req.DeviceKey == "" || req.UserID < 1 {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	device := types.Device{
		UserID:    req.UserID,
		DeviceKey: req.DeviceKey,
		Name:      req.Name,
	}
	if err := h.deviceService.Create(r.Context(), &device); err != nil {
		var integrity *store.IntegrityError
		if errors.As(err, &integrity) {
			writeError(w, http.StatusConflict, "device already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create device")
		return
	}

	writeJSON(w, http.StatusCreated, device)
}

func (h *DeviceHandler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	patch, err := decodePatch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	device, err := h.deviceService.Update(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, device)
}

func (h *DeviceHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.deviceService.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type DeviceCreateRequest struct {
	UserID    int64   `json:"user_id"`
	DeviceKey string  `json:"device"`
	Name      *string `json:"name"`
}
