package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptgrid/libs/httpx"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/storage"
)

const (
	maxServiceMinutes = 720
	maxServiceNameLen = 200
)

type ServiceStore interface {
	CreateService(ctx context.Context, svc model.Service) (model.Service, error)
	GetService(ctx context.Context, id string) (model.Service, error)
	ListServices(ctx context.Context, providerID string) ([]model.Service, error)
	UpdateService(ctx context.Context, providerID, id string, patch storage.ServicePatch) (model.Service, error)
	ActivateService(ctx context.Context, providerID, id string) error
	DeactivateService(ctx context.Context, providerID, id string) error
}

type ServiceHandler struct {
	store  ServiceStore
	cache  SlotCache
	logger *slog.Logger
	newID  func() string
}

func NewServiceHandler(store ServiceStore, cache SlotCache, logger *slog.Logger) *ServiceHandler {
	return &ServiceHandler{store: store, cache: cache, logger: logger, newID: uuid.NewString}
}

func validServiceName(name string) bool {
	return name != "" && len(name) <= maxServiceNameLen
}

func validServiceMinutes(n int) bool {
	return n >= 1 && n <= maxServiceMinutes
}

type createServiceRequest struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

type serviceIDRequest struct {
	ServiceID string `json:"service_id"`
}

type updateServiceRequest struct {
	ServiceID       string  `json:"service_id"`
	Name            *string `json:"name"`
	DurationMinutes *int    `json:"duration_minutes"`
}

func (h *ServiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	provider := providerID(r)
	if provider == "" {
		httpx.WriteError(w, http.StatusUnauthorized, errMissingCaller.Error())
		return
	}
	var req createServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if !validServiceName(name) {
		httpx.WriteError(w, http.StatusBadRequest, "name required (max 200 characters)")
		return
	}
	if !validServiceMinutes(req.DurationMinutes) {
		httpx.WriteError(w, http.StatusBadRequest, "duration_minutes must be between 1 and 720")
		return
	}

	svc, err := h.store.CreateService(r.Context(), model.Service{
		ID:              h.newID(),
		ProviderID:      provider,
		Name:            name,
		DurationMinutes: req.DurationMinutes,
		Active:          true,
	})
	if err != nil {
		h.logger.Error("failed to create service", "err", err, "provider_id", provider)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create service")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toServiceItem(svc))
}

func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	provider := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if provider == "" {
		provider = providerID(r)
	}
	if provider == "" {
		httpx.WriteError(w, http.StatusBadRequest, "provider_id required")
		return
	}
	services, err := h.store.ListServices(r.Context(), provider)
	if err != nil {
		h.logger.Error("failed to list services", "err", err, "provider_id", provider)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list services")
		return
	}
	items := make([]serviceItem, 0, len(services))
	for _, s := range services {
		items = append(items, toServiceItem(s))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *ServiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r.PathValue("id"))
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "service id must be a UUID")
		return
	}
	svc, err := h.store.GetService(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "service not found")
			return
		}
		h.logger.Error("failed to load service", "err", err, "service_id", id)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load service")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toServiceItem(svc))
}

// Update changes name and/or duration. Slot lists for the provider are dropped because busy
// flags depend on the duration.
func (h *ServiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	provider := providerID(r)
	if provider == "" {
		httpx.WriteError(w, http.StatusUnauthorized, errMissingCaller.Error())
		return
	}
	var req updateServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	id, ok := parseID(req.ServiceID)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "service_id must be a UUID")
		return
	}
	patch := storage.ServicePatch{DurationMinutes: req.DurationMinutes}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if !validServiceName(name) {
			httpx.WriteError(w, http.StatusBadRequest, "name required (max 200 characters)")
			return
		}
		patch.Name = &name
	}
	if req.DurationMinutes != nil && !validServiceMinutes(*req.DurationMinutes) {
		httpx.WriteError(w, http.StatusBadRequest, "duration_minutes must be between 1 and 720")
		return
	}
	if patch.Name == nil && patch.DurationMinutes == nil {
		httpx.WriteError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	svc, err := h.store.UpdateService(r.Context(), provider, id, patch)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "service not found")
			return
		}
		h.logger.Error("failed to update service", "err", err, "service_id", id)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to update service")
		return
	}
	if patch.DurationMinutes != nil {
		h.cache.InvalidateProvider(r.Context(), provider)
	}
	httpx.WriteJSON(w, http.StatusOK, toServiceItem(svc))
}

func (h *ServiceHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *ServiceHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *ServiceHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	provider := providerID(r)
	if provider == "" {
		httpx.WriteError(w, http.StatusUnauthorized, errMissingCaller.Error())
		return
	}
	var req serviceIDRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	id, ok := parseID(req.ServiceID)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "service_id must be a UUID")
		return
	}
	change := h.store.DeactivateService
	if active {
		change = h.store.ActivateService
	}
	if err := change(r.Context(), provider, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "service not found")
			return
		}
		h.logger.Error("failed to change service state", "err", err, "service_id", id, "active", active)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to update service")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"service_id": id, "active": active})
}
