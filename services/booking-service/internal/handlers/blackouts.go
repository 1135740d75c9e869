package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptgrid/libs/httpx"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/storage"
)

type BlackoutStore interface {
	ListBlackouts(ctx context.Context, providerID string, d *clock.Date) ([]model.BlackoutWindow, error)
	CreateBlackout(ctx context.Context, w model.BlackoutWindow) (model.BlackoutWindow, error)
	DeleteBlackout(ctx context.Context, providerID, id string) (model.BlackoutWindow, error)
}

type BlackoutHandler struct {
	store  BlackoutStore
	cache  SlotCache
	logger *slog.Logger
	newID  func() string
}

func NewBlackoutHandler(store BlackoutStore, cache SlotCache, logger *slog.Logger) *BlackoutHandler {
	return &BlackoutHandler{store: store, cache: cache, logger: logger, newID: uuid.NewString}
}

type createBlackoutRequest struct {
	Date   string `json:"date"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason"`
}

func (h *BlackoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	provider := providerID(r)
	if provider == "" {
		httpx.WriteError(w, http.StatusUnauthorized, errMissingCaller.Error())
		return
	}
	var req createBlackoutRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	window := model.BlackoutWindow{
		ID:         h.newID(),
		ProviderID: provider,
		Reason:     strings.TrimSpace(req.Reason),
	}
	if window.Reason == "" {
		window.Reason = model.DefaultBlackoutReason
	}
	if raw := strings.TrimSpace(req.Date); raw != "" {
		d, err := clock.ParseDate(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		window.Date = &d
	}
	var err error
	if window.Start, err = clock.ParseTimeOfDay(strings.TrimSpace(req.Start)); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	if window.End, err = clock.ParseTimeOfDay(strings.TrimSpace(req.End)); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "end: "+err.Error())
		return
	}
	if window.Start >= window.End {
		httpx.WriteError(w, http.StatusBadRequest, "start must be before end")
		return
	}

	created, err := h.store.CreateBlackout(r.Context(), window)
	if err != nil {
		if errors.Is(err, storage.ErrOverlappingBlackout) {
			httpx.WriteError(w, http.StatusConflict, "blackout overlaps an existing window")
			return
		}
		h.logger.Error("failed to create blackout", "err", err, "provider_id", provider)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create blackout")
		return
	}
	h.cache.InvalidateProvider(r.Context(), provider)
	httpx.WriteJSON(w, http.StatusCreated, toBlackoutItem(created))
}

func (h *BlackoutHandler) Delete(w http.ResponseWriter, r *http.Request) {
	provider := providerID(r)
	if provider == "" {
		httpx.WriteError(w, http.StatusUnauthorized, errMissingCaller.Error())
		return
	}
	id, ok := parseID(r.URL.Query().Get("id"))
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	if _, err := h.store.DeleteBlackout(r.Context(), provider, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "blackout not found")
			return
		}
		h.logger.Error("failed to delete blackout", "err", err, "provider_id", provider)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to delete blackout")
		return
	}
	h.cache.InvalidateProvider(r.Context(), provider)
	w.WriteHeader(http.StatusNoContent)
}

func (h *BlackoutHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := strings.TrimSpace(q.Get("provider_id"))
	if provider == "" {
		provider = providerID(r)
	}
	if provider == "" {
		httpx.WriteError(w, http.StatusBadRequest, "provider_id required")
		return
	}
	var date *clock.Date
	if raw := strings.TrimSpace(q.Get("date")); raw != "" {
		d, err := clock.ParseDate(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		date = &d
	}
	windows, err := h.store.ListBlackouts(r.Context(), provider, date)
	if err != nil {
		h.logger.Error("failed to list blackouts", "err", err, "provider_id", provider)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list blackouts")
		return
	}
	items := make([]blackoutItem, 0, len(windows))
	for _, b := range windows {
		items = append(items, toBlackoutItem(b))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}
