package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptgrid/libs/httpx"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/storage"
)

const maxGranularityMinutes = 720

type ScheduleStore interface {
	CreateSchedules(ctx context.Context, providerID string, rows []model.WeeklySchedule) error
	AddScheduleDays(ctx context.Context, providerID string, weekdays []time.Weekday, newID func() string) ([]model.WeeklySchedule, error)
	UpdateScheduleHours(ctx context.Context, providerID string, start, end clock.TimeOfDay, today clock.Date, guard storage.FutureGuard) error
	DeleteScheduleDay(ctx context.Context, providerID string, weekday time.Weekday, today clock.Date, guard storage.FutureGuard) error
}

type ScheduleHandler struct {
	store     ScheduleStore
	schedules scheduling.Provider
	engine    *booking.Engine
	cache     SlotCache
	logger    *slog.Logger
	newID     func() string
}

func NewScheduleHandler(store ScheduleStore, schedules scheduling.Provider, engine *booking.Engine, cache SlotCache, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		store:     store,
		schedules: schedules,
		engine:    engine,
		cache:     cache,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

type createScheduleRequest struct {
	Weekdays           []int  `json:"weekdays"`
	DayStart           string `json:"day_start"`
	DayEnd             string `json:"day_end"`
	GranularityMinutes int    `json:"granularity_minutes"`
}

type addDaysRequest struct {
	Weekdays []int `json:"weekdays"`
}

type updateHoursRequest struct {
	DayStart string `json:"day_start"`
	DayEnd   string `json:"day_end"`
}

func parseWeekdays(raw []int) ([]time.Weekday, error) {
	if len(raw) == 0 {
		return nil, errors.New("weekdays required")
	}
	seen := make(map[int]bool, len(raw))
	out := make([]time.Weekday, 0, len(raw))
	for _, d := range raw {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("weekday %d out of range 0..6", d)
		}
		if seen[d] {
			return nil, fmt.Errorf("weekday %d listed twice", d)
		}
		seen[d] = true
		out = append(out, time.Weekday(d))
	}
	return out, nil
}

func parseHours(rawStart, rawEnd string) (clock.TimeOfDay, clock.TimeOfDay, error) {
	start, err := clock.ParseTimeOfDay(strings.TrimSpace(rawStart))
	if err != nil {
		return 0, 0, fmt.Errorf("day_start: %w", err)
	}
	end, err := clock.ParseTimeOfDay(strings.TrimSpace(rawEnd))
	if err != nil {
		return 0, 0, fmt.Errorf("day_end: %w", err)
	}
	if start >= end {
		return 0, 0, errors.New("day_start must be before day_end")
	}
	return start, end, nil
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	provider := providerID(r)
	if provider == "" {
		httpx.WriteError(w, http.StatusUnauthorized, errMissingCaller.Error())
		return
	}
	var req createScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	weekdays, err := parseWeekdays(req.Weekdays)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := parseHours(req.DayStart, req.DayEnd)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.GranularityMinutes < 1 || req.GranularityMinutes > maxGranularityMinutes {
		httpx.WriteError(w, http.StatusBadRequest, fmt.Sprintf("granularity_minutes must be between 1 and %d", maxGranularityMinutes))
		return
	}

	rows := make([]model.WeeklySchedule, 0, len(weekdays))
	for _, wd := range weekdays {
		rows = append(rows, model.WeeklySchedule{
			ID:                 h.newID(),
			ProviderID:         provider,
			Weekday:            wd,
			DayStart:           start,
			DayEnd:             end,
			GranularityMinutes: req.GranularityMinutes,
		})
	}
	if err := h.store.CreateSchedules(r.Context(), provider, rows); err != nil {
		h.writeStoreError(w, err, provider)
		return
	}
	h.invalidate(r.Context(), provider)
	httpx.WriteJSON(w, http.StatusCreated, toScheduleItems(rows))
}

func (h *ScheduleHandler) AddDays(w http.ResponseWriter, r *http.Request) {
	provider := providerID(r)
	if provider == "" {
		httpx.WriteError(w, http.StatusUnauthorized, errMissingCaller.Error())
		return
	}
	var req addDaysRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	weekdays, err := parseWeekdays(req.Weekdays)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.store.AddScheduleDays(r.Context(), provider, weekdays, h.newID)
	if err != nil {
		h.writeStoreError(w, err, provider)
		return
	}
	h.invalidate(r.Context(), provider)
	httpx.WriteJSON(w, http.StatusCreated, toScheduleItems(rows))
}

func (h *ScheduleHandler) UpdateHours(w http.ResponseWriter, r *http.Request) {
	provider := providerID(r)
	if provider == "" {
		httpx.WriteError(w, http.StatusUnauthorized, errMissingCaller.Error())
		return
	}
	var req updateHoursRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	start, end, err := parseHours(req.DayStart, req.DayEnd)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	today := h.engine.Zone().Today(h.engine.Now())
	guard := func(appts []model.Appointment) bool {
		return h.engine.HasFutureAppointment(appts, nil)
	}
	if err := h.store.UpdateScheduleHours(r.Context(), provider, start, end, today, guard); err != nil {
		h.writeStoreError(w, err, provider)
		return
	}
	h.invalidate(r.Context(), provider)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"day_start": start.String(), "day_end": end.String()})
}

func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	provider := providerID(r)
	if provider == "" {
		httpx.WriteError(w, http.StatusUnauthorized, errMissingCaller.Error())
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("weekday")))
	if err != nil || n < 0 || n > 6 {
		httpx.WriteError(w, http.StatusBadRequest, "weekday must be an integer 0..6")
		return
	}
	weekday := time.Weekday(n)
	today := h.engine.Zone().Today(h.engine.Now())
	guard := func(appts []model.Appointment) bool {
		return h.engine.HasFutureAppointment(appts, &weekday)
	}
	if err := h.store.DeleteScheduleDay(r.Context(), provider, weekday, today, guard); err != nil {
		h.writeStoreError(w, err, provider)
		return
	}
	h.invalidate(r.Context(), provider)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	provider := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if provider == "" {
		provider = providerID(r)
	}
	if provider == "" {
		httpx.WriteError(w, http.StatusBadRequest, "provider_id required")
		return
	}
	rows, err := h.schedules.WeeklySchedules(r.Context(), provider)
	if err != nil {
		h.logger.Error("failed to list schedules", "err", err, "provider_id", provider)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toScheduleItems(rows))
}

func (h *ScheduleHandler) invalidate(ctx context.Context, provider string) {
	h.schedules.Invalidate(provider)
	h.cache.InvalidateProvider(ctx, provider)
}

func (h *ScheduleHandler) writeStoreError(w http.ResponseWriter, err error, provider string) {
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		httpx.WriteError(w, http.StatusConflict, "weekday already scheduled")
	case errors.Is(err, storage.ErrHasFutureBookings):
		httpx.WriteError(w, http.StatusConflict, "future appointments depend on this schedule")
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "schedule not found")
	default:
		h.logger.Error("schedule change failed", "err", err, "provider_id", provider)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to update schedule")
	}
}
