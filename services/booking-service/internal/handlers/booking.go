package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptgrid/libs/httpx"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/storage"
)

type AppointmentStore interface {
	GetService(ctx context.Context, id string) (model.Service, error)
	DayAppointments(ctx context.Context, providerID string, d clock.Date) ([]model.Appointment, error)
	ListBlackouts(ctx context.Context, providerID string, d *clock.Date) ([]model.BlackoutWindow, error)
	Book(ctx context.Context, appt model.Appointment, decide func(booking.Day) booking.Decision) (booking.Decision, error)
	Cancel(ctx context.Context, appointmentID, clientID string, decide func(model.Appointment) booking.Decision) (model.Appointment, booking.Decision, error)
	ClientAppointments(ctx context.Context, clientID string) ([]model.Appointment, error)
	ProviderAppointments(ctx context.Context, providerID string) ([]model.Appointment, error)
}

// SlotCache stores rendered slot lists. Get reports the generation it looked under; Set must be
// given that generation so a list rendered before an invalidation is never served.
type SlotCache interface {
	Get(ctx context.Context, providerID string, d clock.Date, serviceID string) ([]booking.Slot, int64, bool)
	Set(ctx context.Context, providerID string, d clock.Date, serviceID string, gen int64, slots []booking.Slot)
	InvalidateProvider(ctx context.Context, providerID string)
}

type BookingHandler struct {
	store     AppointmentStore
	schedules scheduling.Provider
	engine    *booking.Engine
	cache     SlotCache
	metrics   *metrics.Metrics
	logger    *slog.Logger
	newID     func() string
}

func NewBookingHandler(store AppointmentStore, schedules scheduling.Provider, engine *booking.Engine, cache SlotCache, m *metrics.Metrics, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		store:     store,
		schedules: schedules,
		engine:    engine,
		cache:     cache,
		metrics:   m,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

type createAppointmentRequest struct {
	ServiceID string `json:"service_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
}

type createAppointmentResponse struct {
	Approved    bool            `json:"approved"`
	Appointment appointmentItem `json:"appointment"`
}

type cancelAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type cancelAppointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	Cancelled     bool   `json:"cancelled"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller := clientID(r)
	if caller == "" {
		httpx.WriteError(w, http.StatusUnauthorized, errMissingCaller.Error())
		return
	}

	var req createAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	serviceID, ok := parseID(req.ServiceID)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "service_id must be a UUID")
		return
	}
	date, err := clock.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	tod, err := clock.ParseTimeOfDay(strings.TrimSpace(req.Time))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	svc, ok := h.activeService(ctx, w, serviceID)
	if !ok {
		return
	}

	bookReq := booking.Request{ClientID: caller, ServiceID: svc.ID, Date: date, Time: tod}
	appt := h.engine.NewAppointment(h.newID(), bookReq, svc)

	started := time.Now()
	decision, err := h.store.Book(ctx, appt, func(day booking.Day) booking.Decision {
		return h.engine.Validate(bookReq, svc, day)
	})
	if err != nil {
		h.logger.Error("booking failed", "err", err, "provider_id", svc.ProviderID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to book appointment")
		return
	}
	h.metrics.RecordDecision(ctx, decision, float64(time.Since(started).Microseconds())/1000)
	h.logger.Info("booking decision",
		"provider_id", svc.ProviderID,
		"date", date.String(),
		"time", tod.String(),
		"approved", decision.Approved,
		"reason", string(decision.Reason),
		"stage", decision.Stage.String(),
	)
	if !decision.Approved {
		writeRejection(w, decision)
		return
	}

	h.cache.InvalidateProvider(ctx, svc.ProviderID)
	httpx.WriteJSON(w, http.StatusCreated, createAppointmentResponse{
		Approved:    true,
		Appointment: toAppointmentItem(h.engine.Zone(), appt),
	})
}

func (h *BookingHandler) activeService(ctx context.Context, w http.ResponseWriter, id string) (model.Service, bool) {
	svc, err := h.store.GetService(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "service not found")
			return model.Service{}, false
		}
		h.logger.Error("failed to load service", "err", err, "service_id", id)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load service")
		return model.Service{}, false
	}
	if !svc.Active {
		httpx.WriteError(w, http.StatusNotFound, "service not found")
		return model.Service{}, false
	}
	return svc, true
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller := clientID(r)
	if caller == "" {
		httpx.WriteError(w, http.StatusUnauthorized, errMissingCaller.Error())
		return
	}
	var req cancelAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	id, ok := parseID(req.AppointmentID)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "appointment_id must be a UUID")
		return
	}

	ctx := r.Context()
	appt, decision, err := h.store.Cancel(ctx, id, caller, h.engine.CheckCancellation)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "appointment not found")
		return
	case errors.Is(err, storage.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "appointment belongs to another client")
		return
	case err != nil:
		h.logger.Error("cancel failed", "err", err, "appointment_id", id)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to cancel appointment")
		return
	}
	h.metrics.RecordCancellation(ctx, decision)
	if !decision.Approved {
		writeRejection(w, decision)
		return
	}

	h.cache.InvalidateProvider(ctx, appt.ProviderID)
	httpx.WriteJSON(w, http.StatusOK, cancelAppointmentResponse{AppointmentID: appt.ID, Cancelled: true})
}

// List returns the caller's appointments. A provider header takes precedence over a client header.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := booking.ParseScope(strings.TrimSpace(r.URL.Query().Get("scope")))
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "scope must be one of all, upcoming, today")
		return
	}

	var (
		appts []model.Appointment
		err   error
	)
	switch {
	case providerID(r) != "":
		appts, err = h.store.ProviderAppointments(r.Context(), providerID(r))
	case clientID(r) != "":
		appts, err = h.store.ClientAppointments(r.Context(), clientID(r))
	default:
		httpx.WriteError(w, http.StatusUnauthorized, errMissingCaller.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to list appointments", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}

	selected := h.engine.Select(appts, scope)
	items := make([]appointmentItem, 0, len(selected))
	for _, a := range selected {
		items = append(items, toAppointmentItem(h.engine.Zone(), a))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

// Slots is public: anyone may look at a provider's day.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := strings.TrimSpace(q.Get("provider_id"))
	if provider == "" {
		httpx.WriteError(w, http.StatusBadRequest, "provider_id required")
		return
	}
	date, err := clock.ParseDate(strings.TrimSpace(q.Get("date")))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	serviceID := ""
	duration := 0
	if raw := strings.TrimSpace(q.Get("service_id")); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			httpx.WriteError(w, http.StatusBadRequest, "service_id must be a UUID")
			return
		}
		svc, ok := h.activeService(ctx, w, id)
		if !ok {
			return
		}
		if svc.ProviderID != provider {
			httpx.WriteError(w, http.StatusNotFound, "service not found")
			return
		}
		serviceID = svc.ID
		duration = svc.DurationMinutes
	}

	slots, gen, ok := h.cache.Get(ctx, provider, date, serviceID)
	if ok {
		h.metrics.RecordSlotQuery(ctx, true)
		httpx.WriteJSON(w, http.StatusOK, slots)
		return
	}
	h.metrics.RecordSlotQuery(ctx, false)

	schedules, err := h.schedules.WeeklySchedules(ctx, provider)
	if err != nil {
		h.logger.Error("failed to load schedules", "err", err, "provider_id", provider)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	appts, err := h.store.DayAppointments(ctx, provider, date)
	if err != nil {
		h.logger.Error("failed to load appointments", "err", err, "provider_id", provider)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load appointments")
		return
	}
	windows, err := h.store.ListBlackouts(ctx, provider, &date)
	if err != nil {
		h.logger.Error("failed to load blackouts", "err", err, "provider_id", provider)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load blackouts")
		return
	}

	slots = h.engine.DaySlots(provider, date, booking.Day{
		Schedules:    schedules,
		Appointments: appts,
		Blackouts:    windows,
	}, duration)
	h.cache.Set(ctx, provider, date, serviceID, gen, slots)
	httpx.WriteJSON(w, http.StatusOK, slots)
}
