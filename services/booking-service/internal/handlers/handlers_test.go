package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/scheduling"
)

const (
	testProvider = "prov-1"
	testClient   = "client-1"
	mondayDate   = "2026-03-02"
)

type testAPI struct {
	cache *memCache
	mux   *http.ServeMux
}

// newTestAPI serves the full route table at 2026-03-01T12:00Z in UTC-3.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPIWith(t, newMemStore())
}

func newTestAPIWith(t *testing.T, store apiStore) *testAPI {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := booking.NewEngine(clock.NewZone(-3), booking.WithClock(func() time.Time { return now }))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	slotCache := newMemCache()
	schedules := scheduling.NewProvider(store, 16, time.Minute)

	mux := http.NewServeMux()
	b := NewBookingHandler(store, schedules, engine, slotCache, nil, logger)
	Register(mux,
		b,
		NewScheduleHandler(store, schedules, engine, slotCache, logger),
		NewBlackoutHandler(store, slotCache, logger),
		NewServiceHandler(store, slotCache, logger),
	)
	RegisterPublic(mux, b)
	return &testAPI{cache: slotCache, mux: mux}
}

func (a *testAPI) do(t *testing.T, method, target string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func asProvider() map[string]string { return map[string]string{HeaderProviderID: testProvider} }

func asClient(id string) map[string]string { return map[string]string{HeaderUserID: id} }

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seed creates a 30 minute service and a Monday 08:00-18:00 schedule on a 30 minute grid.
func (a *testAPI) seed(t *testing.T) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/services", asProvider(), map[string]any{
		"name": "Consultation", "duration_minutes": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	svc := decode[serviceItem](t, rec)

	rec = a.do(t, http.MethodPost, "/api/v1/schedules", asProvider(), map[string]any{
		"weekdays": []int{1}, "day_start": "08:00", "day_end": "18:00", "granularity_minutes": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return svc.ID
}

func (a *testAPI) book(t *testing.T, client, serviceID, date, at string) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, http.MethodPost, "/api/v1/appointments", asClient(client), map[string]any{
		"service_id": serviceID, "date": date, "time": at,
	})
}

func (a *testAPI) slots(t *testing.T, query string) []booking.Slot {
	t.Helper()
	rec := a.do(t, http.MethodGet, "/api/v1/public/slots?provider_id="+testProvider+"&date="+mondayDate+query, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[[]booking.Slot](t, rec)
}

func slotAt(t *testing.T, slots []booking.Slot, at string) booking.Slot {
	t.Helper()
	for _, s := range slots {
		if s.Time.String() == at {
			return s
		}
	}
	require.FailNowf(t, "missing slot", "no slot at %s", at)
	return booking.Slot{}
}

func TestBookThenSlotBusyThenConflict(t *testing.T) {
	api := newTestAPI(t)
	serviceID := api.seed(t)

	before := api.slots(t, "")
	require.Len(t, before, 20)
	assert.False(t, slotAt(t, before, "09:30").Busy)

	rec := api.book(t, testClient, serviceID, mondayDate, "09:30")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[createAppointmentResponse](t, rec)
	assert.True(t, created.Approved)
	assert.Equal(t, testProvider, created.Appointment.ProviderID)
	assert.Equal(t, "2026-03-02T12:30:00Z", created.Appointment.StartAt)
	assert.Equal(t, "2026-03-02T13:00:00Z", created.Appointment.EndAt)
	assert.Contains(t, api.cache.invalidated, testProvider)

	after := api.slots(t, "")
	assert.True(t, slotAt(t, after, "09:30").Busy)
	assert.False(t, slotAt(t, after, "09:00").Busy)
	assert.False(t, slotAt(t, after, "10:00").Busy)

	rec = api.book(t, "client-2", serviceID, mondayDate, "09:30")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rej := decode[rejection](t, rec)
	assert.False(t, rej.Approved)
	assert.Equal(t, booking.AppointmentConflict, rej.Reason)
	assert.Equal(t, booking.AppointmentConflict.Message(), rej.Message)
}

func TestSlotsRenderedDuringABookingAreNotCached(t *testing.T) {
	store := &interleavedStore{memStore: newMemStore()}
	api := newTestAPIWith(t, store)
	serviceID := api.seed(t)

	bookStatus := 0
	store.during = func() {
		bookStatus = api.book(t, testClient, serviceID, mondayDate, "09:30").Code
	}

	// The first read began before the booking committed, so it may still show 09:30 free.
	api.slots(t, "")
	require.Equal(t, http.StatusCreated, bookStatus)

	assert.True(t, slotAt(t, api.slots(t, ""), "09:30").Busy)
	assert.True(t, slotAt(t, api.slots(t, ""), "09:30").Busy)
}

func TestSlotsWithServiceUseSpanOverlap(t *testing.T) {
	api := newTestAPI(t)
	serviceID := api.seed(t)

	rec := api.do(t, http.MethodPost, "/api/v1/services", asProvider(), map[string]any{
		"name": "Long", "duration_minutes": 60,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	long := decode[serviceItem](t, rec)

	require.Equal(t, http.StatusCreated, api.book(t, testClient, serviceID, mondayDate, "10:00").Code)

	slots := api.slots(t, "&service_id="+long.ID)
	assert.True(t, slotAt(t, slots, "09:30").Busy)
	assert.True(t, slotAt(t, slots, "10:00").Busy)
	assert.False(t, slotAt(t, slots, "09:00").Busy)
	assert.False(t, slotAt(t, slots, "10:30").Busy)
}

func TestCreateAppointmentRejections(t *testing.T) {
	api := newTestAPI(t)
	serviceID := api.seed(t)

	cases := []struct {
		name   string
		date   string
		at     string
		reason booking.Reason
	}{
		{"misaligned", mondayDate, "09:15", booking.MisalignedSlot},
		{"before opening", mondayDate, "07:30", booking.OutsideBusinessHours},
		{"runs past closing", mondayDate, "18:00", booking.OutsideBusinessHours},
		{"no schedule", "2026-03-03", "09:00", booking.NoScheduleForDay},
		{"past", "2026-02-23", "09:00", booking.PastDateTime},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.book(t, testClient, serviceID, tc.date, tc.at)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			assert.Equal(t, tc.reason, decode[rejection](t, rec).Reason)
		})
	}
}

func TestCreateAppointmentBadInput(t *testing.T) {
	api := newTestAPI(t)
	serviceID := api.seed(t)

	rec := api.book(t, testClient, serviceID, mondayDate, "9:30")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.book(t, testClient, serviceID, "2026-02-30", "09:30")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.book(t, testClient, "not-a-uuid", mondayDate, "09:30")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.book(t, testClient, "6f1c2f52-3f0e-4a55-9a43-0e5f7f7b1a10", mondayDate, "09:30")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/appointments", nil, map[string]any{
		"service_id": serviceID, "date": mondayDate, "time": "09:30",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInactiveServiceCannotBeBooked(t *testing.T) {
	api := newTestAPI(t)
	serviceID := api.seed(t)

	rec := api.do(t, http.MethodPost, "/api/v1/services/deactivate", asProvider(), map[string]any{"service_id": serviceID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.book(t, testClient, serviceID, mondayDate, "09:30")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelAppointment(t *testing.T) {
	api := newTestAPI(t)
	serviceID := api.seed(t)

	rec := api.book(t, testClient, serviceID, mondayDate, "09:30")
	require.Equal(t, http.StatusCreated, rec.Code)
	far := decode[createAppointmentResponse](t, rec).Appointment

	// 08:30 local is 11:30Z, less than a day after now.
	rec = api.book(t, testClient, serviceID, mondayDate, "08:30")
	require.Equal(t, http.StatusCreated, rec.Code)
	near := decode[createAppointmentResponse](t, rec).Appointment

	cancel := func(client, id string) *httptest.ResponseRecorder {
		return api.do(t, http.MethodPost, "/api/v1/appointments/cancel", asClient(client), map[string]any{"appointment_id": id})
	}

	assert.Equal(t, http.StatusForbidden, cancel("client-2", far.ID).Code)
	assert.Equal(t, http.StatusNotFound, cancel(testClient, "6f1c2f52-3f0e-4a55-9a43-0e5f7f7b1a10").Code)

	rec = cancel(testClient, near.ID)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, booking.CancellationTooLate, decode[rejection](t, rec).Reason)

	rec = cancel(testClient, far.ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[cancelAppointmentResponse](t, rec)
	assert.True(t, resp.Cancelled)
	assert.Equal(t, far.ID, resp.AppointmentID)

	assert.False(t, slotAt(t, api.slots(t, ""), "09:30").Busy)
	assert.True(t, slotAt(t, api.slots(t, ""), "08:30").Busy)
}

func TestListAppointmentsByScope(t *testing.T) {
	api := newTestAPI(t)
	serviceID := api.seed(t)
	require.Equal(t, http.StatusCreated, api.book(t, testClient, serviceID, mondayDate, "11:00").Code)
	require.Equal(t, http.StatusCreated, api.book(t, testClient, serviceID, mondayDate, "09:00").Code)
	require.Equal(t, http.StatusCreated, api.book(t, "client-2", serviceID, mondayDate, "10:00").Code)

	rec := api.do(t, http.MethodGet, "/api/v1/appointments?scope=upcoming", asClient(testClient), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]appointmentItem](t, rec)
	require.Len(t, items, 2)
	assert.Equal(t, "09:00", items[0].Time.String())
	assert.Equal(t, "11:00", items[1].Time.String())

	rec = api.do(t, http.MethodGet, "/api/v1/appointments", asProvider(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]appointmentItem](t, rec), 3)

	rec = api.do(t, http.MethodGet, "/api/v1/appointments?scope=today", asClient(testClient), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]appointmentItem](t, rec))

	rec = api.do(t, http.MethodGet, "/api/v1/appointments?scope=later", asClient(testClient), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleChanges(t *testing.T) {
	api := newTestAPI(t)
	serviceID := api.seed(t)

	rec := api.do(t, http.MethodPost, "/api/v1/schedules", asProvider(), map[string]any{
		"weekdays": []int{1}, "day_start": "09:00", "day_end": "17:00", "granularity_minutes": 15,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/schedules", asProvider(), map[string]any{
		"weekdays": []int{3, 3}, "day_start": "09:00", "day_end": "17:00", "granularity_minutes": 15,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/schedules", asProvider(), map[string]any{
		"weekdays": []int{3}, "day_start": "17:00", "day_end": "09:00", "granularity_minutes": 15,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/schedules/days", asProvider(), map[string]any{"weekdays": []int{2}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[[]scheduleItem](t, rec)
	require.Len(t, added, 1)
	assert.Equal(t, 2, added[0].Weekday)
	assert.Equal(t, "08:00", added[0].DayStart.String())

	rec = api.do(t, http.MethodGet, "/api/v1/schedules?provider_id="+testProvider, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]scheduleItem](t, rec), 2)

	require.Equal(t, http.StatusCreated, api.book(t, testClient, serviceID, mondayDate, "09:30").Code)

	rec = api.do(t, http.MethodPut, "/api/v1/schedules/hours", asProvider(), map[string]any{"day_start": "09:00", "day_end": "17:00"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/v1/schedules?weekday=1", asProvider(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/v1/schedules?weekday=2", asProvider(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/v1/schedules?weekday=5", asProvider(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/v1/schedules?weekday=9", asProvider(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateHoursWithoutBookings(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t)
	api.slots(t, "")

	rec := api.do(t, http.MethodPut, "/api/v1/schedules/hours", asProvider(), map[string]any{"day_start": "10:00", "day_end": "12:00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	slots := api.slots(t, "")
	require.Len(t, slots, 4)
	assert.Equal(t, "10:00", slots[0].Time.String())
}

func TestBlackouts(t *testing.T) {
	api := newTestAPI(t)
	serviceID := api.seed(t)

	rec := api.do(t, http.MethodPost, "/api/v1/blackouts", asProvider(), map[string]any{"start": "12:00", "end": "13:00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lunch := decode[blackoutItem](t, rec)
	assert.Nil(t, lunch.Date)
	assert.Equal(t, "Unavailable time", lunch.Reason)

	rec = api.do(t, http.MethodPost, "/api/v1/blackouts", asProvider(), map[string]any{"start": "12:30", "end": "14:00"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/blackouts", asProvider(), map[string]any{
		"date": mondayDate, "start": "15:00", "end": "15:30", "reason": "Dentist",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/blackouts", asProvider(), map[string]any{"start": "14:00", "end": "13:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	slots := api.slots(t, "")
	assert.True(t, slotAt(t, slots, "12:00").Blocked)
	assert.True(t, slotAt(t, slots, "12:30").Blocked)
	assert.True(t, slotAt(t, slots, "15:00").Blocked)
	assert.False(t, slotAt(t, slots, "13:00").Blocked)

	rec = api.book(t, testClient, serviceID, mondayDate, "12:30")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, booking.BlackoutConflict, decode[rejection](t, rec).Reason)

	rec = api.do(t, http.MethodGet, "/api/v1/blackouts?provider_id="+testProvider+"&date=2026-03-03", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]blackoutItem](t, rec), 1)

	rec = api.do(t, http.MethodDelete, "/api/v1/blackouts?id="+lunch.ID, asProvider(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(t, http.MethodDelete, "/api/v1/blackouts?id="+lunch.ID, asProvider(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, http.StatusCreated, api.book(t, testClient, serviceID, mondayDate, "12:30").Code)
}

func TestServices(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/services", asProvider(), map[string]any{"name": " ", "duration_minutes": 30})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(t, http.MethodPost, "/api/v1/services", asProvider(), map[string]any{"name": "Cut", "duration_minutes": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(t, http.MethodPost, "/api/v1/services", nil, map[string]any{"name": "Cut", "duration_minutes": 30})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	api.seed(t)
	rec = api.do(t, http.MethodGet, "/api/v1/services?provider_id="+testProvider, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]serviceItem](t, rec)
	require.Len(t, items, 1)
	assert.True(t, items[0].Active)
	assert.Equal(t, 30, items[0].DurationMinutes)

	rec = api.do(t, http.MethodPost, "/api/v1/services/deactivate", asProvider(), map[string]any{
		"service_id": "6f1c2f52-3f0e-4a55-9a43-0e5f7f7b1a10",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServiceReactivateAndUpdate(t *testing.T) {
	api := newTestAPI(t)
	serviceID := api.seed(t)

	rec := api.do(t, http.MethodPost, "/api/v1/services/deactivate", asProvider(), map[string]any{"service_id": serviceID})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusNotFound, api.book(t, testClient, serviceID, mondayDate, "09:30").Code)

	rec = api.do(t, http.MethodPost, "/api/v1/services/activate", asProvider(), map[string]any{"service_id": serviceID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, rec)["active"])
	require.Equal(t, http.StatusCreated, api.book(t, testClient, serviceID, mondayDate, "09:30").Code)

	rec = api.do(t, http.MethodPost, "/api/v1/services/activate", map[string]string{HeaderProviderID: "prov-2"}, map[string]any{"service_id": serviceID})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	api.slots(t, "&service_id="+serviceID)
	invalidations := len(api.cache.invalidated)
	rec = api.do(t, http.MethodPut, "/api/v1/services", asProvider(), map[string]any{
		"service_id": serviceID, "name": "  Extended  ", "duration_minutes": 60,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[serviceItem](t, rec)
	assert.Equal(t, "Extended", updated.Name)
	assert.Equal(t, 60, updated.DurationMinutes)
	assert.Len(t, api.cache.invalidated, invalidations+1)

	// 09:00 would now run into the 09:30 appointment.
	assert.True(t, slotAt(t, api.slots(t, "&service_id="+serviceID), "09:00").Busy)

	rec = api.do(t, http.MethodGet, "/api/v1/services/"+serviceID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Extended", decode[serviceItem](t, rec).Name)

	rec = api.do(t, http.MethodPut, "/api/v1/services", asProvider(), map[string]any{"service_id": serviceID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(t, http.MethodPut, "/api/v1/services", asProvider(), map[string]any{"service_id": serviceID, "duration_minutes": 721})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(t, http.MethodGet, "/api/v1/services/6f1c2f52-3f0e-4a55-9a43-0e5f7f7b1a10", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(t, http.MethodGet, "/api/v1/services/nope", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSlotsBadInput(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t)

	rec := api.do(t, http.MethodGet, "/api/v1/public/slots?date="+mondayDate, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(t, http.MethodGet, "/api/v1/public/slots?provider_id=x&date=03/02/2026", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/public/slots?provider_id=other&date=2026-03-02", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]booking.Slot](t, rec))
}
