package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/storage"
)

// memStore is an in-memory stand-in for storage.Repository.
type memStore struct {
	mu           sync.Mutex
	services     map[string]model.Service
	schedules    []model.WeeklySchedule
	appointments []model.Appointment
	blackouts    []model.BlackoutWindow
}

func newMemStore() *memStore {
	return &memStore{services: map[string]model.Service{}}
}

func (s *memStore) CreateService(_ context.Context, svc model.Service) (model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = svc
	return svc, nil
}

func (s *memStore) GetService(_ context.Context, id string) (model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok {
		return model.Service{}, storage.ErrNotFound
	}
	return svc, nil
}

func (s *memStore) ListServices(_ context.Context, providerID string) ([]model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Service
	for _, svc := range s.services {
		if svc.ProviderID == providerID {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (s *memStore) setActive(providerID, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok || svc.ProviderID != providerID {
		return storage.ErrNotFound
	}
	svc.Active = active
	s.services[id] = svc
	return nil
}

func (s *memStore) DeactivateService(_ context.Context, providerID, id string) error {
	return s.setActive(providerID, id, false)
}

func (s *memStore) ActivateService(_ context.Context, providerID, id string) error {
	return s.setActive(providerID, id, true)
}

func (s *memStore) UpdateService(_ context.Context, providerID, id string, patch storage.ServicePatch) (model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok || svc.ProviderID != providerID {
		return model.Service{}, storage.ErrNotFound
	}
	if patch.Name != nil {
		svc.Name = *patch.Name
	}
	if patch.DurationMinutes != nil {
		svc.DurationMinutes = *patch.DurationMinutes
	}
	s.services[id] = svc
	return svc, nil
}

func (s *memStore) ListSchedules(_ context.Context, providerID string) ([]model.WeeklySchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WeeklySchedule
	for _, row := range s.schedules {
		if row.ProviderID == providerID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memStore) hasWeekday(providerID string, wd time.Weekday) bool {
	for _, row := range s.schedules {
		if row.ProviderID == providerID && row.Weekday == wd {
			return true
		}
	}
	return false
}

func (s *memStore) CreateSchedules(_ context.Context, providerID string, rows []model.WeeklySchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if s.hasWeekday(providerID, row.Weekday) {
			return storage.ErrAlreadyExists
		}
	}
	s.schedules = append(s.schedules, rows...)
	return nil
}

func (s *memStore) AddScheduleDays(_ context.Context, providerID string, weekdays []time.Weekday, newID func() string) ([]model.WeeklySchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tmpl *model.WeeklySchedule
	for i := range s.schedules {
		if s.schedules[i].ProviderID == providerID {
			tmpl = &s.schedules[i]
			break
		}
	}
	if tmpl == nil {
		return nil, storage.ErrNotFound
	}
	var rows []model.WeeklySchedule
	for _, wd := range weekdays {
		if s.hasWeekday(providerID, wd) {
			return nil, storage.ErrAlreadyExists
		}
		row := *tmpl
		row.ID = newID()
		row.Weekday = wd
		rows = append(rows, row)
	}
	s.schedules = append(s.schedules, rows...)
	return rows, nil
}

func (s *memStore) upcoming(providerID string, today clock.Date) []model.Appointment {
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.ProviderID == providerID && !a.Date.Before(today) {
			out = append(out, a)
		}
	}
	return out
}

func (s *memStore) UpdateScheduleHours(_ context.Context, providerID string, start, end clock.TimeOfDay, today clock.Date, guard storage.FutureGuard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if guard(s.upcoming(providerID, today)) {
		return storage.ErrHasFutureBookings
	}
	found := false
	for i := range s.schedules {
		if s.schedules[i].ProviderID == providerID {
			s.schedules[i].DayStart, s.schedules[i].DayEnd = start, end
			found = true
		}
	}
	if !found {
		return storage.ErrNotFound
	}
	return nil
}

func (s *memStore) DeleteScheduleDay(_ context.Context, providerID string, weekday time.Weekday, today clock.Date, guard storage.FutureGuard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if guard(s.upcoming(providerID, today)) {
		return storage.ErrHasFutureBookings
	}
	for i, row := range s.schedules {
		if row.ProviderID == providerID && row.Weekday == weekday {
			s.schedules = append(s.schedules[:i], s.schedules[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *memStore) DayAppointments(_ context.Context, providerID string, d clock.Date) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.ProviderID == providerID && a.Date == d {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) ClientAppointments(_ context.Context, clientID string) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.ClientID == clientID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) ProviderAppointments(_ context.Context, providerID string) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.ProviderID == providerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) blackoutsFor(providerID string, d *clock.Date) []model.BlackoutWindow {
	var out []model.BlackoutWindow
	for _, b := range s.blackouts {
		if b.ProviderID != providerID {
			continue
		}
		if d != nil && !b.AppliesTo(*d) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func (s *memStore) ListBlackouts(_ context.Context, providerID string, d *clock.Date) ([]model.BlackoutWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blackoutsFor(providerID, d), nil
}

func (s *memStore) CreateBlackout(_ context.Context, w model.BlackoutWindow) (model.BlackoutWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, clash := availability.ConflictingBlackout(w, s.blackoutsFor(w.ProviderID, nil)); clash {
		return model.BlackoutWindow{}, storage.ErrOverlappingBlackout
	}
	s.blackouts = append(s.blackouts, w)
	return w, nil
}

func (s *memStore) DeleteBlackout(_ context.Context, providerID, id string) (model.BlackoutWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.blackouts {
		if b.ID == id && b.ProviderID == providerID {
			s.blackouts = append(s.blackouts[:i], s.blackouts[i+1:]...)
			return b, nil
		}
	}
	return model.BlackoutWindow{}, storage.ErrNotFound
}

func (s *memStore) Book(_ context.Context, appt model.Appointment, decide func(booking.Day) booking.Decision) (booking.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := booking.Day{Blackouts: s.blackoutsFor(appt.ProviderID, &appt.Date)}
	for _, row := range s.schedules {
		if row.ProviderID == appt.ProviderID && row.Weekday == appt.Date.Weekday() {
			day.Schedules = append(day.Schedules, row)
		}
	}
	for _, a := range s.appointments {
		if a.ProviderID == appt.ProviderID && a.Date == appt.Date {
			day.Appointments = append(day.Appointments, a)
		}
	}
	d := decide(day)
	if d.Approved {
		s.appointments = append(s.appointments, appt)
	}
	return d, nil
}

func (s *memStore) Cancel(_ context.Context, appointmentID, clientID string, decide func(model.Appointment) booking.Decision) (model.Appointment, booking.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.appointments {
		if a.ID != appointmentID {
			continue
		}
		if a.ClientID != clientID {
			return model.Appointment{}, booking.Decision{}, storage.ErrForbidden
		}
		d := decide(a)
		if d.Approved {
			s.appointments = append(s.appointments[:i], s.appointments[i+1:]...)
		}
		return a, d, nil
	}
	return model.Appointment{}, booking.Decision{}, storage.ErrNotFound
}

// memCache mirrors cache.SlotCache: entries live under a per-provider generation that
// InvalidateProvider bumps.
type memCache struct {
	mu          sync.Mutex
	gens        map[string]int64
	entries     map[string][]booking.Slot
	invalidated []string
}

func newMemCache() *memCache {
	return &memCache{gens: map[string]int64{}, entries: map[string][]booking.Slot{}}
}

func cacheKey(providerID string, gen int64, d clock.Date, serviceID string) string {
	return fmt.Sprintf("%s|%d|%s|%s", providerID, gen, d, serviceID)
}

func (c *memCache) Get(_ context.Context, providerID string, d clock.Date, serviceID string) ([]booking.Slot, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.gens[providerID]
	slots, ok := c.entries[cacheKey(providerID, gen, d, serviceID)]
	return slots, gen, ok
}

func (c *memCache) Set(_ context.Context, providerID string, d clock.Date, serviceID string, gen int64, slots []booking.Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(providerID, gen, d, serviceID)] = slots
}

func (c *memCache) InvalidateProvider(_ context.Context, providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[providerID]++
	c.invalidated = append(c.invalidated, providerID)
}

// apiStore is everything the handlers read and write.
type apiStore interface {
	AppointmentStore
	ScheduleStore
	BlackoutStore
	ServiceStore
	scheduling.Source
}

// interleavedStore runs during once, inside the first ListBlackouts call, after the slot query
// has already read the day's appointments.
type interleavedStore struct {
	*memStore
	once   sync.Once
	during func()
}

func (s *interleavedStore) ListBlackouts(ctx context.Context, providerID string, d *clock.Date) ([]model.BlackoutWindow, error) {
	if s.during != nil {
		s.once.Do(s.during)
	}
	return s.memStore.ListBlackouts(ctx, providerID, d)
}
