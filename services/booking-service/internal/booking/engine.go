// Package booking decides whether an appointment may be booked or cancelled and renders a
// provider's day as a slot list. It never touches storage; callers pass in the rows they loaded.
package booking

import (
	"sort"
	"time"

	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
)

const DefaultCancelCutoff = 24 * time.Hour

type Request struct {
	ClientID  string
	ServiceID string
	Date      clock.Date
	Time      clock.TimeOfDay
}

// Day is everything known about one provider's calendar date.
type Day struct {
	Schedules    []model.WeeklySchedule
	Appointments []model.Appointment
	Blackouts    []model.BlackoutWindow
}

// Decision is the outcome of a validation. Stage is the last stage passed.
type Decision struct {
	Approved bool
	Reason   Reason
	Stage    Stage
	Start    time.Time
	End      time.Time
}

type Slot struct {
	Time    clock.TimeOfDay `json:"time"`
	Busy    bool            `json:"busy"`
	Blocked bool            `json:"blocked"`
}

type Engine struct {
	zone      clock.Zone
	now       func() time.Time
	cutoff    time.Duration
	blackouts availability.BlackoutResolver
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithCancelCutoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cutoff = d
		}
	}
}

func WithBlackoutMatch(mode availability.MatchMode) Option {
	return func(e *Engine) {
		e.blackouts = availability.NewBlackoutResolver(e.zone, mode)
	}
}

func NewEngine(zone clock.Zone, opts ...Option) *Engine {
	e := &Engine{
		zone:      zone,
		now:       time.Now,
		cutoff:    DefaultCancelCutoff,
		blackouts: availability.NewBlackoutResolver(zone, availability.MatchSpan),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Zone() clock.Zone { return e.zone }

func (e *Engine) Now() time.Time { return e.now().UTC() }

func (e *Engine) CancelCutoff() time.Duration { return e.cutoff }

// Validate runs the booking pipeline for req against svc on the loaded day.
func (e *Engine) Validate(req Request, svc model.Service, day Day) Decision {
	start := e.zone.Instant(req.Date, req.Time)
	end := start.Add(time.Duration(svc.DurationMinutes) * time.Minute)
	d := Decision{Stage: StageTimeNormalized, Start: start, End: end}

	if !start.After(e.Now()) {
		return d.reject(PastDateTime)
	}
	d.Stage = StageFutureChecked

	sched, ok := scheduleFor(svc.ProviderID, req.Date.Weekday(), day.Schedules)
	if !ok {
		return d.reject(NoScheduleForDay)
	}
	open := availability.Interval{
		Start: e.zone.Instant(req.Date, sched.DayStart),
		End:   e.zone.Instant(req.Date, sched.DayEnd),
	}
	if start.Before(open.Start) || end.After(open.End) {
		return d.reject(OutsideBusinessHours)
	}
	d.Stage = StageInBusinessHours

	if !availability.Aligned(req.Time, sched.DayStart, sched.GranularityMinutes) {
		return d.reject(MisalignedSlot)
	}
	d.Stage = StageGridAligned

	candidate := availability.Interval{Start: start, End: end}
	if availability.OverlapsAny(candidate, e.appointmentIntervals(svc.ProviderID, req.Date, day.Appointments)) {
		return d.reject(AppointmentConflict)
	}
	d.Stage = StageNoAppointmentConflict

	if e.blackouts.IsBlocked(candidate, req.Date, providerBlackouts(svc.ProviderID, day.Blackouts)) {
		return d.reject(BlackoutConflict)
	}
	d.Stage = StageApproved
	d.Approved = true
	return d
}

func (d Decision) reject(r Reason) Decision {
	d.Approved = false
	d.Reason = r
	return d
}

// CheckCancellation approves only while more than the cutoff remains before the appointment starts.
func (e *Engine) CheckCancellation(appt model.Appointment) Decision {
	start := e.zone.Instant(appt.Date, appt.StartTime)
	d := Decision{
		Stage: StageTimeNormalized,
		Start: start,
		End:   start.Add(time.Duration(appt.DurationMinutes) * time.Minute),
	}
	if start.Sub(e.Now()) <= e.cutoff {
		return d.reject(CancellationTooLate)
	}
	d.Stage = StageApproved
	d.Approved = true
	return d
}

// DaySlots renders the provider's grid for date. With durationMinutes > 0 a slot is busy when a
// booking of that length would overlap an appointment; otherwise when its start lies inside one.
func (e *Engine) DaySlots(providerID string, date clock.Date, day Day, durationMinutes int) []Slot {
	sched, ok := scheduleFor(providerID, date.Weekday(), day.Schedules)
	if !ok {
		return []Slot{}
	}
	grid := availability.GenerateSlots(sched.DayStart, sched.DayEnd, sched.GranularityMinutes)
	busy := e.appointmentIntervals(providerID, date, day.Appointments)
	windows := providerBlackouts(providerID, day.Blackouts)
	length := time.Duration(max(durationMinutes, 0)) * time.Minute

	slots := make([]Slot, 0, len(grid))
	for _, t := range grid {
		candidate := availability.NewInterval(e.zone.Instant(date, t), length)
		s := Slot{Time: t}
		if length > 0 {
			s.Busy = availability.OverlapsAny(candidate, busy)
		} else {
			s.Busy = availability.ContainedByAny(candidate.Start, busy)
		}
		s.Blocked = e.blackouts.IsBlocked(candidate, date, windows)
		slots = append(slots, s)
	}
	return slots
}

// NewAppointment builds the row to persist for an approved request.
func (e *Engine) NewAppointment(id string, req Request, svc model.Service) model.Appointment {
	return model.Appointment{
		ID:              id,
		ProviderID:      svc.ProviderID,
		ClientID:        req.ClientID,
		ServiceID:       svc.ID,
		Date:            req.Date,
		StartTime:       req.Time,
		DurationMinutes: svc.DurationMinutes,
		CreatedAt:       e.Now(),
	}
}

// Start returns the absolute start instant of appt.
func (e *Engine) Start(appt model.Appointment) time.Time {
	return e.zone.Instant(appt.Date, appt.StartTime)
}

// HasFutureAppointment reports whether any appointment (optionally on weekday only) is still ahead.
func (e *Engine) HasFutureAppointment(appts []model.Appointment, weekday *time.Weekday) bool {
	now := e.Now()
	for _, a := range appts {
		if weekday != nil && a.Date.Weekday() != *weekday {
			continue
		}
		if e.Start(a).After(now) {
			return true
		}
	}
	return false
}

func (e *Engine) appointmentIntervals(providerID string, date clock.Date, appts []model.Appointment) []availability.Interval {
	out := make([]availability.Interval, 0, len(appts))
	for _, a := range appts {
		if a.ProviderID != providerID || a.Date != date {
			continue
		}
		out = append(out, availability.NewInterval(e.Start(a), time.Duration(a.DurationMinutes)*time.Minute))
	}
	return out
}

// scheduleFor treats a malformed row as absent.
func scheduleFor(providerID string, weekday time.Weekday, rows []model.WeeklySchedule) (model.WeeklySchedule, bool) {
	for _, s := range rows {
		if s.ProviderID == providerID && s.Weekday == weekday && s.Valid() {
			return s, true
		}
	}
	return model.WeeklySchedule{}, false
}

func providerBlackouts(providerID string, windows []model.BlackoutWindow) []model.BlackoutWindow {
	out := make([]model.BlackoutWindow, 0, len(windows))
	for _, w := range windows {
		if w.ProviderID == providerID {
			out = append(out, w)
		}
	}
	return out
}

// Scope selects which appointments a listing returns.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeUpcoming Scope = "upcoming"
	ScopeToday    Scope = "today"
)

func ParseScope(raw string) (Scope, bool) {
	switch Scope(raw) {
	case "", ScopeAll:
		return ScopeAll, true
	case ScopeUpcoming, ScopeToday:
		return Scope(raw), true
	default:
		return "", false
	}
}

// Select filters and orders appts for scope: newest first for all, ascending otherwise.
func (e *Engine) Select(appts []model.Appointment, scope Scope) []model.Appointment {
	now := e.Now()
	today := e.zone.Today(now)
	out := make([]model.Appointment, 0, len(appts))
	for _, a := range appts {
		switch scope {
		case ScopeUpcoming:
			if !e.Start(a).After(now) {
				continue
			}
		case ScopeToday:
			if a.Date != today {
				continue
			}
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if scope == ScopeAll {
			return e.Start(out[i]).After(e.Start(out[j]))
		}
		return e.Start(out[i]).Before(e.Start(out[j]))
	})
	return out
}
