package model

import (
	"time"

	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
)

// WeeklySchedule is one provider's opening hours for one weekday.
type WeeklySchedule struct {
	ID                 string
	ProviderID         string
	Weekday            time.Weekday
	DayStart           clock.TimeOfDay
	DayEnd             clock.TimeOfDay
	GranularityMinutes int
}

// Valid reports whether the row can produce a grid.
func (s WeeklySchedule) Valid() bool {
	return s.GranularityMinutes >= 1 && s.DayStart.Valid() && s.DayEnd <= clock.MinutesPerDay && s.DayStart < s.DayEnd
}

type Service struct {
	ID              string
	ProviderID      string
	Name            string
	DurationMinutes int
	Active          bool
	CreatedAt       time.Time
}

type Appointment struct {
	ID              string
	ProviderID      string
	ClientID        string
	ServiceID       string
	Date            clock.Date
	StartTime       clock.TimeOfDay
	DurationMinutes int
	CreatedAt       time.Time
}

func (a Appointment) EndTime() clock.TimeOfDay {
	return a.StartTime + clock.TimeOfDay(a.DurationMinutes)
}

// BlackoutWindow blocks a provider's time. A nil Date recurs every day.
type BlackoutWindow struct {
	ID         string
	ProviderID string
	Date       *clock.Date
	Start      clock.TimeOfDay
	End        clock.TimeOfDay
	Reason     string
	CreatedAt  time.Time
}

func (b BlackoutWindow) Recurring() bool { return b.Date == nil }

// AppliesTo reports whether the window is in scope for d.
func (b BlackoutWindow) AppliesTo(d clock.Date) bool {
	return b.Date == nil || *b.Date == d
}

// SameScope reports whether both windows are recurring or both pin the same date.
func (b BlackoutWindow) SameScope(o BlackoutWindow) bool {
	if b.Date == nil || o.Date == nil {
		return b.Date == nil && o.Date == nil
	}
	return *b.Date == *o.Date
}

const DefaultBlackoutReason = "Unavailable time"
