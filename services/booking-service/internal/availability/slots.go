package availability

import (
	"time"

	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
)

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func NewInterval(start time.Time, d time.Duration) Interval {
	return Interval{Start: start, End: start.Add(d)}
}

// Overlaps uses the half-open rule: [a,b) and [c,d) overlap iff a < d && c < b.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether t lies in [Start, End).
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

func (i Interval) Empty() bool { return !i.Start.Before(i.End) }

func OverlapsAny(candidate Interval, existing []Interval) bool {
	for _, e := range existing {
		if candidate.Overlaps(e) {
			return true
		}
	}
	return false
}

func ContainedByAny(t time.Time, existing []Interval) bool {
	for _, e := range existing {
		if e.Contains(t) {
			return true
		}
	}
	return false
}

// GenerateSlots returns dayStart, dayStart+g, ... while the value is before dayEnd.
func GenerateSlots(dayStart, dayEnd clock.TimeOfDay, g int) []clock.TimeOfDay {
	if g < 1 || dayStart >= dayEnd {
		return nil
	}
	slots := make([]clock.TimeOfDay, 0, (int(dayEnd-dayStart)+g-1)/g)
	for t := dayStart; t < dayEnd; t += clock.TimeOfDay(g) {
		slots = append(slots, t)
	}
	return slots
}

// Aligned reports whether t sits on the grid anchored at dayStart with step g.
func Aligned(t, dayStart clock.TimeOfDay, g int) bool {
	if g < 1 {
		return false
	}
	return (int(t)-int(dayStart))%g == 0
}
