// Package clock converts provider-local calendar dates and wall-clock times into absolute
// instants under one fixed UTC offset.
package clock

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	ErrInvalidTime = errors.New("time must be HH:MM (00:00-23:59)")
	ErrInvalidDate = errors.New("date must be YYYY-MM-DD")
)

var (
	timePattern = regexp.MustCompile(`^([0-1][0-9]|2[0-3]):([0-5][0-9])$`)
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// TimeOfDay is minutes since local midnight.
type TimeOfDay int

const MinutesPerDay TimeOfDay = 24 * 60

func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	m := timePattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, ErrInvalidTime
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return TimeOfDay(h*60 + mm), nil
}

func (t TimeOfDay) Minutes() int { return int(t) }

func (t TimeOfDay) Duration() time.Duration { return time.Duration(t) * time.Minute }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) Valid() bool { return t >= 0 && t < MinutesPerDay }

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Date is a calendar day with no zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(raw string) (Date, error) {
	if !datePattern.MatchString(raw) {
		return Date{}, ErrInvalidDate
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return DateFromTime(t), nil
}

// DateFromTime takes the calendar fields of t in its own location.
func DateFromTime(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	v, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Weekday is computed on the civil calendar, independent of any offset.
func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Weekday()
}

func (d Date) AddDays(n int) Date {
	return DateFromTime(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// Zone is a fixed UTC offset in which every provider-local value is interpreted.
type Zone struct {
	loc    *time.Location
	offset time.Duration
}

// NewZone builds a zone east of UTC by offsetHours; -3 is UTC-3.
func NewZone(offsetHours int) Zone {
	offset := time.Duration(offsetHours) * time.Hour
	return Zone{
		loc:    time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), int(offset.Seconds())),
		offset: offset,
	}
}

func (z Zone) Offset() time.Duration { return z.offset }

func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

// Instant returns the absolute instant of wall clock t on date d, in UTC.
func (z Zone) Instant(d Date, t TimeOfDay) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, int(t), 0, 0, z.Location()).UTC()
}

func (z Zone) DateOf(instant time.Time) Date {
	return DateFromTime(instant.In(z.Location()))
}

func (z Zone) TimeOfDayOf(instant time.Time) TimeOfDay {
	local := instant.In(z.Location())
	return TimeOfDay(local.Hour()*60 + local.Minute())
}

func (z Zone) Today(now time.Time) Date {
	return z.DateOf(now)
}
