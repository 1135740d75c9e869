package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptgrid/libs/config"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
)

// Rules are the deployment-wide booking rules.
type Rules struct {
	UTCOffsetHours int
	CancelCutoff   time.Duration
	BlackoutMatch  availability.MatchMode
}

func Defaults() Rules {
	return Rules{
		UTCOffsetHours: -3,
		CancelCutoff:   booking.DefaultCancelCutoff,
		BlackoutMatch:  availability.MatchSpan,
	}
}

// FromEnv reads BOOKING_UTC_OFFSET_HOURS, BOOKING_CANCEL_CUTOFF and BOOKING_BLACKOUT_MATCH.
func FromEnv() (Rules, error) {
	rules := Defaults()

	offset, err := config.Int("BOOKING_UTC_OFFSET_HOURS", rules.UTCOffsetHours, -12, 14)
	if err != nil {
		return Rules{}, err
	}
	rules.UTCOffsetHours = offset

	cutoff, err := config.Duration("BOOKING_CANCEL_CUTOFF", rules.CancelCutoff)
	if err != nil {
		return Rules{}, err
	}
	if cutoff <= 0 {
		return Rules{}, errors.New("BOOKING_CANCEL_CUTOFF must be positive")
	}
	rules.CancelCutoff = cutoff

	mode, err := availability.ParseMatchMode(config.String("BOOKING_BLACKOUT_MATCH", "span"))
	if err != nil {
		return Rules{}, fmt.Errorf("BOOKING_BLACKOUT_MATCH: %w", err)
	}
	rules.BlackoutMatch = mode
	return rules, nil
}

func (r Rules) Zone() clock.Zone {
	return clock.NewZone(r.UTCOffsetHours)
}

// Engine builds a booking engine that enforces r.
func (r Rules) Engine(opts ...booking.Option) *booking.Engine {
	base := []booking.Option{
		booking.WithCancelCutoff(r.CancelCutoff),
		booking.WithBlackoutMatch(r.BlackoutMatch),
	}
	return booking.NewEngine(r.Zone(), append(base, opts...)...)
}
