package availability

import (
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
)

// MatchMode selects how a candidate is tested against a blackout window.
type MatchMode int

const (
	// MatchSpan blocks any candidate whose interval overlaps the window.
	MatchSpan MatchMode = iota
	// MatchStart blocks only candidates whose start lies inside the window.
	MatchStart
)

func ParseMatchMode(raw string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "span":
		return MatchSpan, nil
	case "start":
		return MatchStart, nil
	default:
		return MatchSpan, fmt.Errorf("unknown blackout match mode %q", raw)
	}
}

func (m MatchMode) String() string {
	if m == MatchStart {
		return "start"
	}
	return "span"
}

type BlackoutResolver struct {
	zone clock.Zone
	mode MatchMode
}

func NewBlackoutResolver(zone clock.Zone, mode MatchMode) BlackoutResolver {
	return BlackoutResolver{zone: zone, mode: mode}
}

func (r BlackoutResolver) Mode() MatchMode { return r.mode }

// Window returns the absolute interval of w on date d.
func (r BlackoutResolver) Window(w model.BlackoutWindow, d clock.Date) Interval {
	return Interval{Start: r.zone.Instant(d, w.Start), End: r.zone.Instant(d, w.End)}
}

// IsBlocked reports whether any window in scope for d blocks candidate.
// An empty candidate is always tested as a point.
func (r BlackoutResolver) IsBlocked(candidate Interval, d clock.Date, windows []model.BlackoutWindow) bool {
	_, ok := r.Blocking(candidate, d, windows)
	return ok
}

func (r BlackoutResolver) Blocking(candidate Interval, d clock.Date, windows []model.BlackoutWindow) (model.BlackoutWindow, bool) {
	point := r.mode == MatchStart || candidate.Empty()
	for _, w := range windows {
		if !w.AppliesTo(d) {
			continue
		}
		iv := r.Window(w, d)
		if point {
			if iv.Contains(candidate.Start) {
				return w, true
			}
			continue
		}
		if iv.Overlaps(candidate) {
			return w, true
		}
	}
	return model.BlackoutWindow{}, false
}

// ConflictingBlackout finds an existing window of the same provider and scope that overlaps candidate.
func ConflictingBlackout(candidate model.BlackoutWindow, existing []model.BlackoutWindow) (model.BlackoutWindow, bool) {
	for _, e := range existing {
		if e.ID != "" && e.ID == candidate.ID {
			continue
		}
		if e.ProviderID != candidate.ProviderID || !e.SameScope(candidate) {
			continue
		}
		if candidate.Start < e.End && e.Start < candidate.End {
			return e, true
		}
	}
	return model.BlackoutWindow{}, false
}
