package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptgrid/libs/httpx"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
)

// Caller identity is set by the gateway after authentication.
const (
	HeaderUserID     = "X-User-Id"
	HeaderProviderID = "X-Provider-Id"
)

var errMissingCaller = errors.New("missing caller identity")

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func clientID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderUserID))
}

func providerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderProviderID))
}

func parseID(raw string) (string, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

type rejection struct {
	Approved bool           `json:"approved"`
	Reason   booking.Reason `json:"reason"`
	Message  string         `json:"message"`
}

func writeRejection(w http.ResponseWriter, d booking.Decision) {
	httpx.WriteJSON(w, http.StatusUnprocessableEntity, rejection{
		Approved: false,
		Reason:   d.Reason,
		Message:  d.Reason.Message(),
	})
}

type appointmentItem struct {
	ID              string          `json:"id"`
	ProviderID      string          `json:"provider_id"`
	ClientID        string          `json:"client_id"`
	ServiceID       string          `json:"service_id"`
	Date            clock.Date      `json:"date"`
	Time            clock.TimeOfDay `json:"time"`
	DurationMinutes int             `json:"duration_minutes"`
	StartAt         string          `json:"start_at"`
	EndAt           string          `json:"end_at"`
	CreatedAt       string          `json:"created_at,omitempty"`
}

func toAppointmentItem(zone clock.Zone, a model.Appointment) appointmentItem {
	start := zone.Instant(a.Date, a.StartTime)
	item := appointmentItem{
		ID:              a.ID,
		ProviderID:      a.ProviderID,
		ClientID:        a.ClientID,
		ServiceID:       a.ServiceID,
		Date:            a.Date,
		Time:            a.StartTime,
		DurationMinutes: a.DurationMinutes,
		StartAt:         start.Format(time.RFC3339),
		EndAt:           start.Add(time.Duration(a.DurationMinutes) * time.Minute).Format(time.RFC3339),
	}
	if !a.CreatedAt.IsZero() {
		item.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return item
}

type scheduleItem struct {
	ID                 string          `json:"id"`
	ProviderID         string          `json:"provider_id"`
	Weekday            int             `json:"weekday"`
	DayStart           clock.TimeOfDay `json:"day_start"`
	DayEnd             clock.TimeOfDay `json:"day_end"`
	GranularityMinutes int             `json:"granularity_minutes"`
}

func toScheduleItems(rows []model.WeeklySchedule) []scheduleItem {
	items := make([]scheduleItem, 0, len(rows))
	for _, s := range rows {
		items = append(items, scheduleItem{
			ID:                 s.ID,
			ProviderID:         s.ProviderID,
			Weekday:            int(s.Weekday),
			DayStart:           s.DayStart,
			DayEnd:             s.DayEnd,
			GranularityMinutes: s.GranularityMinutes,
		})
	}
	return items
}

type blackoutItem struct {
	ID         string          `json:"id"`
	ProviderID string          `json:"provider_id"`
	Date       *clock.Date     `json:"date"`
	Start      clock.TimeOfDay `json:"start"`
	End        clock.TimeOfDay `json:"end"`
	Reason     string          `json:"reason"`
}

func toBlackoutItem(b model.BlackoutWindow) blackoutItem {
	return blackoutItem{ID: b.ID, ProviderID: b.ProviderID, Date: b.Date, Start: b.Start, End: b.End, Reason: b.Reason}
}

type serviceItem struct {
	ID              string `json:"id"`
	ProviderID      string `json:"provider_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Active          bool   `json:"active"`
}

func toServiceItem(s model.Service) serviceItem {
	return serviceItem{ID: s.ID, ProviderID: s.ProviderID, Name: s.Name, DurationMinutes: s.DurationMinutes, Active: s.Active}
}
