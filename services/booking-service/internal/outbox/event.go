package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
)

const (
	EventAppointmentBooked    = "booking.appointment.booked.v1"
	EventAppointmentCancelled = "booking.appointment.cancelled.v1"
	EventScheduleChanged      = "booking.schedule.changed.v1"
	EventBlackoutChanged      = "booking.blackout.changed.v1"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type appointmentPayload struct {
	AppointmentID   string `json:"appointment_id"`
	ProviderID      string `json:"provider_id"`
	ClientID        string `json:"client_id"`
	ServiceID       string `json:"service_id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes"`
	StartAt         string `json:"start_at"`
	EndAt           string `json:"end_at"`
}

func appointmentEvent(eventType string, appt model.Appointment, start, end time.Time) (Event, error) {
	payload, err := json.Marshal(appointmentPayload{
		AppointmentID:   appt.ID,
		ProviderID:      appt.ProviderID,
		ClientID:        appt.ClientID,
		ServiceID:       appt.ServiceID,
		Date:            appt.Date.String(),
		Time:            appt.StartTime.String(),
		DurationMinutes: appt.DurationMinutes,
		StartAt:         start.UTC().Format(time.RFC3339),
		EndAt:           end.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{AggregateType: "appointment", AggregateID: appt.ID, EventType: eventType, Payload: payload}, nil
}

func AppointmentBooked(appt model.Appointment, start, end time.Time) (Event, error) {
	return appointmentEvent(EventAppointmentBooked, appt, start, end)
}

func AppointmentCancelled(appt model.Appointment, start, end time.Time) (Event, error) {
	return appointmentEvent(EventAppointmentCancelled, appt, start, end)
}

// ProviderChanged announces a schedule or blackout change; aggregates are keyed by provider so
// consumers see one provider's changes in order.
func ProviderChanged(eventType, providerID, action string, subject any) (Event, error) {
	payload, err := json.Marshal(map[string]any{
		"provider_id": providerID,
		"action":      action,
		"subject":     subject,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{AggregateType: "provider", AggregateID: providerID, EventType: eventType, Payload: payload}, nil
}
