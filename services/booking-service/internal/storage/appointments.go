package storage

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/outbox"
	"go.opentelemetry.io/otel/attribute"
)

var appointmentColumns = []any{"id", "provider_id", "client_id", "service_id", "appt_date", "start_minute", "duration_minutes", "created_at"}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a     model.Appointment
		date  time.Time
		start int
	)
	if err := row.Scan(&a.ID, &a.ProviderID, &a.ClientID, &a.ServiceID, &date, &start, &a.DurationMinutes, &a.CreatedAt); err != nil {
		return model.Appointment{}, err
	}
	a.Date = dateFromValue(date)
	a.StartTime = clock.TimeOfDay(start)
	return a, nil
}

func listAppointments(ctx context.Context, q querier, where ...exp.Expression) ([]model.Appointment, error) {
	query, args, err := build(dialect.From("appointments").Prepared(true).
		Select(appointmentColumns...).
		Where(where...).
		Order(goqu.C("start_at").Asc()))
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DayAppointments is the coarse provider/date filter behind slot queries.
func (r *Repository) DayAppointments(ctx context.Context, providerID string, d clock.Date) ([]model.Appointment, error) {
	ctx, span := r.startSpan(ctx, "DayAppointments", attribute.String("provider.id", providerID), attribute.String("date", d.String()))
	var err error
	defer func() { endSpan(span, err) }()

	var out []model.Appointment
	out, err = listAppointments(ctx, r.pool, goqu.C("provider_id").Eq(providerID), goqu.C("appt_date").Eq(dateValue(d)))
	return out, err
}

func (r *Repository) ClientAppointments(ctx context.Context, clientID string) ([]model.Appointment, error) {
	ctx, span := r.startSpan(ctx, "ClientAppointments")
	var err error
	defer func() { endSpan(span, err) }()

	var out []model.Appointment
	out, err = listAppointments(ctx, r.pool, goqu.C("client_id").Eq(clientID))
	return out, err
}

func (r *Repository) ProviderAppointments(ctx context.Context, providerID string) ([]model.Appointment, error) {
	ctx, span := r.startSpan(ctx, "ProviderAppointments", attribute.String("provider.id", providerID))
	var err error
	defer func() { endSpan(span, err) }()

	var out []model.Appointment
	out, err = listAppointments(ctx, r.pool, goqu.C("provider_id").Eq(providerID))
	return out, err
}

// loadDay reads everything the validator needs for one provider date.
func loadDay(ctx context.Context, q querier, providerID string, d clock.Date) (booking.Day, error) {
	wd := d.Weekday()
	schedules, err := listSchedules(ctx, q, providerID, &wd)
	if err != nil {
		return booking.Day{}, err
	}
	appts, err := listAppointments(ctx, q, goqu.C("provider_id").Eq(providerID), goqu.C("appt_date").Eq(dateValue(d)))
	if err != nil {
		return booking.Day{}, err
	}
	windows, err := listBlackouts(ctx, q, providerID, &d)
	if err != nil {
		return booking.Day{}, err
	}
	return booking.Day{Schedules: schedules, Appointments: appts, Blackouts: windows}, nil
}

// Book re-validates appt against a fresh read of its day while holding bookLocks and inserts it
// when decide approves. A constraint violation is reported as AppointmentConflict.
func (r *Repository) Book(ctx context.Context, appt model.Appointment, decide func(booking.Day) booking.Decision) (booking.Decision, error) {
	ctx, span := r.startSpan(ctx, "Book",
		attribute.String("provider.id", appt.ProviderID),
		attribute.String("date", appt.Date.String()),
		attribute.String("time", appt.StartTime.String()),
	)
	var err error
	defer func() { endSpan(span, err) }()

	var decision booking.Decision
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		for _, l := range bookLocks(appt.ProviderID, appt.Date) {
			if err := l.acquire(ctx, tx); err != nil {
				return err
			}
		}
		day, err := loadDay(ctx, tx, appt.ProviderID, appt.Date)
		if err != nil {
			return err
		}
		decision = decide(day)
		if !decision.Approved {
			return errRejected
		}

		query, args, err := build(dialect.Insert("appointments").Prepared(true).Rows(goqu.Record{
			"id":               appt.ID,
			"provider_id":      appt.ProviderID,
			"client_id":        appt.ClientID,
			"service_id":       appt.ServiceID,
			"appt_date":        dateValue(appt.Date),
			"start_minute":     appt.StartTime.Minutes(),
			"duration_minutes": appt.DurationMinutes,
			"start_at":         decision.Start,
			"end_at":           decision.End,
			"created_at":       appt.CreatedAt,
		}))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return err
		}
		evt, err := outbox.AppointmentBooked(appt, decision.Start, decision.End)
		if err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
	switch {
	case err == nil:
		return decision, nil
	case errors.Is(err, errRejected):
		err = nil
		return decision, nil
	case IsConflict(err):
		err = nil
		decision.Approved = false
		decision.Reason = booking.AppointmentConflict
		return decision, nil
	default:
		return booking.Decision{}, err
	}
}

var errRejected = errors.New("booking rejected")

// Cancel deletes the caller's appointment when decide approves. ErrNotFound and ErrForbidden
// report unknown ids and foreign appointments.
func (r *Repository) Cancel(ctx context.Context, appointmentID, clientID string, decide func(model.Appointment) booking.Decision) (model.Appointment, booking.Decision, error) {
	ctx, span := r.startSpan(ctx, "Cancel", attribute.String("appointment.id", appointmentID))
	var err error
	defer func() { endSpan(span, err) }()

	var (
		appt     model.Appointment
		decision booking.Decision
	)
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		query, args, err := build(dialect.From("appointments").Prepared(true).
			Select(appointmentColumns...).
			Where(goqu.C("id").Eq(appointmentID)).
			ForUpdate(exp.Wait))
		if err != nil {
			return err
		}
		appt, err = scanAppointment(tx.QueryRow(ctx, query, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if appt.ClientID != clientID {
			return ErrForbidden
		}
		decision = decide(appt)
		if !decision.Approved {
			return errRejected
		}

		query, args, err = build(dialect.Delete("appointments").Prepared(true).Where(goqu.C("id").Eq(appointmentID)))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return err
		}
		evt, err := outbox.AppointmentCancelled(appt, decision.Start, decision.End)
		if err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
	if errors.Is(err, errRejected) {
		err = nil
	}
	if err != nil {
		return model.Appointment{}, booking.Decision{}, err
	}
	return appt, decision, nil
}
