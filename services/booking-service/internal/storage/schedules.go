package storage

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/outbox"
	"go.opentelemetry.io/otel/attribute"
)

var scheduleColumns = []any{"id", "provider_id", "weekday", "day_start_minute", "day_end_minute", "granularity_minutes"}

// FutureGuard decides whether the given appointments forbid a schedule change.
type FutureGuard func(appts []model.Appointment) bool

func scanSchedules(rows pgx.Rows) ([]model.WeeklySchedule, error) {
	defer rows.Close()
	var out []model.WeeklySchedule
	for rows.Next() {
		var (
			s          model.WeeklySchedule
			weekday    int16
			start, end int
		)
		if err := rows.Scan(&s.ID, &s.ProviderID, &weekday, &start, &end, &s.GranularityMinutes); err != nil {
			return nil, err
		}
		s.Weekday = time.Weekday(weekday)
		s.DayStart = clock.TimeOfDay(start)
		s.DayEnd = clock.TimeOfDay(end)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) ListSchedules(ctx context.Context, providerID string) ([]model.WeeklySchedule, error) {
	ctx, span := r.startSpan(ctx, "ListSchedules", attribute.String("provider.id", providerID))
	var err error
	defer func() { endSpan(span, err) }()

	var out []model.WeeklySchedule
	out, err = listSchedules(ctx, r.pool, providerID, nil)
	return out, err
}

func listSchedules(ctx context.Context, q querier, providerID string, weekday *time.Weekday) ([]model.WeeklySchedule, error) {
	ds := dialect.From("weekly_schedules").Prepared(true).
		Select(scheduleColumns...).
		Where(goqu.C("provider_id").Eq(providerID)).
		Order(goqu.C("weekday").Asc())
	if weekday != nil {
		ds = ds.Where(goqu.C("weekday").Eq(int(*weekday)))
	}
	query, args, err := build(ds)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanSchedules(rows)
}

// CreateSchedules inserts rows for new weekdays. ErrAlreadyExists if any weekday is taken.
func (r *Repository) CreateSchedules(ctx context.Context, providerID string, rows []model.WeeklySchedule) error {
	ctx, span := r.startSpan(ctx, "CreateSchedules", attribute.String("provider.id", providerID), attribute.Int("rows", len(rows)))
	var err error
	defer func() { endSpan(span, err) }()

	err = r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lock(ctx, tx, providerLockKey("schedule", providerID)); err != nil {
			return err
		}
		return r.insertSchedules(ctx, tx, providerID, rows, "created")
	})
	return err
}

// AddScheduleDays copies the hours of an existing row onto new weekdays. ErrNotFound if the
// provider has no schedule yet.
func (r *Repository) AddScheduleDays(ctx context.Context, providerID string, weekdays []time.Weekday, newID func() string) ([]model.WeeklySchedule, error) {
	ctx, span := r.startSpan(ctx, "AddScheduleDays", attribute.String("provider.id", providerID))
	var err error
	defer func() { endSpan(span, err) }()

	var created []model.WeeklySchedule
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lock(ctx, tx, providerLockKey("schedule", providerID)); err != nil {
			return err
		}
		existing, err := listSchedules(ctx, tx, providerID, nil)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return ErrNotFound
		}
		tmpl := existing[0]
		for _, wd := range weekdays {
			created = append(created, model.WeeklySchedule{
				ID:                 newID(),
				ProviderID:         providerID,
				Weekday:            wd,
				DayStart:           tmpl.DayStart,
				DayEnd:             tmpl.DayEnd,
				GranularityMinutes: tmpl.GranularityMinutes,
			})
		}
		return r.insertSchedules(ctx, tx, providerID, created, "days_added")
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *Repository) insertSchedules(ctx context.Context, tx pgx.Tx, providerID string, rows []model.WeeklySchedule, action string) error {
	existing, err := listSchedules(ctx, tx, providerID, nil)
	if err != nil {
		return err
	}
	taken := make(map[time.Weekday]bool, len(existing))
	for _, s := range existing {
		taken[s.Weekday] = true
	}
	records := make([]any, 0, len(rows))
	for _, s := range rows {
		if taken[s.Weekday] {
			return ErrAlreadyExists
		}
		records = append(records, goqu.Record{
			"id":                  s.ID,
			"provider_id":         providerID,
			"weekday":             int(s.Weekday),
			"day_start_minute":    s.DayStart.Minutes(),
			"day_end_minute":      s.DayEnd.Minutes(),
			"granularity_minutes": s.GranularityMinutes,
		})
	}
	if len(records) == 0 {
		return nil
	}
	query, args, err := build(dialect.Insert("weekly_schedules").Prepared(true).Rows(records...))
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		if IsConflict(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return r.scheduleEvent(ctx, tx, providerID, action, rows)
}

// UpdateScheduleHours rewrites the hours of every row of the provider unless guard objects to
// the provider's future appointments.
func (r *Repository) UpdateScheduleHours(ctx context.Context, providerID string, start, end clock.TimeOfDay, today clock.Date, guard FutureGuard) error {
	ctx, span := r.startSpan(ctx, "UpdateScheduleHours", attribute.String("provider.id", providerID))
	var err error
	defer func() { endSpan(span, err) }()

	err = r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lock(ctx, tx, providerLockKey("schedule", providerID)); err != nil {
			return err
		}
		appts, err := listAppointments(ctx, tx, goqu.C("provider_id").Eq(providerID), goqu.C("appt_date").Gte(dateValue(today)))
		if err != nil {
			return err
		}
		if guard(appts) {
			return ErrHasFutureBookings
		}
		query, args, err := build(dialect.Update("weekly_schedules").Prepared(true).
			Set(goqu.Record{"day_start_minute": start.Minutes(), "day_end_minute": end.Minutes()}).
			Where(goqu.C("provider_id").Eq(providerID)))
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return r.scheduleEvent(ctx, tx, providerID, "hours_updated", map[string]string{
			"day_start": start.String(),
			"day_end":   end.String(),
		})
	})
	return err
}

// DeleteScheduleDay removes one weekday unless guard objects to future appointments on it.
func (r *Repository) DeleteScheduleDay(ctx context.Context, providerID string, weekday time.Weekday, today clock.Date, guard FutureGuard) error {
	ctx, span := r.startSpan(ctx, "DeleteScheduleDay", attribute.String("provider.id", providerID), attribute.Int("weekday", int(weekday)))
	var err error
	defer func() { endSpan(span, err) }()

	err = r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lock(ctx, tx, providerLockKey("schedule", providerID)); err != nil {
			return err
		}
		appts, err := listAppointments(ctx, tx, goqu.C("provider_id").Eq(providerID), goqu.C("appt_date").Gte(dateValue(today)))
		if err != nil {
			return err
		}
		if guard(appts) {
			return ErrHasFutureBookings
		}
		query, args, err := build(dialect.Delete("weekly_schedules").Prepared(true).
			Where(goqu.C("provider_id").Eq(providerID), goqu.C("weekday").Eq(int(weekday))))
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return r.scheduleEvent(ctx, tx, providerID, "day_removed", map[string]int{"weekday": int(weekday)})
	})
	return err
}

func (r *Repository) scheduleEvent(ctx context.Context, tx pgx.Tx, providerID, action string, subject any) error {
	evt, err := outbox.ProviderChanged(outbox.EventScheduleChanged, providerID, action, subject)
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, evt)
}
