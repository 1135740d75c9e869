package storage

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/outbox"
	"go.opentelemetry.io/otel/attribute"
)

var blackoutColumns = []any{"id", "provider_id", "blackout_date", "start_minute", "end_minute", "reason", "created_at"}

func scanBlackouts(rows pgx.Rows) ([]model.BlackoutWindow, error) {
	defer rows.Close()
	var out []model.BlackoutWindow
	for rows.Next() {
		var (
			w          model.BlackoutWindow
			date       *time.Time
			start, end int
		)
		if err := rows.Scan(&w.ID, &w.ProviderID, &date, &start, &end, &w.Reason, &w.CreatedAt); err != nil {
			return nil, err
		}
		if date != nil {
			d := dateFromValue(*date)
			w.Date = &d
		}
		w.Start = clock.TimeOfDay(start)
		w.End = clock.TimeOfDay(end)
		out = append(out, w)
	}
	return out, rows.Err()
}

// listBlackouts returns recurring windows plus, when d is set, the windows pinned to d.
// With d nil every window of the provider is returned.
func listBlackouts(ctx context.Context, q querier, providerID string, d *clock.Date) ([]model.BlackoutWindow, error) {
	query, args, err := build(blackoutQuery(providerID, d))
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanBlackouts(rows)
}

func blackoutQuery(providerID string, d *clock.Date) *goqu.SelectDataset {
	ds := dialect.From("blackout_windows").Prepared(true).
		Select(blackoutColumns...).
		Where(goqu.C("provider_id").Eq(providerID)).
		Order(goqu.C("blackout_date").Asc().NullsFirst(), goqu.C("start_minute").Asc())
	if d != nil {
		ds = ds.Where(goqu.Or(
			goqu.C("blackout_date").IsNull(),
			goqu.C("blackout_date").Eq(dateValue(*d)),
		))
	}
	return ds
}

func (r *Repository) ListBlackouts(ctx context.Context, providerID string, d *clock.Date) ([]model.BlackoutWindow, error) {
	ctx, span := r.startSpan(ctx, "ListBlackouts", attribute.String("provider.id", providerID))
	var err error
	defer func() { endSpan(span, err) }()

	var out []model.BlackoutWindow
	out, err = listBlackouts(ctx, r.pool, providerID, d)
	return out, err
}

// CreateBlackout inserts w unless it overlaps a window of the same provider and scope.
func (r *Repository) CreateBlackout(ctx context.Context, w model.BlackoutWindow) (model.BlackoutWindow, error) {
	ctx, span := r.startSpan(ctx, "CreateBlackout", attribute.String("provider.id", w.ProviderID))
	var err error
	defer func() { endSpan(span, err) }()

	err = r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lock(ctx, tx, providerLockKey("blackout", w.ProviderID)); err != nil {
			return err
		}
		existing, err := listBlackouts(ctx, tx, w.ProviderID, nil)
		if err != nil {
			return err
		}
		if _, clash := availability.ConflictingBlackout(w, existing); clash {
			return ErrOverlappingBlackout
		}

		record := goqu.Record{
			"id":           w.ID,
			"provider_id":  w.ProviderID,
			"start_minute": w.Start.Minutes(),
			"end_minute":   w.End.Minutes(),
			"reason":       w.Reason,
		}
		if w.Date != nil {
			record["blackout_date"] = dateValue(*w.Date)
		}
		query, args, err := build(dialect.Insert("blackout_windows").Prepared(true).Rows(record).Returning("created_at"))
		if err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, query, args...).Scan(&w.CreatedAt); err != nil {
			return err
		}
		return r.blackoutEvent(ctx, tx, w.ProviderID, "created", w)
	})
	return w, err
}

func (r *Repository) DeleteBlackout(ctx context.Context, providerID, id string) (model.BlackoutWindow, error) {
	ctx, span := r.startSpan(ctx, "DeleteBlackout", attribute.String("provider.id", providerID))
	var err error
	defer func() { endSpan(span, err) }()

	var removed model.BlackoutWindow
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		query, args, err := build(dialect.Delete("blackout_windows").Prepared(true).
			Where(goqu.C("id").Eq(id), goqu.C("provider_id").Eq(providerID)).
			Returning(blackoutColumns...))
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		deleted, err := scanBlackouts(rows)
		if err != nil {
			return err
		}
		if len(deleted) == 0 {
			return ErrNotFound
		}
		removed = deleted[0]
		return r.blackoutEvent(ctx, tx, providerID, "deleted", removed)
	})
	return removed, err
}

func (r *Repository) blackoutEvent(ctx context.Context, tx pgx.Tx, providerID, action string, w model.BlackoutWindow) error {
	evt, err := outbox.ProviderChanged(outbox.EventBlackoutChanged, providerID, action, w)
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, evt)
}
