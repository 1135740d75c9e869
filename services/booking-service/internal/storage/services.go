package storage

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/model"
	"go.opentelemetry.io/otel/attribute"
)

var serviceColumns = []any{"id", "provider_id", "name", "duration_minutes", "active", "created_at"}

func scanService(row pgx.Row) (model.Service, error) {
	var s model.Service
	err := row.Scan(&s.ID, &s.ProviderID, &s.Name, &s.DurationMinutes, &s.Active, &s.CreatedAt)
	return s, err
}

func (r *Repository) CreateService(ctx context.Context, svc model.Service) (model.Service, error) {
	ctx, span := r.startSpan(ctx, "CreateService", attribute.String("provider.id", svc.ProviderID))
	var err error
	defer func() { endSpan(span, err) }()

	query, args, err := build(dialect.Insert("services").Prepared(true).Rows(goqu.Record{
		"id":               svc.ID,
		"provider_id":      svc.ProviderID,
		"name":             svc.Name,
		"duration_minutes": svc.DurationMinutes,
		"active":           true,
	}).Returning(serviceColumns...))
	if err != nil {
		return model.Service{}, err
	}
	var created model.Service
	created, err = scanService(r.pool.QueryRow(ctx, query, args...))
	return created, err
}

func (r *Repository) GetService(ctx context.Context, id string) (model.Service, error) {
	ctx, span := r.startSpan(ctx, "GetService", attribute.String("service.id", id))
	var err error
	defer func() { endSpan(span, err) }()

	query, args, err := build(dialect.From("services").Prepared(true).
		Select(serviceColumns...).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return model.Service{}, err
	}
	var svc model.Service
	svc, err = scanService(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrNotFound
	}
	return svc, err
}

func (r *Repository) ListServices(ctx context.Context, providerID string) ([]model.Service, error) {
	ctx, span := r.startSpan(ctx, "ListServices", attribute.String("provider.id", providerID))
	var err error
	defer func() { endSpan(span, err) }()

	query, args, err := build(dialect.From("services").Prepared(true).
		Select(serviceColumns...).
		Where(goqu.C("provider_id").Eq(providerID)).
		Order(goqu.C("name").Asc()))
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var svc model.Service
		if svc, err = scanService(rows); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	err = rows.Err()
	return out, err
}

func (r *Repository) DeactivateService(ctx context.Context, providerID, id string) error {
	return r.setServiceActive(ctx, "DeactivateService", providerID, id, false)
}

func (r *Repository) ActivateService(ctx context.Context, providerID, id string) error {
	return r.setServiceActive(ctx, "ActivateService", providerID, id, true)
}

func (r *Repository) setServiceActive(ctx context.Context, op, providerID, id string, active bool) error {
	ctx, span := r.startSpan(ctx, op, attribute.String("service.id", id))
	var err error
	defer func() { endSpan(span, err) }()

	query, args, err := build(dialect.Update("services").Prepared(true).
		Set(goqu.Record{"active": active}).
		Where(goqu.C("id").Eq(id), goqu.C("provider_id").Eq(providerID)))
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = ErrNotFound
	}
	return err
}

// ServicePatch carries the fields UpdateService changes. Nil fields are left alone.
type ServicePatch struct {
	Name            *string
	DurationMinutes *int
}

func (p ServicePatch) record() goqu.Record {
	rec := goqu.Record{}
	if p.Name != nil {
		rec["name"] = *p.Name
	}
	if p.DurationMinutes != nil {
		rec["duration_minutes"] = *p.DurationMinutes
	}
	return rec
}

// UpdateService renames or re-times a provider's service. Booked appointments keep the duration
// they were booked with.
func (r *Repository) UpdateService(ctx context.Context, providerID, id string, patch ServicePatch) (model.Service, error) {
	ctx, span := r.startSpan(ctx, "UpdateService", attribute.String("service.id", id))
	var err error
	defer func() { endSpan(span, err) }()

	rec := patch.record()
	if len(rec) == 0 {
		var svc model.Service
		svc, err = r.GetService(ctx, id)
		if err == nil && svc.ProviderID != providerID {
			err = ErrNotFound
		}
		return svc, err
	}
	query, args, err := build(dialect.Update("services").Prepared(true).
		Set(rec).
		Where(goqu.C("id").Eq(id), goqu.C("provider_id").Eq(providerID)).
		Returning(serviceColumns...))
	if err != nil {
		return model.Service{}, err
	}
	var svc model.Service
	svc, err = scanService(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrNotFound
	}
	return svc, err
}
