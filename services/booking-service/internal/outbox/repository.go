package outbox

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	otelx "github.com/md-rashed-zaman/apptgrid/libs/otel"
)

const table = "outbox_events"

var dialect = goqu.Dialect("postgres")

// Execer is satisfied by pgx.Tx and *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert stores evt with the caller's trace context so the relay can continue the trace.
func (r *Repository) Insert(ctx context.Context, q Execer, evt Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	query, args, err := dialect.Insert(table).Prepared(true).Rows(goqu.Record{
		"aggregate_type": evt.AggregateType,
		"aggregate_id":   evt.AggregateID,
		"event_type":     evt.EventType,
		"payload":        evt.Payload,
		"traceparent":    traceparent,
		"tracestate":     tracestate,
	}).ToSQL()
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, query, args...)
	return err
}

type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	query, args, err := dialect.From(table).Prepared(true).
		Select("id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at").
		Where(goqu.C("published_at").IsNull()).
		Order(goqu.C("id").Asc()).
		Limit(uint(limit)).
		ForUpdate(goqu.SkipLocked).
		ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.EventType, &rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := dialect.Update(table).Prepared(true).
		Set(goqu.Record{"published_at": goqu.L("now()")}).
		Where(goqu.C("id").In(ids)).
		ToSQL()
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, query, args...)
	return err
}
