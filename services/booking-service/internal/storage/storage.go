package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/apptgrid/libs/db"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/outbox"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("not owned by caller")
	ErrAlreadyExists       = errors.New("already exists")
	ErrHasFutureBookings   = errors.New("future appointments depend on this schedule")
	ErrOverlappingBlackout = errors.New("overlaps an existing blackout window")
)

//go:embed migrations/*.sql
var migrations embed.FS

var dialect = goqu.Dialect("postgres")

var tracer = otel.Tracer("booking-service/storage")

// querier is satisfied by pgx.Tx and *pgxpool.Pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

// EnsureSchema applies the embedded migrations in file name order. Every statement is idempotent.
func EnsureSchema(ctx context.Context, pool *db.Pool) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// IsConflict reports a unique or exclusion constraint violation.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23P01")
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound)
}

func (r *Repository) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "storage."+name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		append([]attribute.KeyValue{attribute.String("db.system", "postgresql")}, attrs...)...,
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return r.pool.InTx(ctx, fn)
}

// advisoryLock is a transaction-scoped Postgres advisory lock. Shared holders run alongside each
// other and wait for the exclusive holder.
type advisoryLock struct {
	key    string
	shared bool
}

func (l advisoryLock) statement() string {
	if l.shared {
		return `SELECT pg_advisory_xact_lock_shared(hashtextextended($1, 0))`
	}
	return `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
}

func (l advisoryLock) acquire(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, l.statement(), l.key)
	return err
}

// lock serializes writers on key until the transaction ends.
func lock(ctx context.Context, tx pgx.Tx, key string) error {
	return advisoryLock{key: key}.acquire(ctx, tx)
}

// bookLocks orders the locks a booking holds: the provider's schedule and blackout rows may not
// change while the day is re-validated, and only one booking per provider day runs at a time.
// Schedule and blackout writers take a single exclusive lock each, so the order cannot deadlock.
func bookLocks(providerID string, d clock.Date) []advisoryLock {
	return []advisoryLock{
		{key: providerLockKey("schedule", providerID), shared: true},
		{key: providerLockKey("blackout", providerID), shared: true},
		{key: dayLockKey(providerID, d)},
	}
}

func dayLockKey(providerID string, d clock.Date) string {
	return "appointments|" + providerID + "|" + d.String()
}

func providerLockKey(scope, providerID string) string {
	return scope + "|" + providerID
}

func dateValue(d clock.Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func dateFromValue(t time.Time) clock.Date {
	return clock.DateFromTime(t)
}

func build(ds interface {
	ToSQL() (string, []any, error)
}) (string, []any, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build sql: %w", err)
	}
	return query, args, nil
}
