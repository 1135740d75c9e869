package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsConflict(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23P01"})))
	assert.False(t, IsConflict(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsConflict(nil))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(pgx.ErrNoRows))
	assert.True(t, IsNotFound(fmt.Errorf("get: %w", ErrNotFound)))
	assert.False(t, IsNotFound(ErrForbidden))
}

func TestDayLockKeyIsPerProviderAndDate(t *testing.T) {
	d := clock.Date{Year: 2026, Month: time.March, Day: 2}
	assert.Equal(t, "appointments|p1|2026-03-02", dayLockKey("p1", d))
	assert.NotEqual(t, dayLockKey("p1", d), dayLockKey("p1", d.AddDays(1)))
	assert.NotEqual(t, dayLockKey("p1", d), dayLockKey("p2", d))
}

func TestBookHoldsProviderLocksSharedBeforeDayLock(t *testing.T) {
	d := clock.Date{Year: 2026, Month: time.March, Day: 2}
	locks := bookLocks("p1", d)
	require.Len(t, locks, 3)

	assert.Equal(t, providerLockKey("schedule", "p1"), locks[0].key)
	assert.True(t, locks[0].shared)
	assert.Contains(t, locks[0].statement(), "pg_advisory_xact_lock_shared")

	assert.Equal(t, providerLockKey("blackout", "p1"), locks[1].key)
	assert.True(t, locks[1].shared)

	assert.Equal(t, dayLockKey("p1", d), locks[2].key)
	assert.False(t, locks[2].shared)
	assert.NotContains(t, locks[2].statement(), "_shared")
}

func TestDateValueRoundTrip(t *testing.T) {
	d := clock.Date{Year: 2026, Month: time.December, Day: 31}
	assert.Equal(t, d, dateFromValue(dateValue(d)))
}

func TestBlackoutQueryScopesByDate(t *testing.T) {
	d := clock.Date{Year: 2026, Month: time.March, Day: 2}

	query, args, err := blackoutQuery("p1", &d).ToSQL()
	require.NoError(t, err)
	assert.Contains(t, query, `"provider_id" = $1`)
	assert.Contains(t, query, `"blackout_date" IS NULL`)
	assert.Len(t, args, 2)

	query, args, err = blackoutQuery("p1", nil).ToSQL()
	require.NoError(t, err)
	assert.NotContains(t, query, "IS NULL)")
	assert.Len(t, args, 1)
}

func TestMigrationsEmbedded(t *testing.T) {
	body, err := migrations.ReadFile("migrations/001_init.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "appointments_no_overlap")
	assert.Contains(t, string(body), "UNIQUE (provider_id, appt_date, start_minute)")
}

func TestServicePatchOnlySetsGivenFields(t *testing.T) {
	name := "Long consultation"
	assert.Equal(t, goqu.Record{"name": name}, ServicePatch{Name: &name}.record())

	minutes := 45
	assert.Equal(t, goqu.Record{"name": name, "duration_minutes": 45}, ServicePatch{Name: &name, DurationMinutes: &minutes}.record())
	assert.Empty(t, ServicePatch{}.record())
}
