package postgres_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/zcanic/zcanic-server/internal/platform/postgres"
	"github.com/zcanic/zcanic-server/internal/store"
)

func newPgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		TableName:      "tasks",
		ColumnName:     "status",
		ConstraintName: "tasks_outcome_check",
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	plain := errors.New("plain")
	tests := []struct {
		name   string
		err    error
		wantIs error
	}{
		{name: "nil", err: nil, wantIs: nil},
		{name: "no rows", err: sql.ErrNoRows, wantIs: store.ErrNotFound},
		{name: "unique violation", err: newPgError("23505"), wantIs: store.ErrDuplicate},
		{name: "foreign key violation", err: newPgError("23503"), wantIs: store.ErrInvalidEntity},
		{name: "check violation", err: newPgError("23514"), wantIs: store.ErrInvalidEntity},
		{name: "not null violation", err: newPgError("23502"), wantIs: store.ErrInvalidEntity},
		{name: "wrapped unique violation", err: fmt.Errorf("exec: %w", newPgError("23505")), wantIs: store.ErrDuplicate},
		{name: "unmapped passes through", err: plain, wantIs: plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := postgres.MapError(tt.err)
			if tt.wantIs == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.wantIs)
		})
	}
}

func TestMapUniqueViolation(t *testing.T) {
	t.Parallel()

	got := postgres.MapUniqueViolation(newPgError("23505"), store.ErrFortuneExists)
	assert.ErrorIs(t, got, store.ErrFortuneExists)
	assert.ErrorIs(t, got, store.ErrDuplicate)

	got = postgres.MapUniqueViolation(newPgError("23503"), store.ErrFortuneExists)
	assert.NotErrorIs(t, got, store.ErrFortuneExists)
	assert.ErrorIs(t, got, store.ErrInvalidEntity)
}

func TestViolationPredicates(t *testing.T) {
	t.Parallel()

	assert.True(t, postgres.IsUniqueViolation(newPgError("23505")))
	assert.False(t, postgres.IsUniqueViolation(newPgError("23503")))
	assert.False(t, postgres.IsUniqueViolation(nil))

	assert.True(t, postgres.IsForeignKeyViolation(newPgError("23503")))
	assert.False(t, postgres.IsForeignKeyViolation(errors.New("generic")))
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", newPgError("40001"), true},
		{"deadlock", newPgError("40P01"), true},
		{"admin shutdown", newPgError("57P01"), true},
		{"conn done", sql.ErrConnDone, true},
		{"unique violation", newPgError("23505"), false},
		{"generic", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, postgres.IsTransient(tt.err))
		})
	}
}
