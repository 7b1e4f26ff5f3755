package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresSuppressorAdmit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	cutoff := now.Add(-5 * time.Minute)

	mock.ExpectExec("UPDATE alert_rules").
		WithArgs(now, "r-1", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresSuppressor(db)
	ok, err := s.TryFire(context.Background(), "r-1", 5*time.Minute, now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSuppressorSuppress(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()

	// No row matched: another fire already holds the window.
	mock.ExpectExec("UPDATE alert_rules").
		WithArgs(now, "r-1", now.Add(-5*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPostgresSuppressor(db)
	ok, err := s.TryFire(context.Background(), "r-1", 5*time.Minute, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSuppressorQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE alert_rules").
		WillReturnError(assert.AnError)

	s := NewPostgresSuppressor(db)
	_, err = s.TryFire(context.Background(), "r-1", 5*time.Minute, time.Now())
	assert.Error(t, err)
}
