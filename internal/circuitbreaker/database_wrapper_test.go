package circuitbreaker

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newWrappedDB(t *testing.T) (*DatabaseWrapper, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDatabaseWrapper(db, zaptest.NewLogger(t)), mock
}

func TestDatabaseWrapperPassesThrough(t *testing.T) {
	dw, mock := newWrappedDB(t)
	ctx := context.Background()

	mock.ExpectPing()
	require.NoError(t, dw.PingContext(ctx))

	mock.ExpectQuery("SELECT id FROM datasets").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("1A"))
	rows, err := dw.QueryContext(ctx, "SELECT id FROM datasets")
	require.NoError(t, err)
	rows.Close()

	mock.ExpectExec("UPDATE collections").
		WithArgs("2A").
		WillReturnResult(sqlmock.NewResult(0, 1))
	res, err := dw.ExecContext(ctx, "UPDATE collections SET data_count = 0 WHERE id = $1", "2A")
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.Equal(t, int64(1), n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseWrapperTransaction(t *testing.T) {
	dw, mock := newWrappedDB(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO data").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := dw.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO data (id) VALUES ($1)", "3A")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseWrapperTripsAfterFailures(t *testing.T) {
	dw, mock := newWrappedDB(t)
	ctx := context.Background()

	// Database breaker trips after 5 straight failures.
	for i := 0; i < 5; i++ {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	for i := 0; i < 5; i++ {
		assert.Error(t, dw.PingContext(ctx))
	}
	require.True(t, dw.IsCircuitBreakerOpen())

	assert.ErrorIs(t, dw.PingContext(ctx), ErrCircuitBreakerOpen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseWrapperQueryRowRejectedWhenOpen(t *testing.T) {
	dw, mock := newWrappedDB(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT name FROM datasets").
		WithArgs("1A").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("corpus"))
	row, err := dw.QueryRowContext(ctx, "SELECT name FROM datasets WHERE id = $1", "1A")
	require.NoError(t, err)
	var name string
	require.NoError(t, row.Scan(&name))
	assert.Equal(t, "corpus", name)

	for i := 0; i < 5; i++ {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	for i := 0; i < 5; i++ {
		dw.PingContext(ctx)
	}

	row, err = dw.QueryRowContext(ctx, "SELECT name FROM datasets WHERE id = $1", "1A")
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Nil(t, row)
	require.NoError(t, mock.ExpectationsWereMet())
}
