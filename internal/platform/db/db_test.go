package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIBRIS-backend/internal/platform/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 3306, Username: "u", Password: "p", DBName: "libris"})
	assert.Contains(t, dsn, "u:p@tcp(db:3306)/libris")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, IsDuplicateKey(&mysql.MySQLError{Number: 1062}))
	assert.False(t, IsDuplicateKey(&mysql.MySQLError{Number: 1452}))
	assert.False(t, IsDuplicateKey(errors.New("boom")))
}

func TestRunInTx(t *testing.T) {
	t.Run("commit on success", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE books").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = RunInTx(context.Background(), conn, nil, func(ctx context.Context, tx DBTX) error {
			_, err := tx.ExecContext(ctx, "UPDATE books SET quantity = quantity + 1")
			return err
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback on error", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err = RunInTx(context.Background(), conn, nil, func(ctx context.Context, tx DBTX) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRunInTx_RollbackFailureIsJoined(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("conn lost"))

	boom := errors.New("boom")
	err = RunInTx(context.Background(), conn, nil, func(context.Context, DBTX) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "rollback: conn lost")
}

func TestRunInTx_RollsBackOnPanic(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = RunInTx(context.Background(), conn, nil, func(context.Context, DBTX) error { panic("bad") })
	})
	require.NoError(t, mock.ExpectationsWereMet())
}
