package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamletgame/hamlet/config"
	"github.com/hamletgame/hamlet/internal/apierror"
)

// newSQLiteDataSource returns a migrated, private in-memory database.
func newSQLiteDataSource(t *testing.T) *Datasource {
	t.Helper()
	db, err := ConnectDB(config.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = Migrate(db, config.DriverSQLite, migrate.Up)
	require.NoError(t, err)
	return NewDatasourceFromDB(db, config.DriverSQLite, nil)
}

func TestGetDBConnection_Singleton(t *testing.T) {
	// Reset the instance and once for testing purposes
	instance = nil
	once = sync.Once{}
	t.Cleanup(func() {
		instance = nil
		once = sync.Once{}
	})

	mockConfig := &config.Configuration{
		DataSource: config.DataSourceConfig{Driver: config.DriverSQLite, Dns: ":memory:"},
	}
	config.MockConfig(mockConfig)

	ds1, err := GetDBConnection(mockConfig)
	require.NoError(t, err)
	assert.NotNil(t, ds1)
	assert.Nil(t, ds1.Cache)

	ds2, err := GetDBConnection(mockConfig)
	assert.NoError(t, err)
	assert.Same(t, ds1, ds2)
}

func TestConnectDB_SQLite(t *testing.T) {
	db, err := ConnectDB(config.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000", sqliteDSN(":memory:"))
	assert.Equal(t, "file:test.db?cache=shared&_foreign_keys=on&_txlock=immediate&_busy_timeout=5000", sqliteDSN("file:test.db?cache=shared"))
	assert.Equal(t, "x.db?_fk=1&_txlock=exclusive&_busy_timeout=1", sqliteDSN("x.db?_fk=1&_txlock=exclusive&_busy_timeout=1"))
}

func TestRebind(t *testing.T) {
	query := "UPDATE actions SET status = $1 WHERE action_id = $12"

	assert.Equal(t, query, Datasource{Driver: config.DriverPostgres}.rebind(query))
	assert.Equal(t, query, Datasource{}.rebind(query))
	assert.Equal(t, "UPDATE actions SET status = ?1 WHERE action_id = ?12", Datasource{Driver: config.DriverSQLite}.rebind(query))
}

func TestForUpdate(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", Datasource{Driver: config.DriverPostgres}.forUpdate())
	assert.Equal(t, "", Datasource{Driver: config.DriverSQLite}.forUpdate())
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectBegin()
	mock.ExpectCommit()

	err = ds.WithTx(context.Background(), func(tx *sql.Tx) error { return nil })
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = ds.WithTx(context.Background(), func(tx *sql.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_BeginFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err = ds.WithTx(context.Background(), func(tx *sql.Tx) error {
		t.Fatal("fn must not run without a transaction")
		return nil
	})
	assert.True(t, apierror.Is(err, apierror.ErrInternalServer))
}

func TestMigrate_UpAndDown(t *testing.T) {
	db, err := ConnectDB(config.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	n, err := Migrate(db, config.DriverSQLite, migrate.Up)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = Migrate(db, config.DriverSQLite, migrate.Down)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = db.Exec("SELECT 1 FROM villages")
	assert.Error(t, err)
}
