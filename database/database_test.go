package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"enom_tracker/config"
)

const existsQuery = "SELECT EXISTS(SELECT datname FROM pg_catalog.pg_database WHERE datname = $1);"

func TestEnsureDatabase(t *testing.T) {
	t.Run("база уже существует", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(existsQuery).WithArgs("enom_tracker").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		require.NoError(t, ensureDatabase(db, "enom_tracker", zap.NewNop()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("создание с экранированием имени", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(existsQuery).WithArgs("enom-tracker").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(`CREATE DATABASE "enom-tracker";`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, ensureDatabase(db, "enom-tracker", zap.NewNop()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ошибка создания", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(existsQuery).WithArgs("enom_tracker").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(`CREATE DATABASE "enom_tracker";`).
			WillReturnError(errors.New("permission denied to create database"))

		err = ensureDatabase(db, "enom_tracker", zap.NewNop())
		assert.ErrorContains(t, err, "permission denied")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateDatabaseIfNotExists_SQLiteNoop(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Type: "sqlite"}}
	assert.NoError(t, CreateDatabaseIfNotExists(cfg, zap.NewNop()))
}

func TestConnect_SQLite(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{
		Type:         "sqlite",
		SQLitePath:   filepath.Join(t.TempDir(), "enom.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}}

	db, err := Connect(cfg, zap.NewNop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	for _, index := range PerformanceIndexes {
		var count int64
		require.NoError(t, db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", index.Name).Scan(&count).Error)
		assert.Equal(t, int64(1), count, index.Name)
	}

	// Повторное создание индексов не падает
	require.NoError(t, CreatePerformanceIndexes(db, zap.NewNop()))

	require.NoError(t, DropIndex(db, "idx_tickets_status"))
	var count int64
	require.NoError(t, db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", "idx_tickets_status").Scan(&count).Error)
	assert.Zero(t, count)
}

func TestDSN_QueryTimeout(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{
		Host: "db", Port: "5432", User: "enom", Password: "pw", Name: "enom_tracker", SSLMode: "disable",
		SQLitePath: "enom.db", QueryTimeout: 15 * time.Second,
	}}
	assert.Equal(t, "host=db port=5432 user=enom password=pw dbname=enom_tracker sslmode=disable statement_timeout=15000", postgresDSN(cfg))
	assert.Equal(t, "enom.db?_busy_timeout=15000&_foreign_keys=on", sqliteDSN(cfg))

	cfg.Database.QueryTimeout = 0
	assert.NotContains(t, postgresDSN(cfg), "statement_timeout")
	assert.Equal(t, "enom.db?_busy_timeout=5000&_foreign_keys=on", sqliteDSN(cfg))
}

func TestConnect_UnsupportedType(t *testing.T) {
	_, err := Connect(&config.Config{Database: config.DatabaseConfig{Type: "mysql"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewRedisClient_Disabled(t *testing.T) {
	client, err := NewRedisClient(config.RedisConfig{Enabled: false}, zap.NewNop())
	assert.NoError(t, err)
	assert.Nil(t, client)
}
