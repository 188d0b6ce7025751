package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"enom_tracker/config"
	"enom_tracker/models"
)

// CreateDatabaseIfNotExists создает базу данных, если она не существует.
// Для sqlite ничего не делает: файл создается драйвером при подключении.
func CreateDatabaseIfNotExists(cfg *config.Config, logger *zap.Logger) error {
	if cfg.Database.Type != "postgres" {
		return nil
	}

	// Подключаемся к PostgreSQL без указания конкретной БД (к postgres по умолчанию)
	db, err := sql.Open("postgres", cfg.GetAdminDSN())
	if err != nil {
		return fmt.Errorf("не удалось подключиться к PostgreSQL: %w", err)
	}
	defer db.Close()

	// Проверяем подключение
	if err := db.Ping(); err != nil {
		return fmt.Errorf("не удалось проверить подключение к PostgreSQL: %w", err)
	}

	return ensureDatabase(db, cfg.Database.Name, logger)
}

// ensureDatabase проверяет наличие базы в pg_database и создает ее при отсутствии
func ensureDatabase(db *sql.DB, name string, logger *zap.Logger) error {
	var exists bool
	query := "SELECT EXISTS(SELECT datname FROM pg_catalog.pg_database WHERE datname = $1);"
	if err := db.QueryRow(query, name).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка при проверке существования базы данных: %w", err)
	}

	if exists {
		logger.Info("✅ database already exists", zap.String("name", name))
		return nil
	}

	// Имя базы нельзя передать параметром, поэтому экранируем идентификатор
	if _, err := db.Exec("CREATE DATABASE " + pq.QuoteIdentifier(name) + ";"); err != nil {
		return fmt.Errorf("не удалось создать базу данных '%s': %w", name, err)
	}

	logger.Info("✅ database created", zap.String("name", name))
	return nil
}

// Connect открывает подключение к базе (postgres или sqlite) и выполняет автомиграцию
func Connect(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Type {
	case "postgres":
		dialector = postgres.Open(postgresDSN(cfg))
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(cfg))
	default:
		return nil, fmt.Errorf("неподдерживаемый тип базы данных: %s", cfg.Database.Type)
	}

	logLevel := gormlogger.Warn
	if cfg.App.Debug {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к базе данных: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("не удалось получить пул соединений: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	logger.Info("✅ connected to database", zap.String("type", cfg.Database.Type))

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("ошибка автомиграции: %w", err)
	}
	logger.Info("✅ models migrated")

	if err := CreatePerformanceIndexes(db, logger); err != nil {
		return nil, err
	}

	return db, nil
}

// postgresDSN строка подключения с таймаутом запросов на стороне сервера
func postgresDSN(cfg *config.Config) string {
	dsn := cfg.GetDatabaseDSN()
	if ms := cfg.Database.QueryTimeout.Milliseconds(); ms > 0 {
		dsn += fmt.Sprintf(" statement_timeout=%d", ms)
	}
	return dsn
}

// sqliteDSN путь к файлу базы; таймаут запросов ограничивает ожидание блокировки
func sqliteDSN(cfg *config.Config) string {
	busy := int64(5000)
	if ms := cfg.Database.QueryTimeout.Milliseconds(); ms > 0 {
		busy = ms
	}
	return fmt.Sprintf("%s?_busy_timeout=%d&_foreign_keys=on", cfg.Database.SQLitePath, busy)
}

// AutoMigrate выполняет автомиграцию всех моделей
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(models.AllModels()...)
}
