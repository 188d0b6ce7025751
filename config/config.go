package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // IANA база для TIMEZONE

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	// Основные настройки приложения
	App AppConfigStruct `json:"app"`

	// База данных
	Database DatabaseConfig `json:"database"`

	// Redis
	Redis RedisConfig `json:"redis"`

	// JWT
	JWT JWTConfig `json:"jwt"`

	// CORS
	CORS CORSConfig `json:"cors"`

	// Логирование
	Logging LoggingConfig `json:"logging"`

	// Telegram уведомления
	Telegram TelegramConfig `json:"telegram"`

	// Параметры операционного учета (часовой пояс, SLA, импорт)
	Operations OperationsConfig `json:"operations"`

	// Предупреждения, накопленные при разборе переменных окружения.
	// Логгер создается после конфигурации, поэтому они выводятся в LogConfig.
	Warnings []string `json:"-"`
}

type AppConfigStruct struct {
	Env     string `json:"env"`
	Port    string `json:"port"`
	Host    string `json:"host"`
	Version string `json:"version"`
	Debug   bool   `json:"debug"`
}

type DatabaseConfig struct {
	Type            string        `json:"type"` // postgres | sqlite
	Host            string        `json:"host"`
	Port            string        `json:"port"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	Name            string        `json:"name"`
	SSLMode         string        `json:"ssl_mode"`
	SQLitePath      string        `json:"sqlite_path"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	QueryTimeout    time.Duration `json:"query_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `json:"enabled"`
	Host     string        `json:"host"`
	Port     string        `json:"port"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	URL      string        `json:"url"`
	Timeout  time.Duration `json:"timeout"`
	MaxConns int           `json:"max_connections"`
}

type JWTConfig struct {
	Secret   string        `json:"-"`
	Issuer   string        `json:"issuer"`
	TokenTTL time.Duration `json:"token_ttl"`
}

type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	File       string `json:"file"`
	MaxSize    int    `json:"max_size"`
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"`
}

type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"` // общий чат диспетчеров
	Enabled  bool   `json:"enabled"`
}

type OperationsConfig struct {
	Timezone        string        `json:"timezone"`
	SLAHours        int           `json:"sla_hours"`
	ImportTTL       time.Duration `json:"import_ttl"`
	DashboardTTL    time.Duration `json:"dashboard_ttl"`
	MaxUploadSizeMB int           `json:"max_upload_size_mb"`
}

var GlobalConfig *Config

// LoadConfig загружает конфигурацию из переменных окружения
func LoadConfig() (*Config, error) {
	var warnings []string
	// Загружаем .env файл если он существует
	if err := godotenv.Load(); err != nil {
		warnings = append(warnings, fmt.Sprintf(".env file not found or could not be loaded: %v", err))
	}

	env := &envReader{warnings: warnings}
	config := &Config{
		App: AppConfigStruct{
			Env:     env.get("APP_ENV", "development"),
			Port:    env.get("APP_PORT", "8080"),
			Host:    env.get("APP_HOST", "0.0.0.0"),
			Version: env.get("API_VERSION", "v1"),
			Debug:   env.getBool("DEBUG_MODE", false),
		},
		Database: DatabaseConfig{
			Type:            strings.ToLower(env.get("DB_TYPE", "postgres")),
			Host:            env.get("DB_HOST", "localhost"),
			Port:            env.get("DB_PORT", "5432"),
			User:            env.get("DB_USER", "postgres"),
			Password:        env.get("DB_PASSWORD", ""),
			Name:            env.get("DB_NAME", "enom_tracker"),
			SSLMode:         env.get("DB_SSLMODE", "disable"),
			SQLitePath:      env.get("DB_SQLITE_PATH", "enom_tracker.db"),
			MaxOpenConns:    env.getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    env.getInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: env.getDuration("DB_CONN_MAX_LIFETIME", 300*time.Second),
			QueryTimeout:    env.getDuration("DB_QUERY_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  env.getBool("REDIS_ENABLED", false),
			Host:     env.get("REDIS_HOST", "localhost"),
			Port:     env.get("REDIS_PORT", "6379"),
			Password: env.get("REDIS_PASSWORD", ""),
			DB:       env.getInt("REDIS_DB", 0),
			URL:      env.get("REDIS_URL", ""),
			Timeout:  env.getDuration("REDIS_TIMEOUT", 5*time.Second),
			MaxConns: env.getInt("REDIS_MAX_CONNECTIONS", 10),
		},
		JWT: JWTConfig{
			Secret:   env.get("JWT_SECRET", ""),
			Issuer:   env.get("JWT_ISSUER", "enom-tracker"),
			TokenTTL: env.getDuration("JWT_TOKEN_TTL", 12*time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins:   env.getSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:   env.getSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders:   env.getSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "Accept", "Origin"}),
			AllowCredentials: env.getBool("CORS_ALLOW_CREDENTIALS", true),
		},
		Logging: LoggingConfig{
			Level:      env.get("LOG_LEVEL", "info"),
			Format:     env.get("LOG_FORMAT", "json"),
			File:       env.get("LOG_FILE", ""),
			MaxSize:    env.getInt("LOG_MAX_SIZE", 100),
			MaxBackups: env.getInt("LOG_MAX_BACKUPS", 10),
			MaxAge:     env.getInt("LOG_MAX_AGE", 30),
		},
		Telegram: TelegramConfig{
			BotToken: env.get("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   int64(env.getInt("TELEGRAM_CHAT_ID", 0)),
			Enabled:  env.getBool("TELEGRAM_ENABLED", false),
		},
		Operations: OperationsConfig{
			Timezone:        env.get("TIMEZONE", "Asia/Jakarta"),
			SLAHours:        env.getInt("SLA_HOURS", 72),
			ImportTTL:       env.getDuration("IMPORT_TTL", 30*time.Minute),
			DashboardTTL:    env.getDuration("DASHBOARD_CACHE_TTL", 2*time.Minute),
			MaxUploadSizeMB: env.getInt("MAX_UPLOAD_SIZE_MB", 10),
		},
	}
	config.Warnings = env.warnings

	// Валидация критически важных настроек
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	GlobalConfig = config
	return config, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	// Проверяем обязательные поля для продакшена
	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
		}
		if c.Database.Type == "postgres" && c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required in production")
		}
	}

	// Проверяем в любом окружении
	switch c.Database.Type {
	case "postgres":
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME cannot be empty")
		}
		if c.Database.User == "" {
			return fmt.Errorf("DB_USER cannot be empty")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("DB_SQLITE_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported DB_TYPE: %s", c.Database.Type)
	}

	if _, err := time.LoadLocation(c.Operations.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Operations.Timezone, err)
	}
	if c.Operations.SLAHours <= 0 {
		return fmt.Errorf("SLA_HOURS must be positive")
	}
	if c.Operations.ImportTTL <= 0 {
		return fmt.Errorf("IMPORT_TTL must be positive")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when TELEGRAM_ENABLED=true")
	}

	return nil
}

// GetConfig возвращает текущую конфигурацию
func GetConfig() *Config {
	if GlobalConfig == nil {
		panic("config not loaded: call LoadConfig() first")
	}
	return GlobalConfig
}

// Вспомогательные функции для получения переменных окружения

type envReader struct {
	warnings []string
}

func (r *envReader) get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		r.warn("Invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

func (r *envReader) getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		r.warn("Invalid boolean value for %s: %s, using default: %t", key, value, defaultValue)
	}
	return defaultValue
}

func (r *envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		r.warn("Invalid duration value for %s: %s, using default: %v", key, value, defaultValue)
	}
	return defaultValue
}

func (r *envReader) getSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func (r *envReader) warn(format string, args ...interface{}) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшене
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// GetDatabaseDSN возвращает строку подключения к БД
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.Name, c.Database.SSLMode)
}

// GetAdminDSN возвращает строку подключения к служебной БД postgres
// (используется для создания рабочей базы)
func (c *Config) GetAdminDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=postgres sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.SSLMode)
}

// GetRedisAddr возвращает адрес Redis
func (c *Config) GetRedisAddr() string {
	if c.Redis.URL != "" {
		return c.Redis.URL
	}
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

// Location возвращает часовой пояс отображения (проверен в Validate)
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Operations.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LogConfig выводит конфигурацию в лог (без секретных данных)
func (c *Config) LogConfig(logger *zap.Logger) {
	for _, w := range c.Warnings {
		logger.Warn(w)
	}
	logger.Info("application configuration",
		zap.String("env", c.App.Env),
		zap.String("port", c.App.Port),
		zap.String("db_type", c.Database.Type),
		zap.String("db_host", c.Database.Host+":"+c.Database.Port),
		zap.String("db_name", c.Database.Name),
		zap.Bool("redis_enabled", c.Redis.Enabled),
		zap.String("redis_addr", c.GetRedisAddr()),
		zap.String("jwt_issuer", c.JWT.Issuer),
		zap.String("timezone", c.Operations.Timezone),
		zap.Int("sla_hours", c.Operations.SLAHours),
		zap.Bool("telegram_enabled", c.Telegram.Enabled),
		zap.String("log_level", c.Logging.Level),
		zap.Bool("debug", c.App.Debug),
	)
}
