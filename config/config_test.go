package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("APP_ENV", "test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "Asia/Jakarta", cfg.Operations.Timezone)
	assert.Equal(t, 72, cfg.Operations.SLAHours)
	assert.Equal(t, 30*time.Minute, cfg.Operations.ImportTTL)
	assert.Equal(t, 12*time.Hour, cfg.JWT.TokenTTL)
	assert.Equal(t, "localhost:6379", cfg.GetRedisAddr())
	assert.Equal(t, "Asia/Jakarta", cfg.Location().String())
	assert.Same(t, cfg, GetConfig())
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("DB_TYPE", "SQLITE")
	t.Setenv("SLA_HOURS", "three days")
	t.Setenv("IMPORT_TTL", "15m")
	t.Setenv("REDIS_ENABLED", "maybe")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://noc.example.com, https://field.example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 72, cfg.Operations.SLAHours)
	assert.Equal(t, 15*time.Minute, cfg.Operations.ImportTTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"https://noc.example.com", "https://field.example.com"}, cfg.CORS.AllowedOrigins)

	joined := ""
	for _, w := range cfg.Warnings {
		joined += w + "\n"
	}
	assert.Contains(t, joined, "SLA_HOURS")
	assert.Contains(t, joined, "REDIS_ENABLED")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:        AppConfigStruct{Env: "development"},
			Database:   DatabaseConfig{Type: "postgres", Name: "enom_tracker", User: "postgres"},
			Operations: OperationsConfig{Timezone: "Asia/Jakarta", SLAHours: 72, ImportTTL: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"корректная конфигурация", func(c *Config) {}, ""},
		{"секрет обязателен в продакшене", func(c *Config) { c.App.Env = "production" }, "JWT_SECRET is required"},
		{"короткий секрет", func(c *Config) {
			c.App.Env = "production"
			c.JWT.Secret = "short"
		}, "at least 32"},
		{"пароль БД в продакшене", func(c *Config) {
			c.App.Env = "production"
			c.JWT.Secret = "0123456789abcdef0123456789abcdef"
		}, "DB_PASSWORD"},
		{"неизвестный тип БД", func(c *Config) { c.Database.Type = "mysql" }, "unsupported DB_TYPE"},
		{"пустой путь sqlite", func(c *Config) { c.Database.Type = "sqlite" }, "DB_SQLITE_PATH"},
		{"неизвестный часовой пояс", func(c *Config) { c.Operations.Timezone = "Mars/Olympus" }, "invalid TIMEZONE"},
		{"нулевой SLA", func(c *Config) { c.Operations.SLAHours = 0 }, "SLA_HOURS"},
		{"telegram без токена", func(c *Config) { c.Telegram.Enabled = true }, "TELEGRAM_BOT_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	c := &Config{Database: DatabaseConfig{Host: "db", Port: "5432", User: "enom", Password: "pw", Name: "enom_tracker", SSLMode: "disable"}}
	assert.Equal(t, "host=db port=5432 user=enom password=pw dbname=enom_tracker sslmode=disable", c.GetDatabaseDSN())
	assert.Contains(t, c.GetAdminDSN(), "dbname=postgres")
}
