package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"enom_tracker/api"
	"enom_tracker/config"
	"enom_tracker/database"
	"enom_tracker/logger"
	"enom_tracker/metrics"
	"enom_tracker/middleware"
	"enom_tracker/services"
)

// devJWTSecret используется только вне production при пустом JWT_SECRET
const devJWTSecret = "enom-tracker-development-secret-key"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	zl := logger.New(cfg.Logging, "enom-tracker")
	defer zl.Sync()
	cfg.LogConfig(zl)

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Создаем базу данных, если она не существует
	if err := database.CreateDatabaseIfNotExists(cfg, zl); err != nil {
		zl.Fatal("failed to create database", zap.Error(err))
	}
	db, err := database.Connect(cfg, zl)
	if err != nil {
		zl.Fatal("failed to connect database", zap.Error(err))
	}

	redisClient, err := database.NewRedisClient(cfg.Redis, zl)
	if err != nil {
		zl.Warn("redis unavailable, using in-memory cache", zap.Error(err))
		redisClient = nil
	}

	zone, err := services.LoadZone(cfg.Operations.Timezone)
	if err != nil {
		zl.Fatal("invalid timezone", zap.Error(err))
	}

	m := metrics.New()
	base := services.NewBase(db, services.SystemClock{}, zone, zl, m)

	var sender services.MessageSender
	if cfg.Telegram.Enabled {
		tg, err := services.NewTelegramSender(cfg.Telegram.BotToken, zl)
		if err != nil {
			zl.Warn("telegram notifications disabled", zap.Error(err))
		} else {
			sender = tg
		}
	}
	notifier := services.NewNotificationService(sender, cfg.Telegram.ChatID, zl)

	cache := services.NewCacheService(redisClient, zl)
	priority := services.NewPriorityService(base)
	alarms := services.NewAlarmService(base, priority, notifier)
	imports := services.NewImportService(base, alarms, cfg.Operations.ImportTTL)
	dashboard := services.NewDashboardService(base, cache, cfg.Operations.SLAHours)
	dashboard.CacheTTL = cfg.Operations.DashboardTTL

	if purged, err := imports.PurgeExpired(); err != nil {
		zl.Warn("failed to purge expired imports", zap.Error(err))
	} else if purged > 0 {
		zl.Info("stale imports removed on startup", zap.Int64("count", purged))
	}

	secret := cfg.JWT.Secret
	if secret == "" {
		zl.Warn("JWT_SECRET is empty, using development secret")
		secret = devJWTSecret
	}

	router := api.NewRouter(api.RouterOptions{
		Services: api.Services{
			Users:     services.NewUserService(base),
			Sites:     services.NewSiteService(base),
			Tickets:   services.NewTicketService(base, notifier),
			Alarms:    alarms,
			Imports:   imports,
			Plans:     services.NewPlanService(base, notifier),
			Priority:  priority,
			Dashboard: dashboard,
			Exports:   services.NewExportService(base, priority),
			Cache:     cache,
		},
		Tokens:      middleware.NewTokenIssuer(secret, cfg.JWT.Issuer, cfg.JWT.TokenTTL),
		RateLimiter: middleware.NewRateLimiter(redisClient),
		Metrics:     m,
		CORS:        cfg.CORS,
		MaxUploadMB: cfg.Operations.MaxUploadSizeMB,
		Logger:      zl,
	})

	srv := &http.Server{
		Addr:              cfg.App.Host + ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("🚀 server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
	notifier.Wait()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
