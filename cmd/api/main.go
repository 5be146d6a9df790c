package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeiKhy/shortener/internal/config"
	"github.com/SergeiKhy/shortener/internal/handler"
	"github.com/SergeiKhy/shortener/internal/middleware"
	"github.com/SergeiKhy/shortener/internal/repository"
	"github.com/SergeiKhy/shortener/internal/service"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Сборка и подключение хранилища по ACTIVE_BACKEND
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	manager, err := repository.NewManager(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := manager.Close(ctx); err != nil {
			logger.Warn("Failed to close storage", zap.Error(err))
		}
	}()

	// Инициализация сервиса
	linkService := service.NewLinkService(manager, logger)

	// Синхронизатор кликов работает, когда есть и кэш, и батчи у бэкенда
	if cache := manager.Cache(); cache != nil {
		if batcher, ok := manager.Batcher(); ok {
			syncer := service.NewClickSyncer(cache, batcher, logger, 0)
			syncer.Start()
			defer syncer.Stop()
		} else {
			logger.Info("Backend does not support click batching, deltas stay in cache")
		}
	}

	// Инициализация middleware
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		CleanupInterval:   time.Minute,
		RedisLimit:        cfg.RateLimit.RedisLimit,
		RedisWindow:       time.Duration(cfg.RateLimit.RedisWindow) * time.Second,
	}, manager.Cache())

	if len(cfg.Auth.APIKeys) > 0 {
		logger.Info("API key authentication enabled", zap.Int("keys_count", len(cfg.Auth.APIKeys)))
	}

	// Настройка роутера
	router := handler.NewRouter(linkService, manager, rateLimiter, cfg.Auth.APIKeys, cfg.App.BaseURL, logger)

	// Запуск сервера
	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск в горутине
	go func() {
		logger.Info("Server starting",
			zap.String("port", cfg.App.Port),
			zap.String("backend", manager.Backend()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
