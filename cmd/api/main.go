package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/clock"
	"github.com/SergeiKhy/guest-urls/internal/config"
	"github.com/SergeiKhy/guest-urls/internal/dispatch"
	"github.com/SergeiKhy/guest-urls/internal/handler"
	"github.com/SergeiKhy/guest-urls/internal/middleware"
	"github.com/SergeiKhy/guest-urls/internal/repository"
	"github.com/SergeiKhy/guest-urls/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	clk := clock.New(cfg.Location())
	ctx := context.Background()

	// Подключение к хранилищу
	store, err := repository.Open(ctx, cfg.DB, clk)
	if err != nil {
		logger.Fatal("Failed to open registry", zap.String("driver", cfg.DB.Driver), zap.Error(err))
	}
	defer store.Close()
	logger.Info("Registry ready", zap.String("driver", cfg.DB.Driver))

	// Подключение к Redis (опционально)
	cacheRepo := repository.NewNoopCache()
	if cfg.Redis.Enabled() {
		redis, err := repository.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redis.Close()
		cacheRepo = repository.NewCacheRepository(redis)
		logger.Info("Connected to Redis")
	}

	// Таблица маршрутов исходных путей
	routes, err := newDispatchRouter(cfg.Upstream, logger)
	if err != nil {
		logger.Fatal("Failed to build dispatch routes", zap.Error(err))
	}

	// Инициализация сервиса
	linkService := service.NewGuestLinkService(store.Links, cacheRepo, routes, clk, cfg.Cache.TTL, logger)

	// Инициализация записи использований (Worker Pool)
	recorder := service.NewUsageRecorder(store.Usages, clk, logger)
	recorder.Start()
	defer recorder.Stop()

	// Инициализация middleware
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		CleanupInterval:   time.Minute,
	})
	defer rateLimiter.Stop()

	var apiKeyMiddleware gin.HandlerFunc
	if len(cfg.Auth.APIKeys) > 0 {
		apiKeyMiddleware = middleware.RequireAPIKey(cfg.Auth.APIKeys)
		logger.Info("API key authentication enabled", zap.Int("keys_count", len(cfg.Auth.APIKeys)))
	} else {
		logger.Warn("API_KEYS is empty, admin API is not protected")
	}

	// Настройка роутера
	router := handler.NewRouter(linkService, recorder, rateLimiter, apiKeyMiddleware, cfg.App.BaseURL, logger)

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
		logger.Info("Server starting", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newDispatchRouter собирает таблицу маршрутов исходных путей.
// Без UPSTREAM_URL таблица пуста и ни одна гостевая ссылка не разрешится.
func newDispatchRouter(cfg config.UpstreamConfig, logger *zap.Logger) (*dispatch.Router, error) {
	routes := dispatch.NewRouter()
	if cfg.URL == "" {
		logger.Warn("UPSTREAM_URL is empty, guest links will not resolve to any source path")
		return routes, nil
	}

	upstream, err := dispatch.NewUpstream(cfg.URL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if err := routes.Handle("upstream", dispatch.UpstreamRoute, upstream); err != nil {
		return nil, fmt.Errorf("failed to register upstream route: %w", err)
	}
	logger.Info("Upstream proxy enabled", zap.String("url", cfg.URL))
	return routes, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
