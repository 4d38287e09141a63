package handler

import (
	"net/http"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/metrics"
	"github.com/SergeiKhy/guest-urls/internal/middleware"
	"github.com/SergeiKhy/guest-urls/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func NewRouter(
	linkService service.GuestLinkService,
	recorder service.UsageRecorder,
	rateLimiter *middleware.RateLimiter,
	apiKeyMiddleware gin.HandlerFunc,
	baseURL string,
	logger *zap.Logger,
) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// Middleware для логгирования
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})

	// Инициализация обработчика ссылок
	linkHandler := NewLinkHandler(linkService, recorder, baseURL, logger)

	router.GET("/metrics", metrics.Handler())

	// API v.1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", HealthCheck(recorder))

		// Применяем API Key middleware только к защищенным эндпоинтам
		if apiKeyMiddleware != nil {
			v1.Use(apiKeyMiddleware)
		}

		v1.POST("/links", linkHandler.CreateLink)
		v1.GET("/links/:id", linkHandler.GetLink)
		v1.DELETE("/links/:id", linkHandler.DeleteLink)
		v1.GET("/links/:id/stats", linkHandler.GetStats)
		v1.GET("/links/:id/stats/daily", linkHandler.GetDailyStats)
	}

	// Гостевые ссылки: id может содержать '/', поэтому путь разбирается целиком
	guest := []gin.HandlerFunc{}
	if rateLimiter != nil {
		guest = append(guest, rateLimiter.MiddlewareWithKey(middleware.GuestLinkKey))
	}
	guest = append(guest, linkHandler.Dispatch)
	router.Any("/link/*rest", guest...)

	return router
}

// HealthCheck отвечает, что сервис жив, и показывает заполненность буфера статистики
func HealthCheck(recorder service.UsageRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok", "service": "guest-urls"}
		if recorder != nil {
			body["usage_buffer"] = recorder.ChannelStats()
		}
		c.JSON(http.StatusOK, body)
	}
}
