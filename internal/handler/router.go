package handler

import (
	"github.com/SergeiKhy/shortener/internal/middleware"
	"github.com/SergeiKhy/shortener/internal/repository"
	"github.com/SergeiKhy/shortener/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func NewRouter(
	linkService service.LinkService,
	manager *repository.Manager,
	rateLimiter *middleware.RateLimiter,
	apiKeys map[string]string,
	baseURL string,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.Default()

	// Middleware для логгирования
	router.Use(func(c *gin.Context) {
		logger.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()),
		)
		c.Next()
	})

	// Rate limiting для всех запросов
	router.Use(rateLimiter.Middleware())

	linkHandler := NewLinkHandler(linkService, manager, baseURL, logger)

	// API v.1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", linkHandler.HealthCheck)

		// Создание доступно и анонимно: ключ лишь привязывает владельца
		v1.POST("/links", middleware.OptionalAPIKey(apiKeys), linkHandler.CreateLink)
		v1.GET("/links", linkHandler.ListLinks)
		v1.GET("/links/:code/stats", linkHandler.GetStats)

		// Личные ссылки — только с ключом
		me := v1.Group("/me", middleware.RequireAPIKey(apiKeys))
		{
			me.GET("/links", linkHandler.GetUserLinks)
			me.PATCH("/links/:id", linkHandler.UpdateLink)
			me.DELETE("/links/:id", linkHandler.DeleteLink)
		}
	}

	// Редирект (корневой путь) - без API key проверки
	router.GET("/:code", linkHandler.Redirect)

	return router
}
