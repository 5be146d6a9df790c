package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/SergeiKhy/shortener/internal/repository"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterConfig конфигурация rate limiter
type RateLimiterConfig struct {
	RequestsPerSecond float64       // Количество запросов в секунду (in-process режим)
	BurstSize         int           // Максимальный размер burst
	CleanupInterval   time.Duration // Интервал очистки неактивных посетителей

	// RedisLimit и RedisWindow включают скользящий счётчик в Redis,
	// общий для всех инстансов. Отказ Redis — fail open.
	RedisLimit  int64
	RedisWindow time.Duration
}

// DefaultRateLimiterConfig конфигурация по умолчанию
var DefaultRateLimiterConfig = RateLimiterConfig{
	RequestsPerSecond: 10, // 10 запросов в секунду
	BurstSize:         20, // Burst до 20 запросов
	CleanupInterval:   time.Minute,
}

// visitor представляет rate limiter для одного клиента
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter middleware в двух режимах: скользящий счётчик в Redis,
// когда настроен кэш, и Token Bucket в памяти процесса как fallback.
type RateLimiter struct {
	config   RateLimiterConfig
	cache    repository.CacheRepository // nil — только in-process режим
	visitors map[string]*visitor        // IP -> visitor
	mu       sync.RWMutex
}

// NewRateLimiter создаёт новый rate limiter middleware.
// cache может быть nil — тогда работает только in-process лимитер.
func NewRateLimiter(config RateLimiterConfig, cache repository.CacheRepository) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		cache:    cache,
		visitors: make(map[string]*visitor),
	}

	// Запускаем горутину для периодической очистки
	go rl.cleanupLoop()

	return rl
}

// cleanupLoop периодически удаляет неактивных посетителей
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		rl.cleanup()
	}
}

// cleanup удаляет посетителей, которые не были активны долгое время
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, v := range rl.visitors {
		if time.Since(v.lastSeen) > rl.config.CleanupInterval*3 {
			delete(rl.visitors, ip)
		}
	}
}

// getLimiter возвращает или создаёт rate limiter для данного IP
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, exists := rl.visitors[ip]; exists {
		v.lastSeen = time.Now()
		return v.limiter
	}

	// Создаём новый limiter с заданными параметрами
	limiter := rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)
	rl.visitors[ip] = &visitor{
		limiter:  limiter,
		lastSeen: time.Now(),
	}

	return limiter
}

// allow применяет активный режим лимитирования для ключа
func (rl *RateLimiter) allow(c *gin.Context, key string) bool {
	if rl.cache != nil && rl.config.RedisLimit > 0 {
		return rl.cache.AllowRequest(c.Request.Context(), key, rl.config.RedisLimit, rl.config.RedisWindow)
	}
	return rl.getLimiter(key).Allow()
}

// Middleware возвращает Gin middleware handler для rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c, c.ClientIP()) {
			rl.reject(c)
			return
		}
		c.Next()
	}
}

// MiddlewareWithKey возвращает rate limiter с кастомным ключом (например, API ключ)
func (rl *RateLimiter) MiddlewareWithKey(getKey func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getKey(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !rl.allow(c, key) {
			rl.reject(c)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) reject(c *gin.Context) {
	retryAfter := int(rl.config.CleanupInterval / time.Second)
	if rl.cache != nil && rl.config.RedisWindow > 0 {
		retryAfter = int(rl.config.RedisWindow / time.Second)
	}
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":       "rate_limit_exceeded",
		"message":     "Слишком много запросов, попробуйте позже",
		"retry_after": retryAfter,
	})
	c.Abort()
}
