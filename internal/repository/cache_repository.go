package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CacheRepository best-effort кэш поверх Redis: каждая операция гасит
// свои ошибки сама (логирует и возвращает промах/ноль/allow), поэтому
// отказ Redis никогда не ломает основной путь запроса.
type CacheRepository interface {
	// CacheURL кладёт пару код→URL с ttl (0 — ttl по умолчанию).
	CacheURL(ctx context.Context, shortCode, originalURL string, ttl time.Duration)
	// GetCachedURL возвращает URL из кэша и продлевает TTL. "" — промах.
	GetCachedURL(ctx context.Context, shortCode string) string
	// InvalidateURL выбрасывает код из кэша.
	InvalidateURL(ctx context.Context, shortCode string)

	// IncrClicks накапливает дельту кликов, ещё не долитую в хранилище.
	IncrClicks(ctx context.Context, shortCode string)
	// IncrClicksBy возвращает дельту обратно после неудачного слива.
	IncrClicksBy(ctx context.Context, shortCode string, n int64)
	// ClickDelta читает накопленную дельту без сброса.
	ClickDelta(ctx context.Context, shortCode string) int64
	// TakeClickDelta атомарно забирает и обнуляет дельту (GETDEL).
	TakeClickDelta(ctx context.Context, shortCode string) int64
	// DirtyCodes возвращает коды с ненулевой дельтой.
	DirtyCodes(ctx context.Context) []string

	// AllowRequest скользящий счётчик запросов. При отказе Redis — true.
	AllowRequest(ctx context.Context, id string, limit int64, window time.Duration) bool

	Ping(ctx context.Context) bool
}

const (
	cacheURLPrefix   = "cache:url:"
	cacheClickPrefix = "clicks:"
	rateLimitPrefix  = "ratelimit:"

	defaultCacheTTL = time.Hour
	clickDeltaTTL   = 30 * 24 * time.Hour
)

type cacheRepository struct {
	redis  *RedisDB
	logger *zap.Logger
}

func NewCacheRepository(redis *RedisDB, logger *zap.Logger) CacheRepository {
	return &cacheRepository{redis: redis, logger: logger}
}

func (r *cacheRepository) CacheURL(ctx context.Context, shortCode, originalURL string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if err := r.redis.Client.Set(ctx, cacheURLPrefix+shortCode, originalURL, ttl).Err(); err != nil {
		r.logger.Warn("Cache set failed", zap.String("short_code", shortCode), zap.Error(err))
	}
}

func (r *cacheRepository) GetCachedURL(ctx context.Context, shortCode string) string {
	key := cacheURLPrefix + shortCode
	val, err := r.redis.Client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("Cache get failed", zap.String("short_code", shortCode), zap.Error(err))
		}
		return ""
	}

	// Горячие ссылки живут в кэше дольше
	if err := r.redis.Client.Expire(ctx, key, defaultCacheTTL).Err(); err != nil {
		r.logger.Debug("Cache TTL refresh failed", zap.String("short_code", shortCode), zap.Error(err))
	}
	return val
}

func (r *cacheRepository) InvalidateURL(ctx context.Context, shortCode string) {
	if err := r.redis.Client.Del(ctx, cacheURLPrefix+shortCode).Err(); err != nil {
		r.logger.Warn("Cache invalidate failed", zap.String("short_code", shortCode), zap.Error(err))
	}
}

func (r *cacheRepository) IncrClicks(ctx context.Context, shortCode string) {
	r.IncrClicksBy(ctx, shortCode, 1)
}

func (r *cacheRepository) IncrClicksBy(ctx context.Context, shortCode string, n int64) {
	key := cacheClickPrefix + shortCode
	if err := r.redis.Client.IncrBy(ctx, key, n).Err(); err != nil {
		r.logger.Warn("Click delta increment failed", zap.String("short_code", shortCode), zap.Error(err))
		return
	}
	if err := r.redis.Client.Expire(ctx, key, clickDeltaTTL).Err(); err != nil {
		r.logger.Debug("Click delta TTL set failed", zap.String("short_code", shortCode), zap.Error(err))
	}
}

func (r *cacheRepository) ClickDelta(ctx context.Context, shortCode string) int64 {
	n, err := r.redis.Client.Get(ctx, cacheClickPrefix+shortCode).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("Click delta read failed", zap.String("short_code", shortCode), zap.Error(err))
		}
		return 0
	}
	return n
}

func (r *cacheRepository) TakeClickDelta(ctx context.Context, shortCode string) int64 {
	n, err := r.redis.Client.GetDel(ctx, cacheClickPrefix+shortCode).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("Click delta take failed", zap.String("short_code", shortCode), zap.Error(err))
		}
		return 0
	}
	return n
}

func (r *cacheRepository) DirtyCodes(ctx context.Context) []string {
	codes := make([]string, 0)

	iter := r.redis.Client.Scan(ctx, 0, cacheClickPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		codes = append(codes, iter.Val()[len(cacheClickPrefix):])
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("Click delta scan failed", zap.Error(err))
	}
	return codes
}

// AllowRequest INCR+EXPIRE на окно. Любая ошибка Redis трактуется как
// разрешение: лимитер не должен ронять сервис вместе с кэшем.
func (r *cacheRepository) AllowRequest(ctx context.Context, id string, limit int64, window time.Duration) bool {
	key := rateLimitPrefix + id

	count, err := r.redis.Client.Incr(ctx, key).Result()
	if err != nil {
		r.logger.Warn("Rate limit counter failed, allowing request", zap.String("id", id), zap.Error(err))
		return true
	}
	if count == 1 {
		if err := r.redis.Client.Expire(ctx, key, window).Err(); err != nil {
			r.logger.Debug("Rate limit TTL set failed", zap.String("id", id), zap.Error(err))
		}
	}
	return count <= limit
}

func (r *cacheRepository) Ping(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.redis.Client.Ping(pingCtx).Err() == nil
}
