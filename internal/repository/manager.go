package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/SergeiKhy/shortener/internal/config"
	"github.com/SergeiKhy/shortener/internal/models"
	"go.uber.org/zap"
)

// Ключи бэкендов для ACTIVE_BACKEND.
const (
	BackendPostgres   = "postgres"
	BackendSupabase   = "supabase"
	BackendNeon       = "neon"
	BackendSQLite     = "sqlite"
	BackendTurso      = "turso"
	BackendMongo      = "mongodb"
	BackendRedis      = "redis"
	BackendMemory     = "memory"
	BackendEdgeConfig = "edge_config"
	BackendREST       = "supabase_rest"
	BackendJSONFile   = "jsonfile"
)

// HealthStatus результат независимых проверок хранилища и кэша.
type HealthStatus struct {
	Backend   string    `json:"backend"`
	Primary   bool      `json:"primary"`
	Cache     *bool     `json:"cache,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager единая точка входа в слой хранения: собирает активный бэкенд
// по конфигу, подключает его и, если настроен кэш-Redis, оборачивает
// read-through декоратором. Создаётся один раз в main и передаётся
// зависимостью, без пакетного синглтона.
type Manager struct {
	backend string
	storage Storage
	primary Storage
	cache   CacheRepository
	redis   *RedisDB
	logger  *zap.Logger
}

// NewManager строит и подключает хранилище. Ошибка кэша не фатальна:
// менеджер продолжает работать без кэша.
func NewManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	primary, err := newBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := primary.Connect(ctx); err != nil {
		return nil, err
	}
	if err := primary.Initialize(ctx); err != nil {
		_ = primary.Disconnect(ctx)
		return nil, err
	}

	m := &Manager{
		backend: cfg.Storage.Backend,
		storage: primary,
		primary: primary,
		logger:  logger,
	}

	if cfg.Cache.Enabled() {
		redisDB, err := NewRedisClient(cfg.Cache.Redis)
		if err != nil {
			logger.Warn("Cache Redis unavailable, running without cache", zap.Error(err))
		} else {
			m.redis = redisDB
			m.cache = NewCacheRepository(redisDB, logger)
			m.storage = NewCachedStorage(primary, m.cache)
			logger.Info("Read-through cache enabled")
		}
	}

	logger.Info("Storage manager ready", zap.String("backend", m.backend))
	return m, nil
}

// newBackend фабрика адаптеров по ключу конфига.
func newBackend(cfg *config.Config, logger *zap.Logger) (Storage, error) {
	switch cfg.Storage.Backend {
	case BackendPostgres, BackendSupabase, BackendNeon:
		return NewPostgresStorage(cfg.Storage.Postgres, logger), nil
	case BackendSQLite, BackendTurso:
		return NewSQLiteStorage(cfg.Storage.SQLite, logger), nil
	case BackendMongo:
		return NewMongoStorage(cfg.Storage.Mongo, logger), nil
	case BackendRedis:
		return NewRedisStorage(cfg.Storage.Redis, logger), nil
	case BackendMemory:
		return NewMemoryStorage(), nil
	case BackendEdgeConfig:
		return NewEdgeConfigStorage(cfg.Storage.EdgeConfig, logger), nil
	case BackendREST:
		return NewRESTStorage(cfg.Storage.REST, logger), nil
	case BackendJSONFile:
		return NewJSONFileStorage(cfg.Storage.JSONFile, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// StorageStats краткая сводка активного стека хранения.
type StorageStats struct {
	Backend string `json:"backend"`
	Cached  bool   `json:"cached"`
}

// Backend возвращает ключ активного бэкенда.
func (m *Manager) Backend() string {
	return m.backend
}

// Stats возвращает сводку стека без обращения к бэкенду.
func (m *Manager) Stats() StorageStats {
	return StorageStats{Backend: m.backend, Cached: m.cache != nil}
}

// Cache возвращает кэш-репозиторий или nil, когда кэш не настроен.
func (m *Manager) Cache() CacheRepository {
	return m.cache
}

// Batcher возвращает основное хранилище как ClickBatcher,
// если бэкенд умеет батчевые инкременты.
func (m *Manager) Batcher() (ClickBatcher, bool) {
	b, ok := m.primary.(ClickBatcher)
	return b, ok
}

// Close отключает хранилище и кэш.
func (m *Manager) Close(ctx context.Context) error {
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			m.logger.Warn("Failed to close cache Redis", zap.Error(err))
		}
	}
	return m.primary.Disconnect(ctx)
}

// HealthCheck пингует хранилище и кэш независимо друг от друга.
func (m *Manager) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Backend:   m.backend,
		Primary:   m.storage.Ping(ctx),
		Timestamp: time.Now().UTC(),
	}
	if m.cache != nil {
		ok := m.cache.Ping(ctx)
		status.Cache = &ok
	}
	return status
}

// Делегирование полного Storage-контракта активному стеку
// (с кэшем или без).

func (m *Manager) CreateShortURL(ctx context.Context, shortCode, originalURL, userID string) (*models.Link, error) {
	return m.storage.CreateShortURL(ctx, shortCode, originalURL, userID)
}

func (m *Manager) GetOriginalURL(ctx context.Context, shortCode string) (string, error) {
	return m.storage.GetOriginalURL(ctx, shortCode)
}

func (m *Manager) GetAllURLs(ctx context.Context, limit, offset int) ([]*models.Link, error) {
	return m.storage.GetAllURLs(ctx, limit, offset)
}

func (m *Manager) GetURLStats(ctx context.Context, shortCode string) (*models.Link, error) {
	return m.storage.GetURLStats(ctx, shortCode)
}

func (m *Manager) GetUserLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	return m.storage.GetUserLinks(ctx, userID)
}

func (m *Manager) GetLinkByID(ctx context.Context, id string) (*models.Link, error) {
	return m.storage.GetLinkByID(ctx, id)
}

func (m *Manager) UpdateUserLink(ctx context.Context, id string, upd *models.LinkUpdate) (*models.Link, error) {
	return m.storage.UpdateUserLink(ctx, id, upd)
}

func (m *Manager) DeleteUserLink(ctx context.Context, id string) error {
	return m.storage.DeleteUserLink(ctx, id)
}
