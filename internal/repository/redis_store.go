package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/SergeiKhy/shortener/internal/config"
	"github.com/SergeiKhy/shortener/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStorage использует Redis как ОСНОВНОЕ хранилище, а не кэш:
// JSON-запись под ключом url:<code> плюс вторичный индекс url:id:<id> → code.
// Перечисление идёт через SCAN — медленно на больших объёмах, но работает.
//
// Инкремент кликов — чтение и перезапись JSON, под гонкой инкремент может
// потеряться. Счётчик приблизительный.
type RedisStorage struct {
	cfg    config.RedisConfig
	logger *zap.Logger

	client *redis.Client
}

const (
	redisURLPrefix = "url:"
	redisIDPrefix  = "url:id:"
)

func NewRedisStorage(cfg config.RedisConfig, logger *zap.Logger) *RedisStorage {
	return &RedisStorage{cfg: cfg, logger: logger}
}

func (s *RedisStorage) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port),
		Password:     s.cfg.Password,
		DB:           s.cfg.DB,
		PoolSize:     100,
		MinIdleConns: 10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("%w: failed to connect to redis: %v", ErrConnection, err)
	}

	s.client = client
	s.logger.Info("Connected to Redis (primary store)", zap.String("host", s.cfg.Host))
	return nil
}

func (s *RedisStorage) Disconnect(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

// Initialize для Redis — no-op: схемы нет.
func (s *RedisStorage) Initialize(ctx context.Context) error {
	return nil
}

func (s *RedisStorage) CreateShortURL(ctx context.Context, shortCode, originalURL, userID string) (*models.Link, error) {
	link := &models.Link{
		ID:          strconv.FormatInt(time.Now().UnixNano(), 10),
		ShortCode:   shortCode,
		OriginalURL: originalURL,
		UserID:      userID,
		CreatedAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(link)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal link: %v", ErrBackend, err)
	}

	// SetNX гарантирует уникальность кода
	ok, err := s.client.SetNX(ctx, redisURLPrefix+shortCode, data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create link: %v", ErrBackend, err)
	}
	if !ok {
		return nil, ErrCodeExists
	}

	if err := s.client.Set(ctx, redisIDPrefix+link.ID, shortCode, 0).Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to index link id: %v", ErrBackend, err)
	}

	return link, nil
}

func (s *RedisStorage) GetOriginalURL(ctx context.Context, shortCode string) (string, error) {
	link, err := s.getByCode(ctx, shortCode)
	if err != nil || link == nil {
		return "", err
	}

	link.ClickCount++
	if err := s.writeLink(ctx, link); err != nil {
		s.logger.Warn("Failed to increment click count",
			zap.String("short_code", shortCode),
			zap.Error(err),
		)
	}

	return link.OriginalURL, nil
}

// GetAllURLs перечисляет все записи через SCAN и сортирует в памяти.
func (s *RedisStorage) GetAllURLs(ctx context.Context, limit, offset int) ([]*models.Link, error) {
	links, err := s.scanAll(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})

	if offset >= len(links) {
		return []*models.Link{}, nil
	}
	end := offset + limit
	if end > len(links) {
		end = len(links)
	}
	return links[offset:end], nil
}

func (s *RedisStorage) GetURLStats(ctx context.Context, shortCode string) (*models.Link, error) {
	return s.getByCode(ctx, shortCode)
}

func (s *RedisStorage) GetUserLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	all, err := s.scanAll(ctx)
	if err != nil {
		return nil, err
	}

	links := make([]*models.Link, 0)
	for _, l := range all {
		if l.UserID == userID {
			links = append(links, l)
		}
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})
	return links, nil
}

func (s *RedisStorage) GetLinkByID(ctx context.Context, id string) (*models.Link, error) {
	code, err := s.client.Get(ctx, redisIDPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to resolve link id: %v", ErrBackend, err)
	}
	return s.getByCode(ctx, code)
}

func (s *RedisStorage) UpdateUserLink(ctx context.Context, id string, upd *models.LinkUpdate) (*models.Link, error) {
	link, err := s.GetLinkByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}

	oldCode := link.ShortCode
	if upd.Title != nil {
		link.Title = *upd.Title
	}
	if upd.OriginalURL != nil {
		link.OriginalURL = *upd.OriginalURL
	}
	if upd.ShortCode != nil && *upd.ShortCode != oldCode {
		// Смена кода: новый ключ через SetNX, старый удаляем
		link.ShortCode = *upd.ShortCode
		data, err := json.Marshal(link)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to marshal link: %v", ErrBackend, err)
		}
		ok, err := s.client.SetNX(ctx, redisURLPrefix+link.ShortCode, data, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to update link: %v", ErrBackend, err)
		}
		if !ok {
			return nil, ErrCodeExists
		}
		if err := s.client.Del(ctx, redisURLPrefix+oldCode).Err(); err != nil {
			return nil, fmt.Errorf("%w: failed to drop old code: %v", ErrBackend, err)
		}
		if err := s.client.Set(ctx, redisIDPrefix+link.ID, link.ShortCode, 0).Err(); err != nil {
			return nil, fmt.Errorf("%w: failed to update id index: %v", ErrBackend, err)
		}
		return link, nil
	}

	if err := s.writeLink(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

func (s *RedisStorage) DeleteUserLink(ctx context.Context, id string) error {
	link, err := s.GetLinkByID(ctx, id)
	if err != nil {
		return err
	}
	if link == nil {
		return ErrLinkNotFound
	}

	if err := s.client.Del(ctx, redisURLPrefix+link.ShortCode, redisIDPrefix+id).Err(); err != nil {
		return fmt.Errorf("%w: failed to delete link: %v", ErrBackend, err)
	}
	return nil
}

// AddClicks сливает накопленную дельту в запись (расширение ClickBatcher).
func (s *RedisStorage) AddClicks(ctx context.Context, shortCode string, n int64) error {
	link, err := s.getByCode(ctx, shortCode)
	if err != nil {
		return err
	}
	if link == nil {
		return nil
	}
	link.ClickCount += n
	return s.writeLink(ctx, link)
}

func (s *RedisStorage) Ping(ctx context.Context) bool {
	if s.client == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx).Err() == nil
}

func (s *RedisStorage) getByCode(ctx context.Context, shortCode string) (*models.Link, error) {
	data, err := s.client.Get(ctx, redisURLPrefix+shortCode).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to get link: %v", ErrBackend, err)
	}

	var link models.Link
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal link: %v", ErrBackend, err)
	}
	return &link, nil
}

func (s *RedisStorage) writeLink(ctx context.Context, link *models.Link) error {
	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal link: %v", ErrBackend, err)
	}
	if err := s.client.Set(ctx, redisURLPrefix+link.ShortCode, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: failed to write link: %v", ErrBackend, err)
	}
	return nil
}

func (s *RedisStorage) scanAll(ctx context.Context) ([]*models.Link, error) {
	links := make([]*models.Link, 0)

	iter := s.client.Scan(ctx, 0, redisURLPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		// Индексные ключи url:id:* пропускаем
		if strings.HasPrefix(key, redisIDPrefix) {
			continue
		}
		link, err := s.getByCode(ctx, strings.TrimPrefix(key, redisURLPrefix))
		if err != nil {
			return nil, err
		}
		if link != nil {
			links = append(links, link)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to scan links: %v", ErrBackend, err)
	}
	return links, nil
}
