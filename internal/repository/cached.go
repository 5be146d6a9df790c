package repository

import (
	"context"

	"github.com/SergeiKhy/shortener/internal/models"
)

// cachedStorage декоратор над основным хранилищем с read-through кэшем.
// Кэш строго best-effort: его отказ не влияет на результат операции.
//
// Клики при попадании в кэш не доходят до хранилища сразу — они копятся
// дельтой clicks:<code> и либо доливаются синхронизатором, либо
// учитываются на чтении статистики.
type cachedStorage struct {
	primary Storage
	cache   CacheRepository
}

// NewCachedStorage оборачивает primary кэшем.
func NewCachedStorage(primary Storage, cache CacheRepository) Storage {
	return &cachedStorage{primary: primary, cache: cache}
}

func (s *cachedStorage) Connect(ctx context.Context) error {
	return s.primary.Connect(ctx)
}

func (s *cachedStorage) Disconnect(ctx context.Context) error {
	return s.primary.Disconnect(ctx)
}

func (s *cachedStorage) Initialize(ctx context.Context) error {
	return s.primary.Initialize(ctx)
}

func (s *cachedStorage) CreateShortURL(ctx context.Context, shortCode, originalURL, userID string) (*models.Link, error) {
	link, err := s.primary.CreateShortURL(ctx, shortCode, originalURL, userID)
	if err != nil {
		return nil, err
	}
	s.cache.CacheURL(ctx, link.ShortCode, link.OriginalURL, 0)
	return link, nil
}

func (s *cachedStorage) GetOriginalURL(ctx context.Context, shortCode string) (string, error) {
	if cached := s.cache.GetCachedURL(ctx, shortCode); cached != "" {
		s.cache.IncrClicks(ctx, shortCode)
		return cached, nil
	}

	originalURL, err := s.primary.GetOriginalURL(ctx, shortCode)
	if err != nil || originalURL == "" {
		return originalURL, err
	}
	s.cache.CacheURL(ctx, shortCode, originalURL, 0)
	return originalURL, nil
}

func (s *cachedStorage) GetAllURLs(ctx context.Context, limit, offset int) ([]*models.Link, error) {
	return s.primary.GetAllURLs(ctx, limit, offset)
}

// GetURLStats доливает в счётчик дельту, накопленную кэшем.
func (s *cachedStorage) GetURLStats(ctx context.Context, shortCode string) (*models.Link, error) {
	link, err := s.primary.GetURLStats(ctx, shortCode)
	if err != nil || link == nil {
		return link, err
	}
	link.ClickCount += s.cache.ClickDelta(ctx, shortCode)
	return link, nil
}

func (s *cachedStorage) GetUserLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	return s.primary.GetUserLinks(ctx, userID)
}

func (s *cachedStorage) GetLinkByID(ctx context.Context, id string) (*models.Link, error) {
	return s.primary.GetLinkByID(ctx, id)
}

func (s *cachedStorage) UpdateUserLink(ctx context.Context, id string, upd *models.LinkUpdate) (*models.Link, error) {
	// Старый код нужен для инвалидации при его смене
	var oldCode string
	if prev, err := s.primary.GetLinkByID(ctx, id); err == nil && prev != nil {
		oldCode = prev.ShortCode
	}

	link, err := s.primary.UpdateUserLink(ctx, id, upd)
	if err != nil {
		return nil, err
	}

	if oldCode != "" && oldCode != link.ShortCode {
		s.cache.InvalidateURL(ctx, oldCode)
		// Накопленную дельту переносим на новый код, иначе синхронизатор
		// сольёт её в уже несуществующий
		if n := s.cache.TakeClickDelta(ctx, oldCode); n > 0 {
			s.cache.IncrClicksBy(ctx, link.ShortCode, n)
		}
	}
	s.cache.InvalidateURL(ctx, link.ShortCode)
	return link, nil
}

func (s *cachedStorage) DeleteUserLink(ctx context.Context, id string) error {
	var code string
	if prev, err := s.primary.GetLinkByID(ctx, id); err == nil && prev != nil {
		code = prev.ShortCode
	}

	if err := s.primary.DeleteUserLink(ctx, id); err != nil {
		return err
	}
	if code != "" {
		s.cache.InvalidateURL(ctx, code)
		// Дельта удалённого кода больше никому не нужна
		s.cache.TakeClickDelta(ctx, code)
	}
	return nil
}

// AddClicks пробрасывается в primary, если тот умеет батчи.
func (s *cachedStorage) AddClicks(ctx context.Context, shortCode string, n int64) error {
	if batcher, ok := s.primary.(ClickBatcher); ok {
		return batcher.AddClicks(ctx, shortCode, n)
	}
	return ErrUnsupported
}

func (s *cachedStorage) Ping(ctx context.Context) bool {
	return s.primary.Ping(ctx)
}
