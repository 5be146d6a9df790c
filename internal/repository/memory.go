package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/SergeiKhy/shortener/internal/models"
)

// MemoryStorage хранит всё в map под мьютексом. Бэкенд для разработки
// и тестов; счётчики точные, данные живут до рестарта процесса.
type MemoryStorage struct {
	mu        sync.RWMutex
	connected bool
	byCode    map[string]*models.Link
	byID      map[string]*models.Link
	nextID    int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		byCode: make(map[string]*models.Link),
		byID:   make(map[string]*models.Link),
		nextID: 1,
	}
}

func (s *MemoryStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *MemoryStorage) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *MemoryStorage) Initialize(ctx context.Context) error {
	return nil
}

func (s *MemoryStorage) CreateShortURL(ctx context.Context, shortCode, originalURL, userID string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byCode[shortCode]; exists {
		return nil, ErrCodeExists
	}

	link := &models.Link{
		ID:          strconv.FormatInt(s.nextID, 10),
		ShortCode:   shortCode,
		OriginalURL: originalURL,
		UserID:      userID,
		CreatedAt:   time.Now().UTC(),
	}
	s.nextID++
	s.byCode[shortCode] = link
	s.byID[link.ID] = link
	return copyLink(link), nil
}

func (s *MemoryStorage) GetOriginalURL(ctx context.Context, shortCode string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, exists := s.byCode[shortCode]
	if !exists {
		return "", nil
	}
	link.ClickCount++
	return link.OriginalURL, nil
}

func (s *MemoryStorage) GetAllURLs(ctx context.Context, limit, offset int) ([]*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.Link, 0, len(s.byCode))
	for _, link := range s.byCode {
		all = append(all, copyLink(link))
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []*models.Link{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *MemoryStorage) GetURLStats(ctx context.Context, shortCode string) (*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, exists := s.byCode[shortCode]
	if !exists {
		return nil, nil
	}
	return copyLink(link), nil
}

func (s *MemoryStorage) GetUserLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	links := make([]*models.Link, 0)
	for _, link := range s.byCode {
		if link.UserID == userID {
			links = append(links, copyLink(link))
		}
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})
	return links, nil
}

func (s *MemoryStorage) GetLinkByID(ctx context.Context, id string) (*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, exists := s.byID[id]
	if !exists {
		return nil, nil
	}
	return copyLink(link), nil
}

func (s *MemoryStorage) UpdateUserLink(ctx context.Context, id string, upd *models.LinkUpdate) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, exists := s.byID[id]
	if !exists {
		return nil, ErrLinkNotFound
	}

	if upd.ShortCode != nil && *upd.ShortCode != link.ShortCode {
		if _, taken := s.byCode[*upd.ShortCode]; taken {
			return nil, ErrCodeExists
		}
		delete(s.byCode, link.ShortCode)
		link.ShortCode = *upd.ShortCode
		s.byCode[link.ShortCode] = link
	}
	if upd.Title != nil {
		link.Title = *upd.Title
	}
	if upd.OriginalURL != nil {
		link.OriginalURL = *upd.OriginalURL
	}
	return copyLink(link), nil
}

func (s *MemoryStorage) DeleteUserLink(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, exists := s.byID[id]
	if !exists {
		return ErrLinkNotFound
	}
	delete(s.byID, id)
	delete(s.byCode, link.ShortCode)
	return nil
}

// AddClicks точный батчевый инкремент (расширение ClickBatcher).
func (s *MemoryStorage) AddClicks(ctx context.Context, shortCode string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link, exists := s.byCode[shortCode]; exists {
		link.ClickCount += n
	}
	return nil
}

func (s *MemoryStorage) Ping(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func copyLink(l *models.Link) *models.Link {
	c := *l
	return &c
}
