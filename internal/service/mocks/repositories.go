package mocks

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/SergeiKhy/shortener/internal/models"
	"github.com/SergeiKhy/shortener/internal/repository"
)

// MockStorage implements repository.Storage for testing.
// Behaves like the in-memory backend plus error injection.
type MockStorage struct {
	mu     sync.RWMutex
	links  map[string]*models.Link // short code -> link
	nextID int64

	// FailWith, when set, is returned by every mutating operation
	FailWith error

	// CollideFirst, when positive, makes that many CreateShortURL calls
	// fail with ErrCodeExists before the next one succeeds
	CollideFirst int
}

func NewMockStorage() *MockStorage {
	return &MockStorage{
		links:  make(map[string]*models.Link),
		nextID: 1,
	}
}

func (m *MockStorage) Connect(ctx context.Context) error    { return nil }
func (m *MockStorage) Disconnect(ctx context.Context) error { return nil }
func (m *MockStorage) Initialize(ctx context.Context) error { return nil }
func (m *MockStorage) Ping(ctx context.Context) bool        { return true }

func (m *MockStorage) CreateShortURL(ctx context.Context, shortCode, originalURL, userID string) (*models.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if m.CollideFirst > 0 {
		m.CollideFirst--
		return nil, repository.ErrCodeExists
	}
	if _, exists := m.links[shortCode]; exists {
		return nil, repository.ErrCodeExists
	}

	link := &models.Link{
		ID:          strconv.FormatInt(m.nextID, 10),
		ShortCode:   shortCode,
		OriginalURL: originalURL,
		UserID:      userID,
		CreatedAt:   time.Now().UTC(),
	}
	m.nextID++
	m.links[shortCode] = link
	return link, nil
}

func (m *MockStorage) GetOriginalURL(ctx context.Context, shortCode string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, exists := m.links[shortCode]
	if !exists {
		return "", nil
	}
	link.ClickCount++
	return link.OriginalURL, nil
}

func (m *MockStorage) GetAllURLs(ctx context.Context, limit, offset int) ([]*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	links := make([]*models.Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	return links, nil
}

func (m *MockStorage) GetURLStats(ctx context.Context, shortCode string) (*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.links[shortCode]
	if !exists {
		return nil, nil
	}
	return link, nil
}

func (m *MockStorage) GetUserLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	links := make([]*models.Link, 0)
	for _, l := range m.links {
		if l.UserID == userID {
			links = append(links, l)
		}
	}
	return links, nil
}

func (m *MockStorage) GetLinkByID(ctx context.Context, id string) (*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, l := range m.links {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, nil
}

func (m *MockStorage) UpdateUserLink(ctx context.Context, id string, upd *models.LinkUpdate) (*models.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return nil, m.FailWith
	}

	for _, l := range m.links {
		if l.ID != id {
			continue
		}
		if upd.ShortCode != nil && *upd.ShortCode != l.ShortCode {
			if _, taken := m.links[*upd.ShortCode]; taken {
				return nil, repository.ErrCodeExists
			}
			delete(m.links, l.ShortCode)
			l.ShortCode = *upd.ShortCode
			m.links[l.ShortCode] = l
		}
		if upd.Title != nil {
			l.Title = *upd.Title
		}
		if upd.OriginalURL != nil {
			l.OriginalURL = *upd.OriginalURL
		}
		return l, nil
	}
	return nil, repository.ErrLinkNotFound
}

func (m *MockStorage) DeleteUserLink(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}

	for code, l := range m.links {
		if l.ID == id {
			delete(m.links, code)
			return nil
		}
	}
	return repository.ErrLinkNotFound
}

func (m *MockStorage) AddClicks(ctx context.Context, shortCode string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}
	if l, exists := m.links[shortCode]; exists {
		l.ClickCount += n
	}
	return nil
}

// Clicks returns the stored click count for assertions.
func (m *MockStorage) Clicks(shortCode string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if l, exists := m.links[shortCode]; exists {
		return l.ClickCount
	}
	return 0
}

func (m *MockStorage) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = make(map[string]*models.Link)
	m.nextID = 1
	m.FailWith = nil
	m.CollideFirst = 0
}

// MockCache implements repository.CacheRepository for testing.
// With Broken set every operation behaves like a dead Redis:
// misses, zero deltas and allowed requests.
type MockCache struct {
	mu     sync.RWMutex
	urls   map[string]string
	deltas map[string]int64
	counts map[string]int64

	Broken bool
}

func NewMockCache() *MockCache {
	return &MockCache{
		urls:   make(map[string]string),
		deltas: make(map[string]int64),
		counts: make(map[string]int64),
	}
}

func (m *MockCache) CacheURL(ctx context.Context, shortCode, originalURL string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Broken {
		return
	}
	m.urls[shortCode] = originalURL
}

func (m *MockCache) GetCachedURL(ctx context.Context, shortCode string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Broken {
		return ""
	}
	return m.urls[shortCode]
}

func (m *MockCache) InvalidateURL(ctx context.Context, shortCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Broken {
		return
	}
	delete(m.urls, shortCode)
}

func (m *MockCache) IncrClicks(ctx context.Context, shortCode string) {
	m.IncrClicksBy(ctx, shortCode, 1)
}

func (m *MockCache) IncrClicksBy(ctx context.Context, shortCode string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Broken {
		return
	}
	m.deltas[shortCode] += n
}

func (m *MockCache) ClickDelta(ctx context.Context, shortCode string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Broken {
		return 0
	}
	return m.deltas[shortCode]
}

func (m *MockCache) TakeClickDelta(ctx context.Context, shortCode string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Broken {
		return 0
	}
	n := m.deltas[shortCode]
	delete(m.deltas, shortCode)
	return n
}

func (m *MockCache) DirtyCodes(ctx context.Context) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Broken {
		return nil
	}
	codes := make([]string, 0, len(m.deltas))
	for code := range m.deltas {
		codes = append(codes, code)
	}
	return codes
}

func (m *MockCache) AllowRequest(ctx context.Context, id string, limit int64, window time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Broken {
		return true // fail open
	}
	m.counts[id]++
	return m.counts[id] <= limit
}

func (m *MockCache) Ping(ctx context.Context) bool {
	return !m.Broken
}

// Cached reports whether the code is currently cached.
func (m *MockCache) Cached(shortCode string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.urls[shortCode]
	return ok
}

func (m *MockCache) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls = make(map[string]string)
	m.deltas = make(map[string]int64)
	m.counts = make(map[string]int64)
	m.Broken = false
}
