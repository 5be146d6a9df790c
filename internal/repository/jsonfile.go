package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/SergeiKhy/shortener/internal/config"
	"github.com/SergeiKhy/shortener/internal/models"
	"go.uber.org/zap"
)

// JSONFileStorage держит весь набор ссылок в одном JSON-файле:
// каждая мутация читает файл целиком, меняет и переписывает его.
// Рассчитан строго на один процесс; мьютекс защищает только горутины.
// ID — timestamp-токен, счётчики под мьютексом точные.
type JSONFileStorage struct {
	cfg    config.JSONFileConfig
	logger *zap.Logger

	mu        sync.Mutex
	connected bool
}

type jsonFileData struct {
	Links []*models.Link `json:"links"`
}

func NewJSONFileStorage(cfg config.JSONFileConfig, logger *zap.Logger) *JSONFileStorage {
	return &JSONFileStorage{cfg: cfg, logger: logger}
}

// Connect создаёт каталог и пустой файл, если их ещё нет.
func (s *JSONFileStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("%w: failed to create data directory: %v", ErrConnection, err)
	}
	if _, err := os.Stat(s.cfg.Path); os.IsNotExist(err) {
		if err := s.write(&jsonFileData{Links: []*models.Link{}}); err != nil {
			return fmt.Errorf("%w: failed to create data file: %v", ErrConnection, err)
		}
	}

	s.connected = true
	s.logger.Info("Opened JSON file store", zap.String("path", s.cfg.Path))
	return nil
}

func (s *JSONFileStorage) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *JSONFileStorage) Initialize(ctx context.Context) error {
	return nil
}

func (s *JSONFileStorage) CreateShortURL(ctx context.Context, shortCode, originalURL, userID string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return nil, err
	}

	for _, l := range data.Links {
		if l.ShortCode == shortCode {
			return nil, ErrCodeExists
		}
	}

	link := &models.Link{
		ID:          strconv.FormatInt(time.Now().UnixNano(), 10),
		ShortCode:   shortCode,
		OriginalURL: originalURL,
		UserID:      userID,
		CreatedAt:   time.Now().UTC(),
	}
	data.Links = append(data.Links, link)

	if err := s.write(data); err != nil {
		return nil, err
	}
	return copyLink(link), nil
}

func (s *JSONFileStorage) GetOriginalURL(ctx context.Context, shortCode string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return "", err
	}

	for _, l := range data.Links {
		if l.ShortCode == shortCode {
			l.ClickCount++
			if err := s.write(data); err != nil {
				s.logger.Warn("Failed to persist click count",
					zap.String("short_code", shortCode),
					zap.Error(err),
				)
			}
			return l.OriginalURL, nil
		}
	}
	return "", nil
}

func (s *JSONFileStorage) GetAllURLs(ctx context.Context, limit, offset int) ([]*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return nil, err
	}

	links := make([]*models.Link, 0, len(data.Links))
	for _, l := range data.Links {
		links = append(links, copyLink(l))
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

func (s *JSONFileStorage) GetURLStats(ctx context.Context, shortCode string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, l := range data.Links {
		if l.ShortCode == shortCode {
			return copyLink(l), nil
		}
	}
	return nil, nil
}

func (s *JSONFileStorage) GetUserLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return nil, err
	}

	links := make([]*models.Link, 0)
	for _, l := range data.Links {
		if l.UserID == userID {
			links = append(links, copyLink(l))
		}
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})
	return links, nil
}

func (s *JSONFileStorage) GetLinkByID(ctx context.Context, id string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, l := range data.Links {
		if l.ID == id {
			return copyLink(l), nil
		}
	}
	return nil, nil
}

func (s *JSONFileStorage) UpdateUserLink(ctx context.Context, id string, upd *models.LinkUpdate) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return nil, err
	}

	var target *models.Link
	for _, l := range data.Links {
		if l.ID == id {
			target = l
			break
		}
	}
	if target == nil {
		return nil, ErrLinkNotFound
	}

	if upd.ShortCode != nil && *upd.ShortCode != target.ShortCode {
		for _, l := range data.Links {
			if l.ShortCode == *upd.ShortCode {
				return nil, ErrCodeExists
			}
		}
		target.ShortCode = *upd.ShortCode
	}
	if upd.Title != nil {
		target.Title = *upd.Title
	}
	if upd.OriginalURL != nil {
		target.OriginalURL = *upd.OriginalURL
	}

	if err := s.write(data); err != nil {
		return nil, err
	}
	return copyLink(target), nil
}

func (s *JSONFileStorage) DeleteUserLink(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}

	for i, l := range data.Links {
		if l.ID == id {
			data.Links = append(data.Links[:i], data.Links[i+1:]...)
			return s.write(data)
		}
	}
	return ErrLinkNotFound
}

// AddClicks точный батчевый инкремент (расширение ClickBatcher).
func (s *JSONFileStorage) AddClicks(ctx context.Context, shortCode string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	for _, l := range data.Links {
		if l.ShortCode == shortCode {
			l.ClickCount += n
			return s.write(data)
		}
	}
	return nil
}

func (s *JSONFileStorage) Ping(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false
	}
	_, err := os.Stat(s.cfg.Path)
	return err == nil
}

func (s *JSONFileStorage) read() (*jsonFileData, error) {
	raw, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read data file: %v", ErrBackend, err)
	}

	var data jsonFileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: failed to parse data file: %v", ErrBackend, err)
	}
	if data.Links == nil {
		data.Links = []*models.Link{}
	}
	return &data, nil
}

func (s *JSONFileStorage) write(data *jsonFileData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal data: %v", ErrBackend, err)
	}
	if err := os.WriteFile(s.cfg.Path, raw, 0o644); err != nil {
		return fmt.Errorf("%w: failed to write data file: %v", ErrBackend, err)
	}
	return nil
}
