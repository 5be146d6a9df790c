package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SergeiKhy/shortener/internal/config"
	"github.com/SergeiKhy/shortener/internal/models"
	"go.uber.org/zap"
)

// EdgeConfigStorage read-only бэкенд поверх удалённого edge-KV по HTTPS.
// Записи раскатываются отдельным деплой-процессом, поэтому все мутации и
// перечисление честно возвращают ErrUnsupported — это объявленный пробел
// возможностей, а не заглушка. Клики не инкрементируются: хранилище
// неизменяемое, счётчик всегда отдаётся как есть.
type EdgeConfigStorage struct {
	cfg    config.EdgeConfig
	logger *zap.Logger

	client *http.Client
}

// Значение под ключом url:<code>: либо голая строка URL,
// либо JSON-объект с метаданными.
type edgeConfigItem struct {
	OriginalURL string    `json:"original_url"`
	UserID      string    `json:"user_id,omitempty"`
	Title       string    `json:"title,omitempty"`
	ClickCount  int64     `json:"click_count,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

func NewEdgeConfigStorage(cfg config.EdgeConfig, logger *zap.Logger) *EdgeConfigStorage {
	return &EdgeConfigStorage{cfg: cfg, logger: logger}
}

// Connect проверяет доступность стора пробным запросом.
func (s *EdgeConfigStorage) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	s.client = &http.Client{Timeout: 10 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL+"/items", nil)
	if err != nil {
		s.client = nil
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		s.client = nil
		return fmt.Errorf("%w: failed to reach edge config: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		s.client = nil
		return fmt.Errorf("%w: edge config rejected token (status %d)", ErrConnection, resp.StatusCode)
	}

	s.logger.Info("Connected to Edge Config", zap.String("url", s.cfg.URL))
	return nil
}

func (s *EdgeConfigStorage) Disconnect(ctx context.Context) error {
	s.client = nil
	return nil
}

func (s *EdgeConfigStorage) Initialize(ctx context.Context) error {
	return nil
}

func (s *EdgeConfigStorage) CreateShortURL(ctx context.Context, shortCode, originalURL, userID string) (*models.Link, error) {
	return nil, fmt.Errorf("%w: edge config is read-only", ErrUnsupported)
}

func (s *EdgeConfigStorage) GetOriginalURL(ctx context.Context, shortCode string) (string, error) {
	item, err := s.getItem(ctx, shortCode)
	if err != nil || item == nil {
		return "", err
	}
	return item.OriginalURL, nil
}

func (s *EdgeConfigStorage) GetAllURLs(ctx context.Context, limit, offset int) ([]*models.Link, error) {
	return nil, fmt.Errorf("%w: edge config does not support enumeration", ErrUnsupported)
}

func (s *EdgeConfigStorage) GetURLStats(ctx context.Context, shortCode string) (*models.Link, error) {
	item, err := s.getItem(ctx, shortCode)
	if err != nil || item == nil {
		return nil, err
	}
	return &models.Link{
		ID:          shortCode,
		ShortCode:   shortCode,
		OriginalURL: item.OriginalURL,
		UserID:      item.UserID,
		Title:       item.Title,
		ClickCount:  item.ClickCount,
		CreatedAt:   item.CreatedAt,
	}, nil
}

func (s *EdgeConfigStorage) GetUserLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	return nil, fmt.Errorf("%w: edge config does not support enumeration", ErrUnsupported)
}

func (s *EdgeConfigStorage) GetLinkByID(ctx context.Context, id string) (*models.Link, error) {
	// У edge-записей нет отдельного ID, используем код
	return s.GetURLStats(ctx, id)
}

func (s *EdgeConfigStorage) UpdateUserLink(ctx context.Context, id string, upd *models.LinkUpdate) (*models.Link, error) {
	return nil, fmt.Errorf("%w: edge config is read-only", ErrUnsupported)
}

func (s *EdgeConfigStorage) DeleteUserLink(ctx context.Context, id string) error {
	return fmt.Errorf("%w: edge config is read-only", ErrUnsupported)
}

func (s *EdgeConfigStorage) Ping(ctx context.Context) bool {
	if s.client == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(pingCtx, http.MethodGet, s.cfg.URL+"/items", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (s *EdgeConfigStorage) getItem(ctx context.Context, shortCode string) (*edgeConfigItem, error) {
	url := fmt.Sprintf("%s/item/url:%s", s.cfg.URL, shortCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: edge config request failed: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: edge config returned status %d", ErrBackend, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read edge config response: %v", ErrBackend, err)
	}

	// Голая JSON-строка означает запись без метаданных
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, `"`) {
		var plain string
		if err := json.Unmarshal(body, &plain); err != nil {
			return nil, fmt.Errorf("%w: failed to decode edge config item: %v", ErrBackend, err)
		}
		return &edgeConfigItem{OriginalURL: plain}, nil
	}

	var item edgeConfigItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("%w: failed to decode edge config item: %v", ErrBackend, err)
	}
	return &item, nil
}
