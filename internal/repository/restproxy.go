package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/SergeiKhy/shortener/internal/config"
	"github.com/SergeiKhy/shortener/internal/models"
	"go.uber.org/zap"
)

// RESTStorage гоняет каждую операцию отдельным HTTPS-запросом к
// PostgREST-совместимому API (Supabase). SQL не используется вовсе:
// фильтры уходят в query string (short_code=eq.X), вставка — POST с
// Prefer: return=representation.
//
// Инкремент клика — чтение и PATCH двумя запросами, под гонкой инкремент
// может потеряться. Счётчик приблизительный.
//
// На 5xx и 429 запрос повторяется до 3 раз с экспоненциальной задержкой
// и джиттером (потолок 10 секунд). На 401/403 при чтении ссылок
// пользователя выполняется повтор с привилегированным service-ключом,
// если он задан.
type RESTStorage struct {
	cfg    config.RESTConfig
	logger *zap.Logger

	client *http.Client
}

const (
	restMaxAttempts  = 3
	restBackoffBase  = 500 * time.Millisecond
	restBackoffLimit = 10 * time.Second
)

type restLink struct {
	ID          json.Number `json:"id"`
	ShortCode   string      `json:"short_code"`
	OriginalURL string      `json:"original_url"`
	UserID      *string     `json:"user_id"`
	Title       *string     `json:"title"`
	ClickCount  int64       `json:"click_count"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (r *restLink) toModel() *models.Link {
	link := &models.Link{
		ID:          r.ID.String(),
		ShortCode:   r.ShortCode,
		OriginalURL: r.OriginalURL,
		ClickCount:  r.ClickCount,
		CreatedAt:   r.CreatedAt,
	}
	if r.UserID != nil {
		link.UserID = *r.UserID
	}
	if r.Title != nil {
		link.Title = *r.Title
	}
	return link
}

func NewRESTStorage(cfg config.RESTConfig, logger *zap.Logger) *RESTStorage {
	return &RESTStorage{cfg: cfg, logger: logger}
}

func (s *RESTStorage) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	s.client = &http.Client{Timeout: 15 * time.Second}

	// Пробный запрос с минимальной выборкой
	resp, err := s.do(ctx, http.MethodGet, "/rest/v1/urls?select=id&limit=1", nil, s.cfg.AnonKey)
	if err != nil {
		s.client = nil
		return fmt.Errorf("%w: failed to reach REST API: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		s.client = nil
		return fmt.Errorf("%w: REST API rejected key (status %d)", ErrConnection, resp.StatusCode)
	}

	s.logger.Info("Connected to REST backend", zap.String("url", s.cfg.URL))
	return nil
}

func (s *RESTStorage) Disconnect(ctx context.Context) error {
	s.client = nil
	return nil
}

// Initialize — no-op: схемой владеет удалённая сторона.
func (s *RESTStorage) Initialize(ctx context.Context) error {
	return nil
}

func (s *RESTStorage) CreateShortURL(ctx context.Context, shortCode, originalURL, userID string) (*models.Link, error) {
	payload := map[string]any{
		"short_code":   shortCode,
		"original_url": originalURL,
	}
	if userID != "" {
		payload["user_id"] = userID
	}

	resp, err := s.do(ctx, http.MethodPost, "/rest/v1/urls", payload, s.cfg.AnonKey)
	if err != nil {
		return nil, fmt.Errorf("%w: create request failed: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil, ErrCodeExists
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, restStatusError("create", resp)
	}

	links, err := decodeRESTLinks(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: create returned empty representation", ErrBackend)
	}
	return links[0].toModel(), nil
}

func (s *RESTStorage) GetOriginalURL(ctx context.Context, shortCode string) (string, error) {
	path := "/rest/v1/urls?short_code=eq." + url.QueryEscape(shortCode) +
		"&select=id,original_url,click_count"

	resp, err := s.do(ctx, http.MethodGet, path, nil, s.cfg.AnonKey)
	if err != nil {
		return "", fmt.Errorf("%w: lookup request failed: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", restStatusError("lookup", resp)
	}

	links, err := decodeRESTLinks(resp.Body)
	if err != nil {
		return "", err
	}
	if len(links) == 0 {
		return "", nil
	}

	// Инкремент отдельным PATCH: окно гонки принято
	patch := map[string]any{"click_count": links[0].ClickCount + 1}
	patchPath := "/rest/v1/urls?id=eq." + links[0].ID.String()
	if patchResp, err := s.do(ctx, http.MethodPatch, patchPath, patch, s.cfg.AnonKey); err != nil {
		s.logger.Warn("Failed to increment click count",
			zap.String("short_code", shortCode),
			zap.Error(err),
		)
	} else {
		if patchResp.StatusCode < 200 || patchResp.StatusCode > 299 {
			s.logger.Warn("Click count increment rejected",
				zap.String("short_code", shortCode),
				zap.Int("status", patchResp.StatusCode),
			)
		}
		patchResp.Body.Close()
	}

	return links[0].OriginalURL, nil
}

func (s *RESTStorage) GetAllURLs(ctx context.Context, limit, offset int) ([]*models.Link, error) {
	path := fmt.Sprintf("/rest/v1/urls?select=*&order=created_at.desc&limit=%d&offset=%d", limit, offset)
	return s.list(ctx, path, s.cfg.AnonKey)
}

func (s *RESTStorage) GetURLStats(ctx context.Context, shortCode string) (*models.Link, error) {
	path := "/rest/v1/urls?short_code=eq." + url.QueryEscape(shortCode) + "&select=*"
	links, err := s.list(ctx, path, s.cfg.AnonKey)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}
	return links[0], nil
}

// GetUserLinks при 401/403 повторяет запрос с service-ключом: анонимный
// ключ может не иметь прав на чужие строки при включённом RLS.
func (s *RESTStorage) GetUserLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	path := "/rest/v1/urls?user_id=eq." + url.QueryEscape(userID) + "&select=*&order=created_at.desc"

	links, err := s.list(ctx, path, s.cfg.AnonKey)
	if err == nil {
		return links, nil
	}
	if isRESTAuthError(err) && s.cfg.ServiceRoleKey != "" {
		s.logger.Debug("Retrying user links with service role key", zap.String("user_id", userID))
		return s.list(ctx, path, s.cfg.ServiceRoleKey)
	}
	return nil, err
}

func (s *RESTStorage) GetLinkByID(ctx context.Context, id string) (*models.Link, error) {
	path := "/rest/v1/urls?id=eq." + url.QueryEscape(id) + "&select=*"
	links, err := s.list(ctx, path, s.cfg.AnonKey)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}
	return links[0], nil
}

func (s *RESTStorage) UpdateUserLink(ctx context.Context, id string, upd *models.LinkUpdate) (*models.Link, error) {
	patch := map[string]any{}
	if upd.Title != nil {
		patch["title"] = *upd.Title
	}
	if upd.OriginalURL != nil {
		patch["original_url"] = *upd.OriginalURL
	}
	if upd.ShortCode != nil {
		patch["short_code"] = *upd.ShortCode
	}
	if len(patch) == 0 {
		return s.requireByID(ctx, id)
	}

	path := "/rest/v1/urls?id=eq." + url.QueryEscape(id)
	resp, err := s.do(ctx, http.MethodPatch, path, patch, s.cfg.AnonKey)
	if err != nil {
		return nil, fmt.Errorf("%w: update request failed: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil, ErrCodeExists
	}
	if resp.StatusCode != http.StatusOK {
		return nil, restStatusError("update", resp)
	}

	links, err := decodeRESTLinks(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, ErrLinkNotFound
	}
	return links[0].toModel(), nil
}

func (s *RESTStorage) DeleteUserLink(ctx context.Context, id string) error {
	path := "/rest/v1/urls?id=eq." + url.QueryEscape(id)
	resp, err := s.do(ctx, http.MethodDelete, path, nil, s.cfg.AnonKey)
	if err != nil {
		return fmt.Errorf("%w: delete request failed: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return restStatusError("delete", resp)
	}

	// PostgREST с return=representation отдаёт удалённые строки
	if resp.StatusCode == http.StatusOK {
		links, err := decodeRESTLinks(resp.Body)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			return ErrLinkNotFound
		}
	}
	return nil
}

func (s *RESTStorage) Ping(ctx context.Context) bool {
	if s.client == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	resp, err := s.do(pingCtx, http.MethodGet, "/rest/v1/urls?select=id&limit=1", nil, s.cfg.AnonKey)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (s *RESTStorage) requireByID(ctx context.Context, id string) (*models.Link, error) {
	link, err := s.GetLinkByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}
	return link, nil
}

func (s *RESTStorage) list(ctx context.Context, path, key string) ([]*models.Link, error) {
	resp, err := s.do(ctx, http.MethodGet, path, nil, key)
	if err != nil {
		return nil, fmt.Errorf("%w: list request failed: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, restStatusError("list", resp)
	}

	raw, err := decodeRESTLinks(resp.Body)
	if err != nil {
		return nil, err
	}
	links := make([]*models.Link, 0, len(raw))
	for _, r := range raw {
		links = append(links, r.toModel())
	}
	return links, nil
}

// do выполняет запрос с retry на 5xx/429.
func (s *RESTStorage) do(ctx context.Context, method, path string, payload any, key string) (*http.Response, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 0; attempt < restMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := restBackoffBase * time.Duration(1<<(attempt-1))
			delay += time.Duration(rand.Int63n(int64(restBackoffBase)))
			if delay > restBackoffLimit {
				delay = restBackoffLimit
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.cfg.URL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("apikey", key)
		req.Header.Set("Authorization", "Bearer "+key)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			resp.Body.Close()
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", restMaxAttempts, lastErr)
}

// restAuthError помечает 401/403 для fallback на service-ключ.
type restAuthError struct {
	status int
}

func (e *restAuthError) Error() string {
	return fmt.Sprintf("REST API denied request (status %d)", e.status)
}

func isRESTAuthError(err error) bool {
	var ae *restAuthError
	return errors.As(err, &ae)
}

func restStatusError(op string, resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s: %w", ErrBackend, op, &restAuthError{status: resp.StatusCode})
	}
	return fmt.Errorf("%w: %s returned status %d", ErrBackend, op, resp.StatusCode)
}

func decodeRESTLinks(r io.Reader) ([]restLink, error) {
	var links []restLink
	if err := json.NewDecoder(r).Decode(&links); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrBackend, err)
	}
	return links, nil
}
