package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"

	"github.com/SergeiKhy/shortener/internal/models"
	"github.com/SergeiKhy/shortener/internal/repository"
	"go.uber.org/zap"
)

// Ошибки сервиса
var (
	ErrInvalidURL    = errors.New("невалидный URL")
	ErrInvalidCode   = errors.New("невалидный кастомный код")
	ErrSpamDomain    = errors.New("домен в чёрном списке")
	ErrNotOwner      = errors.New("ссылка принадлежит другому пользователю")
	ErrCodeExhausted = errors.New("не удалось подобрать свободный код")
)

// Константы сервиса
const (
	codeLength      = 8
	maxCodeAttempts = 5
	maxURLLength    = 2048
	charset         = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var customCodeRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)

// Чёрный список доменов (можно вынести в конфиг или БД)
var blacklistedDomains = []string{
	"malware.com",
	"phishing.com",
	"spam.com",
}

// LinkStore операции хранилища, нужные сервису.
// Реализуется repository.Manager.
type LinkStore interface {
	CreateShortURL(ctx context.Context, shortCode, originalURL, userID string) (*models.Link, error)
	GetOriginalURL(ctx context.Context, shortCode string) (string, error)
	GetAllURLs(ctx context.Context, limit, offset int) ([]*models.Link, error)
	GetURLStats(ctx context.Context, shortCode string) (*models.Link, error)
	GetUserLinks(ctx context.Context, userID string) ([]*models.Link, error)
	GetLinkByID(ctx context.Context, id string) (*models.Link, error)
	UpdateUserLink(ctx context.Context, id string, upd *models.LinkUpdate) (*models.Link, error)
	DeleteUserLink(ctx context.Context, id string) error
}

// LinkService интерфейс сервиса ссылок
type LinkService interface {
	CreateLink(ctx context.Context, input *models.CreateLinkInput, userID string) (*models.Link, error)
	Resolve(ctx context.Context, code string) (string, error)
	Stats(ctx context.Context, code string) (*models.Link, error)
	ListLinks(ctx context.Context, limit, offset int) ([]*models.Link, error)
	UserLinks(ctx context.Context, userID string) ([]*models.Link, error)
	UpdateLink(ctx context.Context, userID, id string, upd *models.LinkUpdate) (*models.Link, error)
	DeleteLink(ctx context.Context, userID, id string) error
}

// linkService реализация сервиса ссылок
type linkService struct {
	store  LinkStore
	logger *zap.Logger
}

// NewLinkService создаёт новый экземпляр сервиса
func NewLinkService(store LinkStore, logger *zap.Logger) LinkService {
	return &linkService{store: store, logger: logger}
}

// CreateLink создаёт новую короткую ссылку. Для автогенерируемого кода
// коллизия уникальности решается повтором с новым кодом, не больше
// maxCodeAttempts раз.
func (s *linkService) CreateLink(ctx context.Context, input *models.CreateLinkInput, userID string) (*models.Link, error) {
	// Валидация URL
	if err := s.validateURL(input.OriginalURL); err != nil {
		return nil, err
	}

	// Проверка на спам-домены
	if err := s.checkSpamDomain(input.OriginalURL); err != nil {
		return nil, err
	}

	custom := input.CustomCode != nil && *input.CustomCode != ""
	if custom {
		if !customCodeRe.MatchString(*input.CustomCode) {
			return nil, ErrInvalidCode
		}
		link, err := s.store.CreateShortURL(ctx, *input.CustomCode, input.OriginalURL, userID)
		if err != nil {
			return nil, err
		}
		return s.applyTitle(ctx, link, input.Title)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.generateShortCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate code: %w", err)
		}

		link, err := s.store.CreateShortURL(ctx, code, input.OriginalURL, userID)
		if err != nil {
			if errors.Is(err, repository.ErrCodeExists) {
				s.logger.Debug("Short code collision, retrying",
					zap.String("code", code),
					zap.Int("attempt", attempt+1),
				)
				continue
			}
			return nil, err
		}
		return s.applyTitle(ctx, link, input.Title)
	}

	return nil, ErrCodeExhausted
}

// applyTitle дозаписывает заголовок отдельным обновлением:
// не все бэкенды принимают title при вставке.
func (s *linkService) applyTitle(ctx context.Context, link *models.Link, title *string) (*models.Link, error) {
	if title == nil || *title == "" {
		return link, nil
	}
	updated, err := s.store.UpdateUserLink(ctx, link.ID, &models.LinkUpdate{Title: title})
	if err != nil {
		if errors.Is(err, repository.ErrUnsupported) {
			return link, nil
		}
		s.logger.Warn("Failed to set link title", zap.String("id", link.ID), zap.Error(err))
		return link, nil
	}
	return updated, nil
}

// Resolve возвращает оригинальный URL; пустая строка — кода нет.
func (s *linkService) Resolve(ctx context.Context, code string) (string, error) {
	return s.store.GetOriginalURL(ctx, code)
}

// Stats возвращает ссылку со счётчиком кликов; nil — кода нет.
func (s *linkService) Stats(ctx context.Context, code string) (*models.Link, error) {
	return s.store.GetURLStats(ctx, code)
}

// ListLinks возвращает страницу всех ссылок, новые первыми.
func (s *linkService) ListLinks(ctx context.Context, limit, offset int) ([]*models.Link, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.GetAllURLs(ctx, limit, offset)
}

// UserLinks возвращает ссылки пользователя, новые первыми.
func (s *linkService) UserLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	return s.store.GetUserLinks(ctx, userID)
}

// UpdateLink частично обновляет ссылку с проверкой владельца.
func (s *linkService) UpdateLink(ctx context.Context, userID, id string, upd *models.LinkUpdate) (*models.Link, error) {
	if upd.OriginalURL != nil {
		if err := s.validateURL(*upd.OriginalURL); err != nil {
			return nil, err
		}
		if err := s.checkSpamDomain(*upd.OriginalURL); err != nil {
			return nil, err
		}
	}
	if upd.ShortCode != nil && !customCodeRe.MatchString(*upd.ShortCode) {
		return nil, ErrInvalidCode
	}

	if err := s.checkOwnership(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.store.UpdateUserLink(ctx, id, upd)
}

// DeleteLink удаляет ссылку с проверкой владельца.
func (s *linkService) DeleteLink(ctx context.Context, userID, id string) error {
	if err := s.checkOwnership(ctx, userID, id); err != nil {
		return err
	}
	return s.store.DeleteUserLink(ctx, id)
}

// checkOwnership сверяет владельца до мутации.
func (s *linkService) checkOwnership(ctx context.Context, userID, id string) error {
	link, err := s.store.GetLinkByID(ctx, id)
	if err != nil {
		return err
	}
	if link == nil {
		return repository.ErrLinkNotFound
	}
	if link.UserID != userID {
		return ErrNotOwner
	}
	return nil
}

// generateShortCode генерирует случайный короткий код длиной 8 символов
func (s *linkService) generateShortCode() (string, error) {
	result := make([]byte, codeLength)
	for i := 0; i < codeLength; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[num.Int64()]
	}
	return string(result), nil
}

// validateURL принимает только абсолютные http/https URL разумной длины
func (s *linkService) validateURL(raw string) error {
	if raw == "" || len(raw) > maxURLLength {
		return ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// checkSpamDomain проверяет наличие URL в чёрном списке доменов
func (s *linkService) checkSpamDomain(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range blacklistedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return ErrSpamDomain
		}
	}
	return nil
}
