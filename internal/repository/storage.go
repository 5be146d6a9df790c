package repository

import (
	"context"
	"errors"

	"github.com/SergeiKhy/shortener/internal/models"
)

// Ошибки слоя хранилища. Адаптеры оборачивают низкоуровневые ошибки
// через fmt.Errorf("...: %w", ...), вызывающие проверяют errors.Is.
var (
	ErrConnection   = errors.New("storage connection failed")
	ErrSchema       = errors.New("storage schema initialization failed")
	ErrCodeExists   = errors.New("short code already exists")
	ErrLinkNotFound = errors.New("link not found")
	ErrUnsupported  = errors.New("operation not supported by this backend")
	ErrBackend      = errors.New("backend operation failed")
)

// Storage общий контракт для всех бэкендов хранения ссылок.
//
// Семантика отсутствия: read-операции (GetOriginalURL, GetURLStats,
// GetLinkByID) возвращают пустой результат без ошибки; мутации
// (UpdateUserLink, DeleteUserLink) возвращают ErrLinkNotFound.
// Бэкенд без какой-либо операции возвращает ErrUnsupported, а не
// пустой результат.
type Storage interface {
	// Connect устанавливает соединение. Повторный вызов безопасен.
	Connect(ctx context.Context) error
	// Disconnect освобождает ресурсы. Идемпотентен: вызов без
	// соединения — no-op без ошибки.
	Disconnect(ctx context.Context) error
	// Initialize создаёт схему/индексы. Идемпотентен.
	Initialize(ctx context.Context) error

	// CreateShortURL сохраняет новую пару код→URL. Занятый код — ErrCodeExists.
	CreateShortURL(ctx context.Context, shortCode, originalURL, userID string) (*models.Link, error)
	// GetOriginalURL возвращает оригинальный URL и инкрементирует счётчик
	// кликов (ровно +1 на успешный вызов). Пустая строка — код не найден.
	GetOriginalURL(ctx context.Context, shortCode string) (string, error)
	// GetAllURLs возвращает страницу ссылок, новые первыми.
	GetAllURLs(ctx context.Context, limit, offset int) ([]*models.Link, error)
	// GetURLStats возвращает ссылку со счётчиком без инкремента; nil — не найдена.
	GetURLStats(ctx context.Context, shortCode string) (*models.Link, error)
	// GetUserLinks возвращает ссылки пользователя, новые первыми.
	// Для неизвестного пользователя — пустой срез, не ошибка.
	GetUserLinks(ctx context.Context, userID string) ([]*models.Link, error)
	// GetLinkByID возвращает ссылку по непрозрачному ID; nil — не найдена.
	GetLinkByID(ctx context.Context, id string) (*models.Link, error)
	// UpdateUserLink частично обновляет ссылку: nil-поля не трогаются.
	UpdateUserLink(ctx context.Context, id string, upd *models.LinkUpdate) (*models.Link, error)
	// DeleteUserLink удаляет ссылку безвозвратно.
	DeleteUserLink(ctx context.Context, id string) error

	// Ping проверяет живость бэкенда. Никогда не возвращает ошибку.
	Ping(ctx context.Context) bool
}

// ClickBatcher опциональное расширение: бэкенды, умеющие принять пачку
// кликов одним запросом. Используется синхронизатором дельт из кэша.
type ClickBatcher interface {
	AddClicks(ctx context.Context, shortCode string, n int64) error
}
