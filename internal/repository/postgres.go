package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/SergeiKhy/shortener/internal/config"
	"github.com/SergeiKhy/shortener/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DDL выполняется на Initialize, безопасен при повторном запуске.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS urls (
	id SERIAL PRIMARY KEY,
	short_code VARCHAR(20) UNIQUE NOT NULL,
	original_url TEXT NOT NULL,
	user_id TEXT,
	title TEXT,
	click_count BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_urls_short_code ON urls (short_code);
CREATE INDEX IF NOT EXISTS idx_urls_user_id ON urls (user_id);
CREATE INDEX IF NOT EXISTS idx_urls_created_at ON urls (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_urls_click_count ON urls (click_count DESC);
`

// PostgresStorage хранилище на PostgreSQL через пул pgx.
// Подходит и для managed-постгресов (Supabase, Neon) — отличается только DSN.
//
// Счётчик кликов: чтение и UPDATE ... + 1 — два запроса, под гонкой
// возможна потеря инкремента. Счётчик приблизительный.
type PostgresStorage struct {
	cfg    config.PostgresConfig
	logger *zap.Logger

	pool *pgxpool.Pool

	mu          sync.Mutex
	initialized bool
}

func NewPostgresStorage(cfg config.PostgresConfig, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{cfg: cfg, logger: logger}
}

// Connect создаёт пул соединений и проверяет его ping-ом.
func (s *PostgresStorage) Connect(ctx context.Context) error {
	if s.pool != nil {
		return nil
	}

	dsn := s.cfg.DSN
	if dsn == "" {
		dsn = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			s.cfg.User,
			s.cfg.Password,
			s.cfg.Host,
			s.cfg.Port,
			s.cfg.Name,
			s.cfg.SSLMode,
		)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("%w: failed to parse postgres config: %v", ErrConnection, err)
	}

	// Настройка пула соединений
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("%w: failed to create connection pool: %v", ErrConnection, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("%w: failed to ping postgres: %v", ErrConnection, err)
	}

	s.pool = pool
	s.logger.Info("Connected to PostgreSQL", zap.String("host", s.cfg.Host))
	return nil
}

// Disconnect закрывает пул. Повторный вызов — no-op.
func (s *PostgresStorage) Disconnect(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	s.pool.Close()
	s.pool = nil
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	return nil
}

// Initialize создаёт таблицу и индексы.
func (s *PostgresStorage) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	s.initialized = true
	return nil
}

func (s *PostgresStorage) ensureInitialized(ctx context.Context) error {
	s.mu.Lock()
	ok := s.initialized
	s.mu.Unlock()
	if ok {
		return nil
	}
	return s.Initialize(ctx)
}

func (s *PostgresStorage) CreateShortURL(ctx context.Context, shortCode, originalURL, userID string) (*models.Link, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO urls (short_code, original_url, user_id, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	var uid *string
	if userID != "" {
		uid = &userID
	}

	link := &models.Link{
		ShortCode:   shortCode,
		OriginalURL: originalURL,
		UserID:      userID,
	}

	var id int64
	err := s.pool.QueryRow(ctx, query, shortCode, originalURL, uid, time.Now().UTC()).
		Scan(&id, &link.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrCodeExists
		}
		return nil, fmt.Errorf("%w: failed to create link: %v", ErrBackend, err)
	}

	link.ID = strconv.FormatInt(id, 10)
	return link, nil
}

func (s *PostgresStorage) GetOriginalURL(ctx context.Context, shortCode string) (string, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return "", err
	}

	var originalURL string
	err := s.pool.QueryRow(ctx,
		`SELECT original_url FROM urls WHERE short_code = $1`, shortCode,
	).Scan(&originalURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("%w: failed to get link: %v", ErrBackend, err)
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE urls SET click_count = click_count + 1 WHERE short_code = $1`, shortCode,
	); err != nil {
		// Потеря клика не должна ломать редирект
		s.logger.Warn("Failed to increment click count",
			zap.String("short_code", shortCode),
			zap.Error(err),
		)
	}

	return originalURL, nil
}

func (s *PostgresStorage) GetAllURLs(ctx context.Context, limit, offset int) ([]*models.Link, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, short_code, original_url, user_id, title, click_count, created_at
		FROM urls
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list links: %v", ErrBackend, err)
	}
	defer rows.Close()

	return scanLinks(rows)
}

func (s *PostgresStorage) GetURLStats(ctx context.Context, shortCode string) (*models.Link, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	link, err := s.scanOne(ctx, `
		SELECT id, short_code, original_url, user_id, title, click_count, created_at
		FROM urls WHERE short_code = $1
	`, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get stats: %v", ErrBackend, err)
	}
	return link, nil
}

func (s *PostgresStorage) GetUserLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, short_code, original_url, user_id, title, click_count, created_at
		FROM urls
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list user links: %v", ErrBackend, err)
	}
	defer rows.Close()

	return scanLinks(rows)
}

func (s *PostgresStorage) GetLinkByID(ctx context.Context, id string) (*models.Link, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	numID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, nil
	}

	link, err := s.scanOne(ctx, `
		SELECT id, short_code, original_url, user_id, title, click_count, created_at
		FROM urls WHERE id = $1
	`, numID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get link by id: %v", ErrBackend, err)
	}
	return link, nil
}

func (s *PostgresStorage) UpdateUserLink(ctx context.Context, id string, upd *models.LinkUpdate) (*models.Link, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	numID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, ErrLinkNotFound
	}

	query := `
		UPDATE urls SET
			title = COALESCE($2, title),
			original_url = COALESCE($3, original_url),
			short_code = COALESCE($4, short_code)
		WHERE id = $1
		RETURNING id, short_code, original_url, user_id, title, click_count, created_at
	`

	link, err := s.scanRow(s.pool.QueryRow(ctx, query, numID, upd.Title, upd.OriginalURL, upd.ShortCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrCodeExists
		}
		return nil, fmt.Errorf("%w: failed to update link: %v", ErrBackend, err)
	}
	return link, nil
}

func (s *PostgresStorage) DeleteUserLink(ctx context.Context, id string) error {
	if err := s.ensureInitialized(ctx); err != nil {
		return err
	}

	numID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return ErrLinkNotFound
	}

	result, err := s.pool.Exec(ctx, `DELETE FROM urls WHERE id = $1`, numID)
	if err != nil {
		return fmt.Errorf("%w: failed to delete link: %v", ErrBackend, err)
	}
	if result.RowsAffected() == 0 {
		return ErrLinkNotFound
	}
	return nil
}

// AddClicks принимает пачку кликов одним UPDATE (расширение ClickBatcher).
func (s *PostgresStorage) AddClicks(ctx context.Context, shortCode string, n int64) error {
	if err := s.ensureInitialized(ctx); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE urls SET click_count = click_count + $2 WHERE short_code = $1`,
		shortCode, n,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to add clicks: %v", ErrBackend, err)
	}
	return nil
}

func (s *PostgresStorage) Ping(ctx context.Context) bool {
	if s.pool == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(pingCtx) == nil
}

// scanOne возвращает nil без ошибки, когда строки нет.
func (s *PostgresStorage) scanOne(ctx context.Context, query string, args ...any) (*models.Link, error) {
	link, err := s.scanRow(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return link, err
}

func (s *PostgresStorage) scanRow(row pgx.Row) (*models.Link, error) {
	var (
		link  models.Link
		id    int64
		uid   *string
		title *string
	)
	err := row.Scan(&id, &link.ShortCode, &link.OriginalURL, &uid, &title, &link.ClickCount, &link.CreatedAt)
	if err != nil {
		return nil, err
	}
	link.ID = strconv.FormatInt(id, 10)
	if uid != nil {
		link.UserID = *uid
	}
	if title != nil {
		link.Title = *title
	}
	return &link, nil
}

func scanLinks(rows pgx.Rows) ([]*models.Link, error) {
	links := make([]*models.Link, 0)
	for rows.Next() {
		var (
			link  models.Link
			id    int64
			uid   *string
			title *string
		)
		if err := rows.Scan(&id, &link.ShortCode, &link.OriginalURL, &uid, &title, &link.ClickCount, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan link: %v", ErrBackend, err)
		}
		link.ID = strconv.FormatInt(id, 10)
		if uid != nil {
			link.UserID = *uid
		}
		if title != nil {
			link.Title = *title
		}
		links = append(links, &link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return links, nil
}

// Проверка на нарушение уникальности (код 23505 в pgx v5)
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
