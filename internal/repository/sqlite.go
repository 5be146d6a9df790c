package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/SergeiKhy/shortener/internal/config"
	"github.com/SergeiKhy/shortener/internal/models"
	"go.uber.org/zap"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS urls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	short_code TEXT UNIQUE NOT NULL,
	original_url TEXT NOT NULL,
	user_id TEXT,
	title TEXT,
	click_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_urls_short_code ON urls (short_code);
CREATE INDEX IF NOT EXISTS idx_urls_user_id ON urls (user_id);
`

// SQLiteStorage хранилище на SQLite в двух режимах: локальный файл через
// modernc.org/sqlite или удалённая Turso-база по HTTP через libsql.
// Режим выбирается конфигом: задан TursoURL — работаем по сети.
type SQLiteStorage struct {
	cfg    config.SQLiteConfig
	logger *zap.Logger

	db *sql.DB

	mu          sync.Mutex
	initialized bool
}

func NewSQLiteStorage(cfg config.SQLiteConfig, logger *zap.Logger) *SQLiteStorage {
	return &SQLiteStorage{cfg: cfg, logger: logger}
}

func (s *SQLiteStorage) remote() bool {
	return s.cfg.TursoURL != ""
}

func (s *SQLiteStorage) Connect(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	var (
		db  *sql.DB
		err error
	)
	if s.remote() {
		dsn := s.cfg.TursoURL
		if s.cfg.TursoToken != "" {
			dsn += "?authToken=" + s.cfg.TursoToken
		}
		db, err = sql.Open("libsql", dsn)
	} else {
		db, err = sql.Open("sqlite", s.cfg.Path)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to open sqlite database: %v", ErrConnection, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("%w: failed to ping sqlite database: %v", ErrConnection, err)
	}

	s.db = db
	s.logger.Info("Connected to SQLite", zap.Bool("remote", s.remote()))
	return nil
}

func (s *SQLiteStorage) Disconnect(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to close sqlite database: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	// libsql не принимает несколько statement-ов в одном Exec
	for _, stmt := range strings.Split(sqliteSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrSchema, err)
		}
	}
	s.initialized = true
	return nil
}

func (s *SQLiteStorage) ensureInitialized(ctx context.Context) error {
	s.mu.Lock()
	ok := s.initialized
	s.mu.Unlock()
	if ok {
		return nil
	}
	return s.Initialize(ctx)
}

func (s *SQLiteStorage) CreateShortURL(ctx context.Context, shortCode, originalURL, userID string) (*models.Link, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	var uid *string
	if userID != "" {
		uid = &userID
	}

	createdAt := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO urls (short_code, original_url, user_id, created_at)
		VALUES (?, ?, ?, ?)
	`, shortCode, originalURL, uid, createdAt)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrCodeExists
		}
		return nil, fmt.Errorf("%w: failed to create link: %v", ErrBackend, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get insert id: %v", ErrBackend, err)
	}

	return &models.Link{
		ID:          strconv.FormatInt(id, 10),
		ShortCode:   shortCode,
		OriginalURL: originalURL,
		UserID:      userID,
		CreatedAt:   createdAt,
	}, nil
}

func (s *SQLiteStorage) GetOriginalURL(ctx context.Context, shortCode string) (string, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return "", err
	}

	var originalURL string
	err := s.db.QueryRowContext(ctx,
		`SELECT original_url FROM urls WHERE short_code = ?`, shortCode,
	).Scan(&originalURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("%w: failed to get link: %v", ErrBackend, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE urls SET click_count = click_count + 1 WHERE short_code = ?`, shortCode,
	); err != nil {
		s.logger.Warn("Failed to increment click count",
			zap.String("short_code", shortCode),
			zap.Error(err),
		)
	}

	return originalURL, nil
}

func (s *SQLiteStorage) GetAllURLs(ctx context.Context, limit, offset int) ([]*models.Link, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, short_code, original_url, user_id, title, click_count, created_at
		FROM urls
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list links: %v", ErrBackend, err)
	}
	defer rows.Close()

	return s.scanRows(rows)
}

func (s *SQLiteStorage) GetURLStats(ctx context.Context, shortCode string) (*models.Link, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	return s.scanOne(ctx, `
		SELECT id, short_code, original_url, user_id, title, click_count, created_at
		FROM urls WHERE short_code = ?
	`, shortCode)
}

func (s *SQLiteStorage) GetUserLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, short_code, original_url, user_id, title, click_count, created_at
		FROM urls
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list user links: %v", ErrBackend, err)
	}
	defer rows.Close()

	return s.scanRows(rows)
}

func (s *SQLiteStorage) GetLinkByID(ctx context.Context, id string) (*models.Link, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	numID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, nil
	}
	return s.scanOne(ctx, `
		SELECT id, short_code, original_url, user_id, title, click_count, created_at
		FROM urls WHERE id = ?
	`, numID)
}

func (s *SQLiteStorage) UpdateUserLink(ctx context.Context, id string, upd *models.LinkUpdate) (*models.Link, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	numID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, ErrLinkNotFound
	}

	// Динамический SET только по заданным полям
	set := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if upd.Title != nil {
		set = append(set, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.OriginalURL != nil {
		set = append(set, "original_url = ?")
		args = append(args, *upd.OriginalURL)
	}
	if upd.ShortCode != nil {
		set = append(set, "short_code = ?")
		args = append(args, *upd.ShortCode)
	}
	if len(set) > 0 {
		args = append(args, numID)
		query := "UPDATE urls SET " + strings.Join(set, ", ") + " WHERE id = ?"
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if isSQLiteUniqueViolation(err) {
				return nil, ErrCodeExists
			}
			return nil, fmt.Errorf("%w: failed to update link: %v", ErrBackend, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		if affected == 0 {
			return nil, ErrLinkNotFound
		}
	}

	link, err := s.GetLinkByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}
	return link, nil
}

func (s *SQLiteStorage) DeleteUserLink(ctx context.Context, id string) error {
	if err := s.ensureInitialized(ctx); err != nil {
		return err
	}

	numID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return ErrLinkNotFound
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM urls WHERE id = ?`, numID)
	if err != nil {
		return fmt.Errorf("%w: failed to delete link: %v", ErrBackend, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if affected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

// AddClicks принимает пачку кликов одним UPDATE (расширение ClickBatcher).
func (s *SQLiteStorage) AddClicks(ctx context.Context, shortCode string, n int64) error {
	if err := s.ensureInitialized(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE urls SET click_count = click_count + ? WHERE short_code = ?`,
		n, shortCode,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to add clicks: %v", ErrBackend, err)
	}
	return nil
}

func (s *SQLiteStorage) Ping(ctx context.Context) bool {
	if s.db == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.db.PingContext(pingCtx) == nil
}

func (s *SQLiteStorage) scanOne(ctx context.Context, query string, args ...any) (*models.Link, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	link, err := scanSQLiteLink(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to get link: %v", ErrBackend, err)
	}
	return link, nil
}

func (s *SQLiteStorage) scanRows(rows *sql.Rows) ([]*models.Link, error) {
	links := make([]*models.Link, 0)
	for rows.Next() {
		link, err := scanSQLiteLink(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan link: %v", ErrBackend, err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return links, nil
}

func scanSQLiteLink(scan func(...any) error) (*models.Link, error) {
	var (
		link  models.Link
		id    int64
		uid   sql.NullString
		title sql.NullString
	)
	if err := scan(&id, &link.ShortCode, &link.OriginalURL, &uid, &title, &link.ClickCount, &link.CreatedAt); err != nil {
		return nil, err
	}
	link.ID = strconv.FormatInt(id, 10)
	link.UserID = uid.String
	link.Title = title.String
	return &link, nil
}

// У modernc и libsql нет типизированной ошибки уникальности, проверяем текст
func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
