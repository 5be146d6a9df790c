package models

import (
	"time"
)

// Link запись о короткой ссылке. ID назначается хранилищем и непрозрачен:
// serial из Postgres, hex ObjectID из Mongo или timestamp-токен — всегда строка.
type Link struct {
	ID          string    `json:"id"`
	ShortCode   string    `json:"short_code"`
	OriginalURL string    `json:"original_url"`
	UserID      string    `json:"user_id,omitempty"`
	Title       string    `json:"title,omitempty"`
	ClickCount  int64     `json:"click_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreateLinkInput struct {
	OriginalURL string  `json:"original_url" binding:"required,url"`
	CustomCode  *string `json:"custom_code,omitempty"`
	Title       *string `json:"title,omitempty"`
}

// LinkUpdate частичное обновление: nil-поле не трогаем.
type LinkUpdate struct {
	Title       *string `json:"title,omitempty"`
	OriginalURL *string `json:"original_url,omitempty"`
	ShortCode   *string `json:"short_code,omitempty"`
}

type LinkStats struct {
	ShortCode   string    `json:"short_code"`
	OriginalURL string    `json:"original_url"`
	ClickCount  int64     `json:"click_count"`
	CreatedAt   time.Time `json:"created_at"`
}
