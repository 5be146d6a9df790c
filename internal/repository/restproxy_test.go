package repository_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/SergeiKhy/shortener/internal/config"
	"github.com/SergeiKhy/shortener/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type restRow struct {
	ID          int64     `json:"id"`
	ShortCode   string    `json:"short_code"`
	OriginalURL string    `json:"original_url"`
	UserID      *string   `json:"user_id"`
	Title       *string   `json:"title"`
	ClickCount  int64     `json:"click_count"`
	CreatedAt   time.Time `json:"created_at"`
}

func newRESTStorage(t *testing.T, serverURL, serviceKey string) *repository.RESTStorage {
	logger, _ := zap.NewDevelopment()
	store := repository.NewRESTStorage(config.RESTConfig{
		URL:            serverURL,
		AnonKey:        "anon-key",
		ServiceRoleKey: serviceKey,
	}, logger)
	require.NoError(t, store.Connect(context.Background()))
	return store
}

// TestRESTStorage_CreateAndConflict проверяет вставку и конфликт кода
func TestRESTStorage_CreateAndConflict(t *testing.T) {
	var created bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte("[]"))
			return
		}
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		if created {
			w.WriteHeader(http.StatusConflict)
			return
		}
		created = true

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "abc12345", payload["short_code"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode([]restRow{{
			ID:          1,
			ShortCode:   "abc12345",
			OriginalURL: "https://example.com",
			CreatedAt:   time.Now().UTC(),
		}})
	}))
	defer srv.Close()

	store := newRESTStorage(t, srv.URL, "")
	ctx := context.Background()

	link, err := store.CreateShortURL(ctx, "abc12345", "https://example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "1", link.ID)

	_, err = store.CreateShortURL(ctx, "abc12345", "https://example.com", "")
	assert.ErrorIs(t, err, repository.ErrCodeExists)
}

// TestRESTStorage_ResolveIncrementsViaPatch проверяет чтение + PATCH инкремент
func TestRESTStorage_ResolveIncrementsViaPatch(t *testing.T) {
	var patched atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			if r.URL.Query().Get("short_code") == "eq.abc12345" {
				json.NewEncoder(w).Encode([]restRow{{
					ID:          7,
					ShortCode:   "abc12345",
					OriginalURL: "https://example.com",
					ClickCount:  4,
				}})
				return
			}
			w.Write([]byte("[]"))
		case http.MethodPatch:
			assert.Equal(t, "eq.7", r.URL.Query().Get("id"))
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.EqualValues(t, 5, payload["click_count"])
			patched.Store(true)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte("[]"))
		}
	}))
	defer srv.Close()

	store := newRESTStorage(t, srv.URL, "")

	url, err := store.GetOriginalURL(context.Background(), "abc12345")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", url)
	assert.True(t, patched.Load())
}

// TestRESTStorage_ResolveSurvivesPatchRejection проверяет, что отказ
// инкремента не ломает разрешение кода
func TestRESTStorage_ResolveSurvivesPatchRejection(t *testing.T) {
	var patchSeen atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			if r.URL.Query().Get("short_code") == "eq.abc12345" {
				json.NewEncoder(w).Encode([]restRow{{
					ID:          7,
					ShortCode:   "abc12345",
					OriginalURL: "https://example.com",
				}})
				return
			}
			w.Write([]byte("[]"))
		case http.MethodPatch:
			patchSeen.Store(true)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store := newRESTStorage(t, srv.URL, "")

	url, err := store.GetOriginalURL(context.Background(), "abc12345")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", url)
	assert.True(t, patchSeen.Load())
}

// TestRESTStorage_UserLinksFallsBackToServiceKey проверяет fallback
// на привилегированный ключ при 401/403
func TestRESTStorage_UserLinksFallsBackToServiceKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("user_id") == "" {
			// Проба соединения
			w.Write([]byte("[]"))
			return
		}
		if r.Header.Get("apikey") == "anon-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		require.Equal(t, "service-key", r.Header.Get("apikey"))
		json.NewEncoder(w).Encode([]restRow{{
			ID:          3,
			ShortCode:   "usr00001",
			OriginalURL: "https://example.com/a",
		}})
	}))
	defer srv.Close()

	store := newRESTStorage(t, srv.URL, "service-key")

	links, err := store.GetUserLinks(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "usr00001", links[0].ShortCode)
}

// TestRESTStorage_UserLinksDeniedWithoutServiceKey проверяет, что без
// привилегированного ключа отказ доступа уходит вызывающему
func TestRESTStorage_UserLinksDeniedWithoutServiceKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("user_id") == "" {
			w.Write([]byte("[]"))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	store := newRESTStorage(t, srv.URL, "")

	_, err := store.GetUserLinks(context.Background(), "alice")
	assert.ErrorIs(t, err, repository.ErrBackend)
}

// TestRESTStorage_RetriesOnServerError проверяет повтор запроса на 5xx
func TestRESTStorage_RetriesOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("short_code") == "" {
			w.Write([]byte("[]"))
			return
		}
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]restRow{{
			ID:          1,
			ShortCode:   "abc12345",
			OriginalURL: "https://example.com",
		}})
	}))
	defer srv.Close()

	store := newRESTStorage(t, srv.URL, "")

	link, err := store.GetURLStats(context.Background(), "abc12345")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.EqualValues(t, 3, attempts.Load())
}

// TestRESTStorage_DeleteMissingRow проверяет ErrLinkNotFound по пустой
// representation удаления
func TestRESTStorage_DeleteMissingRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	store := newRESTStorage(t, srv.URL, "")

	err := store.DeleteUserLink(context.Background(), "42")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}
