package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/SergeiKhy/shortener/internal/config"
	"github.com/SergeiKhy/shortener/internal/handler"
	"github.com/SergeiKhy/shortener/internal/middleware"
	"github.com/SergeiKhy/shortener/internal/repository"
	"github.com/SergeiKhy/shortener/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// TestMain настраивает тестовые контейнеры
func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const testAPIKey = "integration-key"

// TestEnv хранит окружение для интеграционных тестов
type TestEnv struct {
	router         *gin.Engine
	manager        *repository.Manager
	syncer         *service.ClickSyncer
	dbContainer    testcontainers.Container
	redisContainer testcontainers.Container
}

// setupTestEnv поднимает PostgreSQL как основное хранилище и Redis
// как кэш, собирает полный стек через Manager
func setupTestEnv(t *testing.T) *TestEnv {
	ctx := t.Context()

	// Запускаем контейнер PostgreSQL
	dbContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("shortener"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	// Запускаем контейнер Redis
	redisContainer, err := redis.Run(ctx,
		"redis:7-alpine",
	)
	require.NoError(t, err)

	// Получаем данные для подключения
	dbHost, err := dbContainer.Host(ctx)
	require.NoError(t, err)
	dbPort, err := dbContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.App.BaseURL = "http://localhost:8080"
	cfg.Storage.Backend = repository.BackendPostgres
	cfg.Storage.Postgres = config.PostgresConfig{
		Host:     dbHost,
		Port:     dbPort.Port(),
		User:     "user",
		Password: "password",
		Name:     "shortener",
		SSLMode:  "disable",
	}
	cfg.Cache.Redis = config.RedisConfig{
		Host: redisHost,
		Port: redisPort.Port(),
	}
	cfg.Auth.APIKeys = map[string]string{testAPIKey: "integration-user"}

	logger := zap.NewNop()

	manager, err := repository.NewManager(ctx, cfg, logger)
	require.NoError(t, err)

	linkService := service.NewLinkService(manager, logger)

	// Синхронизатор с коротким интервалом, чтобы дельты доезжали быстро
	var syncer *service.ClickSyncer
	if cache := manager.Cache(); cache != nil {
		if batcher, ok := manager.Batcher(); ok {
			syncer = service.NewClickSyncer(cache, batcher, logger, 100*time.Millisecond)
			syncer.Start()
		}
	}

	// Высокий лимит, чтобы тесты не упирались в rate limiter
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
		CleanupInterval:   time.Minute,
	}, nil)

	router := handler.NewRouter(linkService, manager, rateLimiter, cfg.Auth.APIKeys, cfg.App.BaseURL, logger)

	return &TestEnv{
		router:         router,
		manager:        manager,
		syncer:         syncer,
		dbContainer:    dbContainer,
		redisContainer: redisContainer,
	}
}

// teardown очищает ресурсы после теста
func (env *TestEnv) teardown(t *testing.T) {
	if env.syncer != nil {
		env.syncer.Stop()
	}
	ctx := context.Background()
	env.manager.Close(ctx)

	if env.dbContainer != nil {
		env.dbContainer.Terminate(ctx)
	}
	if env.redisContainer != nil {
		env.redisContainer.Terminate(ctx)
	}
}

func (env *TestEnv) createLink(t *testing.T, req handler.CreateLinkRequest, apiKey string) handler.CreateLinkResponse {
	body, _ := json.Marshal(req)
	w := httptest.NewRecorder()
	httpReq, _ := http.NewRequest("POST", "/api/v1/links", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("X-API-Key", apiKey)
	}
	env.router.ServeHTTP(w, httpReq)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp handler.CreateLinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// TestIntegration_CreateLink тестирует создание ссылок через API
func TestIntegration_CreateLink(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	env := setupTestEnv(t)
	defer env.teardown(t)

	tests := []struct {
		name           string
		request        handler.CreateLinkRequest
		expectedStatus int
		expectError    bool
	}{
		{
			name: "валидный URL",
			request: handler.CreateLinkRequest{
				URL: "https://example.com/test",
			},
			expectedStatus: http.StatusCreated,
			expectError:    false,
		},
		{
			name: "валидный URL с кастомным кодом",
			request: handler.CreateLinkRequest{
				URL:        "https://example.com/custom",
				CustomCode: "my-custom",
			},
			expectedStatus: http.StatusCreated,
			expectError:    false,
		},
		{
			name: "конфликт кастомного кода",
			request: handler.CreateLinkRequest{
				URL:        "https://example.com/other",
				CustomCode: "my-custom",
			},
			expectedStatus: http.StatusConflict,
			expectError:    true,
		},
		{
			name: "невалидный URL",
			request: handler.CreateLinkRequest{
				URL: "not-a-url",
			},
			expectedStatus: http.StatusBadRequest,
			expectError:    true,
		},
		{
			name: "спам домен",
			request: handler.CreateLinkRequest{
				URL: "https://malware.com/bad",
			},
			expectedStatus: http.StatusBadRequest,
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.request)
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("POST", "/api/v1/links", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			env.router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectError {
				var errResp handler.ErrorResponse
				json.Unmarshal(w.Body.Bytes(), &errResp)
				assert.NotEmpty(t, errResp.Error)
			} else {
				var resp handler.CreateLinkResponse
				json.Unmarshal(w.Body.Bytes(), &resp)
				assert.NotEmpty(t, resp.ShortCode)
				assert.Equal(t, tt.request.URL, resp.OriginalURL)
			}
		})
	}
}

// TestIntegration_Redirect тестирует редирект и кэш-попадания
func TestIntegration_Redirect(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	env := setupTestEnv(t)
	defer env.teardown(t)

	resp := env.createLink(t, handler.CreateLinkRequest{
		URL: "https://example.com/integration-test",
	}, "")

	// Первый редирект идёт из кэша (создание прогрело его),
	// последующие тоже — ответ обязан быть одинаковым
	t.Run("редирект на оригинальный URL", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/"+resp.ShortCode, nil)
			env.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
			assert.Equal(t, "https://example.com/integration-test", w.Header().Get("Location"))
		}
	})

	t.Run("несуществующая ссылка", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/nonexistent", nil)
		env.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// TestIntegration_ClickStats тестирует учёт кликов через кэш и синхронизатор
func TestIntegration_ClickStats(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	env := setupTestEnv(t)
	defer env.teardown(t)

	resp := env.createLink(t, handler.CreateLinkRequest{
		URL: "https://example.com/stats-test",
	}, "")

	// Симулируем несколько кликов (вызовом редиректа)
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/"+resp.ShortCode, nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("192.168.1.%d", i))
		env.router.ServeHTTP(w, req)
	}

	// Статистика складывает счётчик хранилища с дельтой в кэше,
	// поэтому все клики видны сразу, не дожидаясь синхронизатора
	t.Run("получение статистики кликов", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/links/"+resp.ShortCode+"/stats", nil)
		env.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var stats map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &stats)
		assert.Equal(t, resp.ShortCode, stats["short_code"])
		assert.EqualValues(t, 5, stats["click_count"])
	})

	// Синхронизатор доливает дельту в хранилище; после слива
	// статистика не должна задвоиться
	t.Run("дельта доезжает в хранилище без задвоения", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			link, err := env.manager.GetURLStats(t.Context(), resp.ShortCode)
			return err == nil && link != nil && link.ClickCount == 5
		}, 5*time.Second, 100*time.Millisecond)
	})
}

// TestIntegration_UserLinks тестирует личный кабинет: список,
// обновление и удаление с проверкой владельца
func TestIntegration_UserLinks(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	env := setupTestEnv(t)
	defer env.teardown(t)

	resp := env.createLink(t, handler.CreateLinkRequest{
		URL:   "https://example.com/mine",
		Title: "Моя ссылка",
	}, testAPIKey)

	t.Run("список личных ссылок", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/me/links", nil)
		req.Header.Set("X-API-Key", testAPIKey)
		env.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), resp.ShortCode)
	})

	t.Run("без ключа доступ закрыт", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/me/links", nil)
		env.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("обновление заголовка", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"title": "Новый заголовок"})
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("PATCH", "/api/v1/me/links/"+resp.ID, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", testAPIKey)
		env.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Новый заголовок")
	})

	t.Run("удаление ссылки", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("DELETE", "/api/v1/me/links/"+resp.ID, nil)
		req.Header.Set("X-API-Key", testAPIKey)
		env.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("повторное удаление", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("DELETE", "/api/v1/me/links/"+resp.ID, nil)
		req.Header.Set("X-API-Key", testAPIKey)
		env.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// TestIntegration_HealthCheck тестирует endpoint проверки здоровья
func TestIntegration_HealthCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	env := setupTestEnv(t)
	defer env.teardown(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/health", nil)
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var status repository.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, repository.BackendPostgres, status.Backend)
	assert.True(t, status.Primary)
	require.NotNil(t, status.Cache)
	assert.True(t, *status.Cache)
}
