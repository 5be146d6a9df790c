package repository_test

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/SergeiKhy/shortener/internal/config"
	"github.com/SergeiKhy/shortener/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSONFileStore(t *testing.T) repository.Storage {
	logger, _ := zap.NewDevelopment()
	return repository.NewJSONFileStorage(config.JSONFileConfig{
		Path: filepath.Join(t.TempDir(), "urls.json"),
	}, logger)
}

func TestJSONFileStorage_Contract(t *testing.T) {
	runStorageContract(t, newJSONFileStore)
}

// TestJSONFileStorage_PersistsAcrossInstances проверяет, что данные
// переживают пересоздание хранилища над тем же файлом
func TestJSONFileStorage_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()
	path := filepath.Join(t.TempDir(), "urls.json")

	first := repository.NewJSONFileStorage(config.JSONFileConfig{Path: path}, logger)
	require.NoError(t, first.Connect(ctx))

	link, err := first.CreateShortURL(ctx, "abc12345", "https://example.com", "alice")
	require.NoError(t, err)
	_, err = first.GetOriginalURL(ctx, "abc12345")
	require.NoError(t, err)
	require.NoError(t, first.Disconnect(ctx))

	second := repository.NewJSONFileStorage(config.JSONFileConfig{Path: path}, logger)
	require.NoError(t, second.Connect(ctx))
	defer second.Disconnect(ctx)

	stats, err := second.GetURLStats(ctx, "abc12345")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, link.ID, stats.ID)
	assert.Equal(t, "alice", stats.UserID)
	assert.Equal(t, int64(1), stats.ClickCount)
}

// TestJSONFileStorage_CreatesMissingFile проверяет создание каталога и файла
func TestJSONFileStorage_CreatesMissingFile(t *testing.T) {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()
	path := filepath.Join(t.TempDir(), "nested", "deep", "urls.json")

	store := repository.NewJSONFileStorage(config.JSONFileConfig{Path: path}, logger)
	require.NoError(t, store.Connect(ctx))
	defer store.Disconnect(ctx)

	links, err := store.GetAllURLs(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, links)
}
