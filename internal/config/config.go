package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Storage   StorageConfig
	Cache     CacheConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Port    string
	BaseURL string
}

// StorageConfig описывает все бэкенды; активен ровно один,
// выбранный ключом ACTIVE_BACKEND.
type StorageConfig struct {
	Backend    string
	Postgres   PostgresConfig
	SQLite     SQLiteConfig
	Mongo      MongoConfig
	Redis      RedisConfig
	EdgeConfig EdgeConfig
	REST       RESTConfig
	JSONFile   JSONFileConfig
}

type PostgresConfig struct {
	// DSN задаёт строку подключения целиком (managed-базы);
	// иначе она собирается из полей ниже.
	DSN      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type SQLiteConfig struct {
	Path string
	// TursoURL переключает адаптер в удалённый режим libsql
	TursoURL   string
	TursoToken string
}

type MongoConfig struct {
	URL      string
	Database string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type EdgeConfig struct {
	URL   string
	Token string
}

type RESTConfig struct {
	URL     string
	AnonKey string
	// ServiceRoleKey привилегированный ключ для fallback на 401/403
	ServiceRoleKey string
}

type JSONFileConfig struct {
	Path string
}

// CacheConfig отдельный Redis для read-through кэша и rate limiter-а.
type CacheConfig struct {
	Redis RedisConfig
}

// Enabled кэш включён, когда задан хост.
func (c CacheConfig) Enabled() bool {
	return c.Redis.Host != ""
}

type AuthConfig struct {
	APIKeys map[string]string // API key -> user id
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// Параметры скользящего счётчика в Redis
	RedisLimit  int64
	RedisWindow int // секунды
}

func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	cfg.App.Port = viper.GetString("APP_PORT")
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	cfg.App.BaseURL = viper.GetString("APP_BASE_URL")
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = "http://localhost:" + cfg.App.Port
	}

	cfg.Storage.Backend = viper.GetString("ACTIVE_BACKEND")
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}

	cfg.Storage.Postgres.DSN = viper.GetString("DB_DSN")
	cfg.Storage.Postgres.Host = viper.GetString("DB_HOST")
	cfg.Storage.Postgres.Port = viper.GetString("DB_PORT")
	cfg.Storage.Postgres.User = viper.GetString("DB_USER")
	cfg.Storage.Postgres.Password = viper.GetString("DB_PASSWORD")
	cfg.Storage.Postgres.Name = viper.GetString("DB_NAME")
	cfg.Storage.Postgres.SSLMode = viper.GetString("DB_SSLMODE")
	if cfg.Storage.Postgres.SSLMode == "" {
		cfg.Storage.Postgres.SSLMode = "disable"
	}

	cfg.Storage.SQLite.Path = viper.GetString("SQLITE_PATH")
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/shortener.db"
	}
	cfg.Storage.SQLite.TursoURL = viper.GetString("TURSO_URL")
	cfg.Storage.SQLite.TursoToken = viper.GetString("TURSO_TOKEN")

	cfg.Storage.Mongo.URL = viper.GetString("MONGODB_URL")
	cfg.Storage.Mongo.Database = viper.GetString("MONGODB_DB")
	if cfg.Storage.Mongo.Database == "" {
		cfg.Storage.Mongo.Database = "shortener"
	}

	cfg.Storage.Redis.Host = viper.GetString("REDIS_HOST")
	cfg.Storage.Redis.Port = viper.GetString("REDIS_PORT")
	cfg.Storage.Redis.Password = viper.GetString("REDIS_PASSWORD")
	cfg.Storage.Redis.DB = viper.GetInt("REDIS_DB")

	cfg.Storage.EdgeConfig.URL = viper.GetString("EDGE_CONFIG_URL")
	cfg.Storage.EdgeConfig.Token = viper.GetString("EDGE_CONFIG_TOKEN")

	cfg.Storage.REST.URL = viper.GetString("SUPABASE_URL")
	cfg.Storage.REST.AnonKey = viper.GetString("SUPABASE_ANON_KEY")
	cfg.Storage.REST.ServiceRoleKey = viper.GetString("SUPABASE_SERVICE_ROLE_KEY")

	cfg.Storage.JSONFile.Path = viper.GetString("JSONFILE_PATH")
	if cfg.Storage.JSONFile.Path == "" {
		cfg.Storage.JSONFile.Path = "data/urls.json"
	}

	cfg.Cache.Redis.Host = viper.GetString("CACHE_REDIS_HOST")
	cfg.Cache.Redis.Port = viper.GetString("CACHE_REDIS_PORT")
	cfg.Cache.Redis.Password = viper.GetString("CACHE_REDIS_PASSWORD")
	cfg.Cache.Redis.DB = viper.GetInt("CACHE_REDIS_DB")

	// Auth config - parse API keys from comma-separated string
	// Format: key1:user1,key2:user2
	apiKeysRaw := viper.GetString("API_KEYS")
	cfg.Auth.APIKeys = parseAPIKeys(apiKeysRaw)

	// Rate limit config
	cfg.RateLimit.RequestsPerSecond = viper.GetFloat64("RATE_LIMIT_RPS")
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	cfg.RateLimit.BurstSize = viper.GetInt("RATE_LIMIT_BURST")
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 20
	}
	cfg.RateLimit.RedisLimit = viper.GetInt64("RATE_LIMIT_REDIS_LIMIT")
	if cfg.RateLimit.RedisLimit == 0 {
		cfg.RateLimit.RedisLimit = 100
	}
	cfg.RateLimit.RedisWindow = viper.GetInt("RATE_LIMIT_REDIS_WINDOW")
	if cfg.RateLimit.RedisWindow == 0 {
		cfg.RateLimit.RedisWindow = 60
	}

	return &cfg, nil
}

// parseAPIKeys parses comma-separated API keys in format "key1:user1,key2:user2"
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	if raw == "" {
		return keys
	}

	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 {
			keys[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return keys
}
