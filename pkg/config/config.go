package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Storage modes.
const (
	StorageModePostgres = "postgres"
	StorageModeMemory   = "memory"
)

// Config holds all configuration for ekaya-gsc.
// Values come from config.yaml (optional) and environment variables; env
// always wins. Secrets are env-only (yaml:"-").
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // derived from Port if empty
	Version  string `yaml:"-"`

	// APIKey guards every /api route. Required outside local.
	APIKey string `yaml:"-" env:"API_KEY"`

	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Google   GoogleConfig   `yaml:"google"`
	Import   ImportConfig   `yaml:"import"`
	Cache    CacheConfig    `yaml:"cache"`

	// CredentialsKey encrypts stored OAuth tokens: a base64 32-byte key
	// (openssl rand -base64 32) or a passphrase.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"`
}

// StorageConfig selects the storage strategy.
type StorageConfig struct {
	// Mode is "postgres" (durable) or "memory" (in-process SQLite).
	Mode       string `yaml:"mode" env:"STORAGE_MODE" env-default:"postgres"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:":memory:"`
	// MigrationsPath is the golang-migrate source directory for Postgres.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"postgres"`
	Password       string `yaml:"-" env:"PGPASSWORD"`
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"gsc_connector"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"20"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. An empty host selects the in-process cache.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// GoogleConfig holds the OAuth client registered for Search Console access.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `yaml:"-" env:"GOOGLE_CLIENT_SECRET"`
	// RedirectURL defaults to BaseURL + /api/auth/callback.
	RedirectURL string `yaml:"redirect_url" env:"GOOGLE_REDIRECT_URI" env-default:""`
	// APIBaseURL points at the Search Console API, overridable for tests.
	APIBaseURL string        `yaml:"api_base_url" env:"GSC_API_BASE_URL" env-default:"https://www.googleapis.com/webmasters/v3"`
	Timeout    time.Duration `yaml:"timeout" env:"GSC_TIMEOUT" env-default:"60s"`
}

// ImportConfig tunes the fetch engine and orchestrator.
type ImportConfig struct {
	PageSize             int           `yaml:"page_size" env:"GSC_PAGE_SIZE" env-default:"25000"`
	MaxAttempts          int           `yaml:"max_attempts" env:"MAX_RETRY_ATTEMPTS" env-default:"3"`
	BaseDelay            time.Duration `yaml:"base_delay" env:"RETRY_DELAY" env-default:"1s"`
	MaxJitter            time.Duration `yaml:"max_jitter" env:"RETRY_MAX_JITTER" env-default:"1s"`
	PageDelay            time.Duration `yaml:"page_delay" env:"GSC_PAGE_DELAY" env-default:"200ms"`
	LargeVolumePageDelay time.Duration `yaml:"large_volume_page_delay" env:"GSC_LARGE_VOLUME_PAGE_DELAY" env-default:"500ms"`
	LargeVolumeThreshold int           `yaml:"large_volume_threshold" env:"GSC_LARGE_VOLUME_THRESHOLD" env-default:"100000"`
	DayDelay             time.Duration `yaml:"day_delay" env:"GSC_DAY_DELAY" env-default:"100ms"`
	ProgressEvery        int           `yaml:"progress_every" env:"GSC_PROGRESS_EVERY" env-default:"25000"`
	UpsertBatchSize      int           `yaml:"upsert_batch_size" env:"GSC_UPSERT_BATCH_SIZE" env-default:"500"`
}

// CacheConfig holds cache entry lifetimes.
type CacheConfig struct {
	MetricsTTL    time.Duration `yaml:"metrics_ttl" env:"METRICS_CACHE_TTL" env-default:"48h"`
	PropertiesTTL time.Duration `yaml:"properties_ttl" env:"PROPERTIES_CACHE_TTL" env-default:"1h"`
}

// MaxPageSize is the largest rowLimit the Search Analytics API accepts.
const MaxPageSize = 25000

// Load reads config.yaml from the working directory if present, applies
// environment overrides and validates the result.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit YAML path. A missing file is not an error.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{Scheme: "http", Host: "localhost:" + cfg.Port}).String()
	}
	if cfg.Google.RedirectURL == "" {
		cfg.Google.RedirectURL = cfg.BaseURL + "/api/auth/callback"
	}

	cfg.Database.Host = resolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = resolveHostForDocker(cfg.Redis.Host)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case StorageModePostgres, StorageModeMemory:
	default:
		return fmt.Errorf("storage.mode must be %q or %q, got %q", StorageModePostgres, StorageModeMemory, c.Storage.Mode)
	}
	if c.CredentialsKey == "" {
		return errors.New("CREDENTIALS_KEY must be set")
	}
	if c.Env != "local" && c.APIKey == "" {
		return errors.New("API_KEY must be set outside local environments")
	}
	if c.Import.PageSize < 1 || c.Import.PageSize > MaxPageSize {
		return fmt.Errorf("import.page_size must be between 1 and %d", MaxPageSize)
	}
	if c.Import.MaxAttempts < 1 {
		return errors.New("import.max_attempts must be at least 1")
	}
	return nil
}

// ConnectionString returns a PostgreSQL URL for pgx and golang-migrate.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Addr returns host:port for the Redis client.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// YAML renders the effective non-secret configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

var (
	inDockerOnce sync.Once
	inDocker     bool
)

// resolveHostForDocker rewrites loopback hosts to host.docker.internal when
// running inside a container so local Postgres and Redis stay reachable.
func resolveHostForDocker(host string) string {
	inDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		inDocker = err == nil
	})
	if inDocker && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}
