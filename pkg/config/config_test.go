package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "ENVIRONMENT", "BASE_URL", "STORAGE_MODE", "API_KEY", "PGHOST", "GOOGLE_REDIRECT_URI", "GSC_PAGE_SIZE", "MAX_RETRY_ATTEMPTS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("CREDENTIALS_KEY", "test-credentials-key")
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
port: "3000"
env: "test"
storage:
  mode: "memory"
database:
  host: "db.example.com"
  database: "gsc"
import:
  page_delay: "250ms"
`)
	t.Setenv("PORT", "4000")
	t.Setenv("API_KEY", "secret")

	cfg, err := LoadFile(path, "v1.2.3")
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.Port)
	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "v1.2.3", cfg.Version)
	assert.Equal(t, StorageModeMemory, cfg.Storage.Mode)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 250*time.Millisecond, cfg.Import.PageDelay)
	assert.Equal(t, "http://localhost:4000", cfg.BaseURL)
	assert.Equal(t, "http://localhost:4000/api/auth/callback", cfg.Google.RedirectURL)
}

func TestLoad_MissingFileUsesEnvAndDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), "dev")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, StorageModePostgres, cfg.Storage.Mode)
	assert.Equal(t, ":memory:", cfg.Storage.SQLitePath)
	assert.Equal(t, 25000, cfg.Import.PageSize)
	assert.Equal(t, 3, cfg.Import.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Import.BaseDelay)
	assert.Equal(t, time.Second, cfg.Import.MaxJitter)
	assert.Equal(t, 200*time.Millisecond, cfg.Import.PageDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Import.LargeVolumePageDelay)
	assert.Equal(t, 100000, cfg.Import.LargeVolumeThreshold)
	assert.Equal(t, 100*time.Millisecond, cfg.Import.DayDelay)
	assert.Equal(t, 48*time.Hour, cfg.Cache.MetricsTTL)
	assert.Equal(t, time.Hour, cfg.Cache.PropertiesTTL)
	assert.Equal(t, "https://www.googleapis.com/webmasters/v3", cfg.Google.APIBaseURL)
}

func TestLoad_ExplicitBaseURLAndRedirect(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
base_url: "https://gsc.internal"
google:
  redirect_url: "https://auth.internal/callback"
`)

	cfg, err := LoadFile(path, "dev")
	require.NoError(t, err)
	assert.Equal(t, "https://gsc.internal", cfg.BaseURL)
	assert.Equal(t, "https://auth.internal/callback", cfg.Google.RedirectURL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Env:            "local",
			CredentialsKey: "k",
			Storage:        StorageConfig{Mode: StorageModePostgres},
			Import:         ImportConfig{PageSize: 25000, MaxAttempts: 3},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown storage", func(c *Config) { c.Storage.Mode = "mysql" }, "storage.mode"},
		{"missing credentials key", func(c *Config) { c.CredentialsKey = "" }, "CREDENTIALS_KEY"},
		{"api key required in production", func(c *Config) { c.Env = "production" }, "API_KEY"},
		{"page size too large", func(c *Config) { c.Import.PageSize = 25001 }, "page_size"},
		{"page size zero", func(c *Config) { c.Import.PageSize = 0 }, "page_size"},
		{"no attempts", func(c *Config) { c.Import.MaxAttempts = 0 }, "max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "gsc", Password: "p@ss word", Database: "gsc_connector", SSLMode: "require"}
	assert.Equal(t, "postgres://gsc:p%40ss%20word@db:5433/gsc_connector?sslmode=require", c.ConnectionString())
}

func TestConfig_YAMLOmitsSecrets(t *testing.T) {
	cfg := &Config{
		Port:           "3000",
		APIKey:         "api-secret",
		CredentialsKey: "cred-secret",
		Database:       DatabaseConfig{Password: "db-secret"},
		Google:         GoogleConfig{ClientID: "client", ClientSecret: "google-secret"},
	}

	out, err := cfg.YAML()
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, "client_id: client")
	for _, secret := range []string{"api-secret", "cred-secret", "db-secret", "google-secret"} {
		assert.False(t, strings.Contains(text, secret), "secret %q leaked", secret)
	}
}
