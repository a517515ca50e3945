package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir()) // no config.toml in the search path

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "caixa-engine", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "./data/caixa.db", cfg.Database.Path)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.True(t, cfg.Monitor.Enabled)
	assert.Equal(t, 12*time.Hour, cfg.Monitor.MaxOpenAge)
	assert.Equal(t, 3, cfg.Ledger.OpenRetries)
	assert.Len(t, cfg.HTTP.CORSAllowOrigins, 2)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CAIXA_APP_PORT", "9090")
	t.Setenv("CAIXA_DATABASE_DRIVER", "POSTGRES")
	t.Setenv("CAIXA_DATABASE_URL", "postgres://caixa@localhost/caixa")
	t.Setenv("CAIXA_MONITOR_MAX_OPEN_AGE", "6h")
	t.Setenv("CAIXA_HTTP_CORS_ALLOW_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://caixa@localhost/caixa", cfg.Database.URL)
	assert.Equal(t, 6*time.Hour, cfg.Monitor.MaxOpenAge)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSAllowOrigins)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caixa.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
driver = "memory"

[monitor]
enabled = false

[ledger]
open_retries = 5
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.False(t, cfg.Monitor.Enabled)
	assert.Equal(t, 5, cfg.Ledger.OpenRetries)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:      AppConfig{Env: "development", Port: "8080"},
			Database: DatabaseConfig{Driver: DriverSQLite, Path: "x.db", MaxConns: 1},
			Monitor:  MonitorConfig{Enabled: true, Interval: time.Minute, MaxOpenAge: time.Hour},
			Ledger:   LedgerConfig{OpenRetries: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }},
		{"postgres without url", func(c *Config) { c.Database.Driver = DriverPostgres }},
		{"monitor without interval", func(c *Config) { c.Monitor.Interval = 0 }},
		{"negative retries", func(c *Config) { c.Ledger.OpenRetries = -1 }},
		{"zero retries", func(c *Config) { c.Ledger.OpenRetries = 0 }},
		{"memory in production", func(c *Config) {
			c.App.Env = "production"
			c.Database.Driver = DriverMemory
		}},
		{"wildcard cors in production", func(c *Config) {
			c.App.Env = "production"
			c.HTTP.CORSAllowOrigins = []string{"*"}
		}},
	}

	require.NoError(t, valid().validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
