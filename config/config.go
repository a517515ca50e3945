// Package config loads service configuration with viper.
//
// Priority (highest to lowest):
//  1. Environment variables with CAIXA_ prefix (e.g. CAIXA_DATABASE_DRIVER)
//  2. The config file (config.toml in ".", "./config" or "/etc/caixa", or an
//     explicit path)
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Log      LogConfig
	HTTP     HTTPConfig
	Monitor  MonitorConfig
	Ledger   LedgerConfig
}

type AppConfig struct {
	Name string
	Env  string // development, production
	Port string
}

type DatabaseConfig struct {
	Driver         string // memory, sqlite, postgres
	Path           string // sqlite file, ":memory:" allowed
	URL            string // postgres connection string
	MaxConns       int
	ConnectTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
}

type MonitorConfig struct {
	Enabled    bool
	Interval   time.Duration
	MaxOpenAge time.Duration
}

type LedgerConfig struct {
	// OpenRetries counts attempts at opening a session after a sequence
	// race. Must be at least 1; defaults to 3.
	OpenRetries int
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "caixa-engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "./data/caixa.db")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.connect_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("http.cors_allow_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", 5*time.Minute)
	v.SetDefault("monitor.max_open_age", 12*time.Hour)

	v.SetDefault("ledger.open_retries", 3)
}

// Load reads configuration. An empty path searches the default locations;
// a missing file there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/caixa")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("CAIXA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:         strings.ToLower(v.GetString("database.driver")),
			Path:           v.GetString("database.path"),
			URL:            v.GetString("database.url"),
			MaxConns:       v.GetInt("database.max_conns"),
			ConnectTimeout: v.GetDuration("database.connect_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			CORSAllowOrigins: splitList(v.GetStringSlice("http.cors_allow_origins")),
		},
		Monitor: MonitorConfig{
			Enabled:    v.GetBool("monitor.enabled"),
			Interval:   v.GetDuration("monitor.interval"),
			MaxOpenAge: v.GetDuration("monitor.max_open_age"),
		},
		Ledger: LedgerConfig{
			OpenRetries: v.GetInt("ledger.open_retries"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
		if c.Database.MaxConns <= 0 {
			return fmt.Errorf("database.max_conns must be positive")
		}
	default:
		return fmt.Errorf("database.driver must be one of memory, sqlite, postgres; got %q", c.Database.Driver)
	}

	if c.App.Port == "" {
		return fmt.Errorf("app.port is required")
	}
	if c.Monitor.Enabled && c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive when the monitor is enabled")
	}
	if c.Monitor.MaxOpenAge <= 0 {
		return fmt.Errorf("monitor.max_open_age must be positive")
	}
	if c.Ledger.OpenRetries < 1 {
		return fmt.Errorf("ledger.open_retries must be at least 1 (default 3)")
	}

	if c.App.Env == "production" {
		if c.Database.Driver == DriverMemory {
			return fmt.Errorf("database.driver=memory is not allowed in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("http.cors_allow_origins cannot be '*' in production")
			}
		}
	}
	return nil
}

// splitList accepts both TOML arrays and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
