// Package config loads service configuration from defaults, an optional
// YAML file, .env files and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/MADA-gnuBD/bikeops/internal/backend"
	"github.com/MADA-gnuBD/bikeops/internal/layout"
	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/internal/mapview"
	"github.com/MADA-gnuBD/bikeops/internal/predict"
	"github.com/MADA-gnuBD/bikeops/internal/session"
	"github.com/MADA-gnuBD/bikeops/internal/stations"
)

// EnvPrefix marks variables that map onto nested keys:
// BIKEOPS_SESSION__STORE=redis sets session.store.
const EnvPrefix = "BIKEOPS_"

// ConfigPathEnvVar overrides the YAML file location
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are tried when CONFIG_PATH is unset
var DefaultConfigPaths = []string{"config.yaml", "/etc/bikeops/config.yaml"}

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig    `koanf:"server"`
	DB       DBConfig        `koanf:"db"`
	Logging  logging.Config  `koanf:"logging"`
	Backend  backend.Config  `koanf:"backend"`
	Stations stations.Config `koanf:"stations"`
	Session  session.Config  `koanf:"session"`
	Layout   layout.Options  `koanf:"layout"`
	MapView  mapview.Config  `koanf:"mapview"`
	Predict  predict.Config  `koanf:"predict"`
}

// ServerConfig is the HTTP surface
type ServerConfig struct {
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	StaticDir       string        `koanf:"static_dir"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	AuthRateLimit   int           `koanf:"auth_rate_limit" validate:"gt=0"` // requests per minute per IP on /api/auth
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// DBConfig selects Postgres when DatabaseURL is set, SQLite at Path otherwise
type DBConfig struct {
	Path            string        `koanf:"path"`
	DatabaseURL     string        `koanf:"database_url"`
	Retention       time.Duration `koanf:"retention" validate:"gt=0"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8081,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			AuthRateLimit:   20,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		DB: DBConfig{
			Path:            "./data/bikeops.db",
			Retention:       7 * 24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Logging:  logging.DefaultConfig(),
		Backend:  backend.DefaultConfig(),
		Stations: stations.DefaultConfig(),
		Session:  session.DefaultConfig(),
		Layout:   layout.DefaultOptions(),
		MapView:  mapview.DefaultConfig(),
		Predict:  predict.DefaultConfig(),
	}
}

// Load reads .env and .env.local, then layers defaults, the YAML file and
// the environment, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")
	return LoadFile(findConfigFile())
}

// LoadFile is Load without the .env step. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := Default()
	defaults.Logging.Output = nil
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// legacyEnv maps the flat variable names earlier deployments used
var legacyEnv = map[string]string{
	"PORT":            "server.port",
	"STATIC_DIR":      "server.static_dir",
	"CORS_ORIGINS":    "server.cors_origins",
	"DATABASE_URL":    "db.database_url",
	"DB_PATH":         "db.path",
	"BACKEND_URL":     "backend.base_url",
	"LOG_LEVEL":       "logging.level",
	"LOG_FORMAT":      "logging.format",
	"SESSION_STORE":   "session.store",
	"REDIS_URL":       "session.redis_url",
	"POLL_INTERVAL":   "stations.interval",
	"RETENTION_HOURS": "db.retention",
}

// sliceKeys are split on commas when they come from the environment
var sliceKeys = map[string]bool{
	"server.cors_origins": true,
}

func envTransform(key, value string) (string, any) {
	var path string
	switch {
	case strings.HasPrefix(key, EnvPrefix):
		path = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		path = strings.ReplaceAll(path, "__", ".")
	case legacyEnv[key] != "":
		path = legacyEnv[key]
		// bare numbers keep their old units
		switch key {
		case "POLL_INTERVAL":
			value = withUnit(value, "s")
		case "RETENTION_HOURS":
			value = withUnit(value, "h")
		}
	default:
		return "", nil
	}

	if sliceKeys[path] {
		return path, splitList(value)
	}
	return path, value
}

func withUnit(value, unit string) string {
	value = strings.TrimSpace(value)
	if value == "" || strings.IndexFunc(value, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return value
	}
	return value + unit
}

func splitList(value string) []string {
	out := []string{}
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the rules that span fields
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if err := c.Layout.Validate(); err != nil {
		return err
	}

	var errs []error
	switch c.Session.Store {
	case "badger":
		if c.Session.BadgerDir == "" {
			errs = append(errs, errors.New("session.badger_dir is required for the badger store"))
		}
	case "redis":
		if c.Session.RedisURL == "" {
			errs = append(errs, errors.New("session.redis_url is required for the redis store"))
		}
	}
	if c.DB.DatabaseURL == "" && c.DB.Path == "" {
		errs = append(errs, errors.New("either db.database_url or db.path must be set"))
	}
	if c.DB.CleanupInterval > c.DB.Retention {
		errs = append(errs, fmt.Errorf("db.cleanup_interval (%s) exceeds db.retention (%s)", c.DB.CleanupInterval, c.DB.Retention))
	}
	if c.Stations.FetchTimeout > c.Stations.Interval {
		errs = append(errs, fmt.Errorf("stations.fetch_timeout (%s) exceeds stations.interval (%s)", c.Stations.FetchTimeout, c.Stations.Interval))
	}
	return errors.Join(errs...)
}
