/*
config.go - Layered server configuration

PURPOSE:
  Loads the server configuration from three layers, lowest first:

    1. struct defaults (koanf tags on Config)
    2. optional YAML file (CONFIG_PATH, then ./config.yaml)
    3. environment variables prefixed LOYALTY_

  A .env file in the working directory is read into the environment
  before layer 3, so local development needs no exported variables.

ENVIRONMENT MAPPING:
  LOYALTY_SERVER_PORT         -> server.port
  LOYALTY_DATABASE_PATH       -> database.path
  LOYALTY_AUTH_JWT_SECRET     -> auth.jwt_secret
  LOYALTY_LOG_LEVEL           -> log.level
  LOYALTY_AUDIT_INTERVAL      -> audit.interval   (Go duration, "15m")
  LOYALTY_SERVER_ALLOWED_ORIGINS -> comma separated list

  The first underscore after a section name separates section and key;
  the remaining underscores belong to the key.

SEE ALSO:
  - cmd/server/main.go: flag overrides on top of Load
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix         = "LOYALTY_"
	ConfigPathEnvVar  = "CONFIG_PATH"
	DefaultConfigPath = "config.yaml"

	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the complete server configuration.
type Config struct {
	Environment string         `koanf:"environment"`
	Server      ServerConfig   `koanf:"server"`
	Database    DatabaseConfig `koanf:"database"`
	Auth        AuthConfig     `koanf:"auth"`
	Log         LogConfig      `koanf:"log"`
	Public      PublicConfig   `koanf:"public"`
	Audit       AuditConfig    `koanf:"audit"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	RateLimit      int           `koanf:"rate_limit"` // requests per minute per IP, 0 disables
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json | console
}

type PublicConfig struct {
	// BaseURL prefixes the card links encoded in QR codes.
	BaseURL string `koanf:"base_url"`
}

type AuditConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
			RateLimit:      120,
		},
		Database: DatabaseConfig{
			Path: "loyalty.db",
		},
		Auth: AuthConfig{
			Issuer: "loyalty-engine",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Public: PublicConfig{
			BaseURL: "http://localhost:8080",
		},
		Audit: AuditConfig{
			Enabled:  true,
			Interval: time.Hour,
		},
	}
}

// Load builds the configuration. path, when non-empty, names the YAML file
// and must exist; otherwise CONFIG_PATH and ./config.yaml are tried.
func Load(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitList(k, "server.allowed_origins"); err != nil {
		return nil, err
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

// Validate checks values that would make the server unusable or unsafe.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Auth.JWTSecret == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("auth.jwt_secret is required outside development"))
	}
	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		errs = append(errs, errors.New("audit.interval must be positive when the audit is enabled"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "" || c.Environment == EnvDevelopment
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return DefaultConfigPath
	}
	return ""
}

// sections lists the top-level keys; used to split LOYALTY_SECTION_KEY.
var sections = []string{"server", "database", "auth", "log", "public", "audit"}

// envTransformFunc maps LOYALTY_AUTH_JWT_SECRET to auth.jwt_secret.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	for _, s := range sections {
		if strings.HasPrefix(key, s+"_") {
			return s + "." + strings.TrimPrefix(key, s+"_")
		}
	}
	return key
}

// splitList turns a comma separated env value into a slice.
func splitList(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if err := k.Set(path, out); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}
