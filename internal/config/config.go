// Package config loads gateway configuration from YAML with environment
// variable overrides. Secrets are only ever taken from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Supabase  SupabaseConfig  `yaml:"supabase"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// SupabaseConfig holds hosted backend settings. Keys come from the
// environment, never from the file.
type SupabaseConfig struct {
	URL        string `yaml:"url"`
	AnonKey    string `yaml:"-"`
	ServiceKey string `yaml:"-"`
	JWTSecret  string `yaml:"-"`
}

// SessionConfig controls session snapshot persistence and token refresh.
type SessionConfig struct {
	PersistBackend string   `yaml:"persist_backend"` // "file" or "redis"
	SnapshotPath   string   `yaml:"snapshot_path"`
	RedisAddr      string   `yaml:"redis_addr"`
	RedisPassword  string   `yaml:"-"`
	RedisDB        int      `yaml:"redis_db"`
	RefreshLeeway  Duration `yaml:"refresh_leeway"`
}

// RateLimitConfig controls per-principal request limits.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Session: SessionConfig{
			PersistBackend: "file",
			SnapshotPath:   ".snag-session.json",
			RefreshLeeway:  Duration(60 * time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the file if present, otherwise falls back to defaults
// plus environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		cfg := Default()
		cfg.applyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SNAG_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("SNAG_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		c.Supabase.URL = v
	}
	c.Supabase.AnonKey = os.Getenv("SUPABASE_ANON_KEY")
	c.Supabase.ServiceKey = os.Getenv("SUPABASE_SERVICE_KEY")
	c.Supabase.JWTSecret = os.Getenv("SUPABASE_JWT_SECRET")
	if v := os.Getenv("SNAG_SESSION_BACKEND"); v != "" {
		c.Session.PersistBackend = v
	}
	if v := os.Getenv("SNAG_SESSION_SNAPSHOT"); v != "" {
		c.Session.SnapshotPath = v
	}
	if v := os.Getenv("SNAG_REDIS_ADDR"); v != "" {
		c.Session.RedisAddr = v
	}
	c.Session.RedisPassword = os.Getenv("SNAG_REDIS_PASSWORD")
	if v := os.Getenv("SNAG_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.RedisDB = n
		}
	}
	if v := os.Getenv("SNAG_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Supabase.URL == "" {
		return fmt.Errorf("supabase url is required (SUPABASE_URL)")
	}
	if c.Supabase.AnonKey == "" {
		return fmt.Errorf("supabase anon key is required (SUPABASE_ANON_KEY)")
	}
	switch c.Session.PersistBackend {
	case "file", "redis":
	default:
		return fmt.Errorf("session persist_backend must be file or redis, got %q", c.Session.PersistBackend)
	}
	if c.Session.PersistBackend == "redis" && c.Session.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required for the redis session backend")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	return nil
}
