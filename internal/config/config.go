// Package config provides layered configuration for shelfard: defaults, then
// a YAML or JSON file, then .env and SHELFARD_* environment variables, then
// command-line flags applied by the caller.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	serrors "github.com/shelfard/shelfard/internal/errors"
)

// Backend names the registry storage backend.
type Backend string

const (
	BackendLocal    Backend = "local"
	BackendS3       Backend = "s3"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// SQLite driver names as registered with database/sql.
const (
	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

// Config holds the configuration for the CLI and the HTTP service.
type Config struct {
	// DataDir is the base directory for local registry files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `json:"log_level" yaml:"log_level"`

	// Registry configuration
	Registry RegistryConfig `json:"registry" yaml:"registry"`

	// Fetch configuration
	Fetch FetchConfig `json:"fetch" yaml:"fetch"`

	// Inference configuration
	Infer InferConfig `json:"infer" yaml:"infer"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`
}

// RegistryConfig selects and configures the snapshot registry backend.
type RegistryConfig struct {
	// Backend is one of local, s3, sqlite, postgres
	Backend Backend `json:"backend" yaml:"backend"`

	// Path is the registry directory (local) or database file (sqlite)
	Path string `json:"path" yaml:"path"`

	// DSN is the Postgres connection string
	DSN string `json:"dsn" yaml:"dsn"`

	// SQLiteDriver is sqlite3 (cgo) or sqlite (pure Go)
	SQLiteDriver string `json:"sqlite_driver" yaml:"sqlite_driver"`

	// S3 configuration (for s3 backend)
	S3 S3Config `json:"s3" yaml:"s3"`

	// LockTimeout bounds the wait for a per-name registration lock
	LockTimeout time.Duration `json:"lock_timeout" yaml:"lock_timeout"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// FetchConfig holds REST fetch configuration.
type FetchConfig struct {
	// Timeout is the deadline for one fetch, retries included
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxRetries is the number of retries after a transient failure
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// UserAgent is sent with every request
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// InferConfig holds inference configuration.
type InferConfig struct {
	// SampleSize is the number of array elements inspected per array
	SampleSize int `json:"sample_size" yaml:"sample_size"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address of shelfard serve
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// MaxBodyBytes bounds payloads posted to the API
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  "./.shelfard",
		LogLevel: "warn",
		Registry: RegistryConfig{
			Backend:      BackendLocal,
			SQLiteDriver: DriverMattn,
			LockTimeout:  10 * time.Second,
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Fetch: FetchConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			UserAgent:  "shelfard",
		},
		Infer: InferConfig{
			SampleSize: 20,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodyBytes: 16 * 1024 * 1024,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./.shelfard"
	}

	if c.Registry.Path == "" {
		switch c.Registry.Backend {
		case BackendSQLite:
			c.Registry.Path = filepath.Join(c.DataDir, "registry.db")
		case BackendLocal:
			c.Registry.Path = filepath.Join(c.DataDir, "registry")
		}
	}

	if c.Registry.SQLiteDriver == "" {
		c.Registry.SQLiteDriver = DriverMattn
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return serrors.NewConfigError("data_dir is required", nil)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return serrors.NewConfigError(fmt.Sprintf("invalid log_level %q", c.LogLevel), err)
	}

	switch c.Registry.Backend {
	case BackendLocal, BackendSQLite:
		// path is resolved from data_dir
	case BackendPostgres:
		if c.Registry.DSN == "" {
			return serrors.NewConfigError("registry.dsn is required when backend is postgres", nil)
		}
	case BackendS3:
		if c.Registry.S3.Bucket == "" {
			return serrors.NewConfigError("registry.s3.bucket is required when backend is s3", nil)
		}
	default:
		return serrors.NewConfigError(fmt.Sprintf("invalid registry backend: %s (must be local, s3, sqlite, or postgres)", c.Registry.Backend), nil)
	}

	if c.Registry.Backend == BackendSQLite && c.Registry.SQLiteDriver != DriverMattn && c.Registry.SQLiteDriver != DriverModernc {
		return serrors.NewConfigError(fmt.Sprintf("invalid registry.sqlite_driver: %s (must be %s or %s)", c.Registry.SQLiteDriver, DriverMattn, DriverModernc), nil)
	}

	if c.Registry.LockTimeout <= 0 {
		return serrors.NewConfigError("registry.lock_timeout must be positive", nil)
	}

	if c.Fetch.Timeout <= 0 {
		return serrors.NewConfigError("fetch.timeout must be positive", nil)
	}

	if c.Fetch.MaxRetries < 0 || c.Fetch.MaxRetries > 10 {
		return serrors.NewConfigError(fmt.Sprintf("fetch.max_retries must be between 0 and 10, got %d", c.Fetch.MaxRetries), nil)
	}

	if c.Infer.SampleSize < 1 || c.Infer.SampleSize > 10000 {
		return serrors.NewConfigError(fmt.Sprintf("infer.sample_size must be between 1 and 10000, got %d", c.Infer.SampleSize), nil)
	}

	return nil
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(level))
	return l, err
}

// Load builds the effective configuration: defaults, the optional file at
// path, then environment variables. The result is resolved and validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	}

	LoadFromEnv(cfg)
	cfg.Resolve()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.NewConfigError("failed to read config file", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, serrors.NewConfigError("failed to parse YAML config", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, serrors.NewConfigError("failed to parse JSON config", err)
		}
	default:
		return nil, serrors.NewConfigError(fmt.Sprintf("unsupported config file format: %s", ext), nil)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are ignored; variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return serrors.NewConfigError(fmt.Sprintf("failed to load %s", p), err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SHELFARD_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SHELFARD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SHELFARD_LOG"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SHELFARD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// Registry configuration
	if v := os.Getenv("SHELFARD_REGISTRY_BACKEND"); v != "" {
		cfg.Registry.Backend = Backend(v)
	}
	if v := os.Getenv("SHELFARD_REGISTRY_PATH"); v != "" {
		cfg.Registry.Path = v
	}
	if v := os.Getenv("SHELFARD_REGISTRY_DSN"); v != "" {
		cfg.Registry.DSN = v
	}
	if v := os.Getenv("SHELFARD_REGISTRY_SQLITE_DRIVER"); v != "" {
		cfg.Registry.SQLiteDriver = v
	}
	if v := os.Getenv("SHELFARD_REGISTRY_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Registry.LockTimeout = d
		}
	}
	if v := os.Getenv("SHELFARD_S3_BUCKET"); v != "" {
		cfg.Registry.S3.Bucket = v
	}
	if v := os.Getenv("SHELFARD_S3_PREFIX"); v != "" {
		cfg.Registry.S3.Prefix = v
	}
	if v := os.Getenv("SHELFARD_S3_REGION"); v != "" {
		cfg.Registry.S3.Region = v
	}
	if v := os.Getenv("SHELFARD_S3_ENDPOINT"); v != "" {
		cfg.Registry.S3.Endpoint = v
	}
	if v := os.Getenv("SHELFARD_S3_USE_PATH_STYLE"); v != "" {
		cfg.Registry.S3.UsePathStyle = v == "true" || v == "1"
	}

	// Fetch configuration
	if v := os.Getenv("SHELFARD_FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Fetch.Timeout = d
		}
	}
	if v := os.Getenv("SHELFARD_FETCH_MAX_RETRIES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Fetch.MaxRetries)
	}
	if v := os.Getenv("SHELFARD_FETCH_USER_AGENT"); v != "" {
		cfg.Fetch.UserAgent = v
	}

	// Inference configuration
	if v := os.Getenv("SHELFARD_INFER_SAMPLE_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Infer.SampleSize)
	}

	// HTTP configuration
	if v := os.Getenv("SHELFARD_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
}

// EnsureDirectories creates the directories local backends write into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	switch c.Registry.Backend {
	case BackendLocal:
		dirs = append(dirs, c.Registry.Path)
	case BackendSQLite:
		dirs = append(dirs, filepath.Dir(c.Registry.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
