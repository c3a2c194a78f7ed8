// Package config loads the ambient configuration surface described in
// spec.md §6: server identity, diagnostics, the REST transport, auth, and
// the observability knobs. It follows the teacher's env > file > default
// precedence and koanf-based layering; the programmatic surface that
// cannot round-trip through YAML (services, resources, hook handlers)
// stays in engine.Options, supplied directly by the hosting application.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the full ambient configuration snapshot a hosting application
// loads at boot, corresponding to the enumerated surface in spec.md §6.
type Config struct {
	ServerName  string        `koanf:"serverName"`
	Runtime     string        `koanf:"runtime"`
	Diagnostics bool          `koanf:"diagnostics"`
	LogServices bool          `koanf:"logServices"`
	Logging     LoggingConfig `koanf:"logging"`
	Metrics     MetricsConfig `koanf:"metrics"`
	Auth        AuthConfig    `koanf:"auth"`
	REST        RESTConfig    `koanf:"rest"`
	Cache       CacheConfig   `koanf:"cache"`
}

// CacheConfig selects and configures the engine's result/decision cache
// backend (internal/engine/cache). An action only consults it when its
// Result.CacheTTL is positive. The default is Backend="memory" with
// TTLSeconds=60.
type CacheConfig struct {
	Backend    string           `koanf:"backend"`
	TTLSeconds int64            `koanf:"ttlSeconds"`
	Redis      CacheRedisConfig `koanf:"redis"`
}

// CacheRedisConfig configures either the go-redis (backend="redis") or
// valkey-go (backend="valkey") result-cache client; both share the same
// connection shape.
type CacheRedisConfig struct {
	Address  string `koanf:"address"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring,
// consumed by internal/logging.New.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// MetricsConfig toggles the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
}

// AuthConfig mirrors spec.md's AuthConfig. An empty Secret means no
// engine-level auth is configured, so isProtected is silently ignored per
// spec.md §9's preserved Open Question resolution.
type AuthConfig struct {
	Secret     string `koanf:"secret"`
	Method     string `koanf:"method"`
	HeaderName string `koanf:"headerName"`
	CookieName string `koanf:"cookieName"`
}

// RESTConfig is the `rest` block from spec.md §6's configuration surface.
type RESTConfig struct {
	BaseURL        string          `koanf:"baseUrl"`
	Host           string          `koanf:"host"`
	Port           int             `koanf:"port"`
	AllowedOrigins []string        `koanf:"allowedOrigins"`
	EnableStatus   bool            `koanf:"enableStatus"`
	EnableStatic   bool            `koanf:"enableStatic"`
	StaticDir      string          `koanf:"staticDir"`
	CORS           CORSConfig      `koanf:"cors"`
	RateLimiting   RateLimitConfig `koanf:"rateLimiting"`
	Uploads        UploadsConfig   `koanf:"uploads"`
}

// CORSConfig configures go-chi/cors, grounded in the teacher's CORS
// middleware shape (allowed origins come from RESTConfig.AllowedOrigins).
type CORSConfig struct {
	AllowedMethods   []string `koanf:"allowedMethods"`
	AllowedHeaders   []string `koanf:"allowedHeaders"`
	ExposedHeaders   []string `koanf:"exposedHeaders"`
	AllowCredentials bool     `koanf:"allowCredentials"`
	MaxAgeSeconds    int      `koanf:"maxAgeSeconds"`
}

// RateLimitConfig configures the per-IP token-bucket limiter built on
// golang.org/x/time/rate.
type RateLimitConfig struct {
	Enabled           bool    `koanf:"enabled"`
	RequestsPerSecond float64 `koanf:"requestsPerSecond"`
	Burst             int     `koanf:"burst"`
}

// UploadsConfig mirrors spec.md §3's UploadsConfig, loadable from YAML/env
// on top of upload.DefaultConfig()'s documented defaults.
type UploadsConfig struct {
	EnforceContentType bool               `koanf:"enforceContentType"`
	Mode               string             `koanf:"mode"`
	MaxMemoryBytes     int64              `koanf:"maxMemoryBytes"`
	Limits             UploadsLimitConfig `koanf:"limits"`
	Allow              UploadsAllowConfig `koanf:"allow"`
}

type UploadsLimitConfig struct {
	MaxFiles          int   `koanf:"maxFiles"`
	MaxFileSize       int64 `koanf:"maxFileSize"`
	MinFileSize       int64 `koanf:"minFileSize"`
	MaxTotalSize      int64 `koanf:"maxTotalSize"`
	MaxFilenameLength int   `koanf:"maxFilenameLength"`
}

type UploadsAllowConfig struct {
	MimeTypes  []string `koanf:"mimeTypes"`
	Extensions []string `koanf:"extensions"`
}

// DefaultConfig returns the baseline values the loader seeds before a file
// or environment variables are applied.
func DefaultConfig() Config {
	return Config{
		ServerName:  "actionkit",
		Runtime:     "go",
		Diagnostics: false,
		LogServices: true,
		Cache: CacheConfig{
			Backend:    "memory",
			TTLSeconds: 60,
		},
		Logging: LoggingConfig{
			Level:             "info",
			Format:            "json",
			CorrelationHeader: "X-Request-ID",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "actionkit",
		},
		REST: RESTConfig{
			BaseURL:      "/api",
			Host:         "0.0.0.0",
			Port:         8080,
			EnableStatus: true,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
				MaxAgeSeconds:  300,
			},
			RateLimiting: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 20,
				Burst:             40,
			},
			Uploads: UploadsConfig{
				Mode:           "structured",
				MaxMemoryBytes: 32 << 20,
				Limits: UploadsLimitConfig{
					MaxFiles:          10,
					MaxFileSize:       10 << 20,
					MinFileSize:       1,
					MaxTotalSize:      20 << 20,
					MaxFilenameLength: 128,
				},
				Allow: UploadsAllowConfig{
					MimeTypes:  []string{"image/png", "image/jpeg", "application/pdf"},
					Extensions: []string{".png", ".jpg", ".jpeg", ".pdf"},
				},
			},
		},
	}
}

// Validate enforces the invariants the loader cannot express through
// struct tags alone.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.REST.Port <= 0 || c.REST.Port > 65535 {
		return fmt.Errorf("config: rest.port invalid: %d", c.REST.Port)
	}
	if strings.TrimSpace(c.REST.BaseURL) == "" {
		return errors.New("config: rest.baseUrl required")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level unsupported: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("config: logging.format unsupported: %s", c.Logging.Format)
	}
	if c.Auth.Secret != "" {
		switch strings.ToLower(c.Auth.Method) {
		case "", "header", "cookie":
		default:
			return fmt.Errorf("config: auth.method unsupported: %s", c.Auth.Method)
		}
	}
	if c.REST.Uploads.Limits.MaxFiles <= 0 {
		return errors.New("config: rest.uploads.limits.maxFiles must be positive")
	}
	if c.REST.Uploads.Limits.MaxFileSize <= 0 {
		return errors.New("config: rest.uploads.limits.maxFileSize must be positive")
	}
	if c.REST.Uploads.Limits.MaxTotalSize < c.REST.Uploads.Limits.MaxFileSize {
		return errors.New("config: rest.uploads.limits.maxTotalSize must be >= maxFileSize")
	}
	if c.REST.RateLimiting.Enabled && c.REST.RateLimiting.RequestsPerSecond <= 0 {
		return errors.New("config: rest.rateLimiting.requestsPerSecond must be positive when enabled")
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "", "memory", "redis", "valkey":
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s", c.Cache.Backend)
	}
	return nil
}
