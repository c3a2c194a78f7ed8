package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates Config with env > file > default precedence, the way the
// teacher's internal/config.Loader layers its own server configuration.
type Loader struct {
	envPrefix string
	file      string
}

// NewLoader prepares a loader. file may be empty, in which case only
// defaults and environment variables apply.
func NewLoader(envPrefix, file string) *Loader {
	return &Loader{envPrefix: envPrefix, file: file}
}

// canonical maps koanf's lower-cased env keys back to their camelCase
// struct tags, since environment variable names are conventionally
// upper-cased and case information is lost in transit.
var canonical = map[string]string{
	"servername":                    "serverName",
	"logservices":                   "logServices",
	"logging.correlationheader":     "logging.correlationHeader",
	"rest.baseurl":                  "rest.baseUrl",
	"rest.allowedorigins":           "rest.allowedOrigins",
	"rest.enablestatus":             "rest.enableStatus",
	"rest.enablestatic":             "rest.enableStatic",
	"rest.staticdir":                "rest.staticDir",
	"rest.cors.allowedmethods":      "rest.cors.allowedMethods",
	"rest.cors.allowedheaders":      "rest.cors.allowedHeaders",
	"rest.cors.exposedheaders":      "rest.cors.exposedHeaders",
	"rest.cors.allowcredentials":    "rest.cors.allowCredentials",
	"rest.cors.maxageseconds":       "rest.cors.maxAgeSeconds",
	"rest.ratelimiting.enabled":     "rest.rateLimiting.enabled",
	"rest.ratelimiting.requestspersecond": "rest.rateLimiting.requestsPerSecond",
	"rest.ratelimiting.burst":       "rest.rateLimiting.burst",
	"rest.uploads.enforcecontenttype":     "rest.uploads.enforceContentType",
	"rest.uploads.maxmemorybytes":         "rest.uploads.maxMemoryBytes",
	"rest.uploads.limits.maxfiles":        "rest.uploads.limits.maxFiles",
	"rest.uploads.limits.maxfilesize":     "rest.uploads.limits.maxFileSize",
	"rest.uploads.limits.minfilesize":     "rest.uploads.limits.minFileSize",
	"rest.uploads.limits.maxtotalsize":    "rest.uploads.limits.maxTotalSize",
	"rest.uploads.limits.maxfilenamelength": "rest.uploads.limits.maxFilenameLength",
	"rest.uploads.allow.mimetypes":   "rest.uploads.allow.mimeTypes",
	"auth.headername":               "auth.headerName",
	"auth.cookiename":                "auth.cookieName",
	"cache.ttlseconds":               "cache.ttlSeconds",
}

// Load assembles the effective Config: defaults, then an optional YAML
// file, then environment variables with double-underscore nesting
// (ACTIONKIT_REST__PORT -> rest.port).
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if l.file != "" {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(l.file); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", l.file)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", l.file, err)
		}
		if err := k.Load(file.Provider(l.file), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", l.file, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"serverName":  cfg.ServerName,
		"runtime":     cfg.Runtime,
		"diagnostics": cfg.Diagnostics,
		"logServices": cfg.LogServices,
		"logging": map[string]any{
			"level":             cfg.Logging.Level,
			"format":            cfg.Logging.Format,
			"correlationHeader": cfg.Logging.CorrelationHeader,
		},
		"metrics": map[string]any{
			"enabled":   cfg.Metrics.Enabled,
			"namespace": cfg.Metrics.Namespace,
		},
		"auth": map[string]any{
			"secret":     cfg.Auth.Secret,
			"method":     cfg.Auth.Method,
			"headerName": cfg.Auth.HeaderName,
			"cookieName": cfg.Auth.CookieName,
		},
		"cache": map[string]any{
			"backend":    cfg.Cache.Backend,
			"ttlSeconds": cfg.Cache.TTLSeconds,
			"redis": map[string]any{
				"address":  cfg.Cache.Redis.Address,
				"username": cfg.Cache.Redis.Username,
				"password": cfg.Cache.Redis.Password,
				"db":       cfg.Cache.Redis.DB,
			},
		},
		"rest": map[string]any{
			"baseUrl":        cfg.REST.BaseURL,
			"host":           cfg.REST.Host,
			"port":           cfg.REST.Port,
			"allowedOrigins": cfg.REST.AllowedOrigins,
			"enableStatus":   cfg.REST.EnableStatus,
			"enableStatic":   cfg.REST.EnableStatic,
			"staticDir":      cfg.REST.StaticDir,
			"cors": map[string]any{
				"allowedMethods":   cfg.REST.CORS.AllowedMethods,
				"allowedHeaders":   cfg.REST.CORS.AllowedHeaders,
				"exposedHeaders":   cfg.REST.CORS.ExposedHeaders,
				"allowCredentials": cfg.REST.CORS.AllowCredentials,
				"maxAgeSeconds":    cfg.REST.CORS.MaxAgeSeconds,
			},
			"rateLimiting": map[string]any{
				"enabled":           cfg.REST.RateLimiting.Enabled,
				"requestsPerSecond": cfg.REST.RateLimiting.RequestsPerSecond,
				"burst":             cfg.REST.RateLimiting.Burst,
			},
			"uploads": map[string]any{
				"enforceContentType": cfg.REST.Uploads.EnforceContentType,
				"mode":               cfg.REST.Uploads.Mode,
				"maxMemoryBytes":     cfg.REST.Uploads.MaxMemoryBytes,
				"limits": map[string]any{
					"maxFiles":          cfg.REST.Uploads.Limits.MaxFiles,
					"maxFileSize":       cfg.REST.Uploads.Limits.MaxFileSize,
					"minFileSize":       cfg.REST.Uploads.Limits.MinFileSize,
					"maxTotalSize":      cfg.REST.Uploads.Limits.MaxTotalSize,
					"maxFilenameLength": cfg.REST.Uploads.Limits.MaxFilenameLength,
				},
				"allow": map[string]any{
					"mimeTypes":  cfg.REST.Uploads.Allow.MimeTypes,
					"extensions": cfg.REST.Uploads.Allow.Extensions,
				},
			},
		},
	}
}
