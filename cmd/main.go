// Command actionkitd is the reference binary: it loads configuration,
// builds the reference action catalog, wires the pipeline Engine and Intent
// Dispatcher over it, and serves the REST transport adapter until signaled
// to shut down.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/actionkit/actionkit/internal/config"
	"github.com/actionkit/actionkit/internal/engine/accesscontrol"
	"github.com/actionkit/actionkit/internal/engine/auth"
	"github.com/actionkit/actionkit/internal/engine/cache"
	"github.com/actionkit/actionkit/internal/engine/catalog"
	"github.com/actionkit/actionkit/internal/engine/dispatcher"
	"github.com/actionkit/actionkit/internal/engine/exectx"
	"github.com/actionkit/actionkit/internal/engine/pipeline"
	"github.com/actionkit/actionkit/internal/engine/upload"
	"github.com/actionkit/actionkit/internal/logging"
	"github.com/actionkit/actionkit/internal/metrics"
	"github.com/actionkit/actionkit/internal/result"
	"github.com/actionkit/actionkit/internal/server"
	"github.com/actionkit/actionkit/internal/transport/rest"
	"github.com/prometheus/client_golang/prometheus"
)

// configLoader is the narrow surface main depends on, so tests can swap in
// a fake without touching the filesystem or environment.
type configLoader interface {
	Load(ctx context.Context) (config.Config, error)
}

// runnableServer is the narrow surface main depends on for the HTTP
// lifecycle, letting tests substitute a stub that fails fast.
type runnableServer interface {
	Run(ctx context.Context) error
}

// newConfigLoader and newHTTPServer are package vars so tests can override
// construction without spawning a real listener or loader.
var (
	newConfigLoader = func(envPrefix, file string) configLoader {
		return config.NewLoader(envPrefix, file)
	}
	newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
		return server.New(cfg, logger, handler)
	}
)

// onBeforeActionHandler, onAfterActionHandler, and onBootFn are the
// programmatic hook surface a hosting application sets before calling run.
// They cannot round-trip through YAML, so they live here alongside the
// service catalog rather than in config.Config. onBootFn is invoked once
// after wiring, on its own goroutine, through the crash-safe invoker — a
// panic inside it is logged, never fatal.
var (
	onBeforeActionHandler pipeline.GlobalBeforeHook
	onAfterActionHandler  pipeline.GlobalAfterHook
	onBootFn              func(ctx context.Context) error
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "ACTIONKIT", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	loader := newConfigLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:             cfg.Logging.Level,
		Format:            cfg.Logging.Format,
		CorrelationHeader: cfg.Logging.CorrelationHeader,
	})
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	resultCache := buildResultCache(logger, cfg.Cache)
	defer func() {
		if resultCache != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := resultCache.Close(shutdownCtx); err != nil {
				logger.Error("result cache shutdown failed", slog.Any("error", err))
			}
		}
	}()

	registry, err := catalog.NewRegistry(defaultServices())
	if err != nil {
		return fmt.Errorf("build action registry: %w", err)
	}

	accessControlEnv, err := accesscontrol.NewEnvironment()
	if err != nil {
		return fmt.Errorf("build access control environment: %w", err)
	}

	var authCfg *auth.Config
	if cfg.Auth.Secret != "" {
		authCfg = &auth.Config{
			Secret:     cfg.Auth.Secret,
			Method:     auth.Method(cfg.Auth.Method),
			HeaderName: cfg.Auth.HeaderName,
			CookieName: cfg.Auth.CookieName,
		}
	}

	engine := pipeline.New(registry, pipeline.Options{
		Auth:           authCfg,
		Verifier:       auth.NewJWTVerifier(),
		AccessControl:  accessControlEnv,
		OnBeforeAction: onBeforeActionHandler,
		OnAfterAction:  onAfterActionHandler,
		ResultCache:    resultCache,
		HashPayload:    hashPayload,
		Metrics:        metricsRecorder,
	})

	disp := dispatcher.New(registry, engine)

	resources := exectx.Resources{Logger: logger}

	restCfg := rest.Config{
		BaseURL:        cfg.REST.BaseURL,
		ServerName:     cfg.ServerName,
		AllowedOrigins: cfg.REST.AllowedOrigins,
		EnableStatus:   cfg.REST.EnableStatus,
		EnableStatic:   cfg.REST.EnableStatic,
		StaticDir:      cfg.REST.StaticDir,
		CORSMethods:    cfg.REST.CORS.AllowedMethods,
		CORSHeaders:    cfg.REST.CORS.AllowedHeaders,
		CORSExposed:    cfg.REST.CORS.ExposedHeaders,
		CORSCreds:      cfg.REST.CORS.AllowCredentials,
		CORSMaxAge:     cfg.REST.CORS.MaxAgeSeconds,
		Diagnostics:    cfg.Diagnostics,
	}

	var limiter rest.Limiter
	if cfg.REST.RateLimiting.Enabled {
		limiter = rest.NewIPLimiter(cfg.REST.RateLimiting.RequestsPerSecond, cfg.REST.RateLimiting.Burst)
	}

	handler := rest.NewRouter(rest.Deps{
		Config:     restCfg,
		Dispatcher: disp,
		Registry:   registry,
		Resources:  resources,
		AuthConfig: authCfg,
		Uploads:    uploadsConfigFrom(cfg.REST.Uploads),
		Limiter:    limiter,
		Logger:     logger,
		Metrics:    metricsRecorder,
	})

	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", metricsRecorder.Handler())
	}
	mux.Handle("/", handler)

	srv, err := newHTTPServer(cfg, logger, mux)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	if cfg.LogServices {
		logRegisteredServices(logger, registry)
	}

	if onBootFn != nil {
		go func() {
			invoked := result.Invoke(ctx, func() (struct{}, error) {
				return struct{}{}, onBootFn(ctx)
			})
			if invoked.IsErr() {
				logger.Error("onBoot hook failed", slog.String("error", invoked.Error()))
			}
		}()
	}

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("run server: %w", err)
	}

	logger.Info("server shutdown complete")
	return nil
}

// logRegisteredServices prints the registered service table at boot, one
// line per service with its action names.
func logRegisteredServices(logger *slog.Logger, registry *catalog.Registry) {
	services := registry.GetServices()
	if services.IsErr() {
		return
	}
	for _, svc := range services.Value() {
		logger.Info("registered service",
			slog.String("service", svc.Name),
			slog.Int("actions", len(svc.ActionNames)),
			slog.Any("names", svc.ActionNames),
		)
	}
}

func uploadsConfigFrom(cfg config.UploadsConfig) upload.Config {
	mode := upload.ModeStructured
	if strings.EqualFold(cfg.Mode, string(upload.ModeFlat)) {
		mode = upload.ModeFlat
	}
	return upload.Config{
		EnforceContentType: cfg.EnforceContentType,
		Mode:               mode,
		MaxMemory:          cfg.MaxMemoryBytes,
		Limits: upload.Limits{
			MaxFiles:          cfg.Limits.MaxFiles,
			MaxFileSize:       cfg.Limits.MaxFileSize,
			MinFileSize:       cfg.Limits.MinFileSize,
			MaxTotalSize:      cfg.Limits.MaxTotalSize,
			MaxFilenameLength: cfg.Limits.MaxFilenameLength,
		},
		Allow: upload.Allow{
			MimeTypes:  cfg.Allow.MimeTypes,
			Extensions: cfg.Allow.Extensions,
		},
	}
}

func buildResultCache(logger *slog.Logger, cfg config.CacheConfig) cache.ResultCache {
	ttl := secondsToDuration(cfg.TTLSeconds)
	switch strings.ToLower(cfg.Backend) {
	case "redis":
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Error("redis result cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory result cache")
			return cache.NewMemory(ttl)
		}
		logger.Info("using redis result cache", slog.String("address", cfg.Redis.Address))
		return redisCache
	case "valkey":
		valkeyCache, err := cache.NewValkey(cache.ValkeyConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Error("valkey result cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory result cache")
			return cache.NewMemory(ttl)
		}
		logger.Info("using valkey result cache", slog.String("address", cfg.Redis.Address))
		return valkeyCache
	default:
		logger.Info("using memory result cache", slog.Duration("ttl", ttl))
		return cache.NewMemory(ttl)
	}
}
