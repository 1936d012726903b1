package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dashboard-api/internal/config"
	"github.com/kailas-cloud/dashboard-api/internal/db"
	"github.com/kailas-cloud/dashboard-api/internal/db/memory"
	dbRedis "github.com/kailas-cloud/dashboard-api/internal/db/redis"
	logpkg "github.com/kailas-cloud/dashboard-api/internal/logger"
	"github.com/kailas-cloud/dashboard-api/internal/metrics"
	metadatarepo "github.com/kailas-cloud/dashboard-api/internal/repository/metadata"
	"github.com/kailas-cloud/dashboard-api/internal/repository/respcache"
	chiTransport "github.com/kailas-cloud/dashboard-api/internal/transport/chi"
	"github.com/kailas-cloud/dashboard-api/internal/transport/cog"
	"github.com/kailas-cloud/dashboard-api/internal/transport/stac"
	"github.com/kailas-cloud/dashboard-api/internal/transport/titiler"
	datasetuc "github.com/kailas-cloud/dashboard-api/internal/usecase/dataset"
	healthuc "github.com/kailas-cloud/dashboard-api/internal/usecase/health"
	mosaicuc "github.com/kailas-cloud/dashboard-api/internal/usecase/mosaic"
	siteuc "github.com/kailas-cloud/dashboard-api/internal/usecase/site"
	"github.com/kailas-cloud/dashboard-api/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting dashboard API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("metadata_source", cfg.Metadata.Source),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.Bool("cache_disabled", cfg.Cache.Disabled),
	)

	ctx := context.Background()

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	// S3 serves the metadata documents and s3:// COG assets.
	var s3Client *s3.Client
	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.Metadata.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.Metadata.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	switch {
	case err == nil:
		s3Client = s3.NewFromConfig(awsCfg)
	case cfg.Metadata.Source == "s3":
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	default:
		logger.Warn("AWS config unavailable, s3:// assets disabled", zap.Error(err))
	}

	// Metadata documents
	files := metadatarepo.NewFileSource(cfg.Metadata.Dir)
	var source metadatarepo.Source = files
	if cfg.Metadata.Source == "s3" {
		source = metadatarepo.NewS3Source(s3Client, cfg.Metadata.Bucket, files, map[string]string{
			cfg.Metadata.DatasetKey: cfg.Metadata.DatasetFallback,
			cfg.Metadata.SiteKey:    cfg.Metadata.SiteFallback,
		}, logger)
	}
	metaStore := metadatarepo.NewStore(source, metadatarepo.Config{
		DatasetKey: cfg.Metadata.DatasetKey,
		SiteKey:    cfg.Metadata.SiteKey,
		TTL:        cfg.Metadata.TTL(),
	}, logger)

	// Response cache
	var cacheStore db.Store
	if !cfg.Cache.Disabled {
		cacheStore = newCacheStore(ctx, cfg.Cache, logger)
		defer cacheStore.Close()
	}
	var cache *respcache.Cache
	var cachePinger healthuc.CachePinger
	if cacheStore != nil {
		cache = respcache.New(cacheStore, cfg.Cache.TTL(), metrics.ResponseCacheTotal, logger)
		cachePinger = cacheStore
	}

	// Mosaic pipeline
	stacClient, err := stac.New(
		stac.WithLimits(cfg.Mosaic.PageSize, cfg.Mosaic.MaxItems),
		stac.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("Failed to create STAC client", zap.Error(err))
	}

	inspectorOpts := []cog.Option{
		cog.WithHeaderBytes(cfg.Mosaic.HeaderBytes),
		cog.WithLogger(logger),
	}
	if s3Client != nil {
		inspectorOpts = append(inspectorOpts, cog.WithS3(s3Client))
	}
	inspector := cog.NewInspector(inspectorOpts...)

	tiler := titiler.NewClient(&titiler.Config{
		APIRoot:     cfg.Mosaic.APIRoot,
		MaxFailures: cfg.Mosaic.Breaker.MaxFailures,
		OpenTimeout: time.Duration(cfg.Mosaic.Breaker.OpenSec) * time.Second,
		Logger:      logger,
	})

	t := cfg.Mosaic.Timeouts
	mosaicSvc := mosaicuc.New(
		stacClient, mosaicuc.NewAssembler(inspector), tiler, tiler, tiler.APIRoot(),
	).WithTimeouts(mosaicuc.Timeouts{
		Search:   config.Duration(t.SearchMs),
		Assemble: config.Duration(t.AssembleMs),
		Token:    config.Duration(t.TokenMs),
		Publish:  config.Duration(t.PublishMs),
	})

	// Read path
	datasetSvc := datasetuc.New(metaStore, datasetuc.Servers{
		VectorTileserverURL: cfg.Servers.VectorTileserverURL,
		TitilerServerURL:    cfg.Servers.TitilerServerURL,
	})
	siteSvc := siteuc.New(metaStore)
	healthSvc := healthuc.New(metaStore, cachePinger)

	// Create chi server
	server := chiTransport.NewServer(mosaicSvc, datasetSvc, siteSvc, healthSvc, logger).
		WithPrefix(cfg.HTTP.APIPrefix).
		WithCache(cache)
	if n := cfg.Mosaic.RateLimitPerMin; n > 0 {
		server.WithMosaicLimiter(httprate.LimitByRealIP(n, time.Minute))
	}

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.HTTP.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Location", "X-Cache", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(chiMiddleware.Compress(5, "application/json"))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not_found", "Error: Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Error: Method Not Allowed")
	})
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// newCacheStore builds the response cache backend for the configured driver.
func newCacheStore(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) db.Store {
	switch cfg.Driver {
	case "redis", "valkey":
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
		if err := store.WaitForReady(ctx, time.Duration(cfg.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Cache store not ready", zap.Error(err))
		}
		logger.Info("Connected to cache store", zap.Strings("addrs", cfg.Addrs))
		return store
	default:
		return memory.NewStore(time.Minute)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":   code,
		"detail": detail,
	})
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					writeJSONError(w, http.StatusInternalServerError, "internal_error", "Error: internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
				zap.String("cache", ww.Header().Get("X-Cache")),
			)
		})
	}
}
