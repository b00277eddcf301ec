package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	feedapp "github.com/erp/feedsync/internal/application/feed"
	listingapp "github.com/erp/feedsync/internal/application/listing"
	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/infrastructure/cache"
	"github.com/erp/feedsync/internal/infrastructure/config"
	"github.com/erp/feedsync/internal/infrastructure/logger"
	"github.com/erp/feedsync/internal/infrastructure/marketplace"
	"github.com/erp/feedsync/internal/infrastructure/persistence"
	"github.com/erp/feedsync/internal/infrastructure/scheduler"
	"github.com/erp/feedsync/internal/infrastructure/storage"
	"github.com/erp/feedsync/internal/infrastructure/telemetry"
	"github.com/erp/feedsync/internal/interfaces/http/handler"
	"github.com/erp/feedsync/internal/interfaces/http/middleware"
	"github.com/erp/feedsync/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Telemetry comes first so its log core can be teed into the application logger
	providers, err := telemetry.Setup(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
	}, zap.NewNop())
	if err != nil {
		panic("Failed to initialize telemetry: " + err.Error())
	}

	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, providers.ZapCore(level))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting feedsync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
		zap.Bool("telemetry", providers.IsEnabled()),
	)

	// Database with zap-backed GORM logger
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.InstrumentDB(db.DB, providers.Meter("feedsync/db"), telemetry.DBInstrumentationConfig{
		TraceEnabled: cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:   cfg.Telemetry.DBLogFullSQL,
		DBName:       cfg.Database.DBName,
	}, log); err != nil {
		log.Warn("Database instrumentation unavailable", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Repositories
	profileRepo := persistence.NewGormCategoryProfileRepository(db.DB)
	catalogRepo := persistence.NewGormCatalogRepository(db.DB)
	identifierRepo := persistence.NewGormIdentifierPoolRepository(db.DB)
	batchRepo := persistence.NewGormBatchRepository(db.DB)
	snapshotRepo := persistence.NewGormReportSnapshotRepository(db.DB)

	// Business metrics
	metrics, err := telemetry.NewFeedMetrics(telemetry.FeedMetricsConfig{
		Meter:           providers.Meter("feedsync"),
		Logger:          log,
		CollectInterval: cfg.Telemetry.MetricsInterval,
		PoolProvider:    identifierRepo,
	})
	if err != nil {
		log.Fatal("Failed to initialize feed metrics", zap.Error(err))
	}

	appCtx, stopApp := context.WithCancel(context.Background())
	defer stopApp()
	metrics.StartPeriodicCollection(appCtx, cfg.Telemetry.MetricsInterval)
	defer metrics.Stop()

	// Gallery storage is optional; without it only absolute image URLs survive
	var gallery listing.GalleryResolver
	if cfg.Storage.Enabled {
		resolver, err := storage.NewS3GalleryResolver(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to initialize gallery storage", zap.Error(err))
		}
		if cfg.App.Env != "production" {
			if err := resolver.EnsureBucket(appCtx); err != nil {
				log.Warn("Gallery bucket check failed", zap.Error(err))
			}
		}
		gallery = resolver
		log.Info("Gallery storage enabled", zap.String("bucket", resolver.Bucket()))
	}
	prober := storage.NewHTTPImageProber(cfg.Images.ProbeTimeout)

	// Attribute mapping engine
	heuristics := listing.DefaultHeuristicRegistry()
	validator := listingapp.NewProfileValidator(heuristics)
	categories := listingapp.NewCategoryResolver(profileRepo, validator, log)
	values := listingapp.NewAttributeValueResolver(heuristics, listing.NewUnitNormalizer(), log).WithMetrics(metrics)
	images := listingapp.NewImageSetBuilder(gallery, prober, imageSettings(cfg), log).WithMetrics(metrics)
	mapper := listingapp.NewItemMapper(categories, values, images, catalogRepo, log).WithMetrics(metrics)
	pool := listingapp.NewIdentifierPool(identifierRepo, log).WithMetrics(metrics)
	mapping := listingapp.NewMappingService(catalogRepo, mapper, pool, cfg.Mapping.Workers, log)

	// In-flight marks live in redis when it is reachable
	inflight, closeInFlight, err := cache.NewInFlightRegistryFactory(cfg.Redis, cfg.Mapping.InFlightTTL,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).Create(appCtx)
	if err != nil {
		log.Fatal("Failed to initialize in-flight registry", zap.Error(err))
	}
	defer func() {
		if err := closeInFlight(); err != nil {
			log.Error("Error closing in-flight registry", zap.Error(err))
		}
	}()

	// Marketplace feed pipeline
	client, err := marketplace.NewClient(marketplace.Config{
		BaseURL:           cfg.Marketplace.BaseURL,
		AppKey:            cfg.Marketplace.AppKey,
		AppSecret:         cfg.Marketplace.AppSecret,
		Timeout:           cfg.Marketplace.Timeout,
		RequestsPerSecond: cfg.Marketplace.RequestsPerSecond,
		Burst:             cfg.Marketplace.Burst,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize marketplace client", zap.Error(err))
	}

	builder, err := feed.NewBatchBuilder(feed.Limits{
		MaxItemsPerSubBatch: cfg.Feed.MaxItemsPerSubBatch,
		MaxPayloadBytes:     cfg.Feed.MaxPayloadBytes,
	})
	if err != nil {
		log.Fatal("Invalid feed limits", zap.Error(err))
	}
	submitter, err := feedapp.NewFeedSubmitter(client, batchRepo, feedapp.SubmitPolicy{
		MaxAttempts:    cfg.Feed.SubmitAttempts,
		InitialBackoff: cfg.Feed.SubmitBackoff,
		MaxBackoff:     cfg.Feed.SubmitMaxBackoff,
	}, log)
	if err != nil {
		log.Fatal("Invalid submit policy", zap.Error(err))
	}
	poller, err := feedapp.NewFeedStatusPoller(client, batchRepo, feedapp.PollPolicy{
		MaxAttempts:     cfg.Feed.PollAttempts,
		InitialInterval: cfg.Feed.PollInitialInterval,
		MaxInterval:     cfg.Feed.PollMaxInterval,
		MaxElapsed:      cfg.Feed.PollMaxElapsed,
	}, log)
	if err != nil {
		log.Fatal("Invalid poll policy", zap.Error(err))
	}
	submitter.WithMetrics(metrics)
	poller.WithMetrics(metrics)
	reports := feedapp.NewReportService(batchRepo, snapshotRepo, log).WithMetrics(metrics)
	processor := feedapp.NewSubBatchProcessor(submitter, poller, batchRepo, inflight, reports, log)

	feedScheduler, err := scheduler.NewFeedScheduler(scheduler.FeedSchedulerConfig{
		Workers:        cfg.Feed.Workers,
		QueueSize:      cfg.Feed.QueueSize,
		JobTimeout:     jobTimeout(cfg),
		ResumeInterval: cfg.Feed.ResumeInterval,
	}, processor, log)
	if err != nil {
		log.Fatal("Failed to create feed scheduler", zap.Error(err))
	}
	syncService := feedapp.NewSyncService(mapping, builder, batchRepo, inflight, feedScheduler, log)
	feedScheduler.SetResumer(syncService)
	if err := feedScheduler.Start(appCtx); err != nil {
		log.Fatal("Failed to start feed scheduler", zap.Error(err))
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := router.NewEngine(router.EngineConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.Enabled,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	}, log)

	systemHandler := handler.NewSystemHandler(cfg.App.Name, version, db, feedScheduler)
	engine.GET("/health", systemHandler.Health)

	var apiMiddleware []gin.HandlerFunc
	if cfg.HTTP.RateLimitEnabled {
		apiMiddleware = append(apiMiddleware,
			middleware.RateLimit(middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)))
	}
	router.NewRouter(engine, router.WithMiddleware(apiMiddleware...)).
		Register(systemHandler).
		Register(handler.NewFeedBatchHandler(syncService, reports)).
		Register(handler.NewIdentifierHandler(pool)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	// Unfinished sub-batches stay non-terminal and are picked up by the next resume
	if err := feedScheduler.Stop(ctx); err != nil {
		log.Error("Feed scheduler did not stop cleanly", zap.Error(err))
	}
	stopApp()
	if err := providers.Shutdown(ctx); err != nil {
		log.Error("Telemetry shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

func imageSettings(cfg *config.Config) listingapp.ImageSettings {
	return listingapp.ImageSettings{
		MinCount:           cfg.Images.MinCount,
		MaxCount:           cfg.Images.MaxCount,
		MaxImageBytes:      cfg.Images.MaxImageBytes,
		Placeholders:       cfg.Images.Placeholders,
		PlaceholderMarkers: cfg.Images.PlaceholderMarkers,
	}
}

// jobTimeout covers every submit attempt with its backoff plus the polling window
func jobTimeout(cfg *config.Config) time.Duration {
	perAttempt := cfg.Marketplace.Timeout + cfg.Feed.SubmitMaxBackoff
	return time.Duration(cfg.Feed.SubmitAttempts)*perAttempt + cfg.Feed.PollMaxElapsed
}
