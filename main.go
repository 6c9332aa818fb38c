// Package main provides the main entry point for the DormUp Discounts reporting service
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // export timezones must resolve in minimal containers

	"github.com/dormup/dormup-discounts/app/handlers"
	"github.com/dormup/dormup-discounts/app/middleware"
	"github.com/dormup/dormup-discounts/app/router"
	"github.com/dormup/dormup-discounts/app/scheduler"
	"github.com/dormup/dormup-discounts/app/services"
	businessflow "github.com/dormup/dormup-discounts/business_flow"
	"github.com/dormup/dormup-discounts/config"
	"github.com/dormup/dormup-discounts/logger"
	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/repository"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	config    *config.ProductionConfig
	server    *fiber.App
	logger    *zap.Logger
	stopFuncs []func()
}

func main() {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Info("Starting DormUp Discounts API",
		zap.String("environment", cfg.Deployment.Environment),
		zap.String("version", cfg.Deployment.Version),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApplication(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("Failed to initialize application", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		zlog.Info("Server starting", zap.String("address", address))
		if err := app.server.Listen(address, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			zlog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-sigChan
	zlog.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		zlog.Error("Error during shutdown", zap.Error(err))
	}

	// in-flight jobs finish after the listener is closed
	for i := len(app.stopFuncs) - 1; i >= 0; i-- {
		app.stopFuncs[i]()
	}

	zlog.Info("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, zlog *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	var slowThreshold time.Duration
	if cfg.SlowQueryLog {
		slowThreshold = cfg.SlowQueryTime
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.NewGormLogger(zlog, slowThreshold),
		NowFunc: utils.UTCNow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(models.All()...); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	zlog.Info("Database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)
	return db, nil
}

// initializeCache returns nil when the report cache is disabled
func initializeCache(cfg config.CacheConfig, zlog *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	zlog.Info("Redis connection established", zap.Int("db", cfg.RedisDB))
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis; the returned func stops it
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, zlog *zap.Logger) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					zlog.Warn("Redis healthcheck failed", zap.Error(err))
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeStorage picks the object storage backend. The local backend is also returned so its
// signed links can be served.
func initializeStorage(ctx context.Context, cfg *config.ProductionConfig) (services.ObjectStorage, *services.LocalStorage, func(), error) {
	switch cfg.Storage.Provider {
	case "local":
		local, err := services.NewLocalStorage(cfg.Storage.LocalRoot, cfg.Server.PublicBaseURL, cfg.Storage.LocalSigningSecret)
		if err != nil {
			return nil, nil, nil, err
		}
		return local, local, func() {}, nil
	default:
		gcs, err := services.NewGCSStorage(ctx, cfg.Storage.GCSCredentialsFile, map[string]string{
			utils.ExportsBucket: cfg.Storage.ExportsBucket,
			utils.ReportsBucket: cfg.Storage.ReportsBucket,
		}, cfg.Storage.UploadTimeout)
		if err != nil {
			return nil, nil, nil, err
		}
		return gcs, nil, func() { _ = gcs.Close() }, nil
	}
}

func initializeRenderer(cfg config.SnapshotConfig, zlog *zap.Logger) services.ReportRenderer {
	if cfg.Renderer == "local" {
		return services.NewLocalRenderer()
	}
	return services.NewScreenshotClient(services.ScreenshotClientConfig{
		BaseURL:        cfg.ScreenshotURL,
		Token:          cfg.ScreenshotToken,
		Timeout:        cfg.ScreenshotTimeout,
		MaxElapsedTime: cfg.RetryMaxElapsed,
	}, zlog.Named("screenshot"))
}

// initializeApplication wires repositories, services, flows and handlers
func initializeApplication(ctx context.Context, cfg *config.ProductionConfig, zlog *zap.Logger) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database, zlog)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache, zlog)
	if err != nil {
		return nil, err
	}

	health := map[string]router.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}

	var reportCache businessflow.ReportCache
	if rc != nil {
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(ctx, rc, cfg.Cache.HealthCheckInterval, zlog))
		stopFuncs = append(stopFuncs, func() { _ = rc.Close() })
		reportCache = services.NewRedisReportCache(rc, cfg.Cache.RedisPrefix)
		health["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}

	// Repositories
	venueRepo := repository.NewVenueRepository(db)
	partnerRepo := repository.NewPartnerRepository(db)
	adminRepo := repository.NewAdminRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	venueViewRepo := repository.NewVenueViewRepository(db)
	discountUseRepo := repository.NewDiscountUseRepository(db)
	metricsRepo := repository.NewMetricsRepository(db)
	exportJobRepo := repository.NewExportJobRepository(db)
	snapshotRepo := repository.NewReportSnapshotRepository(db)

	// Services
	tokenService, err := services.NewTokenService(
		cfg.Security.SessionTTL,
		cfg.Security.ReportTokenTTL,
		cfg.Security.TokenIssuer,
		cfg.Security.AdminSessionSecret,
		cfg.Security.PartnerSessionSecret,
		cfg.Security.ReportTokenSecret,
		cfg.Security.IdentityJWTSecret,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	storage, localStorage, closeStorage, err := initializeStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	runner, err := services.NewJobRunner(ctx, services.JobRunnerConfig{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
		Timeout:   cfg.Jobs.Timeout,
	}, zlog.Named("jobs"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job runner: %w", err)
	}
	// runner drains before storage closes; stop funcs run in reverse
	stopFuncs = append(stopFuncs, closeStorage, runner.Stop)

	renderer := initializeRenderer(cfg.Snapshot, zlog)

	// Flows
	metricsFlow := businessflow.NewMetricsFlow(db, venueRepo, partnerRepo, venueViewRepo, discountUseRepo, metricsRepo, zlog.Named("metrics"))
	reportFlow := businessflow.NewReportFlow(metricsFlow, metricsRepo, partnerRepo, discountUseRepo, reportCache, cfg.Cache.ReportTTL, zlog.Named("reports"))
	eventSource := businessflow.NewEventSource(venueViewRepo, discountUseRepo, partnerRepo, cfg.Security.UserHashSalt, cfg.Export.ChunkSize)
	exportFlow := businessflow.NewExportFlow(exportJobRepo, partnerRepo, eventSource, storage, runner, businessflow.ExportConfig{
		MaxDateRangeDays:  cfg.Export.MaxDateRangeDays,
		XLSXMaxRows:       cfg.Export.XLSXMaxRows,
		CSVLargeThreshold: cfg.Export.CSVLargeThreshold,
		TempDir:           cfg.Export.TempDir,
		DefaultTimezone:   cfg.Export.DefaultTimezone,
	}, zlog.Named("exports"))
	snapshotFlow := businessflow.NewSnapshotFlow(snapshotRepo, partnerRepo, metricsRepo, reportFlow, tokenService, renderer, storage, runner, cfg.Snapshot.AppBaseURL, zlog.Named("snapshots"))
	trackingFlow := businessflow.NewTrackingFlow(venueRepo, venueViewRepo, discountUseRepo, zlog.Named("tracking"))
	legacyExportFlow := businessflow.NewLegacyExportFlow(venueRepo, partnerRepo, venueViewRepo, discountUseRepo, cfg.Security.UserHashSalt)
	authFlow := businessflow.NewAuthFlow(adminRepo, partnerRepo, profileRepo, tokenService, zlog.Named("auth"))

	// Handlers
	httpLog := zlog.Named("http")
	h := router.Handlers{
		Auth: handlers.NewAuthHandler(authFlow, handlers.CookieConfig{
			Secure:   cfg.Security.SessionCookieSecure,
			SameSite: cfg.Security.SessionCookieSameSite,
		}, httpLog),
		Export:   handlers.NewExportHandler(exportFlow, httpLog),
		Snapshot: handlers.NewSnapshotHandler(snapshotFlow, httpLog),
		Report:   handlers.NewReportHandler(reportFlow, metricsFlow, legacyExportFlow, httpLog),
		Tracking: handlers.NewTrackingHandler(trackingFlow, httpLog),
	}
	if localStorage != nil {
		h.File = handlers.NewFileHandler(localStorage, httpLog)
	}

	authMiddleware := middleware.NewAuthMiddleware(authFlow, tokenService)
	appRouter := router.NewFiberRouter(cfg, h, authMiddleware, health, httpLog)
	appRouter.SetupRoutes()

	// Schedulers
	if cfg.Scheduler.ExpireCodesEnabled {
		sched := scheduler.NewCodeExpiryScheduler(trackingFlow, cfg.Scheduler.ExpireCodesInterval, zlog.Named("code_expiry"))
		stopFuncs = append(stopFuncs, sched.Start(ctx))
	}
	if cfg.Scheduler.BackfillEnabled {
		sched := scheduler.NewMetricsBackfillScheduler(metricsFlow, cfg.Scheduler.BackfillMonths, cfg.Scheduler.BackfillInterval, zlog.Named("metrics_backfill"))
		stopFuncs = append(stopFuncs, sched.Start(ctx))
	}

	return &Application{
		config:    cfg,
		server:    appRouter.GetApp(),
		logger:    zlog,
		stopFuncs: stopFuncs,
	}, nil
}
