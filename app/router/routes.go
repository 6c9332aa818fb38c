// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/dormup/dormup-discounts/app/dto"
	"github.com/dormup/dormup-discounts/app/handlers"
	"github.com/dormup/dormup-discounts/app/middleware"
	"github.com/dormup/dormup-discounts/config"
	"github.com/dormup/dormup-discounts/docs"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	GetApp() *fiber.App
}

// Handlers groups every handler the router mounts. File is nil unless local storage is in use.
type Handlers struct {
	Auth     handlers.AuthHandlerInterface
	Export   handlers.ExportHandlerInterface
	Snapshot handlers.SnapshotHandlerInterface
	Report   handlers.ReportHandlerInterface
	Tracking handlers.TrackingHandlerInterface
	File     handlers.FileHandlerInterface
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app      *fiber.App
	cfg      *config.ProductionConfig
	handlers Handlers
	auth     *middleware.AuthMiddleware
	health   map[string]HealthCheck
	logger   *zap.Logger
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(
	cfg *config.ProductionConfig,
	h Handlers,
	auth *middleware.AuthMiddleware,
	health map[string]HealthCheck,
	log *zap.Logger,
) Router {
	app := fiber.New(fiber.Config{
		AppName:      "DormUp Discounts API",
		ServerHeader: "DormUp",
		ErrorHandler: errorHandler(log),
		BodyLimit:    cfg.Server.BodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	return &FiberRouter{
		app:      app,
		cfg:      cfg,
		handlers: h,
		auth:     auth,
		health:   health,
		logger:   log,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.setupMiddleware()

	if r.cfg.Metrics.Enabled {
		r.app.Get(r.cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := r.app.Group("/api/v1")

	api.Get("/health", r.healthCheck)

	if r.cfg.Deployment.IsDevelopment() {
		api.Get("/swagger.json", r.serveSwaggerJSON)
		r.logger.Info("API documentation enabled for development")
	}

	api.Use(limiter.New(limiter.Config{
		Max:          r.cfg.Security.GlobalRateLimit,
		Expiration:   r.cfg.Security.RateLimitWindow,
		KeyGenerator: func(c fiber.Ctx) string { return c.IP() },
		LimitReached: rateLimited,
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/api/v1/health"
		},
	}))

	loginLimiter := limiter.New(limiter.Config{
		Max:          r.cfg.Security.AuthRateLimit,
		Expiration:   time.Minute,
		KeyGenerator: func(c fiber.Ctx) string { return c.IP() + ":" + c.Path() },
		LimitReached: rateLimited,
	})

	adminOnly := r.auth.AdminAuthenticate()
	partnerOnly := r.auth.PartnerAuthenticate()
	anyActor := r.auth.AnyAuthenticate()

	// Admin
	api.Post("/admin/auth/login", loginLimiter, r.handlers.Auth.AdminLogin)
	api.Post("/admin/auth/logout", r.handlers.Auth.AdminLogout)
	api.Get("/admin/auth/me", adminOnly, r.handlers.Auth.Me)
	api.Get("/admin/reports/monthly", adminOnly, r.handlers.Report.AdminMonthlyReport)
	api.Post("/admin/metrics/backfill", adminOnly, r.handlers.Report.BackfillMetrics)
	api.Post("/admin/exports", adminOnly, r.handlers.Export.CreateExportJob)
	api.Get("/admin/exports", adminOnly, r.handlers.Export.ListExportJobs)
	api.Get("/admin/exports/jobs/:id", adminOnly, r.handlers.Export.GetExportJob)

	// Partner
	api.Post("/partner/auth/login", loginLimiter, r.handlers.Auth.PartnerLogin)
	api.Post("/partner/auth/logout", r.handlers.Auth.PartnerLogout)
	api.Get("/partner/auth/me", partnerOnly, r.handlers.Auth.Me)
	api.Get("/partner/reports/monthly", partnerOnly, r.handlers.Report.PartnerMonthlyReport)
	api.Get("/partner/metrics/daily", partnerOnly, r.handlers.Report.PartnerDailyMetrics)
	api.Post("/partner/exports", partnerOnly, r.handlers.Export.CreateExportJob)
	api.Get("/partner/exports", partnerOnly, r.handlers.Export.ListExportJobs)
	api.Get("/partner/exports/jobs/:id", partnerOnly, r.handlers.Export.GetExportJob)

	// Reports shared by admins and partners; the print route authenticates with its report token
	api.Get("/reports/print", r.handlers.Snapshot.PrintReport)
	api.Get("/reports/export", anyActor, r.handlers.Report.LegacyExport)
	api.Post("/reports/snapshots", anyActor, r.handlers.Snapshot.CreateSnapshot)
	api.Get("/reports/snapshots", anyActor, r.handlers.Snapshot.ListSnapshots)
	api.Post("/reports/snapshots/:id/retry", anyActor, r.handlers.Snapshot.RetrySnapshot)

	api.Post("/venues/:id/views", r.auth.OptionalIdentity(), r.handlers.Tracking.TrackView)

	if r.handlers.File != nil {
		api.Get("/files/:bucket/*", r.handlers.File.Download)
	}

	r.app.Use(r.notFoundHandler)

	r.logger.Info("Routes configured successfully")
}

func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: generateRequestID,
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.logger.Error("panic recovered",
				zap.Any("error", e),
				zap.Any("request_id", c.Locals("requestid")),
				zap.String("path", c.Path()),
				zap.String("method", c.Method()),
			)
		},
	}))

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		HSTSMaxAge:                31536000,
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none';",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "cross-origin",
		XDNSPrefetchControl:       "off",
		XDownloadOptions:          "noopen",
		XPermittedCrossDomain:     "none",
	}))

	r.app.Use(cors.New(cors.Config{
		AllowOrigins:     r.cfg.Security.AllowedOrigins,
		AllowMethods:     r.cfg.Security.AllowedMethods,
		AllowHeaders:     r.cfg.Security.AllowedHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: r.cfg.Security.AllowCredentials,
		MaxAge:           utils.CORSMaxAge,
	}))

	if r.cfg.Server.EnableCompression {
		r.app.Use(compress.New(compress.Config{
			Level: compress.LevelBestSpeed,
			Next: func(c fiber.Ctx) bool {
				// exports and snapshots are already compressed
				return strings.HasPrefix(c.Path(), "/api/v1/files/")
			},
		}))
	}

	if r.cfg.Metrics.Enabled {
		r.app.Use(middleware.Metrics())
	}

	if r.cfg.Logging.EnableAccessLog {
		r.app.Use(logger.New(logger.Config{
			Format:     `{"time":"${time}","request_id":"${locals:requestid}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","status":${status},"latency":"${latency}","bytes_out":${bytesSent}}` + "\n",
			TimeFormat: time.RFC3339,
			TimeZone:   "UTC",
			Next: func(c fiber.Ctx) bool {
				return c.Path() == "/api/v1/health" || c.Path() == r.cfg.Metrics.Path
			},
		}))
	}
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

// healthCheck pings every registered dependency
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} dto.APIResponse "Service is healthy"
// @Failure 503 {object} dto.APIResponse "A dependency is unavailable"
// @Router /api/v1/health [get]
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(r.health))
	healthy := true
	for name, check := range r.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, message := fiber.StatusOK, "Service is healthy"
	if !healthy {
		status, message = fiber.StatusServiceUnavailable, "Service is degraded"
	}
	return c.Status(status).JSON(dto.APIResponse{
		Success: healthy,
		Message: message,
		Data: fiber.Map{
			"status":    map[bool]string{true: "ok", false: "degraded"}[healthy],
			"timestamp": utils.UTCNow().Unix(),
			"version":   r.cfg.Deployment.Version,
			"service":   "dormup-discounts-api",
			"checks":    checks,
		},
	})
}

func (r *FiberRouter) serveSwaggerJSON(c fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.SendString(docs.SwaggerInfo.ReadDoc())
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": c.Locals("requestid"),
			},
		},
	})
}

func rateLimited(c fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
		Success: false,
		Message: "Too many requests. Please try again later.",
		Error:   dto.ErrorDetail{Code: "RATE_LIMIT_EXCEEDED"},
	})
}

func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "An internal server error occurred"
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			message = e.Message
		}
		if code >= fiber.StatusInternalServerError {
			log.Error("request failed", zap.Int("status", code), zap.String("path", c.Path()), zap.Error(err))
		}

		return c.Status(code).JSON(dto.APIResponse{
			Success: false,
			Message: message,
			Error: dto.ErrorDetail{
				Code: "INTERNAL_ERROR",
				Details: fiber.Map{
					"timestamp":  utils.UTCNow().Unix(),
					"request_id": c.Locals("requestid"),
				},
			},
		})
	}
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
