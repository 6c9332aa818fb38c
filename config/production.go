// Package config provides configuration management and environment variable handling for the application
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProductionConfig holds all configuration of the reporting service
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Storage    StorageConfig    `json:"storage"`
	Export     ExportConfig     `json:"export"`
	Snapshot   SnapshotConfig   `json:"snapshot"`
	Jobs       JobsConfig       `json:"jobs"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	RequestTimeout    time.Duration `json:"request_timeout"`
	BodyLimit         int           `json:"body_limit"`
	EnableCompression bool          `json:"enable_compression"`
	PublicBaseURL     string        `json:"public_base_url"`
}

type SecurityConfig struct {
	// CORS
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`

	// Rate Limiting, requests per minute
	AuthRateLimit   int           `json:"auth_rate_limit"`
	GlobalRateLimit int           `json:"global_rate_limit"`
	RateLimitWindow time.Duration `json:"rate_limit_window"`

	// Sessions and tokens
	AdminSessionSecret    string        `json:"-"`
	PartnerSessionSecret  string        `json:"-"`
	ReportTokenSecret     string        `json:"-"`
	IdentityJWTSecret     string        `json:"-"`
	TokenIssuer           string        `json:"token_issuer"`
	SessionTTL            time.Duration `json:"session_ttl"`
	ReportTokenTTL        time.Duration `json:"report_token_ttl"`
	SessionCookieSecure   bool          `json:"session_cookie_secure"`
	SessionCookieSameSite string        `json:"session_cookie_samesite"`

	// Pseudonymization of user ids in exports
	UserHashSalt string `json:"-"`
}

type LoggingConfig struct {
	Level            string `json:"level"`  // debug, info, warn, error
	Format           string `json:"format"` // json, console
	Output           string `json:"output"` // stdout, file, both
	FilePath         string `json:"file_path"`
	MaxSize          int    `json:"max_size"` // MB
	MaxBackups       int    `json:"max_backups"`
	MaxAge           int    `json:"max_age"` // days
	Compress         bool   `json:"compress"`
	EnableCaller     bool   `json:"enable_caller"`
	EnableStacktrace bool   `json:"enable_stacktrace"`
	EnableAccessLog  bool   `json:"enable_access_log"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled             bool          `json:"enabled"`
	Provider            string        `json:"provider"` // redis
	RedisURL            string        `json:"redis_url"`
	RedisDB             int           `json:"redis_db"`
	RedisPrefix         string        `json:"redis_prefix"`
	ReportTTL           time.Duration `json:"report_ttl"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}

type StorageConfig struct {
	Provider           string        `json:"provider"` // gcs, local
	GCSCredentialsFile string        `json:"gcs_credentials_file"`
	ExportsBucket      string        `json:"exports_bucket"`
	ReportsBucket      string        `json:"reports_bucket"`
	UploadTimeout      time.Duration `json:"upload_timeout"`
	LocalRoot          string        `json:"local_root"`
	LocalSigningSecret string        `json:"-"`
}

type ExportConfig struct {
	MaxDateRangeDays  int    `json:"max_date_range_days"`
	XLSXMaxRows       int64  `json:"xlsx_max_rows"`
	CSVLargeThreshold int64  `json:"csv_large_threshold"`
	ChunkSize         int    `json:"chunk_size"`
	TempDir           string `json:"temp_dir"`
	DefaultTimezone   string `json:"default_timezone"`
}

type SnapshotConfig struct {
	Renderer          string        `json:"renderer"` // screenshot, local
	AppBaseURL        string        `json:"app_base_url"`
	ScreenshotURL     string        `json:"screenshot_url"`
	ScreenshotToken   string        `json:"-"`
	ScreenshotTimeout time.Duration `json:"screenshot_timeout"`
	RetryMaxElapsed   time.Duration `json:"retry_max_elapsed"`
}

type JobsConfig struct {
	Workers   int           `json:"workers"`
	QueueSize int           `json:"queue_size"`
	Timeout   time.Duration `json:"timeout"`
}

type SchedulerConfig struct {
	ExpireCodesEnabled  bool          `json:"expire_codes_enabled"`
	ExpireCodesInterval time.Duration `json:"expire_codes_interval"`
	BackfillEnabled     bool          `json:"backfill_enabled"`
	BackfillInterval    time.Duration `json:"backfill_interval"`
	BackfillMonths      int           `json:"backfill_months"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// IsDevelopment reports whether development-only routes may be exposed
func (d DeploymentConfig) IsDevelopment() bool {
	return d.Environment == "development"
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	if err := loadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "dormup"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", false),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:    getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 1024*1024), // 1MB
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
			PublicBaseURL:     getEnvString("SERVER_PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		Security: SecurityConfig{
			AllowedOrigins:        getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:        getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:        getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}),
			AllowCredentials:      getEnvBool("CORS_ALLOW_CREDENTIALS", true),
			AuthRateLimit:         getEnvInt("AUTH_RATE_LIMIT", 5),
			GlobalRateLimit:       getEnvInt("GLOBAL_RATE_LIMIT", 2000),
			RateLimitWindow:       getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			AdminSessionSecret:    getEnvString("ADMIN_SESSION_SECRET", ""),
			PartnerSessionSecret:  getEnvString("PARTNER_SESSION_SECRET", ""),
			ReportTokenSecret:     getEnvString("REPORT_TOKEN_SECRET", ""),
			IdentityJWTSecret:     getEnvString("IDENTITY_JWT_SECRET", ""),
			TokenIssuer:           getEnvString("TOKEN_ISSUER", "dormup-discounts"),
			SessionTTL:            getEnvDuration("SESSION_TTL", 7*24*time.Hour),
			ReportTokenTTL:        getEnvDuration("REPORT_TOKEN_TTL", 300*time.Second),
			SessionCookieSecure:   getEnvBool("SESSION_COOKIE_SECURE", true),
			SessionCookieSameSite: getEnvString("SESSION_COOKIE_SAMESITE", "Lax"),
			UserHashSalt:          getEnvString("USER_HASH_SALT", ""),
		},
		Logging: LoggingConfig{
			Level:            getEnvString("LOG_LEVEL", "info"),
			Format:           getEnvString("LOG_FORMAT", "json"),
			Output:           getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:         getEnvString("LOG_FILE_PATH", "/var/log/dormup/app.log"),
			MaxSize:          getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:       getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:           getEnvInt("LOG_MAX_AGE", 30),
			Compress:         getEnvBool("LOG_COMPRESS", true),
			EnableCaller:     getEnvBool("LOG_ENABLE_CALLER", true),
			EnableStacktrace: getEnvBool("LOG_ENABLE_STACKTRACE", false),
			EnableAccessLog:  getEnvBool("LOG_ENABLE_ACCESS_LOG", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:             getEnvBool("CACHE_ENABLED", false),
			Provider:            getEnvString("CACHE_PROVIDER", "redis"),
			RedisURL:            getEnvString("REDIS_URL", "redis://localhost:6379"),
			RedisDB:             getEnvInt("REDIS_DB", 0),
			RedisPrefix:         getEnvString("REDIS_PREFIX", "dormup:"),
			ReportTTL:           getEnvDuration("CACHE_REPORT_TTL", 5*time.Minute),
			HealthCheckInterval: getEnvDuration("CACHE_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Storage: StorageConfig{
			Provider:           getEnvString("STORAGE_PROVIDER", "gcs"),
			GCSCredentialsFile: getEnvString("GCS_CREDENTIALS_FILE", ""),
			ExportsBucket:      getEnvString("GCS_EXPORTS_BUCKET", ""),
			ReportsBucket:      getEnvString("GCS_REPORTS_BUCKET", ""),
			UploadTimeout:      getEnvDuration("STORAGE_UPLOAD_TIMEOUT", 2*time.Minute),
			LocalRoot:          getEnvString("STORAGE_LOCAL_ROOT", "./data/storage"),
			LocalSigningSecret: getEnvString("STORAGE_LOCAL_SIGNING_SECRET", ""),
		},
		Export: ExportConfig{
			MaxDateRangeDays:  getEnvInt("MAX_EXPORT_DATE_RANGE_DAYS", 31),
			XLSXMaxRows:       int64(getEnvInt("XLSX_MAX_ROWS", 10000)),
			CSVLargeThreshold: int64(getEnvInt("CSV_LARGE_EXPORT_THRESHOLD", 50000)),
			ChunkSize:         getEnvInt("EXPORT_CHUNK_SIZE", 1000),
			TempDir:           getEnvString("EXPORT_TEMP_DIR", os.TempDir()),
			DefaultTimezone:   getEnvString("EXPORT_DEFAULT_TIMEZONE", "Europe/Rome"),
		},
		Snapshot: SnapshotConfig{
			Renderer:          getEnvString("SNAPSHOT_RENDERER", "screenshot"),
			AppBaseURL:        getEnvString("APP_BASE_URL", "http://localhost:3000"),
			ScreenshotURL:     getEnvString("SCREENSHOT_SERVICE_URL", ""),
			ScreenshotToken:   getEnvString("SCREENSHOT_SERVICE_TOKEN", ""),
			ScreenshotTimeout: getEnvDuration("SCREENSHOT_TIMEOUT", 60*time.Second),
			RetryMaxElapsed:   getEnvDuration("SCREENSHOT_RETRY_MAX_ELAPSED", time.Minute),
		},
		Jobs: JobsConfig{
			Workers:   getEnvInt("JOB_WORKERS", 4),
			QueueSize: getEnvInt("JOB_QUEUE_SIZE", 32),
			Timeout:   getEnvDuration("JOB_TIMEOUT", 10*time.Minute),
		},
		Scheduler: SchedulerConfig{
			ExpireCodesEnabled:  getEnvBool("EXPIRE_CODES_ENABLED", true),
			ExpireCodesInterval: getEnvDuration("EXPIRE_CODES_INTERVAL", time.Minute),
			BackfillEnabled:     getEnvBool("METRICS_BACKFILL_ENABLED", true),
			BackfillInterval:    getEnvDuration("METRICS_BACKFILL_INTERVAL", 6*time.Hour),
			BackfillMonths:      getEnvInt("BACKFILL_MONTHS", 3),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("APP_VERSION", "dev"),
			CommitHash:  getEnvString("APP_COMMIT_HASH", ""),
			BuildTime:   getEnvString("APP_BUILD_TIME", ""),
		},
	}

	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvFile loads key=value pairs without overriding variables already set
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig collects every configuration problem into one error
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errs []string

	if cfg.Database.Host == "" {
		errs = append(errs, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errs = append(errs, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errs = append(errs, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errs = append(errs, "DB_USER is required")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "SERVER_PORT must be between 1 and 65535")
	}

	if len(cfg.Security.AdminSessionSecret) < 32 {
		errs = append(errs, "ADMIN_SESSION_SECRET must be at least 32 characters long")
	}
	if len(cfg.Security.PartnerSessionSecret) < 32 {
		errs = append(errs, "PARTNER_SESSION_SECRET must be at least 32 characters long")
	}
	if cfg.Security.ReportTokenSecret != "" && len(cfg.Security.ReportTokenSecret) < 32 {
		errs = append(errs, "REPORT_TOKEN_SECRET must be at least 32 characters long")
	}
	if cfg.Security.UserHashSalt == "" {
		errs = append(errs, "USER_HASH_SALT is required")
	}
	if cfg.Security.SessionTTL <= 0 || cfg.Security.ReportTokenTTL <= 0 {
		errs = append(errs, "SESSION_TTL and REPORT_TOKEN_TTL must be positive")
	}

	switch cfg.Storage.Provider {
	case "gcs":
		if cfg.Storage.ExportsBucket == "" || cfg.Storage.ReportsBucket == "" {
			errs = append(errs, "GCS_EXPORTS_BUCKET and GCS_REPORTS_BUCKET are required for gcs storage")
		}
	case "local":
		if cfg.Storage.LocalSigningSecret == "" {
			errs = append(errs, "STORAGE_LOCAL_SIGNING_SECRET is required for local storage")
		}
	default:
		errs = append(errs, "STORAGE_PROVIDER must be gcs or local")
	}

	switch cfg.Snapshot.Renderer {
	case "screenshot", "local":
	default:
		errs = append(errs, "SNAPSHOT_RENDERER must be screenshot or local")
	}

	if cfg.Export.MaxDateRangeDays <= 0 {
		errs = append(errs, "MAX_EXPORT_DATE_RANGE_DAYS must be positive")
	}
	if cfg.Export.XLSXMaxRows <= 0 {
		errs = append(errs, "XLSX_MAX_ROWS must be positive")
	}
	if _, err := time.LoadLocation(cfg.Export.DefaultTimezone); err != nil {
		errs = append(errs, "EXPORT_DEFAULT_TIMEZONE is not a valid IANA timezone")
	}

	if cfg.Jobs.Workers <= 0 || cfg.Jobs.QueueSize <= 0 {
		errs = append(errs, "JOB_WORKERS and JOB_QUEUE_SIZE must be positive")
	}

	if cfg.Cache.Enabled && cfg.Cache.RedisURL == "" {
		errs = append(errs, "REDIS_URL is required when cache is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
