package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("ADMIN_SESSION_SECRET", "admin-secret-0123456789abcdef0123456789")
	t.Setenv("PARTNER_SESSION_SECRET", "partner-secret-0123456789abcdef012345678")
	t.Setenv("USER_HASH_SALT", "salt")
	t.Setenv("GCS_EXPORTS_BUCKET", "dormup-exports")
	t.Setenv("GCS_REPORTS_BUCKET", "dormup-reports")
}

func TestLoadProductionConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadProductionConfig()
	require.NoError(t, err)

	assert.Equal(t, 31, cfg.Export.MaxDateRangeDays)
	assert.EqualValues(t, 10000, cfg.Export.XLSXMaxRows)
	assert.EqualValues(t, 50000, cfg.Export.CSVLargeThreshold)
	assert.Equal(t, "Europe/Rome", cfg.Export.DefaultTimezone)
	assert.Equal(t, 7*24*time.Hour, cfg.Security.SessionTTL)
	assert.Equal(t, 300*time.Second, cfg.Security.ReportTokenTTL)
	assert.Equal(t, 5, cfg.Security.AuthRateLimit)
	assert.Equal(t, 3, cfg.Scheduler.BackfillMonths)
	assert.Equal(t, "screenshot", cfg.Snapshot.Renderer)
	assert.False(t, cfg.Deployment.IsDevelopment())
}

func TestLoadProductionConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("XLSX_MAX_ROWS", "250")
	t.Setenv("JOB_TIMEOUT", "90s")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.dormup.it , ,https://b.dormup.it")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("APP_ENV", "development")

	cfg, err := LoadProductionConfig()
	require.NoError(t, err)

	assert.EqualValues(t, 250, cfg.Export.XLSXMaxRows)
	assert.Equal(t, 90*time.Second, cfg.Jobs.Timeout)
	assert.Equal(t, []string{"https://a.dormup.it", "https://b.dormup.it"}, cfg.Security.AllowedOrigins)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Deployment.IsDevelopment())
}

func TestValidateProductionConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProductionConfig)
		wantErr string
	}{
		{name: "valid"},
		{
			name:    "short admin secret",
			mutate:  func(c *ProductionConfig) { c.Security.AdminSessionSecret = "short" },
			wantErr: "ADMIN_SESSION_SECRET must be at least 32 characters long",
		},
		{
			name:    "gcs without buckets",
			mutate:  func(c *ProductionConfig) { c.Storage.ReportsBucket = "" },
			wantErr: "GCS_EXPORTS_BUCKET and GCS_REPORTS_BUCKET are required",
		},
		{
			name: "local storage needs signing secret",
			mutate: func(c *ProductionConfig) {
				c.Storage.Provider = "local"
			},
			wantErr: "STORAGE_LOCAL_SIGNING_SECRET is required",
		},
		{
			name:    "unknown renderer",
			mutate:  func(c *ProductionConfig) { c.Snapshot.Renderer = "chrome" },
			wantErr: "SNAPSHOT_RENDERER must be screenshot or local",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *ProductionConfig) { c.Export.DefaultTimezone = "Mars/Olympus" },
			wantErr: "EXPORT_DEFAULT_TIMEZONE",
		},
		{
			name: "errors are joined",
			mutate: func(c *ProductionConfig) {
				c.Jobs.Workers = 0
				c.Security.UserHashSalt = ""
			},
			wantErr: "USER_HASH_SALT is required; ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			cfg, err := LoadProductionConfig()
			require.NoError(t, err)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			err = ValidateProductionConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
