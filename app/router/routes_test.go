package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dormup/dormup-discounts/app/handlers"
	"github.com/dormup/dormup-discounts/app/middleware"
	"github.com/dormup/dormup-discounts/app/services"
	businessflow "github.com/dormup/dormup-discounts/business_flow"
	"github.com/dormup/dormup-discounts/config"
	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/repository"
	testingutil "github.com/dormup/dormup-discounts/testing"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
}

type testServer struct {
	app *fiber.App
	fx  *testingutil.TestFixtures
}

func testConfig() *config.ProductionConfig {
	return &config.ProductionConfig{
		Server: config.ServerConfig{PublicBaseURL: "https://api.dormup.test"},
		Security: config.SecurityConfig{
			AllowedOrigins:   []string{"https://app.dormup.test"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			AuthRateLimit:    100,
			GlobalRateLimit:  1000,
			RateLimitWindow:  time.Minute,
		},
		Metrics:    config.MetricsConfig{Enabled: false},
		Logging:    config.LoggingConfig{EnableAccessLog: false},
		Deployment: config.DeploymentConfig{Environment: "test", Version: "test"},
	}
}

func newTestServer(t *testing.T, health map[string]HealthCheck) *testServer {
	t.Helper()
	db, err := testingutil.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.TeardownTestDB() })

	log := zap.NewNop()
	venueRepo := repository.NewVenueRepository(db.DB)
	partnerRepo := repository.NewPartnerRepository(db.DB)
	viewRepo := repository.NewVenueViewRepository(db.DB)
	useRepo := repository.NewDiscountUseRepository(db.DB)
	metricsRepo := repository.NewMetricsRepository(db.DB)

	tokens, err := services.NewTokenService(time.Hour, 5*time.Minute, "dormup-test",
		"admin-secret-0123456789abcdef0123456789",
		"partner-secret-0123456789abcdef012345678",
		"report-secret-0123456789abcdef0123456789",
		"identity-secret-0123456789abcdef01234567",
	)
	require.NoError(t, err)

	storage, err := services.NewLocalStorage(t.TempDir(), "https://api.dormup.test", "files-secret")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runner, err := services.NewJobRunner(ctx, services.JobRunnerConfig{Workers: 1, QueueSize: 10, Timeout: time.Minute}, log)
	require.NoError(t, err)
	t.Cleanup(func() {
		runner.Stop()
		cancel()
	})

	metricsFlow := businessflow.NewMetricsFlow(db.DB, venueRepo, partnerRepo, viewRepo, useRepo, metricsRepo, log)
	reportFlow := businessflow.NewReportFlow(metricsFlow, metricsRepo, partnerRepo, useRepo, nil, time.Minute, log)
	source := businessflow.NewEventSource(viewRepo, useRepo, partnerRepo, "router-test-salt", 100)
	exportFlow := businessflow.NewExportFlow(repository.NewExportJobRepository(db.DB), partnerRepo, source, storage, runner, businessflow.ExportConfig{
		MaxDateRangeDays:  366,
		XLSXMaxRows:       1000,
		CSVLargeThreshold: 10000,
		TempDir:           t.TempDir(),
		DefaultTimezone:   "UTC",
	}, log)
	snapshotFlow := businessflow.NewSnapshotFlow(repository.NewReportSnapshotRepository(db.DB), partnerRepo, metricsRepo, reportFlow,
		tokens, services.NewLocalRenderer(), storage, runner, "https://app.dormup.test", log)
	authFlow := businessflow.NewAuthFlow(repository.NewAdminRepository(db.DB), partnerRepo, repository.NewProfileRepository(db.DB), tokens, log)

	h := Handlers{
		Auth:     handlers.NewAuthHandler(authFlow, handlers.CookieConfig{SameSite: "Lax"}, log),
		Export:   handlers.NewExportHandler(exportFlow, log),
		Snapshot: handlers.NewSnapshotHandler(snapshotFlow, log),
		Report: handlers.NewReportHandler(reportFlow, metricsFlow,
			businessflow.NewLegacyExportFlow(venueRepo, partnerRepo, viewRepo, useRepo, "router-test-salt"), log),
		Tracking: handlers.NewTrackingHandler(businessflow.NewTrackingFlow(venueRepo, viewRepo, useRepo, log), log),
		File:     handlers.NewFileHandler(storage, log),
	}

	r := NewFiberRouter(testConfig(), h, middleware.NewAuthMiddleware(authFlow, tokens), health, log)
	r.SetupRoutes()
	return &testServer{app: r.GetApp(), fx: testingutil.NewTestFixtures(db)}
}

func (s *testServer) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func sessionCookie(t *testing.T, resp *http.Response, name string) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == name {
			assert.True(t, c.HttpOnly)
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func (s *testServer) loginAdmin(t *testing.T) *http.Cookie {
	t.Helper()
	_, err := s.fx.CreateAdmin("ops@dormup.test")
	require.NoError(t, err)
	resp, env := s.do(t, http.MethodPost, "/api/v1/admin/auth/login",
		`{"email":"ops@dormup.test","password":"`+testingutil.TestPassword+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Message)
	return sessionCookie(t, resp, utils.AdminSessionCookie)
}

func TestAdminSessionRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	cookie := s.loginAdmin(t)

	resp, env := s.do(t, http.MethodGet, "/api/v1/admin/auth/me", "", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		Role  string `json:"role"`
		Admin struct {
			Email string `json:"email"`
		} `json:"admin"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "admin", me.Role)
	assert.Equal(t, "ops@dormup.test", me.Admin.Email)

	resp, env = s.do(t, http.MethodGet, "/api/v1/admin/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/admin/auth/login", `{"email":"ops@dormup.test","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, env = s.do(t, http.MethodPost, "/api/v1/admin/auth/login", `{"email":"not-an-email","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestPartnerCookieDoesNotOpenAdminRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	partner, err := s.fx.CreatePartner("Caffe Centrale", models.TierBasic)
	require.NoError(t, err)

	resp, env := s.do(t, http.MethodPost, "/api/v1/partner/auth/login",
		`{"email":"`+partner.Email+`","password":"`+testingutil.TestPassword+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Message)
	cookie := sessionCookie(t, resp, utils.PartnerSessionCookie)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/partner/auth/me", "", cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/admin/auth/me", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, env = s.do(t, http.MethodPost, "/api/v1/partner/exports",
		`{"format":"csv","from":"2024-03-01","to":"2024-03-31"}`, cookie)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "TIER_REQUIRED", env.Error.Code)
}

func TestAdminExportEndToEnd(t *testing.T) {
	s := newTestServer(t, nil)
	cookie := s.loginAdmin(t)

	venue, err := s.fx.CreateVenue("Bar Duomo", "Milano", models.TierMax)
	require.NoError(t, err)
	at := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	confirmed := at.Add(2 * time.Minute)
	user := "student-1"
	_, err = s.fx.CreateDiscountUse(venue.ID, &user, at, &confirmed)
	require.NoError(t, err)

	resp, env := s.do(t, http.MethodPost, "/api/v1/admin/exports", `{"format":"pdf","from":"2024-03-01","to":"2024-03-31"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	resp, env = s.do(t, http.MethodPost, "/api/v1/admin/exports", `{"format":"csv","from":"2024-03-31","to":"2024-03-01"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, env = s.do(t, http.MethodPost, "/api/v1/admin/exports", `{"format":"csv","from":"2024-03-01","to":"2024-03-31"}`, cookie)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, env.Message)
	var created struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, string(models.JobStatusPending), created.Status)

	var job struct {
		Status      string  `json:"status"`
		RowCount    *int64  `json:"row_count"`
		DownloadURL *string `json:"download_url"`
	}
	require.Eventually(t, func() bool {
		_, env := s.do(t, http.MethodGet, "/api/v1/admin/exports/jobs/"+created.JobID, "", cookie)
		if err := json.Unmarshal(env.Data, &job); err != nil {
			return false
		}
		return job.Status != string(models.JobStatusPending)
	}, 5*time.Second, 20*time.Millisecond)

	require.Equal(t, string(models.JobStatusReady), job.Status)
	require.NotNil(t, job.RowCount)
	assert.EqualValues(t, 1, *job.RowCount)
	require.NotNil(t, job.DownloadURL)

	link, err := url.Parse(*job.DownloadURL)
	require.NoError(t, err)
	resp, _ = s.do(t, http.MethodGet, link.RequestURI(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".csv")

	q := link.Query()
	q.Set("sig", strings.Repeat("0", 64))
	link.RawQuery = q.Encode()
	resp, env = s.do(t, http.MethodGet, link.RequestURI(), "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "LINK_INVALID", env.Error.Code)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/admin/exports/jobs/"+created.JobID, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPrintRouteRejectsBadToken(t *testing.T) {
	s := newTestServer(t, nil)

	resp, env := s.do(t, http.MethodGet, "/api/v1/reports/print?scope=admin&month=2024-03&token=garbage", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, env.Success)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/reports/print?scope=galaxy&month=2024-03&token=garbage", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndNotFound(t *testing.T) {
	s := newTestServer(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	})
	resp, env := s.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, env = s.do(t, http.MethodGet, "/api/v1/nowhere", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	degraded := newTestServer(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	resp, env = degraded.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, env.Success)
}
