package businessflow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dormup/dormup-discounts/app/services"
	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/repository"
	testingutil "github.com/dormup/dormup-discounts/testing"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSalt = "test-user-hash-salt"

func setupFlowDB(t *testing.T) (*testingutil.TestDB, *testingutil.TestFixtures) {
	t.Helper()
	db, err := testingutil.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.TeardownTestDB() })
	return db, testingutil.NewTestFixtures(db)
}

type testRepos struct {
	db       *gorm.DB
	admin    repository.AdminRepository
	partner  repository.PartnerRepository
	profile  repository.ProfileRepository
	venue    repository.VenueRepository
	view     repository.VenueViewRepository
	use      repository.DiscountUseRepository
	metrics  repository.MetricsRepository
	export   repository.ExportJobRepository
	snapshot repository.ReportSnapshotRepository
}

func newTestRepos(db *testingutil.TestDB) testRepos {
	return testRepos{
		db:       db.DB,
		admin:    repository.NewAdminRepository(db.DB),
		partner:  repository.NewPartnerRepository(db.DB),
		profile:  repository.NewProfileRepository(db.DB),
		venue:    repository.NewVenueRepository(db.DB),
		view:     repository.NewVenueViewRepository(db.DB),
		use:      repository.NewDiscountUseRepository(db.DB),
		metrics:  repository.NewMetricsRepository(db.DB),
		export:   repository.NewExportJobRepository(db.DB),
		snapshot: repository.NewReportSnapshotRepository(db.DB),
	}
}

func (r testRepos) metricsFlow() MetricsFlow {
	return NewMetricsFlow(r.db, r.venue, r.partner, r.view, r.use, r.metrics, zap.NewNop())
}

// syncRunner runs every task inline, or rejects all of them when full is set
type syncRunner struct {
	full bool
	errs []error
}

func (r *syncRunner) Submit(kind, jobID string, task services.JobTask) error {
	if r.full {
		return services.ErrQueueFull
	}
	r.errs = append(r.errs, task(context.Background()))
	return nil
}

func (r *syncRunner) Stop() {}

// memStorage keeps uploads in memory; failUploads makes every upload fail
type memStorage struct {
	mu           sync.Mutex
	objects      map[string][]byte
	types        map[string]string
	failUploads  bool
	panicUploads bool
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memStorage) Upload(ctx context.Context, bucket, objectPath, contentType string, body io.Reader) error {
	if s.panicUploads {
		panic("storage client closed")
	}
	if s.failUploads {
		return fmt.Errorf("bucket %s unavailable", bucket)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+objectPath] = buf.Bytes()
	s.types[bucket+"/"+objectPath] = contentType
	return nil
}

func (s *memStorage) SignedURL(ctx context.Context, bucket, objectPath string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://files.dormup.test/%s/%s?ttl=%d", bucket, objectPath, int(ttl.Seconds())), nil
}

func (s *memStorage) get(bucket, objectPath string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[bucket+"/"+objectPath]
	return b, ok
}

// stubRenderer returns fixed artifacts or a fixed error
type stubRenderer struct {
	err      error
	panics   bool
	requests []services.RenderRequest
}

func (r *stubRenderer) Render(ctx context.Context, req services.RenderRequest) (*services.RenderedReport, error) {
	r.requests = append(r.requests, req)
	if r.panics {
		panic("renderer crashed")
	}
	if r.err != nil {
		return nil, r.err
	}
	return &services.RenderedReport{PDF: []byte("%PDF-1.4 stub"), PNG: []byte("\x89PNG stub")}, nil
}

func newTestTokenService(t *testing.T) services.TokenService {
	t.Helper()
	ts, err := services.NewTokenService(
		time.Hour,
		5*time.Minute,
		"dormup-test",
		"admin-secret-0123456789abcdef0123456789",
		"partner-secret-0123456789abcdef012345678",
		"report-secret-0123456789abcdef0123456789",
		"identity-secret-0123456789abcdef01234567",
	)
	require.NoError(t, err)
	return ts
}

func adminActor(id uint) Actor {
	return Actor{Role: RoleAdmin, AdminID: &id}
}

func partnerActor(p *models.Partner) Actor {
	id, venueID := p.ID, p.VenueID
	return Actor{Role: RolePartner, PartnerID: &id, VenueID: &venueID, Tier: p.Venue.SubscriptionTier}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
