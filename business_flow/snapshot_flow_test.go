package businessflow

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dormup/dormup-discounts/app/dto"
	"github.com/dormup/dormup-discounts/models"
	testingutil "github.com/dormup/dormup-discounts/testing"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type snapshotHarness struct {
	db       *testingutil.TestDB
	fx       *testingutil.TestFixtures
	repos    testRepos
	renderer *stubRenderer
	storage  *memStorage
	runner   *syncRunner
	flow     SnapshotFlow
}

func newSnapshotHarness(t *testing.T) *snapshotHarness {
	t.Helper()
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)
	h := &snapshotHarness{
		db:       db,
		fx:       fx,
		repos:    repos,
		renderer: &stubRenderer{},
		storage:  newMemStorage(),
		runner:   &syncRunner{},
	}
	reports := NewReportFlow(repos.metricsFlow(), repos.metrics, repos.partner, repos.use, nil, 0, zap.NewNop())
	h.flow = NewSnapshotFlow(repos.snapshot, repos.partner, repos.metrics, reports, newTestTokenService(t),
		h.renderer, h.storage, h.runner, "https://app.dormup.test/", zap.NewNop())
	return h
}

func (h *snapshotHarness) snapshot(t *testing.T, id uint) *models.ReportSnapshot {
	t.Helper()
	snap, err := h.repos.snapshot.ByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, snap)
	return snap
}

func printQuery(t *testing.T, printURL string) *dto.PrintReportRequest {
	t.Helper()
	u, err := url.Parse(printURL)
	require.NoError(t, err)
	q := u.Query()
	req := &dto.PrintReportRequest{Scope: q.Get("scope"), Month: q.Get("month"), Token: q.Get("token")}
	if p := q.Get("partnerId"); p != "" {
		id, err := strconv.ParseUint(p, 10, 64)
		require.NoError(t, err)
		req.PartnerID = utils.ToPtr(uint(id))
	}
	return req
}

func TestAdminSnapshotLifecycle(t *testing.T) {
	h := newSnapshotHarness(t)
	ctx := context.Background()

	partner, err := h.fx.CreatePartner("Trattoria Da Mario", models.TierPro)
	require.NoError(t, err)
	_, err = h.fx.CreateView(partner.VenueID, nil, march(2, 9, 0))
	require.NoError(t, err)

	resp, err := h.flow.CreateSnapshot(ctx, adminActor(1), &dto.CreateSnapshotRequest{Month: "2024-03"})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", resp.Status)
	require.NoError(t, h.runner.errs[0])

	snap := h.snapshot(t, resp.SnapshotID)
	assert.Equal(t, models.JobStatusReady, snap.Status)
	assert.Equal(t, models.ReportScopeAdmin, snap.Scope)
	assert.Nil(t, snap.MetricsHash, "no stored metrics before the first render")
	require.NotNil(t, snap.PDFPath)
	require.NotNil(t, snap.PNGPath)
	assert.True(t, strings.HasPrefix(*snap.PDFPath, "reports/admin/2024-03/global/"))
	assert.True(t, strings.HasSuffix(*snap.PDFPath, ".pdf"))
	assert.Equal(t, strings.TrimSuffix(*snap.PDFPath, ".pdf")+".png", *snap.PNGPath)

	pdf, ok := h.storage.get(utils.ReportsBucket, *snap.PDFPath)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF"))

	require.Len(t, h.renderer.requests, 1)
	render := h.renderer.requests[0]
	assert.True(t, strings.HasPrefix(render.PrintURL, "https://app.dormup.test/reports/print?"))
	assert.Equal(t, "DormUp monthly report", render.Document.Title)

	// the print route accepts the token it was handed
	printed, err := h.flow.GetPrintReport(ctx, printQuery(t, render.PrintURL))
	require.NoError(t, err)
	require.NotNil(t, printed.Admin)
	assert.Equal(t, int64(1), printed.Admin.Global.PageViews)

	// metrics exist now, so the next snapshot carries their fingerprint
	resp2, err := h.flow.CreateSnapshot(ctx, adminActor(1), &dto.CreateSnapshotRequest{Month: "2024-03", Scope: "admin"})
	require.NoError(t, err)
	second := h.snapshot(t, resp2.SnapshotID)
	require.NotNil(t, second.MetricsHash)
	assert.Len(t, *second.MetricsHash, 32)

	list, err := h.flow.ListSnapshots(ctx, adminActor(1), &dto.ListSnapshotsRequest{Month: "2024-03"})
	require.NoError(t, err)
	require.Len(t, list.Snapshots, 2)
	assert.NotNil(t, list.Snapshots[0].PDFURL)
	assert.NotNil(t, list.Snapshots[0].PNGURL)
}

func TestSnapshotMetricsHashTracksCounters(t *testing.T) {
	h := newSnapshotHarness(t)
	ctx := context.Background()

	partner, err := h.fx.CreatePartner("Trattoria Da Mario", models.TierPro)
	require.NoError(t, err)
	_, err = h.fx.CreateView(partner.VenueID, nil, march(2, 9, 0))
	require.NoError(t, err)

	metrics := h.repos.metricsFlow().(*MetricsFlowImpl)
	hashAt := func(recomputedAt time.Time) string {
		t.Helper()
		metrics.now = fixedClock(recomputedAt)
		_, err := metrics.UpsertMonthlyGlobalMetrics(ctx, "2024-03")
		require.NoError(t, err)
		resp, err := h.flow.CreateSnapshot(ctx, adminActor(1), &dto.CreateSnapshotRequest{Month: "2024-03"})
		require.NoError(t, err)
		snap := h.snapshot(t, resp.SnapshotID)
		require.NotNil(t, snap.MetricsHash)
		return *snap.MetricsHash
	}

	first := hashAt(march(31, 23, 0))
	assert.Equal(t, first, hashAt(time.Date(2024, time.April, 2, 3, 0, 0, 0, time.UTC)), "a recompute with the same counts keeps the hash")

	_, err = h.fx.CreateView(partner.VenueID, nil, march(3, 9, 0))
	require.NoError(t, err)
	assert.NotEqual(t, first, hashAt(time.Date(2024, time.April, 3, 3, 0, 0, 0, time.UTC)))
}

func TestSnapshotAuthorization(t *testing.T) {
	h := newSnapshotHarness(t)
	ctx := context.Background()

	basic, err := h.fx.CreatePartner("Bar Centrale", models.TierBasic)
	require.NoError(t, err)
	pro, err := h.fx.CreatePartner("Trattoria Da Mario", models.TierPro)
	require.NoError(t, err)

	_, err = h.flow.CreateSnapshot(ctx, partnerActor(basic), &dto.CreateSnapshotRequest{Month: "2024-03"})
	assert.True(t, IsTierRequired(err))

	_, err = h.flow.CreateSnapshot(ctx, partnerActor(pro), &dto.CreateSnapshotRequest{Month: "2024-03", Scope: "admin"})
	assert.True(t, IsAdminScopeForbidden(err))

	_, err = h.flow.CreateSnapshot(ctx, adminActor(1), &dto.CreateSnapshotRequest{Month: "2024-03", Scope: "partner"})
	assert.True(t, IsPartnerIDRequired(err))

	_, err = h.flow.CreateSnapshot(ctx, adminActor(1), &dto.CreateSnapshotRequest{Month: "2024-03", Scope: "partner", PartnerID: utils.ToPtr(uint(4242))})
	assert.True(t, IsPartnerNotFound(err))

	_, err = h.flow.CreateSnapshot(ctx, adminActor(1), &dto.CreateSnapshotRequest{Month: "03-2024"})
	assert.True(t, IsInvalidMonth(err))

	// partners always snapshot their own venue, whatever partnerId says
	resp, err := h.flow.CreateSnapshot(ctx, partnerActor(pro), &dto.CreateSnapshotRequest{Month: "2024-03", PartnerID: utils.ToPtr(basic.ID)})
	require.NoError(t, err)
	snap := h.snapshot(t, resp.SnapshotID)
	assert.Equal(t, pro.ID, *snap.PartnerID)
	assert.Equal(t, pro.VenueID, *snap.VenueID)
	assert.Equal(t, models.JobStatusReady, snap.Status)

	render := h.renderer.requests[0]
	assert.Equal(t, "Trattoria Da Mario monthly report", render.Document.Title)

	list, err := h.flow.ListSnapshots(ctx, partnerActor(pro), nil)
	require.NoError(t, err)
	assert.Len(t, list.Snapshots, 1)

	pro2 := *pro
	pro2.ID = basic.ID
	list, err = h.flow.ListSnapshots(ctx, partnerActor(&pro2), nil)
	require.NoError(t, err)
	assert.Empty(t, list.Snapshots)

	_, err = h.flow.RetrySnapshot(ctx, partnerActor(&pro2), resp.SnapshotID)
	assert.True(t, IsSnapshotNotFound(err))
}

func TestSnapshotFailureAndRetry(t *testing.T) {
	h := newSnapshotHarness(t)
	ctx := context.Background()

	h.renderer.err = errors.New(strings.Repeat("navigation timeout ", 20))
	resp, err := h.flow.CreateSnapshot(ctx, adminActor(1), &dto.CreateSnapshotRequest{Month: "2024-03"})
	require.NoError(t, err)
	require.Error(t, h.runner.errs[0])

	failed := h.snapshot(t, resp.SnapshotID)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Len(t, []rune(*failed.ErrorMessage), utils.SnapshotErrorMaxLength)
	assert.True(t, strings.HasSuffix(*failed.ErrorMessage, "..."))
	assert.Nil(t, failed.PDFPath)

	// a finalized snapshot is never processed again
	h.renderer.err = nil
	require.NoError(t, h.flow.ProcessSnapshot(ctx, resp.SnapshotID))
	assert.Equal(t, models.JobStatusFailed, h.snapshot(t, resp.SnapshotID).Status)

	retry, err := h.flow.RetrySnapshot(ctx, adminActor(2), resp.SnapshotID)
	require.NoError(t, err)
	assert.NotEqual(t, resp.SnapshotID, retry.SnapshotID)
	assert.NotEqual(t, resp.JobID, retry.JobID)

	again := h.snapshot(t, retry.SnapshotID)
	assert.Equal(t, models.JobStatusReady, again.Status)
	assert.Equal(t, "admin:2", again.CreatedBy)
	assert.Equal(t, models.JobStatusFailed, h.snapshot(t, resp.SnapshotID).Status)

	_, err = h.flow.RetrySnapshot(ctx, adminActor(1), 4242)
	assert.True(t, IsSnapshotNotFound(err))
}

func TestSnapshotPanicMarksFailed(t *testing.T) {
	h := newSnapshotHarness(t)
	h.renderer.panics = true

	resp, err := h.flow.CreateSnapshot(context.Background(), adminActor(1), &dto.CreateSnapshotRequest{Month: "2024-03"})
	require.NoError(t, err)
	require.Len(t, h.runner.errs, 1)
	assert.Error(t, h.runner.errs[0])

	snap := h.snapshot(t, resp.SnapshotID)
	assert.Equal(t, models.JobStatusFailed, snap.Status)
	require.NotNil(t, snap.ErrorMessage)
	assert.Equal(t, "Internal error", *snap.ErrorMessage)
	assert.Nil(t, snap.PDFPath)
}

func TestSnapshotMonthDefaultsToCurrentMonth(t *testing.T) {
	h := newSnapshotHarness(t)
	h.flow.(*SnapshotFlowImpl).now = fixedClock(time.Date(2024, time.April, 30, 23, 30, 0, 0, time.UTC))

	resp, err := h.flow.CreateSnapshot(context.Background(), adminActor(1), &dto.CreateSnapshotRequest{Month: "  "})
	require.NoError(t, err)
	assert.Equal(t, "2024-04", h.snapshot(t, resp.SnapshotID).Month)
}

func TestSnapshotQueueFull(t *testing.T) {
	h := newSnapshotHarness(t)
	h.runner.full = true

	_, err := h.flow.CreateSnapshot(context.Background(), adminActor(1), &dto.CreateSnapshotRequest{Month: "2024-03"})
	assert.True(t, IsQueueFull(err))

	var snaps []*models.ReportSnapshot
	require.NoError(t, h.db.DB.Find(&snaps).Error)
	require.Len(t, snaps, 1)
	assert.Equal(t, models.JobStatusFailed, snaps[0].Status)
}

func TestGetPrintReportRejectsMismatchedTokens(t *testing.T) {
	h := newSnapshotHarness(t)
	ctx := context.Background()

	pro, err := h.fx.CreatePartner("Trattoria Da Mario", models.TierPro)
	require.NoError(t, err)
	other, err := h.fx.CreatePartner("Bar Centrale", models.TierPro)
	require.NoError(t, err)

	_, err = h.flow.CreateSnapshot(ctx, partnerActor(pro), &dto.CreateSnapshotRequest{Month: "2024-03"})
	require.NoError(t, err)
	req := printQuery(t, h.renderer.requests[0].PrintURL)
	require.NotNil(t, req.PartnerID)

	report, err := h.flow.GetPrintReport(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, report.Partner)
	assert.Equal(t, pro.VenueID, report.Partner.VenueID)

	wrongMonth := *req
	wrongMonth.Month = "2024-02"
	_, err = h.flow.GetPrintReport(ctx, &wrongMonth)
	assert.ErrorIs(t, err, ErrReportTokenMismatch)

	wrongPartner := *req
	wrongPartner.PartnerID = utils.ToPtr(other.ID)
	_, err = h.flow.GetPrintReport(ctx, &wrongPartner)
	assert.ErrorIs(t, err, ErrReportTokenMismatch)

	wrongScope := *req
	wrongScope.Scope = "admin"
	_, err = h.flow.GetPrintReport(ctx, &wrongScope)
	assert.ErrorIs(t, err, ErrReportTokenMismatch)

	_, err = h.flow.GetPrintReport(ctx, &dto.PrintReportRequest{Scope: "partner", Month: "2024-03", Token: "forged"})
	assert.ErrorIs(t, err, ErrInvalidReportToken)

	_, err = h.flow.GetPrintReport(ctx, &dto.PrintReportRequest{Scope: "partner", Month: "2024-03"})
	assert.ErrorIs(t, err, ErrInvalidReportToken)
}

func TestSnapshotObjectBase(t *testing.T) {
	at := time.Date(2024, time.March, 31, 22, 0, 0, 0, time.UTC)
	global := SnapshotObjectBase("admin", "2024-03", nil, at)
	assert.Regexp(t, `^reports/admin/2024-03/global/1711922400000-[0-9a-f]{8}$`, global)

	venue := SnapshotObjectBase("partner", "2024-03", utils.ToPtr(uint(12)), at)
	assert.Regexp(t, `^reports/partner/2024-03/venue-12/1711922400000-[0-9a-f]{8}$`, venue)
	assert.Equal(t, venue, SnapshotObjectBase("partner", "2024-03", utils.ToPtr(uint(12)), at))
}
