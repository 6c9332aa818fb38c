package businessflow

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/dormup/dormup-discounts/app/dto"
	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyExport(t *testing.T) {
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)
	ctx := context.Background()

	maxPartner, err := fx.CreatePartner("Trattoria Da Mario", models.TierMax)
	require.NoError(t, err)
	basic, err := fx.CreatePartner("Bar Centrale", models.TierBasic)
	require.NoError(t, err)

	_, err = fx.CreateView(maxPartner.VenueID, utils.ToPtr("student-1"), march(2, 9, 0))
	require.NoError(t, err)
	_, err = fx.CreateDiscountUse(maxPartner.VenueID, utils.ToPtr("student-1"), march(3, 12, 0), utils.ToPtr(march(3, 12, 20)))
	require.NoError(t, err)
	_, err = fx.CreateDiscountUse(maxPartner.VenueID, nil, march(4, 12, 0), nil)
	require.NoError(t, err)
	_, err = fx.CreateView(basic.VenueID, nil, march(5, 9, 0))
	require.NoError(t, err)

	flow := NewLegacyExportFlow(repos.venue, repos.partner, repos.view, repos.use, testSalt)

	resp, err := flow.Export(ctx, partnerActor(maxPartner), &dto.LegacyExportRequest{Month: "2024-03"})
	require.NoError(t, err)
	assert.Equal(t, models.ReportScopePartner, resp.Scope)
	require.NotNil(t, resp.VenueID)
	assert.Equal(t, maxPartner.VenueID, *resp.VenueID)
	require.Equal(t, 3, resp.TotalEvents)

	// newest first, a confirmed code appears once as redeemed
	assert.Equal(t, models.EventTypeQRGenerated, resp.Events[0].EventType)
	assert.Equal(t, models.EventTypeQRRedeemed, resp.Events[1].EventType)
	assert.Equal(t, "2024-03-03T12:20:00.000Z", resp.Events[1].Timestamp)
	assert.Equal(t, models.EventTypePageView, resp.Events[2].EventType)
	assert.Equal(t, "Trattoria Da Mario", resp.Events[2].VenueName)
	assert.Equal(t, HashUserID(testSalt, utils.ToPtr("student-1")), resp.Events[2].UserIDHash)
	assert.Nil(t, resp.Events[0].UserIDHash)

	all, err := flow.Export(ctx, adminActor(1), &dto.LegacyExportRequest{Month: "2024-03"})
	require.NoError(t, err)
	assert.Equal(t, models.ReportScopeAdmin, all.Scope)
	assert.Nil(t, all.VenueID)
	assert.Equal(t, 4, all.TotalEvents)

	one, err := flow.Export(ctx, adminActor(1), &dto.LegacyExportRequest{Month: "2024-03", Scope: "partner", PartnerID: utils.ToPtr(basic.ID)})
	require.NoError(t, err)
	assert.Equal(t, 1, one.TotalEvents)

	var buf bytes.Buffer
	require.NoError(t, WriteLegacyCSV(&buf, resp.Events))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"event_type", "timestamp", "venue_id", "venue_name", "user_id_hash", "metadata"}, records[0])
	assert.Contains(t, records[2][5], `"status":"confirmed"`)
}

func TestLegacyExportAccess(t *testing.T) {
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)
	ctx := context.Background()

	maxPartner, err := fx.CreatePartner("Trattoria Da Mario", models.TierMax)
	require.NoError(t, err)
	basic, err := fx.CreatePartner("Bar Centrale", models.TierBasic)
	require.NoError(t, err)

	flow := NewLegacyExportFlow(repos.venue, repos.partner, repos.view, repos.use, testSalt)

	_, err = flow.Export(ctx, partnerActor(maxPartner), &dto.LegacyExportRequest{Scope: "admin"})
	assert.True(t, IsAccessDenied(err))

	_, err = flow.Export(ctx, partnerActor(basic), &dto.LegacyExportRequest{})
	assert.True(t, IsTierRequired(err))

	_, err = flow.Export(ctx, adminActor(1), &dto.LegacyExportRequest{Scope: "partner"})
	assert.True(t, IsPartnerIDRequired(err))

	_, err = flow.Export(ctx, adminActor(1), &dto.LegacyExportRequest{Scope: "partner", PartnerID: utils.ToPtr(uint(4242))})
	assert.True(t, IsPartnerNotFound(err))

	_, err = flow.Export(ctx, adminActor(1), &dto.LegacyExportRequest{Month: "2024/03"})
	assert.True(t, IsInvalidMonth(err))

	_, err = flow.Export(ctx, adminActor(1), &dto.LegacyExportRequest{Scope: "global"})
	assert.True(t, IsValidationError(err))

	resp, err := flow.Export(ctx, adminActor(1), nil)
	require.NoError(t, err)
	assert.Equal(t, utils.CurrentMonth(), resp.Month)
}
