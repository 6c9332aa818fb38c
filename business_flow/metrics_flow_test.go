package businessflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/repository"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func march(day, hour, minute int) time.Time {
	return time.Date(2024, time.March, day, hour, minute, 0, 0, time.UTC)
}

func TestConversionRate(t *testing.T) {
	tests := []struct {
		name      string
		redeemed  int64
		generated int64
		want      float64
	}{
		{"nothing generated", 0, 0, 0},
		{"redeemed without generations", 4, 0, 0},
		{"two decimals", 1, 3, 33.33},
		{"all redeemed", 5, 5, 100},
		{"capped when confirmations outnumber generations", 3, 2, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConversionRate(tt.redeemed, tt.generated))
		})
	}
}

func TestCountersValidate(t *testing.T) {
	assert.NoError(t, Counters{PageViews: 1, QRGenerated: 2, QRRedeemed: 1, ConversionRate: 50}.validate())
	assert.Error(t, Counters{PageViews: -1}.validate())
	assert.Error(t, Counters{QRGenerated: 1, ConversionRate: 101}.validate())
	assert.Error(t, Counters{ConversionRate: 10}.validate())
}

func TestComputeMonthlyPartnerMetrics(t *testing.T) {
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)
	ctx := context.Background()

	partner, err := fx.CreatePartner("Trattoria Da Mario", models.TierPro)
	require.NoError(t, err)
	venueID := partner.VenueID
	u1, u2, u3 := utils.ToPtr("student-1"), utils.ToPtr("student-2"), utils.ToPtr("student-3")

	for _, v := range []struct {
		user *string
		at   time.Time
	}{
		{u1, march(3, 10, 0)},
		{u1, march(3, 10, 5)},
		{nil, march(4, 12, 0)},
		{u3, time.Date(2024, time.February, 28, 9, 0, 0, 0, time.UTC)},
	} {
		_, err = fx.CreateView(venueID, v.user, v.at)
		require.NoError(t, err)
	}

	_, err = fx.CreateDiscountUse(venueID, u1, march(5, 19, 0), utils.ToPtr(march(5, 19, 10)))
	require.NoError(t, err)
	_, err = fx.CreateDiscountUse(venueID, u1, march(6, 20, 0), utils.ToPtr(march(6, 20, 5)))
	require.NoError(t, err)
	_, err = fx.CreateDiscountUse(venueID, u2, march(7, 13, 0), nil)
	require.NoError(t, err)
	// generated in February, confirmed in March
	_, err = fx.CreateDiscountUse(venueID, u2, time.Date(2024, time.February, 29, 23, 55, 0, 0, time.UTC), utils.ToPtr(march(1, 0, 5)))
	require.NoError(t, err)

	flow := repos.metricsFlow()
	m, err := flow.ComputeMonthlyPartnerMetrics(ctx, venueID, "2024-03")
	require.NoError(t, err)

	assert.Equal(t, MetricsKindMonthlyPartner, m.Kind)
	assert.Equal(t, int64(3), m.PageViews)
	assert.Equal(t, int64(3), m.QRGenerated)
	assert.Equal(t, int64(3), m.QRRedeemed)
	assert.Equal(t, int64(2), m.UniqueUsers)
	assert.Equal(t, int64(1), m.RepeatUsers)
	assert.Equal(t, float64(100), m.ConversionRate)
	assert.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), m.PeriodStart)
	assert.True(t, m.PeriodEnd.After(m.PeriodStart))

	daily, err := flow.ComputeDailyMetrics(ctx, venueID, march(3, 15, 0))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-03", daily.Date)
	assert.Equal(t, int64(2), daily.PageViews)
	assert.Equal(t, int64(0), daily.QRGenerated)
	assert.Equal(t, float64(0), daily.ConversionRate)

	_, err = flow.ComputeMonthlyPartnerMetrics(ctx, venueID, "2024-3")
	assert.True(t, IsInvalidMonth(err))
	assert.True(t, IsValidationError(err))
}

func TestUpsertMonthlyMetricsIsIdempotent(t *testing.T) {
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)
	ctx := context.Background()

	first, err := fx.CreatePartner("Trattoria Da Mario", models.TierPro)
	require.NoError(t, err)
	second, err := fx.CreatePartner("Bar Centrale", models.TierBasic)
	require.NoError(t, err)

	_, err = fx.CreateView(first.VenueID, utils.ToPtr("student-1"), march(2, 9, 0))
	require.NoError(t, err)
	_, err = fx.CreateView(second.VenueID, utils.ToPtr("student-2"), march(2, 9, 30))
	require.NoError(t, err)
	_, err = fx.CreateDiscountUse(second.VenueID, utils.ToPtr("student-2"), march(2, 10, 0), nil)
	require.NoError(t, err)

	flow := repos.metricsFlow()

	_, err = flow.UpsertMonthlyPartnerMetrics(ctx, first.VenueID, "2024-03")
	require.NoError(t, err)
	_, err = fx.CreateView(first.VenueID, nil, march(9, 18, 0))
	require.NoError(t, err)
	m, err := flow.UpsertMonthlyPartnerMetrics(ctx, first.VenueID, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.PageViews)

	var partnerRows int64
	require.NoError(t, db.DB.Model(&models.MonthlyPartnerMetrics{}).Where("venue_id = ?", first.VenueID).Count(&partnerRows).Error)
	assert.Equal(t, int64(1), partnerRows)

	stored, err := repos.metrics.PartnerByPeriod(ctx, first.VenueID, m.PeriodStart)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(2), stored.PageViews)

	for i := 0; i < 2; i++ {
		g, err := flow.UpsertMonthlyGlobalMetrics(ctx, "2024-03")
		require.NoError(t, err)
		assert.Equal(t, int64(3), g.PageViews)
		assert.Equal(t, int64(1), g.QRGenerated)
		assert.Equal(t, int64(2), g.TotalPartners)
		assert.Equal(t, int64(2), g.UniqueUsers)
	}
	var globalRows int64
	require.NoError(t, db.DB.Model(&models.MonthlyGlobalMetrics{}).Count(&globalRows).Error)
	assert.Equal(t, int64(1), globalRows)

	_, err = flow.UpsertMonthlyPartnerMetrics(ctx, 99999, "2024-03")
	assert.True(t, IsVenueNotFound(err))
}

// brokenVenueRepo fails the existence check for one venue
type brokenVenueRepo struct {
	repository.VenueRepository
	venueID uint
}

func (r brokenVenueRepo) Exists(ctx context.Context, filter models.VenueFilter) (bool, error) {
	if filter.ID != nil && *filter.ID == r.venueID {
		return false, errors.New("database is locked")
	}
	return r.VenueRepository.Exists(ctx, filter)
}

func TestUpsertAllPartnersForMonthIsAtomic(t *testing.T) {
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)
	ctx := context.Background()

	first, err := fx.CreatePartner("Trattoria Da Mario", models.TierPro)
	require.NoError(t, err)
	second, err := fx.CreatePartner("Bar Centrale", models.TierBasic)
	require.NoError(t, err)
	_, err = fx.CreateViews(first.VenueID, utils.ToPtr("student-1"), march(2, 9, 0), march(3, 9, 0))
	require.NoError(t, err)

	repos.venue = brokenVenueRepo{VenueRepository: repos.venue, venueID: second.VenueID}
	_, err = repos.metricsFlow().UpsertAllPartnersForMonth(ctx, "2024-03")
	require.Error(t, err)

	var partnerRows int64
	require.NoError(t, db.DB.Model(&models.MonthlyPartnerMetrics{}).Count(&partnerRows).Error)
	assert.Zero(t, partnerRows, "the first venue's row is rolled back with the failed one")

	repos = newTestRepos(db)
	n, err := repos.metricsFlow().UpsertAllPartnersForMonth(ctx, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stored, err := repos.metrics.PartnerByPeriod(ctx, first.VenueID, march(1, 0, 0))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(2), stored.PageViews)
}

func TestBackfill(t *testing.T) {
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)
	ctx := context.Background()

	_, err := fx.CreatePartner("Trattoria Da Mario", models.TierPro)
	require.NoError(t, err)
	_, err = fx.CreatePartner("Bar Centrale", models.TierBasic)
	require.NoError(t, err)

	flow := repos.metricsFlow().(*MetricsFlowImpl)
	flow.now = fixedClock(march(15, 12, 0))

	result, err := flow.Backfill(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03", "2024-02"}, result.Months)
	assert.Equal(t, 4, result.PartnerRows)

	var partnerRows, globalRows int64
	require.NoError(t, db.DB.Model(&models.MonthlyPartnerMetrics{}).Count(&partnerRows).Error)
	require.NoError(t, db.DB.Model(&models.MonthlyGlobalMetrics{}).Count(&globalRows).Error)
	assert.Equal(t, int64(4), partnerRows)
	assert.Equal(t, int64(2), globalRows)

	// re-running converges on the same rows
	_, err = flow.Backfill(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, db.DB.Model(&models.MonthlyPartnerMetrics{}).Count(&partnerRows).Error)
	assert.Equal(t, int64(4), partnerRows)
}
