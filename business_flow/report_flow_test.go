package businessflow

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mapCache is a ReportCache kept in memory, JSON encoded like the redis one
type mapCache struct {
	items map[string][]byte
	hits  int
}

func newMapCache() *mapCache { return &mapCache{items: map[string][]byte{}} }

func (c *mapCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, ok := c.items[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(raw, dest)
}

func (c *mapCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.items[key] = raw
	return nil
}

func parseBestTime(t *testing.T, label string) (string, int, int) {
	t.Helper()
	day, window, ok := strings.Cut(label, " ")
	require.True(t, ok, label)
	from, to, ok := strings.Cut(window, "–")
	require.True(t, ok, label)
	start, err := strconv.Atoi(from)
	require.NoError(t, err)
	end, err := strconv.Atoi(to)
	require.NoError(t, err)
	return day, start, end
}

func TestBestTime(t *testing.T) {
	assert.Nil(t, BestTime(nil))

	// 2024-03-01 is a Friday, 2024-03-05 a Tuesday
	friday := []time.Time{
		march(1, 19, 10), march(1, 19, 40), march(1, 20, 15), march(1, 20, 50),
		march(8, 19, 5), march(8, 20, 30),
		march(5, 12, 0), march(5, 13, 0),
	}
	label := BestTime(friday)
	require.NotNil(t, label)
	day, start, end := parseBestTime(t, *label)
	assert.Equal(t, "Fri", day)
	assert.LessOrEqual(t, start, 19)
	assert.GreaterOrEqual(t, end, 20)
	assert.Equal(t, 3, end-start)

	// equal totals keep the weekday seen first, equal windows keep the earliest start
	tie := BestTime([]time.Time{march(5, 2, 0), march(1, 10, 0)})
	require.NotNil(t, tie)
	assert.Equal(t, "Tue 0–3", *tie)

	late := BestTime([]time.Time{march(1, 23, 30)})
	require.NotNil(t, late)
	assert.Equal(t, "Fri 20–23", *late)
}

func TestPartnerInsights(t *testing.T) {
	tests := []struct {
		name    string
		metrics models.MonthlyPartnerMetrics
		want    []string
	}{
		{
			name:    "empty month",
			metrics: models.MonthlyPartnerMetrics{},
			want:    []string{"Keep promoting your discounts to increase engagement!"},
		},
		{
			name:    "high conversion with repeat users",
			metrics: models.MonthlyPartnerMetrics{QRGenerated: 10, QRRedeemed: 6, ConversionRate: 60, RepeatUsers: 2, UniqueUsers: 4},
			want: []string{
				"Excellent conversion rate of 60.0% - students are actively using your discounts!",
				"2 returning customers this month - great customer retention!",
				"Average of 1.5 redemptions per unique student.",
			},
		},
		{
			name:    "low conversion",
			metrics: models.MonthlyPartnerMetrics{QRGenerated: 10, QRRedeemed: 1, ConversionRate: 10},
			want:    []string{"Conversion rate is 10.0% - consider promoting your discounts more actively."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.metrics
			assert.Equal(t, tt.want, PartnerInsights(&m))
		})
	}
}

func TestAnomalyRules(t *testing.T) {
	assert.Nil(t, lowConversionAnomaly(PartnerMetricsRow{Counters: Counters{QRGenerated: 10, QRRedeemed: 0}}))
	assert.Nil(t, lowConversionAnomaly(PartnerMetricsRow{Counters: Counters{QRGenerated: 20, QRRedeemed: 6}}))
	a := lowConversionAnomaly(PartnerMetricsRow{VenueID: 3, VenueName: "Bar Centrale", Counters: Counters{QRGenerated: 20, QRRedeemed: 5, ConversionRate: 25}})
	require.NotNil(t, a)
	assert.Equal(t, "low_conversion", a.Type)
	assert.Equal(t, "Bar Centrale", a.Venue)

	assert.Nil(t, spikeAnomaly(100, nil))
	assert.Nil(t, spikeAnomaly(100, &models.MonthlyGlobalMetrics{PageViews: 0}))
	assert.Nil(t, spikeAnomaly(140, &models.MonthlyGlobalMetrics{PageViews: 100}))
	up := spikeAnomaly(151, &models.MonthlyGlobalMetrics{PageViews: 100})
	require.NotNil(t, up)
	assert.Contains(t, up.Message, "increased by 51.0%")
	down := spikeAnomaly(40, &models.MonthlyGlobalMetrics{PageViews: 100})
	require.NotNil(t, down)
	assert.Contains(t, down.Message, "decreased by 60.0%")
}

func TestGetMonthlyPartnerReport(t *testing.T) {
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)
	ctx := context.Background()

	partner, err := fx.CreatePartner("Trattoria Da Mario", models.TierPro)
	require.NoError(t, err)
	require.NoError(t, db.DB.Model(&models.Venue{}).Where("id = ?", partner.VenueID).Update("avg_student_bill", 12.5).Error)

	redemptions := []struct {
		user string
		at   time.Time
	}{
		{"student-1", march(1, 19, 10)},
		{"student-2", march(1, 19, 40)},
		{"student-1", march(1, 20, 15)},
		{"student-3", march(8, 20, 50)},
		{"student-2", march(5, 12, 0)},
	}
	for _, r := range redemptions {
		_, err := fx.CreateDiscountUse(partner.VenueID, utils.ToPtr(r.user), r.at.Add(-5*time.Minute), utils.ToPtr(r.at))
		require.NoError(t, err)
	}

	cache := newMapCache()
	flow := NewReportFlow(repos.metricsFlow(), repos.metrics, repos.partner, repos.use, cache, time.Minute, zap.NewNop())

	report, err := flow.GetPartnerMonthlyReport(ctx, partner.ID, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, "Trattoria Da Mario", report.VenueName)
	assert.Equal(t, "Milano", report.City)
	require.NotNil(t, report.Metrics)
	assert.Equal(t, int64(5), report.Metrics.QRRedeemed)
	assert.Equal(t, int64(5), report.ImpactSummary.TotalRedemptions)
	assert.Equal(t, int64(3), report.ImpactSummary.UniqueCustomers)
	require.NotNil(t, report.ImpactSummary.EstimatedImpact)
	assert.Equal(t, 62.5, *report.ImpactSummary.EstimatedImpact)
	require.NotNil(t, report.ImpactSummary.BestTime)
	day, start, end := parseBestTime(t, *report.ImpactSummary.BestTime)
	assert.Equal(t, "Fri", day)
	assert.LessOrEqual(t, start, 19)
	assert.GreaterOrEqual(t, end, 20)
	assert.NotEmpty(t, report.Insights)

	again, err := flow.GetMonthlyPartnerReport(ctx, partner.VenueID, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, report.ImpactSummary.UniqueCustomers, again.ImpactSummary.UniqueCustomers)

	_, err = flow.GetPartnerMonthlyReport(ctx, 4242, "2024-03")
	assert.True(t, IsPartnerNotFound(err))
	_, err = flow.GetMonthlyPartnerReport(ctx, partner.VenueID, "March")
	assert.True(t, IsValidationError(err))
}

func TestPartnerReportWithoutAverageTicket(t *testing.T) {
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)

	partner, err := fx.CreatePartner("Bar Centrale", models.TierPro)
	require.NoError(t, err)

	flow := NewReportFlow(repos.metricsFlow(), repos.metrics, repos.partner, repos.use, nil, 0, zap.NewNop())
	report, err := flow.GetMonthlyPartnerReport(context.Background(), partner.VenueID, "2024-03")
	require.NoError(t, err)
	assert.Nil(t, report.ImpactSummary.EstimatedImpact)
	assert.Nil(t, report.ImpactSummary.AvgTicket)
	assert.Nil(t, report.ImpactSummary.BestTime)
	assert.Equal(t, []string{"Keep promoting your discounts to increase engagement!"}, report.Insights)
}

func TestGetMonthlyAdminReport(t *testing.T) {
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)
	ctx := context.Background()

	busy, err := fx.CreatePartner("Trattoria Da Mario", models.TierPro)
	require.NoError(t, err)
	quiet, err := fx.CreatePartner("Bar Centrale", models.TierBasic)
	require.NoError(t, err)

	// busy venue: 11 codes, 2 redeemed
	for i := 0; i < 11; i++ {
		var confirmed *time.Time
		if i < 2 {
			confirmed = utils.ToPtr(march(i+1, 13, 0))
		}
		_, err := fx.CreateDiscountUse(busy.VenueID, utils.ToPtr("student-"+strconv.Itoa(i)), march(i+1, 12, 0), confirmed)
		require.NoError(t, err)
	}
	_, err = fx.CreateView(quiet.VenueID, nil, time.Date(2024, time.February, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := fx.CreateView(quiet.VenueID, nil, march(i+1, 9, 0))
		require.NoError(t, err)
	}

	metrics := repos.metricsFlow()
	_, err = metrics.UpsertMonthlyGlobalMetrics(ctx, "2024-02")
	require.NoError(t, err)
	_, err = metrics.UpsertAllPartnersForMonth(ctx, "2024-03")
	require.NoError(t, err)

	flow := NewReportFlow(metrics, repos.metrics, repos.partner, repos.use, nil, 0, zap.NewNop())
	report, err := flow.GetMonthlyAdminReport(ctx, "2024-03")
	require.NoError(t, err)

	require.NotNil(t, report.Global)
	assert.Equal(t, int64(4), report.Global.PageViews)
	assert.Equal(t, int64(11), report.Global.QRGenerated)
	assert.Equal(t, int64(2), report.Global.TotalPartners)

	require.Len(t, report.Partners, 2)
	assert.Equal(t, busy.VenueID, report.Partners[0].VenueID, "most redemptions first")
	assert.Equal(t, "Trattoria Da Mario", report.Partners[0].VenueName)

	types := map[string]bool{}
	for _, a := range report.Anomalies {
		types[a.Type] = true
	}
	assert.True(t, types["low_conversion"])
	assert.True(t, types["spike"], "4 views against 1 the month before")

	_, err = flow.GetMonthlyAdminReport(ctx, "2024-13")
	assert.True(t, IsInvalidMonth(err))
}

func TestGetPartnerDailyMetrics(t *testing.T) {
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)

	partner, err := fx.CreatePartner("Trattoria Da Mario", models.TierBasic)
	require.NoError(t, err)
	_, err = fx.CreateView(partner.VenueID, nil, march(4, 9, 0))
	require.NoError(t, err)

	flow := NewReportFlow(repos.metricsFlow(), repos.metrics, repos.partner, repos.use, nil, 0, zap.NewNop())
	daily, err := flow.GetPartnerDailyMetrics(context.Background(), partner.ID, "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, MetricsKindDaily, daily.Kind)
	assert.Equal(t, int64(1), daily.PageViews)

	_, err = flow.GetPartnerDailyMetrics(context.Background(), partner.ID, "04/03/2024")
	assert.True(t, IsValidationError(err))
}
