package businessflow

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/repository"
	"github.com/dormup/dormup-discounts/utils"
	"go.uber.org/zap"
)

const (
	lowConversionMinGenerated = 10
	lowConversionRatio        = 0.3
	spikeThresholdPercent     = 50
	bestTimeWindowHours       = 4
)

var weekdayLabels = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Anomaly flags a partner or the whole platform for admin attention
type Anomaly struct {
	Type    string `json:"type"`
	Venue   string `json:"venue"`
	VenueID *uint  `json:"venue_id,omitempty"`
	Message string `json:"message"`
}

// PartnerMetricsRow is one venue line of the admin report
type PartnerMetricsRow struct {
	VenueID   uint   `json:"venue_id"`
	VenueName string `json:"venue_name"`
	City      string `json:"city"`
	Counters
}

// AdminReport is the compiled monthly report of the whole platform
type AdminReport struct {
	Month       string                       `json:"month"`
	Global      *models.MonthlyGlobalMetrics `json:"global"`
	Partners    []PartnerMetricsRow          `json:"partners"`
	Anomalies   []Anomaly                    `json:"anomalies"`
	GeneratedAt time.Time                    `json:"generated_at"`
}

// ImpactSummary is the partner-facing value estimate of the month
type ImpactSummary struct {
	UniqueCustomers  int64    `json:"unique_customers"`
	TotalRedemptions int64    `json:"total_redemptions"`
	EstimatedImpact  *float64 `json:"estimated_impact"`
	AvgTicket        *float64 `json:"avg_ticket"`
	BestTime         *string  `json:"best_time"`
}

// PartnerReport is the compiled monthly report of one venue
type PartnerReport struct {
	Month         string                        `json:"month"`
	VenueID       uint                          `json:"venue_id"`
	VenueName     string                        `json:"venue_name"`
	City          string                        `json:"city"`
	Metrics       *models.MonthlyPartnerMetrics `json:"metrics"`
	Insights      []string                      `json:"insights"`
	ImpactSummary ImpactSummary                 `json:"impact_summary"`
	GeneratedAt   time.Time                     `json:"generated_at"`
}

// ReportCache stores compiled reports between requests
type ReportCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// ReportFlow compiles monthly admin and partner reports on top of the metrics aggregator
type ReportFlow interface {
	GetMonthlyAdminReport(ctx context.Context, month string) (*AdminReport, error)
	GetMonthlyPartnerReport(ctx context.Context, venueID uint, month string) (*PartnerReport, error)
	GetPartnerMonthlyReport(ctx context.Context, partnerID uint, month string) (*PartnerReport, error)
	GetPartnerDailyMetrics(ctx context.Context, partnerID uint, date string) (*DailyMetrics, error)
}

// ReportFlowImpl implements ReportFlow
type ReportFlowImpl struct {
	metricsFlow     MetricsFlow
	metricsRepo     repository.MetricsRepository
	partnerRepo     repository.PartnerRepository
	discountUseRepo repository.DiscountUseRepository
	cache           ReportCache
	cacheTTL        time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

// NewReportFlow creates a new report flow. cache may be nil.
func NewReportFlow(
	metricsFlow MetricsFlow,
	metricsRepo repository.MetricsRepository,
	partnerRepo repository.PartnerRepository,
	discountUseRepo repository.DiscountUseRepository,
	cache ReportCache,
	cacheTTL time.Duration,
	logger *zap.Logger,
) ReportFlow {
	return &ReportFlowImpl{
		metricsFlow:     metricsFlow,
		metricsRepo:     metricsRepo,
		partnerRepo:     partnerRepo,
		discountUseRepo: discountUseRepo,
		cache:           cache,
		cacheTTL:        cacheTTL,
		logger:          logger,
		now:             utils.UTCNow,
	}
}

func (f *ReportFlowImpl) cached(ctx context.Context, key string, dest any) bool {
	if f.cache == nil || f.cacheTTL <= 0 {
		return false
	}
	ok, err := f.cache.Get(ctx, key, dest)
	if err != nil {
		f.logger.Warn("Report cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (f *ReportFlowImpl) store(ctx context.Context, key string, value any) {
	if f.cache == nil || f.cacheTTL <= 0 {
		return
	}
	if err := f.cache.Set(ctx, key, value, f.cacheTTL); err != nil {
		f.logger.Warn("Report cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (f *ReportFlowImpl) GetMonthlyAdminReport(ctx context.Context, month string) (*AdminReport, error) {
	cacheKey := "reports:admin:" + month
	var hit AdminReport
	if f.cached(ctx, cacheKey, &hit) {
		return &hit, nil
	}

	start, _, _, err := parseMonthWindow(month)
	if err != nil {
		return nil, err
	}
	if _, err := f.metricsFlow.UpsertMonthlyGlobalMetrics(ctx, month); err != nil {
		return nil, err
	}

	global, err := f.metricsRepo.GlobalByPeriod(ctx, start)
	if err != nil {
		return nil, NewBusinessError("REPORT_COMPILE_FAILED", "Failed to load global metrics", err)
	}
	if global == nil {
		return nil, NewBusinessErrorf("METRICS_NOT_FOUND", "No global metrics found for %s", ErrMetricsNotComputed, month)
	}

	rows, err := f.metricsRepo.ListPartnersByPeriod(ctx, start)
	if err != nil {
		return nil, NewBusinessError("REPORT_COMPILE_FAILED", "Failed to load partner metrics", err)
	}

	report := &AdminReport{
		Month:       month,
		Global:      global,
		Partners:    make([]PartnerMetricsRow, 0, len(rows)),
		Anomalies:   make([]Anomaly, 0),
		GeneratedAt: f.now(),
	}
	for _, pm := range rows {
		row := PartnerMetricsRow{
			VenueID: pm.VenueID,
			Counters: Counters{
				PageViews:      pm.PageViews,
				QRGenerated:    pm.QRGenerated,
				QRRedeemed:     pm.QRRedeemed,
				UniqueUsers:    pm.UniqueUsers,
				RepeatUsers:    pm.RepeatUsers,
				ConversionRate: pm.ConversionRate,
			},
		}
		if pm.Venue != nil {
			row.VenueName = pm.Venue.Name
			row.City = pm.Venue.City
		}
		report.Partners = append(report.Partners, row)

		if a := lowConversionAnomaly(row); a != nil {
			report.Anomalies = append(report.Anomalies, *a)
		}
	}

	prevStart := start.AddDate(0, -1, 0)
	prev, err := f.metricsRepo.GlobalByPeriod(ctx, prevStart)
	if err != nil {
		return nil, NewBusinessError("REPORT_COMPILE_FAILED", "Failed to load previous month metrics", err)
	}
	if a := spikeAnomaly(global.PageViews, prev); a != nil {
		report.Anomalies = append(report.Anomalies, *a)
	}

	f.store(ctx, cacheKey, report)
	return report, nil
}

func lowConversionAnomaly(row PartnerMetricsRow) *Anomaly {
	if row.QRGenerated <= lowConversionMinGenerated {
		return nil
	}
	if float64(row.QRRedeemed) >= float64(row.QRGenerated)*lowConversionRatio {
		return nil
	}
	id := row.VenueID
	return &Anomaly{
		Type:    "low_conversion",
		Venue:   row.VenueName,
		VenueID: &id,
		Message: fmt.Sprintf("Low conversion rate: %d generated but only %d redeemed (%.1f%%)", row.QRGenerated, row.QRRedeemed, row.ConversionRate),
	}
}

// spikeAnomaly compares against the immediately preceding stored month only
func spikeAnomaly(current int64, prev *models.MonthlyGlobalMetrics) *Anomaly {
	if prev == nil || prev.PageViews <= 0 {
		return nil
	}
	change := float64(current-prev.PageViews) / float64(prev.PageViews) * 100
	if math.Abs(change) <= spikeThresholdPercent {
		return nil
	}
	direction := "increased"
	if change < 0 {
		direction = "decreased"
	}
	return &Anomaly{
		Type:    "spike",
		Venue:   "Global",
		Message: fmt.Sprintf("Page views %s by %.1f%% compared to previous month", direction, math.Abs(change)),
	}
}

func (f *ReportFlowImpl) GetMonthlyPartnerReport(ctx context.Context, venueID uint, month string) (*PartnerReport, error) {
	cacheKey := fmt.Sprintf("reports:partner:%s:%d", month, venueID)
	var hit PartnerReport
	if f.cached(ctx, cacheKey, &hit) {
		return &hit, nil
	}

	start, _, w, err := parseMonthWindow(month)
	if err != nil {
		return nil, err
	}
	if _, err := f.metricsFlow.UpsertMonthlyPartnerMetrics(ctx, venueID, month); err != nil {
		return nil, err
	}

	metrics, err := f.metricsRepo.PartnerByPeriod(ctx, venueID, start)
	if err != nil {
		return nil, NewBusinessError("REPORT_COMPILE_FAILED", "Failed to load partner metrics", err)
	}
	if metrics == nil {
		return nil, NewBusinessErrorf("METRICS_NOT_FOUND", "No metrics found for venue %d in %s", ErrMetricsNotComputed, venueID, month)
	}

	uniqueCustomers, err := f.discountUseRepo.CountUniqueRedeemers(ctx, &venueID, w)
	if err != nil {
		return nil, NewBusinessError("REPORT_COMPILE_FAILED", "Failed to count unique redeemers", err)
	}
	confirmations, err := f.discountUseRepo.ConfirmationTimes(ctx, venueID, w)
	if err != nil {
		return nil, NewBusinessError("REPORT_COMPILE_FAILED", "Failed to load redemptions", err)
	}

	report := &PartnerReport{
		Month:       month,
		VenueID:     venueID,
		Metrics:     metrics,
		Insights:    PartnerInsights(metrics),
		GeneratedAt: f.now(),
		ImpactSummary: ImpactSummary{
			UniqueCustomers:  uniqueCustomers,
			TotalRedemptions: metrics.QRRedeemed,
			BestTime:         BestTime(confirmations),
		},
	}
	if metrics.Venue != nil {
		report.VenueName = metrics.Venue.Name
		report.City = metrics.Venue.City
		if bill := metrics.Venue.AvgStudentBill; bill != nil && *bill > 0 {
			impact := utils.Round2(float64(metrics.QRRedeemed) * *bill)
			report.ImpactSummary.AvgTicket = utils.ToPtr(*bill)
			report.ImpactSummary.EstimatedImpact = &impact
		}
	}

	f.store(ctx, cacheKey, report)
	return report, nil
}

// GetPartnerMonthlyReport resolves the partner's venue; an empty month means the current one
func (f *ReportFlowImpl) GetPartnerMonthlyReport(ctx context.Context, partnerID uint, month string) (*PartnerReport, error) {
	if month == "" {
		month = utils.FormatMonth(f.now())
	}
	partner, err := f.partnerRepo.ByID(ctx, partnerID)
	if err != nil {
		return nil, NewBusinessError("PARTNER_LOOKUP_FAILED", "Failed to load partner", err)
	}
	if partner == nil {
		return nil, NewBusinessError("PARTNER_NOT_FOUND", "Partner not found", ErrPartnerNotFound)
	}
	return f.GetMonthlyPartnerReport(ctx, partner.VenueID, month)
}

// GetPartnerDailyMetrics returns the partner venue's counters for one day, today when date is empty
func (f *ReportFlowImpl) GetPartnerDailyMetrics(ctx context.Context, partnerID uint, date string) (*DailyMetrics, error) {
	day := f.now()
	if date != "" {
		parsed, err := time.Parse(utils.RequestDateLayout, date)
		if err != nil {
			return nil, NewBusinessError("VALIDATION_ERROR", "Invalid date format. Use YYYY-MM-DD", ErrInvalidDate)
		}
		day = parsed
	}
	partner, err := f.partnerRepo.ByID(ctx, partnerID)
	if err != nil {
		return nil, NewBusinessError("PARTNER_LOOKUP_FAILED", "Failed to load partner", err)
	}
	if partner == nil {
		return nil, NewBusinessError("PARTNER_NOT_FOUND", "Partner not found", ErrPartnerNotFound)
	}
	return f.metricsFlow.ComputeDailyMetrics(ctx, partner.VenueID, day)
}

// PartnerInsights turns the month's numbers into short narrative hints
func PartnerInsights(m *models.MonthlyPartnerMetrics) []string {
	insights := make([]string, 0, 3)

	switch {
	case m.ConversionRate > 50:
		insights = append(insights, fmt.Sprintf("Excellent conversion rate of %.1f%% - students are actively using your discounts!", m.ConversionRate))
	case m.ConversionRate < 20 && m.QRGenerated > 0:
		insights = append(insights, fmt.Sprintf("Conversion rate is %.1f%% - consider promoting your discounts more actively.", m.ConversionRate))
	}

	if m.RepeatUsers > 0 {
		insights = append(insights, fmt.Sprintf("%d returning customers this month - great customer retention!", m.RepeatUsers))
	}

	if m.UniqueUsers > 0 {
		avg := float64(m.QRRedeemed) / float64(m.UniqueUsers)
		insights = append(insights, fmt.Sprintf("Average of %.1f redemptions per unique student.", avg))
	}

	if len(insights) == 0 {
		insights = append(insights, "Keep promoting your discounts to increase engagement!")
	}
	return insights
}

// BestTime picks the weekday with the most redemptions, then the densest 4-hour window
// of that day. Ties go to the weekday seen first and to the earliest window start.
// Hours are taken in UTC.
func BestTime(confirmations []time.Time) *string {
	if len(confirmations) == 0 {
		return nil
	}

	var hourly [7][24]int
	var totals [7]int
	order := make([]time.Weekday, 0, 7)
	for _, t := range confirmations {
		t = t.UTC()
		day := t.Weekday()
		if totals[day] == 0 {
			order = append(order, day)
		}
		hourly[day][t.Hour()]++
		totals[day]++
	}

	best := order[0]
	for _, day := range order[1:] {
		if totals[day] > totals[best] {
			best = day
		}
	}

	maxCount, bestStart := 0, 0
	for start := 0; start <= 24-bestTimeWindowHours; start++ {
		count := 0
		for h := start; h < start+bestTimeWindowHours; h++ {
			count += hourly[best][h]
		}
		if count > maxCount {
			maxCount = count
			bestStart = start
		}
	}
	if maxCount == 0 {
		return nil
	}

	label := fmt.Sprintf("%s %d–%d", weekdayLabels[best], bestStart, bestStart+bestTimeWindowHours-1)
	return &label
}
