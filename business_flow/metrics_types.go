package businessflow

import (
	"fmt"
	"math"
	"time"
)

// MetricsKind tags which aggregation produced a metrics value
type MetricsKind string

const (
	MetricsKindDaily          MetricsKind = "daily"
	MetricsKindMonthlyPartner MetricsKind = "monthly_partner"
	MetricsKindMonthlyGlobal  MetricsKind = "monthly_global"
)

// Counters is the fixed shape shared by every aggregation
type Counters struct {
	PageViews      int64   `json:"page_views"`
	QRGenerated    int64   `json:"qr_generated"`
	QRRedeemed     int64   `json:"qr_redeemed"`
	UniqueUsers    int64   `json:"unique_users"`
	RepeatUsers    int64   `json:"repeat_users"`
	ConversionRate float64 `json:"conversion_rate"`
}

func (c Counters) validate() error {
	for name, v := range map[string]int64{
		"page_views":   c.PageViews,
		"qr_generated": c.QRGenerated,
		"qr_redeemed":  c.QRRedeemed,
		"unique_users": c.UniqueUsers,
		"repeat_users": c.RepeatUsers,
	} {
		if v < 0 {
			return fmt.Errorf("%s is negative: %d", name, v)
		}
	}
	if math.IsNaN(c.ConversionRate) || c.ConversionRate < 0 || c.ConversionRate > 100 {
		return fmt.Errorf("conversion_rate out of range: %v", c.ConversionRate)
	}
	if c.QRGenerated == 0 && c.ConversionRate != 0 {
		return fmt.Errorf("conversion_rate must be 0 when nothing was generated")
	}
	return nil
}

// ConversionRate is redeemed/generated as a percentage with two decimals. It is 0 when
// nothing was generated and capped at 100 because confirmations are counted by
// confirmation time while generations are counted by creation time.
func ConversionRate(redeemed, generated int64) float64 {
	if generated <= 0 {
		return 0
	}
	rate := math.Round(float64(redeemed)/float64(generated)*100*100) / 100
	if rate > 100 {
		return 100
	}
	if rate < 0 {
		return 0
	}
	return rate
}

// DailyMetrics is one venue over one UTC day
type DailyMetrics struct {
	Kind    MetricsKind `json:"kind"`
	VenueID uint        `json:"venue_id"`
	Date    string      `json:"date"`
	Counters
}

func (m *DailyMetrics) Validate() error {
	if m.Kind != MetricsKindDaily {
		return fmt.Errorf("unexpected metrics kind %q", m.Kind)
	}
	if m.VenueID == 0 {
		return fmt.Errorf("daily metrics without venue")
	}
	return m.Counters.validate()
}

// MonthlyMetrics is one venue over one calendar month
type MonthlyMetrics struct {
	Kind        MetricsKind `json:"kind"`
	VenueID     uint        `json:"venue_id"`
	Month       string      `json:"month"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`
	Counters
}

func (m *MonthlyMetrics) Validate() error {
	if m.Kind != MetricsKindMonthlyPartner {
		return fmt.Errorf("unexpected metrics kind %q", m.Kind)
	}
	if m.VenueID == 0 {
		return fmt.Errorf("monthly partner metrics without venue")
	}
	if !m.PeriodEnd.After(m.PeriodStart) {
		return fmt.Errorf("period end %s is not after start %s", m.PeriodEnd, m.PeriodStart)
	}
	return m.Counters.validate()
}

// GlobalMetrics is every venue over one calendar month
type GlobalMetrics struct {
	Kind          MetricsKind `json:"kind"`
	Month         string      `json:"month"`
	PeriodStart   time.Time   `json:"period_start"`
	PeriodEnd     time.Time   `json:"period_end"`
	TotalPartners int64       `json:"total_partners"`
	Counters
}

func (m *GlobalMetrics) Validate() error {
	if m.Kind != MetricsKindMonthlyGlobal {
		return fmt.Errorf("unexpected metrics kind %q", m.Kind)
	}
	if m.TotalPartners < 0 {
		return fmt.Errorf("total_partners is negative: %d", m.TotalPartners)
	}
	if !m.PeriodEnd.After(m.PeriodStart) {
		return fmt.Errorf("period end %s is not after start %s", m.PeriodEnd, m.PeriodStart)
	}
	return m.Counters.validate()
}

// BackfillResult summarizes one backfill run
type BackfillResult struct {
	Months      []string `json:"months"`
	PartnerRows int      `json:"partner_rows"`
}
