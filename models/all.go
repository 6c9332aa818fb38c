package models

// All returns every persisted model in migration order
func All() []any {
	return []any{
		&Venue{},
		&Partner{},
		&Admin{},
		&Profile{},
		&VenueView{},
		&DiscountUse{},
		&MonthlyPartnerMetrics{},
		&MonthlyGlobalMetrics{},
		&ExportJob{},
		&ReportSnapshot{},
	}
}
