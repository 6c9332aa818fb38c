package dto

type TrackViewRequest struct {
	VenueID uint   `json:"venueId" validate:"required,gt=0"`
	City    string `json:"city,omitempty" validate:"omitempty,max=128"`
}

type TrackViewResponse struct {
	Recorded bool `json:"recorded"`
}

type BackfillRequest struct {
	Months int `json:"months" validate:"omitempty,min=1,max=24"`
}
