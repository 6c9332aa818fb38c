package dto

type AdminDTO struct {
	ID          uint    `json:"id" example:"1"`
	Email       string  `json:"email" example:"ops@dormup.it"`
	IsActive    *bool   `json:"is_active" example:"true"`
	LastLoginAt *string `json:"last_login_at,omitempty" example:"2024-01-15T10:30:00Z"`
	CreatedAt   string  `json:"created_at" example:"2024-01-15T10:30:00Z"`
}

type PartnerDTO struct {
	ID               uint   `json:"id" example:"3"`
	Email            string `json:"email" example:"bar@venue.it"`
	VenueID          uint   `json:"venue_id" example:"12"`
	VenueName        string `json:"venue_name" example:"Caffe Centrale"`
	City             string `json:"city" example:"Milano"`
	SubscriptionTier string `json:"subscription_tier" example:"PRO"`
	IsActive         *bool  `json:"is_active" example:"true"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=1,max=200"`
}

// AdminLoginResponse carries the admin; the session itself travels in the admin_session cookie
type AdminLoginResponse struct {
	Admin     AdminDTO `json:"admin"`
	ExpiresIn int      `json:"expires_in" example:"604800"`
	Token     string   `json:"-"`
}

// PartnerLoginResponse carries the partner; the session itself travels in the partner_session cookie
type PartnerLoginResponse struct {
	Partner   PartnerDTO `json:"partner"`
	ExpiresIn int        `json:"expires_in" example:"604800"`
	Token     string     `json:"-"`
}

type MeResponse struct {
	Role    string      `json:"role" example:"admin"`
	Admin   *AdminDTO   `json:"admin,omitempty"`
	Partner *PartnerDTO `json:"partner,omitempty"`
	UserID  string      `json:"user_id,omitempty"`
}
