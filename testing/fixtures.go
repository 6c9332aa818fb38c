package testing

import (
	"context"
	"fmt"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/repository"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// TestPassword is the plain password of every fixture account
const TestPassword = "TestPass123!"

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

func hashPassword() (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// CreateVenue creates an active venue on the given tier
func (tf *TestFixtures) CreateVenue(name, city string, tier models.SubscriptionTier) (*models.Venue, error) {
	venue := &models.Venue{
		Name:             name,
		City:             city,
		SubscriptionTier: tier,
		IsActive:         utils.ToPtr(true),
	}
	if err := tf.DB.DB.Create(venue).Error; err != nil {
		return nil, fmt.Errorf("failed to create venue %s: %w", name, err)
	}
	return venue, nil
}

// CreatePartner creates a venue on the given tier and the partner account managing it
func (tf *TestFixtures) CreatePartner(venueName string, tier models.SubscriptionTier) (*models.Partner, error) {
	venue, err := tf.CreateVenue(venueName, "Milano", tier)
	if err != nil {
		return nil, err
	}
	hashed, err := hashPassword()
	if err != nil {
		return nil, err
	}
	partner := &models.Partner{
		Email:        fmt.Sprintf("partner.%d@dormup.test", venue.ID),
		PasswordHash: hashed,
		VenueID:      venue.ID,
		IsActive:     utils.ToPtr(true),
	}
	if err := tf.DB.DB.Create(partner).Error; err != nil {
		return nil, fmt.Errorf("failed to create partner: %w", err)
	}
	partner.Venue = venue
	return partner, nil
}

// CreateAdmin creates an active admin with TestPassword
func (tf *TestFixtures) CreateAdmin(email string) (*models.Admin, error) {
	hashed, err := hashPassword()
	if err != nil {
		return nil, err
	}
	admin := &models.Admin{
		Email:        email,
		PasswordHash: hashed,
		IsActive:     utils.ToPtr(true),
	}
	if err := tf.DB.DB.Create(admin).Error; err != nil {
		return nil, fmt.Errorf("failed to create admin: %w", err)
	}
	return admin, nil
}

// CreateProfile creates an identity-provider profile
func (tf *TestFixtures) CreateProfile(userID string, isAdmin bool) (*models.Profile, error) {
	profile := &models.Profile{
		UserID:  userID,
		Email:   userID + "@students.test",
		IsAdmin: isAdmin,
	}
	if err := tf.DB.DB.Create(profile).Error; err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return profile, nil
}

// CreateView records one page view at the given time
func (tf *TestFixtures) CreateView(venueID uint, userID *string, at time.Time) (*models.VenueView, error) {
	view := &models.VenueView{
		VenueID:   venueID,
		UserID:    userID,
		City:      "Milano",
		UserAgent: "fixture",
		CreatedAt: at.UTC(),
	}
	if err := tf.DB.DB.Create(view).Error; err != nil {
		return nil, fmt.Errorf("failed to create view: %w", err)
	}
	return view, nil
}

// CreateViews records one page view per timestamp in a single batch insert
func (tf *TestFixtures) CreateViews(venueID uint, userID *string, at ...time.Time) ([]*models.VenueView, error) {
	views := make([]*models.VenueView, 0, len(at))
	for _, ts := range at {
		views = append(views, &models.VenueView{
			VenueID:   venueID,
			UserID:    userID,
			City:      "Milano",
			UserAgent: "fixture",
			CreatedAt: ts.UTC(),
		})
	}
	if err := repository.NewVenueViewRepository(tf.DB.DB).SaveBatch(context.Background(), views); err != nil {
		return nil, fmt.Errorf("failed to create views: %w", err)
	}
	return views, nil
}

// CreateDiscountUse generates a code at the given time; confirmedAt marks it redeemed
func (tf *TestFixtures) CreateDiscountUse(venueID uint, userID *string, at time.Time, confirmedAt *time.Time) (*models.DiscountUse, error) {
	use := &models.DiscountUse{
		VenueID:       venueID,
		UserID:        userID,
		GeneratedCode: "DU-" + uuid.NewString()[:8],
		QRSlug:        "qr-" + uuid.NewString()[:6],
		Status:        models.DiscountStatusGenerated,
		CreatedAt:     at.UTC(),
		ExpiresAt:     at.UTC().Add(15 * time.Minute),
	}
	if confirmedAt != nil {
		use.Status = models.DiscountStatusConfirmed
		use.ConfirmedAt = utils.TimeToUTCPtr(confirmedAt)
	}
	if err := tf.DB.DB.Create(use).Error; err != nil {
		return nil, fmt.Errorf("failed to create discount use: %w", err)
	}
	return use, nil
}
