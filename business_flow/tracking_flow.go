package businessflow

import (
	"context"
	"strings"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/repository"
	"github.com/dormup/dormup-discounts/utils"
	"go.uber.org/zap"
)

// TrackingFlow records raw engagement events and keeps discount codes current
type TrackingFlow interface {
	TrackView(ctx context.Context, venueID uint, userID *string, city, userAgent string) (bool, error)
	ExpireCodes(ctx context.Context) (int64, error)
}

// TrackingFlowImpl implements TrackingFlow
type TrackingFlowImpl struct {
	venueRepo       repository.VenueRepository
	venueViewRepo   repository.VenueViewRepository
	discountUseRepo repository.DiscountUseRepository
	logger          *zap.Logger
	now             func() time.Time
}

func NewTrackingFlow(
	venueRepo repository.VenueRepository,
	venueViewRepo repository.VenueViewRepository,
	discountUseRepo repository.DiscountUseRepository,
	logger *zap.Logger,
) TrackingFlow {
	return &TrackingFlowImpl{
		venueRepo:       venueRepo,
		venueViewRepo:   venueViewRepo,
		discountUseRepo: discountUseRepo,
		logger:          logger,
		now:             utils.UTCNow,
	}
}

// TrackView stores one page view; repeats of the same viewer within a minute are dropped
func (f *TrackingFlowImpl) TrackView(ctx context.Context, venueID uint, userID *string, city, userAgent string) (bool, error) {
	venue, err := f.venueRepo.ByID(ctx, venueID)
	if err != nil {
		return false, NewBusinessError("VENUE_LOOKUP_FAILED", "Failed to load venue", err)
	}
	if venue == nil || !utils.IsTrue(venue.IsActive) {
		return false, NewBusinessError("VENUE_NOT_FOUND", "Venue not found", ErrVenueNotFound)
	}

	city = strings.TrimSpace(city)
	if city == "" {
		city = venue.City
	}
	at := f.now()
	key := models.ViewDedupeKey(venueID, userID, at)
	view := &models.VenueView{
		VenueID:   venueID,
		UserID:    userID,
		City:      city,
		UserAgent: utils.Truncate(userAgent, 512),
		DedupeKey: &key,
		CreatedAt: at,
	}
	created, err := f.venueViewRepo.SaveDeduped(ctx, view)
	if err != nil {
		return false, NewBusinessError("VIEW_TRACK_FAILED", "Failed to record view", err)
	}
	return created, nil
}

// ExpireCodes flips generated codes past their expiry to expired
func (f *TrackingFlowImpl) ExpireCodes(ctx context.Context) (int64, error) {
	n, err := f.discountUseRepo.ExpireOverdue(ctx, f.now())
	if err != nil {
		return 0, NewBusinessError("CODE_EXPIRY_FAILED", "Failed to expire discount codes", err)
	}
	if n > 0 {
		f.logger.Info("Expired discount codes", zap.Int64("count", n))
	}
	return n, nil
}
