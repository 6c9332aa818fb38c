package businessflow

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dormup/dormup-discounts/app/dto"
	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/repository"
	"github.com/dormup/dormup-discounts/utils"
)

// LegacyExportFlow serves the synchronous monthly export kept for older dashboards
type LegacyExportFlow interface {
	Export(ctx context.Context, actor Actor, req *dto.LegacyExportRequest) (*dto.LegacyExportResponse, error)
}

// LegacyExportFlowImpl implements LegacyExportFlow
type LegacyExportFlowImpl struct {
	venueRepo       repository.VenueRepository
	partnerRepo     repository.PartnerRepository
	venueViewRepo   repository.VenueViewRepository
	discountUseRepo repository.DiscountUseRepository
	salt            string
	now             func() time.Time
}

func NewLegacyExportFlow(
	venueRepo repository.VenueRepository,
	partnerRepo repository.PartnerRepository,
	venueViewRepo repository.VenueViewRepository,
	discountUseRepo repository.DiscountUseRepository,
	salt string,
) LegacyExportFlow {
	return &LegacyExportFlowImpl{
		venueRepo:       venueRepo,
		partnerRepo:     partnerRepo,
		venueViewRepo:   venueViewRepo,
		discountUseRepo: discountUseRepo,
		salt:            salt,
		now:             utils.UTCNow,
	}
}

func (f *LegacyExportFlowImpl) Export(ctx context.Context, actor Actor, req *dto.LegacyExportRequest) (*dto.LegacyExportResponse, error) {
	if req == nil {
		req = &dto.LegacyExportRequest{}
	}
	scope := strings.ToLower(req.Scope)
	if scope == "" {
		scope = models.ReportScopePartner
		if actor.IsAdmin() {
			scope = models.ReportScopeAdmin
		}
	}
	if scope != models.ReportScopeAdmin && scope != models.ReportScopePartner {
		return nil, validationError("Invalid scope. Must be \"admin\" or \"partner\"", ErrInvalidScope)
	}
	if scope == models.ReportScopeAdmin && !actor.IsAdmin() {
		return nil, NewBusinessError("FORBIDDEN", "Access denied", ErrAccessDenied)
	}

	var venueID *uint
	if scope == models.ReportScopePartner {
		switch {
		case actor.IsPartner():
			if err := requireTier(actor, models.TierMax, "Raw event export"); err != nil {
				return nil, err
			}
			venueID = actor.VenueID
		case req.PartnerID != nil:
			partner, err := f.partnerRepo.ByID(ctx, *req.PartnerID)
			if err != nil {
				return nil, NewBusinessError("PARTNER_LOOKUP_FAILED", "Failed to load partner", err)
			}
			if partner == nil {
				return nil, NewBusinessError("PARTNER_NOT_FOUND", "Partner not found", ErrPartnerNotFound)
			}
			venueID = &partner.VenueID
		default:
			return nil, validationError("partnerId required for partner scope", ErrPartnerIDRequired)
		}
	}

	month := req.Month
	if month == "" {
		month = utils.FormatMonth(f.now())
	}
	start, _, err := utils.MonthBoundsFor(month)
	if err != nil {
		return nil, validationError(fmt.Sprintf("Invalid month format: %s. Expected YYYY-MM", month), ErrInvalidMonth)
	}
	end := start.AddDate(0, 1, 0)

	views, err := f.venueViewRepo.ByFilter(ctx, models.VenueViewFilter{
		VenueID:       venueID,
		CreatedAfter:  &start,
		CreatedBefore: &end,
	}, "created_at DESC", utils.LegacyExportRowLimit, 0)
	if err != nil {
		return nil, NewBusinessError("EXPORT_FAILED", "Failed to export report", err)
	}
	uses, err := f.discountUseRepo.ByFilter(ctx, models.DiscountUseFilter{
		VenueID:       venueID,
		CreatedAfter:  &start,
		CreatedBefore: &end,
	}, "created_at DESC", utils.LegacyExportRowLimit, 0)
	if err != nil {
		return nil, NewBusinessError("EXPORT_FAILED", "Failed to export report", err)
	}

	seen := make(map[uint]bool)
	ids := make([]uint, 0)
	for _, v := range views {
		if !seen[v.VenueID] {
			seen[v.VenueID] = true
			ids = append(ids, v.VenueID)
		}
	}
	for _, d := range uses {
		if !seen[d.VenueID] {
			seen[d.VenueID] = true
			ids = append(ids, d.VenueID)
		}
	}
	venues, err := f.venueRepo.ByIDs(ctx, ids)
	if err != nil {
		return nil, NewBusinessError("EXPORT_FAILED", "Failed to export report", err)
	}
	name := func(id uint) string {
		if v, ok := venues[id]; ok {
			return v.Name
		}
		return "Unknown"
	}

	events := make([]dto.LegacyEventDTO, 0, len(views)+len(uses))
	for _, v := range views {
		events = append(events, dto.LegacyEventDTO{
			EventType:  models.EventTypePageView,
			Timestamp:  v.CreatedAt.UTC().Format(utils.UTCTimestampMilliLayout),
			VenueID:    v.VenueID,
			VenueName:  name(v.VenueID),
			UserIDHash: HashUserID(f.salt, v.UserID),
			Metadata: map[string]any{
				"city":       v.City,
				"user_agent": nonEmpty(v.UserAgent),
			},
		})
	}
	for _, d := range uses {
		eventType, at := models.EventTypeQRGenerated, d.CreatedAt
		if d.Status == models.DiscountStatusConfirmed {
			eventType = models.EventTypeQRRedeemed
			if d.ConfirmedAt != nil {
				at = *d.ConfirmedAt
			}
		}
		events = append(events, dto.LegacyEventDTO{
			EventType:  eventType,
			Timestamp:  at.UTC().Format(utils.UTCTimestampMilliLayout),
			VenueID:    d.VenueID,
			VenueName:  name(d.VenueID),
			UserIDHash: HashUserID(f.salt, d.UserID),
			Metadata: map[string]any{
				"code":    d.GeneratedCode,
				"status":  d.Status,
				"qr_slug": nonEmpty(d.QRSlug),
			},
		})
	}
	// timestamps share one fixed-width UTC layout, so string order is time order
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp > events[j].Timestamp })

	return &dto.LegacyExportResponse{
		Month:       month,
		Scope:       scope,
		VenueID:     venueID,
		TotalEvents: len(events),
		Events:      events,
	}, nil
}

// WriteLegacyCSV renders legacy events with metadata as a JSON column
func WriteLegacyCSV(w io.Writer, events []dto.LegacyEventDTO) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"event_type", "timestamp", "venue_id", "venue_name", "user_id_hash", "metadata"}); err != nil {
		return err
	}
	for _, e := range events {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		if err := cw.Write([]string{
			e.EventType,
			e.Timestamp,
			strconv.FormatUint(uint64(e.VenueID), 10),
			e.VenueName,
			utils.Deref(e.UserIDHash),
			string(meta),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
