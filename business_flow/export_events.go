package businessflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/repository"
	"github.com/dormup/dormup-discounts/utils"
)

const (
	sourceVenueView   = "venue_view"
	sourceDiscountUse = "discount_use"

	defaultExportChunkSize = 1000
)

// ExportColumns is the header row shared by CSV and XLSX exports
var ExportColumns = []string{
	"event_id",
	"event_type",
	"created_at_utc",
	"created_at_local",
	"partner_id",
	"partner_name",
	"user_id_hash",
	"discount_id",
	"metadata_json",
	"source",
}

// Event is one flattened raw event row
type Event struct {
	EventID        string
	EventType      string
	OccurredAt     time.Time
	CreatedAtUTC   string
	CreatedAtLocal string
	PartnerID      string
	PartnerName    string
	UserIDHash     *string
	DiscountID     *uint
	MetadataJSON   string
	Source         string
}

// Record renders the event in ExportColumns order
func (e Event) Record() []string {
	discountID := ""
	if e.DiscountID != nil {
		discountID = strconv.FormatUint(uint64(*e.DiscountID), 10)
	}
	return []string{
		e.EventID,
		e.EventType,
		e.CreatedAtUTC,
		e.CreatedAtLocal,
		e.PartnerID,
		e.PartnerName,
		utils.Deref(e.UserIDHash),
		discountID,
		e.MetadataJSON,
		e.Source,
	}
}

type viewMetadata struct {
	VenueID   uint    `json:"venue_id"`
	VenueName string  `json:"venue_name"`
	City      string  `json:"city"`
	UserAgent *string `json:"user_agent"`
}

type generatedMetadata struct {
	VenueID       uint    `json:"venue_id"`
	VenueName     string  `json:"venue_name"`
	GeneratedCode string  `json:"generated_code"`
	QRSlug        *string `json:"qr_slug"`
	Status        string  `json:"status"`
	ExpiresAt     string  `json:"expires_at"`
}

type redeemedMetadata struct {
	VenueID       uint    `json:"venue_id"`
	VenueName     string  `json:"venue_name"`
	GeneratedCode string  `json:"generated_code"`
	QRSlug        *string `json:"qr_slug"`
}

// EventFilter selects the raw events of an export. To is exclusive.
type EventFilter struct {
	From     time.Time
	To       time.Time
	VenueIDs []uint
	Types    []string
	Location *time.Location
}

func (f EventFilter) wants(eventType string) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == eventType {
			return true
		}
	}
	return false
}

// HashUserID pseudonymizes a user id as the first 16 hex chars of a salted SHA-256.
// Anonymous events have no user and hash to nil.
func HashUserID(salt string, userID *string) *string {
	if userID == nil || *userID == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(salt + *userID))
	hash := hex.EncodeToString(sum[:])[:16]
	return &hash
}

type partnerRef struct {
	id    string
	email string
}

// EventSource streams raw events in chunks. Each chunk is sorted by event time;
// the export as a whole is ordered per source table, not globally.
type EventSource struct {
	venueViewRepo   repository.VenueViewRepository
	discountUseRepo repository.DiscountUseRepository
	partnerRepo     repository.PartnerRepository
	salt            string
	chunkSize       int
}

func NewEventSource(
	venueViewRepo repository.VenueViewRepository,
	discountUseRepo repository.DiscountUseRepository,
	partnerRepo repository.PartnerRepository,
	salt string,
	chunkSize int,
) *EventSource {
	if chunkSize <= 0 {
		chunkSize = defaultExportChunkSize
	}
	return &EventSource{
		venueViewRepo:   venueViewRepo,
		discountUseRepo: discountUseRepo,
		partnerRepo:     partnerRepo,
		salt:            salt,
		chunkSize:       chunkSize,
	}
}

func (s *EventSource) partnersByVenue(ctx context.Context) (map[uint]partnerRef, error) {
	partners, err := s.partnerRepo.ByFilter(ctx, models.PartnerFilter{}, "id ASC", 0, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[uint]partnerRef, len(partners))
	for _, p := range partners {
		out[p.VenueID] = partnerRef{id: strconv.FormatUint(uint64(p.ID), 10), email: p.Email}
	}
	return out, nil
}

// Chunks walks page views then discount uses with id cursors and hands every non-empty
// chunk of flattened events to fn. Returning an error from fn stops the walk.
func (s *EventSource) Chunks(ctx context.Context, filter EventFilter, fn func([]Event) error) error {
	if filter.Location == nil {
		filter.Location = time.UTC
	}
	partners, err := s.partnersByVenue(ctx)
	if err != nil {
		return fmt.Errorf("load partners: %w", err)
	}

	if filter.wants(models.EventTypePageView) {
		if err := s.viewChunks(ctx, filter, partners, fn); err != nil {
			return err
		}
	}
	if filter.wants(models.EventTypeQRGenerated) || filter.wants(models.EventTypeQRRedeemed) {
		if err := s.discountChunks(ctx, filter, partners, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *EventSource) viewChunks(ctx context.Context, filter EventFilter, partners map[uint]partnerRef, fn func([]Event) error) error {
	var lastID uint
	from, to := filter.From, filter.To
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := s.venueViewRepo.ChunkAfter(ctx, models.VenueViewFilter{
			VenueIDs:      filter.VenueIDs,
			CreatedAfter:  &from,
			CreatedBefore: &to,
			AfterID:       &lastID,
		}, s.chunkSize)
		if err != nil {
			return fmt.Errorf("load page views: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		events := make([]Event, 0, len(rows))
		for _, v := range rows {
			events = append(events, s.viewEvent(v, partners, filter.Location))
		}
		lastID = rows[len(rows)-1].ID

		sortEvents(events)
		if err := fn(events); err != nil {
			return err
		}
		if len(rows) < s.chunkSize {
			return nil
		}
	}
}

func (s *EventSource) discountChunks(ctx context.Context, filter EventFilter, partners map[uint]partnerRef, fn func([]Event) error) error {
	var lastID uint
	from, to := filter.From, filter.To
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := s.discountUseRepo.ChunkAfter(ctx, models.DiscountUseFilter{
			VenueIDs:      filter.VenueIDs,
			CreatedAfter:  &from,
			CreatedBefore: &to,
			AfterID:       &lastID,
		}, s.chunkSize)
		if err != nil {
			return fmt.Errorf("load discount uses: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		events := make([]Event, 0, 2*len(rows))
		for _, d := range rows {
			if filter.wants(models.EventTypeQRGenerated) {
				events = append(events, s.generatedEvent(d, partners, filter.Location))
			}
			if d.Redeemed() && filter.wants(models.EventTypeQRRedeemed) {
				events = append(events, s.redeemedEvent(d, partners, filter.Location))
			}
		}
		lastID = rows[len(rows)-1].ID

		sortEvents(events)
		if len(events) > 0 {
			if err := fn(events); err != nil {
				return err
			}
		}
		if len(rows) < s.chunkSize {
			return nil
		}
	}
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
}

func (s *EventSource) base(eventID, eventType string, at time.Time, venueID uint, userID *string, partners map[uint]partnerRef, loc *time.Location, source string) Event {
	p := partners[venueID]
	return Event{
		EventID:        eventID,
		EventType:      eventType,
		OccurredAt:     at,
		CreatedAtUTC:   at.UTC().Format(utils.UTCTimestampMilliLayout),
		CreatedAtLocal: at.In(loc).Format(utils.LocalTimestampLayout),
		PartnerID:      p.id,
		PartnerName:    p.email,
		UserIDHash:     HashUserID(s.salt, userID),
		Source:         source,
	}
}

func venueName(v *models.Venue) string {
	if v == nil {
		return ""
	}
	return v.Name
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func (s *EventSource) viewEvent(v *models.VenueView, partners map[uint]partnerRef, loc *time.Location) Event {
	e := s.base(fmt.Sprintf("view_%d", v.ID), models.EventTypePageView, v.CreatedAt, v.VenueID, v.UserID, partners, loc, sourceVenueView)
	e.MetadataJSON = mustJSON(viewMetadata{
		VenueID:   v.VenueID,
		VenueName: venueName(v.Venue),
		City:      v.City,
		UserAgent: nonEmpty(v.UserAgent),
	})
	return e
}

func (s *EventSource) generatedEvent(d *models.DiscountUse, partners map[uint]partnerRef, loc *time.Location) Event {
	e := s.base(fmt.Sprintf("qr_gen_%d", d.ID), models.EventTypeQRGenerated, d.CreatedAt, d.VenueID, d.UserID, partners, loc, sourceDiscountUse)
	id := d.ID
	e.DiscountID = &id
	e.MetadataJSON = mustJSON(generatedMetadata{
		VenueID:       d.VenueID,
		VenueName:     venueName(d.Venue),
		GeneratedCode: d.GeneratedCode,
		QRSlug:        nonEmpty(d.QRSlug),
		Status:        d.Status,
		ExpiresAt:     d.ExpiresAt.UTC().Format(utils.UTCTimestampMilliLayout),
	})
	return e
}

func (s *EventSource) redeemedEvent(d *models.DiscountUse, partners map[uint]partnerRef, loc *time.Location) Event {
	e := s.base(fmt.Sprintf("qr_redeemed_%d", d.ID), models.EventTypeQRRedeemed, *d.ConfirmedAt, d.VenueID, d.UserID, partners, loc, sourceDiscountUse)
	id := d.ID
	e.DiscountID = &id
	e.MetadataJSON = mustJSON(redeemedMetadata{
		VenueID:       d.VenueID,
		VenueName:     venueName(d.Venue),
		GeneratedCode: d.GeneratedCode,
		QRSlug:        nonEmpty(d.QRSlug),
	})
	return e
}
