package businessflow

import (
	"fmt"

	"github.com/dormup/dormup-discounts/models"
)

type ActorRole string

const (
	RoleAdmin   ActorRole = "admin"
	RolePartner ActorRole = "partner"
)

// Actor is the authenticated caller of a flow, resolved by the auth middleware
type Actor struct {
	Role      ActorRole
	AdminID   *uint
	UserID    string
	PartnerID *uint
	VenueID   *uint
	Tier      models.SubscriptionTier
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) IsPartner() bool { return a.Role == RolePartner && a.PartnerID != nil }

// Ref identifies the actor in created_by columns
func (a Actor) Ref() string {
	switch {
	case a.Role == RoleAdmin && a.AdminID != nil:
		return fmt.Sprintf("admin:%d", *a.AdminID)
	case a.Role == RoleAdmin:
		return "admin:" + a.UserID
	case a.PartnerID != nil:
		return fmt.Sprintf("partner:%d", *a.PartnerID)
	default:
		return "unknown"
	}
}

// requireTier rejects partner actors whose venue tier lacks the feature; admins pass
func requireTier(actor Actor, tier models.SubscriptionTier, feature string) error {
	if actor.IsAdmin() {
		return nil
	}
	if !actor.IsPartner() {
		return NewBusinessError("FORBIDDEN", "Access denied", ErrAccessDenied)
	}
	if !actor.Tier.Includes(tier) {
		return NewBusinessErrorf("TIER_REQUIRED", "%s requires the %s plan", ErrTierRequired, feature, tier)
	}
	return nil
}
